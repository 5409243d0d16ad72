package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCountersAndHandler(t *testing.T) {
	m := New()
	m.ObserveCheck("up", 120*time.Millisecond)
	m.ObserveCheck("timeout", time.Second)
	m.ObserveRetry("timeout")
	m.ObserveBatch("manual", 3*time.Second, nil)
	m.ObserveBatch("scheduled", time.Second, errors.New("x"))
	m.ObserveCache(true)
	m.ObserveConfigSave(nil)
	m.SetSiteStatus("a", true)
	m.SetSiteStatus("b", false)
	m.ForgetSite("b")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.ChecksTotal.WithLabelValues("up")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RetriesTotal.WithLabelValues("timeout")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.BatchesTotal.WithLabelValues("scheduled", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CacheLookups.WithLabelValues("hit")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SiteUp.WithLabelValues("a")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.SiteUp))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "ceklink_checks_total")
}
