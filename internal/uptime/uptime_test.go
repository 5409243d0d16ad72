package uptime

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPercent(t *testing.T) {
	tr := New(time.UTC)
	assert.Equal(t, 100.0, tr.Percent("never"))

	tr.RecordCheck("a", false, 0)
	assert.Equal(t, 0.0, tr.Percent("a"))

	tr.RecordCheck("b", true, 120)
	tr.RecordCheck("b", false, 0)
	assert.Equal(t, 50.0, tr.Percent("b"))

	tr.RecordCheck("c", true, 1)
	tr.RecordCheck("c", true, 1)
	tr.RecordCheck("c", false, 0)
	assert.Equal(t, 66.67, tr.Percent("c"))
}

func TestHistoryIsCapped(t *testing.T) {
	tr := New(time.UTC)
	base := time.Date(2026, 10, 19, 0, 0, 0, 0, time.UTC)
	i := 0
	tr.SetClock(func() time.Time { return base.Add(time.Duration(i) * time.Second) })

	for i = 0; i < 250; i++ {
		tr.RecordCheck("a", i%2 == 0, int64(i))
	}

	h := tr.History("a")
	require.Len(t, h, HistoryCap)
	assert.Equal(t, base.Add(150*time.Second), h[0].Timestamp, "oldest samples are evicted first")
	assert.Equal(t, base.Add(249*time.Second), h[len(h)-1].Timestamp)

	s, ok := tr.Stats("a")
	require.True(t, ok)
	assert.Equal(t, 250, s.TotalChecks)
	assert.Equal(t, 125, s.SuccessChecks)
	assert.Equal(t, 125, s.FailedChecks)
}

func TestStatsAveragesSuccessfulSamplesOnly(t *testing.T) {
	jkt := time.FixedZone("WIB", 7*3600)
	tr := New(jkt)
	at := time.Date(2026, 10, 19, 1, 0, 0, 0, time.UTC)
	tr.SetClock(func() time.Time { return at })

	tr.RecordCheck("a", true, 100)
	tr.RecordCheck("a", true, 301)
	tr.RecordCheck("a", false, 9000)

	s, ok := tr.Stats("a")
	require.True(t, ok)
	assert.Equal(t, int64(201), s.AvgResponseTime)
	assert.Equal(t, "19/10/2026 08:00:00 WIB", s.MonitoringSince)
	assert.Equal(t, 66.67, s.Uptime)

	tr.RecordCheck("down", false, 0)
	s, _ = tr.Stats("down")
	assert.Equal(t, int64(0), s.AvgResponseTime)

	_, ok = tr.Stats("missing")
	assert.False(t, ok)
}

func TestForget(t *testing.T) {
	tr := New(time.UTC)
	tr.RecordCheck("a", true, 1)
	tr.Forget("a")
	_, ok := tr.Stats("a")
	assert.False(t, ok)
	assert.Empty(t, tr.History("a"))
	assert.Equal(t, 100.0, tr.Percent("a"))
}
