package engine

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tentangblockchain/bukitcuan.fun/internal/checker"
	"github.com/tentangblockchain/bukitcuan.fun/internal/history"
	"github.com/tentangblockchain/bukitcuan.fun/internal/monitor"
	"github.com/tentangblockchain/bukitcuan.fun/internal/store"
	"github.com/tentangblockchain/bukitcuan.fun/internal/uptime"
)

var testNow = time.Date(2026, 10, 19, 8, 0, 0, 0, time.UTC)

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type stubSiteChecker struct {
	calls []string
}

func (p *stubSiteChecker) Check(_ context.Context, name, url string) checker.Result {
	p.calls = append(p.calls, name)
	code := 200
	return checker.Result{Name: name, URL: url, Status: checker.StatusUp, StatusCode: &code, Timestamp: testNow}
}

type stubBatches struct {
	invalidated int
	report      *monitor.Report
}

func (b *stubBatches) CheckAll(context.Context, bool) (*monitor.Report, error) { return b.report, nil }
func (b *stubBatches) Invalidate()                                          { b.invalidated++ }

type stubHistory struct {
	totals map[string]history.Summary
}

func (h stubHistory) SiteTotals(_ context.Context, site string) (history.Summary, error) {
	return h.totals[site], nil
}

func (stubHistory) SiteSummary(context.Context, string, time.Time) (history.Summary, error) {
	return history.Summary{Checks: 4, UpChecks: 3, Uptime: 75, AvgResponseTime: 120}, nil
}

func (stubHistory) OverallSummary(context.Context, time.Time) (history.Summary, error) {
	return history.Summary{Checks: 10, UpChecks: 9, Uptime: 90}, nil
}

func (stubHistory) Recent(_ context.Context, site string, _ int) ([]history.CheckRecord, error) {
	return []history.CheckRecord{{SiteName: site, Status: "up", StatusCode: 200}}, nil
}

type forgetter struct{ forgotten []string }

func (f *forgetter) ForgetSite(site string) { f.forgotten = append(f.forgotten, site) }

type fixture struct {
	engine   *Engine
	store    *store.ConfigStore
	tracker  *uptime.Tracker
	checker  *stubSiteChecker
	batches  *stubBatches
	metrics  *forgetter
	history  *stubHistory
	clock    *testClock
	dir      string
	redirect string
}

func newFixture(t *testing.T, opts ...func(*Options)) *fixture {
	t.Helper()
	dir := t.TempDir()
	clock := &testClock{t: testNow}
	f := &fixture{
		store:    store.NewConfigStore(filepath.Join(dir, "private", "config.json"), zerolog.Nop()),
		tracker:  uptime.New(time.UTC),
		checker:  &stubSiteChecker{},
		batches:  &stubBatches{},
		metrics:  &forgetter{},
		history:  &stubHistory{totals: map[string]history.Summary{}},
		clock:    clock,
		dir:      dir,
		redirect: filepath.Join(dir, "www"),
	}
	f.tracker.SetClock(clock.now)

	o := Options{
		ConfigFile:       f.store.Path(),
		RedirectRoot:     f.redirect,
		RedirectFallback: "https://t.me/helpdesk",
		PublicURL:        "https://bukitcuan.fun/",
		ExportDir:        filepath.Join(dir, "logs"),
		PageSize:         10,
		PendingTTL:       5 * time.Minute,
		RateLimit:        30,
		RateWindow:       time.Minute,
		Location:         time.UTC,
	}
	for _, fn := range opts {
		fn(&o)
	}
	f.engine = New(o, f.store, f.checker, f.batches, f.tracker, zerolog.Nop(),
		WithClock(clock.now), WithMetrics(f.metrics), WithHistory(f.history))
	return f
}

func (f *fixture) add(t *testing.T, name, url string) *AddResult {
	t.Helper()
	res, err := f.engine.AddSite(context.Background(), name, url)
	require.NoError(t, err)
	return res
}

func requireCode(t *testing.T, err error, code string) *AppError {
	t.Helper()
	require.Error(t, err)
	appErr, ok := AsAppError(err)
	require.True(t, ok, "expected AppError, got %v", err)
	require.Equal(t, code, appErr.Code, appErr.Error())
	return appErr
}

func TestSanitizeName(t *testing.T) {
	good := []string{"binance_url", "a-b-c", "X9", "  padded_url  ", strings.Repeat("a", 100)}
	for _, n := range good {
		got, err := SanitizeName(n)
		require.NoError(t, err, n)
		assert.Equal(t, strings.TrimSpace(n), got)
	}

	bad := []string{"", "   ", "../etc", "a/b", `a\b`, "a..b", "nul\x00byte", "has space", "dot.name", "émoji", strings.Repeat("a", 101)}
	for _, n := range bad {
		_, err := SanitizeName(n)
		assert.True(t, IsCode(err, ErrCodeValidation), "%q should be rejected", n)
	}
}

func TestRedirectFolder(t *testing.T) {
	assert.Equal(t, "maniaslot", RedirectFolder("maniaslot_url"))
	assert.Equal(t, "Shop", RedirectFolder("Shop-URL"))
	assert.Equal(t, "plain", RedirectFolder("plainurl"))
	assert.Equal(t, "keep", RedirectFolder("keep"))
}

func TestAddSite(t *testing.T) {
	f := newFixture(t)

	res := f.add(t, "binance_url", "Binance.com?ref=abc")
	assert.Equal(t, "https://binance.com/?ref=abc", res.URL)
	assert.Equal(t, "binance.com", res.Hostname)
	assert.Equal(t, "?ref=abc", res.Query)
	assert.Equal(t, 1, res.Total)
	assert.False(t, res.Redirect.Exists)
	assert.Equal(t, filepath.Join(f.redirect, "binance"), res.Redirect.Folder)
	assert.Nil(t, res.SameBase)

	doc, err := f.store.Load(context.Background())
	require.NoError(t, err)
	u, ok := doc.Websites.Get("binance_url")
	require.True(t, ok)
	assert.Equal(t, "https://binance.com/?ref=abc", u)
}

func TestAddSiteRejectsExistingName(t *testing.T) {
	f := newFixture(t)
	f.add(t, "site_url", "https://one.com")

	_, err := f.engine.AddSite(context.Background(), "site_url", "https://two.com")
	appErr := requireCode(t, err, ErrCodeAlreadyExists)
	assert.False(t, appErr.RedirectExists)

	require.NoError(t, os.MkdirAll(filepath.Join(f.redirect, "site"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(f.redirect, "site", "index.php"), []byte("<?php"), 0o644))
	_, err = f.engine.AddSite(context.Background(), "site_url", "https://two.com")
	appErr = requireCode(t, err, ErrCodeAlreadyExists)
	assert.True(t, appErr.RedirectExists)

	doc, err := f.store.Load(context.Background())
	require.NoError(t, err)
	u, _ := doc.Websites.Get("site_url")
	assert.Equal(t, "https://one.com/", u)
}

func TestAddSiteDuplicateAndSameBase(t *testing.T) {
	f := newFixture(t)
	f.add(t, "first", "https://promo.com/land?ref=1")

	_, err := f.engine.AddSite(context.Background(), "second", "promo.com/land?ref=1")
	appErr := requireCode(t, err, ErrCodeDuplicateURL)
	assert.Equal(t, "first", appErr.Related)

	res := f.add(t, "third", "https://promo.com/land?ref=2")
	require.NotNil(t, res.SameBase)
	assert.Equal(t, "first", res.SameBase.Name)
}

func TestAddSiteValidation(t *testing.T) {
	f := newFixture(t)
	_, err := f.engine.AddSite(context.Background(), "../x", "https://a.com")
	requireCode(t, err, ErrCodeValidation)
	_, err = f.engine.AddSite(context.Background(), "ok", "ftp://a.com")
	requireCode(t, err, ErrCodeValidation)
}

func TestEditSitePreservesQuery(t *testing.T) {
	f := newFixture(t)
	f.add(t, "site1", "https://old.com/?ref=abc")

	res, err := f.engine.EditSite(context.Background(), "site1", "new.com")
	require.NoError(t, err)
	assert.Equal(t, "https://new.com/?ref=abc", res.FinalURL)
	assert.Equal(t, "https://new.com/", res.InputURL)
	assert.True(t, res.QueryPreserved)
	assert.Equal(t, "old.com", res.OldHost)
	assert.Equal(t, "new.com", res.NewHost)
	assert.Equal(t, 1, f.batches.invalidated)

	res, err = f.engine.EditSite(context.Background(), "site1", "new.com?ref=xyz")
	require.NoError(t, err)
	assert.Equal(t, "https://new.com/?ref=xyz", res.FinalURL)
	assert.False(t, res.QueryPreserved)
}

func TestEditSiteToOwnURLIsNotAConflict(t *testing.T) {
	f := newFixture(t)
	f.add(t, "site1", "https://same.com/?a=1")

	res, err := f.engine.EditSite(context.Background(), "site1", "https://same.com/?a=1")
	require.NoError(t, err)
	assert.Equal(t, "https://same.com/?a=1", res.FinalURL)
}

func TestEditSiteConflictAndNotFound(t *testing.T) {
	f := newFixture(t)
	f.add(t, "a", "https://a.com/?x=1")
	f.add(t, "b", "https://b.com/?x=1")

	_, err := f.engine.EditSite(context.Background(), "a", "b.com")
	appErr := requireCode(t, err, ErrCodeConflict)
	assert.Equal(t, "b", appErr.Related)

	_, err = f.engine.EditSite(context.Background(), "missing", "c.com")
	requireCode(t, err, ErrCodeNotFound)
}

func TestDeleteSite(t *testing.T) {
	f := newFixture(t)
	f.add(t, "a", "https://a.com")
	f.add(t, "b", "https://b.com")
	f.tracker.RecordCheck("a", true, 100)

	res, err := f.engine.DeleteSite(context.Background(), "a")
	require.NoError(t, err)
	assert.Equal(t, "https://a.com/", res.URL)
	assert.Equal(t, 1, res.Remaining)

	_, tracked := f.tracker.Stats("a")
	assert.False(t, tracked)
	assert.Equal(t, []string{"a"}, f.metrics.forgotten)

	_, err = f.engine.DeleteSite(context.Background(), "a")
	requireCode(t, err, ErrCodeNotFound)
}

func TestListSitesPaging(t *testing.T) {
	f := newFixture(t, func(o *Options) { o.PageSize = 2 })
	for _, n := range []string{"s1", "s2", "s3", "s4", "s5"} {
		f.add(t, n, "https://"+n+".com")
	}

	list, err := f.engine.ListSites(context.Background(), 2)
	require.NoError(t, err)
	assert.Equal(t, 3, list.Pages)
	assert.Equal(t, 5, list.Total)
	assert.Equal(t, 2, list.Offset)
	require.Len(t, list.Sites, 2)
	assert.Equal(t, "s3", list.Sites[0].Name)

	list, err = f.engine.ListSites(context.Background(), 42)
	require.NoError(t, err)
	assert.Equal(t, 3, list.Page)
	require.Len(t, list.Sites, 1)
	assert.Equal(t, "s5", list.Sites[0].Name)
}

func TestListSitesEmpty(t *testing.T) {
	f := newFixture(t)
	list, err := f.engine.ListSites(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, 1, list.Pages)
	assert.Empty(t, list.Sites)
}

func TestCheckOne(t *testing.T) {
	f := newFixture(t)
	f.add(t, "a", "https://a.com")

	res, err := f.engine.CheckOne(context.Background(), "a")
	require.NoError(t, err)
	assert.Equal(t, checker.StatusUp, res.Status)
	assert.Equal(t, "https://a.com/", res.URL)

	_, err = f.engine.CheckOne(context.Background(), "nope")
	requireCode(t, err, ErrCodeNotFound)
	assert.Equal(t, []string{"a"}, f.checker.calls)
}

func TestCheckAllDelegates(t *testing.T) {
	f := newFixture(t)
	f.batches.report = &monitor.Report{BatchID: "b1"}
	r, err := f.engine.CheckAll(context.Background(), true)
	require.NoError(t, err)
	assert.Same(t, f.batches.report, r)
}

func TestStats(t *testing.T) {
	f := newFixture(t)
	f.add(t, "a", "https://a.com")
	f.add(t, "b", "https://b.com")
	f.add(t, "never", "https://never.com")
	f.tracker.RecordCheck("a", true, 100)
	f.tracker.RecordCheck("a", false, 0)
	f.tracker.RecordCheck("b", true, 300)

	overall, err := f.engine.StatsOverall(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, overall.TotalSites)
	assert.Equal(t, 2, overall.Monitored)
	assert.Equal(t, 75.0, overall.AvgUptime)
	assert.Equal(t, 3, overall.TotalChecks)
	assert.Equal(t, 2, overall.Successful)
	assert.Equal(t, 1, overall.Failed)
	require.NotNil(t, overall.Last24h)
	assert.EqualValues(t, 10, overall.Last24h.Checks)

	s, err := f.engine.StatsFor(context.Background(), "a")
	require.NoError(t, err)
	assert.True(t, s.Checked)
	assert.Equal(t, 50.0, s.Stats.Uptime)
	assert.EqualValues(t, 100, s.Stats.AvgResponseTime)
	require.NotNil(t, s.Last24h)
	assert.Equal(t, 75.0, s.Last24h.Uptime)
	require.Len(t, s.Samples, 2)
	assert.False(t, s.Samples[1].Success)
	require.Len(t, s.Recent, 1)
	assert.Equal(t, "a", s.Recent[0].SiteName)

	s, err = f.engine.StatsFor(context.Background(), "never")
	require.NoError(t, err)
	assert.False(t, s.Checked)
	assert.False(t, s.FromHistory)

	f.history.totals["never"] = history.Summary{Checks: 2, UpChecks: 1, Uptime: 50, LastCheckAt: testNow}
	s, err = f.engine.StatsFor(context.Background(), "never")
	require.NoError(t, err)
	assert.True(t, s.Checked)
	assert.True(t, s.FromHistory)
	assert.Equal(t, 2, s.Stats.TotalChecks)
	assert.Equal(t, "19/10/2026 08:00:00 UTC", s.Stats.LastCheck)

	overall, err = f.engine.StatsOverall(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, overall.Monitored)

	_, err = f.engine.StatsFor(context.Background(), "ghost")
	requireCode(t, err, ErrCodeNotFound)
}
