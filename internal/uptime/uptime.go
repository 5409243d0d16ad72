// Package uptime keeps per-site check counters and a bounded sample history
// for the lifetime of the process.
package uptime

import (
	"math"
	"sync"
	"time"

	"github.com/tentangblockchain/bukitcuan.fun/internal/timefmt"
)

// HistoryCap is the number of samples kept per site.
const HistoryCap = 100

// Sample is one recorded check.
type Sample struct {
	Timestamp    time.Time
	Success      bool
	ResponseTime int64 // milliseconds, 0 when unknown
}

type record struct {
	checks     int
	successes  int
	firstCheck time.Time
	lastCheck  time.Time

	// ring buffer of the last HistoryCap samples
	history []Sample
	next    int
}

func (r *record) add(s Sample) {
	if len(r.history) < HistoryCap {
		r.history = append(r.history, s)
		return
	}
	r.history[r.next] = s
	r.next = (r.next + 1) % HistoryCap
}

// samples returns history oldest first.
func (r *record) samples() []Sample {
	out := make([]Sample, 0, len(r.history))
	out = append(out, r.history[r.next:]...)
	return append(out, r.history[:r.next]...)
}

// Stats is the derived view of one site's record.
type Stats struct {
	Name            string
	Uptime          float64
	TotalChecks     int
	SuccessChecks   int
	FailedChecks    int
	AvgResponseTime int64
	MonitoringSince string
	LastCheck       string
	FirstCheckAt    time.Time
	LastCheckAt     time.Time
}

// Tracker is safe for concurrent use.
type Tracker struct {
	mu      sync.Mutex
	records map[string]*record
	now     func() time.Time
	loc     *time.Location
}

// New returns an empty tracker that formats timestamps in loc.
func New(loc *time.Location) *Tracker {
	return &Tracker{
		records: make(map[string]*record),
		now:     time.Now,
		loc:     loc,
	}
}

// SetClock replaces time.Now.
func (t *Tracker) SetClock(now func() time.Time) {
	t.mu.Lock()
	t.now = now
	t.mu.Unlock()
}

// RecordCheck registers one terminal check outcome for name.
func (t *Tracker) RecordCheck(name string, success bool, responseTime int64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	r, ok := t.records[name]
	if !ok {
		r = &record{firstCheck: now}
		t.records[name] = r
	}
	r.checks++
	if success {
		r.successes++
	}
	r.lastCheck = now
	r.add(Sample{Timestamp: now, Success: success, ResponseTime: responseTime})
}

// Percent returns the success ratio for name. A site never checked is 100.
func (t *Tracker) Percent(name string) float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return percent(t.records[name])
}

func percent(r *record) float64 {
	if r == nil || r.checks == 0 {
		return 100
	}
	return round2(float64(r.successes) / float64(r.checks) * 100)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// Stats returns the derived stats for name, or false when it was never checked.
func (t *Tracker) Stats(name string) (Stats, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	r, ok := t.records[name]
	if !ok {
		return Stats{}, false
	}

	var sum, n int64
	for _, s := range r.history {
		if s.Success && s.ResponseTime > 0 {
			sum += s.ResponseTime
			n++
		}
	}
	var avg int64
	if n > 0 {
		avg = int64(math.Round(float64(sum) / float64(n)))
	}

	return Stats{
		Name:            name,
		Uptime:          percent(r),
		TotalChecks:     r.checks,
		SuccessChecks:   r.successes,
		FailedChecks:    r.checks - r.successes,
		AvgResponseTime: avg,
		MonitoringSince: timefmt.FormatOr(r.firstCheck, t.loc, "Never"),
		LastCheck:       timefmt.FormatOr(r.lastCheck, t.loc, "Never"),
		FirstCheckAt:    r.firstCheck,
		LastCheckAt:     r.lastCheck,
	}, true
}

// History returns a copy of the samples for name, oldest first.
func (t *Tracker) History(name string) []Sample {
	t.mu.Lock()
	defer t.mu.Unlock()
	r, ok := t.records[name]
	if !ok {
		return nil
	}
	return r.samples()
}

// Forget drops the record for name, used when a site is deleted.
func (t *Tracker) Forget(name string) {
	t.mu.Lock()
	delete(t.records, name)
	t.mu.Unlock()
}
