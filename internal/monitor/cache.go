package monitor

import (
	"sync"
	"time"
)

// resultsCache holds the report of the most recently completed batch.
type resultsCache struct {
	mu       sync.Mutex
	ttl      time.Duration
	report   *Report
	storedAt time.Time
}

// get returns the cached report when it is younger than ttl and covers siteCount sites.
func (c *resultsCache) get(siteCount int, now time.Time) (*Report, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.report == nil {
		return nil, false
	}
	if now.Sub(c.storedAt) > c.ttl {
		return nil, false
	}
	if len(c.report.Results) != siteCount {
		return nil, false
	}
	return c.report, true
}

func (c *resultsCache) latest() (*Report, time.Time, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.report, c.storedAt, c.report != nil
}

func (c *resultsCache) set(r *Report, now time.Time) {
	c.mu.Lock()
	c.report = r
	c.storedAt = now
	c.mu.Unlock()
}

func (c *resultsCache) clear() {
	c.mu.Lock()
	c.report = nil
	c.storedAt = time.Time{}
	c.mu.Unlock()
}
