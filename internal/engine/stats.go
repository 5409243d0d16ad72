package engine

import (
	"context"
	"math"
	"time"

	"github.com/tentangblockchain/bukitcuan.fun/internal/history"
	"github.com/tentangblockchain/bukitcuan.fun/internal/timefmt"
	"github.com/tentangblockchain/bukitcuan.fun/internal/uptime"
)

// journalWindow is the span of the durable aggregates shown next to the
// in-memory stats.
const journalWindow = 24 * time.Hour

// recentChecks is how many samples and journal rows StatsFor returns.
const recentChecks = 5

// OverallStats aggregates the in-memory records of every configured site.
type OverallStats struct {
	TotalSites  int
	Monitored   int // sites with at least one check, in memory or journaled
	AvgUptime   float64
	TotalChecks int
	Successful  int
	Failed      int
	Last24h     *history.Summary
}

// SiteStats is one site's record.
type SiteStats struct {
	Name    string
	URL     string
	Checked bool // false when the site was not checked yet
	// FromHistory is set when Stats come from the journal because this
	// process has not checked the site.
	FromHistory bool
	Stats       uptime.Stats
	Samples []uptime.Sample // newest last, at most recentChecks
	Last24h *history.Summary
	Recent  []history.CheckRecord // newest first
}

// StatsOverall summarizes every configured site.
func (e *Engine) StatsOverall(ctx context.Context) (*OverallStats, error) {
	doc, err := e.store.Load(ctx)
	if err != nil {
		return nil, err
	}

	out := &OverallStats{TotalSites: doc.Websites.Len()}
	var uptimeSum float64
	for _, site := range doc.Websites.List() {
		s, ok, _ := e.siteStats(ctx, site.Name)
		if !ok {
			continue
		}
		uptimeSum += s.Uptime
		out.TotalChecks += s.TotalChecks
		out.Successful += s.SuccessChecks
		out.Monitored++
	}
	out.Failed = out.TotalChecks - out.Successful
	if out.Monitored > 0 {
		out.AvgUptime = math.Round(uptimeSum/float64(out.Monitored)*100) / 100
	}

	if e.history != nil {
		sum, err := e.history.OverallSummary(ctx, e.now().Add(-journalWindow))
		if err != nil {
			e.logger.Warn().Err(err).Msg("[Stats] Failed to read check history")
		} else {
			out.Last24h = &sum
		}
	}
	return out, nil
}

// StatsFor returns the record of one configured site.
func (e *Engine) StatsFor(ctx context.Context, name string) (*SiteStats, error) {
	name, err := SanitizeName(name)
	if err != nil {
		return nil, err
	}
	doc, err := e.store.Load(ctx)
	if err != nil {
		return nil, err
	}
	u, ok := doc.Websites.Get(name)
	if !ok {
		return nil, newNotFoundError(name)
	}

	out := &SiteStats{Name: name, URL: u}
	out.Stats, out.Checked, out.FromHistory = e.siteStats(ctx, name)
	out.Samples = e.stats.History(name)
	if n := len(out.Samples); n > recentChecks {
		out.Samples = out.Samples[n-recentChecks:]
	}

	if e.history != nil {
		sum, err := e.history.SiteSummary(ctx, name, e.now().Add(-journalWindow))
		if err != nil {
			e.logger.Warn().Err(err).Str("site", name).Msg("[Stats] Failed to read check history")
		} else {
			out.Last24h = &sum
		}
		if out.Recent, err = e.history.Recent(ctx, name, recentChecks); err != nil {
			e.logger.Warn().Err(err).Str("site", name).Msg("[Stats] Failed to read recent checks")
		}
	}
	return out, nil
}

// siteStats returns the in-memory record for name. When this process has not
// checked the site it falls back to the journal's totals, reporting
// fromHistory.
func (e *Engine) siteStats(ctx context.Context, name string) (s uptime.Stats, ok, fromHistory bool) {
	if s, ok := e.stats.Stats(name); ok {
		return s, true, false
	}
	if e.history == nil {
		return uptime.Stats{}, false, false
	}
	sum, err := e.history.SiteTotals(ctx, name)
	if err != nil {
		e.logger.Warn().Err(err).Str("site", name).Msg("[Stats] Failed to read check history")
		return uptime.Stats{}, false, false
	}
	if sum.Checks == 0 {
		return uptime.Stats{}, false, false
	}
	return uptime.Stats{
		Name:            name,
		Uptime:          sum.Uptime,
		TotalChecks:     int(sum.Checks),
		SuccessChecks:   int(sum.UpChecks),
		FailedChecks:    int(sum.Checks - sum.UpChecks),
		AvgResponseTime: sum.AvgResponseTime,
		MonitoringSince: timefmt.FormatOr(sum.FirstCheckAt, e.opts.Location, "Never"),
		LastCheck:       timefmt.FormatOr(sum.LastCheckAt, e.opts.Location, "Never"),
		FirstCheckAt:    sum.FirstCheckAt,
		LastCheckAt:     sum.LastCheckAt,
	}, true, true
}
