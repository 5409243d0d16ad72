package history

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"time"
)

// Summary aggregates journaled checks over a window.
type Summary struct {
	Checks          int64
	UpChecks        int64
	Uptime          float64 // percent, 100 when there are no checks
	AvgResponseTime int64   // milliseconds over successful checks with a known time
	FirstCheckAt    time.Time
	LastCheckAt     time.Time
}

type summaryRow struct {
	Checks  int64
	UpCount sql.NullInt64
	AvgMs   sql.NullFloat64
}

// SiteSummary aggregates the checks of one site since the given instant.
func (j *Journal) SiteSummary(ctx context.Context, site string, since time.Time) (Summary, error) {
	return j.summary(ctx, "site_name = ? AND created_at > ?", site, since.UTC())
}

// SiteTotals aggregates every journaled check of one site.
func (j *Journal) SiteTotals(ctx context.Context, site string) (Summary, error) {
	return j.summary(ctx, "site_name = ?", site)
}

// OverallSummary aggregates every site's checks since the given instant.
func (j *Journal) OverallSummary(ctx context.Context, since time.Time) (Summary, error) {
	return j.summary(ctx, "created_at > ?", since.UTC())
}

func (j *Journal) summary(ctx context.Context, where string, args ...any) (Summary, error) {
	var row summaryRow
	err := j.db.WithContext(ctx).Model(&CheckRecord{}).
		Select(`
			COUNT(*) AS checks,
			SUM(CASE WHEN status = 'up' THEN 1 ELSE 0 END) AS up_count,
			AVG(CASE WHEN status = 'up' AND response_time > 0 THEN response_time END) AS avg_ms
		`).
		Where(where, args...).
		Scan(&row).Error
	if err != nil {
		return Summary{}, fmt.Errorf("failed to summarize check history: %w", err)
	}

	s := Summary{Checks: row.Checks, Uptime: 100}
	if row.UpCount.Valid {
		s.UpChecks = row.UpCount.Int64
	}
	if row.Checks > 0 {
		s.Uptime = math.Round(float64(s.UpChecks)/float64(row.Checks)*10000) / 100
	}
	if row.AvgMs.Valid {
		s.AvgResponseTime = int64(math.Round(row.AvgMs.Float64))
	}
	if row.Checks > 0 {
		var first, last CheckRecord
		if err := j.db.WithContext(ctx).Where(where, args...).Order("created_at ASC").Limit(1).Find(&first).Error; err != nil {
			return Summary{}, fmt.Errorf("failed to read first check: %w", err)
		}
		if err := j.db.WithContext(ctx).Where(where, args...).Order("created_at DESC").Limit(1).Find(&last).Error; err != nil {
			return Summary{}, fmt.Errorf("failed to read last check: %w", err)
		}
		s.FirstCheckAt, s.LastCheckAt = first.CreatedAt, last.CreatedAt
	}

	j.logger.Debug().Int64("checks", s.Checks).Int64("avg_ms", s.AvgResponseTime).Msg("[Stats] Summarized check history")
	return s, nil
}
