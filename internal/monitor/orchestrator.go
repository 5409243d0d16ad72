// Package monitor runs the configured sites through the checker in throttled
// batches, caches the latest report, persists snapshots and raises alerts.
package monitor

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/tentangblockchain/bukitcuan.fun/internal/checker"
	"github.com/tentangblockchain/bukitcuan.fun/internal/config"
	"github.com/tentangblockchain/bukitcuan.fun/internal/history"
	"github.com/tentangblockchain/bukitcuan.fun/internal/notify"
	"github.com/tentangblockchain/bukitcuan.fun/internal/store"
	"github.com/tentangblockchain/bukitcuan.fun/internal/timefmt"
)

// Batch triggers.
const (
	TriggerManual    = "manual"
	TriggerScheduled = "scheduled"
)

// ConfigStore is the part of store.ConfigStore the orchestrator needs.
type ConfigStore interface {
	Load(ctx context.Context) (*store.Document, error)
	Update(ctx context.Context, fn func(*store.Document) error) error
}

// SiteChecker checks one site. checker.Checker implements it.
type SiteChecker interface {
	Check(ctx context.Context, name, url string) checker.Result
}

// Journal stores batch results durably. history.Journal implements it.
type Journal interface {
	Append(ctx context.Context, records []history.CheckRecord) error
}

// BatchObserver is notified of batch activity. metrics.Metrics implements it.
type BatchObserver interface {
	ObserveBatch(trigger string, elapsed time.Duration, err error)
	ObserveCache(hit bool)
	SetSiteStatus(site string, up bool)
	SetSitesConfigured(n int)
}

type nopObserver struct{}

func (nopObserver) ObserveBatch(string, time.Duration, error) {}
func (nopObserver) ObserveCache(bool)                         {}
func (nopObserver) SetSiteStatus(string, bool)                {}
func (nopObserver) SetSitesConfigured(int)                    {}

// Options tunes batches.
type Options struct {
	BatchSize  int
	Delay      time.Duration // minimum spacing between two site checks
	CacheTTL   time.Duration
	Recipients []int64
	Location   *time.Location
	NextCheck  string // shown in the failure notice, e.g. "tomorrow 08:00"
}

// OptionsFromSettings derives orchestrator options from settings.
func OptionsFromSettings(s config.Settings, loc *time.Location) Options {
	return Options{
		BatchSize:  s.BatchSize,
		Delay:      s.DelayBetweenChecks,
		CacheTTL:   s.CacheTTL,
		Recipients: s.Recipients,
		Location:   loc,
		NextCheck:  "tomorrow " + s.DailyCheckAt,
	}
}

// Orchestrator owns the results cache and serializes full batches.
type Orchestrator struct {
	opts     Options
	config   ConfigStore
	checker  SiteChecker
	snapshot *store.SnapshotFile
	journal  Journal
	observer BatchObserver
	notifier notify.Notifier
	events   *Broadcaster
	logger   zerolog.Logger
	now      func() time.Time

	cache   resultsCache
	limiter *rate.Limiter
	group   singleflight.Group

	base     context.Context
	flightMu sync.Mutex
	flight   *flight
}

// flight is the context of the batch in progress. It outlives any single
// caller and is cancelled when the last waiter leaves or base is done.
type flight struct {
	ctx     context.Context
	cancel  context.CancelFunc
	waiters int
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithSnapshot writes a results snapshot after each batch.
func WithSnapshot(f *store.SnapshotFile) Option {
	return func(o *Orchestrator) { o.snapshot = f }
}

// WithJournal appends every batch result to j.
func WithJournal(j Journal) Option {
	return func(o *Orchestrator) { o.journal = j }
}

// WithObserver attaches a batch observer.
func WithObserver(b BatchObserver) Option {
	return func(o *Orchestrator) { o.observer = b }
}

// WithNotifier sets the alert sender.
func WithNotifier(n notify.Notifier) Option {
	return func(o *Orchestrator) { o.notifier = n }
}

// WithBroadcaster publishes progress events to b.
func WithBroadcaster(b *Broadcaster) Option {
	return func(o *Orchestrator) { o.events = b }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// WithBaseContext bounds every batch by ctx, usually the process lifetime.
func WithBaseContext(ctx context.Context) Option {
	return func(o *Orchestrator) { o.base = ctx }
}

// New builds an Orchestrator.
func New(opts Options, cfg ConfigStore, sc SiteChecker, logger zerolog.Logger, options ...Option) *Orchestrator {
	if opts.BatchSize < 1 {
		opts.BatchSize = 5
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = 5 * time.Minute
	}
	if opts.NextCheck == "" {
		opts.NextCheck = "tomorrow"
	}

	limit := rate.Inf
	if opts.Delay > 0 {
		limit = rate.Every(opts.Delay)
	}

	o := &Orchestrator{
		opts:     opts,
		config:   cfg,
		checker:  sc,
		observer: nopObserver{},
		logger:   logger,
		now:      time.Now,
		limiter:  rate.NewLimiter(limit, 1),
		base:     context.Background(),
	}
	for _, opt := range options {
		opt(o)
	}
	if o.events == nil {
		o.events = NewBroadcaster(logger)
	}
	o.cache.ttl = opts.CacheTTL
	return o
}

// Events returns the progress broadcaster.
func (o *Orchestrator) Events() *Broadcaster { return o.events }

// Latest returns the cached report regardless of age.
func (o *Orchestrator) Latest() (*Report, time.Time, bool) { return o.cache.latest() }

// Invalidate drops the cached report.
func (o *Orchestrator) Invalidate() { o.cache.clear() }

// CheckAll returns the cached report when it is still valid, otherwise it
// runs a batch over every configured site. Concurrent callers share one batch.
func (o *Orchestrator) CheckAll(ctx context.Context, force bool) (*Report, error) {
	return o.checkAll(ctx, force, TriggerManual)
}

func (o *Orchestrator) checkAll(ctx context.Context, force bool, trigger string) (*Report, error) {
	doc, err := o.config.Load(ctx)
	if err != nil {
		o.observer.ObserveBatch(trigger, 0, err)
		return nil, err
	}
	sites := doc.Websites.List()

	if !force {
		if r, ok := o.cache.get(len(sites), o.now()); ok {
			o.observer.ObserveCache(true)
			o.logger.Debug().Str("batch", r.BatchID).Dur("age", o.now().Sub(r.FinishedAt)).Msg("[Batch] Serving cached results")
			return r, nil
		}
		o.observer.ObserveCache(false)
	}

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("batch abandoned before start: %w", err)
	}

	f := o.join(ctx)
	ch := o.group.DoChan("check-all", func() (any, error) {
		defer o.land(f)
		return o.runBatch(f.ctx, sites, trigger)
	})

	select {
	case res := <-ch:
		o.leave(f, false)
		if res.Err != nil {
			return nil, res.Err
		}
		r := res.Val.(*Report)
		if res.Shared {
			o.logger.Debug().Str("batch", r.BatchID).Str("trigger", trigger).Msg("[Batch] Joined in-flight batch")
		}
		return r, nil
	case <-ctx.Done():
		o.leave(f, true)
		return nil, fmt.Errorf("stopped waiting for batch: %w", ctx.Err())
	}
}

// join registers a waiter on the current flight, starting one when needed.
// The flight keeps the caller's values but not its cancellation.
func (o *Orchestrator) join(ctx context.Context) *flight {
	o.flightMu.Lock()
	defer o.flightMu.Unlock()
	if o.flight == nil || o.flight.ctx.Err() != nil {
		fctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		stop := context.AfterFunc(o.base, cancel)
		if o.base.Err() != nil {
			cancel()
		}
		o.flight = &flight{ctx: fctx, cancel: func() { stop(); cancel() }}
	}
	o.flight.waiters++
	return o.flight
}

// leave drops a waiter. A waiter that gave up cancels the flight when
// nobody else is waiting for it.
func (o *Orchestrator) leave(f *flight, gaveUp bool) {
	o.flightMu.Lock()
	defer o.flightMu.Unlock()
	f.waiters--
	if gaveUp && f.waiters == 0 {
		f.cancel()
		if o.flight == f {
			o.flight = nil
		}
	}
}

// land retires f once its batch has returned.
func (o *Orchestrator) land(f *flight) {
	o.flightMu.Lock()
	defer o.flightMu.Unlock()
	if o.flight == f {
		o.flight = nil
	}
	f.cancel()
}

func (o *Orchestrator) runBatch(ctx context.Context, sites []store.Site, trigger string) (*Report, error) {
	o.cache.clear()

	batchID := uuid.NewString()
	log := o.logger.With().Str("batch", batchID).Str("trigger", trigger).Logger()
	started := o.now()
	total := len(sites)

	log.Info().Int("sites", total).Msg("[Batch] Check started")
	o.events.Publish(Event{Type: EventBatchStarted, BatchID: batchID, Total: total, At: started})

	results := make([]checker.Result, 0, total)
	for start := 0; start < total; start += o.opts.BatchSize {
		end := min(start+o.opts.BatchSize, total)
		log.Debug().Int("from", start+1).Int("to", end).Int("total", total).Msg("[Batch] Processing chunk")

		for i := start; i < end; i++ {
			if err := o.limiter.Wait(ctx); err != nil {
				err = fmt.Errorf("batch abandoned after %d of %d sites: %w", len(results), total, err)
				log.Warn().Err(err).Msg("[Batch] Check interrupted")
				o.observer.ObserveBatch(trigger, o.now().Sub(started), err)
				return nil, err
			}

			res := o.checkSafely(ctx, sites[i])
			results = append(results, res)
			o.events.Publish(Event{
				Type:    EventSiteChecked,
				BatchID: batchID,
				Index:   i + 1,
				Total:   total,
				Result:  &res,
				At:      res.Timestamp,
			})
		}
	}

	report := &Report{
		BatchID:    batchID,
		Trigger:    trigger,
		Results:    results,
		Summary:    summarize(results),
		StartedAt:  started,
		FinishedAt: o.now(),
	}
	o.persist(ctx, report)
	o.cache.set(report, report.FinishedAt)
	o.observer.ObserveBatch(trigger, report.Duration(), nil)

	s := report.Summary
	log.Info().
		Int("up", s.Up).Int("blocked", s.Blocked).Int("timeout", s.Timeout).
		Int("errors", s.DNS+s.SSL+s.Other).Int("total", s.Total).
		Dur("duration", report.Duration()).
		Msg("[Batch] Check completed")
	o.events.Publish(Event{Type: EventBatchCompleted, BatchID: batchID, Total: total, Report: report, At: report.FinishedAt})
	return report, nil
}

// checkSafely turns a panic inside the site checker into an error result.
func (o *Orchestrator) checkSafely(ctx context.Context, site store.Site) (res checker.Result) {
	defer func() {
		if p := recover(); p != nil {
			o.logger.Error().Str("site", site.Name).Interface("panic", p).Msg("[Batch] Check panicked")
			res = checker.ErrorResult(site.Name, site.URL, fmt.Sprintf("Check failed: %v", p), o.now())
		}
	}()
	return o.checker.Check(ctx, site.Name, site.URL)
}

// persist writes the snapshot, journal and metrics. Failures are logged only.
func (o *Orchestrator) persist(ctx context.Context, r *Report) {
	if o.snapshot != nil {
		if err := o.snapshot.Save(o.toSnapshot(r)); err != nil {
			o.logger.Error().Err(err).Str("path", o.snapshot.Path()).Msg("[Batch] Failed to save results snapshot")
		} else {
			o.logger.Debug().Str("path", o.snapshot.Path()).Msg("[Batch] Results snapshot saved")
		}
	}

	if o.journal != nil {
		records := make([]history.CheckRecord, 0, len(r.Results))
		for _, res := range r.Results {
			records = append(records, toRecord(r.BatchID, res))
		}
		if err := o.journal.Append(ctx, records); err != nil {
			o.logger.Error().Err(err).Msg("[Batch] Failed to journal results")
		}
	}

	o.observer.SetSitesConfigured(len(r.Results))
	for _, res := range r.Results {
		o.observer.SetSiteStatus(res.Name, res.IsUp())
	}
}

func (o *Orchestrator) toSnapshot(r *Report) *store.Snapshot {
	snap := &store.Snapshot{
		Timestamp: timefmt.Format(r.FinishedAt, o.opts.Location),
		Version:   store.CurrentVersion,
		Total:     len(r.Results),
		Results:   make([]store.SnapshotEntry, 0, len(r.Results)),
	}
	for _, res := range r.Results {
		snap.Results = append(snap.Results, store.SnapshotEntry{
			Name:         res.Name,
			URL:          res.URL,
			Status:       string(res.Status),
			StatusCode:   res.StatusCode,
			ResponseTime: res.ResponseTime,
			Timestamp:    timefmt.Format(res.Timestamp, o.opts.Location),
			Error:        res.Error,
		})
	}
	return snap
}

func toRecord(batchID string, res checker.Result) history.CheckRecord {
	rec := history.CheckRecord{
		BatchID:   batchID,
		SiteName:  res.Name,
		URL:       res.URL,
		Status:    string(res.Status),
		CreatedAt: res.Timestamp,
	}
	if res.StatusCode != nil {
		rec.StatusCode = *res.StatusCode
	}
	if res.ResponseTime != nil {
		rec.ResponseTime = *res.ResponseTime
	}
	if res.Error != nil {
		rec.Error = *res.Error
	}
	return rec
}

// RunScheduled runs a forced batch, alerts every recipient about sites that
// are not up and records the run time in the configuration. When the batch
// cannot run, recipients get a failure notice instead.
func (o *Orchestrator) RunScheduled(ctx context.Context) error {
	o.logger.Info().Msg("[Scheduler] Automatic check triggered")

	report, err := o.checkAll(ctx, true, TriggerScheduled)
	if err != nil {
		o.logger.Error().Err(err).Msg("[Scheduler] Automatic check failed")
		o.broadcast(ctx, FormatFailure(err, o.opts.NextCheck))
		return err
	}
	if report.Summary.Total == 0 {
		o.logger.Info().Msg("[Scheduler] No websites to monitor")
		return nil
	}

	details := ""
	if o.snapshot != nil {
		details = filepath.Base(o.snapshot.Path())
	}
	if alert := FormatAlert(report, timefmt.Format(report.FinishedAt, o.opts.Location), details); alert != "" {
		o.broadcast(ctx, alert)
	}

	stamp := o.now().UTC().Format(time.RFC3339)
	err = o.config.Update(ctx, func(doc *store.Document) error {
		doc.LastCheckTime = stamp
		return nil
	})
	if err != nil {
		o.logger.Error().Err(err).Msg("[Scheduler] Failed to record last check time")
		return fmt.Errorf("failed to record last check time: %w", err)
	}

	o.logger.Info().Int("checked", report.Summary.Total).Int("issues", report.Summary.Issues()).Msg("[Scheduler] Automatic check complete")
	return nil
}

func (o *Orchestrator) broadcast(ctx context.Context, text string) {
	if o.notifier == nil || len(o.opts.Recipients) == 0 {
		o.logger.Warn().Msg("[Scheduler] No alert recipients configured")
		return
	}
	delivered, err := notify.Broadcast(ctx, o.notifier, o.opts.Recipients, text, o.logger)
	ev := o.logger.Info()
	if err != nil {
		ev = o.logger.Warn().Err(err)
	}
	ev.Int("delivered", delivered).Int("recipients", len(o.opts.Recipients)).Msg("[Scheduler] Alert sent")
}
