// Package engine exposes the operations a chat or command front end calls:
// managing sites, running checks, reading stats, exporting data and the
// interactive "is this new URL a replacement?" flow.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/tentangblockchain/bukitcuan.fun/internal/checker"
	"github.com/tentangblockchain/bukitcuan.fun/internal/config"
	"github.com/tentangblockchain/bukitcuan.fun/internal/history"
	"github.com/tentangblockchain/bukitcuan.fun/internal/monitor"
	"github.com/tentangblockchain/bukitcuan.fun/internal/store"
	"github.com/tentangblockchain/bukitcuan.fun/internal/uptime"
	"github.com/tentangblockchain/bukitcuan.fun/internal/urlnorm"
)

// ConfigStore is implemented by store.ConfigStore.
type ConfigStore interface {
	Load(ctx context.Context) (*store.Document, error)
	Update(ctx context.Context, fn func(*store.Document) error) error
}

// SiteChecker is implemented by checker.Checker.
type SiteChecker interface {
	Check(ctx context.Context, name, url string) checker.Result
}

// Batches is implemented by monitor.Orchestrator.
type Batches interface {
	CheckAll(ctx context.Context, force bool) (*monitor.Report, error)
	Invalidate()
}

// StatsSource is implemented by uptime.Tracker.
type StatsSource interface {
	Stats(name string) (uptime.Stats, bool)
	History(name string) []uptime.Sample
	Forget(name string)
}

// HistorySource is implemented by history.Journal.
type HistorySource interface {
	SiteSummary(ctx context.Context, site string, since time.Time) (history.Summary, error)
	OverallSummary(ctx context.Context, since time.Time) (history.Summary, error)
	SiteTotals(ctx context.Context, site string) (history.Summary, error)
	Recent(ctx context.Context, site string, limit int) ([]history.CheckRecord, error)
}

// SiteForgetter is implemented by metrics.Metrics.
type SiteForgetter interface {
	ForgetSite(site string)
}

// Options tunes the engine.
type Options struct {
	ConfigFile       string
	RedirectRoot     string
	RedirectFallback string
	PublicURL        string
	ExportDir        string
	PageSize         int
	PendingTTL       time.Duration
	RateLimit        int
	RateWindow       time.Duration
	Location         *time.Location
}

// OptionsFromSettings derives engine options from settings.
func OptionsFromSettings(s config.Settings, loc *time.Location) Options {
	return Options{
		ConfigFile:       s.ConfigFile,
		RedirectRoot:     s.RedirectRoot,
		RedirectFallback: s.RedirectFallback,
		PublicURL:        s.PublicURL,
		ExportDir:        s.ExportDir,
		PageSize:         s.PageSize,
		PendingTTL:       s.PendingTTL,
		RateLimit:        s.RateLimit,
		RateWindow:       s.RateWindow,
		Location:         loc,
	}
}

// Engine holds the per-process state behind every caller-facing operation.
type Engine struct {
	opts    Options
	store   ConfigStore
	checker SiteChecker
	batches Batches
	stats   StatsSource
	history HistorySource
	metrics SiteForgetter
	logger  zerolog.Logger
	now     func() time.Time

	pendingMu sync.Mutex
	pending   map[string]*PendingSession

	limitMu  sync.Mutex
	limiters map[string]*requesterLimit
	limit    rate.Limit
}

// Option configures an Engine.
type Option func(*Engine)

// WithHistory adds 24h journal aggregates to stats.
func WithHistory(h HistorySource) Option {
	return func(e *Engine) { e.history = h }
}

// WithMetrics drops a deleted site's metric series.
func WithMetrics(m SiteForgetter) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// New builds an Engine.
func New(opts Options, cfg ConfigStore, sc SiteChecker, batches Batches, stats StatsSource, logger zerolog.Logger, options ...Option) *Engine {
	if opts.PageSize <= 0 {
		opts.PageSize = 10
	}
	if opts.PendingTTL <= 0 {
		opts.PendingTTL = 5 * time.Minute
	}
	if opts.RateLimit <= 0 {
		opts.RateLimit = 30
	}
	if opts.RateWindow <= 0 {
		opts.RateWindow = time.Minute
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}

	e := &Engine{
		opts:     opts,
		store:    cfg,
		checker:  sc,
		batches:  batches,
		stats:    stats,
		logger:   logger,
		now:      time.Now,
		pending:  make(map[string]*PendingSession),
		limiters: make(map[string]*requesterLimit),
		limit:    rate.Limit(float64(opts.RateLimit) / opts.RateWindow.Seconds()),
	}
	for _, o := range options {
		o(e)
	}
	return e
}

// SameBaseWarning points at an existing site with the same base URL but a different full URL.
type SameBaseWarning struct {
	Name string
	URL  string
}

// AddResult describes a newly added site.
type AddResult struct {
	Name     string
	URL      string
	Hostname string
	Query    string
	Total    int
	Redirect RedirectArtifact
	SameBase *SameBaseWarning
}

// AddSite adds name -> rawURL. It fails with ALREADY_EXISTS when the name is
// taken and DUPLICATE_URL when another site already has the same URL.
func (e *Engine) AddSite(ctx context.Context, name, rawURL string) (*AddResult, error) {
	name, err := SanitizeName(name)
	if err != nil {
		return nil, err
	}
	parsed, err := urlnorm.Parse(rawURL)
	if err != nil {
		return nil, newValidationError("invalid URL", err)
	}

	res := &AddResult{Name: name, URL: parsed.Full, Hostname: parsed.Hostname, Query: parsed.Query}
	err = e.store.Update(ctx, func(doc *store.Document) error {
		if _, ok := doc.Websites.Get(name); ok {
			return &AppError{
				Code:           ErrCodeAlreadyExists,
				Message:        fmt.Sprintf("website %q already exists", name),
				Related:        name,
				RedirectExists: redirectArtifact(e.opts.RedirectRoot, name).Exists,
			}
		}

		entries := entriesOf(doc)
		if dup, ok := urlnorm.FindDuplicate(entries, parsed.Full, ""); ok {
			return &AppError{
				Code:    ErrCodeDuplicateURL,
				Message: fmt.Sprintf("URL already exists as %q", dup),
				Related: dup,
			}
		}
		for _, en := range entries {
			if en.URL != parsed.Full && urlnorm.SameBase(parsed.Full, en.URL) {
				res.SameBase = &SameBaseWarning{Name: en.Name, URL: en.URL}
				break
			}
		}

		res.Redirect = redirectArtifact(e.opts.RedirectRoot, name)
		doc.Websites.Set(name, parsed.Full)
		res.Total = doc.Websites.Len()
		return nil
	})
	if err != nil {
		return nil, e.wrapStoreError(err)
	}

	e.logger.Info().Str("site", name).Str("url", parsed.Full).Msg("[Engine] Website added")
	if !res.Redirect.Exists {
		e.logger.Warn().Str("site", name).Str("folder", res.Redirect.Folder).Msg("[Engine] Redirect folder missing")
	}
	return res, nil
}

// EditResult describes a URL change.
type EditResult struct {
	Name     string
	OldURL   string
	InputURL string
	FinalURL string
	OldHost  string
	NewHost  string
	// QueryPreserved is set when the old query string was carried over onto the new URL.
	QueryPreserved bool
}

// EditSite points name at rawURL, keeping the old query string when rawURL
// has none. It fails with CONFLICT when another site already uses the result.
func (e *Engine) EditSite(ctx context.Context, name, rawURL string) (*EditResult, error) {
	name, err := SanitizeName(name)
	if err != nil {
		return nil, err
	}
	input, err := urlnorm.Validate(rawURL)
	if err != nil {
		return nil, newValidationError("invalid URL", err)
	}

	res, err := e.replaceURL(ctx, name, input)
	if err != nil {
		return nil, err
	}
	e.logger.Info().Str("site", name).Str("url", res.FinalURL).Msg("[Engine] Website updated")
	return res, nil
}

// replaceURL merges input into name's stored URL and saves it.
func (e *Engine) replaceURL(ctx context.Context, name, input string) (*EditResult, error) {
	res := &EditResult{Name: name, InputURL: input}
	err := e.store.Update(ctx, func(doc *store.Document) error {
		old, ok := doc.Websites.Get(name)
		if !ok {
			return newNotFoundError(name)
		}

		final, err := urlnorm.MergePreservingQuery(old, input)
		if err != nil {
			return newValidationError("stored URL could not be parsed; delete and add the site again", err)
		}
		if dup, ok := urlnorm.FindDuplicate(entriesOf(doc), final, name); ok {
			return &AppError{
				Code:    ErrCodeConflict,
				Message: fmt.Sprintf("new URL conflicts with %q", dup),
				Related: dup,
			}
		}

		oldParsed, _ := urlnorm.Parse(old)
		finalParsed, _ := urlnorm.Parse(final)
		res.OldURL = old
		res.FinalURL = final
		res.OldHost = oldParsed.Hostname
		res.NewHost = finalParsed.Hostname
		res.QueryPreserved = final != input

		doc.Websites.Set(name, final)
		return nil
	})
	if err != nil {
		return nil, e.wrapStoreError(err)
	}
	e.batches.Invalidate()
	return res, nil
}

// DeleteResult describes a removed site.
type DeleteResult struct {
	Name      string
	URL       string
	Remaining int
}

// DeleteSite removes name and its in-memory uptime record.
func (e *Engine) DeleteSite(ctx context.Context, name string) (*DeleteResult, error) {
	name, err := SanitizeName(name)
	if err != nil {
		return nil, err
	}

	res := &DeleteResult{Name: name}
	err = e.store.Update(ctx, func(doc *store.Document) error {
		u, ok := doc.Websites.Get(name)
		if !ok {
			return newNotFoundError(name)
		}
		doc.Websites.Delete(name)
		res.URL = u
		res.Remaining = doc.Websites.Len()
		return nil
	})
	if err != nil {
		return nil, e.wrapStoreError(err)
	}

	e.stats.Forget(name)
	if e.metrics != nil {
		e.metrics.ForgetSite(name)
	}
	e.batches.Invalidate()
	e.logger.Info().Str("site", name).Str("url", res.URL).Msg("[Engine] Website deleted")
	return res, nil
}

// SiteList is one page of configured sites.
type SiteList struct {
	Sites    []store.Site
	Offset   int // index of Sites[0] in the full list
	Page     int
	Pages    int
	Total    int
	PageSize int
}

// ListSites returns page (1-based, clamped into range) of the configured sites.
func (e *Engine) ListSites(ctx context.Context, page int) (*SiteList, error) {
	doc, err := e.store.Load(ctx)
	if err != nil {
		return nil, err
	}
	all := doc.Websites.List()
	size := e.opts.PageSize

	pages := max((len(all)+size-1)/size, 1)
	page = min(max(page, 1), pages)
	start := (page - 1) * size
	end := min(start+size, len(all))

	list := &SiteList{Offset: start, Page: page, Pages: pages, Total: len(all), PageSize: size}
	if start < end {
		list.Sites = all[start:end]
	}
	return list, nil
}

// CheckOne checks a single configured site.
func (e *Engine) CheckOne(ctx context.Context, name string) (checker.Result, error) {
	name, err := SanitizeName(name)
	if err != nil {
		return checker.Result{}, err
	}
	doc, err := e.store.Load(ctx)
	if err != nil {
		return checker.Result{}, err
	}
	u, ok := doc.Websites.Get(name)
	if !ok {
		return checker.Result{}, newNotFoundError(name)
	}
	return e.checker.Check(ctx, name, u), nil
}

// CheckAll runs or reuses a batch over every site.
func (e *Engine) CheckAll(ctx context.Context, force bool) (*monitor.Report, error) {
	return e.batches.CheckAll(ctx, force)
}

// wrapStoreError passes AppErrors and corruption through and reports any
// other failure as PERSISTENCE_ERROR.
func (e *Engine) wrapStoreError(err error) error {
	if _, ok := AsAppError(err); ok {
		return err
	}
	if errors.Is(err, store.ErrConfigCorrupted) {
		return err
	}
	e.logger.Error().Err(err).Msg("[Engine] Failed to save configuration")
	return newPersistenceError(err)
}

func entriesOf(doc *store.Document) []urlnorm.Entry {
	sites := doc.Websites.List()
	out := make([]urlnorm.Entry, len(sites))
	for i, s := range sites {
		out[i] = urlnorm.Entry{Name: s.Name, URL: s.URL}
	}
	return out
}
