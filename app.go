package main

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/tentangblockchain/bukitcuan.fun/internal/checker"
	"github.com/tentangblockchain/bukitcuan.fun/internal/config"
	"github.com/tentangblockchain/bukitcuan.fun/internal/engine"
	"github.com/tentangblockchain/bukitcuan.fun/internal/history"
	"github.com/tentangblockchain/bukitcuan.fun/internal/metrics"
	"github.com/tentangblockchain/bukitcuan.fun/internal/monitor"
	"github.com/tentangblockchain/bukitcuan.fun/internal/notify"
	"github.com/tentangblockchain/bukitcuan.fun/internal/store"
	"github.com/tentangblockchain/bukitcuan.fun/internal/uptime"
)

// app is every component wired from settings.
type app struct {
	settings config.Settings
	loc      *time.Location
	logger   zerolog.Logger

	store    *store.ConfigStore
	tracker  *uptime.Tracker
	checker  *checker.Checker
	journal  *history.Journal
	metrics  *metrics.Metrics
	snapshot *store.SnapshotFile
	telegram *notify.Telegram // nil without a bot token
	notifier notify.Notifier
	monitor  *monitor.Orchestrator
	engine   *engine.Engine
}

func component(name string) zerolog.Logger {
	return log.Logger.With().Str("component", name).Logger()
}

// newApp builds the components and loads the configuration once, so a
// corrupted file stops every command before it does anything.
func newApp(ctx context.Context) (*app, error) {
	s, err := loadSettings()
	if err != nil {
		return nil, err
	}
	loc, err := s.Location()
	if err != nil {
		return nil, err
	}

	a := &app{settings: s, loc: loc, logger: component("main")}
	a.metrics = metrics.New()
	a.store = store.NewConfigStore(s.ConfigFile, component("config"), store.WithSaveObserver(a.metrics.ObserveConfigSave))
	if _, err := a.store.Load(ctx); err != nil {
		return nil, err
	}

	a.tracker = uptime.New(loc)
	a.checker = checker.New(checker.OptionsFromSettings(s), a.tracker, component("checker"), checker.WithObserver(a.metrics))

	if s.HistoryDB != "" {
		a.journal, err = history.Open(s.HistoryDB, component("history"))
		if err != nil {
			return nil, fmt.Errorf("failed to open check history: %w", err)
		}
	}

	if s.TelegramToken != "" {
		a.telegram = notify.NewTelegram(s.TelegramToken, "", component("notify"))
		a.notifier = a.telegram
	} else {
		a.notifier = notify.NewLogNotifier(component("notify"))
	}

	a.snapshot = store.NewSnapshotFile(s.ResultsFile)
	monitorOpts := []monitor.Option{
		monitor.WithSnapshot(a.snapshot),
		monitor.WithObserver(a.metrics),
		monitor.WithNotifier(a.notifier),
		monitor.WithBaseContext(ctx),
	}
	engineOpts := []engine.Option{engine.WithMetrics(a.metrics)}
	if a.journal != nil {
		monitorOpts = append(monitorOpts, monitor.WithJournal(a.journal))
		engineOpts = append(engineOpts, engine.WithHistory(a.journal))
	}

	a.monitor = monitor.New(monitor.OptionsFromSettings(s, loc), a.store, a.checker, component("batch"), monitorOpts...)
	a.engine = engine.New(engine.OptionsFromSettings(s, loc), a.store, a.checker, a.monitor, a.tracker, component("engine"), engineOpts...)
	return a, nil
}

func (a *app) Close() {
	if a.journal == nil {
		return
	}
	if err := a.journal.Close(); err != nil {
		a.logger.Warn().Err(err).Msg("[History] Failed to close database")
	}
}
