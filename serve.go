package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/tentangblockchain/bukitcuan.fun/internal/bot"
	"github.com/tentangblockchain/bukitcuan.fun/internal/checker"
	"github.com/tentangblockchain/bukitcuan.fun/internal/monitor"
	"github.com/tentangblockchain/bukitcuan.fun/internal/render"
	"github.com/tentangblockchain/bukitcuan.fun/internal/store"
)

const sweepInterval = time.Minute

// serve runs the scheduler, and the chat bot when a token is set, until ctx
// is cancelled or the metrics listener fails.
func serve(ctx context.Context, a *app, checkNow bool) error {
	logLastResults(a.logger, a.snapshot)

	sched, err := monitor.NewScheduler(a.loc, component("scheduler"))
	if err != nil {
		return err
	}

	hour, minute, err := a.settings.DailyTime()
	if err != nil {
		return err
	}
	if err := sched.ScheduleDailyCheck(a.monitor, hour, minute); err != nil {
		return err
	}
	if a.journal != nil {
		if err := sched.ScheduleHistoryPrune(a.journal, a.settings.HistoryRetention); err != nil {
			return err
		}
	}
	err = sched.ScheduleEvery("session-sweep", sweepInterval, func() {
		pending := a.engine.SweepPending()
		limiters := a.engine.SweepLimiters()
		if pending+limiters > 0 {
			a.logger.Debug().Int("pending", pending).Int("limiters", limiters).Msg("[Cleanup] Swept idle requester state")
		}
	})
	if err != nil {
		return err
	}

	sub := a.monitor.Events().Subscribe("serve-log", 0)
	defer a.monitor.Events().Unsubscribe(sub.ID)
	go logProgress(component("batch"), sub.Events)

	errCh := make(chan error, 1)
	if addr := a.settings.MetricsAddr; addr != "" {
		go func() {
			if err := a.metrics.Serve(ctx, addr, component("metrics")); err != nil {
				errCh <- fmt.Errorf("metrics listener: %w", err)
			}
		}()
	}

	var bots sync.WaitGroup
	botCtx, stopBot := context.WithCancel(ctx)
	defer stopBot()
	if a.telegram != nil {
		b := bot.New(a.telegram, a.engine, bot.Options{
			Allowed:  a.settings.Recipients,
			PageSize: a.settings.PageSize,
			Location: a.loc,
		}, component("bot"))
		bots.Add(1)
		go func() {
			defer bots.Done()
			_ = b.Run(botCtx)
		}()
	}

	sched.Start()
	a.logger.Info().
		Str("daily_check", fmt.Sprintf("%02d:%02d", hour, minute)).
		Str("timezone", a.loc.String()).
		Int("recipients", len(a.settings.Recipients)).
		Bool("history", a.journal != nil).
		Bool("bot", a.telegram != nil).
		Msg("🚀 Monitor started")

	if checkNow {
		go func() {
			_ = a.monitor.RunScheduled(ctx)
		}()
	}

	select {
	case <-ctx.Done():
		a.logger.Info().Msg("Shutting down")
	case err = <-errCh:
		a.logger.Error().Err(err).Msg("Shutting down after listener failure")
	}

	stopBot()
	bots.Wait()
	if shutdownErr := sched.Shutdown(); shutdownErr != nil {
		a.logger.Warn().Err(shutdownErr).Msg("[Scheduler] Shutdown incomplete")
	}
	if last, at, ok := a.monitor.Latest(); ok {
		a.logger.Info().
			Str("batch", last.BatchID).
			Int("up", last.Summary.Up).
			Int("total", last.Summary.Total).
			Time("cached_at", at).
			Msg("Last batch")
	}
	return err
}

// logLastResults reports the snapshot left by the previous run.
func logLastResults(logger zerolog.Logger, f *store.SnapshotFile) {
	snap, err := f.Load()
	if errors.Is(err, os.ErrNotExist) {
		logger.Debug().Str("path", f.Path()).Msg("No saved results yet")
		return
	}
	if err != nil {
		logger.Warn().Err(err).Str("path", f.Path()).Msg("Saved results unreadable")
		return
	}
	up := 0
	for _, r := range snap.Results {
		if r.Status == string(checker.StatusUp) {
			up++
		}
	}
	logger.Info().
		Str("checked_at", snap.Timestamp).
		Int("up", up).
		Int("total", snap.Total).
		Msg("Last saved results")
}

// logProgress writes batch progress to the log. Failed sites are logged at
// warn level, everything else at debug.
func logProgress(logger zerolog.Logger, events <-chan monitor.Event) {
	for ev := range events {
		switch ev.Type {
		case monitor.EventBatchStarted:
			logger.Info().Str("batch", ev.BatchID).Int("sites", ev.Total).Msg("[Batch] Started")
		case monitor.EventSiteChecked:
			level := zerolog.DebugLevel
			if !ev.Result.IsUp() {
				level = zerolog.WarnLevel
			}
			logger.WithLevel(level).
				Str("batch", ev.BatchID).
				Str("site", ev.Result.Name).
				Str("url", render.DisplayURL(ev.Result.URL)).
				Str("status", string(ev.Result.Status)).
				Msgf("[Batch] %d/%d checked", ev.Index, ev.Total)
		}
	}
}
