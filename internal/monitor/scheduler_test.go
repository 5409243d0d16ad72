package monitor

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingPruner struct {
	calls atomic.Int32
}

func (p *countingPruner) Prune(context.Context, time.Time) (int64, error) {
	p.calls.Add(1)
	return 0, nil
}

func TestSchedulerRegistersJobs(t *testing.T) {
	loc, err := time.LoadLocation("Asia/Jakarta")
	require.NoError(t, err)

	s, err := NewScheduler(loc, zerolog.Nop())
	require.NoError(t, err)

	o := New(Options{}, newMemStore(), &fakeSiteChecker{}, zerolog.Nop())
	require.NoError(t, s.ScheduleDailyCheck(o, 8, 0))
	require.NoError(t, s.ScheduleHistoryPrune(&countingPruner{}, 24*time.Hour))

	var swept atomic.Int32
	require.NoError(t, s.ScheduleEvery("sweep", 10*time.Millisecond, func() { swept.Add(1) }))

	names := make([]string, 0, 3)
	for _, j := range s.Jobs() {
		names = append(names, j.Name())
	}
	assert.ElementsMatch(t, []string{"daily-check", "history-prune", "sweep"}, names)

	s.Start()
	defer func() { require.NoError(t, s.Shutdown()) }()

	assert.Eventually(t, func() bool { return swept.Load() > 0 }, time.Second, 5*time.Millisecond)

	for _, j := range s.Jobs() {
		if j.Name() != "daily-check" {
			continue
		}
		next, err := j.NextRun()
		require.NoError(t, err)
		assert.Equal(t, 8, next.In(loc).Hour())
		assert.Equal(t, 0, next.In(loc).Minute())
	}
}
