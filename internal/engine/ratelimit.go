package engine

import (
	"fmt"
	"math"
	"time"

	"golang.org/x/time/rate"
)

type requesterLimit struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// AllowCommand spends one command from key's allowance. When the allowance
// is used up it returns RATE_LIMITED with the wait until the next command.
func (e *Engine) AllowCommand(key string) error {
	now := e.now()

	e.limitMu.Lock()
	l, ok := e.limiters[key]
	if !ok {
		l = &requesterLimit{limiter: rate.NewLimiter(e.limit, e.opts.RateLimit)}
		e.limiters[key] = l
	}
	l.lastSeen = now
	r := l.limiter.ReserveN(now, 1)
	delay := r.DelayFrom(now)
	if delay > 0 {
		r.CancelAt(now)
	}
	e.limitMu.Unlock()

	if delay <= 0 {
		return nil
	}
	wait := time.Duration(math.Ceil(delay.Seconds())) * time.Second
	e.logger.Debug().Str("requester", key).Dur("retry_after", wait).Msg("[Engine] Rate limit exceeded")
	return &AppError{
		Code:       ErrCodeRateLimited,
		Message:    fmt.Sprintf("rate limit exceeded, wait %ds before next command", int(wait.Seconds())),
		RetryAfter: wait,
	}
}

// SweepLimiters forgets requesters idle for more than five windows.
func (e *Engine) SweepLimiters() int {
	e.limitMu.Lock()
	defer e.limitMu.Unlock()
	cutoff := e.now().Add(-5 * e.opts.RateWindow)
	n := 0
	for key, l := range e.limiters {
		if l.lastSeen.Before(cutoff) {
			delete(e.limiters, key)
			n++
		}
	}
	return n
}
