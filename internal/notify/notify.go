// Package notify delivers alert text to operators.
package notify

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
)

// Notifier sends one message to one recipient.
type Notifier interface {
	Notify(ctx context.Context, recipient int64, text string) error
}

// Broadcast sends text to every recipient. A failed delivery does not stop
// the others; all failures are returned joined.
func Broadcast(ctx context.Context, n Notifier, recipients []int64, text string, logger zerolog.Logger) (int, error) {
	var (
		delivered int
		errs      []error
	)
	for _, r := range recipients {
		if err := n.Notify(ctx, r, text); err != nil {
			logger.Error().Err(err).Int64("recipient", r).Msg("[Notify] Failed to deliver alert")
			errs = append(errs, fmt.Errorf("recipient %d: %w", r, err))
			continue
		}
		delivered++
	}
	return delivered, errors.Join(errs...)
}

// LogNotifier writes messages to the log, used when no bot token is configured.
type LogNotifier struct {
	logger zerolog.Logger
}

// NewLogNotifier returns a LogNotifier.
func NewLogNotifier(logger zerolog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (l *LogNotifier) Notify(_ context.Context, recipient int64, text string) error {
	l.logger.Info().Int64("recipient", recipient).Str("text", text).Msg("[Notify] Alert")
	return nil
}
