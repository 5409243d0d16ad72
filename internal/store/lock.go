package store

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// ErrLockBusy is returned when another writer holds the lock for every attempt.
var ErrLockBusy = errors.New("config lock busy")

// LockOptions tunes the advisory lock taken around writes.
type LockOptions struct {
	Attempts        uint64 // total tries, including the first
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Stale           time.Duration
}

// DefaultLockOptions: five attempts backing off from 100ms to 1s, locks older than 10s are stale.
var DefaultLockOptions = LockOptions{
	Attempts:        5,
	InitialInterval: 100 * time.Millisecond,
	MaxInterval:     time.Second,
	Stale:           10 * time.Second,
}

// acquireLock creates <target>.lock as a directory. Mkdir is atomic on every
// platform we run on, so whoever creates it owns the lock. A lock directory
// older than opts.Stale is assumed abandoned and taken over.
func acquireLock(ctx context.Context, target string, opts LockOptions, now func() time.Time) (func(), error) {
	lockPath := target + ".lock"

	try := func() error {
		err := os.Mkdir(lockPath, 0o755)
		if err == nil {
			return nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return backoff.Permanent(err)
		}

		info, statErr := os.Stat(lockPath)
		if statErr == nil && now().Sub(info.ModTime()) > opts.Stale {
			if rmErr := os.Remove(lockPath); rmErr == nil {
				if err := os.Mkdir(lockPath, 0o755); err == nil {
					return nil
				}
			}
		}
		return ErrLockBusy
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = opts.InitialInterval
	b.MaxInterval = opts.MaxInterval
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Reset()

	retries := uint64(0)
	if opts.Attempts > 1 {
		retries = opts.Attempts - 1
	}
	if err := backoff.Retry(try, backoff.WithContext(backoff.WithMaxRetries(b, retries), ctx)); err != nil {
		return nil, err
	}

	return func() {
		_ = os.Remove(lockPath)
	}, nil
}
