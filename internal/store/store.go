// Package store persists the monitored site list and the last check snapshot.
package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/mailru/easyjson"
	"github.com/natefinch/atomic"
	"github.com/rs/zerolog"
)

var (
	// ErrConfigCorrupted marks a configuration file that exists but cannot be parsed.
	ErrConfigCorrupted = errors.New("config corrupted")
	// ErrInvalidConfig is returned by Save for a document that must not be written.
	ErrInvalidConfig = errors.New("invalid config document")
)

// CorruptedError carries the location of the preserved copy of a corrupt file.
type CorruptedError struct {
	Path       string
	BackupPath string
	Err        error
}

func (e *CorruptedError) Error() string {
	return fmt.Sprintf("config file %s is corrupted (backup at %s): %v", e.Path, e.BackupPath, e.Err)
}

func (e *CorruptedError) Unwrap() []error { return []error{ErrConfigCorrupted, e.Err} }

// ConfigStore loads and saves the configuration document at a single path.
type ConfigStore struct {
	path   string
	lock   LockOptions
	logger zerolog.Logger
	now    func() time.Time
	onSave func(error)

	mu sync.Mutex // serializes Update
}

// Option configures a ConfigStore.
type Option func(*ConfigStore)

// WithLockOptions overrides DefaultLockOptions.
func WithLockOptions(o LockOptions) Option {
	return func(s *ConfigStore) { s.lock = o }
}

// WithClock overrides time.Now, used for backup names and lock staleness.
func WithClock(now func() time.Time) Option {
	return func(s *ConfigStore) { s.now = now }
}

// WithSaveObserver calls fn with the outcome of every Save that got past validation.
func WithSaveObserver(fn func(error)) Option {
	return func(s *ConfigStore) { s.onSave = fn }
}

// NewConfigStore returns a store for the document at path.
func NewConfigStore(path string, logger zerolog.Logger, opts ...Option) *ConfigStore {
	s := &ConfigStore{
		path:   path,
		lock:   DefaultLockOptions,
		logger: logger,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Path returns the configuration file path.
func (s *ConfigStore) Path() string { return s.path }

// Load reads the document. A missing file is created empty. A file that
// cannot be parsed is copied to <path>.corrupt.<unixmillis> and reported as
// a *CorruptedError; it is never replaced by an empty document.
func (s *ConfigStore) Load(ctx context.Context) (*Document, error) {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := os.ReadFile(s.path)
	if err != nil {
		doc := NewDocument()
		if errors.Is(err, os.ErrNotExist) {
			s.logger.Info().Str("path", s.path).Msg("[Config] No config file, creating an empty one")
		} else {
			s.logger.Error().Err(err).Str("path", s.path).Msg("[Config] Failed to read config, recreating default")
		}
		if saveErr := s.Save(ctx, doc); saveErr != nil {
			s.logger.Error().Err(saveErr).Str("path", s.path).Msg("[Config] Failed to write default config")
		}
		return doc, nil
	}

	doc := &Document{}
	if err := easyjson.Unmarshal(data, doc); err != nil {
		backup := s.path + ".corrupt." + strconv.FormatInt(s.now().UnixMilli(), 10)
		if werr := os.WriteFile(backup, data, 0o644); werr != nil {
			s.logger.Error().Err(werr).Str("backup", backup).Msg("[Config] Failed to back up corrupt config")
		}
		s.logger.Error().Err(err).Str("path", s.path).Str("backup", backup).Msg("[Config] Config file is corrupted")
		return nil, &CorruptedError{Path: s.path, BackupPath: backup, Err: err}
	}

	if doc.Legacy {
		s.logger.Info().Int("sites", doc.Websites.Len()).Msg("[Config] Migrating legacy config format")
		doc.Legacy = false
		if err := s.Save(ctx, doc); err != nil {
			s.logger.Warn().Err(err).Msg("[Config] Failed to save migrated config")
		}
	}
	return doc, nil
}

// Save validates doc and writes it atomically. The advisory lock is taken
// when possible; when it cannot be acquired the write proceeds without it.
func (s *ConfigStore) Save(ctx context.Context, doc *Document) error {
	if err := validate(doc); err != nil {
		return err
	}
	err := s.write(ctx, doc)
	if s.onSave != nil {
		s.onSave(err)
	}
	return err
}

func (s *ConfigStore) write(ctx context.Context, doc *Document) error {

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	release, err := acquireLock(ctx, s.path, s.lock, s.now)
	if err != nil {
		s.logger.Warn().Err(err).Str("path", s.path).Msg("[Config] Could not acquire lock, saving without it")
	} else {
		defer release()
	}

	raw, err := easyjson.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	var out bytes.Buffer
	if err := json.Indent(&out, raw, "", "  "); err != nil {
		return fmt.Errorf("failed to format config: %w", err)
	}
	out.WriteByte('\n')

	if err := atomic.WriteFile(s.path, &out); err != nil {
		s.logger.Error().Err(err).Str("path", s.path).Msg("[Config] Failed to save config")
		return fmt.Errorf("failed to write config: %w", err)
	}
	s.logger.Debug().Str("path", s.path).Int("sites", doc.Websites.Len()).Msg("[Config] Saved config")
	return nil
}

// Update loads the document, applies fn and saves the result. Calls are
// serialized within the process. When fn returns an error nothing is saved.
func (s *ConfigStore) Update(ctx context.Context, fn func(*Document) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.Load(ctx)
	if err != nil {
		return err
	}
	if err := fn(doc); err != nil {
		return err
	}
	return s.Save(ctx, doc)
}

func validate(doc *Document) error {
	if doc == nil {
		return fmt.Errorf("%w: nil document", ErrInvalidConfig)
	}
	for _, site := range doc.Websites.List() {
		if site.Name == "" {
			return fmt.Errorf("%w: empty site name", ErrInvalidConfig)
		}
	}
	return nil
}
