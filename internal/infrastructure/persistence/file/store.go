// Package file implements subscriber.Store as one JSON document per
// subscriber in a directory. Writes go to a temp file that is fsynced and
// renamed over the previous document, so a commit is either fully visible
// or absent after a crash, and a damaged document affects only its owner.
package file

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/alem-hub/daily-lessons/internal/domain/subscriber"
	"github.com/alem-hub/daily-lessons/internal/infrastructure/persistence/record"
	"github.com/alem-hub/daily-lessons/pkg/logger"
)

const (
	recordExt = ".json"
	tempExt   = ".tmp"
	lockName  = ".lock"
)

// ══════════════════════════════════════════════════════════════════════════════
// CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

// Hooks lets tests inject faults around the rename that publishes a commit.
type Hooks struct {
	// BeforeRename runs after the temp file is durable. An error aborts the
	// write and leaves the previous document in place.
	BeforeRename func(id subscriber.ID, tempPath string) error

	// AfterRename runs once the new document is visible. An error is
	// returned to the caller although the write has landed.
	AfterRename func(id subscriber.ID) error
}

// Config holds file store configuration.
type Config struct {
	// Dir is the directory holding <id>.json documents.
	Dir string

	// FileMode is the permission of written documents.
	FileMode fs.FileMode

	Hooks  Hooks
	Logger *slog.Logger
}

// DefaultConfig returns a sensible default configuration.
func DefaultConfig() Config {
	return Config{
		Dir:      "data/subscribers",
		FileMode: 0o600,
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// STORE
// ══════════════════════════════════════════════════════════════════════════════

// Store implements subscriber.Store on the local filesystem.
type Store struct {
	dir    string
	mode   fs.FileMode
	hooks  Hooks
	logger *slog.Logger

	// mu serializes version checks and writes within the process; lock
	// extends that to other processes sharing the directory.
	mu   sync.Mutex
	lock *dirLock
}

// NewStore opens (and creates) the directory and removes temp files left by
// interrupted writes.
func NewStore(cfg Config) (*Store, error) {
	if cfg.Dir == "" {
		cfg.Dir = DefaultConfig().Dir
	}
	if cfg.FileMode == 0 {
		cfg.FileMode = DefaultConfig().FileMode
	}
	if err := os.MkdirAll(cfg.Dir, 0o700); err != nil {
		return nil, fmt.Errorf("file store: create dir %s: %w", cfg.Dir, err)
	}

	lock, err := openDirLock(cfg.Dir)
	if err != nil {
		return nil, err
	}

	s := &Store{
		dir:    cfg.Dir,
		mode:   cfg.FileMode,
		hooks:  cfg.Hooks,
		logger: logger.OrDefault(cfg.Logger).With(logger.Component("file_store")),
		lock:   lock,
	}

	if err := s.locked(s.sweepTemp); err != nil {
		_ = lock.close()
		return nil, err
	}
	return s, nil
}

// Dir returns the storage directory.
func (s *Store) Dir() string { return s.dir }

// Path returns the document path for id.
func (s *Store) Path(id subscriber.ID) string {
	return filepath.Join(s.dir, id.String()+recordExt)
}

// Get implements subscriber.Store.
func (s *Store) Get(ctx context.Context, id subscriber.ID) (*subscriber.Subscriber, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.read(id)
}

// CreateIfAbsent implements subscriber.Store. An existing document is
// returned as stored and never rewritten.
func (s *Store) CreateIfAbsent(ctx context.Context, id subscriber.ID, now time.Time) (*subscriber.Subscriber, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var out *subscriber.Subscriber
	err := s.locked(func() error {
		existing, err := s.read(id)
		if err == nil {
			out = existing
			return nil
		}
		if !errors.Is(err, subscriber.ErrNotFound) {
			return err
		}

		sub, err := subscriber.New(id, now)
		if err != nil {
			return err
		}
		sub.Version = 1

		if err := s.write(sub); err != nil {
			return err
		}
		out = sub.Clone()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Commit implements subscriber.Store.
func (s *Store) Commit(ctx context.Context, sub *subscriber.Subscriber, expectedVersion int64) (*subscriber.Subscriber, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	next := sub.Clone()
	next.Version = expectedVersion + 1

	err := s.locked(func() error {
		current, err := s.read(sub.ID)
		if err != nil {
			return err
		}
		if current.Version != expectedVersion {
			return subscriber.ErrVersionConflict
		}
		return s.write(next)
	})
	if err != nil {
		return nil, err
	}
	return next.Clone(), nil
}

// List implements subscriber.Store. Documents that fail to parse are still listed.
func (s *Store) List(ctx context.Context) ([]subscriber.ID, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("file store: list %s: %w", s.dir, err)
	}

	ids := make([]subscriber.ID, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, ".") || !strings.HasSuffix(name, recordExt) {
			continue
		}
		id := subscriber.ID(strings.TrimSuffix(name, recordExt))
		if id.IsValid() {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

// Ping checks that the directory is still accessible.
func (s *Store) Ping(context.Context) error {
	info, err := os.Stat(s.dir)
	if err != nil {
		return fmt.Errorf("file store: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("file store: %s is not a directory", s.dir)
	}
	return nil
}

// Close releases the directory lock handle.
func (s *Store) Close() error { return s.lock.close() }

// ─────────────────────────────────────────────────────────────────────────────
// Internals
// ─────────────────────────────────────────────────────────────────────────────

// locked runs fn holding both the process mutex and the directory lock.
func (s *Store) locked(fn func() error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.lock.lock(); err != nil {
		return err
	}
	defer func() {
		if err := s.lock.unlock(); err != nil {
			s.logger.Warn("directory unlock failed", logger.Err(err))
		}
	}()
	return fn()
}

func (s *Store) read(id subscriber.ID) (*subscriber.Subscriber, error) {
	if !id.IsValid() {
		return nil, subscriber.ErrInvalidID
	}
	data, err := os.ReadFile(s.Path(id))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, subscriber.ErrNotFound
		}
		return nil, fmt.Errorf("file store: read %s: %w", id, err)
	}
	return record.Decode(id, data)
}

func (s *Store) write(sub *subscriber.Subscriber) error {
	data, err := record.Encode(sub)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(s.dir, "."+sub.ID.String()+".*"+tempExt)
	if err != nil {
		return fmt.Errorf("file store: create temp for %s: %w", sub.ID, err)
	}
	tmpPath := tmp.Name()
	published := false
	defer func() {
		if !published {
			_ = os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("file store: write %s: %w", sub.ID, err)
	}
	if err := tmp.Chmod(s.mode); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("file store: chmod %s: %w", sub.ID, err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("file store: sync %s: %w", sub.ID, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("file store: close %s: %w", sub.ID, err)
	}

	if s.hooks.BeforeRename != nil {
		if err := s.hooks.BeforeRename(sub.ID, tmpPath); err != nil {
			return fmt.Errorf("file store: commit %s interrupted: %w", sub.ID, err)
		}
	}

	if err := os.Rename(tmpPath, s.Path(sub.ID)); err != nil {
		return fmt.Errorf("file store: publish %s: %w", sub.ID, err)
	}
	published = true

	if err := syncDir(s.dir); err != nil {
		s.logger.Warn("directory sync failed", logger.SubscriberID(sub.ID.String()), logger.Err(err))
	}

	if s.hooks.AfterRename != nil {
		if err := s.hooks.AfterRename(sub.ID); err != nil {
			return fmt.Errorf("file store: after commit %s: %w", sub.ID, err)
		}
	}
	return nil
}

// sweepTemp removes temp files left behind by writes that never published.
func (s *Store) sweepTemp() error {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return fmt.Errorf("file store: scan %s: %w", s.dir, err)
	}
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, ".") || !strings.HasSuffix(name, tempExt) {
			continue
		}
		if err := os.Remove(filepath.Join(s.dir, name)); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("file store: remove stale temp %s: %w", name, err)
		}
		s.logger.Info("removed stale temp file", slog.String("file", name))
	}
	return nil
}

func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()
	return d.Sync()
}
