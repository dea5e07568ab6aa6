// Package memory implements subscriber.Store in process memory.
// Used for local development and as the reference backend in tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/alem-hub/daily-lessons/internal/domain/subscriber"
)

// Store keeps cloned subscribers in a map guarded by a mutex.
type Store struct {
	mu   sync.RWMutex
	subs map[subscriber.ID]*subscriber.Subscriber
}

// NewStore creates an empty in-memory store.
func NewStore() *Store {
	return &Store{subs: make(map[subscriber.ID]*subscriber.Subscriber)}
}

// Get implements subscriber.Store.
func (s *Store) Get(ctx context.Context, id subscriber.ID) (*subscriber.Subscriber, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !id.IsValid() {
		return nil, subscriber.ErrInvalidID
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	sub, ok := s.subs[id]
	if !ok {
		return nil, subscriber.ErrNotFound
	}
	return sub.Clone(), nil
}

// CreateIfAbsent implements subscriber.Store.
func (s *Store) CreateIfAbsent(ctx context.Context, id subscriber.ID, now time.Time) (*subscriber.Subscriber, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if sub, ok := s.subs[id]; ok {
		return sub.Clone(), nil
	}

	sub, err := subscriber.New(id, now)
	if err != nil {
		return nil, err
	}
	sub.Version = 1
	s.subs[id] = sub
	return sub.Clone(), nil
}

// Commit implements subscriber.Store.
func (s *Store) Commit(ctx context.Context, sub *subscriber.Subscriber, expectedVersion int64) (*subscriber.Subscriber, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !sub.ID.IsValid() {
		return nil, subscriber.ErrInvalidID
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.subs[sub.ID]
	if !ok {
		return nil, subscriber.ErrNotFound
	}
	if current.Version != expectedVersion {
		return nil, subscriber.ErrVersionConflict
	}

	next := sub.Clone()
	next.Version = expectedVersion + 1
	s.subs[sub.ID] = next
	return next.Clone(), nil
}

// List implements subscriber.Store.
func (s *Store) List(ctx context.Context) ([]subscriber.ID, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]subscriber.ID, 0, len(s.subs))
	for id := range s.subs {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

// Put stores sub as-is, replacing any existing record. Intended for seeding.
func (s *Store) Put(sub *subscriber.Subscriber) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := sub.Clone()
	if c.Version < 1 {
		c.Version = 1
	}
	s.subs[sub.ID] = c
}

// Ping implements the backend health check.
func (s *Store) Ping(context.Context) error { return nil }

// Close implements io.Closer.
func (s *Store) Close() error { return nil }
