package redis

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alem-hub/daily-lessons/internal/domain/subscriber"
	"github.com/alem-hub/daily-lessons/internal/infrastructure/persistence/record"
)

// ══════════════════════════════════════════════════════════════════════════════
// SUBSCRIBER STORE
// ══════════════════════════════════════════════════════════════════════════════

// SubscriberStore implements subscriber.Store. Each subscriber is one JSON
// document under subscriber:<id>; ids are tracked in a set for List.
type SubscriberStore struct {
	cache *Cache
}

// NewSubscriberStore creates a store on top of cache.
func NewSubscriberStore(cache *Cache) *SubscriberStore {
	return &SubscriberStore{cache: cache}
}

func (s *SubscriberStore) key(id subscriber.ID) string {
	return s.cache.Key(PrefixSubscriber, id.String())
}

// Get implements subscriber.Store.
func (s *SubscriberStore) Get(ctx context.Context, id subscriber.ID) (*subscriber.Subscriber, error) {
	if !id.IsValid() {
		return nil, subscriber.ErrInvalidID
	}

	data, err := s.cache.Client().Get(ctx, s.key(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, subscriber.ErrNotFound
		}
		return nil, fmt.Errorf("redis: get subscriber %s: %w", id, err)
	}
	return record.Decode(id, data)
}

// CreateIfAbsent implements subscriber.Store. SET NX never touches an
// existing document, so repeated calls leave the stored bytes unchanged.
func (s *SubscriberStore) CreateIfAbsent(ctx context.Context, id subscriber.ID, now time.Time) (*subscriber.Subscriber, error) {
	sub, err := subscriber.New(id, now)
	if err != nil {
		return nil, err
	}
	sub.Version = 1

	data, err := record.Encode(sub)
	if err != nil {
		return nil, err
	}

	_, err = s.cache.Client().TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SetNX(ctx, s.key(id), data, 0)
		pipe.SAdd(ctx, s.cache.Key(KeySubscriberIndex), id.String())
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("redis: create subscriber %s: %w", id, err)
	}

	return s.Get(ctx, id)
}

// Commit implements subscriber.Store. The version check runs under WATCH;
// a concurrent write between the read and EXEC aborts the transaction.
func (s *SubscriberStore) Commit(ctx context.Context, sub *subscriber.Subscriber, expectedVersion int64) (*subscriber.Subscriber, error) {
	if !sub.ID.IsValid() {
		return nil, subscriber.ErrInvalidID
	}

	next := sub.Clone()
	next.Version = expectedVersion + 1
	data, err := record.Encode(next)
	if err != nil {
		return nil, err
	}

	key := s.key(sub.ID)
	err = s.cache.Client().Watch(ctx, func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return subscriber.ErrNotFound
			}
			return err
		}

		current, err := record.Decode(sub.ID, raw)
		if err != nil {
			return err
		}
		if current.Version != expectedVersion {
			return subscriber.ErrVersionConflict
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			return nil
		})
		return err
	}, key)

	switch {
	case err == nil:
		return next, nil
	case errors.Is(err, redis.TxFailedErr):
		return nil, subscriber.ErrVersionConflict
	case errors.Is(err, subscriber.ErrNotFound),
		errors.Is(err, subscriber.ErrVersionConflict),
		errors.Is(err, subscriber.ErrCorruptRecord):
		return nil, err
	default:
		return nil, fmt.Errorf("redis: commit subscriber %s: %w", sub.ID, err)
	}
}

// List implements subscriber.Store.
func (s *SubscriberStore) List(ctx context.Context) ([]subscriber.ID, error) {
	members, err := s.cache.Client().SMembers(ctx, s.cache.Key(KeySubscriberIndex)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: list subscribers: %w", err)
	}

	sort.Strings(members)
	ids := make([]subscriber.ID, len(members))
	for i, m := range members {
		ids[i] = subscriber.ID(m)
	}
	return ids, nil
}

// Ping implements the backend health check.
func (s *SubscriberStore) Ping(ctx context.Context) error {
	return s.cache.Ping(ctx)
}

// Close closes the underlying client.
func (s *SubscriberStore) Close() error {
	return s.cache.Close()
}
