package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/daily-lessons/internal/domain/subscriber"
	"github.com/alem-hub/daily-lessons/internal/infrastructure/persistence/storetest"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(context.Background(), filepath.Join(t.TempDir(), "subscribers.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStore_Conformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) subscriber.Store {
		return newTestStore(t)
	})
}

func TestStore_InMemory(t *testing.T) {
	s, err := NewStore(context.Background(), ":memory:")
	require.NoError(t, err)
	defer s.Close()

	sub, err := s.CreateIfAbsent(context.Background(), "1", time.Now())
	require.NoError(t, err)
	assert.Equal(t, int64(1), sub.Version)
	assert.NoError(t, s.Ping(context.Background()))
}

func TestCorruptRowIsIsolated(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	_, err := s.CreateIfAbsent(ctx, "1", time.Now())
	require.NoError(t, err)
	_, err = s.CreateIfAbsent(ctx, "2", time.Now())
	require.NoError(t, err)

	_, err = s.DB().ExecContext(ctx, `UPDATE subscribers SET registration_state = 'paused' WHERE id = '2'`)
	require.NoError(t, err)

	_, err = s.Get(ctx, "2")
	assert.ErrorIs(t, err, subscriber.ErrCorruptRecord)

	ok, err := s.Get(ctx, "1")
	require.NoError(t, err)
	assert.Equal(t, subscriber.StateUnregistered, ok.State)

	ids, err := s.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []subscriber.ID{"1", "2"}, ids)
}

func TestCorruptTimestamp(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	_, err := s.CreateIfAbsent(ctx, "3", time.Now())
	require.NoError(t, err)
	_, err = s.DB().ExecContext(ctx, `UPDATE subscribers SET last_delivered_on = 'someday' WHERE id = '3'`)
	require.NoError(t, err)

	_, err = s.Get(ctx, "3")
	assert.ErrorIs(t, err, subscriber.ErrCorruptRecord)
}
