// Package storetest is a conformance suite run against every subscriber.Store backend.
package storetest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/daily-lessons/internal/domain/subscriber"
	"github.com/alem-hub/daily-lessons/pkg/timeutil"
)

// Factory returns a fresh, empty store for one subtest.
type Factory func(t *testing.T) subscriber.Store

var baseTime = time.Date(2024, 5, 1, 9, 30, 0, 0, time.UTC)

// Run executes the whole suite.
func Run(t *testing.T, newStore Factory) {
	t.Run("GetMissing", func(t *testing.T) { testGetMissing(t, newStore(t)) })
	t.Run("CreateIfAbsentIsIdempotent", func(t *testing.T) { testCreateIfAbsent(t, newStore(t)) })
	t.Run("CommitBumpsVersion", func(t *testing.T) { testCommit(t, newStore(t)) })
	t.Run("StaleCommitConflicts", func(t *testing.T) { testStaleCommit(t, newStore(t)) })
	t.Run("CommitMissing", func(t *testing.T) { testCommitMissing(t, newStore(t)) })
	t.Run("RoundTripAllFields", func(t *testing.T) { testRoundTrip(t, newStore(t)) })
	t.Run("List", func(t *testing.T) { testList(t, newStore(t)) })
	t.Run("ConcurrentCommitsOneWinner", func(t *testing.T) { testConcurrentCommits(t, newStore(t)) })
	t.Run("RejectsInvalidIDs", func(t *testing.T) { testInvalidIDs(t, newStore(t)) })
}

func testGetMissing(t *testing.T, store subscriber.Store) {
	_, err := store.Get(context.Background(), "404")
	assert.ErrorIs(t, err, subscriber.ErrNotFound)
}

func testCreateIfAbsent(t *testing.T, store subscriber.Store) {
	ctx := context.Background()

	first, err := store.CreateIfAbsent(ctx, "100", baseTime)
	require.NoError(t, err)
	assert.Equal(t, int64(1), first.Version)
	assert.Equal(t, subscriber.StateUnregistered, first.State)
	assert.Equal(t, 1, first.NextUnitIndex)

	second, err := store.CreateIfAbsent(ctx, "100", baseTime.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), second.Version)
	assert.True(t, first.CreatedAt.Equal(second.CreatedAt))

	// a progressed record is returned untouched
	second.State = subscriber.StateAwaitingAttribute
	_, err = store.Commit(ctx, second, 1)
	require.NoError(t, err)

	third, err := store.CreateIfAbsent(ctx, "100", baseTime.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(2), third.Version)
	assert.Equal(t, subscriber.StateAwaitingAttribute, third.State)
}

func testCommit(t *testing.T, store subscriber.Store) {
	ctx := context.Background()

	sub, err := store.CreateIfAbsent(ctx, "200", baseTime)
	require.NoError(t, err)

	require.NoError(t, sub.BeginOnboarding(baseTime))
	saved, err := store.Commit(ctx, sub, sub.Version)
	require.NoError(t, err)
	assert.Equal(t, int64(2), saved.Version)

	loaded, err := store.Get(ctx, "200")
	require.NoError(t, err)
	assert.Equal(t, int64(2), loaded.Version)
	assert.Equal(t, subscriber.StateAwaitingAttribute, loaded.State)
}

func testStaleCommit(t *testing.T, store subscriber.Store) {
	ctx := context.Background()

	sub, err := store.CreateIfAbsent(ctx, "300", baseTime)
	require.NoError(t, err)

	winner := sub.Clone()
	require.NoError(t, winner.BeginOnboarding(baseTime))
	_, err = store.Commit(ctx, winner, 1)
	require.NoError(t, err)

	loser := sub.Clone()
	require.NoError(t, loser.SelectAttribute(subscriber.AttributeMale, baseTime))
	_, err = store.Commit(ctx, loser, 1)
	assert.ErrorIs(t, err, subscriber.ErrVersionConflict)

	loaded, err := store.Get(ctx, "300")
	require.NoError(t, err)
	assert.Equal(t, subscriber.StateAwaitingAttribute, loaded.State)
	assert.Equal(t, subscriber.AttributeNone, loaded.Attribute)
	assert.Equal(t, int64(2), loaded.Version)
}

func testCommitMissing(t *testing.T, store subscriber.Store) {
	sub, err := subscriber.New("900", baseTime)
	require.NoError(t, err)

	_, err = store.Commit(context.Background(), sub, 1)
	assert.ErrorIs(t, err, subscriber.ErrNotFound)
}

func testRoundTrip(t *testing.T, store subscriber.Store) {
	ctx := context.Background()

	sub, err := store.CreateIfAbsent(ctx, "400", baseTime)
	require.NoError(t, err)

	today := timeutil.MustParseDate("2024-05-01")
	require.NoError(t, sub.SelectAttribute(subscriber.AttributeFemale, baseTime))
	require.NoError(t, sub.RecordDelivery(1, today, baseTime.Add(time.Minute)))

	_, err = store.Commit(ctx, sub, 1)
	require.NoError(t, err)

	loaded, err := store.Get(ctx, "400")
	require.NoError(t, err)

	assert.Equal(t, subscriber.ID("400"), loaded.ID)
	assert.Equal(t, subscriber.StateActive, loaded.State)
	assert.Equal(t, subscriber.AttributeFemale, loaded.Attribute)
	assert.Equal(t, 2, loaded.NextUnitIndex)
	assert.Equal(t, today, loaded.LastDeliveredOn)
	require.NotNil(t, loaded.LastDeliveryAttemptAt)
	assert.True(t, baseTime.Add(time.Minute).Equal(*loaded.LastDeliveryAttemptAt))
	assert.True(t, baseTime.Equal(loaded.CreatedAt))
	assert.Equal(t, int64(2), loaded.Version)
}

func testList(t *testing.T, store subscriber.Store) {
	ctx := context.Background()

	ids, err := store.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, ids)

	for _, id := range []subscriber.ID{"3", "1", "2"} {
		_, err := store.CreateIfAbsent(ctx, id, baseTime)
		require.NoError(t, err)
	}

	ids, err = store.List(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []subscriber.ID{"1", "2", "3"}, ids)
}

func testConcurrentCommits(t *testing.T, store subscriber.Store) {
	ctx := context.Background()

	sub, err := store.CreateIfAbsent(ctx, "500", baseTime)
	require.NoError(t, err)
	require.NoError(t, sub.SelectAttribute(subscriber.AttributeMale, baseTime))

	const writers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		conflicts int
	)

	for range writers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.Commit(ctx, sub.Clone(), 1)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case assert.ErrorIs(t, err, subscriber.ErrVersionConflict):
				conflicts++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
	assert.Equal(t, writers-1, conflicts)

	loaded, err := store.Get(ctx, "500")
	require.NoError(t, err)
	assert.Equal(t, int64(2), loaded.Version)
}

func testInvalidIDs(t *testing.T, store subscriber.Store) {
	ctx := context.Background()

	for _, id := range []subscriber.ID{"", "..", "../etc/passwd", "a b"} {
		_, err := store.Get(ctx, id)
		assert.ErrorIs(t, err, subscriber.ErrInvalidID, "get %q", id)

		_, err = store.CreateIfAbsent(ctx, id, baseTime)
		assert.ErrorIs(t, err, subscriber.ErrInvalidID, "create %q", id)

		_, err = store.Commit(ctx, &subscriber.Subscriber{ID: id, State: subscriber.StateUnregistered, NextUnitIndex: 1}, 1)
		assert.ErrorIs(t, err, subscriber.ErrInvalidID, "commit %q", id)
	}
}
