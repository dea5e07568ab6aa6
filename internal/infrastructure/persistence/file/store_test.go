package file

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/daily-lessons/internal/domain/shared"
	"github.com/alem-hub/daily-lessons/internal/domain/subscriber"
	"github.com/alem-hub/daily-lessons/internal/infrastructure/persistence/storetest"
	"github.com/alem-hub/daily-lessons/pkg/logger"
	"github.com/alem-hub/daily-lessons/pkg/timeutil"
)

var (
	t0         = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	errCrashed = errors.New("simulated crash")
)

func newTestStore(t *testing.T, hooks Hooks) *Store {
	t.Helper()
	s, err := NewStore(Config{Dir: t.TempDir(), Hooks: hooks, Logger: logger.Discard()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStore_Conformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) subscriber.Store {
		return newTestStore(t, Hooks{})
	})
}

func TestCreateIfAbsent_LeavesBytesUntouched(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, Hooks{})

	_, err := s.CreateIfAbsent(ctx, "42", t0)
	require.NoError(t, err)
	before, err := os.ReadFile(s.Path("42"))
	require.NoError(t, err)
	infoBefore, err := os.Stat(s.Path("42"))
	require.NoError(t, err)

	for i := 1; i <= 3; i++ {
		_, err := s.CreateIfAbsent(ctx, "42", t0.Add(time.Duration(i)*time.Hour))
		require.NoError(t, err)
	}

	after, err := os.ReadFile(s.Path("42"))
	require.NoError(t, err)
	infoAfter, err := os.Stat(s.Path("42"))
	require.NoError(t, err)

	assert.Equal(t, before, after)
	assert.Equal(t, infoBefore.ModTime(), infoAfter.ModTime())
}

func TestCommit_CrashBeforeRenameKeepsPreviousRecord(t *testing.T) {
	ctx := context.Background()
	crash := false
	s := newTestStore(t, Hooks{
		BeforeRename: func(subscriber.ID, string) error {
			if crash {
				return errCrashed
			}
			return nil
		},
	})

	sub, err := s.CreateIfAbsent(ctx, "7", t0)
	require.NoError(t, err)
	require.NoError(t, sub.SelectAttribute(subscriber.AttributeMale, t0))
	sub, err = s.Commit(ctx, sub, sub.Version)
	require.NoError(t, err)
	before, err := os.ReadFile(s.Path("7"))
	require.NoError(t, err)

	crash = true
	next := sub.Clone()
	require.NoError(t, next.RecordDelivery(1, timeutil.MustParseDate("2024-05-01"), t0))
	_, err = s.Commit(ctx, next, sub.Version)
	require.ErrorIs(t, err, errCrashed)

	after, err := os.ReadFile(s.Path("7"))
	require.NoError(t, err)
	assert.Equal(t, before, after, "interrupted commit must leave the old document")

	loaded, err := s.Get(ctx, "7")
	require.NoError(t, err)
	assert.Equal(t, 1, loaded.NextUnitIndex)
	assert.Equal(t, sub.Version, loaded.Version)

	entries, err := os.ReadDir(s.Dir())
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp file must be cleaned up")
}

func TestCommit_CrashAfterRenameKeepsNewRecord(t *testing.T) {
	ctx := context.Background()
	crash := false
	s := newTestStore(t, Hooks{
		AfterRename: func(subscriber.ID) error {
			if crash {
				return errCrashed
			}
			return nil
		},
	})

	sub, err := s.CreateIfAbsent(ctx, "8", t0)
	require.NoError(t, err)
	require.NoError(t, sub.SelectAttribute(subscriber.AttributeFemale, t0))

	crash = true
	_, err = s.Commit(ctx, sub, sub.Version)
	require.ErrorIs(t, err, errCrashed)

	loaded, err := s.Get(ctx, "8")
	require.NoError(t, err)
	assert.Equal(t, subscriber.StateActive, loaded.State)
	assert.Equal(t, int64(2), loaded.Version)
}

func TestNewStore_SweepsTempFromTornWrite(t *testing.T) {
	dir := t.TempDir()
	torn := filepath.Join(dir, ".9.123456.tmp")
	require.NoError(t, os.WriteFile(torn, []byte(`{"schema":1,"id":"9","regis`), 0o600))

	s, err := NewStore(Config{Dir: dir, Logger: logger.Discard()})
	require.NoError(t, err)

	_, err = os.Stat(torn)
	assert.True(t, os.IsNotExist(err))

	ids, err := s.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestCorruptRecordIsIsolated(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, Hooks{})

	_, err := s.CreateIfAbsent(ctx, "1", t0)
	require.NoError(t, err)
	_, err = s.CreateIfAbsent(ctx, "2", t0)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(s.Path("2"), []byte("{not json"), 0o600))

	_, err = s.Get(ctx, "2")
	assert.ErrorIs(t, err, subscriber.ErrCorruptRecord)
	assert.True(t, errors.Is(err, shared.ErrIntegrity))

	ok, err := s.Get(ctx, "1")
	require.NoError(t, err)
	assert.Equal(t, subscriber.ID("1"), ok.ID)

	ids, err := s.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []subscriber.ID{"1", "2"}, ids)

	// a corrupt document is never overwritten by CreateIfAbsent
	_, err = s.CreateIfAbsent(ctx, "2", t0)
	assert.ErrorIs(t, err, subscriber.ErrCorruptRecord)
	raw, err := os.ReadFile(s.Path("2"))
	require.NoError(t, err)
	assert.Equal(t, "{not json", string(raw))
}

func TestGet_RejectsPathLikeIDs(t *testing.T) {
	s := newTestStore(t, Hooks{})
	_, err := s.Get(context.Background(), "../etc/passwd")
	assert.ErrorIs(t, err, subscriber.ErrInvalidID)
}

// Two stores over one directory behave like the bot and a lessonctl pass
// running side by side: their mutexes are independent, only the directory
// lock orders them.
func TestCommit_SerializedAcrossStoresSharingDir(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	other, err := NewStore(Config{Dir: dir, Logger: logger.Discard()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = other.Close() })

	base, err := other.CreateIfAbsent(ctx, "7", t0)
	require.NoError(t, err)

	type result struct {
		sub *subscriber.Subscriber
		err error
	}
	done := make(chan result, 1)

	var first *Store
	first, err = NewStore(Config{
		Dir:    dir,
		Logger: logger.Discard(),
		Hooks: Hooks{BeforeRename: func(subscriber.ID, string) error {
			go func() {
				next := base.Clone()
				next.Attribute = subscriber.AttributeMale
				sub, err := other.Commit(ctx, next, base.Version)
				done <- result{sub, err}
			}()
			select {
			case r := <-done:
				t.Errorf("concurrent commit finished while the directory was locked: %v", r.err)
			case <-time.After(100 * time.Millisecond):
			}
			return nil
		}},
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = first.Close() })

	next := base.Clone()
	next.Attribute = subscriber.AttributeFemale
	saved, err := first.Commit(ctx, next, base.Version)
	require.NoError(t, err)
	assert.Equal(t, int64(2), saved.Version)

	select {
	case r := <-done:
		assert.ErrorIs(t, r.err, subscriber.ErrVersionConflict)
		assert.Nil(t, r.sub)
	case <-time.After(5 * time.Second):
		t.Fatal("concurrent commit never finished")
	}

	got, err := other.Get(ctx, "7")
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.Version)
	assert.Equal(t, subscriber.AttributeFemale, got.Attribute)
}

func TestList_SkipsLockFile(t *testing.T) {
	s := newTestStore(t, Hooks{})
	_, err := os.Stat(filepath.Join(s.Dir(), lockName))
	require.NoError(t, err)

	ids, err := s.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, ids)
}
