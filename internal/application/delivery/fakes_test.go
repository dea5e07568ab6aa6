package delivery

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/alem-hub/daily-lessons/internal/domain/subscriber"
	"github.com/alem-hub/daily-lessons/internal/infrastructure/persistence/memory"
	"github.com/alem-hub/daily-lessons/pkg/logger"
	"github.com/alem-hub/daily-lessons/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// FAKES
// ══════════════════════════════════════════════════════════════════════════════

type sentMessage struct {
	Kind string // "text" or "media"
	To   subscriber.ID
	Text string
	Unit int
}

type fakeNotifier struct {
	mu       sync.Mutex
	sent     []sentMessage
	textErr  error
	mediaErr error
	// blockMedia makes SendMedia wait for ctx to end.
	blockMedia bool
}

func (n *fakeNotifier) SendText(ctx context.Context, to subscriber.ID, text string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.textErr != nil {
		return n.textErr
	}
	n.sent = append(n.sent, sentMessage{Kind: "text", To: to, Text: text})
	return nil
}

func (n *fakeNotifier) SendMedia(ctx context.Context, to subscriber.ID, asset AssetHandle, caption string) error {
	n.mu.Lock()
	block := n.blockMedia
	n.mu.Unlock()
	if block {
		<-ctx.Done()
		return ctx.Err()
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	if n.mediaErr != nil {
		return n.mediaErr
	}
	n.sent = append(n.sent, sentMessage{Kind: "media", To: to, Text: caption, Unit: asset.Unit})
	return nil
}

func (n *fakeNotifier) messages() []sentMessage {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]sentMessage(nil), n.sent...)
}

func (n *fakeNotifier) reset() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = nil
	n.textErr = nil
	n.mediaErr = nil
	n.blockMedia = false
}

type fakeAssets struct {
	mu       sync.Mutex
	missing  map[int]bool
	err      error
	resolved []int
}

func (a *fakeAssets) Resolve(ctx context.Context, unit int) (AssetHandle, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.resolved = append(a.resolved, unit)
	if a.err != nil {
		return AssetHandle{}, a.err
	}
	if a.missing[unit] {
		return AssetHandle{}, fmt.Errorf("unit %d: %w", unit, ErrAssetNotFound)
	}
	name := fmt.Sprintf("lesson%d.mp4", unit)
	return AssetHandle{Unit: unit, Path: "/assets/" + name, Name: name, Size: 1024}, nil
}

// fixedRand always returns the same index, clamped to the pool.
type fixedRand struct{ i int }

func (r fixedRand) IntN(n int) int {
	if r.i >= n {
		return n - 1
	}
	return r.i
}

// conflictStore injects a concurrent writer right before Commit.
type conflictStore struct {
	*memory.Store

	mu       sync.Mutex
	commits  int
	injected int
	// interfere runs before the next `remaining` commits.
	interfere func(ctx context.Context, inner *memory.Store, sub *subscriber.Subscriber)
	remaining int
}

func (c *conflictStore) Commit(ctx context.Context, sub *subscriber.Subscriber, expectedVersion int64) (*subscriber.Subscriber, error) {
	c.mu.Lock()
	c.commits++
	hook := c.interfere
	if c.remaining > 0 && hook != nil {
		c.remaining--
		c.injected++
	} else {
		hook = nil
	}
	c.mu.Unlock()

	if hook != nil {
		hook(ctx, c.Store, sub)
	}
	return c.Store.Commit(ctx, sub, expectedVersion)
}

type fakeRecorder struct {
	mu        sync.Mutex
	outcomes  []OutcomeKind
	conflicts []bool
}

func (r *fakeRecorder) ObserveOutcome(kind OutcomeKind, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes = append(r.outcomes, kind)
}

func (r *fakeRecorder) ObserveConflict(resolved bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conflicts = append(r.conflicts, resolved)
}

// ══════════════════════════════════════════════════════════════════════════════
// HARNESS
// ══════════════════════════════════════════════════════════════════════════════

var (
	testToday = timeutil.MustParseDate("2024-03-10")
	testNow   = time.Date(2024, 3, 10, 9, 0, 0, 0, time.UTC)
)

type harness struct {
	store    *conflictStore
	notifier *fakeNotifier
	assets   *fakeAssets
	clock    *timeutil.FixedClock
	recorder *fakeRecorder
	svc      *Service
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		store:    &conflictStore{Store: memory.NewStore()},
		notifier: &fakeNotifier{},
		assets:   &fakeAssets{missing: map[int]bool{}},
		clock:    timeutil.NewFixedClock(testNow),
		recorder: &fakeRecorder{},
	}
	exec := NewExecutor(h.notifier, h.assets, ExecutorConfig{Rand: fixedRand{}, Logger: logger.Discard()})
	h.svc = NewService(h.store, exec, ServiceConfig{
		TotalUnits:  7,
		SendTimeout: time.Second,
		Clock:       h.clock,
		Recorder:    h.recorder,
		Logger:      logger.Discard(),
	})
	return h
}

func (h *harness) seedActive(t *testing.T, id subscriber.ID, next int, lastOn timeutil.Date) {
	t.Helper()
	h.store.Put(&subscriber.Subscriber{
		ID:              id,
		State:           subscriber.StateActive,
		Attribute:       subscriber.AttributeMale,
		NextUnitIndex:   next,
		LastDeliveredOn: lastOn,
		Version:         1,
		CreatedAt:       testNow.Add(-72 * time.Hour),
		UpdatedAt:       testNow.Add(-72 * time.Hour),
	})
}

func (h *harness) get(t *testing.T, id subscriber.ID) *subscriber.Subscriber {
	t.Helper()
	sub, err := h.store.Get(context.Background(), id)
	require.NoError(t, err)
	return sub
}
