package delivery

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/daily-lessons/internal/domain/subscriber"
	"github.com/alem-hub/daily-lessons/internal/infrastructure/persistence/memory"
	"github.com/alem-hub/daily-lessons/pkg/timeutil"
)

func TestDeliver_SendsNextUnit(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.seedActive(t, "u1", 1, timeutil.Date{})

	report, err := h.svc.Deliver(ctx, "u1", testToday)
	require.NoError(t, err)
	require.Len(t, report.Steps, 1)
	assert.True(t, report.Delivered())
	assert.Equal(t, subscriber.SendUnit(1), report.Last().Action)
	assert.True(t, report.Last().Committed)

	msgs := h.notifier.messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "text", msgs[0].Kind)
	assert.Equal(t, "Урок №1 уже в пути!", msgs[0].Text)
	assert.Equal(t, "media", msgs[1].Kind)
	assert.Equal(t, 1, msgs[1].Unit)
	assert.Equal(t, "Урок 1 — поехали!", msgs[1].Text)

	sub := h.get(t, "u1")
	assert.Equal(t, 2, sub.NextUnitIndex)
	assert.Equal(t, testToday, sub.LastDeliveredOn)
	assert.Equal(t, int64(2), sub.Version)
	require.NotNil(t, sub.LastDeliveryAttemptAt)
	assert.True(t, testNow.Equal(*sub.LastDeliveryAttemptAt))
	assert.Equal(t, sub, report.Subscriber)
}

// Scenario B: every unit already delivered, the next tick completes the course.
func TestDeliver_CompletesFinishedCourse(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.seedActive(t, "b", 8, testToday.AddDays(-1))

	report, err := h.svc.Deliver(ctx, "b", testToday)
	require.NoError(t, err)
	require.Len(t, report.Steps, 1)
	assert.Equal(t, OutcomeCompleted, report.Last().Outcome.Kind)

	msgs := h.notifier.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, DefaultPhrasebook().Completion, msgs[0].Text)
	assert.Equal(t, subscriber.StateCompleted, h.get(t, "b").State)

	// later ticks send nothing
	h.notifier.reset()
	for d := 1; d <= 3; d++ {
		report, err = h.svc.Deliver(ctx, "b", testToday.AddDays(d))
		require.NoError(t, err)
		assert.Equal(t, OutcomeSkipped, report.Last().Outcome.Kind)
		assert.Equal(t, subscriber.ReasonNotActive, report.Last().Outcome.Reason)
	}
	assert.Empty(t, h.notifier.messages())
}

// Scenario B with the last unit still pending: unit 7 and the completion
// notice go out in the same call.
func TestDeliver_LastUnitChainsCompletion(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.seedActive(t, "b7", 7, testToday.AddDays(-1))

	report, err := h.svc.Deliver(ctx, "b7", testToday)
	require.NoError(t, err)
	require.Len(t, report.Steps, 2)
	assert.Equal(t, subscriber.SendUnit(7), report.Steps[0].Action)
	assert.Equal(t, subscriber.MarkCompleted(), report.Steps[1].Action)
	assert.True(t, report.Steps[1].Committed)

	msgs := h.notifier.messages()
	require.Len(t, msgs, 3)
	assert.Equal(t, 7, msgs[1].Unit)
	assert.Equal(t, DefaultPhrasebook().Completion, msgs[2].Text)

	sub := h.get(t, "b7")
	assert.Equal(t, subscriber.StateCompleted, sub.State)
	assert.Equal(t, 8, sub.NextUnitIndex)
	assert.Equal(t, int64(3), sub.Version)
}

// Scenario C.
func TestDeliver_SecondTickSameDayIsNoOp(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.seedActive(t, "c", 4, testToday.AddDays(-1))

	_, err := h.svc.Deliver(ctx, "c", testToday)
	require.NoError(t, err)
	require.Len(t, h.notifier.messages(), 2)

	h.notifier.reset()
	report, err := h.svc.Deliver(ctx, "c", testToday)
	require.NoError(t, err)

	assert.Empty(t, h.notifier.messages())
	assert.Equal(t, OutcomeSkipped, report.Last().Outcome.Kind)
	assert.Equal(t, subscriber.ReasonAlreadyDeliveredToday, report.Last().Outcome.Reason)
	assert.Equal(t, 5, h.get(t, "c").NextUnitIndex)
}

func TestDeliver_EarlierDateDoesNotSendAgain(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.seedActive(t, "u1", 3, testToday.AddDays(-1))

	_, err := h.svc.Deliver(ctx, "u1", testToday)
	require.NoError(t, err)
	require.Len(t, h.notifier.messages(), 2)

	h.notifier.reset()
	report, err := h.svc.Deliver(ctx, "u1", testToday.AddDays(-1))
	require.NoError(t, err)
	assert.False(t, report.Delivered())
	assert.Equal(t, subscriber.ReasonAlreadyDeliveredToday, report.Last().Outcome.Reason)

	report, err = h.svc.Deliver(ctx, "u1", testToday)
	require.NoError(t, err)
	assert.False(t, report.Delivered())
	assert.Empty(t, h.notifier.messages())

	sub := h.get(t, "u1")
	assert.Equal(t, 4, sub.NextUnitIndex)
	assert.Equal(t, testToday, sub.LastDeliveredOn)
}

// Scenario D.
func TestDeliver_MissingAssetIsRetriedNextTick(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.seedActive(t, "d", 3, testToday.AddDays(-1))
	h.assets.missing[3] = true
	before := h.get(t, "d")

	report, err := h.svc.Deliver(ctx, "d", testToday)
	require.NoError(t, err)
	out := report.Last().Outcome
	assert.Equal(t, OutcomePermanentFailure, out.Kind)
	assert.Equal(t, ReasonMissingAsset, out.Reason)
	assert.ErrorIs(t, out.Err, ErrAssetNotFound)
	assert.False(t, report.Last().Committed)
	assert.Empty(t, h.notifier.messages())
	assert.Equal(t, before, h.get(t, "d"))

	// next tick targets the same unit, never unit 4
	report, err = h.svc.Deliver(ctx, "d", testToday.AddDays(1))
	require.NoError(t, err)
	assert.Equal(t, subscriber.SendUnit(3), report.Last().Action)
	assert.Equal(t, []int{3, 3}, h.assets.resolved)
}

// Scenario E.
func TestDeliver_TransientFailureKeepsDaySlot(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.seedActive(t, "e", 2, testToday.AddDays(-1))
	h.notifier.mediaErr = errors.New("connection reset by peer")
	before := h.get(t, "e")

	report, err := h.svc.Deliver(ctx, "e", testToday)
	require.NoError(t, err)
	assert.Equal(t, OutcomeTransientFailure, report.Last().Outcome.Kind)
	assert.Equal(t, before, h.get(t, "e"))

	h.notifier.reset()
	report, err = h.svc.Deliver(ctx, "e", testToday)
	require.NoError(t, err)
	assert.True(t, report.Delivered())

	sub := h.get(t, "e")
	assert.Equal(t, 3, sub.NextUnitIndex)
	assert.Equal(t, testToday, sub.LastDeliveredOn)
}

func TestDeliver_UnreachableRecipientIsPermanent(t *testing.T) {
	h := newHarness(t)
	h.seedActive(t, "gone", 2, timeutil.Date{})
	h.notifier.textErr = errors.Join(ErrRecipientUnreachable, errors.New("Forbidden: bot was blocked by the user"))

	report, err := h.svc.Deliver(context.Background(), "gone", testToday)
	require.NoError(t, err)
	out := report.Last().Outcome
	assert.Equal(t, OutcomePermanentFailure, out.Kind)
	assert.Equal(t, ReasonUnreachableRecipient, out.Reason)
	assert.Equal(t, 2, h.get(t, "gone").NextUnitIndex)
}

func TestDeliver_NotActiveIsSkipped(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	_, err := h.store.CreateIfAbsent(ctx, "new", testNow)
	require.NoError(t, err)

	report, err := h.svc.Deliver(ctx, "new", testToday)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSkipped, report.Last().Outcome.Kind)
	assert.Equal(t, subscriber.ReasonNotActive, report.Last().Outcome.Reason)
	assert.Empty(t, h.notifier.messages())
	assert.Empty(t, h.assets.resolved)
}

func TestDeliver_MissingSubscriber(t *testing.T) {
	h := newHarness(t)
	_, err := h.svc.Deliver(context.Background(), "nobody", testToday)
	assert.ErrorIs(t, err, subscriber.ErrNotFound)
}

func TestDeliver_SendTimeoutIsTransient(t *testing.T) {
	h := newHarness(t)
	exec := NewExecutor(h.notifier, h.assets, ExecutorConfig{Rand: fixedRand{}})
	svc := NewService(h.store, exec, ServiceConfig{TotalUnits: 7, SendTimeout: 20 * time.Millisecond, Clock: h.clock})
	h.seedActive(t, "slow", 1, timeutil.Date{})
	h.notifier.blockMedia = true

	started := time.Now()
	report, err := svc.Deliver(context.Background(), "slow", testToday)
	require.NoError(t, err)
	assert.Less(t, time.Since(started), 5*time.Second)

	out := report.Last().Outcome
	assert.Equal(t, OutcomeTransientFailure, out.Kind)
	assert.ErrorIs(t, out.Err, context.DeadlineExceeded)
	assert.Equal(t, 1, h.get(t, "slow").NextUnitIndex)
}

// ══════════════════════════════════════════════════════════════════════════════
// CONFLICTS
// ══════════════════════════════════════════════════════════════════════════════

func bumpVersion(ctx context.Context, inner *memory.Store, sub *subscriber.Subscriber) {
	cur, err := inner.Get(ctx, sub.ID)
	if err != nil {
		panic(err)
	}
	if _, err := inner.Commit(ctx, cur, cur.Version); err != nil {
		panic(err)
	}
}

func TestDeliver_ConflictSameActionCommitsCarriedOutcome(t *testing.T) {
	h := newHarness(t)
	h.seedActive(t, "x", 1, timeutil.Date{})
	h.store.interfere = bumpVersion
	h.store.remaining = 1

	report, err := h.svc.Deliver(context.Background(), "x", testToday)
	require.NoError(t, err)

	step := report.Last()
	assert.True(t, step.Committed)
	assert.True(t, step.Retried)
	assert.Len(t, h.notifier.messages(), 2, "side effect must not repeat")

	sub := h.get(t, "x")
	assert.Equal(t, 2, sub.NextUnitIndex)
	assert.Equal(t, int64(3), sub.Version)
	assert.Equal(t, []bool{true}, h.recorder.conflicts)
}

func TestDeliver_ConflictSupersededOutcomeIsDropped(t *testing.T) {
	h := newHarness(t)
	h.seedActive(t, "y", 1, timeutil.Date{})
	h.store.remaining = 1
	h.store.interfere = func(ctx context.Context, inner *memory.Store, sub *subscriber.Subscriber) {
		cur, _ := inner.Get(ctx, sub.ID)
		next := cur.Clone()
		require.NoError(t, next.RecordDelivery(1, testToday, testNow))
		_, err := inner.Commit(ctx, next, cur.Version)
		require.NoError(t, err)
	}

	report, err := h.svc.Deliver(context.Background(), "y", testToday)
	require.NoError(t, err)

	step := report.Last()
	assert.False(t, step.Committed)
	assert.True(t, step.Retried)
	assert.Equal(t, OutcomeDelivered, step.Outcome.Kind)

	sub := h.get(t, "y")
	assert.Equal(t, 2, sub.NextUnitIndex, "unit must advance exactly once")
	assert.Equal(t, int64(2), sub.Version)
}

func TestDeliver_PersistentConflictGivesUp(t *testing.T) {
	h := newHarness(t)
	h.seedActive(t, "z", 1, timeutil.Date{})
	h.store.interfere = bumpVersion
	h.store.remaining = 2

	_, err := h.svc.Deliver(context.Background(), "z", testToday)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCommitConflict)
	assert.ErrorIs(t, err, subscriber.ErrVersionConflict)
	assert.Equal(t, 2, h.store.injected)
	assert.Equal(t, []bool{false}, h.recorder.conflicts)

	// the bumps landed, progress did not
	sub := h.get(t, "z")
	assert.Equal(t, 1, sub.NextUnitIndex)
	assert.Equal(t, int64(3), sub.Version)
}
