// Package delivery turns a subscriber decision into outbound messages and
// commits the resulting progress. The Executor performs side effects only;
// the Service owns the get → decide → execute → commit cycle shared by the
// daily scheduler and the onboarding dialogue.
package delivery

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/alem-hub/daily-lessons/internal/domain/shared"
	"github.com/alem-hub/daily-lessons/internal/domain/subscriber"
)

// ══════════════════════════════════════════════════════════════════════════════
// DEPENDENCIES INTERFACES
// ══════════════════════════════════════════════════════════════════════════════

// AssetHandle points at the media file of one unit.
type AssetHandle struct {
	// Unit - lesson number, starting at 1.
	Unit int

	// Path - location on local storage.
	Path string

	// Name - file name presented to the recipient.
	Name string

	// Size - file size in bytes.
	Size int64
}

// AssetResolver finds the media for a unit.
type AssetResolver interface {
	// Resolve returns the asset for unit or an error wrapping ErrAssetNotFound.
	Resolve(ctx context.Context, unit int) (AssetHandle, error)
}

// Notifier sends messages to a subscriber.
// Errors wrapping ErrRecipientUnreachable are treated as permanent.
type Notifier interface {
	SendText(ctx context.Context, to subscriber.ID, text string) error
	SendMedia(ctx context.Context, to subscriber.ID, asset AssetHandle, caption string) error
}

// Rand is the randomness source used for phrasing.
type Rand interface {
	// IntN returns a value in [0, n).
	IntN(n int) int
}

// Recorder receives delivery metrics.
type Recorder interface {
	ObserveOutcome(kind OutcomeKind, elapsed time.Duration)
	ObserveConflict(resolved bool)
}

type noopRecorder struct{}

func (noopRecorder) ObserveOutcome(OutcomeKind, time.Duration) {}
func (noopRecorder) ObserveConflict(bool)                      {}

// ══════════════════════════════════════════════════════════════════════════════
// ERRORS
// ══════════════════════════════════════════════════════════════════════════════

var (
	// ErrAssetNotFound - no media file exists for the unit.
	ErrAssetNotFound = shared.NewDomainError("delivery", "Resolve", shared.ErrPermanent, "asset not found")

	// ErrRecipientUnreachable - the recipient blocked the bot or the chat is gone.
	ErrRecipientUnreachable = shared.NewDomainError("delivery", "Send", shared.ErrPermanent, "recipient unreachable")

	// ErrCommitConflict - the record kept changing under a delivery cycle.
	ErrCommitConflict = shared.NewDomainError("delivery", "Commit", shared.ErrConflict, "commit conflict persisted after retry")
)

// IsRecipientUnreachable reports whether err means the subscriber cannot be reached.
func IsRecipientUnreachable(err error) bool {
	return errors.Is(err, ErrRecipientUnreachable)
}

// ══════════════════════════════════════════════════════════════════════════════
// RANDOMNESS
// ══════════════════════════════════════════════════════════════════════════════

type lockedRand struct {
	mu sync.Mutex
	r  *rand.Rand
}

// NewRand returns a goroutine-safe PCG source. A zero seed picks one from the clock.
func NewRand(seed uint64) Rand {
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	return &lockedRand{r: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

// IntN implements Rand.
func (l *lockedRand) IntN(n int) int {
	if n <= 1 {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.r.IntN(n)
}
