// Package circuitbreaker stops calling a remote service for a while after it
// keeps failing. The bot puts one in front of Telegram sends so a delivery
// pass during a Bot API outage fails each send at once instead of waiting out
// every per-subscriber timeout.
package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"time"
)

// State is the position of a Breaker.
type State int

const (
	// StateClosed lets every call through.
	StateClosed State = iota
	// StateOpen rejects calls until the cooldown passes.
	StateOpen
	// StateHalfOpen lets a few trial calls through to decide between the two.
	StateHalfOpen
)

// String returns the metric/log name of the state.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrCircuitOpen is returned without running the guarded call.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// Settings configures a Breaker. Zero fields take DefaultSettings values.
type Settings struct {
	// Name identifies the breaker in logs and metrics.
	Name string

	// TripAfter is the number of consecutive failures that opens the breaker.
	TripAfter int

	// CloseAfter is the number of consecutive half-open successes that closes it.
	CloseAfter int

	// Cooldown is how long the breaker stays open.
	Cooldown time.Duration

	// Trials caps the calls let through while half-open.
	Trials int

	// Counts reports whether err says something about the remote side.
	// Nil counts every error.
	Counts func(err error) bool

	// OnStateChange is called under the breaker lock on every transition.
	OnStateChange func(name string, from, to State)

	// Now is the time source.
	Now func() time.Time
}

// DefaultSettings returns the settings used for unset fields.
func DefaultSettings(name string) Settings {
	return Settings{
		Name:       name,
		TripAfter:  5,
		CloseAfter: 2,
		Cooldown:   30 * time.Second,
		Trials:     1,
		Now:        time.Now,
	}
}

// Breaker guards calls to one remote service.
type Breaker struct {
	settings Settings

	mu        sync.Mutex
	state     State
	failures  int
	successes int
	trials    int
	openedAt  time.Time
}

// New creates a closed Breaker.
func New(s Settings) *Breaker {
	def := DefaultSettings(s.Name)
	if s.TripAfter <= 0 {
		s.TripAfter = def.TripAfter
	}
	if s.CloseAfter <= 0 {
		s.CloseAfter = def.CloseAfter
	}
	if s.Cooldown <= 0 {
		s.Cooldown = def.Cooldown
	}
	if s.Trials <= 0 {
		s.Trials = def.Trials
	}
	if s.Now == nil {
		s.Now = def.Now
	}
	return &Breaker{settings: s, state: StateClosed}
}

// ForTelegram returns the breaker used in front of Bot API sends. counts lets
// the caller leave out per-recipient errors such as a blocked bot.
func ForTelegram(counts func(error) bool, onStateChange func(name string, from, to State)) *Breaker {
	return New(Settings{
		Name:          "telegram-api",
		TripAfter:     5,
		CloseAfter:    1,
		Cooldown:      30 * time.Second,
		Trials:        2,
		Counts:        counts,
		OnStateChange: onStateChange,
	})
}

// Execute runs fn unless the breaker is open and records the result. A call
// cut short by its own context is not counted either way.
func (b *Breaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	if err := b.admit(); err != nil {
		return err
	}
	err := fn(ctx)
	b.settle(ctx, err)
	return err
}

// State returns the current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *Breaker) admit() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return nil
	case StateOpen:
		if b.settings.Now().Sub(b.openedAt) < b.settings.Cooldown {
			return ErrCircuitOpen
		}
		b.moveTo(StateHalfOpen)
	}

	if b.trials >= b.settings.Trials {
		return ErrCircuitOpen
	}
	b.trials++
	return nil
}

func (b *Breaker) settle(ctx context.Context, err error) {
	if err != nil && ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		return
	}
	failed := err != nil && (b.settings.Counts == nil || b.settings.Counts(err))

	b.mu.Lock()
	defer b.mu.Unlock()

	if failed {
		b.successes = 0
		b.failures++
		if b.state == StateHalfOpen || (b.state == StateClosed && b.failures >= b.settings.TripAfter) {
			b.moveTo(StateOpen)
		}
		return
	}

	b.failures = 0
	if b.state == StateHalfOpen {
		b.successes++
		if b.successes >= b.settings.CloseAfter {
			b.moveTo(StateClosed)
		}
	}
}

// moveTo switches state and clears the counters. Caller holds mu.
func (b *Breaker) moveTo(to State) {
	if b.state == to {
		return
	}
	from := b.state
	b.state = to
	b.failures, b.successes, b.trials = 0, 0, 0
	if to == StateOpen {
		b.openedAt = b.settings.Now()
	}
	if b.settings.OnStateChange != nil {
		b.settings.OnStateChange(b.settings.Name, from, to)
	}
}
