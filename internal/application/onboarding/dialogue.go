// Package onboarding implements the registration dialogue: Begin moves a
// subscriber to awaiting the attribute, AttributeSelected activates it and
// triggers the first delivery right away.
//
// The dialogue is re-entrant by registration state. Repeated or stale events
// are answered from the stored state instead of being deduplicated.
package onboarding

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alem-hub/daily-lessons/internal/application/delivery"
	"github.com/alem-hub/daily-lessons/internal/domain/shared"
	"github.com/alem-hub/daily-lessons/internal/domain/subscriber"
	"github.com/alem-hub/daily-lessons/pkg/logger"
	"github.com/alem-hub/daily-lessons/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// EVENTS & RESULTS
// ══════════════════════════════════════════════════════════════════════════════

// EventType identifies an inbound dialogue event.
type EventType string

const (
	// EventBegin - the subscriber asked to start (/start or the start button).
	EventBegin EventType = "begin"

	// EventAttributeSelected - the subscriber picked an attribute; Value holds it.
	EventAttributeSelected EventType = "attribute_selected"
)

// Event is one inbound dialogue event.
type Event struct {
	Type         EventType
	SubscriberID subscriber.ID
	Value        string
}

// Outcome classifies how an event was handled.
type Outcome string

const (
	OutcomePrompted  Outcome = "prompted"
	OutcomeActivated Outcome = "activated"
	OutcomeIgnored   Outcome = "ignored"
)

// Result describes the handling of one event.
type Result struct {
	Outcome Outcome

	// State is the registration state after handling.
	State subscriber.RegistrationState

	Subscriber *subscriber.Subscriber

	// Delivery is set when activation triggered a delivery.
	Delivery *delivery.Report
}

// ══════════════════════════════════════════════════════════════════════════════
// DEPENDENCIES INTERFACES
// ══════════════════════════════════════════════════════════════════════════════

// Prompter sends the dialogue's own messages.
type Prompter interface {
	// AskAttribute asks the subscriber to choose an attribute.
	AskAttribute(ctx context.Context, to subscriber.ID) error

	// AttributeAccepted confirms the choice before the first unit goes out.
	AttributeAccepted(ctx context.Context, to subscriber.ID, attr subscriber.Attribute) error

	// ReportStatus answers Begin from an already registered subscriber.
	ReportStatus(ctx context.Context, to subscriber.ID, sub *subscriber.Subscriber) error
}

// Deliverer runs one delivery cycle; implemented by delivery.Service.
type Deliverer interface {
	Deliver(ctx context.Context, id subscriber.ID, today timeutil.Date) (delivery.Report, error)
}

// ══════════════════════════════════════════════════════════════════════════════
// ERRORS
// ══════════════════════════════════════════════════════════════════════════════

var (
	// ErrInvalidEvent - the event type or subscriber id is unusable.
	ErrInvalidEvent = shared.NewDomainError("onboarding", "Handle", shared.ErrValidation, "invalid dialogue event")

	// ErrConcurrentUpdate - the record changed twice while handling one event.
	ErrConcurrentUpdate = shared.NewDomainError("onboarding", "Commit", shared.ErrConflict, "subscriber changed concurrently")
)

// ══════════════════════════════════════════════════════════════════════════════
// DIALOGUE
// ══════════════════════════════════════════════════════════════════════════════

// Config contains configuration for the Dialogue.
type Config struct {
	Clock    timeutil.Clock
	Location *time.Location
	Logger   *slog.Logger
}

// DefaultConfig returns default configuration.
func DefaultConfig() Config {
	return Config{
		Clock:    timeutil.SystemClock{},
		Location: time.UTC,
	}
}

// Dialogue handles onboarding events.
type Dialogue struct {
	store     subscriber.Store
	prompter  Prompter
	deliverer Deliverer
	clock     timeutil.Clock
	location  *time.Location
	logger    *slog.Logger
}

// NewDialogue creates a Dialogue.
func NewDialogue(store subscriber.Store, prompter Prompter, deliverer Deliverer, cfg Config) *Dialogue {
	def := DefaultConfig()
	if cfg.Clock == nil {
		cfg.Clock = def.Clock
	}
	if cfg.Location == nil {
		cfg.Location = def.Location
	}
	return &Dialogue{
		store:     store,
		prompter:  prompter,
		deliverer: deliverer,
		clock:     cfg.Clock,
		location:  cfg.Location,
		logger:    logger.OrDefault(cfg.Logger).With(logger.Component("onboarding")),
	}
}

// Handle processes one event.
func (d *Dialogue) Handle(ctx context.Context, ev Event) (Result, error) {
	if !ev.SubscriberID.IsValid() {
		return Result{}, fmt.Errorf("%w: subscriber id %q", ErrInvalidEvent, ev.SubscriberID)
	}

	switch ev.Type {
	case EventBegin:
		sub, err := d.store.CreateIfAbsent(ctx, ev.SubscriberID, d.clock.Now())
		if err != nil {
			return Result{}, fmt.Errorf("onboarding: load %s: %w", ev.SubscriberID, err)
		}
		return d.begin(ctx, sub)

	case EventAttributeSelected:
		attr, err := subscriber.ParseAttribute(ev.Value)
		if err != nil {
			return Result{}, err
		}
		sub, err := d.store.CreateIfAbsent(ctx, ev.SubscriberID, d.clock.Now())
		if err != nil {
			return Result{}, fmt.Errorf("onboarding: load %s: %w", ev.SubscriberID, err)
		}
		return d.selectAttribute(ctx, sub, attr)
	}

	return Result{}, fmt.Errorf("%w: type %q", ErrInvalidEvent, ev.Type)
}

// ─────────────────────────────────────────────────────────────────────────────
// Begin
// ─────────────────────────────────────────────────────────────────────────────

func (d *Dialogue) begin(ctx context.Context, sub *subscriber.Subscriber) (Result, error) {
	switch sub.State {
	case subscriber.StateUnregistered:
		saved, changed, err := d.transition(ctx, sub, func(s *subscriber.Subscriber) error {
			return s.BeginOnboarding(d.clock.Now())
		})
		if err != nil {
			return Result{}, err
		}
		if !changed {
			// someone else moved the record first
			return d.begin(ctx, saved)
		}
		d.logger.InfoContext(ctx, "onboarding started", logger.SubscriberID(sub.ID.String()))
		return d.ask(ctx, saved)

	case subscriber.StateAwaitingAttribute:
		return d.ask(ctx, sub)

	default:
		if err := d.prompter.ReportStatus(ctx, sub.ID, sub); err != nil {
			d.logger.WarnContext(ctx, "status reply not sent", logger.SubscriberID(sub.ID.String()), logger.Err(err))
		}
		return result(OutcomeIgnored, sub), nil
	}
}

func (d *Dialogue) ask(ctx context.Context, sub *subscriber.Subscriber) (Result, error) {
	res := result(OutcomePrompted, sub)
	if err := d.prompter.AskAttribute(ctx, sub.ID); err != nil {
		return res, fmt.Errorf("onboarding: prompt %s: %w", sub.ID, err)
	}
	return res, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// AttributeSelected
// ─────────────────────────────────────────────────────────────────────────────

func (d *Dialogue) selectAttribute(ctx context.Context, sub *subscriber.Subscriber, attr subscriber.Attribute) (Result, error) {
	if sub.State.IsRegistered() {
		return result(OutcomeIgnored, sub), nil
	}

	saved, changed, err := d.transition(ctx, sub, func(s *subscriber.Subscriber) error {
		return s.SelectAttribute(attr, d.clock.Now())
	})
	if err != nil {
		return Result{}, err
	}
	if !changed {
		return result(OutcomeIgnored, saved), nil
	}

	log := d.logger.With(logger.SubscriberID(saved.ID.String()))
	log.InfoContext(ctx, "subscriber activated", slog.String("attribute", string(attr)))

	if err := d.prompter.AttributeAccepted(ctx, saved.ID, attr); err != nil {
		log.WarnContext(ctx, "confirmation not sent", logger.Err(err))
	}

	res := result(OutcomeActivated, saved)
	report, err := d.deliverer.Deliver(ctx, saved.ID, timeutil.Today(d.clock, d.location))
	res.Delivery = &report
	if report.Subscriber != nil {
		res.Subscriber = report.Subscriber
		res.State = report.Subscriber.State
	}
	if err != nil {
		// activation stands; the scheduler retries the first unit
		log.WarnContext(ctx, "first delivery failed", logger.Err(err))
	}
	return res, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Helpers
// ─────────────────────────────────────────────────────────────────────────────

// transition applies mutate and commits it, retrying once on a version
// conflict. When the reloaded record no longer admits the transition it is
// returned with changed=false.
func (d *Dialogue) transition(ctx context.Context, sub *subscriber.Subscriber, mutate func(*subscriber.Subscriber) error) (*subscriber.Subscriber, bool, error) {
	next := sub.Clone()
	if err := mutate(next); err != nil {
		return nil, false, err
	}

	saved, err := d.store.Commit(ctx, next, sub.Version)
	if err == nil {
		return saved, true, nil
	}
	if !errors.Is(err, subscriber.ErrVersionConflict) {
		return nil, false, fmt.Errorf("onboarding: commit %s: %w", sub.ID, err)
	}

	fresh, err := d.store.Get(ctx, sub.ID)
	if err != nil {
		return nil, false, fmt.Errorf("onboarding: reload %s: %w", sub.ID, err)
	}

	next = fresh.Clone()
	if err := mutate(next); err != nil {
		if errors.Is(err, subscriber.ErrInvalidTransition) {
			return fresh, false, nil
		}
		return nil, false, err
	}

	saved, err = d.store.Commit(ctx, next, fresh.Version)
	if err != nil {
		if errors.Is(err, subscriber.ErrVersionConflict) {
			return nil, false, fmt.Errorf("onboarding: commit %s: %w", sub.ID, errors.Join(ErrConcurrentUpdate, err))
		}
		return nil, false, fmt.Errorf("onboarding: commit %s: %w", sub.ID, err)
	}
	return saved, true, nil
}

func result(outcome Outcome, sub *subscriber.Subscriber) Result {
	return Result{Outcome: outcome, State: sub.State, Subscriber: sub}
}
