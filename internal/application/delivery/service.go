package delivery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alem-hub/daily-lessons/internal/domain/subscriber"
	"github.com/alem-hub/daily-lessons/pkg/logger"
	"github.com/alem-hub/daily-lessons/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

// ServiceConfig contains configuration for the delivery Service.
type ServiceConfig struct {
	// TotalUnits - number of units in the course.
	TotalUnits int

	// SendTimeout bounds one execute step for one subscriber.
	SendTimeout time.Duration

	// Clock stamps committed transitions.
	Clock timeutil.Clock

	// Recorder receives outcome metrics (optional).
	Recorder Recorder

	Logger *slog.Logger
}

// DefaultServiceConfig returns default configuration.
func DefaultServiceConfig() ServiceConfig {
	return ServiceConfig{
		TotalUnits:  7,
		SendTimeout: 2 * time.Minute,
		Clock:       timeutil.SystemClock{},
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// REPORT
// ══════════════════════════════════════════════════════════════════════════════

// Step is one decide → execute → commit round.
type Step struct {
	Action    subscriber.Action
	Outcome   Outcome
	Committed bool
	// Retried is set when the commit went through the conflict path.
	Retried bool
}

// Report describes one Deliver call.
type Report struct {
	SubscriberID subscriber.ID
	Today        timeutil.Date
	Steps        []Step

	// Subscriber is the last known state after the call.
	Subscriber *subscriber.Subscriber
}

// Delivered reports whether a unit was delivered and committed.
func (r Report) Delivered() bool {
	for _, s := range r.Steps {
		if s.Outcome.Kind == OutcomeDelivered && s.Committed {
			return true
		}
	}
	return false
}

// Last returns the final step, or a zero Step when nothing ran.
func (r Report) Last() Step {
	if len(r.Steps) == 0 {
		return Step{}
	}
	return r.Steps[len(r.Steps)-1]
}

// ══════════════════════════════════════════════════════════════════════════════
// SERVICE
// ══════════════════════════════════════════════════════════════════════════════

// ActionExecutor is the side-effect half of a delivery cycle.
type ActionExecutor interface {
	Execute(ctx context.Context, sub *subscriber.Subscriber, action subscriber.Action) Outcome
}

// Service drives get → decide → execute → commit for one subscriber.
type Service struct {
	store       subscriber.Store
	executor    ActionExecutor
	totalUnits  int
	sendTimeout time.Duration
	clock       timeutil.Clock
	recorder    Recorder
	logger      *slog.Logger
}

// NewService creates a delivery Service.
func NewService(store subscriber.Store, executor ActionExecutor, cfg ServiceConfig) *Service {
	def := DefaultServiceConfig()
	if cfg.TotalUnits <= 0 {
		cfg.TotalUnits = def.TotalUnits
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = def.SendTimeout
	}
	if cfg.Clock == nil {
		cfg.Clock = def.Clock
	}
	if cfg.Recorder == nil {
		cfg.Recorder = noopRecorder{}
	}
	return &Service{
		store:       store,
		executor:    executor,
		totalUnits:  cfg.TotalUnits,
		sendTimeout: cfg.SendTimeout,
		clock:       cfg.Clock,
		recorder:    cfg.Recorder,
		logger:      logger.OrDefault(cfg.Logger).With(logger.Component("delivery_service")),
	}
}

// TotalUnits returns the configured course length.
func (s *Service) TotalUnits() int {
	return s.totalUnits
}

// Deliver runs one delivery cycle for id. Failed sends are reported in the
// Report and return a nil error; errors mean the store could not be read or
// the commit could not be settled.
//
// When the final unit is committed, a completion step runs right away so a
// subscriber never rests in active with NextUnitIndex past the course end.
func (s *Service) Deliver(ctx context.Context, id subscriber.ID, today timeutil.Date) (Report, error) {
	report := Report{SubscriberID: id, Today: today}
	log := s.logger.With(logger.SubscriberID(id.String()), logger.Day(today.String()))

	sub, err := s.store.Get(ctx, id)
	if err != nil {
		return report, fmt.Errorf("delivery: load %s: %w", id, err)
	}
	report.Subscriber = sub

	for {
		action := subscriber.Decide(*sub, today, s.totalUnits)
		if !action.HasEffect() {
			if len(report.Steps) == 0 {
				report.Steps = append(report.Steps, Step{Action: action, Outcome: skipped(action)})
				s.recorder.ObserveOutcome(OutcomeSkipped, 0)
			}
			return report, nil
		}

		outcome := s.execute(ctx, sub, action)
		step := Step{Action: action, Outcome: outcome}

		if !outcome.Commits() {
			report.Steps = append(report.Steps, step)
			log.WarnContext(ctx, "delivery failed",
				logger.Unit(action.Unit),
				logger.Outcome(string(outcome.Kind)),
				slog.String("reason", outcome.Reason),
				logger.Err(outcome.Err),
			)
			return report, nil
		}

		saved, retried, err := s.commit(ctx, sub, action, today)
		step.Retried = retried
		if err != nil {
			report.Steps = append(report.Steps, step)
			return report, err
		}
		if saved == nil {
			// superseded: another writer moved the record elsewhere
			report.Steps = append(report.Steps, step)
			return report, nil
		}

		step.Committed = true
		report.Steps = append(report.Steps, step)
		report.Subscriber = saved
		sub = saved

		log.InfoContext(ctx, "delivery committed",
			slog.String("action", action.String()),
			logger.Outcome(string(outcome.Kind)),
			slog.Int("next_unit", saved.NextUnitIndex),
			slog.String("state", string(saved.State)),
		)

		if action.Kind != subscriber.ActionSendUnit || !saved.IsFinished(s.totalUnits) {
			return report, nil
		}
	}
}

func (s *Service) execute(ctx context.Context, sub *subscriber.Subscriber, action subscriber.Action) Outcome {
	ctx, cancel := context.WithTimeout(ctx, s.sendTimeout)
	defer cancel()

	started := time.Now()
	outcome := s.executor.Execute(ctx, sub, action)
	s.recorder.ObserveOutcome(outcome.Kind, time.Since(started))
	return outcome
}

// commit applies action to sub and stores it. On a version conflict the
// record is reloaded and re-decided once: if the fresh decision is the same
// action, the already-performed side effect is committed onto the fresh
// record; otherwise the outcome is dropped and (nil, true, nil) is returned.
func (s *Service) commit(ctx context.Context, sub *subscriber.Subscriber, action subscriber.Action, today timeutil.Date) (*subscriber.Subscriber, bool, error) {
	saved, err := s.apply(ctx, sub, action, today)
	if err == nil {
		return saved, false, nil
	}
	if !errors.Is(err, subscriber.ErrVersionConflict) {
		return nil, false, fmt.Errorf("delivery: commit %s: %w", sub.ID, err)
	}

	fresh, err := s.store.Get(ctx, sub.ID)
	if err != nil {
		return nil, true, fmt.Errorf("delivery: reload %s after conflict: %w", sub.ID, err)
	}

	if again := subscriber.Decide(*fresh, today, s.totalUnits); again != action {
		s.recorder.ObserveConflict(true)
		s.logger.InfoContext(ctx, "outcome superseded by concurrent update",
			logger.SubscriberID(sub.ID.String()),
			slog.String("action", action.String()),
			slog.String("fresh_action", again.String()),
		)
		return nil, true, nil
	}

	saved, err = s.apply(ctx, fresh, action, today)
	if err != nil {
		s.recorder.ObserveConflict(false)
		if errors.Is(err, subscriber.ErrVersionConflict) {
			return nil, true, fmt.Errorf("delivery: commit %s: %w", sub.ID, errors.Join(ErrCommitConflict, err))
		}
		return nil, true, fmt.Errorf("delivery: commit %s: %w", sub.ID, err)
	}
	s.recorder.ObserveConflict(true)
	return saved, true, nil
}

func (s *Service) apply(ctx context.Context, base *subscriber.Subscriber, action subscriber.Action, today timeutil.Date) (*subscriber.Subscriber, error) {
	next := base.Clone()
	now := s.clock.Now()

	var err error
	switch action.Kind {
	case subscriber.ActionSendUnit:
		err = next.RecordDelivery(action.Unit, today, now)
	case subscriber.ActionMarkCompleted:
		err = next.Complete(s.totalUnits, now)
	default:
		return base, nil
	}
	if err != nil {
		return nil, err
	}

	return s.store.Commit(ctx, next, base.Version)
}
