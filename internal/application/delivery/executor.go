package delivery

import (
	"context"
	"errors"
	"log/slog"

	"github.com/alem-hub/daily-lessons/internal/domain/subscriber"
	"github.com/alem-hub/daily-lessons/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// EXECUTOR
// ══════════════════════════════════════════════════════════════════════════════

// ExecutorConfig contains configuration for the Executor.
type ExecutorConfig struct {
	Phrases *Phrasebook
	Rand    Rand
	Logger  *slog.Logger
}

// Executor performs the outbound side of an action. It never touches the store.
type Executor struct {
	notifier Notifier
	assets   AssetResolver
	phrases  *Phrasebook
	rand     Rand
	logger   *slog.Logger
}

// NewExecutor creates an Executor. Nil config fields get defaults.
func NewExecutor(notifier Notifier, assets AssetResolver, cfg ExecutorConfig) *Executor {
	if cfg.Phrases == nil {
		cfg.Phrases = DefaultPhrasebook()
	}
	if cfg.Rand == nil {
		cfg.Rand = NewRand(0)
	}
	return &Executor{
		notifier: notifier,
		assets:   assets,
		phrases:  cfg.Phrases,
		rand:     cfg.Rand,
		logger:   logger.OrDefault(cfg.Logger).With(logger.Component("delivery_executor")),
	}
}

// Execute runs action for sub and reports the outcome.
func (e *Executor) Execute(ctx context.Context, sub *subscriber.Subscriber, action subscriber.Action) Outcome {
	switch action.Kind {
	case subscriber.ActionSendUnit:
		return e.sendUnit(ctx, sub, action)
	case subscriber.ActionMarkCompleted:
		return e.markCompleted(ctx, sub, action)
	default:
		return skipped(action)
	}
}

func (e *Executor) sendUnit(ctx context.Context, sub *subscriber.Subscriber, action subscriber.Action) Outcome {
	asset, err := e.assets.Resolve(ctx, action.Unit)
	if err != nil {
		if errors.Is(err, ErrAssetNotFound) {
			return permanentFailure(action, ReasonMissingAsset, err)
		}
		return transientFailure(action, err)
	}

	intro := e.phrases.IntroFor(sub.Attribute, action.Unit, e.rand)
	if err := e.notifier.SendText(ctx, sub.ID, intro); err != nil {
		return classifySendError(action, err)
	}

	if err := e.notifier.SendMedia(ctx, sub.ID, asset, e.phrases.CaptionFor(action.Unit)); err != nil {
		return classifySendError(action, err)
	}

	return delivered(action)
}

func (e *Executor) markCompleted(ctx context.Context, sub *subscriber.Subscriber, action subscriber.Action) Outcome {
	if err := e.notifier.SendText(ctx, sub.ID, e.phrases.Completion); err != nil {
		e.logger.WarnContext(ctx, "completion notice not sent",
			logger.SubscriberID(sub.ID.String()),
			logger.Err(err),
		)
	}
	return completed(action)
}

func classifySendError(action subscriber.Action, err error) Outcome {
	if IsRecipientUnreachable(err) {
		return permanentFailure(action, ReasonUnreachableRecipient, err)
	}
	return transientFailure(action, err)
}
