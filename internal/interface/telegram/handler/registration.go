package handler

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/alem-hub/daily-lessons/internal/application/onboarding"
	"github.com/alem-hub/daily-lessons/internal/infrastructure/service"
	"github.com/alem-hub/daily-lessons/internal/interface/telegram/presenter"
	"github.com/alem-hub/daily-lessons/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// REGISTRATION CALLBACKS
// Inline buttons of the registration dialogue: the legacy start button and the
// attribute choice. The pressed message is edited in place by the presenter.
// ══════════════════════════════════════════════════════════════════════════════

// CallbackRequest contains the parsed callback query.
type CallbackRequest struct {
	ChatID    int64
	MessageID int64
	Data      string
}

// RegistrationHandler handles registration callbacks.
type RegistrationHandler struct {
	dialogue Dialogue
	logger   *slog.Logger
}

// NewRegistrationHandler creates a new RegistrationHandler.
func NewRegistrationHandler(dialogue Dialogue, log *slog.Logger) *RegistrationHandler {
	return &RegistrationHandler{
		dialogue: dialogue,
		logger:   logger.OrDefault(log).With(logger.Component("registration_handler")),
	}
}

// HandleStart processes the «Начать обучение» button.
func (h *RegistrationHandler) HandleStart(ctx context.Context, req CallbackRequest) (onboarding.Result, error) {
	ctx = presenter.WithOrigin(ctx, req.ChatID, req.MessageID)
	return h.dialogue.Handle(ctx, onboarding.Event{
		Type:         onboarding.EventBegin,
		SubscriberID: service.SubscriberID(req.ChatID),
	})
}

// HandleAttribute processes an attribute button.
func (h *RegistrationHandler) HandleAttribute(ctx context.Context, req CallbackRequest) (onboarding.Result, error) {
	attr, ok := presenter.AttributeForCallback(req.Data)
	if !ok {
		return onboarding.Result{}, fmt.Errorf("%w: callback %q", onboarding.ErrInvalidEvent, req.Data)
	}

	ctx = presenter.WithOrigin(ctx, req.ChatID, req.MessageID)
	res, err := h.dialogue.Handle(ctx, onboarding.Event{
		Type:         onboarding.EventAttributeSelected,
		SubscriberID: service.SubscriberID(req.ChatID),
		Value:        string(attr),
	})
	if err != nil {
		return res, err
	}

	if res.Outcome == onboarding.OutcomeIgnored {
		h.logger.DebugContext(ctx, "stale attribute button",
			logger.TelegramChatID(req.ChatID), slog.String("state", string(res.State)))
	}
	if res.Delivery != nil {
		step := res.Delivery.Last()
		h.logger.InfoContext(ctx, "first unit dispatched",
			logger.TelegramChatID(req.ChatID),
			logger.Outcome(string(step.Outcome.Kind)),
			slog.Bool("committed", step.Committed),
		)
	}
	return res, nil
}
