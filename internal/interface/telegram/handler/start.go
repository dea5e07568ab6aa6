// Package handler contains Telegram update handlers.
// Each handler follows the pattern: receive update → build dialogue event →
// call the application layer. Replies are rendered by the presenter.
package handler

import (
	"context"
	"log/slog"

	"github.com/alem-hub/daily-lessons/internal/application/delivery"
	"github.com/alem-hub/daily-lessons/internal/application/onboarding"
	"github.com/alem-hub/daily-lessons/internal/domain/subscriber"
	"github.com/alem-hub/daily-lessons/internal/infrastructure/service"
	"github.com/alem-hub/daily-lessons/pkg/logger"
)

// Dialogue is implemented by onboarding.Dialogue.
type Dialogue interface {
	Handle(ctx context.Context, ev onboarding.Event) (onboarding.Result, error)
}

// Greeter sends the /start greeting.
type Greeter interface {
	Welcome(ctx context.Context, to subscriber.ID) error
}

// ══════════════════════════════════════════════════════════════════════════════
// START HANDLER
// Handles /start: greet, then begin (or resume) the registration dialogue.
// ══════════════════════════════════════════════════════════════════════════════

// StartHandler handles the /start command.
type StartHandler struct {
	dialogue Dialogue
	greeter  Greeter
	logger   *slog.Logger
}

// NewStartHandler creates a new StartHandler.
func NewStartHandler(dialogue Dialogue, greeter Greeter, log *slog.Logger) *StartHandler {
	return &StartHandler{
		dialogue: dialogue,
		greeter:  greeter,
		logger:   logger.OrDefault(log).With(logger.Component("start_handler")),
	}
}

// StartRequest contains the parsed /start command data.
type StartRequest struct {
	// ChatID is the chat the command came from; it is the subscriber id.
	ChatID int64

	// Args is the deep-link payload, unused by the dialogue.
	Args string
}

// Handle processes the /start command.
func (h *StartHandler) Handle(ctx context.Context, req StartRequest) (onboarding.Result, error) {
	id := service.SubscriberID(req.ChatID)

	if err := h.greeter.Welcome(ctx, id); err != nil {
		if delivery.IsRecipientUnreachable(err) {
			return onboarding.Result{}, err
		}
		h.logger.WarnContext(ctx, "greeting not sent", logger.SubscriberID(id.String()), logger.Err(err))
	}

	return h.dialogue.Handle(ctx, onboarding.Event{
		Type:         onboarding.EventBegin,
		SubscriberID: id,
	})
}
