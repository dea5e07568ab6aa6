package handlers

import (
	"context"
	"errors"
)

// ══════════════════════════════════════════════════════════════════════════════
// WEBHOOK HANDLER INTERFACE
// ══════════════════════════════════════════════════════════════════════════════

// ErrInvalidUpdate is returned by a WebhookHandler for payloads that are not
// Telegram updates. The server answers them with 400.
var ErrInvalidUpdate = errors.New("invalid telegram update")

// WebhookHandler defines the interface for handling webhooks.
type WebhookHandler interface {
	// HandleTelegramUpdate processes a Telegram webhook update.
	// It must return quickly; long work belongs in the background.
	HandleTelegramUpdate(ctx context.Context, payload []byte) error
}

// WebhookHandlerFunc adapts a function to WebhookHandler.
type WebhookHandlerFunc func(ctx context.Context, payload []byte) error

// HandleTelegramUpdate calls f.
func (f WebhookHandlerFunc) HandleTelegramUpdate(ctx context.Context, payload []byte) error {
	return f(ctx, payload)
}
