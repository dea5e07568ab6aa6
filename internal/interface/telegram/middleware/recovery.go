// Package middleware contains Telegram bot middlewares for update processing.
package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/alem-hub/daily-lessons/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// RECOVERY MIDDLEWARE
// Catches panics in update handlers so one bad update cannot stop the bot.
// ══════════════════════════════════════════════════════════════════════════════

// RecoveryConfig holds configuration for the recovery middleware.
type RecoveryConfig struct {
	// EnableStackTrace enables capturing stack traces.
	EnableStackTrace bool

	// OnPanic is called when a panic is recovered.
	OnPanic func(ctx context.Context, info *PanicInfo)

	// UserErrorMessage is the message sent to users when a panic occurs.
	UserErrorMessage string

	Logger *slog.Logger
}

// DefaultRecoveryConfig returns sensible defaults for recovery middleware.
func DefaultRecoveryConfig() RecoveryConfig {
	return RecoveryConfig{
		EnableStackTrace: true,
		UserErrorMessage: "😔 Что-то пошло не так.\n\nПопробуй ещё раз через несколько минут.",
	}
}

// PanicInfo contains information about a recovered panic.
type PanicInfo struct {
	Error      error
	PanicValue any
	Timestamp  time.Time
	ChatID     int64
	Route      string
	StackTrace string
}

// RecoveryMiddleware converts handler panics into errors.
type RecoveryMiddleware struct {
	config RecoveryConfig
	logger *slog.Logger
}

// NewRecoveryMiddleware creates a new recovery middleware.
func NewRecoveryMiddleware(config RecoveryConfig) *RecoveryMiddleware {
	if config.UserErrorMessage == "" {
		config.UserErrorMessage = DefaultRecoveryConfig().UserErrorMessage
	}
	return &RecoveryMiddleware{
		config: config,
		logger: logger.OrDefault(config.Logger),
	}
}

// RecoveryResult represents the result of running a handler.
type RecoveryResult struct {
	// Recovered indicates if a panic was recovered.
	Recovered bool

	// PanicInfo contains panic details (if recovered).
	PanicInfo *PanicInfo

	// UserMessage is the message to show to the user after a panic.
	UserMessage string

	// Err is the handler's own error when it returned normally.
	Err error
}

// RecoverWithHandler executes handler and recovers from any panic.
func (m *RecoveryMiddleware) RecoverWithHandler(ctx context.Context, chatID int64, route string, handler func() error) (result RecoveryResult) {
	defer func() {
		if r := recover(); r != nil {
			result = m.handlePanic(ctx, r, chatID, route)
		}
	}()

	return RecoveryResult{Err: handler()}
}

func (m *RecoveryMiddleware) handlePanic(ctx context.Context, panicValue any, chatID int64, route string) RecoveryResult {
	info := &PanicInfo{
		Error:      toError(panicValue),
		PanicValue: panicValue,
		Timestamp:  time.Now(),
		ChatID:     chatID,
		Route:      route,
	}
	if m.config.EnableStackTrace {
		info.StackTrace = string(debug.Stack())
	}

	m.logger.ErrorContext(ctx, "panic recovered in update handler",
		logger.TelegramChatID(chatID),
		slog.String("route", route),
		logger.Err(info.Error),
		slog.String("stack", info.StackTrace),
	)

	if m.config.OnPanic != nil {
		m.config.OnPanic(ctx, info)
	}

	return RecoveryResult{
		Recovered:   true,
		PanicInfo:   info,
		UserMessage: m.config.UserErrorMessage,
		Err:         info.Error,
	}
}

// toError converts a panic value to an error.
func toError(panicValue any) error {
	switch v := panicValue.(type) {
	case error:
		return fmt.Errorf("panic: %w", v)
	default:
		return fmt.Errorf("panic: %v", v)
	}
}
