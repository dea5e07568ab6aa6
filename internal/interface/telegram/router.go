package telegram

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"github.com/alem-hub/daily-lessons/internal/infrastructure/external/telegram"
)

// ══════════════════════════════════════════════════════════════════════════════
// CONTEXT TYPES
// These types carry context information through the routing process.
// ══════════════════════════════════════════════════════════════════════════════

// CommandContext contains context for command handling.
type CommandContext struct {
	// ChatID is the chat ID where the command was sent.
	ChatID int64

	// MessageID is the ID of the message containing the command.
	MessageID int64

	// Args is the command arguments (text after the command).
	Args string

	// Message is the original Telegram message.
	Message *telegram.Message
}

// CallbackContext contains context for callback query handling.
type CallbackContext struct {
	// ChatID is the chat ID where the callback originated.
	ChatID int64

	// MessageID is the ID of the message with the inline keyboard.
	MessageID int64

	// QueryID is the callback query ID.
	QueryID string

	// Data is the callback data string.
	Data string
}

// CommandHandlerFunc handles one command.
type CommandHandlerFunc func(ctx context.Context, cmd CommandContext) error

// CallbackHandlerFunc handles one callback query.
type CallbackHandlerFunc func(ctx context.Context, cb CallbackContext) error

// ══════════════════════════════════════════════════════════════════════════════
// ROUTER
// Routes incoming updates to appropriate handlers.
// ══════════════════════════════════════════════════════════════════════════════

// Router routes Telegram commands and callbacks to handlers.
type Router struct {
	logger *slog.Logger

	mu        sync.RWMutex
	commands  map[string]CommandHandlerFunc
	callbacks map[string]CallbackHandlerFunc

	defaultCommand  CommandHandlerFunc
	defaultCallback CallbackHandlerFunc
}

// NewRouter creates a new router. Unknown commands and callbacks are ignored.
func NewRouter(log *slog.Logger) *Router {
	if log == nil {
		log = slog.Default()
	}
	r := &Router{
		logger:    log,
		commands:  make(map[string]CommandHandlerFunc),
		callbacks: make(map[string]CallbackHandlerFunc),
	}
	r.defaultCommand = func(ctx context.Context, cmd CommandContext) error {
		r.logger.DebugContext(ctx, "no handler for command", "chat_id", cmd.ChatID)
		return nil
	}
	r.defaultCallback = func(ctx context.Context, cb CallbackContext) error {
		r.logger.DebugContext(ctx, "no handler for callback", "data", cb.Data)
		return nil
	}
	return r
}

// ─────────────────────────────────────────────────────────────────────────────
// Registration
// ─────────────────────────────────────────────────────────────────────────────

// RegisterCommand registers a handler for a command given without the leading "/".
func (r *Router) RegisterCommand(command string, h CommandHandlerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.commands[strings.ToLower(command)] = h
}

// RegisterCallback registers a handler for exact callback data.
func (r *Router) RegisterCallback(data string, h CallbackHandlerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.callbacks[data] = h
}

// ─────────────────────────────────────────────────────────────────────────────
// Routing
// ─────────────────────────────────────────────────────────────────────────────

// HandleCommand routes a command to its handler.
func (r *Router) HandleCommand(ctx context.Context, command string, cmd CommandContext) error {
	r.mu.RLock()
	h, ok := r.commands[strings.ToLower(command)]
	def := r.defaultCommand
	r.mu.RUnlock()

	if !ok {
		return def(ctx, cmd)
	}
	return h(ctx, cmd)
}

// HandleCallback routes a callback query to its handler.
func (r *Router) HandleCallback(ctx context.Context, cb CallbackContext) error {
	r.mu.RLock()
	h, ok := r.callbacks[cb.Data]
	def := r.defaultCallback
	r.mu.RUnlock()

	if !ok {
		return def(ctx, cb)
	}
	return h(ctx, cb)
}
