// Package telegram implements the Telegram bot interface of the lesson bot.
// It receives updates (long polling or webhook), routes them to the
// registration handlers and bounds how many run at once.
package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alem-hub/daily-lessons/internal/application/delivery"
	"github.com/alem-hub/daily-lessons/internal/domain/shared"
	"github.com/alem-hub/daily-lessons/internal/infrastructure/external/telegram"
	"github.com/alem-hub/daily-lessons/internal/interface/http/handlers"
	"github.com/alem-hub/daily-lessons/internal/interface/telegram/handler"
	"github.com/alem-hub/daily-lessons/internal/interface/telegram/middleware"
	"github.com/alem-hub/daily-lessons/internal/interface/telegram/presenter"
	"github.com/alem-hub/daily-lessons/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// BOT CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

const (
	ModePolling = "polling"
	ModeWebhook = "webhook"
)

// BotConfig contains configuration for the Telegram bot.
type BotConfig struct {
	// Mode is the update receiving mode: "polling" or "webhook".
	Mode string

	// WebhookURL is the public URL Telegram posts updates to (webhook mode).
	WebhookURL string

	// WebhookSecret is passed to setWebhook as secret_token.
	WebhookSecret string

	// DropPendingUpdates discards the backlog when the webhook is reset.
	DropPendingUpdates bool

	// MaxConcurrentUpdates limits concurrent update processing.
	MaxConcurrentUpdates int

	// UpdateTimeout bounds the handling of one update, including the first
	// lesson upload after registration.
	UpdateTimeout time.Duration

	// GracefulShutdownTimeout is the timeout for graceful shutdown.
	GracefulShutdownTimeout time.Duration

	// RateLimit limits updates per chat.
	RateLimit middleware.RateLimitConfig

	// Logger for structured logging.
	Logger *slog.Logger
}

// DefaultBotConfig returns sensible defaults.
func DefaultBotConfig() BotConfig {
	return BotConfig{
		Mode:                    ModePolling,
		MaxConcurrentUpdates:    100,
		UpdateTimeout:           5 * time.Minute,
		GracefulShutdownTimeout: 30 * time.Second,
		RateLimit:               middleware.DefaultRateLimitConfig(),
	}
}

// Validate checks the mode-specific settings.
func (c BotConfig) Validate() error {
	switch c.Mode {
	case ModePolling:
		return nil
	case ModeWebhook:
		if c.WebhookURL == "" {
			return errors.New("webhook URL is required for webhook mode")
		}
		return nil
	default:
		return fmt.Errorf("unknown bot mode: %q", c.Mode)
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// BOT DEPENDENCIES
// ══════════════════════════════════════════════════════════════════════════════

// API is the part of the Bot API client the bot uses.
type API interface {
	presenter.Sender
	GetMe(ctx context.Context) (*telegram.User, error)
	StartPolling(ctx context.Context, handler telegram.UpdateHandler) error
	SetWebhook(ctx context.Context, params telegram.WebhookParams) error
	DeleteWebhook(ctx context.Context, dropPendingUpdates bool) error
	AnswerCallbackQuery(ctx context.Context, callbackQueryID string, text string, showAlert bool) error
}

// UpdateMetrics records handled updates; implemented by metrics.PrometheusRecorder.
type UpdateMetrics interface {
	IncUpdate(kind string, success bool)
}

// BotDependencies contains all dependencies for the bot handlers.
type BotDependencies struct {
	Client   API
	Dialogue handler.Dialogue

	// Presenter renders the dialogue; the same instance is the dialogue's Prompter.
	Presenter *presenter.OnboardingPresenter

	// Metrics is optional.
	Metrics UpdateMetrics
}

// ══════════════════════════════════════════════════════════════════════════════
// ERRORS
// ══════════════════════════════════════════════════════════════════════════════

// ErrBotStopped is returned for updates that arrive after Stop.
var ErrBotStopped = errors.New("telegram bot is stopped")

// ══════════════════════════════════════════════════════════════════════════════
// BOT
// ══════════════════════════════════════════════════════════════════════════════

// Bot is the main Telegram bot controller.
type Bot struct {
	config   BotConfig
	client   API
	router   *Router
	metrics  UpdateMetrics
	logger   *slog.Logger
	limiter  *middleware.RateLimiter
	recovery *middleware.RecoveryMiddleware

	// Lifecycle management
	ctx       context.Context
	cancel    context.CancelFunc
	runningMu sync.RWMutex
	stopping  bool
	updateSem chan struct{}
	wg        sync.WaitGroup

	stats BotStats
}

// BotStats holds runtime statistics.
type BotStats struct {
	mu              sync.Mutex
	UpdatesReceived int64
	UpdatesHandled  int64
	ErrorsCount     int64
}

// NewBot creates a new Telegram bot and registers the registration routes.
func NewBot(config BotConfig, deps BotDependencies) (*Bot, error) {
	if deps.Client == nil || deps.Dialogue == nil || deps.Presenter == nil {
		return nil, errors.New("telegram bot: client, dialogue and presenter are required")
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	def := DefaultBotConfig()
	if config.MaxConcurrentUpdates <= 0 {
		config.MaxConcurrentUpdates = def.MaxConcurrentUpdates
	}
	if config.UpdateTimeout <= 0 {
		config.UpdateTimeout = def.UpdateTimeout
	}
	if config.GracefulShutdownTimeout <= 0 {
		config.GracefulShutdownTimeout = def.GracefulShutdownTimeout
	}

	log := logger.OrDefault(config.Logger).With(logger.Component("telegram_bot"))
	ctx, cancel := context.WithCancel(context.Background())

	b := &Bot{
		config:   config,
		client:   deps.Client,
		router:   NewRouter(log),
		metrics:  deps.Metrics,
		logger:   log,
		limiter:  middleware.NewRateLimiter(config.RateLimit),
		recovery: middleware.NewRecoveryMiddleware(middleware.RecoveryConfig{EnableStackTrace: true, Logger: log}),

		ctx:       ctx,
		cancel:    cancel,
		updateSem: make(chan struct{}, config.MaxConcurrentUpdates),
	}

	start := handler.NewStartHandler(deps.Dialogue, deps.Presenter, log)
	registration := handler.NewRegistrationHandler(deps.Dialogue, log)

	// Register command handlers
	b.router.RegisterCommand("start", func(ctx context.Context, cmd CommandContext) error {
		_, err := start.Handle(ctx, handler.StartRequest{ChatID: cmd.ChatID, Args: cmd.Args})
		return err
	})

	// Register callback handlers
	b.router.RegisterCallback(presenter.CallbackStartRegistration, func(ctx context.Context, cb CallbackContext) error {
		_, err := registration.HandleStart(ctx, callbackRequest(cb))
		return err
	})
	attribute := func(ctx context.Context, cb CallbackContext) error {
		_, err := registration.HandleAttribute(ctx, callbackRequest(cb))
		return err
	}
	b.router.RegisterCallback(presenter.CallbackGenderMale, attribute)
	b.router.RegisterCallback(presenter.CallbackGenderFemale, attribute)

	return b, nil
}

func callbackRequest(cb CallbackContext) handler.CallbackRequest {
	return handler.CallbackRequest{ChatID: cb.ChatID, MessageID: cb.MessageID, Data: cb.Data}
}

// ══════════════════════════════════════════════════════════════════════════════
// LIFECYCLE MANAGEMENT
// ══════════════════════════════════════════════════════════════════════════════

// Setup verifies the token and points Telegram at the configured mode:
// webhook mode deletes and then sets the webhook, polling mode deletes it so
// getUpdates works. Safe to retry.
func (b *Bot) Setup(ctx context.Context) error {
	me, err := b.client.GetMe(ctx)
	if err != nil {
		return fmt.Errorf("failed to verify bot token: %w", err)
	}
	b.logger.Info("bot verified", "id", me.ID, "username", me.Username)

	if err := b.client.DeleteWebhook(ctx, b.config.DropPendingUpdates); err != nil {
		return err
	}
	if b.config.Mode != ModeWebhook {
		return nil
	}

	err = b.client.SetWebhook(ctx, telegram.WebhookParams{
		URL:            b.config.WebhookURL,
		SecretToken:    b.config.WebhookSecret,
		MaxConnections: b.config.MaxConcurrentUpdates,
	})
	if err != nil {
		return err
	}
	b.logger.Info("webhook registered", "url", b.config.WebhookURL)
	return nil
}

// Run receives updates until ctx is cancelled. In webhook mode updates arrive
// through HandleTelegramUpdate and Run only does housekeeping.
func (b *Bot) Run(ctx context.Context) error {
	b.logger.Info("starting telegram bot", "mode", b.config.Mode)

	go b.sweepLoop(ctx)

	if b.config.Mode == ModePolling {
		return b.client.StartPolling(ctx, b.dispatch)
	}
	<-ctx.Done()
	return nil
}

// Stop waits for in-flight updates, then cancels what is left.
func (b *Bot) Stop(ctx context.Context) error {
	b.runningMu.Lock()
	if b.stopping {
		b.runningMu.Unlock()
		return nil
	}
	b.stopping = true
	b.runningMu.Unlock()

	b.logger.Info("stopping telegram bot")
	defer b.cancel()

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		received, handled, failed := b.Stats()
		b.logger.Info("all handlers completed gracefully",
			"updates_received", received,
			"updates_handled", handled,
			"errors", failed,
		)
		return nil
	case <-time.After(b.config.GracefulShutdownTimeout):
		b.logger.Warn("graceful shutdown timeout exceeded")
		return nil
	case <-ctx.Done():
		b.logger.Warn("context cancelled during shutdown")
		return ctx.Err()
	}
}

func (b *Bot) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(b.config.RateLimit.IdleTTL + time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.limiter.Sweep()
		}
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// UPDATE INTAKE
// ══════════════════════════════════════════════════════════════════════════════

// HandleTelegramUpdate implements handlers.WebhookHandler. The update is
// handled in the background so Telegram gets its answer right away.
func (b *Bot) HandleTelegramUpdate(ctx context.Context, payload []byte) error {
	var update telegram.Update
	if err := json.Unmarshal(payload, &update); err != nil {
		return fmt.Errorf("%w: %v", handlers.ErrInvalidUpdate, err)
	}
	return b.dispatch(ctx, &update)
}

// dispatch waits for a free slot and handles the update in its own goroutine.
// ctx bounds only the wait; handling runs under the bot's own context.
func (b *Bot) dispatch(ctx context.Context, update *telegram.Update) error {
	b.runningMu.RLock()
	if b.stopping {
		b.runningMu.RUnlock()
		return ErrBotStopped
	}
	b.wg.Add(1)
	b.runningMu.RUnlock()

	select {
	case b.updateSem <- struct{}{}:
	case <-ctx.Done():
		b.wg.Done()
		return ctx.Err()
	case <-b.ctx.Done():
		b.wg.Done()
		return ErrBotStopped
	}

	go func() {
		defer b.wg.Done()
		defer func() { <-b.updateSem }()

		uctx, cancel := context.WithTimeout(b.ctx, b.config.UpdateTimeout)
		defer cancel()
		_ = b.handleUpdate(uctx, update)
	}()
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// UPDATE HANDLING
// ══════════════════════════════════════════════════════════════════════════════

// handleUpdate processes a single Telegram update.
func (b *Bot) handleUpdate(ctx context.Context, update *telegram.Update) error {
	b.stats.mu.Lock()
	b.stats.UpdatesReceived++
	b.stats.mu.Unlock()

	start := time.Now()

	var (
		kind string
		err  error
	)
	switch {
	case update.Message != nil:
		kind = "message"
		err = b.handleMessage(ctx, update.Message)
	case update.CallbackQuery != nil:
		kind = "callback_query"
		err = b.handleCallbackQuery(ctx, update.CallbackQuery)
	default:
		// Unknown update type - ignore
		return nil
	}

	if b.metrics != nil {
		b.metrics.IncUpdate(kind, err == nil)
	}

	b.stats.mu.Lock()
	if err != nil {
		b.stats.ErrorsCount++
	} else {
		b.stats.UpdatesHandled++
	}
	b.stats.mu.Unlock()

	if err != nil {
		level := slog.LevelError
		if shared.IsValidation(err) {
			level = slog.LevelWarn
		}
		b.logger.Log(ctx, level, "failed to handle update",
			"update_id", update.UpdateID,
			"kind", kind,
			logger.TelegramChatID(update.ChatID()),
			logger.Latency(time.Since(start)),
			logger.Err(err),
		)
	}
	return err
}

// handleMessage processes a Telegram message. Only commands are handled.
func (b *Bot) handleMessage(ctx context.Context, msg *telegram.Message) error {
	if msg.Chat == nil {
		return nil
	}
	command := telegram.ExtractCommand(msg)
	if command == "" {
		return nil
	}

	chatID := msg.Chat.ID
	if limit := b.limiter.Check(chatID); !limit.Allowed {
		_, err := b.client.SendText(ctx, chatID, middleware.RateLimitMessage(limit.RetryAfter))
		return err
	}

	res := b.recovery.RecoverWithHandler(ctx, chatID, "/"+command, func() error {
		return b.router.HandleCommand(ctx, command, CommandContext{
			ChatID:    chatID,
			MessageID: msg.MessageID,
			Args:      commandArgs(msg.Text),
			Message:   msg,
		})
	})
	return b.reportFailure(ctx, chatID, res)
}

// handleCallbackQuery processes a callback query from an inline keyboard.
func (b *Bot) handleCallbackQuery(ctx context.Context, cq *telegram.CallbackQuery) error {
	cb := CallbackContext{QueryID: cq.ID, Data: cq.Data}
	if cq.Message != nil && cq.Message.Chat != nil {
		cb.ChatID = cq.Message.Chat.ID
		cb.MessageID = cq.Message.MessageID
	} else if cq.From != nil {
		cb.ChatID = cq.From.ID
	}
	if cb.ChatID == 0 {
		return nil
	}

	if limit := b.limiter.Check(cb.ChatID); !limit.Allowed {
		return b.client.AnswerCallbackQuery(ctx, cq.ID, middleware.RateLimitMessage(limit.RetryAfter), true)
	}

	// Answer first: delivery after registration can take a while.
	if err := b.client.AnswerCallbackQuery(ctx, cq.ID, "", false); err != nil {
		b.logger.WarnContext(ctx, "failed to answer callback", logger.Err(err))
	}

	res := b.recovery.RecoverWithHandler(ctx, cb.ChatID, "callback:"+cq.Data, func() error {
		return b.router.HandleCallback(ctx, cb)
	})
	return b.reportFailure(ctx, cb.ChatID, res)
}

// reportFailure tells the user something went wrong, unless they cannot be reached.
func (b *Bot) reportFailure(ctx context.Context, chatID int64, res middleware.RecoveryResult) error {
	if res.Err == nil {
		return nil
	}
	if delivery.IsRecipientUnreachable(res.Err) || telegram.IsUnreachable(res.Err) || ctx.Err() != nil {
		return res.Err
	}

	text := presenter.ErrorText
	if res.Recovered {
		text = res.UserMessage
	}
	if _, err := b.client.SendText(ctx, chatID, text); err != nil {
		b.logger.WarnContext(ctx, "failed to send error reply", logger.Err(err))
	}
	return res.Err
}

// ══════════════════════════════════════════════════════════════════════════════
// HELPERS
// ══════════════════════════════════════════════════════════════════════════════

// commandArgs returns the text after the command word.
func commandArgs(text string) string {
	for i, r := range text {
		if r == ' ' || r == '\n' {
			return text[i+1:]
		}
	}
	return ""
}

// Stats returns a snapshot of runtime statistics.
func (b *Bot) Stats() (received, handled, failed int64) {
	b.stats.mu.Lock()
	defer b.stats.mu.Unlock()
	return b.stats.UpdatesReceived, b.stats.UpdatesHandled, b.stats.ErrorsCount
}

// Router returns the router for handler registration.
func (b *Bot) Router() *Router {
	return b.router
}

// Wait blocks until all dispatched updates are handled. Used by tests.
func (b *Bot) Wait() {
	b.wg.Wait()
}
