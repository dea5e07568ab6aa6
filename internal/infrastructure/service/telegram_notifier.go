package service

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/alem-hub/daily-lessons/internal/application/delivery"
	"github.com/alem-hub/daily-lessons/internal/domain/subscriber"
	"github.com/alem-hub/daily-lessons/internal/infrastructure/external/telegram"
	"github.com/alem-hub/daily-lessons/pkg/circuitbreaker"
	"github.com/alem-hub/daily-lessons/pkg/logger"
)

// TelegramSender is the part of telegram.Client the notifier needs.
type TelegramSender interface {
	SendText(ctx context.Context, chatID int64, text string) (*telegram.Message, error)
	SendVideo(ctx context.Context, params telegram.SendVideoParams) (*telegram.Message, error)
}

// MediaCache remembers Telegram file ids of uploaded units.
// Implemented by MemoryMediaCache and redis.MediaCache.
type MediaCache interface {
	Get(ctx context.Context, unit int) (string, bool, error)
	Set(ctx context.Context, unit int, fileID string) error
	Forget(ctx context.Context, unit int) error
}

// TelegramNotifierConfig contains configuration for TelegramNotifier.
type TelegramNotifierConfig struct {
	// Breaker guards every Bot API call (optional).
	Breaker *circuitbreaker.Breaker

	// Cache stores file ids so a unit is uploaded once (default: in memory).
	Cache MediaCache

	Logger *slog.Logger
}

// TelegramNotifier adapts telegram.Client to delivery.Notifier.
type TelegramNotifier struct {
	client  TelegramSender
	breaker *circuitbreaker.Breaker
	cache   MediaCache
	logger  *slog.Logger
}

// NewTelegramNotifier creates a TelegramNotifier.
func NewTelegramNotifier(client TelegramSender, cfg TelegramNotifierConfig) *TelegramNotifier {
	if cfg.Cache == nil {
		cfg.Cache = NewMemoryMediaCache()
	}
	return &TelegramNotifier{
		client:  client,
		breaker: cfg.Breaker,
		cache:   cfg.Cache,
		logger:  logger.OrDefault(cfg.Logger).With(logger.Component("telegram_notifier")),
	}
}

// NewTelegramBreaker returns the breaker used in front of Telegram sends.
// Unreachable recipients do not count as Bot API failures.
// Observers are called after the transition is logged.
func NewTelegramBreaker(log *slog.Logger, observers ...func(name string, from, to circuitbreaker.State)) *circuitbreaker.Breaker {
	log = logger.OrDefault(log)
	return circuitbreaker.ForTelegram(
		func(err error) bool { return !telegram.IsUnreachable(err) },
		func(name string, from, to circuitbreaker.State) {
			log.Warn("circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
			for _, fn := range observers {
				fn(name, from, to)
			}
		},
	)
}

// SendText implements delivery.Notifier.
func (n *TelegramNotifier) SendText(ctx context.Context, to subscriber.ID, text string) error {
	chatID, err := ChatID(to)
	if err != nil {
		return err
	}
	return n.call(ctx, func(ctx context.Context) error {
		_, err := n.client.SendText(ctx, chatID, text)
		return err
	})
}

// SendMedia implements delivery.Notifier. A cached file id is tried first;
// when Telegram rejects it the file is uploaded again.
func (n *TelegramNotifier) SendMedia(ctx context.Context, to subscriber.ID, asset delivery.AssetHandle, caption string) error {
	chatID, err := ChatID(to)
	if err != nil {
		return err
	}

	if fileID, ok := n.cachedFileID(ctx, asset.Unit); ok {
		err := n.call(ctx, func(ctx context.Context) error {
			_, err := n.client.SendVideo(ctx, telegram.SendVideoParams{ChatID: chatID, FileID: fileID, Caption: caption})
			return err
		})
		if err == nil || !telegram.IsInvalidFileID(err) {
			return err
		}
		n.logger.WarnContext(ctx, "cached file id rejected, uploading again", logger.Unit(asset.Unit))
		if err := n.cache.Forget(ctx, asset.Unit); err != nil {
			n.logger.WarnContext(ctx, "failed to forget file id", logger.Unit(asset.Unit), logger.Err(err))
		}
	}

	var msg *telegram.Message
	err = n.call(ctx, func(ctx context.Context) error {
		var err error
		msg, err = n.client.SendVideo(ctx, telegram.SendVideoParams{
			ChatID:   chatID,
			Path:     asset.Path,
			FileName: asset.Name,
			Caption:  caption,
		})
		return err
	})
	if err != nil {
		return err
	}

	if msg != nil && msg.Video != nil && msg.Video.FileID != "" {
		if err := n.cache.Set(ctx, asset.Unit, msg.Video.FileID); err != nil {
			n.logger.WarnContext(ctx, "failed to cache file id", logger.Unit(asset.Unit), logger.Err(err))
		}
	}
	return nil
}

func (n *TelegramNotifier) cachedFileID(ctx context.Context, unit int) (string, bool) {
	fileID, ok, err := n.cache.Get(ctx, unit)
	if err != nil {
		n.logger.WarnContext(ctx, "file id cache unavailable", logger.Unit(unit), logger.Err(err))
		return "", false
	}
	return fileID, ok
}

// call runs fn behind the breaker and maps recipient errors to
// delivery.ErrRecipientUnreachable.
func (n *TelegramNotifier) call(ctx context.Context, fn func(context.Context) error) error {
	var err error
	if n.breaker != nil {
		err = n.breaker.Execute(ctx, fn)
	} else {
		err = fn(ctx)
	}
	if err != nil && telegram.IsUnreachable(err) {
		return fmt.Errorf("%w: %w", delivery.ErrRecipientUnreachable, err)
	}
	return err
}

// ChatID converts a subscriber id to a Telegram chat id. Ids that are not
// chat ids can never be reached.
func ChatID(id subscriber.ID) (int64, error) {
	chatID, err := strconv.ParseInt(id.String(), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: subscriber %q is not a chat id", delivery.ErrRecipientUnreachable, id)
	}
	return chatID, nil
}

// SubscriberID converts a Telegram chat id to a subscriber id.
func SubscriberID(chatID int64) subscriber.ID {
	return subscriber.ID(strconv.FormatInt(chatID, 10))
}
