package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/daily-lessons/internal/application/delivery"
	"github.com/alem-hub/daily-lessons/internal/domain/subscriber"
	"github.com/alem-hub/daily-lessons/internal/infrastructure/external/telegram"
	"github.com/alem-hub/daily-lessons/internal/infrastructure/persistence/redis"
	"github.com/alem-hub/daily-lessons/pkg/circuitbreaker"
	"github.com/alem-hub/daily-lessons/pkg/logger"
)

type fakeSender struct {
	mu       sync.Mutex
	texts    []string
	videos   []telegram.SendVideoParams
	textErr  error
	videoErr func(p telegram.SendVideoParams) error
	fileID   string
}

func (f *fakeSender) SendText(_ context.Context, chatID int64, text string) (*telegram.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.textErr != nil {
		return nil, f.textErr
	}
	f.texts = append(f.texts, text)
	return &telegram.Message{Chat: &telegram.Chat{ID: chatID}, Text: text}, nil
}

func (f *fakeSender) SendVideo(_ context.Context, p telegram.SendVideoParams) (*telegram.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.videos = append(f.videos, p)
	if f.videoErr != nil {
		if err := f.videoErr(p); err != nil {
			return nil, err
		}
	}
	msg := &telegram.Message{Chat: &telegram.Chat{ID: p.ChatID}, Caption: p.Caption}
	if p.FileID == "" && f.fileID != "" {
		msg.Video = &telegram.Video{FileID: f.fileID}
	}
	return msg, nil
}

var asset = delivery.AssetHandle{Unit: 3, Path: "/videos/lesson3.mp4", Name: "lesson3.mp4"}

func newNotifier(sender *fakeSender, cache MediaCache) *TelegramNotifier {
	return NewTelegramNotifier(sender, TelegramNotifierConfig{Cache: cache, Logger: logger.Discard()})
}

func TestTelegramNotifier_UploadsOnceThenReusesFileID(t *testing.T) {
	sender := &fakeSender{fileID: "FILE-3"}
	n := newNotifier(sender, nil)
	ctx := context.Background()

	require.NoError(t, n.SendMedia(ctx, "42", asset, "Урок 3 — поехали!"))
	require.NoError(t, n.SendMedia(ctx, "43", asset, "Урок 3 — поехали!"))

	require.Len(t, sender.videos, 2)
	assert.Equal(t, "/videos/lesson3.mp4", sender.videos[0].Path)
	assert.Empty(t, sender.videos[0].FileID)
	assert.Equal(t, "FILE-3", sender.videos[1].FileID)
	assert.Equal(t, int64(43), sender.videos[1].ChatID)
}

func TestTelegramNotifier_RejectedFileIDFallsBackToUpload(t *testing.T) {
	sender := &fakeSender{fileID: "FILE-NEW", videoErr: func(p telegram.SendVideoParams) error {
		if p.FileID != "" {
			return &telegram.APIError{Code: 400, Description: "Bad Request: wrong file identifier/HTTP URL specified"}
		}
		return nil
	}}
	cache := NewMemoryMediaCache()
	require.NoError(t, cache.Set(context.Background(), 3, "FILE-OLD"))
	n := newNotifier(sender, cache)

	require.NoError(t, n.SendMedia(context.Background(), "42", asset, "c"))

	require.Len(t, sender.videos, 2)
	assert.Equal(t, asset.Path, sender.videos[1].Path)
	id, ok, _ := cache.Get(context.Background(), 3)
	assert.True(t, ok)
	assert.Equal(t, "FILE-NEW", id)
}

func TestTelegramNotifier_UnreachableRecipient(t *testing.T) {
	sender := &fakeSender{textErr: &telegram.APIError{Code: 403, Description: "Forbidden: bot was blocked by the user"}}
	n := newNotifier(sender, nil)

	err := n.SendText(context.Background(), "42", "hi")
	assert.ErrorIs(t, err, delivery.ErrRecipientUnreachable)
	assert.True(t, delivery.IsRecipientUnreachable(err))

	err = n.SendText(context.Background(), "not-a-chat", "hi")
	assert.ErrorIs(t, err, delivery.ErrRecipientUnreachable)
}

func TestTelegramNotifier_TransportErrorStaysTransient(t *testing.T) {
	boom := errors.New("connection reset by peer")
	sender := &fakeSender{textErr: boom}
	n := newNotifier(sender, nil)

	err := n.SendText(context.Background(), "42", "hi")
	assert.ErrorIs(t, err, boom)
	assert.False(t, delivery.IsRecipientUnreachable(err))
}

func TestTelegramNotifier_BreakerIgnoresBlockedUsers(t *testing.T) {
	blocked := &telegram.APIError{Code: 403, Description: "Forbidden: bot was blocked by the user"}
	sender := &fakeSender{textErr: blocked}
	breaker := NewTelegramBreaker(logger.Discard())
	n := NewTelegramNotifier(sender, TelegramNotifierConfig{Breaker: breaker, Logger: logger.Discard()})

	for range 10 {
		_ = n.SendText(context.Background(), "42", "hi")
	}
	assert.Equal(t, circuitbreaker.StateClosed, breaker.State())

	sender.textErr = errors.New("timeout")
	for range 5 {
		_ = n.SendText(context.Background(), "42", "hi")
	}
	assert.Equal(t, circuitbreaker.StateOpen, breaker.State())
	assert.ErrorIs(t, n.SendText(context.Background(), "42", "hi"), circuitbreaker.ErrCircuitOpen)
}

func TestTelegramNotifier_RedisMediaCache(t *testing.T) {
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	cache := redis.NewMediaCache(redis.NewCacheFromClient(client, "test:"))

	sender := &fakeSender{fileID: "FILE-3"}
	n := newNotifier(sender, cache)
	require.NoError(t, n.SendMedia(context.Background(), "42", asset, "c"))

	id, ok, err := cache.Get(context.Background(), 3)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "FILE-3", id)
}

func TestIDConversion(t *testing.T) {
	id := SubscriberID(-100123)
	assert.Equal(t, subscriber.ID("-100123"), id)
	chatID, err := ChatID(id)
	require.NoError(t, err)
	assert.Equal(t, int64(-100123), chatID)
}
