package telegram

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/daily-lessons/internal/application/delivery"
	"github.com/alem-hub/daily-lessons/internal/application/onboarding"
	"github.com/alem-hub/daily-lessons/internal/domain/subscriber"
	"github.com/alem-hub/daily-lessons/internal/infrastructure/external/telegram"
	"github.com/alem-hub/daily-lessons/internal/infrastructure/persistence/memory"
	"github.com/alem-hub/daily-lessons/internal/interface/http/handlers"
	"github.com/alem-hub/daily-lessons/internal/interface/telegram/presenter"
	"github.com/alem-hub/daily-lessons/pkg/logger"
	"github.com/alem-hub/daily-lessons/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// FAKES
// ══════════════════════════════════════════════════════════════════════════════

type sent struct {
	method string
	chatID int64
	msgID  int64
	text   string
	kb     *telegram.InlineKeyboardMarkup
}

type fakeAPI struct {
	mu       sync.Mutex
	calls    []sent
	answers  []string
	webhooks []telegram.WebhookParams
	deleted  int
	sendErr  error
	meErr    error
	nextID   int64
}

func (f *fakeAPI) record(s sent) *telegram.Message {
	f.calls = append(f.calls, s)
	f.nextID++
	return &telegram.Message{MessageID: f.nextID, Chat: &telegram.Chat{ID: s.chatID}, Text: s.text}
}

func (f *fakeAPI) SendText(_ context.Context, chatID int64, text string) (*telegram.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return nil, f.sendErr
	}
	return f.record(sent{method: "sendMessage", chatID: chatID, text: text}), nil
}

func (f *fakeAPI) SendWithKeyboard(_ context.Context, chatID int64, text string, kb *telegram.InlineKeyboardMarkup) (*telegram.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.record(sent{method: "sendMessage", chatID: chatID, text: text, kb: kb}), nil
}

func (f *fakeAPI) EditMessageText(_ context.Context, chatID, msgID int64, text string) (*telegram.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.record(sent{method: "editMessageText", chatID: chatID, msgID: msgID, text: text}), nil
}

func (f *fakeAPI) GetMe(context.Context) (*telegram.User, error) {
	if f.meErr != nil {
		return nil, f.meErr
	}
	return &telegram.User{ID: 1, IsBot: true, Username: "lessons_bot"}, nil
}

func (f *fakeAPI) StartPolling(ctx context.Context, h telegram.UpdateHandler) error {
	<-ctx.Done()
	return nil
}

func (f *fakeAPI) SetWebhook(_ context.Context, p telegram.WebhookParams) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.webhooks = append(f.webhooks, p)
	return nil
}

func (f *fakeAPI) DeleteWebhook(context.Context, bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted++
	return nil
}

func (f *fakeAPI) AnswerCallbackQuery(_ context.Context, id, text string, _ bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.answers = append(f.answers, id+":"+text)
	return nil
}

func (f *fakeAPI) texts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.calls))
	for _, c := range f.calls {
		out = append(out, c.method+" "+c.text)
	}
	return out
}

type fakeDeliverer struct {
	mu    sync.Mutex
	calls []subscriber.ID
}

func (d *fakeDeliverer) Deliver(_ context.Context, id subscriber.ID, today timeutil.Date) (delivery.Report, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, id)
	return delivery.Report{SubscriberID: id, Today: today}, nil
}

type fakeMetrics struct {
	mu     sync.Mutex
	counts map[string]int
}

func (m *fakeMetrics) IncUpdate(kind string, success bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.counts == nil {
		m.counts = make(map[string]int)
	}
	key := kind + ":ok"
	if !success {
		key = kind + ":err"
	}
	m.counts[key]++
}

type fixture struct {
	bot       *Bot
	api       *fakeAPI
	store     *memory.Store
	deliverer *fakeDeliverer
	metrics   *fakeMetrics
}

func newFixture(t *testing.T, mutate func(*BotConfig)) *fixture {
	t.Helper()
	api := &fakeAPI{}
	store := memory.NewStore()
	deliverer := &fakeDeliverer{}
	p := presenter.NewOnboardingPresenter(api, logger.Discard())
	dialogue := onboarding.NewDialogue(store, p, deliverer, onboarding.Config{
		Clock:  timeutil.NewFixedClock(time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)),
		Logger: logger.Discard(),
	})

	cfg := DefaultBotConfig()
	cfg.Logger = logger.Discard()
	if mutate != nil {
		mutate(&cfg)
	}
	m := &fakeMetrics{}
	bot, err := NewBot(cfg, BotDependencies{Client: api, Dialogue: dialogue, Presenter: p, Metrics: m})
	require.NoError(t, err)
	return &fixture{bot: bot, api: api, store: store, deliverer: deliverer, metrics: m}
}

func (f *fixture) handle(t *testing.T, payload string) {
	t.Helper()
	require.NoError(t, f.bot.HandleTelegramUpdate(context.Background(), []byte(payload)))
	f.bot.Wait()
}

const startUpdate = `{"update_id":1,"message":{"message_id":10,"chat":{"id":42,"type":"private"},"from":{"id":42,"first_name":"A"},"text":"/start","entities":[{"type":"bot_command","offset":0,"length":6}]}}`

func callbackUpdate(data string) string {
	return `{"update_id":2,"callback_query":{"id":"cb1","from":{"id":42,"first_name":"A"},"data":"` + data +
		`","message":{"message_id":77,"chat":{"id":42,"type":"private"}}}}`
}

// ══════════════════════════════════════════════════════════════════════════════
// TESTS
// ══════════════════════════════════════════════════════════════════════════════

func TestBot_StartBeginsOnboarding(t *testing.T) {
	f := newFixture(t, nil)

	f.handle(t, startUpdate)

	assert.Equal(t, []string{
		"sendMessage " + presenter.WelcomeText,
		"sendMessage " + presenter.AttributeIntroText,
		"sendMessage " + presenter.AttributeQuestionText,
	}, f.api.texts())

	kb := f.api.calls[2].kb
	require.NotNil(t, kb)
	require.Len(t, kb.InlineKeyboard, 2)
	assert.Equal(t, "gender_male", kb.InlineKeyboard[0][0].CallbackData)
	assert.Equal(t, "Женщина", kb.InlineKeyboard[1][0].Text)

	sub, err := f.store.Get(context.Background(), "42")
	require.NoError(t, err)
	assert.Equal(t, subscriber.StateAwaitingAttribute, sub.State)
	assert.Equal(t, 1, f.metrics.counts["message:ok"])
}

func TestBot_AttributeCallbackActivates(t *testing.T) {
	f := newFixture(t, nil)
	f.handle(t, startUpdate)

	f.handle(t, callbackUpdate("gender_female"))

	last := f.api.calls[len(f.api.calls)-1]
	assert.Equal(t, "editMessageText", last.method)
	assert.Equal(t, int64(77), last.msgID)
	assert.Equal(t, presenter.AttributeAcceptedText, last.text)
	assert.Equal(t, []string{"cb1:"}, f.api.answers)
	assert.Equal(t, []subscriber.ID{"42"}, f.deliverer.calls)

	sub, err := f.store.Get(context.Background(), "42")
	require.NoError(t, err)
	assert.Equal(t, subscriber.StateActive, sub.State)
	assert.Equal(t, subscriber.AttributeFemale, sub.Attribute)

	// a second press on the stale keyboard changes nothing
	f.handle(t, callbackUpdate("gender_male"))
	assert.Len(t, f.deliverer.calls, 1)
	sub, _ = f.store.Get(context.Background(), "42")
	assert.Equal(t, subscriber.AttributeFemale, sub.Attribute)
}

func TestBot_LegacyStartButtonEditsWelcome(t *testing.T) {
	f := newFixture(t, nil)

	f.handle(t, callbackUpdate("start_registration"))

	require.Len(t, f.api.calls, 2)
	assert.Equal(t, "editMessageText", f.api.calls[0].method)
	assert.Equal(t, presenter.AttributeIntroText, f.api.calls[0].text)
	assert.NotNil(t, f.api.calls[1].kb)
}

func TestBot_StartFromActiveReportsStatus(t *testing.T) {
	f := newFixture(t, nil)
	f.handle(t, startUpdate)
	f.handle(t, callbackUpdate("gender_male"))
	before := len(f.api.calls)

	f.handle(t, startUpdate)

	texts := f.api.texts()[before:]
	require.Len(t, texts, 2)
	assert.Contains(t, texts[1], presenter.AlreadyRegisteredText)
	assert.Len(t, f.deliverer.calls, 1)
}

func TestBot_IgnoresPlainText(t *testing.T) {
	f := newFixture(t, nil)
	f.handle(t, `{"update_id":5,"message":{"message_id":1,"chat":{"id":42},"text":"hello"}}`)
	assert.Empty(t, f.api.calls)
}

func TestBot_RateLimitsChat(t *testing.T) {
	f := newFixture(t, func(c *BotConfig) {
		c.RateLimit.BurstSize = 1
		c.RateLimit.RequestsPerMinute = 1
	})

	f.handle(t, startUpdate)
	n := len(f.api.calls)
	f.handle(t, startUpdate)

	require.Len(t, f.api.calls, n+1)
	assert.Contains(t, f.api.calls[n].text, "Слишком много запросов")
}

func TestBot_HandlerErrorRepliesWithApology(t *testing.T) {
	f := newFixture(t, nil)
	f.bot.Router().RegisterCommand("boom", func(context.Context, CommandContext) error {
		return errors.New("store offline")
	})

	f.handle(t, `{"update_id":6,"message":{"message_id":1,"chat":{"id":42},"text":"/boom","entities":[{"type":"bot_command","offset":0,"length":5}]}}`)

	assert.Equal(t, []string{"sendMessage " + presenter.ErrorText}, f.api.texts())
	assert.Equal(t, 1, f.metrics.counts["message:err"])
}

func TestBot_PanicIsRecovered(t *testing.T) {
	f := newFixture(t, nil)
	f.bot.Router().RegisterCommand("panic", func(context.Context, CommandContext) error {
		panic("nil map")
	})

	f.handle(t, `{"update_id":7,"message":{"message_id":1,"chat":{"id":42},"text":"/panic","entities":[{"type":"bot_command","offset":0,"length":6}]}}`)

	texts := f.api.texts()
	require.Len(t, texts, 1)
	assert.Contains(t, texts[0], "Что-то пошло не так")
	_, _, failed := f.bot.Stats()
	assert.Equal(t, int64(1), failed)
}

func TestBot_InvalidPayload(t *testing.T) {
	f := newFixture(t, nil)
	err := f.bot.HandleTelegramUpdate(context.Background(), []byte(`{"update_id":`))
	assert.ErrorIs(t, err, handlers.ErrInvalidUpdate)
}

func TestBot_SetupModes(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, f.bot.Setup(context.Background()))
	assert.Equal(t, 1, f.api.deleted)
	assert.Empty(t, f.api.webhooks)

	f = newFixture(t, func(c *BotConfig) {
		c.Mode = ModeWebhook
		c.WebhookURL = "https://bot.example.com/webhook/telegram"
		c.WebhookSecret = "s3cret"
	})
	require.NoError(t, f.bot.Setup(context.Background()))
	assert.Equal(t, 1, f.api.deleted)
	require.Len(t, f.api.webhooks, 1)
	assert.Equal(t, "s3cret", f.api.webhooks[0].SecretToken)

	f.api.meErr = errors.New("401 Unauthorized")
	assert.Error(t, f.bot.Setup(context.Background()))
}

func TestBot_ConfigValidation(t *testing.T) {
	cfg := DefaultBotConfig()
	cfg.Mode = ModeWebhook
	assert.Error(t, cfg.Validate())
	cfg.Mode = "carrier-pigeon"
	assert.Error(t, cfg.Validate())
	_, err := NewBot(DefaultBotConfig(), BotDependencies{})
	assert.Error(t, err)
}

func TestBot_StopRejectsNewUpdates(t *testing.T) {
	f := newFixture(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.bot.Run(ctx) }()

	require.NoError(t, f.bot.Stop(context.Background()))
	assert.ErrorIs(t, f.bot.HandleTelegramUpdate(context.Background(), []byte(startUpdate)), ErrBotStopped)

	cancel()
	require.NoError(t, <-done)
}

func TestCommandArgs(t *testing.T) {
	assert.Equal(t, "", commandArgs("/start"))
	assert.Equal(t, "ref42", commandArgs("/start ref42"))
}
