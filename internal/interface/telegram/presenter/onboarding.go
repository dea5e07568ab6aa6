package presenter

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/alem-hub/daily-lessons/internal/domain/subscriber"
	"github.com/alem-hub/daily-lessons/internal/infrastructure/external/telegram"
	"github.com/alem-hub/daily-lessons/internal/infrastructure/service"
	"github.com/alem-hub/daily-lessons/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// TEXTS
// ══════════════════════════════════════════════════════════════════════════════

const (
	WelcomeText = "Привет! 👋 Добро пожаловать в твой персональный путь обучения по ИИ."

	AttributeIntroText    = "Отлично! Давай сначала определим твой пол."
	AttributeQuestionText = "Пожалуйста, выбери свой пол:"
	AttributeAcceptedText = "Пол успешно выбран. Приступаем к первому уроку!"

	AlreadyRegisteredText = "Ты уже зарегистрирован ✅"
	ErrorText             = "😔 Произошла ошибка. Попробуй позже."
)

// StatusText describes where a registered subscriber stands in the course.
func StatusText(sub *subscriber.Subscriber) string {
	switch sub.State {
	case subscriber.StateCompleted:
		return "🎉 Ты уже прошёл весь курс! Новых уроков больше не будет."
	case subscriber.StateActive:
		return fmt.Sprintf("%s\n\nСледующий урок: №%d. Новые уроки приходят каждый день.",
			AlreadyRegisteredText, sub.NextUnitIndex)
	default:
		return "Регистрация ещё не завершена. Нажми /start, чтобы продолжить."
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// ORIGIN MESSAGE
// ══════════════════════════════════════════════════════════════════════════════

type originKey struct{}

// Origin identifies the message whose inline button triggered the event.
type Origin struct {
	ChatID    int64
	MessageID int64
}

// WithOrigin marks ctx as handling a button press on the given message.
// The presenter then edits that message instead of sending a new one.
func WithOrigin(ctx context.Context, chatID, messageID int64) context.Context {
	return context.WithValue(ctx, originKey{}, Origin{ChatID: chatID, MessageID: messageID})
}

func originFrom(ctx context.Context, chatID int64) (Origin, bool) {
	o, ok := ctx.Value(originKey{}).(Origin)
	if !ok || o.ChatID != chatID || o.MessageID == 0 {
		return Origin{}, false
	}
	return o, true
}

// ══════════════════════════════════════════════════════════════════════════════
// ONBOARDING PRESENTER
// ══════════════════════════════════════════════════════════════════════════════

// Sender is the part of telegram.Client the presenter needs.
type Sender interface {
	SendText(ctx context.Context, chatID int64, text string) (*telegram.Message, error)
	SendWithKeyboard(ctx context.Context, chatID int64, text string, keyboard *telegram.InlineKeyboardMarkup) (*telegram.Message, error)
	EditMessageText(ctx context.Context, chatID int64, messageID int64, text string) (*telegram.Message, error)
}

// OnboardingPresenter renders the registration dialogue. It implements
// onboarding.Prompter.
type OnboardingPresenter struct {
	sender    Sender
	keyboards *KeyboardBuilder
	logger    *slog.Logger
}

// NewOnboardingPresenter creates an OnboardingPresenter.
func NewOnboardingPresenter(sender Sender, log *slog.Logger) *OnboardingPresenter {
	return &OnboardingPresenter{
		sender:    sender,
		keyboards: NewKeyboardBuilder(),
		logger:    logger.OrDefault(log).With(logger.Component("presenter")),
	}
}

// Welcome greets a subscriber who sent /start.
func (p *OnboardingPresenter) Welcome(ctx context.Context, to subscriber.ID) error {
	chatID, err := service.ChatID(to)
	if err != nil {
		return err
	}
	_, err = p.sender.SendText(ctx, chatID, WelcomeText)
	return err
}

// AskAttribute sends the introduction and the attribute keyboard.
func (p *OnboardingPresenter) AskAttribute(ctx context.Context, to subscriber.ID) error {
	chatID, err := service.ChatID(to)
	if err != nil {
		return err
	}
	if err := p.replace(ctx, chatID, AttributeIntroText); err != nil {
		return err
	}
	_, err = p.sender.SendWithKeyboard(ctx, chatID, AttributeQuestionText, p.keyboards.AttributeKeyboard().Markup())
	return err
}

// AttributeAccepted confirms the choice, replacing the keyboard when the
// choice came from it.
func (p *OnboardingPresenter) AttributeAccepted(ctx context.Context, to subscriber.ID, _ subscriber.Attribute) error {
	chatID, err := service.ChatID(to)
	if err != nil {
		return err
	}
	return p.replace(ctx, chatID, AttributeAcceptedText)
}

// ReportStatus answers /start from a registered subscriber.
func (p *OnboardingPresenter) ReportStatus(ctx context.Context, to subscriber.ID, sub *subscriber.Subscriber) error {
	chatID, err := service.ChatID(to)
	if err != nil {
		return err
	}
	_, err = p.sender.SendText(ctx, chatID, StatusText(sub))
	return err
}

// replace edits the origin message when there is one, otherwise sends text.
// A failed edit falls back to a new message.
func (p *OnboardingPresenter) replace(ctx context.Context, chatID int64, text string) error {
	if o, ok := originFrom(ctx, chatID); ok {
		_, err := p.sender.EditMessageText(ctx, o.ChatID, o.MessageID, text)
		if err == nil {
			return nil
		}
		if telegram.IsUnreachable(err) {
			return err
		}
		p.logger.WarnContext(ctx, "edit failed, sending new message",
			logger.TelegramChatID(chatID), logger.Err(err))
	}
	_, err := p.sender.SendText(ctx, chatID, text)
	return err
}
