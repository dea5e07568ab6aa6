// Package presenter formats onboarding prompts for Telegram display.
// Presenters convert dialogue steps into user-facing texts and inline keyboards.
package presenter

import (
	"github.com/alem-hub/daily-lessons/internal/domain/subscriber"
	"github.com/alem-hub/daily-lessons/internal/infrastructure/external/telegram"
)

// ══════════════════════════════════════════════════════════════════════════════
// CALLBACK DATA
// ══════════════════════════════════════════════════════════════════════════════

const (
	// CallbackStartRegistration - кнопка «Начать обучение» из старых приветствий.
	CallbackStartRegistration = "start_registration"

	// CallbackGenderMale - выбор «Мужчина».
	CallbackGenderMale = "gender_male"

	// CallbackGenderFemale - выбор «Женщина».
	CallbackGenderFemale = "gender_female"
)

// AttributeForCallback maps attribute button data to the attribute it selects.
func AttributeForCallback(data string) (subscriber.Attribute, bool) {
	switch data {
	case CallbackGenderMale:
		return subscriber.AttributeMale, true
	case CallbackGenderFemale:
		return subscriber.AttributeFemale, true
	default:
		return subscriber.AttributeNone, false
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// INLINE KEYBOARD TYPES
// ══════════════════════════════════════════════════════════════════════════════

// InlineKeyboard represents an inline keyboard independent of the Bot API types.
type InlineKeyboard struct {
	Rows [][]InlineButton
}

// InlineButton represents a single callback button.
type InlineButton struct {
	Text         string
	CallbackData string
}

// NewInlineKeyboard creates a new empty inline keyboard.
func NewInlineKeyboard() *InlineKeyboard {
	return &InlineKeyboard{Rows: make([][]InlineButton, 0)}
}

// AddRow adds a row of buttons.
func (k *InlineKeyboard) AddRow(buttons ...InlineButton) *InlineKeyboard {
	k.Rows = append(k.Rows, buttons)
	return k
}

// CallbackButton creates a callback button.
func CallbackButton(text, callbackData string) InlineButton {
	return InlineButton{Text: text, CallbackData: callbackData}
}

// Markup converts the keyboard to the Bot API representation.
func (k *InlineKeyboard) Markup() *telegram.InlineKeyboardMarkup {
	kb := telegram.NewKeyboard()
	for _, row := range k.Rows {
		buttons := make([]telegram.InlineKeyboardButton, 0, len(row))
		for _, b := range row {
			buttons = append(buttons, telegram.Button(b.Text, b.CallbackData))
		}
		kb.Row(buttons...)
	}
	return kb.Build()
}

// ══════════════════════════════════════════════════════════════════════════════
// KEYBOARD BUILDER
// ══════════════════════════════════════════════════════════════════════════════

// KeyboardBuilder builds the onboarding keyboards.
type KeyboardBuilder struct{}

// NewKeyboardBuilder creates a new KeyboardBuilder.
func NewKeyboardBuilder() *KeyboardBuilder {
	return &KeyboardBuilder{}
}

// AttributeKeyboard - одна кнопка на строку, как в исходном боте.
func (b *KeyboardBuilder) AttributeKeyboard() *InlineKeyboard {
	return NewInlineKeyboard().
		AddRow(CallbackButton("Мужчина", CallbackGenderMale)).
		AddRow(CallbackButton("Женщина", CallbackGenderFemale))
}
