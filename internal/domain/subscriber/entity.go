package subscriber

import (
	"strings"
	"time"
	"unicode"

	"github.com/alem-hub/daily-lessons/internal/domain/shared"
	"github.com/alem-hub/daily-lessons/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// VALUE OBJECTS
// ══════════════════════════════════════════════════════════════════════════════

// ID - идентификатор подписчика (Telegram chat id в десятичной записи).
type ID string

// maxIDLength ограничивает длину ID, чтобы он годился как имя файла и ключ.
const maxIDLength = 64

// IsValid проверяет, что ID непустой и безопасен как имя файла.
func (id ID) IsValid() bool {
	s := string(id)
	if s == "" || len(s) > maxIDLength || s == "." || s == ".." {
		return false
	}
	for _, r := range s {
		if r == '/' || r == '\\' || unicode.IsSpace(r) || unicode.IsControl(r) {
			return false
		}
	}
	return true
}

// String возвращает строковое представление ID.
func (id ID) String() string {
	return string(id)
}

// Attribute - атрибут подписчика, влияющий только на формулировки сообщений.
type Attribute string

const (
	// AttributeNone - атрибут ещё не выбран.
	AttributeNone Attribute = ""
	// AttributeMale - мужские формулировки.
	AttributeMale Attribute = "male"
	// AttributeFemale - женские формулировки.
	AttributeFemale Attribute = "female"
)

// IsValid проверяет, что атрибут выбран из допустимого набора.
func (a Attribute) IsValid() bool {
	return a == AttributeMale || a == AttributeFemale
}

// ParseAttribute разбирает значение, пришедшее из диалога.
func ParseAttribute(s string) (Attribute, error) {
	a := Attribute(strings.ToLower(strings.TrimSpace(s)))
	if !a.IsValid() {
		return AttributeNone, shared.WrapError("subscriber", "ParseAttribute", shared.ErrValidation,
			"unknown attribute value", ErrInvalidAttribute)
	}
	return a, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// ENUMS
// ══════════════════════════════════════════════════════════════════════════════

// RegistrationState - состояние регистрации подписчика.
type RegistrationState string

const (
	// StateUnregistered - запись создана, диалог ещё не начат.
	StateUnregistered RegistrationState = "unregistered"
	// StateAwaitingAttribute - ждём выбора атрибута.
	StateAwaitingAttribute RegistrationState = "awaiting_attribute"
	// StateActive - подписчик получает уроки.
	StateActive RegistrationState = "active"
	// StateCompleted - курс пройден, больше ничего не отправляем.
	StateCompleted RegistrationState = "completed"
)

// IsValid проверяет, что состояние корректно.
func (s RegistrationState) IsValid() bool {
	switch s {
	case StateUnregistered, StateAwaitingAttribute, StateActive, StateCompleted:
		return true
	default:
		return false
	}
}

// IsRegistered возвращает true, если регистрация завершена.
func (s RegistrationState) IsRegistered() bool {
	return s == StateActive || s == StateCompleted
}

// ══════════════════════════════════════════════════════════════════════════════
// MAIN ENTITY: SUBSCRIBER
// ══════════════════════════════════════════════════════════════════════════════

// Subscriber - подписчик курса.
type Subscriber struct {
	// ID - идентификатор подписчика.
	ID ID

	// State - состояние регистрации.
	State RegistrationState

	// Attribute - выбранный атрибут (пусто до выбора).
	Attribute Attribute

	// NextUnitIndex - номер следующего урока, начиная с 1.
	NextUnitIndex int

	// LastDeliveredOn - календарная дата последней подтверждённой доставки.
	LastDeliveredOn timeutil.Date

	// LastDeliveryAttemptAt - время последнего зафиксированного перехода доставки.
	LastDeliveryAttemptAt *time.Time

	// Version - токен оптимистичной блокировки, управляется хранилищем.
	Version int64

	// CreatedAt - время создания записи.
	CreatedAt time.Time

	// UpdatedAt - время последнего изменения.
	UpdatedAt time.Time
}

// New создаёт подписчика в начальном состоянии. Версию назначает хранилище.
func New(id ID, now time.Time) (*Subscriber, error) {
	if !id.IsValid() {
		return nil, ErrInvalidID
	}
	now = now.UTC()
	return &Subscriber{
		ID:            id,
		State:         StateUnregistered,
		NextUnitIndex: 1,
		CreatedAt:     now,
		UpdatedAt:     now,
	}, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// DOMAIN METHODS
// Методы не меняют сущность, если возвращают ошибку.
// ══════════════════════════════════════════════════════════════════════════════

// BeginOnboarding переводит unregistered → awaiting_attribute.
func (s *Subscriber) BeginOnboarding(at time.Time) error {
	if s.State != StateUnregistered {
		return ErrInvalidTransition
	}
	s.State = StateAwaitingAttribute
	s.UpdatedAt = at.UTC()
	return nil
}

// SelectAttribute фиксирует атрибут и активирует подписчика.
// Допустимо из unregistered и awaiting_attribute.
func (s *Subscriber) SelectAttribute(attr Attribute, at time.Time) error {
	if !attr.IsValid() {
		return ErrInvalidAttribute
	}
	if s.State.IsRegistered() {
		return ErrInvalidTransition
	}
	s.Attribute = attr
	s.State = StateActive
	s.UpdatedAt = at.UTC()
	return nil
}

// RecordDelivery фиксирует подтверждённую доставку урока unit в день today.
func (s *Subscriber) RecordDelivery(unit int, today timeutil.Date, at time.Time) error {
	if s.State != StateActive {
		return ErrInvalidTransition
	}
	if unit != s.NextUnitIndex {
		return ErrUnitMismatch
	}
	if s.LastDeliveredOn.Equal(today) {
		return ErrAlreadyDeliveredToday
	}
	if today.Before(s.LastDeliveredOn) {
		return ErrDeliveryDateRegressed
	}

	at = at.UTC()
	s.NextUnitIndex++
	s.LastDeliveredOn = today
	s.LastDeliveryAttemptAt = &at
	s.UpdatedAt = at
	return nil
}

// Complete переводит active → completed, когда все уроки отправлены.
func (s *Subscriber) Complete(totalUnits int, at time.Time) error {
	if s.State != StateActive {
		return ErrInvalidTransition
	}
	if s.NextUnitIndex <= totalUnits {
		return ErrCourseNotFinished
	}

	at = at.UTC()
	s.State = StateCompleted
	s.LastDeliveryAttemptAt = &at
	s.UpdatedAt = at
	return nil
}

// IsFinished возвращает true, если все уроки курса уже доставлены.
func (s *Subscriber) IsFinished(totalUnits int) bool {
	return s.NextUnitIndex > totalUnits
}

// Clone возвращает глубокую копию.
func (s *Subscriber) Clone() *Subscriber {
	if s == nil {
		return nil
	}
	c := *s
	if s.LastDeliveryAttemptAt != nil {
		t := *s.LastDeliveryAttemptAt
		c.LastDeliveryAttemptAt = &t
	}
	return &c
}

// Validate проверяет целостность сохранённой записи.
func (s *Subscriber) Validate() error {
	switch {
	case !s.ID.IsValid():
		return ErrInvalidID
	case !s.State.IsValid():
		return shared.NewDomainError("subscriber", "Validate", shared.ErrIntegrity, "unknown registration state")
	case s.Attribute != AttributeNone && !s.Attribute.IsValid():
		return shared.NewDomainError("subscriber", "Validate", shared.ErrIntegrity, "unknown attribute")
	case s.NextUnitIndex < 1:
		return shared.NewDomainError("subscriber", "Validate", shared.ErrIntegrity, "next unit index must be >= 1")
	case s.Version < 1:
		return shared.NewDomainError("subscriber", "Validate", shared.ErrIntegrity, "version must be >= 1")
	}
	return nil
}
