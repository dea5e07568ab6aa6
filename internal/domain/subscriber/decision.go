package subscriber

import (
	"fmt"

	"github.com/alem-hub/daily-lessons/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// ACTIONS
// ══════════════════════════════════════════════════════════════════════════════

// ActionKind - тип решения для подписчика на сегодня.
type ActionKind string

const (
	// ActionSendUnit - отправить урок Action.Unit.
	ActionSendUnit ActionKind = "send_unit"
	// ActionMarkCompleted - отметить курс пройденным.
	ActionMarkCompleted ActionKind = "mark_completed"
	// ActionNoOp - ничего не делать.
	ActionNoOp ActionKind = "noop"
)

// Причины NoOp.
const (
	ReasonNotActive             = "not-active"
	ReasonAlreadyDeliveredToday = "already-delivered-today"
)

// Action - результат Decide.
type Action struct {
	Kind   ActionKind
	Unit   int
	Reason string
}

// SendUnit создаёт действие отправки урока.
func SendUnit(unit int) Action { return Action{Kind: ActionSendUnit, Unit: unit} }

// MarkCompleted создаёт действие завершения курса.
func MarkCompleted() Action { return Action{Kind: ActionMarkCompleted} }

// NoOp создаёт пустое действие с причиной.
func NoOp(reason string) Action { return Action{Kind: ActionNoOp, Reason: reason} }

// String возвращает читаемое представление действия.
func (a Action) String() string {
	switch a.Kind {
	case ActionSendUnit:
		return fmt.Sprintf("SendUnit(%d)", a.Unit)
	case ActionMarkCompleted:
		return "MarkCompleted"
	default:
		return fmt.Sprintf("NoOp(%s)", a.Reason)
	}
}

// HasEffect возвращает true для действий с внешним эффектом.
func (a Action) HasEffect() bool {
	return a.Kind == ActionSendUnit || a.Kind == ActionMarkCompleted
}

// ══════════════════════════════════════════════════════════════════════════════
// DECISION
// ══════════════════════════════════════════════════════════════════════════════

// Decide - чистая функция: что сделать с подписчиком в день today.
//
// Порядок проверок важен: неактивные пропускаются, пройденный курс
// завершается, повторная отправка в тот же день запрещена. День раньше
// последней доставки тоже считается уже обслуженным.
func Decide(s Subscriber, today timeutil.Date, totalUnits int) Action {
	if s.State != StateActive {
		return NoOp(ReasonNotActive)
	}
	if s.NextUnitIndex > totalUnits {
		return MarkCompleted()
	}
	if s.LastDeliveredOn.Equal(today) || today.Before(s.LastDeliveredOn) {
		return NoOp(ReasonAlreadyDeliveredToday)
	}
	return SendUnit(s.NextUnitIndex)
}
