package subscriber

import "github.com/alem-hub/daily-lessons/internal/domain/shared"

// ══════════════════════════════════════════════════════════════════════════════
// DOMAIN ERRORS
// ══════════════════════════════════════════════════════════════════════════════

var (
	// ErrNotFound - подписчик не найден.
	ErrNotFound = shared.NewDomainError("subscriber", "Get", shared.ErrNotFound, "subscriber not found")

	// ErrVersionConflict - запись изменилась с момента чтения.
	ErrVersionConflict = shared.NewDomainError("subscriber", "Commit", shared.ErrConflict, "version conflict")

	// ErrCorruptRecord - запись не читается или нарушает инварианты.
	ErrCorruptRecord = shared.NewDomainError("subscriber", "Get", shared.ErrIntegrity, "corrupt subscriber record")

	// ErrInvalidID - невалидный идентификатор.
	ErrInvalidID = shared.NewDomainError("subscriber", "Validate", shared.ErrInvalidID, "invalid subscriber id")

	// ErrInvalidAttribute - атрибут вне допустимого набора.
	ErrInvalidAttribute = shared.NewDomainError("subscriber", "SelectAttribute", shared.ErrValidation, "invalid attribute")

	// ErrInvalidTransition - переход состояния запрещён.
	ErrInvalidTransition = shared.NewDomainError("subscriber", "Transition", shared.ErrStateTransition, "invalid registration state transition")

	// ErrUnitMismatch - попытка записать доставку не того урока.
	ErrUnitMismatch = shared.NewDomainError("subscriber", "RecordDelivery", shared.ErrStateTransition, "unit does not match next unit index")

	// ErrAlreadyDeliveredToday - урок уже доставлен сегодня.
	ErrAlreadyDeliveredToday = shared.NewDomainError("subscriber", "RecordDelivery", shared.ErrStateTransition, "unit already delivered today")

	// ErrDeliveryDateRegressed - дата доставки раньше последней записанной.
	ErrDeliveryDateRegressed = shared.NewDomainError("subscriber", "RecordDelivery", shared.ErrStateTransition, "delivery date is before last delivered date")

	// ErrCourseNotFinished - завершение раньше последнего урока.
	ErrCourseNotFinished = shared.NewDomainError("subscriber", "Complete", shared.ErrStateTransition, "course is not finished")
)
