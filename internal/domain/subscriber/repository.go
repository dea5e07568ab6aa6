package subscriber

import (
	"context"
	"time"
)

// ══════════════════════════════════════════════════════════════════════════════
// REPOSITORY INTERFACES
// Реализации находятся в infrastructure/persistence.
// ══════════════════════════════════════════════════════════════════════════════

// Store - единственный источник истины о подписчиках.
//
// Версионирование: созданная запись имеет Version = 1, каждый успешный
// Commit записывает expectedVersion+1. Commit либо целиком сохраняется,
// либо отсутствует (в том числе при падении процесса).
type Store interface {
	// Get возвращает подписчика.
	// Возвращает ErrNotFound или ErrCorruptRecord (только для этой записи).
	Get(ctx context.Context, id ID) (*Subscriber, error)

	// CreateIfAbsent создаёт запись в начальном состоянии, если её нет,
	// и возвращает текущую запись. Повторный вызов ничего не меняет.
	CreateIfAbsent(ctx context.Context, id ID, now time.Time) (*Subscriber, error)

	// Commit сохраняет s, если сохранённая версия равна expectedVersion.
	// Возвращает сохранённую запись с новой версией или ErrVersionConflict.
	Commit(ctx context.Context, s *Subscriber, expectedVersion int64) (*Subscriber, error)

	// List возвращает идентификаторы всех подписчиков, включая битые записи.
	List(ctx context.Context) ([]ID, error)
}
