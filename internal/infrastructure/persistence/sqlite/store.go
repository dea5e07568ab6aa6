// Package sqlite implements subscriber.Store on an embedded SQLite database
// (modernc.org/sqlite, no cgo). Version checks are conditional updates, so
// every commit is a single atomic statement.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/alem-hub/daily-lessons/internal/domain/subscriber"
	"github.com/alem-hub/daily-lessons/internal/infrastructure/persistence/record"
	"github.com/alem-hub/daily-lessons/pkg/timeutil"
)

const schema = `
CREATE TABLE IF NOT EXISTS subscribers (
	id                       TEXT PRIMARY KEY,
	registration_state       TEXT NOT NULL,
	attribute                TEXT NOT NULL DEFAULT '',
	next_unit_index          INTEGER NOT NULL,
	last_delivered_on        TEXT NOT NULL DEFAULT '',
	last_delivery_attempt_at TEXT,
	version                  INTEGER NOT NULL,
	created_at               TEXT NOT NULL,
	updated_at               TEXT NOT NULL
);
`

const selectColumns = `id, registration_state, attribute, next_unit_index, last_delivered_on,
	last_delivery_attempt_at, version, created_at, updated_at`

// Store implements subscriber.Store using SQLite.
type Store struct {
	db *sql.DB
}

// NewStore opens the database at path and creates the schema.
// Use ":memory:" for an in-memory database.
func NewStore(ctx context.Context, path string) (*Store, error) {
	dsn := path
	if path != ":memory:" {
		dsn = "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(FULL)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite store: open %s: %w", path, err)
	}
	// one writer keeps version checks serialized and :memory: on one connection
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite store: initialize schema: %w", err)
	}
	return &Store{db: db}, nil
}

// DB exposes the handle for tests and admin tooling.
func (s *Store) DB() *sql.DB { return s.db }

// Get implements subscriber.Store.
func (s *Store) Get(ctx context.Context, id subscriber.ID) (*subscriber.Subscriber, error) {
	if !id.IsValid() {
		return nil, subscriber.ErrInvalidID
	}
	row := s.db.QueryRowContext(ctx, `SELECT `+selectColumns+` FROM subscribers WHERE id = ?`, id.String())
	return scanSubscriber(id, row)
}

// CreateIfAbsent implements subscriber.Store.
func (s *Store) CreateIfAbsent(ctx context.Context, id subscriber.ID, now time.Time) (*subscriber.Subscriber, error) {
	sub, err := subscriber.New(id, now)
	if err != nil {
		return nil, err
	}
	sub.Version = 1

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO subscribers (
			id, registration_state, attribute, next_unit_index, last_delivered_on,
			last_delivery_attempt_at, version, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING`,
		columnValues(sub)...,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite store: create %s: %w", id, err)
	}
	return s.Get(ctx, id)
}

// Commit implements subscriber.Store.
func (s *Store) Commit(ctx context.Context, sub *subscriber.Subscriber, expectedVersion int64) (*subscriber.Subscriber, error) {
	if !sub.ID.IsValid() {
		return nil, subscriber.ErrInvalidID
	}
	next := sub.Clone()
	next.Version = expectedVersion + 1

	vals := columnValues(next)
	result, err := s.db.ExecContext(ctx, `
		UPDATE subscribers SET
			registration_state = ?,
			attribute = ?,
			next_unit_index = ?,
			last_delivered_on = ?,
			last_delivery_attempt_at = ?,
			version = ?,
			updated_at = ?
		WHERE id = ? AND version = ?`,
		vals[1], vals[2], vals[3], vals[4], vals[5], vals[6], vals[8],
		next.ID.String(), expectedVersion,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite store: commit %s: %w", sub.ID, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("sqlite store: commit %s: %w", sub.ID, err)
	}
	if affected == 0 {
		return nil, s.missOrConflict(ctx, sub.ID)
	}
	return next, nil
}

// List implements subscriber.Store.
func (s *Store) List(ctx context.Context) ([]subscriber.ID, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM subscribers ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("sqlite store: list: %w", err)
	}
	defer rows.Close()

	var ids []subscriber.ID
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("sqlite store: scan id: %w", err)
		}
		ids = append(ids, subscriber.ID(id))
	}
	return ids, rows.Err()
}

// Ping implements the backend health check.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// ─────────────────────────────────────────────────────────────────────────────
// Helpers
// ─────────────────────────────────────────────────────────────────────────────

func (s *Store) missOrConflict(ctx context.Context, id subscriber.ID) error {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM subscribers WHERE id = ?`, id.String()).Scan(&one)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return subscriber.ErrNotFound
	case err != nil:
		return fmt.Errorf("sqlite store: check %s: %w", id, err)
	default:
		return subscriber.ErrVersionConflict
	}
}

func columnValues(s *subscriber.Subscriber) []any {
	var attempt any
	if s.LastDeliveryAttemptAt != nil {
		attempt = formatTime(*s.LastDeliveryAttemptAt)
	}
	return []any{
		s.ID.String(),
		string(s.State),
		string(s.Attribute),
		s.NextUnitIndex,
		s.LastDeliveredOn.String(),
		attempt,
		s.Version,
		formatTime(s.CreatedAt),
		formatTime(s.UpdatedAt),
	}
}

func scanSubscriber(id subscriber.ID, row *sql.Row) (*subscriber.Subscriber, error) {
	var (
		rowID, state, attr, lastOn, createdAt, updatedAt string
		attempt                                          sql.NullString
		next                                             int
		version                                          int64
	)

	err := row.Scan(&rowID, &state, &attr, &next, &lastOn, &attempt, &version, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, subscriber.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite store: get %s: %w", id, err)
	}

	sub := &subscriber.Subscriber{
		ID:            subscriber.ID(rowID),
		State:         subscriber.RegistrationState(state),
		Attribute:     subscriber.Attribute(attr),
		NextUnitIndex: next,
		Version:       version,
	}

	if sub.LastDeliveredOn, err = timeutil.ParseDate(lastOn); err != nil {
		return nil, record.Corrupt(id, err)
	}
	if attempt.Valid {
		t, err := parseTime(attempt.String)
		if err != nil {
			return nil, record.Corrupt(id, err)
		}
		sub.LastDeliveryAttemptAt = &t
	}
	if sub.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, record.Corrupt(id, err)
	}
	if sub.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, record.Corrupt(id, err)
	}
	if err := sub.Validate(); err != nil {
		return nil, record.Corrupt(id, err)
	}
	return sub, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}
