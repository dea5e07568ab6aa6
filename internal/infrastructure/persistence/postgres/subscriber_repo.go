package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/alem-hub/daily-lessons/internal/domain/subscriber"
	"github.com/alem-hub/daily-lessons/internal/infrastructure/persistence/record"
	"github.com/alem-hub/daily-lessons/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// SUBSCRIBER REPOSITORY IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

const subscriberColumns = `id, registration_state, attribute, next_unit_index, last_delivered_on,
	last_delivery_attempt_at, version, created_at, updated_at`

// SubscriberRepository implements subscriber.Store for PostgreSQL.
type SubscriberRepository struct {
	conn *Connection
}

// NewSubscriberRepository creates a new SubscriberRepository.
func NewSubscriberRepository(conn *Connection) *SubscriberRepository {
	return &SubscriberRepository{conn: conn}
}

// Get returns a subscriber by id.
func (r *SubscriberRepository) Get(ctx context.Context, id subscriber.ID) (*subscriber.Subscriber, error) {
	if !id.IsValid() {
		return nil, subscriber.ErrInvalidID
	}
	row := r.conn.QueryRow(ctx, `SELECT `+subscriberColumns+` FROM subscribers WHERE id = $1`, id.String())
	return scanSubscriber(id, row)
}

// CreateIfAbsent inserts a fresh subscriber unless one exists, then returns the stored row.
func (r *SubscriberRepository) CreateIfAbsent(ctx context.Context, id subscriber.ID, now time.Time) (*subscriber.Subscriber, error) {
	sub, err := subscriber.New(id, now)
	if err != nil {
		return nil, err
	}

	_, err = r.conn.Exec(ctx, `
		INSERT INTO subscribers (
			id, registration_state, attribute, next_unit_index, version, created_at, updated_at
		) VALUES ($1, $2, $3, $4, 1, $5, $5)
		ON CONFLICT (id) DO NOTHING
	`,
		sub.ID.String(),
		string(sub.State),
		string(sub.Attribute),
		sub.NextUnitIndex,
		sub.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create subscriber: %w", err)
	}

	return r.Get(ctx, id)
}

// Commit writes s if the stored version equals expectedVersion.
func (r *SubscriberRepository) Commit(ctx context.Context, s *subscriber.Subscriber, expectedVersion int64) (*subscriber.Subscriber, error) {
	if !s.ID.IsValid() {
		return nil, subscriber.ErrInvalidID
	}
	next := s.Clone()
	next.Version = expectedVersion + 1

	var lastOn *time.Time
	if !next.LastDeliveredOn.IsZero() {
		d := next.LastDeliveredOn.Start(time.UTC)
		lastOn = &d
	}

	result, err := r.conn.Exec(ctx, `
		UPDATE subscribers SET
			registration_state = $1,
			attribute = $2,
			next_unit_index = $3,
			last_delivered_on = $4,
			last_delivery_attempt_at = $5,
			version = $6,
			updated_at = $7
		WHERE id = $8 AND version = $9
	`,
		string(next.State),
		string(next.Attribute),
		next.NextUnitIndex,
		lastOn,
		next.LastDeliveryAttemptAt,
		next.Version,
		next.UpdatedAt,
		next.ID.String(),
		expectedVersion,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to commit subscriber: %w", err)
	}

	if result.RowsAffected() == 0 {
		var exists bool
		if err := r.conn.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM subscribers WHERE id = $1)`, next.ID.String()).Scan(&exists); err != nil {
			return nil, fmt.Errorf("failed to check subscriber: %w", err)
		}
		if !exists {
			return nil, subscriber.ErrNotFound
		}
		return nil, subscriber.ErrVersionConflict
	}

	return next, nil
}

// List returns all subscriber ids.
func (r *SubscriberRepository) List(ctx context.Context) ([]subscriber.ID, error) {
	rows, err := r.conn.Query(ctx, `SELECT id FROM subscribers ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list subscribers: %w", err)
	}
	defer rows.Close()

	var ids []subscriber.ID
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan subscriber id: %w", err)
		}
		ids = append(ids, subscriber.ID(id))
	}
	return ids, rows.Err()
}

// Ping implements the backend health check.
func (r *SubscriberRepository) Ping(ctx context.Context) error {
	return r.conn.Ping(ctx)
}

// Close releases the pool.
func (r *SubscriberRepository) Close() error {
	r.conn.Close()
	return nil
}

func scanSubscriber(id subscriber.ID, row pgx.Row) (*subscriber.Subscriber, error) {
	var (
		rowID, state, attr string
		next               int
		lastOn             *time.Time
		attempt            *time.Time
		version            int64
		createdAt          time.Time
		updatedAt          time.Time
	)

	err := row.Scan(&rowID, &state, &attr, &next, &lastOn, &attempt, &version, &createdAt, &updatedAt)
	if err != nil {
		if IsNoRows(err) {
			return nil, subscriber.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get subscriber: %w", err)
	}

	sub := &subscriber.Subscriber{
		ID:            subscriber.ID(rowID),
		State:         subscriber.RegistrationState(state),
		Attribute:     subscriber.Attribute(attr),
		NextUnitIndex: next,
		Version:       version,
		CreatedAt:     createdAt.UTC(),
		UpdatedAt:     updatedAt.UTC(),
	}
	if lastOn != nil {
		sub.LastDeliveredOn = timeutil.NewDate(lastOn.Year(), lastOn.Month(), lastOn.Day())
	}
	if attempt != nil {
		t := attempt.UTC()
		sub.LastDeliveryAttemptAt = &t
	}

	if err := sub.Validate(); err != nil {
		return nil, record.Corrupt(id, err)
	}
	return sub, nil
}
