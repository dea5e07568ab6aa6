// Package record defines the stored JSON document of a subscriber, written by
// the document-oriented backends (file, redis). The relational backends
// (sqlite, postgres) keep typed columns and only use Corrupt for rows that
// fail to map back onto a subscriber.
package record

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/alem-hub/daily-lessons/internal/domain/subscriber"
	"github.com/alem-hub/daily-lessons/pkg/timeutil"
)

// SchemaVersion is written into every document.
const SchemaVersion = 1

// Document is the persisted form of subscriber.Subscriber.
type Document struct {
	Schema                int           `json:"schema"`
	ID                    string        `json:"id"`
	RegistrationState     string        `json:"registration_state"`
	Attribute             string        `json:"attribute,omitempty"`
	NextUnitIndex         int           `json:"next_unit_index"`
	LastDeliveredOn       timeutil.Date `json:"last_delivered_on"`
	LastDeliveryAttemptAt *time.Time    `json:"last_delivery_attempt_at,omitempty"`
	Version               int64         `json:"version"`
	CreatedAt             time.Time     `json:"created_at"`
	UpdatedAt             time.Time     `json:"updated_at"`
}

// FromSubscriber converts the domain entity to a Document.
func FromSubscriber(s *subscriber.Subscriber) Document {
	return Document{
		Schema:                SchemaVersion,
		ID:                    s.ID.String(),
		RegistrationState:     string(s.State),
		Attribute:             string(s.Attribute),
		NextUnitIndex:         s.NextUnitIndex,
		LastDeliveredOn:       s.LastDeliveredOn,
		LastDeliveryAttemptAt: s.LastDeliveryAttemptAt,
		Version:               s.Version,
		CreatedAt:             s.CreatedAt.UTC(),
		UpdatedAt:             s.UpdatedAt.UTC(),
	}
}

// ToSubscriber converts a Document back to the domain entity.
func (d Document) ToSubscriber() *subscriber.Subscriber {
	return &subscriber.Subscriber{
		ID:                    subscriber.ID(d.ID),
		State:                 subscriber.RegistrationState(d.RegistrationState),
		Attribute:             subscriber.Attribute(d.Attribute),
		NextUnitIndex:         d.NextUnitIndex,
		LastDeliveredOn:       d.LastDeliveredOn,
		LastDeliveryAttemptAt: d.LastDeliveryAttemptAt,
		Version:               d.Version,
		CreatedAt:             d.CreatedAt,
		UpdatedAt:             d.UpdatedAt,
	}
}

// Encode serializes s as an indented JSON document.
func Encode(s *subscriber.Subscriber) ([]byte, error) {
	data, err := json.MarshalIndent(FromSubscriber(s), "", "  ")
	if err != nil {
		return nil, fmt.Errorf("record: encode %s: %w", s.ID, err)
	}
	return append(data, '\n'), nil
}

// Decode parses and validates a stored document. Any failure wraps
// subscriber.ErrCorruptRecord, and a document stored under a different id
// is rejected as well.
func Decode(id subscriber.ID, data []byte) (*subscriber.Subscriber, error) {
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, Corrupt(id, err)
	}
	if doc.Schema != SchemaVersion {
		return nil, Corrupt(id, fmt.Errorf("unsupported schema %d", doc.Schema))
	}
	if doc.ID != id.String() {
		return nil, Corrupt(id, fmt.Errorf("document id %q does not match key", doc.ID))
	}

	s := doc.ToSubscriber()
	if err := s.Validate(); err != nil {
		return nil, Corrupt(id, err)
	}
	return s, nil
}

// Corrupt wraps cause as a corrupt-record error for id.
func Corrupt(id subscriber.ID, cause error) error {
	return fmt.Errorf("record %s: %w: %w", id, subscriber.ErrCorruptRecord, cause)
}
