package record

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/daily-lessons/internal/domain/shared"
	"github.com/alem-hub/daily-lessons/internal/domain/subscriber"
	"github.com/alem-hub/daily-lessons/pkg/timeutil"
)

func sample() *subscriber.Subscriber {
	at := time.Date(2024, 5, 2, 8, 0, 0, 0, time.UTC)
	return &subscriber.Subscriber{
		ID:                    "777",
		State:                 subscriber.StateActive,
		Attribute:             subscriber.AttributeMale,
		NextUnitIndex:         3,
		LastDeliveredOn:       timeutil.MustParseDate("2024-05-02"),
		LastDeliveryAttemptAt: &at,
		Version:               4,
		CreatedAt:             at.Add(-48 * time.Hour),
		UpdatedAt:             at,
	}
}

func TestEncodeDecode(t *testing.T) {
	data, err := Encode(sample())
	require.NoError(t, err)
	assert.Contains(t, string(data), `"last_delivered_on": "2024-05-02"`)

	got, err := Decode("777", data)
	require.NoError(t, err)
	assert.Equal(t, sample(), got)
}

func TestDecode_Corrupt(t *testing.T) {
	cases := map[string]string{
		"truncated":     `{"schema":1,"id":"777","regis`,
		"wrong schema":  `{"schema":9,"id":"777","registration_state":"active","next_unit_index":1,"version":1}`,
		"wrong id":      `{"schema":1,"id":"778","registration_state":"active","next_unit_index":1,"version":1}`,
		"unknown state": `{"schema":1,"id":"777","registration_state":"paused","next_unit_index":1,"version":1}`,
		"zero unit":     `{"schema":1,"id":"777","registration_state":"active","next_unit_index":0,"version":1}`,
		"bad date":      `{"schema":1,"id":"777","registration_state":"active","next_unit_index":1,"version":1,"last_delivered_on":"yesterday"}`,
	}

	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Decode("777", []byte(raw))
			require.Error(t, err)
			assert.ErrorIs(t, err, subscriber.ErrCorruptRecord)
			assert.ErrorIs(t, err, shared.ErrIntegrity)
		})
	}
}
