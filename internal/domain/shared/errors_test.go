package shared

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDomainError_Is(t *testing.T) {
	err := NewDomainError("subscriber", "Commit", ErrConflict, "version moved")

	assert.True(t, errors.Is(err, ErrConflict))
	assert.False(t, errors.Is(err, ErrNotFound))
	assert.Equal(t, "subscriber.Commit: version moved", err.Error())
	assert.Equal(t, ErrConflict, errors.Unwrap(err))
}

func TestWrapError_MatchesKindAndCause(t *testing.T) {
	cause := fmt.Errorf("dial: %w", ErrTimeout)
	err := WrapError("delivery", "Execute", ErrTransient, "send failed", cause)

	assert.True(t, errors.Is(err, ErrTransient))
	assert.True(t, errors.Is(err, ErrTimeout))
	assert.Equal(t, cause, errors.Unwrap(err))
	assert.Contains(t, err.Error(), "delivery.Execute: send failed: dial:")
}

func TestClassifiers(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		notFound   bool
		conflict   bool
		validation bool
		permanent  bool
		retryable  bool
	}{
		{"not found", NewDomainError("s", "Load", ErrNotFound, "x"), true, false, false, false, false},
		{"conflict", NewDomainError("s", "Commit", ErrConflict, "x"), false, true, false, false, true},
		{"invalid id", fmt.Errorf("parse: %w", ErrInvalidID), false, false, true, false, false},
		{"invalid input", ErrInvalidInput, false, false, true, false, false},
		{"permanent", WrapError("d", "Send", ErrPermanent, "blocked", errors.New("403")), false, false, false, true, false},
		{"timeout", ErrTimeout, false, false, false, false, true},
		{"plain", errors.New("boom"), false, false, false, false, false},
		{"nil", nil, false, false, false, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.notFound, IsNotFound(tt.err))
			assert.Equal(t, tt.conflict, IsConflict(tt.err))
			assert.Equal(t, tt.validation, IsValidation(tt.err))
			assert.Equal(t, tt.permanent, IsPermanent(tt.err))
			assert.Equal(t, tt.retryable, IsRetryable(tt.err))
		})
	}
}
