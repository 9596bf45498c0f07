package config

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidationError(t *testing.T) {
	t.Run("with field", func(t *testing.T) {
		err := NewValidationError("rule", "overdue_reviews", "schedule", ErrInvalidValue)
		assert.Equal(t, "rule[overdue_reviews].schedule: invalid field value", err.Error())
		assert.True(t, errors.Is(err, ErrInvalidValue))
	})

	t.Run("without field", func(t *testing.T) {
		err := NewValidationError("hub", "hub", "", ErrMissingRequiredField)
		assert.Equal(t, "hub: missing required field", err.Error())
	})

	t.Run("singleton section with field", func(t *testing.T) {
		err := NewValidationError("auth", "", "jwt_secret", ErrMissingRequiredField)
		assert.Equal(t, "auth.jwt_secret: missing required field", err.Error())
	})
}

func TestLoadError(t *testing.T) {
	base := errors.New("permission denied")
	err := NewLoadError("hearth.yaml", base)

	assert.Contains(t, err.Error(), "failed to load hearth.yaml")
	assert.Contains(t, err.Error(), "permission denied")
	assert.Same(t, base, errors.Unwrap(err))

	var le *LoadError
	assert.True(t, errors.As(error(err), &le))
	assert.Equal(t, "hearth.yaml", le.File)
}
