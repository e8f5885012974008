package errors

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestError_IsMatchesByCode(t *testing.T) {
	err := Configf("no settings for source %q", "helmet")

	assert.True(t, Is(err, ErrConfig))
	assert.False(t, Is(err, ErrNotFound))
	assert.Equal(t, `no settings for source "helmet"`, err.Error())
}

func TestError_WrapKeepsCause(t *testing.T) {
	cause := fmt.Errorf("database is locked")
	err := Wrap(cause, CodeTransient, "save record")

	assert.True(t, Is(err, ErrTransient))
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "save record: database is locked", err.Error())

	wrapped := fmt.Errorf("process: %w", err)
	assert.Equal(t, CodeTransient, CodeOf(wrapped))
}

func TestCodeOf_PlainError(t *testing.T) {
	assert.Equal(t, CodeInternal, CodeOf(fmt.Errorf("boom")))
}

func TestCode_HTTPStatus(t *testing.T) {
	tests := []struct {
		code Code
		want int
	}{
		{CodeNotFound, http.StatusNotFound},
		{CodeAlreadyExists, http.StatusConflict},
		{CodeConflict, http.StatusConflict},
		{CodeValidation, http.StatusBadRequest},
		{CodeUnauthorized, http.StatusUnauthorized},
		{CodeTransient, http.StatusServiceUnavailable},
		{CodeConfig, http.StatusInternalServerError},
		{CodeInternal, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.code.HTTPStatus())
		})
	}
}

func TestCode_Retryable(t *testing.T) {
	assert.True(t, CodeTransient.Retryable())
	assert.True(t, CodeConflict.Retryable())
	assert.False(t, CodeConfig.Retryable())
	assert.False(t, CodeValidation.Retryable())
}

func TestError_WithDetails(t *testing.T) {
	base := Validation("validation failed")
	detailed := base.WithDetails(map[string]string{"format": "is required"})

	assert.Nil(t, base.Details)
	assert.Equal(t, map[string]string{"format": "is required"}, detailed.Details)
	assert.True(t, Is(detailed, ErrValidation))
}
