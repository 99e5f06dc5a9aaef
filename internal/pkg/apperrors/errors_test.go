package apperrors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsMatchesByType(t *testing.T) {
	err := fmt.Errorf("submit: %w", NewLockTimeout("nonce lock", errors.New("deadline")))

	assert.True(t, errors.Is(err, LockTimeout))
	assert.False(t, errors.Is(err, Terminal))
	assert.True(t, IsType(err, ErrLockTimeout))
}

func TestUnwrapReachesCause(t *testing.T) {
	cause := errors.New("connection reset")
	err := NewTransient("send failed", cause)

	assert.True(t, errors.Is(err, cause))
	assert.Equal(t, "send failed: connection reset", err.Error())
}

func TestWrapKeepsAppError(t *testing.T) {
	orig := NewInsufficientBalance("hot balance too low")
	assert.Same(t, orig, Wrap(fmt.Errorf("outer: %w", orig)))

	plain := Wrap(errors.New("boom"))
	assert.Equal(t, ErrInternal, plain.Type)
	assert.Equal(t, http.StatusInternalServerError, plain.HTTPStatus)
	assert.Nil(t, Wrap(nil))
}

func TestStatusMapping(t *testing.T) {
	assert.Equal(t, http.StatusConflict, NewInsufficientBalance("x").HTTPStatus)
	assert.Equal(t, http.StatusBadRequest, NewInvalidRequest("x").HTTPStatus)
	assert.Equal(t, http.StatusServiceUnavailable, NewLockTimeout("x", nil).HTTPStatus)
	assert.NotEmpty(t, NewTerminal("x", nil).Suggestion)
}
