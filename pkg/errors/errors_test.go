package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCodeOfWrappedChain(t *testing.T) {
	base := Transport("line multicast failed", stderrors.New("status 500"))
	wrapped := fmt.Errorf("deliver notification: %w", base)

	assert.Equal(t, ErrTransport, CodeOf(wrapped))
	assert.True(t, Is(wrapped, ErrTransport))
	assert.False(t, Is(wrapped, ErrDuplicate))
	assert.Equal(t, ErrorCode(0), CodeOf(stderrors.New("plain")))
	assert.False(t, Is(nil, ErrTransport))
}

func TestAppErrorMessage(t *testing.T) {
	err := Validation("invalid template", stderrors.New("timing_hour out of range"))
	assert.Equal(t, "invalid template: timing_hour out of range", err.Error())

	idErr := IdentityUnavailable("TEACHER", "t-1")
	assert.Equal(t, "no LINE ID found or notifications disabled for TEACHER t-1", idErr.Error())
	assert.Nil(t, idErr.Unwrap())
}

func TestStatusCode(t *testing.T) {
	cases := map[ErrorCode]int{
		ErrNotFound:            http.StatusNotFound,
		ErrBadRequest:          http.StatusBadRequest,
		ErrValidation:          http.StatusBadRequest,
		ErrUnauthorized:        http.StatusUnauthorized,
		ErrDuplicate:           http.StatusConflict,
		ErrTransport:           http.StatusBadGateway,
		ErrIdentityUnavailable: http.StatusBadGateway,
		ErrCritical:            http.StatusInternalServerError,
		ErrInternal:            http.StatusInternalServerError,
	}
	for code, want := range cases {
		assert.Equal(t, want, (&AppError{Code: code}).StatusCode(), "code %d", code)
	}
}
