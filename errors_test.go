package relay

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/relaykit/relay/observability"
)

// nopTestLogger keeps expected failure paths quiet in tests.
func nopTestLogger() observability.Logger {
	return observability.NopLogger()
}

func TestHTTPStatus(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want int
	}{
		{name: "nil", err: nil, want: http.StatusOK},
		{name: "no route", err: ErrNoRoute, want: http.StatusBadRequest},
		{name: "invalid param sentinel", err: ErrInvalidParam, want: http.StatusBadRequest},
		{
			name: "invalid param structured",
			err:  NewInvalidParamError("id", "number", "string"),
			want: http.StatusBadRequest,
		},
		{name: "rate limited", err: ErrRateLimited, want: http.StatusTooManyRequests},
		{name: "access denied", err: ErrAccessDenied, want: http.StatusUnauthorized},
		{
			name: "body decode failure",
			err:  NewBodyError("decode", errors.New("bad json")),
			want: http.StatusBadRequest,
		},
		{
			name: "body read failure",
			err:  NewBodyError("read", errors.New("connection reset")),
			want: http.StatusInternalServerError,
		},
		{name: "serialization", err: ErrSerialization, want: http.StatusInternalServerError},
		{name: "file read", err: ErrFileRead, want: http.StatusInternalServerError},
		{
			name: "store failure",
			err:  NewStoreError("find", errors.New("dial tcp: refused")),
			want: http.StatusInternalServerError,
		},
		{name: "unknown", err: errors.New("mystery"), want: http.StatusInternalServerError},
		{
			name: "wrapped sentinel",
			err:  fmt.Errorf("stage: %w", ErrAccessDenied),
			want: http.StatusUnauthorized,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, tt.want, HTTPStatus(tt.err))
		})
	}
}

func TestInvalidParamError(t *testing.T) {
	t.Parallel()

	err := NewInvalidParamError("count", "number", "string")

	assert.True(t, errors.Is(err, ErrInvalidParam))
	assert.Contains(t, err.Error(), `"count"`)
	assert.Contains(t, err.Error(), "number")

	var typed *InvalidParamError
	assert.True(t, errors.As(err, &typed))
	assert.Equal(t, "count", typed.Name)
}

func TestBodyError(t *testing.T) {
	t.Parallel()

	cause := errors.New("unexpected EOF")
	err := NewBodyError("decode", cause)

	assert.True(t, errors.Is(err, ErrMalformedBody))
	assert.True(t, errors.Is(err, cause))
	assert.Equal(t, cause, errors.Unwrap(err))
}

func TestStoreError(t *testing.T) {
	t.Parallel()

	cause := errors.New("redis down")
	err := NewStoreError("insert", cause)

	assert.True(t, errors.Is(err, ErrStoreUnavailable))
	assert.True(t, errors.Is(err, cause))
	assert.Contains(t, err.Error(), "insert")
}
