package relay

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors for well-known, stable conditions. Callers check
// them with errors.Is(). Context-rich failures use the structured
// types below, which implement Error(), Unwrap() where they wrap, and
// Is() for errors.Is() compatibility.
var (
	ErrNoRoute          = errors.New("no matching route")
	ErrInvalidParam     = errors.New("invalid parameter type")
	ErrSerialization    = errors.New("response serialization failed")
	ErrFileRead         = errors.New("file read failed")
	ErrRateLimited      = errors.New("rate limit exceeded")
	ErrAccessDenied     = errors.New("access denied")
	ErrMalformedBody    = errors.New("malformed request body")
	ErrStoreUnavailable = errors.New("record store unavailable")
)

// InvalidParamError reports a route parameter whose runtime type does
// not satisfy the declared rule.
type InvalidParamError struct {
	Name string
	Want string
	Got  string
}

// Error implements the error interface.
func (e *InvalidParamError) Error() string {
	return fmt.Sprintf("parameter %q must be of type %s, got %s", e.Name, e.Want, e.Got)
}

// Is checks if the error matches the target.
func (e *InvalidParamError) Is(target error) bool {
	if target == ErrInvalidParam {
		return true
	}
	_, ok := target.(*InvalidParamError)
	return ok
}

// NewInvalidParamError creates a new InvalidParamError.
func NewInvalidParamError(name, want, got string) *InvalidParamError {
	return &InvalidParamError{Name: name, Want: want, Got: got}
}

// BodyError reports a request body failure. Stage distinguishes
// transport reads from decoding so callers can map the failure to the
// right status class.
type BodyError struct {
	Stage string // "read" or "decode"
	Cause error
}

// Error implements the error interface.
func (e *BodyError) Error() string {
	return fmt.Sprintf("body %s failed: %v", e.Stage, e.Cause)
}

// Unwrap returns the underlying error.
func (e *BodyError) Unwrap() error {
	return e.Cause
}

// Is checks if the error matches the target.
func (e *BodyError) Is(target error) bool {
	if target == ErrMalformedBody {
		return true
	}
	_, ok := target.(*BodyError)
	return ok || errors.Is(e.Cause, target)
}

// NewBodyError creates a new BodyError.
func NewBodyError(stage string, cause error) *BodyError {
	return &BodyError{Stage: stage, Cause: cause}
}

// StoreError reports a record store failure observed by a pipeline
// stage.
type StoreError struct {
	Op    string
	Cause error
}

// Error implements the error interface.
func (e *StoreError) Error() string {
	return fmt.Sprintf("store %s failed: %v", e.Op, e.Cause)
}

// Unwrap returns the underlying error.
func (e *StoreError) Unwrap() error {
	return e.Cause
}

// Is checks if the error matches the target.
func (e *StoreError) Is(target error) bool {
	if target == ErrStoreUnavailable {
		return true
	}
	_, ok := target.(*StoreError)
	return ok || errors.Is(e.Cause, target)
}

// NewStoreError creates a new StoreError.
func NewStoreError(op string, cause error) *StoreError {
	return &StoreError{Op: op, Cause: cause}
}

// HTTPStatus maps a pipeline error to its HTTP status code. Unmatched
// routes map to 400 rather than 404 so a wrong path and a wrong method
// produce the same answer. Unknown errors map to 500.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrNoRoute):
		return http.StatusBadRequest
	case errors.Is(err, ErrInvalidParam):
		return http.StatusBadRequest
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, ErrAccessDenied):
		return http.StatusUnauthorized
	case errors.Is(err, ErrMalformedBody):
		var bodyErr *BodyError
		if errors.As(err, &bodyErr) && bodyErr.Stage == "read" {
			return http.StatusInternalServerError
		}
		return http.StatusBadRequest
	case errors.Is(err, ErrSerialization),
		errors.Is(err, ErrFileRead),
		errors.Is(err, ErrStoreUnavailable):
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}
