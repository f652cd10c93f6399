package hive

import (
	"errors"
	"fmt"

	"github.com/k-iijima/hiveforge/internal/akashic"
	"github.com/k-iijima/hiveforge/internal/pipeline"
)

// Code classifies a boundary failure. The REST/MCP facade maps codes
// onto transport statuses; the core only deals in codes.
type Code string

const (
	CodeNotFound         Code = "not_found"
	CodeConflict         Code = "conflict"
	CodeValidationFailed Code = "validation_failed"
	CodeApprovalRequired Code = "approval_required"
	CodeTimeout          Code = "timeout"
	CodePermissionDenied Code = "permission_denied"
	CodeInternal         Code = "internal"
)

// Error is the typed failure returned by every handler. Detail carries
// a minimal machine-readable payload; no stack traces leak through it.
type Error struct {
	Code    Code                   `json:"code"`
	Message string                 `json:"message"`
	Detail  map[string]interface{} `json:"detail,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewError builds a typed boundary error.
func NewError(code Code, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// With attaches one detail entry and returns the error for chaining.
func (e *Error) With(key string, value interface{}) *Error {
	if e.Detail == nil {
		e.Detail = map[string]interface{}{}
	}
	e.Detail[key] = value
	return e
}

// AsError extracts the typed error from an error chain.
func AsError(err error) (*Error, bool) {
	var he *Error
	if errors.As(err, &he) {
		return he, true
	}
	return nil, false
}

// classify maps internal failures onto boundary codes. Unrecognized
// errors become internal.
func classify(err error) *Error {
	if err == nil {
		return nil
	}
	if he, ok := AsError(err); ok {
		return he
	}
	switch {
	case errors.Is(err, akashic.ErrStreamNotFound), errors.Is(err, pipeline.ErrRequestNotFound):
		return NewError(CodeNotFound, "%s", err.Error())
	case errors.Is(err, akashic.ErrInvalidStreamID):
		return NewError(CodeValidationFailed, "%s", err.Error())
	case errors.Is(err, akashic.ErrLockTimeout):
		return NewError(CodeTimeout, "%s", err.Error())
	case errors.Is(err, pipeline.ErrValidationFailed):
		return NewError(CodeValidationFailed, "%s", err.Error())
	case errors.Is(err, pipeline.ErrRequestResolved):
		return NewError(CodeConflict, "%s", err.Error())
	default:
		return NewError(CodeInternal, "%s", err.Error())
	}
}
