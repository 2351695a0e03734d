package errors

import (
	"fmt"
)

// Recovery tells a machine caller how to get unstuck.
type Recovery struct {
	Hint     string   `json:"hint"`
	Actions  []string `json:"actions,omitempty"`
	Severity Severity `json:"severity"`
}

// Error is the structured error type for engram. It crosses the tool boundary
// as the `error` member of the response envelope.
type Error struct {
	// Code is one of the stable tool-protocol codes.
	Code string

	// Message is the human-readable error message.
	Message string

	// Category classifies the error for logging.
	Category Category

	// Severity is the default severity for this code.
	Severity Severity

	// Details contains additional context as key-value pairs.
	Details map[string]string

	// Cause is the underlying error, if any.
	Cause error

	// Retryable indicates the operation can be retried as-is.
	Retryable bool

	// Recovery carries the machine-usable recovery hint and actions.
	Recovery Recovery
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for error chain support.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches errors by code so errors.Is works across wrap layers.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Code == t.Code
	}
	return false
}

// WithDetail adds a key-value detail. Returns the error for chaining.
func (e *Error) WithDetail(key, value string) *Error {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// WithRecovery sets the recovery hint and actions. Returns the error for
// chaining.
func (e *Error) WithRecovery(hint string, actions ...string) *Error {
	e.Recovery = Recovery{Hint: hint, Actions: actions, Severity: e.Severity}
	return e
}

// New creates an Error with the given code and message. Category, severity,
// and retryability derive from the code.
func New(code, message string, cause error) *Error {
	sev := severityFor(code)
	return &Error{
		Code:      code,
		Message:   message,
		Category:  categoryFor(code),
		Severity:  sev,
		Cause:     cause,
		Retryable: retryableFor(code),
		Recovery:  Recovery{Severity: sev},
	}
}

// Newf creates an Error with a formatted message.
func Newf(code string, format string, args ...any) *Error {
	return New(code, fmt.Sprintf(format, args...), nil)
}

// Wrap creates an Error from an existing error, keeping it as the cause.
// Returns nil when err is nil.
func Wrap(code string, err error) *Error {
	if err == nil {
		return nil
	}
	return New(code, err.Error(), err)
}

// MissingParam builds the validation error for an absent required argument.
func MissingParam(name string) *Error {
	return New(CodeMissingRequiredParam, fmt.Sprintf("required parameter %q is missing", name), nil).
		WithDetail("param", name).
		WithRecovery(fmt.Sprintf("supply the %q argument and retry", name))
}

// InvalidParam builds the validation error for a malformed argument.
func InvalidParam(name, reason string) *Error {
	return New(CodeInvalidParameter, fmt.Sprintf("parameter %q is invalid: %s", name, reason), nil).
		WithDetail("param", name).
		WithRecovery("correct the argument and retry")
}

// NotFound builds a NOT_FOUND error for the named entity.
func NotFound(kind string, id any) *Error {
	return New(CodeNotFound, fmt.Sprintf("%s %v not found", kind, id), nil).
		WithRecovery(fmt.Sprintf("verify the %s identifier; call memory_list to enumerate", kind))
}

// RateLimited builds a RATE_LIMITED error carrying the remaining wait.
func RateLimited(waitSeconds int) *Error {
	return New(CodeRateLimited, fmt.Sprintf("scan cooldown active, retry in %ds", waitSeconds), nil).
		WithDetail("wait_seconds", fmt.Sprintf("%d", waitSeconds)).
		WithRecovery("wait for the cooldown to elapse", fmt.Sprintf("wait %d seconds", waitSeconds))
}

// DimensionMismatch builds the fatal embedding-dimension error.
func DimensionMismatch(expected, got int) *Error {
	return New(CodeDimensionMismatch,
		fmt.Sprintf("embedding dimension mismatch: store has %d, provider produces %d", expected, got), nil).
		WithDetail("expected", fmt.Sprintf("%d", expected)).
		WithDetail("got", fmt.Sprintf("%d", got)).
		WithRecovery("reconcile the embedding profile or rebuild the store",
			"switch back to the original embedding model",
			"or delete the store file and reindex from scratch")
}

// Database wraps a storage failure.
func Database(err error) *Error {
	return Wrap(CodeDatabaseError, err).
		WithRecovery("the transaction rolled back; retry the operation")
}

// Code extracts the tool-protocol code from an error chain. Returns
// CodeInternal for foreign errors.
func Code(err error) string {
	if err == nil {
		return ""
	}
	var e *Error
	if As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

// IsRetryable reports whether an error chain is retryable.
func IsRetryable(err error) bool {
	var e *Error
	if As(err, &e) {
		return e.Retryable
	}
	return false
}
