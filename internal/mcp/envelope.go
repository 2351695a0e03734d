// Package mcp is the tool dispatcher: it exposes the memory engine over the
// Model Context Protocol and wraps every tool result in a uniform response
// envelope with stable error codes and machine-usable recovery actions.
package mcp

import (
	"errors"
	"time"

	engerrors "github.com/engramhq/engram/internal/errors"
	"github.com/engramhq/engram/pkg/version"
)

// Meta identifies one tool invocation.
type Meta struct {
	Tool       string    `json:"tool"`
	StartedAt  time.Time `json:"started_at"`
	DurationMS int64     `json:"duration_ms"`
	Version    string    `json:"version"`
}

// RecoveryBody tells the caller how to get unstuck.
type RecoveryBody struct {
	Hint     string   `json:"hint"`
	Actions  []string `json:"actions,omitempty"`
	Severity string   `json:"severity"`
}

// ErrorBody is the error member of the envelope.
type ErrorBody struct {
	Code     string            `json:"code"`
	Message  string            `json:"message"`
	Details  map[string]string `json:"details,omitempty"`
	Recovery RecoveryBody      `json:"recovery"`
}

// Envelope is the uniform response shape every tool returns. Errors travel
// inside the envelope, never as bare protocol failures, so callers always
// get meta and a summary they can log.
type Envelope struct {
	Meta    Meta       `json:"meta"`
	Summary string     `json:"summary"`
	Data    any        `json:"data,omitempty"`
	Hints   []string   `json:"hints,omitempty"`
	Error   *ErrorBody `json:"error,omitempty"`
}

// mapError converts any error chain into the envelope error body. Foreign
// errors surface as INTERNAL.
func mapError(err error) *ErrorBody {
	if err == nil {
		return nil
	}
	var e *engerrors.Error
	if !errors.As(err, &e) {
		e = engerrors.Wrap(engerrors.CodeInternal, err)
	}
	body := &ErrorBody{
		Code:    e.Code,
		Message: e.Message,
		Details: e.Details,
		Recovery: RecoveryBody{
			Hint:     e.Recovery.Hint,
			Actions:  e.Recovery.Actions,
			Severity: string(e.Recovery.Severity),
		},
	}
	if body.Recovery.Severity == "" {
		body.Recovery.Severity = string(e.Severity)
	}
	return body
}

// envelope assembles the final response for one call.
func envelope(tool string, started time.Time, summary string, data any, hints []string, err error) Envelope {
	env := Envelope{
		Meta: Meta{
			Tool:       tool,
			StartedAt:  started,
			DurationMS: time.Since(started).Milliseconds(),
			Version:    version.Version,
		},
		Summary: summary,
		Data:    data,
		Hints:   hints,
		Error:   mapError(err),
	}
	if err != nil && env.Summary == "" {
		env.Summary = err.Error()
	}
	return env
}
