package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCodeExtraction(t *testing.T) {
	assert.Equal(t, "", Code(nil))
	assert.Equal(t, CodeInternal, Code(stderrors.New("plain")))

	err := NotFound("memory", 7)
	assert.Equal(t, CodeNotFound, Code(err))

	// Codes survive fmt wrapping.
	wrapped := fmt.Errorf("dispatch: %w", err)
	assert.Equal(t, CodeNotFound, Code(wrapped))
}

func TestIsMatchesByCode(t *testing.T) {
	a := NotFound("memory", 1)
	b := NotFound("checkpoint", "nightly")
	assert.True(t, Is(a, b))
	assert.False(t, Is(a, MissingParam("id")))
}

func TestWrapKeepsCause(t *testing.T) {
	cause := stderrors.New("disk full")
	err := Database(cause)
	assert.Equal(t, CodeDatabaseError, err.Code)
	assert.True(t, Is(err, cause))
	assert.Equal(t, CategoryStorage, err.Category)
}

func TestWrapNilIsNil(t *testing.T) {
	assert.Nil(t, Wrap(CodeInternal, nil))
}

func TestMissingParamShape(t *testing.T) {
	err := MissingParam("query")
	assert.Equal(t, CodeMissingRequiredParam, err.Code)
	assert.Equal(t, "query", err.Details["param"])
	assert.NotEmpty(t, err.Recovery.Hint)
	assert.Equal(t, SeverityError, err.Severity)
	assert.False(t, err.Retryable)
}

func TestRateLimitedShape(t *testing.T) {
	err := RateLimited(7)
	assert.Equal(t, CodeRateLimited, err.Code)
	assert.Equal(t, "7", err.Details["wait_seconds"])
	assert.Equal(t, SeverityWarning, err.Severity)
	assert.True(t, IsRetryable(err))
	require.NotEmpty(t, err.Recovery.Actions)
	assert.Contains(t, err.Recovery.Actions[0], "7 seconds")
}

func TestDimensionMismatchIsFatal(t *testing.T) {
	err := DimensionMismatch(768, 384)
	assert.Equal(t, CodeDimensionMismatch, err.Code)
	assert.Equal(t, SeverityFatal, err.Severity)
	assert.Equal(t, "768", err.Details["expected"])
	assert.Equal(t, "384", err.Details["got"])
	assert.False(t, IsRetryable(err))
}

func TestWithDetailChaining(t *testing.T) {
	err := New(CodeInternal, "boom", nil).
		WithDetail("phase", "commit").
		WithDetail("file", "a.md")
	assert.Equal(t, "commit", err.Details["phase"])
	assert.Equal(t, "a.md", err.Details["file"])
}

func TestIsRetryableForeign(t *testing.T) {
	assert.False(t, IsRetryable(stderrors.New("nope")))
}
