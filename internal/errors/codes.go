// Package errors provides structured error handling for engram.
//
// Every error carries a stable code from the tool-protocol taxonomy. Codes are
// plain strings because they cross the MCP boundary verbatim; clients match on
// them to pick a recovery strategy.
package errors

// Tool-protocol error codes. These are normative strings: changing one is a
// protocol break.
const (
	CodeMissingRequiredParam = "MISSING_REQUIRED_PARAM"
	CodeInvalidParameter     = "INVALID_PARAMETER"
	CodeNotFound             = "NOT_FOUND"
	CodeRateLimited          = "RATE_LIMITED"
	CodeEmbeddingFailed      = "EMBEDDING_FAILED"
	CodeDimensionMismatch    = "DIMENSION_MISMATCH"
	CodeDatabaseError        = "DATABASE_ERROR"
	CodeUnavailable          = "UNAVAILABLE"
	CodeInternal             = "INTERNAL"
)

// Category classifies errors for logging and breaker decisions.
type Category string

const (
	CategoryValidation Category = "VALIDATION"
	CategoryNotFound   Category = "NOT_FOUND"
	CategoryRateLimit  Category = "RATE_LIMIT"
	CategoryEmbedding  Category = "EMBEDDING"
	CategoryStorage    Category = "STORAGE"
	CategoryInternal   Category = "INTERNAL"
)

// Severity indicates how the caller should treat the failure.
type Severity string

const (
	// SeverityFatal means the store refuses further work until reconciled.
	SeverityFatal Severity = "FATAL"
	// SeverityError means the operation failed but the server can continue.
	SeverityError Severity = "ERROR"
	// SeverityWarning means degraded operation (e.g. lexical-only fallback).
	SeverityWarning Severity = "WARNING"
)

// categoryFor maps a code to its category.
func categoryFor(code string) Category {
	switch code {
	case CodeMissingRequiredParam, CodeInvalidParameter:
		return CategoryValidation
	case CodeNotFound:
		return CategoryNotFound
	case CodeRateLimited:
		return CategoryRateLimit
	case CodeEmbeddingFailed, CodeDimensionMismatch, CodeUnavailable:
		return CategoryEmbedding
	case CodeDatabaseError:
		return CategoryStorage
	default:
		return CategoryInternal
	}
}

// severityFor maps a code to its default severity.
func severityFor(code string) Severity {
	switch code {
	case CodeDimensionMismatch:
		return SeverityFatal
	case CodeRateLimited, CodeUnavailable:
		return SeverityWarning
	default:
		return SeverityError
	}
}

// retryableFor reports whether operations failing with this code may be
// retried without any state change on the caller's side.
func retryableFor(code string) bool {
	switch code {
	case CodeRateLimited, CodeUnavailable, CodeEmbeddingFailed:
		return true
	default:
		return false
	}
}
