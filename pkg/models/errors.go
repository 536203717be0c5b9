// Package models defines shared domain types and errors.
package models

import "fmt"

// ErrorCode identifies a category of error for programmatic handling.
type ErrorCode string

const (
	// Validation errors
	ErrValidation       ErrorCode = "E_VALIDATION"
	ErrEmptyQuery       ErrorCode = "E_EMPTY_QUERY"
	ErrFTSQuery         ErrorCode = "E_FTS_QUERY"
	ErrMalformedPointID ErrorCode = "E_MALFORMED_POINT_ID"
	ErrPayloadTooLarge  ErrorCode = "E_PAYLOAD_TOO_LARGE"
	ErrUnsupportedMedia ErrorCode = "E_UNSUPPORTED_MEDIA"
	ErrEmptyInput       ErrorCode = "E_EMPTY_INPUT"

	// Not-found errors
	ErrCollectionNotFound ErrorCode = "E_COLLECTION_NOT_FOUND"
	ErrDocumentNotFound   ErrorCode = "E_DOCUMENT_NOT_FOUND"
	ErrJobNotFound        ErrorCode = "E_JOB_NOT_FOUND"

	// Conflict errors
	ErrCollectionExists ErrorCode = "E_COLLECTION_EXISTS"
	ErrDocumentExists   ErrorCode = "E_DOCUMENT_EXISTS"
	ErrDocumentDeleted  ErrorCode = "E_DOCUMENT_DELETED"

	// Dependency errors (transient)
	ErrStoreUnavailable  ErrorCode = "E_STORE_UNAVAILABLE"
	ErrVectorUnavailable ErrorCode = "E_VECTOR_UNAVAILABLE"
	ErrEmbedUnavailable  ErrorCode = "E_EMBED_UNAVAILABLE"
	ErrEmbedRateLimited  ErrorCode = "E_EMBED_RATE_LIMITED"

	// Dependency errors (permanent)
	ErrEmbedAuth       ErrorCode = "E_EMBED_AUTH"
	ErrEmbedBadRequest ErrorCode = "E_EMBED_BAD_REQUEST"
	ErrVectorClient    ErrorCode = "E_VECTOR_CLIENT"

	// Integrity errors
	ErrEmbedCount ErrorCode = "E_EMBED_COUNT"
	ErrIntegrity  ErrorCode = "E_INTEGRITY"

	// Internal errors
	ErrInternal          ErrorCode = "E_INTERNAL"
	ErrInvalidTransition ErrorCode = "E_INVALID_TRANSITION"
)

// RAGError is a structured error with a stable code for API clients
// and an optional wrapped cause for logs.
type RAGError struct {
	Code    ErrorCode              `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
	Cause   error                  `json:"-"`
}

// Error implements the error interface.
func (e *RAGError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *RAGError) Unwrap() error {
	return e.Cause
}

// NewError creates a new RAGError.
func NewError(code ErrorCode, message string) *RAGError {
	return &RAGError{
		Code:    code,
		Message: message,
	}
}

// WithDetails adds a detail key-value pair.
func (e *RAGError) WithDetails(key string, value interface{}) *RAGError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// WithCause attaches an underlying cause.
func (e *RAGError) WithCause(cause error) *RAGError {
	e.Cause = cause
	return e
}

// Wrap creates a RAGError wrapping a cause.
func Wrap(code ErrorCode, message string, cause error) *RAGError {
	return &RAGError{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}
