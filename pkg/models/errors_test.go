package models

import (
	"errors"
	"strings"
	"testing"
)

func TestNewError(t *testing.T) {
	err := NewError(ErrCollectionNotFound, "collection not found")

	if err.Code != ErrCollectionNotFound {
		t.Errorf("Code mismatch: got %s, want %s", err.Code, ErrCollectionNotFound)
	}
	if err.Message != "collection not found" {
		t.Errorf("Message mismatch: got %s", err.Message)
	}
	if err.Cause != nil {
		t.Error("Cause should be nil")
	}
	if err.Details != nil {
		t.Error("Details should be nil")
	}
}

func TestRAGError_Error(t *testing.T) {
	err := NewError(ErrCollectionNotFound, "collection not found")

	errStr := err.Error()
	if !strings.Contains(errStr, string(ErrCollectionNotFound)) {
		t.Errorf("Error string should contain code: %s", errStr)
	}
	if !strings.Contains(errStr, "collection not found") {
		t.Errorf("Error string should contain message: %s", errStr)
	}
}

func TestRAGError_ErrorWithCause(t *testing.T) {
	cause := errors.New("underlying error")
	err := NewError(ErrStoreUnavailable, "store unavailable").WithCause(cause)

	errStr := err.Error()
	if !strings.Contains(errStr, "underlying error") {
		t.Errorf("Error string should contain cause: %s", errStr)
	}
}

func TestRAGError_WithDetails(t *testing.T) {
	err := NewError(ErrDocumentNotFound, "document not found").
		WithDetails("docId", "abc123").
		WithDetails("collectionId", "col_1")

	if err.Details == nil {
		t.Fatal("Details should not be nil")
	}
	if err.Details["docId"] != "abc123" {
		t.Error("Details should contain docId")
	}
	if err.Details["collectionId"] != "col_1" {
		t.Error("Details should contain collectionId")
	}
}

func TestRAGError_Unwrap(t *testing.T) {
	cause := errors.New("underlying error")
	err := NewError(ErrVectorUnavailable, "vector store unavailable").WithCause(cause)

	if err.Unwrap() != cause {
		t.Error("Unwrap should return cause")
	}

	bare := NewError(ErrVectorUnavailable, "vector store unavailable")
	if bare.Unwrap() != nil {
		t.Error("Unwrap should return nil when no cause")
	}
}

func TestWrap(t *testing.T) {
	cause := errors.New("underlying error")
	err := Wrap(ErrEmbedUnavailable, "embedding failed", cause)

	if err.Code != ErrEmbedUnavailable {
		t.Errorf("Code mismatch: got %s", err.Code)
	}
	if err.Message != "embedding failed" {
		t.Errorf("Message mismatch: got %s", err.Message)
	}
	if err.Cause != cause {
		t.Error("Cause should be set")
	}
}

func TestErrorsIs(t *testing.T) {
	cause := errors.New("specific cause")
	err := Wrap(ErrEmbedUnavailable, "wrapper", cause)

	if !errors.Is(err, cause) {
		t.Error("errors.Is should find cause")
	}
}

func TestErrorCodes(t *testing.T) {
	// Verify all error codes are unique
	codes := map[ErrorCode]bool{
		ErrValidation:         true,
		ErrEmptyQuery:         true,
		ErrFTSQuery:           true,
		ErrMalformedPointID:   true,
		ErrPayloadTooLarge:    true,
		ErrUnsupportedMedia:   true,
		ErrEmptyInput:         true,
		ErrCollectionNotFound: true,
		ErrDocumentNotFound:   true,
		ErrJobNotFound:        true,
		ErrCollectionExists:   true,
		ErrDocumentExists:     true,
		ErrDocumentDeleted:    true,
		ErrStoreUnavailable:   true,
		ErrVectorUnavailable:  true,
		ErrEmbedUnavailable:   true,
		ErrEmbedRateLimited:   true,
		ErrEmbedAuth:          true,
		ErrEmbedBadRequest:    true,
		ErrVectorClient:       true,
		ErrEmbedCount:         true,
		ErrIntegrity:          true,
		ErrInternal:           true,
		ErrInvalidTransition:  true,
	}

	// All codes should be unique (map would just overwrite if not)
	if len(codes) != 24 {
		t.Errorf("Expected 24 unique error codes, got %d", len(codes))
	}
}
