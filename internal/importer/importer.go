// Package importer owns the document lifecycle: upload, resync, soft
// delete, and collection delete. It validates input, keeps uploads
// idempotent by content hash, and hands ingestion work to the sync
// machine.
package importer

import (
	"context"
	"errors"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"github.com/Undefine-Innovation/Qdrant-LiteRAGMCP-sub012/internal/idcodec"
	"github.com/Undefine-Innovation/Qdrant-LiteRAGMCP-sub012/internal/observability"
	"github.com/Undefine-Innovation/Qdrant-LiteRAGMCP-sub012/internal/store"
	"github.com/Undefine-Innovation/Qdrant-LiteRAGMCP-sub012/pkg/models"
)

// DefaultMaxUploadBytes caps uploads at 10 MiB unless configured.
const DefaultMaxUploadBytes = 10 << 20

// Pipeline is the slice of the sync machine the importer drives.
type Pipeline interface {
	Trigger(ctx context.Context, docID string) error
}

// Cleaner is the slice of the coordinator the importer uses for
// destructive paths.
type Cleaner interface {
	ResetDoc(ctx context.Context, docID string) error
	DeleteCollection(ctx context.Context, collectionID string) error
}

// Config configures the import service.
type Config struct {
	MaxUploadBytes int64
}

// Service implements the document lifecycle.
type Service struct {
	store          *store.Store
	cleaner        Cleaner
	pipeline       Pipeline
	maxUploadBytes int64
	logger         zerolog.Logger
}

// NewService creates an import service.
func NewService(st *store.Store, cleaner Cleaner, pipeline Pipeline, cfg Config) *Service {
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = DefaultMaxUploadBytes
	}
	return &Service{
		store:          st,
		cleaner:        cleaner,
		pipeline:       pipeline,
		maxUploadBytes: cfg.MaxUploadBytes,
		logger:         observability.Logger("importer"),
	}
}

// UploadFile registers a file for ingestion and returns its document.
// The document ID is the content hash, so uploading identical bytes to
// the same collection returns the existing document unchanged. The
// call returns before synchronization completes.
func (s *Service) UploadFile(ctx context.Context, content []byte, name, mimeType, collectionID string) (*models.Document, error) {
	if _, err := s.store.GetCollection(ctx, collectionID); err != nil {
		return nil, err
	}
	if err := s.validateUpload(content, name, mimeType); err != nil {
		return nil, err
	}

	docID := idcodec.DocID(content)

	existing, err := s.store.GetDocument(ctx, docID)
	if err == nil {
		if existing.CollectionID != collectionID {
			return nil, models.NewError(models.ErrDocumentExists, "identical content already exists in another collection").
				WithDetails("docId", docID).
				WithDetails("collectionId", existing.CollectionID)
		}
		if !existing.IsDeleted {
			s.logger.Debug().Str("doc_id", docID).Msg("idempotent upload")
			return existing, nil
		}
		return s.revive(ctx, existing, name, mimeType)
	}
	var ragErr *models.RAGError
	if !errors.As(err, &ragErr) || ragErr.Code != models.ErrDocumentNotFound {
		return nil, err
	}

	doc := &models.Document{
		DocID:        docID,
		CollectionID: collectionID,
		SourceKey:    docID,
		Name:         name,
		MimeType:     storedMIME(name, mimeType),
		SizeBytes:    int64(len(content)),
		ContentHash:  docID,
	}
	if err := s.store.InsertDocument(ctx, doc, content); err != nil {
		return nil, err
	}

	s.triggerSync(ctx, docID)

	s.logger.Info().
		Str("doc_id", docID).
		Str("collection_id", collectionID).
		Str("name", name).
		Int("size_bytes", len(content)).
		Msg("document uploaded")

	return s.store.GetDocument(ctx, docID)
}

// revive undeletes a soft-deleted document whose content was uploaded
// again. Derived data is cleared first so the revived document cannot
// surface stale chunks while it re-syncs.
func (s *Service) revive(ctx context.Context, doc *models.Document, name, mimeType string) (*models.Document, error) {
	if err := s.cleaner.ResetDoc(ctx, doc.DocID); err != nil {
		return nil, err
	}
	if err := s.store.ReviveDocument(ctx, doc.DocID, name, storedMIME(name, mimeType)); err != nil {
		return nil, err
	}

	s.triggerSync(ctx, doc.DocID)

	s.logger.Info().
		Str("doc_id", doc.DocID).
		Str("collection_id", doc.CollectionID).
		Msg("document revived")

	return s.store.GetDocument(ctx, doc.DocID)
}

// Resync re-ingests a document from its stored source bytes. The
// document keeps its ID; chunks and vector points are rebuilt from
// scratch.
func (s *Service) Resync(ctx context.Context, docID string) (*models.Document, error) {
	doc, err := s.store.GetDocument(ctx, docID)
	if err != nil {
		return nil, err
	}
	if doc.IsDeleted {
		return nil, models.NewError(models.ErrDocumentDeleted, "cannot resync a deleted document").
			WithDetails("docId", docID)
	}
	if _, err := s.store.GetBlob(ctx, doc.SourceKey); err != nil {
		return nil, err
	}

	if err := s.cleaner.ResetDoc(ctx, docID); err != nil {
		return nil, err
	}

	s.triggerSync(ctx, docID)

	s.logger.Info().Str("doc_id", docID).Msg("document resync started")
	return doc, nil
}

// DeleteDoc soft-deletes a document. The garbage collector performs
// the hard delete and vector purge later. Deleting an already deleted
// document is a no-op.
func (s *Service) DeleteDoc(ctx context.Context, docID string) error {
	doc, err := s.store.GetDocument(ctx, docID)
	if err != nil {
		return err
	}
	if doc.IsDeleted {
		return nil
	}

	if err := s.store.MarkDocDeleted(ctx, docID); err != nil {
		return err
	}

	s.logger.Info().Str("doc_id", docID).Msg("document soft-deleted")
	return nil
}

// DeleteCollection removes a collection and everything it owns.
func (s *Service) DeleteCollection(ctx context.Context, collectionID string) error {
	if _, err := s.store.GetCollection(ctx, collectionID); err != nil {
		return err
	}
	return s.cleaner.DeleteCollection(ctx, collectionID)
}

// triggerSync queues the document for ingestion. A trigger failure is
// not fatal: the job row is durable and the next startup resumes it.
func (s *Service) triggerSync(ctx context.Context, docID string) {
	if err := s.pipeline.Trigger(ctx, docID); err != nil {
		s.logger.Warn().Err(err).Str("doc_id", docID).Msg("sync trigger failed, job resumes on next start")
	}
}

func (s *Service) validateUpload(content []byte, name, mimeType string) error {
	if strings.TrimSpace(name) == "" {
		return models.NewError(models.ErrValidation, "file name is required")
	}
	if len(content) == 0 {
		return models.NewError(models.ErrValidation, "file is empty")
	}
	if int64(len(content)) > s.maxUploadBytes {
		return models.NewError(models.ErrPayloadTooLarge, "file exceeds upload limit").
			WithDetails("sizeBytes", len(content)).
			WithDetails("maxBytes", s.maxUploadBytes)
	}
	if !acceptableMIME(name, mimeType) {
		return models.NewError(models.ErrUnsupportedMedia, "unsupported file type").
			WithDetails("mimeType", mimeType).
			WithDetails("name", name)
	}
	return nil
}

var acceptedMIMEs = map[string]bool{
	"text/markdown":   true,
	"text/x-markdown": true,
	"text/plain":      true,
}

var acceptedExts = map[string]bool{
	".md":       true,
	".markdown": true,
	".txt":      true,
}

// normalizeMIME lowercases the media type and strips parameters.
func normalizeMIME(mimeType string) string {
	base, _, _ := strings.Cut(mimeType, ";")
	return strings.ToLower(strings.TrimSpace(base))
}

// acceptableMIME accepts the known text types. Browsers and curl often
// send a generic type for .md files, so an unknown generic type falls
// back to the file extension.
func acceptableMIME(name, mimeType string) bool {
	mt := normalizeMIME(mimeType)
	if acceptedMIMEs[mt] {
		return true
	}
	if mt == "" || mt == "application/octet-stream" {
		return acceptedExts[strings.ToLower(filepath.Ext(name))]
	}
	return false
}

// storedMIME resolves the media type persisted on the document row.
func storedMIME(name, mimeType string) string {
	mt := normalizeMIME(mimeType)
	if acceptedMIMEs[mt] {
		return mt
	}
	switch strings.ToLower(filepath.Ext(name)) {
	case ".md", ".markdown":
		return "text/markdown"
	default:
		return "text/plain"
	}
}
