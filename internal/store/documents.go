package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/Undefine-Innovation/Qdrant-LiteRAGMCP-sub012/pkg/models"
)

// InsertDocument inserts a document, its source bytes and a NEW sync
// job in one transaction. A document never exists without a job row.
func (s *Store) InsertDocument(ctx context.Context, doc *models.Document, content []byte) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin insert document: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC().Format(time.RFC3339)

	_, err = tx.ExecContext(ctx, `
		INSERT INTO documents (
			doc_id, collection_id, source_key, name, mime_type,
			size_bytes, content_hash, deleted, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, 0, ?, ?)
	`,
		doc.DocID,
		doc.CollectionID,
		doc.SourceKey,
		doc.Name,
		doc.MimeType,
		doc.SizeBytes,
		doc.ContentHash,
		now,
		now,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return models.NewError(models.ErrDocumentExists, "document already exists").
				WithDetails("docId", doc.DocID)
		}
		return fmt.Errorf("insert document: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO document_blobs (source_key, content) VALUES (?, ?)
		ON CONFLICT(source_key) DO UPDATE SET content = excluded.content
	`, doc.SourceKey, content)
	if err != nil {
		return fmt.Errorf("insert blob: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO sync_jobs (job_id, doc_id, status, created_at, updated_at)
		VALUES (?, ?, 'NEW', ?, ?)
	`, uuid.New().String(), doc.DocID, now, now)
	if err != nil {
		return fmt.Errorf("insert sync job: %w", err)
	}

	return tx.Commit()
}

// GetDocument retrieves a document by ID, including soft-deleted ones.
// Callers decide whether a deleted document counts as present.
func (s *Store) GetDocument(ctx context.Context, docID string) (*models.Document, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT doc_id, collection_id, source_key, name, mime_type, size_bytes,
			content_hash, deleted, synced_at, created_at, updated_at
		FROM documents
		WHERE doc_id = ?
	`, docID)

	return scanDocument(row)
}

// ListDocuments returns the live documents in a collection.
func (s *Store) ListDocuments(ctx context.Context, collectionID string) ([]*models.Document, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT doc_id, collection_id, source_key, name, mime_type, size_bytes,
			content_hash, deleted, synced_at, created_at, updated_at
		FROM documents
		WHERE collection_id = ? AND deleted = 0
		ORDER BY created_at DESC
	`, collectionID)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	var docs []*models.Document
	for rows.Next() {
		doc, err := scanDocumentRows(rows)
		if err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		docs = append(docs, doc)
	}

	return docs, rows.Err()
}

// ListDocIDs returns every document ID in a collection, soft-deleted
// included. The collection cascade uses it to purge per document.
func (s *Store) ListDocIDs(ctx context.Context, collectionID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT doc_id FROM documents WHERE collection_id = ? ORDER BY created_at ASC
	`, collectionID)
	if err != nil {
		return nil, fmt.Errorf("list doc ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan doc id: %w", err)
		}
		ids = append(ids, id)
	}

	return ids, rows.Err()
}

// ListSoftDeleted returns all soft-deleted documents. Only the garbage
// collector reads these.
func (s *Store) ListSoftDeleted(ctx context.Context) ([]*models.Document, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT doc_id, collection_id, source_key, name, mime_type, size_bytes,
			content_hash, deleted, synced_at, created_at, updated_at
		FROM documents
		WHERE deleted = 1
		ORDER BY updated_at ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list soft-deleted documents: %w", err)
	}
	defer rows.Close()

	var docs []*models.Document
	for rows.Next() {
		doc, err := scanDocumentRows(rows)
		if err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		docs = append(docs, doc)
	}

	return docs, rows.Err()
}

// MarkDocDeleted soft-deletes a document. Its chunks stay in place and
// disappear from every read path until the garbage collector purges
// them.
func (s *Store) MarkDocDeleted(ctx context.Context, docID string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE documents SET deleted = 1, updated_at = ? WHERE doc_id = ?
	`, time.Now().UTC().Format(time.RFC3339), docID)
	if err != nil {
		return fmt.Errorf("mark document deleted: %w", err)
	}

	affected, _ := result.RowsAffected()
	if affected == 0 {
		return models.NewError(models.ErrDocumentNotFound, "document not found").
			WithDetails("docId", docID)
	}

	return nil
}

// ReviveDocument clears the deleted flag when identical content is
// re-uploaded. Name and MIME type come from the new upload.
func (s *Store) ReviveDocument(ctx context.Context, docID, name, mimeType string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE documents
		SET deleted = 0, name = ?, mime_type = ?, synced_at = NULL, updated_at = ?
		WHERE doc_id = ?
	`, name, mimeType, time.Now().UTC().Format(time.RFC3339), docID)
	if err != nil {
		return fmt.Errorf("revive document: %w", err)
	}

	affected, _ := result.RowsAffected()
	if affected == 0 {
		return models.NewError(models.ErrDocumentNotFound, "document not found").
			WithDetails("docId", docID)
	}

	return nil
}

// SetDocumentSynced records the time the document's chunks reached the
// vector store.
func (s *Store) SetDocumentSynced(ctx context.Context, docID string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE documents SET synced_at = ?, updated_at = ? WHERE doc_id = ?
	`, at.UTC().Format(time.RFC3339), time.Now().UTC().Format(time.RFC3339), docID)
	if err != nil {
		return fmt.Errorf("set document synced: %w", err)
	}
	return nil
}

// GetBlob returns the stored source bytes for a source key.
func (s *Store) GetBlob(ctx context.Context, sourceKey string) ([]byte, error) {
	var content []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT content FROM document_blobs WHERE source_key = ?
	`, sourceKey).Scan(&content)
	if err == sql.ErrNoRows {
		return nil, models.NewError(models.ErrDocumentNotFound, "source content not found").
			WithDetails("sourceKey", sourceKey)
	}
	if err != nil {
		return nil, fmt.Errorf("get blob: %w", err)
	}
	return content, nil
}

// HardDeleteDocumentTx removes a document and all of its data inside
// tx. A missing document is a no-op so repeated purge sweeps stay
// idempotent.
func (s *Store) HardDeleteDocumentTx(ctx context.Context, tx *sql.Tx, docID string) error {
	stmts := []string{
		`DELETE FROM chunks_fts WHERE doc_id = ?`,
		`DELETE FROM chunk_meta WHERE point_id IN (SELECT point_id FROM chunks WHERE doc_id = ?)`,
		`DELETE FROM chunks WHERE doc_id = ?`,
		`DELETE FROM sync_jobs WHERE doc_id = ?`,
		`DELETE FROM document_blobs WHERE source_key IN (SELECT source_key FROM documents WHERE doc_id = ?)`,
		`DELETE FROM documents WHERE doc_id = ?`,
	}
	for _, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, stmt, docID); err != nil {
			return fmt.Errorf("hard delete document: %w", err)
		}
	}
	return nil
}

// HardDeleteDocument removes a document and all of its data in one
// transaction.
func (s *Store) HardDeleteDocument(ctx context.Context, docID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin hard delete: %w", err)
	}
	defer tx.Rollback()

	if err := s.HardDeleteDocumentTx(ctx, tx, docID); err != nil {
		return err
	}

	return tx.Commit()
}

func scanDocument(row *sql.Row) (*models.Document, error) {
	var (
		doc       models.Document
		deleted   int
		syncedAt  sql.NullString
		createdAt string
		updatedAt string
	)

	err := row.Scan(
		&doc.DocID,
		&doc.CollectionID,
		&doc.SourceKey,
		&doc.Name,
		&doc.MimeType,
		&doc.SizeBytes,
		&doc.ContentHash,
		&deleted,
		&syncedAt,
		&createdAt,
		&updatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, models.NewError(models.ErrDocumentNotFound, "document not found")
	}
	if err != nil {
		return nil, err
	}

	doc.IsDeleted = deleted != 0
	doc.SyncedAt = parseTimePtr(syncedAt)
	doc.CreatedAt = parseTime(createdAt)
	doc.UpdatedAt = parseTime(updatedAt)

	return &doc, nil
}

func scanDocumentRows(rows *sql.Rows) (*models.Document, error) {
	var (
		doc       models.Document
		deleted   int
		syncedAt  sql.NullString
		createdAt string
		updatedAt string
	)

	err := rows.Scan(
		&doc.DocID,
		&doc.CollectionID,
		&doc.SourceKey,
		&doc.Name,
		&doc.MimeType,
		&doc.SizeBytes,
		&doc.ContentHash,
		&deleted,
		&syncedAt,
		&createdAt,
		&updatedAt,
	)

	if err != nil {
		return nil, err
	}

	doc.IsDeleted = deleted != 0
	doc.SyncedAt = parseTimePtr(syncedAt)
	doc.CreatedAt = parseTime(createdAt)
	doc.UpdatedAt = parseTime(updatedAt)

	return &doc, nil
}
