package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/Undefine-Innovation/Qdrant-LiteRAGMCP-sub012/pkg/models"
)

// CreateCollection creates a new collection with a unique name.
func (s *Store) CreateCollection(ctx context.Context, name, description string) (*models.Collection, error) {
	now := time.Now().UTC()
	col := &models.Collection{
		CollectionID: uuid.New().String(),
		Name:         name,
		Description:  description,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO collections (collection_id, name, description, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
	`,
		col.CollectionID,
		col.Name,
		nullString(col.Description),
		now.Format(time.RFC3339),
		now.Format(time.RFC3339),
	)

	if err != nil {
		if isUniqueViolation(err) {
			return nil, models.NewError(models.ErrCollectionExists, "collection name already exists").
				WithDetails("name", name)
		}
		return nil, fmt.Errorf("create collection: %w", err)
	}

	return col, nil
}

// GetCollection retrieves a collection by ID.
func (s *Store) GetCollection(ctx context.Context, collectionID string) (*models.Collection, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT collection_id, name, description, created_at, updated_at
		FROM collections
		WHERE collection_id = ?
	`, collectionID)

	return scanCollection(row)
}

// GetCollectionByName retrieves a collection by its unique name.
func (s *Store) GetCollectionByName(ctx context.Context, name string) (*models.Collection, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT collection_id, name, description, created_at, updated_at
		FROM collections
		WHERE name = ?
	`, name)

	return scanCollection(row)
}

// ListCollections returns all collections.
func (s *Store) ListCollections(ctx context.Context) ([]*models.Collection, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT collection_id, name, description, created_at, updated_at
		FROM collections
		ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("list collections: %w", err)
	}
	defer rows.Close()

	var collections []*models.Collection
	for rows.Next() {
		var (
			col         models.Collection
			description sql.NullString
			createdAt   string
			updatedAt   string
		)
		if err := rows.Scan(&col.CollectionID, &col.Name, &description, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan collection: %w", err)
		}
		col.Description = description.String
		col.CreatedAt = parseTime(createdAt)
		col.UpdatedAt = parseTime(updatedAt)
		collections = append(collections, &col)
	}

	return collections, rows.Err()
}

// CollectionCounts returns the live document and chunk counts for a
// collection. Soft-deleted documents are excluded.
func (s *Store) CollectionCounts(ctx context.Context, collectionID string) (docs, chunks int, err error) {
	err = s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM documents WHERE collection_id = ? AND deleted = 0
	`, collectionID).Scan(&docs)
	if err != nil {
		return 0, 0, fmt.Errorf("count documents: %w", err)
	}

	err = s.db.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM chunks c
		JOIN documents d ON d.doc_id = c.doc_id
		WHERE c.collection_id = ? AND d.deleted = 0
	`, collectionID).Scan(&chunks)
	if err != nil {
		return 0, 0, fmt.Errorf("count chunks: %w", err)
	}

	return docs, chunks, nil
}

// DeleteCollectionTx removes a collection and everything under it
// inside tx: FTS rows, chunk metadata, chunks, sync jobs, blobs and
// documents, then the collection row itself.
func (s *Store) DeleteCollectionTx(ctx context.Context, tx *sql.Tx, collectionID string) error {
	stmts := []string{
		`DELETE FROM chunks_fts WHERE collection_id = ?`,
		`DELETE FROM chunk_meta WHERE point_id IN (SELECT point_id FROM chunks WHERE collection_id = ?)`,
		`DELETE FROM chunks WHERE collection_id = ?`,
		`DELETE FROM sync_jobs WHERE doc_id IN (SELECT doc_id FROM documents WHERE collection_id = ?)`,
		`DELETE FROM document_blobs WHERE source_key IN (SELECT source_key FROM documents WHERE collection_id = ?)`,
		`DELETE FROM documents WHERE collection_id = ?`,
	}
	for _, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, stmt, collectionID); err != nil {
			return fmt.Errorf("delete collection data: %w", err)
		}
	}

	result, err := tx.ExecContext(ctx, `DELETE FROM collections WHERE collection_id = ?`, collectionID)
	if err != nil {
		return fmt.Errorf("delete collection: %w", err)
	}

	affected, _ := result.RowsAffected()
	if affected == 0 {
		return models.NewError(models.ErrCollectionNotFound, "collection not found").
			WithDetails("collectionId", collectionID)
	}

	return nil
}

func scanCollection(row *sql.Row) (*models.Collection, error) {
	var (
		col         models.Collection
		description sql.NullString
		createdAt   string
		updatedAt   string
	)

	err := row.Scan(&col.CollectionID, &col.Name, &description, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, models.NewError(models.ErrCollectionNotFound, "collection not found")
	}
	if err != nil {
		return nil, err
	}

	col.Description = description.String
	col.CreatedAt = parseTime(createdAt)
	col.UpdatedAt = parseTime(updatedAt)

	return &col, nil
}
