package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/Undefine-Innovation/Qdrant-LiteRAGMCP-sub012/pkg/models"
)

// deleteBatchSize keeps IN clauses under the SQLite variable limit.
const deleteBatchSize = 500

// InsertChunksTx inserts chunk rows, their metadata and their FTS rows
// inside tx. The keyword index can never drift from the chunk table.
func (s *Store) InsertChunksTx(ctx context.Context, tx *sql.Tx, chunks []*models.Chunk) error {
	now := time.Now().UTC().Format(time.RFC3339)

	for _, chunk := range chunks {
		titleChain, _ := json.Marshal(chunk.TitleChain)

		_, err := tx.ExecContext(ctx, `
			INSERT INTO chunks (point_id, doc_id, collection_id, chunk_index, content, created_at)
			VALUES (?, ?, ?, ?, ?, ?)
		`,
			chunk.PointID,
			chunk.DocID,
			chunk.CollectionID,
			chunk.ChunkIndex,
			chunk.Content,
			now,
		)
		if err != nil {
			return fmt.Errorf("insert chunk %s: %w", chunk.PointID, err)
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO chunk_meta (point_id, title_chain, content_hash)
			VALUES (?, ?, ?)
		`, chunk.PointID, string(titleChain), chunk.ContentHash)
		if err != nil {
			return fmt.Errorf("insert chunk meta %s: %w", chunk.PointID, err)
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO chunks_fts (point_id, doc_id, collection_id, content, title)
			VALUES (?, ?, ?, ?, ?)
		`,
			chunk.PointID,
			chunk.DocID,
			chunk.CollectionID,
			chunk.Content,
			strings.Join(chunk.TitleChain, " "),
		)
		if err != nil {
			return fmt.Errorf("insert chunk fts %s: %w", chunk.PointID, err)
		}
	}

	return nil
}

// InsertChunks inserts chunks in a single transaction.
func (s *Store) InsertChunks(ctx context.Context, chunks []*models.Chunk) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin insert chunks: %w", err)
	}
	defer tx.Rollback()

	if err := s.InsertChunksTx(ctx, tx, chunks); err != nil {
		return err
	}

	return tx.Commit()
}

// DeleteChunksByDocTx removes a document's chunk rows, metadata and
// FTS rows inside tx. The document row itself is untouched.
func (s *Store) DeleteChunksByDocTx(ctx context.Context, tx *sql.Tx, docID string) error {
	stmts := []string{
		`DELETE FROM chunks_fts WHERE doc_id = ?`,
		`DELETE FROM chunk_meta WHERE point_id IN (SELECT point_id FROM chunks WHERE doc_id = ?)`,
		`DELETE FROM chunks WHERE doc_id = ?`,
	}
	for _, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, stmt, docID); err != nil {
			return fmt.Errorf("delete chunks for document: %w", err)
		}
	}
	return nil
}

// DeleteChunksByPointIDs removes the given chunk rows, metadata and
// FTS rows in one transaction. Used by the garbage collector for
// metadata-side orphans.
func (s *Store) DeleteChunksByPointIDs(ctx context.Context, pointIDs []string) error {
	if len(pointIDs) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete chunks: %w", err)
	}
	defer tx.Rollback()

	for start := 0; start < len(pointIDs); start += deleteBatchSize {
		end := start + deleteBatchSize
		if end > len(pointIDs) {
			end = len(pointIDs)
		}
		batch := pointIDs[start:end]

		args := make([]interface{}, len(batch))
		for i, id := range batch {
			args[i] = id
		}
		in := placeholders(len(batch))

		stmts := []string{
			`DELETE FROM chunks_fts WHERE point_id IN (` + in + `)`,
			`DELETE FROM chunk_meta WHERE point_id IN (` + in + `)`,
			`DELETE FROM chunks WHERE point_id IN (` + in + `)`,
		}
		for _, stmt := range stmts {
			if _, err := tx.ExecContext(ctx, stmt, args...); err != nil {
				return fmt.Errorf("delete chunks by point id: %w", err)
			}
		}
	}

	return tx.Commit()
}

// GetChunks returns the chunks for the given point IDs within a
// collection. Results for soft-deleted documents and unknown IDs are
// silently omitted.
func (s *Store) GetChunks(ctx context.Context, collectionID string, pointIDs []string) ([]*models.Chunk, error) {
	if len(pointIDs) == 0 {
		return nil, nil
	}

	args := make([]interface{}, 0, len(pointIDs)+1)
	args = append(args, collectionID)
	for _, id := range pointIDs {
		args = append(args, id)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT c.point_id, c.doc_id, c.collection_id, c.chunk_index, c.content,
			m.title_chain, m.content_hash
		FROM chunks c
		JOIN chunk_meta m ON m.point_id = c.point_id
		JOIN documents d ON d.doc_id = c.doc_id
		WHERE c.collection_id = ? AND d.deleted = 0
			AND c.point_id IN (`+placeholders(len(pointIDs))+`)
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("get chunks: %w", err)
	}
	defer rows.Close()

	var chunks []*models.Chunk
	for rows.Next() {
		chunk, err := scanChunkRows(rows)
		if err != nil {
			return nil, fmt.Errorf("scan chunk: %w", err)
		}
		chunks = append(chunks, chunk)
	}

	return chunks, rows.Err()
}

// GetChunkPage returns one page of a document's chunks ordered by
// chunk index. Page numbers start at 1.
func (s *Store) GetChunkPage(ctx context.Context, docID string, page, limit int) (*models.ChunkPage, error) {
	if page < 1 {
		page = 1
	}

	var total int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM chunks WHERE doc_id = ?
	`, docID).Scan(&total)
	if err != nil {
		return nil, fmt.Errorf("count chunks: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT c.point_id, c.doc_id, c.collection_id, c.chunk_index, c.content,
			m.title_chain, m.content_hash
		FROM chunks c
		JOIN chunk_meta m ON m.point_id = c.point_id
		WHERE c.doc_id = ?
		ORDER BY c.chunk_index ASC
		LIMIT ? OFFSET ?
	`, docID, limit, (page-1)*limit)
	if err != nil {
		return nil, fmt.Errorf("get chunk page: %w", err)
	}
	defer rows.Close()

	items := make([]models.Chunk, 0, limit)
	for rows.Next() {
		chunk, err := scanChunkRows(rows)
		if err != nil {
			return nil, fmt.Errorf("scan chunk: %w", err)
		}
		items = append(items, *chunk)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return &models.ChunkPage{
		Items: items,
		Total: total,
		Page:  page,
		Limit: limit,
	}, nil
}

// ListPointIDsByCollection returns every point ID recorded for live
// documents in a collection.
func (s *Store) ListPointIDsByCollection(ctx context.Context, collectionID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.point_id
		FROM chunks c
		JOIN documents d ON d.doc_id = c.doc_id
		WHERE c.collection_id = ? AND d.deleted = 0
		ORDER BY c.point_id ASC
	`, collectionID)
	if err != nil {
		return nil, fmt.Errorf("list point ids by collection: %w", err)
	}
	defer rows.Close()

	return collectStrings(rows)
}

// ListPointIDsByDoc returns the point IDs recorded for a live
// document.
func (s *Store) ListPointIDsByDoc(ctx context.Context, docID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.point_id
		FROM chunks c
		JOIN documents d ON d.doc_id = c.doc_id
		WHERE c.doc_id = ? AND d.deleted = 0
		ORDER BY c.chunk_index ASC
	`, docID)
	if err != nil {
		return nil, fmt.Errorf("list point ids by doc: %w", err)
	}
	defer rows.Close()

	return collectStrings(rows)
}

// CountChunksByDoc returns the number of chunk rows for a document.
func (s *Store) CountChunksByDoc(ctx context.Context, docID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM chunks WHERE doc_id = ?
	`, docID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count chunks by doc: %w", err)
	}
	return count, nil
}

func scanChunkRows(rows *sql.Rows) (*models.Chunk, error) {
	var (
		chunk      models.Chunk
		titleChain string
	)

	err := rows.Scan(
		&chunk.PointID,
		&chunk.DocID,
		&chunk.CollectionID,
		&chunk.ChunkIndex,
		&chunk.Content,
		&titleChain,
		&chunk.ContentHash,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(titleChain), &chunk.TitleChain); err != nil {
		return nil, fmt.Errorf("decode title chain: %w", err)
	}

	return &chunk, nil
}

func collectStrings(rows *sql.Rows) ([]string, error) {
	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}
