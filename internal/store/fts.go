package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/Undefine-Innovation/Qdrant-LiteRAGMCP-sub012/pkg/models"
)

// FTSHit is one keyword search result. Score is the raw bm25 value;
// smaller means better.
type FTSHit struct {
	PointID string
	DocID   string
	Score   float64
}

// SearchFTS runs a full-text query against a collection's chunks and
// returns hits best first. The query string is passed to FTS5
// unchanged, so callers may use the full MATCH syntax. Chunks of
// soft-deleted documents never match.
func (s *Store) SearchFTS(ctx context.Context, collectionID, query string, limit int) ([]FTSHit, error) {
	if strings.TrimSpace(query) == "" {
		return nil, models.NewError(models.ErrEmptyQuery, "search query must not be empty")
	}
	if limit <= 0 {
		limit = 10
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT f.point_id, f.doc_id, bm25(chunks_fts, 1.0, 1.0, 1.0, 1.0, 0.5) AS score
		FROM chunks_fts f
		JOIN documents d ON d.doc_id = f.doc_id
		WHERE chunks_fts MATCH ? AND f.collection_id = ? AND d.deleted = 0
		ORDER BY score ASC
		LIMIT ?
	`, query, collectionID, limit)
	if err != nil {
		if isFTSSyntaxError(err) {
			return nil, models.Wrap(models.ErrFTSQuery, "invalid search query", err).
				WithDetails("query", query)
		}
		return nil, fmt.Errorf("fts search: %w", err)
	}
	defer rows.Close()

	var hits []FTSHit
	for rows.Next() {
		var hit FTSHit
		if err := rows.Scan(&hit.PointID, &hit.DocID, &hit.Score); err != nil {
			return nil, fmt.Errorf("scan fts hit: %w", err)
		}
		hits = append(hits, hit)
	}
	// The driver parses the MATCH argument on the first step, so a bad
	// query surfaces here rather than at Query time.
	if err := rows.Err(); err != nil {
		if isFTSSyntaxError(err) {
			return nil, models.Wrap(models.ErrFTSQuery, "invalid search query", err).
				WithDetails("query", query)
		}
		return nil, fmt.Errorf("fts search: %w", err)
	}

	return hits, nil
}
