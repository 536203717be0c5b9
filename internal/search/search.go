// Package search implements hybrid retrieval: full-text and vector
// search run in parallel and their rankings merge through reciprocal
// rank fusion. The semantic side is best-effort; keyword results stand
// alone when embedding or the vector store is down.
package search

import (
	"context"
	"errors"
	"strings"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/Undefine-Innovation/Qdrant-LiteRAGMCP-sub012/internal/observability"
	"github.com/Undefine-Innovation/Qdrant-LiteRAGMCP-sub012/internal/store"
	"github.com/Undefine-Innovation/Qdrant-LiteRAGMCP-sub012/internal/vectorstore"
	"github.com/Undefine-Innovation/Qdrant-LiteRAGMCP-sub012/pkg/models"
)

const (
	// DefaultLimit is used when the request does not set one.
	DefaultLimit = 10

	// MaxLimit bounds the result window.
	MaxLimit = 100
)

// ChunkStore is the slice of the metadata store the searcher reads.
type ChunkStore interface {
	GetCollection(ctx context.Context, collectionID string) (*models.Collection, error)
	SearchFTS(ctx context.Context, collectionID, query string, limit int) ([]store.FTSHit, error)
	GetChunks(ctx context.Context, collectionID string, pointIDs []string) ([]*models.Chunk, error)
}

// VectorSearcher runs similarity queries.
type VectorSearcher interface {
	Search(ctx context.Context, collectionID string, vector []float32, limit int) ([]vectorstore.Hit, error)
}

// Embedder turns the query into a vector.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Request is one hybrid search call.
type Request struct {
	Query        string
	CollectionID string
	Limit        int
}

// Service runs hybrid searches.
type Service struct {
	store    ChunkStore
	vectors  VectorSearcher
	embedder Embedder
	logger   zerolog.Logger
}

// NewService creates a search service.
func NewService(st ChunkStore, vectors VectorSearcher, embedder Embedder) *Service {
	return &Service{
		store:    st,
		vectors:  vectors,
		embedder: embedder,
		logger:   observability.Logger("search"),
	}
}

// Search runs the keyword and semantic branches in parallel, fuses
// their rankings, and enriches the winners with chunk text. Results
// never include soft-deleted documents.
func (s *Service) Search(ctx context.Context, req Request) ([]models.SearchResult, error) {
	query := strings.TrimSpace(req.Query)
	if query == "" {
		return nil, models.NewError(models.ErrEmptyQuery, "search query must not be empty")
	}

	limit := req.Limit
	if limit == 0 {
		limit = DefaultLimit
	}
	if limit < 1 || limit > MaxLimit {
		return nil, models.NewError(models.ErrValidation, "limit out of range").
			WithDetails("limit", req.Limit).
			WithDetails("max", MaxLimit)
	}

	if _, err := s.store.GetCollection(ctx, req.CollectionID); err != nil {
		return nil, err
	}

	var (
		kwHits  []store.FTSHit
		vecHits []vectorstore.Hit
		kwErr   error
		vecErr  error
	)

	// Branch errors are captured, not returned: each side degrades
	// independently and the verdict is made after both finish.
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		kwHits, kwErr = s.store.SearchFTS(gctx, req.CollectionID, query, limit)
		return nil
	})
	g.Go(func() error {
		vecs, err := s.embedder.Embed(gctx, []string{query})
		if err != nil {
			vecErr = err
			return nil
		}
		vecHits, vecErr = s.vectors.Search(gctx, req.CollectionID, vecs[0], limit)
		return nil
	})
	g.Wait()

	if kwErr != nil {
		var ragErr *models.RAGError
		if errors.As(kwErr, &ragErr) && (ragErr.Code == models.ErrFTSQuery || ragErr.Code == models.ErrEmptyQuery) {
			return nil, kwErr
		}
		if vecErr != nil {
			// Neither branch survived.
			return nil, kwErr
		}
		s.logger.Warn().Err(kwErr).Msg("keyword search failed, serving semantic only")
		kwHits = nil
	}
	if vecErr != nil {
		s.logger.Warn().Err(vecErr).Msg("semantic search failed, serving keyword only")
		vecHits = nil
	}

	keywordIDs := make([]string, len(kwHits))
	for i, h := range kwHits {
		keywordIDs[i] = h.PointID
	}
	semanticIDs := make([]string, len(vecHits))
	for i, h := range vecHits {
		semanticIDs[i] = h.PointID
	}

	chunkByID, err := s.enrich(ctx, req.CollectionID, keywordIDs, semanticIDs)
	if err != nil {
		return nil, err
	}

	// Hits whose chunks are gone (deleted or reconciliation lag) drop
	// out before ranks are assigned.
	keywordIDs = keep(keywordIDs, chunkByID)
	semanticIDs = keep(semanticIDs, chunkByID)

	fused := fuse(keywordIDs, semanticIDs)
	if len(fused) > limit {
		fused = fused[:limit]
	}

	results := make([]models.SearchResult, 0, len(fused))
	for _, f := range fused {
		chunk := chunkByID[f.pointID]
		results = append(results, models.SearchResult{
			PointID:    chunk.PointID,
			DocID:      chunk.DocID,
			ChunkIndex: chunk.ChunkIndex,
			TitleChain: chunk.TitleChain,
			Content:    chunk.Content,
			Score:      f.score,
			Source:     f.source,
		})
	}

	s.logger.Debug().
		Str("collection_id", req.CollectionID).
		Int("keyword", len(keywordIDs)).
		Int("semantic", len(semanticIDs)).
		Int("results", len(results)).
		Msg("hybrid search served")

	return results, nil
}

// enrich loads chunks for every candidate point ID. Unknown IDs are
// simply absent from the returned map.
func (s *Service) enrich(ctx context.Context, collectionID string, lists ...[]string) (map[string]*models.Chunk, error) {
	seen := make(map[string]bool)
	var ids []string
	for _, list := range lists {
		for _, id := range list {
			if !seen[id] {
				seen[id] = true
				ids = append(ids, id)
			}
		}
	}
	if len(ids) == 0 {
		return map[string]*models.Chunk{}, nil
	}

	chunks, err := s.store.GetChunks(ctx, collectionID, ids)
	if err != nil {
		return nil, err
	}

	byID := make(map[string]*models.Chunk, len(chunks))
	for _, c := range chunks {
		byID[c.PointID] = c
	}
	return byID, nil
}

// keep filters a rank list down to IDs with a loaded chunk.
func keep(ids []string, chunkByID map[string]*models.Chunk) []string {
	out := ids[:0]
	for _, id := range ids {
		if _, ok := chunkByID[id]; ok {
			out = append(out, id)
		}
	}
	return out
}
