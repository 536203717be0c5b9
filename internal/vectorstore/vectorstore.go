// Package vectorstore manages chunk vectors in Qdrant. All logical
// collections share one physical Qdrant collection; points carry their
// collection ID in the payload and reads filter on it.
package vectorstore

import (
	"context"
	"crypto/sha256"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
	"github.com/rs/zerolog"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/Undefine-Innovation/Qdrant-LiteRAGMCP-sub012/internal/observability"
	"github.com/Undefine-Innovation/Qdrant-LiteRAGMCP-sub012/pkg/models"
)

const (
	// DefaultHost is the default Qdrant gRPC endpoint.
	DefaultHost = "localhost"

	// DefaultPort is the default Qdrant gRPC port.
	DefaultPort = 6334

	// DefaultCollectionName is the default shared collection name.
	DefaultCollectionName = "literag_chunks"

	// DefaultUpsertBatchSize is the default batch size for upserting points.
	DefaultUpsertBatchSize = 100

	// scrollPageSize is the page size for listing point IDs.
	scrollPageSize = 256
)

// pointUUID converts a point ID string to a deterministic UUID v5.
// Point IDs stay strings internally while Qdrant requires UUIDs.
func pointUUID(pointID string) string {
	namespace := uuid.MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8") // DNS namespace
	hash := sha256.Sum256([]byte(pointID))
	return uuid.NewSHA1(namespace, hash[:]).String()
}

// Store manages vector storage in Qdrant.
type Store struct {
	client         *qdrant.Client
	collectionName string
	dimension      uint64
	batchSize      int
	logger         zerolog.Logger
	mu             sync.Mutex
	ready          bool
}

// Config configures the vector store.
type Config struct {
	Host           string // Qdrant host (default: localhost)
	Port           int    // Qdrant gRPC port (default: 6334)
	CollectionName string // Shared collection name (default: literag_chunks)
	Dimension      int    // Vector dimension (default: 768)
	BatchSize      int    // Batch size for upserts (default: 100)
}

// Point is one chunk vector to store. The payload carries routing and
// identity fields only; chunk text lives in the relational store.
type Point struct {
	PointID      string    // Public point ID (docId#index)
	Vector       []float32 // Embedding vector
	DocID        string    // Parent document
	CollectionID string    // Logical collection
	ChunkIndex   int       // Chunk index within document
	TitleChain   []string  // Heading path for the chunk
	ContentHash  string    // Hash of the chunk text
}

// Hit is one similarity search result. Score is cosine similarity;
// higher is better.
type Hit struct {
	PointID string
	Score   float32
}

// Stats contains vector store statistics.
type Stats struct {
	CollectionName string `json:"collectionName"`
	VectorCount    int    `json:"vectorCount"`
	SegmentCount   int    `json:"segmentCount"`
	Status         string `json:"status"`
}

// New creates a new vector store.
func New(cfg Config) (*Store, error) {
	if cfg.Host == "" {
		cfg.Host = DefaultHost
	}
	if cfg.Port <= 0 {
		cfg.Port = DefaultPort
	}
	if cfg.CollectionName == "" {
		cfg.CollectionName = DefaultCollectionName
	}
	if cfg.Dimension <= 0 {
		cfg.Dimension = 768
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultUpsertBatchSize
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host: cfg.Host,
		Port: cfg.Port,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Qdrant client: %w", err)
	}

	return &Store{
		client:         client,
		collectionName: cfg.CollectionName,
		dimension:      uint64(cfg.Dimension),
		batchSize:      cfg.BatchSize,
		logger:         observability.Logger("vectorstore"),
	}, nil
}

// EnsureCollection ensures the shared collection exists, creating it
// if necessary. Safe to call repeatedly.
func (vs *Store) EnsureCollection(ctx context.Context) error {
	vs.mu.Lock()
	defer vs.mu.Unlock()

	if vs.ready {
		return nil
	}

	collections, err := vs.client.ListCollections(ctx)
	if err != nil {
		return wrapErr("list collections", err)
	}

	for _, col := range collections {
		if col == vs.collectionName {
			vs.ready = true
			return nil
		}
	}

	vs.logger.Info().
		Str("collection", vs.collectionName).
		Uint64("dimension", vs.dimension).
		Msg("creating collection")

	err = vs.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: vs.collectionName,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     vs.dimension,
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return wrapErr("create collection", err)
	}

	// Payload indexes for efficient filtering
	indexes := []string{"doc_id", "collection_id"}
	for _, field := range indexes {
		_, err = vs.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
			CollectionName: vs.collectionName,
			FieldName:      field,
			FieldType:      qdrant.FieldType_FieldTypeKeyword.Enum(),
		})
		if err != nil {
			vs.logger.Warn().Err(err).Str("field", field).Msg("failed to create field index")
		}
	}

	vs.ready = true
	vs.logger.Info().Str("collection", vs.collectionName).Msg("collection created")
	return nil
}

// Upsert inserts or updates points. Each Qdrant call is atomic; large
// inputs are split into batches.
func (vs *Store) Upsert(ctx context.Context, points []Point) error {
	if len(points) == 0 {
		return nil
	}

	if err := vs.EnsureCollection(ctx); err != nil {
		return err
	}

	start := time.Now()

	qdrantPoints := make([]*qdrant.PointStruct, len(points))
	for i, p := range points {
		chain := make([]any, len(p.TitleChain))
		for j, t := range p.TitleChain {
			chain[j] = t
		}
		payload := map[string]any{
			"point_id":      p.PointID,
			"doc_id":        p.DocID,
			"collection_id": p.CollectionID,
			"chunk_index":   p.ChunkIndex,
			"title_chain":   chain,
			"content_hash":  p.ContentHash,
		}

		qdrantPoints[i] = &qdrant.PointStruct{
			Id:      qdrant.NewID(pointUUID(p.PointID)),
			Vectors: qdrant.NewVectors(p.Vector...),
			Payload: qdrant.NewValueMap(payload),
		}
	}

	for i := 0; i < len(qdrantPoints); i += vs.batchSize {
		end := i + vs.batchSize
		if end > len(qdrantPoints) {
			end = len(qdrantPoints)
		}

		_, err := vs.client.Upsert(ctx, &qdrant.UpsertPoints{
			CollectionName: vs.collectionName,
			Points:         qdrantPoints[i:end],
		})
		if err != nil {
			return wrapErr(fmt.Sprintf("upsert batch %d-%d", i, end), err)
		}
	}

	vs.logger.Debug().
		Int("count", len(points)).
		Dur("duration", time.Since(start)).
		Msg("upserted points")

	return nil
}

// DeleteByPointIDs removes points by their public IDs. Unknown IDs are
// ignored.
func (vs *Store) DeleteByPointIDs(ctx context.Context, pointIDs []string) error {
	if len(pointIDs) == 0 {
		return nil
	}

	ids := make([]*qdrant.PointId, len(pointIDs))
	for i, id := range pointIDs {
		ids[i] = qdrant.NewID(pointUUID(id))
	}

	_, err := vs.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: vs.collectionName,
		Points: &qdrant.PointsSelector{
			PointsSelectorOneOf: &qdrant.PointsSelector_Points{
				Points: &qdrant.PointsIdsList{
					Ids: ids,
				},
			},
		},
	})
	if err != nil {
		return wrapErr("delete points", err)
	}

	vs.logger.Debug().Int("count", len(pointIDs)).Msg("deleted points")
	return nil
}

// DeleteByDoc removes all points for a document.
func (vs *Store) DeleteByDoc(ctx context.Context, docID string) error {
	return vs.deleteByFilter(ctx, "doc_id", docID)
}

// DeleteByCollection removes all points for a logical collection.
func (vs *Store) DeleteByCollection(ctx context.Context, collectionID string) error {
	return vs.deleteByFilter(ctx, "collection_id", collectionID)
}

func (vs *Store) deleteByFilter(ctx context.Context, field, value string) error {
	_, err := vs.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: vs.collectionName,
		Points: &qdrant.PointsSelector{
			PointsSelectorOneOf: &qdrant.PointsSelector_Filter{
				Filter: &qdrant.Filter{
					Must: []*qdrant.Condition{
						qdrant.NewMatch(field, value),
					},
				},
			},
		},
	})
	if err != nil {
		return wrapErr("delete by "+field, err)
	}

	vs.logger.Debug().Str(field, value).Msg("deleted points by filter")
	return nil
}

// ListPointIDs returns the public IDs of every point in a logical
// collection, paging through the whole set. An empty collectionID
// lists all points.
func (vs *Store) ListPointIDs(ctx context.Context, collectionID string) ([]string, error) {
	if err := vs.EnsureCollection(ctx); err != nil {
		return nil, err
	}

	var filter *qdrant.Filter
	if collectionID != "" {
		filter = &qdrant.Filter{
			Must: []*qdrant.Condition{
				qdrant.NewMatch("collection_id", collectionID),
			},
		}
	}

	var (
		ids    []string
		offset *qdrant.PointId
	)
	for {
		points, nextOffset, err := vs.client.ScrollAndOffset(ctx, &qdrant.ScrollPoints{
			CollectionName: vs.collectionName,
			Filter:         filter,
			Offset:         offset,
			Limit:          qdrant.PtrOf(uint32(scrollPageSize)),
			WithPayload:    qdrant.NewWithPayload(true),
		})
		if err != nil {
			return nil, wrapErr("scroll points", err)
		}

		if len(points) == 0 {
			break
		}

		for _, point := range points {
			if v, ok := point.Payload["point_id"]; ok {
				ids = append(ids, v.GetStringValue())
			}
		}

		if nextOffset == nil || len(points) < scrollPageSize {
			break
		}
		offset = nextOffset
	}

	return ids, nil
}

// Search performs a similarity search within a logical collection and
// returns hits best first.
func (vs *Store) Search(ctx context.Context, collectionID string, vector []float32, limit int) ([]Hit, error) {
	if err := vs.EnsureCollection(ctx); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 10
	}

	start := time.Now()

	results, err := vs.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: vs.collectionName,
		Query:          qdrant.NewQuery(vector...),
		Limit:          qdrant.PtrOf(uint64(limit)),
		Filter: &qdrant.Filter{
			Must: []*qdrant.Condition{
				qdrant.NewMatch("collection_id", collectionID),
			},
		},
		WithPayload: qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, wrapErr("query", err)
	}

	hits := make([]Hit, 0, len(results))
	for _, point := range results {
		v, ok := point.Payload["point_id"]
		if !ok {
			continue
		}
		hits = append(hits, Hit{
			PointID: v.GetStringValue(),
			Score:   point.Score,
		})
	}

	vs.logger.Debug().
		Int("results", len(hits)).
		Dur("duration", time.Since(start)).
		Msg("vector search completed")

	return hits, nil
}

// GetStats returns collection statistics.
func (vs *Store) GetStats(ctx context.Context) (*Stats, error) {
	info, err := vs.client.GetCollectionInfo(ctx, vs.collectionName)
	if err != nil {
		return nil, wrapErr("get collection info", err)
	}

	stats := &Stats{
		CollectionName: vs.collectionName,
		Status:         info.Status.String(),
		SegmentCount:   int(info.SegmentsCount),
	}
	if info.PointsCount != nil {
		stats.VectorCount = int(*info.PointsCount)
	}

	return stats, nil
}

// Health verifies the vector store is reachable.
func (vs *Store) Health(ctx context.Context) error {
	if _, err := vs.client.ListCollections(ctx); err != nil {
		return fmt.Errorf("vector store health check failed: %w", err)
	}
	return nil
}

// Close closes the client connection.
func (vs *Store) Close() error {
	return vs.client.Close()
}

// wrapErr classifies a Qdrant error as a client-side rejection or a
// dependency outage based on the gRPC status code.
func wrapErr(op string, err error) error {
	if err == nil {
		return nil
	}

	if st, ok := status.FromError(err); ok {
		switch st.Code() {
		case codes.InvalidArgument, codes.NotFound, codes.PermissionDenied,
			codes.Unauthenticated, codes.AlreadyExists, codes.FailedPrecondition:
			return models.Wrap(models.ErrVectorClient, op+" rejected", err)
		}
	}

	return models.Wrap(models.ErrVectorUnavailable, op+" failed", err)
}
