package syncer

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/Undefine-Innovation/Qdrant-LiteRAGMCP-sub012/internal/idcodec"
	"github.com/Undefine-Innovation/Qdrant-LiteRAGMCP-sub012/internal/store"
	"github.com/Undefine-Innovation/Qdrant-LiteRAGMCP-sub012/internal/vectorstore"
	"github.com/Undefine-Innovation/Qdrant-LiteRAGMCP-sub012/pkg/models"
)

// fakeVectors records vector-store calls and fails on demand.
type fakeVectors struct {
	mu sync.Mutex

	upserted      []vectorstore.Point
	deletedPoints []string
	deletedDocs   []string
	deletedColls  []string

	failUpsert error
	failPoints error
	failDocs   error
	failColls  error
}

func (f *fakeVectors) Upsert(ctx context.Context, points []vectorstore.Point) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failUpsert != nil {
		return f.failUpsert
	}
	f.upserted = append(f.upserted, points...)
	return nil
}

func (f *fakeVectors) DeleteByPointIDs(ctx context.Context, pointIDs []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failPoints != nil {
		return f.failPoints
	}
	f.deletedPoints = append(f.deletedPoints, pointIDs...)
	return nil
}

func (f *fakeVectors) DeleteByDoc(ctx context.Context, docID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failDocs != nil {
		return f.failDocs
	}
	f.deletedDocs = append(f.deletedDocs, docID)
	return nil
}

func (f *fakeVectors) DeleteByCollection(ctx context.Context, collectionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failColls != nil {
		return f.failColls
	}
	f.deletedColls = append(f.deletedColls, collectionID)
	return nil
}

func (f *fakeVectors) upsertCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.upserted)
}

// fakeEmbedder returns constant vectors of a fixed dimension. With
// fail set it errors; failTimes limits the failures to the first N
// calls.
type fakeEmbedder struct {
	mu        sync.Mutex
	dim       int
	fail      error
	failTimes int
	calls     int
}

func (f *fakeEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.fail != nil && (f.failTimes == 0 || f.calls <= f.failTimes) {
		return nil, f.fail
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		vec := make([]float32, f.dim)
		for j := range vec {
			vec[j] = 0.1
		}
		out[i] = vec
	}
	return out, nil
}

func (f *fakeEmbedder) Dimension() int { return f.dim }

func (f *fakeEmbedder) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// testStore creates a temporary store for testing.
func testStore(t *testing.T) *store.Store {
	t.Helper()

	st, err := store.New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		if strings.Contains(err.Error(), "fts5") {
			t.Skip("FTS5 not available, skipping test")
		}
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

// seedDoc inserts a collection and one document whose blob holds the
// given markdown.
func seedDoc(t *testing.T, st *store.Store, collectionName, markdown string) (collectionID, docID string) {
	t.Helper()
	ctx := context.Background()

	col, err := st.CreateCollection(ctx, collectionName, "")
	if err != nil {
		t.Fatalf("CreateCollection failed: %v", err)
	}

	docID = seedDocIn(t, st, col.CollectionID, markdown)
	return col.CollectionID, docID
}

// seedDocIn inserts a document into an existing collection.
func seedDocIn(t *testing.T, st *store.Store, collectionID, markdown string) string {
	t.Helper()
	ctx := context.Background()

	docID := idcodec.DocID([]byte(markdown))
	doc := &models.Document{
		DocID:        docID,
		CollectionID: collectionID,
		SourceKey:    docID,
		Name:         "test.md",
		MimeType:     "text/markdown",
		SizeBytes:    int64(len(markdown)),
		ContentHash:  docID,
	}
	if err := st.InsertDocument(ctx, doc, []byte(markdown)); err != nil {
		t.Fatalf("InsertDocument failed: %v", err)
	}
	return docID
}

// makeChunks builds a chunk set with matching vector points.
func makeChunks(collectionID, docID string, contents ...string) ([]*models.Chunk, []vectorstore.Point) {
	chunks := make([]*models.Chunk, len(contents))
	points := make([]vectorstore.Point, len(contents))
	for i, content := range contents {
		pointID := idcodec.PointID(docID, i)
		chunks[i] = &models.Chunk{
			PointID:      pointID,
			DocID:        docID,
			CollectionID: collectionID,
			ChunkIndex:   i,
			TitleChain:   []string{"test.md"},
			ContentHash:  idcodec.ContentHash(content),
			Content:      content,
		}
		points[i] = vectorstore.Point{
			PointID:      pointID,
			Vector:       []float32{0.1, 0.2, 0.3, 0.4},
			DocID:        docID,
			CollectionID: collectionID,
			ChunkIndex:   i,
			TitleChain:   chunks[i].TitleChain,
			ContentHash:  chunks[i].ContentHash,
		}
	}
	return chunks, points
}

func TestCommitChunks_WritesBothStores(t *testing.T) {
	st := testStore(t)
	fv := &fakeVectors{}
	c := NewCoordinator(st, fv)
	ctx := context.Background()

	collectionID, docID := seedDoc(t, st, "commit", "# Title\n\nBody")
	chunks, points := makeChunks(collectionID, docID, "first chunk", "second chunk")

	if err := c.CommitChunks(ctx, docID, chunks, points); err != nil {
		t.Fatalf("CommitChunks failed: %v", err)
	}

	count, err := st.CountChunksByDoc(ctx, docID)
	if err != nil {
		t.Fatalf("CountChunksByDoc failed: %v", err)
	}
	if count != 2 {
		t.Errorf("chunk count: got %d, want 2", count)
	}
	if fv.upsertCount() != 2 {
		t.Errorf("upserted points: got %d, want 2", fv.upsertCount())
	}
}

func TestCommitChunks_VectorFailureRollsBack(t *testing.T) {
	st := testStore(t)
	fv := &fakeVectors{failUpsert: models.NewError(models.ErrVectorUnavailable, "unreachable")}
	c := NewCoordinator(st, fv)
	ctx := context.Background()

	collectionID, docID := seedDoc(t, st, "rollback", "# Title\n\nBody")
	chunks, points := makeChunks(collectionID, docID, "first chunk")

	err := c.CommitChunks(ctx, docID, chunks, points)
	if err == nil {
		t.Fatal("expected error from vector failure")
	}

	count, err := st.CountChunksByDoc(ctx, docID)
	if err != nil {
		t.Fatalf("CountChunksByDoc failed: %v", err)
	}
	if count != 0 {
		t.Errorf("chunk count after rollback: got %d, want 0", count)
	}
}

func TestCommitChunks_ReplacesChunkSet(t *testing.T) {
	st := testStore(t)
	fv := &fakeVectors{}
	c := NewCoordinator(st, fv)
	ctx := context.Background()

	collectionID, docID := seedDoc(t, st, "replace", "# Title\n\nBody")

	chunks, points := makeChunks(collectionID, docID, "one", "two", "three")
	if err := c.CommitChunks(ctx, docID, chunks, points); err != nil {
		t.Fatalf("first CommitChunks failed: %v", err)
	}

	chunks, points = makeChunks(collectionID, docID, "replaced one", "replaced two")
	if err := c.CommitChunks(ctx, docID, chunks, points); err != nil {
		t.Fatalf("second CommitChunks failed: %v", err)
	}

	count, err := st.CountChunksByDoc(ctx, docID)
	if err != nil {
		t.Fatalf("CountChunksByDoc failed: %v", err)
	}
	if count != 2 {
		t.Errorf("chunk count after replace: got %d, want 2", count)
	}
}

func TestCommitChunks_EmptySet(t *testing.T) {
	st := testStore(t)
	fv := &fakeVectors{}
	c := NewCoordinator(st, fv)
	ctx := context.Background()

	_, docID := seedDoc(t, st, "empty", "\n\n")

	if err := c.CommitChunks(ctx, docID, nil, nil); err != nil {
		t.Fatalf("CommitChunks with empty set failed: %v", err)
	}
	if fv.upsertCount() != 0 {
		t.Errorf("upserted points: got %d, want 0", fv.upsertCount())
	}
}

func TestResetDoc(t *testing.T) {
	st := testStore(t)
	fv := &fakeVectors{}
	c := NewCoordinator(st, fv)
	ctx := context.Background()

	collectionID, docID := seedDoc(t, st, "reset", "# Title\n\nBody")
	chunks, points := makeChunks(collectionID, docID, "first chunk")
	if err := c.CommitChunks(ctx, docID, chunks, points); err != nil {
		t.Fatalf("CommitChunks failed: %v", err)
	}
	if err := st.RecordJobFailure(ctx, docID, models.JobFailed, 2, "boom", models.CategoryTransientNetwork); err != nil {
		t.Fatalf("RecordJobFailure failed: %v", err)
	}

	if err := c.ResetDoc(ctx, docID); err != nil {
		t.Fatalf("ResetDoc failed: %v", err)
	}

	count, _ := st.CountChunksByDoc(ctx, docID)
	if count != 0 {
		t.Errorf("chunk count after reset: got %d, want 0", count)
	}

	job, err := st.GetJob(ctx, docID)
	if err != nil {
		t.Fatalf("GetJob failed: %v", err)
	}
	if job.Status != models.JobNew {
		t.Errorf("job status: got %s, want %s", job.Status, models.JobNew)
	}
	if job.Retries != 0 {
		t.Errorf("job retries: got %d, want 0", job.Retries)
	}

	if len(fv.deletedDocs) != 1 || fv.deletedDocs[0] != docID {
		t.Errorf("vector deletes: got %v, want [%s]", fv.deletedDocs, docID)
	}
}

func TestResetDoc_VectorFailureLeavesStore(t *testing.T) {
	st := testStore(t)
	fv := &fakeVectors{}
	c := NewCoordinator(st, fv)
	ctx := context.Background()

	collectionID, docID := seedDoc(t, st, "reset-fail", "# Title\n\nBody")
	chunks, points := makeChunks(collectionID, docID, "first chunk")
	if err := c.CommitChunks(ctx, docID, chunks, points); err != nil {
		t.Fatalf("CommitChunks failed: %v", err)
	}

	fv.failDocs = models.NewError(models.ErrVectorUnavailable, "unreachable")
	if err := c.ResetDoc(ctx, docID); err == nil {
		t.Fatal("expected error from vector failure")
	}

	count, _ := st.CountChunksByDoc(ctx, docID)
	if count != 1 {
		t.Errorf("chunk count: got %d, want 1", count)
	}
}

func TestPurgeDoc(t *testing.T) {
	st := testStore(t)
	fv := &fakeVectors{}
	c := NewCoordinator(st, fv)
	ctx := context.Background()

	collectionID, docID := seedDoc(t, st, "purge", "# Title\n\nBody")
	chunks, points := makeChunks(collectionID, docID, "first chunk")
	if err := c.CommitChunks(ctx, docID, chunks, points); err != nil {
		t.Fatalf("CommitChunks failed: %v", err)
	}

	if err := c.PurgeDoc(ctx, docID); err != nil {
		t.Fatalf("PurgeDoc failed: %v", err)
	}

	if _, err := st.GetDocument(ctx, docID); err == nil {
		t.Error("expected document to be gone")
	}
	if _, err := st.GetJob(ctx, docID); err == nil {
		t.Error("expected job to be gone")
	}
	if len(fv.deletedDocs) != 1 || fv.deletedDocs[0] != docID {
		t.Errorf("vector deletes: got %v, want [%s]", fv.deletedDocs, docID)
	}
}

func TestDeleteCollection(t *testing.T) {
	st := testStore(t)
	fv := &fakeVectors{}
	c := NewCoordinator(st, fv)
	ctx := context.Background()

	collectionID, docA := seedDoc(t, st, "cascade", "# Doc A\n\nBody A")
	docB := seedDocIn(t, st, collectionID, "# Doc B\n\nBody B")

	for _, docID := range []string{docA, docB} {
		chunks, points := makeChunks(collectionID, docID, "chunk for "+docID)
		if err := c.CommitChunks(ctx, docID, chunks, points); err != nil {
			t.Fatalf("CommitChunks failed: %v", err)
		}
	}

	if err := c.DeleteCollection(ctx, collectionID); err != nil {
		t.Fatalf("DeleteCollection failed: %v", err)
	}

	if _, err := st.GetCollection(ctx, collectionID); err == nil {
		t.Error("expected collection to be gone")
	}
	for _, docID := range []string{docA, docB} {
		if _, err := st.GetDocument(ctx, docID); err == nil {
			t.Errorf("expected document %s to be gone", docID)
		}
	}
	if len(fv.deletedColls) != 1 || fv.deletedColls[0] != collectionID {
		t.Errorf("vector collection deletes: got %v, want [%s]", fv.deletedColls, collectionID)
	}
}

func TestDeleteCollection_VectorFailureAborts(t *testing.T) {
	st := testStore(t)
	fv := &fakeVectors{failColls: models.NewError(models.ErrVectorUnavailable, "unreachable")}
	c := NewCoordinator(st, fv)
	ctx := context.Background()

	collectionID, docID := seedDoc(t, st, "cascade-fail", "# Title\n\nBody")

	if err := c.DeleteCollection(ctx, collectionID); err == nil {
		t.Fatal("expected error from vector failure")
	}

	if _, err := st.GetCollection(ctx, collectionID); err != nil {
		t.Error("collection should survive an aborted delete")
	}
	if _, err := st.GetDocument(ctx, docID); err != nil {
		t.Error("document should survive an aborted delete")
	}
}

func TestDrainCompensations(t *testing.T) {
	st := testStore(t)
	fv := &fakeVectors{}
	c := NewCoordinator(st, fv)
	ctx := context.Background()

	c.enqueueCompensation([]string{"a#0", "a#1"})
	if got := c.PendingCompensations(); got != 2 {
		t.Fatalf("pending: got %d, want 2", got)
	}

	fv.failPoints = models.NewError(models.ErrVectorUnavailable, "unreachable")
	if err := c.DrainCompensations(ctx); err == nil {
		t.Fatal("expected error from vector failure")
	}
	if got := c.PendingCompensations(); got != 2 {
		t.Errorf("pending after failed drain: got %d, want 2", got)
	}

	fv.failPoints = nil
	if err := c.DrainCompensations(ctx); err != nil {
		t.Fatalf("DrainCompensations failed: %v", err)
	}
	if got := c.PendingCompensations(); got != 0 {
		t.Errorf("pending after drain: got %d, want 0", got)
	}
	if len(fv.deletedPoints) != 2 {
		t.Errorf("deleted points: got %v, want 2 entries", fv.deletedPoints)
	}
}

func TestDrainCompensations_Empty(t *testing.T) {
	st := testStore(t)
	fv := &fakeVectors{failPoints: models.NewError(models.ErrVectorUnavailable, "unreachable")}
	c := NewCoordinator(st, fv)

	// Nothing queued, so the failing vector store is never called.
	if err := c.DrainCompensations(context.Background()); err != nil {
		t.Fatalf("DrainCompensations failed: %v", err)
	}
}
