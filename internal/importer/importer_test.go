package importer

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/Undefine-Innovation/Qdrant-LiteRAGMCP-sub012/internal/idcodec"
	"github.com/Undefine-Innovation/Qdrant-LiteRAGMCP-sub012/internal/store"
	"github.com/Undefine-Innovation/Qdrant-LiteRAGMCP-sub012/pkg/models"
)

type fakeCleaner struct {
	mu           sync.Mutex
	resets       []string
	deletedColls []string
	failReset    error
	failDelete   error
}

func (f *fakeCleaner) ResetDoc(ctx context.Context, docID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failReset != nil {
		return f.failReset
	}
	f.resets = append(f.resets, docID)
	return nil
}

func (f *fakeCleaner) DeleteCollection(ctx context.Context, collectionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failDelete != nil {
		return f.failDelete
	}
	f.deletedColls = append(f.deletedColls, collectionID)
	return nil
}

type fakePipeline struct {
	mu        sync.Mutex
	triggered []string
}

func (f *fakePipeline) Trigger(ctx context.Context, docID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.triggered = append(f.triggered, docID)
	return nil
}

func (f *fakePipeline) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.triggered)
}

func newTestService(t *testing.T) (*Service, *store.Store, *fakeCleaner, *fakePipeline) {
	t.Helper()

	st, err := store.New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		if strings.Contains(err.Error(), "fts5") {
			t.Skip("FTS5 not available, skipping test")
		}
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	fc := &fakeCleaner{}
	fp := &fakePipeline{}
	svc := NewService(st, fc, fp, Config{})
	return svc, st, fc, fp
}

func seedCollection(t *testing.T, st *store.Store, name string) string {
	t.Helper()
	col, err := st.CreateCollection(context.Background(), name, "")
	if err != nil {
		t.Fatalf("CreateCollection failed: %v", err)
	}
	return col.CollectionID
}

func assertCode(t *testing.T, err error, want models.ErrorCode) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected error with code %s, got nil", want)
	}
	var ragErr *models.RAGError
	if !errors.As(err, &ragErr) {
		t.Fatalf("expected RAGError, got %T: %v", err, err)
	}
	if ragErr.Code != want {
		t.Fatalf("error code: got %s, want %s", ragErr.Code, want)
	}
}

func TestUploadFile_CreatesDocument(t *testing.T) {
	svc, st, _, fp := newTestService(t)
	ctx := context.Background()

	collectionID := seedCollection(t, st, "guides")
	content := []byte("# Guide\n\nSome text.")

	doc, err := svc.UploadFile(ctx, content, "guide.md", "text/markdown", collectionID)
	if err != nil {
		t.Fatalf("UploadFile failed: %v", err)
	}

	wantID := idcodec.DocID(content)
	if doc.DocID != wantID {
		t.Errorf("docID: got %s, want %s", doc.DocID, wantID)
	}
	if doc.SizeBytes != int64(len(content)) {
		t.Errorf("sizeBytes: got %d, want %d", doc.SizeBytes, len(content))
	}

	job, err := st.GetJob(ctx, doc.DocID)
	if err != nil {
		t.Fatalf("GetJob failed: %v", err)
	}
	if job.Status != models.JobNew {
		t.Errorf("job status: got %s, want %s", job.Status, models.JobNew)
	}

	blob, err := st.GetBlob(ctx, doc.SourceKey)
	if err != nil {
		t.Fatalf("GetBlob failed: %v", err)
	}
	if string(blob) != string(content) {
		t.Error("stored blob does not match upload")
	}

	if fp.count() != 1 {
		t.Errorf("triggers: got %d, want 1", fp.count())
	}
}

func TestUploadFile_Idempotent(t *testing.T) {
	svc, st, _, fp := newTestService(t)
	ctx := context.Background()

	collectionID := seedCollection(t, st, "guides")
	content := []byte("# Guide\n\nSome text.")

	first, err := svc.UploadFile(ctx, content, "guide.md", "text/markdown", collectionID)
	if err != nil {
		t.Fatalf("first UploadFile failed: %v", err)
	}

	second, err := svc.UploadFile(ctx, content, "renamed.md", "text/markdown", collectionID)
	if err != nil {
		t.Fatalf("second UploadFile failed: %v", err)
	}

	if second.DocID != first.DocID {
		t.Errorf("docID changed: got %s, want %s", second.DocID, first.DocID)
	}
	if second.Name != first.Name {
		t.Errorf("idempotent upload should not rename: got %s, want %s", second.Name, first.Name)
	}
	if fp.count() != 1 {
		t.Errorf("triggers: got %d, want 1", fp.count())
	}

	docs, err := st.ListDocuments(ctx, collectionID)
	if err != nil {
		t.Fatalf("ListDocuments failed: %v", err)
	}
	if len(docs) != 1 {
		t.Errorf("document count: got %d, want 1", len(docs))
	}
}

func TestUploadFile_CrossCollectionConflict(t *testing.T) {
	svc, st, _, _ := newTestService(t)
	ctx := context.Background()

	first := seedCollection(t, st, "first")
	second := seedCollection(t, st, "second")
	content := []byte("# Shared\n\nSame bytes.")

	if _, err := svc.UploadFile(ctx, content, "shared.md", "text/markdown", first); err != nil {
		t.Fatalf("UploadFile failed: %v", err)
	}

	_, err := svc.UploadFile(ctx, content, "shared.md", "text/markdown", second)
	assertCode(t, err, models.ErrDocumentExists)

	var ragErr *models.RAGError
	errors.As(err, &ragErr)
	if ragErr.Details["collectionId"] != first {
		t.Errorf("conflict details: got %v, want owning collection %s", ragErr.Details["collectionId"], first)
	}
}

func TestUploadFile_CollectionMissing(t *testing.T) {
	svc, _, _, _ := newTestService(t)

	_, err := svc.UploadFile(context.Background(), []byte("# Doc"), "doc.md", "text/markdown", "nope")
	assertCode(t, err, models.ErrCollectionNotFound)
}

func TestUploadFile_Validation(t *testing.T) {
	svc, st, _, _ := newTestService(t)
	ctx := context.Background()
	collectionID := seedCollection(t, st, "guides")

	svc.maxUploadBytes = 16

	tests := []struct {
		name     string
		content  []byte
		fileName string
		mimeType string
		want     models.ErrorCode
	}{
		{"empty file", nil, "doc.md", "text/markdown", models.ErrValidation},
		{"blank name", []byte("# Doc"), "  ", "text/markdown", models.ErrValidation},
		{"too large", []byte("0123456789abcdef!"), "doc.md", "text/markdown", models.ErrPayloadTooLarge},
		{"bad type", []byte("# Doc"), "image.png", "image/png", models.ErrUnsupportedMedia},
		{"generic type, bad ext", []byte("# Doc"), "binary.exe", "application/octet-stream", models.ErrUnsupportedMedia},
	}

	for _, tt := range tests {
		_, err := svc.UploadFile(ctx, tt.content, tt.fileName, tt.mimeType, collectionID)
		if err == nil {
			t.Errorf("%s: expected error", tt.name)
			continue
		}
		var ragErr *models.RAGError
		if !errors.As(err, &ragErr) || ragErr.Code != tt.want {
			t.Errorf("%s: got %v, want code %s", tt.name, err, tt.want)
		}
	}
}

func TestUploadFile_GenericMIMEWithMarkdownExt(t *testing.T) {
	svc, st, _, _ := newTestService(t)
	ctx := context.Background()
	collectionID := seedCollection(t, st, "guides")

	doc, err := svc.UploadFile(ctx, []byte("# Doc\n\nBody"), "doc.md", "application/octet-stream", collectionID)
	if err != nil {
		t.Fatalf("UploadFile failed: %v", err)
	}
	if doc.MimeType != "text/markdown" {
		t.Errorf("stored mime: got %s, want text/markdown", doc.MimeType)
	}
}

func TestUploadFile_MIMEParameterStripped(t *testing.T) {
	svc, st, _, _ := newTestService(t)
	ctx := context.Background()
	collectionID := seedCollection(t, st, "guides")

	doc, err := svc.UploadFile(ctx, []byte("# Doc\n\nBody"), "doc.md", "Text/Markdown; charset=utf-8", collectionID)
	if err != nil {
		t.Fatalf("UploadFile failed: %v", err)
	}
	if doc.MimeType != "text/markdown" {
		t.Errorf("stored mime: got %s, want text/markdown", doc.MimeType)
	}
}

func TestUploadFile_RevivesSoftDeleted(t *testing.T) {
	svc, st, fc, fp := newTestService(t)
	ctx := context.Background()

	collectionID := seedCollection(t, st, "guides")
	content := []byte("# Guide\n\nSome text.")

	doc, err := svc.UploadFile(ctx, content, "guide.md", "text/markdown", collectionID)
	if err != nil {
		t.Fatalf("UploadFile failed: %v", err)
	}
	if err := st.MarkDocDeleted(ctx, doc.DocID); err != nil {
		t.Fatalf("MarkDocDeleted failed: %v", err)
	}

	revived, err := svc.UploadFile(ctx, content, "guide-v2.md", "text/markdown", collectionID)
	if err != nil {
		t.Fatalf("revival upload failed: %v", err)
	}

	if revived.DocID != doc.DocID {
		t.Errorf("docID changed on revival: got %s, want %s", revived.DocID, doc.DocID)
	}
	if revived.IsDeleted {
		t.Error("revived document still marked deleted")
	}
	if revived.Name != "guide-v2.md" {
		t.Errorf("revived name: got %s, want guide-v2.md", revived.Name)
	}
	if len(fc.resets) != 1 || fc.resets[0] != doc.DocID {
		t.Errorf("cleaner resets: got %v, want [%s]", fc.resets, doc.DocID)
	}
	if fp.count() != 2 {
		t.Errorf("triggers: got %d, want 2", fp.count())
	}
}

func TestResync(t *testing.T) {
	svc, st, fc, fp := newTestService(t)
	ctx := context.Background()

	collectionID := seedCollection(t, st, "guides")
	doc, err := svc.UploadFile(ctx, []byte("# Guide\n\nSome text."), "guide.md", "text/markdown", collectionID)
	if err != nil {
		t.Fatalf("UploadFile failed: %v", err)
	}

	got, err := svc.Resync(ctx, doc.DocID)
	if err != nil {
		t.Fatalf("Resync failed: %v", err)
	}

	if got.DocID != doc.DocID {
		t.Errorf("docID: got %s, want %s", got.DocID, doc.DocID)
	}
	if len(fc.resets) != 1 || fc.resets[0] != doc.DocID {
		t.Errorf("cleaner resets: got %v, want [%s]", fc.resets, doc.DocID)
	}
	if fp.count() != 2 {
		t.Errorf("triggers: got %d, want 2", fp.count())
	}
}

func TestResync_DeletedDoc(t *testing.T) {
	svc, st, _, _ := newTestService(t)
	ctx := context.Background()

	collectionID := seedCollection(t, st, "guides")
	doc, err := svc.UploadFile(ctx, []byte("# Guide\n\nSome text."), "guide.md", "text/markdown", collectionID)
	if err != nil {
		t.Fatalf("UploadFile failed: %v", err)
	}
	if err := svc.DeleteDoc(ctx, doc.DocID); err != nil {
		t.Fatalf("DeleteDoc failed: %v", err)
	}

	_, err = svc.Resync(ctx, doc.DocID)
	assertCode(t, err, models.ErrDocumentDeleted)
}

func TestResync_NotFound(t *testing.T) {
	svc, _, _, _ := newTestService(t)

	_, err := svc.Resync(context.Background(), "missing")
	assertCode(t, err, models.ErrDocumentNotFound)
}

func TestResync_ResetFailurePropagates(t *testing.T) {
	svc, st, fc, fp := newTestService(t)
	ctx := context.Background()

	collectionID := seedCollection(t, st, "guides")
	doc, err := svc.UploadFile(ctx, []byte("# Guide\n\nSome text."), "guide.md", "text/markdown", collectionID)
	if err != nil {
		t.Fatalf("UploadFile failed: %v", err)
	}

	fc.failReset = models.NewError(models.ErrVectorUnavailable, "unreachable")
	_, err = svc.Resync(ctx, doc.DocID)
	assertCode(t, err, models.ErrVectorUnavailable)

	if fp.count() != 1 {
		t.Errorf("triggers after failed reset: got %d, want 1", fp.count())
	}
}

func TestDeleteDoc(t *testing.T) {
	svc, st, _, _ := newTestService(t)
	ctx := context.Background()

	collectionID := seedCollection(t, st, "guides")
	doc, err := svc.UploadFile(ctx, []byte("# Guide\n\nSome text."), "guide.md", "text/markdown", collectionID)
	if err != nil {
		t.Fatalf("UploadFile failed: %v", err)
	}

	if err := svc.DeleteDoc(ctx, doc.DocID); err != nil {
		t.Fatalf("DeleteDoc failed: %v", err)
	}

	got, err := st.GetDocument(ctx, doc.DocID)
	if err != nil {
		t.Fatalf("GetDocument failed: %v", err)
	}
	if !got.IsDeleted {
		t.Error("expected document to be soft-deleted")
	}

	// Deleting again is a no-op.
	if err := svc.DeleteDoc(ctx, doc.DocID); err != nil {
		t.Fatalf("repeat DeleteDoc failed: %v", err)
	}
}

func TestDeleteDoc_NotFound(t *testing.T) {
	svc, _, _, _ := newTestService(t)

	err := svc.DeleteDoc(context.Background(), "missing")
	assertCode(t, err, models.ErrDocumentNotFound)
}

func TestDeleteCollection(t *testing.T) {
	svc, st, fc, _ := newTestService(t)
	ctx := context.Background()

	collectionID := seedCollection(t, st, "guides")

	if err := svc.DeleteCollection(ctx, collectionID); err != nil {
		t.Fatalf("DeleteCollection failed: %v", err)
	}
	if len(fc.deletedColls) != 1 || fc.deletedColls[0] != collectionID {
		t.Errorf("cleaner deletes: got %v, want [%s]", fc.deletedColls, collectionID)
	}
}

func TestDeleteCollection_NotFound(t *testing.T) {
	svc, _, _, _ := newTestService(t)

	err := svc.DeleteCollection(context.Background(), "missing")
	assertCode(t, err, models.ErrCollectionNotFound)
}
