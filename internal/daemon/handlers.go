package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/Undefine-Innovation/Qdrant-LiteRAGMCP-sub012/internal/idcodec"
	"github.com/Undefine-Innovation/Qdrant-LiteRAGMCP-sub012/internal/search"
	"github.com/Undefine-Innovation/Qdrant-LiteRAGMCP-sub012/pkg/models"
)

// Response helpers

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code models.ErrorCode, message string) {
	writeJSON(w, status, map[string]interface{}{
		"error": map[string]interface{}{
			"code":    code,
			"message": message,
		},
	})
}

// writeErr converts a core error to the error envelope. Tagged errors
// carry their own code and details; anything else is internal.
func (d *Daemon) writeErr(w http.ResponseWriter, err error) {
	var ragErr *models.RAGError
	if errors.As(err, &ragErr) {
		body := map[string]interface{}{
			"code":    ragErr.Code,
			"message": ragErr.Message,
		}
		if len(ragErr.Details) > 0 {
			body["details"] = ragErr.Details
		}
		writeJSON(w, statusForCode(ragErr.Code), map[string]interface{}{"error": body})
		return
	}

	d.logger.Error().Err(err).Msg("unhandled error")
	writeError(w, http.StatusInternalServerError, models.ErrInternal, "internal error")
}

// statusForCode maps tagged error codes onto HTTP statuses.
func statusForCode(code models.ErrorCode) int {
	switch code {
	case models.ErrValidation, models.ErrEmptyQuery, models.ErrFTSQuery,
		models.ErrMalformedPointID, models.ErrEmptyInput:
		return http.StatusBadRequest
	case models.ErrCollectionNotFound, models.ErrDocumentNotFound, models.ErrJobNotFound:
		return http.StatusNotFound
	case models.ErrCollectionExists, models.ErrDocumentExists:
		return http.StatusConflict
	case models.ErrPayloadTooLarge:
		return http.StatusRequestEntityTooLarge
	case models.ErrUnsupportedMedia:
		return http.StatusUnsupportedMediaType
	case models.ErrDocumentDeleted, models.ErrEmbedCount, models.ErrIntegrity:
		return http.StatusUnprocessableEntity
	case models.ErrStoreUnavailable, models.ErrVectorUnavailable,
		models.ErrEmbedUnavailable, models.ErrEmbedRateLimited:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// queryInt parses an integer query parameter with a fallback.
func queryInt(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return n
}

// Collection endpoints

func (d *Daemon) handleCreateCollection(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name        string `json:"name"`
		Description string `json:"description,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, models.ErrValidation, "invalid JSON body")
		return
	}

	col, err := d.store.CreateCollection(r.Context(), req.Name, req.Description)
	if err != nil {
		d.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, col)
}

func (d *Daemon) handleListCollections(w http.ResponseWriter, r *http.Request) {
	cols, err := d.store.ListCollections(r.Context())
	if err != nil {
		d.writeErr(w, err)
		return
	}
	if cols == nil {
		cols = []*models.Collection{}
	}
	writeJSON(w, http.StatusOK, cols)
}

func (d *Daemon) handleGetCollection(w http.ResponseWriter, r *http.Request) {
	collectionID := chi.URLParam(r, "collectionID")

	col, err := d.store.GetCollection(r.Context(), collectionID)
	if err != nil {
		d.writeErr(w, err)
		return
	}
	docs, chunks, err := d.store.CollectionCounts(r.Context(), collectionID)
	if err != nil {
		d.writeErr(w, err)
		return
	}

	writeJSON(w, http.StatusOK, models.CollectionDetail{
		Collection: *col,
		DocCount:   docs,
		ChunkCount: chunks,
	})
}

func (d *Daemon) handleDeleteCollection(w http.ResponseWriter, r *http.Request) {
	collectionID := chi.URLParam(r, "collectionID")

	if err := d.importer.DeleteCollection(r.Context(), collectionID); err != nil {
		d.writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Document endpoints

func (d *Daemon) handleUploadDoc(w http.ResponseWriter, r *http.Request) {
	collectionID := chi.URLParam(r, "collectionID")

	// Multipart framing overhead on top of the payload cap.
	r.Body = http.MaxBytesReader(w, r.Body, d.cfg.API.MaxUploadBytes+1<<20)
	if err := r.ParseMultipartForm(d.cfg.API.MaxUploadBytes); err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, models.ErrPayloadTooLarge, "upload exceeds size limit")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, models.ErrValidation, "multipart field 'file' is required")
		return
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, models.ErrValidation, "read uploaded file")
		return
	}

	// Re-uploading live identical content answers 200, not 201.
	status := http.StatusCreated
	if existing, err := d.store.GetDocument(r.Context(), idcodec.DocID(content)); err == nil && !existing.IsDeleted {
		status = http.StatusOK
	}

	doc, err := d.importer.UploadFile(r.Context(), content, header.Filename,
		header.Header.Get("Content-Type"), collectionID)
	if err != nil {
		d.writeErr(w, err)
		return
	}
	writeJSON(w, status, doc)
}

func (d *Daemon) handleListDocs(w http.ResponseWriter, r *http.Request) {
	collectionID := chi.URLParam(r, "collectionID")

	if _, err := d.store.GetCollection(r.Context(), collectionID); err != nil {
		d.writeErr(w, err)
		return
	}
	docs, err := d.store.ListDocuments(r.Context(), collectionID)
	if err != nil {
		d.writeErr(w, err)
		return
	}
	if docs == nil {
		docs = []*models.Document{}
	}
	writeJSON(w, http.StatusOK, docs)
}

func (d *Daemon) handleGetDoc(w http.ResponseWriter, r *http.Request) {
	doc, err := d.store.GetDocument(r.Context(), chi.URLParam(r, "docID"))
	if err != nil {
		d.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (d *Daemon) handleListChunks(w http.ResponseWriter, r *http.Request) {
	docID := chi.URLParam(r, "docID")
	page := queryInt(r, "page", 1)
	limit := queryInt(r, "limit", 50)

	if _, err := d.store.GetDocument(r.Context(), docID); err != nil {
		d.writeErr(w, err)
		return
	}
	chunks, err := d.store.GetChunkPage(r.Context(), docID, page, limit)
	if err != nil {
		d.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, chunks)
}

func (d *Daemon) handleDeleteDoc(w http.ResponseWriter, r *http.Request) {
	if err := d.importer.DeleteDoc(r.Context(), chi.URLParam(r, "docID")); err != nil {
		d.writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (d *Daemon) handleResyncDoc(w http.ResponseWriter, r *http.Request) {
	doc, err := d.importer.Resync(r.Context(), chi.URLParam(r, "docID"))
	if err != nil {
		d.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, doc)
}

func (d *Daemon) handleGetJob(w http.ResponseWriter, r *http.Request) {
	status, err := d.monitor.DocStatus(r.Context(), chi.URLParam(r, "docID"))
	if err != nil {
		d.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// Search endpoint

func (d *Daemon) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	results, err := d.searcher.Search(r.Context(), search.Request{
		Query:        q.Get("q"),
		CollectionID: q.Get("collectionId"),
		Limit:        queryInt(r, "limit", 0),
	})
	if err != nil {
		d.writeErr(w, err)
		return
	}
	if results == nil {
		results = []models.SearchResult{}
	}
	writeJSON(w, http.StatusOK, results)
}

// Job endpoints

func (d *Daemon) handleListJobs(w http.ResponseWriter, r *http.Request) {
	jobs, err := d.monitor.Jobs(r.Context(), r.URL.Query().Get("status"), queryInt(r, "limit", 50))
	if err != nil {
		d.writeErr(w, err)
		return
	}
	if jobs == nil {
		jobs = []*models.SyncJob{}
	}
	writeJSON(w, http.StatusOK, jobs)
}

func (d *Daemon) handleJobStats(w http.ResponseWriter, r *http.Request) {
	stats, err := d.monitor.Stats(r.Context())
	if err != nil {
		d.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// GC endpoint

func (d *Daemon) handleRunGC(w http.ResponseWriter, r *http.Request) {
	report, err := d.sweeper.RunOnce(r.Context())
	if err != nil {
		d.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// Health and status endpoints

func (d *Daemon) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	components := map[string]models.ComponentHealth{
		"sqlite":    componentHealth(d.store.Health(ctx)),
		"qdrant":    componentHealth(d.vectors.Health(ctx)),
		"embedding": componentHealth(d.embedder.Health(ctx)),
	}

	ok := d.Ready()
	for _, c := range components {
		if c.Status != "ok" {
			ok = false
		}
	}

	status := http.StatusOK
	if !ok {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, models.Health{OK: ok, Components: components})
}

func (d *Daemon) handleStatus(w http.ResponseWriter, r *http.Request) {
	stats, err := d.monitor.Stats(r.Context())
	if err != nil {
		d.writeErr(w, err)
		return
	}

	body := map[string]interface{}{
		"daemon": map[string]interface{}{
			"version":    Version,
			"build_time": BuildTime,
			"uptime":     time.Since(d.startTime).String(),
			"ready":      d.Ready(),
		},
		"jobs":      stats,
		"timestamp": time.Now().Format(time.RFC3339),
	}
	if report := d.sweeper.LastReport(); report != nil {
		body["lastGC"] = report
	}
	if stats, err := d.vectors.GetStats(r.Context()); err == nil {
		body["vectors"] = stats
	}
	writeJSON(w, http.StatusOK, body)
}

func componentHealth(err error) models.ComponentHealth {
	if err != nil {
		return models.ComponentHealth{Status: "down", Message: err.Error()}
	}
	return models.ComponentHealth{Status: "ok"}
}
