// Package monitor exposes read-only introspection over sync jobs for
// operators: per-document status, aggregate counts, and recent
// failures.
package monitor

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/Undefine-Innovation/Qdrant-LiteRAGMCP-sub012/internal/observability"
	"github.com/Undefine-Innovation/Qdrant-LiteRAGMCP-sub012/internal/store"
	"github.com/Undefine-Innovation/Qdrant-LiteRAGMCP-sub012/pkg/models"
)

// RetryCounter reports how many retry timers are currently scheduled.
// The state machine implements it.
type RetryCounter interface {
	PendingRetries() int
}

// DocStatus is the sync state of one document.
type DocStatus struct {
	Job        *models.SyncJob `json:"job"`
	ChunkCount int             `json:"chunkCount"`
}

// Monitor answers operator queries from the job table and the state
// machine's live retry queue.
type Monitor struct {
	store   *store.Store
	retries RetryCounter
	logger  zerolog.Logger
}

// New creates a monitor.
func New(st *store.Store, retries RetryCounter) *Monitor {
	return &Monitor{
		store:   st,
		retries: retries,
		logger:  observability.Logger("monitor"),
	}
}

// DocStatus returns the job and chunk count for one document.
func (m *Monitor) DocStatus(ctx context.Context, docID string) (*DocStatus, error) {
	if _, err := m.store.GetDocument(ctx, docID); err != nil {
		return nil, err
	}

	job, err := m.store.GetJob(ctx, docID)
	if err != nil {
		return nil, err
	}

	count, err := m.store.CountChunksByDoc(ctx, docID)
	if err != nil {
		return nil, err
	}

	return &DocStatus{Job: job, ChunkCount: count}, nil
}

// Stats aggregates the job table and folds in the live retry count.
func (m *Monitor) Stats(ctx context.Context) (*models.JobStats, error) {
	stats, err := m.store.JobStats(ctx)
	if err != nil {
		return nil, err
	}
	stats.ActiveRetries = m.retries.PendingRetries()
	return stats, nil
}

// Jobs lists jobs newest first, optionally filtered by status.
func (m *Monitor) Jobs(ctx context.Context, status string, limit int) ([]*models.SyncJob, error) {
	if status != "" && !knownStatus(status) {
		return nil, models.NewError(models.ErrValidation, "unknown job status").
			WithDetails("status", status)
	}
	return m.store.ListJobs(ctx, status, limit)
}

func knownStatus(s string) bool {
	switch models.JobStatus(s) {
	case models.JobNew, models.JobSplitOK, models.JobEmbedOK,
		models.JobSynced, models.JobFailed, models.JobRetrying, models.JobDead:
		return true
	}
	return false
}
