// Package gc reconciles the relational and vector stores. The write
// protocol bounds divergence to a window; the sweeper closes it by
// deleting orphans on both sides and hard-deleting soft-deleted
// documents. A sweep on a healthy system is a no-op.
package gc

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/Undefine-Innovation/Qdrant-LiteRAGMCP-sub012/internal/idcodec"
	"github.com/Undefine-Innovation/Qdrant-LiteRAGMCP-sub012/internal/observability"
	"github.com/Undefine-Innovation/Qdrant-LiteRAGMCP-sub012/internal/store"
	"github.com/Undefine-Innovation/Qdrant-LiteRAGMCP-sub012/pkg/models"
)

// DefaultInterval is the gap between scheduled sweeps.
const DefaultInterval = 24 * time.Hour

// VectorJanitor is the slice of the vector store the sweeper uses.
type VectorJanitor interface {
	ListPointIDs(ctx context.Context, collectionID string) ([]string, error)
	DeleteByPointIDs(ctx context.Context, pointIDs []string) error
}

// Purger hard-deletes documents with the cross-store ordering the
// coordinator enforces.
type Purger interface {
	PurgeDoc(ctx context.Context, docID string) error
	DrainCompensations(ctx context.Context) error
}

// Report summarizes one sweep.
type Report struct {
	StartedAt     time.Time `json:"startedAt"`
	DurationMs    int64     `json:"durationMs"`
	Collections   int       `json:"collections"`
	OrphanVectors int       `json:"orphanVectors"`
	OrphanChunks  int       `json:"orphanChunks"`
	PurgedDocs    int       `json:"purgedDocs"`
	Failures      []string  `json:"failures,omitempty"`
}

// Sweeper runs garbage collection on a schedule and on demand.
type Sweeper struct {
	store    *store.Store
	vectors  VectorJanitor
	purger   Purger
	interval time.Duration
	logger   zerolog.Logger

	// sweepMu serializes sweeps; a manual run during a scheduled one
	// waits its turn.
	sweepMu sync.Mutex

	mu      sync.Mutex
	lastRun *Report
	stopped bool

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewSweeper creates a sweeper. A non-positive interval falls back to
// DefaultInterval.
func NewSweeper(st *store.Store, vectors VectorJanitor, purger Purger, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Sweeper{
		store:    st,
		vectors:  vectors,
		purger:   purger,
		interval: interval,
		logger:   observability.Logger("gc"),
		stopCh:   make(chan struct{}),
	}
}

// Start launches the scheduled sweep loop.
func (s *Sweeper) Start(ctx context.Context) {
	s.wg.Add(1)
	go s.loop(ctx)
	s.logger.Info().Dur("interval", s.interval).Msg("garbage collector started")
}

// Stop halts the loop and waits for an in-flight sweep to finish.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	s.mu.Unlock()

	close(s.stopCh)
	s.wg.Wait()
}

// LastReport returns the most recent sweep report, or nil before the
// first sweep.
func (s *Sweeper) LastReport() *Report {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastRun
}

func (s *Sweeper) loop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.RunOnce(ctx); err != nil {
				s.logger.Error().Err(err).Msg("scheduled sweep failed")
			}
		}
	}
}

// RunOnce performs one full sweep: per-collection reconciliation, then
// the purge of soft-deleted documents, then the compensation drain and
// an FTS optimize. A failing collection is recorded and the sweep
// moves on to the next one.
func (s *Sweeper) RunOnce(ctx context.Context) (*Report, error) {
	s.sweepMu.Lock()
	defer s.sweepMu.Unlock()

	started := time.Now()
	report := &Report{StartedAt: started}

	// Documents with a live sync job are off-limits: a commit can be
	// in flight between the two stores, and points from that window
	// must not be read as orphans.
	active, err := s.activeDocs(ctx)
	if err != nil {
		return nil, err
	}

	collections, err := s.store.ListCollections(ctx)
	if err != nil {
		return nil, err
	}
	report.Collections = len(collections)

	for _, col := range collections {
		if err := s.sweepCollection(ctx, col.CollectionID, active, report); err != nil {
			s.logger.Warn().
				Err(err).
				Str("collection_id", col.CollectionID).
				Msg("collection sweep failed")
			report.Failures = append(report.Failures, fmt.Sprintf("collection %s: %v", col.CollectionID, err))
		}
	}

	s.purgeDeleted(ctx, active, report)

	if err := s.purger.DrainCompensations(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("compensation drain failed")
		report.Failures = append(report.Failures, fmt.Sprintf("compensations: %v", err))
	}
	if err := s.store.OptimizeFTS(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("fts optimize failed")
	}

	report.DurationMs = time.Since(started).Milliseconds()

	s.mu.Lock()
	s.lastRun = report
	s.mu.Unlock()

	s.logger.Info().
		Int("collections", report.Collections).
		Int("orphan_vectors", report.OrphanVectors).
		Int("orphan_chunks", report.OrphanChunks).
		Int("purged_docs", report.PurgedDocs).
		Int("failures", len(report.Failures)).
		Int64("duration_ms", report.DurationMs).
		Msg("sweep complete")

	return report, nil
}

// sweepCollection diffs the point ID sets of one collection and deletes
// the orphans on each side.
func (s *Sweeper) sweepCollection(ctx context.Context, collectionID string, active map[string]bool, report *Report) error {
	stored, err := s.store.ListPointIDsByCollection(ctx, collectionID)
	if err != nil {
		return err
	}
	indexed, err := s.vectors.ListPointIDs(ctx, collectionID)
	if err != nil {
		return err
	}

	storedSet := toSet(stored)
	indexedSet := toSet(indexed)

	orphanVectors := orphans(indexed, storedSet, active)
	orphanChunks := orphans(stored, indexedSet, active)

	if len(orphanVectors) > 0 {
		if err := s.vectors.DeleteByPointIDs(ctx, orphanVectors); err != nil {
			return err
		}
		report.OrphanVectors += len(orphanVectors)
	}
	if len(orphanChunks) > 0 {
		if err := s.store.DeleteChunksByPointIDs(ctx, orphanChunks); err != nil {
			return err
		}
		report.OrphanChunks += len(orphanChunks)
	}

	return nil
}

// purgeDeleted hard-deletes every soft-deleted document, vector side
// first. Per-document failures are recorded and the purge continues.
func (s *Sweeper) purgeDeleted(ctx context.Context, active map[string]bool, report *Report) {
	docs, err := s.store.ListSoftDeleted(ctx)
	if err != nil {
		s.logger.Warn().Err(err).Msg("listing soft-deleted documents failed")
		report.Failures = append(report.Failures, fmt.Sprintf("soft-deleted scan: %v", err))
		return
	}

	for _, doc := range docs {
		if active[doc.DocID] {
			continue
		}
		if err := s.purger.PurgeDoc(ctx, doc.DocID); err != nil {
			s.logger.Warn().Err(err).Str("doc_id", doc.DocID).Msg("document purge failed")
			report.Failures = append(report.Failures, fmt.Sprintf("doc %s: %v", doc.DocID, err))
			continue
		}
		report.PurgedDocs++
	}
}

// activeDocs returns the set of document IDs with a non-terminal sync
// job.
func (s *Sweeper) activeDocs(ctx context.Context) (map[string]bool, error) {
	jobs, err := s.store.ListJobsByStatus(ctx,
		models.JobNew,
		models.JobSplitOK,
		models.JobEmbedOK,
		models.JobFailed,
		models.JobRetrying,
	)
	if err != nil {
		return nil, err
	}

	active := make(map[string]bool, len(jobs))
	for _, job := range jobs {
		active[job.DocID] = true
	}
	return active, nil
}

// orphans returns the IDs absent from present, skipping points whose
// document still has a live job.
func orphans(ids []string, present map[string]bool, active map[string]bool) []string {
	var out []string
	for _, id := range ids {
		if present[id] {
			continue
		}
		if docID, _, err := idcodec.ParsePointID(id); err == nil && active[docID] {
			continue
		}
		out = append(out, id)
	}
	return out
}

func toSet(ids []string) map[string]bool {
	set := make(map[string]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return set
}
