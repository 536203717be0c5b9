package syncer

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/Undefine-Innovation/Qdrant-LiteRAGMCP-sub012/internal/idcodec"
	"github.com/Undefine-Innovation/Qdrant-LiteRAGMCP-sub012/internal/observability"
	"github.com/Undefine-Innovation/Qdrant-LiteRAGMCP-sub012/internal/splitter"
	"github.com/Undefine-Innovation/Qdrant-LiteRAGMCP-sub012/internal/store"
	"github.com/Undefine-Innovation/Qdrant-LiteRAGMCP-sub012/internal/vectorstore"
	"github.com/Undefine-Innovation/Qdrant-LiteRAGMCP-sub012/pkg/models"
)

const (
	// DefaultWorkers is the ingest worker pool size.
	DefaultWorkers = 4

	// defaultQueueSize bounds the in-memory dispatch queue. Jobs are
	// durable in the store, so a full queue only delays dispatch.
	defaultQueueSize = 256
)

// Embedder is the slice of the embedding provider the machine needs.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
}

// MachineConfig configures the state machine.
type MachineConfig struct {
	Workers   int
	QueueSize int
	Backoff   Backoff
}

// Machine drives documents through split, embed, and commit. Progress
// is recorded in the sync-job table after each step, so a restart
// resumes from the last durable state. One attempt runs per document
// at a time; distinct documents progress in parallel across the worker
// pool.
type Machine struct {
	store    *store.Store
	embedder Embedder
	coord    *Coordinator
	split    *splitter.Splitter
	backoff  Backoff
	workers  int
	logger   zerolog.Logger

	queue  chan string
	stopCh chan struct{}
	wg     sync.WaitGroup

	mu      sync.Mutex
	locks   map[string]*sync.Mutex
	timers  map[string]*time.Timer
	stopped bool
}

// NewMachine creates a state machine over the given stores and
// provider.
func NewMachine(st *store.Store, embedder Embedder, coord *Coordinator, cfg MachineConfig) *Machine {
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}
	if cfg.Backoff.Base <= 0 {
		cfg.Backoff = DefaultBackoff()
	}

	return &Machine{
		store:    st,
		embedder: embedder,
		coord:    coord,
		split:    splitter.New(),
		backoff:  cfg.Backoff,
		workers:  cfg.Workers,
		logger:   observability.Logger("syncer"),
		queue:    make(chan string, cfg.QueueSize),
		stopCh:   make(chan struct{}),
		locks:    make(map[string]*sync.Mutex),
		timers:   make(map[string]*time.Timer),
	}
}

// Start launches the worker pool.
func (m *Machine) Start(ctx context.Context) {
	for i := 0; i < m.workers; i++ {
		m.wg.Add(1)
		go m.worker(ctx)
	}
	m.logger.Info().Int("workers", m.workers).Msg("sync machine started")
}

// Stop cancels pending retry timers and waits for in-flight attempts
// to finish. Interrupted jobs stay in their last durable state and
// resume on the next Initialize.
func (m *Machine) Stop() {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return
	}
	m.stopped = true
	for docID, t := range m.timers {
		t.Stop()
		delete(m.timers, docID)
	}
	m.mu.Unlock()

	close(m.stopCh)
	m.wg.Wait()
	m.logger.Info().Msg("sync machine stopped")
}

// Trigger makes sure a job row exists for the document and queues it
// for processing. Safe to call for documents already queued; a repeat
// run on a synced document is a no-op.
func (m *Machine) Trigger(ctx context.Context, docID string) error {
	if err := m.store.EnsureJob(ctx, docID); err != nil {
		return err
	}
	return m.enqueue(ctx, docID)
}

// Initialize resumes persisted jobs after a restart: in-flight jobs
// are re-queued from their last durable step, failed jobs are
// re-scheduled honoring their retry count, and jobs past the retry
// budget are moved to DEAD. Call after Start so a backlog larger than
// the queue can drain while it enqueues.
func (m *Machine) Initialize(ctx context.Context) error {
	resumable, err := m.store.ListJobsByStatus(ctx, models.JobNew, models.JobSplitOK, models.JobEmbedOK)
	if err != nil {
		return err
	}
	for _, job := range resumable {
		if err := m.enqueue(ctx, job.DocID); err != nil {
			return err
		}
	}

	broken, err := m.store.ListJobsByStatus(ctx, models.JobFailed, models.JobRetrying)
	if err != nil {
		return err
	}

	var dead int
	for _, job := range broken {
		if m.backoff.Exhausted(job.Retries) {
			if err := m.store.RecordJobFailure(ctx, job.DocID, models.JobDead, job.Retries, job.LastError, job.ErrorCategory); err != nil {
				return err
			}
			dead++
			continue
		}
		switch job.Status {
		case models.JobRetrying:
			// The process died between scheduling and running the
			// retry; run it now.
			if err := m.enqueue(ctx, job.DocID); err != nil {
				return err
			}
		case models.JobFailed:
			m.scheduleRetry(job.DocID, job.Retries)
		}
	}

	m.logger.Info().
		Int("resumed", len(resumable)).
		Int("rescheduled", len(broken)-dead).
		Int("dead", dead).
		Msg("sync jobs recovered")
	return nil
}

// PendingRetries returns the number of retry timers waiting to fire.
func (m *Machine) PendingRetries() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.timers)
}

func (m *Machine) worker(ctx context.Context) {
	defer m.wg.Done()
	for {
		select {
		case <-m.stopCh:
			return
		case <-ctx.Done():
			return
		case docID := <-m.queue:
			m.process(ctx, docID)
		}
	}
}

func (m *Machine) enqueue(ctx context.Context, docID string) error {
	select {
	case m.queue <- docID:
		return nil
	case <-m.stopCh:
		// The job row is durable; the next Initialize picks it up.
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// lockDoc returns the advisory lock for a document, creating it on
// first use. The lock serializes attempts per document and is the only
// lock held across adapter calls.
func (m *Machine) lockDoc(docID string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[docID]
	if !ok {
		l = &sync.Mutex{}
		m.locks[docID] = l
	}
	return l
}

// process runs one sync attempt for a document.
func (m *Machine) process(ctx context.Context, docID string) {
	lock := m.lockDoc(docID)
	lock.Lock()
	defer lock.Unlock()

	job, err := m.store.GetJob(ctx, docID)
	if err != nil {
		m.logger.Warn().Err(err).Str("doc_id", docID).Msg("job lookup failed")
		return
	}
	if job.Status.IsTerminal() {
		m.logger.Debug().Str("doc_id", docID).Str("status", string(job.Status)).Msg("job already terminal")
		return
	}
	if job.Status == models.JobFailed {
		// A manual trigger can land before the retry timer fires.
		if err := m.transitionTo(ctx, docID, models.JobFailed, models.JobRetrying); err != nil {
			m.logger.Warn().Err(err).Str("doc_id", docID).Msg("retry transition failed")
			return
		}
		job.Status = models.JobRetrying
	}

	doc, err := m.store.GetDocument(ctx, docID)
	if err != nil {
		m.handleFailure(ctx, docID, err)
		return
	}
	if doc.IsDeleted {
		m.logger.Debug().Str("doc_id", docID).Msg("document soft-deleted, skipping sync")
		return
	}

	if err := m.store.MarkJobAttempt(ctx, docID); err != nil {
		m.logger.Warn().Err(err).Str("doc_id", docID).Msg("attempt mark failed")
	}

	start := time.Now()
	if err := m.runPipeline(ctx, doc, job.Status); err != nil {
		m.handleFailure(ctx, docID, err)
		return
	}

	m.logger.Info().
		Str("doc_id", docID).
		Dur("duration", time.Since(start)).
		Msg("document synced")
}

// runPipeline advances a document from its current job status to
// SYNCED. Splitting is deterministic and embeddings are not persisted
// between steps, so a resume past SPLIT_OK re-derives earlier results
// and only the status transitions are skipped.
func (m *Machine) runPipeline(ctx context.Context, doc *models.Document, from models.JobStatus) error {
	chunks, err := m.splitDoc(ctx, doc)
	if err != nil {
		return err
	}

	if from == models.JobNew || from == models.JobRetrying {
		if err := m.transitionTo(ctx, doc.DocID, from, models.JobSplitOK); err != nil {
			return err
		}
		from = models.JobSplitOK
	}

	points, err := m.embedChunks(ctx, chunks)
	if err != nil {
		return err
	}

	if from == models.JobSplitOK {
		if err := m.transitionTo(ctx, doc.DocID, from, models.JobEmbedOK); err != nil {
			return err
		}
		from = models.JobEmbedOK
	}

	if err := m.coord.CommitChunks(ctx, doc.DocID, chunks, points); err != nil {
		return err
	}

	if err := m.transitionTo(ctx, doc.DocID, from, models.JobSynced); err != nil {
		return err
	}

	return m.store.SetDocumentSynced(ctx, doc.DocID, time.Now().UTC())
}

// splitDoc re-reads the document's source bytes and chunks them.
func (m *Machine) splitDoc(ctx context.Context, doc *models.Document) ([]*models.Chunk, error) {
	blob, err := m.store.GetBlob(ctx, doc.SourceKey)
	if err != nil {
		return nil, err
	}

	pieces := m.split.Split(string(blob), doc.Name)
	chunks := make([]*models.Chunk, len(pieces))
	for i, p := range pieces {
		chunks[i] = &models.Chunk{
			PointID:      idcodec.PointID(doc.DocID, i),
			DocID:        doc.DocID,
			CollectionID: doc.CollectionID,
			ChunkIndex:   i,
			TitleChain:   p.TitleChain,
			ContentHash:  idcodec.ContentHash(p.Content),
			Content:      p.Content,
		}
	}
	return chunks, nil
}

// embedChunks turns chunk text into vector points. An empty chunk set
// is valid; the document syncs with nothing to embed.
func (m *Machine) embedChunks(ctx context.Context, chunks []*models.Chunk) ([]vectorstore.Point, error) {
	if len(chunks) == 0 {
		return nil, nil
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Content
	}

	vecs, err := m.embedder.Embed(ctx, texts)
	if err != nil {
		return nil, err
	}

	points := make([]vectorstore.Point, len(chunks))
	for i, c := range chunks {
		points[i] = vectorstore.Point{
			PointID:      c.PointID,
			Vector:       vecs[i],
			DocID:        c.DocID,
			CollectionID: c.CollectionID,
			ChunkIndex:   c.ChunkIndex,
			TitleChain:   c.TitleChain,
			ContentHash:  c.ContentHash,
		}
	}
	return points, nil
}

// transitionTo moves a job to a new status after checking the edge is
// legal.
func (m *Machine) transitionTo(ctx context.Context, docID string, from, to models.JobStatus) error {
	if !models.IsValidJobTransition(from, to) {
		return models.NewError(models.ErrInvalidTransition, "illegal job transition").
			WithDetails("docId", docID).
			WithDetails("from", string(from)).
			WithDetails("to", string(to))
	}

	if err := m.store.SetJobStatus(ctx, docID, to); err != nil {
		return err
	}

	m.logger.Debug().
		Str("doc_id", docID).
		Str("from", string(from)).
		Str("to", string(to)).
		Msg("job transition")
	return nil
}

// handleFailure classifies an attempt error, records it, and decides
// between retry and dead-letter. Cancellation records FAILED without
// scheduling; the interrupted job resumes on the next Initialize.
func (m *Machine) handleFailure(ctx context.Context, docID string, cause error) {
	category := Classify(cause)

	job, err := m.store.GetJob(ctx, docID)
	if err != nil {
		m.logger.Error().Err(err).Str("doc_id", docID).Msg("failure bookkeeping lost: job lookup failed")
		return
	}
	// Permanent failures never consume a retry; the count stays at
	// whatever the transient attempts left it.
	retries := job.Retries
	if !category.IsPermanent() {
		retries++
	}

	recordCtx := ctx
	if ctx.Err() != nil {
		// The attempt's context is gone; the failure record must
		// still land.
		recordCtx = context.Background()
	}

	if err := m.store.RecordJobFailure(recordCtx, docID, models.JobFailed, retries, cause.Error(), category); err != nil {
		m.logger.Error().Err(err).Str("doc_id", docID).Msg("failure record failed")
		return
	}

	m.logger.Warn().
		Err(cause).
		Str("doc_id", docID).
		Str("category", string(category)).
		Int("retries", retries).
		Msg("sync attempt failed")

	if category.IsPermanent() || m.backoff.Exhausted(retries) {
		if err := m.store.RecordJobFailure(recordCtx, docID, models.JobDead, retries, cause.Error(), category); err != nil {
			m.logger.Error().Err(err).Str("doc_id", docID).Msg("dead-letter record failed")
			return
		}
		m.logger.Error().
			Str("doc_id", docID).
			Str("category", string(category)).
			Int("retries", retries).
			Msg("job dead-lettered")
		return
	}

	if errors.Is(cause, context.Canceled) {
		return
	}

	m.scheduleRetry(docID, retries)
}

// scheduleRetry arms a timer that re-queues the document after the
// backoff delay. An existing timer for the document is replaced.
func (m *Machine) scheduleRetry(docID string, retries int) {
	delay := m.backoff.Delay(retries)

	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return
	}
	if old, ok := m.timers[docID]; ok {
		old.Stop()
	}
	m.timers[docID] = time.AfterFunc(delay, func() {
		m.fireRetry(docID)
	})
	m.mu.Unlock()

	m.logger.Info().
		Str("doc_id", docID).
		Int("retries", retries).
		Dur("delay", delay).
		Msg("retry scheduled")
}

// fireRetry runs when a retry timer elapses: it moves the job from
// FAILED to RETRYING and queues it. A job reset to NEW by a resync
// while the timer was pending is queued as-is.
func (m *Machine) fireRetry(docID string) {
	m.mu.Lock()
	delete(m.timers, docID)
	stopped := m.stopped
	m.mu.Unlock()
	if stopped {
		return
	}

	ctx := context.Background()
	job, err := m.store.GetJob(ctx, docID)
	if err != nil {
		m.logger.Warn().Err(err).Str("doc_id", docID).Msg("retry dropped: job lookup failed")
		return
	}

	if job.Status == models.JobFailed {
		if err := m.transitionTo(ctx, docID, models.JobFailed, models.JobRetrying); err != nil {
			m.logger.Warn().Err(err).Str("doc_id", docID).Msg("retry dropped: transition failed")
			return
		}
	}

	select {
	case m.queue <- docID:
	case <-m.stopCh:
	}
}
