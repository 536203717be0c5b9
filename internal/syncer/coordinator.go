package syncer

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/Undefine-Innovation/Qdrant-LiteRAGMCP-sub012/internal/observability"
	"github.com/Undefine-Innovation/Qdrant-LiteRAGMCP-sub012/internal/store"
	"github.com/Undefine-Innovation/Qdrant-LiteRAGMCP-sub012/internal/vectorstore"
	"github.com/Undefine-Innovation/Qdrant-LiteRAGMCP-sub012/pkg/models"
)

// VectorWriter is the slice of the vector store the coordinator writes
// through. Tests substitute a fake.
type VectorWriter interface {
	Upsert(ctx context.Context, points []vectorstore.Point) error
	DeleteByPointIDs(ctx context.Context, pointIDs []string) error
	DeleteByDoc(ctx context.Context, docID string) error
	DeleteByCollection(ctx context.Context, collectionID string) error
}

// Coordinator orders writes across the relational and vector stores.
// The two stores do not share transactions, so the protocol bounds
// divergence instead of preventing it: on writes the relational commit
// goes last, on deletes the vector delete goes first, and anything
// left dangling by a failure sits in a window the garbage collector
// closes.
type Coordinator struct {
	store   *store.Store
	vectors VectorWriter
	logger  zerolog.Logger

	compMu  sync.Mutex
	pending []string
}

// NewCoordinator creates a coordinator over the two stores.
func NewCoordinator(st *store.Store, vectors VectorWriter) *Coordinator {
	return &Coordinator{
		store:   st,
		vectors: vectors,
		logger:  observability.Logger("coordinator"),
	}
}

// CommitChunks replaces a document's chunk set in both stores. Chunk
// and FTS rows are written inside an open relational transaction, the
// vector upsert runs while that transaction is still uncommitted, and
// the commit lands only after the vector side succeeded. A vector
// failure rolls the relational side back untouched. A commit failure
// after a successful upsert leaves orphan points in the vector store;
// those are queued for a compensating delete and the error is
// surfaced.
func (c *Coordinator) CommitChunks(ctx context.Context, docID string, chunks []*models.Chunk, points []vectorstore.Point) error {
	tx, err := c.store.Begin(ctx)
	if err != nil {
		return models.Wrap(models.ErrStoreUnavailable, "begin chunk transaction", err)
	}
	defer tx.Rollback()

	if err := c.store.DeleteChunksByDocTx(ctx, tx, docID); err != nil {
		return err
	}
	if err := c.store.InsertChunksTx(ctx, tx, chunks); err != nil {
		return err
	}

	if err := c.vectors.Upsert(ctx, points); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		ids := make([]string, len(points))
		for i, p := range points {
			ids[i] = p.PointID
		}
		c.enqueueCompensation(ids)
		return models.Wrap(models.ErrStoreUnavailable, "commit chunk transaction", err).
			WithDetails("docId", docID)
	}

	c.logger.Debug().
		Str("doc_id", docID).
		Int("chunks", len(chunks)).
		Msg("chunk set committed")
	return nil
}

// ResetDoc removes a document's chunks from both stores and resets its
// sync job to NEW. Used by resync before re-triggering the state
// machine. The vector delete goes first; if the relational cleanup
// fails afterwards the leftover rows are orphans the garbage collector
// removes.
func (c *Coordinator) ResetDoc(ctx context.Context, docID string) error {
	if err := c.vectors.DeleteByDoc(ctx, docID); err != nil {
		return err
	}

	tx, err := c.store.Begin(ctx)
	if err != nil {
		return models.Wrap(models.ErrStoreUnavailable, "begin reset transaction", err)
	}
	defer tx.Rollback()

	if err := c.store.DeleteChunksByDocTx(ctx, tx, docID); err != nil {
		return err
	}
	if err := c.store.ResetJobTx(ctx, tx, docID); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return models.Wrap(models.ErrStoreUnavailable, "commit reset transaction", err).
			WithDetails("docId", docID)
	}
	return nil
}

// PurgeDoc hard-deletes one document from both stores, vector side
// first. A relational failure after the vector delete is benign; the
// next garbage collection sweep retries it.
func (c *Coordinator) PurgeDoc(ctx context.Context, docID string) error {
	if err := c.vectors.DeleteByDoc(ctx, docID); err != nil {
		return err
	}
	return c.store.HardDeleteDocument(ctx, docID)
}

// DeleteCollection removes a collection and everything it owns.
// Vector points go first in one filter delete. The relational cascade
// then purges each document under its own savepoint, so one poisoned
// document is recorded without aborting the scan of the rest; the
// outer transaction still commits or rolls back as a whole, and any
// per-document failure fails the entire delete.
func (c *Coordinator) DeleteCollection(ctx context.Context, collectionID string) error {
	if err := c.vectors.DeleteByCollection(ctx, collectionID); err != nil {
		return err
	}

	docIDs, err := c.store.ListDocIDs(ctx, collectionID)
	if err != nil {
		return err
	}

	tx, err := c.store.Begin(ctx)
	if err != nil {
		return models.Wrap(models.ErrStoreUnavailable, "begin cascade transaction", err)
	}
	defer tx.Rollback()

	var failed []string
	for i, docID := range docIDs {
		name := fmt.Sprintf("purge_doc_%d", i)
		if err := c.store.Savepoint(ctx, tx, name); err != nil {
			return err
		}
		if err := c.store.HardDeleteDocumentTx(ctx, tx, docID); err != nil {
			c.logger.Warn().Err(err).Str("doc_id", docID).Msg("document purge failed in cascade")
			if rbErr := c.store.RollbackToSavepoint(ctx, tx, name); rbErr != nil {
				return rbErr
			}
			failed = append(failed, docID)
			continue
		}
		if err := c.store.ReleaseSavepoint(ctx, tx, name); err != nil {
			return err
		}
	}

	if len(failed) > 0 {
		return models.NewError(models.ErrInternal, "collection cascade could not purge every document").
			WithDetails("collectionId", collectionID).
			WithDetails("docIds", failed)
	}

	if err := c.store.DeleteCollectionTx(ctx, tx, collectionID); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return models.Wrap(models.ErrStoreUnavailable, "commit cascade transaction", err).
			WithDetails("collectionId", collectionID)
	}

	c.logger.Info().
		Str("collection_id", collectionID).
		Int("docs", len(docIDs)).
		Msg("collection deleted")
	return nil
}

// enqueueCompensation records point IDs whose vector copies outlived a
// failed relational commit.
func (c *Coordinator) enqueueCompensation(pointIDs []string) {
	if len(pointIDs) == 0 {
		return
	}
	c.compMu.Lock()
	c.pending = append(c.pending, pointIDs...)
	total := len(c.pending)
	c.compMu.Unlock()

	c.logger.Warn().
		Int("queued", len(pointIDs)).
		Int("pending", total).
		Msg("queued compensating vector delete")
}

// PendingCompensations returns the number of queued compensating
// deletes.
func (c *Coordinator) PendingCompensations() int {
	c.compMu.Lock()
	defer c.compMu.Unlock()
	return len(c.pending)
}

// DrainCompensations deletes queued orphan points from the vector
// store. On failure the batch goes back on the queue for the next
// sweep.
func (c *Coordinator) DrainCompensations(ctx context.Context) error {
	c.compMu.Lock()
	batch := c.pending
	c.pending = nil
	c.compMu.Unlock()

	if len(batch) == 0 {
		return nil
	}

	if err := c.vectors.DeleteByPointIDs(ctx, batch); err != nil {
		c.compMu.Lock()
		c.pending = append(batch, c.pending...)
		c.compMu.Unlock()
		return err
	}

	c.logger.Info().Int("count", len(batch)).Msg("drained compensating deletes")
	return nil
}
