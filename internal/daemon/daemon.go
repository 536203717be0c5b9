// Package daemon implements the literag HTTP daemon: it wires the
// stores, the sync machine, the garbage collector, and the search
// service together and serves them over a chi router.
package daemon

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/Undefine-Innovation/Qdrant-LiteRAGMCP-sub012/internal/config"
	"github.com/Undefine-Innovation/Qdrant-LiteRAGMCP-sub012/internal/embedding"
	"github.com/Undefine-Innovation/Qdrant-LiteRAGMCP-sub012/internal/gc"
	"github.com/Undefine-Innovation/Qdrant-LiteRAGMCP-sub012/internal/importer"
	"github.com/Undefine-Innovation/Qdrant-LiteRAGMCP-sub012/internal/monitor"
	"github.com/Undefine-Innovation/Qdrant-LiteRAGMCP-sub012/internal/observability"
	"github.com/Undefine-Innovation/Qdrant-LiteRAGMCP-sub012/internal/search"
	"github.com/Undefine-Innovation/Qdrant-LiteRAGMCP-sub012/internal/store"
	"github.com/Undefine-Innovation/Qdrant-LiteRAGMCP-sub012/internal/syncer"
	"github.com/Undefine-Innovation/Qdrant-LiteRAGMCP-sub012/internal/vectorstore"
)

var (
	// Version is set at build time.
	Version = "dev"
	// BuildTime is set at build time.
	BuildTime = "unknown"
)

// VectorBackend is the full vector-store surface the daemon serves:
// coordinator writes, sweeper reads, similarity queries, and health.
type VectorBackend interface {
	EnsureCollection(ctx context.Context) error
	Upsert(ctx context.Context, points []vectorstore.Point) error
	DeleteByPointIDs(ctx context.Context, pointIDs []string) error
	DeleteByDoc(ctx context.Context, docID string) error
	DeleteByCollection(ctx context.Context, collectionID string) error
	ListPointIDs(ctx context.Context, collectionID string) ([]string, error)
	Search(ctx context.Context, collectionID string, vector []float32, limit int) ([]vectorstore.Hit, error)
	GetStats(ctx context.Context) (*vectorstore.Stats, error)
	Health(ctx context.Context) error
	Close() error
}

// Daemon is the literag server.
type Daemon struct {
	cfg    *config.Config
	router chi.Router
	server *http.Server
	logger zerolog.Logger

	store    *store.Store
	vectors  VectorBackend
	embedder embedding.Provider
	coord    *syncer.Coordinator
	machine  *syncer.Machine
	importer *importer.Service
	searcher *search.Service
	sweeper  *gc.Sweeper
	monitor  *monitor.Monitor

	mu        sync.RWMutex
	running   bool
	ready     bool
	startTime time.Time

	shutdownCh chan struct{}
	wg         sync.WaitGroup
}

// New creates a daemon with real backends built from the
// configuration.
func New(cfg *config.Config) (*Daemon, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("create directories: %w", err)
	}

	st, err := store.New(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("create store: %w", err)
	}

	vectors, err := vectorstore.New(vectorstore.Config{
		Host:           cfg.Qdrant.Host,
		Port:           cfg.Qdrant.Port,
		CollectionName: cfg.Qdrant.Collection,
		Dimension:      cfg.Qdrant.Dimension,
	})
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("create vector store: %w", err)
	}

	embedder, err := embedding.New(embedding.Config{
		Provider:  cfg.Embedding.Provider,
		Endpoint:  cfg.Embedding.Endpoint,
		APIKey:    cfg.Embedding.APIKey,
		Model:     cfg.Embedding.Model,
		Dimension: cfg.Qdrant.Dimension,
		BatchSize: cfg.Embedding.BatchSize,
		Timeout:   cfg.EmbedTimeout(),
	})
	if err != nil {
		vectors.Close()
		st.Close()
		return nil, fmt.Errorf("create embedding provider: %w", err)
	}

	return assemble(cfg, st, vectors, embedder), nil
}

// assemble wires the core services over the given backends. Tests
// call it directly with fakes.
func assemble(cfg *config.Config, st *store.Store, vectors VectorBackend, embedder embedding.Provider) *Daemon {
	coord := syncer.NewCoordinator(st, vectors)
	machine := syncer.NewMachine(st, embedder, coord, syncer.MachineConfig{
		Workers: cfg.Sync.Workers,
		Backoff: syncer.Backoff{
			Base:       cfg.Sync.BaseDelay,
			MaxDelay:   cfg.Sync.MaxDelay,
			MaxRetries: cfg.Sync.MaxRetries,
		},
	})

	d := &Daemon{
		cfg:      cfg,
		logger:   observability.Logger("daemon"),
		store:    st,
		vectors:  vectors,
		embedder: embedder,
		coord:    coord,
		machine:  machine,
		importer: importer.NewService(st, coord, machine, importer.Config{
			MaxUploadBytes: cfg.API.MaxUploadBytes,
		}),
		searcher:   search.NewService(st, vectors, embedder),
		sweeper:    gc.NewSweeper(st, vectors, coord, cfg.GCInterval()),
		monitor:    monitor.New(st, machine),
		shutdownCh: make(chan struct{}),
	}

	d.setupRouter()
	return d
}

// setupRouter configures the HTTP router.
func (d *Daemon) setupRouter() {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(d.loggingMiddleware)

	r.Route("/collections", func(r chi.Router) {
		r.Get("/", d.handleListCollections)
		r.Post("/", d.handleCreateCollection)
		r.Get("/{collectionID}", d.handleGetCollection)
		r.Delete("/{collectionID}", d.handleDeleteCollection)
		r.Post("/{collectionID}/docs", d.handleUploadDoc)
		r.Get("/{collectionID}/docs", d.handleListDocs)
	})

	r.Route("/docs", func(r chi.Router) {
		r.Get("/{docID}", d.handleGetDoc)
		r.Get("/{docID}/chunks", d.handleListChunks)
		r.Delete("/{docID}", d.handleDeleteDoc)
		r.Post("/{docID}/resync", d.handleResyncDoc)
		r.Get("/{docID}/job", d.handleGetJob)
	})

	r.Get("/search", d.handleSearch)

	r.Route("/jobs", func(r chi.Router) {
		r.Get("/", d.handleListJobs)
		r.Get("/stats", d.handleJobStats)
	})

	r.Post("/gc", d.handleRunGC)
	r.Get("/health", d.handleHealth)
	r.Get("/status", d.handleStatus)

	d.router = r
}

// loggingMiddleware logs HTTP requests.
func (d *Daemon) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		d.logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("request completed")
	})
}

// Start brings the daemon up: vector collection, worker pool, resumed
// jobs, GC loop, then the listener. Unreachable backends are logged
// and surfaced through /health; jobs retry against them with backoff.
func (d *Daemon) Start(ctx context.Context) error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return fmt.Errorf("daemon already running")
	}
	d.running = true
	d.startTime = time.Now()
	d.mu.Unlock()

	d.logger.Info().
		Str("addr", d.cfg.ListenAddr()).
		Str("database", d.cfg.Database.Path).
		Str("embedding_provider", d.embedder.Name()).
		Str("embedding_endpoint", d.cfg.Embedding.Endpoint).
		Str("embedding_api_key", observability.SanitizeForLog("api_key", d.cfg.Embedding.APIKey)).
		Msg("starting daemon")

	setupCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	if err := d.vectors.EnsureCollection(setupCtx); err != nil {
		d.logger.Warn().Err(err).Msg("vector store not ready, ingestion will retry")
	}
	if err := d.embedder.Health(setupCtx); err != nil {
		d.logger.Warn().Err(err).Str("provider", d.embedder.Name()).
			Msg("embedding provider not ready, ingestion will retry")
	}
	cancel()

	d.machine.Start(ctx)
	if err := d.machine.Initialize(ctx); err != nil {
		d.logger.Error().Err(err).Msg("resume persisted jobs failed")
	}
	d.sweeper.Start(ctx)

	listener, err := net.Listen("tcp", d.cfg.ListenAddr())
	if err != nil {
		return fmt.Errorf("listen on %s: %w", d.cfg.ListenAddr(), err)
	}

	d.server = &http.Server{
		Handler:      d.router,
		ReadTimeout:  d.cfg.API.ReadTimeout,
		WriteTimeout: d.cfg.API.WriteTimeout,
		IdleTimeout:  d.cfg.API.IdleTimeout,
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		if err := d.server.Serve(listener); err != nil && err != http.ErrServerClosed {
			d.logger.Error().Err(err).Msg("server error")
		}
	}()

	d.mu.Lock()
	d.ready = true
	d.mu.Unlock()

	d.logger.Info().Msg("daemon started")
	return nil
}

// Stop gracefully stops the daemon: listener first, then the
// background loops, then the stores.
func (d *Daemon) Stop(ctx context.Context) error {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return nil
	}
	d.running = false
	d.ready = false
	d.mu.Unlock()

	d.logger.Info().Msg("stopping daemon")
	close(d.shutdownCh)

	if d.server != nil {
		if err := d.server.Shutdown(ctx); err != nil {
			d.logger.Error().Err(err).Msg("server shutdown error")
		}
	}

	d.sweeper.Stop()
	d.machine.Stop()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		d.logger.Warn().Msg("shutdown timeout, some goroutines may still be running")
	}

	if err := d.vectors.Close(); err != nil {
		d.logger.Warn().Err(err).Msg("vector store close error")
	}
	if d.store != nil {
		d.store.Close()
	}

	d.logger.Info().Msg("daemon stopped")
	return nil
}

// Run runs the daemon until interrupted.
func (d *Daemon) Run() error {
	ctx := context.Background()

	if err := d.Start(ctx); err != nil {
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		d.logger.Info().Str("signal", sig.String()).Msg("received shutdown signal")
	case <-d.shutdownCh:
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	return d.Stop(shutdownCtx)
}

// Ready returns whether the daemon is ready to serve requests.
func (d *Daemon) Ready() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.ready
}
