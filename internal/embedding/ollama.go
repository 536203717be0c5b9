package embedding

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/ollama/ollama/api"
	"github.com/rs/zerolog"

	"github.com/Undefine-Innovation/Qdrant-LiteRAGMCP-sub012/internal/observability"
	"github.com/Undefine-Innovation/Qdrant-LiteRAGMCP-sub012/pkg/models"
)

const (
	// DefaultModel is the default embedding model.
	// nomic-embed-text produces 768-dimensional vectors and is MIT licensed.
	DefaultModel = "nomic-embed-text"

	// DefaultDimension is the vector dimension for nomic-embed-text.
	DefaultDimension = 768

	// DefaultOllamaHost is the default Ollama API endpoint.
	DefaultOllamaHost = "http://localhost:11434"

	// DefaultBatchSize is the default number of texts embedded in parallel.
	DefaultBatchSize = 10
)

// Ollama generates embeddings via a local Ollama server.
type Ollama struct {
	client    *api.Client
	model     string
	dimension int
	batchSize int
	logger    zerolog.Logger
	mu        sync.RWMutex
	ready     bool
}

// NewOllama creates an Ollama-backed provider.
func NewOllama(cfg Config) (*Ollama, error) {
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultOllamaHost
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Dimension <= 0 {
		cfg.Dimension = DefaultDimension
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}

	ollamaURL, err := url.Parse(cfg.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid Ollama host URL: %w", err)
	}

	httpClient := http.DefaultClient
	if cfg.Timeout > 0 {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}

	return &Ollama{
		client:    api.NewClient(ollamaURL, httpClient),
		model:     cfg.Model,
		dimension: cfg.Dimension,
		batchSize: cfg.BatchSize,
		logger:    observability.Logger("embedding.ollama"),
	}, nil
}

// EnsureModel ensures the embedding model is available, pulling it if
// necessary.
func (o *Ollama) EnsureModel(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.ready {
		return nil
	}

	showReq := &api.ShowRequest{Model: o.model}
	if _, err := o.client.Show(ctx, showReq); err == nil {
		o.ready = true
		o.logger.Info().Str("model", o.model).Msg("embedding model ready")
		return nil
	}

	o.logger.Info().Str("model", o.model).Msg("pulling embedding model (this may take a few minutes)")

	pullReq := &api.PullRequest{Model: o.model}
	progressFn := func(resp api.ProgressResponse) error {
		if resp.Total > 0 {
			pct := float64(resp.Completed) / float64(resp.Total) * 100
			o.logger.Debug().
				Str("status", resp.Status).
				Float64("progress", pct).
				Msg("pulling model")
		}
		return nil
	}

	if err := o.client.Pull(ctx, pullReq, progressFn); err != nil {
		return o.wrapErr(fmt.Errorf("pull embedding model %s: %w", o.model, err))
	}

	o.ready = true
	o.logger.Info().Str("model", o.model).Msg("embedding model pulled and ready")
	return nil
}

// Embed generates embeddings for texts, batchSize requests in flight
// at a time. Output order matches input order.
func (o *Ollama) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if err := validateInputs(texts); err != nil {
		return nil, err
	}

	if err := o.EnsureModel(ctx); err != nil {
		return nil, err
	}

	start := time.Now()
	embeddings := make([][]float32, len(texts))
	errs := make([]error, len(texts))

	var wg sync.WaitGroup
	semaphore := make(chan struct{}, o.batchSize)

	for i, text := range texts {
		wg.Add(1)
		semaphore <- struct{}{}

		go func(idx int, txt string) {
			defer wg.Done()
			defer func() { <-semaphore }()

			embedding, err := o.embedSingle(ctx, txt)
			if err != nil {
				errs[idx] = err
				return
			}
			embeddings[idx] = embedding
		}(i, text)
	}

	wg.Wait()

	for i, err := range errs {
		if err != nil {
			o.logger.Warn().
				Err(err).
				Int("index", i).
				Msg("embedding generation failed for text")
			return nil, err
		}
	}

	for i, embedding := range embeddings {
		if err := checkDimension(o.dimension, len(embedding), i); err != nil {
			return nil, err
		}
	}

	if err := checkCount(len(texts), len(embeddings)); err != nil {
		return nil, err
	}

	o.logger.Debug().
		Int("count", len(texts)).
		Dur("duration", time.Since(start)).
		Msg("batch embedding completed")

	return embeddings, nil
}

// embedSingle generates an embedding for a single text.
func (o *Ollama) embedSingle(ctx context.Context, text string) ([]float32, error) {
	req := &api.EmbedRequest{
		Model: o.model,
		Input: text,
	}

	resp, err := o.client.Embed(ctx, req)
	if err != nil {
		return nil, o.wrapErr(err)
	}

	if len(resp.Embeddings) == 0 {
		return nil, models.NewError(models.ErrEmbedCount, "no embeddings in response")
	}

	// Convert float64 to float32
	embedding := make([]float32, len(resp.Embeddings[0]))
	for i, v := range resp.Embeddings[0] {
		embedding[i] = float32(v)
	}

	return embedding, nil
}

// Dimension returns the embedding dimension.
func (o *Ollama) Dimension() int {
	return o.dimension
}

// Name returns the provider name.
func (o *Ollama) Name() string {
	return "ollama"
}

// Health verifies the provider by embedding a probe text.
func (o *Ollama) Health(ctx context.Context) error {
	vectors, err := o.Embed(ctx, []string{"health check"})
	if err != nil {
		return fmt.Errorf("embedding health check failed: %w", err)
	}
	if len(vectors[0]) != o.dimension {
		return fmt.Errorf("unexpected embedding dimension: got %d, want %d", len(vectors[0]), o.dimension)
	}
	return nil
}

// wrapErr classifies an Ollama API error by its HTTP status.
func (o *Ollama) wrapErr(err error) error {
	var statusErr api.StatusError
	if errors.As(err, &statusErr) {
		switch {
		case statusErr.StatusCode == http.StatusUnauthorized || statusErr.StatusCode == http.StatusForbidden:
			return models.Wrap(models.ErrEmbedAuth, "embedding request unauthorized", err)
		case statusErr.StatusCode == http.StatusTooManyRequests:
			return models.Wrap(models.ErrEmbedRateLimited, "embedding provider throttled", err)
		case statusErr.StatusCode >= 400 && statusErr.StatusCode < 500:
			return models.Wrap(models.ErrEmbedBadRequest, "embedding request rejected", err)
		}
	}
	return models.Wrap(models.ErrEmbedUnavailable, "embedding provider unavailable", err)
}
