package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/Undefine-Innovation/Qdrant-LiteRAGMCP-sub012/internal/observability"
	"github.com/Undefine-Innovation/Qdrant-LiteRAGMCP-sub012/pkg/models"
)

const (
	// DefaultOpenAIBaseURL is the default OpenAI API endpoint.
	DefaultOpenAIBaseURL = "https://api.openai.com/v1"

	// DefaultOpenAIModel is the default OpenAI embedding model.
	DefaultOpenAIModel = "text-embedding-3-small"

	// DefaultOpenAIDimension is the vector dimension for text-embedding-3-small.
	DefaultOpenAIDimension = 1536
)

// OpenAI generates embeddings via an OpenAI-compatible API.
type OpenAI struct {
	apiKey    string
	model     string
	baseURL   string
	dimension int
	batchSize int
	client    *http.Client
	logger    zerolog.Logger
}

// NewOpenAI creates an OpenAI-backed provider.
// Security: the API key should come from the OPENAI_API_KEY
// environment variable, not a config file.
func NewOpenAI(cfg Config) (*OpenAI, error) {
	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("OpenAI API key not configured: set OPENAI_API_KEY environment variable")
	}

	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultOpenAIBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultOpenAIModel
	}
	if cfg.Dimension <= 0 {
		cfg.Dimension = DefaultOpenAIDimension
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}

	return &OpenAI{
		apiKey:    apiKey,
		model:     cfg.Model,
		baseURL:   cfg.Endpoint,
		dimension: cfg.Dimension,
		batchSize: cfg.BatchSize,
		client: &http.Client{
			Timeout: cfg.Timeout,
		},
		logger: observability.Logger("embedding.openai"),
	}, nil
}

// Embed generates embeddings for texts, batchSize inputs per request.
// Output order matches input order.
func (p *OpenAI) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if err := validateInputs(texts); err != nil {
		return nil, err
	}

	start := time.Now()
	embeddings := make([][]float32, len(texts))

	for i := 0; i < len(texts); i += p.batchSize {
		end := i + p.batchSize
		if end > len(texts) {
			end = len(texts)
		}

		batch, err := p.embedBatch(ctx, texts[i:end])
		if err != nil {
			return nil, err
		}
		if err := checkCount(end-i, len(batch)); err != nil {
			return nil, err
		}
		copy(embeddings[i:end], batch)
	}

	for i, embedding := range embeddings {
		if err := checkDimension(p.dimension, len(embedding), i); err != nil {
			return nil, err
		}
	}

	p.logger.Debug().
		Int("count", len(texts)).
		Dur("duration", time.Since(start)).
		Msg("batch embedding completed")

	return embeddings, nil
}

// embedBatch sends one embeddings request.
func (p *OpenAI) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	reqBody, err := json.Marshal(openAIEmbedRequest{
		Model: p.model,
		Input: texts,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", p.baseURL+"/embeddings", bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, models.Wrap(models.ErrEmbedUnavailable, "embedding provider unavailable", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, p.statusError(resp.StatusCode, string(body))
	}

	var embedResp openAIEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&embedResp); err != nil {
		return nil, models.Wrap(models.ErrEmbedUnavailable, "decode embedding response", err)
	}

	// The index field is authoritative for ordering
	embeddings := make([][]float32, len(texts))
	for _, item := range embedResp.Data {
		if item.Index < 0 || item.Index >= len(texts) {
			return nil, models.NewError(models.ErrEmbedCount, "embedding index out of range").
				WithDetails("index", item.Index)
		}
		embeddings[item.Index] = item.Embedding
	}

	return embeddings, nil
}

// statusError maps an HTTP failure status to an error code.
func (p *OpenAI) statusError(status int, body string) error {
	err := fmt.Errorf("embedding API status %d: %s", status, body)
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return models.Wrap(models.ErrEmbedAuth, "embedding request unauthorized", err)
	case status == http.StatusTooManyRequests:
		return models.Wrap(models.ErrEmbedRateLimited, "embedding provider throttled", err)
	case status >= 400 && status < 500:
		return models.Wrap(models.ErrEmbedBadRequest, "embedding request rejected", err)
	default:
		return models.Wrap(models.ErrEmbedUnavailable, "embedding provider unavailable", err)
	}
}

// Dimension returns the embedding dimension.
func (p *OpenAI) Dimension() int {
	return p.dimension
}

// Name returns the provider name.
func (p *OpenAI) Name() string {
	return "openai"
}

// Health verifies the provider by embedding a probe text.
func (p *OpenAI) Health(ctx context.Context) error {
	vectors, err := p.Embed(ctx, []string{"health check"})
	if err != nil {
		return fmt.Errorf("embedding health check failed: %w", err)
	}
	if len(vectors[0]) != p.dimension {
		return fmt.Errorf("unexpected embedding dimension: got %d, want %d", len(vectors[0]), p.dimension)
	}
	return nil
}

// OpenAI API types

type openAIEmbedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type openAIEmbedResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
	Model string `json:"model"`
	Usage struct {
		PromptTokens int `json:"prompt_tokens"`
		TotalTokens  int `json:"total_tokens"`
	} `json:"usage"`
}
