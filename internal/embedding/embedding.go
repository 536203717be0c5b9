// Package embedding turns chunk text into vectors. Two providers are
// supported: a local Ollama server and any OpenAI-compatible
// embeddings endpoint.
package embedding

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Undefine-Innovation/Qdrant-LiteRAGMCP-sub012/pkg/models"
)

// Provider generates embeddings for batches of texts.
type Provider interface {
	// Embed returns one vector per input text, in input order.
	Embed(ctx context.Context, texts []string) ([][]float32, error)

	// Dimension returns the fixed vector dimension.
	Dimension() int

	// Name returns the provider name for logs and health output.
	Name() string

	// Health verifies the provider can produce embeddings.
	Health(ctx context.Context) error
}

// Config configures a provider.
type Config struct {
	Provider  string        // "ollama" or "openai"
	Endpoint  string        // API base URL
	APIKey    string        // API key (openai only)
	Model     string        // Embedding model name
	Dimension int           // Expected vector dimension
	BatchSize int           // Texts per request or in-flight requests
	Timeout   time.Duration // Per-request timeout
}

// New creates the provider named in cfg.Provider.
func New(cfg Config) (Provider, error) {
	switch cfg.Provider {
	case "", "ollama":
		return NewOllama(cfg)
	case "openai":
		return NewOpenAI(cfg)
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.Provider)
	}
}

// validateInputs rejects empty input slices and blank texts before any
// network call.
func validateInputs(texts []string) error {
	if len(texts) == 0 {
		return models.NewError(models.ErrEmptyInput, "no texts to embed")
	}
	for i, text := range texts {
		if strings.TrimSpace(text) == "" {
			return models.NewError(models.ErrEmptyInput, "text must not be empty").
				WithDetails("index", i)
		}
	}
	return nil
}

// checkCount enforces the one-vector-per-text contract.
func checkCount(want, got int) error {
	if want != got {
		return models.NewError(models.ErrEmbedCount, "embedding count mismatch").
			WithDetails("want", want).
			WithDetails("got", got)
	}
	return nil
}

// checkDimension enforces the fixed vector dimension.
func checkDimension(want, got, index int) error {
	if want != got {
		return models.NewError(models.ErrIntegrity, "embedding dimension mismatch").
			WithDetails("want", want).
			WithDetails("got", got).
			WithDetails("index", index)
	}
	return nil
}
