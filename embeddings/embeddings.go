// Package embeddings turns text into fixed-length vectors through a
// configurable provider.
package embeddings

import (
	"context"
	"errors"
	"fmt"

	"github.com/fabfab/campus-assistant/config"
)

// ErrDimensionMismatch is returned when a provider yields vectors whose length
// differs from the configured dimension.
var ErrDimensionMismatch = errors.New("embedding dimension mismatch")

type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

type Options struct {
	Provider  string
	Model     string
	Dimension int
	BatchSize int

	OllamaHost    string
	OpenAIAPIKey  string
	OpenAIBaseURL string
}

func NewEmbedder(cfg config.Config) (Embedder, error) {
	opts := Options{
		Provider:      cfg.Embeddings.Provider,
		Model:         cfg.Embeddings.Model,
		Dimension:     cfg.Embeddings.Dimension,
		OllamaHost:    cfg.OllamaHost,
		OpenAIAPIKey:  cfg.OpenAIAPIKey,
		OpenAIBaseURL: cfg.OpenAIBaseURL,
	}

	switch opts.Provider {
	case config.ProviderOllama:
		return NewOllamaEmbedder(opts), nil
	case config.ProviderOpenAI:
		if opts.OpenAIAPIKey == "" {
			return nil, fmt.Errorf("openai provider selected but OPENAI_API_KEY not set")
		}
		return NewOpenAIEmbedder(opts), nil
	default:
		return nil, fmt.Errorf("unknown embedding provider: %s", opts.Provider)
	}
}

func checkDimension(provider string, expected int, vec []float32) error {
	if expected > 0 && len(vec) != expected {
		return fmt.Errorf("%s: %w: expected %d, got %d", provider, ErrDimensionMismatch, expected, len(vec))
	}
	return nil
}

// batches splits texts into consecutive groups of at most size elements.
func batches(texts []string, size int) [][]string {
	if size <= 0 || len(texts) <= size {
		return [][]string{texts}
	}
	groups := make([][]string, 0, len(texts)/size+1)
	for start := 0; start < len(texts); start += size {
		end := start + size
		if end > len(texts) {
			end = len(texts)
		}
		groups = append(groups, texts[start:end])
	}
	return groups
}
