package embeddings

import (
	"context"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

const defaultOpenAIBatchSize = 256

type openAIEmbedder struct {
	client    *openai.Client
	model     string
	dimension int
	batchSize int
}

func NewOpenAIEmbedder(opts Options) Embedder {
	cfg := openai.DefaultConfig(opts.OpenAIAPIKey)
	if opts.OpenAIBaseURL != "" {
		cfg.BaseURL = opts.OpenAIBaseURL
	}

	batchSize := opts.BatchSize
	if batchSize <= 0 {
		batchSize = defaultOpenAIBatchSize
	}

	return &openAIEmbedder{
		client:    openai.NewClientWithConfig(cfg),
		model:     opts.Model,
		dimension: opts.Dimension,
		batchSize: batchSize,
	}
}

func (e *openAIEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	results := make([][]float32, 0, len(texts))
	for _, group := range batches(texts, e.batchSize) {
		req := openai.EmbeddingRequest{
			Model: openai.EmbeddingModel(e.model),
			Input: group,
		}
		// Only text-embedding-3 models accept a requested output size.
		if e.dimension > 0 && strings.HasPrefix(e.model, "text-embedding-3") {
			req.Dimensions = e.dimension
		}

		resp, err := e.client.CreateEmbeddings(ctx, req)
		if err != nil {
			return nil, fmt.Errorf("create openai embeddings: %w", err)
		}
		if len(resp.Data) != len(group) {
			return nil, fmt.Errorf("openai returned %d embeddings for %d inputs", len(resp.Data), len(group))
		}

		vectors := make([][]float32, len(resp.Data))
		for _, datum := range resp.Data {
			if datum.Index < 0 || datum.Index >= len(vectors) {
				return nil, fmt.Errorf("openai embedding index %d out of range", datum.Index)
			}
			if err := checkDimension("openai", e.dimension, datum.Embedding); err != nil {
				return nil, err
			}
			vectors[datum.Index] = datum.Embedding
		}
		results = append(results, vectors...)
	}

	return results, nil
}
