// Package llm generates answers from chat messages through Ollama or an
// OpenAI compatible API.
package llm

import (
	"context"
	"fmt"
	"time"

	"github.com/fabfab/campus-assistant/config"
)

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type Message struct {
	Role    string
	Content string
}

// Client sends one chat exchange to a language model and returns the reply
// text as produced by the model.
type Client interface {
	Generate(ctx context.Context, messages []Message) (string, error)
}

// Options configure a provider client. MaxTokens bounds the reply length;
// Timeout bounds a single HTTP call and defaults to defaultTimeout.
type Options struct {
	Provider    string
	Model       string
	MaxTokens   int
	Temperature float32
	Timeout     time.Duration

	OllamaHost    string
	OpenAIAPIKey  string
	OpenAIBaseURL string
}

const defaultTimeout = 60 * time.Second

// NewClient builds the client selected by LLM_PROVIDER. The HTTP timeout
// follows ANSWER_TIMEOUT so a stuck provider cannot outlive the answer.
func NewClient(cfg config.Config) (Client, error) {
	opts := Options{
		Provider:      cfg.LLM.Provider,
		Model:         cfg.LLM.Model,
		MaxTokens:     cfg.LLM.MaxTokens,
		Temperature:   cfg.LLM.Temperature,
		Timeout:       cfg.AnswerTimeout,
		OllamaHost:    cfg.OllamaHost,
		OpenAIAPIKey:  cfg.OpenAIAPIKey,
		OpenAIBaseURL: cfg.OpenAIBaseURL,
	}

	switch opts.Provider {
	case config.ProviderOllama:
		return NewOllamaClient(opts), nil
	case config.ProviderOpenAI:
		if opts.OpenAIAPIKey == "" {
			return nil, fmt.Errorf("openai provider selected but OPENAI_API_KEY not set")
		}
		return NewOpenAIClient(opts), nil
	default:
		return nil, fmt.Errorf("unknown llm provider: %s", opts.Provider)
	}
}

func (o Options) timeout() time.Duration {
	if o.Timeout <= 0 {
		return defaultTimeout
	}
	return o.Timeout
}
