// Package chat answers student questions from the vector index with a
// language model.
package chat

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/fabfab/campus-assistant/index"
	"github.com/fabfab/campus-assistant/llm"
)

const (
	// ShortQuestionMessage is returned for questions under minQuestionTokens words.
	ShortQuestionMessage = "Por favor, haz una pregunta más específica sobre cualquier curso."
	// FailureMessage is returned whenever retrieval or generation fails.
	FailureMessage = "Lo siento, no pude procesar tu pregunta. Por favor, intenta reformularla."

	minQuestionTokens = 3
	defaultTopK       = 3
	defaultTimeout    = 30 * time.Second
)

// PromptTemplate is filled with the retrieved context and the question.
const PromptTemplate = `Eres el asistente virtual de la universidad y respondes a estudiantes por WhatsApp.
Responde brevemente basándote solo en esta información:
{context}

Reglas:
- Usa texto plano. Solo puedes usar *asteriscos* para resaltar categorías o nombres.
- Menciona como máximo tres categorías o nombres por respuesta.
- Si la información no aparece arriba, responde exactamente: "No tengo esa información por ahora."

Pregunta: {question}

Respuesta muy concisa:`

// DefaultProbeQuestions exercise retrieval over syllabi, promotions and sports.
var DefaultProbeQuestions = []string{
	"¿Me recomiendas alguna referencia bibliografica del curso de tendencias de mercado?",
	"¿Qué beneficios hay en la categoría de restaurantes?",
	"¿Cómo puedo reservar una cancha de fútbol?",
}

// Searcher is the retrieval side of index.Index.
type Searcher interface {
	Search(ctx context.Context, query string, limit int, docType string) ([]index.Hit, error)
}

type Options struct {
	TopK       int
	Timeout    time.Duration
	Classifier Classifier
}

// Response is the outcome of one question.
type Response struct {
	Answer string `json:"answer"`
	// Context is the block substituted into the prompt.
	Context string      `json:"context,omitempty"`
	Filter  string      `json:"filter,omitempty"`
	Hits    []index.Hit `json:"hits,omitempty"`
	// Fallback is set when a filtered search found nothing and every type was searched.
	Fallback bool `json:"fallback,omitempty"`
	Failed   bool `json:"failed,omitempty"`
}

type Service struct {
	searcher   Searcher
	llm        llm.Client
	classifier Classifier
	topK       int
	timeout    time.Duration
	logger     *log.Logger
}

func NewService(searcher Searcher, llmClient llm.Client, opts Options, logger *log.Logger) *Service {
	if logger == nil {
		logger = log.Default()
	}
	if opts.TopK <= 0 {
		opts.TopK = defaultTopK
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.Classifier == nil {
		opts.Classifier = NewKeywordClassifier()
	}

	return &Service{
		searcher:   searcher,
		llm:        llmClient,
		classifier: opts.Classifier,
		topK:       opts.TopK,
		timeout:    opts.Timeout,
		logger:     logger,
	}
}

// Answer never fails: errors are logged and mapped to FailureMessage.
func (s *Service) Answer(ctx context.Context, question string) Response {
	question = strings.TrimSpace(question)
	if len(strings.Fields(question)) < minQuestionTokens {
		return Response{Answer: ShortQuestionMessage}
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	resp, err := s.answer(ctx, question)
	if err != nil {
		s.logger.Printf("answer failed for %q: %v", question, err)
		resp.Answer = FailureMessage
		resp.Failed = true
	}
	return resp
}

func (s *Service) answer(ctx context.Context, question string) (Response, error) {
	if s.searcher == nil {
		return Response{}, fmt.Errorf("searcher is not configured")
	}
	if s.llm == nil {
		return Response{}, fmt.Errorf("llm client is not configured")
	}

	resp := Response{Filter: s.classifier.Classify(question)}

	hits, err := s.searcher.Search(ctx, question, s.topK, resp.Filter)
	if err != nil {
		return resp, fmt.Errorf("vector search: %w", err)
	}
	if len(hits) == 0 && resp.Filter != "" {
		s.logger.Printf("no %s results for question, searching all types", resp.Filter)
		resp.Fallback = true
		hits, err = s.searcher.Search(ctx, question, s.topK, "")
		if err != nil {
			return resp, fmt.Errorf("vector search: %w", err)
		}
	}
	resp.Hits = hits
	resp.Context = BuildContext(hits)

	messages := []llm.Message{{Role: llm.RoleUser, Content: RenderPrompt(resp.Context, question)}}
	answer, err := s.llm.Generate(ctx, messages)
	if err != nil {
		return resp, fmt.Errorf("llm generate: %w", err)
	}

	resp.Answer = answer
	return resp, nil
}

// Probe runs retrieval for each question and logs the best hit. It is a
// smoke test for a freshly loaded index and never calls the language model.
func (s *Service) Probe(ctx context.Context, questions ...string) {
	if s.searcher == nil {
		return
	}
	for _, question := range questions {
		filter := s.classifier.Classify(question)
		hits, err := s.searcher.Search(ctx, question, s.topK, filter)
		if err != nil {
			s.logger.Printf("probe %q failed: %v", question, err)
			continue
		}
		if len(hits) == 0 {
			s.logger.Printf("probe %q (filter %q): no results", question, filter)
			continue
		}
		s.logger.Printf("probe %q (filter %q): %d hits, best %.3f from %s",
			question, filter, len(hits), hits[0].Score, hits[0].Payload.Metadata["source"])
	}
}

// BuildContext numbers each hit and tags it with its document type.
func BuildContext(hits []index.Hit) string {
	var sb strings.Builder
	for i, hit := range hits {
		if i > 0 {
			sb.WriteString("\n\n")
		}
		fmt.Fprintf(&sb, "[%d] (%s) %s", i+1, hit.Payload.DocType, strings.TrimSpace(hit.Payload.Text))
	}
	return sb.String()
}

// RenderPrompt fills PromptTemplate in a single pass, so placeholders inside
// the question are left alone.
func RenderPrompt(contextBlock, question string) string {
	return strings.NewReplacer("{context}", contextBlock, "{question}", question).Replace(PromptTemplate)
}
