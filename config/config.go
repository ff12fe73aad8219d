package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	ProviderOpenAI = "openai"
	ProviderOllama = "ollama"

	BackendPostgres = "postgres"
	BackendMemory   = "memory"
)

type EmbeddingConfig struct {
	Provider  string
	Model     string
	Dimension int
}

type LLMConfig struct {
	Provider    string
	Model       string
	MaxTokens   int
	Temperature float32
}

type TwilioConfig struct {
	AccountSID        string
	AuthToken         string
	PhoneNumber       string
	ValidateSignature bool
	PublicURL         string
	RatePerSecond     float64
}

type IngestConfig struct {
	DataDir      string
	Files        []string
	CSVEncoding  string
	ChunkSize    int
	ChunkOverlap int
	OnStart      bool
}

type Config struct {
	HTTPAddr   string
	AdminToken string

	PostgresDSN    string
	VectorBackend  string
	CollectionName string

	Neo4jURI  string
	Neo4jUser string
	Neo4jPass string

	OllamaHost    string
	OpenAIAPIKey  string
	OpenAIBaseURL string

	Embeddings EmbeddingConfig
	LLM        LLMConfig
	Twilio     TwilioConfig
	Ingest     IngestConfig

	SearchTopK           int
	AnswerTimeout        time.Duration
	ConversationMaxTurns int
}

// Load reads configuration from the environment, after merging a .env file
// from the working directory when one exists.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		HTTPAddr:   getEnv("HTTP_ADDR", ":8000"),
		AdminToken: getEnv("ADMIN_TOKEN", ""),

		PostgresDSN:    getEnv("POSTGRES_DSN", "postgres://localhost:5432/campus-assistant?sslmode=disable"),
		VectorBackend:  strings.ToLower(getEnv("VECTOR_BACKEND", BackendPostgres)),
		CollectionName: getEnv("COLLECTION_NAME", "campus_documents"),

		Neo4jURI:  getEnv("NEO4J_URI", ""),
		Neo4jUser: getEnv("NEO4J_USERNAME", "neo4j"),
		Neo4jPass: getEnv("NEO4J_PASSWORD", "password"),

		OllamaHost:    getEnv("OLLAMA_HOST", "http://localhost:11434"),
		OpenAIAPIKey:  getEnv("OPENAI_API_KEY", ""),
		OpenAIBaseURL: getEnv("OPENAI_BASE_URL", ""),

		Embeddings: EmbeddingConfig{
			Provider:  strings.ToLower(getEnv("EMBEDDINGS_PROVIDER", ProviderOllama)),
			Model:     getEnv("EMBEDDINGS_MODEL", "nomic-embed-text"),
			Dimension: getEnvInt("EMBEDDINGS_DIMENSION", 768),
		},
		LLM: LLMConfig{
			Provider:    strings.ToLower(getEnv("LLM_PROVIDER", ProviderOpenAI)),
			Model:       getEnv("LLM_MODEL", "gpt-4o-mini"),
			MaxTokens:   getEnvInt("LLM_MAX_TOKENS", 300),
			Temperature: float32(getEnvFloat("LLM_TEMPERATURE", 0)),
		},
		Twilio: TwilioConfig{
			AccountSID:        getEnv("TWILIO_ACCOUNT_SID", ""),
			AuthToken:         getEnv("TWILIO_AUTH_TOKEN", ""),
			PhoneNumber:       getEnv("TWILIO_PHONE_NUMBER", ""),
			ValidateSignature: getEnvBool("TWILIO_VALIDATE_SIGNATURE", false),
			PublicURL:         getEnv("WEBHOOK_PUBLIC_URL", ""),
			RatePerSecond:     getEnvFloat("MESSAGING_RATE_PER_SEC", 1),
		},
		Ingest: IngestConfig{
			DataDir:      getEnv("DATA_DIR", "data"),
			Files:        getEnvList("DATA_FILES"),
			CSVEncoding:  strings.ToLower(getEnv("CSV_ENCODING", "utf-8")),
			ChunkSize:    getEnvInt("CHUNK_SIZE", 1000),
			ChunkOverlap: getEnvInt("CHUNK_OVERLAP", 100),
			OnStart:      getEnvBool("INGEST_ON_START", true),
		},

		SearchTopK:           getEnvInt("SEARCH_TOP_K", 3),
		AnswerTimeout:        getEnvDuration("ANSWER_TIMEOUT", 30*time.Second),
		ConversationMaxTurns: getEnvInt("CONVERSATION_MAX_TURNS", 0),
	}
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value := getEnv(key, ""); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if value := getEnv(key, ""); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value := getEnv(key, ""); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value := getEnv(key, ""); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}

func getEnvList(key string) []string {
	value := getEnv(key, "")
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}
