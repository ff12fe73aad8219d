package main

import (
	"context"
	"fmt"
	"log"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/fabfab/campus-assistant/chat"
	"github.com/fabfab/campus-assistant/config"
	"github.com/fabfab/campus-assistant/database"
	"github.com/fabfab/campus-assistant/embeddings"
	"github.com/fabfab/campus-assistant/index"
	"github.com/fabfab/campus-assistant/ingestion"
	"github.com/fabfab/campus-assistant/knowledge"
	"github.com/fabfab/campus-assistant/llm"
)

// app holds the connections and services shared by the commands.
type app struct {
	cfg    config.Config
	logger *log.Logger

	pool   *pgxpool.Pool
	driver neo4j.DriverWithContext

	graph   *knowledge.Graph
	index   *index.Index
	ingest  *ingestion.Service
	answers *chat.Service
}

// newApp connects the vector backend, the optional knowledge graph and the
// embedding provider. The language model is only set up when withLLM is true.
func newApp(ctx context.Context, cfg config.Config, logger *log.Logger, withLLM bool) (*app, error) {
	a := &app{cfg: cfg, logger: logger}

	embedder, err := embeddings.NewEmbedder(cfg)
	if err != nil {
		return nil, fmt.Errorf("embedder setup: %w", err)
	}

	var store index.Store
	switch cfg.VectorBackend {
	case config.BackendPostgres:
		a.pool, err = database.NewPostgresPool(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("postgres connection: %w", err)
		}
		store = index.NewPostgresStore(a.pool)
	case config.BackendMemory:
		store = index.NewMemoryStore()
	default:
		return nil, fmt.Errorf("unknown vector backend: %s", cfg.VectorBackend)
	}

	a.index = index.New(store, embedder, index.Collection{
		Name:      cfg.CollectionName,
		Dimension: cfg.Embeddings.Dimension,
		Metric:    index.MetricCosine,
	}, logger)

	var graph ingestion.GraphSyncer
	if cfg.Neo4jURI != "" {
		a.driver, err = database.NewNeo4jDriver(ctx, cfg.Neo4jURI, cfg.Neo4jUser, cfg.Neo4jPass)
		if err != nil {
			a.Close(ctx)
			return nil, fmt.Errorf("neo4j connection: %w", err)
		}
		a.graph = knowledge.NewGraph(a.driver)
		graph = a.graph
	}

	loader := ingestion.NewLoader(logger, ingestion.WithEncoding(cfg.Ingest.CSVEncoding))
	splitter := ingestion.NewSplitter(
		ingestion.WithChunkSize(cfg.Ingest.ChunkSize),
		ingestion.WithOverlap(cfg.Ingest.ChunkOverlap),
	)
	a.ingest = ingestion.NewService(loader, splitter, a.index, graph, logger)

	if withLLM {
		llmClient, err := llm.NewClient(cfg)
		if err != nil {
			a.Close(ctx)
			return nil, fmt.Errorf("llm setup: %w", err)
		}
		a.answers = chat.NewService(a.index, llmClient, chat.Options{
			TopK:    cfg.SearchTopK,
			Timeout: cfg.AnswerTimeout,
		}, logger)
	}

	return a, nil
}

// runIngest syncs the configured DATA_FILES, or every file under DATA_DIR.
func (a *app) runIngest(ctx context.Context, dir string, files []string, reset bool) (ingestion.Report, error) {
	opts := ingestion.RunOptions{Reset: reset}
	if len(files) > 0 {
		return a.ingest.Run(ctx, files, opts)
	}
	return a.ingest.IngestDirectory(ctx, dir, opts)
}

func (a *app) Close(ctx context.Context) {
	if a.driver != nil {
		if err := a.driver.Close(ctx); err != nil {
			a.logger.Printf("close neo4j driver: %v", err)
		}
	}
	if a.pool != nil {
		a.pool.Close()
	}
}
