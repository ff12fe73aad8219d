package database

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Execer is satisfied by *pgxpool.Pool, *pgx.Conn and pgx.Tx.
type Execer interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
}

var unsafeIdentChars = regexp.MustCompile(`[^a-z0-9_]+`)

// CollectionTable returns the table name holding the points of a collection.
func CollectionTable(collection string) string {
	name := unsafeIdentChars.ReplaceAllString(strings.ToLower(collection), "_")
	return "vc_" + strings.Trim(name, "_")
}

// EnsureCollectionRegistry creates the pgvector extension and the table that
// records the dimension and metric of every collection.
func EnsureCollectionRegistry(ctx context.Context, db Execer) error {
	stmts := []string{
		"CREATE EXTENSION IF NOT EXISTS vector",
		`CREATE TABLE IF NOT EXISTS vector_collections (
			name TEXT PRIMARY KEY,
			table_name TEXT NOT NULL,
			dimension INT NOT NULL,
			metric TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
	}

	for _, stmt := range stmts {
		if _, err := db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("execute registry statement: %w", err)
		}
	}
	return nil
}

// CreateCollectionTable creates the point table of one collection together
// with its cosine HNSW index and a doc_type filter index.
func CreateCollectionTable(ctx context.Context, db Execer, table string, dimension int) error {
	if dimension <= 0 {
		return fmt.Errorf("embedding dimension must be positive")
	}
	if table == "" || table == "vc_" {
		return fmt.Errorf("collection table name is empty")
	}

	ident := pgx.Identifier{table}.Sanitize()
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id UUID PRIMARY KEY,
			doc_type TEXT NOT NULL,
			content TEXT NOT NULL,
			metadata JSONB NOT NULL DEFAULT '{}'::jsonb,
			content_hash TEXT NOT NULL,
			embedding VECTOR(%d) NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`, ident, dimension),
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (doc_type)", pgx.Identifier{table + "_doc_type_idx"}.Sanitize(), ident),
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s USING hnsw (embedding vector_cosine_ops)", pgx.Identifier{table + "_embedding_idx"}.Sanitize(), ident),
	}

	for _, stmt := range stmts {
		if _, err := db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("execute collection statement: %w", err)
		}
	}
	return nil
}
