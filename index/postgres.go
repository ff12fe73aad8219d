package index

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/fabfab/campus-assistant/database"
)

// PostgresStore keeps each collection in its own pgvector table and records
// collection settings in the vector_collections registry.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) EnsureCollection(ctx context.Context, c Collection) error {
	if s.pool == nil {
		return fmt.Errorf("postgres pool is nil")
	}
	if err := database.EnsureCollectionRegistry(ctx, s.pool); err != nil {
		return err
	}

	var (
		dimension int
		metric    string
	)
	err := s.pool.QueryRow(ctx, "SELECT dimension, metric FROM vector_collections WHERE name = $1", c.Name).Scan(&dimension, &metric)
	switch {
	case err == nil:
		if dimension != c.Dimension || Metric(metric) != c.Metric {
			return fmt.Errorf("%w: have %d/%s, want %d/%s", ErrCollectionMismatch, dimension, metric, c.Dimension, c.Metric)
		}
		return nil
	case !errors.Is(err, pgx.ErrNoRows):
		return fmt.Errorf("query collection registry: %w", err)
	}

	table := database.CollectionTable(c.Name)
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := database.CreateCollectionTable(ctx, tx, table, c.Dimension); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO vector_collections (name, table_name, dimension, metric)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (name) DO NOTHING
	`, c.Name, table, c.Dimension, string(c.Metric)); err != nil {
		return fmt.Errorf("register collection: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func (s *PostgresStore) DropCollection(ctx context.Context, name string) error {
	if err := database.EnsureCollectionRegistry(ctx, s.pool); err != nil {
		return err
	}

	table := pgx.Identifier{database.CollectionTable(name)}.Sanitize()
	if _, err := s.pool.Exec(ctx, "DROP TABLE IF EXISTS "+table); err != nil {
		return fmt.Errorf("drop collection table: %w", err)
	}
	if _, err := s.pool.Exec(ctx, "DELETE FROM vector_collections WHERE name = $1", name); err != nil {
		return fmt.Errorf("unregister collection: %w", err)
	}
	return nil
}

func (s *PostgresStore) ExistingIDs(ctx context.Context, name string, ids []string) (map[string]struct{}, error) {
	found := make(map[string]struct{}, len(ids))
	if len(ids) == 0 {
		return found, nil
	}

	table := pgx.Identifier{database.CollectionTable(name)}.Sanitize()
	rows, err := s.pool.Query(ctx, "SELECT id::text FROM "+table+" WHERE id = ANY($1::uuid[])", ids)
	if err != nil {
		return nil, fmt.Errorf("query existing ids: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan id: %w", err)
		}
		found[id] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return found, nil
}

func (s *PostgresStore) Upsert(ctx context.Context, name string, points []Point) error {
	if len(points) == 0 {
		return nil
	}

	table := pgx.Identifier{database.CollectionTable(name)}.Sanitize()
	query := `
		INSERT INTO ` + table + ` (id, doc_type, content, metadata, content_hash, embedding, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW(), NOW())
		ON CONFLICT (id) DO UPDATE
		SET doc_type = EXCLUDED.doc_type,
		    content = EXCLUDED.content,
		    metadata = EXCLUDED.metadata,
		    content_hash = EXCLUDED.content_hash,
		    embedding = EXCLUDED.embedding,
		    updated_at = NOW()
	`

	batch := &pgx.Batch{}
	for _, p := range points {
		metadata := p.Payload.Metadata
		if metadata == nil {
			metadata = map[string]string{}
		}
		batch.Queue(query, p.ID, p.Payload.DocType, p.Payload.Text, metadata, p.ContentHash, pgvector.NewVector(p.Vector))
	}

	results := s.pool.SendBatch(ctx, batch)
	for idx := range points {
		if _, err := results.Exec(); err != nil {
			_ = results.Close()
			return fmt.Errorf("upsert point %s: %w", points[idx].ID, err)
		}
	}
	if err := results.Close(); err != nil {
		return fmt.Errorf("close batch: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteStale(ctx context.Context, name string, scope []string, keep []string) (int, error) {
	if keep == nil {
		keep = []string{}
	}
	everySource := scope == nil
	if scope == nil {
		scope = []string{}
	}

	table := pgx.Identifier{database.CollectionTable(name)}.Sanitize()
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM `+table+`
		WHERE ($1::boolean OR metadata->>'source' = ANY($2::text[]))
		  AND NOT (id = ANY($3::uuid[]))
	`, everySource, scope, keep)
	if err != nil {
		return 0, fmt.Errorf("delete stale points: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (s *PostgresStore) Search(ctx context.Context, name string, vector []float32, limit int, docType string) ([]Hit, error) {
	if s.pool == nil {
		return nil, fmt.Errorf("postgres pool is nil")
	}
	if len(vector) == 0 {
		return nil, fmt.Errorf("embedding is empty")
	}
	if limit <= 0 {
		limit = 3
	}

	table := pgx.Identifier{database.CollectionTable(name)}.Sanitize()
	rows, err := s.pool.Query(ctx, `
		SELECT
			id::text,
			doc_type,
			content,
			metadata,
			1 - (embedding <=> $1::vector) AS score
		FROM `+table+`
		WHERE ($3::text = '' OR doc_type = $3::text)
		ORDER BY embedding <=> $1::vector
		LIMIT $2
	`, pgvector.NewVector(vector), limit, docType)
	if err != nil {
		return nil, fmt.Errorf("query similar points: %w", err)
	}
	defer rows.Close()

	hits := make([]Hit, 0, limit)
	for rows.Next() {
		var hit Hit
		if err := rows.Scan(&hit.ID, &hit.Payload.DocType, &hit.Payload.Text, &hit.Payload.Metadata, &hit.Score); err != nil {
			return nil, fmt.Errorf("scan similar point: %w", err)
		}
		hits = append(hits, hit)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return hits, nil
}

var _ Store = (*PostgresStore)(nil)
