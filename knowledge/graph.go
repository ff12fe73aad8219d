// Package knowledge mirrors ingested sources into a Neo4j graph of
// (:Source)-[:OF_TYPE]->(:DocType) and (:Source)-[:HAS_CHUNK]->(:Chunk).
package knowledge

import (
	"context"
	"fmt"
	"sort"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// Source is one ingested file and the chunks it produced.
type Source struct {
	Path      string
	DocType   string
	SHA       string
	Documents int
	Chunks    []Chunk
}

// Chunk IDs match the vector point IDs of the same chunk.
type Chunk struct {
	ID       string
	Row      string
	Position int
	Text     string
}

// SourceSummary is a Source as reported back from the graph.
type SourceSummary struct {
	Path       string `json:"path"`
	DocType    string `json:"doc_type"`
	SHA        string `json:"sha256"`
	Documents  int    `json:"documents"`
	ChunkCount int    `json:"chunks"`
}

// SyncSource replaces the graph view of one source with the given chunks.
func SyncSource(ctx context.Context, driver neo4j.DriverWithContext, src Source) error {
	if driver == nil {
		return fmt.Errorf("neo4j driver is nil")
	}
	if src.Path == "" {
		return fmt.Errorf("source path is required")
	}

	session := driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	params := map[string]any{
		"path":      src.Path,
		"doc_type":  src.DocType,
		"sha":       src.SHA,
		"documents": src.Documents,
	}

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		if _, err := tx.Run(ctx, `
			MERGE (s:Source {path: $path})
			SET s.sha256 = $sha,
			    s.documents = $documents,
			    s.updated_at = datetime()
		`, params); err != nil {
			return nil, fmt.Errorf("upsert source node: %w", err)
		}

		if _, err := tx.Run(ctx, `
			MATCH (s:Source {path: $path})-[r:OF_TYPE]->(:DocType)
			DELETE r
		`, params); err != nil {
			return nil, fmt.Errorf("remove stale type relation: %w", err)
		}
		if src.DocType != "" {
			if _, err := tx.Run(ctx, `
				MATCH (s:Source {path: $path})
				MERGE (t:DocType {name: $doc_type})
				MERGE (s)-[:OF_TYPE]->(t)
			`, params); err != nil {
				return nil, fmt.Errorf("upsert type relation: %w", err)
			}
		}

		if _, err := tx.Run(ctx, `
			MATCH (s:Source {path: $path})-[:HAS_CHUNK]->(c:Chunk)
			DETACH DELETE c
		`, params); err != nil {
			return nil, fmt.Errorf("clear existing chunk nodes: %w", err)
		}

		if len(src.Chunks) == 0 {
			return nil, nil
		}

		rows := make([]map[string]any, 0, len(src.Chunks))
		for _, chunk := range src.Chunks {
			rows = append(rows, map[string]any{
				"id":       chunk.ID,
				"row":      chunk.Row,
				"position": chunk.Position,
				"text":     chunk.Text,
			})
		}
		if _, err := tx.Run(ctx, `
			MATCH (s:Source {path: $path})
			UNWIND $chunks AS chunk
			MERGE (c:Chunk {id: chunk.id})
			SET c.row = chunk.row,
			    c.position = chunk.position,
			    c.text = chunk.text
			MERGE (s)-[:HAS_CHUNK {position: chunk.position}]->(c)
		`, map[string]any{"path": src.Path, "chunks": rows}); err != nil {
			return nil, fmt.Errorf("upsert chunk nodes: %w", err)
		}

		return nil, nil
	})
	if err != nil {
		return err
	}

	_, err = session.Run(ctx, `
		MATCH (t:DocType)
		WHERE NOT (t)<-[:OF_TYPE]-(:Source)
		DELETE t
	`, nil)
	return err
}

// PruneSources removes the scoped sources whose path is not listed in keep,
// together with their chunks. A nil scope covers every source.
func PruneSources(ctx context.Context, driver neo4j.DriverWithContext, scope, keep []string) (int, error) {
	if driver == nil {
		return 0, fmt.Errorf("neo4j driver is nil")
	}
	if keep == nil {
		keep = []string{}
	}
	everySource := scope == nil
	if scope == nil {
		scope = []string{}
	}

	session := driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	removed, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, `
			MATCH (s:Source)
			WHERE ($all OR s.path IN $scope) AND NOT s.path IN $keep
			OPTIONAL MATCH (s)-[:HAS_CHUNK]->(c:Chunk)
			DETACH DELETE c, s
			RETURN count(DISTINCT s) AS removed
		`, map[string]any{"all": everySource, "scope": scope, "keep": keep})
		if err != nil {
			return nil, fmt.Errorf("delete stale sources: %w", err)
		}
		record, err := result.Single(ctx)
		if err != nil {
			return nil, err
		}
		value, _ := record.Get("removed")
		count, _ := toInt(value)
		return count, nil
	})
	if err != nil {
		return 0, err
	}
	return removed.(int), nil
}

// Purge deletes every node this package manages.
func Purge(ctx context.Context, driver neo4j.DriverWithContext) error {
	if driver == nil {
		return fmt.Errorf("neo4j driver is nil")
	}

	session := driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		if _, err := tx.Run(ctx, `
			MATCH (n)
			WHERE n:Source OR n:Chunk OR n:DocType
			DETACH DELETE n
		`, nil); err != nil {
			return nil, fmt.Errorf("purge graph: %w", err)
		}
		return nil, nil
	})
	return err
}

// Sources lists every source in the graph ordered by path.
func Sources(ctx context.Context, driver neo4j.DriverWithContext) ([]SourceSummary, error) {
	if driver == nil {
		return nil, fmt.Errorf("neo4j driver is nil")
	}

	session := driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	result, err := session.Run(ctx, `
		MATCH (s:Source)
		OPTIONAL MATCH (s)-[:OF_TYPE]->(t:DocType)
		OPTIONAL MATCH (s)-[:HAS_CHUNK]->(c:Chunk)
		RETURN s.path AS path,
		       t.name AS docType,
		       s.sha256 AS sha,
		       s.documents AS documents,
		       count(DISTINCT c) AS chunkCount
	`, nil)
	if err != nil {
		return nil, fmt.Errorf("run neo4j sources query: %w", err)
	}

	summaries := make([]SourceSummary, 0)
	for result.Next(ctx) {
		record := result.Record()
		path, _ := record.Get("path")
		docType, _ := record.Get("docType")
		sha, _ := record.Get("sha")
		documents, _ := record.Get("documents")
		chunkCount, _ := record.Get("chunkCount")

		summary := SourceSummary{}
		summary.Path, _ = path.(string)
		summary.DocType, _ = docType.(string)
		summary.SHA, _ = sha.(string)
		summary.Documents, _ = toInt(documents)
		summary.ChunkCount, _ = toInt(chunkCount)
		if summary.Path == "" {
			continue
		}
		summaries = append(summaries, summary)
	}
	if err := result.Err(); err != nil {
		return nil, fmt.Errorf("neo4j sources result error: %w", err)
	}

	sort.Slice(summaries, func(i, j int) bool { return summaries[i].Path < summaries[j].Path })
	return summaries, nil
}

// Graph binds the package functions to one driver.
type Graph struct {
	driver neo4j.DriverWithContext
}

func NewGraph(driver neo4j.DriverWithContext) *Graph {
	return &Graph{driver: driver}
}

func (g *Graph) SyncSource(ctx context.Context, src Source) error {
	return SyncSource(ctx, g.driver, src)
}

func (g *Graph) PruneSources(ctx context.Context, scope, keep []string) (int, error) {
	return PruneSources(ctx, g.driver, scope, keep)
}

func (g *Graph) Purge(ctx context.Context) error {
	return Purge(ctx, g.driver)
}

func (g *Graph) Sources(ctx context.Context) ([]SourceSummary, error) {
	return Sources(ctx, g.driver)
}

func toInt(value any) (int, bool) {
	switch v := value.(type) {
	case int:
		return v, true
	case int32:
		return int(v), true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	default:
		return 0, false
	}
}
