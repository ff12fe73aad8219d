// Package index stores embedded chunks in a named vector collection and
// answers nearest-neighbour queries against it.
package index

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"strconv"

	"github.com/google/uuid"

	"github.com/fabfab/campus-assistant/embeddings"
)

// Metric is the distance function of a collection.
type Metric string

const MetricCosine Metric = "cosine"

var (
	// ErrCollectionMismatch is returned when a collection already exists with a
	// dimension or metric other than the requested one.
	ErrCollectionMismatch = errors.New("collection exists with incompatible settings")
	// ErrCollectionNotFound is returned when operating on a missing collection.
	ErrCollectionNotFound = errors.New("collection not found")
)

// pointNamespace scopes the name-based UUIDs derived from chunk content.
var pointNamespace = uuid.MustParse("6f1d8a52-3c4e-4b8f-9a57-1f0c2d7e9b31")

type Collection struct {
	Name      string
	Dimension int
	Metric    Metric
}

func (c Collection) validate() error {
	if c.Name == "" {
		return fmt.Errorf("collection name is required")
	}
	if c.Dimension <= 0 {
		return fmt.Errorf("collection dimension must be positive")
	}
	if c.Metric != MetricCosine {
		return fmt.Errorf("unsupported metric %q", c.Metric)
	}
	return nil
}

// Record is a chunk waiting to be embedded.
type Record struct {
	Text     string
	DocType  string
	Metadata map[string]string
	Position int
}

type Payload struct {
	Text     string            `json:"text"`
	DocType  string            `json:"doc_type"`
	Metadata map[string]string `json:"metadata"`
}

type Point struct {
	ID          string
	Vector      []float32
	Payload     Payload
	ContentHash string
}

type Hit struct {
	ID      string  `json:"id"`
	Score   float64 `json:"score"`
	Payload Payload `json:"payload"`
}

// Store is the vector database behind an Index.
type Store interface {
	// EnsureCollection creates the collection when absent and fails with
	// ErrCollectionMismatch when it exists with different settings.
	EnsureCollection(ctx context.Context, c Collection) error
	DropCollection(ctx context.Context, name string) error
	ExistingIDs(ctx context.Context, name string, ids []string) (map[string]struct{}, error)
	Upsert(ctx context.Context, name string, points []Point) error
	// DeleteStale removes the points of the scoped sources whose ID is not
	// listed in keep. A nil scope covers every source in the collection.
	DeleteStale(ctx context.Context, name string, scope []string, keep []string) (int, error)
	Search(ctx context.Context, name string, vector []float32, limit int, docType string) ([]Hit, error)
}

type SyncStats struct {
	Total    int `json:"total"`
	Embedded int `json:"embedded"`
	Skipped  int `json:"skipped"`
	Pruned   int `json:"pruned"`
}

type Index struct {
	store      Store
	embedder   embeddings.Embedder
	collection Collection
	logger     *log.Logger
}

func New(store Store, embedder embeddings.Embedder, collection Collection, logger *log.Logger) *Index {
	if logger == nil {
		logger = log.Default()
	}
	if collection.Metric == "" {
		collection.Metric = MetricCosine
	}

	return &Index{
		store:      store,
		embedder:   embedder,
		collection: collection,
		logger:     logger,
	}
}

func (i *Index) Collection() Collection {
	return i.collection
}

func (i *Index) EnsureCollection(ctx context.Context) error {
	if err := i.collection.validate(); err != nil {
		return err
	}
	if err := i.store.EnsureCollection(ctx, i.collection); err != nil {
		return fmt.Errorf("ensure collection %s: %w", i.collection.Name, err)
	}
	return nil
}

// ClearAndReload drops the collection, recreates it and embeds every record.
// A failure part way leaves the collection partially loaded.
func (i *Index) ClearAndReload(ctx context.Context, records []Record) error {
	if err := i.store.DropCollection(ctx, i.collection.Name); err != nil {
		return fmt.Errorf("drop collection %s: %w", i.collection.Name, err)
	}
	if err := i.EnsureCollection(ctx); err != nil {
		return err
	}

	points := dedupe(toPoints(records))
	if len(points) == 0 {
		return nil
	}
	if err := i.embedPoints(ctx, points); err != nil {
		return err
	}
	if err := i.store.Upsert(ctx, i.collection.Name, points); err != nil {
		return fmt.Errorf("upsert points: %w", err)
	}

	i.logger.Printf("reloaded collection %s with %d points", i.collection.Name, len(points))
	return nil
}

// Sync makes the collection hold exactly the given records. Points whose
// content is already stored are not re-embedded, and every other stored point
// is deleted.
func (i *Index) Sync(ctx context.Context, records []Record) (SyncStats, error) {
	return i.SyncSources(ctx, nil, records)
}

// SyncSources is Sync limited to the sources named in scope: stale points of
// those sources are deleted and points of any other source are left alone.
// A nil scope covers the whole collection.
func (i *Index) SyncSources(ctx context.Context, scope []string, records []Record) (SyncStats, error) {
	if err := i.EnsureCollection(ctx); err != nil {
		return SyncStats{}, err
	}

	points := dedupe(toPoints(records))
	ids := make([]string, len(points))
	for idx := range points {
		ids[idx] = points[idx].ID
	}

	existing, err := i.store.ExistingIDs(ctx, i.collection.Name, ids)
	if err != nil {
		return SyncStats{}, fmt.Errorf("lookup existing points: %w", err)
	}

	missing := make([]Point, 0, len(points))
	for _, point := range points {
		if _, ok := existing[point.ID]; !ok {
			missing = append(missing, point)
		}
	}

	stats := SyncStats{Total: len(points), Skipped: len(points) - len(missing)}
	if len(missing) > 0 {
		if err := i.embedPoints(ctx, missing); err != nil {
			return stats, err
		}
		if err := i.store.Upsert(ctx, i.collection.Name, missing); err != nil {
			return stats, fmt.Errorf("upsert points: %w", err)
		}
		stats.Embedded = len(missing)
	}

	pruned, err := i.store.DeleteStale(ctx, i.collection.Name, scope, ids)
	if err != nil {
		return stats, fmt.Errorf("prune stale points: %w", err)
	}
	stats.Pruned = pruned

	i.logger.Printf("synced collection %s: %d points, %d embedded, %d unchanged, %d pruned",
		i.collection.Name, stats.Total, stats.Embedded, stats.Skipped, stats.Pruned)
	return stats, nil
}

// Search embeds query and returns up to limit hits by descending similarity.
// An empty docType searches across all document types.
func (i *Index) Search(ctx context.Context, query string, limit int, docType string) ([]Hit, error) {
	if limit <= 0 {
		limit = 3
	}

	vectors, err := i.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(vectors) == 0 {
		return nil, fmt.Errorf("embedder returned no vectors")
	}

	hits, err := i.store.Search(ctx, i.collection.Name, vectors[0], limit, docType)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}
	return hits, nil
}

func (i *Index) embedPoints(ctx context.Context, points []Point) error {
	texts := make([]string, len(points))
	for idx := range points {
		texts[idx] = points[idx].Payload.Text
	}

	vectors, err := i.embedder.Embed(ctx, texts)
	if err != nil {
		return fmt.Errorf("generate embeddings: %w", err)
	}
	if len(vectors) != len(points) {
		return fmt.Errorf("embedding count mismatch: have %d points, %d embeddings", len(points), len(vectors))
	}

	for idx := range points {
		if len(vectors[idx]) != i.collection.Dimension {
			return fmt.Errorf("%w: collection %s expects %d dimensions, embedding has %d",
				embeddings.ErrDimensionMismatch, i.collection.Name, i.collection.Dimension, len(vectors[idx]))
		}
		points[idx].Vector = vectors[idx]
	}
	return nil
}

// ContentHash fingerprints a record by its type, origin, position and text.
func ContentHash(r Record) string {
	h := sha256.New()
	for _, part := range []string{r.DocType, r.Metadata["source"], r.Metadata["row"], strconv.Itoa(r.Position), r.Text} {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// PointID derives the stable point identifier of a record from its content hash.
func PointID(r Record) string {
	return uuid.NewSHA1(pointNamespace, []byte(ContentHash(r))).String()
}

func toPoints(records []Record) []Point {
	points := make([]Point, 0, len(records))
	for _, r := range records {
		if r.Text == "" {
			continue
		}
		hash := ContentHash(r)
		points = append(points, Point{
			ID:          uuid.NewSHA1(pointNamespace, []byte(hash)).String(),
			ContentHash: hash,
			Payload: Payload{
				Text:     r.Text,
				DocType:  r.DocType,
				Metadata: r.Metadata,
			},
		})
	}
	return points
}

func dedupe(points []Point) []Point {
	seen := make(map[string]struct{}, len(points))
	result := points[:0]
	for _, p := range points {
		if _, ok := seen[p.ID]; ok {
			continue
		}
		seen[p.ID] = struct{}{}
		result = append(result, p)
	}
	return result
}
