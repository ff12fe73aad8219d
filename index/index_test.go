package index

import (
	"context"
	"errors"
	"io"
	"log"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fabfab/campus-assistant/embeddings"
)

// keywordEmbedder maps texts onto a tiny fixed vocabulary so similarity is
// predictable in tests.
type keywordEmbedder struct {
	calls  int
	inputs int
	err    error
}

var vocabulary = []string{"cafeter", "2x1", "futbol", "cancha", "curso"}

func (e *keywordEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	e.calls++
	e.inputs += len(texts)
	if e.err != nil {
		return nil, e.err
	}
	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		vec := make([]float32, len(vocabulary)+1)
		lower := strings.ToLower(text)
		for j, word := range vocabulary {
			if strings.Contains(lower, word) {
				vec[j] = 1
			}
		}
		vec[len(vocabulary)] = 0.1
		vectors[i] = vec
	}
	return vectors, nil
}

var _ embeddings.Embedder = (*keywordEmbedder)(nil)

func testCollection() Collection {
	return Collection{Name: "campus", Dimension: len(vocabulary) + 1, Metric: MetricCosine}
}

func newTestIndex(store Store, embedder embeddings.Embedder) *Index {
	return New(store, embedder, testCollection(), log.New(io.Discard, "", 0))
}

func sampleRecords() []Record {
	return []Record{
		{Text: "Lugar: Cafetería X\nTítulo: 2x1", DocType: "promo", Metadata: map[string]string{"source": "promociones.csv", "row": "1"}},
		{Text: "Deporte: Futbol\nLugar: Cancha principal", DocType: "deporte", Metadata: map[string]string{"source": "deportes.csv", "row": "1"}},
		{Text: "Curso: Tendencias de mercado", DocType: "syllabus", Metadata: map[string]string{"source": "syllabus.csv", "row": "1"}},
	}
}

func TestEnsureCollectionIsIdempotent(t *testing.T) {
	store := NewMemoryStore()
	idx := newTestIndex(store, &keywordEmbedder{})

	require.NoError(t, idx.EnsureCollection(context.Background()))
	require.NoError(t, idx.EnsureCollection(context.Background()))
}

func TestEnsureCollectionDetectsDimensionMismatch(t *testing.T) {
	store := NewMemoryStore()
	require.NoError(t, store.EnsureCollection(context.Background(), Collection{Name: "campus", Dimension: 768, Metric: MetricCosine}))

	idx := newTestIndex(store, &keywordEmbedder{})
	err := idx.EnsureCollection(context.Background())
	assert.ErrorIs(t, err, ErrCollectionMismatch)
}

func TestEnsureCollectionValidatesSettings(t *testing.T) {
	idx := New(NewMemoryStore(), &keywordEmbedder{}, Collection{Name: "campus"}, log.New(io.Discard, "", 0))
	assert.Error(t, idx.EnsureCollection(context.Background()))
}

func TestSyncSkipsUnchangedContent(t *testing.T) {
	store := NewMemoryStore()
	embedder := &keywordEmbedder{}
	idx := newTestIndex(store, embedder)
	ctx := context.Background()

	stats, err := idx.Sync(ctx, sampleRecords())
	require.NoError(t, err)
	assert.Equal(t, SyncStats{Total: 3, Embedded: 3}, stats)
	assert.Equal(t, 3, embedder.inputs)

	stats, err = idx.Sync(ctx, sampleRecords())
	require.NoError(t, err)
	assert.Equal(t, SyncStats{Total: 3, Skipped: 3}, stats)
	assert.Equal(t, 3, embedder.inputs, "unchanged content must not be re-embedded")
}

func TestSyncEmbedsChangedAndPrunesRemoved(t *testing.T) {
	store := NewMemoryStore()
	embedder := &keywordEmbedder{}
	idx := newTestIndex(store, embedder)
	ctx := context.Background()

	_, err := idx.Sync(ctx, sampleRecords())
	require.NoError(t, err)

	updated := sampleRecords()[:2]
	updated[0].Text = "Lugar: Cafetería X\nTítulo: 3x2"

	stats, err := idx.Sync(ctx, updated)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Embedded)
	assert.Equal(t, 1, stats.Skipped)
	assert.Equal(t, 2, stats.Pruned)
	assert.Equal(t, 2, store.Len("campus"))
}

func TestClearAndReloadReplacesEverything(t *testing.T) {
	store := NewMemoryStore()
	embedder := &keywordEmbedder{}
	idx := newTestIndex(store, embedder)
	ctx := context.Background()

	_, err := idx.Sync(ctx, sampleRecords())
	require.NoError(t, err)

	require.NoError(t, idx.ClearAndReload(ctx, sampleRecords()[:1]))
	assert.Equal(t, 1, store.Len("campus"))
	assert.Equal(t, 4, embedder.inputs, "reload embeds every record again")
}

func TestClearAndReloadPropagatesEmbeddingErrors(t *testing.T) {
	embedder := &keywordEmbedder{err: errors.New("provider down")}
	idx := newTestIndex(NewMemoryStore(), embedder)

	err := idx.ClearAndReload(context.Background(), sampleRecords())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "provider down")
}

func TestEmbeddingDimensionMustMatchCollection(t *testing.T) {
	store := NewMemoryStore()
	idx := New(store, &keywordEmbedder{}, Collection{Name: "campus", Dimension: 768, Metric: MetricCosine}, log.New(io.Discard, "", 0))

	_, err := idx.Sync(context.Background(), sampleRecords())
	assert.ErrorIs(t, err, embeddings.ErrDimensionMismatch)
}

func TestSearchOrdersByScoreAndFilters(t *testing.T) {
	store := NewMemoryStore()
	idx := newTestIndex(store, &keywordEmbedder{})
	ctx := context.Background()

	_, err := idx.Sync(ctx, sampleRecords())
	require.NoError(t, err)

	hits, err := idx.Search(ctx, "¿Hay 2x1 en la cafetería?", 3, "")
	require.NoError(t, err)
	require.Len(t, hits, 3)
	assert.Equal(t, "promo", hits[0].Payload.DocType)
	for i := 1; i < len(hits); i++ {
		assert.GreaterOrEqual(t, hits[i-1].Score, hits[i].Score)
	}

	hits, err = idx.Search(ctx, "¿Hay 2x1 en la cafetería?", 3, "deporte")
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "deporte", hits[0].Payload.DocType)
}

func TestSearchLimit(t *testing.T) {
	store := NewMemoryStore()
	idx := newTestIndex(store, &keywordEmbedder{})
	ctx := context.Background()

	_, err := idx.Sync(ctx, sampleRecords())
	require.NoError(t, err)

	hits, err := idx.Search(ctx, "cancha de futbol", 1, "")
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Contains(t, hits[0].Payload.Text, "Futbol")
}

func TestPointIDIsStable(t *testing.T) {
	r := sampleRecords()[0]
	assert.Equal(t, PointID(r), PointID(r))

	moved := r
	moved.Position = 1
	assert.NotEqual(t, PointID(r), PointID(moved))

	assert.Len(t, ContentHash(r), 64)
}

func TestSyncIgnoresDuplicateRecords(t *testing.T) {
	store := NewMemoryStore()
	embedder := &keywordEmbedder{}
	idx := newTestIndex(store, embedder)

	records := append(sampleRecords(), sampleRecords()[0])
	stats, err := idx.Sync(context.Background(), records)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Total)
	assert.Equal(t, 3, embedder.inputs)
}

func TestSyncSourcesLeavesOtherSourcesAlone(t *testing.T) {
	store := NewMemoryStore()
	embedder := &keywordEmbedder{}
	idx := newTestIndex(store, embedder)
	ctx := context.Background()

	_, err := idx.Sync(ctx, sampleRecords())
	require.NoError(t, err)

	promo := sampleRecords()[:1]
	promo[0].Text = "Lugar: Cafetería X\nTítulo: 3x2"

	stats, err := idx.SyncSources(ctx, []string{"promociones.csv"}, promo)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Embedded)
	assert.Equal(t, 1, stats.Pruned, "only the old promociones.csv point is stale")
	assert.Equal(t, 3, store.Len("campus"))

	hits, err := idx.Search(ctx, "cancha de futbol", 3, "deporte")
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "deportes.csv", hits[0].Payload.Metadata["source"])
}

func TestSyncSourcesPrunesScopedSourceWithoutRecords(t *testing.T) {
	store := NewMemoryStore()
	idx := newTestIndex(store, &keywordEmbedder{})
	ctx := context.Background()

	_, err := idx.Sync(ctx, sampleRecords())
	require.NoError(t, err)

	stats, err := idx.SyncSources(ctx, []string{"syllabus.csv", "promociones.csv"}, sampleRecords()[:1])
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Pruned)
	assert.Equal(t, 2, store.Len("campus"))
}

func TestMemorySearchRejectsWrongQueryDimension(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, store.EnsureCollection(ctx, testCollection()))

	_, err := store.Search(ctx, "campus", []float32{1, 0}, 3, "")
	assert.ErrorIs(t, err, ErrCollectionMismatch)
}
