package ingestion

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitShortDocumentIsOneChunk(t *testing.T) {
	s := NewSplitter()
	chunks := s.SplitText("Lugar: Cafetería X", map[string]string{MetaDocType: "promo"})

	require.Len(t, chunks, 1)
	assert.Equal(t, "Lugar: Cafetería X", chunks[0].Text)
	assert.Equal(t, 0, chunks[0].Position)
	assert.Equal(t, TypePromo, chunks[0].DocType())
}

func TestSplitEmptyText(t *testing.T) {
	assert.Empty(t, NewSplitter().SplitText("", nil))
}

func TestSplitRespectsSizeAndOverlap(t *testing.T) {
	s := NewSplitter(WithChunkSize(10), WithOverlap(3))
	text := strings.Repeat("ñandú-", 7)

	chunks := s.SplitText(text, nil)
	require.Greater(t, len(chunks), 1)

	for i, chunk := range chunks {
		n := utf8.RuneCountInString(chunk.Text)
		assert.LessOrEqual(t, n, 10)
		if i < len(chunks)-1 {
			assert.Equal(t, 10, n)
		}
		assert.Equal(t, i, chunk.Position)
		if i > 0 {
			prev := []rune(chunks[i-1].Text)
			assert.Equal(t, string(prev[len(prev)-3:]), string([]rune(chunk.Text)[:3]))
		}
	}

	assert.Equal(t, text, Join(chunks, 3))
}

func TestSplitDefaults(t *testing.T) {
	s := NewSplitter()
	assert.Equal(t, DefaultChunkSize, s.ChunkSize())
	assert.Equal(t, DefaultChunkOverlap, s.Overlap())

	text := strings.Repeat("abcdefghij", 250)
	chunks := s.SplitText(text, nil)
	require.Len(t, chunks, 3)
	assert.Equal(t, text, Join(chunks, s.Overlap()))
}

func TestSplitClampsOverlap(t *testing.T) {
	s := NewSplitter(WithChunkSize(8), WithOverlap(8))
	assert.Equal(t, 2, s.Overlap())
}

func TestSplitCopiesMetadata(t *testing.T) {
	s := NewSplitter(WithChunkSize(4), WithOverlap(1))
	docs := []Document{
		{Text: "abcdefg", Metadata: map[string]string{MetaSource: "a.csv"}},
		{Text: "xyz", Metadata: map[string]string{MetaSource: "b.csv"}},
	}

	chunks := s.Split(docs)
	require.Len(t, chunks, 3)
	assert.Equal(t, "a.csv", chunks[1].Metadata[MetaSource])
	assert.Equal(t, "xyz", chunks[2].Text, "chunks never cross documents")
	assert.Equal(t, 0, chunks[2].Position)

	chunks[0].Metadata[MetaSource] = "changed"
	assert.Equal(t, "a.csv", chunks[1].Metadata[MetaSource])
	assert.Equal(t, "a.csv", docs[0].Metadata[MetaSource])
	assert.NotContains(t, docs[0].Metadata, MetaPosition)
}

func TestSplitRecordsPositionInMetadata(t *testing.T) {
	s := NewSplitter(WithChunkSize(4), WithOverlap(1))
	chunks := s.Split([]Document{{Text: "abcdefg"}})

	require.Len(t, chunks, 2)
	assert.Equal(t, "0", chunks[0].Metadata[MetaPosition])
	assert.Equal(t, "1", chunks[1].Metadata[MetaPosition])
	assert.Equal(t, "1", ToRecords(chunks)[1].Metadata[MetaPosition])
}
