package ingestion

import (
	"maps"
	"strconv"
	"strings"
)

const (
	// DefaultChunkSize is the default number of runes per chunk.
	DefaultChunkSize = 1000
	// DefaultChunkOverlap is the default number of runes shared by consecutive chunks.
	DefaultChunkOverlap = 100

	// MetaPosition is the chunk metadata key holding Chunk.Position.
	MetaPosition = "position"
)

// Chunk is a bounded slice of a Document's text.
type Chunk struct {
	Text     string
	Metadata map[string]string
	// Position is the chunk's order within its source document, starting at 0.
	Position int
}

// DocType returns the category inherited from the parent document.
func (c Chunk) DocType() DocType {
	return DocType(c.Metadata[MetaDocType])
}

// Splitter cuts documents into fixed-size, overlapping chunks.
type Splitter struct {
	chunkSize int
	overlap   int
}

// SplitterOption configures a Splitter.
type SplitterOption func(*Splitter)

// WithChunkSize sets the chunk size in runes.
func WithChunkSize(size int) SplitterOption {
	return func(s *Splitter) {
		if size > 0 {
			s.chunkSize = size
		}
	}
}

// WithOverlap sets the overlap between consecutive chunks in runes.
func WithOverlap(overlap int) SplitterOption {
	return func(s *Splitter) {
		if overlap >= 0 {
			s.overlap = overlap
		}
	}
}

func NewSplitter(opts ...SplitterOption) *Splitter {
	s := &Splitter{
		chunkSize: DefaultChunkSize,
		overlap:   DefaultChunkOverlap,
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.overlap >= s.chunkSize {
		s.overlap = s.chunkSize / 4
	}
	return s
}

// ChunkSize returns the configured maximum chunk length.
func (s *Splitter) ChunkSize() int { return s.chunkSize }

// Overlap returns the configured overlap.
func (s *Splitter) Overlap() int { return s.overlap }

// Split produces the chunks of every document in order. Every chunk is at
// most ChunkSize runes; all but the last chunk of a document are exactly
// ChunkSize runes and each following chunk repeats the previous chunk's last
// Overlap runes.
func (s *Splitter) Split(docs []Document) []Chunk {
	chunks := make([]Chunk, 0, len(docs))
	for _, doc := range docs {
		chunks = append(chunks, s.SplitText(doc.Text, doc.Metadata)...)
	}
	return chunks
}

// SplitText splits a single text, attaching a copy of metadata to each chunk.
func (s *Splitter) SplitText(text string, metadata map[string]string) []Chunk {
	runes := []rune(text)
	if len(runes) == 0 {
		return nil
	}

	step := s.chunkSize - s.overlap
	chunks := make([]Chunk, 0, len(runes)/step+1)
	for start, position := 0, 0; ; start, position = start+step, position+1 {
		end := start + s.chunkSize
		if end > len(runes) {
			end = len(runes)
		}

		chunkMeta := maps.Clone(metadata)
		if chunkMeta == nil {
			chunkMeta = make(map[string]string, 1)
		}
		chunkMeta[MetaPosition] = strconv.Itoa(position)

		chunks = append(chunks, Chunk{
			Text:     string(runes[start:end]),
			Metadata: chunkMeta,
			Position: position,
		})

		if end == len(runes) {
			break
		}
	}
	return chunks
}

// Join reassembles the text of one document's chunks, dropping the overlap
// every chunk after the first shares with its predecessor.
func Join(chunks []Chunk, overlap int) string {
	var sb strings.Builder
	for i, chunk := range chunks {
		if i == 0 {
			sb.WriteString(chunk.Text)
			continue
		}
		runes := []rune(chunk.Text)
		cut := overlap
		if cut > len(runes) {
			cut = len(runes)
		}
		sb.WriteString(string(runes[cut:]))
	}
	return sb.String()
}
