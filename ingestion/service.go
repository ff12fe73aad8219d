package ingestion

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"log"
	"strconv"
	"sync"

	"github.com/fabfab/campus-assistant/index"
	"github.com/fabfab/campus-assistant/knowledge"
)

// Indexer is the part of index.Index the ingestion pipeline writes to.
type Indexer interface {
	SyncSources(ctx context.Context, scope []string, records []index.Record) (index.SyncStats, error)
	ClearAndReload(ctx context.Context, records []index.Record) error
}

// GraphSyncer mirrors ingested sources into the knowledge graph.
type GraphSyncer interface {
	SyncSource(ctx context.Context, src knowledge.Source) error
	PruneSources(ctx context.Context, scope, keep []string) (int, error)
	Purge(ctx context.Context) error
}

// RunOptions controls a single ingestion run.
type RunOptions struct {
	// Reset drops the collection and re-embeds everything instead of syncing.
	Reset bool
	// Full marks the paths as the complete set of sources, so points and
	// graph sources of files outside the run are removed too. Otherwise only
	// the run's own sources are pruned.
	Full bool
}

// Report summarizes an ingestion run.
type Report struct {
	Files     int             `json:"files"`
	Documents int             `json:"documents"`
	Chunks    int             `json:"chunks"`
	Reset     bool            `json:"reset"`
	Stats     index.SyncStats `json:"stats"`
}

// Service loads source files, splits them and keeps the vector index (and
// optionally the knowledge graph) in step with them.
type Service struct {
	loader   *Loader
	splitter *Splitter
	index    Indexer
	graph    GraphSyncer
	logger   *log.Logger

	mu sync.Mutex
}

// NewService wires the pipeline. graph may be nil.
func NewService(loader *Loader, splitter *Splitter, idx Indexer, graph GraphSyncer, logger *log.Logger) *Service {
	if logger == nil {
		logger = log.Default()
	}
	if loader == nil {
		loader = NewLoader(logger)
	}
	if splitter == nil {
		splitter = NewSplitter()
	}

	return &Service{
		loader:   loader,
		splitter: splitter,
		index:    idx,
		graph:    graph,
		logger:   logger,
	}
}

// IngestDirectory runs the pipeline over every CSV and PDF file below dir.
func (s *Service) IngestDirectory(ctx context.Context, dir string, opts RunOptions) (Report, error) {
	paths, err := Discover(dir)
	if err != nil {
		return Report{}, err
	}
	if len(paths) == 0 {
		s.logger.Printf("no csv or pdf files found in %s", dir)
		return Report{}, nil
	}
	opts.Full = true
	return s.Run(ctx, paths, opts)
}

// Run loads paths and writes the resulting chunks to the index. A load
// failure aborts the run before the index is touched, so a missing file can
// never prune the points it produced earlier. Unless opts.Full is set, only
// points of the given files are replaced. Runs are serialized.
func (s *Service) Run(ctx context.Context, paths []string, opts RunOptions) (Report, error) {
	if s.index == nil {
		return Report{}, fmt.Errorf("index not configured")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	report := Report{Files: len(paths), Reset: opts.Reset}

	docs, err := s.loader.Load(ctx, paths...)
	if err != nil {
		return report, fmt.Errorf("load documents: %w", err)
	}
	report.Documents = len(docs)
	if len(docs) == 0 {
		s.logger.Printf("warning: no documents loaded from %d files, index left unchanged", len(paths))
		return report, nil
	}

	chunks := s.splitter.Split(docs)
	report.Chunks = len(chunks)
	records := ToRecords(chunks)
	scope := runScope(paths, opts.Full)

	if opts.Reset {
		if err := s.index.ClearAndReload(ctx, records); err != nil {
			return report, fmt.Errorf("reload index: %w", err)
		}
		report.Stats = index.SyncStats{Total: len(records), Embedded: len(records)}
	} else {
		stats, err := s.index.SyncSources(ctx, scope, records)
		report.Stats = stats
		if err != nil {
			return report, fmt.Errorf("sync index: %w", err)
		}
	}

	if s.graph != nil {
		s.syncGraph(ctx, docs, chunks, records, scope, opts.Reset)
	}

	s.logger.Printf("ingested %d files: %d documents, %d chunks", report.Files, report.Documents, report.Chunks)
	return report, nil
}

// syncGraph is best effort; the vector index is the source of truth for answers.
func (s *Service) syncGraph(ctx context.Context, docs []Document, chunks []Chunk, records []index.Record, scope []string, reset bool) {
	if reset {
		if err := s.graph.Purge(ctx); err != nil {
			s.logger.Printf("graph purge error: %v", err)
			return
		}
	}

	sources := BuildSources(docs, chunks, records)
	keep := make([]string, 0, len(sources))
	for _, src := range sources {
		keep = append(keep, src.Path)
		if err := s.graph.SyncSource(ctx, src); err != nil {
			s.logger.Printf("graph sync failed for %s: %v", src.Path, err)
		}
	}

	if removed, err := s.graph.PruneSources(ctx, scope, keep); err != nil {
		s.logger.Printf("graph prune error: %v", err)
	} else if removed > 0 {
		s.logger.Printf("removed %d stale sources from graph", removed)
	}
}

// runScope names the sources a run may prune. nil means every source.
func runScope(paths []string, full bool) []string {
	if full {
		return nil
	}
	scope := make([]string, 0, len(paths))
	for _, path := range paths {
		scope = append(scope, SourceName(path))
	}
	return scope
}

// ToRecords converts chunks into index records.
func ToRecords(chunks []Chunk) []index.Record {
	records := make([]index.Record, 0, len(chunks))
	for _, chunk := range chunks {
		records = append(records, index.Record{
			Text:     chunk.Text,
			DocType:  string(chunk.DocType()),
			Metadata: chunk.Metadata,
			Position: chunk.Position,
		})
	}
	return records
}

// BuildSources groups chunks by source file for the knowledge graph. Chunk
// IDs are the point IDs the index assigns to the same records.
func BuildSources(docs []Document, chunks []Chunk, records []index.Record) []knowledge.Source {
	order := make([]string, 0)
	bySource := make(map[string]*knowledge.Source)
	hashes := make(map[string]hash.Hash)

	get := func(metadata map[string]string) *knowledge.Source {
		name := metadata[MetaSource]
		src, ok := bySource[name]
		if !ok {
			src = &knowledge.Source{Path: name, DocType: metadata[MetaDocType]}
			bySource[name] = src
			hashes[name] = sha256.New()
			order = append(order, name)
		}
		return src
	}

	for _, doc := range docs {
		src := get(doc.Metadata)
		src.Documents++
		h := hashes[src.Path]
		h.Write([]byte(strconv.Itoa(len(doc.Text))))
		h.Write([]byte{0})
		h.Write([]byte(doc.Text))
	}
	for idx, chunk := range chunks {
		src := get(chunk.Metadata)
		src.Chunks = append(src.Chunks, knowledge.Chunk{
			ID:       index.PointID(records[idx]),
			Row:      chunk.Metadata[MetaRow],
			Position: chunk.Position,
			Text:     chunk.Text,
		})
	}

	sources := make([]knowledge.Source, 0, len(order))
	for _, name := range order {
		src := bySource[name]
		src.SHA = hex.EncodeToString(hashes[name].Sum(nil))
		sources = append(sources, *src)
	}
	return sources
}
