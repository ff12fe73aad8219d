package index

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
)

// MemoryStore keeps collections in process memory and searches them by brute
// force. It backs local runs without Postgres.
type MemoryStore struct {
	mu          sync.RWMutex
	collections map[string]*memoryCollection
}

type memoryCollection struct {
	info   Collection
	points map[string]Point
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{collections: make(map[string]*memoryCollection)}
}

func (s *MemoryStore) EnsureCollection(_ context.Context, c Collection) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.collections[c.Name]; ok {
		if existing.info.Dimension != c.Dimension || existing.info.Metric != c.Metric {
			return ErrCollectionMismatch
		}
		return nil
	}

	s.collections[c.Name] = &memoryCollection{info: c, points: make(map[string]Point)}
	return nil
}

func (s *MemoryStore) DropCollection(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.collections, name)
	return nil
}

func (s *MemoryStore) ExistingIDs(_ context.Context, name string, ids []string) (map[string]struct{}, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	coll, ok := s.collections[name]
	if !ok {
		return nil, ErrCollectionNotFound
	}

	found := make(map[string]struct{})
	for _, id := range ids {
		if _, ok := coll.points[id]; ok {
			found[id] = struct{}{}
		}
	}
	return found, nil
}

func (s *MemoryStore) Upsert(_ context.Context, name string, points []Point) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	coll, ok := s.collections[name]
	if !ok {
		return ErrCollectionNotFound
	}
	for _, p := range points {
		if len(p.Vector) != coll.info.Dimension {
			return ErrCollectionMismatch
		}
	}
	for _, p := range points {
		coll.points[p.ID] = p
	}
	return nil
}

func (s *MemoryStore) DeleteStale(_ context.Context, name string, scope []string, keep []string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	coll, ok := s.collections[name]
	if !ok {
		return 0, ErrCollectionNotFound
	}

	retain := make(map[string]struct{}, len(keep))
	for _, id := range keep {
		retain[id] = struct{}{}
	}

	var scoped map[string]struct{}
	if scope != nil {
		scoped = make(map[string]struct{}, len(scope))
		for _, source := range scope {
			scoped[source] = struct{}{}
		}
	}

	removed := 0
	for id, p := range coll.points {
		if scoped != nil {
			if _, ok := scoped[p.Payload.Metadata["source"]]; !ok {
				continue
			}
		}
		if _, ok := retain[id]; !ok {
			delete(coll.points, id)
			removed++
		}
	}
	return removed, nil
}

func (s *MemoryStore) Search(_ context.Context, name string, vector []float32, limit int, docType string) ([]Hit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	coll, ok := s.collections[name]
	if !ok {
		return nil, ErrCollectionNotFound
	}

	if len(vector) != coll.info.Dimension {
		return nil, fmt.Errorf("%w: collection %s expects %d dimensions, query has %d",
			ErrCollectionMismatch, name, coll.info.Dimension, len(vector))
	}

	hits := make([]Hit, 0, len(coll.points))
	for _, p := range coll.points {
		if docType != "" && p.Payload.DocType != docType {
			continue
		}
		hits = append(hits, Hit{ID: p.ID, Score: cosine(vector, p.Vector), Payload: p.Payload})
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score == hits[j].Score {
			return hits[i].ID < hits[j].ID
		}
		return hits[i].Score > hits[j].Score
	})

	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

// Len returns the number of points stored in a collection.
func (s *MemoryStore) Len(name string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if coll, ok := s.collections[name]; ok {
		return len(coll.points)
	}
	return 0
}

func cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

var _ Store = (*MemoryStore)(nil)
