package conversation

import (
	"context"
	"slices"
	"sync"
	"time"
)

// Turn is one question and the answer sent back.
type Turn struct {
	Question string    `json:"question"`
	Answer   string    `json:"answer"`
	At       time.Time `json:"at"`
}

// Store keeps the ordered history of every sender.
type Store interface {
	Append(ctx context.Context, sender string, turn Turn) error
	History(ctx context.Context, sender string) ([]Turn, error)
}

// MemoryStore holds histories in process memory. With maxTurns > 0 only the
// most recent maxTurns turns of each sender are kept.
type MemoryStore struct {
	mu       sync.RWMutex
	maxTurns int
	turns    map[string][]Turn
}

func NewMemoryStore(maxTurns int) *MemoryStore {
	if maxTurns < 0 {
		maxTurns = 0
	}
	return &MemoryStore{
		maxTurns: maxTurns,
		turns:    make(map[string][]Turn),
	}
}

func (s *MemoryStore) Append(_ context.Context, sender string, turn Turn) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	history := append(s.turns[sender], turn)
	if s.maxTurns > 0 && len(history) > s.maxTurns {
		history = slices.Clone(history[len(history)-s.maxTurns:])
	}
	s.turns[sender] = history
	return nil
}

// History returns a copy of the sender's turns, oldest first.
func (s *MemoryStore) History(_ context.Context, sender string) ([]Turn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return slices.Clone(s.turns[sender]), nil
}

// Senders returns the number of senders with at least one turn.
func (s *MemoryStore) Senders() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.turns)
}

var _ Store = (*MemoryStore)(nil)
