package testutil

import (
	"fmt"
	"sync"
)

// SequenceIDs generates predictable ids: "<prefix>-0001", "<prefix>-0002", ...
//
// Implements engine.IDGenerator. Deterministic ids keep audit trails and
// queue listings comparable across test runs.
type SequenceIDs struct {
	mu     sync.Mutex
	prefix string
	n      int
}

// NewSequenceIDs creates a generator. An empty prefix uses "id".
func NewSequenceIDs(prefix string) *SequenceIDs {
	if prefix == "" {
		prefix = "id"
	}
	return &SequenceIDs{prefix: prefix}
}

// Generate returns the next id.
func (g *SequenceIDs) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("%s-%04d", g.prefix, g.n)
}
