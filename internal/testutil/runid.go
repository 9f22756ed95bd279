package testutil

import (
	"fmt"
	"sync"
)

// FixedRunIDs returns predetermined run IDs for deterministic traces.
//
// With no IDs given it numbers runs "run-1", "run-2", and so on. With IDs
// given it returns them in order and panics when they run out, since a
// test that creates more runs than it expected is misconfigured.
//
// Thread-safety: FixedRunIDs is safe for concurrent use via internal mutex.
type FixedRunIDs struct {
	mu  sync.Mutex
	ids []string
	idx int
}

// NewFixedRunIDs creates a generator returning ids in order.
func NewFixedRunIDs(ids ...string) *FixedRunIDs {
	return &FixedRunIDs{ids: ids}
}

// Generate returns the next run ID.
func (g *FixedRunIDs) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.idx++
	if len(g.ids) == 0 {
		return fmt.Sprintf("run-%d", g.idx)
	}
	if g.idx > len(g.ids) {
		panic("FixedRunIDs: all run IDs exhausted")
	}
	return g.ids[g.idx-1]
}
