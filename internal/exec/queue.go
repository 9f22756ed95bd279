package exec

import (
	"github.com/roach88/plexec/internal/node"
)

type candidate struct {
	seq  uint64
	node *node.Node
}

// candidateQueue holds the nodes reported eligible for a transition, in
// the order they were reported. Each entry carries a sequence number from
// a counter that only grows, so a pass can stop at the entries that existed
// when it began. A node is never queued twice.
type candidateQueue struct {
	next    uint64
	entries []candidate
	queued  map[*node.Node]bool
}

func newCandidateQueue() *candidateQueue {
	return &candidateQueue{
		entries: make([]candidate, 0, 64),
		queued:  make(map[*node.Node]bool),
	}
}

// Push appends n unless it is already queued.
func (q *candidateQueue) Push(n *node.Node) bool {
	if q.queued[n] {
		return false
	}
	q.queued[n] = true
	q.entries = append(q.entries, candidate{seq: q.next, node: n})
	q.next++
	return true
}

// Marker returns the sequence number the next Push will get. Entries
// pushed from now on compare greater or equal to it.
func (q *candidateQueue) Marker() uint64 {
	return q.next
}

// PopBefore removes and returns the front node if it was queued before stop.
func (q *candidateQueue) PopBefore(stop uint64) (*node.Node, bool) {
	if len(q.entries) == 0 || q.entries[0].seq >= stop {
		return nil, false
	}
	c := q.entries[0]
	q.entries[0] = candidate{}
	if len(q.entries) == 1 {
		q.entries = q.entries[:0]
	} else {
		q.entries = q.entries[1:]
	}
	delete(q.queued, c.node)
	return c.node, true
}

// Remove drops every queued node for which drop returns true.
func (q *candidateQueue) Remove(drop func(*node.Node) bool) {
	kept := q.entries[:0]
	for _, c := range q.entries {
		if drop(c.node) {
			delete(q.queued, c.node)
			continue
		}
		kept = append(kept, c)
	}
	q.entries = kept
}

// Len returns the number of queued nodes.
func (q *candidateQueue) Len() int {
	return len(q.entries)
}

// IDs returns the ids of up to max queued nodes, for diagnostics.
func (q *candidateQueue) IDs(max int) []string {
	var ids []string
	for _, c := range q.entries {
		if len(ids) == max {
			break
		}
		ids = append(ids, c.node.ID())
	}
	return ids
}
