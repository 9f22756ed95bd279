// Package mailbox carries external events to the exec goroutine.
//
// Producers on any goroutine enqueue lookup values, command returns, plans
// and libraries; the interface manager drains the queue on the exec
// goroutine between steps. A Semaphore wakes the exec goroutine when
// something was posted.
package mailbox

import (
	"fmt"
	"sync"

	"github.com/roach88/plexec/internal/expr"
	"github.com/roach88/plexec/internal/plan"
	"github.com/roach88/plexec/internal/value"
)

// Kind distinguishes mailbox entries.
type Kind int

const (
	// KindEmpty is returned by Dequeue when the queue is empty.
	KindEmpty Kind = iota
	// KindMark separates the events of one notification from the next.
	KindMark
	// KindLookup carries a new value of an external state.
	KindLookup
	// KindReturn carries a value for an expression, such as a command
	// handle or a return value.
	KindReturn
	// KindPlan carries a plan to run.
	KindPlan
	// KindLibrary carries a library to register.
	KindLibrary
)

func (k Kind) String() string {
	switch k {
	case KindEmpty:
		return "EMPTY"
	case KindMark:
		return "MARK"
	case KindLookup:
		return "LOOKUP_VALUES"
	case KindReturn:
		return "RETURN_VALUE"
	case KindPlan:
		return "PLAN"
	case KindLibrary:
		return "LIBRARY"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Entry is one mailbox entry. Only the fields of its Kind are set.
type Entry struct {
	Kind Kind

	// Seq is the sequence number of a mark.
	Seq uint64

	// State and Value of a lookup.
	State value.State
	Value value.Value

	// Target receives Value for a return.
	Target expr.Assignable

	// Plan of a plan or library entry.
	Plan *plan.Node
}

// Queue is a thread-safe FIFO of entries.
//
// The mutex guards the slice only; it is never held while the consumer
// handles an entry, so handling an entry may enqueue more on the same
// goroutine without deadlocking.
type Queue struct {
	mu      sync.Mutex
	entries []Entry
	nextSeq uint64
}

// NewQueue creates an empty queue.
func NewQueue() *Queue {
	return &Queue{entries: make([]Entry, 0, 64)}
}

func (q *Queue) push(e Entry) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.entries = append(q.entries, e)
}

// EnqueueLookup queues a new value for state.
func (q *Queue) EnqueueLookup(state value.State, v value.Value) {
	q.push(Entry{Kind: KindLookup, State: state, Value: v})
}

// EnqueueReturn queues v for target.
func (q *Queue) EnqueueReturn(target expr.Assignable, v value.Value) {
	q.push(Entry{Kind: KindReturn, Target: target, Value: v})
}

// EnqueuePlan queues a plan to add.
func (q *Queue) EnqueuePlan(p *plan.Node) {
	q.push(Entry{Kind: KindPlan, Plan: p})
}

// EnqueueLibrary queues a library to register.
func (q *Queue) EnqueueLibrary(p *plan.Node) {
	q.push(Entry{Kind: KindLibrary, Plan: p})
}

// Mark queues a mark and returns its sequence number. Sequence numbers
// start at 1 and increase with every mark.
func (q *Queue) Mark() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.nextSeq++
	q.entries = append(q.entries, Entry{Kind: KindMark, Seq: q.nextSeq})
	return q.nextSeq
}

// Dequeue removes and returns the front entry, or an entry of KindEmpty if
// there is none.
func (q *Queue) Dequeue() Entry {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.entries) == 0 {
		return Entry{Kind: KindEmpty}
	}
	e := q.entries[0]
	// Clear the slot so the backing array does not pin plans and targets.
	q.entries[0] = Entry{}
	if len(q.entries) == 1 {
		q.entries = q.entries[:0]
	} else {
		q.entries = q.entries[1:]
	}
	return e
}

// Pop discards the front entry, if any.
func (q *Queue) Pop() {
	_ = q.Dequeue()
}

// IsEmpty reports whether the queue holds no entries.
func (q *Queue) IsEmpty() bool {
	return q.Len() == 0
}

// Len returns the number of queued entries, marks included.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// Reset drops every entry. Mark sequence numbers keep increasing.
func (q *Queue) Reset() {
	q.mu.Lock()
	defer q.mu.Unlock()
	clear(q.entries)
	q.entries = q.entries[:0]
}
