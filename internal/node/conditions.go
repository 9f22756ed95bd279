package node

import (
	"fmt"

	"github.com/roach88/plexec/internal/plan"
)

// Kind is the type of a node.
type Kind int8

const (
	KindEmpty Kind = iota
	KindList
	KindCommand
	KindAssignment
	KindUpdate
	KindFunctionCall
	KindLibraryCall
)

var kindNames = [...]string{"empty", "list", "command", "assignment", "update", "function", "library-call"}

func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return fmt.Sprintf("Kind(%d)", int8(k))
	}
	return kindNames[k]
}

// HasChildren reports whether nodes of this kind own child nodes.
func (k Kind) HasChildren() bool {
	return k == KindList || k == KindLibraryCall
}

// IsAction reports whether nodes of this kind dispatch an external action
// and may have to wait in FAILING for it to be aborted.
func (k Kind) IsAction() bool {
	return k == KindCommand || k == KindUpdate || k == KindFunctionCall
}

func kindOf(t string) (Kind, bool) {
	switch t {
	case plan.TypeEmpty:
		return KindEmpty, true
	case plan.TypeList:
		return KindList, true
	case plan.TypeCommand:
		return KindCommand, true
	case plan.TypeAssignment:
		return KindAssignment, true
	case plan.TypeUpdate:
		return KindUpdate, true
	case plan.TypeFunctionCall:
		return KindFunctionCall, true
	case plan.TypeLibraryCall:
		return KindLibraryCall, true
	}
	return KindEmpty, false
}

// ConditionIndex names one of a node's conditions.
type ConditionIndex int

const (
	// User conditions, settable in a plan.
	Skip ConditionIndex = iota
	Start
	End
	Invariant
	Pre
	Post
	Repeat

	// Conditions derived from the parent.
	AncestorInvariant
	AncestorEnd
	ParentExecuting
	ParentWaiting
	ParentFinished

	// Conditions derived from the node's own body.
	ChildrenWaitingOrFinished
	AbortComplete
	CommandHandleReceived

	conditionCount
)

// userConditionCount is the number of conditions a plan may set.
const userConditionCount = int(Repeat) + 1

var conditionNames = [...]string{
	"skip", "start", "end", "invariant", "pre", "post", "repeat",
	"ancestor_invariant", "ancestor_end", "parent_executing", "parent_waiting", "parent_finished",
	"children_waiting_or_finished", "abort_complete", "command_handle_received",
}

func (c ConditionIndex) String() string {
	if c < 0 || c >= conditionCount {
		return fmt.Sprintf("ConditionIndex(%d)", int(c))
	}
	return conditionNames[c]
}

// userConditionIndex maps plan condition names to indices.
var userConditionIndex = map[string]ConditionIndex{
	plan.CondSkip:      Skip,
	plan.CondStart:     Start,
	plan.CondEnd:       End,
	plan.CondInvariant: Invariant,
	plan.CondPre:       Pre,
	plan.CondPost:      Post,
	plan.CondRepeat:    Repeat,
}

// defaultCondition is the value of a user condition a plan leaves out.
// A list's end condition defaults to "all children finished" instead;
// see the builder.
func defaultCondition(c ConditionIndex) bool {
	switch c {
	case Skip, Repeat:
		return false
	}
	return true
}
