package node

import (
	"github.com/roach88/plexec/internal/expr"
	"github.com/roach88/plexec/internal/value"
)

func (n *Node) cond(c ConditionIndex) value.Bool3 {
	return expr.Bool3(n.conds[c])
}

func (n *Node) isTrue(c ConditionIndex) bool  { return n.cond(c).IsTrue() }
func (n *Node) isFalse(c ConditionIndex) bool { return n.cond(c).IsFalse() }

func to(s value.NodeState) Destination {
	return Destination{State: s}
}

func skipped() Destination {
	return Destination{State: value.Finished, Outcome: value.Skipped}
}

func failed(s value.NodeState, f value.FailureType) Destination {
	return Destination{State: s, Outcome: value.Failure, Failure: f}
}

// postOutcome ends an iteration with SUCCESS if the post condition holds.
func (n *Node) postOutcome() Destination {
	if n.isTrue(Post) {
		return Destination{State: value.IterationEnded, Outcome: value.Success}
	}
	return failed(value.IterationEnded, value.PostConditionFailed)
}

// DestState returns where the node would go from its current state given
// the present condition values, or NoTransition. It does not change the node.
func (n *Node) DestState() Destination {
	switch n.State() {
	case value.Inactive:
		return n.destFromInactive()
	case value.Waiting:
		return n.destFromWaiting()
	case value.Executing:
		switch {
		case n.kind.HasChildren():
			return n.listDestFromExecuting()
		case n.kind.IsAction():
			return n.actionDestFromExecuting()
		}
		return n.destFromExecuting()
	case value.Finishing:
		if n.kind.HasChildren() {
			return n.listDestFromFinishing()
		}
	case value.Failing:
		switch {
		case n.kind.HasChildren():
			return n.destFromFailing(ChildrenWaitingOrFinished)
		case n.kind.IsAction():
			return n.destFromFailing(AbortComplete)
		}
	case value.IterationEnded:
		return n.destFromIterationEnded()
	case value.Finished:
		if n.parent != nil && n.isTrue(ParentWaiting) {
			return to(value.Inactive)
		}
	}
	return NoTransition
}

func (n *Node) destFromInactive() Destination {
	if n.parent == nil {
		return to(value.Waiting)
	}
	if n.isTrue(ParentFinished) {
		return skipped()
	}
	if n.isTrue(ParentExecuting) {
		if n.isFalse(AncestorInvariant) || n.isTrue(AncestorEnd) {
			return skipped()
		}
		return to(value.Waiting)
	}
	return NoTransition
}

func (n *Node) destFromWaiting() Destination {
	if n.isFalse(AncestorInvariant) || n.isTrue(AncestorEnd) || n.isTrue(Skip) {
		return skipped()
	}
	if !n.isTrue(Start) {
		return NoTransition
	}
	if !n.isTrue(Pre) {
		return failed(value.IterationEnded, value.PreConditionFailed)
	}
	return to(value.Executing)
}

// destFromExecuting covers empty and assignment nodes, which finish their
// work synchronously and never need to wait for an abort.
func (n *Node) destFromExecuting() Destination {
	if n.isFalse(AncestorInvariant) {
		return failed(value.Finished, value.ParentFailed)
	}
	if n.isFalse(Invariant) {
		return failed(value.IterationEnded, value.InvariantConditionFailed)
	}
	if !n.isTrue(End) {
		return NoTransition
	}
	return n.postOutcome()
}

// actionDestFromExecuting covers commands, updates and function calls. An
// action interrupted before its end condition holds goes to FAILING to
// wait for the abort to complete.
func (n *Node) actionDestFromExecuting() Destination {
	ended := n.isTrue(End)
	if n.isFalse(AncestorInvariant) {
		if ended {
			return failed(value.Finished, value.ParentFailed)
		}
		return failed(value.Failing, value.ParentFailed)
	}
	if n.isFalse(Invariant) {
		if ended {
			return failed(value.IterationEnded, value.InvariantConditionFailed)
		}
		return failed(value.Failing, value.InvariantConditionFailed)
	}
	if !ended {
		return NoTransition
	}
	return n.postOutcome()
}

func (n *Node) listDestFromExecuting() Destination {
	if n.isFalse(AncestorInvariant) {
		return failed(value.Failing, value.ParentFailed)
	}
	if n.isFalse(Invariant) {
		return failed(value.Failing, value.InvariantConditionFailed)
	}
	if n.isTrue(End) {
		return to(value.Finishing)
	}
	return NoTransition
}

func (n *Node) listDestFromFinishing() Destination {
	if n.isFalse(AncestorInvariant) {
		return failed(value.Failing, value.ParentFailed)
	}
	if n.isFalse(Invariant) {
		return failed(value.Failing, value.InvariantConditionFailed)
	}
	if n.isTrue(ChildrenWaitingOrFinished) {
		return n.postOutcome()
	}
	return NoTransition
}

// destFromFailing waits for done (children settled or abort complete).
// A node failed by its parent finishes outright; otherwise it may repeat.
func (n *Node) destFromFailing(done ConditionIndex) Destination {
	if !n.isTrue(done) {
		return NoTransition
	}
	if n.Failure() == value.ParentFailed {
		return to(value.Finished)
	}
	return to(value.IterationEnded)
}

func (n *Node) destFromIterationEnded() Destination {
	if n.isFalse(AncestorInvariant) {
		return failed(value.Finished, value.ParentFailed)
	}
	if n.isTrue(AncestorEnd) {
		return to(value.Finished)
	}
	switch n.cond(Repeat) {
	case value.True:
		return to(value.Waiting)
	case value.False:
		return to(value.Finished)
	}
	return NoTransition
}
