package value

import "fmt"

// Bool3 is a three-valued truth value.
type Bool3 int8

const (
	False    Bool3 = iota // Known false
	True                  // Known true
	Unknown3              // Not known
)

// String returns "true", "false" or "unknown".
func (b Bool3) String() string {
	switch b {
	case True:
		return "true"
	case False:
		return "false"
	}
	return "unknown"
}

// IsTrue reports whether b is known true.
func (b Bool3) IsTrue() bool { return b == True }

// IsFalse reports whether b is known false.
func (b Bool3) IsFalse() bool { return b == False }

// AsBool3 interprets a value as a truth value. Anything other than a
// known Bool is unknown.
func AsBool3(v Value) Bool3 {
	if b, ok := v.(Bool); ok {
		if b {
			return True
		}
		return False
	}
	return Unknown3
}

// FromBool3 converts a truth value back into a Value.
func FromBool3(b Bool3) Value {
	switch b {
	case True:
		return Bool(true)
	case False:
		return Bool(false)
	}
	return Unknown{}
}

// NodeState is the state of a plan node.
type NodeState int8

const (
	// NoState means "no transition is possible". It is never the state of a node.
	NoState NodeState = iota - 1
	Inactive
	Waiting
	Executing
	Finishing
	Failing
	IterationEnded
	Finished
)

// NodeStateCount is the number of real node states.
const NodeStateCount = int(Finished) + 1

var nodeStateNames = [...]string{
	"INACTIVE", "WAITING", "EXECUTING", "FINISHING", "FAILING", "ITERATION_ENDED", "FINISHED",
}

func (NodeState) value() {}

func (s NodeState) String() string {
	if s == NoState {
		return "NO_STATE"
	}
	if s < 0 || int(s) >= len(nodeStateNames) {
		return fmt.Sprintf("NodeState(%d)", int8(s))
	}
	return nodeStateNames[s]
}

// Valid reports whether s is one of the seven node states.
func (s NodeState) Valid() bool {
	return s >= Inactive && s <= Finished
}

// ParseNodeState parses a state name such as "FINISHED".
func ParseNodeState(name string) (NodeState, error) {
	for i, n := range nodeStateNames {
		if n == name {
			return NodeState(i), nil
		}
	}
	return NoState, fmt.Errorf("unknown node state %q", name)
}

// Outcome is how a node's last iteration ended.
type Outcome int8

const (
	NoOutcome Outcome = iota
	Success
	Failure
	Skipped
)

var outcomeNames = [...]string{"NO_OUTCOME", "SUCCESS", "FAILURE", "SKIPPED"}

func (Outcome) value() {}

func (o Outcome) String() string {
	if o < 0 || int(o) >= len(outcomeNames) {
		return fmt.Sprintf("Outcome(%d)", int8(o))
	}
	return outcomeNames[o]
}

// ParseOutcome parses an outcome name such as "SUCCESS".
func ParseOutcome(name string) (Outcome, error) {
	for i, n := range outcomeNames {
		if n == name {
			return Outcome(i), nil
		}
	}
	return NoOutcome, fmt.Errorf("unknown outcome %q", name)
}

// FailureType refines a FAILURE outcome.
type FailureType int8

const (
	NoFailure FailureType = iota
	PreConditionFailed
	PostConditionFailed
	InvariantConditionFailed
	ParentFailed
)

var failureNames = [...]string{
	"NO_FAILURE", "PRE_CONDITION_FAILED", "POST_CONDITION_FAILED",
	"INVARIANT_CONDITION_FAILED", "PARENT_FAILED",
}

func (FailureType) value() {}

func (f FailureType) String() string {
	if f < 0 || int(f) >= len(failureNames) {
		return fmt.Sprintf("FailureType(%d)", int8(f))
	}
	return failureNames[f]
}

// ParseFailureType parses a failure type name.
func ParseFailureType(name string) (FailureType, error) {
	for i, n := range failureNames {
		if n == name {
			return FailureType(i), nil
		}
	}
	return NoFailure, fmt.Errorf("unknown failure type %q", name)
}

// CommandHandle is the status of a dispatched command as reported by
// the system that runs it.
type CommandHandle int8

const (
	NoHandle CommandHandle = iota
	SentToSystem
	Accepted
	RcvdBySystem
	CommandFailed
	CommandDenied
	CommandSuccess
)

var handleNames = [...]string{
	"NO_COMMAND_HANDLE", "COMMAND_SENT_TO_SYSTEM", "COMMAND_ACCEPTED",
	"COMMAND_RCVD_BY_SYSTEM", "COMMAND_FAILED", "COMMAND_DENIED", "COMMAND_SUCCESS",
}

func (CommandHandle) value() {}

func (h CommandHandle) String() string {
	if h < 0 || int(h) >= len(handleNames) {
		return fmt.Sprintf("CommandHandle(%d)", int8(h))
	}
	return handleNames[h]
}

// Interrupted reports whether the handle ends the command without a
// normal acknowledgement.
func (h CommandHandle) Interrupted() bool {
	return h == CommandFailed || h == CommandDenied
}

// ParseCommandHandle parses a handle name. The "COMMAND_" prefix is optional.
func ParseCommandHandle(name string) (CommandHandle, error) {
	for i, n := range handleNames {
		if n == name || n == "COMMAND_"+name {
			return CommandHandle(i), nil
		}
	}
	return NoHandle, fmt.Errorf("unknown command handle %q", name)
}

// ParseEnum parses any enumeration literal used in plans.
func ParseEnum(name string) (Value, error) {
	if s, err := ParseNodeState(name); err == nil {
		return s, nil
	}
	if o, err := ParseOutcome(name); err == nil {
		return o, nil
	}
	if f, err := ParseFailureType(name); err == nil {
		return f, nil
	}
	if h, err := ParseCommandHandle(name); err == nil {
		return h, nil
	}
	return nil, fmt.Errorf("unknown enumeration literal %q", name)
}
