// Package exec implements the plan executive.
//
// An Executive owns the running plan trees. Nodes report themselves as
// candidates when their conditions change; Step takes the candidates in
// the order they were reported and commits their transitions in micro
// steps until no node can move. Assignments to a shared variable are
// arbitrated by priority, and the commands, updates, function calls and
// aborts a step produces go out in batches through a Dispatcher.
//
// Listeners see every committed transition, synchronously and in commit
// order. The trace recorder, the metrics collector and the log listener
// are all listeners.
package exec
