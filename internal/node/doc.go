// Package node implements the plan node state machine.
//
// A Node holds its conditions, its children, a back reference to its
// parent and at most one action payload. DestState is a pure function of
// the node's state and the current condition values; CheckConditions is
// the bridge that tells the scheduler a node may be able to move; and
// Transition commits a move, stamping timepoints and queueing the node's
// action when it starts executing.
//
// Nodes are built from plan documents by a Builder in two passes: the
// first creates the tree with its variables, the second wires conditions
// and actions, which may refer to other nodes anywhere in the tree.
//
// Everything in this package runs on the exec goroutine.
package node
