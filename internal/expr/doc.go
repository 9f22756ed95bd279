// Package expr implements the three-valued expressions behind node
// conditions and actions.
//
// Expressions form a DAG. Variables and lookups are the sources; Derived
// expressions cache a value computed from their operands and re-publish
// only on change. Subscriptions return a cancellable handle. Delivery is
// synchronous on the goroutine that changed the source, which in practice
// is always the exec goroutine.
package expr
