// Package intfc is the executive's interface to the outside world.
//
// A Manager owns the mailbox, the state cache and the resource arbiter. It
// dispatches the actions of each step to the Adapter registered for them,
// and drains what adapters report back between steps, in the order it was
// reported, up to the next mark.
//
// Adapters may report from any goroutine. Everything else in this package
// runs on the exec goroutine.
package intfc
