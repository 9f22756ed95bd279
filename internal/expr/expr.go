package expr

import (
	"slices"

	"github.com/roach88/plexec/internal/value"
)

// Listener is called after an expression's value changes.
// Delivery is synchronous, on the goroutine that made the change.
type Listener func()

// Expression is a value-producing node of a condition or action.
//
// Activation is reference counted. Only lookups do anything with it: an
// active lookup keeps its state registered with the external interface.
type Expression interface {
	Value() value.Value
	Subscribe(fn Listener) Subscription
	Activate()
	Deactivate()
}

// Subscription is the handle returned by Subscribe. Cancel stops delivery;
// it is safe to call more than once and on the zero Subscription.
type Subscription struct {
	n  *notifier
	id uint64
}

// Cancel removes the listener.
func (s Subscription) Cancel() {
	if s.n != nil {
		s.n.remove(s.id)
	}
}

type subscriber struct {
	id     uint64
	fn     Listener
	active bool
}

// notifier fans out change notifications to subscribers in subscription order.
type notifier struct {
	next uint64
	subs []*subscriber
}

func (n *notifier) Subscribe(fn Listener) Subscription {
	n.next++
	n.subs = append(n.subs, &subscriber{id: n.next, fn: fn, active: true})
	return Subscription{n: n, id: n.next}
}

func (n *notifier) remove(id uint64) {
	for i, s := range n.subs {
		if s.id == id {
			s.active = false
			n.subs = slices.Delete(n.subs, i, i+1)
			return
		}
	}
}

// publish calls every subscriber. A subscriber cancelled by an earlier
// one during the same publish is skipped.
func (n *notifier) publish() {
	if len(n.subs) == 0 {
		return
	}
	for _, s := range slices.Clone(n.subs) {
		if s.active {
			s.fn()
		}
	}
}

// Subscribers returns the number of live subscriptions. Used in tests.
func (n *notifier) Subscribers() int {
	return len(n.subs)
}

// Const is an expression whose value never changes.
type Const struct {
	v value.Value
}

// NewConst wraps a value.
func NewConst(v value.Value) *Const {
	if v == nil {
		v = value.Unknown{}
	}
	return &Const{v: v}
}

// True and False are shared boolean constants.
var (
	True  = NewConst(value.Bool(true))
	False = NewConst(value.Bool(false))
)

func (c *Const) Value() value.Value { return c.v }

// Subscribe returns a no-op subscription: constants never notify.
func (c *Const) Subscribe(Listener) Subscription { return Subscription{} }
func (c *Const) Activate()                       {}
func (c *Const) Deactivate()                     {}

// Bool3 evaluates e as a truth value.
func Bool3(e Expression) value.Bool3 {
	if e == nil {
		return value.Unknown3
	}
	return value.AsBool3(e.Value())
}

// Close releases the child subscriptions held by e, if it holds any.
func Close(e Expression) {
	if c, ok := e.(interface{ Close() }); ok {
		c.Close()
	}
}
