package expr

import (
	"github.com/roach88/plexec/internal/value"
)

// Derived is an expression computed from other expressions.
//
// It subscribes to its operands when constructed and caches its value.
// Subscribers hear about a change only when the recomputed value differs
// from the cached one.
type Derived struct {
	notifier
	name     string
	compute  func() value.Value
	operands []Expression
	subs     []Subscription
	cached   value.Value
	active   int
}

// NewDerived builds an expression named name whose value is compute(),
// re-evaluated whenever one of operands changes.
func NewDerived(name string, compute func() value.Value, operands ...Expression) *Derived {
	d := &Derived{name: name, compute: compute, operands: operands}
	d.cached = d.eval()
	d.subs = make([]Subscription, 0, len(operands))
	for _, op := range operands {
		d.subs = append(d.subs, op.Subscribe(d.operandChanged))
	}
	return d
}

// Name returns the operator name, e.g. "and".
func (d *Derived) Name() string { return d.name }

func (d *Derived) Value() value.Value { return d.cached }

func (d *Derived) Activate() {
	d.active++
	if d.active == 1 {
		for _, op := range d.operands {
			op.Activate()
		}
	}
}

func (d *Derived) Deactivate() {
	if d.active == 0 {
		return
	}
	d.active--
	if d.active == 0 {
		for _, op := range d.operands {
			op.Deactivate()
		}
	}
}

// Close cancels the operand subscriptions. The cached value is kept.
func (d *Derived) Close() {
	for _, s := range d.subs {
		s.Cancel()
	}
	d.subs = nil
}

func (d *Derived) eval() value.Value {
	v := d.compute()
	if v == nil {
		return value.Unknown{}
	}
	return v
}

func (d *Derived) operandChanged() {
	v := d.eval()
	if sameValue(v, d.cached) {
		return
	}
	d.cached = v
	d.publish()
}

// And is three-valued conjunction: false if any operand is false,
// otherwise unknown if any is unknown. And() is true.
func And(ops ...Expression) *Derived {
	return NewDerived("and", func() value.Value {
		sawUnknown := false
		for _, op := range ops {
			switch Bool3(op) {
			case value.False:
				return value.Bool(false)
			case value.Unknown3:
				sawUnknown = true
			}
		}
		if sawUnknown {
			return value.Unknown{}
		}
		return value.Bool(true)
	}, ops...)
}

// Or is three-valued disjunction: true if any operand is true,
// otherwise unknown if any is unknown. Or() is false.
func Or(ops ...Expression) *Derived {
	return NewDerived("or", func() value.Value {
		sawUnknown := false
		for _, op := range ops {
			switch Bool3(op) {
			case value.True:
				return value.Bool(true)
			case value.Unknown3:
				sawUnknown = true
			}
		}
		if sawUnknown {
			return value.Unknown{}
		}
		return value.Bool(false)
	}, ops...)
}

// Not negates a truth value; unknown stays unknown.
func Not(op Expression) *Derived {
	return NewDerived("not", func() value.Value {
		switch Bool3(op) {
		case value.True:
			return value.Bool(false)
		case value.False:
			return value.Bool(true)
		}
		return value.Unknown{}
	}, op)
}

// Eq is unknown if either side is unknown, else whether they are equal.
func Eq(a, b Expression) *Derived {
	return NewDerived("eq", func() value.Value {
		x, y := a.Value(), b.Value()
		if !value.IsKnown(x) || !value.IsKnown(y) {
			return value.Unknown{}
		}
		return value.Bool(value.Equal(x, y))
	}, a, b)
}

// Ne is the negation of Eq.
func Ne(a, b Expression) *Derived {
	return NewDerived("ne", func() value.Value {
		x, y := a.Value(), b.Value()
		if !value.IsKnown(x) || !value.IsKnown(y) {
			return value.Unknown{}
		}
		return value.Bool(!value.Equal(x, y))
	}, a, b)
}

func comparison(name string, a, b Expression, accept func(int) bool) *Derived {
	return NewDerived(name, func() value.Value {
		c, ok := value.Compare(a.Value(), b.Value())
		if !ok {
			return value.Unknown{}
		}
		return value.Bool(accept(c))
	}, a, b)
}

// Lt, Le, Gt and Ge compare numbers or strings; mismatched or unknown
// operands give unknown.
func Lt(a, b Expression) *Derived { return comparison("lt", a, b, func(c int) bool { return c < 0 }) }
func Le(a, b Expression) *Derived { return comparison("le", a, b, func(c int) bool { return c <= 0 }) }
func Gt(a, b Expression) *Derived { return comparison("gt", a, b, func(c int) bool { return c > 0 }) }
func Ge(a, b Expression) *Derived { return comparison("ge", a, b, func(c int) bool { return c >= 0 }) }

func arithmetic(name string, ops []Expression, intOp func(x, y int64) int64, realOp func(x, y float64) float64) *Derived {
	return NewDerived(name, func() value.Value {
		if len(ops) == 0 {
			return value.Int(0)
		}
		allInt := true
		for _, op := range ops {
			switch op.Value().(type) {
			case value.Int:
			case value.Real:
				allInt = false
			default:
				return value.Unknown{}
			}
		}
		if allInt {
			acc := int64(ops[0].Value().(value.Int))
			for _, op := range ops[1:] {
				acc = intOp(acc, int64(op.Value().(value.Int)))
			}
			return value.Int(acc)
		}
		acc, _ := value.AsNumber(ops[0].Value())
		for _, op := range ops[1:] {
			n, _ := value.AsNumber(op.Value())
			acc = realOp(acc, n)
		}
		return value.Real(acc)
	}, ops...)
}

// Add sums its operands. Integers stay integers unless a Real is present.
func Add(ops ...Expression) *Derived {
	return arithmetic("add", ops,
		func(x, y int64) int64 { return x + y },
		func(x, y float64) float64 { return x + y })
}

// Sub subtracts the remaining operands from the first.
func Sub(ops ...Expression) *Derived {
	return arithmetic("sub", ops,
		func(x, y int64) int64 { return x - y },
		func(x, y float64) float64 { return x - y })
}

// IsKnown is true when op has a value. It is never unknown itself.
func IsKnown(op Expression) *Derived {
	return NewDerived("is_known", func() value.Value {
		return value.Bool(value.IsKnown(op.Value()))
	}, op)
}
