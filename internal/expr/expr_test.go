package expr

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/plexec/internal/value"
)

func TestVariable_SetNotifiesOnChange(t *testing.T) {
	v := NewVariable("x", value.Int(1))
	calls := 0
	v.Subscribe(func() { calls++ })

	v.Set(value.Int(1))
	assert.Equal(t, 0, calls, "same value must not notify")

	v.Set(value.Int(2))
	assert.Equal(t, 1, calls)

	v.Reset()
	assert.Equal(t, 2, calls)
	assert.Equal(t, value.Int(1), v.Value())
}

func TestSubscription_Cancel(t *testing.T) {
	v := NewVariable("x", nil)
	calls := 0
	sub := v.Subscribe(func() { calls++ })

	sub.Cancel()
	sub.Cancel()
	v.Set(value.Bool(true))

	assert.Equal(t, 0, calls)
	assert.Equal(t, 0, v.Subscribers())
	Subscription{}.Cancel()
}

func TestSubscription_CancelDuringPublish(t *testing.T) {
	v := NewVariable("x", nil)
	var second Subscription
	calls := 0
	v.Subscribe(func() { second.Cancel() })
	second = v.Subscribe(func() { calls++ })

	v.Set(value.Int(1))
	assert.Equal(t, 0, calls, "listener cancelled mid-publish must be skipped")
}

func TestAnd_ThreeValued(t *testing.T) {
	a := NewVariable("a", nil)
	b := NewVariable("b", value.Bool(true))
	and := And(a, b)

	assert.Equal(t, value.Unknown3, Bool3(and))

	a.Set(value.Bool(true))
	assert.Equal(t, value.True, Bool3(and))

	b.Set(value.Bool(false))
	assert.Equal(t, value.False, Bool3(and))

	a.Set(value.Unknown{})
	assert.Equal(t, value.False, Bool3(and), "false dominates unknown")

	assert.Equal(t, value.True, Bool3(And()))
}

func TestOr_ThreeValued(t *testing.T) {
	a := NewVariable("a", nil)
	b := NewVariable("b", value.Bool(false))
	or := Or(a, b)

	assert.Equal(t, value.Unknown3, Bool3(or))

	a.Set(value.Bool(true))
	assert.Equal(t, value.True, Bool3(or))

	a.Set(value.Bool(false))
	assert.Equal(t, value.False, Bool3(or))

	assert.Equal(t, value.False, Bool3(Or()))
}

func TestNot(t *testing.T) {
	a := NewVariable("a", nil)
	n := Not(a)
	assert.Equal(t, value.Unknown3, Bool3(n))
	a.Set(value.Bool(false))
	assert.Equal(t, value.True, Bool3(n))
}

func TestDerived_PublishesOnlyOnChange(t *testing.T) {
	a := NewVariable("a", value.Int(1))
	gt := Gt(a, NewConst(value.Int(10)))
	calls := 0
	gt.Subscribe(func() { calls++ })

	a.Set(value.Int(2))
	a.Set(value.Int(3))
	assert.Equal(t, 0, calls, "result stayed false")

	a.Set(value.Int(11))
	assert.Equal(t, 1, calls)
	assert.Equal(t, value.True, Bool3(gt))
}

func TestDerived_Close(t *testing.T) {
	a := NewVariable("a", value.Int(1))
	eq := Eq(a, NewConst(value.Int(1)))
	require.Equal(t, 1, a.Subscribers())

	Close(eq)
	assert.Equal(t, 0, a.Subscribers())
}

func TestEq_UnknownOperand(t *testing.T) {
	a := NewVariable("a", nil)
	assert.Equal(t, value.Unknown{}, Eq(a, NewConst(value.Int(1))).Value())
	assert.Equal(t, value.Unknown{}, Ne(a, NewConst(value.Int(1))).Value())
}

func TestEq_NodeStates(t *testing.T) {
	s := NewVariable("state", value.Waiting)
	eq := Eq(s, NewConst(value.Finished))
	assert.Equal(t, value.False, Bool3(eq))
	s.Set(value.Finished)
	assert.Equal(t, value.True, Bool3(eq))
}

func TestArithmetic(t *testing.T) {
	a := NewVariable("a", value.Int(2))
	b := NewVariable("b", value.Int(3))
	assert.Equal(t, value.Int(5), Add(a, b).Value())
	assert.Equal(t, value.Int(-1), Sub(a, b).Value())

	b.Set(value.Real(0.5))
	sum := Add(a, b)
	assert.Equal(t, value.Real(2.5), sum.Value())

	b.Set(value.Unknown{})
	assert.Equal(t, value.Unknown{}, sum.Value())
}

func TestIsKnown(t *testing.T) {
	a := NewVariable("a", nil)
	k := IsKnown(a)
	assert.Equal(t, value.False, Bool3(k))
	a.Set(value.String("x"))
	assert.Equal(t, value.True, Bool3(k))
}

func TestAlias(t *testing.T) {
	base := NewVariable("x", value.Int(0))
	alias := NewAlias("y", base)
	ro := NewReadOnlyAlias("z", alias)

	alias.Set(value.Int(4))
	assert.Equal(t, value.Int(4), base.Value())
	assert.Same(t, base, ro.Base())
	assert.True(t, IsReadOnly(ro))
	assert.False(t, IsReadOnly(alias))
	assert.Panics(t, func() { ro.Set(value.Int(1)) })

	ea := NewExpressionAlias("c", NewConst(value.Int(9)))
	assert.Equal(t, value.Int(9), ea.Value())
	assert.Nil(t, ea.Base())
}

type fakeSource struct {
	values     map[string]value.Value
	registered map[string]func(value.Value)
	cancelled  []string
}

func newFakeSource() *fakeSource {
	return &fakeSource{values: map[string]value.Value{}, registered: map[string]func(value.Value){}}
}

func (f *fakeSource) LookupNow(s value.State) value.Value {
	if v, ok := f.values[s.Key()]; ok {
		return v
	}
	return value.Unknown{}
}

func (f *fakeSource) Register(s value.State, _ LookupMode, _ float64, fn func(value.Value)) (value.Value, func()) {
	key := s.Key()
	f.registered[key] = fn
	return f.LookupNow(s), func() {
		delete(f.registered, key)
		f.cancelled = append(f.cancelled, key)
	}
}

func TestLookup_OnChange(t *testing.T) {
	src := newFakeSource()
	src.values["Temp"] = value.Real(20)
	l := NewLookup(src, "Temp", LookupOnChange, 0.5)

	assert.Equal(t, value.Unknown{}, l.Value(), "inactive lookup is unknown")

	l.Activate()
	require.Contains(t, src.registered, "Temp")
	assert.Equal(t, value.Real(20), l.Value())

	calls := 0
	l.Subscribe(func() { calls++ })

	src.registered["Temp"](value.Real(20.2))
	assert.Equal(t, 0, calls, "change within tolerance is filtered")

	src.registered["Temp"](value.Real(21))
	assert.Equal(t, 1, calls)
	assert.Equal(t, value.Real(21), l.Value())

	l.Deactivate()
	assert.Equal(t, []string{"Temp"}, src.cancelled)
	assert.False(t, l.IsActive())
}

func TestLookup_NowWithArgs(t *testing.T) {
	src := newFakeSource()
	src.values[`At("Rock")`] = value.Bool(true)
	l := NewLookup(src, "At", LookupNow, 0, NewConst(value.String("Rock")))

	l.Activate()
	l.Activate()
	assert.Equal(t, value.Bool(true), l.Value())
	assert.Equal(t, `At("Rock")`, l.State().Key())
	assert.Empty(t, src.registered, "lookup-now never registers")

	l.Deactivate()
	assert.True(t, l.IsActive(), "activation is reference counted")
	l.Deactivate()
	assert.False(t, l.IsActive())
}

func TestDerived_ActivationPropagates(t *testing.T) {
	src := newFakeSource()
	l := NewLookup(src, "Speed", LookupOnChange, 0)
	cond := Gt(l, NewConst(value.Int(3)))

	cond.Activate()
	assert.True(t, l.IsActive())
	cond.Deactivate()
	assert.False(t, l.IsActive())
}

func TestParseLookupMode(t *testing.T) {
	m, err := ParseLookupMode("")
	require.NoError(t, err)
	assert.Equal(t, LookupNow, m)
	m, err = ParseLookupMode("frequency")
	require.NoError(t, err)
	assert.Equal(t, LookupFrequency, m)
	_, err = ParseLookupMode("sometimes")
	assert.Error(t, err)
}
