package intfc_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/roach88/plexec/internal/expr"
	"github.com/roach88/plexec/internal/intfc"
	"github.com/roach88/plexec/internal/logging"
	"github.com/roach88/plexec/internal/value"
)

func newCache() (*intfc.StateCache, *fakeAdapter) {
	a := newFakeAdapter()
	return intfc.NewStateCache(intfc.NewRegistry(intfc.WithDefaultAdapter(a)), logging.NewNop()), a
}

func TestStateCache_LookupNowReadsOncePerCycle(t *testing.T) {
	c, a := newCache()
	a.values["battery"] = value.Real(0.8)

	assert.Equal(t, value.Real(0.8), c.LookupNow(value.State{Name: "battery"}))
	assert.Equal(t, value.Real(0.8), c.LookupNow(value.State{Name: "battery"}))
	assert.Equal(t, []string{"battery"}, a.reads)

	a.values["battery"] = value.Real(0.2)
	c.StartCycle()
	assert.Equal(t, value.Real(0.2), c.LookupNow(value.State{Name: "battery"}))
	assert.Equal(t, []string{"battery", "time", "battery"}, a.reads)
}

// A lookup read once, dropped and read again in a later cycle sees the
// adapter's new value.
func TestStateCache_ReactivatedLookupRereads(t *testing.T) {
	c, a := newCache()
	a.values["battery"] = value.Real(0.8)
	l := expr.NewLookup(c, "battery", expr.LookupNow, 0)

	l.Activate()
	assert.Equal(t, value.Real(0.8), l.Value())
	l.Deactivate()

	a.values["battery"] = value.Real(0.2)
	c.StartCycle()
	l.Activate()
	assert.Equal(t, value.Real(0.2), l.Value())
}

// A fresh read that differs from the cached value reaches registered
// lookups.
func TestStateCache_RereadNotifiesRegistrations(t *testing.T) {
	c, a := newCache()
	state := value.State{Name: "temperature"}
	a.values["temperature"] = value.Real(15)
	var got []value.Value
	cur, cancel := c.Register(state, expr.LookupOnChange, 0, func(v value.Value) { got = append(got, v) })
	defer cancel()
	assert.Equal(t, value.Real(15), cur)

	c.StartCycle()
	assert.Equal(t, value.Real(15), c.LookupNow(state))
	assert.Empty(t, got, "unchanged value")

	a.values["temperature"] = value.Real(30)
	c.StartCycle()
	assert.Equal(t, value.Real(30), c.LookupNow(state))
	assert.Equal(t, []value.Value{value.Real(30)}, got)
}

func TestStateCache_StartCycleReadsTime(t *testing.T) {
	c, a := newCache()
	a.values["time"] = value.Real(100)

	c.StartCycle()
	assert.Equal(t, 100.0, c.CurrentTime())
	assert.Equal(t, uint64(2), c.Cycle())

	a.values["time"] = value.Real(150)
	c.StartCycle()
	assert.Equal(t, 150.0, c.CurrentTime())

	a.values["time"] = value.Real(120)
	c.StartCycle()
	assert.Equal(t, 150.0, c.CurrentTime(), "time does not go backwards")
	assert.Equal(t, value.Real(150), c.LookupNow(value.TimeState))
}

func TestStateCache_StartCycleWithoutClock(t *testing.T) {
	c, _ := newCache()
	c.StartCycle()
	assert.Equal(t, 0.0, c.CurrentTime())
	assert.Equal(t, value.Unknown{}, c.LookupNow(value.TimeState))
}

// Names that differ only in Unicode normalization are one state.
func TestStateCache_NormalizedNamesShareEntry(t *testing.T) {
	c, _ := newCache()
	composed := value.State{Name: "caf\u00e9"}
	decomposed := value.State{Name: "cafe\u0301"}

	c.UpdateState(composed, value.Int(3))
	assert.Equal(t, value.Int(3), c.LookupNow(decomposed))

	_, cancel := c.Register(decomposed, expr.LookupOnChange, 0, func(value.Value) {})
	defer cancel()
	assert.Equal(t, 1, c.Subscribers(composed))
}

func TestStateCache_StaleTime(t *testing.T) {
	c, _ := newCache()
	assert.False(t, c.StaleTime(value.Real(0)), "no time known yet")

	c.UpdateState(value.TimeState, value.Real(10))
	assert.True(t, c.StaleTime(value.Real(10)))
	assert.True(t, c.StaleTime(value.Int(5)))
	assert.False(t, c.StaleTime(value.Real(10.5)))
	assert.False(t, c.StaleTime(value.String("later")))
}

func TestStateCache_ParamsSeparateStates(t *testing.T) {
	c, _ := newCache()
	rock := value.State{Name: "at", Params: []value.Value{value.String("Rock")}}
	base := value.State{Name: "at", Params: []value.Value{value.String("Base")}}

	c.UpdateState(rock, value.Bool(true))

	assert.Equal(t, value.Bool(true), c.LookupNow(rock))
	assert.Equal(t, value.Unknown{}, c.LookupNow(base))
}

func TestStateCache_RegistrationsShareSubscription(t *testing.T) {
	c, a := newCache()
	state := value.State{Name: "temperature"}
	var got1, got2 []value.Value

	_, cancel1 := c.Register(state, expr.LookupOnChange, 0.5, func(v value.Value) { got1 = append(got1, v) })
	_, cancel2 := c.Register(state, expr.LookupOnChange, 0, func(v value.Value) { got2 = append(got2, v) })
	assert.Equal(t, []string{"temperature"}, a.subscribed)
	assert.Equal(t, 2, c.Subscribers(state))

	c.UpdateState(state, value.Real(21))
	assert.Equal(t, []value.Value{value.Real(21)}, got1)
	assert.Equal(t, []value.Value{value.Real(21)}, got2)

	cancel1()
	assert.Empty(t, a.unsubscribed)
	c.UpdateState(state, value.Real(22))
	assert.Len(t, got1, 1)
	assert.Len(t, got2, 2)

	cancel2()
	assert.Equal(t, []string{"temperature"}, a.unsubscribed)
	assert.Equal(t, 0, c.Subscribers(state))
}

func TestStateCache_FrequencyLookup(t *testing.T) {
	c, a := newCache()
	state := value.State{Name: "position"}

	_, cancel := c.Register(state, expr.LookupFrequency, 10, func(value.Value) {})
	cancel()

	assert.Equal(t, []string{"freq:position"}, a.subscribed)
	assert.Equal(t, []string{"freq:position"}, a.unsubscribed)
}

func TestStateCache_CurrentTime(t *testing.T) {
	c, _ := newCache()
	assert.Equal(t, 0.0, c.CurrentTime())

	c.UpdateState(value.TimeState, value.Real(12.5))
	assert.Equal(t, 12.5, c.CurrentTime())
}

func TestStateCache_NoAdapterIsUnknown(t *testing.T) {
	c := intfc.NewStateCache(intfc.NewRegistry(), logging.NewNop())
	assert.Equal(t, value.Unknown{}, c.LookupNow(value.State{Name: "battery"}))
}
