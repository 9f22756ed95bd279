package intfc

import (
	"log/slog"

	"github.com/roach88/plexec/internal/expr"
	"github.com/roach88/plexec/internal/value"
)

type registration struct {
	id       uint64
	mode     expr.LookupMode
	param    float64
	onChange func(value.Value)
}

type cacheEntry struct {
	state value.State
	val   value.Value
	// known is false until the state was read or reported once
	known bool
	// cycle of the last read or report
	cycle uint64
	regs  []registration
	// adapter that the subscription went to, nil if none
	adapter Adapter
}

// StateCache holds the latest value of every external state the plans
// look up. It implements expr.LookupSource.
//
// Values are fresh for one cycle, the span of one executive step. A
// lookup that needs a state not read or reported in the current cycle
// asks the adapter again, and every cycle starts by reading the time.
//
// The cache is owned by the exec goroutine: lookups activate on it while a
// step runs, and the interface manager writes reported values into it while
// draining the mailbox. It is not safe for concurrent use.
type StateCache struct {
	registry *Registry
	logger   *slog.Logger
	// state keys are interned so that NFC-equivalent names share an entry
	names   *value.Pool
	entries map[value.Handle]*cacheEntry
	nextID  uint64
	cycle   uint64
}

var _ expr.LookupSource = (*StateCache)(nil)

// NewStateCache creates a cache that reads through the adapters of registry.
func NewStateCache(registry *Registry, logger *slog.Logger) *StateCache {
	if logger == nil {
		logger = slog.Default()
	}
	return &StateCache{
		registry: registry,
		logger:   logger,
		names:    value.NewPool(),
		entries:  make(map[value.Handle]*cacheEntry),
		cycle:    1,
	}
}

func (c *StateCache) entry(state value.State) *cacheEntry {
	key := c.names.Intern(state.Key())
	e, ok := c.entries[key]
	if !ok {
		e = &cacheEntry{state: state, val: value.Unknown{}}
		c.entries[key] = e
	}
	return e
}

func (c *StateCache) existing(state value.State) (*cacheEntry, bool) {
	e, ok := c.entries[c.names.Intern(state.Key())]
	return e, ok
}

func (c *StateCache) adapterFor(state value.State) Adapter {
	a, err := c.registry.Lookup(state.Name)
	if err != nil {
		c.logger.Warn("lookup has no adapter", "state", state.Key(), "error", err)
		return nil
	}
	return a
}

// Cycle returns the number of the current cycle.
func (c *StateCache) Cycle() uint64 { return c.cycle }

// StartCycle begins a new cycle: every cached value becomes stale and the
// time is read from its adapter. A time that does not move forward is
// ignored.
func (c *StateCache) StartCycle() {
	c.cycle++
	e := c.entry(value.TimeState)
	e.cycle = c.cycle
	a, err := c.registry.Lookup(value.TimeState.Name)
	if err != nil {
		return
	}
	v := a.LookupNow(value.TimeState)
	if _, ok := value.AsNumber(v); !ok || c.StaleTime(v) {
		return
	}
	c.UpdateState(value.TimeState, v)
}

// LookupNow returns the value of state, reading it from its adapter unless
// it was read or reported in the current cycle.
func (c *StateCache) LookupNow(state value.State) value.Value {
	e := c.entry(state)
	if e.cycle == c.cycle {
		return e.val
	}
	e.cycle = c.cycle
	a := c.adapterFor(state)
	if a == nil {
		return e.val
	}
	v := a.LookupNow(state)
	if v == nil {
		v = value.Unknown{}
	}
	if state.IsTime() && c.StaleTime(v) {
		return e.val
	}
	if e.known && value.Equal(e.val, v) {
		return e.val
	}
	c.UpdateState(state, v)
	return e.val
}

// Register implements expr.LookupSource. The first registration of a state
// subscribes with its adapter; the cancel function of the last one
// unsubscribes.
func (c *StateCache) Register(state value.State, mode expr.LookupMode, param float64, onChange func(value.Value)) (value.Value, func()) {
	cur := c.LookupNow(state)
	e := c.entry(state)

	c.nextID++
	id := c.nextID
	e.regs = append(e.regs, registration{id: id, mode: mode, param: param, onChange: onChange})
	if len(e.regs) == 1 {
		c.subscribe(e, mode, param)
	}

	return cur, func() { c.unregister(e, id) }
}

func (c *StateCache) subscribe(e *cacheEntry, mode expr.LookupMode, param float64) {
	a := c.adapterFor(e.state)
	if a == nil {
		return
	}
	e.adapter = a
	switch mode {
	case expr.LookupFrequency:
		a.SubscribeFrequency(e.state, param)
	default:
		a.SubscribeChange(e.state, param)
	}
}

func (c *StateCache) unregister(e *cacheEntry, id uint64) {
	for i, r := range e.regs {
		if r.id != id {
			continue
		}
		mode := r.mode
		e.regs = append(e.regs[:i], e.regs[i+1:]...)
		if len(e.regs) == 0 && e.adapter != nil {
			if mode == expr.LookupFrequency {
				e.adapter.UnsubscribeFrequency(e.state)
			} else {
				e.adapter.UnsubscribeChange(e.state)
			}
			e.adapter = nil
		}
		return
	}
}

// UpdateState stores v as the value of state and passes it to every
// registered lookup.
func (c *StateCache) UpdateState(state value.State, v value.Value) {
	if v == nil {
		v = value.Unknown{}
	}
	e := c.entry(state)
	e.val = v
	e.known = true
	e.cycle = c.cycle
	// Copy: a callback may end its own registration.
	regs := append([]registration(nil), e.regs...)
	for _, r := range regs {
		r.onChange(v)
	}
}

// CurrentTime returns the last known time, or 0 before any was reported.
func (c *StateCache) CurrentTime() float64 {
	e, ok := c.existing(value.TimeState)
	if !ok || !e.known {
		return 0
	}
	t, _ := value.AsNumber(e.val)
	return t
}

// StaleTime reports whether v is a time at or before the known time.
func (c *StateCache) StaleTime(v value.Value) bool {
	t, ok := value.AsNumber(v)
	if !ok {
		return false
	}
	e, ok := c.existing(value.TimeState)
	if !ok || !e.known {
		return false
	}
	cur, ok := value.AsNumber(e.val)
	return ok && t <= cur
}

// Subscribers returns the number of active registrations for state.
func (c *StateCache) Subscribers(state value.State) int {
	e, ok := c.existing(state)
	if !ok {
		return 0
	}
	return len(e.regs)
}
