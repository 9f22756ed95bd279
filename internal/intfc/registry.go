package intfc

import (
	"errors"
	"fmt"
)

// Adapter roles in the registry.
const (
	RoleCommand  = "command"
	RoleLookup   = "lookup"
	RoleFunction = "function"
	RolePlanner  = "planner"
)

// UnknownAdapterError reports a name no adapter is registered for.
type UnknownAdapterError struct {
	Role string
	Name string
}

func (e *UnknownAdapterError) Error() string {
	return fmt.Sprintf("no %s adapter for %q", e.Role, e.Name)
}

// IsUnknownAdapter returns true if err is an UnknownAdapterError.
func IsUnknownAdapter(err error) bool {
	var ue *UnknownAdapterError
	return errors.As(err, &ue)
}

// Registry maps command, lookup and function names to adapters. It is
// built once at start-up and read-only afterwards.
type Registry struct {
	def       Adapter
	planner   Adapter
	commands  map[string]Adapter
	lookups   map[string]Adapter
	functions map[string]Adapter
	all       []Adapter
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithDefaultAdapter handles every name not registered otherwise.
func WithDefaultAdapter(a Adapter) RegistryOption {
	return func(r *Registry) {
		r.def = a
		r.remember(a)
	}
}

// WithCommandAdapter routes the named commands to a.
func WithCommandAdapter(a Adapter, names ...string) RegistryOption {
	return func(r *Registry) {
		for _, n := range names {
			r.commands[n] = a
		}
		r.remember(a)
	}
}

// WithLookupAdapter routes lookups of the named states to a.
func WithLookupAdapter(a Adapter, names ...string) RegistryOption {
	return func(r *Registry) {
		for _, n := range names {
			r.lookups[n] = a
		}
		r.remember(a)
	}
}

// WithFunctionAdapter routes the named function calls to a.
func WithFunctionAdapter(a Adapter, names ...string) RegistryOption {
	return func(r *Registry) {
		for _, n := range names {
			r.functions[n] = a
		}
		r.remember(a)
	}
}

// WithPlannerAdapter receives planner updates.
func WithPlannerAdapter(a Adapter) RegistryOption {
	return func(r *Registry) {
		r.planner = a
		r.remember(a)
	}
}

// NewRegistry builds a registry.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		commands:  map[string]Adapter{},
		lookups:   map[string]Adapter{},
		functions: map[string]Adapter{},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Registry) remember(a Adapter) {
	for _, known := range r.all {
		if known == a {
			return
		}
	}
	r.all = append(r.all, a)
}

func (r *Registry) find(role string, names map[string]Adapter, name string) (Adapter, error) {
	if a, ok := names[name]; ok {
		return a, nil
	}
	if r.def != nil {
		return r.def, nil
	}
	return nil, &UnknownAdapterError{Role: role, Name: name}
}

// Command returns the adapter for a command.
func (r *Registry) Command(name string) (Adapter, error) {
	return r.find(RoleCommand, r.commands, name)
}

// Lookup returns the adapter for a state name.
func (r *Registry) Lookup(name string) (Adapter, error) {
	return r.find(RoleLookup, r.lookups, name)
}

// Function returns the adapter for a function call.
func (r *Registry) Function(name string) (Adapter, error) {
	return r.find(RoleFunction, r.functions, name)
}

// Planner returns the planner adapter, falling back to the default.
func (r *Registry) Planner() (Adapter, error) {
	if r.planner != nil {
		return r.planner, nil
	}
	if r.def != nil {
		return r.def, nil
	}
	return nil, &UnknownAdapterError{Role: RolePlanner, Name: "updates"}
}

// Adapters returns every distinct adapter, in registration order.
func (r *Registry) Adapters() []Adapter {
	return append([]Adapter(nil), r.all...)
}
