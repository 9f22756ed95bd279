package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/roach88/plexec/internal/value"
)

// Scenario is a scripted run of one plan against the script adapter,
// with the final node states it must reach.
type Scenario struct {
	// Name uniquely identifies this scenario. It names the golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Plan is the path of the plan file to run, relative to the scenario
	// file once loaded.
	Plan string `yaml:"plan"`

	// Libraries are library plan files registered before the plan.
	Libraries []string `yaml:"libraries,omitempty"`

	// StartTime is the time before the first script event.
	StartTime float64 `yaml:"start_time,omitempty"`

	// Adapter configures the answers the script adapter gives on its own.
	Adapter AdapterConfig `yaml:"adapter,omitempty"`

	// Script is applied one event per tick after the plan is loaded.
	Script []Event `yaml:"script,omitempty"`

	// Expect lists final node states.
	Expect []Expectation `yaml:"expect"`

	// Assertions validate the trace.
	Assertions []Assertion `yaml:"assertions,omitempty"`
}

// AdapterConfig is what the script adapter knows before any script event.
type AdapterConfig struct {
	// Lookups are initial external state values.
	Lookups []LookupEvent `yaml:"lookups,omitempty"`

	// Commands are answered as soon as they are dispatched.
	Commands []CommandResponse `yaml:"commands,omitempty"`

	// Functions are answered as soon as they are called.
	Functions []FunctionResponse `yaml:"functions,omitempty"`

	// AckUpdates acknowledges every planner update at once.
	AckUpdates bool `yaml:"ack_updates,omitempty"`
}

// CommandResponse answers every dispatch of the named command.
type CommandResponse struct {
	Name   string `yaml:"name"`
	Handle string `yaml:"handle,omitempty"` // default COMMAND_SUCCESS
	Result any    `yaml:"result,omitempty"`
}

// FunctionResponse answers every call of the named function.
type FunctionResponse struct {
	Name   string `yaml:"name"`
	Result any    `yaml:"result"`
}

// Event is one script tick. Any combination of fields may be set; they
// are applied in field order before the executive steps.
type Event struct {
	Time           *float64     `yaml:"time,omitempty"`
	Lookup         *LookupEvent `yaml:"lookup,omitempty"`
	CommandReturn  *ReturnEvent `yaml:"command_return,omitempty"`
	CommandAck     *AckEvent    `yaml:"command_ack,omitempty"`
	FunctionReturn *ReturnEvent `yaml:"function_return,omitempty"`
	UpdateAck      *UpdateEvent `yaml:"update_ack,omitempty"`
}

func (e Event) empty() bool {
	return e.Time == nil && e.Lookup == nil && e.CommandReturn == nil &&
		e.CommandAck == nil && e.FunctionReturn == nil && e.UpdateAck == nil
}

// LookupEvent sets an external state value.
type LookupEvent struct {
	State string `yaml:"state"`
	Args  []any  `yaml:"args,omitempty"`
	Value any    `yaml:"value"`
}

// ToState converts the state name and arguments.
func (l LookupEvent) ToState() (value.State, error) {
	s := value.State{Name: l.State}
	for i, a := range l.Args {
		v, err := value.FromAny(a)
		if err != nil {
			return value.State{}, fmt.Errorf("lookup %s: arg %d: %w", l.State, i, err)
		}
		s.Params = append(s.Params, v)
	}
	return s, nil
}

// AckEvent delivers a command handle to the last dispatch of a command.
type AckEvent struct {
	Name   string `yaml:"name"`
	Handle string `yaml:"handle"`
}

// ReturnEvent delivers the return value of the last dispatch of a
// command or function.
type ReturnEvent struct {
	Name  string `yaml:"name"`
	Value any    `yaml:"value"`
}

// UpdateEvent acknowledges the last update sent by a node.
type UpdateEvent struct {
	Node string `yaml:"node"`
}

// Expectation is the final state of one node. Empty fields are not checked.
type Expectation struct {
	Node      string         `yaml:"node"`
	State     string         `yaml:"state,omitempty"`
	Outcome   string         `yaml:"outcome,omitempty"`
	Failure   string         `yaml:"failure,omitempty"`
	Variables map[string]any `yaml:"variables,omitempty"`
}

// Assertion validates the trace. Lines are trace event texts, for example
// "Drive EXECUTING->ITERATION_ENDED SUCCESS" or "command drive(3)".
type Assertion struct {
	// Type is one of the Assert* constants.
	Type string `yaml:"type"`

	// Line is used by trace_contains, trace_absent and trace_count.
	Line string `yaml:"line,omitempty"`

	// Lines is used by trace_order.
	Lines []string `yaml:"lines,omitempty"`

	// Count is used by trace_count.
	Count int `yaml:"count,omitempty"`
}

// Assertion type constants.
const (
	AssertTraceContains = "trace_contains"
	AssertTraceAbsent   = "trace_absent"
	AssertTraceOrder    = "trace_order"
	AssertTraceCount    = "trace_count"
)

// LoadScenario reads and parses a scenario YAML file. Plan and library
// paths are resolved relative to the scenario file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	return LoadScenarioWithBasePath(path, filepath.Dir(path))
}

// LoadScenarioWithBasePath reads and parses a scenario YAML file,
// resolving plan and library paths relative to basePath.
func LoadScenarioWithBasePath(path, basePath string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if basePath != "" {
		scenario.Plan = resolve(basePath, scenario.Plan)
		for i, lib := range scenario.Libraries {
			scenario.Libraries[i] = resolve(basePath, lib)
		}
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// LoadAdapterConfig reads the canned responses of a script adapter from a
// YAML file laid out like a scenario's adapter section.
func LoadAdapterConfig(path string) (AdapterConfig, error) {
	var cfg AdapterConfig
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read adapter file: %w", err)
	}
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return cfg, fmt.Errorf("invalid adapter file: %w", err)
	}
	return cfg, nil
}

func resolve(base, path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(base, path)
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if s.Plan == "" {
		return fmt.Errorf("plan is required")
	}
	if _, err := os.Stat(s.Plan); err != nil {
		return fmt.Errorf("plan file not found: %s", s.Plan)
	}
	for _, lib := range s.Libraries {
		if _, err := os.Stat(lib); err != nil {
			return fmt.Errorf("library file not found: %s", lib)
		}
	}
	if len(s.Expect) == 0 {
		return fmt.Errorf("expect list is required and must be non-empty")
	}

	if err := s.Adapter.validate(); err != nil {
		return fmt.Errorf("adapter: %w", err)
	}

	last := s.StartTime
	for i, ev := range s.Script {
		if ev.empty() {
			return fmt.Errorf("script[%d]: event is empty", i)
		}
		if ev.Time != nil {
			if *ev.Time < last {
				return fmt.Errorf("script[%d]: time %g is before %g", i, *ev.Time, last)
			}
			last = *ev.Time
		}
		if err := ev.validate(); err != nil {
			return fmt.Errorf("script[%d]: %w", i, err)
		}
	}

	for i, e := range s.Expect {
		if err := validateExpectation(e); err != nil {
			return fmt.Errorf("expect[%d]: %w", i, err)
		}
	}
	for i, a := range s.Assertions {
		if err := validateAssertion(i, &a); err != nil {
			return err
		}
	}
	return nil
}

func (c AdapterConfig) validate() error {
	for i, l := range c.Lookups {
		if l.State == "" {
			return fmt.Errorf("lookups[%d]: state is required", i)
		}
	}
	for i, r := range c.Commands {
		if r.Name == "" {
			return fmt.Errorf("commands[%d]: name is required", i)
		}
		if r.Handle != "" {
			if _, err := value.ParseCommandHandle(r.Handle); err != nil {
				return fmt.Errorf("commands[%d]: %w", i, err)
			}
		}
	}
	for i, r := range c.Functions {
		if r.Name == "" {
			return fmt.Errorf("functions[%d]: name is required", i)
		}
	}
	return nil
}

func (e Event) validate() error {
	if e.Lookup != nil && e.Lookup.State == "" {
		return fmt.Errorf("lookup: state is required")
	}
	if e.CommandReturn != nil && e.CommandReturn.Name == "" {
		return fmt.Errorf("command_return: name is required")
	}
	if e.CommandAck != nil {
		if e.CommandAck.Name == "" {
			return fmt.Errorf("command_ack: name is required")
		}
		if _, err := value.ParseCommandHandle(e.CommandAck.Handle); err != nil {
			return fmt.Errorf("command_ack: %w", err)
		}
	}
	if e.FunctionReturn != nil && e.FunctionReturn.Name == "" {
		return fmt.Errorf("function_return: name is required")
	}
	if e.UpdateAck != nil && e.UpdateAck.Node == "" {
		return fmt.Errorf("update_ack: node is required")
	}
	return nil
}

func validateExpectation(e Expectation) error {
	if e.Node == "" {
		return fmt.Errorf("node is required")
	}
	if e.State == "" && e.Outcome == "" && e.Failure == "" && len(e.Variables) == 0 {
		return fmt.Errorf("node %s: nothing to check", e.Node)
	}
	if e.State != "" {
		if _, err := value.ParseNodeState(e.State); err != nil {
			return err
		}
	}
	if e.Outcome != "" {
		if _, err := value.ParseOutcome(e.Outcome); err != nil {
			return err
		}
	}
	if e.Failure != "" {
		if _, err := value.ParseFailureType(e.Failure); err != nil {
			return err
		}
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertTraceContains, AssertTraceAbsent:
		if a.Line == "" {
			return fmt.Errorf("assertions[%d]: line is required for %s", index, a.Type)
		}
	case AssertTraceOrder:
		if len(a.Lines) == 0 {
			return fmt.Errorf("assertions[%d]: lines list is required for trace_order", index)
		}
	case AssertTraceCount:
		if a.Line == "" {
			return fmt.Errorf("assertions[%d]: line is required for trace_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for trace_count", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
