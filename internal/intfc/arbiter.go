package intfc

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/roach88/plexec/internal/node"
)

// Arbiter decides which commands of a batch may run given the resources
// they need.
type Arbiter interface {
	// ArbitrateCommands splits cmds into accepted and rejected commands.
	// Accepted commands lock their resources until released.
	ArbitrateCommands(cmds []*node.Command) (accepted, rejected []*node.Command)

	// ReleaseResourcesForCommand unlocks the resources of cmd that are
	// released at termination.
	ReleaseResourcesForCommand(cmd *node.Command)
}

// AcceptAll is the arbiter used when none is configured.
type AcceptAll struct{}

func (AcceptAll) ArbitrateCommands(cmds []*node.Command) ([]*node.Command, []*node.Command) {
	return cmds, nil
}

func (AcceptAll) ReleaseResourcesForCommand(*node.Command) {}

// Resource limits applied to resources missing from the hierarchy.
const (
	DefaultMaxConsumable = 1.0
	DefaultMaxRenewable  = 0.0
)

// ResourceSpec describes one resource of a hierarchy file.
type ResourceSpec struct {
	Name          string      `yaml:"name"`
	MaxConsumable *float64    `yaml:"max_consumable,omitempty"`
	MaxRenewable  *float64    `yaml:"max_renewable,omitempty"`
	Children      []ChildSpec `yaml:"children,omitempty"`
}

// ChildSpec is a weighted child of a resource. Using the parent uses
// weight of each child.
type ChildSpec struct {
	Name   string  `yaml:"name"`
	Weight float64 `yaml:"weight"`
}

// HierarchyFile is the YAML document read by LoadHierarchy.
type HierarchyFile struct {
	Resources []ResourceSpec `yaml:"resources"`
}

type resourceLimits struct {
	maxConsumable float64
	maxRenewable  float64
	children      []ChildSpec
}

type lockedUse struct {
	name    string
	weight  float64
	release bool
}

// HierarchyArbiter arbitrates commands over a resource hierarchy.
//
// A command needing resource r needs its upper bound of r, and the weight
// of every descendant of r. Positive amounts are consumable and may not
// exceed max_consumable; negative amounts are renewable and may not go
// below -max_renewable. Commands are considered in priority order and
// accepted greedily against what is already locked.
//
// It is used on the exec goroutine only.
type HierarchyArbiter struct {
	logger    *slog.Logger
	resources map[string]resourceLimits
	locked    map[string]float64
	byCommand map[*node.Command][]lockedUse
}

var _ Arbiter = (*HierarchyArbiter)(nil)

// NewHierarchyArbiter creates an arbiter over the given resources.
func NewHierarchyArbiter(specs []ResourceSpec, logger *slog.Logger) (*HierarchyArbiter, error) {
	if logger == nil {
		logger = slog.Default()
	}
	a := &HierarchyArbiter{
		logger:    logger,
		resources: make(map[string]resourceLimits, len(specs)),
		locked:    make(map[string]float64),
		byCommand: make(map[*node.Command][]lockedUse),
	}
	for i, s := range specs {
		if s.Name == "" {
			return nil, fmt.Errorf("resource %d: name is required", i)
		}
		if _, dup := a.resources[s.Name]; dup {
			return nil, fmt.Errorf("resource %q: declared twice", s.Name)
		}
		lim := resourceLimits{
			maxConsumable: DefaultMaxConsumable,
			maxRenewable:  DefaultMaxRenewable,
			children:      s.Children,
		}
		if s.MaxConsumable != nil {
			lim.maxConsumable = *s.MaxConsumable
		}
		if s.MaxRenewable != nil {
			lim.maxRenewable = *s.MaxRenewable
		}
		a.resources[s.Name] = lim
	}
	if err := a.checkAcyclic(); err != nil {
		return nil, err
	}
	return a, nil
}

// LoadHierarchy reads a resource hierarchy document. Unknown fields are
// rejected.
func LoadHierarchy(r io.Reader, logger *slog.Logger) (*HierarchyArbiter, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	var f HierarchyFile
	if err := dec.Decode(&f); err != nil && err != io.EOF {
		return nil, fmt.Errorf("decode resource hierarchy: %w", err)
	}
	return NewHierarchyArbiter(f.Resources, logger)
}

// LoadHierarchyFile reads a resource hierarchy from path.
func LoadHierarchyFile(path string, logger *slog.Logger) (*HierarchyArbiter, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read resource hierarchy: %w", err)
	}
	a, err := LoadHierarchy(bytes.NewReader(data), logger)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return a, nil
}

func (a *HierarchyArbiter) checkAcyclic() error {
	const (
		visiting = 1
		done     = 2
	)
	mark := map[string]int{}
	var visit func(name string, path []string) error
	visit = func(name string, path []string) error {
		switch mark[name] {
		case visiting:
			return fmt.Errorf("resource cycle: %s", strings.Join(append(path, name), " -> "))
		case done:
			return nil
		}
		mark[name] = visiting
		for _, c := range a.resources[name].children {
			if err := visit(c.Name, append(path, name)); err != nil {
				return err
			}
		}
		mark[name] = done
		return nil
	}
	names := make([]string, 0, len(a.resources))
	for n := range a.resources {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, n := range names {
		if err := visit(n, nil); err != nil {
			return err
		}
	}
	return nil
}

func (a *HierarchyArbiter) limits(name string) resourceLimits {
	if lim, ok := a.resources[name]; ok {
		return lim
	}
	return resourceLimits{maxConsumable: DefaultMaxConsumable, maxRenewable: DefaultMaxRenewable}
}

// expand flattens the resources of cmd breadth first. A resource reached
// twice keeps its first amount.
func (a *HierarchyArbiter) expand(cmd *node.Command) []lockedUse {
	var uses []lockedUse
	seen := map[string]bool{}
	add := func(name string, weight float64, release bool) {
		if seen[name] {
			return
		}
		seen[name] = true
		uses = append(uses, lockedUse{name: name, weight: weight, release: release})
	}
	for _, r := range cmd.Resources() {
		add(r.Name, r.UpperBound, r.ReleaseAtTermination)
		queue := append([]ChildSpec(nil), a.limits(r.Name).children...)
		for len(queue) > 0 {
			c := queue[0]
			queue = queue[1:]
			add(c.Name, c.Weight, r.ReleaseAtTermination)
			queue = append(queue, a.limits(c.Name).children...)
		}
	}
	return uses
}

func (a *HierarchyArbiter) outsideLimits(name string, consumable, renewable float64) bool {
	lim := a.limits(name)
	return consumable > lim.maxConsumable || renewable < -lim.maxRenewable
}

// ArbitrateCommands implements Arbiter. Commands without resources are
// always accepted. Among the rest, lower priority numbers go first and
// commands of equal priority keep their batch order.
func (a *HierarchyArbiter) ArbitrateCommands(cmds []*node.Command) (accepted, rejected []*node.Command) {
	var contenders []*node.Command
	for _, c := range cmds {
		if len(c.Resources()) == 0 {
			accepted = append(accepted, c)
			continue
		}
		contenders = append(contenders, c)
	}
	sort.SliceStable(contenders, func(i, j int) bool {
		return contenders[i].Priority() < contenders[j].Priority()
	})

	consumable := map[string]float64{}
	renewable := map[string]float64{}
	for name, amount := range a.locked {
		if amount < 0 {
			renewable[name] = amount
		} else {
			consumable[name] = amount
		}
	}

	for _, c := range contenders {
		uses := a.expand(c)
		ok := true
		for _, u := range uses {
			cons, ren := consumable[u.name], renewable[u.name]
			if u.weight < 0 {
				ren += u.weight
			} else {
				cons += u.weight
			}
			if a.outsideLimits(u.name, cons, ren) {
				a.logger.Debug("command denied resource",
					"command", c.Name(),
					"node", c.Node().ID(),
					"resource", u.name,
				)
				ok = false
				break
			}
		}
		if !ok {
			rejected = append(rejected, c)
			continue
		}
		for _, u := range uses {
			if u.weight < 0 {
				renewable[u.name] += u.weight
			} else {
				consumable[u.name] += u.weight
			}
			a.locked[u.name] += u.weight
		}
		a.byCommand[c] = uses
		accepted = append(accepted, c)
	}
	return accepted, rejected
}

// ReleaseResourcesForCommand implements Arbiter. It is a no-op for
// commands that hold nothing.
func (a *HierarchyArbiter) ReleaseResourcesForCommand(cmd *node.Command) {
	uses, ok := a.byCommand[cmd]
	if !ok {
		return
	}
	for _, u := range uses {
		if !u.release {
			continue
		}
		a.locked[u.name] -= u.weight
		if math.Abs(a.locked[u.name]) < 1e-9 {
			delete(a.locked, u.name)
		}
	}
	delete(a.byCommand, cmd)
	a.logger.Debug("resources released", "command", cmd.Name(), "node", cmd.Node().ID())
}

// Holds reports whether cmd holds resources.
func (a *HierarchyArbiter) Holds(cmd *node.Command) bool {
	_, ok := a.byCommand[cmd]
	return ok
}

// Locked returns the amount of name currently locked.
func (a *HierarchyArbiter) Locked(name string) float64 {
	return a.locked[name]
}
