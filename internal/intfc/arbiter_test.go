package intfc_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/plexec/internal/intfc"
	"github.com/roach88/plexec/internal/logging"
	"github.com/roach88/plexec/internal/node"
)

const roverHierarchy = `
resources:
  - name: arm
    max_consumable: 1
    children:
      - name: joint
        weight: 0.5
      - name: power
        weight: -1
  - name: joint
    max_consumable: 1
    children:
      - name: motor
        weight: 1
  - name: motor
    max_consumable: 2
  - name: power
    max_renewable: 2
`

func loadArbiter(t *testing.T, doc string) *intfc.HierarchyArbiter {
	t.Helper()
	a, err := intfc.LoadHierarchy(strings.NewReader(doc), logging.NewNop())
	require.NoError(t, err)
	return a
}

func names(cmds []*node.Command) []string {
	var out []string
	for _, c := range cmds {
		out = append(out, c.Node().ID())
	}
	return out
}

func TestHierarchyArbiter_ExpandsChildren(t *testing.T) {
	a := loadArbiter(t, roverHierarchy)
	cmds := commandBatch(t, commandNode("Reach", resourceUse{name: "arm", priority: 1, upper: 1, release: true}))

	accepted, rejected := a.ArbitrateCommands(cmds)

	assert.Equal(t, []string{"Reach"}, names(accepted))
	assert.Empty(t, rejected)
	assert.Equal(t, 1.0, a.Locked("arm"))
	assert.Equal(t, 0.5, a.Locked("joint"))
	assert.Equal(t, 1.0, a.Locked("motor"))
	assert.Equal(t, -1.0, a.Locked("power"))
}

func TestHierarchyArbiter_PriorityOrderThenGreedy(t *testing.T) {
	a := loadArbiter(t, roverHierarchy)
	cmds := commandBatch(t,
		commandNode("Low", resourceUse{name: "arm", priority: 9, upper: 1, release: true}),
		commandNode("High", resourceUse{name: "arm", priority: 2, upper: 1, release: true}),
		commandNode("Free"),
	)

	accepted, rejected := a.ArbitrateCommands(cmds)

	assert.Equal(t, []string{"Free", "High"}, names(accepted))
	assert.Equal(t, []string{"Low"}, names(rejected))
}

func TestHierarchyArbiter_ChildLimit(t *testing.T) {
	a := loadArbiter(t, roverHierarchy)
	cmds := commandBatch(t,
		commandNode("Reach", resourceUse{name: "arm", priority: 1, upper: 1, release: true}),
		commandNode("Wiggle", resourceUse{name: "joint", priority: 2, upper: 0.5, release: true}),
		commandNode("Twist", resourceUse{name: "joint", priority: 3, upper: 0.5, release: true}),
	)

	accepted, rejected := a.ArbitrateCommands(cmds)

	// Reach and Wiggle fill joint; motor is at its limit of 2.
	assert.Equal(t, []string{"Reach", "Wiggle"}, names(accepted))
	assert.Equal(t, []string{"Twist"}, names(rejected))
	assert.Equal(t, 1.0, a.Locked("joint"))
	assert.Equal(t, 2.0, a.Locked("motor"))
}

func TestHierarchyArbiter_RenewableLimit(t *testing.T) {
	a := loadArbiter(t, roverHierarchy)
	cmds := commandBatch(t,
		commandNode("Heat", resourceUse{name: "power", priority: 1, upper: -1.5, release: true}),
		commandNode("Drill", resourceUse{name: "power", priority: 2, upper: -1, release: true}),
	)

	accepted, rejected := a.ArbitrateCommands(cmds)

	assert.Equal(t, []string{"Heat"}, names(accepted))
	assert.Equal(t, []string{"Drill"}, names(rejected))
}

func TestHierarchyArbiter_UnlistedResourceDefaults(t *testing.T) {
	a := loadArbiter(t, roverHierarchy)
	cmds := commandBatch(t,
		commandNode("A", resourceUse{name: "camera", priority: 1, upper: 1, release: true}),
		commandNode("B", resourceUse{name: "camera", priority: 1, upper: 1, release: true}),
	)

	accepted, rejected := a.ArbitrateCommands(cmds)

	assert.Equal(t, []string{"A"}, names(accepted), "equal priorities keep batch order")
	assert.Equal(t, []string{"B"}, names(rejected))
}

func TestHierarchyArbiter_Release(t *testing.T) {
	a := loadArbiter(t, roverHierarchy)
	cmds := commandBatch(t,
		commandNode("Reach", resourceUse{name: "arm", priority: 1, upper: 1, release: true}),
		commandNode("Burn", resourceUse{name: "camera", priority: 1, upper: 1, release: false}),
	)
	accepted, _ := a.ArbitrateCommands(cmds)
	require.Len(t, accepted, 2)

	a.ReleaseResourcesForCommand(cmds[0])
	a.ReleaseResourcesForCommand(cmds[1])

	assert.False(t, a.Holds(cmds[0]))
	assert.Equal(t, 0.0, a.Locked("arm"))
	assert.Equal(t, 0.0, a.Locked("motor"))
	assert.Equal(t, 1.0, a.Locked("camera"), "not released at termination")

	// Releasing twice is harmless.
	a.ReleaseResourcesForCommand(cmds[0])
	assert.Equal(t, 0.0, a.Locked("arm"))
}

func TestLoadHierarchy_Errors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want string
	}{
		{"unknown field", "resources:\n  - name: arm\n    capacity: 2\n", "capacity"},
		{"missing name", "resources:\n  - max_consumable: 2\n", "name is required"},
		{"duplicate", "resources:\n  - name: arm\n  - name: arm\n", "declared twice"},
		{"cycle", "resources:\n  - name: a\n    children: [{name: b, weight: 1}]\n  - name: b\n    children: [{name: a, weight: 1}]\n", "resource cycle"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := intfc.LoadHierarchy(strings.NewReader(tt.doc), logging.NewNop())
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestAcceptAll(t *testing.T) {
	cmds := commandBatch(t,
		commandNode("A", resourceUse{name: "arm", priority: 1, upper: 1, release: true}),
		commandNode("B", resourceUse{name: "arm", priority: 1, upper: 1, release: true}),
	)
	accepted, rejected := intfc.AcceptAll{}.ArbitrateCommands(cmds)
	assert.Len(t, accepted, 2)
	assert.Empty(t, rejected)
}
