package intfc_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/plexec/internal/intfc"
)

func TestRegistry_RoutesByName(t *testing.T) {
	def, drive, sensors := newFakeAdapter(), newFakeAdapter(), newFakeAdapter()
	r := intfc.NewRegistry(
		intfc.WithDefaultAdapter(def),
		intfc.WithCommandAdapter(drive, "drive", "turn"),
		intfc.WithLookupAdapter(sensors, "temperature"),
		intfc.WithFunctionAdapter(drive, "distance"),
	)

	a, err := r.Command("turn")
	require.NoError(t, err)
	assert.Same(t, drive, a)

	a, err = r.Command("dig")
	require.NoError(t, err)
	assert.Same(t, def, a, "unregistered names go to the default")

	a, err = r.Lookup("temperature")
	require.NoError(t, err)
	assert.Same(t, sensors, a)

	a, err = r.Function("distance")
	require.NoError(t, err)
	assert.Same(t, drive, a)

	a, err = r.Planner()
	require.NoError(t, err)
	assert.Same(t, def, a)

	assert.Len(t, r.Adapters(), 3, "an adapter registered twice is listed once")
}

func TestRegistry_UnknownWithoutDefault(t *testing.T) {
	r := intfc.NewRegistry(intfc.WithCommandAdapter(newFakeAdapter(), "drive"))

	_, err := r.Lookup("temperature")
	require.Error(t, err)
	assert.True(t, intfc.IsUnknownAdapter(err))
	assert.Contains(t, err.Error(), `no lookup adapter for "temperature"`)

	_, err = r.Planner()
	assert.True(t, intfc.IsUnknownAdapter(err))
}
