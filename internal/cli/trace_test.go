package cli

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/plexec/internal/harness"
	"github.com/roach88/plexec/internal/store"
)

type traceResponse struct {
	Status string      `json:"status"`
	Data   TraceResult `json:"data"`
}

// recordedDB runs the round trip scenario into a fresh database and
// returns its path and the run ID.
func recordedDB(t *testing.T) (string, string) {
	t.Helper()
	dir := scenarioDir(t, map[string]string{"round_trip": roundTripScenario})
	db := filepath.Join(t.TempDir(), "trace.db")

	st, err := store.Open(db)
	require.NoError(t, err)
	defer st.Close()

	scenario, err := harness.LoadScenario(filepath.Join(dir, "round_trip.yaml"))
	require.NoError(t, err)
	result, err := harness.New(harness.WithStore(st)).Run(context.Background(), scenario)
	require.NoError(t, err)
	require.True(t, result.Pass, "errors: %v", result.Errors)
	return db, harness.RunID(scenario)
}

func TestTrace_MissingDatabaseFlag(t *testing.T) {
	_, err := execute(t, "trace", "--run", "r1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "required flag")
}

func TestTrace_Text(t *testing.T) {
	db, runID := recordedDB(t)

	out, err := execute(t, "trace", "--db", db, "--run", runID)
	require.NoError(t, err)
	assert.Contains(t, out, "Trace for run: scenario-round_trip")
	assert.Contains(t, out, "[1] plan Drive")
	assert.Contains(t, out, "step 1 t=0 Drive INACTIVE->WAITING")
	assert.Contains(t, out, "t=2 Drive EXECUTING->ITERATION_ENDED SUCCESS")
	assert.Contains(t, out, "Transitions: 4")
	assert.Contains(t, out, "Finished:    1")
	assert.Contains(t, out, "Failed:      0")
}

func TestTrace_JSON(t *testing.T) {
	db, runID := recordedDB(t)

	out, err := execute(t, "--format", "json", "trace", "--db", db, "--run", runID)
	require.NoError(t, err)

	var resp traceResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, runID, resp.Data.RunID)
	require.Len(t, resp.Data.Transitions, 4)
	assert.Equal(t, "FINISHED", resp.Data.Transitions[3].To)
	assert.Equal(t, 1, resp.Data.Stats.Finished)
	assert.Positive(t, resp.Data.Stats.Steps)
}

func TestTrace_NodeFilter(t *testing.T) {
	db, runID := recordedDB(t)

	out, err := execute(t, "--format", "json", "trace", "--db", db, "--run", runID, "--node", "Nobody")
	require.NoError(t, err)

	var resp traceResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Empty(t, resp.Data.Transitions)
	assert.Len(t, resp.Data.Plans, 1)
}

func TestTrace_ListRuns(t *testing.T) {
	db, runID := recordedDB(t)

	out, err := execute(t, "trace", "--db", db)
	require.NoError(t, err)
	assert.Contains(t, out, runID)
}

func TestTrace_UnknownRun(t *testing.T) {
	db, _ := recordedDB(t)

	out, err := execute(t, "trace", "--db", db, "--run", "nope")
	require.NoError(t, err)
	assert.Contains(t, out, "No events found for run: nope")
}

func TestTrace_UnknownRunJSON(t *testing.T) {
	db, _ := recordedDB(t)

	out, err := execute(t, "--format", "json", "trace", "--db", db, "--run", "nope")
	require.NoError(t, err)

	var resp traceResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "nope", resp.Data.RunID)
	assert.Empty(t, resp.Data.Plans)
	assert.Empty(t, resp.Data.Transitions)
}

func TestTrace_EmptyDatabase(t *testing.T) {
	out, err := execute(t, "trace", "--db", filepath.Join(t.TempDir(), "empty.db"))
	require.NoError(t, err)
	assert.Contains(t, out, "No runs recorded.")
}

func TestTrace_NonExistentDatabase(t *testing.T) {
	_, err := execute(t, "trace", "--db", "/nonexistent/path/test.db", "--run", "r1")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "failed to open database")
}
