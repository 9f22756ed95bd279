package cli

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const roundTripScenario = `name: round_trip
description: "drive returns 7 and succeeds"
plan: ../plans/drive.yaml
script:
  - time: 1
    command_return: { name: drive, value: 7 }
  - time: 2
    command_ack: { name: drive, handle: COMMAND_SUCCESS }
expect:
  - node: Drive
    state: FINISHED
    outcome: SUCCESS
    variables: { result: 7 }
`

const roundTripGolden = `scenario round_trip
tick 0 time=0
  + plan Drive
  Drive INACTIVE->WAITING
  Drive WAITING->EXECUTING
  > command drive(3)
tick 1 time=1
  < return drive = 7
tick 2 time=2
  < ack drive COMMAND_SUCCESS
  Drive EXECUTING->ITERATION_ENDED SUCCESS
  Drive ITERATION_ENDED->FINISHED
`

const unackedScenario = `name: unacked
description: "nobody answers drive"
plan: ../plans/drive.yaml
expect:
  - node: Drive
    state: FINISHED
`

type testResponse struct {
	Status string     `json:"status"`
	Data   TestResult `json:"data"`
	Error  *CLIError  `json:"error"`
}

// scenarioDir lays out plans/ and scenarios/ under a temp directory and
// returns the scenarios directory.
func scenarioDir(t *testing.T, scenarios map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	writeFile(t, dir, "plans/drive.yaml", drivePlan)
	for name, content := range scenarios {
		writeFile(t, dir, filepath.Join("scenarios", name+".yaml"), content)
	}
	return filepath.Join(dir, "scenarios")
}

func TestTest_Passes(t *testing.T) {
	dir := scenarioDir(t, map[string]string{"round_trip": roundTripScenario})

	out, err := execute(t, "test", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "✓ round_trip")
	assert.Contains(t, out, "Test Summary: 1 passed, 0 failed, 1 total")
	assert.Contains(t, out, "✓ All scenarios passed")
}

func TestTest_Failure(t *testing.T) {
	dir := scenarioDir(t, map[string]string{
		"round_trip": roundTripScenario,
		"unacked":    unackedScenario,
	})

	out, err := execute(t, "test", dir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "✗ unacked")
	assert.Contains(t, out, "node Drive: state EXECUTING, expected FINISHED")
	assert.Contains(t, out, "Test Summary: 1 passed, 1 failed, 2 total")
}

func TestTest_JSON(t *testing.T) {
	dir := scenarioDir(t, map[string]string{
		"round_trip": roundTripScenario,
		"unacked":    unackedScenario,
	})

	out, err := execute(t, "--format", "json", "test", dir)
	require.Error(t, err)

	var resp testResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeTestFailed, resp.Error.Code)
	assert.Equal(t, 2, resp.Data.Total)
	assert.Equal(t, 1, resp.Data.Passed)
	assert.Equal(t, 1, resp.Data.Failed)
	require.Len(t, resp.Data.Scenarios, 2)
	assert.Equal(t, "round_trip", resp.Data.Scenarios[0].Name)
	assert.Equal(t, "missing", resp.Data.Scenarios[0].Golden)
}

func TestTest_Filter(t *testing.T) {
	dir := scenarioDir(t, map[string]string{
		"round_trip": roundTripScenario,
		"unacked":    unackedScenario,
	})

	out, err := execute(t, "test", "--filter", "round*", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "1 total")
	assert.NotContains(t, out, "unacked")
}

func TestTest_GoldenUpdateAndCompare(t *testing.T) {
	dir := scenarioDir(t, map[string]string{"round_trip": roundTripScenario})
	goldenPath := filepath.Join(dir, "golden", "round_trip.golden")

	out, err := execute(t, "test", "--update", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "✓ round_trip (golden updated)")

	data, err := os.ReadFile(goldenPath)
	require.NoError(t, err)
	assert.Equal(t, roundTripGolden, string(data))

	_, err = execute(t, "test", dir)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(goldenPath, []byte("scenario round_trip\n"), 0644))
	out, err = execute(t, "test", dir)
	require.Error(t, err)
	assert.Contains(t, out, "trace does not match golden file")
}

func TestTest_SingleFile(t *testing.T) {
	dir := scenarioDir(t, map[string]string{"round_trip": roundTripScenario})

	out, err := execute(t, "test", filepath.Join(dir, "round_trip.yaml"))
	require.NoError(t, err)
	assert.Contains(t, out, "1 passed")
}

func TestTest_LoadError(t *testing.T) {
	dir := scenarioDir(t, map[string]string{"broken": "name: broken\n"})

	out, err := execute(t, "test", dir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "failed to load scenario")
}

func TestTest_NoScenarios(t *testing.T) {
	out, err := execute(t, "test", t.TempDir())
	require.NoError(t, err)
	assert.Contains(t, out, "No scenarios found.")
}

func TestTest_MissingPath(t *testing.T) {
	_, err := execute(t, "test", filepath.Join(t.TempDir(), "nope"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "scenario path not found")
}

func TestFindScenarioFiles(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.yaml", "")
	writeFile(t, dir, "b.yml", "")
	writeFile(t, dir, "notes.txt", "")
	writeFile(t, dir, "nested/c.yaml", "")
	writeFile(t, dir, "plans/p.yaml", "")
	writeFile(t, dir, "golden/a.golden", "")

	files, err := findScenarioFiles(dir, "")
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(dir, "a.yaml"),
		filepath.Join(dir, "b.yml"),
		filepath.Join(dir, "nested", "c.yaml"),
	}, files)

	_, err = findScenarioFiles(dir, "[")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid filter pattern")
}
