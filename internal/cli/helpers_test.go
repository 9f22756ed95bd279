package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

const drivePlan = `id: Drive
type: command
variables:
  - name: result
    type: integer
    initial: 0
command:
  name: drive
  args:
    - int: 3
  result: result
`

// waitingPlan never starts: its start condition reads a lookup nobody
// answers.
const waitingPlan = `id: Waiting
type: command
conditions:
  start:
    op: gt
    args:
      - lookup:
          name: Temperature
          mode: change
      - int: 20
command:
  name: beep
`

const typoPlan = `id: Typo
type: empty
conditons:
  start:
    bool: true
`

// writeFile writes content to name under dir, creating parent
// directories, and returns the path.
func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

// execute runs the root command with args and returns stdout.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	out := &bytes.Buffer{}
	cmd := NewRootCommand()
	cmd.SetOut(out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}
