package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// createTestStore creates a new store in a temporary directory.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpen_CreatesNewDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	s, err := Open(path)
	require.NoError(t, err)
	defer s.Close()

	_, err = os.Stat(path)
	assert.NoError(t, err, "database file was not created")
}

func TestOpen_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	for i := 0; i < 3; i++ {
		s, err := Open(path)
		require.NoError(t, err, "open %d", i)
		var count int
		assert.NoError(t, s.db.QueryRow("SELECT COUNT(*) FROM transitions").Scan(&count))
		require.NoError(t, s.Close())
	}
}

func TestOpen_ConnectionSettings(t *testing.T) {
	s := createTestStore(t)

	tests := []struct {
		name     string
		expected string
	}{
		{"journal_mode", "wal"},
		{"synchronous", "1"},
		{"busy_timeout", "5000"},
		{"foreign_keys", "1"},
		{"user_version", "2"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.pragma(tt.name)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestOpen_MigratesOldDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "old.db")
	s, err := Open(path)
	require.NoError(t, err)
	_, err = s.db.Exec("DROP INDEX idx_transitions_node")
	require.NoError(t, err)
	_, err = s.db.Exec("DROP INDEX idx_runs_started")
	require.NoError(t, err)
	_, err = s.db.Exec("PRAGMA user_version = 0")
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()

	for _, index := range []string{"idx_transitions_node", "idx_runs_started"} {
		var n int
		err := s.db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type = 'index' AND name = ?`, index).Scan(&n)
		require.NoError(t, err)
		assert.Equal(t, 1, n, index)
	}
	v, err := s.pragma("user_version")
	require.NoError(t, err)
	assert.Equal(t, "2", v)
}

// A database at version 1 only gets the migrations after it.
func TestOpen_SkipsAppliedMigrations(t *testing.T) {
	path := filepath.Join(t.TempDir(), "v1.db")
	s, err := Open(path)
	require.NoError(t, err)
	_, err = s.db.Exec("DROP INDEX idx_transitions_node")
	require.NoError(t, err)
	_, err = s.db.Exec("PRAGMA user_version = 1")
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()

	var n int
	require.NoError(t, s.db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type = 'index' AND name = 'idx_transitions_node'`).Scan(&n))
	assert.Equal(t, 0, n)
}

func TestStore_BeginRunKeepsFirstStart(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	first := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

	ok, err := s.HasRun(ctx, "run-a")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.BeginRun(ctx, "run-a", first))
	require.NoError(t, s.BeginRun(ctx, "run-a", first.Add(time.Hour)))

	ok, err = s.HasRun(ctx, "run-a")
	require.NoError(t, err)
	assert.True(t, ok)
	runs, err := s.Runs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []RunRow{{RunID: "run-a", StartedAt: "2026-03-01T08:00:00Z"}}, runs)
}

func TestStore_RunsInStartOrder(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	t0 := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

	require.NoError(t, s.BeginRun(ctx, "scenario-b", t0))
	require.NoError(t, s.BeginRun(ctx, "scenario-a", t0.Add(time.Minute)))

	runs, err := s.Runs(ctx)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "scenario-b", runs[0].RunID)
	assert.Equal(t, "scenario-a", runs[1].RunID)
}

func TestStore_LastSeqSpansPlansAndTransitions(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	last, err := s.LastSeq(ctx, "run-a")
	require.NoError(t, err)
	assert.Equal(t, int64(0), last)

	recordRun(t, s, "run-a")
	rows, err := s.Transitions(ctx, "run-a")
	require.NoError(t, err)
	last, err = s.LastSeq(ctx, "run-a")
	require.NoError(t, err)
	assert.Equal(t, rows[len(rows)-1].Seq, last)
}

func TestClose_NilDB(t *testing.T) {
	s := &Store{}
	assert.NoError(t, s.Close())
}
