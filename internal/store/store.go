package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"net/url"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

// migration upgrades a trace database to version. Migrations run in
// order, each in its own transaction, for every version above the
// database's user_version.
type migration struct {
	version int
	name    string
	stmt    string
}

var migrations = []migration{
	{
		version: 1,
		name:    "index transitions by node",
		stmt:    `CREATE INDEX IF NOT EXISTS idx_transitions_node ON transitions(run_id, node_id)`,
	},
	{
		version: 2,
		name:    "index runs by start time",
		stmt:    `CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at)`,
	},
}

// schemaVersion is the user_version of a fully migrated trace database.
var schemaVersion = migrations[len(migrations)-1].version

// Store is the SQLite trace database. Each executive run owns the rows
// keyed by its run id: one runs row, then plans and transitions numbered
// by one sequence, and one steps row per step.
type Store struct {
	db *sql.DB
}

// Open opens the trace database at path, creating it if needed, and
// brings its schema up to date. Reopening an existing database is safe.
//
// The connection settings travel in the DSN so that every connection the
// pool opens gets them: WAL journaling so "plexec trace" can read while a
// run writes, NORMAL sync, a 5s busy timeout and foreign keys.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", dsn(path))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	// One writer: the recorder serializes its own writes, and SQLite
	// would serialize them anyway.
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.migrate(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func dsn(path string) string {
	q := url.Values{}
	q.Set("_journal_mode", "WAL")
	q.Set("_synchronous", "NORMAL")
	q.Set("_busy_timeout", "5000")
	q.Set("_foreign_keys", "on")
	return path + "?" + q.Encode()
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	var version int
	if err := s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	for _, m := range migrations {
		if m.version <= version {
			continue
		}
		err := s.inTx(ctx, func(tx *sql.Tx) error {
			if _, err := tx.ExecContext(ctx, m.stmt); err != nil {
				return err
			}
			// PRAGMA takes no parameters.
			_, err := tx.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", m.version))
			return err
		})
		if err != nil {
			return fmt.Errorf("migrate to v%d (%s): %w", m.version, m.name, err)
		}
	}
	return nil
}

func (s *Store) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		return errors.Join(err, tx.Rollback())
	}
	return tx.Commit()
}

// BeginRun records that runID started at startedAt. A run that is
// already recorded keeps its original start time.
func (s *Store) BeginRun(ctx context.Context, runID string, startedAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (run_id, started_at) VALUES (?, ?)
		ON CONFLICT(run_id) DO NOTHING
	`, runID, startedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("begin run %s: %w", runID, err)
	}
	return nil
}

// HasRun reports whether runID was recorded.
func (s *Store) HasRun(ctx context.Context, runID string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM runs WHERE run_id = ?`, runID).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("look up run %s: %w", runID, err)
	}
	return n > 0, nil
}

// LastSeq returns the highest sequence number used by runID's plans and
// transitions, or 0 for a run with neither.
func (s *Store) LastSeq(ctx context.Context, runID string) (int64, error) {
	var last int64
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(seq), 0) FROM (
			SELECT seq FROM plans WHERE run_id = ?
			UNION ALL
			SELECT seq FROM transitions WHERE run_id = ?
		)
	`, runID, runID).Scan(&last)
	if err != nil {
		return 0, fmt.Errorf("last seq of run %s: %w", runID, err)
	}
	return last, nil
}

// pragma returns the current value of a connection setting.
func (s *Store) pragma(name string) (string, error) {
	var v string
	if err := s.db.QueryRow("PRAGMA " + name).Scan(&v); err != nil {
		return "", fmt.Errorf("query %s: %w", name, err)
	}
	return v, nil
}
