// Package store records executive traces in SQLite.
//
// A Recorder is an exec.Listener. It appends one row per committed node
// transition, per plan or library added and per step, all keyed by the
// run id of the executive. The tables are append-only:
//   - plans: plans and libraries in the order they were added
//   - transitions: node state changes in commit order
//   - steps: one summary per Step call
//
// # Ordering
//
// Every row carries seq, a per-run counter assigned by the recorder in
// event order. Queries order by seq, never by wall time, so a trace reads
// back in exactly the order the executive produced it.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
package store
