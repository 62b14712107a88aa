// Package store provides SQLite-backed durable storage for converge evidence.
//
// The store is an append-only log with two tables:
//   - ir_builds: one row per compiled converge IR (summary, digests, IR JSON)
//   - converge_decisions: one row per converge invocation (the full decision)
//
// # Critical Patterns
//
// Idempotent writes
//   - Builds are unique on (module, generation, digests); decisions on txn_id
//   - Re-publishing the same evidence is a no-op
//
// Logical ordering
//   - seq INTEGER is the only ordering key, NEVER timestamps
//   - All reads ORDER BY seq ASC, so trace output is stable across runs
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - Schema versioning through PRAGMA user_version
package store
