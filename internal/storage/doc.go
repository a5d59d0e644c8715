// Package storage persists queued mail jobs and the scheduler's pending
// tasks.
//
// Jobs are opaque payloads addressed by id. Tasks are (id, run_at, args)
// triples the scheduler fires once run_at has passed. Drivers:
//   - memory:   process-local maps (tests, one-shot CLI sends)
//   - file:     JSON snapshot + append-only journal
//   - sqlite:   modernc.org/sqlite (pure Go)
//   - postgres: pgx connection pool
package storage
