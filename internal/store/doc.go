// Package store provides SQLite-backed durable storage for the six ledger
// stores: audit events, traceability links, lineage edges, requirements
// (with evidence links), custody events and snapshots.
//
// # Invariants
//
// Append-only:
//   - Triggers reject UPDATE and DELETE on audit_events, lineage_edges,
//     custody_events and entity_snapshots
//   - traceability_links may only flip active from 1 to 0
//
// Deterministic reads:
//   - Every multi-row query has an ORDER BY with a unique tiebreaker
//   - Empty results are empty slices, never nil
//
// Atomic writes:
//   - Each write is one transaction; validation that depends on stored
//     state (chain head, custody continuity, next snapshot version) runs
//     inside that transaction
//
// # Database Configuration
//
//   - WAL mode: readers proceed while the single writer commits
//   - synchronous=NORMAL
//   - busy_timeout=5000: wait up to 5 seconds for the write lock
//   - foreign_keys=ON
//   - _txlock=immediate: write transactions take the lock at BEGIN, so
//     read-check-insert sequences cannot interleave
//
// Pragmas are passed in the DSN so every pooled connection gets them.
package store
