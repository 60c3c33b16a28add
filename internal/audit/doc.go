// Package audit implements the hash-chained audit event store.
//
// Every change to a business entity is appended as an AuditEvent carrying a
// global, gapless sequence number. Each event's checksum is
//
//	SHA256("traceledger/audit-event/v1" || 0x00 || canonical(fields) || previous_checksum)
//
// where canonical(fields) is the RFC 8785 serialization of every field except
// the checksum itself. The first event chains to GenesisChecksum. Because
// each checksum covers its predecessor, altering or removing any stored
// event is detectable by VerifyIntegrity.
//
// Appends are serialized: one mutex guards the sequencer and the store's
// write transaction, so sequence assignment, hashing and insertion form a
// single critical section. Reads never take the mutex.
//
// State at any instant is derived, never stored: ReconstructState folds an
// entity's events up to the requested time.
package audit
