// Package integrity schedules and escalates hash-chain verification.
//
// The Verifier splits a sequence range into windows, verifies them
// concurrently (each window anchored on the stored checksum of the event
// before it), merges the findings in sequence order and hands the report to
// every registered Sink. Findings are reported, never repaired.
package integrity
