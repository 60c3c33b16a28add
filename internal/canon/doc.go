// Package canon provides the canonical value model used for audit payloads
// and snapshots, together with the one serialization used for hashing.
//
// Values are a closed set: Null, String, Int, Float, Bool, Array and Object.
// Object keys are ordered by UTF-16 code units (RFC 8785), strings are NFC
// normalized at the serialization boundary, and floats are written in the
// shortest round-trip ECMAScript form. Two values that serialize to the same
// canonical bytes are considered equal.
//
// canon imports nothing internal.
package canon
