package audit

import (
	"fmt"
	"strings"
	"time"

	"github.com/roach88/traceledger/internal/canon"
	"github.com/roach88/traceledger/internal/model"
)

// HashDomain is the domain-separation prefix for event checksums. The
// version suffix allows a future algorithm change to coexist with old chains.
const HashDomain = "traceledger/audit-event/v1"

// HashAlgorithm names the digest used for checksums.
const HashAlgorithm = "sha256"

// GenesisChecksum is the previous checksum of the first event in the log.
var GenesisChecksum = strings.Repeat("0", 64)

// CanonicalFields returns the hashed view of ev: every field except the
// checksum, as a canonical Object.
func CanonicalFields(ev model.AuditEvent) canon.Object {
	return canon.Object{
		"sequence":          canon.Int(ev.Sequence),
		"entity_type":       canon.String(ev.EntityType),
		"entity_id":         canon.String(ev.EntityID),
		"actor_id":          canon.String(ev.ActorID),
		"action":            canon.String(string(ev.Action)),
		"timestamp":         canon.String(ev.Timestamp.UTC().Format(time.RFC3339Nano)),
		"old_values":        orEmpty(ev.OldValues),
		"new_values":        orEmpty(ev.NewValues),
		"previous_checksum": canon.String(ev.PreviousChecksum),
		"context": canon.Object{
			"ip_address": canon.String(ev.Context.IP),
			"device":     canon.String(ev.Context.Device),
			"location":   canon.String(ev.Context.Location),
			"reason":     canon.String(ev.Context.Reason),
		},
	}
}

// ComputeChecksum returns the checksum ev should carry given its fields and
// its PreviousChecksum. ev.Checksum is ignored.
func ComputeChecksum(ev model.AuditEvent) (string, error) {
	data, err := canon.Marshal(CanonicalFields(ev))
	if err != nil {
		return "", fmt.Errorf("checksum for event %d: %w", ev.Sequence, err)
	}
	return canon.HashWithDomain(HashDomain, data, []byte(ev.PreviousChecksum)), nil
}

func orEmpty(obj canon.Object) canon.Object {
	if obj == nil {
		return canon.Object{}
	}
	return obj
}
