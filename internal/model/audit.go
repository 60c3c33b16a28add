package model

import (
	"time"

	"github.com/roach88/traceledger/internal/canon"
)

// Action is the kind of change recorded by an audit event.
type Action string

const (
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// ValidActions lists the accepted actions.
var ValidActions = map[Action]bool{
	ActionCreate: true,
	ActionUpdate: true,
	ActionDelete: true,
}

// EventContext carries the who/where/why of a change. Reason is mandatory
// at append time.
type EventContext struct {
	IP       string `json:"ip_address,omitempty"`
	Device   string `json:"device,omitempty"`
	Location string `json:"location,omitempty"`
	Reason   string `json:"reason"`
}

// AuditEvent is one immutable entry in the hash-chained audit log.
//
// Sequence is global, gapless and strictly increasing. Checksum covers every
// other field plus PreviousChecksum, so altering any stored byte is
// detectable.
type AuditEvent struct {
	Sequence         int64        `json:"sequence"`
	EntityType       string       `json:"entity_type"`
	EntityID         string       `json:"entity_id"`
	ActorID          string       `json:"actor_id"`
	Action           Action       `json:"action"`
	Timestamp        time.Time    `json:"timestamp"`
	OldValues        canon.Object `json:"old_values"`
	NewValues        canon.Object `json:"new_values"`
	Context          EventContext `json:"context"`
	Checksum         string       `json:"checksum"`
	PreviousChecksum string       `json:"previous_checksum"`
}

// Entity returns the event's entity reference.
func (e AuditEvent) Entity() EntityRef {
	return EntityRef{Type: e.EntityType, ID: e.EntityID}
}

// EventFilter selects audit events. Zero fields do not constrain.
type EventFilter struct {
	EntityType string     `json:"entity_type,omitempty"`
	EntityID   string     `json:"entity_id,omitempty"`
	ActorID    string     `json:"actor_id,omitempty"`
	Action     Action     `json:"action,omitempty"`
	Since      *time.Time `json:"since,omitempty"`
	Until      *time.Time `json:"until,omitempty"`
	FromSeq    int64      `json:"from_sequence,omitempty"`
	ToSeq      int64      `json:"to_sequence,omitempty"`
}

// Page requests a slice of results. Limit 0 means the store default.
type Page struct {
	Limit     int  `json:"limit"`
	Offset    int  `json:"offset"`
	Ascending bool `json:"ascending"`
}

// EventPage is a page of audit events plus the total match count.
type EventPage struct {
	Events []AuditEvent `json:"events"`
	Total  int          `json:"total"`
	Limit  int          `json:"limit"`
	Offset int          `json:"offset"`
}

// ChainHead is the latest event's position in the chain. A zero Sequence
// means the log is empty.
type ChainHead struct {
	Sequence int64
	Checksum string
}
