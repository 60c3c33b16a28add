package model

import "time"

// CustodyEventType is the kind of custody hand-off.
type CustodyEventType string

const (
	CustodyReceived    CustodyEventType = "received"
	CustodyTransferred CustodyEventType = "transferred"
	CustodyReturned    CustodyEventType = "returned"
	CustodyDisposed    CustodyEventType = "disposed"
)

// ValidCustodyEventTypes lists the accepted custody event types.
var ValidCustodyEventTypes = map[CustodyEventType]bool{
	CustodyReceived:    true,
	CustodyTransferred: true,
	CustodyReturned:    true,
	CustodyDisposed:    true,
}

// CustodyEvent records a physical item moving between holders and places.
// Position is the 1-based index within the entity's chain.
type CustodyEvent struct {
	ID              string           `json:"id"`
	Entity          EntityRef        `json:"entity"`
	Identifier      string           `json:"identifier"`
	EventType       CustodyEventType `json:"event_type"`
	FromActor       string           `json:"from_actor,omitempty"`
	ToActor         string           `json:"to_actor"`
	FromLocation    string           `json:"from_location,omitempty"`
	ToLocation      string           `json:"to_location"`
	ConditionBefore string           `json:"condition_before,omitempty"`
	ConditionAfter  string           `json:"condition_after,omitempty"`
	Timestamp       time.Time        `json:"timestamp"`
	IntegrityCheck  bool             `json:"integrity_check"`
	Position        int              `json:"position"`
}
