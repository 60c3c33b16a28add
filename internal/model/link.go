package model

import "time"

// LinkType is the relationship a traceability link asserts.
type LinkType string

const (
	LinkParent      LinkType = "parent"
	LinkChild       LinkType = "child"
	LinkDerivesFrom LinkType = "derives_from"
	LinkReferences  LinkType = "references"
	LinkImplements  LinkType = "implements"
	LinkSupports    LinkType = "supports"
)

// ValidLinkTypes lists the accepted link types.
var ValidLinkTypes = map[LinkType]bool{
	LinkParent:      true,
	LinkChild:       true,
	LinkDerivesFrom: true,
	LinkReferences:  true,
	LinkImplements:  true,
	LinkSupports:    true,
}

// TraceabilityLink is a typed directed edge between two entities. Links are
// never deleted; deactivation flips Active and records who and when.
type TraceabilityLink struct {
	ID            string     `json:"id"`
	Source        EntityRef  `json:"source"`
	Target        EntityRef  `json:"target"`
	LinkType      LinkType   `json:"link_type"`
	Description   string     `json:"description,omitempty"`
	CreatedBy     string     `json:"created_by"`
	CreatedAt     time.Time  `json:"created_at"`
	Active        bool       `json:"active"`
	DeactivatedBy string     `json:"deactivated_by,omitempty"`
	DeactivatedAt *time.Time `json:"deactivated_at,omitempty"`
}
