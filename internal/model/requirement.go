package model

import "time"

// Priority ranks requirements for gap reporting.
type Priority string

const (
	PriorityCritical Priority = "critical"
	PriorityHigh     Priority = "high"
	PriorityMedium   Priority = "medium"
	PriorityLow      Priority = "low"
)

var priorityRank = map[Priority]int{
	PriorityCritical: 1,
	PriorityHigh:     2,
	PriorityMedium:   3,
	PriorityLow:      4,
}

// Rank orders priorities critical (1) to low (4). Unknown priorities sort last.
func (p Priority) Rank() int {
	if r, ok := priorityRank[p]; ok {
		return r
	}
	return len(priorityRank) + 1
}

// Valid reports whether p is a known priority.
func (p Priority) Valid() bool {
	_, ok := priorityRank[p]
	return ok
}

// VerificationStatus is the coverage state of a requirement or evidence link.
type VerificationStatus string

const (
	StatusUnverified        VerificationStatus = "unverified"
	StatusNotVerified       VerificationStatus = "not_verified"
	StatusPartiallyVerified VerificationStatus = "partially_verified"
	StatusVerified          VerificationStatus = "verified"
)

// EntityStatus is the approval state a business module reports for an entity.
type EntityStatus string

const (
	EntityApproved EntityStatus = "approved"
	EntityPending  EntityStatus = "pending"
	EntityRejected EntityStatus = "rejected"
	EntityUnknown  EntityStatus = "unknown"
)

// Requirement is a regulatory or user requirement tracked by the RTM.
type Requirement struct {
	ID        string    `json:"id"`
	Number    string    `json:"number"`
	Title     string    `json:"title"`
	Source    string    `json:"source"`
	Category  string    `json:"category"`
	Priority  Priority  `json:"priority"`
	CreatedAt time.Time `json:"created_at"`
}

// RequirementLink binds a requirement to an evidence entity.
type RequirementLink struct {
	ID                 string             `json:"id"`
	RequirementID      string             `json:"requirement_id"`
	Entity             EntityRef          `json:"entity"`
	VerificationMethod string             `json:"verification_method"`
	Status             VerificationStatus `json:"status"`
	CreatedAt          time.Time          `json:"created_at"`
}

// RequirementFilter selects requirements. Zero fields do not constrain.
type RequirementFilter struct {
	Category string   `json:"category,omitempty"`
	Priority Priority `json:"priority,omitempty"`
	Source   string   `json:"source,omitempty"`
}
