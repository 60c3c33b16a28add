package model

import "time"

// Stage is a data refinement tier.
type Stage string

const (
	StageBronze Stage = "bronze"
	StageSilver Stage = "silver"
	StageGold   Stage = "gold"
)

var stageRank = map[Stage]int{
	StageBronze: 1,
	StageSilver: 2,
	StageGold:   3,
}

// Rank orders stages bronze < silver < gold. Unknown stages rank 0.
func (s Stage) Rank() int {
	return stageRank[s]
}

// Valid reports whether s is a known stage.
func (s Stage) Valid() bool {
	return stageRank[s] > 0
}

// ValidationStatus is the outcome of validating a transformation's output.
type ValidationStatus string

const (
	ValidationPending ValidationStatus = "pending"
	ValidationPassed  ValidationStatus = "passed"
	ValidationFailed  ValidationStatus = "failed"
)

// ValidValidationStatuses lists the accepted validation statuses.
var ValidValidationStatuses = map[ValidationStatus]bool{
	ValidationPending: true,
	ValidationPassed:  true,
	ValidationFailed:  true,
}

// LineageNode is an entity at a given stage.
type LineageNode struct {
	EntityType string `json:"entity_type" yaml:"type"`
	EntityID   string `json:"entity_id" yaml:"id"`
	Stage      Stage  `json:"stage" yaml:"stage"`
}

// Entity returns the node's entity reference.
func (n LineageNode) Entity() EntityRef {
	return EntityRef{Type: n.EntityType, ID: n.EntityID}
}

// String renders the node as "type/id@stage".
func (n LineageNode) String() string {
	return n.EntityType + "/" + n.EntityID + "@" + string(n.Stage)
}

// LineageEdge records one transformation from a source node to a target node.
type LineageEdge struct {
	ID                  string           `json:"id"`
	Source              LineageNode      `json:"source"`
	Target              LineageNode      `json:"target"`
	TransformationType  string           `json:"transformation_type"`
	TransformationLogic string           `json:"transformation_logic,omitempty"`
	QualityScore        float64          `json:"quality_score"`
	ValidationStatus    ValidationStatus `json:"validation_status"`
	StageRegression     bool             `json:"stage_regression"`
	Timestamp           time.Time        `json:"timestamp"`
}
