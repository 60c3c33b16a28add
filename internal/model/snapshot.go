package model

import (
	"time"

	"github.com/roach88/traceledger/internal/canon"
)

// Snapshot is a versioned copy of an entity's state. Versions start at 1
// and increase by one per entity.
type Snapshot struct {
	ID        string       `json:"id"`
	Entity    EntityRef    `json:"entity"`
	Version   int64        `json:"version"`
	Data      canon.Object `json:"data"`
	Trigger   string       `json:"trigger"`
	CreatedBy string       `json:"created_by,omitempty"`
	CreatedAt time.Time    `json:"created_at"`
}
