package custody

import (
	"context"
	"fmt"

	"github.com/roach88/traceledger/internal/errs"
	"github.com/roach88/traceledger/internal/model"
)

// Entry is a stored event annotated with whether it continues the event
// before it.
type Entry struct {
	model.CustodyEvent
	ContinuityHeld bool `json:"continuity_held"`
}

// Chain is an entity's full custody history with a summary.
type Chain struct {
	Entity                   model.EntityRef `json:"entity"`
	Events                   []Entry         `json:"events"`
	CurrentHolder            string          `json:"current_holder"`
	CurrentLocation          string          `json:"current_location"`
	Disposed                 bool            `json:"disposed"`
	AllIntegrityChecksPassed bool            `json:"all_integrity_checks_passed"`
	ContinuityIntact         bool            `json:"continuity_intact"`
}

// GetChain returns the custody chain of entity in order. An entity with no
// custody events returns errs.ErrNotFound.
func (l *Ledger) GetChain(ctx context.Context, entity model.EntityRef) (*Chain, error) {
	if entity.IsZero() {
		return nil, errs.Validation("entity type and id are required")
	}
	events, err := l.store.CustodyChain(ctx, entity)
	if err != nil {
		return nil, fmt.Errorf("custody chain %s: %w", entity, err)
	}
	if len(events) == 0 {
		return nil, errs.NotFound("custody chain", entity.String())
	}
	return Annotate(entity, events), nil
}

// Annotate builds a Chain from events ordered by position.
func Annotate(entity model.EntityRef, events []model.CustodyEvent) *Chain {
	c := &Chain{
		Entity:                   entity,
		Events:                   make([]Entry, len(events)),
		AllIntegrityChecksPassed: true,
		ContinuityIntact:         true,
	}
	for i, ev := range events {
		held := true
		if i > 0 {
			prev := events[i-1]
			held = ev.FromActor == prev.ToActor && ev.FromLocation == prev.ToLocation
		}
		c.Events[i] = Entry{CustodyEvent: ev, ContinuityHeld: held}
		if !held {
			c.ContinuityIntact = false
		}
		if !ev.IntegrityCheck {
			c.AllIntegrityChecksPassed = false
		}
	}

	if len(events) == 0 {
		return c
	}
	last := events[len(events)-1]
	c.CurrentHolder = last.ToActor
	c.CurrentLocation = last.ToLocation
	c.Disposed = last.EventType == model.CustodyDisposed
	return c
}
