package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/roach88/traceledger/internal/canon"
	"github.com/roach88/traceledger/internal/errs"
	"github.com/roach88/traceledger/internal/model"
)

// EntityState is an entity's state derived from its audit events.
type EntityState struct {
	Entity       model.EntityRef `json:"entity"`
	AsOf         time.Time       `json:"as_of"`
	Exists       bool            `json:"exists"`
	Fields       canon.Object    `json:"fields"`
	LastSequence int64           `json:"last_sequence"`
	LastAction   model.Action    `json:"last_action"`
	EventCount   int             `json:"event_count"`
}

// ReconstructState folds every event for ref stamped at or before at, in
// sequence order. A zero at means now.
//
// The fold: create replaces the state with the new values; update applies
// the new values and drops fields that appear only in the old values;
// delete leaves the entity non-existent until a later create, so updates
// after a delete change nothing. An update with no earlier event at all
// starts from empty fields and marks the entity as existing.
//
// An entity with no events at or before at returns errs.ErrNotFound.
func (s *Service) ReconstructState(ctx context.Context, ref model.EntityRef, at time.Time) (*EntityState, error) {
	if ref.IsZero() {
		return nil, errs.Validation("entity type and id are required")
	}
	if at.IsZero() {
		at = s.now()
	}
	at = at.UTC()

	events, err := s.store.EntityEvents(ctx, ref, &at)
	if err != nil {
		return nil, fmt.Errorf("reconstruct %s: %w", ref, err)
	}
	if len(events) == 0 {
		return nil, errs.NotFound("entity state", ref.String()+" at "+at.Format(time.RFC3339Nano))
	}

	state := Fold(events)
	state.Entity = ref
	state.AsOf = at
	return state, nil
}

// Fold applies events, assumed sorted by sequence, to an empty state.
func Fold(events []model.AuditEvent) *EntityState {
	state := &EntityState{Fields: canon.Object{}}
	deleted := false
	for _, ev := range events {
		switch ev.Action {
		case model.ActionCreate:
			state.Fields = ev.NewValues.Clone()
			state.Exists = true
			deleted = false
		case model.ActionUpdate:
			if deleted {
				break
			}
			if state.Fields == nil {
				state.Fields = canon.Object{}
			}
			for k := range ev.OldValues {
				if _, kept := ev.NewValues[k]; !kept {
					delete(state.Fields, k)
				}
			}
			for k, v := range ev.NewValues {
				state.Fields[k] = v
			}
			state.Exists = true
		case model.ActionDelete:
			state.Fields = canon.Object{}
			state.Exists = false
			deleted = true
		}
		state.LastSequence = ev.Sequence
		state.LastAction = ev.Action
		state.EventCount++
	}
	return state
}
