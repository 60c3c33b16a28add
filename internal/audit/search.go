package audit

import (
	"context"
	"fmt"

	"github.com/roach88/traceledger/internal/errs"
	"github.com/roach88/traceledger/internal/model"
)

// Search returns one page of events matching f, newest first unless the
// page asks for ascending order.
func (s *Service) Search(ctx context.Context, f model.EventFilter, p model.Page) (model.EventPage, error) {
	if err := validateFilter(f); err != nil {
		return model.EventPage{}, err
	}
	if p.Limit < 0 || p.Offset < 0 {
		return model.EventPage{}, errs.Validation("limit and offset must not be negative")
	}
	page, err := s.store.SearchEvents(ctx, f, p)
	if err != nil {
		return model.EventPage{}, fmt.Errorf("search: %w", err)
	}
	return page, nil
}

// History returns every event for ref in sequence order.
func (s *Service) History(ctx context.Context, ref model.EntityRef) ([]model.AuditEvent, error) {
	if ref.IsZero() {
		return nil, errs.Validation("entity type and id are required")
	}
	return s.store.EntityEvents(ctx, ref, nil)
}

func validateFilter(f model.EventFilter) error {
	if f.Action != "" && !model.ValidActions[f.Action] {
		return errs.ValidationField("action", "unknown action %q", f.Action)
	}
	if f.Since != nil && f.Until != nil && f.Until.Before(*f.Since) {
		return errs.Validation("until must not be before since")
	}
	if f.FromSeq < 0 || f.ToSeq < 0 {
		return errs.Validation("sequence bounds must not be negative")
	}
	if f.ToSeq > 0 && f.ToSeq < f.FromSeq {
		return errs.Validation("to_sequence must not be before from_sequence")
	}
	if f.EntityID != "" && f.EntityType == "" {
		return errs.ValidationField("entity_type", "entity_id requires entity_type")
	}
	return nil
}
