package graph

import (
	"context"
	"sort"

	"github.com/roach88/traceledger/internal/errs"
	"github.com/roach88/traceledger/internal/model"
)

// ImpactScope grades how far a change reaches.
type ImpactScope string

const (
	ScopeLow      ImpactScope = "low"
	ScopeMedium   ImpactScope = "medium"
	ScopeHigh     ImpactScope = "high"
	ScopeCritical ImpactScope = "critical"
)

// ScopeFor grades an affected-entity count against t.
func ScopeFor(count int, t Thresholds) ImpactScope {
	switch {
	case count < t.Low:
		return ScopeLow
	case count < t.Medium:
		return ScopeMedium
	case count < t.High:
		return ScopeHigh
	default:
		return ScopeCritical
	}
}

// AffectedEntity is one entity reachable from the changed entity. Depth,
// LinkType and Path describe the shallowest route found.
type AffectedEntity struct {
	Entity   model.EntityRef   `json:"entity"`
	Depth    int               `json:"depth"`
	LinkType model.LinkType    `json:"link_type"`
	Path     []model.EntityRef `json:"path"`
}

// ImpactReport summarizes what a change to one entity may affect. Found has
// the same meaning as on TraceResult.
type ImpactReport struct {
	Entity            model.EntityRef  `json:"entity"`
	Found             bool             `json:"found"`
	ChangeDescription string           `json:"change_description"`
	Affected          []AffectedEntity `json:"affected"`
	TotalAffected     int              `json:"total_affected"`
	CountByType       map[string]int   `json:"count_by_type"`
	Scope             ImpactScope      `json:"scope"`
	CycleDetected     bool             `json:"cycle_detected"`
	Truncated         bool             `json:"truncated"`
	TruncatedReason   string           `json:"truncated_reason,omitempty"`
}

// ImpactAnalysis traces forward from entity and grades the number of
// distinct entities reached.
func (s *Service) ImpactAnalysis(ctx context.Context, entity model.EntityRef, changeDescription string) (*ImpactReport, error) {
	if entity.IsZero() {
		return nil, errs.Validation("entity type and id are required")
	}

	res, err := s.walk(ctx, entity, Forward, s.opts.ImpactDepth)
	if err != nil {
		return nil, err
	}
	found, err := s.known(ctx, entity)
	if err != nil {
		return nil, err
	}

	report := &ImpactReport{
		Entity:            entity,
		Found:             found,
		ChangeDescription: changeDescription,
		Affected:          []AffectedEntity{},
		CountByType:       map[string]int{},
		CycleDetected:     res.CycleDetected,
		Truncated:         res.Truncated,
		TruncatedReason:   string(res.TruncatedReason),
	}

	seen := map[model.EntityRef]bool{entity: true}
	for _, n := range res.Flatten() {
		if seen[n.Key] {
			continue
		}
		seen[n.Key] = true
		report.Affected = append(report.Affected, AffectedEntity{
			Entity:   n.Key,
			Depth:    n.Depth,
			LinkType: n.Via.Meta.LinkType,
			Path:     n.Path(),
		})
		report.CountByType[n.Key.Type]++
	}
	sort.SliceStable(report.Affected, func(i, j int) bool {
		return report.Affected[i].Depth < report.Affected[j].Depth
	})

	report.TotalAffected = len(report.Affected)
	report.Scope = ScopeFor(report.TotalAffected, s.opts.Thresholds)
	return report, nil
}
