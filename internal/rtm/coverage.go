package rtm

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/roach88/traceledger/internal/model"
)

// LinkCoverage is one evidence link with its live status.
type LinkCoverage struct {
	model.RequirementLink
	EntityStatus  model.EntityStatus       `json:"entity_status"`
	DerivedStatus model.VerificationStatus `json:"derived_status"`
}

// RequirementCoverage is one row of the matrix.
type RequirementCoverage struct {
	Requirement model.Requirement        `json:"requirement"`
	Status      model.VerificationStatus `json:"status"`
	Links       []LinkCoverage           `json:"links"`
}

// CategoryCoverage aggregates one category.
type CategoryCoverage struct {
	Total              int     `json:"total"`
	Verified           int     `json:"verified"`
	CoveragePercentage float64 `json:"coverage_percentage"`
}

// CoverageReport is the full matrix plus aggregates.
type CoverageReport struct {
	Requirements       []RequirementCoverage            `json:"requirements"`
	Total              int                              `json:"total"`
	ByStatus           map[model.VerificationStatus]int `json:"by_status"`
	CoveragePercentage float64                          `json:"coverage_percentage"`
	ByCategory         map[string]CategoryCoverage      `json:"by_category"`
	Gaps               []RequirementCoverage            `json:"gaps"`
}

// DeriveLinkStatus maps an entity status to a link verification status.
func DeriveLinkStatus(s model.EntityStatus) model.VerificationStatus {
	switch s {
	case model.EntityApproved:
		return model.StatusVerified
	case model.EntityPending:
		return model.StatusPartiallyVerified
	default:
		return model.StatusUnverified
	}
}

// DeriveRequirementStatus grades a requirement from its links: no links is
// not verified, all approved is verified, anything else is partial.
func DeriveRequirementStatus(links []LinkCoverage) model.VerificationStatus {
	if len(links) == 0 {
		return model.StatusNotVerified
	}
	for _, l := range links {
		if l.EntityStatus != model.EntityApproved {
			return model.StatusPartiallyVerified
		}
	}
	return model.StatusVerified
}

// Percentage returns part/total×100, or 0 for an empty total.
func Percentage(part, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(part) * 100 / float64(total)
}

// CoverageReport evaluates every requirement matching f against the live
// status of its evidence.
func (m *Matrix) CoverageReport(ctx context.Context, f model.RequirementFilter) (*CoverageReport, error) {
	reqs, err := m.ListRequirements(ctx, f)
	if err != nil {
		return nil, err
	}
	links, err := m.store.RequirementLinks(ctx)
	if err != nil {
		return nil, fmt.Errorf("coverage: %w", err)
	}

	report := &CoverageReport{
		Requirements: make([]RequirementCoverage, 0, len(reqs)),
		Total:        len(reqs),
		ByStatus: map[model.VerificationStatus]int{
			model.StatusVerified:          0,
			model.StatusPartiallyVerified: 0,
			model.StatusNotVerified:       0,
		},
		ByCategory: map[string]CategoryCoverage{},
		Gaps:       []RequirementCoverage{},
	}

	for _, r := range reqs {
		row := RequirementCoverage{Requirement: r, Links: []LinkCoverage{}}
		for _, l := range links[r.ID] {
			status := m.entityStatus(ctx, l.Entity)
			row.Links = append(row.Links, LinkCoverage{
				RequirementLink: l,
				EntityStatus:    status,
				DerivedStatus:   DeriveLinkStatus(status),
			})
		}
		row.Status = DeriveRequirementStatus(row.Links)

		report.Requirements = append(report.Requirements, row)
		report.ByStatus[row.Status]++

		cat := report.ByCategory[r.Category]
		cat.Total++
		if row.Status == model.StatusVerified {
			cat.Verified++
		} else {
			report.Gaps = append(report.Gaps, row)
		}
		report.ByCategory[r.Category] = cat
	}

	report.CoveragePercentage = Percentage(report.ByStatus[model.StatusVerified], report.Total)
	for name, cat := range report.ByCategory {
		cat.CoveragePercentage = Percentage(cat.Verified, cat.Total)
		report.ByCategory[name] = cat
	}
	sort.SliceStable(report.Gaps, func(i, j int) bool {
		a, b := report.Gaps[i].Requirement, report.Gaps[j].Requirement
		if a.Priority.Rank() != b.Priority.Rank() {
			return a.Priority.Rank() < b.Priority.Rank()
		}
		return a.Number < b.Number
	})
	return report, nil
}

// entityStatus asks the registered provider. Missing providers, provider
// errors and unrecognized answers all degrade to unknown.
func (m *Matrix) entityStatus(ctx context.Context, ref model.EntityRef) model.EntityStatus {
	p, ok := m.providers.Provider(ref.Type)
	if !ok {
		return model.EntityUnknown
	}
	status, err := p.EntityStatus(ctx, ref.Type, ref.ID)
	if err == nil {
		err = validEntityStatus(status)
	}
	if err != nil {
		m.logger.Warn("status provider failed",
			zap.String("entity", ref.String()),
			zap.Error(err),
		)
		return model.EntityUnknown
	}
	return status
}
