// Package rtm is the requirements traceability matrix: requirements, the
// evidence entities linked to them, and coverage derived from the live
// approval status of that evidence.
package rtm

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/roach88/traceledger/internal/errs"
	"github.com/roach88/traceledger/internal/model"
	"github.com/roach88/traceledger/internal/store"
)

// RequirementStore is the RTM persistence. *store.Store implements it.
type RequirementStore interface {
	WriteRequirement(ctx context.Context, r model.Requirement) error
	ReadRequirement(ctx context.Context, id string) (model.Requirement, error)
	ListRequirements(ctx context.Context, f model.RequirementFilter) ([]model.Requirement, error)
	WriteRequirementLink(ctx context.Context, l model.RequirementLink) error
	RequirementLinks(ctx context.Context) (map[string][]model.RequirementLink, error)
}

// Matrix is the RTM service.
type Matrix struct {
	store     RequirementStore
	providers *ProviderRegistry
	ids       model.IDGenerator
	now       func() time.Time
	logger    *zap.Logger
}

// Option configures a Matrix.
type Option func(*Matrix)

// WithIDGenerator sets the ID generator for requirements and links.
func WithIDGenerator(g model.IDGenerator) Option {
	return func(m *Matrix) { m.ids = g }
}

// WithClock sets the clock used for creation timestamps.
func WithClock(now func() time.Time) Option {
	return func(m *Matrix) { m.now = now }
}

// WithLogger sets the structured logger.
func WithLogger(l *zap.Logger) Option {
	return func(m *Matrix) {
		if l != nil {
			m.logger = l
		}
	}
}

// New creates a Matrix. A nil registry gets an empty one, in which case
// every entity reports unknown.
func New(st RequirementStore, providers *ProviderRegistry, options ...Option) *Matrix {
	if providers == nil {
		providers = NewProviderRegistry()
	}
	m := &Matrix{
		store:     st,
		providers: providers,
		ids:       model.UUIDv7Generator{},
		now:       time.Now,
		logger:    zap.NewNop(),
	}
	for _, o := range options {
		o(m)
	}
	return m
}

// Providers returns the registry used for status lookups.
func (m *Matrix) Providers() *ProviderRegistry {
	return m.providers
}

// CreateRequirementRequest describes a new requirement.
type CreateRequirementRequest struct {
	Number   string         `json:"number"`
	Title    string         `json:"title"`
	Source   string         `json:"source"`
	Category string         `json:"category"`
	Priority model.Priority `json:"priority"`
}

// Validate checks the request without touching the store.
func (r CreateRequirementRequest) Validate() error {
	switch {
	case strings.TrimSpace(r.Number) == "":
		return errs.ValidationField("number", "requirement number is required")
	case strings.TrimSpace(r.Title) == "":
		return errs.ValidationField("title", "title is required")
	case strings.TrimSpace(r.Category) == "":
		return errs.ValidationField("category", "category is required")
	case !r.Priority.Valid():
		return errs.ValidationField("priority", "priority %q must be one of critical, high, medium, low", r.Priority)
	}
	return nil
}

// CreateRequirement stores a requirement. Numbers are unique.
func (m *Matrix) CreateRequirement(ctx context.Context, req CreateRequirementRequest) (model.Requirement, error) {
	if err := req.Validate(); err != nil {
		return model.Requirement{}, err
	}
	r := model.Requirement{
		ID:        m.ids.Generate(),
		Number:    req.Number,
		Title:     req.Title,
		Source:    req.Source,
		Category:  req.Category,
		Priority:  req.Priority,
		CreatedAt: m.now().UTC(),
	}
	if err := m.store.WriteRequirement(ctx, r); err != nil {
		if errors.Is(err, store.ErrDuplicateRequirement) {
			return model.Requirement{}, errs.ValidationField("number", "requirement %s already exists", req.Number)
		}
		return model.Requirement{}, err
	}
	return r, nil
}

// GetRequirement returns a requirement by id.
func (m *Matrix) GetRequirement(ctx context.Context, id string) (model.Requirement, error) {
	return m.store.ReadRequirement(ctx, id)
}

// ListRequirements returns requirements matching f ordered by number.
func (m *Matrix) ListRequirements(ctx context.Context, f model.RequirementFilter) ([]model.Requirement, error) {
	if f.Priority != "" && !f.Priority.Valid() {
		return nil, errs.ValidationField("priority", "unknown priority %q", f.Priority)
	}
	return m.store.ListRequirements(ctx, f)
}

// LinkEvidence binds entity to a requirement as evidence. The stored
// status starts unverified; coverage derives live status on demand.
func (m *Matrix) LinkEvidence(ctx context.Context, requirementID string, entity model.EntityRef, method string) (model.RequirementLink, error) {
	switch {
	case strings.TrimSpace(requirementID) == "":
		return model.RequirementLink{}, errs.ValidationField("requirement_id", "requirement id is required")
	case entity.IsZero():
		return model.RequirementLink{}, errs.ValidationField("entity", "entity type and id are required")
	case strings.TrimSpace(method) == "":
		return model.RequirementLink{}, errs.ValidationField("verification_method", "verification method is required")
	}

	l := model.RequirementLink{
		ID:                 m.ids.Generate(),
		RequirementID:      requirementID,
		Entity:             entity,
		VerificationMethod: method,
		Status:             model.StatusUnverified,
		CreatedAt:          m.now().UTC(),
	}
	if err := m.store.WriteRequirementLink(ctx, l); err != nil {
		if errors.Is(err, store.ErrDuplicateEvidence) {
			return model.RequirementLink{}, errs.ValidationField("entity", "%s is already linked to requirement %s", entity, requirementID)
		}
		return model.RequirementLink{}, err
	}
	return l, nil
}
