// Package graph maintains the traceability graph: typed, directed links
// between entities, traced forward and backward with cycle detection and
// summarized by impact analysis.
package graph

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/roach88/traceledger/internal/errs"
	"github.com/roach88/traceledger/internal/metrics"
	"github.com/roach88/traceledger/internal/model"
	"github.com/roach88/traceledger/internal/store"
	"github.com/roach88/traceledger/internal/traverse"
)

// LinkStore is the link persistence the graph needs. *store.Store
// implements it.
type LinkStore interface {
	WriteLink(ctx context.Context, l model.TraceabilityLink) error
	DeactivateLink(ctx context.Context, id, actor string, at time.Time) (model.TraceabilityLink, error)
	ReadLink(ctx context.Context, id string) (model.TraceabilityLink, error)
	OutgoingLinks(ctx context.Context, ref model.EntityRef) ([]model.TraceabilityLink, error)
	IncomingLinks(ctx context.Context, ref model.EntityRef) ([]model.TraceabilityLink, error)
	LinksFor(ctx context.Context, ref model.EntityRef, includeInactive bool) ([]model.TraceabilityLink, error)
}

// Thresholds map an affected-entity count to an impact scope.
type Thresholds struct {
	Low    int `json:"low"`
	Medium int `json:"medium"`
	High   int `json:"high"`
}

// Options bounds traversals.
type Options struct {
	// MaxDepthLimit is the largest depth a caller may request.
	MaxDepthLimit int

	// ImpactDepth is the forward depth used by impact analysis.
	ImpactDepth int

	// MaxNodes caps the size of one traversal tree.
	MaxNodes int

	// Timeout caps the wall-clock time of one traversal.
	Timeout time.Duration

	Thresholds Thresholds
}

// DefaultOptions returns the stock traversal bounds.
func DefaultOptions() Options {
	return Options{
		MaxDepthLimit: 10,
		ImpactDepth:   5,
		MaxNodes:      10_000,
		Timeout:       5 * time.Second,
		Thresholds:    Thresholds{Low: 5, Medium: 20, High: 50},
	}
}

// Service is the traceability graph.
type Service struct {
	store   LinkStore
	ids     model.IDGenerator
	now     func() time.Time
	logger  *zap.Logger
	metrics *metrics.Metrics
	opts    Options
}

// Option configures a Service.
type Option func(*Service)

// WithIDGenerator sets the link ID generator.
func WithIDGenerator(g model.IDGenerator) Option {
	return func(s *Service) { s.ids = g }
}

// WithClock sets the clock used for link timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithLogger sets the structured logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		if m != nil {
			s.metrics = m
		}
	}
}

// New creates a graph Service. Zero fields in opts take their defaults.
func New(st LinkStore, opts Options, options ...Option) *Service {
	def := DefaultOptions()
	if opts.MaxDepthLimit <= 0 {
		opts.MaxDepthLimit = def.MaxDepthLimit
	}
	if opts.ImpactDepth <= 0 {
		opts.ImpactDepth = def.ImpactDepth
	}
	if opts.MaxNodes <= 0 {
		opts.MaxNodes = def.MaxNodes
	}
	if opts.Timeout <= 0 {
		opts.Timeout = def.Timeout
	}
	if opts.Thresholds == (Thresholds{}) {
		opts.Thresholds = def.Thresholds
	}

	s := &Service{
		store:  st,
		ids:    model.UUIDv7Generator{},
		now:    time.Now,
		logger: zap.NewNop(),
		opts:   opts,
	}
	for _, o := range options {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = metrics.NewMetrics(nil)
	}
	return s
}

// CreateLinkRequest asks for a new link from Source to Target.
type CreateLinkRequest struct {
	Source      model.EntityRef `json:"source"`
	Target      model.EntityRef `json:"target"`
	LinkType    model.LinkType  `json:"link_type"`
	Description string          `json:"description,omitempty"`
	CreatedBy   string          `json:"created_by"`
}

// Validate checks the request without touching the store.
func (r CreateLinkRequest) Validate() error {
	switch {
	case r.Source.IsZero():
		return errs.ValidationField("source", "source entity type and id are required")
	case r.Target.IsZero():
		return errs.ValidationField("target", "target entity type and id are required")
	case !model.ValidLinkTypes[r.LinkType]:
		return errs.ValidationField("link_type", "unknown link type %q", r.LinkType)
	case strings.TrimSpace(r.CreatedBy) == "":
		return errs.ValidationField("created_by", "created_by is required")
	case r.Source == r.Target:
		return errs.ValidationField("target", "an entity cannot link to itself")
	}
	return nil
}

// CreateLink stores a new active link. Cycles are allowed; a second active
// link with the same source, target and type is rejected.
func (s *Service) CreateLink(ctx context.Context, req CreateLinkRequest) (model.TraceabilityLink, error) {
	if err := req.Validate(); err != nil {
		return model.TraceabilityLink{}, err
	}

	link := model.TraceabilityLink{
		ID:          s.ids.Generate(),
		Source:      req.Source,
		Target:      req.Target,
		LinkType:    req.LinkType,
		Description: req.Description,
		CreatedBy:   req.CreatedBy,
		CreatedAt:   s.now().UTC(),
		Active:      true,
	}
	if err := s.store.WriteLink(ctx, link); err != nil {
		if errors.Is(err, store.ErrDuplicateLink) {
			return model.TraceabilityLink{}, &errs.Error{
				Code:    errs.CodeValidation,
				Message: "an active link with the same source, target and type already exists",
				Details: map[string]string{
					"source":    req.Source.String(),
					"target":    req.Target.String(),
					"link_type": string(req.LinkType),
				},
			}
		}
		return model.TraceabilityLink{}, fmt.Errorf("create link: %w", err)
	}

	s.logger.Debug("link created",
		zap.String("link_id", link.ID),
		zap.String("source", link.Source.String()),
		zap.String("target", link.Target.String()),
		zap.String("link_type", string(link.LinkType)),
	)
	return link, nil
}

// DeactivateLink marks a link inactive. The link stays stored for history.
func (s *Service) DeactivateLink(ctx context.Context, id, actor string) (model.TraceabilityLink, error) {
	if strings.TrimSpace(id) == "" {
		return model.TraceabilityLink{}, errs.ValidationField("id", "link id is required")
	}
	if strings.TrimSpace(actor) == "" {
		return model.TraceabilityLink{}, errs.ValidationField("actor", "actor is required")
	}
	return s.store.DeactivateLink(ctx, id, actor, s.now().UTC())
}

// GetLink returns a link by id, active or not.
func (s *Service) GetLink(ctx context.Context, id string) (model.TraceabilityLink, error) {
	return s.store.ReadLink(ctx, id)
}

// ListLinks returns every link touching entity, in either direction.
func (s *Service) ListLinks(ctx context.Context, entity model.EntityRef, includeInactive bool) ([]model.TraceabilityLink, error) {
	if entity.IsZero() {
		return nil, errs.Validation("entity type and id are required")
	}
	return s.store.LinksFor(ctx, entity, includeInactive)
}

// Neighborhood is the one-hop view around an entity.
type Neighborhood struct {
	Entity   model.EntityRef          `json:"entity"`
	Outgoing []model.TraceabilityLink `json:"outgoing"`
	Incoming []model.TraceabilityLink `json:"incoming"`
}

// Bidirectional returns the active links leaving and entering entity.
func (s *Service) Bidirectional(ctx context.Context, entity model.EntityRef) (*Neighborhood, error) {
	if entity.IsZero() {
		return nil, errs.Validation("entity type and id are required")
	}
	out, err := s.store.OutgoingLinks(ctx, entity)
	if err != nil {
		return nil, fmt.Errorf("bidirectional: %w", err)
	}
	in, err := s.store.IncomingLinks(ctx, entity)
	if err != nil {
		return nil, fmt.Errorf("bidirectional: %w", err)
	}
	return &Neighborhood{Entity: entity, Outgoing: nonNil(out), Incoming: nonNil(in)}, nil
}

func nonNil(links []model.TraceabilityLink) []model.TraceabilityLink {
	if links == nil {
		return []model.TraceabilityLink{}
	}
	return links
}

// walk runs a global-scope traversal over active links.
func (s *Service) walk(ctx context.Context, root model.EntityRef, dir Direction, depth int) (*traverse.Result[model.EntityRef, model.TraceabilityLink], error) {
	neighbors := func(ctx context.Context, ref model.EntityRef) ([]traverse.Edge[model.EntityRef, model.TraceabilityLink], error) {
		var links []model.TraceabilityLink
		var err error
		if dir == Forward {
			links, err = s.store.OutgoingLinks(ctx, ref)
		} else {
			links, err = s.store.IncomingLinks(ctx, ref)
		}
		if err != nil {
			return nil, err
		}
		edges := make([]traverse.Edge[model.EntityRef, model.TraceabilityLink], len(links))
		for i, l := range links {
			to := l.Target
			if dir == Backward {
				to = l.Source
			}
			edges[i] = traverse.Edge[model.EntityRef, model.TraceabilityLink]{ID: l.ID, To: to, Meta: l}
		}
		return edges, nil
	}

	res, err := traverse.Walk(ctx, root, neighbors, traverse.Options{
		MaxDepth: depth,
		MaxNodes: s.opts.MaxNodes,
		Timeout:  s.opts.Timeout,
		Scope:    traverse.ScopeGlobal,
	})
	if err != nil {
		return nil, fmt.Errorf("%s trace from %s: %w", dir, root, err)
	}
	if res.Truncated {
		s.metrics.TraversalsTruncated.WithLabelValues(string(dir), string(res.TruncatedReason)).Inc()
		s.logger.Warn("trace truncated",
			zap.String("direction", string(dir)),
			zap.String("entity", root.String()),
			zap.String("reason", string(res.TruncatedReason)),
			zap.Int("nodes", res.Nodes),
		)
	}
	return res, nil
}

// known reports whether any link, active or not, touches entity.
func (s *Service) known(ctx context.Context, entity model.EntityRef) (bool, error) {
	links, err := s.store.LinksFor(ctx, entity, true)
	if err != nil {
		return false, fmt.Errorf("look up %s: %w", entity, err)
	}
	return len(links) > 0, nil
}

func (s *Service) checkDepth(depth int) error {
	if depth < 1 || depth > s.opts.MaxDepthLimit {
		return errs.ValidationField("max_depth", "max depth must be between 1 and %d, got %d", s.opts.MaxDepthLimit, depth)
	}
	return nil
}
