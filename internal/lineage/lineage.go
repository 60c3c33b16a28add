// Package lineage tracks data transformations across the bronze, silver
// and gold refinement stages and answers where a dataset came from.
package lineage

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/roach88/traceledger/internal/errs"
	"github.com/roach88/traceledger/internal/metrics"
	"github.com/roach88/traceledger/internal/model"
)

// EdgeStore is the lineage persistence. *store.Store implements it.
type EdgeStore interface {
	WriteLineageEdge(ctx context.Context, e model.LineageEdge) error
	LineageEdgesInto(ctx context.Context, n model.LineageNode) ([]model.LineageEdge, error)
	LineageEdgesFrom(ctx context.Context, n model.LineageNode) ([]model.LineageEdge, error)
}

// Options bounds lineage walks.
type Options struct {
	MaxDepth int
	MaxNodes int
	Timeout  time.Duration
}

// Tracker records and queries lineage.
type Tracker struct {
	store   EdgeStore
	ids     model.IDGenerator
	now     func() time.Time
	logger  *zap.Logger
	metrics *metrics.Metrics
	opts    Options
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithIDGenerator sets the edge ID generator.
func WithIDGenerator(g model.IDGenerator) Option {
	return func(t *Tracker) { t.ids = g }
}

// WithClock sets the clock used when a request carries no timestamp.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

// WithLogger sets the structured logger.
func WithLogger(l *zap.Logger) Option {
	return func(t *Tracker) {
		if l != nil {
			t.logger = l
		}
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(t *Tracker) {
		if m != nil {
			t.metrics = m
		}
	}
}

// New creates a Tracker.
func New(st EdgeStore, opts Options, options ...Option) *Tracker {
	if opts.MaxDepth <= 0 {
		opts.MaxDepth = 50
	}
	if opts.MaxNodes <= 0 {
		opts.MaxNodes = 10_000
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	t := &Tracker{
		store:  st,
		ids:    model.UUIDv7Generator{},
		now:    time.Now,
		logger: zap.NewNop(),
		opts:   opts,
	}
	for _, o := range options {
		o(t)
	}
	if t.metrics == nil {
		t.metrics = metrics.NewMetrics(nil)
	}
	return t
}

// RecordRequest describes one transformation.
type RecordRequest struct {
	Source              model.LineageNode      `json:"source"`
	Target              model.LineageNode      `json:"target"`
	TransformationType  string                 `json:"transformation_type"`
	TransformationLogic string                 `json:"transformation_logic,omitempty"`
	QualityScore        float64                `json:"quality_score"`
	ValidationStatus    model.ValidationStatus `json:"validation_status,omitempty"`

	// Timestamp defaults to the tracker clock when zero.
	Timestamp time.Time `json:"timestamp,omitempty"`
}

// Recorded is a stored edge plus any non-fatal warnings.
type Recorded struct {
	Edge     model.LineageEdge `json:"edge"`
	Warnings []string          `json:"warnings"`
}

func validateNode(field string, n model.LineageNode) error {
	if strings.TrimSpace(n.EntityType) == "" || strings.TrimSpace(n.EntityID) == "" {
		return errs.ValidationField(field, "%s entity type and id are required", field)
	}
	if !n.Stage.Valid() {
		return errs.ValidationField(field+".stage", "unknown stage %q (bronze, silver, gold)", n.Stage)
	}
	return nil
}

// Validate checks the request without touching the store.
func (r RecordRequest) Validate() error {
	if err := validateNode("source", r.Source); err != nil {
		return err
	}
	if err := validateNode("target", r.Target); err != nil {
		return err
	}
	switch {
	case r.Source == r.Target:
		return errs.ValidationField("target", "a node cannot derive from itself")
	case strings.TrimSpace(r.TransformationType) == "":
		return errs.ValidationField("transformation_type", "transformation_type is required")
	case math.IsNaN(r.QualityScore) || r.QualityScore < 0 || r.QualityScore > 1:
		return errs.ValidationField("quality_score", "quality score must be between 0 and 1, got %v", r.QualityScore)
	case r.ValidationStatus != "" && !model.ValidValidationStatuses[r.ValidationStatus]:
		return errs.ValidationField("validation_status", "unknown validation status %q", r.ValidationStatus)
	}
	return nil
}

// RecordTransformation stores a lineage edge. A transformation that moves
// data to a lower stage is stored with StageRegression set and reported as
// a warning, not rejected.
func (t *Tracker) RecordTransformation(ctx context.Context, req RecordRequest) (*Recorded, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	status := req.ValidationStatus
	if status == "" {
		status = model.ValidationPending
	}
	ts := req.Timestamp
	if ts.IsZero() {
		ts = t.now()
	}

	edge := model.LineageEdge{
		ID:                  t.ids.Generate(),
		Source:              req.Source,
		Target:              req.Target,
		TransformationType:  req.TransformationType,
		TransformationLogic: req.TransformationLogic,
		QualityScore:        req.QualityScore,
		ValidationStatus:    status,
		StageRegression:     req.Target.Stage.Rank() < req.Source.Stage.Rank(),
		Timestamp:           ts.UTC(),
	}
	if err := t.store.WriteLineageEdge(ctx, edge); err != nil {
		return nil, fmt.Errorf("record transformation: %w", err)
	}

	out := &Recorded{Edge: edge, Warnings: []string{}}
	if edge.StageRegression {
		msg := fmt.Sprintf("stage regression: %s moves data from %s to %s", edge.ID, edge.Source.Stage, edge.Target.Stage)
		out.Warnings = append(out.Warnings, msg)
		t.metrics.LineageRegressions.Inc()
		t.logger.Warn("lineage stage regression",
			zap.String("edge_id", edge.ID),
			zap.String("source", edge.Source.String()),
			zap.String("target", edge.Target.String()),
		)
	}
	if status == model.ValidationFailed {
		out.Warnings = append(out.Warnings, fmt.Sprintf("validation failed for %s", edge.Target))
	}
	return out, nil
}
