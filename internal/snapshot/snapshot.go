// Package snapshot keeps versioned copies of entity state and compares
// them.
package snapshot

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/roach88/traceledger/internal/audit"
	"github.com/roach88/traceledger/internal/canon"
	"github.com/roach88/traceledger/internal/errs"
	"github.com/roach88/traceledger/internal/metrics"
	"github.com/roach88/traceledger/internal/model"
)

// Store is the snapshot persistence. *store.Store implements it.
type Store interface {
	AppendSnapshot(ctx context.Context, snap model.Snapshot) (model.Snapshot, error)
	ReadSnapshot(ctx context.Context, ref model.EntityRef, version int64) (model.Snapshot, error)
	LatestSnapshot(ctx context.Context, ref model.EntityRef) (model.Snapshot, error)
	ListSnapshots(ctx context.Context, ref model.EntityRef) ([]model.Snapshot, error)
}

// StateReader rebuilds entity state from the audit log. *audit.Service
// implements it.
type StateReader interface {
	ReconstructState(ctx context.Context, ref model.EntityRef, at time.Time) (*audit.EntityState, error)
}

// Service creates, reads and compares snapshots.
type Service struct {
	store   Store
	state   StateReader
	ids     model.IDGenerator
	now     func() time.Time
	logger  *zap.Logger
	metrics *metrics.Metrics
}

// Option configures a Service.
type Option func(*Service)

// WithIDGenerator sets the snapshot ID generator.
func WithIDGenerator(g model.IDGenerator) Option {
	return func(s *Service) { s.ids = g }
}

// WithClock sets the clock used for creation timestamps.
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

// WithStateReader enables Capture.
func WithStateReader(r StateReader) Option {
	return func(s *Service) { s.state = r }
}

// New creates a Service.
func New(st Store, options ...Option) *Service {
	s := &Service{
		store:  st,
		ids:    model.UUIDv7Generator{},
		now:    time.Now,
		logger: zap.NewNop(),
	}
	for _, o := range options {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = metrics.NewMetrics(nil)
	}
	return s
}

// CreateSnapshot stores data as the next version of entity.
func (s *Service) CreateSnapshot(ctx context.Context, entity model.EntityRef, data canon.Object, trigger, createdBy string) (model.Snapshot, error) {
	switch {
	case entity.IsZero():
		return model.Snapshot{}, errs.ValidationField("entity", "entity type and id are required")
	case strings.TrimSpace(trigger) == "":
		return model.Snapshot{}, errs.ValidationField("trigger", "trigger is required")
	}
	if data == nil {
		data = canon.Object{}
	}
	if _, err := canon.Marshal(data); err != nil {
		return model.Snapshot{}, errs.ValidationField("data", "snapshot data cannot be serialized: %v", err)
	}

	snap, err := s.store.AppendSnapshot(ctx, model.Snapshot{
		ID:        s.ids.Generate(),
		Entity:    entity,
		Data:      data.Clone(),
		Trigger:   trigger,
		CreatedBy: createdBy,
		CreatedAt: s.now().UTC(),
	})
	if err != nil {
		return model.Snapshot{}, fmt.Errorf("create snapshot: %w", err)
	}

	s.metrics.SnapshotsCreated.WithLabelValues(trigger).Inc()
	s.logger.Debug("snapshot created",
		zap.String("entity", entity.String()),
		zap.Int64("version", snap.Version),
		zap.String("trigger", trigger),
	)
	return snap, nil
}

// Capture snapshots the entity's current state as rebuilt from the audit
// log. It requires a StateReader. An entity whose last event is a delete
// has no state to capture and is rejected.
func (s *Service) Capture(ctx context.Context, entity model.EntityRef, trigger, createdBy string) (model.Snapshot, error) {
	if s.state == nil {
		return model.Snapshot{}, errs.Validation("state capture is not configured")
	}
	state, err := s.state.ReconstructState(ctx, entity, time.Time{})
	if err != nil {
		return model.Snapshot{}, err
	}
	if !state.Exists {
		return model.Snapshot{}, &errs.Error{
			Code:    errs.CodeValidation,
			Message: "entity is deleted and has no state to capture",
			Details: map[string]string{
				"entity":      entity.String(),
				"last_action": string(state.LastAction),
			},
		}
	}
	return s.CreateSnapshot(ctx, entity, state.Fields, trigger, createdBy)
}

// Get returns one version.
func (s *Service) Get(ctx context.Context, entity model.EntityRef, version int64) (model.Snapshot, error) {
	if version < 1 {
		return model.Snapshot{}, errs.ValidationField("version", "version must be 1 or later, got %d", version)
	}
	return s.store.ReadSnapshot(ctx, entity, version)
}

// Latest returns the highest version.
func (s *Service) Latest(ctx context.Context, entity model.EntityRef) (model.Snapshot, error) {
	return s.store.LatestSnapshot(ctx, entity)
}

// ListVersions returns every version in ascending order.
func (s *Service) ListVersions(ctx context.Context, entity model.EntityRef) ([]model.Snapshot, error) {
	if entity.IsZero() {
		return nil, errs.ValidationField("entity", "entity type and id are required")
	}
	return s.store.ListSnapshots(ctx, entity)
}

// Compare diffs version v1 against version v2.
func (s *Service) Compare(ctx context.Context, entity model.EntityRef, v1, v2 int64) (*Diff, error) {
	a, err := s.Get(ctx, entity, v1)
	if err != nil {
		return nil, err
	}
	b, err := s.Get(ctx, entity, v2)
	if err != nil {
		return nil, err
	}
	d := Compare(a.Data, b.Data)
	d.Entity = entity
	d.FromVersion = v1
	d.ToVersion = v2
	return d, nil
}
