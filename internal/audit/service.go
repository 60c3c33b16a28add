package audit

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/roach88/traceledger/internal/canon"
	"github.com/roach88/traceledger/internal/errs"
	"github.com/roach88/traceledger/internal/metrics"
	"github.com/roach88/traceledger/internal/model"
)

// EventStore is the persistence the audit service needs. *store.Store
// implements it.
type EventStore interface {
	AppendEvent(ctx context.Context, build func(head model.ChainHead) (model.AuditEvent, error)) (model.AuditEvent, error)
	ChainHead(ctx context.Context) (model.ChainHead, error)
	EventAt(ctx context.Context, seq int64) (model.AuditEvent, error)
	EventsInRange(ctx context.Context, from, to int64) ([]model.AuditEvent, error)
	EntityEvents(ctx context.Context, ref model.EntityRef, until *time.Time) ([]model.AuditEvent, error)
	ListEvents(ctx context.Context, f model.EventFilter) ([]model.AuditEvent, error)
	SearchEvents(ctx context.Context, f model.EventFilter, p model.Page) (model.EventPage, error)
}

// Service is the audit event store: the write hook plus every read over the
// chain.
type Service struct {
	store   EventStore
	seq     *Sequencer
	mu      sync.Mutex // serializes appends
	now     func() time.Time
	logger  *zap.Logger
	metrics *metrics.Metrics
}

// Option configures a Service.
type Option func(*Service)

// WithClock sets the wall clock used for event timestamps and export
// generation time.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
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

// New creates a Service over st, seeding the sequencer from the current
// chain head.
func New(ctx context.Context, st EventStore, opts ...Option) (*Service, error) {
	head, err := st.ChainHead(ctx)
	if err != nil {
		return nil, fmt.Errorf("audit: read chain head: %w", err)
	}

	s := &Service{
		store:  st,
		seq:    NewSequencerAt(head.Sequence),
		now:    time.Now,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.metrics == nil {
		s.metrics = metrics.NewMetrics(nil)
	}
	return s, nil
}

// AppendRequest is the write hook payload a business module sends for every
// create, update or delete of an audited entity.
type AppendRequest struct {
	EntityType string             `json:"entity_type"`
	EntityID   string             `json:"entity_id"`
	ActorID    string             `json:"actor_id"`
	Action     model.Action       `json:"action"`
	OldValues  canon.Object       `json:"old_values,omitempty"`
	NewValues  canon.Object       `json:"new_values,omitempty"`
	Context    model.EventContext `json:"context"`

	// Timestamp defaults to the service clock when zero.
	Timestamp time.Time `json:"timestamp,omitempty"`
}

// Validate checks the request without touching the store.
func (r AppendRequest) Validate() error {
	switch {
	case strings.TrimSpace(r.EntityType) == "":
		return errs.ValidationField("entity_type", "entity_type is required")
	case strings.TrimSpace(r.EntityID) == "":
		return errs.ValidationField("entity_id", "entity_id is required")
	case strings.TrimSpace(r.ActorID) == "":
		return errs.ValidationField("actor_id", "actor_id is required")
	case !model.ValidActions[r.Action]:
		return errs.ValidationField("action", "action %q must be one of create, update, delete", r.Action)
	case strings.TrimSpace(r.Context.Reason) == "":
		return errs.ValidationField("context.reason", "a reason for the change is required")
	}

	switch r.Action {
	case model.ActionCreate:
		if len(r.NewValues) == 0 {
			return errs.ValidationField("new_values", "create must carry the new values")
		}
	case model.ActionDelete:
		if len(r.NewValues) > 0 {
			return errs.ValidationField("new_values", "delete must not carry new values")
		}
	}

	if _, err := canon.Marshal(orEmpty(r.OldValues)); err != nil {
		return errs.ValidationField("old_values", "old_values cannot be serialized: %v", err)
	}
	if _, err := canon.Marshal(orEmpty(r.NewValues)); err != nil {
		return errs.ValidationField("new_values", "new_values cannot be serialized: %v", err)
	}
	return nil
}

// Append validates req, assigns the next sequence, chains and hashes the
// event, and stores it atomically. On any failure nothing is written and
// the sequence is not consumed.
func (s *Service) Append(ctx context.Context, req AppendRequest) (model.AuditEvent, error) {
	if err := req.Validate(); err != nil {
		s.metrics.AppendFailures.WithLabelValues(string(errs.CodeValidation)).Inc()
		return model.AuditEvent{}, err
	}

	ts := req.Timestamp
	if ts.IsZero() {
		ts = s.now()
	}
	ts = ts.UTC()

	s.mu.Lock()
	defer s.mu.Unlock()

	start := time.Now()
	next := s.seq.Next()

	ev, err := s.store.AppendEvent(ctx, func(head model.ChainHead) (model.AuditEvent, error) {
		if head.Sequence != next-1 {
			return model.AuditEvent{}, fmt.Errorf("sequencer at %d but chain head is %d", next-1, head.Sequence)
		}
		prev := head.Checksum
		if head.Sequence == 0 {
			prev = GenesisChecksum
		}

		ev := model.AuditEvent{
			Sequence:         next,
			EntityType:       req.EntityType,
			EntityID:         req.EntityID,
			ActorID:          req.ActorID,
			Action:           req.Action,
			Timestamp:        ts,
			OldValues:        orEmpty(req.OldValues),
			NewValues:        orEmpty(req.NewValues),
			Context:          req.Context,
			PreviousChecksum: prev,
		}
		sum, err := ComputeChecksum(ev)
		if err != nil {
			return model.AuditEvent{}, err
		}
		ev.Checksum = sum
		return ev, nil
	})
	if err != nil {
		s.metrics.AppendFailures.WithLabelValues("store").Inc()
		s.resync(ctx)
		return model.AuditEvent{}, fmt.Errorf("append audit event: %w", err)
	}

	if !s.seq.Commit(ev.Sequence) {
		// Unreachable while appends hold s.mu.
		s.resync(ctx)
	}

	s.metrics.EventsAppended.WithLabelValues(string(ev.Action)).Inc()
	s.metrics.AppendDuration.Observe(time.Since(start).Seconds())
	s.logger.Debug("audit event appended",
		zap.Int64("sequence", ev.Sequence),
		zap.String("entity", ev.Entity().String()),
		zap.String("action", string(ev.Action)),
		zap.String("actor_id", ev.ActorID),
	)
	return ev, nil
}

// Head returns the current chain head.
func (s *Service) Head(ctx context.Context) (model.ChainHead, error) {
	return s.store.ChainHead(ctx)
}

// resync realigns the sequencer with the stored chain head. Must be called
// with s.mu held.
func (s *Service) resync(ctx context.Context) {
	head, err := s.store.ChainHead(ctx)
	if err != nil {
		s.logger.Warn("audit: cannot resynchronize sequencer", zap.Error(err))
		return
	}
	if head.Sequence != s.seq.Current() {
		s.logger.Warn("audit: sequencer resynchronized with chain head",
			zap.Int64("sequencer", s.seq.Current()),
			zap.Int64("head", head.Sequence),
		)
	}
	s.seq.Reset(head.Sequence)
}
