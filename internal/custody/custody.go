// Package custody records the chain of custody of physical items. Every
// hand-off must start where the previous one ended, and nothing may follow
// disposal.
package custody

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/roach88/traceledger/internal/errs"
	"github.com/roach88/traceledger/internal/metrics"
	"github.com/roach88/traceledger/internal/model"
)

// EventStore is the custody persistence. *store.Store implements it.
type EventStore interface {
	AppendCustodyEvent(ctx context.Context, ev model.CustodyEvent, check func(prev *model.CustodyEvent) error) (model.CustodyEvent, error)
	CustodyChain(ctx context.Context, ref model.EntityRef) ([]model.CustodyEvent, error)
}

// Rejection reasons used for metrics.
const (
	rejectValidation = "validation"
	rejectContinuity = "continuity"
	rejectDisposed   = "disposed"
	rejectChronology = "chronology"
)

// Ledger is the chain-of-custody service.
type Ledger struct {
	store   EventStore
	ids     model.IDGenerator
	now     func() time.Time
	logger  *zap.Logger
	metrics *metrics.Metrics
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithIDGenerator sets the event ID generator.
func WithIDGenerator(g model.IDGenerator) Option {
	return func(l *Ledger) { l.ids = g }
}

// WithClock sets the clock used when a request carries no timestamp.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// WithLogger sets the structured logger.
func WithLogger(lg *zap.Logger) Option {
	return func(l *Ledger) {
		if lg != nil {
			l.logger = lg
		}
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(l *Ledger) {
		if m != nil {
			l.metrics = m
		}
	}
}

// New creates a Ledger.
func New(st EventStore, options ...Option) *Ledger {
	l := &Ledger{
		store:  st,
		ids:    model.UUIDv7Generator{},
		now:    time.Now,
		logger: zap.NewNop(),
	}
	for _, o := range options {
		o(l)
	}
	if l.metrics == nil {
		l.metrics = metrics.NewMetrics(nil)
	}
	return l
}

// RecordRequest describes one custody event.
type RecordRequest struct {
	Entity          model.EntityRef        `json:"entity"`
	Identifier      string                 `json:"identifier"`
	EventType       model.CustodyEventType `json:"event_type"`
	FromActor       string                 `json:"from_actor,omitempty"`
	ToActor         string                 `json:"to_actor"`
	FromLocation    string                 `json:"from_location,omitempty"`
	ToLocation      string                 `json:"to_location"`
	ConditionBefore string                 `json:"condition_before,omitempty"`
	ConditionAfter  string                 `json:"condition_after,omitempty"`
	IntegrityCheck  bool                   `json:"integrity_check"`

	// Timestamp defaults to the ledger clock when zero.
	Timestamp time.Time `json:"timestamp,omitempty"`
}

// Validate checks the request without touching the store.
func (r RecordRequest) Validate() error {
	switch {
	case r.Entity.IsZero():
		return errs.ValidationField("entity", "entity type and id are required")
	case strings.TrimSpace(r.Identifier) == "":
		return errs.ValidationField("identifier", "item identifier is required")
	case !model.ValidCustodyEventTypes[r.EventType]:
		return errs.ValidationField("event_type", "event type %q must be one of received, transferred, returned, disposed", r.EventType)
	case strings.TrimSpace(r.ToActor) == "":
		return errs.ValidationField("to_actor", "to_actor is required")
	case strings.TrimSpace(r.ToLocation) == "":
		return errs.ValidationField("to_location", "to_location is required")
	}
	return nil
}

// CheckContinuity reports whether next may follow prev. prev is nil for
// the first event, which may start from anywhere.
func CheckContinuity(prev *model.CustodyEvent, next model.CustodyEvent) error {
	if prev == nil {
		return nil
	}
	if prev.EventType == model.CustodyDisposed {
		return errs.ValidationField("event_type", "%s was disposed at position %d; no further custody events are allowed", next.Entity, prev.Position)
	}
	if next.FromActor != prev.ToActor {
		return &errs.ContinuityError{Field: "from_actor", Expected: prev.ToActor, Actual: next.FromActor}
	}
	if next.FromLocation != prev.ToLocation {
		return &errs.ContinuityError{Field: "from_location", Expected: prev.ToLocation, Actual: next.FromLocation}
	}
	if next.Timestamp.Before(prev.Timestamp) {
		return errs.ValidationField("timestamp", "custody event at %s is earlier than the previous event at %s",
			next.Timestamp.Format(time.RFC3339Nano), prev.Timestamp.Format(time.RFC3339Nano))
	}
	return nil
}

// RecordEvent appends a custody event after checking it continues the
// entity's chain. The check and the insert run in one write transaction.
func (l *Ledger) RecordEvent(ctx context.Context, req RecordRequest) (model.CustodyEvent, error) {
	if err := req.Validate(); err != nil {
		l.metrics.CustodyRejections.WithLabelValues(rejectValidation).Inc()
		return model.CustodyEvent{}, err
	}

	ts := req.Timestamp
	if ts.IsZero() {
		ts = l.now()
	}
	ev := model.CustodyEvent{
		ID:              l.ids.Generate(),
		Entity:          req.Entity,
		Identifier:      req.Identifier,
		EventType:       req.EventType,
		FromActor:       req.FromActor,
		ToActor:         req.ToActor,
		FromLocation:    req.FromLocation,
		ToLocation:      req.ToLocation,
		ConditionBefore: req.ConditionBefore,
		ConditionAfter:  req.ConditionAfter,
		Timestamp:       ts.UTC(),
		IntegrityCheck:  req.IntegrityCheck,
	}

	var reason string
	stored, err := l.store.AppendCustodyEvent(ctx, ev, func(prev *model.CustodyEvent) error {
		err := CheckContinuity(prev, ev)
		switch {
		case err == nil:
		case errs.IsContinuity(err):
			reason = rejectContinuity
		case prev != nil && prev.EventType == model.CustodyDisposed:
			reason = rejectDisposed
		default:
			reason = rejectChronology
		}
		return err
	})
	if err != nil {
		if reason != "" {
			l.metrics.CustodyRejections.WithLabelValues(reason).Inc()
			l.logger.Warn("custody event rejected",
				zap.String("entity", req.Entity.String()),
				zap.String("reason", reason),
				zap.Error(err),
			)
			return model.CustodyEvent{}, err
		}
		return model.CustodyEvent{}, fmt.Errorf("record custody event: %w", err)
	}
	return stored, nil
}
