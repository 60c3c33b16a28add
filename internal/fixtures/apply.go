package fixtures

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/roach88/traceledger/internal/audit"
	"github.com/roach88/traceledger/internal/canon"
	"github.com/roach88/traceledger/internal/custody"
	"github.com/roach88/traceledger/internal/errs"
	"github.com/roach88/traceledger/internal/graph"
	"github.com/roach88/traceledger/internal/lineage"
	"github.com/roach88/traceledger/internal/model"
	"github.com/roach88/traceledger/internal/rtm"
)

// EventAppender is implemented by *audit.Service.
type EventAppender interface {
	Append(ctx context.Context, req audit.AppendRequest) (model.AuditEvent, error)
}

// LinkCreator is implemented by *graph.Service.
type LinkCreator interface {
	CreateLink(ctx context.Context, req graph.CreateLinkRequest) (model.TraceabilityLink, error)
}

// LineageRecorder is implemented by *lineage.Tracker.
type LineageRecorder interface {
	RecordTransformation(ctx context.Context, req lineage.RecordRequest) (*lineage.Recorded, error)
}

// RequirementWriter is implemented by *rtm.Matrix.
type RequirementWriter interface {
	CreateRequirement(ctx context.Context, req rtm.CreateRequirementRequest) (model.Requirement, error)
	LinkEvidence(ctx context.Context, requirementID string, entity model.EntityRef, method string) (model.RequirementLink, error)
}

// CustodyRecorder is implemented by *custody.Ledger.
type CustodyRecorder interface {
	RecordEvent(ctx context.Context, req custody.RecordRequest) (model.CustodyEvent, error)
}

// SnapshotCreator is implemented by *snapshot.Service.
type SnapshotCreator interface {
	CreateSnapshot(ctx context.Context, entity model.EntityRef, data canon.Object, trigger, createdBy string) (model.Snapshot, error)
}

// Targets are the services a document is replayed into. A section with
// records needs its target.
type Targets struct {
	Events       EventAppender
	Links        LinkCreator
	Lineage      LineageRecorder
	Requirements RequirementWriter
	Custody      CustodyRecorder
	Snapshots    SnapshotCreator
	Logger       *zap.Logger
}

// Summary counts what Apply wrote.
type Summary struct {
	Document     string   `json:"document"`
	Events       int      `json:"events"`
	Links        int      `json:"links"`
	Lineage      int      `json:"lineage"`
	Requirements int      `json:"requirements"`
	Evidence     int      `json:"evidence"`
	Custody      int      `json:"custody"`
	Snapshots    int      `json:"snapshots"`
	Warnings     []string `json:"warnings,omitempty"`
}

// Apply replays doc in section order: events, links, lineage,
// requirements, custody, snapshots. It stops at the first rejected record
// and returns what was written so far.
func Apply(ctx context.Context, doc *Document, t Targets) (*Summary, error) {
	if err := t.check(doc); err != nil {
		return nil, err
	}
	logger := t.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	sum := &Summary{Document: doc.Name}

	for i, e := range doc.Events {
		req, err := e.request()
		if err != nil {
			return sum, fmt.Errorf("events[%d]: %w", i, err)
		}
		if _, err := t.Events.Append(ctx, req); err != nil {
			return sum, fmt.Errorf("events[%d]: %w", i, err)
		}
		sum.Events++
	}

	for i, l := range doc.Links {
		_, err := t.Links.CreateLink(ctx, graph.CreateLinkRequest{
			Source:      l.Source,
			Target:      l.Target,
			LinkType:    l.Type,
			Description: l.Description,
			CreatedBy:   l.CreatedBy,
		})
		if err != nil {
			return sum, fmt.Errorf("links[%d]: %w", i, err)
		}
		sum.Links++
	}

	for i, l := range doc.Lineage {
		rec, err := t.Lineage.RecordTransformation(ctx, lineage.RecordRequest{
			Source:              l.Source,
			Target:              l.Target,
			TransformationType:  l.Transformation,
			TransformationLogic: l.Logic,
			QualityScore:        l.Quality,
			ValidationStatus:    l.Status,
			Timestamp:           l.Timestamp,
		})
		if err != nil {
			return sum, fmt.Errorf("lineage[%d]: %w", i, err)
		}
		for _, w := range rec.Warnings {
			sum.Warnings = append(sum.Warnings, fmt.Sprintf("lineage[%d]: %s", i, w))
		}
		sum.Lineage++
	}

	for i, r := range doc.Requirements {
		req, err := t.Requirements.CreateRequirement(ctx, rtm.CreateRequirementRequest{
			Number:   r.Number,
			Title:    r.Title,
			Source:   r.Source,
			Category: r.Category,
			Priority: r.Priority,
		})
		if err != nil {
			return sum, fmt.Errorf("requirements[%d]: %w", i, err)
		}
		sum.Requirements++
		for j, ev := range r.Evidence {
			if _, err := t.Requirements.LinkEvidence(ctx, req.ID, ev.Entity, ev.Method); err != nil {
				return sum, fmt.Errorf("requirements[%d].evidence[%d]: %w", i, j, err)
			}
			sum.Evidence++
		}
	}

	for i, c := range doc.Custody {
		_, err := t.Custody.RecordEvent(ctx, custody.RecordRequest{
			Entity:          c.Entity,
			Identifier:      c.Identifier,
			EventType:       c.EventType,
			FromActor:       c.FromActor,
			ToActor:         c.ToActor,
			FromLocation:    c.FromLocation,
			ToLocation:      c.ToLocation,
			ConditionBefore: c.ConditionBefore,
			ConditionAfter:  c.ConditionAfter,
			IntegrityCheck:  c.IntegrityCheck,
			Timestamp:       c.Timestamp,
		})
		if err != nil {
			return sum, fmt.Errorf("custody[%d]: %w", i, err)
		}
		sum.Custody++
	}

	for i, s := range doc.Snapshots {
		data, err := toObject(s.Data)
		if err != nil {
			return sum, fmt.Errorf("snapshots[%d]: %w", i, errs.ValidationField("data", "%v", err))
		}
		if _, err := t.Snapshots.CreateSnapshot(ctx, s.Entity, data, s.Trigger, s.CreatedBy); err != nil {
			return sum, fmt.Errorf("snapshots[%d]: %w", i, err)
		}
		sum.Snapshots++
	}

	logger.Info("fixture applied",
		zap.String("document", doc.Name),
		zap.Int("events", sum.Events),
		zap.Int("links", sum.Links),
		zap.Int("lineage", sum.Lineage),
		zap.Int("requirements", sum.Requirements),
		zap.Int("custody", sum.Custody),
		zap.Int("snapshots", sum.Snapshots),
		zap.Int("warnings", len(sum.Warnings)))
	return sum, nil
}

func (t Targets) check(doc *Document) error {
	missing := func(section string, n int, ok bool) error {
		if n > 0 && !ok {
			return errs.Validation("fixture %q has %s but no %s target is configured", doc.Name, section, section)
		}
		return nil
	}
	for _, err := range []error{
		missing("events", len(doc.Events), t.Events != nil),
		missing("links", len(doc.Links), t.Links != nil),
		missing("lineage", len(doc.Lineage), t.Lineage != nil),
		missing("requirements", len(doc.Requirements), t.Requirements != nil),
		missing("custody", len(doc.Custody), t.Custody != nil),
		missing("snapshots", len(doc.Snapshots), t.Snapshots != nil),
	} {
		if err != nil {
			return err
		}
	}
	return nil
}

func (e Event) request() (audit.AppendRequest, error) {
	oldValues, err := toObject(e.OldValues)
	if err != nil {
		return audit.AppendRequest{}, errs.ValidationField("old_values", "%v", err)
	}
	newValues, err := toObject(e.NewValues)
	if err != nil {
		return audit.AppendRequest{}, errs.ValidationField("new_values", "%v", err)
	}
	return audit.AppendRequest{
		EntityType: e.Entity.Type,
		EntityID:   e.Entity.ID,
		ActorID:    e.Actor,
		Action:     e.Action,
		OldValues:  oldValues,
		NewValues:  newValues,
		Context: model.EventContext{
			IP:       e.IPAddress,
			Device:   e.Device,
			Location: e.Location,
			Reason:   e.Reason,
		},
		Timestamp: e.Timestamp,
	}, nil
}
