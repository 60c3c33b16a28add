package store

import (
	"context"
	"fmt"

	"github.com/roach88/traceledger/internal/model"
)

const lineageColumns = `id, source_type, source_id, source_stage, target_type, target_id, target_stage,
	transformation_type, transformation_logic, quality_score, validation_status, stage_regression, timestamp_ns`

// WriteLineageEdge inserts a lineage edge.
func (s *Store) WriteLineageEdge(ctx context.Context, e model.LineageEdge) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO lineage_edges (`+lineageColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		e.ID,
		e.Source.EntityType,
		e.Source.EntityID,
		string(e.Source.Stage),
		e.Target.EntityType,
		e.Target.EntityID,
		string(e.Target.Stage),
		e.TransformationType,
		e.TransformationLogic,
		e.QualityScore,
		string(e.ValidationStatus),
		boolToInt(e.StageRegression),
		toNanos(e.Timestamp),
	)
	if err != nil {
		return fmt.Errorf("write lineage edge: %w", err)
	}
	return nil
}

// LineageEdgesInto returns edges whose target is n. An empty n.Stage
// matches every stage of the entity.
func (s *Store) LineageEdgesInto(ctx context.Context, n model.LineageNode) ([]model.LineageEdge, error) {
	where := and{eq{"target_type", n.EntityType}, eq{"target_id", n.EntityID}}
	if n.Stage != "" {
		where = append(where, eq{"target_stage", string(n.Stage)})
	}
	return s.queryLineage(ctx, selectQuery{
		columns: lineageColumns,
		from:    "lineage_edges",
		where:   where,
		orderBy: "timestamp_ns ASC, id COLLATE BINARY ASC",
	})
}

// LineageEdgesFrom returns edges whose source is n. An empty n.Stage
// matches every stage of the entity.
func (s *Store) LineageEdgesFrom(ctx context.Context, n model.LineageNode) ([]model.LineageEdge, error) {
	where := and{eq{"source_type", n.EntityType}, eq{"source_id", n.EntityID}}
	if n.Stage != "" {
		where = append(where, eq{"source_stage", string(n.Stage)})
	}
	return s.queryLineage(ctx, selectQuery{
		columns: lineageColumns,
		from:    "lineage_edges",
		where:   where,
		orderBy: "timestamp_ns ASC, id COLLATE BINARY ASC",
	})
}

func (s *Store) queryLineage(ctx context.Context, q selectQuery) ([]model.LineageEdge, error) {
	query, args, err := q.build()
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query lineage edges: %w", err)
	}
	defer rows.Close()

	edges := []model.LineageEdge{}
	for rows.Next() {
		var (
			e                        model.LineageEdge
			sourceStage, targetStage string
			status                   string
			regression               int
			tsNanos                  int64
		)
		if err := rows.Scan(
			&e.ID,
			&e.Source.EntityType,
			&e.Source.EntityID,
			&sourceStage,
			&e.Target.EntityType,
			&e.Target.EntityID,
			&targetStage,
			&e.TransformationType,
			&e.TransformationLogic,
			&e.QualityScore,
			&status,
			&regression,
			&tsNanos,
		); err != nil {
			return nil, fmt.Errorf("scan lineage edge: %w", err)
		}
		e.Source.Stage = model.Stage(sourceStage)
		e.Target.Stage = model.Stage(targetStage)
		e.ValidationStatus = model.ValidationStatus(status)
		e.StageRegression = regression == 1
		e.Timestamp = fromNanos(tsNanos)
		edges = append(edges, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate lineage edges: %w", err)
	}
	return edges, nil
}
