package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/traceledger/internal/model"
)

const custodyColumns = `id, entity_type, entity_id, position, identifier, event_type,
	from_actor, to_actor, from_location, to_location, condition_before, condition_after,
	timestamp_ns, integrity_check`

// AppendCustodyEvent appends a custody event for ev.Entity inside one write
// transaction. check receives the entity's latest event (nil for the first)
// and may reject the append; the continuity check and the insert cannot
// interleave with another append for the same database. Position is
// assigned here.
func (s *Store) AppendCustodyEvent(ctx context.Context, ev model.CustodyEvent, check func(prev *model.CustodyEvent) error) (model.CustodyEvent, error) {
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, `
			SELECT `+custodyColumns+` FROM custody_events
			WHERE entity_type = ? AND entity_id = ?
			ORDER BY position DESC
			LIMIT 1
		`, ev.Entity.Type, ev.Entity.ID)

		var prev *model.CustodyEvent
		last, err := scanCustody(row)
		switch {
		case errors.Is(err, sql.ErrNoRows):
		case err != nil:
			return err
		default:
			prev = &last
		}

		if err := check(prev); err != nil {
			return err
		}

		ev.Position = 1
		if prev != nil {
			ev.Position = prev.Position + 1
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO custody_events (`+custodyColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`,
			ev.ID,
			ev.Entity.Type,
			ev.Entity.ID,
			ev.Position,
			ev.Identifier,
			string(ev.EventType),
			ev.FromActor,
			ev.ToActor,
			ev.FromLocation,
			ev.ToLocation,
			ev.ConditionBefore,
			ev.ConditionAfter,
			toNanos(ev.Timestamp),
			boolToInt(ev.IntegrityCheck),
		)
		if err != nil {
			return fmt.Errorf("write custody event: %w", err)
		}
		return nil
	})
	if err != nil {
		return model.CustodyEvent{}, err
	}
	return ev, nil
}

// CustodyChain returns an entity's custody events ordered by position.
func (s *Store) CustodyChain(ctx context.Context, ref model.EntityRef) ([]model.CustodyEvent, error) {
	query, args, err := selectQuery{
		columns: custodyColumns,
		from:    "custody_events",
		where:   and{eq{"entity_type", ref.Type}, eq{"entity_id", ref.ID}},
		orderBy: "position ASC",
	}.build()
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query custody events: %w", err)
	}
	defer rows.Close()

	events := []model.CustodyEvent{}
	for rows.Next() {
		ev, err := scanCustody(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate custody events: %w", err)
	}
	return events, nil
}

func scanCustody(sc scanner) (model.CustodyEvent, error) {
	var (
		ev        model.CustodyEvent
		eventType string
		tsNanos   int64
		integrity int
	)
	err := sc.Scan(
		&ev.ID,
		&ev.Entity.Type,
		&ev.Entity.ID,
		&ev.Position,
		&ev.Identifier,
		&eventType,
		&ev.FromActor,
		&ev.ToActor,
		&ev.FromLocation,
		&ev.ToLocation,
		&ev.ConditionBefore,
		&ev.ConditionAfter,
		&tsNanos,
		&integrity,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.CustodyEvent{}, err
		}
		return model.CustodyEvent{}, fmt.Errorf("scan custody event: %w", err)
	}
	ev.EventType = model.CustodyEventType(eventType)
	ev.Timestamp = fromNanos(tsNanos)
	ev.IntegrityCheck = integrity == 1
	return ev, nil
}
