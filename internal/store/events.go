package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/roach88/traceledger/internal/errs"
	"github.com/roach88/traceledger/internal/model"
)

// DefaultSearchLimit caps search pages when the caller gives no limit.
const DefaultSearchLimit = 100

// MaxSearchLimit is the largest page a search may request.
const MaxSearchLimit = 1000

const eventColumns = `sequence, entity_type, entity_id, actor_id, action, timestamp_ns,
	old_values, new_values, ip_address, device, location, reason, checksum, previous_checksum`

// ErrSequenceDrift is returned when the chain head moved between reading it
// and inserting, meaning another writer appended to the same database.
var ErrSequenceDrift = errors.New("sequence drift: chain head changed under the writer")

// AppendEvent appends one audit event inside a single write transaction.
//
// build receives the current chain head and returns the fully populated
// event (sequence, checksum and previous checksum included). The event is
// rejected with ErrSequenceDrift unless its sequence is head+1 and its
// previous checksum equals the head checksum.
func (s *Store) AppendEvent(ctx context.Context, build func(head model.ChainHead) (model.AuditEvent, error)) (model.AuditEvent, error) {
	var out model.AuditEvent
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		head, err := chainHead(ctx, tx)
		if err != nil {
			return err
		}

		ev, err := build(head)
		if err != nil {
			return err
		}
		if ev.Sequence != head.Sequence+1 || (head.Sequence > 0 && ev.PreviousChecksum != head.Checksum) {
			return fmt.Errorf("append event %d after head %d: %w", ev.Sequence, head.Sequence, ErrSequenceDrift)
		}

		if err := insertEvent(ctx, tx, ev); err != nil {
			return err
		}
		out = ev
		return nil
	})
	if err != nil {
		return model.AuditEvent{}, err
	}
	return out, nil
}

func insertEvent(ctx context.Context, tx *sql.Tx, ev model.AuditEvent) error {
	oldJSON, err := marshalObject(ev.OldValues)
	if err != nil {
		return fmt.Errorf("write event: %w", err)
	}
	newJSON, err := marshalObject(ev.NewValues)
	if err != nil {
		return fmt.Errorf("write event: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO audit_events (`+eventColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		ev.Sequence,
		ev.EntityType,
		ev.EntityID,
		ev.ActorID,
		string(ev.Action),
		toNanos(ev.Timestamp),
		oldJSON,
		newJSON,
		ev.Context.IP,
		ev.Context.Device,
		ev.Context.Location,
		ev.Context.Reason,
		ev.Checksum,
		ev.PreviousChecksum,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("write event %d: %w", ev.Sequence, ErrSequenceDrift)
		}
		return fmt.Errorf("write event: %w", err)
	}
	return nil
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// ChainHead returns the latest sequence and checksum. An empty log returns
// a zero ChainHead.
func (s *Store) ChainHead(ctx context.Context) (model.ChainHead, error) {
	return chainHead(ctx, s.db)
}

func chainHead(ctx context.Context, q queryRower) (model.ChainHead, error) {
	var head model.ChainHead
	err := q.QueryRowContext(ctx, `
		SELECT sequence, checksum FROM audit_events
		ORDER BY sequence DESC
		LIMIT 1
	`).Scan(&head.Sequence, &head.Checksum)
	if errors.Is(err, sql.ErrNoRows) {
		return model.ChainHead{}, nil
	}
	if err != nil {
		return model.ChainHead{}, fmt.Errorf("read chain head: %w", err)
	}
	return head, nil
}

// EventAt returns the event with the given sequence.
func (s *Store) EventAt(ctx context.Context, seq int64) (model.AuditEvent, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+eventColumns+` FROM audit_events WHERE sequence = ?`, seq)
	ev, err := scanEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.AuditEvent{}, errs.NotFound("audit event", strconv.FormatInt(seq, 10))
	}
	return ev, err
}

// EventsInRange returns events with from <= sequence <= to in ascending order.
func (s *Store) EventsInRange(ctx context.Context, from, to int64) ([]model.AuditEvent, error) {
	return s.queryEvents(ctx, selectQuery{
		columns: eventColumns,
		from:    "audit_events",
		where:   and{gte{"sequence", from}, lte{"sequence", to}},
		orderBy: "sequence ASC",
	})
}

// EntityEvents returns an entity's events in ascending sequence order. A
// non-nil until excludes events stamped after it.
func (s *Store) EntityEvents(ctx context.Context, ref model.EntityRef, until *time.Time) ([]model.AuditEvent, error) {
	where := and{eq{"entity_type", ref.Type}, eq{"entity_id", ref.ID}}
	if until != nil {
		where = append(where, lte{"timestamp_ns", toNanos(*until)})
	}
	return s.queryEvents(ctx, selectQuery{
		columns: eventColumns,
		from:    "audit_events",
		where:   where,
		orderBy: "sequence ASC",
	})
}

// ListEvents returns every event matching f in ascending sequence order.
func (s *Store) ListEvents(ctx context.Context, f model.EventFilter) ([]model.AuditEvent, error) {
	return s.queryEvents(ctx, selectQuery{
		columns: eventColumns,
		from:    "audit_events",
		where:   eventWhere(f),
		orderBy: "sequence ASC",
	})
}

// SearchEvents returns one page of events matching f plus the total count.
// Pages are newest-first unless p.Ascending is set.
func (s *Store) SearchEvents(ctx context.Context, f model.EventFilter, p model.Page) (model.EventPage, error) {
	limit := p.Limit
	if limit <= 0 {
		limit = DefaultSearchLimit
	}
	if limit > MaxSearchLimit {
		limit = MaxSearchLimit
	}
	offset := max(p.Offset, 0)

	order := "sequence DESC"
	if p.Ascending {
		order = "sequence ASC"
	}

	q := selectQuery{
		columns: eventColumns,
		from:    "audit_events",
		where:   eventWhere(f),
		orderBy: order,
		limit:   limit,
		offset:  offset,
	}

	countSQL, countArgs := q.countQuery()
	var total int
	if err := s.db.QueryRowContext(ctx, countSQL, countArgs...).Scan(&total); err != nil {
		return model.EventPage{}, fmt.Errorf("count events: %w", err)
	}

	events, err := s.queryEvents(ctx, q)
	if err != nil {
		return model.EventPage{}, err
	}

	return model.EventPage{
		Events: events,
		Total:  total,
		Limit:  limit,
		Offset: offset,
	}, nil
}

func eventWhere(f model.EventFilter) and {
	var where and
	if f.EntityType != "" {
		where = append(where, eq{"entity_type", f.EntityType})
	}
	if f.EntityID != "" {
		where = append(where, eq{"entity_id", f.EntityID})
	}
	if f.ActorID != "" {
		where = append(where, eq{"actor_id", f.ActorID})
	}
	if f.Action != "" {
		where = append(where, eq{"action", string(f.Action)})
	}
	if f.Since != nil {
		where = append(where, gte{"timestamp_ns", toNanos(*f.Since)})
	}
	if f.Until != nil {
		where = append(where, lte{"timestamp_ns", toNanos(*f.Until)})
	}
	if f.FromSeq > 0 {
		where = append(where, gte{"sequence", f.FromSeq})
	}
	if f.ToSeq > 0 {
		where = append(where, lte{"sequence", f.ToSeq})
	}
	return where
}

func (s *Store) queryEvents(ctx context.Context, q selectQuery) ([]model.AuditEvent, error) {
	query, args, err := q.build()
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	events := []model.AuditEvent{}
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return events, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEvent(sc scanner) (model.AuditEvent, error) {
	var (
		ev               model.AuditEvent
		action           string
		tsNanos          int64
		oldJSON, newJSON string
	)
	err := sc.Scan(
		&ev.Sequence,
		&ev.EntityType,
		&ev.EntityID,
		&ev.ActorID,
		&action,
		&tsNanos,
		&oldJSON,
		&newJSON,
		&ev.Context.IP,
		&ev.Context.Device,
		&ev.Context.Location,
		&ev.Context.Reason,
		&ev.Checksum,
		&ev.PreviousChecksum,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.AuditEvent{}, err
		}
		return model.AuditEvent{}, fmt.Errorf("scan event: %w", err)
	}

	ev.Action = model.Action(action)
	ev.Timestamp = fromNanos(tsNanos)
	if ev.OldValues, err = unmarshalObject(oldJSON); err != nil {
		return model.AuditEvent{}, fmt.Errorf("event %d: %w", ev.Sequence, err)
	}
	if ev.NewValues, err = unmarshalObject(newJSON); err != nil {
		return model.AuditEvent{}, fmt.Errorf("event %d: %w", ev.Sequence, err)
	}
	return ev, nil
}
