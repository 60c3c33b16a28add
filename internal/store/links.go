package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/traceledger/internal/errs"
	"github.com/roach88/traceledger/internal/model"
)

const linkColumns = `id, source_type, source_id, target_type, target_id, link_type,
	description, created_by, created_at_ns, active, deactivated_by, deactivated_at_ns`

// ErrDuplicateLink is returned when an identical active link already exists.
var ErrDuplicateLink = errors.New("an active link with the same source, target and type already exists")

// WriteLink inserts a traceability link.
func (s *Store) WriteLink(ctx context.Context, l model.TraceabilityLink) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO traceability_links (`+linkColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		l.ID,
		l.Source.Type,
		l.Source.ID,
		l.Target.Type,
		l.Target.ID,
		string(l.LinkType),
		l.Description,
		l.CreatedBy,
		toNanos(l.CreatedAt),
		boolToInt(l.Active),
		l.DeactivatedBy,
		nullableNanos(l.DeactivatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("write link: %w", ErrDuplicateLink)
		}
		return fmt.Errorf("write link: %w", err)
	}
	return nil
}

// DeactivateLink flips an active link to inactive. It returns the updated
// link, NotFound for an unknown id, and a validation error if the link is
// already inactive.
func (s *Store) DeactivateLink(ctx context.Context, id, actor string, at time.Time) (model.TraceabilityLink, error) {
	var out model.TraceabilityLink
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		l, err := readLink(ctx, tx, id)
		if err != nil {
			return err
		}
		if !l.Active {
			return errs.Validation("link %s is already inactive", id)
		}

		if _, err := tx.ExecContext(ctx, `
			UPDATE traceability_links
			SET active = 0, deactivated_by = ?, deactivated_at_ns = ?
			WHERE id = ? AND active = 1
		`, actor, toNanos(at), id); err != nil {
			return fmt.Errorf("deactivate link: %w", err)
		}

		deactivatedAt := at.UTC()
		l.Active = false
		l.DeactivatedBy = actor
		l.DeactivatedAt = &deactivatedAt
		out = l
		return nil
	})
	if err != nil {
		return model.TraceabilityLink{}, err
	}
	return out, nil
}

// ReadLink returns a link by id.
func (s *Store) ReadLink(ctx context.Context, id string) (model.TraceabilityLink, error) {
	return readLink(ctx, s.db, id)
}

func readLink(ctx context.Context, q queryRower, id string) (model.TraceabilityLink, error) {
	row := q.QueryRowContext(ctx, `SELECT `+linkColumns+` FROM traceability_links WHERE id = ?`, id)
	l, err := scanLink(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.TraceabilityLink{}, errs.NotFound("link", id)
	}
	return l, err
}

// OutgoingLinks returns active links whose source is ref.
func (s *Store) OutgoingLinks(ctx context.Context, ref model.EntityRef) ([]model.TraceabilityLink, error) {
	return s.queryLinks(ctx, selectQuery{
		columns: linkColumns,
		from:    "traceability_links",
		where:   and{eq{"source_type", ref.Type}, eq{"source_id", ref.ID}, eq{"active", 1}},
		orderBy: "created_at_ns ASC, id COLLATE BINARY ASC",
	})
}

// IncomingLinks returns active links whose target is ref.
func (s *Store) IncomingLinks(ctx context.Context, ref model.EntityRef) ([]model.TraceabilityLink, error) {
	return s.queryLinks(ctx, selectQuery{
		columns: linkColumns,
		from:    "traceability_links",
		where:   and{eq{"target_type", ref.Type}, eq{"target_id", ref.ID}, eq{"active", 1}},
		orderBy: "created_at_ns ASC, id COLLATE BINARY ASC",
	})
}

// LinksFor returns every link touching ref in either direction. Inactive
// links are included only when includeInactive is set.
func (s *Store) LinksFor(ctx context.Context, ref model.EntityRef, includeInactive bool) ([]model.TraceabilityLink, error) {
	query := `SELECT ` + linkColumns + ` FROM traceability_links
		WHERE ((source_type = ? AND source_id = ?) OR (target_type = ? AND target_id = ?))`
	args := []any{ref.Type, ref.ID, ref.Type, ref.ID}
	if !includeInactive {
		query += ` AND active = 1`
	}
	query += ` ORDER BY created_at_ns ASC, id COLLATE BINARY ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query links: %w", err)
	}
	defer rows.Close()
	return collectLinks(rows)
}

func (s *Store) queryLinks(ctx context.Context, q selectQuery) ([]model.TraceabilityLink, error) {
	query, args, err := q.build()
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query links: %w", err)
	}
	defer rows.Close()
	return collectLinks(rows)
}

func collectLinks(rows *sql.Rows) ([]model.TraceabilityLink, error) {
	links := []model.TraceabilityLink{}
	for rows.Next() {
		l, err := scanLink(rows)
		if err != nil {
			return nil, err
		}
		links = append(links, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate links: %w", err)
	}
	return links, nil
}

func scanLink(sc scanner) (model.TraceabilityLink, error) {
	var (
		l             model.TraceabilityLink
		linkType      string
		createdNanos  int64
		active        int
		deactivatedNs sql.NullInt64
	)
	err := sc.Scan(
		&l.ID,
		&l.Source.Type,
		&l.Source.ID,
		&l.Target.Type,
		&l.Target.ID,
		&linkType,
		&l.Description,
		&l.CreatedBy,
		&createdNanos,
		&active,
		&l.DeactivatedBy,
		&deactivatedNs,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.TraceabilityLink{}, err
		}
		return model.TraceabilityLink{}, fmt.Errorf("scan link: %w", err)
	}

	l.LinkType = model.LinkType(linkType)
	l.CreatedAt = fromNanos(createdNanos)
	l.Active = active == 1
	if deactivatedNs.Valid {
		t := fromNanos(deactivatedNs.Int64)
		l.DeactivatedAt = &t
	}
	return l, nil
}
