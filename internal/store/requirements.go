package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/traceledger/internal/errs"
	"github.com/roach88/traceledger/internal/model"
)

const requirementColumns = `id, number, title, source, category, priority, created_at_ns`

const requirementLinkColumns = `id, requirement_id, entity_type, entity_id, verification_method, status, created_at_ns`

// ErrDuplicateRequirement is returned when a requirement number is reused.
var ErrDuplicateRequirement = errors.New("requirement number already exists")

// ErrDuplicateEvidence is returned when an entity is already linked to the
// requirement.
var ErrDuplicateEvidence = errors.New("entity is already linked to this requirement")

// WriteRequirement inserts a requirement.
func (s *Store) WriteRequirement(ctx context.Context, r model.Requirement) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO requirements (`+requirementColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		r.ID,
		r.Number,
		r.Title,
		r.Source,
		r.Category,
		string(r.Priority),
		toNanos(r.CreatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("write requirement %s: %w", r.Number, ErrDuplicateRequirement)
		}
		return fmt.Errorf("write requirement: %w", err)
	}
	return nil
}

// ReadRequirement returns a requirement by id.
func (s *Store) ReadRequirement(ctx context.Context, id string) (model.Requirement, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+requirementColumns+` FROM requirements WHERE id = ?`, id)
	r, err := scanRequirement(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Requirement{}, errs.NotFound("requirement", id)
	}
	return r, err
}

// ListRequirements returns requirements matching f ordered by number.
func (s *Store) ListRequirements(ctx context.Context, f model.RequirementFilter) ([]model.Requirement, error) {
	var where and
	if f.Category != "" {
		where = append(where, eq{"category", f.Category})
	}
	if f.Priority != "" {
		where = append(where, eq{"priority", string(f.Priority)})
	}
	if f.Source != "" {
		where = append(where, eq{"source", f.Source})
	}

	query, args, err := selectQuery{
		columns: requirementColumns,
		from:    "requirements",
		where:   where,
		orderBy: "number COLLATE BINARY ASC",
	}.build()
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query requirements: %w", err)
	}
	defer rows.Close()

	reqs := []model.Requirement{}
	for rows.Next() {
		r, err := scanRequirement(rows)
		if err != nil {
			return nil, err
		}
		reqs = append(reqs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate requirements: %w", err)
	}
	return reqs, nil
}

// WriteRequirementLink inserts an evidence link. The requirement must exist.
func (s *Store) WriteRequirementLink(ctx context.Context, l model.RequirementLink) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		var exists int
		err := tx.QueryRowContext(ctx, `SELECT 1 FROM requirements WHERE id = ?`, l.RequirementID).Scan(&exists)
		if errors.Is(err, sql.ErrNoRows) {
			return errs.NotFound("requirement", l.RequirementID)
		}
		if err != nil {
			return fmt.Errorf("write requirement link: %w", err)
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO requirement_links (`+requirementLinkColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`,
			l.ID,
			l.RequirementID,
			l.Entity.Type,
			l.Entity.ID,
			l.VerificationMethod,
			string(l.Status),
			toNanos(l.CreatedAt),
		)
		if err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("write requirement link: %w", ErrDuplicateEvidence)
			}
			return fmt.Errorf("write requirement link: %w", err)
		}
		return nil
	})
}

// RequirementLinks returns every evidence link grouped by requirement id.
// Links within a requirement are ordered by creation time then id.
func (s *Store) RequirementLinks(ctx context.Context) (map[string][]model.RequirementLink, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+requirementLinkColumns+`
		FROM requirement_links
		ORDER BY requirement_id COLLATE BINARY ASC, created_at_ns ASC, id COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query requirement links: %w", err)
	}
	defer rows.Close()

	out := make(map[string][]model.RequirementLink)
	for rows.Next() {
		var (
			l       model.RequirementLink
			status  string
			created int64
		)
		if err := rows.Scan(
			&l.ID,
			&l.RequirementID,
			&l.Entity.Type,
			&l.Entity.ID,
			&l.VerificationMethod,
			&status,
			&created,
		); err != nil {
			return nil, fmt.Errorf("scan requirement link: %w", err)
		}
		l.Status = model.VerificationStatus(status)
		l.CreatedAt = fromNanos(created)
		out[l.RequirementID] = append(out[l.RequirementID], l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate requirement links: %w", err)
	}
	return out, nil
}

func scanRequirement(sc scanner) (model.Requirement, error) {
	var (
		r        model.Requirement
		priority string
		created  int64
	)
	err := sc.Scan(&r.ID, &r.Number, &r.Title, &r.Source, &r.Category, &priority, &created)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Requirement{}, err
		}
		return model.Requirement{}, fmt.Errorf("scan requirement: %w", err)
	}
	r.Priority = model.Priority(priority)
	r.CreatedAt = fromNanos(created)
	return r, nil
}
