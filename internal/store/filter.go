package store

import (
	"fmt"
	"strings"
)

// predicate is a WHERE clause fragment. Values are always bound as
// parameters, never interpolated.
type predicate interface {
	sql() (string, []any)
}

type eq struct {
	column string
	value  any
}

func (p eq) sql() (string, []any) {
	return p.column + " = ?", []any{p.value}
}

type gte struct {
	column string
	value  any
}

func (p gte) sql() (string, []any) {
	return p.column + " >= ?", []any{p.value}
}

type lte struct {
	column string
	value  any
}

func (p lte) sql() (string, []any) {
	return p.column + " <= ?", []any{p.value}
}

type and []predicate

func (p and) sql() (string, []any) {
	if len(p) == 0 {
		return "1 = 1", nil
	}
	parts := make([]string, 0, len(p))
	var args []any
	for _, pred := range p {
		s, a := pred.sql()
		parts = append(parts, s)
		args = append(args, a...)
	}
	return strings.Join(parts, " AND "), args
}

// selectQuery assembles a SELECT over one table. orderBy is mandatory and
// must end in a unique column so that results are deterministic.
type selectQuery struct {
	columns string
	from    string
	where   and
	orderBy string
	limit   int
	offset  int
}

func (q selectQuery) build() (string, []any, error) {
	if q.orderBy == "" {
		return "", nil, fmt.Errorf("query on %s has no ORDER BY", q.from)
	}

	where, args := q.where.sql()
	var b strings.Builder
	fmt.Fprintf(&b, "SELECT %s FROM %s WHERE %s ORDER BY %s", q.columns, q.from, where, q.orderBy)
	if q.limit > 0 {
		b.WriteString(" LIMIT ? OFFSET ?")
		args = append(args, q.limit, q.offset)
	}
	return b.String(), args, nil
}

// countQuery returns the COUNT(*) form of q, ignoring order and paging.
func (q selectQuery) countQuery() (string, []any) {
	where, args := q.where.sql()
	return fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE %s", q.from, where), args
}
