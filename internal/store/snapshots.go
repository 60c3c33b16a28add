package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"

	"github.com/roach88/traceledger/internal/errs"
	"github.com/roach88/traceledger/internal/model"
)

const snapshotColumns = `id, entity_type, entity_id, version, data, snapshot_trigger, created_by, created_at_ns`

// AppendSnapshot stores snap as the next version for its entity. The
// version is computed as max(version)+1 inside the write transaction and
// returned on the stored snapshot.
func (s *Store) AppendSnapshot(ctx context.Context, snap model.Snapshot) (model.Snapshot, error) {
	dataJSON, err := marshalObject(snap.Data)
	if err != nil {
		return model.Snapshot{}, fmt.Errorf("write snapshot: %w", err)
	}

	err = s.withTx(ctx, func(tx *sql.Tx) error {
		var current int64
		if err := tx.QueryRowContext(ctx, `
			SELECT COALESCE(MAX(version), 0) FROM entity_snapshots
			WHERE entity_type = ? AND entity_id = ?
		`, snap.Entity.Type, snap.Entity.ID).Scan(&current); err != nil {
			return fmt.Errorf("read snapshot version: %w", err)
		}
		snap.Version = current + 1

		_, err := tx.ExecContext(ctx, `
			INSERT INTO entity_snapshots (`+snapshotColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`,
			snap.ID,
			snap.Entity.Type,
			snap.Entity.ID,
			snap.Version,
			dataJSON,
			snap.Trigger,
			snap.CreatedBy,
			toNanos(snap.CreatedAt),
		)
		if err != nil {
			return fmt.Errorf("write snapshot: %w", err)
		}
		return nil
	})
	if err != nil {
		return model.Snapshot{}, err
	}
	return snap, nil
}

// ReadSnapshot returns one version of an entity's snapshot.
func (s *Store) ReadSnapshot(ctx context.Context, ref model.EntityRef, version int64) (model.Snapshot, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+snapshotColumns+` FROM entity_snapshots
		WHERE entity_type = ? AND entity_id = ? AND version = ?
	`, ref.Type, ref.ID, version)
	snap, err := scanSnapshot(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Snapshot{}, errs.NotFound("snapshot", ref.String()+"@v"+strconv.FormatInt(version, 10))
	}
	return snap, err
}

// LatestSnapshot returns the highest version for an entity.
func (s *Store) LatestSnapshot(ctx context.Context, ref model.EntityRef) (model.Snapshot, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+snapshotColumns+` FROM entity_snapshots
		WHERE entity_type = ? AND entity_id = ?
		ORDER BY version DESC
		LIMIT 1
	`, ref.Type, ref.ID)
	snap, err := scanSnapshot(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Snapshot{}, errs.NotFound("snapshot", ref.String())
	}
	return snap, err
}

// ListSnapshots returns all versions for an entity in ascending order.
func (s *Store) ListSnapshots(ctx context.Context, ref model.EntityRef) ([]model.Snapshot, error) {
	query, args, err := selectQuery{
		columns: snapshotColumns,
		from:    "entity_snapshots",
		where:   and{eq{"entity_type", ref.Type}, eq{"entity_id", ref.ID}},
		orderBy: "version ASC",
	}.build()
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query snapshots: %w", err)
	}
	defer rows.Close()

	snaps := []model.Snapshot{}
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, err
		}
		snaps = append(snaps, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate snapshots: %w", err)
	}
	return snaps, nil
}

func scanSnapshot(sc scanner) (model.Snapshot, error) {
	var (
		snap     model.Snapshot
		dataJSON string
		created  int64
	)
	err := sc.Scan(
		&snap.ID,
		&snap.Entity.Type,
		&snap.Entity.ID,
		&snap.Version,
		&dataJSON,
		&snap.Trigger,
		&snap.CreatedBy,
		&created,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Snapshot{}, err
		}
		return model.Snapshot{}, fmt.Errorf("scan snapshot: %w", err)
	}
	snap.CreatedAt = fromNanos(created)
	if snap.Data, err = unmarshalObject(dataJSON); err != nil {
		return model.Snapshot{}, fmt.Errorf("snapshot %s: %w", snap.ID, err)
	}
	return snap, nil
}
