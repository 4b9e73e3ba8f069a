package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/yairfalse/geomon/pkg/types"
)

const snapshotColumns = `id, layer_id, hash, feature_count, total_area,
	extent_xmin, extent_ymin, extent_xmax, extent_ymax,
	centroid_x, centroid_y, has_geometry,
	attribute_stats, null_counts, unique_values,
	collection_time_ms, data_size_bytes, is_valid, validation_errors, created_at`

// InsertSnapshot persists one immutable snapshot row.
func (r Repo) InsertSnapshot(ctx context.Context, s *types.Snapshot) error {
	if err := s.Validate(); err != nil {
		return fmt.Errorf("invalid snapshot: %w", err)
	}
	_, err := r.DB.ExecContext(ctx, `INSERT INTO snapshots (`+snapshotColumns+`)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		s.ID, s.LayerID, s.Hash, s.FeatureCount, s.TotalArea,
		s.Extent.XMin, s.Extent.YMin, s.Extent.XMax, s.Extent.YMax,
		s.Centroid.X, s.Centroid.Y, s.HasGeometry,
		marshalJSON(s.AttributeStats), marshalJSON(s.NullCounts), marshalJSON(s.UniqueValues),
		s.CollectionTime.Milliseconds(), s.DataSizeBytes, s.IsValid,
		marshalJSON(s.ValidationErrors), s.CreatedAt.UTC())
	return err
}

func scanSnapshot(row interface{ Scan(...any) error }) (*types.Snapshot, error) {
	var s types.Snapshot
	var collectionMs int64
	var stats, nulls, uniques, verrs string
	err := row.Scan(&s.ID, &s.LayerID, &s.Hash, &s.FeatureCount, &s.TotalArea,
		&s.Extent.XMin, &s.Extent.YMin, &s.Extent.XMax, &s.Extent.YMax,
		&s.Centroid.X, &s.Centroid.Y, &s.HasGeometry,
		&stats, &nulls, &uniques,
		&collectionMs, &s.DataSizeBytes, &s.IsValid, &verrs, &s.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	s.CollectionTime = time.Duration(collectionMs) * time.Millisecond
	unmarshalJSON(stats, &s.AttributeStats)
	unmarshalJSON(nulls, &s.NullCounts)
	unmarshalJSON(uniques, &s.UniqueValues)
	unmarshalJSON(verrs, &s.ValidationErrors)
	return &s, nil
}

// GetSnapshot loads one snapshot by id.
func (r Repo) GetSnapshot(ctx context.Context, id string) (*types.Snapshot, error) {
	return scanSnapshot(r.DB.QueryRowContext(ctx,
		`SELECT `+snapshotColumns+` FROM snapshots WHERE id = ?`, id))
}

// LatestSnapshot returns the most recent valid snapshot of a layer.
func (r Repo) LatestSnapshot(ctx context.Context, layerID string) (*types.Snapshot, error) {
	return scanSnapshot(r.DB.QueryRowContext(ctx,
		`SELECT `+snapshotColumns+` FROM snapshots
		 WHERE layer_id = ? AND is_valid = 1
		 ORDER BY created_at DESC, id DESC LIMIT 1`, layerID))
}

// PreviousSnapshot returns the most recent valid snapshot of the layer
// created strictly before t. This is the one "previous snapshot" every
// comparison chains to: ordering by creation time with id as tiebreaker
// guarantees at most one predecessor and no cycles.
func (r Repo) PreviousSnapshot(ctx context.Context, layerID string, t time.Time) (*types.Snapshot, error) {
	return scanSnapshot(r.DB.QueryRowContext(ctx,
		`SELECT `+snapshotColumns+` FROM snapshots
		 WHERE layer_id = ? AND is_valid = 1 AND created_at < ?
		 ORDER BY created_at DESC, id DESC LIMIT 1`, layerID, t.UTC()))
}

// ListSnapshots returns snapshots of a layer, newest first.
func (r Repo) ListSnapshots(ctx context.Context, layerID string, limit int) ([]*types.Snapshot, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.DB.QueryContext(ctx,
		`SELECT `+snapshotColumns+` FROM snapshots
		 WHERE layer_id = ? ORDER BY created_at DESC, id DESC LIMIT ?`, layerID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*types.Snapshot
	for rows.Next() {
		s, err := scanSnapshot(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// PinSnapshot records that an alert references a snapshot so retention
// cannot reclaim it until the alert is resolved.
func (r Repo) PinSnapshot(ctx context.Context, alertID, snapshotID string) error {
	_, err := r.DB.ExecContext(ctx,
		`INSERT INTO alert_refs (alert_id, snapshot_id, resolved) VALUES (?,?,0)
		 ON CONFLICT (alert_id, snapshot_id) DO NOTHING`, alertID, snapshotID)
	return err
}

// ResolveAlertRefs releases every snapshot pinned by an alert.
func (r Repo) ResolveAlertRefs(ctx context.Context, alertID string) error {
	_, err := r.DB.ExecContext(ctx,
		`UPDATE alert_refs SET resolved = 1 WHERE alert_id = ?`, alertID)
	return err
}

// ReclaimDuplicateSnapshots deletes the interior snapshots of consecutive
// identical-hash runs. The first snapshot of a run shows when the content
// appeared and the latest keeps the comparison chain anchored; everything
// between them carries no information. Pinned snapshots are left alone.
// Returns the number of rows deleted.
func (r Repo) ReclaimDuplicateSnapshots(ctx context.Context) (int, error) {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM snapshots WHERE id IN (
		SELECT id FROM (
			SELECT id, hash,
			       LAG(hash)  OVER w AS prev_hash,
			       LEAD(hash) OVER w AS next_hash
			FROM snapshots
			WINDOW w AS (PARTITION BY layer_id ORDER BY created_at, id)
		) WHERE hash = prev_hash AND hash = next_hash
	) AND id NOT IN (SELECT snapshot_id FROM alert_refs WHERE resolved = 0)`)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// DeleteSnapshotsOlderThan removes snapshots created before the cutoff in
// batches, skipping any snapshot still pinned by an unresolved alert.
// Returns the number of rows deleted.
func (r Repo) DeleteSnapshotsOlderThan(ctx context.Context, cutoff time.Time, batchSize int) (int, error) {
	if batchSize <= 0 {
		batchSize = 100
	}
	total := 0
	for {
		res, err := r.DB.ExecContext(ctx, `DELETE FROM snapshots WHERE id IN (
			SELECT id FROM snapshots
			WHERE created_at < ?
			  AND id NOT IN (SELECT snapshot_id FROM alert_refs WHERE resolved = 0)
			LIMIT ?)`, cutoff.UTC(), batchSize)
		if err != nil {
			return total, err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return total, err
		}
		total += int(n)
		if int(n) < batchSize {
			return total, nil
		}
	}
}
