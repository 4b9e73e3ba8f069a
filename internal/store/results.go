package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/yairfalse/geomon/pkg/types"
)

const resultColumns = `id, current_snapshot_id, previous_snapshot_id, layer_id,
	algorithm, detection_duration_ms, confidence_score, has_changes, change_types,
	feature_count_change, feature_count_change_percent,
	area_change, area_change_percent, centroid_displacement,
	new_features, deleted_features, modified_features,
	exceeds_threshold, threshold_values, details,
	processing_status, error_message, created_at`

// InsertResult persists a detection result and its affected feature rows in
// one transaction so the child rows never exist without their parent.
func (r Repo) InsertResult(ctx context.Context, res *types.ChangeDetectionResult, affected []types.AffectedFeature) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var prev any
	if res.PreviousSnapshotID != "" {
		prev = res.PreviousSnapshotID
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO change_results (`+resultColumns+`)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		res.ID, res.CurrentSnapshotID, prev, res.LayerID,
		string(res.Algorithm), res.DetectionDuration.Milliseconds(), res.ConfidenceScore,
		res.HasChanges, marshalJSON(res.ChangeTypes),
		res.FeatureCountChange, res.FeatureCountPct,
		res.AreaChange, res.AreaChangePct, res.CentroidShift,
		res.NewFeatures, res.DeletedFeatures, res.ModifiedFeatures,
		res.ExceedsThreshold, marshalJSON(res.ThresholdValues), marshalJSON(res.Details),
		string(res.ProcessingStatus), res.ErrorMessage, res.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("insert result: %w", err)
	}

	for _, af := range affected {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO affected_features (result_id, feature_id) VALUES (?,?)`,
			res.ID, af.FeatureID); err != nil {
			return fmt.Errorf("insert affected feature: %w", err)
		}
	}

	return tx.Commit()
}

func scanResult(row interface{ Scan(...any) error }) (*types.ChangeDetectionResult, error) {
	var res types.ChangeDetectionResult
	var prev sql.NullString
	var durationMs int64
	var changeTypes, thresholds, details string
	var algorithm, status string
	err := row.Scan(&res.ID, &res.CurrentSnapshotID, &prev, &res.LayerID,
		&algorithm, &durationMs, &res.ConfidenceScore, &res.HasChanges, &changeTypes,
		&res.FeatureCountChange, &res.FeatureCountPct,
		&res.AreaChange, &res.AreaChangePct, &res.CentroidShift,
		&res.NewFeatures, &res.DeletedFeatures, &res.ModifiedFeatures,
		&res.ExceedsThreshold, &thresholds, &details,
		&status, &res.ErrorMessage, &res.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if prev.Valid {
		res.PreviousSnapshotID = prev.String
	}
	res.Algorithm = types.Algorithm(algorithm)
	res.ProcessingStatus = types.ProcessingStatus(status)
	res.DetectionDuration = time.Duration(durationMs) * time.Millisecond
	unmarshalJSON(changeTypes, &res.ChangeTypes)
	unmarshalJSON(thresholds, &res.ThresholdValues)
	unmarshalJSON(details, &res.Details)
	return &res, nil
}

// GetResult loads one detection result by id.
func (r Repo) GetResult(ctx context.Context, id string) (*types.ChangeDetectionResult, error) {
	return scanResult(r.DB.QueryRowContext(ctx,
		`SELECT `+resultColumns+` FROM change_results WHERE id = ?`, id))
}

// ListResultsByLayer returns a layer's detection results, newest first.
func (r Repo) ListResultsByLayer(ctx context.Context, layerID string, limit int) ([]*types.ChangeDetectionResult, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.DB.QueryContext(ctx,
		`SELECT `+resultColumns+` FROM change_results
		 WHERE layer_id = ? ORDER BY created_at DESC LIMIT ?`, layerID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*types.ChangeDetectionResult
	for rows.Next() {
		res, err := scanResult(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, res)
	}
	return out, rows.Err()
}

// ListAffectedFeatures returns the feature ids implicated by a result.
func (r Repo) ListAffectedFeatures(ctx context.Context, resultID string) ([]string, error) {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT feature_id FROM affected_features WHERE result_id = ? ORDER BY feature_id`, resultID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// UpdateResultStatus moves a result's processing status forward. Backwards
// transitions are rejected.
func (r Repo) UpdateResultStatus(ctx context.Context, id string, next types.ProcessingStatus) error {
	res, err := r.GetResult(ctx, id)
	if err != nil {
		return err
	}
	if !res.ProcessingStatus.CanTransition(next) {
		return fmt.Errorf("store: invalid status transition %s -> %s", res.ProcessingStatus, next)
	}
	_, err = r.DB.ExecContext(ctx,
		`UPDATE change_results SET processing_status = ? WHERE id = ?`, string(next), id)
	return err
}
