package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/yairfalse/geomon/pkg/types"
)

const serviceColumns = `id, name, base_url, username, is_monitored, status,
	last_check, last_successful_check, consecutive_failures, created_at`

// InsertService persists one GIS service row.
func (r Repo) InsertService(ctx context.Context, s *types.GISService) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO gis_services (`+serviceColumns+`)
		VALUES (?,?,?,?,?,?,?,?,?,?)`,
		s.ID, s.Name, s.BaseURL, s.Username, s.IsMonitored, string(s.Status),
		nullTime(s.LastCheck), nullTime(s.LastSuccessfulCheck),
		s.ConsecutiveFailures, s.CreatedAt.UTC())
	return err
}

func scanService(row interface{ Scan(...any) error }) (*types.GISService, error) {
	var s types.GISService
	var status string
	var lastCheck, lastOK sql.NullTime
	err := row.Scan(&s.ID, &s.Name, &s.BaseURL, &s.Username, &s.IsMonitored, &status,
		&lastCheck, &lastOK, &s.ConsecutiveFailures, &s.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	s.Status = types.ServiceStatus(status)
	s.LastCheck = scanNullTime(lastCheck)
	s.LastSuccessfulCheck = scanNullTime(lastOK)
	return &s, nil
}

// GetService loads one service by id.
func (r Repo) GetService(ctx context.Context, id string) (*types.GISService, error) {
	return scanService(r.DB.QueryRowContext(ctx,
		`SELECT `+serviceColumns+` FROM gis_services WHERE id = ?`, id))
}

// UpdateServiceStatus applies a health observation with an atomic failure
// increment so concurrent checks never lose an update.
func (r Repo) UpdateServiceStatus(ctx context.Context, id string, status types.ServiceStatus, now time.Time) error {
	if status == types.ServiceStatusActive {
		_, err := r.DB.ExecContext(ctx, `UPDATE gis_services
			SET status = ?, last_check = ?, last_successful_check = ?, consecutive_failures = 0
			WHERE id = ?`, string(status), now.UTC(), now.UTC(), id)
		return err
	}
	_, err := r.DB.ExecContext(ctx, `UPDATE gis_services
		SET status = ?, last_check = ?, consecutive_failures = consecutive_failures + 1
		WHERE id = ?`, string(status), now.UTC(), id)
	return err
}

const layerColumns = `id, service_id, remote_layer_id, name, geometry_type,
	monitoring_enabled, change_threshold, algorithm, detection_fields,
	feature_count, last_feature_count, check_failures,
	last_check, last_successful_check, created_at`

// InsertLayer persists one monitored layer row.
func (r Repo) InsertLayer(ctx context.Context, l *types.MonitoredLayer) error {
	if err := l.Validate(); err != nil {
		return err
	}
	_, err := r.DB.ExecContext(ctx, `INSERT INTO monitored_layers (`+layerColumns+`)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		l.ID, l.ServiceID, l.RemoteLayerID, l.Name, l.GeometryType,
		l.MonitoringEnabled, l.ChangeThreshold, string(l.Algorithm), marshalJSON(l.DetectionFields),
		l.FeatureCount, l.LastFeatureCount, l.CheckFailures,
		nullTime(l.LastCheck), nullTime(l.LastSuccessfulCheck), l.CreatedAt.UTC())
	return err
}

func scanLayer(row interface{ Scan(...any) error }) (*types.MonitoredLayer, error) {
	var l types.MonitoredLayer
	var algorithm, fields string
	var lastCheck, lastOK sql.NullTime
	err := row.Scan(&l.ID, &l.ServiceID, &l.RemoteLayerID, &l.Name, &l.GeometryType,
		&l.MonitoringEnabled, &l.ChangeThreshold, &algorithm, &fields,
		&l.FeatureCount, &l.LastFeatureCount, &l.CheckFailures,
		&lastCheck, &lastOK, &l.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	l.Algorithm = types.Algorithm(algorithm)
	unmarshalJSON(fields, &l.DetectionFields)
	l.LastCheck = scanNullTime(lastCheck)
	l.LastSuccessfulCheck = scanNullTime(lastOK)
	return &l, nil
}

// GetLayer loads one layer by id.
func (r Repo) GetLayer(ctx context.Context, id string) (*types.MonitoredLayer, error) {
	return scanLayer(r.DB.QueryRowContext(ctx,
		`SELECT `+layerColumns+` FROM monitored_layers WHERE id = ?`, id))
}

// ListLayers returns all layers, optionally only monitoring-enabled ones.
func (r Repo) ListLayers(ctx context.Context, enabledOnly bool) ([]*types.MonitoredLayer, error) {
	query := `SELECT ` + layerColumns + ` FROM monitored_layers ORDER BY name`
	if enabledOnly {
		query = `SELECT ` + layerColumns + ` FROM monitored_layers WHERE monitoring_enabled = 1 ORDER BY name`
	}
	rows, err := r.DB.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*types.MonitoredLayer
	for rows.Next() {
		l, err := scanLayer(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// RecordLayerSuccess updates layer bookkeeping after a successful capture:
// feature counts roll forward and the failure counter resets.
func (r Repo) RecordLayerSuccess(ctx context.Context, id string, newCount int, now time.Time) error {
	_, err := r.DB.ExecContext(ctx, `UPDATE monitored_layers
		SET last_feature_count = feature_count,
		    feature_count = ?,
		    check_failures = 0,
		    last_check = ?,
		    last_successful_check = ?
		WHERE id = ?`, newCount, now.UTC(), now.UTC(), id)
	return err
}

// RecordLayerFailure bumps the failure counter with an atomic SQL increment
// (no read-modify-write) and returns the new count.
func (r Repo) RecordLayerFailure(ctx context.Context, id string, now time.Time) (int, error) {
	_, err := r.DB.ExecContext(ctx, `UPDATE monitored_layers
		SET check_failures = check_failures + 1, last_check = ?
		WHERE id = ?`, now.UTC(), id)
	if err != nil {
		return 0, err
	}
	var failures int
	err = r.DB.QueryRowContext(ctx,
		`SELECT check_failures FROM monitored_layers WHERE id = ?`, id).Scan(&failures)
	if err == sql.ErrNoRows {
		return 0, ErrNotFound
	}
	return failures, err
}
