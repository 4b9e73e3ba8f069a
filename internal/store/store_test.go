package store

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yairfalse/geomon/pkg/types"
)

func testRepo(t *testing.T) Repo {
	t.Helper()
	db, err := OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return Repo{DB: db}
}

func seedService(t *testing.T, r Repo) *types.GISService {
	t.Helper()
	svc := &types.GISService{
		ID:          uuid.New().String(),
		Name:        "city-gis",
		BaseURL:     "https://gis.example.com/arcgis/rest/services/City/MapServer",
		IsMonitored: true,
		Status:      types.ServiceStatusActive,
		CreatedAt:   time.Now().UTC(),
	}
	require.NoError(t, r.InsertService(context.Background(), svc))
	return svc
}

func seedLayer(t *testing.T, r Repo, serviceID string) *types.MonitoredLayer {
	t.Helper()
	layer := &types.MonitoredLayer{
		ID:                uuid.New().String(),
		ServiceID:         serviceID,
		RemoteLayerID:     7,
		Name:              "parcels",
		MonitoringEnabled: true,
		ChangeThreshold:   10,
		Algorithm:         types.AlgorithmSimpleCount,
		DetectionFields:   []string{"STATUS"},
		CreatedAt:         time.Now().UTC(),
	}
	require.NoError(t, r.InsertLayer(context.Background(), layer))
	return layer
}

func seedSnapshot(t *testing.T, r Repo, layerID string, count int, at time.Time) *types.Snapshot {
	t.Helper()
	s := &types.Snapshot{
		ID:           uuid.New().String(),
		LayerID:      layerID,
		Hash:         uuid.New().String(),
		FeatureCount: count,
		IsValid:      true,
		CreatedAt:    at,
	}
	require.NoError(t, r.InsertSnapshot(context.Background(), s))
	return s
}

func TestMigrateIdempotent(t *testing.T) {
	db, err := OpenMemory()
	require.NoError(t, err)
	defer db.Close()

	// OpenMemory already migrated once; a second and third pass must be
	// no-ops, not errors
	require.NoError(t, Migrate(db))
	require.NoError(t, Migrate(db))

	var version int
	require.NoError(t, db.QueryRow(`SELECT MAX(version) FROM schema_version`).Scan(&version))
	assert.GreaterOrEqual(t, version, 1)
}

func TestSnapshotRoundTrip(t *testing.T) {
	r := testRepo(t)
	svc := seedService(t, r)
	layer := seedLayer(t, r, svc.ID)
	ctx := context.Background()

	s := &types.Snapshot{
		ID:           uuid.New().String(),
		LayerID:      layer.ID,
		Hash:         "abc123",
		FeatureCount: 42,
		TotalArea:    1.5,
		Extent:       types.Extent{XMin: 10, YMin: 50, XMax: 11, YMax: 51},
		Centroid:     types.Point{X: 10.5, Y: 50.5},
		HasGeometry:  true,
		AttributeStats: map[string]types.FieldStats{
			"STATUS": {Count: 42, UniqueCount: 3},
		},
		CollectionTime: 1500 * time.Millisecond,
		DataSizeBytes:  2048,
		IsValid:        true,
		CreatedAt:      time.Now().UTC(),
	}
	require.NoError(t, r.InsertSnapshot(ctx, s))

	got, err := r.GetSnapshot(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, s.Hash, got.Hash)
	assert.Equal(t, s.FeatureCount, got.FeatureCount)
	assert.Equal(t, s.Extent, got.Extent)
	assert.Equal(t, s.Centroid, got.Centroid)
	assert.Equal(t, 3, got.AttributeStats["STATUS"].UniqueCount)
	assert.Equal(t, 1500*time.Millisecond, got.CollectionTime)
}

func TestPreviousSnapshotPicksNewestBefore(t *testing.T) {
	r := testRepo(t)
	svc := seedService(t, r)
	layer := seedLayer(t, r, svc.ID)
	ctx := context.Background()
	now := time.Now().UTC()

	seedSnapshot(t, r, layer.ID, 10, now.Add(-3*time.Hour))
	middle := seedSnapshot(t, r, layer.ID, 20, now.Add(-2*time.Hour))
	latest := seedSnapshot(t, r, layer.ID, 30, now.Add(-time.Hour))

	prev, err := r.PreviousSnapshot(ctx, layer.ID, latest.CreatedAt)
	require.NoError(t, err)
	assert.Equal(t, middle.ID, prev.ID)

	// no predecessor before the oldest snapshot
	_, err = r.PreviousSnapshot(ctx, layer.ID, now.Add(-4*time.Hour))
	assert.ErrorIs(t, err, ErrNotFound)

	got, err := r.LatestSnapshot(ctx, layer.ID)
	require.NoError(t, err)
	assert.Equal(t, latest.ID, got.ID)
}

func TestInsertResultWithAffectedFeatures(t *testing.T) {
	r := testRepo(t)
	svc := seedService(t, r)
	layer := seedLayer(t, r, svc.ID)
	ctx := context.Background()
	now := time.Now().UTC()

	prev := seedSnapshot(t, r, layer.ID, 100, now.Add(-time.Hour))
	cur := seedSnapshot(t, r, layer.ID, 112, now)

	res := &types.ChangeDetectionResult{
		ID:                 uuid.New().String(),
		CurrentSnapshotID:  cur.ID,
		PreviousSnapshotID: prev.ID,
		LayerID:            layer.ID,
		Algorithm:          types.AlgorithmFieldComparison,
		ConfidenceScore:    0.70,
		HasChanges:         true,
		ChangeTypes:        []types.ChangeType{types.ChangeTypeFeatureCount},
		FeatureCountChange: 12,
		FeatureCountPct:    12,
		ProcessingStatus:   types.ProcessingCompleted,
		CreatedAt:          now,
	}
	affected := []types.AffectedFeature{
		{ResultID: res.ID, FeatureID: "NEW_0"},
		{ResultID: res.ID, FeatureID: "NEW_1"},
	}
	require.NoError(t, r.InsertResult(ctx, res, affected))

	got, err := r.GetResult(ctx, res.ID)
	require.NoError(t, err)
	assert.True(t, got.HasChanges)
	assert.Equal(t, types.AlgorithmFieldComparison, got.Algorithm)
	assert.Equal(t, []types.ChangeType{types.ChangeTypeFeatureCount}, got.ChangeTypes)

	ids, err := r.ListAffectedFeatures(ctx, res.ID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"NEW_0", "NEW_1"}, ids)
}

func TestUpdateResultStatusForwardOnly(t *testing.T) {
	r := testRepo(t)
	svc := seedService(t, r)
	layer := seedLayer(t, r, svc.ID)
	ctx := context.Background()

	cur := seedSnapshot(t, r, layer.ID, 100, time.Now().UTC())
	res := &types.ChangeDetectionResult{
		ID:                uuid.New().String(),
		CurrentSnapshotID: cur.ID,
		LayerID:           layer.ID,
		Algorithm:         types.AlgorithmSimpleCount,
		ProcessingStatus:  types.ProcessingProcessing,
		CreatedAt:         time.Now().UTC(),
	}
	require.NoError(t, r.InsertResult(ctx, res, nil))

	require.NoError(t, r.UpdateResultStatus(ctx, res.ID, types.ProcessingCompleted))

	err := r.UpdateResultStatus(ctx, res.ID, types.ProcessingProcessing)
	assert.ErrorContains(t, err, "invalid status transition")

	got, err := r.GetResult(ctx, res.ID)
	require.NoError(t, err)
	assert.Equal(t, types.ProcessingCompleted, got.ProcessingStatus)
}

func TestLayerFailureCounterIsAtomic(t *testing.T) {
	r := testRepo(t)
	svc := seedService(t, r)
	layer := seedLayer(t, r, svc.ID)
	ctx := context.Background()
	now := time.Now().UTC()

	for want := 1; want <= 3; want++ {
		n, err := r.RecordLayerFailure(ctx, layer.ID, now)
		require.NoError(t, err)
		assert.Equal(t, want, n)
	}

	require.NoError(t, r.RecordLayerSuccess(ctx, layer.ID, 110, now))
	got, err := r.GetLayer(ctx, layer.ID)
	require.NoError(t, err)
	assert.Zero(t, got.CheckFailures)
	assert.Equal(t, 110, got.FeatureCount)
	// success rotates the current count into last_feature_count
	assert.Equal(t, 0, got.LastFeatureCount)

	require.NoError(t, r.RecordLayerSuccess(ctx, layer.ID, 120, now))
	got, err = r.GetLayer(ctx, layer.ID)
	require.NoError(t, err)
	assert.Equal(t, 120, got.FeatureCount)
	assert.Equal(t, 110, got.LastFeatureCount)
}

func TestJobRoundTripWithLayers(t *testing.T) {
	r := testRepo(t)
	svc := seedService(t, r)
	l1 := seedLayer(t, r, svc.ID)
	l2 := &types.MonitoredLayer{
		ID: uuid.New().String(), ServiceID: svc.ID, RemoteLayerID: 8,
		Name: "roads", MonitoringEnabled: true, CreatedAt: time.Now().UTC(),
	}
	ctx := context.Background()
	require.NoError(t, r.InsertLayer(ctx, l2))

	job := &types.MonitoringJob{
		ID:                 uuid.New().String(),
		Name:               "nightly",
		LayerIDs:           []string{l1.ID, l2.ID},
		ScheduleExpression: "0 2 * * *",
		Status:             types.JobStatusActive,
		Algorithm:          types.AlgorithmHashComparison,
		ChangeThreshold:    5,
		NextRun:            time.Now().UTC().Add(-time.Minute),
		CreatedAt:          time.Now().UTC(),
		UpdatedAt:          time.Now().UTC(),
	}
	require.NoError(t, r.InsertJob(ctx, job))

	got, err := r.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{l1.ID, l2.ID}, got.LayerIDs)
	assert.Equal(t, types.AlgorithmHashComparison, got.Algorithm)

	due, err := r.DueJobs(ctx, time.Now().UTC())
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, job.ID, due[0].ID)

	// paused jobs drop out of the due set
	require.NoError(t, r.UpdateJobStatus(ctx, job.ID, types.JobStatusPaused, time.Now().UTC()))
	due, err = r.DueJobs(ctx, time.Now().UTC())
	require.NoError(t, err)
	assert.Empty(t, due)
}

func TestSoftDisableKeepsHistory(t *testing.T) {
	r := testRepo(t)
	svc := seedService(t, r)
	layer := seedLayer(t, r, svc.ID)
	ctx := context.Background()

	job := &types.MonitoringJob{
		ID: uuid.New().String(), Name: "j", LayerIDs: []string{layer.ID},
		ScheduleExpression: "1h", Status: types.JobStatusActive,
		CreatedAt: time.Now().UTC(), UpdatedAt: time.Now().UTC(),
	}
	require.NoError(t, r.InsertJob(ctx, job))

	exec := &types.MonitoringJobExecution{
		ID: uuid.New().String(), JobID: job.ID, StartedAt: time.Now().UTC(),
	}
	require.NoError(t, r.InsertExecution(ctx, exec))

	require.NoError(t, r.SoftDisableJob(ctx, job.ID, time.Now().UTC()))

	got, err := r.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, types.JobStatusStopped, got.Status)

	execs, err := r.ListExecutions(ctx, job.ID, 10)
	require.NoError(t, err)
	assert.Len(t, execs, 1)
}

func TestServiceStatusFailureCounter(t *testing.T) {
	r := testRepo(t)
	svc := seedService(t, r)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, r.UpdateServiceStatus(ctx, svc.ID, types.ServiceStatusError, now))
	require.NoError(t, r.UpdateServiceStatus(ctx, svc.ID, types.ServiceStatusError, now))

	got, err := r.GetService(ctx, svc.ID)
	require.NoError(t, err)
	assert.Equal(t, types.ServiceStatusError, got.Status)
	assert.Equal(t, 2, got.ConsecutiveFailures)

	require.NoError(t, r.UpdateServiceStatus(ctx, svc.ID, types.ServiceStatusActive, now))
	got, err = r.GetService(ctx, svc.ID)
	require.NoError(t, err)
	assert.Zero(t, got.ConsecutiveFailures)
	assert.False(t, got.LastSuccessfulCheck.IsZero())
}

func TestRearmJobOnlyFromError(t *testing.T) {
	r := testRepo(t)
	svc := seedService(t, r)
	layer := seedLayer(t, r, svc.ID)
	ctx := context.Background()

	job := &types.MonitoringJob{
		ID: uuid.New().String(), Name: "j", LayerIDs: []string{layer.ID},
		ScheduleExpression: "1h", Status: types.JobStatusActive,
		CreatedAt: time.Now().UTC(), UpdatedAt: time.Now().UTC(),
	}
	require.NoError(t, r.InsertJob(ctx, job))

	// active job: re-arm is rejected
	assert.Error(t, r.RearmJob(ctx, job.ID, time.Now().UTC()))

	require.NoError(t, r.UpdateJobStatus(ctx, job.ID, types.JobStatusError, time.Now().UTC()))
	require.NoError(t, r.RearmJob(ctx, job.ID, time.Now().UTC()))

	got, err := r.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, types.JobStatusActive, got.Status)
	assert.Zero(t, got.ConsecutiveFailures)
}
