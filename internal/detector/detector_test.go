package detector

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yairfalse/geomon/pkg/types"
)

func snap(count int, hash string) *types.Snapshot {
	return &types.Snapshot{
		ID:           "snap-" + hash,
		LayerID:      "layer-1",
		Hash:         hash,
		FeatureCount: count,
		IsValid:      true,
		CreatedAt:    time.Now().UTC(),
	}
}

func geoSnap(count int, hash string, area, cx, cy float64) *types.Snapshot {
	s := snap(count, hash)
	s.HasGeometry = true
	s.TotalArea = area
	s.Centroid = types.Point{X: cx, Y: cy}
	return s
}

func TestSimpleCountChange(t *testing.T) {
	d := &SimpleCount{}
	out, err := d.Detect(snap(121, "b"), snap(100, "a"), Config{Threshold: 10})
	require.NoError(t, err)

	assert.True(t, out.HasChanges)
	assert.Equal(t, 21, out.FeatureCountChange)
	assert.InDelta(t, 21.0, out.FeatureCountPct, 0.001)
	assert.Equal(t, []types.ChangeType{types.ChangeTypeFeatureCount}, out.ChangeTypes)
	assert.Equal(t, 0.95, out.ConfidenceScore)
	assert.Equal(t, 21, out.NewFeatures)
	assert.Equal(t, 0, out.DeletedFeatures)
	assert.True(t, out.ExceedsThreshold) // 21% >= doubled 20%
}

func TestSimpleCountNoChange(t *testing.T) {
	d := &SimpleCount{}
	out, err := d.Detect(snap(105, "b"), snap(100, "a"), Config{Threshold: 10})
	require.NoError(t, err)

	assert.False(t, out.HasChanges)
	assert.Empty(t, out.ChangeTypes)
	assert.Equal(t, 0.98, out.ConfidenceScore)
	assert.False(t, out.ExceedsThreshold)
}

func TestSimpleCountZeroPrevious(t *testing.T) {
	d := &SimpleCount{}

	out, err := d.Detect(snap(7, "b"), snap(0, "a"), Config{Threshold: 10})
	require.NoError(t, err)
	assert.InDelta(t, 100.0, out.FeatureCountPct, 0.001)
	assert.True(t, out.HasChanges)

	out, err = d.Detect(snap(0, "b"), snap(0, "a"), Config{Threshold: 10})
	require.NoError(t, err)
	assert.Zero(t, out.FeatureCountPct)
	assert.False(t, out.HasChanges)
}

func TestHashComparison(t *testing.T) {
	d := &HashComparison{}

	out, err := d.Detect(snap(100, "bbb"), snap(100, "aaa"), Config{Threshold: 10})
	require.NoError(t, err)
	assert.True(t, out.HasChanges)
	assert.Equal(t, 0.99, out.ConfidenceScore)
	assert.ElementsMatch(t, []types.ChangeType{types.ChangeTypeAttribute, types.ChangeTypeGeometry}, out.ChangeTypes)

	out, err = d.Detect(snap(100, "aaa"), snap(100, "aaa"), Config{Threshold: 10})
	require.NoError(t, err)
	assert.False(t, out.HasChanges)
	assert.Equal(t, 0.80, out.ConfidenceScore)
}

func TestFieldComparisonSyntheticAffected(t *testing.T) {
	d := &FieldComparison{}
	out, err := d.Detect(snap(112, "bbb"), snap(100, "aaa"), Config{Threshold: 10, Fields: []string{"STATUS"}})
	require.NoError(t, err)

	assert.True(t, out.HasChanges)
	assert.Equal(t, 0.70, out.ConfidenceScore)
	// 12 added features, capped at 5 synthetic ids
	assert.Equal(t, []string{"NEW_0", "NEW_1", "NEW_2", "NEW_3", "NEW_4"}, out.AffectedFeatureIDs)
}

func TestFieldComparisonUnchanged(t *testing.T) {
	d := &FieldComparison{}
	out, err := d.Detect(snap(100, "aaa"), snap(100, "aaa"), Config{Threshold: 10})
	require.NoError(t, err)

	assert.False(t, out.HasChanges)
	assert.Equal(t, 0.95, out.ConfidenceScore)
	assert.Empty(t, out.AffectedFeatureIDs)
}

func TestGeometricAnalysis(t *testing.T) {
	d := &GeometricAnalysis{}

	cur := geoSnap(100, "b", 1500, 10.0, 50.0)
	prev := geoSnap(100, "a", 1000, 10.0, 50.0)
	out, err := d.Detect(cur, prev, Config{Threshold: 10})
	require.NoError(t, err)
	assert.True(t, out.HasChanges)
	assert.Equal(t, 0.85, out.ConfidenceScore)
	assert.InDelta(t, 50.0, out.AreaChangePct, 0.001)
	assert.Equal(t, []types.ChangeType{types.ChangeTypeGeometry}, out.ChangeTypes)

	out, err = d.Detect(geoSnap(100, "b", 1000, 10.0, 50.0), prev, Config{Threshold: 10})
	require.NoError(t, err)
	assert.False(t, out.HasChanges)
	assert.Equal(t, 0.95, out.ConfidenceScore)
}

func TestGeometricAnalysisSkipsWithoutGeometry(t *testing.T) {
	d := &GeometricAnalysis{}
	out, err := d.Detect(snap(100, "b"), snap(100, "a"), Config{Threshold: 10})
	require.NoError(t, err)

	assert.False(t, out.HasChanges)
	assert.Zero(t, out.AreaChange)
	assert.Zero(t, out.CentroidShift)
}

func TestStatisticalAnalysis(t *testing.T) {
	d := &StatisticalAnalysis{}

	cur := snap(100, "b")
	cur.AttributeStats = map[string]types.FieldStats{
		"POPULATION": {Count: 100, Mean: 150},
		"AREA_SQKM":  {Count: 100, Mean: 10.2},
	}
	prev := snap(100, "a")
	prev.AttributeStats = map[string]types.FieldStats{
		"POPULATION": {Count: 100, Mean: 100},
		"AREA_SQKM":  {Count: 100, Mean: 10.0},
	}

	out, err := d.Detect(cur, prev, Config{Threshold: 10})
	require.NoError(t, err)
	assert.True(t, out.HasChanges)
	assert.Equal(t, 0.80, out.ConfidenceScore)
	assert.Equal(t, []types.ChangeType{types.ChangeTypeStatistical}, out.ChangeTypes)
	assert.True(t, out.ExceedsThreshold)

	sig, ok := out.Details["significant_changes"].(map[string]map[string]float64)
	require.True(t, ok)
	require.Contains(t, sig, "POPULATION")
	assert.NotContains(t, sig, "AREA_SQKM")
	assert.InDelta(t, 50.0, sig["POPULATION"]["change_percentage"], 0.001)
}

func TestStatisticalAnalysisUnchanged(t *testing.T) {
	d := &StatisticalAnalysis{}
	out, err := d.Detect(snap(100, "b"), snap(100, "a"), Config{Threshold: 10})
	require.NoError(t, err)

	assert.False(t, out.HasChanges)
	assert.Equal(t, 0.90, out.ConfidenceScore)
}

func TestForAlgorithmFallback(t *testing.T) {
	d, known := ForAlgorithm("nope")
	assert.False(t, known)
	assert.Equal(t, types.AlgorithmSimpleCount, d.Name())

	d, known = ForAlgorithm(types.AlgorithmGeometricAnalysis)
	assert.True(t, known)
	assert.Equal(t, types.AlgorithmGeometricAnalysis, d.Name())
}

func TestCheckThresholdsDoubles(t *testing.T) {
	exceeds, _ := checkThresholds(basicMetrics{FeatureCountPct: 15}, 10)
	assert.False(t, exceeds, "15 percent is above the raw threshold but below the doubled one")

	exceeds, _ = checkThresholds(basicMetrics{FeatureCountPct: 20}, 10)
	assert.True(t, exceeds)

	exceeds, _ = checkThresholds(basicMetrics{AreaChangePct: -25}, 10)
	assert.True(t, exceeds)
}

type failingDetector struct{}

func (failingDetector) Name() types.Algorithm { return types.AlgorithmSimpleCount }
func (failingDetector) Detect(current, previous *types.Snapshot, cfg Config) (*Outcome, error) {
	return nil, errors.New("boom")
}

func TestRunRecordsFailure(t *testing.T) {
	res, affected := Run(failingDetector{}, snap(100, "b"), snap(90, "a"), Config{Threshold: 10})

	assert.Equal(t, types.ProcessingFailed, res.ProcessingStatus)
	assert.False(t, res.HasChanges)
	assert.Zero(t, res.ConfidenceScore)
	assert.Equal(t, "boom", res.ErrorMessage)
	assert.Empty(t, affected)
}

func TestRunNilPrevious(t *testing.T) {
	res, _ := Run(&SimpleCount{}, snap(100, "b"), nil, Config{Threshold: 10})

	assert.Equal(t, types.ProcessingFailed, res.ProcessingStatus)
	assert.Empty(t, res.PreviousSnapshotID)
	assert.Contains(t, res.ErrorMessage, "no previous snapshot")
}

func TestRunSuccess(t *testing.T) {
	cur, prev := snap(112, "bbb"), snap(100, "aaa")
	res, affected := Run(&FieldComparison{}, cur, prev, Config{Threshold: 10})

	assert.Equal(t, types.ProcessingCompleted, res.ProcessingStatus)
	assert.Equal(t, prev.ID, res.PreviousSnapshotID)
	assert.True(t, res.HasChanges)
	assert.Len(t, affected, 5)
	for _, f := range affected {
		assert.Equal(t, res.ID, f.ResultID)
	}
}

func TestCentroidDistance(t *testing.T) {
	// one degree of latitude is about 111 km
	d := centroidDistance(types.Point{X: 10, Y: 51}, types.Point{X: 10, Y: 50})
	assert.InDelta(t, 111195, d, 500)

	assert.Zero(t, centroidDistance(types.Point{X: 10, Y: 50}, types.Point{X: 10, Y: 50}))
}
