package types

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestProcessingStatusTransitions(t *testing.T) {
	tests := []struct {
		from, to ProcessingStatus
		ok       bool
	}{
		{ProcessingPending, ProcessingProcessing, true},
		{ProcessingProcessing, ProcessingCompleted, true},
		{ProcessingProcessing, ProcessingFailed, true},
		{ProcessingPending, ProcessingCompleted, true},
		{ProcessingCompleted, ProcessingProcessing, false},
		{ProcessingFailed, ProcessingPending, false},
		{ProcessingCompleted, ProcessingFailed, false},
		{ProcessingPending, ProcessingPending, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.ok, tt.from.CanTransition(tt.to), "%s -> %s", tt.from, tt.to)
	}
}

func TestSeverityBands(t *testing.T) {
	tests := []struct {
		name       string
		hasChanges bool
		pct        float64
		confidence float64
		want       Severity
	}{
		{"no changes", false, 80, 0.99, SeverityNone},
		{"critical", true, 60, 0.95, SeverityCritical},
		{"critical negative", true, -60, 0.95, SeverityCritical},
		{"high", true, 30, 0.95, SeverityHigh},
		{"medium", true, 15, 0.95, SeverityMedium},
		{"low", true, 5, 0.95, SeverityLow},
		{"low confidence drags down", true, 60, 0.10, SeverityLow},
		{"boundary 50", true, 50, 1.0, SeverityCritical},
		{"boundary 25", true, 25, 1.0, SeverityHigh},
		{"boundary 10", true, 10, 1.0, SeverityMedium},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &ChangeDetectionResult{
				HasChanges:      tt.hasChanges,
				FeatureCountPct: tt.pct,
				ConfidenceScore: tt.confidence,
			}
			assert.Equal(t, tt.want, r.Severity())
		})
	}
}

func TestSeverityAtLeast(t *testing.T) {
	assert.True(t, SeverityCritical.AtLeast(SeverityMedium))
	assert.True(t, SeverityMedium.AtLeast(SeverityMedium))
	assert.False(t, SeverityLow.AtLeast(SeverityMedium))
	assert.False(t, SeverityNone.AtLeast(SeverityLow))
}

func TestCountChangeFromZeroPrevious(t *testing.T) {
	prev := &Snapshot{FeatureCount: 0}

	cur := &Snapshot{FeatureCount: 100}
	delta, pct := cur.CountChangeFrom(prev)
	assert.Equal(t, 100, delta)
	assert.Equal(t, 100.0, pct)

	cur = &Snapshot{FeatureCount: 0}
	delta, pct = cur.CountChangeFrom(prev)
	assert.Zero(t, delta)
	assert.Zero(t, pct)
}

func TestCountChangeFrom(t *testing.T) {
	prev := &Snapshot{FeatureCount: 100}

	delta, pct := (&Snapshot{FeatureCount: 0}).CountChangeFrom(prev)
	assert.Equal(t, -100, delta)
	assert.Equal(t, -100.0, pct)

	delta, pct = (&Snapshot{FeatureCount: 121}).CountChangeFrom(prev)
	assert.Equal(t, 21, delta)
	assert.InDelta(t, 21.0, pct, 0.0001)
}

func TestJobRecordRunCircuitBreaker(t *testing.T) {
	now := time.Now().UTC()
	job := &MonitoringJob{Status: JobStatusActive}

	for i := 1; i < MaxConsecutiveFailures; i++ {
		job.RecordRun(false, now)
		assert.Equal(t, i, job.ConsecutiveFailures)
		assert.Equal(t, JobStatusActive, job.Status)
	}

	job.RecordRun(false, now)
	assert.Equal(t, MaxConsecutiveFailures, job.ConsecutiveFailures)
	assert.Equal(t, JobStatusError, job.Status)
}

func TestJobRecordRunSuccessResets(t *testing.T) {
	now := time.Now().UTC()
	job := &MonitoringJob{Status: JobStatusActive, ConsecutiveFailures: 3}

	job.RecordRun(true, now)
	assert.Zero(t, job.ConsecutiveFailures)
	assert.Equal(t, now, job.LastSuccessfulRun)
	assert.Equal(t, now, job.LastRun)
}

func TestJobRearm(t *testing.T) {
	now := time.Now().UTC()

	job := &MonitoringJob{Status: JobStatusError, ConsecutiveFailures: 5}
	assert.True(t, job.Rearm(now))
	assert.Equal(t, JobStatusActive, job.Status)
	assert.Zero(t, job.ConsecutiveFailures)

	// only errored jobs re-arm
	paused := &MonitoringJob{Status: JobStatusPaused}
	assert.False(t, paused.Rearm(now))
	assert.Equal(t, JobStatusPaused, paused.Status)
}

func TestLayerShouldBeMonitored(t *testing.T) {
	active := &GISService{IsMonitored: true, Status: ServiceStatusActive}

	layer := &MonitoredLayer{MonitoringEnabled: true}
	assert.True(t, layer.ShouldBeMonitored(active))

	assert.False(t, layer.ShouldBeMonitored(nil))
	assert.False(t, layer.ShouldBeMonitored(&GISService{IsMonitored: false, Status: ServiceStatusActive}))
	assert.False(t, layer.ShouldBeMonitored(&GISService{IsMonitored: true, Status: ServiceStatusError}))

	layer.MonitoringEnabled = false
	assert.False(t, layer.ShouldBeMonitored(active))
}

func TestLayerRecordCheckFailure(t *testing.T) {
	now := time.Now().UTC()
	layer := &MonitoredLayer{}

	assert.False(t, layer.RecordCheckFailure(now))
	assert.False(t, layer.RecordCheckFailure(now))
	assert.True(t, layer.RecordCheckFailure(now), "alert threshold reached at %d failures", AvailabilityAlertAfter)
	assert.True(t, layer.RecordCheckFailure(now))
}

func TestLayerChangePercent(t *testing.T) {
	l := &MonitoredLayer{LastFeatureCount: 0, FeatureCount: 5}
	assert.Equal(t, 100.0, l.ChangePercent())

	l = &MonitoredLayer{LastFeatureCount: 0, FeatureCount: 0}
	assert.Zero(t, l.ChangePercent())

	l = &MonitoredLayer{LastFeatureCount: 200, FeatureCount: 150}
	assert.Equal(t, 25.0, l.ChangePercent())
}

func TestParseAlgorithm(t *testing.T) {
	assert.Equal(t, AlgorithmGeometricAnalysis, ParseAlgorithm("geometric_analysis"))
	assert.Equal(t, AlgorithmSimpleCount, ParseAlgorithm("bogus"))
	assert.Equal(t, AlgorithmSimpleCount, ParseAlgorithm(""))
}

func TestExtentAreaAndCentroid(t *testing.T) {
	e := Extent{XMin: 10, YMin: 50, XMax: 12, YMax: 51}
	assert.Equal(t, 2.0, e.Area())
	assert.Equal(t, Point{X: 11, Y: 50.5}, e.Centroid())
	assert.False(t, e.IsZero())
	assert.True(t, Extent{}.IsZero())
}

func TestResultSummary(t *testing.T) {
	r := &ChangeDetectionResult{HasChanges: false}
	assert.Equal(t, "No significant changes detected.", r.Summary())

	r = &ChangeDetectionResult{
		HasChanges:         true,
		FeatureCountChange: -12,
		FeatureCountPct:    -10.7,
		DeletedFeatures:    12,
	}
	s := r.Summary()
	assert.Contains(t, s, "decreased by 12")
	assert.Contains(t, s, "12 features removed")
}
