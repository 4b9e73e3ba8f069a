package types

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// ChangeDetectionResult is the outcome of comparing a snapshot against its
// predecessor. A result is created once per comparison attempt and is
// immutable after completion; failed attempts are recorded too so no
// comparison is ever silently lost.
type ChangeDetectionResult struct {
	ID                 string             `json:"id"`
	CurrentSnapshotID  string             `json:"current_snapshot_id"`
	PreviousSnapshotID string             `json:"previous_snapshot_id,omitempty"`
	LayerID            string             `json:"layer_id"`
	Algorithm          Algorithm          `json:"algorithm"`
	DetectionDuration  time.Duration      `json:"detection_duration"`
	ConfidenceScore    float64            `json:"confidence_score"`
	HasChanges         bool               `json:"has_changes"`
	ChangeTypes        []ChangeType       `json:"change_types,omitempty"`
	FeatureCountChange int                `json:"feature_count_change"`
	FeatureCountPct    float64            `json:"feature_count_change_percent"`
	AreaChange         float64            `json:"area_change"`
	AreaChangePct      float64            `json:"area_change_percent"`
	CentroidShift      float64            `json:"centroid_displacement"`
	NewFeatures        int                `json:"new_features"`
	DeletedFeatures    int                `json:"deleted_features"`
	ModifiedFeatures   int                `json:"modified_features"`
	ExceedsThreshold   bool               `json:"exceeds_threshold"`
	ThresholdValues    map[string]float64 `json:"threshold_values,omitempty"`
	Details            map[string]any     `json:"details,omitempty"`
	ProcessingStatus   ProcessingStatus   `json:"processing_status"`
	ErrorMessage       string             `json:"error_message,omitempty"`
	CreatedAt          time.Time          `json:"created_at"`
}

// AffectedFeature names one feature implicated by a detection result. These
// are kept as normalized child rows rather than a blob inside the result so
// large id lists stay indexable.
type AffectedFeature struct {
	ResultID  string `json:"result_id"`
	FeatureID string `json:"feature_id"`
}

// TotalFeaturesAffected is the sum of new, deleted and modified features.
func (r *ChangeDetectionResult) TotalFeaturesAffected() int {
	return r.NewFeatures + r.DeletedFeatures + r.ModifiedFeatures
}

// Severity maps confidence-weighted percent change to a severity band.
func (r *ChangeDetectionResult) Severity() Severity {
	if !r.HasChanges {
		return SeverityNone
	}
	score := math.Abs(r.FeatureCountPct) * r.ConfidenceScore
	switch {
	case score >= 50:
		return SeverityCritical
	case score >= 25:
		return SeverityHigh
	case score >= 10:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

// Summary returns a human readable description of the detected changes.
func (r *ChangeDetectionResult) Summary() string {
	if !r.HasChanges {
		return "No significant changes detected."
	}

	var parts []string
	if r.FeatureCountChange != 0 {
		direction := "increased"
		if r.FeatureCountChange < 0 {
			direction = "decreased"
		}
		parts = append(parts, fmt.Sprintf("Feature count %s by %d (%.1f%%)",
			direction, abs(r.FeatureCountChange), math.Abs(r.FeatureCountPct)))
	}
	if r.NewFeatures > 0 {
		parts = append(parts, fmt.Sprintf("%d new features added", r.NewFeatures))
	}
	if r.DeletedFeatures > 0 {
		parts = append(parts, fmt.Sprintf("%d features removed", r.DeletedFeatures))
	}
	if r.ModifiedFeatures > 0 {
		parts = append(parts, fmt.Sprintf("%d features modified", r.ModifiedFeatures))
	}
	if len(parts) == 0 {
		return "Changes detected in layer properties."
	}
	return strings.Join(parts, "; ")
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
