package detector

import (
	"fmt"
	"math"

	"github.com/yairfalse/geomon/pkg/types"
)

// SimpleCount flags change when the feature count moved by at least the
// configured threshold percent. It cannot name specific features.
type SimpleCount struct{}

func (d *SimpleCount) Name() types.Algorithm { return types.AlgorithmSimpleCount }

func (d *SimpleCount) Detect(current, previous *types.Snapshot, cfg Config) (*Outcome, error) {
	m := compareBasicMetrics(current, previous)

	hasChanges := math.Abs(m.FeatureCountPct) >= cfg.Threshold
	var changeTypes []types.ChangeType
	if hasChanges {
		changeTypes = append(changeTypes, types.ChangeTypeFeatureCount)
	}

	exceeds, thresholds := checkThresholds(m, cfg.Threshold)

	confidence := 0.98
	if hasChanges {
		confidence = 0.95
	}

	return &Outcome{
		HasChanges:         hasChanges,
		ChangeTypes:        changeTypes,
		FeatureCountChange: m.FeatureCountChange,
		FeatureCountPct:    m.FeatureCountPct,
		AreaChange:         m.AreaChange,
		AreaChangePct:      m.AreaChangePct,
		CentroidShift:      m.CentroidShift,
		NewFeatures:        positivePart(m.FeatureCountChange),
		DeletedFeatures:    positivePart(-m.FeatureCountChange),
		ExceedsThreshold:   exceeds,
		ThresholdValues:    thresholds,
		ConfidenceScore:    confidence,
		Details: map[string]any{
			"changes_by_category": map[string]any{
				"features": map[string]int{
					"added":   positivePart(m.FeatureCountChange),
					"removed": positivePart(-m.FeatureCountChange),
				},
				"geometry": map[string]float64{
					"area_change":           m.AreaChange,
					"centroid_displacement": m.CentroidShift,
				},
			},
		},
	}, nil
}

// HashComparison flags change on any content digest mismatch. High
// confidence when the digests differ, lower when they match because the
// digest alone cannot prove nothing changed between captures.
type HashComparison struct{}

func (d *HashComparison) Name() types.Algorithm { return types.AlgorithmHashComparison }

func (d *HashComparison) Detect(current, previous *types.Snapshot, cfg Config) (*Outcome, error) {
	hasChanges := current.Hash != previous.Hash
	var changeTypes []types.ChangeType
	if hasChanges {
		changeTypes = append(changeTypes, types.ChangeTypeAttribute, types.ChangeTypeGeometry)
	}

	m := compareBasicMetrics(current, previous)
	exceeds, thresholds := checkThresholds(m, cfg.Threshold)

	confidence := 0.80
	if hasChanges {
		confidence = 0.99
	}

	newFeatures, deletedFeatures := 0, 0
	if hasChanges {
		newFeatures = positivePart(m.FeatureCountChange)
		deletedFeatures = positivePart(-m.FeatureCountChange)
	}

	return &Outcome{
		HasChanges:         hasChanges,
		ChangeTypes:        changeTypes,
		FeatureCountChange: m.FeatureCountChange,
		FeatureCountPct:    m.FeatureCountPct,
		AreaChange:         m.AreaChange,
		AreaChangePct:      m.AreaChangePct,
		CentroidShift:      m.CentroidShift,
		NewFeatures:        newFeatures,
		DeletedFeatures:    deletedFeatures,
		ExceedsThreshold:   exceeds,
		ThresholdValues:    thresholds,
		ConfidenceScore:    confidence,
		Details: map[string]any{
			"snapshot_hashes": map[string]string{
				"current":  current.Hash,
				"previous": previous.Hash,
			},
		},
	}, nil
}

// maxApproxAffected caps how many synthetic affected-feature ids
// FieldComparison reports; without per-feature refetch it can only
// approximate a subset.
const maxApproxAffected = 5

// FieldComparison combines the count delta with a digest mismatch as a
// proxy for attribute-level change. True field-by-field diffing would
// require refetching every feature and is deliberately not done here.
type FieldComparison struct{}

func (d *FieldComparison) Name() types.Algorithm { return types.AlgorithmFieldComparison }

func (d *FieldComparison) Detect(current, previous *types.Snapshot, cfg Config) (*Outcome, error) {
	m := compareBasicMetrics(current, previous)

	countChanged := math.Abs(m.FeatureCountPct) >= cfg.Threshold
	fieldsChanged := current.Hash != previous.Hash
	hasChanges := countChanged || fieldsChanged

	var changeTypes []types.ChangeType
	if countChanged {
		changeTypes = append(changeTypes, types.ChangeTypeFeatureCount)
	}
	if fieldsChanged {
		changeTypes = append(changeTypes, types.ChangeTypeAttribute)
	}

	exceeds, thresholds := checkThresholds(m, cfg.Threshold)

	confidence := 0.95
	if hasChanges {
		confidence = 0.70
	}

	var affected []string
	if hasChanges {
		for i := 0; i < min(positivePart(m.FeatureCountChange), maxApproxAffected); i++ {
			affected = append(affected, fmt.Sprintf("NEW_%d", i))
		}
		for i := 0; i < min(positivePart(-m.FeatureCountChange), maxApproxAffected); i++ {
			affected = append(affected, fmt.Sprintf("DEL_%d", i))
		}
	}

	return &Outcome{
		HasChanges:         hasChanges,
		ChangeTypes:        changeTypes,
		FeatureCountChange: m.FeatureCountChange,
		FeatureCountPct:    m.FeatureCountPct,
		AreaChange:         m.AreaChange,
		AreaChangePct:      m.AreaChangePct,
		CentroidShift:      m.CentroidShift,
		NewFeatures:        positivePart(m.FeatureCountChange),
		DeletedFeatures:    positivePart(-m.FeatureCountChange),
		ExceedsThreshold:   exceeds,
		ThresholdValues:    thresholds,
		ConfidenceScore:    confidence,
		AffectedFeatureIDs: affected,
		Details: map[string]any{
			"fields_compared":         cfg.Fields,
			"potential_field_changes": fieldsChanged,
		},
	}, nil
}

// GeometricAnalysis flags change when the approximate area delta or the
// centroid displacement crosses the threshold. Both signals derive from
// bounding extents, not unioned feature geometries.
type GeometricAnalysis struct{}

func (d *GeometricAnalysis) Name() types.Algorithm { return types.AlgorithmGeometricAnalysis }

func (d *GeometricAnalysis) Detect(current, previous *types.Snapshot, cfg Config) (*Outcome, error) {
	m := compareBasicMetrics(current, previous)

	hasAreaChanges := math.Abs(m.AreaChangePct) >= cfg.Threshold
	hasLocationChanges := m.CentroidShift >= cfg.Threshold
	hasChanges := hasAreaChanges || hasLocationChanges

	var changeTypes []types.ChangeType
	if hasChanges {
		changeTypes = append(changeTypes, types.ChangeTypeGeometry)
	}

	exceeds, thresholds := checkThresholds(m, cfg.Threshold)
	if !exceeds && hasAreaChanges {
		exceeds = true
	}

	confidence := 0.95
	if hasChanges {
		confidence = 0.85
	}

	newFeatures, deletedFeatures := 0, 0
	if hasChanges {
		newFeatures = positivePart(m.FeatureCountChange)
		deletedFeatures = positivePart(-m.FeatureCountChange)
	}

	return &Outcome{
		HasChanges:         hasChanges,
		ChangeTypes:        changeTypes,
		FeatureCountChange: m.FeatureCountChange,
		FeatureCountPct:    m.FeatureCountPct,
		AreaChange:         m.AreaChange,
		AreaChangePct:      m.AreaChangePct,
		CentroidShift:      m.CentroidShift,
		NewFeatures:        newFeatures,
		DeletedFeatures:    deletedFeatures,
		ExceedsThreshold:   exceeds,
		ThresholdValues:    thresholds,
		ConfidenceScore:    confidence,
		Details: map[string]any{
			"geometric_metrics": map[string]float64{
				"area_change":           m.AreaChange,
				"area_change_percent":   m.AreaChangePct,
				"centroid_displacement": m.CentroidShift,
			},
		},
	}, nil
}

// StatisticalAnalysis compares per-field aggregate statistics across
// snapshots, flagging fields whose mean moved by the threshold percent.
type StatisticalAnalysis struct{}

func (d *StatisticalAnalysis) Name() types.Algorithm { return types.AlgorithmStatisticalAnalysis }

func (d *StatisticalAnalysis) Detect(current, previous *types.Snapshot, cfg Config) (*Outcome, error) {
	m := compareBasicMetrics(current, previous)

	hasChanges := false
	significant := map[string]map[string]float64{}
	comparedFields := make([]string, 0, len(current.AttributeStats))

	for field, curStats := range current.AttributeStats {
		comparedFields = append(comparedFields, field)
		prevStats, ok := previous.AttributeStats[field]
		if !ok || prevStats.Mean == 0 {
			continue
		}
		changePct := math.Abs((curStats.Mean-prevStats.Mean)/prevStats.Mean) * 100
		if changePct >= cfg.Threshold {
			significant[field] = map[string]float64{
				"previous_mean":     prevStats.Mean,
				"current_mean":      curStats.Mean,
				"change_percentage": changePct,
			}
			hasChanges = true
		}
	}

	exceeds, thresholds := checkThresholds(m, cfg.Threshold)
	if len(significant) > 0 {
		exceeds = true
	}

	confidence := 0.90
	if hasChanges {
		confidence = 0.80
	}

	newFeatures, deletedFeatures := 0, 0
	if hasChanges {
		newFeatures = positivePart(m.FeatureCountChange)
		deletedFeatures = positivePart(-m.FeatureCountChange)
	}

	return &Outcome{
		HasChanges:         hasChanges,
		ChangeTypes:        []types.ChangeType{types.ChangeTypeStatistical},
		FeatureCountChange: m.FeatureCountChange,
		FeatureCountPct:    m.FeatureCountPct,
		AreaChange:         m.AreaChange,
		AreaChangePct:      m.AreaChangePct,
		CentroidShift:      m.CentroidShift,
		NewFeatures:        newFeatures,
		DeletedFeatures:    deletedFeatures,
		ExceedsThreshold:   exceeds,
		ThresholdValues:    thresholds,
		ConfidenceScore:    confidence,
		Details: map[string]any{
			"significant_changes": significant,
			"compared_fields":     comparedFields,
		},
	}, nil
}
