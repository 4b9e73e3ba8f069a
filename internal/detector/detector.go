package detector

import (
	"github.com/yairfalse/geomon/pkg/types"
)

// Config carries the per-layer knobs an algorithm needs.
type Config struct {
	// Threshold is the configured change threshold in percent.
	Threshold float64
	// Fields restricts field-aware algorithms to specific layer fields.
	Fields []string
}

// Outcome is the raw output of one detection algorithm, before it is
// persisted as a ChangeDetectionResult.
type Outcome struct {
	HasChanges         bool
	ChangeTypes        []types.ChangeType
	FeatureCountChange int
	FeatureCountPct    float64
	AreaChange         float64
	AreaChangePct      float64
	CentroidShift      float64
	NewFeatures        int
	DeletedFeatures    int
	ModifiedFeatures   int
	ExceedsThreshold   bool
	ThresholdValues    map[string]float64
	ConfidenceScore    float64
	Details            map[string]any
	AffectedFeatureIDs []string
}

// Detector compares a current snapshot against its predecessor. Variants
// are a closed set registered in the algorithm table; adding one is an
// explicit, reviewable change.
type Detector interface {
	Name() types.Algorithm
	Detect(current, previous *types.Snapshot, cfg Config) (*Outcome, error)
}

// registry is the explicit algorithm table. Construction per call keeps
// detectors stateless.
var registry = map[types.Algorithm]func() Detector{
	types.AlgorithmSimpleCount:         func() Detector { return &SimpleCount{} },
	types.AlgorithmHashComparison:      func() Detector { return &HashComparison{} },
	types.AlgorithmFieldComparison:     func() Detector { return &FieldComparison{} },
	types.AlgorithmGeometricAnalysis:   func() Detector { return &GeometricAnalysis{} },
	types.AlgorithmStatisticalAnalysis: func() Detector { return &StatisticalAnalysis{} },
}

// ForAlgorithm returns the detector for an algorithm key, falling back to
// SimpleCount for unknown keys. The bool reports whether the key was known.
func ForAlgorithm(alg types.Algorithm) (Detector, bool) {
	if ctor, ok := registry[alg]; ok {
		return ctor(), true
	}
	return &SimpleCount{}, false
}

// Algorithms lists the registered algorithm keys.
func Algorithms() []types.Algorithm {
	keys := make([]types.Algorithm, 0, len(registry))
	for k := range registry {
		keys = append(keys, k)
	}
	return keys
}
