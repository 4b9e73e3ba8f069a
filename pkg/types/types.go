package types

// JobStatus is the lifecycle state of a monitoring job.
type JobStatus string

const (
	JobStatusActive  JobStatus = "active"
	JobStatusPaused  JobStatus = "paused"
	JobStatusStopped JobStatus = "stopped"
	JobStatusError   JobStatus = "error"
)

// ServiceStatus is the observed health of a GIS service.
type ServiceStatus string

const (
	ServiceStatusActive   ServiceStatus = "active"
	ServiceStatusInactive ServiceStatus = "inactive"
	ServiceStatusError    ServiceStatus = "error"
	ServiceStatusUnknown  ServiceStatus = "unknown"
)

// Algorithm selects which change detection strategy a job or layer uses.
type Algorithm string

const (
	AlgorithmSimpleCount         Algorithm = "simple_count"
	AlgorithmHashComparison      Algorithm = "hash_comparison"
	AlgorithmFieldComparison     Algorithm = "field_comparison"
	AlgorithmGeometricAnalysis   Algorithm = "geometric_analysis"
	AlgorithmStatisticalAnalysis Algorithm = "statistical_analysis"
)

// ChangeType tags the kind of change a detection result observed.
type ChangeType string

const (
	ChangeTypeFeatureCount ChangeType = "feature_count"
	ChangeTypeAttribute    ChangeType = "attribute"
	ChangeTypeGeometry     ChangeType = "geometry"
	ChangeTypeSchema       ChangeType = "schema"
	ChangeTypeStatistical  ChangeType = "statistical"
	ChangeTypeAvailability ChangeType = "availability"
)

// ProcessingStatus tracks a detection result through its lifecycle.
// Transitions only move forward: pending -> processing -> completed|failed.
type ProcessingStatus string

const (
	ProcessingPending    ProcessingStatus = "pending"
	ProcessingProcessing ProcessingStatus = "processing"
	ProcessingCompleted  ProcessingStatus = "completed"
	ProcessingFailed     ProcessingStatus = "failed"
)

var processingRank = map[ProcessingStatus]int{
	ProcessingPending:    0,
	ProcessingProcessing: 1,
	ProcessingCompleted:  2,
	ProcessingFailed:     2,
}

// CanTransition reports whether a processing status may move to next.
// Completed and failed are terminal.
func (s ProcessingStatus) CanTransition(next ProcessingStatus) bool {
	cur, ok := processingRank[s]
	if !ok {
		return false
	}
	nxt, ok := processingRank[next]
	if !ok {
		return false
	}
	return nxt > cur
}

// Severity bands for a detected change.
type Severity string

const (
	SeverityNone     Severity = "none"
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

var severityRank = map[Severity]int{
	SeverityNone:     0,
	SeverityLow:      1,
	SeverityMedium:   2,
	SeverityHigh:     3,
	SeverityCritical: 4,
}

// AtLeast reports whether s meets or exceeds the floor severity.
func (s Severity) AtLeast(floor Severity) bool {
	return severityRank[s] >= severityRank[floor]
}

// ParseAlgorithm maps a string key to an Algorithm, falling back to
// simple_count for unknown keys so a bad config never breaks a sweep.
func ParseAlgorithm(s string) Algorithm {
	switch Algorithm(s) {
	case AlgorithmSimpleCount, AlgorithmHashComparison, AlgorithmFieldComparison,
		AlgorithmGeometricAnalysis, AlgorithmStatisticalAnalysis:
		return Algorithm(s)
	default:
		return AlgorithmSimpleCount
	}
}
