package types

import "time"

// LogEntry is one structured line in an execution's append-only log.
type LogEntry struct {
	Timestamp time.Time      `json:"timestamp"`
	Level     string         `json:"level"`
	Message   string         `json:"message"`
	Fields    map[string]any `json:"fields,omitempty"`
}

// ResourceMetrics captures coarse resource usage for one sweep.
type ResourceMetrics struct {
	PeakGoroutines int   `json:"peak_goroutines,omitempty"`
	HeapBytes      int64 `json:"heap_bytes,omitempty"`
}

// MonitoringJobExecution is the audit record of one sweep attempt. It is
// created at sweep start, appended to during the sweep, and finalized once
// at sweep end.
type MonitoringJobExecution struct {
	ID               string          `json:"id"`
	JobID            string          `json:"job_id"`
	StartedAt        time.Time       `json:"started_at"`
	CompletedAt      time.Time       `json:"completed_at,omitzero"`
	Duration         time.Duration   `json:"duration"`
	Success          bool            `json:"success"`
	ErrorMessage     string          `json:"error_message,omitempty"`
	LayersProcessed  int             `json:"layers_processed"`
	SnapshotsCreated int             `json:"snapshots_created"`
	ChangesDetected  int             `json:"changes_detected"`
	AlertsCreated    int             `json:"alerts_created"`
	ErrorCount       int             `json:"error_count"`
	ExecutionLog     []LogEntry      `json:"execution_log,omitempty"`
	Metrics          ResourceMetrics `json:"metrics,omitempty"`
}

// MarkCompleted finalizes the execution. It is safe to call exactly once.
func (e *MonitoringJobExecution) MarkCompleted(success bool, errMsg string, now time.Time) {
	e.CompletedAt = now
	e.Duration = now.Sub(e.StartedAt)
	e.Success = success
	if errMsg != "" {
		e.ErrorMessage = errMsg
	}
}

// AddLogEntry appends one structured entry to the execution log.
func (e *MonitoringJobExecution) AddLogEntry(level, message string, fields map[string]any) {
	e.ExecutionLog = append(e.ExecutionLog, LogEntry{
		Timestamp: time.Now().UTC(),
		Level:     level,
		Message:   message,
		Fields:    fields,
	})
}
