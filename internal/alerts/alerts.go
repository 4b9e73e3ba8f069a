package alerts

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/yairfalse/geomon/internal/logger"
	"github.com/yairfalse/geomon/pkg/types"
)

// Alert is one raised notification about a layer.
type Alert struct {
	ID        string         `json:"id"`
	LayerID   string         `json:"layer_id"`
	LayerName string         `json:"layer_name"`
	Kind      string         `json:"kind"`
	Severity  types.Severity `json:"severity"`
	Message   string         `json:"message"`
	ResultID  string         `json:"result_id,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

const (
	KindChangeDetected   = "change_detected"
	KindLayerUnavailable = "layer_unavailable"
)

// Notifier receives alerts raised during sweeps. Implementations must be
// safe for concurrent use; sweeps fan out across layers.
type Notifier interface {
	NotifyChangeDetected(ctx context.Context, layer *types.MonitoredLayer, result *types.ChangeDetectionResult) error
	NotifyLayerUnavailable(ctx context.Context, layer *types.MonitoredLayer, failures int) error
}

// NewAlert builds an alert envelope shared by all notifier backends.
func NewAlert(layer *types.MonitoredLayer, kind string, severity types.Severity, message string) Alert {
	return Alert{
		ID:        uuid.New().String(),
		LayerID:   layer.ID,
		LayerName: layer.Name,
		Kind:      kind,
		Severity:  severity,
		Message:   message,
		CreatedAt: time.Now().UTC(),
	}
}

// LogNotifier writes alerts to the structured log. It is the default
// backend and the fallback when no webhook is configured.
type LogNotifier struct {
	Log logger.Logger
	// MinSeverity drops change alerts below this floor. Availability
	// alerts always pass.
	MinSeverity types.Severity
}

func NewLogNotifier(log logger.Logger, minSeverity types.Severity) *LogNotifier {
	if minSeverity == "" {
		minSeverity = types.SeverityLow
	}
	return &LogNotifier{Log: log, MinSeverity: minSeverity}
}

func (n *LogNotifier) NotifyChangeDetected(ctx context.Context, layer *types.MonitoredLayer, result *types.ChangeDetectionResult) error {
	severity := result.Severity()
	if !severity.AtLeast(n.MinSeverity) {
		return nil
	}
	n.Log.WithFields(map[string]any{
		"layer":      layer.Name,
		"layer_id":   layer.ID,
		"algorithm":  result.Algorithm,
		"severity":   severity,
		"confidence": result.ConfidenceScore,
		"result_id":  result.ID,
	}).Warn(result.Summary())
	return nil
}

func (n *LogNotifier) NotifyLayerUnavailable(ctx context.Context, layer *types.MonitoredLayer, failures int) error {
	n.Log.WithFields(map[string]any{
		"layer":    layer.Name,
		"layer_id": layer.ID,
		"failures": failures,
	}).Error("layer unavailable")
	return nil
}

// Fanout forwards each alert to every backend, collecting the first error
// after all backends have been tried.
type Fanout []Notifier

func (f Fanout) NotifyChangeDetected(ctx context.Context, layer *types.MonitoredLayer, result *types.ChangeDetectionResult) error {
	var first error
	for _, n := range f {
		if err := n.NotifyChangeDetected(ctx, layer, result); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (f Fanout) NotifyLayerUnavailable(ctx context.Context, layer *types.MonitoredLayer, failures int) error {
	var first error
	for _, n := range f {
		if err := n.NotifyLayerUnavailable(ctx, layer, failures); err != nil && first == nil {
			first = err
		}
	}
	return first
}
