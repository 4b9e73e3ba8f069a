package alerts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/yairfalse/geomon/pkg/types"
)

// WebhookPayload is the JSON body posted to a configured webhook URL.
type WebhookPayload struct {
	Timestamp time.Time      `json:"timestamp"`
	Source    string         `json:"source"`
	Alert     Alert          `json:"alert"`
	Change    *WebhookChange `json:"change,omitempty"`
}

// WebhookChange carries the detection detail for change alerts.
type WebhookChange struct {
	Algorithm          types.Algorithm `json:"algorithm"`
	Confidence         float64         `json:"confidence"`
	FeatureCountChange int             `json:"feature_count_change"`
	FeatureCountPct    float64         `json:"feature_count_change_percent"`
	AreaChangePct      float64         `json:"area_change_percent"`
	NewFeatures        int             `json:"new_features"`
	DeletedFeatures    int             `json:"deleted_features"`
	ExceedsThreshold   bool            `json:"exceeds_threshold"`
}

// WebhookNotifier posts alerts to an HTTP endpoint.
type WebhookNotifier struct {
	URL         string
	MinSeverity types.Severity
	client      *http.Client
}

func NewWebhookNotifier(url string, minSeverity types.Severity) *WebhookNotifier {
	if minSeverity == "" {
		minSeverity = types.SeverityMedium
	}
	return &WebhookNotifier{
		URL:         url,
		MinSeverity: minSeverity,
		client:      &http.Client{Timeout: 30 * time.Second},
	}
}

func (n *WebhookNotifier) NotifyChangeDetected(ctx context.Context, layer *types.MonitoredLayer, result *types.ChangeDetectionResult) error {
	severity := result.Severity()
	if !severity.AtLeast(n.MinSeverity) {
		return nil
	}

	alert := NewAlert(layer, KindChangeDetected, severity, result.Summary())
	alert.ResultID = result.ID
	return n.send(ctx, WebhookPayload{
		Timestamp: alert.CreatedAt,
		Source:    "geomon",
		Alert:     alert,
		Change: &WebhookChange{
			Algorithm:          result.Algorithm,
			Confidence:         result.ConfidenceScore,
			FeatureCountChange: result.FeatureCountChange,
			FeatureCountPct:    result.FeatureCountPct,
			AreaChangePct:      result.AreaChangePct,
			NewFeatures:        result.NewFeatures,
			DeletedFeatures:    result.DeletedFeatures,
			ExceedsThreshold:   result.ExceedsThreshold,
		},
	})
}

func (n *WebhookNotifier) NotifyLayerUnavailable(ctx context.Context, layer *types.MonitoredLayer, failures int) error {
	alert := NewAlert(layer, KindLayerUnavailable, types.SeverityHigh,
		fmt.Sprintf("layer %s unavailable after %d consecutive check failures", layer.Name, failures))
	return n.send(ctx, WebhookPayload{
		Timestamp: alert.CreatedAt,
		Source:    "geomon",
		Alert:     alert,
	})
}

func (n *WebhookNotifier) send(ctx context.Context, payload WebhookPayload) error {
	if n.URL == "" {
		return nil
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook returned error status: %d", resp.StatusCode)
	}
	return nil
}
