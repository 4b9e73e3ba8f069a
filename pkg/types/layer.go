package types

import (
	"errors"
	"math"
	"strings"
	"time"
)

// AvailabilityAlertAfter is the number of consecutive capture failures on a
// layer after which a layer-unavailable alert is raised.
const AvailabilityAlertAfter = 3

// GISService is an external geospatial service that owns monitored layers.
type GISService struct {
	ID                  string        `json:"id"`
	Name                string        `json:"name"`
	BaseURL             string        `json:"base_url"`
	Username            string        `json:"username,omitempty"`
	Password            string        `json:"-"`
	IsMonitored         bool          `json:"is_monitored"`
	Status              ServiceStatus `json:"status"`
	LastCheck           time.Time     `json:"last_check,omitzero"`
	LastSuccessfulCheck time.Time     `json:"last_successful_check,omitzero"`
	ConsecutiveFailures int           `json:"consecutive_failures"`
	CreatedAt           time.Time     `json:"created_at"`
}

// IsOnline reports whether the service is considered reachable.
func (s *GISService) IsOnline() bool {
	return s.Status == ServiceStatusActive
}

// UpdateStatus applies one health check observation.
func (s *GISService) UpdateStatus(status ServiceStatus, now time.Time) {
	s.Status = status
	s.LastCheck = now
	if status == ServiceStatusActive {
		s.LastSuccessfulCheck = now
		s.ConsecutiveFailures = 0
	} else {
		s.ConsecutiveFailures++
	}
}

// MonitoredLayer is one resource watched for changes. Each layer belongs to
// a GISService and carries its own monitoring configuration.
type MonitoredLayer struct {
	ID                  string    `json:"id"`
	ServiceID           string    `json:"service_id"`
	RemoteLayerID       int       `json:"remote_layer_id"`
	Name                string    `json:"name"`
	GeometryType        string    `json:"geometry_type,omitempty"`
	MonitoringEnabled   bool      `json:"monitoring_enabled"`
	ChangeThreshold     float64   `json:"change_threshold"`
	Algorithm           Algorithm `json:"algorithm"`
	DetectionFields     []string  `json:"detection_fields,omitempty"`
	FeatureCount        int       `json:"feature_count"`
	LastFeatureCount    int       `json:"last_feature_count"`
	CheckFailures       int       `json:"check_failures"`
	LastCheck           time.Time `json:"last_check,omitzero"`
	LastSuccessfulCheck time.Time `json:"last_successful_check,omitzero"`
	CreatedAt           time.Time `json:"created_at"`
}

// Validate checks required layer fields.
func (l *MonitoredLayer) Validate() error {
	if strings.TrimSpace(l.ID) == "" {
		return errors.New("layer ID is required")
	}
	if strings.TrimSpace(l.ServiceID) == "" {
		return errors.New("layer service ID is required")
	}
	if strings.TrimSpace(l.Name) == "" {
		return errors.New("layer name is required")
	}
	return nil
}

// ShouldBeMonitored reports whether the layer is eligible for a sweep:
// monitoring must be enabled on the layer and its owning service must be
// monitored and healthy.
func (l *MonitoredLayer) ShouldBeMonitored(service *GISService) bool {
	return l.MonitoringEnabled &&
		service != nil &&
		service.IsMonitored &&
		service.Status == ServiceStatusActive
}

// ChangePercent is the absolute percent change between the last two
// observed feature counts. A zero previous count means 100% for any growth
// and 0% otherwise.
func (l *MonitoredLayer) ChangePercent() float64 {
	if l.LastFeatureCount == 0 {
		if l.FeatureCount == 0 {
			return 0
		}
		return 100
	}
	return math.Abs(float64(l.FeatureCount-l.LastFeatureCount)) / float64(l.LastFeatureCount) * 100
}

// RecordSuccessfulCheck updates layer bookkeeping after a capture succeeds.
func (l *MonitoredLayer) RecordSuccessfulCheck(newCount int, now time.Time) {
	l.LastFeatureCount = l.FeatureCount
	l.FeatureCount = newCount
	l.LastCheck = now
	l.LastSuccessfulCheck = now
	l.CheckFailures = 0
}

// RecordCheckFailure increments the failure counter and reports whether the
// availability alert threshold has been reached.
func (l *MonitoredLayer) RecordCheckFailure(now time.Time) bool {
	l.CheckFailures++
	l.LastCheck = now
	return l.CheckFailures >= AvailabilityAlertAfter
}
