package snapshot

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/yairfalse/geomon/internal/alerts"
	"github.com/yairfalse/geomon/internal/gis"
	"github.com/yairfalse/geomon/internal/logger"
	"github.com/yairfalse/geomon/internal/store"
	"github.com/yairfalse/geomon/pkg/types"
)

// ErrNotConfigured marks a layer that is not eligible for capture: either
// monitoring is disabled on the layer or its service is not monitored.
var ErrNotConfigured = errors.New("layer is not configured for monitoring")

// defaultSampleLimit caps how many features the attribute-stats sampler
// pulls per capture.
const defaultSampleLimit = 1000

// Store captures point-in-time snapshots of monitored layers.
type Store struct {
	repo        store.Repo
	client      gis.Client
	clientFor   func(*types.GISService) gis.Client
	notifier    alerts.Notifier
	log         logger.Logger
	sampleLimit int
}

// Options configures a Store. Exactly one of Client and ClientFor is
// needed; ClientFor wins when both are set.
type Options struct {
	Repo store.Repo
	// Client serves every layer. Suited to single-service deployments
	// and tests.
	Client gis.Client
	// ClientFor resolves the client for a layer's owning service when
	// several services are monitored.
	ClientFor func(*types.GISService) gis.Client
	Notifier  alerts.Notifier
	Logger    logger.Logger
	// SampleLimit overrides how many features are sampled for attribute
	// statistics. Zero means the default.
	SampleLimit int
}

func NewStore(opts Options) *Store {
	log := opts.Logger
	if log == nil {
		log = logger.Nop()
	}
	limit := opts.SampleLimit
	if limit <= 0 {
		limit = defaultSampleLimit
	}
	return &Store{
		repo:        opts.Repo,
		client:      opts.Client,
		clientFor:   opts.ClientFor,
		notifier:    opts.Notifier,
		log:         log,
		sampleLimit: limit,
	}
}

func (s *Store) clientOf(service *types.GISService) gis.Client {
	if s.clientFor != nil {
		return s.clientFor(service)
	}
	return s.client
}

// Capture fetches current layer metadata from the service, assembles a
// snapshot and persists it. On a collaborator failure no snapshot is
// written; the layer's failure counter is incremented and an availability
// alert fires once the counter reaches the threshold.
func (s *Store) Capture(ctx context.Context, layer *types.MonitoredLayer, service *types.GISService) (*types.Snapshot, error) {
	if !layer.ShouldBeMonitored(service) {
		return nil, ErrNotConfigured
	}

	start := time.Now()
	now := start.UTC()

	client := s.clientOf(service)
	info, err := client.GetLayerInfo(ctx, layer.RemoteLayerID)
	if err != nil {
		s.recordFailure(ctx, layer, now)
		return nil, fmt.Errorf("fetching layer info for %s: %w", layer.Name, err)
	}

	snap := &types.Snapshot{
		ID:           uuid.New().String(),
		LayerID:      layer.ID,
		Hash:         ContentHash(info),
		FeatureCount: info.Count,
		Extent:       info.Extent,
		HasGeometry:  !info.Extent.IsZero(),
		CreatedAt:    now,
	}
	if snap.HasGeometry {
		// width*height of the bounding extent, not unioned feature
		// geometry
		snap.TotalArea = info.Extent.Area()
		snap.Centroid = info.Extent.Centroid()
	}

	if len(layer.DetectionFields) > 0 {
		stats, err := s.sampleStats(ctx, client, layer)
		if err != nil {
			// stats are enrichment; a partial snapshot still beats none
			s.log.WithFields(map[string]any{
				"layer": layer.Name,
				"error": err.Error(),
			}).Warn("attribute stats sampling failed")
		} else {
			snap.AttributeStats = stats
			snap.NullCounts = make(map[string]int, len(stats))
			snap.UniqueValues = make(map[string]int, len(stats))
			for field, fs := range stats {
				snap.NullCounts[field] = fs.NullCount
				snap.UniqueValues[field] = fs.UniqueCount
			}
		}
	}

	snap.CollectionTime = time.Since(start)
	snap.DataSizeBytes = payloadSize(snap)
	if err := snap.Validate(); err != nil {
		snap.IsValid = false
		snap.ValidationErrors = append(snap.ValidationErrors, err.Error())
	} else {
		snap.IsValid = true
	}

	if err := s.repo.InsertSnapshot(ctx, snap); err != nil {
		return nil, fmt.Errorf("persisting snapshot for %s: %w", layer.Name, err)
	}
	if err := s.repo.RecordLayerSuccess(ctx, layer.ID, info.Count, now); err != nil {
		return nil, fmt.Errorf("updating layer after capture: %w", err)
	}
	layer.RecordSuccessfulCheck(info.Count, now)

	s.log.WithFields(map[string]any{
		"layer":    layer.Name,
		"features": info.Count,
		"took":     snap.CollectionTime.String(),
	}).Debug("captured snapshot")
	return snap, nil
}

// recordFailure bumps the layer failure counter and raises the
// availability alert at the threshold. Alert delivery errors are logged,
// never propagated: a broken notifier must not mask the capture failure.
func (s *Store) recordFailure(ctx context.Context, layer *types.MonitoredLayer, now time.Time) {
	// the failure counter must persist even when the capture died to a
	// context deadline
	ctx = context.WithoutCancel(ctx)
	failures, err := s.repo.RecordLayerFailure(ctx, layer.ID, now)
	if err != nil {
		s.log.WithField("layer", layer.Name).Error("recording check failure: " + err.Error())
		return
	}
	layer.CheckFailures = failures
	layer.LastCheck = now

	if failures >= types.AvailabilityAlertAfter && s.notifier != nil {
		if err := s.notifier.NotifyLayerUnavailable(ctx, layer, failures); err != nil {
			s.log.WithField("layer", layer.Name).Warn("availability alert failed: " + err.Error())
		}
	}
}

// sampleStats pulls up to sampleLimit features and aggregates per-field
// statistics for the layer's detection fields.
func (s *Store) sampleStats(ctx context.Context, client gis.Client, layer *types.MonitoredLayer) (map[string]types.FieldStats, error) {
	agg := newFieldAggregates(layer.DetectionFields)

	pageSize := s.sampleLimit
	if pageSize > 500 {
		pageSize = 500
	}
	for offset := 0; offset < s.sampleLimit; offset += pageSize {
		page, err := client.QueryFeatures(ctx, layer.RemoteLayerID, gis.Query{
			OutFields: layer.DetectionFields,
			Offset:    offset,
			Limit:     pageSize,
		})
		if err != nil {
			return nil, err
		}
		for _, f := range page.Features {
			agg.observe(f.Attributes)
		}
		if !page.HasMore || len(page.Features) == 0 {
			break
		}
	}
	return agg.finish(), nil
}

// payloadSize approximates the snapshot's serialized size.
func payloadSize(s *types.Snapshot) int {
	b, err := json.Marshal(s)
	if err != nil {
		return 0
	}
	return len(b)
}

// hashDoc is the canonical projection the content digest covers. Keys are
// ordered; json.Marshal emits struct fields in declaration order.
type hashDoc struct {
	Count     int          `json:"count"`
	Extent    types.Extent `json:"extent"`
	Fields    []hashField  `json:"fields"`
	Timestamp string       `json:"timestamp"`
}

type hashField struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// ContentHash digests the layer's metadata. The timestamp in the
// projection is the service's own last-edit time, so an unchanged remote
// layer hashes identically across captures.
func ContentHash(info *gis.LayerInfo) string {
	doc := hashDoc{
		Count:     info.Count,
		Extent:    info.Extent,
		Timestamp: info.LastModified.UTC().Format(time.RFC3339Nano),
	}
	doc.Fields = make([]hashField, 0, len(info.Fields))
	for _, f := range info.Fields {
		doc.Fields = append(doc.Fields, hashField{Name: f.Name, Type: f.Type})
	}
	sort.Slice(doc.Fields, func(i, j int) bool { return doc.Fields[i].Name < doc.Fields[j].Name })

	b, _ := json.Marshal(doc)
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
