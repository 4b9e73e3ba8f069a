package types

import (
	"errors"
	"strings"
	"time"
)

// Extent is the bounding box of all features in a layer.
type Extent struct {
	XMin float64 `json:"xmin"`
	YMin float64 `json:"ymin"`
	XMax float64 `json:"xmax"`
	YMax float64 `json:"ymax"`
}

// IsZero reports whether the extent carries no information.
func (e Extent) IsZero() bool {
	return e.XMin == 0 && e.YMin == 0 && e.XMax == 0 && e.YMax == 0
}

// Area is the width*height of the extent. This is an approximation of the
// layer's footprint, not the union of feature geometries; downstream
// consumers must not treat it as exact area.
func (e Extent) Area() float64 {
	return (e.XMax - e.XMin) * (e.YMax - e.YMin)
}

// Centroid returns the midpoint of the extent, again an approximation
// derived from the bounding box alone.
func (e Extent) Centroid() Point {
	return Point{
		X: (e.XMin + e.XMax) / 2,
		Y: (e.YMin + e.YMax) / 2,
	}
}

// Point is a lon/lat coordinate (WGS84).
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// FieldStats holds the aggregate summary of one layer field at capture time.
type FieldStats struct {
	Count       int     `json:"count"`
	NullCount   int     `json:"null_count"`
	UniqueCount int     `json:"unique_count"`
	Mean        float64 `json:"mean,omitempty"`
	Min         float64 `json:"min,omitempty"`
	Max         float64 `json:"max,omitempty"`
}

// Snapshot is a point-in-time capture of a monitored layer's observable
// state. Snapshots are insert only: once persisted they are never mutated,
// and each one chains to at most one immediately prior snapshot of the same
// layer (the most recent valid snapshot created before it).
type Snapshot struct {
	ID               string                `json:"id"`
	LayerID          string                `json:"layer_id"`
	Hash             string                `json:"hash"`
	FeatureCount     int                   `json:"feature_count"`
	TotalArea        float64               `json:"total_area"`
	Extent           Extent                `json:"extent"`
	Centroid         Point                 `json:"centroid"`
	HasGeometry      bool                  `json:"has_geometry"`
	AttributeStats   map[string]FieldStats `json:"attribute_stats,omitempty"`
	NullCounts       map[string]int        `json:"null_counts,omitempty"`
	UniqueValues     map[string]int        `json:"unique_values,omitempty"`
	CollectionTime   time.Duration         `json:"collection_time"`
	DataSizeBytes    int                   `json:"data_size_bytes"`
	IsValid          bool                  `json:"is_valid"`
	ValidationErrors []string              `json:"validation_errors,omitempty"`
	CreatedAt        time.Time             `json:"created_at"`
}

// Validate checks that the snapshot has all required fields.
func (s *Snapshot) Validate() error {
	if strings.TrimSpace(s.ID) == "" {
		return errors.New("snapshot ID is required")
	}
	if strings.TrimSpace(s.LayerID) == "" {
		return errors.New("snapshot layer ID is required")
	}
	if strings.TrimSpace(s.Hash) == "" {
		return errors.New("snapshot hash is required")
	}
	if s.FeatureCount < 0 {
		return errors.New("snapshot feature count cannot be negative")
	}
	if s.CreatedAt.IsZero() {
		return errors.New("snapshot creation time is required")
	}
	return nil
}

// CountChangeFrom returns the absolute and percent feature count change
// against a previous snapshot. When the previous count is zero the percent
// is defined as 100 for any growth and 0 otherwise.
func (s *Snapshot) CountChangeFrom(previous *Snapshot) (delta int, percent float64) {
	delta = s.FeatureCount - previous.FeatureCount
	if previous.FeatureCount > 0 {
		percent = float64(delta) / float64(previous.FeatureCount) * 100
	} else if s.FeatureCount > 0 {
		percent = 100
	}
	return delta, percent
}

// String returns a short description of the snapshot.
func (s *Snapshot) String() string {
	return "snapshot " + s.ID + " of layer " + s.LayerID + " (" + s.CreatedAt.Format(time.RFC3339) + ")"
}
