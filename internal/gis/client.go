package gis

import (
	"context"
	"time"

	"github.com/yairfalse/geomon/pkg/types"
)

// FieldDef describes one field in a layer's schema.
type FieldDef struct {
	Name   string `json:"name"`
	Type   string `json:"type"`
	Alias  string `json:"alias,omitempty"`
	Length int    `json:"length,omitempty"`
}

// LayerInfo is the structured metadata the snapshot store captures.
// LastModified is the service's own last-edit timestamp; it is zero when
// the service does not report one.
type LayerInfo struct {
	Count        int          `json:"count"`
	Extent       types.Extent `json:"extent"`
	Fields       []FieldDef   `json:"fields"`
	Name         string       `json:"name,omitempty"`
	LastModified time.Time    `json:"last_modified,omitzero"`
}

// Query narrows a feature query.
type Query struct {
	Where     string
	OutFields []string
	Offset    int
	Limit     int
}

// Feature is one feature's attributes as returned by the service.
type Feature struct {
	ID         string         `json:"id"`
	Attributes map[string]any `json:"attributes"`
}

// FeaturePage is one page of query results.
type FeaturePage struct {
	Features []Feature `json:"features"`
	HasMore  bool      `json:"has_more"`
}

// Client is the external geospatial service collaborator. All failures
// surface as one of AuthError, ConnectionError or ClientError so callers
// can branch on retry-vs-abort.
type Client interface {
	GetLayerInfo(ctx context.Context, layerID int) (*LayerInfo, error)
	GetFeatureCount(ctx context.Context, layerID int, where string) (int, error)
	QueryFeatures(ctx context.Context, layerID int, q Query) (*FeaturePage, error)
	TestConnection(ctx context.Context) (bool, string)
}
