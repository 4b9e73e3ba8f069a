package detector

import (
	"math"

	"github.com/yairfalse/geomon/pkg/types"
)

// basicMetricsThresholdFactor doubles the configured threshold for the
// shared basic-metrics exceeds check. Per-algorithm signals compare against
// the raw threshold; the two decision points are deliberately separate.
const basicMetricsThresholdFactor = 2.0

// earthRadiusMeters for the equirectangular distance approximation.
const earthRadiusMeters = 6371000.0

// basicMetrics holds the deltas every algorithm computes before applying
// its own signal.
type basicMetrics struct {
	FeatureCountChange int
	FeatureCountPct    float64
	AreaChange         float64
	AreaChangePct      float64
	CentroidShift      float64
}

// compareBasicMetrics computes count, area and centroid deltas between two
// snapshots. Percent change against a zero previous count is 100 for any
// growth and 0 otherwise.
func compareBasicMetrics(current, previous *types.Snapshot) basicMetrics {
	m := basicMetrics{}
	m.FeatureCountChange, m.FeatureCountPct = current.CountChangeFrom(previous)

	if current.HasGeometry && previous.HasGeometry {
		m.AreaChange = current.TotalArea - previous.TotalArea
		if previous.TotalArea != 0 {
			m.AreaChangePct = m.AreaChange / previous.TotalArea * 100
		}
		m.CentroidShift = centroidDistance(current.Centroid, previous.Centroid)
	}
	return m
}

// centroidDistance returns the displacement between two lon/lat points in
// meters using an equirectangular projection. Both centroids come from
// bounding extents, so metric precision beyond this approximation would be
// false precision anyway.
func centroidDistance(a, b types.Point) float64 {
	latMid := (a.Y + b.Y) / 2 * math.Pi / 180
	dx := (a.X - b.X) * math.Pi / 180 * math.Cos(latMid)
	dy := (a.Y - b.Y) * math.Pi / 180
	return math.Sqrt(dx*dx+dy*dy) * earthRadiusMeters
}

// checkThresholds applies the shared basic-metrics exceeds decision: count
// or area percent change at or beyond twice the configured threshold.
func checkThresholds(m basicMetrics, threshold float64) (bool, map[string]float64) {
	values := map[string]float64{
		"feature_count_threshold": threshold,
		"area_threshold":          threshold,
	}
	doubled := threshold * basicMetricsThresholdFactor
	if math.Abs(m.FeatureCountPct) >= doubled {
		return true, values
	}
	if math.Abs(m.AreaChangePct) >= doubled {
		return true, values
	}
	return false, values
}

func positivePart(n int) int {
	if n > 0 {
		return n
	}
	return 0
}
