package snapshot

import (
	"fmt"

	"github.com/yairfalse/geomon/pkg/types"
)

// fieldAggregate accumulates per-field statistics over sampled features.
type fieldAggregate struct {
	count     int
	nulls     int
	uniques   map[string]struct{}
	sum       float64
	numeric   int
	min, max  float64
	hasMinMax bool
}

type fieldAggregates struct {
	fields map[string]*fieldAggregate
	order  []string
}

func newFieldAggregates(fields []string) *fieldAggregates {
	agg := &fieldAggregates{fields: make(map[string]*fieldAggregate, len(fields))}
	for _, f := range fields {
		if _, ok := agg.fields[f]; ok {
			continue
		}
		agg.fields[f] = &fieldAggregate{uniques: make(map[string]struct{})}
		agg.order = append(agg.order, f)
	}
	return agg
}

func (a *fieldAggregates) observe(attrs map[string]any) {
	for name, fa := range a.fields {
		val, ok := attrs[name]
		if !ok || val == nil {
			fa.count++
			fa.nulls++
			continue
		}
		fa.count++
		fa.uniques[fmt.Sprintf("%v", val)] = struct{}{}

		if n, ok := asFloat(val); ok {
			fa.sum += n
			fa.numeric++
			if !fa.hasMinMax || n < fa.min {
				fa.min = n
			}
			if !fa.hasMinMax || n > fa.max {
				fa.max = n
			}
			fa.hasMinMax = true
		}
	}
}

func (a *fieldAggregates) finish() map[string]types.FieldStats {
	out := make(map[string]types.FieldStats, len(a.fields))
	for _, name := range a.order {
		fa := a.fields[name]
		fs := types.FieldStats{
			Count:       fa.count,
			NullCount:   fa.nulls,
			UniqueCount: len(fa.uniques),
		}
		if fa.numeric > 0 {
			fs.Mean = fa.sum / float64(fa.numeric)
			fs.Min = fa.min
			fs.Max = fa.max
		}
		out[name] = fs
	}
	return out
}

// asFloat normalizes the numeric types json decoding produces.
func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}
