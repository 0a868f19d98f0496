package store

import (
	"fmt"
	"strings"
)

// Matches reports whether idx satisfies any of filters. An empty filter
// list matches everything.
func Matches(idx Indexes, filters []Filter) bool {
	if len(filters) == 0 {
		return true
	}
	for _, f := range filters {
		if matchesFilter(idx, f) {
			return true
		}
	}
	return false
}

func matchesFilter(idx Indexes, f Filter) bool {
	for field, c := range f {
		v, ok := idx[field]
		if !ok {
			return false
		}
		if !matchesCriterion(v, c) {
			return false
		}
	}
	return true
}

func matchesCriterion(v any, c Criterion) bool {
	switch {
	case c.Range != nil:
		return inRange(v, *c.Range)
	case c.OneOf != nil:
		for _, candidate := range c.OneOf {
			if compareValues(v, candidate) == 0 {
				return true
			}
		}
		return false
	default:
		return compareValues(v, c.Equal) == 0
	}
}

func inRange(v any, r Range) bool {
	if r.GT != nil && compareValues(v, r.GT) <= 0 {
		return false
	}
	if r.GTE != nil && compareValues(v, r.GTE) < 0 {
		return false
	}
	if r.LT != nil && compareValues(v, r.LT) >= 0 {
		return false
	}
	if r.LTE != nil && compareValues(v, r.LTE) > 0 {
		return false
	}
	return true
}

// compareValues orders index values. Numbers compare numerically, booleans
// false < true, everything else by string form.
func compareValues(a, b any) int {
	if fa, ok := toFloat(a); ok {
		if fb, ok := toFloat(b); ok {
			switch {
			case fa < fb:
				return -1
			case fa > fb:
				return 1
			default:
				return 0
			}
		}
	}
	if ba, ok := a.(bool); ok {
		if bb, ok := b.(bool); ok {
			switch {
			case ba == bb:
				return 0
			case !ba:
				return -1
			default:
				return 1
			}
		}
	}
	return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}
