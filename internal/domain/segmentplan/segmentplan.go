// Package segmentplan computes fixed-length segment layouts for long
// videos. Every plan is an exact partition of the total duration: segments
// share one nominal length and the last segment absorbs the rounding
// remainder.
package segmentplan

import "math"

type Plan struct {
	Count      int
	PerSegment float64
	Total      float64
}

// Build lays out total seconds into segments near target seconds each,
// never shorter than floor. Videos at or below target (or floor) fit in a
// single segment. When the trailing remainder would fall under the floor
// it is redistributed across the preceding segments.
func Build(total, target, floor float64) Plan {
	if total <= 0 || target <= 0 {
		return Plan{Count: 1, PerSegment: total, Total: total}
	}
	n := int(math.Floor(total / target))
	if n < 1 {
		n = 1
	}
	per := total / float64(n)
	if per < floor {
		n = int(total / floor)
		if n < 1 {
			n = 1
		}
		per = total / float64(n)
	}
	if n > 1 {
		last := total - per*float64(n-1)
		if last < floor {
			per += last / float64(n-1)
			n--
		}
	}
	return Plan{Count: n, PerSegment: per, Total: total}
}

// Bounds returns the start offset and duration of segment i (0-based).
// The last segment runs to exactly Total.
func (p Plan) Bounds(i int) (start, dur float64) {
	start = float64(i) * p.PerSegment
	if i == p.Count-1 {
		return start, p.Total - start
	}
	return start, p.PerSegment
}
