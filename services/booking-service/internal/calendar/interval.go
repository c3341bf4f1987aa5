package calendar

import "sort"

// Interval is a half-open range [Start, End) of minutes since midnight.
type Interval struct {
	Start int
	End   int
}

func (iv Interval) Len() int { return iv.End - iv.Start }

func (iv Interval) Empty() bool { return iv.End <= iv.Start }

// Contains reports whether other lies entirely inside iv.
func (iv Interval) Contains(other Interval) bool {
	return iv.Start <= other.Start && other.End <= iv.End
}

func (iv Interval) String() string {
	return FormatClock(iv.Start) + "-" + FormatClock(iv.End)
}

// Overlaps reports whether [startA, startA+durA) and [startB, startB+durB)
// share a minute. An interval ending exactly where the other starts does not overlap.
func Overlaps(startA, durA, startB, durB int) bool {
	return startA < startB+durB && startB < startA+durA
}

// Subtract removes cut from free, a sorted list of disjoint intervals.
// Intervals are split, shrunk or dropped as needed; the input is not modified.
func Subtract(free []Interval, cut Interval) []Interval {
	if cut.Empty() {
		return append([]Interval(nil), free...)
	}
	out := make([]Interval, 0, len(free)+1)
	for _, iv := range free {
		if !Overlaps(iv.Start, iv.Len(), cut.Start, cut.Len()) {
			out = append(out, iv)
			continue
		}
		if iv.Start < cut.Start {
			out = append(out, Interval{Start: iv.Start, End: cut.Start})
		}
		if cut.End < iv.End {
			out = append(out, Interval{Start: cut.End, End: iv.End})
		}
	}
	return out
}

// Merge sorts intervals and coalesces any that overlap or touch. Empty
// intervals are dropped.
func Merge(intervals []Interval) []Interval {
	sorted := make([]Interval, 0, len(intervals))
	for _, iv := range intervals {
		if !iv.Empty() {
			sorted = append(sorted, iv)
		}
	}
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Start != sorted[j].Start {
			return sorted[i].Start < sorted[j].Start
		}
		return sorted[i].End < sorted[j].End
	})

	var out []Interval
	for _, iv := range sorted {
		if n := len(out); n > 0 && iv.Start <= out[n-1].End {
			if iv.End > out[n-1].End {
				out[n-1].End = iv.End
			}
			continue
		}
		out = append(out, iv)
	}
	return out
}
