// Package interval implements the closed-closed, mergeable block-number
// range algebra the Sync Store uses to track which ranges of which filter
// fragment have already been synced.
package interval

import "sort"

// Interval is a closed-closed [Start, End] range over block numbers.
type Interval struct {
	Start uint64
	End   uint64
}

// Union returns the minimal sorted list of disjoint intervals covering xs.
// Adjacent intervals (next.Start <= cur.End+1) are merged so the row count
// stays bounded across repeated compaction passes.
func Union(xs []Interval) []Interval {
	if len(xs) == 0 {
		return nil
	}

	sorted := make([]Interval, len(xs))
	copy(sorted, xs)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Start != sorted[j].Start {
			return sorted[i].Start < sorted[j].Start
		}
		return sorted[i].End < sorted[j].End
	})

	out := make([]Interval, 0, len(sorted))
	cur := sorted[0]
	for _, next := range sorted[1:] {
		if canMerge(cur, next) {
			if next.End > cur.End {
				cur.End = next.End
			}
			continue
		}
		out = append(out, cur)
		cur = next
	}
	out = append(out, cur)
	return out
}

func canMerge(cur, next Interval) bool {
	if next.Start > cur.End {
		// adjacent (no gap) still merges: [0,10] and [11,20] -> [0,20]
		return next.Start == cur.End+1
	}
	return true
}

// IntersectionMany returns the pointwise intersection of xss, where each
// inner slice is assumed already disjoint and sorted (callers pass the
// output of Union). An empty xss, or any empty member, yields an empty
// result — the intersection of zero sets or of an empty set is empty.
func IntersectionMany(xss [][]Interval) []Interval {
	if len(xss) == 0 {
		return nil
	}
	acc := xss[0]
	for _, next := range xss[1:] {
		acc = intersectTwo(acc, next)
		if len(acc) == 0 {
			return nil
		}
	}
	return acc
}

func intersectTwo(a, b []Interval) []Interval {
	var out []Interval
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		start := max64(a[i].Start, b[j].Start)
		end := min64(a[i].End, b[j].End)
		if start <= end {
			out = append(out, Interval{Start: start, End: end})
		}
		if a[i].End < b[j].End {
			i++
		} else {
			j++
		}
	}
	return out
}

// Difference returns the portion of a not covered by b. Both inputs are
// assumed disjoint and sorted. Used by the historical collector to find the
// un-synced gaps within a requested block range.
func Difference(a, b []Interval) []Interval {
	var out []Interval
	for _, ai := range a {
		remaining := []Interval{ai}
		for _, bi := range b {
			var next []Interval
			for _, r := range remaining {
				next = append(next, subtractOne(r, bi)...)
			}
			remaining = next
		}
		out = append(out, remaining...)
	}
	return out
}

func subtractOne(a, b Interval) []Interval {
	if b.End < a.Start || b.Start > a.End {
		return []Interval{a}
	}
	var out []Interval
	if b.Start > a.Start {
		out = append(out, Interval{Start: a.Start, End: b.Start - 1})
	}
	if b.End < a.End {
		out = append(out, Interval{Start: b.End + 1, End: a.End})
	}
	return out
}

func max64(a, b uint64) uint64 {
	if a > b {
		return a
	}
	return b
}

func min64(a, b uint64) uint64 {
	if a < b {
		return a
	}
	return b
}
