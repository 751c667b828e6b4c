package interval

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestUnionMergesOverlapAndAdjacency(t *testing.T) {
	got := Union([]Interval{{0, 10}, {5, 20}, {22, 30}, {31, 40}})
	require.Equal(t, []Interval{{0, 20}, {22, 40}}, got)
}

func TestUnionIdempotent(t *testing.T) {
	xs := []Interval{{0, 10}, {20, 30}}
	once := Union(xs)
	twice := Union(once)
	require.Equal(t, once, twice)
}

func TestUnionCommutative(t *testing.T) {
	a := Union([]Interval{{5, 20}, {0, 10}})
	b := Union([]Interval{{0, 10}, {5, 20}})
	require.Equal(t, a, b)
}

func TestIntersectionManyTwoFragments(t *testing.T) {
	got := IntersectionMany([][]Interval{
		{{0, 100}},
		{{50, 200}},
	})
	require.Equal(t, []Interval{{50, 100}}, got)
}

func TestIntersectionManyDisjointYieldsEmpty(t *testing.T) {
	got := IntersectionMany([][]Interval{
		{{0, 10}},
		{{20, 30}},
	})
	require.Empty(t, got)
}

func TestDifferenceTruncation(t *testing.T) {
	got := Difference([]Interval{{0, 100}}, []Interval{{40, 200}})
	require.Equal(t, []Interval{{0, 39}}, got)
}
