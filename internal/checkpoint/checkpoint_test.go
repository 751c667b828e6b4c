package checkpoint

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCompareLexicographic(t *testing.T) {
	a := New(10, 1, 100, 5)
	b := New(10, 1, 100, 6)
	require.True(t, Less(a, b))
	require.True(t, Greater(b, a))

	c := New(11, 1, 0, 0)
	require.True(t, Greater(c, b), "timestamp dominates the remaining fields")
}

func TestEndOfBlockBoundSemantics(t *testing.T) {
	eob := EndOfBlock(10, 1, 100)
	concrete := New(10, 1, 100, 3)

	// As an upper bound (asLowerBound=false), end-of-block sorts above any
	// concrete index in the same block.
	require.Equal(t, 1, Compare(eob, concrete, false))

	// As a lower bound (asLowerBound=true), end-of-block sorts below any
	// concrete index in the same block.
	require.Equal(t, -1, Compare(eob, concrete, true))
}

func TestMinMaxIdentities(t *testing.T) {
	require.True(t, GreaterOrEqual(Max(), New(100, 100, 100, 100)))
	require.True(t, LessOrEqual(Zero(), New(1, 1, 1, 1)))
	require.Equal(t, Max(), MinOf(nil))
}

func TestMinOfSuccessiveAdvance(t *testing.T) {
	c1 := New(10, 1, 100, 0)
	c10 := New(12, 10, 50, 0)
	m := MinOf([]Checkpoint{c1, c10})
	require.Equal(t, c1, m)
}
