package u256

import (
	"math/big"
	"sort"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRoundTrip(t *testing.T) {
	cases := []string{
		"0",
		"1",
		"-1",
		"115792089237316195423570985008687907853269984665640564039457584007913129639935", // max uint256
		"-115792089237316195423570985008687907853269984665640564039457584007913129639935",
	}
	for _, c := range cases {
		n, ok := new(big.Int).SetString(c, 10)
		require.True(t, ok)

		enc, err := Encode(n)
		require.NoError(t, err)

		dec, err := Decode(enc)
		require.NoError(t, err)
		require.Equal(t, 0, n.Cmp(dec), "round trip mismatch for %s", c)
	}
}

func TestLexicographicOrderMatchesNumericOrder(t *testing.T) {
	values := []int64{-1000, -500, -1, 0, 1, 500, 1000}
	encoded := make([]string, len(values))
	for i, v := range values {
		enc, err := Encode(big.NewInt(v))
		require.NoError(t, err)
		encoded[i] = enc
	}

	sortedCopy := make([]string, len(encoded))
	copy(sortedCopy, encoded)
	sort.Strings(sortedCopy)

	require.Equal(t, encoded, sortedCopy, "byte-sorted encodings should already be in numeric order")
}
