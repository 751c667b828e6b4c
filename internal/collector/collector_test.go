package collector

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/0xkanth/evmindex/internal/interval"
	"github.com/0xkanth/evmindex/pkg/models"
)

func TestSafeHead(t *testing.T) {
	c := &Collector{cfg: Config{Confirmations: 10}}
	require.Equal(t, uint64(90), c.safeHead(100))
	require.Equal(t, uint64(0), c.safeHead(5))
	require.Equal(t, uint64(0), c.safeHead(10))
}

func TestBuildFilterQueryTrimsTrailingWildcardTopics(t *testing.T) {
	q := buildFilterQuery(
		[]string{"0xaaaa000000000000000000000000000000bbbb"},
		[][]string{{"0x1111111111111111111111111111111111111111111111111111111111111111"}, nil, nil, nil},
		10, 20,
	)
	require.Len(t, q.Topics, 1, "trailing nil topic slots must be trimmed")
	require.Len(t, q.Addresses, 1)
	require.Equal(t, uint64(10), q.FromBlock.Uint64())
	require.Equal(t, uint64(20), q.ToBlock.Uint64())
}

func TestBuildFilterQueryPreservesGapBetweenPopulatedSlots(t *testing.T) {
	q := buildFilterQuery(nil, [][]string{{"0xtopic0"}, nil, {"0xtopic2"}}, 1, 1)
	require.Len(t, q.Topics, 3)
	require.Nil(t, q.Topics[1], "an unconstrained slot between two constrained ones must stay nil, not be dropped")
}

func TestToIntervalSlice(t *testing.T) {
	out := toIntervalSlice([]models.Interval{{Start: 1, End: 5}, {Start: 10, End: 20}})
	require.Equal(t, []interval.Interval{{Start: 1, End: 5}, {Start: 10, End: 20}}, out)
}

func TestProcessGapsChunksAcrossBatchSize(t *testing.T) {
	c := &Collector{cfg: Config{BatchSize: 10, Workers: 2}}
	var mu sync.Mutex
	var seen [][2]uint64
	err := c.processGaps(context.Background(), []interval.Interval{{Start: 1, End: 25}}, func(_ context.Context, from, to uint64) error {
		mu.Lock()
		seen = append(seen, [2]uint64{from, to})
		mu.Unlock()
		return nil
	})
	require.NoError(t, err)
	require.Len(t, seen, 3)

	total := uint64(0)
	for _, pair := range seen {
		total += pair[1] - pair[0] + 1
	}
	require.Equal(t, uint64(25), total, "chunks must cover the whole gap with no overlap or gap")
}

func TestProcessGapsNoChunksIsNoop(t *testing.T) {
	c := &Collector{cfg: Config{BatchSize: 10, Workers: 2}}
	called := false
	err := c.processGaps(context.Background(), nil, func(_ context.Context, from, to uint64) error {
		called = true
		return nil
	})
	require.NoError(t, err)
	require.False(t, called)
}

func TestProcessGapsPropagatesError(t *testing.T) {
	c := &Collector{cfg: Config{BatchSize: 10, Workers: 3}}
	boom := errors.New("boom")
	err := c.processGaps(context.Background(), []interval.Interval{{Start: 1, End: 50}}, func(_ context.Context, from, to uint64) error {
		if from == 21 {
			return boom
		}
		return nil
	})
	require.ErrorIs(t, err, boom)
}

func TestFragmentRefsCoversLogFiltersAndFactories(t *testing.T) {
	sources := Sources{
		LogFilters: []models.LogFilter{{ChainID: 1, Addresses: []string{"0xabc"}, Topics0: []string{"0xtopic"}}},
		Factories: []models.Factory{{
			ChainID:              1,
			Address:              "0xfactory",
			EventSelector:        "0xselector",
			ChildAddressLocation: "topic1",
		}},
	}
	refs := fragmentRefs(sources)
	require.Len(t, refs, 2)

	var sawFactory bool
	for _, r := range refs {
		if r.IsFactory {
			sawFactory = true
		}
		require.NotEmpty(t, r.ID)
	}
	require.True(t, sawFactory)
}
