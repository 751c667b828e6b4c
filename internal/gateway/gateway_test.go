package gateway

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/0xkanth/evmindex/internal/checkpoint"
)

func newTestGateway(t *testing.T) *Gateway {
	t.Helper()
	g, err := New("", zerolog.Nop())
	require.NoError(t, err)
	return g
}

func drain(t *testing.T, ch <-chan checkpoint.Checkpoint) checkpoint.Checkpoint {
	t.Helper()
	select {
	case c := <-ch:
		return c
	default:
		t.Fatal("expected an emission, got none")
		return checkpoint.Checkpoint{}
	}
}

func assertNoEmission(t *testing.T, ch <-chan checkpoint.Checkpoint) {
	t.Helper()
	select {
	case c := <-ch:
		t.Fatalf("expected no emission, got %s", c)
	default:
	}
}

// Scenario 1: single-chain advance.
func TestSingleChainAdvance(t *testing.T) {
	g := newTestGateway(t)
	g.HandleNewHistoricalCheckpoint(checkpoint.New(10, 1, 100, 0))
	got := drain(t, g.NewCheckpoints())
	require.Equal(t, checkpoint.New(10, 1, 100, 0), got)
}

// Scenario 2: two-chain minimum. The global checkpoint is the min of
// per-chain bests, so it advances only when the currently-minimum chain
// does (here chain 1 at timestamp 10, until chain 10 at timestamp 12
// becomes the new min once chain 1 moves past it).
func TestTwoChainMinimum(t *testing.T) {
	g := newTestGateway(t)

	g.HandleNewHistoricalCheckpoint(checkpoint.New(10, 1, 100, 0))
	require.Equal(t, checkpoint.New(10, 1, 100, 0), drain(t, g.NewCheckpoints()))

	// Chain 1 is still the global min (10 < 12): no emission.
	g.HandleNewHistoricalCheckpoint(checkpoint.New(12, 10, 100, 0))
	assertNoEmission(t, g.NewCheckpoints())

	// Chain 1 advances past chain 10; chain 10 becomes the new min.
	g.HandleNewHistoricalCheckpoint(checkpoint.New(15, 1, 100, 0))
	require.Equal(t, checkpoint.New(12, 10, 100, 0), drain(t, g.NewCheckpoints()))
}

// Scenario 3: realtime gated by historical completeness.
func TestRealtimeGatedByCompleteness(t *testing.T) {
	g := newTestGateway(t)
	g.Register(1)
	g.Register(10)

	// Both chains historical-incomplete: a realtime advance alone yields no
	// emission, since perChainBest for an incomplete chain ignores realtime.
	g.HandleNewRealtimeCheckpoint(checkpoint.New(25, 1, 250, 0))
	assertNoEmission(t, g.NewCheckpoints())

	g.HandleHistoricalSyncComplete(1)
	assertNoEmission(t, g.NewCheckpoints())

	g.HandleNewHistoricalCheckpoint(checkpoint.New(12, 10, 120, 0))
	got := drain(t, g.NewCheckpoints())
	require.Equal(t, checkpoint.New(12, 10, 120, 0), got)

	g.HandleHistoricalSyncComplete(10)
	assertNoEmission(t, g.NewCheckpoints())

	g.HandleNewRealtimeCheckpoint(checkpoint.New(27, 10, 270, 0))
	got = drain(t, g.NewCheckpoints())
	require.Equal(t, checkpoint.New(25, 1, 250, 0), got)
}

func TestMonotonicityAcrossEmissions(t *testing.T) {
	g := newTestGateway(t)
	g.HandleNewHistoricalCheckpoint(checkpoint.New(10, 1, 100, 0))
	c1 := drain(t, g.NewCheckpoints())

	g.HandleHistoricalSyncComplete(1)
	g.HandleNewRealtimeCheckpoint(checkpoint.New(20, 1, 200, 0))
	c2 := drain(t, g.NewCheckpoints())

	require.True(t, checkpoint.Less(c1, c2))
}

func TestReorgEmitsSignal(t *testing.T) {
	g := newTestGateway(t)
	safe := checkpoint.New(90, 1, 900, 0)
	g.HandleReorg(safe)
	select {
	case got := <-g.Reorgs():
		require.Equal(t, safe, got)
	default:
		t.Fatal("expected reorg emission")
	}
}
