// Package gateway implements the Sync Gateway: a cross-chain checkpoint
// reducer that fuses per-chain historical/realtime/finality progress into
// one monotone global checkpoint, grounded on the teacher's Syncer.mu
// RWMutex idiom (internal/syncer/syncer.go) and its EventCallback pattern
// (internal/router/event_log_handler_router.go), generalized from a single
// callback to multiple independent channel subscribers.
package gateway

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/0xkanth/evmindex/internal/checkpoint"
)

// chainState is a chain's historical/realtime/finality progress.
type chainState struct {
	historical         checkpoint.Checkpoint
	realtime           checkpoint.Checkpoint
	finality           checkpoint.Checkpoint
	historicalComplete bool
}

// Gateway fuses per-chain checkpoints into one monotone global checkpoint.
// All public methods are single-threaded event handlers serialized by mu,
// matching spec §4.2's "operations are treated as single-threaded event
// handlers; the reducer is pure over current state".
type Gateway struct {
	mu     sync.Mutex
	logger zerolog.Logger
	chains map[uint64]*chainState

	checkpoint         checkpoint.Checkpoint
	finalityCheckpoint checkpoint.Checkpoint

	newCheckpointCh         chan checkpoint.Checkpoint
	newFinalityCheckpointCh chan checkpoint.Checkpoint
	reorgCh                 chan checkpoint.Checkpoint

	snapshot *snapshotStore
}

// New builds a Gateway. snapshotPath may be empty to disable bbolt
// persistence (tests, ephemeral runs).
func New(snapshotPath string, logger zerolog.Logger) (*Gateway, error) {
	g := &Gateway{
		logger:                  logger.With().Str("component", "gateway").Logger(),
		chains:                  make(map[uint64]*chainState),
		newCheckpointCh:         make(chan checkpoint.Checkpoint, 64),
		newFinalityCheckpointCh: make(chan checkpoint.Checkpoint, 64),
		reorgCh:                 make(chan checkpoint.Checkpoint, 16),
	}
	if snapshotPath != "" {
		s, err := newSnapshotStore(snapshotPath)
		if err != nil {
			return nil, err
		}
		g.snapshot = s
	}
	return g, nil
}

// NewCheckpoints is consumed by the scheduler for global-checkpoint advances.
func (g *Gateway) NewCheckpoints() <-chan checkpoint.Checkpoint { return g.newCheckpointCh }

// NewFinalityCheckpoints is consumed by the scheduler's flush logic.
func (g *Gateway) NewFinalityCheckpoints() <-chan checkpoint.Checkpoint { return g.newFinalityCheckpointCh }

// Reorgs is consumed by the scheduler's reorg handler.
func (g *Gateway) Reorgs() <-chan checkpoint.Checkpoint { return g.reorgCh }

func (g *Gateway) stateFor(chainID uint64) *chainState {
	cs, ok := g.chains[chainID]
	if !ok {
		cs = &chainState{}
		g.chains[chainID] = cs
	}
	return cs
}

// Checkpoint returns the current global checkpoint.
func (g *Gateway) Checkpoint() checkpoint.Checkpoint {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.checkpoint
}

// FinalityCheckpoint returns the current global finality checkpoint.
func (g *Gateway) FinalityCheckpoint() checkpoint.Checkpoint {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.finalityCheckpoint
}

// HandleNewHistoricalCheckpoint advances a chain's historical checkpoint and
// recomputes the global checkpoint.
func (g *Gateway) HandleNewHistoricalCheckpoint(c checkpoint.Checkpoint) {
	g.mu.Lock()
	defer g.mu.Unlock()

	cs := g.stateFor(c.ChainID)
	if checkpoint.Greater(c, cs.historical) {
		cs.historical = c
		g.snapshotField(c.ChainID, "historical", c)
	}
	g.recomputeGlobalLocked()
}

// HandleHistoricalSyncComplete marks a chain's historical backfill done.
func (g *Gateway) HandleHistoricalSyncComplete(chainID uint64) {
	g.mu.Lock()
	defer g.mu.Unlock()

	cs := g.stateFor(chainID)
	cs.historicalComplete = true
	if g.snapshot != nil {
		if err := g.snapshot.putBool(chainID, "historicalComplete", true); err != nil {
			g.logger.Warn().Err(err).Uint64("chainId", chainID).Msg("snapshot historicalComplete failed")
		}
	}
	g.recomputeGlobalLocked()
}

// HandleNewRealtimeCheckpoint advances a chain's realtime checkpoint; it
// does not affect the global checkpoint while that chain is still
// historical-incomplete (spec §4.2).
func (g *Gateway) HandleNewRealtimeCheckpoint(c checkpoint.Checkpoint) {
	g.mu.Lock()
	defer g.mu.Unlock()

	cs := g.stateFor(c.ChainID)
	if checkpoint.Greater(c, cs.realtime) {
		cs.realtime = c
		g.snapshotField(c.ChainID, "realtime", c)
	}
	g.recomputeGlobalLocked()
}

// HandleNewFinalityCheckpoint advances a chain's finality checkpoint and
// recomputes the global finality checkpoint.
func (g *Gateway) HandleNewFinalityCheckpoint(c checkpoint.Checkpoint) {
	g.mu.Lock()
	defer g.mu.Unlock()

	cs := g.stateFor(c.ChainID)
	if checkpoint.Greater(c, cs.finality) {
		cs.finality = c
		g.snapshotField(c.ChainID, "finality", c)
	}

	min := checkpoint.Max()
	for _, s := range g.chains {
		min = checkpoint.Min2(min, s.finality)
	}
	if checkpoint.Greater(min, g.finalityCheckpoint) {
		g.finalityCheckpoint = min
		select {
		case g.newFinalityCheckpointCh <- min:
		default:
			g.logger.Warn().Msg("newFinalityCheckpoint channel full, dropping emission")
		}
	}
}

// HandleReorg emits a reorg signal at safeCheckpoint. The Sync Gateway never
// fails; it is the scheduler's responsibility to act on the signal.
func (g *Gateway) HandleReorg(safeCheckpoint checkpoint.Checkpoint) {
	select {
	case g.reorgCh <- safeCheckpoint:
	default:
		g.logger.Warn().Msg("reorg channel full, dropping emission")
	}
}

// Register declares chainID as part of the indexed chain set before any
// checkpoint events arrive, so the reducer's min-over-all-chains includes it
// at its zero state rather than ignoring it until its first event.
func (g *Gateway) Register(chainID uint64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.stateFor(chainID)
}

// ResetCheckpoints clears all per-chain state for chainID, per spec §4.2.
func (g *Gateway) ResetCheckpoints(chainID uint64) {
	g.mu.Lock()
	defer g.mu.Unlock()

	delete(g.chains, chainID)
	g.checkpoint = checkpoint.Zero()
	g.finalityCheckpoint = checkpoint.Zero()
}

// recomputeGlobalLocked implements the reducer:
//
//	perChainBest[i] = historicalComplete[i] ? max(historical[i], realtime[i]) : historical[i]
//	global.checkpoint = min over all chains of perChainBest[i]
//
// and emits newCheckpoint iff the result strictly advances. Must be called
// with mu held.
func (g *Gateway) recomputeGlobalLocked() {
	if len(g.chains) == 0 {
		return
	}
	min := checkpoint.Max()
	for _, s := range g.chains {
		best := s.historical
		if s.historicalComplete {
			best = checkpoint.Max2(s.historical, s.realtime)
		}
		min = checkpoint.Min2(min, best)
	}
	if checkpoint.Greater(min, g.checkpoint) {
		g.checkpoint = min
		select {
		case g.newCheckpointCh <- min:
		default:
			g.logger.Warn().Msg("newCheckpoint channel full, dropping emission")
		}
	}
}

func (g *Gateway) snapshotField(chainID uint64, field string, c checkpoint.Checkpoint) {
	if g.snapshot == nil {
		return
	}
	if err := g.snapshot.put(chainID, field, c); err != nil {
		g.logger.Warn().Err(err).Uint64("chainId", chainID).Str("field", field).Msg("snapshot write failed")
	}
}

// Close releases the snapshot store, if any.
func (g *Gateway) Close() error {
	if g.snapshot == nil {
		return nil
	}
	return g.snapshot.close()
}

// Restore loads per-chain state from the snapshot store for every chainID,
// so a restart doesn't need to replay collectors from genesis. Called once
// at startup before collectors begin emitting.
func (g *Gateway) Restore(chainIDs []uint64) error {
	if g.snapshot == nil {
		return nil
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	for _, chainID := range chainIDs {
		cs := g.stateFor(chainID)
		if c, ok, err := g.snapshot.get(chainID, "historical"); err != nil {
			return err
		} else if ok {
			cs.historical = c
		}
		if c, ok, err := g.snapshot.get(chainID, "realtime"); err != nil {
			return err
		} else if ok {
			cs.realtime = c
		}
		if c, ok, err := g.snapshot.get(chainID, "finality"); err != nil {
			return err
		} else if ok {
			cs.finality = c
		}
		if complete, err := g.snapshot.getBool(chainID, "historicalComplete"); err != nil {
			return err
		} else {
			cs.historicalComplete = complete
		}
	}
	g.recomputeGlobalLocked()

	min := checkpoint.Max()
	for _, s := range g.chains {
		min = checkpoint.Min2(min, s.finality)
	}
	if len(g.chains) > 0 {
		g.finalityCheckpoint = min
	}
	return nil
}
