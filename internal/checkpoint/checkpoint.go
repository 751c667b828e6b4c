// Package checkpoint implements the total order used to sequence events
// across chains: (blockTimestamp, chainId, blockNumber, logIndex).
package checkpoint

import "fmt"

// Checkpoint totally orders events produced by any number of chains.
//
// LogIndex is nil to represent end-of-block. Whether a nil LogIndex compares
// above or below a concrete index depends on which bound it is used as —
// callers pass AsLowerBound explicitly to Compare rather than relying on a
// fixed convention, since the same Checkpoint value is used as both a
// "greater than" floor and a "less than or equal to" ceiling in
// getLogEvents.
type Checkpoint struct {
	BlockTimestamp uint64
	ChainID        uint64
	BlockNumber    uint64
	LogIndex       *uint32
}

// Zero returns the all-zero checkpoint, the default per-chain state.
func Zero() Checkpoint {
	return Checkpoint{}
}

// Max returns the saturated checkpoint, used as an unreachable upper bound.
func Max() Checkpoint {
	idx := ^uint32(0)
	return Checkpoint{
		BlockTimestamp: ^uint64(0),
		ChainID:        ^uint64(0),
		BlockNumber:    ^uint64(0),
		LogIndex:       &idx,
	}
}

// New builds a checkpoint with a concrete log index.
func New(ts, chainID, block uint64, logIndex uint32) Checkpoint {
	idx := logIndex
	return Checkpoint{BlockTimestamp: ts, ChainID: chainID, BlockNumber: block, LogIndex: &idx}
}

// EndOfBlock builds a checkpoint with no log index (end-of-block marker).
func EndOfBlock(ts, chainID, block uint64) Checkpoint {
	return Checkpoint{BlockTimestamp: ts, ChainID: chainID, BlockNumber: block}
}

// Compare returns -1, 0, or 1 comparing a to b lexicographically over
// (BlockTimestamp, ChainID, BlockNumber, LogIndex).
//
// asLowerBound controls how a nil LogIndex compares against a concrete one:
// when true (a is being used as a "> a" floor) nil sorts below every
// concrete index; when false (a is being used as a "<= a" ceiling) nil sorts
// above every concrete index. The field only matters when exactly one side
// has a nil LogIndex and the first three fields tie.
func Compare(a, b Checkpoint, asLowerBound bool) int {
	if a.BlockTimestamp != b.BlockTimestamp {
		return cmpUint64(a.BlockTimestamp, b.BlockTimestamp)
	}
	if a.ChainID != b.ChainID {
		return cmpUint64(a.ChainID, b.ChainID)
	}
	if a.BlockNumber != b.BlockNumber {
		return cmpUint64(a.BlockNumber, b.BlockNumber)
	}
	switch {
	case a.LogIndex == nil && b.LogIndex == nil:
		return 0
	case a.LogIndex == nil:
		if asLowerBound {
			return -1
		}
		return 1
	case b.LogIndex == nil:
		if asLowerBound {
			return 1
		}
		return -1
	default:
		return cmpUint64(uint64(*a.LogIndex), uint64(*b.LogIndex))
	}
}

func cmpUint64(a, b uint64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// Less reports whether a < b, treating both sides as concrete points
// (neither is being used as a bound) — the common case for comparing two
// already-materialized event checkpoints.
func Less(a, b Checkpoint) bool {
	return Compare(a, b, true) < 0
}

// LessOrEqual reports whether a <= b.
func LessOrEqual(a, b Checkpoint) bool {
	return Compare(a, b, true) <= 0
}

// Greater reports whether a > b.
func Greater(a, b Checkpoint) bool {
	return Compare(a, b, true) > 0
}

// GreaterOrEqual reports whether a >= b.
func GreaterOrEqual(a, b Checkpoint) bool {
	return Compare(a, b, true) >= 0
}

// Max2 returns the larger of a and b.
func Max2(a, b Checkpoint) Checkpoint {
	if Greater(a, b) {
		return a
	}
	return b
}

// Min2 returns the smaller of a and b.
func Min2(a, b Checkpoint) Checkpoint {
	if Less(a, b) {
		return a
	}
	return b
}

// MinOf returns the smallest checkpoint in cs, or Max() if cs is empty (the
// identity for a min-reduction: an empty set of chains never constrains the
// global checkpoint).
func MinOf(cs []Checkpoint) Checkpoint {
	if len(cs) == 0 {
		return Max()
	}
	m := cs[0]
	for _, c := range cs[1:] {
		m = Min2(m, c)
	}
	return m
}

// String renders the checkpoint for logging, e.g. "(10,1,100,5)" or
// "(10,1,100,-)" when LogIndex is end-of-block.
func (c Checkpoint) String() string {
	if c.LogIndex == nil {
		return fmt.Sprintf("(%d,%d,%d,-)", c.BlockTimestamp, c.ChainID, c.BlockNumber)
	}
	return fmt.Sprintf("(%d,%d,%d,%d)", c.BlockTimestamp, c.ChainID, c.BlockNumber, *c.LogIndex)
}

// IsZero reports whether c is the zero checkpoint.
func (c Checkpoint) IsZero() bool {
	return c.BlockTimestamp == 0 && c.ChainID == 0 && c.BlockNumber == 0 && c.LogIndex == nil
}

// SQLBound returns c's four fields as a tuple a store driver can bind
// directly into a row-value comparison (e.g. Postgres's
// "(a,b,c,d) > ($1,$2,$3,$4)"), resolving a nil LogIndex to the sentinel
// that reproduces Compare's asLowerBound semantics: -1 sorts below every
// concrete log index, 1<<32 sorts above every concrete log index.
func (c Checkpoint) SQLBound(asLowerBound bool) (ts, chainID, block int64, logIndex int64) {
	logIndex = -1
	if !asLowerBound {
		logIndex = 1 << 32
	}
	if c.LogIndex != nil {
		logIndex = int64(*c.LogIndex)
	}
	return int64(c.BlockTimestamp), int64(c.ChainID), int64(c.BlockNumber), logIndex
}
