// Package handler implements the indexing functions registered against the
// scheduler for the Polymarket CTF Exchange and Conditional Tokens
// contracts. Every function here replaces one of the teacher's
// internal/handler.HandleX parsers: where HandleX re-sliced log.Topics/Data
// by hand, these read from event.Args, already decoded by
// internal/abidecode against the registered ABI before Invoke is called.
package handler

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/0xkanth/evmindex/pkg/models"
)

// entityID scopes an entity key to the chain it was observed on, so the
// same condition/order hash on two chains never collides in the Entity
// Store.
func entityID(chainID uint64, key string) string {
	return fmt.Sprintf("%d:%s", chainID, key)
}

// logID keys an append-only activity entity by its exact source log, so
// reprocessing the same block (resumed backfill, pre-finality realtime
// replay) upserts the identical row instead of duplicating it.
func logID(event models.DecodedEvent) string {
	return fmt.Sprintf("%d:%s:%d", event.ChainID, event.Log.TransactionHash, event.Log.LogIndex)
}

func argHash(args map[string]any, name string) string {
	if h, ok := args[name].(common.Hash); ok {
		return h.Hex()
	}
	return ""
}

func argAddress(args map[string]any, name string) string {
	if a, ok := args[name].(common.Address); ok {
		return a.Hex()
	}
	return ""
}

func argBigInt(args map[string]any, name string) string {
	if v, ok := args[name].(*big.Int); ok {
		return v.String()
	}
	return ""
}

func argBigIntSlice(args map[string]any, name string) []string {
	v, ok := args[name].([]*big.Int)
	if !ok {
		return nil
	}
	out := make([]string, len(v))
	for i, n := range v {
		out[i] = n.String()
	}
	return out
}
