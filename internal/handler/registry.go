package handler

import "github.com/0xkanth/evmindex/internal/scheduler"

// ByContractEvent maps every indexing function this package implements to
// the "{Contract}:{Event}" key scheduler.FunctionSpec.Key expects, so
// cmd/indexer can build its ResetConfig by looking up a config source's
// (contract, event) pair in one table instead of a hand-written switch.
var ByContractEvent = map[string]scheduler.IndexingFunction{
	"ConditionalTokens:ConditionPreparation": ConditionPreparation,
	"ConditionalTokens:ConditionResolution":  ConditionResolution,
	"ConditionalTokens:PositionSplit":        PositionSplit,
	"ConditionalTokens:PositionsMerge":       PositionsMerge,
	"ConditionalTokens:TransferSingle":       TransferSingle,
	"ConditionalTokens:TransferBatch":        TransferBatch,
	"CTFExchange:OrderFilled":                OrderFilled,
	"CTFExchange:OrderCancelled":             OrderCancelled,
	"CTFExchange:OrdersMatched":              OrdersMatched,
	"CTFExchange:TokenRegistered":            TokenRegistered,
}
