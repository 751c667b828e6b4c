// Package syncstore defines the Sync Store contract (spec §4.1): durable,
// idempotent storage of blocks/transactions/logs plus interval bookkeeping,
// and ordered decoded-event page delivery. Two drivers implement Store:
// internal/syncstore/postgres (pgx) and internal/syncstore/sqlite
// (modernc.org/sqlite).
package syncstore

import (
	"context"

	"github.com/0xkanth/evmindex/internal/checkpoint"
	"github.com/0xkanth/evmindex/pkg/models"
)

// ChildAddressPage is one page of InsertFactoryChildAddressLogs-derived
// addresses, returned in ascending block-number order.
type ChildAddressPage struct {
	Addresses []string
	// Exhausted is true once fewer than the requested page size returned,
	// signaling the lazy sequence has no further pages.
	Exhausted bool
}

// GetLogEventsParams bundles a getLogEvents call. LogFilters and Factories
// may both be populated; an event matching any listed fragment is returned.
type GetLogEventsParams struct {
	FromCheckpoint checkpoint.Checkpoint
	ToCheckpoint   checkpoint.Checkpoint
	Limit          int
	LogFilters     []models.LogFilterFragment
	Factories      []models.FactoryFragment
}

// Store is the Sync Store contract. Every method is expected to be wrapped
// internally with the retry envelope (internal/retry.StoreConfig) and
// Prometheus call/duration/error metrics — see postgres.Store and
// sqlite.Store, which share the WrapOp helper in this package.
type Store interface {
	InsertLogFilterInterval(ctx context.Context, chainID uint64, filter models.LogFilter, block models.Block, txs []models.Transaction, logs []models.Log, iv models.Interval) error
	GetLogFilterIntervals(ctx context.Context, chainID uint64, filter models.LogFilter) ([]models.Interval, error)

	InsertFactoryLogFilterInterval(ctx context.Context, factory models.Factory, block models.Block, txs []models.Transaction, logs []models.Log, iv models.Interval) error
	GetFactoryLogFilterIntervals(ctx context.Context, factory models.Factory) ([]models.Interval, error)

	InsertFactoryChildAddressLogs(ctx context.Context, chainID uint64, logs []models.Log) error
	GetFactoryChildAddresses(ctx context.Context, factory models.Factory, upToBlockNumber uint64, pageSize int) (ChildAddressIterator, error)

	InsertRealtimeBlock(ctx context.Context, block models.Block, txs []models.Transaction, logs []models.Log) error
	InsertRealtimeInterval(ctx context.Context, chainID uint64, sources []FragmentRef, iv models.Interval) error
	DeleteRealtimeData(ctx context.Context, chainID uint64, fromBlock uint64) error

	InsertRpcRequestResult(ctx context.Context, r models.RpcRequestResult) error
	GetRpcRequestResult(ctx context.Context, chainID uint64, blockNumber uint64, request string) (string, bool, error)

	GetLogEvents(ctx context.Context, params GetLogEventsParams) (models.EventPage, error)

	// UpsertFunctionMetadata persists the scheduler's per-function progress
	// row (spec §4.3's Flush), keyed by FunctionID.
	UpsertFunctionMetadata(ctx context.Context, m models.FunctionMetadata) error
	// ListFunctionMetadata returns every persisted progress row, read once
	// by the scheduler's Reset to seed function state from durable storage.
	ListFunctionMetadata(ctx context.Context) ([]models.FunctionMetadata, error)

	Close() error
}

// FragmentRef identifies a tracked fragment (log filter or factory) by its
// deterministic id, for InsertRealtimeInterval calls that finalize a range
// across every fragment a realtime collector is responsible for.
type FragmentRef struct {
	ID        string
	IsFactory bool
}

// ChildAddressIterator is the lazy finite sequence spec §4.1 describes:
// paginated ascending by block number, ending when a page returns fewer
// than pageSize rows.
type ChildAddressIterator interface {
	Next(ctx context.Context) (ChildAddressPage, error)
}
