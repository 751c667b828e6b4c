package scheduler

import (
	"github.com/ethereum/go-ethereum/accounts/abi/bind"

	"github.com/0xkanth/evmindex/internal/checkpoint"
	"github.com/0xkanth/evmindex/internal/entitystore"
	"github.com/0xkanth/evmindex/pkg/contracts"
)

// IndexingContext is the `{ network, client, db, contracts }` object spec
// §6 hands to every invoked indexing function, scoped to the chain and
// checkpoint of the task being executed.
type IndexingContext struct {
	ChainID     uint64
	NetworkName string
	Checkpoint  checkpoint.Checkpoint

	// Client is a read-only RPC handle for the task's chain, already bound
	// through the Sync Store's rpcRequestResults cache (internal/rpc.Client
	// satisfies bind.ContractCaller directly).
	Client bind.ContractCaller

	// DB is the Entity Store; writes issued through it are tagged with
	// Checkpoint by the caller so a retry's revert can undo exactly this
	// task's partial work.
	DB entitystore.Store

	Contracts *contracts.Registry
}
