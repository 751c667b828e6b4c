// Sync Store row types (spec §3). These are RPC-shaped rows, not decoded
// domain events.
package models

// Block is keyed by (ChainID, Hash); Number is indexed for range scans.
type Block struct {
	ChainID    uint64
	Hash       string
	Number     uint64
	ParentHash string
	Timestamp  uint64
	GasUsed    uint64
	GasLimit   uint64
	BaseFee    string // decimal string, nil-able via ""; drivers store it as NUMERIC(78,0) or u256-encoded
}

// Transaction is keyed by (ChainID, Hash); BlockNumber is indexed.
type Transaction struct {
	ChainID     uint64
	Hash        string
	BlockHash   string
	BlockNumber uint64
	From        string
	To          string // empty for contract creation
	Index       uint32
	Value       string // decimal string; drivers store it as NUMERIC(78,0) or u256-encoded
	Input       []byte
}

// Log is keyed by (ChainID, BlockHash, LogIndex); BlockNumber, Address, and
// Topic0..3 are indexed to serve getLogEvents filter predicates.
type Log struct {
	ChainID          uint64
	BlockHash        string
	BlockNumber      uint64
	LogIndex         uint32
	Address          string
	Topic0           string
	Topic1           string
	Topic2           string
	Topic3           string
	Data             []byte
	TransactionHash  string
	TransactionIndex uint32
	Removed          bool
}

// LogFilterFragment is a fully specialized filter: at most one value per
// slot. Id is a deterministic fingerprint of (ChainID, Address, Topic0..3).
type LogFilterFragment struct {
	ID      string
	ChainID uint64
	Address string // empty means "any address"
	Topic0  string
	Topic1  string
	Topic2  string
	Topic3  string

	// EventSelector is Topic0 repeated for readability at call sites that
	// only care about the selector match, independent of the other slots.
	EventSelector string
}

// ChildAddressLocation describes where to extract a 20-byte child address
// from a factory-creation log: "topic1"|"topic2"|"topic3" or "offsetN".
type ChildAddressLocation = string

// FactoryFragment additionally carries how to extract a child address from
// a factory-creation log.
type FactoryFragment struct {
	ID                   string
	ChainID              uint64
	Address              string // the factory contract's address
	EventSelector        string // topic0 of the child-creation log
	ChildAddressLocation ChildAddressLocation
	// ChildEventSelector constrains the discovered child's own logs, e.g. a
	// Swap/Transfer topic0 — independent of EventSelector, which only
	// matches the factory's own creation log. Empty matches any child event.
	ChildEventSelector string
}

// Interval is re-exported at the model layer so store rows can reference it
// without importing internal/interval from pkg (which would invert the
// dependency direction); see internal/syncstore for the conversion.
type Interval struct {
	Start uint64
	End   uint64
}

// RpcRequestResult caches a deterministic RPC read for replay, keyed by
// (ChainID, BlockNumber, Request).
type RpcRequestResult struct {
	ChainID     uint64
	BlockNumber uint64
	Request     string
	Result      string
}

// FunctionMetadata is the persisted progress row per indexing function.
type FunctionMetadata struct {
	FunctionID   string
	FunctionName string
	FromCheckpointTS    uint64
	FromCheckpointChain uint64
	FromCheckpointBlock uint64
	FromCheckpointLog   *uint32
	ToCheckpointTS      uint64
	ToCheckpointChain   uint64
	ToCheckpointBlock   uint64
	ToCheckpointLog     *uint32
	EventCount          uint64
}
