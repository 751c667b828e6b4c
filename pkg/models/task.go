package models

import "github.com/0xkanth/evmindex/internal/checkpoint"

// LogFilter is a user-declared filter before fragment expansion: any slot
// may hold multiple values (OR within the slot). Expanding the cross
// product of Addresses x Topic0s x Topic1s x ... yields the LogFilterFragments
// that are actually tracked in the interval tables.
type LogFilter struct {
	ChainID   uint64
	Addresses []string
	Topics0   []string
	Topics1   []string
	Topics2   []string
	Topics3   []string
}

// Factory is a user-declared factory source before fragment expansion.
type Factory struct {
	ChainID              uint64
	Address              string
	EventSelector        string
	ChildAddressLocation ChildAddressLocation
	// ChildTopics0 narrows which events on the discovered children this
	// factory's consumers care about; expanded into FactoryFragments the
	// same way LogFilter expands into LogFilterFragments.
	ChildTopics0 []string
}

// DecodedEvent is a single decoded log, joined with its block and
// transaction, ready to become a scheduler LOG task (scheduler.TaskKindLog).
type DecodedEvent struct {
	Checkpoint  checkpoint.Checkpoint
	ChainID     uint64
	Contract    string
	Event       string
	Args        map[string]any
	Log         Log
	Block       Block
	Transaction Transaction
}

// EventPage is the result of a single getLogEvents call.
type EventPage struct {
	Events              []DecodedEvent
	HasNextPage         bool
	LastCheckpointInPage checkpoint.Checkpoint
	// LastCheckpoint is the checkpoint of the newest matching event across
	// the entire (from, to] window, independent of the page limit — used
	// for caching/progress metrics only.
	LastCheckpoint checkpoint.Checkpoint
	// HasAny reports whether LastCheckpoint is meaningful (the (from, to]
	// window contained at least one matching event).
	HasAny bool
}
