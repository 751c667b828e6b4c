// Package abidecode generalizes the teacher's internal/handler — one
// hand-written Parse function per event name, switching on topic0 and
// slicing log.Data by hand — into a single Decode that takes the ABI event
// definition itself and returns every field, indexed or not, by name.
package abidecode

import (
	"fmt"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/core/types"
)

// DecodeError wraps a log a event failed to decode against, so a caller can
// log the offending (contract, event, tx) without re-deriving it from a
// wrapped error string.
type DecodeError struct {
	Event string
	Log   types.Log
	Err   error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("abidecode: %s (tx %s, log %d): %v", e.Event, e.Log.TxHash.Hex(), e.Log.Index, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Decode unpacks log against event, returning every argument keyed by name
// regardless of indexed/non-indexed position. Non-indexed arguments are
// unpacked from log.Data; indexed arguments are recovered from log.Topics
// (dynamic indexed types — strings, bytes, arrays — recover only their
// keccak256 hash, the same limitation every ABI decoder has since Solidity
// never emits the original value for those).
func Decode(event abi.Event, log types.Log) (map[string]any, error) {
	if len(log.Topics) == 0 || log.Topics[0] != event.ID {
		return nil, &DecodeError{Event: event.Name, Log: log, Err: fmt.Errorf("topic0 mismatch: log has %v, event is %s", topic0OrNil(log), event.ID)}
	}

	out := make(map[string]any, len(event.Inputs))

	if err := event.Inputs.NonIndexed().UnpackIntoMap(out, log.Data); err != nil {
		return nil, &DecodeError{Event: event.Name, Log: log, Err: fmt.Errorf("unpack data: %w", err)}
	}

	if err := abi.ParseTopicsIntoMap(out, indexedArguments(event.Inputs), log.Topics[1:]); err != nil {
		return nil, &DecodeError{Event: event.Name, Log: log, Err: fmt.Errorf("parse topics: %w", err)}
	}

	return out, nil
}

// indexedArguments filters to the indexed-only arguments, the same filter
// bind.BoundContract.UnpackLog applies before calling ParseTopicsIntoMap —
// fields must line up 1:1 with log.Topics[1:], which never includes
// non-indexed arguments.
func indexedArguments(inputs abi.Arguments) abi.Arguments {
	indexed := make(abi.Arguments, 0, len(inputs))
	for _, arg := range inputs {
		if arg.Indexed {
			indexed = append(indexed, arg)
		}
	}
	return indexed
}

func topic0OrNil(log types.Log) any {
	if len(log.Topics) == 0 {
		return nil
	}
	return log.Topics[0]
}
