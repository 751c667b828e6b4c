package contracts

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
)

// Registry is a thin lookup layer over the generated ABI bindings in this
// package, exposed to indexing functions as the user-context `contracts`
// accessor: a function looks up the ABI it was registered against by name
// to decode a log or bind a read-only contract call, without importing the
// generated binding type directly.
type Registry struct {
	abis map[string]abi.ABI
}

// NewRegistry builds a Registry seeded with every generated binding in this
// package. Adding a new contract binding means adding one line here.
func NewRegistry() (*Registry, error) {
	r := &Registry{abis: make(map[string]abi.ABI)}
	if err := r.register("ConditionalTokens", ConditionalTokensMetaData.ABI); err != nil {
		return nil, err
	}
	if err := r.register("CTFExchange", CTFExchangeMetaData.ABI); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Registry) register(name, rawABI string) error {
	parsed, err := abi.JSON(strings.NewReader(rawABI))
	if err != nil {
		return fmt.Errorf("contracts: parse %s ABI: %w", name, err)
	}
	r.abis[name] = parsed
	return nil
}

// ABI returns the parsed ABI registered under name.
func (r *Registry) ABI(name string) (abi.ABI, bool) {
	a, ok := r.abis[name]
	return a, ok
}

// Event looks up an event definition by contract and event name, the
// lookup internal/abidecode uses to unpack a raw log.
func (r *Registry) Event(contract, event string) (abi.Event, bool) {
	a, ok := r.abis[contract]
	if !ok {
		return abi.Event{}, false
	}
	ev, ok := a.Events[event]
	return ev, ok
}

// EventByTopic0 finds the registered (contract, event) pair whose signature
// hash matches topic0.
func (r *Registry) EventByTopic0(topic0 common.Hash) (contract string, event abi.Event, ok bool) {
	for name, a := range r.abis {
		for _, ev := range a.Events {
			if ev.ID == topic0 {
				return name, ev, true
			}
		}
	}
	return "", abi.Event{}, false
}

// Bind returns a read-only bound contract at address, usable for the
// contract-state-read accessor indexing functions call from within a
// handler (spec §1: "read a contract's current state"). Writes are out of
// scope; only bind.ContractCaller is required.
func (r *Registry) Bind(name string, address common.Address, caller bind.ContractCaller) (*bind.BoundContract, error) {
	a, ok := r.abis[name]
	if !ok {
		return nil, fmt.Errorf("contracts: unknown contract %q", name)
	}
	return bind.NewBoundContract(address, a, caller, nil, nil), nil
}
