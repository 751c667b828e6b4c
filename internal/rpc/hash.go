package rpc

import (
	"fmt"
	"hash/fnv"
)

// RequestHash fingerprints a JSON-RPC method plus its canonically-ordered
// arguments, the key component the cached call is stored under alongside
// (chainId, blockNumber), grounded on the fragment fingerprinting in
// internal/syncstore/fragment.go (fnv.New128a over a pipe-joined tuple).
func RequestHash(method string, args []any) string {
	h := fnv.New128a()
	fmt.Fprintf(h, "%s", method)
	for _, a := range args {
		fmt.Fprintf(h, "|%v", a)
	}
	return fmt.Sprintf("%x", h.Sum(nil))
}
