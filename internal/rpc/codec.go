package rpc

import (
	"encoding/hex"
	"fmt"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/rlp"
)

// encodeBlock/decodeBlock and encodeReceipt/decodeReceipt round-trip via RLP
// (go-ethereum's own wire format) rather than JSON, since types.Block and
// types.Receipt already implement EncodeRLP/DecodeRLP and RLP preserves the
// exact on-chain byte layout a replay needs.

func encodeBlock(block *types.Block) (string, error) {
	raw, err := rlp.EncodeToBytes(block)
	if err != nil {
		return "", fmt.Errorf("rpc: encode block: %w", err)
	}
	return hex.EncodeToString(raw), nil
}

func decodeBlock(encoded string) (*types.Block, error) {
	raw, err := hex.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("rpc: decode block hex: %w", err)
	}
	var block types.Block
	if err := rlp.DecodeBytes(raw, &block); err != nil {
		return nil, fmt.Errorf("rpc: decode block rlp: %w", err)
	}
	return &block, nil
}

func encodeReceipt(receipt *types.Receipt) (string, error) {
	raw, err := rlp.EncodeToBytes(receipt)
	if err != nil {
		return "", fmt.Errorf("rpc: encode receipt: %w", err)
	}
	return hex.EncodeToString(raw), nil
}

func decodeReceipt(encoded string) (*types.Receipt, error) {
	raw, err := hex.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("rpc: decode receipt hex: %w", err)
	}
	var receipt types.Receipt
	if err := rlp.DecodeBytes(raw, &receipt); err != nil {
		return nil, fmt.Errorf("rpc: decode receipt rlp: %w", err)
	}
	return &receipt, nil
}
