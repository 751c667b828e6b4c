package handler

import (
	"context"

	"github.com/0xkanth/evmindex/internal/entitystore"
	"github.com/0xkanth/evmindex/internal/scheduler"
	"github.com/0xkanth/evmindex/pkg/models"
)

// OrderFilled records one fill against an order as an append-only activity
// entity and upserts the Order's running filled state, grounded on the
// teacher's HandleOrderFilled.
var OrderFilled scheduler.IndexingFunctionFunc = func(ctx context.Context, ictx scheduler.IndexingContext, event models.DecodedEvent) error {
	orderHash := argHash(event.Args, "orderHash")

	fill := entitystore.Entity{
		Type: "Fill",
		ID:   logID(event),
		Data: map[string]any{
			"orderHash":         orderHash,
			"maker":             argAddress(event.Args, "maker"),
			"taker":             argAddress(event.Args, "taker"),
			"makerAssetId":      argBigInt(event.Args, "makerAssetId"),
			"takerAssetId":      argBigInt(event.Args, "takerAssetId"),
			"makerAmountFilled": argBigInt(event.Args, "makerAmountFilled"),
			"takerAmountFilled": argBigInt(event.Args, "takerAmountFilled"),
			"fee":               argBigInt(event.Args, "fee"),
			"txHash":            event.Log.TransactionHash,
			"blockNumber":       event.Block.Number,
		},
	}
	if err := ictx.DB.Create(ctx, fill, event.Checkpoint); err != nil {
		return err
	}

	order := entitystore.Entity{
		Type: "Order",
		ID:   entityID(ictx.ChainID, orderHash),
		Data: map[string]any{
			"orderHash":   orderHash,
			"maker":       argAddress(event.Args, "maker"),
			"status":      "filled",
			"lastFillTx":  event.Log.TransactionHash,
			"blockNumber": event.Block.Number,
		},
	}
	return ictx.DB.Upsert(ctx, order, event.Checkpoint)
}

// OrderCancelled marks an Order cancelled, grounded on HandleOrderCancelled.
var OrderCancelled scheduler.IndexingFunctionFunc = func(ctx context.Context, ictx scheduler.IndexingContext, event models.DecodedEvent) error {
	orderHash := argHash(event.Args, "orderHash")
	order := entitystore.Entity{
		Type: "Order",
		ID:   entityID(ictx.ChainID, orderHash),
		Data: map[string]any{
			"orderHash":   orderHash,
			"status":      "cancelled",
			"cancelledTx": event.Log.TransactionHash,
			"blockNumber": event.Block.Number,
		},
	}
	return ictx.DB.Upsert(ctx, order, event.Checkpoint)
}

// OrdersMatched records a taker order's match against the book as an
// append-only activity entity, grounded on HandleOrdersMatched.
var OrdersMatched scheduler.IndexingFunctionFunc = func(ctx context.Context, ictx scheduler.IndexingContext, event models.DecodedEvent) error {
	e := entitystore.Entity{
		Type: "Match",
		ID:   logID(event),
		Data: map[string]any{
			"takerOrderHash":    argHash(event.Args, "takerOrderHash"),
			"takerOrderMaker":   argAddress(event.Args, "takerOrderMaker"),
			"makerAssetId":      argBigInt(event.Args, "makerAssetId"),
			"takerAssetId":      argBigInt(event.Args, "takerAssetId"),
			"makerAmountFilled": argBigInt(event.Args, "makerAmountFilled"),
			"takerAmountFilled": argBigInt(event.Args, "takerAmountFilled"),
			"txHash":            event.Log.TransactionHash,
			"blockNumber":       event.Block.Number,
		},
	}
	return ictx.DB.Create(ctx, e, event.Checkpoint)
}

// TokenRegistered creates the Token entity pairing two complementary
// outcome token IDs to their condition, grounded on HandleTokenRegistered.
var TokenRegistered scheduler.IndexingFunctionFunc = func(ctx context.Context, ictx scheduler.IndexingContext, event models.DecodedEvent) error {
	conditionID := argHash(event.Args, "conditionId")
	e := entitystore.Entity{
		Type: "Token",
		ID:   entityID(ictx.ChainID, conditionID),
		Data: map[string]any{
			"token0":      argBigInt(event.Args, "token0"),
			"token1":      argBigInt(event.Args, "token1"),
			"conditionId": conditionID,
			"blockNumber": event.Block.Number,
		},
	}
	return ictx.DB.Create(ctx, e, event.Checkpoint)
}
