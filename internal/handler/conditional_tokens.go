package handler

import (
	"context"
	"fmt"

	"github.com/0xkanth/evmindex/internal/entitystore"
	"github.com/0xkanth/evmindex/internal/scheduler"
	"github.com/0xkanth/evmindex/pkg/models"
)

// ConditionPreparation creates the Condition entity a market's lifecycle
// starts from, grounded on the teacher's HandleConditionPreparation
// (conditionId/oracle/questionId/outcomeSlotCount from ConditionalTokens'
// ConditionPreparation event).
var ConditionPreparation scheduler.IndexingFunctionFunc = func(ctx context.Context, ictx scheduler.IndexingContext, event models.DecodedEvent) error {
	conditionID := argHash(event.Args, "conditionId")
	e := entitystore.Entity{
		Type: "Condition",
		ID:   entityID(ictx.ChainID, conditionID),
		Data: map[string]any{
			"conditionId":      conditionID,
			"oracle":           argAddress(event.Args, "oracle"),
			"questionId":       argHash(event.Args, "questionId"),
			"outcomeSlotCount": argBigInt(event.Args, "outcomeSlotCount"),
			"status":           "prepared",
			"preparedAtBlock":  event.Block.Number,
		},
	}
	return ictx.DB.Create(ctx, e, event.Checkpoint)
}

// ConditionResolution marks a Condition resolved with its payout vector,
// grounded on HandleConditionResolution.
var ConditionResolution scheduler.IndexingFunctionFunc = func(ctx context.Context, ictx scheduler.IndexingContext, event models.DecodedEvent) error {
	conditionID := argHash(event.Args, "conditionId")
	e := entitystore.Entity{
		Type: "Condition",
		ID:   entityID(ictx.ChainID, conditionID),
		Data: map[string]any{
			"conditionId":      conditionID,
			"oracle":           argAddress(event.Args, "oracle"),
			"questionId":       argHash(event.Args, "questionId"),
			"outcomeSlotCount": argBigInt(event.Args, "outcomeSlotCount"),
			"payoutNumerators": argBigIntSlice(event.Args, "payoutNumerators"),
			"status":           "resolved",
			"resolvedAtBlock":  event.Block.Number,
		},
	}
	return ictx.DB.Upsert(ctx, e, event.Checkpoint)
}

// PositionSplit records a mint of conditional tokens as an append-only
// activity entity, grounded on HandlePositionSplit.
var PositionSplit scheduler.IndexingFunctionFunc = func(ctx context.Context, ictx scheduler.IndexingContext, event models.DecodedEvent) error {
	e := entitystore.Entity{
		Type: "PositionSplit",
		ID:   logID(event),
		Data: map[string]any{
			"stakeholder":        argAddress(event.Args, "stakeholder"),
			"collateralToken":    argAddress(event.Args, "collateralToken"),
			"parentCollectionId": argHash(event.Args, "parentCollectionId"),
			"conditionId":        argHash(event.Args, "conditionId"),
			"partition":          argBigIntSlice(event.Args, "partition"),
			"amount":             argBigInt(event.Args, "amount"),
			"txHash":             event.Log.TransactionHash,
			"blockNumber":        event.Block.Number,
		},
	}
	return ictx.DB.Create(ctx, e, event.Checkpoint)
}

// PositionsMerge records a redemption/merge of conditional tokens back into
// collateral, grounded on HandlePositionsMerge.
var PositionsMerge scheduler.IndexingFunctionFunc = func(ctx context.Context, ictx scheduler.IndexingContext, event models.DecodedEvent) error {
	e := entitystore.Entity{
		Type: "PositionsMerge",
		ID:   logID(event),
		Data: map[string]any{
			"stakeholder":        argAddress(event.Args, "stakeholder"),
			"collateralToken":    argAddress(event.Args, "collateralToken"),
			"parentCollectionId": argHash(event.Args, "parentCollectionId"),
			"conditionId":        argHash(event.Args, "conditionId"),
			"partition":          argBigIntSlice(event.Args, "partition"),
			"amount":             argBigInt(event.Args, "amount"),
			"txHash":             event.Log.TransactionHash,
			"blockNumber":        event.Block.Number,
		},
	}
	return ictx.DB.Create(ctx, e, event.Checkpoint)
}

// TransferSingle records an ERC-1155 single-token transfer as an append-only
// activity entity, grounded on HandleTransferSingle.
var TransferSingle scheduler.IndexingFunctionFunc = func(ctx context.Context, ictx scheduler.IndexingContext, event models.DecodedEvent) error {
	e := entitystore.Entity{
		Type: "Transfer",
		ID:   logID(event),
		Data: map[string]any{
			"operator":    argAddress(event.Args, "operator"),
			"from":        argAddress(event.Args, "from"),
			"to":          argAddress(event.Args, "to"),
			"tokenId":     argBigInt(event.Args, "id"),
			"amount":      argBigInt(event.Args, "value"),
			"txHash":      event.Log.TransactionHash,
			"blockNumber": event.Block.Number,
		},
	}
	return ictx.DB.Create(ctx, e, event.Checkpoint)
}

// TransferBatch fans a single ERC-1155 batch-transfer log out into one
// Transfer activity entity per (tokenId, amount) pair, grounded on
// HandleTransferBatch — the one event the teacher needed abi.Arguments.Unpack
// for, since ids/values are dynamic uint256[] arrays abidecode now handles
// generically instead of this package re-unpacking log.Data itself.
var TransferBatch scheduler.IndexingFunctionFunc = func(ctx context.Context, ictx scheduler.IndexingContext, event models.DecodedEvent) error {
	ids := argBigIntSlice(event.Args, "ids")
	values := argBigIntSlice(event.Args, "values")
	if len(ids) != len(values) {
		return fmt.Errorf("handler: TransferBatch ids/values length mismatch: %d != %d", len(ids), len(values))
	}

	operator := argAddress(event.Args, "operator")
	from := argAddress(event.Args, "from")
	to := argAddress(event.Args, "to")

	entities := make([]entitystore.Entity, len(ids))
	for i := range ids {
		entities[i] = entitystore.Entity{
			Type: "Transfer",
			ID:   fmt.Sprintf("%s:%d", logID(event), i),
			Data: map[string]any{
				"operator":    operator,
				"from":        from,
				"to":          to,
				"tokenId":     ids[i],
				"amount":      values[i],
				"txHash":      event.Log.TransactionHash,
				"blockNumber": event.Block.Number,
			},
		}
	}
	return ictx.DB.CreateMany(ctx, entities, event.Checkpoint)
}
