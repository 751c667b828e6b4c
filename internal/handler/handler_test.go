package handler

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/0xkanth/evmindex/internal/checkpoint"
	"github.com/0xkanth/evmindex/internal/entitystore"
	"github.com/0xkanth/evmindex/internal/scheduler"
	"github.com/0xkanth/evmindex/pkg/models"
)

// memStore is a minimal in-memory entitystore.Store double, sufficient to
// assert what a handler wrote without a live Postgres connection.
type memStore struct {
	rows map[string]entitystore.Entity
}

func newMemStore() *memStore {
	return &memStore{rows: make(map[string]entitystore.Entity)}
}

func (m *memStore) key(entityType, id string) string { return entityType + ":" + id }

func (m *memStore) FindUnique(ctx context.Context, entityType, id string) (entitystore.Entity, bool, error) {
	e, ok := m.rows[m.key(entityType, id)]
	return e, ok, nil
}

func (m *memStore) FindMany(ctx context.Context, entityType string, ids []string) ([]entitystore.Entity, error) {
	var out []entitystore.Entity
	for _, id := range ids {
		if e, ok := m.rows[m.key(entityType, id)]; ok {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *memStore) Create(ctx context.Context, e entitystore.Entity, at checkpoint.Checkpoint) error {
	m.rows[m.key(e.Type, e.ID)] = e
	return nil
}

func (m *memStore) Update(ctx context.Context, e entitystore.Entity, at checkpoint.Checkpoint) error {
	m.rows[m.key(e.Type, e.ID)] = e
	return nil
}

func (m *memStore) Upsert(ctx context.Context, e entitystore.Entity, at checkpoint.Checkpoint) error {
	m.rows[m.key(e.Type, e.ID)] = e
	return nil
}

func (m *memStore) Delete(ctx context.Context, entityType, id string, at checkpoint.Checkpoint) error {
	delete(m.rows, m.key(entityType, id))
	return nil
}

func (m *memStore) CreateMany(ctx context.Context, es []entitystore.Entity, at checkpoint.Checkpoint) error {
	for _, e := range es {
		m.rows[m.key(e.Type, e.ID)] = e
	}
	return nil
}

func (m *memStore) UpdateMany(ctx context.Context, es []entitystore.Entity, at checkpoint.Checkpoint) error {
	return m.CreateMany(ctx, es, at)
}

func (m *memStore) UpsertMany(ctx context.Context, es []entitystore.Entity, at checkpoint.Checkpoint) error {
	return m.CreateMany(ctx, es, at)
}

func (m *memStore) DeleteMany(ctx context.Context, entityType string, ids []string, at checkpoint.Checkpoint) error {
	for _, id := range ids {
		delete(m.rows, m.key(entityType, id))
	}
	return nil
}

func (m *memStore) Revert(ctx context.Context, at checkpoint.Checkpoint) error { return nil }
func (m *memStore) Close() error                                              { return nil }

func testContext(db entitystore.Store) scheduler.IndexingContext {
	return scheduler.IndexingContext{ChainID: 137, NetworkName: "polygon", DB: db}
}

func TestConditionPreparationCreatesCondition(t *testing.T) {
	db := newMemStore()
	ictx := testContext(db)

	conditionID := common.HexToHash("0x01")
	event := models.DecodedEvent{
		ChainID: 137,
		Args: map[string]any{
			"conditionId":      conditionID,
			"oracle":           common.HexToAddress("0xaa"),
			"questionId":       common.HexToHash("0x02"),
			"outcomeSlotCount": big.NewInt(2),
		},
		Block: models.Block{Number: 100},
	}

	require.NoError(t, ConditionPreparation.Invoke(context.Background(), ictx, event))

	e, ok, err := db.FindUnique(context.Background(), "Condition", entityID(137, conditionID.Hex()))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "prepared", e.Data["status"])
	require.Equal(t, "2", e.Data["outcomeSlotCount"])
}

func TestConditionResolutionUpsertsOverPreparation(t *testing.T) {
	db := newMemStore()
	ictx := testContext(db)
	conditionID := common.HexToHash("0x01")

	prep := models.DecodedEvent{
		ChainID: 137,
		Args: map[string]any{
			"conditionId":      conditionID,
			"oracle":           common.HexToAddress("0xaa"),
			"questionId":       common.HexToHash("0x02"),
			"outcomeSlotCount": big.NewInt(2),
		},
		Block: models.Block{Number: 100},
	}
	require.NoError(t, ConditionPreparation.Invoke(context.Background(), ictx, prep))

	res := models.DecodedEvent{
		ChainID: 137,
		Args: map[string]any{
			"conditionId":      conditionID,
			"oracle":           common.HexToAddress("0xaa"),
			"questionId":       common.HexToHash("0x02"),
			"outcomeSlotCount": big.NewInt(2),
			"payoutNumerators": []*big.Int{big.NewInt(1), big.NewInt(0)},
		},
		Block: models.Block{Number: 200},
	}
	require.NoError(t, ConditionResolution.Invoke(context.Background(), ictx, res))

	e, ok, err := db.FindUnique(context.Background(), "Condition", entityID(137, conditionID.Hex()))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "resolved", e.Data["status"])
	require.Equal(t, []string{"1", "0"}, e.Data["payoutNumerators"])
}

func TestOrderFilledWritesFillAndUpsertsOrder(t *testing.T) {
	db := newMemStore()
	ictx := testContext(db)
	orderHash := common.HexToHash("0xbeef")

	event := models.DecodedEvent{
		ChainID: 137,
		Args: map[string]any{
			"orderHash":         orderHash,
			"maker":             common.HexToAddress("0x01"),
			"taker":             common.HexToAddress("0x02"),
			"makerAssetId":      big.NewInt(1),
			"takerAssetId":      big.NewInt(0),
			"makerAmountFilled": big.NewInt(1000),
			"takerAmountFilled": big.NewInt(500),
			"fee":               big.NewInt(1),
		},
		Log:   models.Log{TransactionHash: "0xtx1", LogIndex: 3},
		Block: models.Block{Number: 50},
	}

	require.NoError(t, OrderFilled.Invoke(context.Background(), ictx, event))

	fill, ok, err := db.FindUnique(context.Background(), "Fill", logID(event))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "1000", fill.Data["makerAmountFilled"])

	order, ok, err := db.FindUnique(context.Background(), "Order", entityID(137, orderHash.Hex()))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "filled", order.Data["status"])
}

func TestOrderCancelledMarksOrderCancelled(t *testing.T) {
	db := newMemStore()
	ictx := testContext(db)
	orderHash := common.HexToHash("0xbeef")

	event := models.DecodedEvent{
		ChainID: 137,
		Args:    map[string]any{"orderHash": orderHash},
		Log:     models.Log{TransactionHash: "0xtx2", LogIndex: 1},
		Block:   models.Block{Number: 60},
	}
	require.NoError(t, OrderCancelled.Invoke(context.Background(), ictx, event))

	order, ok, err := db.FindUnique(context.Background(), "Order", entityID(137, orderHash.Hex()))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "cancelled", order.Data["status"])
}

func TestTransferBatchFansOutOneEntityPerPair(t *testing.T) {
	db := newMemStore()
	ictx := testContext(db)

	event := models.DecodedEvent{
		ChainID: 137,
		Args: map[string]any{
			"operator": common.HexToAddress("0x01"),
			"from":     common.HexToAddress("0x02"),
			"to":       common.HexToAddress("0x03"),
			"ids":      []*big.Int{big.NewInt(1), big.NewInt(2)},
			"values":   []*big.Int{big.NewInt(10), big.NewInt(20)},
		},
		Log:   models.Log{TransactionHash: "0xtx3", LogIndex: 5},
		Block: models.Block{Number: 70},
	}

	require.NoError(t, TransferBatch.Invoke(context.Background(), ictx, event))

	first, ok, err := db.FindUnique(context.Background(), "Transfer", logID(event)+":0")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "1", first.Data["tokenId"])
	require.Equal(t, "10", first.Data["amount"])

	second, ok, err := db.FindUnique(context.Background(), "Transfer", logID(event)+":1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "2", second.Data["tokenId"])
	require.Equal(t, "20", second.Data["amount"])
}

func TestTransferBatchRejectsMismatchedLengths(t *testing.T) {
	db := newMemStore()
	ictx := testContext(db)

	event := models.DecodedEvent{
		ChainID: 137,
		Args: map[string]any{
			"operator": common.HexToAddress("0x01"),
			"from":     common.HexToAddress("0x02"),
			"to":       common.HexToAddress("0x03"),
			"ids":      []*big.Int{big.NewInt(1), big.NewInt(2)},
			"values":   []*big.Int{big.NewInt(10)},
		},
		Log: models.Log{TransactionHash: "0xtx4", LogIndex: 0},
	}

	err := TransferBatch.Invoke(context.Background(), ictx, event)
	require.Error(t, err)
}

func TestTokenRegisteredKeyedByCondition(t *testing.T) {
	db := newMemStore()
	ictx := testContext(db)
	conditionID := common.HexToHash("0xcc")

	event := models.DecodedEvent{
		ChainID: 137,
		Args: map[string]any{
			"token0":      big.NewInt(111),
			"token1":      big.NewInt(222),
			"conditionId": conditionID,
		},
		Block: models.Block{Number: 80},
	}
	require.NoError(t, TokenRegistered.Invoke(context.Background(), ictx, event))

	tok, ok, err := db.FindUnique(context.Background(), "Token", entityID(137, conditionID.Hex()))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "111", tok.Data["token0"])
	require.Equal(t, "222", tok.Data["token1"])
}

func TestByContractEventCoversEveryRegisteredFunction(t *testing.T) {
	want := []string{
		"ConditionalTokens:ConditionPreparation",
		"ConditionalTokens:ConditionResolution",
		"ConditionalTokens:PositionSplit",
		"ConditionalTokens:PositionsMerge",
		"ConditionalTokens:TransferSingle",
		"ConditionalTokens:TransferBatch",
		"CTFExchange:OrderFilled",
		"CTFExchange:OrderCancelled",
		"CTFExchange:OrdersMatched",
		"CTFExchange:TokenRegistered",
	}
	require.Len(t, ByContractEvent, len(want))
	for _, k := range want {
		_, ok := ByContractEvent[k]
		require.True(t, ok, "missing registered function for %s", k)
	}
}
