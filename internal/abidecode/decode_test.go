package abidecode

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/require"

	"github.com/0xkanth/evmindex/pkg/contracts"
)

func conditionPreparationEvent(t *testing.T) abi.Event {
	t.Helper()
	reg, err := contracts.NewRegistry()
	require.NoError(t, err)
	ev, ok := reg.Event("ConditionalTokens", "ConditionPreparation")
	require.True(t, ok)
	return ev
}

func TestDecodeIndexedAndNonIndexed(t *testing.T) {
	ev := conditionPreparationEvent(t)

	conditionID := common.HexToHash("0x01")
	oracle := common.HexToAddress("0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")
	questionID := common.HexToHash("0x02")
	outcomeSlotCount := big.NewInt(2)

	data, err := ev.Inputs.NonIndexed().Pack(outcomeSlotCount)
	require.NoError(t, err)

	log := types.Log{
		Topics: []common.Hash{ev.ID, conditionID, oracle.Hash(), questionID},
		Data:   data,
	}

	decoded, err := Decode(ev, log)
	require.NoError(t, err)
	require.Equal(t, conditionID, decoded["conditionId"])
	require.Equal(t, oracle, decoded["oracle"])
	require.Equal(t, questionID, decoded["questionId"])
	require.Equal(t, outcomeSlotCount, decoded["outcomeSlotCount"])
}

func TestDecodeRejectsTopic0Mismatch(t *testing.T) {
	ev := conditionPreparationEvent(t)
	log := types.Log{Topics: []common.Hash{common.HexToHash("0xdead")}}

	_, err := Decode(ev, log)
	require.Error(t, err)
	var decErr *DecodeError
	require.ErrorAs(t, err, &decErr)
}
