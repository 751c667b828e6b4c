package collector

import (
	"math/big"

	"github.com/ethereum/go-ethereum/core/types"

	"github.com/0xkanth/evmindex/pkg/models"
)

func toModelBlock(b *types.Block, chainID uint64) models.Block {
	baseFee := ""
	if b.BaseFee() != nil {
		baseFee = b.BaseFee().String()
	}
	return models.Block{
		ChainID:    chainID,
		Hash:       b.Hash().Hex(),
		Number:     b.NumberU64(),
		ParentHash: b.ParentHash().Hex(),
		Timestamp:  b.Time(),
		GasUsed:    b.GasUsed(),
		GasLimit:   b.GasLimit(),
		BaseFee:    baseFee,
	}
}

// transactionByHash finds tx within block by hash and converts it, recovering
// the sender via the chain's latest signer. Returns false if not found.
func transactionByHash(b *types.Block, chainID uint64, hash string) (models.Transaction, bool) {
	for idx, tx := range b.Transactions() {
		if tx.Hash().Hex() != hash {
			continue
		}
		signer := types.LatestSignerForChainID(new(big.Int).SetUint64(chainID))
		from, err := types.Sender(signer, tx)
		fromHex := ""
		if err == nil {
			fromHex = from.Hex()
		}
		toHex := ""
		if tx.To() != nil {
			toHex = tx.To().Hex()
		}
		return models.Transaction{
			ChainID:     chainID,
			Hash:        tx.Hash().Hex(),
			BlockHash:   b.Hash().Hex(),
			BlockNumber: b.NumberU64(),
			From:        fromHex,
			To:          toHex,
			Index:       uint32(idx),
			Value:       tx.Value().String(),
			Input:       tx.Data(),
		}, true
	}
	return models.Transaction{}, false
}

func toModelLog(l types.Log, chainID uint64) models.Log {
	ml := models.Log{
		ChainID:          chainID,
		BlockHash:        l.BlockHash.Hex(),
		BlockNumber:      l.BlockNumber,
		LogIndex:         uint32(l.Index),
		Address:          l.Address.Hex(),
		Data:             l.Data,
		TransactionHash:  l.TxHash.Hex(),
		TransactionIndex: uint32(l.TxIndex),
		Removed:          l.Removed,
	}
	topics := l.Topics
	if len(topics) > 0 {
		ml.Topic0 = topics[0].Hex()
	}
	if len(topics) > 1 {
		ml.Topic1 = topics[1].Hex()
	}
	if len(topics) > 2 {
		ml.Topic2 = topics[2].Hex()
	}
	if len(topics) > 3 {
		ml.Topic3 = topics[3].Hex()
	}
	return ml
}

func toModelLogs(logs []types.Log, chainID uint64) []models.Log {
	out := make([]models.Log, len(logs))
	for i, l := range logs {
		out[i] = toModelLog(l, chainID)
	}
	return out
}
