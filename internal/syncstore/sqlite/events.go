package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/0xkanth/evmindex/internal/checkpoint"
	"github.com/0xkanth/evmindex/internal/syncstore"
	"github.com/0xkanth/evmindex/pkg/models"
)

type argBuilder struct {
	args []any
}

func (b *argBuilder) bind(v any) string {
	b.args = append(b.args, v)
	return "?"
}

func logFilterPredicate(b *argBuilder, f models.LogFilterFragment) string {
	var parts []string
	parts = append(parts, fmt.Sprintf("l.chain_id = %s", b.bind(f.ChainID)))
	if f.Address != "" {
		parts = append(parts, fmt.Sprintf("l.address = %s", b.bind(f.Address)))
	}
	for i, v := range []string{f.Topic0, f.Topic1, f.Topic2, f.Topic3} {
		if v != "" {
			parts = append(parts, fmt.Sprintf("l.topic%d = %s", i, b.bind(v)))
		}
	}
	return "(" + strings.Join(parts, " AND ") + ")"
}

// factoryPredicate mirrors the postgres driver's correlated subquery, using
// SQLite's substr()/hex() instead of Postgres's right()/encode().
func factoryPredicate(b *argBuilder, f models.FactoryFragment) (string, error) {
	loc, err := syncstore.ParseChildAddressLocation(f.ChildAddressLocation)
	if err != nil {
		return "", err
	}

	var extractExpr string
	switch loc.Kind {
	case syncstore.ChildAddressTopic:
		col := fmt.Sprintf("fl.topic%d", loc.TopicIndex)
		extractExpr = fmt.Sprintf("'0x' || substr(%s, -40)", col)
	case syncstore.ChildAddressOffset:
		pos := b.bind(syncstore.ChildAddressHexOffset(loc))
		extractExpr = fmt.Sprintf("'0x' || substr(hex(fl.data), %s, 40)", pos)
	}

	chainArg := b.bind(f.ChainID)
	addrArg := b.bind(f.Address)
	creationSelectorArg := b.bind(f.EventSelector)

	childTopicPredicate := ""
	if f.ChildEventSelector != "" {
		childTopicPredicate = fmt.Sprintf(" AND l.topic0 = %s", b.bind(f.ChildEventSelector))
	}

	return fmt.Sprintf(`(
		l.chain_id = %s%s AND l.address IN (
			SELECT %s FROM logs fl
			WHERE fl.chain_id = %s AND fl.address = %s AND fl.topic0 = %s AND fl.removed = 0
		)
	)`, chainArg, childTopicPredicate, extractExpr, chainArg, addrArg, creationSelectorArg), nil
}

func (s *Store) GetLogEvents(ctx context.Context, params syncstore.GetLogEventsParams) (models.EventPage, error) {
	var page models.EventPage
	err := syncstore.WrapOp(ctx, "GetLogEvents", func(ctx context.Context) error {
		b := &argBuilder{}

		var sourcePredicates []string
		for _, f := range params.LogFilters {
			sourcePredicates = append(sourcePredicates, logFilterPredicate(b, f))
		}
		for _, f := range params.Factories {
			pred, err := factoryPredicate(b, f)
			if err != nil {
				return err
			}
			sourcePredicates = append(sourcePredicates, pred)
		}
		if len(sourcePredicates) == 0 {
			page = models.EventPage{}
			return nil
		}

		fromTS, fromChain, fromBlock, fromLog := params.FromCheckpoint.SQLBound(true)
		toTS, toChain, toBlock, toLog := params.ToCheckpoint.SQLBound(false)

		tsLo, chainLo, blockLo, logLo := b.bind(fromTS), b.bind(fromChain), b.bind(fromBlock), b.bind(fromLog)
		tsHi, chainHi, blockHi, logHi := b.bind(toTS), b.bind(toChain), b.bind(toBlock), b.bind(toLog)

		whereClause := fmt.Sprintf(`l.removed = 0
			  AND (%s)
			  AND (b.timestamp, l.chain_id, l.block_number, l.log_index) > (%s, %s, %s, %s)
			  AND (b.timestamp, l.chain_id, l.block_number, l.log_index) <= (%s, %s, %s, %s)`,
			strings.Join(sourcePredicates, " OR "),
			tsLo, chainLo, blockLo, logLo,
			tsHi, chainHi, blockHi, logHi)

		// lastCheckpoint is the checkpoint of the newest matching event in the
		// whole (from, to] window, independent of the page limit.
		rangeArgs := append([]any(nil), b.args...)
		var lastCheckpoint checkpoint.Checkpoint
		lastRow := s.db.QueryRowContext(ctx, fmt.Sprintf(`
			SELECT b.timestamp, l.chain_id, l.block_number, l.log_index
			FROM logs l
			JOIN blocks b ON b.chain_id = l.chain_id AND b.hash = l.block_hash
			WHERE %s
			ORDER BY b.timestamp DESC, l.chain_id DESC, l.block_number DESC, l.log_index DESC
			LIMIT 1`, whereClause), rangeArgs...)
		var lts, lchain, lblock uint64
		var llog uint32
		if err := lastRow.Scan(&lts, &lchain, &lblock, &llog); err == nil {
			lastCheckpoint = checkpoint.New(lts, lchain, lblock, llog)
		} else if err != sql.ErrNoRows {
			return err
		}

		limit := params.Limit
		if limit <= 0 {
			limit = 1000
		}
		limitArg := b.bind(limit + 1)

		query := fmt.Sprintf(`
			SELECT b.timestamp, l.chain_id, l.block_number, l.log_index,
			       l.block_hash, l.address, l.topic0, l.topic1, l.topic2, l.topic3, l.data,
			       l.transaction_hash, l.transaction_index, l.removed,
			       b.hash, b.parent_hash, b.gas_used, b.gas_limit, b.base_fee,
			       t.from_address, t.to_address, t.tx_index, t.value, t.input
			FROM logs l
			JOIN blocks b ON b.chain_id = l.chain_id AND b.hash = l.block_hash
			JOIN transactions t ON t.chain_id = l.chain_id AND t.hash = l.transaction_hash
			WHERE %s
			ORDER BY b.timestamp ASC, l.chain_id ASC, l.block_number ASC, l.log_index ASC
			LIMIT %s`,
			whereClause, limitArg)

		rows, err := s.db.QueryContext(ctx, query, b.args...)
		if err != nil {
			return err
		}
		defer rows.Close()

		var events []models.DecodedEvent
		for rows.Next() {
			var (
				ts, chainID, blockNumber       uint64
				logIndex                       uint32
				blockHash, address             string
				topic0, topic1, topic2, topic3 string
				data                           []byte
				txHash                         string
				txIndex                        uint32
				removedInt                     int
				bHash, bParentHash             string
				gasUsed, gasLimit              uint64
				baseFee                        sql.NullString
				from, to                       string
				tIndex                         uint32
				value                          sql.NullString
				input                          []byte
			)
			if err := rows.Scan(&ts, &chainID, &blockNumber, &logIndex,
				&blockHash, &address, &topic0, &topic1, &topic2, &topic3, &data,
				&txHash, &txIndex, &removedInt,
				&bHash, &bParentHash, &gasUsed, &gasLimit, &baseFee,
				&from, &to, &tIndex, &value, &input); err != nil {
				return err
			}
			bf, err := decodeU256(baseFee)
			if err != nil {
				return err
			}
			txValue, err := decodeU256(value)
			if err != nil {
				return err
			}
			events = append(events, models.DecodedEvent{
				Checkpoint: checkpoint.New(ts, chainID, blockNumber, logIndex),
				ChainID:    chainID,
				Contract:   address,
				Event:      topic0,
				Log: models.Log{
					ChainID: chainID, BlockHash: blockHash, BlockNumber: blockNumber, LogIndex: logIndex,
					Address: address, Topic0: topic0, Topic1: topic1, Topic2: topic2, Topic3: topic3,
					Data: data, TransactionHash: txHash, TransactionIndex: txIndex, Removed: removedInt != 0,
				},
				Block: models.Block{
					ChainID: chainID, Hash: bHash, Number: blockNumber, ParentHash: bParentHash,
					Timestamp: ts, GasUsed: gasUsed, GasLimit: gasLimit, BaseFee: bf,
				},
				Transaction: models.Transaction{
					ChainID: chainID, Hash: txHash, BlockHash: blockHash, BlockNumber: blockNumber,
					From: from, To: to, Index: tIndex, Value: txValue, Input: input,
				},
			})
		}
		if err := rows.Err(); err != nil {
			return err
		}

		hasNext := len(events) > limit
		if hasNext {
			events = events[:limit]
		}
		page = models.EventPage{
			Events:      events,
			HasNextPage: hasNext,
			HasAny:      len(events) > 0,
		}
		if len(events) > 0 {
			page.LastCheckpointInPage = events[len(events)-1].Checkpoint
		}
		page.LastCheckpoint = lastCheckpoint
		return nil
	})
	return page, err
}
