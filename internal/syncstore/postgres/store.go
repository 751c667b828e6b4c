// Package postgres implements internal/syncstore.Store on top of pgx/v5,
// grounded on the teacher's internal/db/checkpoint.go (pgxpool usage,
// upsert idioms) and cmd/consumer/main.go (transactional multi-row inserts).
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/0xkanth/evmindex/internal/interval"
	"github.com/0xkanth/evmindex/internal/syncstore"
	"github.com/0xkanth/evmindex/pkg/models"
)

// Store is the Postgres-backed Sync Store driver.
type Store struct {
	pool   *pgxpool.Pool
	logger zerolog.Logger
}

// NewStore connects to dsn and applies the schema, matching the teacher's
// checkpoint store's connect-then-migrate startup sequence.
func NewStore(ctx context.Context, dsn string, logger zerolog.Logger) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: connect: %w", err)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: apply schema: %w", err)
	}
	return &Store{pool: pool, logger: logger.With().Str("component", "syncstore.postgres").Logger()}, nil
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func upsertBlock(ctx context.Context, tx pgx.Tx, b models.Block) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO blocks (chain_id, hash, number, parent_hash, timestamp, gas_used, gas_limit, base_fee)
		VALUES ($1,$2,$3,$4,$5,$6,$7, NULLIF($8,'')::NUMERIC)
		ON CONFLICT (chain_id, hash) DO NOTHING`,
		b.ChainID, b.Hash, b.Number, b.ParentHash, b.Timestamp, b.GasUsed, b.GasLimit, b.BaseFee)
	return err
}

func upsertTransactions(ctx context.Context, tx pgx.Tx, txs []models.Transaction) error {
	for _, t := range txs {
		if _, err := tx.Exec(ctx, `
			INSERT INTO transactions (chain_id, hash, block_hash, block_number, from_address, to_address, tx_index, value, input)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8::NUMERIC,$9)
			ON CONFLICT (chain_id, hash) DO NOTHING`,
			t.ChainID, t.Hash, t.BlockHash, t.BlockNumber, t.From, t.To, t.Index, t.Value, t.Input); err != nil {
			return err
		}
	}
	return nil
}

func upsertLogs(ctx context.Context, tx pgx.Tx, logs []models.Log) error {
	for _, l := range logs {
		if _, err := tx.Exec(ctx, `
			INSERT INTO logs (id, chain_id, block_hash, block_number, log_index, address, topic0, topic1, topic2, topic3, data, transaction_hash, transaction_index, removed)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
			ON CONFLICT (chain_id, block_hash, log_index) DO UPDATE SET removed = EXCLUDED.removed`,
			logID(l), l.ChainID, l.BlockHash, l.BlockNumber, l.LogIndex, l.Address, l.Topic0, l.Topic1, l.Topic2, l.Topic3, l.Data, l.TransactionHash, l.TransactionIndex, l.Removed); err != nil {
			return err
		}
	}
	return nil
}

func logID(l models.Log) string {
	return fmt.Sprintf("%d-%s-%d", l.ChainID, l.BlockHash, l.LogIndex)
}

func (s *Store) InsertLogFilterInterval(ctx context.Context, chainID uint64, filter models.LogFilter, block models.Block, txs []models.Transaction, logs []models.Log, iv models.Interval) error {
	return syncstore.WrapOp(ctx, "InsertLogFilterInterval", func(ctx context.Context) error {
		tx, err := s.pool.Begin(ctx)
		if err != nil {
			return err
		}
		defer tx.Rollback(ctx)

		if err := upsertBlock(ctx, tx, block); err != nil {
			return err
		}
		if err := upsertTransactions(ctx, tx, txs); err != nil {
			return err
		}
		if err := upsertLogs(ctx, tx, logs); err != nil {
			return err
		}

		for _, frag := range syncstore.ExpandLogFilter(filter) {
			if err := upsertLogFilter(ctx, tx, frag); err != nil {
				return err
			}
			if _, err := tx.Exec(ctx, `INSERT INTO log_filter_intervals (log_filter_id, start_block, end_block) VALUES ($1,$2,$3)`,
				frag.ID, iv.Start, iv.End); err != nil {
				return err
			}
		}
		return tx.Commit(ctx)
	})
}

func upsertLogFilter(ctx context.Context, tx pgx.Tx, f models.LogFilterFragment) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO log_filters (id, chain_id, address, topic0, topic1, topic2, topic3)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT (id) DO NOTHING`,
		f.ID, f.ChainID, f.Address, f.Topic0, f.Topic1, f.Topic2, f.Topic3)
	return err
}

func (s *Store) GetLogFilterIntervals(ctx context.Context, chainID uint64, filter models.LogFilter) ([]models.Interval, error) {
	var result []interval.Interval
	err := syncstore.WrapOp(ctx, "GetLogFilterIntervals", func(ctx context.Context) error {
		fragments := syncstore.ExpandLogFilter(filter)
		var perFragment [][]interval.Interval
		for _, frag := range fragments {
			ivs, err := compactIntervals(ctx, s.pool, "log_filter_intervals", "log_filter_id", frag.ID)
			if err != nil {
				return err
			}
			perFragment = append(perFragment, ivs)
		}
		result = interval.IntersectionMany(perFragment)
		return nil
	})
	return toModelIntervals(result), err
}

func (s *Store) InsertFactoryLogFilterInterval(ctx context.Context, factory models.Factory, block models.Block, txs []models.Transaction, logs []models.Log, iv models.Interval) error {
	return syncstore.WrapOp(ctx, "InsertFactoryLogFilterInterval", func(ctx context.Context) error {
		tx, err := s.pool.Begin(ctx)
		if err != nil {
			return err
		}
		defer tx.Rollback(ctx)

		if err := upsertBlock(ctx, tx, block); err != nil {
			return err
		}
		if err := upsertTransactions(ctx, tx, txs); err != nil {
			return err
		}
		if err := upsertLogs(ctx, tx, logs); err != nil {
			return err
		}

		for _, frag := range syncstore.ExpandFactory(factory) {
			if _, err := tx.Exec(ctx, `
				INSERT INTO factories (id, chain_id, address, event_selector, child_address_location)
				VALUES ($1,$2,$3,$4,$5)
				ON CONFLICT (id) DO NOTHING`,
				frag.ID, frag.ChainID, frag.Address, frag.EventSelector, frag.ChildAddressLocation); err != nil {
				return err
			}
			if _, err := tx.Exec(ctx, `INSERT INTO factory_log_filter_intervals (factory_id, start_block, end_block) VALUES ($1,$2,$3)`,
				frag.ID, iv.Start, iv.End); err != nil {
				return err
			}
		}
		return tx.Commit(ctx)
	})
}

func (s *Store) GetFactoryLogFilterIntervals(ctx context.Context, factory models.Factory) ([]models.Interval, error) {
	var result []interval.Interval
	err := syncstore.WrapOp(ctx, "GetFactoryLogFilterIntervals", func(ctx context.Context) error {
		fragments := syncstore.ExpandFactory(factory)
		var perFragment [][]interval.Interval
		for _, frag := range fragments {
			ivs, err := compactIntervals(ctx, s.pool, "factory_log_filter_intervals", "factory_id", frag.ID)
			if err != nil {
				return err
			}
			perFragment = append(perFragment, ivs)
		}
		result = interval.IntersectionMany(perFragment)
		return nil
	})
	return toModelIntervals(result), err
}

func toModelIntervals(ivs []interval.Interval) []models.Interval {
	out := make([]models.Interval, len(ivs))
	for i, iv := range ivs {
		out[i] = models.Interval{Start: iv.Start, End: iv.End}
	}
	return out
}

// compactIntervals loads every interval row for a fragment, unions them in
// Go (internal/interval.Union), and rewrites the table with the compacted
// set so row count stays bounded across repeated small inserts.
func compactIntervals(ctx context.Context, pool *pgxpool.Pool, table, fkColumn, fragmentID string) ([]interval.Interval, error) {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx, fmt.Sprintf(`SELECT start_block, end_block FROM %s WHERE %s = $1`, table, fkColumn), fragmentID)
	if err != nil {
		return nil, err
	}
	var raw []interval.Interval
	for rows.Next() {
		var iv interval.Interval
		if err := rows.Scan(&iv.Start, &iv.End); err != nil {
			rows.Close()
			return nil, err
		}
		raw = append(raw, iv)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	merged := interval.Union(raw)
	if len(merged) != len(raw) {
		if _, err := tx.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE %s = $1`, table, fkColumn), fragmentID); err != nil {
			return nil, err
		}
		for _, iv := range merged {
			if _, err := tx.Exec(ctx, fmt.Sprintf(`INSERT INTO %s (%s, start_block, end_block) VALUES ($1,$2,$3)`, table, fkColumn),
				fragmentID, iv.Start, iv.End); err != nil {
				return nil, err
			}
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return merged, nil
}

func (s *Store) InsertFactoryChildAddressLogs(ctx context.Context, chainID uint64, logs []models.Log) error {
	return syncstore.WrapOp(ctx, "InsertFactoryChildAddressLogs", func(ctx context.Context) error {
		tx, err := s.pool.Begin(ctx)
		if err != nil {
			return err
		}
		defer tx.Rollback(ctx)
		if err := upsertLogs(ctx, tx, logs); err != nil {
			return err
		}
		return tx.Commit(ctx)
	})
}

func (s *Store) InsertRealtimeBlock(ctx context.Context, block models.Block, txs []models.Transaction, logs []models.Log) error {
	return syncstore.WrapOp(ctx, "InsertRealtimeBlock", func(ctx context.Context) error {
		tx, err := s.pool.Begin(ctx)
		if err != nil {
			return err
		}
		defer tx.Rollback(ctx)
		if err := upsertBlock(ctx, tx, block); err != nil {
			return err
		}
		if err := upsertTransactions(ctx, tx, txs); err != nil {
			return err
		}
		if err := upsertLogs(ctx, tx, logs); err != nil {
			return err
		}
		return tx.Commit(ctx)
	})
}

func (s *Store) InsertRealtimeInterval(ctx context.Context, chainID uint64, sources []syncstore.FragmentRef, iv models.Interval) error {
	return syncstore.WrapOp(ctx, "InsertRealtimeInterval", func(ctx context.Context) error {
		tx, err := s.pool.Begin(ctx)
		if err != nil {
			return err
		}
		defer tx.Rollback(ctx)
		for _, src := range sources {
			table, fk := "log_filter_intervals", "log_filter_id"
			if src.IsFactory {
				table, fk = "factory_log_filter_intervals", "factory_id"
			}
			if _, err := tx.Exec(ctx, fmt.Sprintf(`INSERT INTO %s (%s, start_block, end_block) VALUES ($1,$2,$3)`, table, fk),
				src.ID, iv.Start, iv.End); err != nil {
				return err
			}
		}
		return tx.Commit(ctx)
	})
}

func (s *Store) DeleteRealtimeData(ctx context.Context, chainID uint64, fromBlock uint64) error {
	return syncstore.WrapOp(ctx, "DeleteRealtimeData", func(ctx context.Context) error {
		tx, err := s.pool.Begin(ctx)
		if err != nil {
			return err
		}
		defer tx.Rollback(ctx)

		if _, err := tx.Exec(ctx, `DELETE FROM logs WHERE chain_id=$1 AND block_number > $2`, chainID, fromBlock); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `DELETE FROM transactions WHERE chain_id=$1 AND block_number > $2`, chainID, fromBlock); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `DELETE FROM blocks WHERE chain_id=$1 AND number > $2`, chainID, fromBlock); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `DELETE FROM rpc_request_results WHERE chain_id=$1 AND block_number > $2`, chainID, fromBlock); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `
			DELETE FROM log_filter_intervals WHERE start_block > $2 AND log_filter_id IN (SELECT id FROM log_filters WHERE chain_id=$1)`,
			chainID, fromBlock); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `
			UPDATE log_filter_intervals SET end_block=$2 WHERE end_block > $2 AND log_filter_id IN (SELECT id FROM log_filters WHERE chain_id=$1)`,
			chainID, fromBlock); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `
			DELETE FROM factory_log_filter_intervals WHERE start_block > $2 AND factory_id IN (SELECT id FROM factories WHERE chain_id=$1)`,
			chainID, fromBlock); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `
			UPDATE factory_log_filter_intervals SET end_block=$2 WHERE end_block > $2 AND factory_id IN (SELECT id FROM factories WHERE chain_id=$1)`,
			chainID, fromBlock); err != nil {
			return err
		}
		return tx.Commit(ctx)
	})
}

func (s *Store) InsertRpcRequestResult(ctx context.Context, r models.RpcRequestResult) error {
	return syncstore.WrapOp(ctx, "InsertRpcRequestResult", func(ctx context.Context) error {
		_, err := s.pool.Exec(ctx, `
			INSERT INTO rpc_request_results (chain_id, block_number, request, result)
			VALUES ($1,$2,$3,$4)
			ON CONFLICT (chain_id, block_number, request) DO UPDATE SET result = EXCLUDED.result`,
			r.ChainID, r.BlockNumber, r.Request, r.Result)
		return err
	})
}

func (s *Store) GetRpcRequestResult(ctx context.Context, chainID uint64, blockNumber uint64, request string) (string, bool, error) {
	var result string
	found := false
	err := syncstore.WrapOp(ctx, "GetRpcRequestResult", func(ctx context.Context) error {
		row := s.pool.QueryRow(ctx, `SELECT result FROM rpc_request_results WHERE chain_id=$1 AND block_number=$2 AND request=$3`,
			chainID, blockNumber, request)
		switch err := row.Scan(&result); err {
		case nil:
			found = true
			return nil
		case pgx.ErrNoRows:
			return nil
		default:
			return err
		}
	})
	return result, found, err
}

func (s *Store) UpsertFunctionMetadata(ctx context.Context, m models.FunctionMetadata) error {
	return syncstore.WrapOp(ctx, "UpsertFunctionMetadata", func(ctx context.Context) error {
		_, err := s.pool.Exec(ctx, `
			INSERT INTO function_metadata (
				function_id, function_name,
				from_ts, from_chain, from_block, from_log_index,
				to_ts, to_chain, to_block, to_log_index,
				event_count
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
			ON CONFLICT (function_id) DO UPDATE SET
				function_name = EXCLUDED.function_name,
				from_ts = EXCLUDED.from_ts, from_chain = EXCLUDED.from_chain,
				from_block = EXCLUDED.from_block, from_log_index = EXCLUDED.from_log_index,
				to_ts = EXCLUDED.to_ts, to_chain = EXCLUDED.to_chain,
				to_block = EXCLUDED.to_block, to_log_index = EXCLUDED.to_log_index,
				event_count = EXCLUDED.event_count`,
			m.FunctionID, m.FunctionName,
			m.FromCheckpointTS, m.FromCheckpointChain, m.FromCheckpointBlock, logIndexPtr(m.FromCheckpointLog),
			m.ToCheckpointTS, m.ToCheckpointChain, m.ToCheckpointBlock, logIndexPtr(m.ToCheckpointLog),
			m.EventCount)
		return err
	})
}

func logIndexPtr(v *uint32) any {
	if v == nil {
		return nil
	}
	return *v
}

func (s *Store) ListFunctionMetadata(ctx context.Context) ([]models.FunctionMetadata, error) {
	var out []models.FunctionMetadata
	err := syncstore.WrapOp(ctx, "ListFunctionMetadata", func(ctx context.Context) error {
		rows, err := s.pool.Query(ctx, `
			SELECT function_id, function_name,
			       from_ts, from_chain, from_block, from_log_index,
			       to_ts, to_chain, to_block, to_log_index,
			       event_count
			FROM function_metadata`)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var m models.FunctionMetadata
			var fromLog, toLog *uint32
			if err := rows.Scan(&m.FunctionID, &m.FunctionName,
				&m.FromCheckpointTS, &m.FromCheckpointChain, &m.FromCheckpointBlock, &fromLog,
				&m.ToCheckpointTS, &m.ToCheckpointChain, &m.ToCheckpointBlock, &toLog,
				&m.EventCount); err != nil {
				return err
			}
			m.FromCheckpointLog, m.ToCheckpointLog = fromLog, toLog
			out = append(out, m)
		}
		return rows.Err()
	})
	return out, err
}
