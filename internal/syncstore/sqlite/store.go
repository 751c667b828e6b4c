// Package sqlite implements internal/syncstore.Store on top of
// modernc.org/sqlite (pure-Go, no cgo), for single-node deployments that
// don't want a Postgres dependency. Encoding/decoding of uint256 columns
// uses pkg/u256 since SQLite has no arbitrary-precision numeric type.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"math/big"

	_ "modernc.org/sqlite"
	"github.com/rs/zerolog"

	"github.com/0xkanth/evmindex/internal/interval"
	"github.com/0xkanth/evmindex/internal/syncstore"
	"github.com/0xkanth/evmindex/pkg/models"
	"github.com/0xkanth/evmindex/pkg/u256"
)

// Store is the SQLite-backed Sync Store driver.
type Store struct {
	db     *sql.DB
	logger zerolog.Logger
}

// NewStore opens path (e.g. "file:indexer.db?_pragma=journal_mode(WAL)") and
// applies the schema.
func NewStore(ctx context.Context, path string, logger zerolog.Logger) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite serializes writers; avoid SQLITE_BUSY churn
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: apply schema: %w", err)
	}
	return &Store{db: db, logger: logger.With().Str("component", "syncstore.sqlite").Logger()}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func encodeU256(decimal string) (any, error) {
	if decimal == "" {
		return nil, nil
	}
	n, ok := new(big.Int).SetString(decimal, 10)
	if !ok {
		return nil, fmt.Errorf("sqlite: invalid u256 decimal %q", decimal)
	}
	enc, err := u256.Encode(n)
	if err != nil {
		return nil, err
	}
	return enc, nil
}

func decodeU256(s sql.NullString) (string, error) {
	if !s.Valid {
		return "", nil
	}
	n, err := u256.Decode(s.String)
	if err != nil {
		return "", err
	}
	return n.String(), nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func upsertBlock(ctx context.Context, tx execer, b models.Block) error {
	baseFee, err := encodeU256(b.BaseFee)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO blocks (chain_id, hash, number, parent_hash, timestamp, gas_used, gas_limit, base_fee)
		VALUES (?,?,?,?,?,?,?,?)
		ON CONFLICT (chain_id, hash) DO NOTHING`,
		b.ChainID, b.Hash, b.Number, b.ParentHash, b.Timestamp, b.GasUsed, b.GasLimit, baseFee)
	return err
}

func upsertTransactions(ctx context.Context, tx execer, txs []models.Transaction) error {
	for _, t := range txs {
		value, err := encodeU256(t.Value)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO transactions (chain_id, hash, block_hash, block_number, from_address, to_address, tx_index, value, input)
			VALUES (?,?,?,?,?,?,?,?,?)
			ON CONFLICT (chain_id, hash) DO NOTHING`,
			t.ChainID, t.Hash, t.BlockHash, t.BlockNumber, t.From, t.To, t.Index, value, t.Input); err != nil {
			return err
		}
	}
	return nil
}

func upsertLogs(ctx context.Context, tx execer, logs []models.Log) error {
	for _, l := range logs {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO logs (id, chain_id, block_hash, block_number, log_index, address, topic0, topic1, topic2, topic3, data, transaction_hash, transaction_index, removed)
			VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?)
			ON CONFLICT (chain_id, block_hash, log_index) DO UPDATE SET removed = excluded.removed`,
			logID(l), l.ChainID, l.BlockHash, l.BlockNumber, l.LogIndex, l.Address, l.Topic0, l.Topic1, l.Topic2, l.Topic3, l.Data, l.TransactionHash, l.TransactionIndex, boolInt(l.Removed)); err != nil {
			return err
		}
	}
	return nil
}

func logID(l models.Log) string {
	return fmt.Sprintf("%d-%s-%d", l.ChainID, l.BlockHash, l.LogIndex)
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func (s *Store) InsertLogFilterInterval(ctx context.Context, chainID uint64, filter models.LogFilter, block models.Block, txs []models.Transaction, logs []models.Log, iv models.Interval) error {
	return syncstore.WrapOp(ctx, "InsertLogFilterInterval", func(ctx context.Context) error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()

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
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO log_filters (id, chain_id, address, topic0, topic1, topic2, topic3)
				VALUES (?,?,?,?,?,?,?)
				ON CONFLICT (id) DO NOTHING`,
				frag.ID, frag.ChainID, frag.Address, frag.Topic0, frag.Topic1, frag.Topic2, frag.Topic3); err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, `INSERT INTO log_filter_intervals (log_filter_id, start_block, end_block) VALUES (?,?,?)`,
				frag.ID, iv.Start, iv.End); err != nil {
				return err
			}
		}
		return tx.Commit()
	})
}

func (s *Store) GetLogFilterIntervals(ctx context.Context, chainID uint64, filter models.LogFilter) ([]models.Interval, error) {
	var result []interval.Interval
	err := syncstore.WrapOp(ctx, "GetLogFilterIntervals", func(ctx context.Context) error {
		var perFragment [][]interval.Interval
		for _, frag := range syncstore.ExpandLogFilter(filter) {
			ivs, err := compactIntervals(ctx, s.db, "log_filter_intervals", "log_filter_id", frag.ID)
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
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()

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
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO factories (id, chain_id, address, event_selector, child_address_location)
				VALUES (?,?,?,?,?)
				ON CONFLICT (id) DO NOTHING`,
				frag.ID, frag.ChainID, frag.Address, frag.EventSelector, frag.ChildAddressLocation); err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, `INSERT INTO factory_log_filter_intervals (factory_id, start_block, end_block) VALUES (?,?,?)`,
				frag.ID, iv.Start, iv.End); err != nil {
				return err
			}
		}
		return tx.Commit()
	})
}

func (s *Store) GetFactoryLogFilterIntervals(ctx context.Context, factory models.Factory) ([]models.Interval, error) {
	var result []interval.Interval
	err := syncstore.WrapOp(ctx, "GetFactoryLogFilterIntervals", func(ctx context.Context) error {
		var perFragment [][]interval.Interval
		for _, frag := range syncstore.ExpandFactory(factory) {
			ivs, err := compactIntervals(ctx, s.db, "factory_log_filter_intervals", "factory_id", frag.ID)
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

func compactIntervals(ctx context.Context, db *sql.DB, table, fkColumn, fragmentID string) ([]interval.Interval, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, fmt.Sprintf(`SELECT start_block, end_block FROM %s WHERE %s = ?`, table, fkColumn), fragmentID)
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
		if _, err := tx.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE %s = ?`, table, fkColumn), fragmentID); err != nil {
			return nil, err
		}
		for _, iv := range merged {
			if _, err := tx.ExecContext(ctx, fmt.Sprintf(`INSERT INTO %s (%s, start_block, end_block) VALUES (?,?,?)`, table, fkColumn),
				fragmentID, iv.Start, iv.End); err != nil {
				return nil, err
			}
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return merged, nil
}

func (s *Store) InsertFactoryChildAddressLogs(ctx context.Context, chainID uint64, logs []models.Log) error {
	return syncstore.WrapOp(ctx, "InsertFactoryChildAddressLogs", func(ctx context.Context) error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()
		if err := upsertLogs(ctx, tx, logs); err != nil {
			return err
		}
		return tx.Commit()
	})
}

func (s *Store) InsertRealtimeBlock(ctx context.Context, block models.Block, txs []models.Transaction, logs []models.Log) error {
	return syncstore.WrapOp(ctx, "InsertRealtimeBlock", func(ctx context.Context) error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()
		if err := upsertBlock(ctx, tx, block); err != nil {
			return err
		}
		if err := upsertTransactions(ctx, tx, txs); err != nil {
			return err
		}
		if err := upsertLogs(ctx, tx, logs); err != nil {
			return err
		}
		return tx.Commit()
	})
}

func (s *Store) InsertRealtimeInterval(ctx context.Context, chainID uint64, sources []syncstore.FragmentRef, iv models.Interval) error {
	return syncstore.WrapOp(ctx, "InsertRealtimeInterval", func(ctx context.Context) error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()
		for _, src := range sources {
			table, fk := "log_filter_intervals", "log_filter_id"
			if src.IsFactory {
				table, fk = "factory_log_filter_intervals", "factory_id"
			}
			if _, err := tx.ExecContext(ctx, fmt.Sprintf(`INSERT INTO %s (%s, start_block, end_block) VALUES (?,?,?)`, table, fk),
				src.ID, iv.Start, iv.End); err != nil {
				return err
			}
		}
		return tx.Commit()
	})
}

func (s *Store) DeleteRealtimeData(ctx context.Context, chainID uint64, fromBlock uint64) error {
	return syncstore.WrapOp(ctx, "DeleteRealtimeData", func(ctx context.Context) error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()

		stmts := []string{
			`DELETE FROM logs WHERE chain_id=? AND block_number > ?`,
			`DELETE FROM transactions WHERE chain_id=? AND block_number > ?`,
			`DELETE FROM blocks WHERE chain_id=? AND number > ?`,
			`DELETE FROM rpc_request_results WHERE chain_id=? AND block_number > ?`,
			`DELETE FROM log_filter_intervals WHERE start_block > ? AND log_filter_id IN (SELECT id FROM log_filters WHERE chain_id=?)`,
			`UPDATE log_filter_intervals SET end_block=? WHERE end_block > ? AND log_filter_id IN (SELECT id FROM log_filters WHERE chain_id=?)`,
			`DELETE FROM factory_log_filter_intervals WHERE start_block > ? AND factory_id IN (SELECT id FROM factories WHERE chain_id=?)`,
			`UPDATE factory_log_filter_intervals SET end_block=? WHERE end_block > ? AND factory_id IN (SELECT id FROM factories WHERE chain_id=?)`,
		}
		argSets := [][]any{
			{chainID, fromBlock},
			{chainID, fromBlock},
			{chainID, fromBlock},
			{chainID, fromBlock},
			{fromBlock, chainID},
			{fromBlock, fromBlock, chainID},
			{fromBlock, chainID},
			{fromBlock, fromBlock, chainID},
		}
		for i, stmt := range stmts {
			if _, err := tx.ExecContext(ctx, stmt, argSets[i]...); err != nil {
				return err
			}
		}
		return tx.Commit()
	})
}

func (s *Store) InsertRpcRequestResult(ctx context.Context, r models.RpcRequestResult) error {
	return syncstore.WrapOp(ctx, "InsertRpcRequestResult", func(ctx context.Context) error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO rpc_request_results (chain_id, block_number, request, result)
			VALUES (?,?,?,?)
			ON CONFLICT (chain_id, block_number, request) DO UPDATE SET result = excluded.result`,
			r.ChainID, r.BlockNumber, r.Request, r.Result)
		return err
	})
}

func (s *Store) GetRpcRequestResult(ctx context.Context, chainID uint64, blockNumber uint64, request string) (string, bool, error) {
	var result string
	found := false
	err := syncstore.WrapOp(ctx, "GetRpcRequestResult", func(ctx context.Context) error {
		row := s.db.QueryRowContext(ctx, `SELECT result FROM rpc_request_results WHERE chain_id=? AND block_number=? AND request=?`,
			chainID, blockNumber, request)
		switch err := row.Scan(&result); err {
		case nil:
			found = true
			return nil
		case sql.ErrNoRows:
			return nil
		default:
			return err
		}
	})
	return result, found, err
}

func (s *Store) UpsertFunctionMetadata(ctx context.Context, m models.FunctionMetadata) error {
	return syncstore.WrapOp(ctx, "UpsertFunctionMetadata", func(ctx context.Context) error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO function_metadata (
				function_id, function_name,
				from_ts, from_chain, from_block, from_log_index,
				to_ts, to_chain, to_block, to_log_index,
				event_count
			) VALUES (?,?,?,?,?,?,?,?,?,?,?)
			ON CONFLICT (function_id) DO UPDATE SET
				function_name = excluded.function_name,
				from_ts = excluded.from_ts, from_chain = excluded.from_chain,
				from_block = excluded.from_block, from_log_index = excluded.from_log_index,
				to_ts = excluded.to_ts, to_chain = excluded.to_chain,
				to_block = excluded.to_block, to_log_index = excluded.to_log_index,
				event_count = excluded.event_count`,
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
		rows, err := s.db.QueryContext(ctx, `
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
			var fromLog, toLog sql.NullInt64
			if err := rows.Scan(&m.FunctionID, &m.FunctionName,
				&m.FromCheckpointTS, &m.FromCheckpointChain, &m.FromCheckpointBlock, &fromLog,
				&m.ToCheckpointTS, &m.ToCheckpointChain, &m.ToCheckpointBlock, &toLog,
				&m.EventCount); err != nil {
				return err
			}
			if fromLog.Valid {
				v := uint32(fromLog.Int64)
				m.FromCheckpointLog = &v
			}
			if toLog.Valid {
				v := uint32(toLog.Int64)
				m.ToCheckpointLog = &v
			}
			out = append(out, m)
		}
		return rows.Err()
	})
	return out, err
}
