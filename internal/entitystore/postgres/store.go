// Package postgres is the sole Entity Store driver (spec §6): every write
// appends a new version row rather than mutating in place, so Revert can
// unwind a reorg by deleting versions and re-flagging the latest survivor,
// generalizing the teacher's per-event-type cmd/consumer storeX writers
// (storeConditionPreparation's plain INSERT, storeConditionResolution's
// in-place UPDATE) into one versioned table and two write paths (insert a
// version, flip is_latest).
package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/0xkanth/evmindex/internal/checkpoint"
	"github.com/0xkanth/evmindex/internal/entitystore"
)

type Store struct {
	pool   *pgxpool.Pool
	logger zerolog.Logger
}

func NewStore(ctx context.Context, dsn string, logger zerolog.Logger) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("entitystore: connect: %w", err)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("entitystore: apply schema: %w", err)
	}
	return &Store{pool: pool, logger: logger.With().Str("component", "entitystore").Logger()}, nil
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

const (
	opCreate = "create"
	opUpdate = "update"
	opDelete = "delete"
)

func (s *Store) FindUnique(ctx context.Context, entityType, id string) (entitystore.Entity, bool, error) {
	var e entitystore.Entity
	found := false
	err := wrapOp(ctx, "FindUnique", func(ctx context.Context) error {
		var raw []byte
		var operation string
		row := s.pool.QueryRow(ctx, `
			SELECT data, operation FROM entity_versions
			WHERE entity_type = $1 AND entity_id = $2 AND is_latest = TRUE`,
			entityType, id)
		if err := row.Scan(&raw, &operation); err != nil {
			if err == pgx.ErrNoRows {
				return nil
			}
			return err
		}
		if operation == opDelete {
			return nil
		}
		data := map[string]any{}
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &data); err != nil {
				return err
			}
		}
		e = entitystore.Entity{Type: entityType, ID: id, Data: data}
		found = true
		return nil
	})
	return e, found, err
}

func (s *Store) FindMany(ctx context.Context, entityType string, ids []string) ([]entitystore.Entity, error) {
	var out []entitystore.Entity
	err := wrapOp(ctx, "FindMany", func(ctx context.Context) error {
		rows, err := s.pool.Query(ctx, `
			SELECT entity_id, data, operation FROM entity_versions
			WHERE entity_type = $1 AND entity_id = ANY($2) AND is_latest = TRUE`,
			entityType, ids)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var id, operation string
			var raw []byte
			if err := rows.Scan(&id, &raw, &operation); err != nil {
				return err
			}
			if operation == opDelete {
				continue
			}
			data := map[string]any{}
			if len(raw) > 0 {
				if err := json.Unmarshal(raw, &data); err != nil {
					return err
				}
			}
			out = append(out, entitystore.Entity{Type: entityType, ID: id, Data: data})
		}
		return rows.Err()
	})
	return out, err
}

func (s *Store) Create(ctx context.Context, e entitystore.Entity, at checkpoint.Checkpoint) error {
	return s.writeOne(ctx, "Create", e, at, opCreate)
}

func (s *Store) Update(ctx context.Context, e entitystore.Entity, at checkpoint.Checkpoint) error {
	return s.writeOne(ctx, "Update", e, at, opUpdate)
}

func (s *Store) Upsert(ctx context.Context, e entitystore.Entity, at checkpoint.Checkpoint) error {
	return s.writeOne(ctx, "Upsert", e, at, opUpdate)
}

func (s *Store) Delete(ctx context.Context, entityType, id string, at checkpoint.Checkpoint) error {
	return s.writeOne(ctx, "Delete", entitystore.Entity{Type: entityType, ID: id}, at, opDelete)
}

func (s *Store) writeOne(ctx context.Context, op string, e entitystore.Entity, at checkpoint.Checkpoint, operation string) error {
	return wrapOp(ctx, op, func(ctx context.Context) error {
		tx, err := s.pool.Begin(ctx)
		if err != nil {
			return err
		}
		defer tx.Rollback(ctx)

		if err := insertVersion(ctx, tx, e, at, operation); err != nil {
			return err
		}
		return tx.Commit(ctx)
	})
}

func (s *Store) CreateMany(ctx context.Context, es []entitystore.Entity, at checkpoint.Checkpoint) error {
	return s.writeMany(ctx, "CreateMany", es, at, opCreate)
}

func (s *Store) UpdateMany(ctx context.Context, es []entitystore.Entity, at checkpoint.Checkpoint) error {
	return s.writeMany(ctx, "UpdateMany", es, at, opUpdate)
}

func (s *Store) UpsertMany(ctx context.Context, es []entitystore.Entity, at checkpoint.Checkpoint) error {
	return s.writeMany(ctx, "UpsertMany", es, at, opUpdate)
}

func (s *Store) DeleteMany(ctx context.Context, entityType string, ids []string, at checkpoint.Checkpoint) error {
	es := make([]entitystore.Entity, len(ids))
	for i, id := range ids {
		es[i] = entitystore.Entity{Type: entityType, ID: id}
	}
	return s.writeMany(ctx, "DeleteMany", es, at, opDelete)
}

func (s *Store) writeMany(ctx context.Context, op string, es []entitystore.Entity, at checkpoint.Checkpoint, operation string) error {
	if len(es) == 0 {
		return nil
	}
	return wrapOp(ctx, op, func(ctx context.Context) error {
		tx, err := s.pool.Begin(ctx)
		if err != nil {
			return err
		}
		defer tx.Rollback(ctx)

		for _, e := range es {
			if err := insertVersion(ctx, tx, e, at, operation); err != nil {
				return err
			}
		}
		return tx.Commit(ctx)
	})
}

// insertVersion clears is_latest on the entity's current version (if any)
// and inserts the new one as latest, all within the caller's transaction.
func insertVersion(ctx context.Context, tx pgx.Tx, e entitystore.Entity, at checkpoint.Checkpoint, operation string) error {
	ts, chainID, block, logIndex := at.SQLBound(false)

	if _, err := tx.Exec(ctx, `
		UPDATE entity_versions SET is_latest = FALSE
		WHERE entity_type = $1 AND entity_id = $2 AND is_latest = TRUE`,
		e.Type, e.ID); err != nil {
		return fmt.Errorf("clear prior latest: %w", err)
	}

	var raw []byte
	var err error
	if e.Data != nil {
		raw, err = json.Marshal(e.Data)
		if err != nil {
			return fmt.Errorf("marshal entity data: %w", err)
		}
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO entity_versions (
			entity_type, entity_id, data, operation,
			cp_timestamp, cp_chain_id, cp_block, cp_log_index, is_latest
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, TRUE)
		ON CONFLICT (entity_type, entity_id, cp_timestamp, cp_chain_id, cp_block, cp_log_index)
		DO UPDATE SET data = EXCLUDED.data, operation = EXCLUDED.operation, is_latest = TRUE`,
		e.Type, e.ID, raw, operation, ts, chainID, block, logIndex); err != nil {
		return fmt.Errorf("insert version: %w", err)
	}
	return nil
}

// Revert deletes every version written strictly after at and re-flags the
// latest surviving version per (entityType, entityId) as is_latest,
// mirroring spec §6's reorg-rewind requirement.
func (s *Store) Revert(ctx context.Context, at checkpoint.Checkpoint) error {
	return wrapOp(ctx, "Revert", func(ctx context.Context) error {
		tx, err := s.pool.Begin(ctx)
		if err != nil {
			return err
		}
		defer tx.Rollback(ctx)

		ts, chainID, block, logIndex := at.SQLBound(false)

		rows, err := tx.Query(ctx, `
			SELECT DISTINCT entity_type, entity_id FROM entity_versions
			WHERE (cp_timestamp, cp_chain_id, cp_block, cp_log_index) > ($1, $2, $3, $4)`,
			ts, chainID, block, logIndex)
		if err != nil {
			return fmt.Errorf("find affected entities: %w", err)
		}
		type pk struct{ entityType, entityID string }
		var affected []pk
		for rows.Next() {
			var p pk
			if err := rows.Scan(&p.entityType, &p.entityID); err != nil {
				rows.Close()
				return err
			}
			affected = append(affected, p)
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return err
		}
		rows.Close()

		if _, err := tx.Exec(ctx, `
			DELETE FROM entity_versions
			WHERE (cp_timestamp, cp_chain_id, cp_block, cp_log_index) > ($1, $2, $3, $4)`,
			ts, chainID, block, logIndex); err != nil {
			return fmt.Errorf("delete reverted versions: %w", err)
		}

		for _, p := range affected {
			if _, err := tx.Exec(ctx, `
				UPDATE entity_versions SET is_latest = FALSE
				WHERE entity_type = $1 AND entity_id = $2`,
				p.entityType, p.entityID); err != nil {
				return fmt.Errorf("clear is_latest for %s/%s: %w", p.entityType, p.entityID, err)
			}

			if _, err := tx.Exec(ctx, `
				UPDATE entity_versions SET is_latest = TRUE
				WHERE (entity_type, entity_id, cp_timestamp, cp_chain_id, cp_block, cp_log_index) = (
					SELECT entity_type, entity_id, cp_timestamp, cp_chain_id, cp_block, cp_log_index
					FROM entity_versions
					WHERE entity_type = $1 AND entity_id = $2
					ORDER BY cp_timestamp DESC, cp_chain_id DESC, cp_block DESC, cp_log_index DESC
					LIMIT 1
				)`,
				p.entityType, p.entityID); err != nil {
				return fmt.Errorf("re-flag latest for %s/%s: %w", p.entityType, p.entityID, err)
			}
		}

		return tx.Commit(ctx)
	})
}

var _ entitystore.Store = (*Store)(nil)
