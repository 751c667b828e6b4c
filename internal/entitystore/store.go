// Package entitystore defines the Entity Store contract (spec §3, §6):
// abstract checkpoint-versioned CRUD that indexing functions mutate through,
// with Revert(checkpoint) unwinding everything written after a reorg's safe
// point. internal/entitystore/postgres is the sole driver, generalizing the
// teacher's nine hand-written cmd/consumer storeX functions (one table, one
// ON CONFLICT writer, per event type) into one versioned table keyed by
// (entityType, id).
package entitystore

import (
	"context"

	"github.com/0xkanth/evmindex/internal/checkpoint"
)

// Entity is one row of user-defined shape: Data holds whatever fields the
// indexing function assigned, keyed by column name.
type Entity struct {
	Type string
	ID   string
	Data map[string]any
}

// Store is the Entity Store contract. Every write takes the checkpoint of
// the event driving it, so Revert can unwind precisely.
type Store interface {
	FindUnique(ctx context.Context, entityType, id string) (Entity, bool, error)
	FindMany(ctx context.Context, entityType string, ids []string) ([]Entity, error)

	Create(ctx context.Context, e Entity, at checkpoint.Checkpoint) error
	Update(ctx context.Context, e Entity, at checkpoint.Checkpoint) error
	Upsert(ctx context.Context, e Entity, at checkpoint.Checkpoint) error
	Delete(ctx context.Context, entityType, id string, at checkpoint.Checkpoint) error

	CreateMany(ctx context.Context, es []Entity, at checkpoint.Checkpoint) error
	UpdateMany(ctx context.Context, es []Entity, at checkpoint.Checkpoint) error
	UpsertMany(ctx context.Context, es []Entity, at checkpoint.Checkpoint) error
	DeleteMany(ctx context.Context, entityType string, ids []string, at checkpoint.Checkpoint) error

	// Revert deletes every version written strictly after at and
	// re-materializes the latest remaining version per (entityType, id), so
	// entity state at checkpoint `at` is exactly what it was when `at` was
	// last the global checkpoint.
	Revert(ctx context.Context, at checkpoint.Checkpoint) error

	Close() error
}
