package scheduler

import (
	"encoding/json"
	"fmt"
	"time"

	"go.etcd.io/bbolt"

	"github.com/0xkanth/evmindex/internal/checkpoint"
)

const snapshotBucket = "scheduler_function_progress"

// stateSnapshotStore persists per-function tasksProcessedToCheckpoint to
// bbolt on every flush, generalizing internal/gateway's snapshotStore
// (itself the teacher's db.CheckpointDB) from a (chainID,field) key space
// to a (functionKey) key space. The Sync Store's functionMetadata table
// remains the source of truth used by Reset; this is purely for cheap
// GetStatus-style introspection.
type stateSnapshotStore struct {
	db *bbolt.DB
}

func newStateSnapshotStore(path string) (*stateSnapshotStore, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("scheduler: open snapshot db: %w", err)
	}
	if err := db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(snapshotBucket))
		return err
	}); err != nil {
		db.Close()
		return nil, fmt.Errorf("scheduler: create snapshot bucket: %w", err)
	}
	return &stateSnapshotStore{db: db}, nil
}

func (s *stateSnapshotStore) putAll(progress map[string]checkpoint.Checkpoint) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(snapshotBucket))
		for key, cp := range progress {
			data, err := json.Marshal(cp)
			if err != nil {
				return err
			}
			if err := b.Put([]byte(key), data); err != nil {
				return err
			}
		}
		return nil
	})
}

// Status returns every function's last-snapshotted processed checkpoint,
// grounded on the teacher's Syncer.GetStatus.
func (s *stateSnapshotStore) status() (map[string]checkpoint.Checkpoint, error) {
	out := make(map[string]checkpoint.Checkpoint)
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(snapshotBucket))
		return b.ForEach(func(k, v []byte) error {
			var cp checkpoint.Checkpoint
			if err := json.Unmarshal(v, &cp); err != nil {
				return err
			}
			out[string(k)] = cp
			return nil
		})
	})
	return out, err
}

func (s *stateSnapshotStore) close() error {
	return s.db.Close()
}
