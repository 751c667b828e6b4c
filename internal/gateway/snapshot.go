package gateway

import (
	"encoding/json"
	"fmt"
	"time"

	"go.etcd.io/bbolt"

	"github.com/0xkanth/evmindex/internal/checkpoint"
)

const snapshotBucket = "gateway_checkpoints"

// snapshotStore persists per-chain checkpoint fields to bbolt so a restart
// can rebuild gateway state without waiting on the Sync Store, generalizing
// the teacher's db.CheckpointDB from a single (serviceName)->Checkpoint key
// to a (chainId, field)->Checkpoint key space.
type snapshotStore struct {
	db *bbolt.DB
}

func newSnapshotStore(path string) (*snapshotStore, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("gateway: open snapshot db: %w", err)
	}
	if err := db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(snapshotBucket))
		return err
	}); err != nil {
		db.Close()
		return nil, fmt.Errorf("gateway: create snapshot bucket: %w", err)
	}
	return &snapshotStore{db: db}, nil
}

func fieldKey(chainID uint64, field string) []byte {
	return []byte(fmt.Sprintf("%d:%s", chainID, field))
}

func (s *snapshotStore) put(chainID uint64, field string, c checkpoint.Checkpoint) error {
	data, err := json.Marshal(c)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(snapshotBucket)).Put(fieldKey(chainID, field), data)
	})
}

func (s *snapshotStore) get(chainID uint64, field string) (checkpoint.Checkpoint, bool, error) {
	var c checkpoint.Checkpoint
	found := false
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket([]byte(snapshotBucket)).Get(fieldKey(chainID, field))
		if data == nil {
			return nil
		}
		found = true
		return json.Unmarshal(data, &c)
	})
	return c, found, err
}

func (s *snapshotStore) putBool(chainID uint64, field string, v bool) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(snapshotBucket)).Put(fieldKey(chainID, field), data)
	})
}

func (s *snapshotStore) getBool(chainID uint64, field string) (bool, error) {
	var v bool
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket([]byte(snapshotBucket)).Get(fieldKey(chainID, field))
		if data == nil {
			return nil
		}
		return json.Unmarshal(data, &v)
	})
	return v, err
}

func (s *snapshotStore) close() error {
	return s.db.Close()
}
