package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"time"

	badger "github.com/dgraph-io/badger/v4"
)

// BadgerStore keeps task records in an embedded key-value store, for
// deployments that do not want task churn in the relational database.
type BadgerStore struct {
	db *badger.DB
}

type badgerRecord struct {
	Kind      string    `json:"kind"`
	Record    Record    `json:"record"`
	UpdatedAt time.Time `json:"updated_at"`
}

func NewBadgerStore(path string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(filepath.Clean(path))
	opts.Logger = nil
	opts = opts.WithValueLogFileSize(1 << 20)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}
	return &BadgerStore{db: db}, nil
}

func (s *BadgerStore) Close() error {
	return s.db.Close()
}

func taskKey(id string) []byte {
	return []byte("task:" + id)
}

func (s *BadgerStore) Put(ctx context.Context, taskID string, rec Record) error {
	return s.db.Update(func(txn *badger.Txn) error {
		data, err := json.Marshal(badgerRecord{Kind: rec.Kind, Record: rec, UpdatedAt: time.Now().UTC()})
		if err != nil {
			return err
		}
		return txn.Set(taskKey(taskID), data)
	})
}

func (s *BadgerStore) Get(ctx context.Context, taskID string) (Record, error) {
	var out badgerRecord
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(taskKey(taskID))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return ErrTaskNotFound
			}
			return err
		}
		return item.Value(func(v []byte) error {
			return json.Unmarshal(v, &out)
		})
	})
	if err != nil {
		return Record{}, err
	}
	out.Record.Kind = out.Kind
	return out.Record, nil
}
