package cache

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	badger "github.com/dgraph-io/badger/v4"

	"athanor/internal/model"
)

var (
	badgerRecordPrefix = []byte("record/")
	badgerLeasePrefix  = []byte("lease/")
)

// BadgerStore is the embedded key/value store. Record inserts run in a
// single transaction (check-then-set), and lease entries carry a TTL so they
// vanish on their own when a holder dies.
type BadgerStore struct {
	dir string

	mu sync.RWMutex
	db *badger.DB
}

// NewBadgerStore stores data under dir. An empty dir opens an in-memory
// database.
func NewBadgerStore(dir string) *BadgerStore {
	return &BadgerStore{dir: dir}
}

func (s *BadgerStore) Init(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db != nil {
		return nil
	}

	var opts badger.Options
	if s.dir == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		opts = badger.DefaultOptions(s.dir)
	}
	opts = opts.WithLogger(nil)

	db, err := badger.Open(opts)
	if err != nil {
		return fmt.Errorf("open badger store: %w", err)
	}
	s.db = db
	return nil
}

func (s *BadgerStore) Get(_ context.Context, key string) (model.CacheRecord, bool, error) {
	db, err := s.getDB()
	if err != nil {
		return model.CacheRecord{}, false, err
	}

	var payload []byte
	err = db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(recordKey(key))
		if err != nil {
			return err
		}
		payload, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return model.CacheRecord{}, false, nil
	}
	if err != nil {
		return model.CacheRecord{}, false, err
	}

	record, err := decodeRecord(payload)
	if err != nil {
		return model.CacheRecord{}, false, fmt.Errorf("decode cache record %s: %w", key, err)
	}
	return record, true, nil
}

func (s *BadgerStore) PutIfAbsent(_ context.Context, key string, record model.CacheRecord) (bool, error) {
	db, err := s.getDB()
	if err != nil {
		return false, err
	}

	payload, err := encodeRecord(record)
	if err != nil {
		return false, err
	}

	inserted := false
	err = db.Update(func(txn *badger.Txn) error {
		_, err := txn.Get(recordKey(key))
		if err == nil {
			return nil
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		inserted = true
		return txn.Set(recordKey(key), payload)
	})
	if err != nil {
		return false, err
	}
	return inserted, nil
}

func (s *BadgerStore) AcquireLease(_ context.Context, key, owner string, ttl time.Duration) (bool, error) {
	db, err := s.getDB()
	if err != nil {
		return false, err
	}

	acquired := false
	err = db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(leaseKey(key))
		if err == nil {
			holder, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			if !bytes.Equal(holder, []byte(owner)) {
				return nil
			}
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		acquired = true
		entry := badger.NewEntry(leaseKey(key), []byte(owner)).WithTTL(ttl)
		return txn.SetEntry(entry)
	})
	if err != nil {
		return false, err
	}
	return acquired, nil
}

func (s *BadgerStore) ReleaseLease(_ context.Context, key, owner string) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}

	return db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(leaseKey(key))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		holder, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		if !bytes.Equal(holder, []byte(owner)) {
			return nil
		}
		return txn.Delete(leaseKey(key))
	})
}

func (s *BadgerStore) Export(_ context.Context) ([]model.CacheRecord, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}

	var out []model.CacheRecord
	err = db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = badgerRecordPrefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			payload, err := it.Item().ValueCopy(nil)
			if err != nil {
				return err
			}
			record, err := decodeRecord(payload)
			if err != nil {
				return fmt.Errorf("decode cache record %s: %w", it.Item().Key(), err)
			}
			out = append(out, record)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sortRecords(out)
	return out, nil
}

func (s *BadgerStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func (s *BadgerStore) getDB() (*badger.DB, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.db == nil {
		return nil, ErrNotInitialized
	}
	return s.db, nil
}

func recordKey(key string) []byte {
	return append(append([]byte{}, badgerRecordPrefix...), key...)
}

func leaseKey(key string) []byte {
	return append(append([]byte{}, badgerLeasePrefix...), key...)
}
