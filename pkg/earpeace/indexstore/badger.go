package indexstore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/dgraph-io/badger/v3"

	"github.com/himanishpuri/earpeace/pkg/earpeace/fingerprint"
)

const badgerPrefix = "fp/"

// BadgerStore keeps index blobs in a badger database under fp/<key>.
// Each save is a single transaction.
type BadgerStore struct {
	db *badger.DB
}

func NewBadgerStore(dir string) (*BadgerStore, error) {
	db, err := badger.Open(badger.DefaultOptions(dir).WithLogger(nil))
	if err != nil {
		return nil, fmt.Errorf("open badger at %s: %w", dir, err)
	}
	return &BadgerStore{db: db}, nil
}

func (s *BadgerStore) Locate(key string) string {
	return badgerPrefix + key
}

func (s *BadgerStore) Save(ctx context.Context, key string, idx *fingerprint.Index) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	data, err := fingerprint.MarshalIndex(idx, true)
	if err != nil {
		return "", err
	}

	location := s.Locate(key)
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(location), data)
	})
	if err != nil {
		return "", err
	}
	return location, nil
}

func (s *BadgerStore) Load(ctx context.Context, location string) (*fingerprint.Index, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !strings.HasPrefix(location, badgerPrefix) {
		return nil, unavailable(location, errors.New("not a badger location"))
	}

	var data []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(location))
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		return nil, unavailable(location, err)
	}
	return fingerprint.UnmarshalIndex(data)
}

func (s *BadgerStore) Delete(_ context.Context, key string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		err := txn.Delete([]byte(s.Locate(key)))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		return err
	})
}

// Keys lists every stored reference key.
func (s *BadgerStore) Keys() ([]string, error) {
	var keys []string
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(badgerPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			keys = append(keys, strings.TrimPrefix(string(it.Item().Key()), badgerPrefix))
		}
		return nil
	})
	return keys, err
}

func (s *BadgerStore) Close() error {
	return s.db.Close()
}
