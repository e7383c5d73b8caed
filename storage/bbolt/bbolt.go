// Package bbolt provides a BBolt-backed storage repository.
package bbolt

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jmcleod/fxsync/storage"
	"go.etcd.io/bbolt"
	bberrors "go.etcd.io/bbolt/errors"
)

// Store implements storage.Repository backed by a BBolt database. Each
// collection is a top-level bucket keyed by record ID.
type Store struct {
	db *bbolt.DB
}

var _ storage.Repository = (*Store)(nil)

// NewRepository returns a Repository backed by the given BBolt database.
func NewRepository(db *bbolt.DB) *Store {
	return &Store{db: db}
}

// NewRepositoryFromFile opens a BBolt database at the given path and returns a new Repository.
func NewRepositoryFromFile(path string, options *bbolt.Options) (*Store, error) {
	db, err := bbolt.Open(path, 0600, options)
	if err != nil {
		return nil, fmt.Errorf("opening bbolt db: %w", err)
	}
	return NewRepository(db), nil
}

// Close closes the underlying BBolt database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) getBucket(tx *bbolt.Tx, collection string) (*bbolt.Bucket, error) {
	b, err := tx.CreateBucketIfNotExists([]byte(collection))
	if err != nil {
		return nil, fmt.Errorf("creating bucket %s: %w", collection, err)
	}
	return b, nil
}

func putInBucket(b *bbolt.Bucket, id string, obj *storage.Object) error {
	data, err := json.Marshal(obj)
	if err != nil {
		return fmt.Errorf("marshaling object %s: %w", id, err)
	}
	return b.Put([]byte(id), data)
}

func (s *Store) Get(collection, id string) (*storage.Object, error) {
	var obj storage.Object
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(collection))
		if b == nil {
			return fmt.Errorf("%s/%s: %w", collection, id, storage.ErrNotFound)
		}
		data := b.Get([]byte(id))
		if data == nil {
			return fmt.Errorf("%s/%s: %w", collection, id, storage.ErrNotFound)
		}
		return json.Unmarshal(data, &obj)
	})
	if err != nil {
		return nil, err
	}
	return &obj, nil
}

func (s *Store) Delete(collection, id string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(collection))
		if b == nil {
			return fmt.Errorf("%s/%s: %w", collection, id, storage.ErrNotFound)
		}
		if b.Get([]byte(id)) == nil {
			return fmt.Errorf("%s/%s: %w", collection, id, storage.ErrNotFound)
		}
		return b.Delete([]byte(id))
	})
}

// List returns the record IDs in collection in key order.
func (s *Store) List(collection string) ([]string, error) {
	var ids []string
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(collection))
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, _ []byte) error {
			ids = append(ids, string(k))
			return nil
		})
	})
	return ids, err
}

// Collections returns the non-empty collections in key order.
func (s *Store) Collections() ([]string, error) {
	var names []string
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.ForEach(func(name []byte, b *bbolt.Bucket) error {
			if k, _ := b.Cursor().First(); k != nil {
				names = append(names, string(name))
			}
			return nil
		})
	})
	return names, err
}

// DeleteCollection drops the bucket holding collection.
func (s *Store) DeleteCollection(collection string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.DeleteBucket([]byte(collection)); err != nil {
			if errors.Is(err, bberrors.ErrBucketNotFound) {
				return fmt.Errorf("%s: %w", collection, storage.ErrNotFound)
			}
			return fmt.Errorf("deleting bucket %s: %w", collection, err)
		}
		return nil
	})
}

func putCASInBucket(b *bbolt.Bucket, id string, expectedVersion uint64, obj *storage.Object) error {
	existingData := b.Get([]byte(id))

	if expectedVersion == 0 {
		if existingData != nil {
			return storage.ErrCASFailed
		}
	} else {
		if existingData == nil {
			return storage.ErrCASFailed
		}
		var existing storage.Object
		if err := json.Unmarshal(existingData, &existing); err != nil {
			return err
		}
		if existing.Version != expectedVersion {
			return storage.ErrCASFailed
		}
	}

	return putInBucket(b, id, obj)
}

func (s *Store) PutCAS(collection, id string, expectedVersion uint64, obj *storage.Object) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b, err := s.getBucket(tx, collection)
		if err != nil {
			return err
		}
		return putCASInBucket(b, id, expectedVersion, obj)
	})
}

type boltBatchTx struct {
	bucket *bbolt.Bucket
}

func (tx *boltBatchTx) PutCAS(id string, expectedVersion uint64, obj *storage.Object) error {
	return putCASInBucket(tx.bucket, id, expectedVersion, obj)
}

// Batch runs fn inside a single bbolt read-write transaction.
func (s *Store) Batch(collection string, fn func(tx storage.BatchTx) error) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b, err := s.getBucket(tx, collection)
		if err != nil {
			return err
		}
		return fn(&boltBatchTx{bucket: b})
	})
}
