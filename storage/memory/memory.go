// Package memory provides a thread-safe in-memory implementation of storage.Repository.
package memory

import (
	"fmt"
	"slices"
	"sync"

	"github.com/jmcleod/fxsync/storage"
)

// Repository is a thread-safe in-memory implementation of storage.Repository.
// Suitable for testing, demos, and single-process use cases.
type Repository struct {
	mu   sync.RWMutex
	data map[string]map[string]*storage.Object
}

var _ storage.Repository = (*Repository)(nil)

// NewRepository creates a new empty in-memory Repository.
func NewRepository() *Repository {
	return &Repository{data: make(map[string]map[string]*storage.Object)}
}

func (r *Repository) putLocked(collection, id string, obj *storage.Object) error {
	if _, ok := r.data[collection]; !ok {
		r.data[collection] = make(map[string]*storage.Object)
	}
	r.data[collection][id] = obj.Clone()
	return nil
}

func (r *Repository) Get(collection, id string) (*storage.Object, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.getLocked(collection, id)
}

func (r *Repository) getLocked(collection, id string) (*storage.Object, error) {
	obj, ok := r.data[collection][id]
	if !ok {
		return nil, fmt.Errorf("%s/%s: %w", collection, id, storage.ErrNotFound)
	}
	return obj.Clone(), nil
}

// List returns the record IDs in collection in lexical order.
func (r *Repository) List(collection string) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.data[collection]))
	for id := range r.data[collection] {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids, nil
}

// Collections returns the non-empty collections in lexical order.
func (r *Repository) Collections() ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var names []string
	for name, objs := range r.data {
		if len(objs) > 0 {
			names = append(names, name)
		}
	}
	slices.Sort(names)
	return names, nil
}

func (r *Repository) Delete(collection, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.data[collection][id]; !ok {
		return fmt.Errorf("%s/%s: %w", collection, id, storage.ErrNotFound)
	}
	delete(r.data[collection], id)
	return nil
}

// DeleteCollection removes every record in collection.
func (r *Repository) DeleteCollection(collection string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.data[collection]; !ok {
		return fmt.Errorf("%s: %w", collection, storage.ErrNotFound)
	}
	delete(r.data, collection)
	return nil
}

func (r *Repository) PutCAS(collection, id string, expectedVersion uint64, obj *storage.Object) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.putCASLocked(collection, id, expectedVersion, obj)
}

func (r *Repository) putCASLocked(collection, id string, expectedVersion uint64, obj *storage.Object) error {
	existing, ok := r.data[collection][id]
	if !ok {
		if expectedVersion != 0 {
			return storage.ErrCASFailed
		}
		return r.putLocked(collection, id, obj)
	}
	if expectedVersion == 0 || existing.Version != expectedVersion {
		return storage.ErrCASFailed
	}
	return r.putLocked(collection, id, obj)
}

// Batch executes fn within a batch transaction. On error, all writes are rolled back.
func (r *Repository) Batch(collection string, fn func(tx storage.BatchTx) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	snapshot := r.snapshotCollection(collection)

	tx := &memoryBatchTx{repo: r, collection: collection}
	if err := fn(tx); err != nil {
		r.restoreCollection(collection, snapshot)
		return err
	}
	return nil
}

func (r *Repository) snapshotCollection(collection string) map[string]*storage.Object {
	original, ok := r.data[collection]
	if !ok {
		return nil
	}
	cp := make(map[string]*storage.Object, len(original))
	for k, v := range original {
		cp[k] = v.Clone()
	}
	return cp
}

func (r *Repository) restoreCollection(collection string, snapshot map[string]*storage.Object) {
	if snapshot == nil {
		delete(r.data, collection)
	} else {
		r.data[collection] = snapshot
	}
}

type memoryBatchTx struct {
	repo       *Repository
	collection string
}

func (tx *memoryBatchTx) PutCAS(id string, expectedVersion uint64, obj *storage.Object) error {
	return tx.repo.putCASLocked(tx.collection, id, expectedVersion, obj)
}
