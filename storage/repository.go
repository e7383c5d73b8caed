// Package storage provides the storage abstraction for encrypted Sync
// records. Repositories only ever see ciphertext payloads.
package storage

import "errors"

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrCASFailed is returned when a compare-and-swap version check fails.
	ErrCASFailed = errors.New("CAS version mismatch")
	// ErrInvalidName is returned for a collection or record ID that cannot be stored.
	ErrInvalidName = errors.New("invalid name")
)

// BatchTx provides PutCAS within an atomic transaction.
// The collection is scoped to the batch, so methods don't require it.
type BatchTx interface {
	PutCAS(id string, expectedVersion uint64, obj *Object) error
}

// Repository defines the interface for encrypted record storage. Records
// are grouped by collection and addressed by ID. Every write is a
// compare-and-swap on Object.Version: expectedVersion 0 means the record
// must not exist yet.
type Repository interface {
	Get(collection string, id string) (*Object, error)
	List(collection string) ([]string, error)
	Delete(collection string, id string) error
	PutCAS(collection string, id string, expectedVersion uint64, obj *Object) error
	Batch(collection string, fn func(tx BatchTx) error) error
	Collections() ([]string, error)
	DeleteCollection(collection string) error
}
