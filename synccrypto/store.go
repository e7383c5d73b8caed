package synccrypto

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/jmcleod/fxsync/crypto"
	"github.com/jmcleod/fxsync/storage"
)

// RecordStore keeps Sync records encrypted at rest. Values are encrypted
// with the collection's bulk key before they reach the repository and are
// verified before they are decrypted on the way out.
type RecordStore struct {
	client *Client
	repo   storage.Repository
	now    func() time.Time
}

// StoreOption configures a RecordStore.
type StoreOption func(*RecordStore)

// WithClock sets the time source used for BSO modified timestamps.
func WithClock(now func() time.Time) StoreOption {
	return func(s *RecordStore) {
		s.now = now
	}
}

// NewRecordStore returns a RecordStore that encrypts with client and
// persists to repo.
func NewRecordStore(client *Client, repo storage.Repository, opts ...StoreOption) *RecordStore {
	s := &RecordStore{client: client, repo: repo, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// modifiedAt returns t as seconds since the epoch with two decimals, the
// resolution Sync servers use.
func modifiedAt(t time.Time) float64 {
	return math.Round(float64(t.UnixMilli())/10) / 100
}

func validateAddress(collection, id string) error {
	if err := storage.ValidateCollection(collection); err != nil {
		return err
	}
	return storage.ValidateID(id)
}

// Put encrypts v and stores it as collection/id. Concurrent writers to the
// same record are detected and reported as storage.ErrCASFailed.
func (s *RecordStore) Put(ctx context.Context, collection, id string, v any) error {
	if err := validateAddress(collection, id); err != nil {
		return err
	}
	rec, err := s.client.Encrypt(ctx, v, WithCollection(collection))
	if err != nil {
		return err
	}
	payload, err := rec.JSON()
	if err != nil {
		return err
	}

	var version uint64
	var sortIndex, ttl int
	existing, err := s.repo.Get(collection, id)
	switch {
	case err == nil:
		version, sortIndex, ttl = existing.Version, existing.SortIndex, existing.TTL
	case !errors.Is(err, storage.ErrNotFound):
		return fmt.Errorf("reading %s/%s: %w", collection, id, err)
	}

	obj := &storage.Object{
		ID:        id,
		Modified:  modifiedAt(s.now()),
		SortIndex: sortIndex,
		TTL:       ttl,
		Payload:   payload,
		Version:   version + 1,
	}
	if err := s.repo.PutCAS(collection, id, version, obj); err != nil {
		return fmt.Errorf("storing %s/%s: %w", collection, id, err)
	}
	s.client.logger.Debug("record stored",
		slog.String("collection", collection),
		slog.String("id", id),
		slog.Uint64("version", obj.Version),
	)
	return nil
}

// Get loads collection/id, verifies and decrypts it into dst.
func (s *RecordStore) Get(ctx context.Context, collection, id string, dst any) error {
	bso, err := s.GetObject(ctx, collection, id)
	if err != nil {
		return err
	}
	rec, err := bso.Record()
	if err != nil {
		return err
	}
	return s.client.DecryptInto(ctx, rec, dst, WithCollection(collection))
}

// GetObject returns the stored BSO for collection/id without decrypting it.
func (s *RecordStore) GetObject(ctx context.Context, collection, id string) (*BasicObject, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := validateAddress(collection, id); err != nil {
		return nil, err
	}
	obj, err := s.repo.Get(collection, id)
	if err != nil {
		return nil, err
	}
	return &BasicObject{
		ID:        obj.ID,
		Modified:  obj.Modified,
		SortIndex: obj.SortIndex,
		TTL:       obj.TTL,
		Payload:   obj.Payload,
	}, nil
}

// Import stores BSOs fetched from a Sync server into collection. Every
// object must verify and decrypt under the collection's key before any of
// them is written; the batch is all or nothing. IDs must be unique within
// the batch.
func (s *RecordStore) Import(ctx context.Context, collection string, bsos []*BasicObject) error {
	if err := storage.ValidateCollection(collection); err != nil {
		return err
	}
	objs := make([]*storage.Object, 0, len(bsos))
	seen := make(map[string]struct{}, len(bsos))
	for _, bso := range bsos {
		if bso == nil {
			return &crypto.FormatError{Field: "bso", Reason: "must not be nil"}
		}
		if err := storage.ValidateID(bso.ID); err != nil {
			return err
		}
		if _, dup := seen[bso.ID]; dup {
			return &crypto.FormatError{Field: "bso.id", Reason: fmt.Sprintf("%q appears more than once in the batch", bso.ID)}
		}
		seen[bso.ID] = struct{}{}
		rec, err := bso.Record()
		if err != nil {
			return fmt.Errorf("importing %s/%s: %w", collection, bso.ID, err)
		}
		if _, err := s.client.Decrypt(ctx, rec, WithCollection(collection)); err != nil {
			return fmt.Errorf("importing %s/%s: %w", collection, bso.ID, err)
		}
		objs = append(objs, &storage.Object{
			ID:        bso.ID,
			Modified:  bso.Modified,
			SortIndex: bso.SortIndex,
			TTL:       bso.TTL,
			Payload:   bso.Payload,
		})
	}

	prev := make([]uint64, len(objs))
	for i, obj := range objs {
		existing, err := s.repo.Get(collection, obj.ID)
		switch {
		case err == nil:
			prev[i] = existing.Version
		case !errors.Is(err, storage.ErrNotFound):
			return fmt.Errorf("reading %s/%s: %w", collection, obj.ID, err)
		}
		obj.Version = prev[i] + 1
	}

	err := s.repo.Batch(collection, func(tx storage.BatchTx) error {
		for i, obj := range objs {
			if err := tx.PutCAS(obj.ID, prev[i], obj); err != nil {
				return fmt.Errorf("importing %s/%s: %w", collection, obj.ID, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.client.logger.Debug("records imported",
		slog.String("collection", collection),
		slog.Int("count", len(objs)),
	)
	return nil
}

// List returns the record IDs stored in collection.
func (s *RecordStore) List(ctx context.Context, collection string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := storage.ValidateCollection(collection); err != nil {
		return nil, err
	}
	return s.repo.List(collection)
}

// Collections returns the collections holding at least one record.
func (s *RecordStore) Collections(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.repo.Collections()
}

// Delete removes collection/id.
func (s *RecordStore) Delete(ctx context.Context, collection, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := validateAddress(collection, id); err != nil {
		return err
	}
	return s.repo.Delete(collection, id)
}

// DeleteCollection removes every record in collection.
func (s *RecordStore) DeleteCollection(ctx context.Context, collection string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := storage.ValidateCollection(collection); err != nil {
		return err
	}
	return s.repo.DeleteCollection(collection)
}
