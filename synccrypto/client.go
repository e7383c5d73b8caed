package synccrypto

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"

	"github.com/jmcleod/fxsync/crypto"
	"github.com/jmcleod/fxsync/internal/util"
	"github.com/jmcleod/fxsync/internal/uuid"
	"github.com/jmcleod/fxsync/key"
)

// State is the lifecycle stage of a Client.
type State int

const (
	// StateUninitialized is a new client with no keys.
	StateUninitialized State = iota
	// StateMainKeySet means kB has been stretched but crypto/keys is not yet unwrapped.
	StateMainKeySet
	// StateReady means bulk keys are available for Encrypt and Decrypt.
	StateReady
	// StateFailed means the first SetKeys attempt failed.
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "Uninitialized"
	case StateMainKeySet:
		return "MainKeySet"
	case StateReady:
		return "Ready"
	case StateFailed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// Client encrypts and decrypts Firefox Sync records. Call SetKeys before
// any record operation and Destroy when done. A Client is safe for
// concurrent use.
type Client struct {
	id     string
	logger *slog.Logger
	rand   io.Reader

	mu       sync.RWMutex
	state    State
	mainKey  *key.Bundle
	bulkKeys *key.CollectionKeys
}

// NewClient returns an uninitialized Client.
func NewClient(opts ...Option) *Client {
	c := &Client{
		logger: slog.Default(),
		rand:   rand.Reader,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.id == "" {
		c.id = uuid.New()
	}
	c.logger = c.logger.With(slog.String("client_id", c.id))
	return c
}

// ID returns the client instance identifier.
func (c *Client) ID() string {
	return c.id
}

// State returns the current lifecycle state.
func (c *Client) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// SetKeys stretches kB (hex) into the main sync key, verifies and decrypts
// the wrapped crypto/keys record with it, and installs the bulk key
// bundles. On failure nothing is committed: a client that was Ready keeps
// its previous keys, any other client becomes Failed.
func (c *Client) SetKeys(ctx context.Context, kBHex string, wrapped WrappedKeyBundle) error {
	mainKey, bulkKeys, err := c.unwrapKeys(ctx, kBHex, &wrapped)
	if err != nil {
		c.mu.Lock()
		if c.state != StateReady {
			c.state = StateFailed
		}
		c.mu.Unlock()
		c.logger.Debug("set keys failed", slog.Any("error", err))
		return err
	}

	c.mu.Lock()
	oldMain, oldBulk := c.mainKey, c.bulkKeys
	c.mainKey, c.bulkKeys = mainKey, bulkKeys
	c.state = StateReady
	c.mu.Unlock()

	// Readers hold the read lock for the whole of an operation, so nothing
	// still uses the old bundles once the swap above has completed.
	oldMain.Destroy()
	oldBulk.Destroy()

	c.logger.Debug("keys installed",
		slog.Int("collection_keys", len(bulkKeys.Collections)),
	)
	return nil
}

func (c *Client) unwrapKeys(ctx context.Context, kBHex string, wrapped *WrappedKeyBundle) (*key.Bundle, *key.CollectionKeys, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	kB, err := crypto.ParseHex("kB", kBHex)
	if err != nil {
		return nil, nil, err
	}
	defer util.WipeBytes(kB)
	sealed, err := parseSealed("cryptoKeys", wrapped)
	if err != nil {
		return nil, nil, err
	}

	mainKey, err := key.FromSyncKey(kB)
	if err != nil {
		return nil, nil, err
	}
	c.mu.Lock()
	if c.state != StateReady {
		c.state = StateMainKeySet
	}
	c.mu.Unlock()
	c.logger.Debug("main sync key derived")

	bulkKeys, err := c.openKeys(ctx, mainKey, sealed)
	if err != nil {
		mainKey.Destroy()
		return nil, nil, err
	}
	return mainKey, bulkKeys, nil
}

func (c *Client) openKeys(ctx context.Context, mainKey *key.Bundle, sealed *sealedRecord) (*key.CollectionKeys, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ok, err := mainKey.Verify(sealed.signed, sealed.tag)
	if err != nil {
		return nil, err
	}
	if !ok {
		c.logger.Warn("crypto/keys integrity check failed")
		return nil, &crypto.IntegrityError{Msg: "SyncKeys hmac could not be verified with current main key"}
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	plaintext, err := mainKey.DecryptCBC(sealed.iv, sealed.ciphertext)
	if err != nil {
		return nil, &crypto.CryptoError{
			Op:  "could not decrypt crypto keys using AES part of stretched kB key",
			Err: errors.Unwrap(err),
		}
	}
	defer util.WipeBytes(plaintext)

	return key.ParseCollectionKeys(plaintext)
}

// SelectKeyBundle returns the default bulk key bundle.
//
// The bundle belongs to the client. The next successful SetKeys, or
// Destroy, destroys it, and from then on its methods fail with
// key.ErrDestroyed. Callers that re-key must not hold bundles across
// SetKeys.
func (c *Client) SelectKeyBundle() (*key.Bundle, error) {
	return c.SelectCollectionKeyBundle("")
}

// SelectCollectionKeyBundle returns the bulk key bundle for collection,
// or the default bundle when crypto/keys has none for it. The lifetime
// rules of SelectKeyBundle apply.
func (c *Client) SelectCollectionKeyBundle(collection string) (*key.Bundle, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.bundleLocked("select key bundle", collection)
}

// CollectionKeyNames returns the collections that have their own bulk key,
// or nil before SetKeys has succeeded.
func (c *Client) CollectionKeyNames() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.state != StateReady || c.bulkKeys == nil {
		return nil
	}
	return c.bulkKeys.Names()
}

func (c *Client) bundleLocked(op, collection string) (*key.Bundle, error) {
	if c.state != StateReady || c.bulkKeys == nil {
		return nil, &crypto.StateError{Op: op}
	}
	return c.bulkKeys.For(collection), nil
}

// Decrypt verifies and decrypts rec and returns the decoded JSON value.
// Numbers are returned as json.Number so 64-bit integers survive.
func (c *Client) Decrypt(ctx context.Context, rec *EncryptedRecord, opts ...RecordOption) (any, error) {
	var out any
	if err := c.decrypt(ctx, rec, &out, true, opts); err != nil {
		return nil, err
	}
	return out, nil
}

// DecryptInto verifies and decrypts rec and unmarshals it into dst.
func (c *Client) DecryptInto(ctx context.Context, rec *EncryptedRecord, dst any, opts ...RecordOption) error {
	return c.decrypt(ctx, rec, dst, false, opts)
}

func (c *Client) decrypt(ctx context.Context, rec *EncryptedRecord, dst any, useNumber bool, opts []RecordOption) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if rec == nil {
		return &crypto.FormatError{Field: "payload", Reason: "is not an object"}
	}
	o := applyRecordOptions(opts)
	logger := c.logger.With(slog.String("collection", o.collection))

	c.mu.RLock()
	defer c.mu.RUnlock()

	bundle, err := c.bundleLocked(opName("decrypt", o.collection), o.collection)
	if err != nil {
		return err
	}
	sealed, err := parseSealed("payload", rec)
	if err != nil {
		return err
	}

	ok, err := bundle.Verify(sealed.signed, sealed.tag)
	if err != nil {
		return err
	}
	if !ok {
		logger.Warn("record integrity check failed")
		return &crypto.IntegrityError{Msg: "record verification failed with current hmac key for " + collectionLabel(o.collection)}
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	plaintext, err := bundle.DecryptCBC(sealed.iv, sealed.ciphertext)
	if err != nil {
		return &crypto.CryptoError{
			Op:  "could not decrypt record using AES part of key bundle for collection " + collectionLabel(o.collection),
			Err: errors.Unwrap(err),
		}
	}
	defer util.WipeBytes(plaintext)

	if err := decodeJSON(plaintext, dst, useNumber); err != nil {
		if errors.Is(err, crypto.ErrNotJSON) {
			return &crypto.FormatError{Field: "record", Reason: "deciphered, but not JSON", Err: err}
		}
		return &crypto.FormatError{Field: "record", Reason: "does not match destination type", Err: err}
	}
	logger.Debug("record decrypted")
	return nil
}

// Encrypt serializes v to JSON, encrypts it under a fresh random IV and
// signs the base64 ciphertext text.
func (c *Client) Encrypt(ctx context.Context, v any, opts ...RecordOption) (*EncryptedRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	plaintext, err := json.Marshal(v)
	if err != nil {
		return nil, &crypto.SerializationError{Err: err}
	}
	defer util.WipeBytes(plaintext)

	o := applyRecordOptions(opts)

	c.mu.RLock()
	defer c.mu.RUnlock()

	bundle, err := c.bundleLocked(opName("encrypt", o.collection), o.collection)
	if err != nil {
		return nil, err
	}

	iv, err := util.NewIV(c.rand)
	if err != nil {
		return nil, &crypto.CryptoError{Op: "generating IV", Err: err}
	}
	ciphertext, err := bundle.EncryptCBC(iv, plaintext)
	if err != nil {
		return nil, err
	}
	ciphertextB64 := crypto.Base64FromBytes(ciphertext)
	signed, err := crypto.BytesFromRawString(ciphertextB64)
	if err != nil {
		return nil, err
	}
	tag, err := bundle.Sign(signed)
	if err != nil {
		return nil, err
	}

	c.logger.Debug("record encrypted", slog.String("collection", o.collection))
	return &EncryptedRecord{
		Ciphertext: ciphertextB64,
		IV:         crypto.Base64FromBytes(iv),
		HMAC:       crypto.HexFromBytes(tag),
	}, nil
}

// Destroy wipes all key material and returns the client to Uninitialized.
func (c *Client) Destroy() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mainKey.Destroy()
	c.bulkKeys.Destroy()
	c.mainKey, c.bulkKeys = nil, nil
	c.state = StateUninitialized
}

func opName(op, collection string) string {
	if collection == "" {
		return op
	}
	return op + " " + collection
}

func collectionLabel(name string) string {
	if name == "" {
		return "default"
	}
	return name
}
