// Package key holds Sync key bundles: an AES-256 key paired with an
// HMAC-SHA256 key, sealed in memguard enclaves.
package key

import (
	"errors"
	"fmt"
	"sync"

	"github.com/awnumar/memguard"
	"github.com/jmcleod/fxsync/crypto"
	"github.com/jmcleod/fxsync/internal/util"
)

// ErrDestroyed is returned by operations on a Bundle after Destroy.
var ErrDestroyed = errors.New("key bundle destroyed")

// Bundle is an AES-256 encryption key and an HMAC-SHA256 signing key.
// The raw keys only exist in the clear for the duration of a single
// operation. A Bundle is safe for concurrent use.
type Bundle struct {
	mu   sync.RWMutex
	aes  *memguard.Enclave
	hmac *memguard.Enclave
}

// ImportBundle seals aesKey and hmacKey, each 32 bytes, into a Bundle.
// Both input slices are wiped on success.
func ImportBundle(aesKey, hmacKey []byte) (*Bundle, error) {
	if len(aesKey) != util.AESKeySize {
		return nil, &crypto.CryptoError{
			Op:  "import AES key",
			Err: fmt.Errorf("%w: got %d bytes, want %d", util.ErrInvalidKeySize, len(aesKey), util.AESKeySize),
		}
	}
	if len(hmacKey) != util.HMACKeySize {
		return nil, &crypto.CryptoError{
			Op:  "import HMAC key",
			Err: fmt.Errorf("%w: got %d bytes, want %d", util.ErrInvalidKeySize, len(hmacKey), util.HMACKeySize),
		}
	}
	return &Bundle{
		aes:  memguard.NewEnclave(aesKey),
		hmac: memguard.NewEnclave(hmacKey),
	}, nil
}

// importKeyMaterial splits 64 bytes of derived key material into a Bundle.
func importKeyMaterial(material []byte) (*Bundle, error) {
	if len(material) != util.AESKeySize+util.HMACKeySize {
		return nil, &crypto.CryptoError{
			Op:  "import key material",
			Err: fmt.Errorf("%w: got %d bytes", util.ErrInvalidKeySize, len(material)),
		}
	}
	aesKey := util.CopyBytes(material[:util.AESKeySize])
	hmacKey := util.CopyBytes(material[util.AESKeySize:])
	util.WipeBytes(material)
	return ImportBundle(aesKey, hmacKey)
}

// FromSyncKey derives the main sync key bundle from the account secret kB.
func FromSyncKey(kB []byte) (*Bundle, error) {
	material, err := crypto.StretchSyncKey(kB)
	if err != nil {
		return nil, err
	}
	return importKeyMaterial(material)
}

// EncryptCBC encrypts plaintext with AES-256-CBC and PKCS#7 padding.
func (b *Bundle) EncryptCBC(iv, plaintext []byte) ([]byte, error) {
	var out []byte
	err := b.withKey(aesEnclave, "encrypt", func(k []byte) error {
		var err error
		out, err = util.EncryptAESCBC(plaintext, k, iv)
		return err
	})
	return out, err
}

// DecryptCBC reverses EncryptCBC. A wrong IV length, a ciphertext that is
// not a whole number of blocks, or bad padding are reported as CryptoError.
func (b *Bundle) DecryptCBC(iv, ciphertext []byte) ([]byte, error) {
	var out []byte
	err := b.withKey(aesEnclave, "decrypt", func(k []byte) error {
		var err error
		out, err = util.DecryptAESCBC(ciphertext, k, iv)
		return err
	})
	return out, err
}

// Sign returns the HMAC-SHA256 tag of message.
func (b *Bundle) Sign(message []byte) ([]byte, error) {
	var out []byte
	err := b.withKey(hmacEnclave, "sign", func(k []byte) error {
		var err error
		out, err = util.SignHMAC(message, k)
		return err
	})
	return out, err
}

// Verify reports whether tag is the HMAC-SHA256 of message, in constant time.
func (b *Bundle) Verify(message, tag []byte) (bool, error) {
	var ok bool
	err := b.withKey(hmacEnclave, "verify", func(k []byte) error {
		var err error
		ok, err = util.VerifyHMAC(message, tag, k)
		return err
	})
	return ok, err
}

// Destroy drops the enclaves. Further operations fail with ErrDestroyed.
func (b *Bundle) Destroy() {
	if b == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.aes = nil
	b.hmac = nil
}

func aesEnclave(b *Bundle) *memguard.Enclave  { return b.aes }
func hmacEnclave(b *Bundle) *memguard.Enclave { return b.hmac }

func (b *Bundle) withKey(pick func(*Bundle) *memguard.Enclave, op string, fn func([]byte) error) error {
	if b == nil {
		return &crypto.CryptoError{Op: op, Err: ErrDestroyed}
	}
	b.mu.RLock()
	defer b.mu.RUnlock()

	enclave := pick(b)
	if enclave == nil {
		return &crypto.CryptoError{Op: op, Err: ErrDestroyed}
	}
	buf, err := enclave.Open()
	if err != nil {
		return &crypto.CryptoError{Op: op, Err: fmt.Errorf("opening key enclave: %w", err)}
	}
	defer buf.Destroy()

	if err := fn(buf.Bytes()); err != nil {
		return &crypto.CryptoError{Op: op, Err: err}
	}
	return nil
}
