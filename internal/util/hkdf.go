package util

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// HKDFMaxLength is the longest output a single-byte round counter allows.
const HKDFMaxLength = 255 * sha256.Size

var ErrInvalidLength = errors.New("invalid HKDF output length")

// HKDF runs RFC 5869 extract-then-expand with HMAC-SHA256. An empty salt
// is replaced by a zero key of the hash size.
func HKDF(ikm, info, salt []byte, length int) ([]byte, error) {
	if length < 1 || length > HKDFMaxLength {
		return nil, fmt.Errorf("%w: %d", ErrInvalidLength, length)
	}
	if len(salt) == 0 {
		salt = make([]byte, sha256.Size)
	}

	h := hkdf.New(sha256.New, ikm, salt, info)
	k := make([]byte, length)
	if _, err := io.ReadFull(h, k); err != nil {
		return nil, fmt.Errorf("reading from HKDF: %w", err)
	}
	return k, nil
}
