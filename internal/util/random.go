package util

import (
	"fmt"
	"io"
)

// RandomBytesFrom reads n bytes from r.
func RandomBytesFrom(r io.Reader, n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, fmt.Errorf("generating random bytes: %w", err)
	}
	return b, nil
}

// NewIV returns a fresh AES-CBC initialisation vector read from r.
func NewIV(r io.Reader) ([]byte, error) {
	return RandomBytesFrom(r, AESIVSize)
}
