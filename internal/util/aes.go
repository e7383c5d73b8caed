package util

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"errors"
	"fmt"
)

const (
	AESKeySize = 32
	AESIVSize  = aes.BlockSize
)

var (
	ErrInvalidKeySize = errors.New("invalid key size")
	ErrInvalidIVSize  = errors.New("invalid IV size")
	ErrInvalidPadding = errors.New("invalid PKCS#7 padding")
	ErrBlockSize      = errors.New("ciphertext is not a multiple of the block size")
)

// EncryptAESCBC encrypts plainText with AES-256-CBC and PKCS#7 padding.
func EncryptAESCBC(plainText, rawKey, iv []byte) ([]byte, error) {
	block, err := newCBCBlock(rawKey, iv)
	if err != nil {
		return nil, err
	}

	padded := pkcs7Pad(plainText, aes.BlockSize)
	cipherText := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(cipherText, padded)
	WipeBytes(padded)

	return cipherText, nil
}

// DecryptAESCBC reverses EncryptAESCBC. It does not authenticate: callers
// must verify the record MAC first.
func DecryptAESCBC(cipherText, rawKey, iv []byte) ([]byte, error) {
	block, err := newCBCBlock(rawKey, iv)
	if err != nil {
		return nil, err
	}

	if len(cipherText) == 0 || len(cipherText)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("%w: got %d bytes", ErrBlockSize, len(cipherText))
	}

	plainText := make([]byte, len(cipherText))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plainText, cipherText)

	unpadded, err := pkcs7Unpad(plainText, aes.BlockSize)
	if err != nil {
		WipeBytes(plainText)
		return nil, err
	}
	return unpadded, nil
}

func newCBCBlock(rawKey, iv []byte) (cipher.Block, error) {
	if len(rawKey) != AESKeySize {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrInvalidKeySize, len(rawKey), AESKeySize)
	}
	if len(iv) != AESIVSize {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrInvalidIVSize, len(iv), AESIVSize)
	}

	block, err := aes.NewCipher(rawKey)
	if err != nil {
		return nil, fmt.Errorf("creating cipher: %w", err)
	}
	return block, nil
}

func pkcs7Pad(b []byte, blockSize int) []byte {
	n := blockSize - len(b)%blockSize
	out := make([]byte, len(b), len(b)+n)
	copy(out, b)
	return append(out, bytes.Repeat([]byte{byte(n)}, n)...)
}

func pkcs7Unpad(b []byte, blockSize int) ([]byte, error) {
	if len(b) == 0 || len(b)%blockSize != 0 {
		return nil, ErrInvalidPadding
	}
	n := int(b[len(b)-1])
	if n == 0 || n > blockSize {
		return nil, ErrInvalidPadding
	}
	for _, p := range b[len(b)-n:] {
		if int(p) != n {
			return nil, ErrInvalidPadding
		}
	}
	return b[:len(b)-n], nil
}
