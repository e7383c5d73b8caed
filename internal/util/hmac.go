package util

import (
	"crypto/hmac"
	"crypto/sha256"
	"fmt"
)

const HMACKeySize = 32

// SignHMAC returns HMAC-SHA256(rawKey, message).
func SignHMAC(message, rawKey []byte) ([]byte, error) {
	if len(rawKey) != HMACKeySize {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrInvalidKeySize, len(rawKey), HMACKeySize)
	}
	mac := hmac.New(sha256.New, rawKey)
	mac.Write(message)
	return mac.Sum(nil), nil
}

// VerifyHMAC reports whether tag is the HMAC-SHA256 of message under rawKey.
// The comparison is constant time.
func VerifyHMAC(message, tag, rawKey []byte) (bool, error) {
	expected, err := SignHMAC(message, rawKey)
	if err != nil {
		return false, err
	}
	return hmac.Equal(expected, tag), nil
}
