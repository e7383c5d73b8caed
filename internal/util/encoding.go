package util

import (
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"

	"golang.org/x/text/encoding/unicode"
)

var (
	ErrOddLength     = errors.New("hex string length not a multiple of 2")
	ErrInvalidHex    = errors.New("contains non-hex characters")
	ErrBase64Length  = errors.New("base64 string length not a multiple of 4")
	ErrInvalidBase64 = errors.New("contains invalid base64 characters")
)

var utf16LE = unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM)

func HexEncode(b []byte) string {
	return hex.EncodeToString(b)
}

// HexDecode decodes s, reporting an odd length before any bad character.
func HexDecode(s string) ([]byte, error) {
	if len(s)%2 != 0 {
		return nil, fmt.Errorf("%w: got %d characters", ErrOddLength, len(s))
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidHex, err)
	}
	return b, nil
}

func Base64Encode(b []byte) string {
	return base64.StdEncoding.EncodeToString(b)
}

// Base64Decode decodes padded standard base64. Non-zero trailing bits are
// tolerated, as browsers' atob does.
func Base64Decode(s string) ([]byte, error) {
	if len(s)%4 != 0 {
		return nil, fmt.Errorf("%w: got %d characters", ErrBase64Length, len(s))
	}
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidBase64, err)
	}
	return b, nil
}

// RawStringBytes maps every UTF-16 code unit of s to its low byte. Code
// units above 0xFF lose their high byte.
func RawStringBytes(s string) ([]byte, error) {
	units, err := utf16LE.NewEncoder().Bytes([]byte(s))
	if err != nil {
		return nil, fmt.Errorf("encoding UTF-16: %w", err)
	}
	out := make([]byte, len(units)/2)
	for i := range out {
		out[i] = units[2*i]
	}
	return out, nil
}
