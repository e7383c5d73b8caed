package crypto

import "github.com/jmcleod/fxsync/internal/util"

// BytesFromHex decodes a hex string. Odd lengths are reported as
// ErrOddLength before non-hex characters are looked at (ErrInvalidHex).
func BytesFromHex(s string) ([]byte, error) {
	return ParseHex("", s)
}

// BytesFromBase64 decodes padded standard base64.
func BytesFromBase64(s string) ([]byte, error) {
	return ParseBase64("", s)
}

// BytesFromRawString returns the low byte of each UTF-16 code unit of s.
// Characters above U+00FF are truncated rather than rejected.
func BytesFromRawString(s string) ([]byte, error) {
	b, err := util.RawStringBytes(s)
	if err != nil {
		return nil, &FormatError{Reason: "is not a raw string", Err: err}
	}
	return b, nil
}

// HexFromBytes returns lowercase, zero-padded hex.
func HexFromBytes(b []byte) string {
	return util.HexEncode(b)
}

// Base64FromBytes returns padded standard base64.
func Base64FromBytes(b []byte) string {
	return util.Base64Encode(b)
}

// ParseHex is BytesFromHex with the offending field named in the error.
func ParseHex(field, s string) ([]byte, error) {
	b, err := util.HexDecode(s)
	if err != nil {
		return nil, &FormatError{Field: field, Reason: "is not a hex string", Err: err}
	}
	return b, nil
}

// ParseBase64 is BytesFromBase64 with the offending field named in the error.
func ParseBase64(field, s string) ([]byte, error) {
	b, err := util.Base64Decode(s)
	if err != nil {
		return nil, &FormatError{Field: field, Reason: "is not a Base64 string", Err: err}
	}
	return b, nil
}
