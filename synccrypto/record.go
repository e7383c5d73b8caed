package synccrypto

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/jmcleod/fxsync/crypto"
)

// EncryptedRecord is the encrypted payload of a Sync record. HMAC is the
// hex HMAC-SHA256 of the ASCII bytes of the base64 Ciphertext text.
type EncryptedRecord struct {
	Ciphertext string `json:"ciphertext"`
	IV         string `json:"IV"`
	HMAC       string `json:"hmac"`
}

// WrappedKeyBundle is the encrypted crypto/keys record. It has the same
// shape as any other encrypted record but is keyed by the main sync key.
type WrappedKeyBundle = EncryptedRecord

// ParseEncryptedRecord decodes the JSON text of an encrypted record.
func ParseEncryptedRecord(data []byte) (*EncryptedRecord, error) {
	var rec EncryptedRecord
	if err := decodeJSON(data, &rec, false); err != nil {
		return nil, &crypto.FormatError{Field: "payload", Reason: "could not be parsed", Err: err}
	}
	return &rec, nil
}

// JSON returns the record's JSON text.
func (r *EncryptedRecord) JSON() (string, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return "", &crypto.SerializationError{Err: err}
	}
	return string(data), nil
}

// sealedRecord is an EncryptedRecord with every field decoded.
type sealedRecord struct {
	signed     []byte
	ciphertext []byte
	iv         []byte
	tag        []byte
}

// parseSealed decodes rec's fields in order: ciphertext, IV, hmac. Errors
// name the field as prefix + "." + wire name.
func parseSealed(prefix string, rec *EncryptedRecord) (*sealedRecord, error) {
	ciphertext, err := crypto.ParseBase64(prefix+".ciphertext", rec.Ciphertext)
	if err != nil {
		return nil, err
	}
	signed, err := crypto.BytesFromRawString(rec.Ciphertext)
	if err != nil {
		return nil, err
	}
	iv, err := crypto.ParseBase64(prefix+".IV", rec.IV)
	if err != nil {
		return nil, err
	}
	tag, err := crypto.ParseHex(prefix+".hmac", rec.HMAC)
	if err != nil {
		return nil, err
	}
	return &sealedRecord{signed: signed, ciphertext: ciphertext, iv: iv, tag: tag}, nil
}

// decodeJSON decodes exactly one JSON value from data into dst. Syntax
// errors and trailing data are reported as crypto.ErrNotJSON.
func decodeJSON(data []byte, dst any, useNumber bool) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	if useNumber {
		dec.UseNumber()
	}
	if err := dec.Decode(dst); err != nil {
		var typeErr *json.UnmarshalTypeError
		var invalidErr *json.InvalidUnmarshalError
		if errors.As(err, &typeErr) || errors.As(err, &invalidErr) {
			return err
		}
		return fmt.Errorf("%w: %v", crypto.ErrNotJSON, err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: trailing data after JSON value", crypto.ErrNotJSON)
	}
	return nil
}
