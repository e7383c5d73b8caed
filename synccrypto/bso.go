package synccrypto

import (
	"encoding/json"

	"github.com/jmcleod/fxsync/crypto"
)

// BasicObject is a Basic Storage Object as exchanged with a Sync storage
// server. Payload holds the JSON text of an EncryptedRecord.
type BasicObject struct {
	ID        string  `json:"id"`
	Modified  float64 `json:"modified,omitempty"`
	SortIndex int     `json:"sortindex,omitempty"`
	TTL       int     `json:"ttl,omitempty"`
	Payload   string  `json:"payload"`
}

// ParseBasicObject decodes a BSO from its JSON text.
func ParseBasicObject(data []byte) (*BasicObject, error) {
	var bso BasicObject
	if err := decodeJSON(data, &bso, false); err != nil {
		return nil, &crypto.FormatError{Field: "bso", Reason: "could not be parsed", Err: err}
	}
	if bso.ID == "" {
		return nil, &crypto.FormatError{Field: "bso.id", Reason: "must not be empty"}
	}
	return &bso, nil
}

// NewBasicObject wraps rec in a BSO with the given ID.
func NewBasicObject(id string, rec *EncryptedRecord) (*BasicObject, error) {
	if id == "" {
		return nil, &crypto.FormatError{Field: "bso.id", Reason: "must not be empty"}
	}
	payload, err := rec.JSON()
	if err != nil {
		return nil, err
	}
	return &BasicObject{ID: id, Payload: payload}, nil
}

// Record decodes the BSO payload into an EncryptedRecord.
func (b *BasicObject) Record() (*EncryptedRecord, error) {
	return ParseEncryptedRecord([]byte(b.Payload))
}

// JSON returns the BSO's JSON text.
func (b *BasicObject) JSON() ([]byte, error) {
	data, err := json.Marshal(b)
	if err != nil {
		return nil, &crypto.SerializationError{Err: err}
	}
	return data, nil
}
