package storage

import (
	"fmt"
	"regexp"
)

const (
	// MaxIDLength is the longest record ID a Sync server accepts.
	MaxIDLength = 64
	// MaxCollectionLength is the longest collection name.
	MaxCollectionLength = 32
)

var collectionPattern = regexp.MustCompile(`^[a-zA-Z0-9._-]+$`)

// Object is a stored Basic Storage Object. Payload is the JSON text of an
// encrypted record; repositories never look inside it. Version is a local
// counter used for compare-and-swap and is not part of the wire format.
type Object struct {
	ID        string  `json:"id"`
	Modified  float64 `json:"modified"`
	SortIndex int     `json:"sortindex,omitempty"`
	TTL       int     `json:"ttl,omitempty"`
	Payload   string  `json:"payload"`
	Version   uint64  `json:"version,omitempty"`
}

// Clone returns a copy of o.
func (o *Object) Clone() *Object {
	if o == nil {
		return nil
	}
	cp := *o
	return &cp
}

// ValidateID checks a record ID: 1 to 64 printable ASCII characters.
func ValidateID(id string) error {
	if id == "" {
		return fmt.Errorf("%w: record ID must not be empty", ErrInvalidName)
	}
	if len(id) > MaxIDLength {
		return fmt.Errorf("%w: record ID exceeds maximum length of %d", ErrInvalidName, MaxIDLength)
	}
	for i := 0; i < len(id); i++ {
		if id[i] < 0x20 || id[i] > 0x7e {
			return fmt.Errorf("%w: record ID contains non-printable character %q", ErrInvalidName, id[i])
		}
	}
	return nil
}

// ValidateCollection checks a collection name: 1 to 32 characters from
// [a-zA-Z0-9._-].
func ValidateCollection(name string) error {
	if name == "" {
		return fmt.Errorf("%w: collection must not be empty", ErrInvalidName)
	}
	if len(name) > MaxCollectionLength {
		return fmt.Errorf("%w: collection exceeds maximum length of %d", ErrInvalidName, MaxCollectionLength)
	}
	if !collectionPattern.MatchString(name) {
		return fmt.Errorf("%w: collection %q contains forbidden characters", ErrInvalidName, name)
	}
	return nil
}
