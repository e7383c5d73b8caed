package key

import (
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"slices"

	"github.com/jmcleod/fxsync/crypto"
	"github.com/jmcleod/fxsync/internal/util"
)

// CollectionKeys is the decrypted contents of the crypto/keys record: a
// default bulk key bundle plus optional per-collection overrides.
type CollectionKeys struct {
	Default     *Bundle
	Collections map[string]*Bundle
}

type jsonCollectionKeys struct {
	Default     []string            `json:"default"`
	Collections map[string][]string `json:"collections"`
	Collection  string              `json:"collection,omitempty"`
	ID          string              `json:"id,omitempty"`
}

// ParseCollectionKeys parses the crypto/keys plaintext
// {"default": [aesB64, hmacB64], "collections": {name: [aesB64, hmacB64]}}.
func ParseCollectionKeys(plaintext []byte) (*CollectionKeys, error) {
	var jk jsonCollectionKeys
	if err := json.Unmarshal(plaintext, &jk); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			return nil, &crypto.FormatError{Field: "cryptoKeys", Reason: "has an unexpected shape", Err: err}
		}
		return nil, &crypto.FormatError{Field: "cryptoKeys", Reason: "could not be parsed", Err: fmt.Errorf("%w: %v", crypto.ErrNotJSON, err)}
	}

	def, err := parsePair("cryptoKeys.default", jk.Default)
	if err != nil {
		return nil, err
	}
	ck := &CollectionKeys{
		Default:     def,
		Collections: make(map[string]*Bundle, len(jk.Collections)),
	}
	for name, pair := range jk.Collections {
		b, err := parsePair("cryptoKeys.collections."+name, pair)
		if err != nil {
			ck.Destroy()
			return nil, err
		}
		ck.Collections[name] = b
	}
	return ck, nil
}

func parsePair(field string, pair []string) (*Bundle, error) {
	if len(pair) != 2 {
		return nil, &crypto.FormatError{Field: field, Reason: fmt.Sprintf("must hold 2 keys, got %d", len(pair))}
	}
	aesKey, err := crypto.ParseBase64(field+"[0]", pair[0])
	if err != nil {
		return nil, err
	}
	hmacKey, err := crypto.ParseBase64(field+"[1]", pair[1])
	if err != nil {
		util.WipeBytes(aesKey)
		return nil, err
	}
	return ImportBundle(aesKey, hmacKey)
}

// For returns the bundle for collection, falling back to Default.
func (c *CollectionKeys) For(collection string) *Bundle {
	if b, ok := c.Collections[collection]; ok && collection != "" {
		return b
	}
	return c.Default
}

// Names returns the collections that carry their own bundle, sorted.
func (c *CollectionKeys) Names() []string {
	return slices.Sorted(maps.Keys(c.Collections))
}

// Destroy destroys every bundle held.
func (c *CollectionKeys) Destroy() {
	if c == nil {
		return
	}
	c.Default.Destroy()
	for _, b := range c.Collections {
		b.Destroy()
	}
}
