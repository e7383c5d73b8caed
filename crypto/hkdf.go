package crypto

import "github.com/jmcleod/fxsync/internal/util"

const (
	// SyncKeyInfo is the HKDF info string for stretching kB into the
	// main sync key.
	SyncKeyInfo = "identity.mozilla.com/picl/v1/oldsync"
	// SyncKeyLength is 32 bytes of AES key followed by 32 bytes of HMAC key.
	SyncKeyLength = util.AESKeySize + util.HMACKeySize
	// SyncKeySaltLength is the length of the all-zero HKDF salt.
	SyncKeySaltLength = 64
)

// HKDF derives length bytes from ikm with HKDF-SHA256 (RFC 5869). An empty
// salt is treated as a zero key of the hash size.
func HKDF(ikm, info, salt []byte, length int) ([]byte, error) {
	out, err := util.HKDF(ikm, info, salt, length)
	if err != nil {
		return nil, &CryptoError{Op: "hkdf", Err: err}
	}
	return out, nil
}

// StretchSyncKey derives the 64 bytes of main sync key material from kB.
// The first half is the AES key, the second the HMAC key.
func StretchSyncKey(kB []byte) ([]byte, error) {
	return HKDF(kB, []byte(SyncKeyInfo), make([]byte, SyncKeySaltLength), SyncKeyLength)
}
