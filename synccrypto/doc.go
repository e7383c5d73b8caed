// Package synccrypto encrypts and decrypts Firefox Sync ("Weave") records.
//
// A Client is keyed in two steps. The account secret kB is stretched with
// HKDF-SHA256 into the main sync key, which authenticates and decrypts the
// crypto/keys record. That record holds the bulk key bundles used for
// every other collection.
//
// Records are AES-256-CBC with PKCS#7 padding under a random 16-byte IV,
// authenticated with HMAC-SHA256 over the base64 ciphertext text. The MAC
// is always checked before anything is decrypted.
//
//	c := synccrypto.NewClient()
//	defer c.Destroy()
//	if err := c.SetKeys(ctx, kB, cryptoKeys); err != nil {
//		return err
//	}
//	rec, err := c.Encrypt(ctx, map[string]any{"id": "abc"})
//	...
//	v, err := c.Decrypt(ctx, rec, synccrypto.WithCollection("history"))
package synccrypto
