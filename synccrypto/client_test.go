package synccrypto

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/jmcleod/fxsync/crypto"
	"github.com/jmcleod/fxsync/key"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_SetKeysFixture(t *testing.T) {
	c := NewClient(WithLogger(quietLogger()))
	defer c.Destroy()
	assert.Equal(t, StateUninitialized, c.State())

	err := c.SetKeys(context.Background(), fixtureKB, fixtureKeys())
	require.NoError(t, err)
	assert.Equal(t, StateReady, c.State())

	b, err := c.SelectKeyBundle()
	require.NoError(t, err)
	assert.NotNil(t, b)
}

func TestClient_DecryptFixture(t *testing.T) {
	c := newReadyClient(t)

	v, err := c.Decrypt(context.Background(), fixtureHistory(t), WithCollection("history"))
	require.NoError(t, err)

	obj, ok := v.(map[string]any)
	require.True(t, ok, "expected a JSON object, got %T", v)
	assert.Equal(t, fixtureHistoryID, obj["id"])
	assert.Equal(t, fixtureHistoryURI, obj["histUri"])
	assert.Equal(t, fixtureHistoryTitle, obj["title"])

	visits, ok := obj["visits"].([]any)
	require.True(t, ok)
	require.Len(t, visits, 1)
	visit := visits[0].(map[string]any)
	assert.Equal(t, json.Number(fixtureHistoryDate), visit["date"])
	assert.Equal(t, json.Number("1"), visit["type"])
}

func TestClient_DecryptIntoFixture(t *testing.T) {
	c := newReadyClient(t)

	var rec historyRecord
	require.NoError(t, c.DecryptInto(context.Background(), fixtureHistory(t), &rec))
	assert.Equal(t, fixtureHistoryID, rec.ID)
	assert.Equal(t, fixtureHistoryTitle, rec.Title)
	require.Len(t, rec.Visits, 1)
	assert.Equal(t, int64(1439366063808983), rec.Visits[0].Date)

	var wrong struct {
		ID int `json:"id"`
	}
	err := c.DecryptInto(context.Background(), fixtureHistory(t), &wrong)
	assert.ErrorIs(t, err, crypto.ErrFormat)
	assert.NotErrorIs(t, err, crypto.ErrNotJSON)
}

func TestClient_SetKeysErrors(t *testing.T) {
	tests := []struct {
		name   string
		kB     string
		mutate func(*WrappedKeyBundle)
		kind   error
		field  string
	}{
		{"KBNotHex", "foo", nil, crypto.ErrFormat, "kB"},
		{"KBNonHexChars", "zz" + fixtureKB[2:], nil, crypto.ErrFormat, "kB"},
		{"CiphertextNotBase64", fixtureKB, func(w *WrappedKeyBundle) { w.Ciphertext = "foo" }, crypto.ErrFormat, "cryptoKeys.ciphertext"},
		{"IVNotBase64", fixtureKB, func(w *WrappedKeyBundle) { w.IV = "!!!!" }, crypto.ErrFormat, "cryptoKeys.IV"},
		{"HMACNotHex", fixtureKB, func(w *WrappedKeyBundle) { w.HMAC = "zz" }, crypto.ErrFormat, "cryptoKeys.hmac"},
		{"WrongHMAC", fixtureKB, func(w *WrappedKeyBundle) { w.HMAC = "deadbeef" }, crypto.ErrIntegrity, ""},
		{"WrongCiphertext", fixtureKB, func(w *WrappedKeyBundle) { w.Ciphertext = "deadbeef" }, crypto.ErrIntegrity, ""},
		{"WrongIV", fixtureKB, func(w *WrappedKeyBundle) { w.IV = "deadbeef" }, crypto.ErrCrypto, ""},
		{"WrongKB", strings.Repeat("00", 32), nil, crypto.ErrIntegrity, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewClient(WithLogger(quietLogger()))
			defer c.Destroy()

			wrapped := fixtureKeys()
			if tt.mutate != nil {
				tt.mutate(&wrapped)
			}
			err := c.SetKeys(context.Background(), tt.kB, wrapped)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.kind)
			if tt.field != "" {
				var fe *crypto.FormatError
				require.True(t, errors.As(err, &fe))
				assert.Equal(t, tt.field, fe.Field)
			}
			assert.Equal(t, StateFailed, c.State())

			_, err = c.SelectKeyBundle()
			assert.ErrorIs(t, err, crypto.ErrState)
		})
	}
}

func TestClient_SetKeysIntegrityMessage(t *testing.T) {
	c := NewClient(WithLogger(quietLogger()))
	defer c.Destroy()
	wrapped := fixtureKeys()
	wrapped.HMAC = "deadbeef"

	err := c.SetKeys(context.Background(), fixtureKB, wrapped)
	var ie *crypto.IntegrityError
	require.True(t, errors.As(err, &ie))
	assert.Contains(t, ie.Error(), "SyncKeys hmac could not be verified")
}

func TestClient_SetKeysBadKeysDocument(t *testing.T) {
	c := NewClient(WithLogger(quietLogger()))
	defer c.Destroy()

	err := c.SetKeys(context.Background(), fixtureKB, wrapKeys(t, fixtureKB, []byte("not { json")))
	assert.ErrorIs(t, err, crypto.ErrFormat)
	assert.ErrorIs(t, err, crypto.ErrNotJSON)
	assert.Equal(t, StateFailed, c.State())

	c1 := NewClient(WithLogger(quietLogger()))
	defer c1.Destroy()
	err = c1.SetKeys(context.Background(), fixtureKB, wrapKeys(t, fixtureKB, "just a string"))
	assert.ErrorIs(t, err, crypto.ErrFormat)

	c2 := NewClient(WithLogger(quietLogger()))
	defer c2.Destroy()
	err = c2.SetKeys(context.Background(), fixtureKB, wrapKeys(t, fixtureKB, map[string]any{"collections": map[string]any{}}))
	assert.ErrorIs(t, err, crypto.ErrFormat, "missing default pair")
}

func TestClient_FailedSetKeysKeepsPriorKeys(t *testing.T) {
	c := newReadyClient(t)

	bad := fixtureKeys()
	bad.HMAC = "deadbeef"
	err := c.SetKeys(context.Background(), fixtureKB, bad)
	assert.ErrorIs(t, err, crypto.ErrIntegrity)
	assert.Equal(t, StateReady, c.State())

	_, err = c.Decrypt(context.Background(), fixtureHistory(t))
	assert.NoError(t, err, "prior keys should still decrypt")
}

func TestClient_SetKeysReplacesKeys(t *testing.T) {
	c := newReadyClient(t)
	ctx := context.Background()

	old, err := c.Encrypt(ctx, map[string]any{"id": "x"})
	require.NoError(t, err)
	held, err := c.SelectKeyBundle()
	require.NoError(t, err)

	doc := map[string]any{"default": keyPair(1, 2), "collections": map[string]any{}}
	require.NoError(t, c.SetKeys(ctx, fixtureKB, wrapKeys(t, fixtureKB, doc)))
	assert.Equal(t, StateReady, c.State())

	// Bundles handed out before re-keying are destroyed with the old keys.
	_, err = held.Sign([]byte("x"))
	assert.ErrorIs(t, err, key.ErrDestroyed)
	assert.ErrorIs(t, err, crypto.ErrCrypto)

	_, err = c.Decrypt(ctx, old)
	assert.ErrorIs(t, err, crypto.ErrIntegrity)
	_, err = c.Decrypt(ctx, fixtureHistory(t))
	assert.ErrorIs(t, err, crypto.ErrIntegrity)
}

func TestClient_DecryptErrors(t *testing.T) {
	c := newReadyClient(t)

	tests := []struct {
		name   string
		mutate func(*EncryptedRecord)
		kind   error
		cause  error
	}{
		{"HMACOddLength", func(r *EncryptedRecord) { r.HMAC = "fee" }, crypto.ErrFormat, crypto.ErrOddLength},
		{"HMACNonHex", func(r *EncryptedRecord) { r.HMAC = "fooz" }, crypto.ErrFormat, crypto.ErrInvalidHex},
		{"CiphertextNotBase64", func(r *EncryptedRecord) { r.Ciphertext = "foo" }, crypto.ErrFormat, crypto.ErrBase64Length},
		{"IVNotBase64", func(r *EncryptedRecord) { r.IV = "a=bc" }, crypto.ErrFormat, crypto.ErrInvalidBase64},
		{"WrongIVLength", func(r *EncryptedRecord) { r.IV = "deadbeef" }, crypto.ErrCrypto, nil},
		{"WrongHMAC", func(r *EncryptedRecord) { r.HMAC = "deadbeef" }, crypto.ErrIntegrity, nil},
		{"TamperedCiphertext", func(r *EncryptedRecord) {
			r.Ciphertext = "p" + r.Ciphertext[1:]
		}, crypto.ErrIntegrity, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := fixtureHistory(t)
			tt.mutate(rec)
			_, err := c.Decrypt(context.Background(), rec)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.kind)
			if tt.cause != nil {
				assert.ErrorIs(t, err, tt.cause)
			}
		})
	}

	_, err := c.Decrypt(context.Background(), nil)
	assert.ErrorIs(t, err, crypto.ErrFormat)
}

// The hmac covers only the ciphertext text, so the IV is not
// authenticated: flipping IV byte k flips plaintext byte k of the first
// block. Existing Sync peers rely on this wire format.
func TestClient_DecryptTamperedIV(t *testing.T) {
	c := newReadyClient(t)
	ctx := context.Background()

	rec, err := c.Encrypt(ctx, map[string]any{"id": "abc"})
	require.NoError(t, err)

	flipIV := func(k int) *EncryptedRecord {
		iv, err := crypto.BytesFromBase64(rec.IV)
		require.NoError(t, err)
		iv[k] ^= 0x01
		out := *rec
		out.IV = crypto.Base64FromBytes(iv)
		return &out
	}

	// {"id":"abc"}: byte 7 is the 'a'.
	v, err := c.Decrypt(ctx, flipIV(7))
	require.NoError(t, err)
	assert.Equal(t, "`bc", v.(map[string]any)["id"])

	// Byte 0 turns '{' into 'z'.
	_, err = c.Decrypt(ctx, flipIV(0))
	assert.ErrorIs(t, err, crypto.ErrFormat)
	assert.ErrorIs(t, err, crypto.ErrNotJSON)

	v, err = c.Decrypt(ctx, rec)
	require.NoError(t, err)
	assert.Equal(t, "abc", v.(map[string]any)["id"])
}

func TestClient_DecryptNotJSON(t *testing.T) {
	c := newReadyClient(t)
	b, err := c.SelectKeyBundle()
	require.NoError(t, err)

	iv := bytes.Repeat([]byte{1}, 16)
	ct, err := b.EncryptCBC(iv, []byte("not { json"))
	require.NoError(t, err)
	ctB64 := crypto.Base64FromBytes(ct)
	tag, err := b.Sign([]byte(ctB64))
	require.NoError(t, err)

	_, err = c.Decrypt(context.Background(), &EncryptedRecord{
		Ciphertext: ctB64,
		IV:         crypto.Base64FromBytes(iv),
		HMAC:       crypto.HexFromBytes(tag),
	})
	assert.ErrorIs(t, err, crypto.ErrFormat)
	assert.ErrorIs(t, err, crypto.ErrNotJSON)
}

func TestClient_NotReady(t *testing.T) {
	c := NewClient(WithLogger(quietLogger()))
	ctx := context.Background()

	_, err := c.SelectKeyBundle()
	assert.ErrorIs(t, err, crypto.ErrState)
	_, err = c.Decrypt(ctx, fixtureHistory(t))
	assert.ErrorIs(t, err, crypto.ErrState)
	_, err = c.Encrypt(ctx, map[string]any{"a": 1})
	assert.ErrorIs(t, err, crypto.ErrState)

	var se *crypto.StateError
	require.True(t, errors.As(err, &se))
	assert.Contains(t, se.Error(), "did you call SetKeys")
}

func TestClient_EncryptRoundTrip(t *testing.T) {
	c := newReadyClient(t)
	ctx := context.Background()

	in := historyRecord{
		ID:      "abcdefghijkl",
		HistURI: "https://example.com/?q=ü&x=<>",
		Title:   "Example ✓",
		Visits:  []historyVisit{{Date: 9007199254740993, Type: 2}},
	}
	rec, err := c.Encrypt(ctx, in, WithCollection("history"))
	require.NoError(t, err)

	iv, err := crypto.BytesFromBase64(rec.IV)
	require.NoError(t, err)
	assert.Len(t, iv, 16)
	tag, err := crypto.BytesFromHex(rec.HMAC)
	require.NoError(t, err)
	assert.Len(t, tag, 32)
	assert.Equal(t, strings.ToLower(rec.HMAC), rec.HMAC)

	var out historyRecord
	require.NoError(t, c.DecryptInto(ctx, rec, &out, WithCollection("history")))
	assert.Equal(t, in, out)

	v, err := c.Decrypt(ctx, rec)
	require.NoError(t, err)
	date := v.(map[string]any)["visits"].([]any)[0].(map[string]any)["date"]
	assert.Equal(t, json.Number("9007199254740993"), date)
}

func TestClient_EncryptFreshIV(t *testing.T) {
	c := newReadyClient(t)
	ctx := context.Background()

	a, err := c.Encrypt(ctx, map[string]any{"id": "same"})
	require.NoError(t, err)
	b, err := c.Encrypt(ctx, map[string]any{"id": "same"})
	require.NoError(t, err)
	assert.NotEqual(t, a.IV, b.IV)
	assert.NotEqual(t, a.Ciphertext, b.Ciphertext)
}

func TestClient_EncryptDeterministicWithRandReader(t *testing.T) {
	fixed := bytes.Repeat([]byte{0x11}, 64)
	c := newReadyClient(t, WithRandReader(bytes.NewReader(fixed)))
	ctx := context.Background()

	a, err := c.Encrypt(ctx, "hello")
	require.NoError(t, err)
	b, err := c.Encrypt(ctx, "hello")
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Equal(t, crypto.Base64FromBytes(fixed[:16]), a.IV)

	// The reader holds four IVs; the fifth call runs dry.
	_, _ = c.Encrypt(ctx, "hello")
	_, _ = c.Encrypt(ctx, "hello")
	_, err = c.Encrypt(ctx, "hello")
	assert.ErrorIs(t, err, crypto.ErrCrypto)
}

func TestClient_EncryptSerializationError(t *testing.T) {
	c := newReadyClient(t)
	_, err := c.Encrypt(context.Background(), map[string]any{"ch": make(chan int)})
	assert.ErrorIs(t, err, crypto.ErrSerialization)

	var se *crypto.SerializationError
	assert.True(t, errors.As(err, &se))
}

func TestClient_CollectionKeys(t *testing.T) {
	ctx := context.Background()
	doc := map[string]any{
		"default":     keyPair(1, 2),
		"collections": map[string]any{"tabs": keyPair(3, 4)},
		"collection":  "crypto",
		"id":          "keys",
	}
	c := NewClient(WithLogger(quietLogger()))
	defer c.Destroy()
	assert.Nil(t, c.CollectionKeyNames())
	require.NoError(t, c.SetKeys(ctx, fixtureKB, wrapKeys(t, fixtureKB, doc)))
	assert.Equal(t, []string{"tabs"}, c.CollectionKeyNames())

	def, err := c.SelectKeyBundle()
	require.NoError(t, err)
	tabs, err := c.SelectCollectionKeyBundle("tabs")
	require.NoError(t, err)
	history, err := c.SelectCollectionKeyBundle("history")
	require.NoError(t, err)
	assert.NotSame(t, def, tabs)
	assert.Same(t, def, history)

	rec, err := c.Encrypt(ctx, map[string]any{"id": "tab1"}, WithCollection("tabs"))
	require.NoError(t, err)

	_, err = c.Decrypt(ctx, rec)
	assert.ErrorIs(t, err, crypto.ErrIntegrity, "default key must not verify a tabs record")
	_, err = c.Decrypt(ctx, rec, WithCollection("history"))
	assert.ErrorIs(t, err, crypto.ErrIntegrity)

	v, err := c.Decrypt(ctx, rec, WithCollection("tabs"))
	require.NoError(t, err)
	assert.Equal(t, "tab1", v.(map[string]any)["id"])
}

func TestClient_ContextCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c := NewClient(WithLogger(quietLogger()))
	defer c.Destroy()
	err := c.SetKeys(ctx, fixtureKB, fixtureKeys())
	assert.ErrorIs(t, err, context.Canceled)

	ready := newReadyClient(t)
	_, err = ready.Decrypt(ctx, fixtureHistory(t))
	assert.ErrorIs(t, err, context.Canceled)
	_, err = ready.Encrypt(ctx, "x")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestClient_Destroy(t *testing.T) {
	c := newReadyClient(t)
	c.Destroy()
	assert.Equal(t, StateUninitialized, c.State())

	_, err := c.Decrypt(context.Background(), fixtureHistory(t))
	assert.ErrorIs(t, err, crypto.ErrState)

	c.Destroy()
}

func TestClient_Concurrent(t *testing.T) {
	c := newReadyClient(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				rec, err := c.Encrypt(ctx, map[string]int{"i": i, "j": j})
				if !assert.NoError(t, err) {
					return
				}
				var out map[string]int
				if assert.NoError(t, c.DecryptInto(ctx, rec, &out)) {
					assert.Equal(t, i, out["i"])
				}
			}
		}()
	}
	// Re-keying with the same keys while records are in flight.
	wg.Add(1)
	go func() {
		defer wg.Done()
		for j := 0; j < 3; j++ {
			assert.NoError(t, c.SetKeys(ctx, fixtureKB, fixtureKeys()))
		}
	}()
	wg.Wait()
	assert.Equal(t, StateReady, c.State())
}

func TestClient_LogsNoSecrets(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	c := NewClient(WithLogger(logger), WithID("client-under-test"))
	defer c.Destroy()
	ctx := context.Background()

	require.NoError(t, c.SetKeys(ctx, fixtureKB, fixtureKeys()))
	_, err := c.Decrypt(ctx, fixtureHistory(t), WithCollection("history"))
	require.NoError(t, err)
	bad := fixtureHistory(t)
	bad.HMAC = "deadbeef"
	_, _ = c.Decrypt(ctx, bad, WithCollection("history"))

	out := buf.String()
	assert.Contains(t, out, `"client_id":"client-under-test"`)
	assert.Contains(t, out, `"collection":"history"`)
	assert.Contains(t, out, "record integrity check failed")
	assert.NotContains(t, out, fixtureKB)
	assert.NotContains(t, out, fixtureHistoryTitle)
	assert.NotContains(t, out, "/XKu2GgjfQfrqoIJOQxdBkO")
}

func TestClient_ID(t *testing.T) {
	a := NewClient(WithLogger(quietLogger()))
	b := NewClient(WithLogger(quietLogger()))
	assert.NotEmpty(t, a.ID())
	assert.NotEqual(t, a.ID(), b.ID())
	assert.Equal(t, "fixed", NewClient(WithID("fixed")).ID())
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "Uninitialized", StateUninitialized.String())
	assert.Equal(t, "MainKeySet", StateMainKeySet.String())
	assert.Equal(t, "Ready", StateReady.String())
	assert.Equal(t, "Failed", StateFailed.String())
	assert.Equal(t, "Unknown", State(42).String())
}
