package synccrypto

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/jmcleod/fxsync/crypto"
	"github.com/jmcleod/fxsync/key"
	"github.com/stretchr/testify/require"
)

// Published test vectors for a real Sync account.
const (
	fixtureKB = "85c4f8c1d8e3e2186824c127af786891dd03c6e05b1b45f28f7181211bf2affb"

	fixtureKeysCiphertext = "PP5yNUYwJJoLcsL5o85i6RZfvanYDrwtChDD/LdKTZ8JOLubZ9DyRv3HMetSkbhL3HLvVm/FJ1Z4F2Z6IKQCxAc5dNnLsBIUUxhOHLbT0x9/jfnqZ8fLtlbkogI3ZlNvbc8iUF1aX+boe0Pv43vM0VvzxrnJDYzZ2a6jm9nbzUn0ldV9sv6vuvGHE6dANnRkZ3wA/q0q8UvjdwpzXBixAw=="
	fixtureKeysIV         = "FmosM+XBNy81/9oEAgI4Uw=="
	fixtureKeysHMAC       = "01a816e4577c6cf3f97b66b4382d0a3e7e9178c75a3d38ed9ac8ad6397c2ecce"

	fixtureHistoryPayload = `{"ciphertext":"o/VpkqMj1tlT8t2youwsS2FgvQeonoHxqjGsRTu1+4swfyBq/QsnKfgOOMmDIXZiPC3hOCNUlf/NtQiEe55hzJZEKLBshaLfXotai6KrprwrmykfiXnwn73n+nYNs8BXL5awDHoaJToyFgF4PYokl7mwN7YC2xFiPgwO7Z2u/8r5RfnPV9MoafqvlvUkW+Tqs+QHeHS/iuSA0P2h/j5ynt9v4xDWLVfEMce0KOKHQ5Qj7BmEPAieWP1trkkDmTdVi2euWrs+fuG4C6PgY4A2j2DbNLVIloqpDVkqM2fgh0YOM9L2NC/uiKEb1Ynr2Fos","IV":"kXL3hb11ltD+Jl0YFk+PlQ==","hmac":"cb727efe7a3f0307921cecbd1a97c03f06a4d75c42026089494d84fcf92dbff9"}`

	fixtureHistoryID    = "_9sCUbahs0ay"
	fixtureHistoryURI   = "https://developer.mozilla.org/en-US/docs/Web/JavaScript/Reference/Global_Objects/Object/proto"
	fixtureHistoryTitle = "Object.prototype.__proto__ - JavaScript | MDN"
	fixtureHistoryDate  = "1439366063808983"
)

type historyVisit struct {
	Date int64 `json:"date"`
	Type int   `json:"type"`
}

type historyRecord struct {
	ID      string         `json:"id"`
	HistURI string         `json:"histUri"`
	Title   string         `json:"title"`
	Visits  []historyVisit `json:"visits"`
}

func fixtureKeys() WrappedKeyBundle {
	return WrappedKeyBundle{
		Ciphertext: fixtureKeysCiphertext,
		IV:         fixtureKeysIV,
		HMAC:       fixtureKeysHMAC,
	}
}

func fixtureHistory(t *testing.T) *EncryptedRecord {
	t.Helper()
	rec, err := ParseEncryptedRecord([]byte(fixtureHistoryPayload))
	require.NoError(t, err)
	return rec
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
}

func newReadyClient(t *testing.T, opts ...Option) *Client {
	t.Helper()
	c := NewClient(append([]Option{WithLogger(quietLogger())}, opts...)...)
	t.Cleanup(c.Destroy)
	require.NoError(t, c.SetKeys(context.Background(), fixtureKB, fixtureKeys()))
	return c
}

// wrapKeys builds a crypto/keys record for doc, encrypted and signed with
// the main sync key derived from kBHex. A []byte doc is used verbatim.
func wrapKeys(t *testing.T, kBHex string, doc any) WrappedKeyBundle {
	t.Helper()
	kB, err := crypto.BytesFromHex(kBHex)
	require.NoError(t, err)
	main, err := key.FromSyncKey(kB)
	require.NoError(t, err)
	defer main.Destroy()

	plaintext, ok := doc.([]byte)
	if !ok {
		plaintext, err = json.Marshal(doc)
		require.NoError(t, err)
	}
	iv := bytes.Repeat([]byte{0x24}, 16)
	ct, err := main.EncryptCBC(iv, plaintext)
	require.NoError(t, err)
	ctB64 := crypto.Base64FromBytes(ct)
	tag, err := main.Sign([]byte(ctB64))
	require.NoError(t, err)
	return WrappedKeyBundle{
		Ciphertext: ctB64,
		IV:         crypto.Base64FromBytes(iv),
		HMAC:       crypto.HexFromBytes(tag),
	}
}

func keyPair(aes, hmac byte) []string {
	return []string{
		crypto.Base64FromBytes(bytes.Repeat([]byte{aes}, 32)),
		crypto.Base64FromBytes(bytes.Repeat([]byte{hmac}, 32)),
	}
}
