package crypto

import (
	"errors"
	"fmt"

	"github.com/jmcleod/fxsync/internal/util"
)

// Error kinds. Every error returned by this module matches exactly one of
// these through errors.Is.
var (
	// ErrFormat indicates malformed hex, base64 or JSON input.
	ErrFormat = errors.New("format error")
	// ErrIntegrity indicates an HMAC that did not verify.
	ErrIntegrity = errors.New("integrity error")
	// ErrCrypto indicates a primitive rejected a key or an operation.
	ErrCrypto = errors.New("crypto error")
	// ErrState indicates an operation invoked before SetKeys succeeded.
	ErrState = errors.New("state error")
	// ErrSerialization indicates a record that could not be encoded as JSON.
	ErrSerialization = errors.New("serialization error")
)

// Format causes, reachable through errors.Is on a *FormatError.
var (
	ErrOddLength     = util.ErrOddLength
	ErrInvalidHex    = util.ErrInvalidHex
	ErrBase64Length  = util.ErrBase64Length
	ErrInvalidBase64 = util.ErrInvalidBase64
	ErrNotJSON       = errors.New("not JSON")
)

// FormatError reports malformed input. Field names the offending input,
// e.g. "cryptoKeys.hmac" or "payload.IV".
type FormatError struct {
	Field  string
	Reason string
	Err    error
}

func (e *FormatError) Error() string {
	msg := e.Reason
	if e.Field != "" {
		msg = e.Field + " " + msg
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *FormatError) Is(target error) bool { return target == ErrFormat }

func (e *FormatError) Unwrap() error { return e.Err }

// IntegrityError reports a failed HMAC verification.
type IntegrityError struct {
	Msg string
}

func (e *IntegrityError) Error() string { return e.Msg }

func (e *IntegrityError) Is(target error) bool { return target == ErrIntegrity }

// CryptoError reports a failure inside a cryptographic primitive.
type CryptoError struct {
	Op  string
	Err error
}

func (e *CryptoError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return e.Op
}

func (e *CryptoError) Is(target error) bool { return target == ErrCrypto }

func (e *CryptoError) Unwrap() error { return e.Err }

// StateError reports an operation attempted before the client was ready.
type StateError struct {
	Op string
}

func (e *StateError) Error() string {
	return fmt.Sprintf("%s: no key bundle found - did you call SetKeys?", e.Op)
}

func (e *StateError) Is(target error) bool { return target == ErrState }

// SerializationError reports a record that could not be JSON-encoded.
type SerializationError struct {
	Err error
}

func (e *SerializationError) Error() string {
	return fmt.Sprintf("record cannot be JSON-stringified: %v", e.Err)
}

func (e *SerializationError) Is(target error) bool { return target == ErrSerialization }

func (e *SerializationError) Unwrap() error { return e.Err }
