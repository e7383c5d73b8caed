package synccrypto

import (
	"io"
	"log/slog"
)

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the structured logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithRandReader sets the source of IVs. Defaults to crypto/rand.Reader.
func WithRandReader(r io.Reader) Option {
	return func(c *Client) {
		c.rand = r
	}
}

// WithID sets the client instance ID used in log lines. Defaults to a random UUID.
func WithID(id string) Option {
	return func(c *Client) {
		c.id = id
	}
}

// RecordOption configures a single Encrypt or Decrypt call.
type RecordOption func(*recordOptions)

type recordOptions struct {
	collection string
}

// WithCollection selects the key bundle for the named collection. Without
// it, or when crypto/keys has no entry for the collection, the default
// bundle is used.
func WithCollection(name string) RecordOption {
	return func(o *recordOptions) {
		o.collection = name
	}
}

func applyRecordOptions(opts []RecordOption) recordOptions {
	var o recordOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
