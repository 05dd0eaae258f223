package vbuf

import (
	"github.com/dshills/vbuf/internal/engine/cache"
	"github.com/dshills/vbuf/internal/logging"
)

// DefaultCacheCapacity is the cache size used when none is configured.
const DefaultCacheCapacity = 16 * 1024 * 1024

// Option is a functional option for configuring a Buffer.
type Option func(*options)

type options struct {
	cacheCapacity int64
	blockSize     int64
	maxRetained   int
	logger        *logging.Logger
	id            string
}

func defaultOptions() options {
	return options{
		cacheCapacity: DefaultCacheCapacity,
		blockSize:     cache.DefaultBlockSize,
	}
}

// WithCacheCapacity sets the cache size in bytes. Zero disables caching.
func WithCacheCapacity(bytes int64) Option {
	return func(o *options) {
		if bytes >= 0 {
			o.cacheCapacity = bytes
		}
	}
}

// WithCacheBlockSize sets the alignment of regions pulled into the cache.
func WithCacheBlockSize(n int64) Option {
	return func(o *options) {
		if n > 0 {
			o.blockSize = n
		}
	}
}

// WithMaxRetainedEdits caps the edit history kept while no cursor is live.
// Zero keeps all of it.
func WithMaxRetainedEdits(n int) Option {
	return func(o *options) {
		if n >= 0 {
			o.maxRetained = n
		}
	}
}

// WithLogger sets the logger used for mutation and pruning diagnostics.
func WithLogger(l *logging.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// WithID sets the buffer identifier reported by ID and attached to logs.
func WithID(id string) Option {
	return func(o *options) {
		o.id = id
	}
}
