package sumadir

import (
	"log/slog"
	"net/http"

	"github.com/sumadir/sumadir/core/directory/network"
)

// RequestTemplate describes how to turn a (file, range) pair into an HTTP
// range request. It is a thin re-export of network.RequestTemplate so
// callers never need to import the core subpackages directly just to
// configure Open.
type RequestTemplate = network.RequestTemplate

// CacheCapacity selects the chunk cache's eviction policy: either
// Unlimited (no eviction, used for small or fully-hotcached indexes) or
// InBytes(n) (LRU bounded to n bytes). The zero value is Unlimited.
type CacheCapacity struct {
	bytes uint64
}

// Unlimited returns a CacheCapacity that never evicts.
func Unlimited() CacheCapacity {
	return CacheCapacity{}
}

// InBytes returns a CacheCapacity bounded to n bytes of cached chunk
// data.
func InBytes(n uint64) CacheCapacity {
	return CacheCapacity{bytes: n}
}

// RemoteEngineConfig describes a single index's remote file set and how
// to read it, as accepted by Open.
type RemoteEngineConfig struct {
	// FileSizes gives every file in the index its fixed byte length.
	// Files absent from this map are treated as not existing.
	FileSizes map[string]uint64

	// ChunkSize is the chunked cache's fixed chunk granularity, in bytes.
	// Must be a power of two; zero uses chunked.DefaultChunkSize (1 MiB).
	ChunkSize uint64

	// CacheCapacity bounds the chunk cache. The zero value is equivalent
	// to Unlimited().
	CacheCapacity CacheCapacity

	// HotcacheBytes, if non-empty, is a precomputed hotcache blob built by
	// hcbuild.Build and loaded via hotcache.Load ahead of the chunked
	// layer.
	HotcacheBytes []byte

	// Request describes how to build the HTTP range request for a
	// (file, range) pair.
	Request RequestTemplate
}

// Option configures Open beyond what RemoteEngineConfig covers -
// transport and logging knobs that don't belong in the wire-level
// config.
type Option func(*openOptions)

type openOptions struct {
	client *http.Client
	logger *slog.Logger
}

// WithHTTPClient overrides the *http.Client used for range requests.
// Defaults to http.DefaultClient.
func WithHTTPClient(client *http.Client) Option {
	return func(o *openOptions) {
		o.client = client
	}
}

// WithLogger sets the *slog.Logger passed down to every layer of the
// composed directory stack. Defaults to a discard logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *openOptions) {
		o.logger = l
	}
}
