package sumadir

import (
	"github.com/sumadir/sumadir/core/directory"
	"github.com/sumadir/sumadir/core/directory/hotcache"
	"github.com/sumadir/sumadir/core/directory/network"
)

// Re-exported sentinel errors, so callers can use errors.Is against the
// root package without importing the core subpackages directly.
var (
	// ErrFileDoesNotExist is returned (wrapped) when a requested path is
	// absent from the index's fixed file set, or the remote store answers
	// a range request with 404.
	ErrFileDoesNotExist = directory.ErrFileDoesNotExist

	// ErrReadOnly is returned by write operations against a directory that
	// does not support them.
	ErrReadOnly = directory.ErrReadOnly
)

// RemoteStatusError is returned when the remote store answers a range
// request with a non-2xx, non-404 status.
type RemoteStatusError = network.RemoteStatusError

// DataCorruption is returned when a hotcache blob fails to parse.
type DataCorruption = hotcache.DataCorruption

// CacheContractViolation indicates an internal invariant was broken: a
// cache put of the wrong length, a read past file end, or a malformed
// range. These indicate a bug in a caller or a RequestGenerator, not an
// operational failure.
type CacheContractViolation = directory.ErrCacheContractViolation
