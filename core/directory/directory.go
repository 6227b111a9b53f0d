// Package directory defines the Directory/FileHandle contract shared by
// every layer of the remote-readable index directory stack: the leaf
// network directory, the byte-range caching directory, the chunked
// caching directory, and the static hotcache directory all implement this
// same interface and compose by delegation, not inheritance.
package directory

import (
	"context"
	"errors"
	"fmt"

	"github.com/sumadir/sumadir/core/obytes"
)

// OwnedBytes is the shared immutable buffer type returned by every read in
// the stack. It is a type alias for obytes.Bytes so that layers can return
// either name interchangeably.
type OwnedBytes = obytes.Bytes

// Range is a half-open byte interval [Start, End). Empty ranges (Start ==
// End) are legal and must always be served without delegating to a lower
// layer.
type Range struct {
	Start uint64
	End   uint64
}

// Len returns the number of bytes covered by r.
func (r Range) Len() uint64 {
	if r.End <= r.Start {
		return 0
	}
	return r.End - r.Start
}

// Empty reports whether r covers no bytes.
func (r Range) Empty() bool {
	return r.End <= r.Start
}

// Contains reports whether r fully contains other.
func (r Range) Contains(other Range) bool {
	return r.Start <= other.Start && other.End <= r.End
}

// Touches reports whether r and other share at least one byte, or touch
// at an endpoint (used for interval-merge decisions in bytecache).
func (r Range) Touches(other Range) bool {
	return r.Start <= other.End && other.Start <= r.End
}

// ErrFileDoesNotExist is returned by GetFileHandle, Exists-adjacent calls,
// and AtomicRead when the path is not present in a Directory's fixed file
// set.
var ErrFileDoesNotExist = errors.New("directory: file does not exist")

// ErrReadOnly is returned by the write operations of package caching's
// Directory when the directory it wraps does not implement Writable.
var ErrReadOnly = errors.New("directory: read-only")

// ErrCacheContractViolation indicates an internal invariant was broken by
// a caller: a Put of the wrong length, a read past EOF, or an unaligned
// range. These are programmer errors, not operational ones; callers
// should not expect to recover from them in production use. A put of the
// wrong length (package bytecache) panics with this value; a read past the
// end of a file (packages network and caching) returns it as an error.
type ErrCacheContractViolation struct {
	Reason string
}

func (e *ErrCacheContractViolation) Error() string {
	return fmt.Sprintf("directory: cache contract violation: %s", e.Reason)
}

// NotExist wraps path into an ErrFileDoesNotExist-compatible error that
// still reports the offending path via %w-compatible Unwrap.
func NotExist(path string) error {
	return &fileDoesNotExistError{path: path}
}

type fileDoesNotExistError struct {
	path string
}

func (e *fileDoesNotExistError) Error() string {
	return fmt.Sprintf("directory: file does not exist: %s", e.path)
}

func (e *fileDoesNotExistError) Unwrap() error {
	return ErrFileDoesNotExist
}

// FileHandle is an opaque, cheaply shareable reference to one file inside
// a Directory. Len is constant across the handle's lifetime; ReadBytes
// must return exactly r.Len() bytes or fail.
type FileHandle interface {
	// Len returns the file's length in bytes. Constant for the handle's
	// lifetime even if the underlying file is later rewritten (a rewrite
	// produces a new generation observed only by new handles — see
	// package caching).
	Len() uint64

	// ReadBytes returns exactly r.Len() bytes, or an error. Identical
	// (file, r) pairs must return byte-identical results across calls.
	// The context may be used to cancel in-flight remote fetches;
	// cancellation must not corrupt any cache - partially fetched bytes
	// are simply discarded.
	ReadBytes(ctx context.Context, r Range) (ReadResult, error)
}

// ReadResult is returned by FileHandle.ReadBytes. It is defined as an
// alias point so every layer returns the same owned-bytes type without
// every package importing obytes directly by name in its public API
// (kept as a type alias to avoid an import cycle tax on callers).
type ReadResult = OwnedBytes

// Directory is a logical read-only (or write-capable, for package
// caching's wrapped directory) namespace of files addressed by relative
// path. The file set and each file's length are fixed for the lifetime of
// an opened Directory snapshot.
type Directory interface {
	// GetFileHandle returns a handle for path, or ErrFileDoesNotExist (as
	// NotExist(path)) if path is unknown.
	GetFileHandle(ctx context.Context, path string) (FileHandle, error)

	// Exists reports whether path is present, without opening it.
	Exists(ctx context.Context, path string) (bool, error)

	// AtomicRead reads the entire file in one call. The default
	// definition is GetFileHandle(path).ReadBytes(0..Len()); layers that
	// hold the full contents already (e.g. hotcache) may shortcut this.
	AtomicRead(ctx context.Context, path string) ([]byte, error)
}

// Writable is implemented by directories that support mutation (in this
// design, package caching's Directory and the directory it wraps - every
// composed read-only layer above it does not implement this interface at
// all, which is the Go idiom for "writability is a separate capability"
// called for in spec.md §9 design notes, rather than every layer
// returning ErrReadOnly from always-present methods).
type Writable interface {
	Directory

	// OpenWrite truncates (or creates) path for writing and returns a
	// WriteCloser. Package caching's Directory bumps the file's
	// generation when this succeeds, so that any handle obtained from it
	// afterward observes the new generation.
	OpenWrite(ctx context.Context, path string) (WriteCloser, error)

	// AtomicWrite replaces path's entire contents in one call. Package
	// caching's Directory bumps the file's generation when it succeeds.
	AtomicWrite(ctx context.Context, path string, data []byte) error

	// Delete removes path. Package caching's Directory bumps the file's
	// generation when it succeeds, so stale cached handles never
	// resurrect it.
	Delete(ctx context.Context, path string) error
}

// WriteCloser is returned by Writable.OpenWrite.
type WriteCloser interface {
	Write(p []byte) (int, error)
	Close() error
}

// AtomicReadFileHandle is the default AtomicRead implementation shared by
// every layer that has no one-shot optimization available.
func AtomicReadFileHandle(ctx context.Context, d Directory, path string) ([]byte, error) {
	h, err := d.GetFileHandle(ctx, path)
	if err != nil {
		return nil, err
	}
	result, err := h.ReadBytes(ctx, Range{Start: 0, End: h.Len()})
	if err != nil {
		return nil, err
	}
	return result.Bytes(), nil
}
