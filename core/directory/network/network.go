// Package network implements the leaf of the directory stack: a
// Directory backed by a pluggable RequestGenerator that turns
// (file, range) reads into requests against a remote byte store (an HTTP
// range server, an IPFS gateway, or any other backend a caller wires up).
//
// The file set and lengths are fixed at construction time via a
// map[path]length; network never probes the remote for sizes. It does
// not cache, coalesce, or split requests - one ReadBytes call issues
// exactly one request. All caching and coalescing policy lives in the
// layers above (package caching, package chunked).
package network

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/sumadir/sumadir/core/directory"
	"github.com/sumadir/sumadir/core/obytes"
)

// ErrRemoteNotFound is returned (wrapped) when the remote store answers a
// range request with 404. Per spec.md §4.2 it is surfaced to callers as
// directory.ErrFileDoesNotExist, not as a distinct transport failure,
// since from the caller's point of view a gone object is indistinguishable
// from one that was never there.
var ErrRemoteNotFound = errors.New("network: remote object not found")

// RemoteStatusError is returned when the remote store answers with any
// non-2xx status other than 404.
type RemoteStatusError struct {
	Code int
	URL  string
	Err  error // optional wrapped transport error
}

func (e *RemoteStatusError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("network: remote status %d for %s: %v", e.Code, e.URL, e.Err)
	}
	return fmt.Sprintf("network: remote status %d for %s", e.Code, e.URL)
}

func (e *RemoteStatusError) Unwrap() error {
	return e.Err
}

// Request is produced by a RequestGenerator for one (file, range) pair.
// Send must return exactly range.Len() bytes or an error.
type Request interface {
	// Send performs the request and returns the raw bytes.
	Send(ctx context.Context) ([]byte, error)
}

// RequestGenerator turns a (file, range) pair into a Request. Range.Len()
// is always > 0 - network never calls Generate for an empty range, since
// empty ranges are short-circuited before reaching the leaf.
type RequestGenerator interface {
	Generate(file string, r directory.Range) (Request, error)
}

// Option configures a Directory.
type Option func(*Directory)

// WithLogger sets the structured logger used for transport diagnostics.
// Defaults to a discard logger.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Directory) {
		d.logger = logger
	}
}

// Directory is the leaf of the stack: translates reads into external
// requests via the injected RequestGenerator. It holds no mutable state
// beyond the fixed file-size map, so it is trivially safe for concurrent
// use.
type Directory struct {
	fileSizes map[string]uint64
	gen       RequestGenerator
	logger    *slog.Logger
}

// New creates a network Directory over a fixed set of files. fileSizes is
// copied, so later changes to the caller's map have no effect.
func New(fileSizes map[string]uint64, gen RequestGenerator, opts ...Option) (*Directory, error) {
	if gen == nil {
		return nil, errors.New("network: request generator is nil")
	}
	sizes := make(map[string]uint64, len(fileSizes))
	for k, v := range fileSizes {
		sizes[k] = v
	}
	d := &Directory{fileSizes: sizes, gen: gen}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

func (d *Directory) log() *slog.Logger {
	if d.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return d.logger
}

// GetFileHandle implements directory.Directory.
func (d *Directory) GetFileHandle(_ context.Context, path string) (directory.FileHandle, error) {
	size, ok := d.fileSizes[path]
	if !ok {
		return nil, directory.NotExist(path)
	}
	return &fileHandle{dir: d, path: path, size: size}, nil
}

// Exists implements directory.Directory.
func (d *Directory) Exists(_ context.Context, path string) (bool, error) {
	_, ok := d.fileSizes[path]
	return ok, nil
}

// AtomicRead implements directory.Directory.
func (d *Directory) AtomicRead(ctx context.Context, path string) ([]byte, error) {
	return directory.AtomicReadFileHandle(ctx, d, path)
}

// FileSizes returns a defensive copy of the fixed file-size map, used by
// the layers above to avoid a probe read purely to learn lengths.
func (d *Directory) FileSizes() map[string]uint64 {
	out := make(map[string]uint64, len(d.fileSizes))
	for k, v := range d.fileSizes {
		out[k] = v
	}
	return out
}

type fileHandle struct {
	dir  *Directory
	path string
	size uint64
}

func (h *fileHandle) Len() uint64 { return h.size }

func (h *fileHandle) ReadBytes(ctx context.Context, r directory.Range) (directory.ReadResult, error) {
	if r.Empty() {
		return obytes.Empty(), nil
	}
	if r.End > h.size {
		return directory.ReadResult{}, &directory.ErrCacheContractViolation{
			Reason: fmt.Sprintf("read range %d..%d past file end %d for %s", r.Start, r.End, h.size, h.path),
		}
	}

	req, err := h.dir.gen.Generate(h.path, r)
	if err != nil {
		return directory.ReadResult{}, fmt.Errorf("network: generate request for %s %d..%d: %w", h.path, r.Start, r.End, err)
	}

	data, err := req.Send(ctx)
	if err != nil {
		if errors.Is(err, ErrRemoteNotFound) {
			h.dir.log().Warn("remote object not found", "path", h.path)
			return directory.ReadResult{}, directory.NotExist(h.path)
		}
		h.dir.log().Error("remote range request failed", "path", h.path, "start", r.Start, "end", r.End, "err", err)
		return directory.ReadResult{}, fmt.Errorf("network: read %s %d..%d: %w", h.path, r.Start, r.End, err)
	}
	if uint64(len(data)) != r.Len() {
		return directory.ReadResult{}, &directory.ErrCacheContractViolation{
			Reason: fmt.Sprintf("request for %s %d..%d returned %d bytes, want %d", h.path, r.Start, r.End, len(data), r.Len()),
		}
	}
	return obytes.New(data), nil
}

var (
	_ directory.Directory  = (*Directory)(nil)
	_ directory.FileHandle = (*fileHandle)(nil)
)
