// Package directorytest provides in-memory test doubles for the
// directory stack: a pure in-memory Directory for layers above the
// network leaf, and a network.RequestGenerator double that records every
// request it issues so tests can assert on coalescing behavior (the
// Request Composer in package chunked) without a real transport.
package directorytest

import (
	"context"
	"fmt"
	"sync"

	"github.com/sumadir/sumadir/core/directory"
	"github.com/sumadir/sumadir/core/directory/network"
	"github.com/sumadir/sumadir/core/obytes"
)

// MemDirectory is an in-memory directory.Writable backed by a plain map.
// It is the stand-in for "the wrapped directory" in tests of caching,
// chunked, and hotcache that don't need real transport semantics.
type MemDirectory struct {
	mu    sync.Mutex
	files map[string][]byte

	// ReadHook, if set, is invoked on every ReadBytes call before the read
	// is served, so tests can inject failures or count calls.
	ReadHook func(path string, r directory.Range)
}

// NewMemDirectory creates an empty in-memory directory.
func NewMemDirectory() *MemDirectory {
	return &MemDirectory{files: make(map[string][]byte)}
}

// Seed populates path with data directly, bypassing generation tracking -
// for building test fixtures before wrapping in higher layers.
func (d *MemDirectory) Seed(path string, data []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.files[path] = append([]byte(nil), data...)
}

func (d *MemDirectory) GetFileHandle(_ context.Context, path string) (directory.FileHandle, error) {
	d.mu.Lock()
	data, ok := d.files[path]
	d.mu.Unlock()
	if !ok {
		return nil, directory.NotExist(path)
	}
	return &memHandle{dir: d, path: path, length: uint64(len(data))}, nil
}

func (d *MemDirectory) Exists(_ context.Context, path string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.files[path]
	return ok, nil
}

func (d *MemDirectory) AtomicRead(ctx context.Context, path string) ([]byte, error) {
	return directory.AtomicReadFileHandle(ctx, d, path)
}

func (d *MemDirectory) OpenWrite(_ context.Context, path string) (directory.WriteCloser, error) {
	return &memWriter{dir: d, path: path}, nil
}

func (d *MemDirectory) AtomicWrite(_ context.Context, path string, data []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.files[path] = append([]byte(nil), data...)
	return nil
}

func (d *MemDirectory) Delete(_ context.Context, path string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.files[path]; !ok {
		return directory.NotExist(path)
	}
	delete(d.files, path)
	return nil
}

type memHandle struct {
	dir    *MemDirectory
	path   string
	length uint64
}

func (h *memHandle) Len() uint64 { return h.length }

func (h *memHandle) ReadBytes(_ context.Context, r directory.Range) (directory.ReadResult, error) {
	if h.dir.ReadHook != nil {
		h.dir.ReadHook(h.path, r)
	}
	if r.Empty() {
		return obytes.Empty(), nil
	}
	h.dir.mu.Lock()
	data, ok := h.dir.files[h.path]
	h.dir.mu.Unlock()
	if !ok {
		return directory.ReadResult{}, directory.NotExist(h.path)
	}
	if r.End > uint64(len(data)) {
		return directory.ReadResult{}, &directory.ErrCacheContractViolation{
			Reason: fmt.Sprintf("read range %d..%d past file end %d for %s", r.Start, r.End, len(data), h.path),
		}
	}
	return obytes.New(append([]byte(nil), data[r.Start:r.End]...)), nil
}

type memWriter struct {
	dir  *MemDirectory
	path string
	buf  []byte
}

func (w *memWriter) Write(p []byte) (int, error) {
	w.buf = append(w.buf, p...)
	return len(p), nil
}

func (w *memWriter) Close() error {
	w.dir.mu.Lock()
	defer w.dir.mu.Unlock()
	w.dir.files[w.path] = w.buf
	return nil
}

// RecordedRequest is one request observed by a RecordingGenerator.
type RecordedRequest struct {
	File  string
	Range directory.Range
}

// RecordingGenerator wraps another network.RequestGenerator and records
// every (file, range) it is asked to generate a request for, so tests can
// assert on what the layers above actually requested - in particular,
// that chunked.Directory's Request Composer merged contiguous chunk
// misses into one call instead of issuing one per chunk.
type RecordingGenerator struct {
	under network.RequestGenerator

	mu       sync.Mutex
	requests []RecordedRequest

	// FailAll, if non-nil, is returned as Generate's error for every call
	// instead of delegating - simulates a downstream outage so tests can
	// prove a layer served a read entirely from cache.
	FailAll error
}

// NewRecordingGenerator wraps under for request recording.
func NewRecordingGenerator(under network.RequestGenerator) *RecordingGenerator {
	return &RecordingGenerator{under: under}
}

func (g *RecordingGenerator) Generate(file string, r directory.Range) (network.Request, error) {
	g.mu.Lock()
	g.requests = append(g.requests, RecordedRequest{File: file, Range: r})
	g.mu.Unlock()

	if g.FailAll != nil {
		return nil, g.FailAll
	}
	return g.under.Generate(file, r)
}

// Requests returns a copy of every request observed so far.
func (g *RecordingGenerator) Requests() []RecordedRequest {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]RecordedRequest, len(g.requests))
	copy(out, g.requests)
	return out
}

// Reset clears recorded requests.
func (g *RecordingGenerator) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.requests = nil
}

// StaticGenerator serves fixed byte contents for (file, range) pairs
// directly from an in-memory map, with no transport involved - the
// simplest possible network.RequestGenerator for unit tests.
type StaticGenerator struct {
	mu    sync.Mutex
	files map[string][]byte
}

// NewStaticGenerator creates a generator serving files out of the given
// map. The map is copied defensively.
func NewStaticGenerator(files map[string][]byte) *StaticGenerator {
	cp := make(map[string][]byte, len(files))
	for k, v := range files {
		cp[k] = append([]byte(nil), v...)
	}
	return &StaticGenerator{files: cp}
}

func (g *StaticGenerator) Generate(file string, r directory.Range) (network.Request, error) {
	g.mu.Lock()
	data, ok := g.files[file]
	g.mu.Unlock()
	if !ok {
		return nil, network.ErrRemoteNotFound
	}
	if r.End > uint64(len(data)) {
		return nil, fmt.Errorf("directorytest: range %d..%d past end %d for %s", r.Start, r.End, len(data), file)
	}
	return staticRequest(append([]byte(nil), data[r.Start:r.End]...)), nil
}

type staticRequest []byte

func (r staticRequest) Send(context.Context) ([]byte, error) {
	return []byte(r), nil
}

var (
	_ directory.Writable       = (*MemDirectory)(nil)
	_ network.RequestGenerator = (*RecordingGenerator)(nil)
	_ network.RequestGenerator = (*StaticGenerator)(nil)
)
