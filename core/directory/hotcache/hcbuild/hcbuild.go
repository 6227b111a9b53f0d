// Package hcbuild builds the byte-exact hotcache blob consumed by
// package hotcache. The build procedure (spec.md §4.7) wraps the
// underlying directory in a read-recording proxy, lets a caller drive an
// arbitrary warmup pass (typically: open the index and touch every
// field's term dictionary), then serializes the recorded byte ranges -
// filtered by a configurable size/suffix heuristic - into the wire
// format HotDirectory understands.
package hcbuild

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/fxamacker/cbor/v2"

	"github.com/sumadir/sumadir/core/directory"
)

// DefaultMaxInlineBytes is the default "too big to be worth
// precomputing" threshold: an interval at or above this size is only
// inlined if its file also matches one of DefaultHotSuffixes.
const DefaultMaxInlineBytes = 10 * 1 << 20 // 10 MB

// DefaultHotSuffixes names the file-path suffixes always worth inlining
// regardless of size, matching the store/term dictionaries a query
// touches on every open.
var DefaultHotSuffixes = []string{"store", "term"}

// Options configures Build. The zero value uses DefaultMaxInlineBytes
// and DefaultHotSuffixes.
type Options struct {
	MaxInlineBytes uint64
	HotSuffixes    []string

	// Logger receives per-file inline/skip decisions during Build.
	// Defaults to a discard logger.
	Logger *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.MaxInlineBytes == 0 {
		o.MaxInlineBytes = DefaultMaxInlineBytes
	}
	if o.HotSuffixes == nil {
		o.HotSuffixes = DefaultHotSuffixes
	}
	if o.Logger == nil {
		o.Logger = slog.New(slog.DiscardHandler)
	}
	return o
}

func (o Options) alwaysHot(path string) bool {
	for _, suf := range o.HotSuffixes {
		if strings.HasSuffix(path, suf) {
			return true
		}
	}
	return false
}

// recordedRead is one (path, range) observation made during the warmup
// pass.
type recordedRead struct {
	path string
	r    directory.Range
}

// DebugProxyDirectory wraps a directory.Directory and records every read
// it serves, for later replay into a hotcache build. It is read-only:
// writes are rejected even if the wrapped directory supports them, since
// a build pass must not mutate the index it is profiling.
type DebugProxyDirectory struct {
	under directory.Directory

	mu    sync.Mutex
	reads []recordedRead
}

// NewDebugProxyDirectory wraps under for read recording.
func NewDebugProxyDirectory(under directory.Directory) *DebugProxyDirectory {
	return &DebugProxyDirectory{under: under}
}

// GetFileHandle implements directory.Directory.
func (p *DebugProxyDirectory) GetFileHandle(ctx context.Context, path string) (directory.FileHandle, error) {
	h, err := p.under.GetFileHandle(ctx, path)
	if err != nil {
		return nil, err
	}
	return &proxyHandle{proxy: p, path: path, under: h}, nil
}

// Exists implements directory.Directory.
func (p *DebugProxyDirectory) Exists(ctx context.Context, path string) (bool, error) {
	return p.under.Exists(ctx, path)
}

// AtomicRead implements directory.Directory. It also records the read as
// covering the entire file, so atomic_read-only access patterns are
// still captured by a build pass.
func (p *DebugProxyDirectory) AtomicRead(ctx context.Context, path string) ([]byte, error) {
	data, err := p.under.AtomicRead(ctx, path)
	if err != nil {
		return nil, err
	}
	p.record(path, directory.Range{Start: 0, End: uint64(len(data))})
	return data, nil
}

func (p *DebugProxyDirectory) record(path string, r directory.Range) {
	if r.Empty() {
		return
	}
	p.mu.Lock()
	p.reads = append(p.reads, recordedRead{path: path, r: r})
	p.mu.Unlock()
}

// Recorded returns every byte range recorded so far, grouped by path and
// merged where overlapping or adjacent, per spec.md §4.7 step 5.
func (p *DebugProxyDirectory) Recorded() map[string][]directory.Range {
	p.mu.Lock()
	reads := make([]recordedRead, len(p.reads))
	copy(reads, p.reads)
	p.mu.Unlock()

	byPath := make(map[string][]directory.Range)
	for _, rr := range reads {
		byPath[rr.path] = append(byPath[rr.path], rr.r)
	}
	for path, ranges := range byPath {
		byPath[path] = mergeRanges(ranges)
	}
	return byPath
}

// mergeRanges sorts ranges by start and merges any pair where
// last.End >= next.Start, so both adjacent and overlapping ranges merge.
func mergeRanges(ranges []directory.Range) []directory.Range {
	sorted := make([]directory.Range, len(ranges))
	copy(sorted, ranges)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Start < sorted[j].Start })

	merged := sorted[:0:0]
	for _, r := range sorted {
		if n := len(merged); n > 0 && merged[n-1].End >= r.Start {
			if r.End > merged[n-1].End {
				merged[n-1].End = r.End
			}
			continue
		}
		merged = append(merged, r)
	}
	return merged
}

type proxyHandle struct {
	proxy *DebugProxyDirectory
	path  string
	under directory.FileHandle
}

func (h *proxyHandle) Len() uint64 { return h.under.Len() }

func (h *proxyHandle) ReadBytes(ctx context.Context, r directory.Range) (directory.ReadResult, error) {
	data, err := h.under.ReadBytes(ctx, r)
	if err != nil {
		return directory.ReadResult{}, err
	}
	h.proxy.record(h.path, r)
	return data, nil
}

// Build serializes the recorded reads for the given files into a
// byte-exact hotcache blob. fileLengths must cover every file that will
// ever be opened through the resulting HotDirectory, not just the ones
// with recorded reads - spec.md §4.7 requires length enumeration for the
// whole index, independent of which bytes got inlined.
//
// source supplies the actual bytes for each interval to inline; it is
// typically the same DebugProxyDirectory the warmup pass read through.
func Build(ctx context.Context, source directory.Directory, fileLengths map[string]uint64, recorded map[string][]directory.Range, opts Options) ([]byte, error) {
	opts = opts.withDefaults()

	paths := make([]string, 0, len(fileLengths))
	for path := range fileLengths {
		paths = append(paths, path)
	}
	sort.Strings(paths)

	var dataBuf []byte
	offsets := make([]pathOffsetOut, 0, len(paths))

	for _, path := range paths {
		intervals := selectIntervals(path, recorded[path], opts)
		if len(intervals) == 0 {
			opts.Logger.Debug("hcbuild: skipping file, nothing worth inlining", "path", path)
			continue
		}

		blob, err := buildSliceBlob(ctx, source, path, intervals)
		if err != nil {
			return nil, fmt.Errorf("hcbuild: build slice blob for %q: %w", path, err)
		}

		opts.Logger.Debug("hcbuild: inlined file", "path", path, "intervals", len(intervals))
		offsets = append(offsets, pathOffsetOut{Path: path, Offset: uint64(len(dataBuf))})
		dataBuf = append(dataBuf, blob...)
	}

	lenABytes, err := cbor.Marshal(fileLengths)
	if err != nil {
		return nil, fmt.Errorf("hcbuild: encode file lengths: %w", err)
	}
	lenBBytes, err := cbor.Marshal(offsets)
	if err != nil {
		return nil, fmt.Errorf("hcbuild: encode path offsets: %w", err)
	}

	out := make([]byte, 0, 1+8+len(lenABytes)+8+len(lenBBytes)+len(dataBuf))
	out = append(out, 0x00)
	out = appendU64Prefixed(out, lenABytes)
	out = appendU64Prefixed(out, lenBBytes)
	out = append(out, dataBuf...)
	return out, nil
}

type pathOffsetOut struct {
	Path   string `cbor:"0,keyasint"`
	Offset uint64 `cbor:"1,keyasint"`
}

// selectIntervals applies the size/suffix heuristic from spec.md §4.7
// step 4 to the merged intervals recorded for path.
func selectIntervals(path string, intervals []directory.Range, opts Options) []directory.Range {
	if opts.alwaysHot(path) {
		return intervals
	}
	var kept []directory.Range
	for _, r := range intervals {
		if r.Len() < opts.MaxInlineBytes {
			kept = append(kept, r)
		}
	}
	return kept
}

// buildSliceBlob fetches the bytes for each interval and assembles one
// per-file slice blob: concatenated bodies, trailing cbor index, trailing
// body-length u64, per spec.md §4.7.
func buildSliceBlob(ctx context.Context, source directory.Directory, path string, intervals []directory.Range) ([]byte, error) {
	h, err := source.GetFileHandle(ctx, path)
	if err != nil {
		return nil, err
	}

	var body []byte
	entries := make([]wireSliceEntryOut, 0, len(intervals))
	for _, r := range intervals {
		data, err := h.ReadBytes(ctx, r)
		if err != nil {
			return nil, err
		}
		addr := uint64(len(body))
		body = append(body, data.Bytes()...)
		entries = append(entries, wireSliceEntryOut{Start: r.Start, Stop: r.End, Addr: addr})
	}

	idx := wireSliceIndexOut{TotalLen: h.Len(), Entries: entries}
	cborIdx, err := cbor.Marshal(idx)
	if err != nil {
		return nil, fmt.Errorf("encode slice index: %w", err)
	}

	bodyLen := uint64(len(body))
	out := make([]byte, 0, len(body)+8+len(cborIdx)+8)
	out = append(out, body...)
	out = appendU64(out, uint64(len(cborIdx)))
	out = append(out, cborIdx...)
	out = appendU64(out, bodyLen)
	return out, nil
}

type wireSliceIndexOut struct {
	TotalLen uint64              `cbor:"0,keyasint"`
	Entries  []wireSliceEntryOut `cbor:"1,keyasint"`
}

type wireSliceEntryOut struct {
	Start uint64 `cbor:"0,keyasint"`
	Stop  uint64 `cbor:"1,keyasint"`
	Addr  uint64 `cbor:"2,keyasint"`
}

func appendU64(buf []byte, v uint64) []byte {
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], v)
	return append(buf, tmp[:]...)
}

func appendU64Prefixed(buf []byte, section []byte) []byte {
	buf = appendU64(buf, uint64(len(section)))
	return append(buf, section...)
}

var _ directory.Directory = (*DebugProxyDirectory)(nil)
