// Package hotcache implements HotDirectory from spec.md §4.7: a static,
// precomputed slice cache loaded from a byte-exact wire format produced
// offline by package hcbuild. Opening an index through HotDirectory
// incurs zero network reads for any byte range the hotcache covers;
// everything else falls through to the wrapped directory.
package hotcache

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"sort"

	"github.com/fxamacker/cbor/v2"

	"github.com/sumadir/sumadir/core/directory"
	"github.com/sumadir/sumadir/core/obytes"
)

// FormatVersion is the only accepted leading byte of a hotcache blob.
const FormatVersion = 0x00

// DataCorruption is returned when a hotcache blob fails to parse: a bad
// version byte, truncated sections, or malformed CBOR. It is always a
// terminal condition - a corrupt hotcache cannot be partially trusted.
type DataCorruption struct {
	Reason string
}

func (e *DataCorruption) Error() string {
	return fmt.Sprintf("hotcache: data corruption: %s", e.Reason)
}

// sliceEntry mirrors SliceCacheIndexEntry: maps [start, stop) within one
// file to an offset into that file's stored byte blob.
type sliceEntry struct {
	start uint64
	stop  uint64
	addr  uint64
}

// sliceIndex is SliceCacheIndex for one file: sorted, pairwise
// non-overlapping entries plus the file's total length.
type sliceIndex struct {
	totalLen uint64
	entries  []sliceEntry
}

// isComplete reports whether a single entry covers [0, totalLen) exactly.
func (si *sliceIndex) isComplete() bool {
	return len(si.entries) == 1 && si.entries[0].start == 0 && si.entries[0].stop == si.totalLen
}

// lookup performs the binary-search described in spec.md §4.7: find the
// last entry with start <= r.Start; if it also covers r.End, return the
// matching byte offsets into the stored blob.
func (si *sliceIndex) lookup(r directory.Range) (offset uint64, length uint64, ok bool) {
	if r.Empty() {
		return 0, 0, true
	}
	i := sort.Search(len(si.entries), func(i int) bool {
		return si.entries[i].start > r.Start
	}) - 1
	if i < 0 {
		return 0, 0, false
	}
	e := si.entries[i]
	if e.stop < r.End {
		return 0, 0, false
	}
	return e.addr + (r.Start - e.start), r.Len(), true
}

// Directory is HotDirectory: a read-only overlay serving any byte range
// present in its precomputed slice cache, and delegating everything else
// to under.
type Directory struct {
	under       directory.Directory
	fileLengths map[string]uint64
	slices      map[string]*sliceIndex
	blobs       map[string]obytes.Bytes // per-file stored byte payload
	logger      *slog.Logger
}

// Option configures Load.
type Option func(*options)

type options struct {
	logger *slog.Logger
}

// WithLogger sets the structured logger used for miss diagnostics.
// Defaults to a discard logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// Load parses a hotcache blob built by hcbuild and wraps under with it.
// under is consulted for any file or byte range the hotcache does not
// cover.
func Load(under directory.Directory, blob []byte, opts ...Option) (*Directory, error) {
	cfg := options{logger: slog.New(slog.DiscardHandler)}
	for _, opt := range opts {
		opt(&cfg)
	}

	r := newCursor(blob)

	version, err := r.byte()
	if err != nil {
		return nil, &DataCorruption{Reason: "missing format version byte"}
	}
	if version != FormatVersion {
		return nil, &DataCorruption{Reason: fmt.Sprintf("unsupported format version %d", version)}
	}

	lenABytes, err := r.lenPrefixed()
	if err != nil {
		return nil, &DataCorruption{Reason: "truncated file-length section"}
	}
	var fileLengths map[string]uint64
	if err := cbor.Unmarshal(lenABytes, &fileLengths); err != nil {
		return nil, &DataCorruption{Reason: fmt.Sprintf("decode file-length map: %v", err)}
	}

	lenBBytes, err := r.lenPrefixed()
	if err != nil {
		return nil, &DataCorruption{Reason: "truncated path-offset section"}
	}
	var offsets []pathOffset
	if err := cbor.Unmarshal(lenBBytes, &offsets); err != nil {
		return nil, &DataCorruption{Reason: fmt.Sprintf("decode path-offset list: %v", err)}
	}

	data := r.rest()

	// Append the trailing sentinel (empty_path, data_total_len) per
	// spec.md §4.7, then derive per-file blob boundaries from consecutive
	// offsets.
	offsets = append(offsets, pathOffset{Path: "", Offset: uint64(len(data))})

	d := &Directory{
		under:       under,
		fileLengths: fileLengths,
		slices:      make(map[string]*sliceIndex),
		blobs:       make(map[string]obytes.Bytes),
		logger:      cfg.logger,
	}

	owned := obytes.New(data)
	for i := 0; i < len(offsets)-1; i++ {
		path := offsets[i].Path
		start := offsets[i].Offset
		end := offsets[i+1].Offset
		if end < start || end > uint64(len(data)) {
			return nil, &DataCorruption{Reason: fmt.Sprintf("invalid blob bounds for %q", path)}
		}
		blob := owned.Slice(int(start), int(end))
		idx, body, err := parseSliceBlob(blob)
		if err != nil {
			return nil, fmt.Errorf("hotcache: parse slice blob for %q: %w", path, err)
		}
		d.slices[path] = idx
		d.blobs[path] = body
	}

	d.logger.Debug("hotcache loaded", "files", len(d.fileLengths), "inlined", len(d.slices), "bytes", len(data))
	return d, nil
}

type pathOffset struct {
	Path   string `cbor:"0,keyasint,omitempty"`
	Offset uint64 `cbor:"1,keyasint,omitempty"`
}

// parseSliceBlob decodes one per-file slice blob: file_bytes, then a
// trailing CBOR-encoded SliceCacheIndex, then a u64 body length, per
// spec.md §4.7. Parsing runs from the tail so the body's length doesn't
// need to be known up front.
func parseSliceBlob(blob obytes.Bytes) (*sliceIndex, obytes.Bytes, error) {
	raw := blob.Bytes()
	if len(raw) < 8 {
		return nil, obytes.Bytes{}, &DataCorruption{Reason: "slice blob too short for trailing body length"}
	}
	bodyLen := binary.LittleEndian.Uint64(raw[len(raw)-8:])
	if bodyLen > uint64(len(raw)-8) {
		return nil, obytes.Bytes{}, &DataCorruption{Reason: "slice blob body length exceeds blob size"}
	}
	rest := raw[:len(raw)-8]
	if uint64(len(rest)) < bodyLen+8 {
		return nil, obytes.Bytes{}, &DataCorruption{Reason: "slice blob too short for cbor index length"}
	}
	cborLenOffset := bodyLen
	cborLen := binary.LittleEndian.Uint64(rest[cborLenOffset : cborLenOffset+8])
	cborStart := cborLenOffset + 8
	if cborStart+cborLen > uint64(len(rest)) {
		return nil, obytes.Bytes{}, &DataCorruption{Reason: "cbor index length exceeds blob size"}
	}

	var wire wireSliceIndex
	if err := cbor.Unmarshal(rest[cborStart:cborStart+cborLen], &wire); err != nil {
		return nil, obytes.Bytes{}, &DataCorruption{Reason: fmt.Sprintf("decode slice index: %v", err)}
	}

	idx := &sliceIndex{totalLen: wire.TotalLen}
	idx.entries = make([]sliceEntry, len(wire.Entries))
	for i, e := range wire.Entries {
		idx.entries[i] = sliceEntry{start: e.Start, stop: e.Stop, addr: e.Addr}
	}

	body := blob.Slice(0, int(bodyLen))
	return idx, body, nil
}

type wireSliceIndex struct {
	TotalLen uint64           `cbor:"0,keyasint"`
	Entries  []wireSliceEntry `cbor:"1,keyasint"`
}

type wireSliceEntry struct {
	Start uint64 `cbor:"0,keyasint"`
	Stop  uint64 `cbor:"1,keyasint"`
	Addr  uint64 `cbor:"2,keyasint"`
}

// GetFileHandle implements directory.Directory.
func (d *Directory) GetFileHandle(ctx context.Context, path string) (directory.FileHandle, error) {
	if length, ok := d.fileLengths[path]; ok {
		return &fileHandle{dir: d, path: path, length: length}, nil
	}
	h, err := d.under.GetFileHandle(ctx, path)
	if err != nil {
		return nil, err
	}
	return &fileHandle{dir: d, path: path, length: h.Len(), under: h}, nil
}

// Exists implements directory.Directory.
func (d *Directory) Exists(ctx context.Context, path string) (bool, error) {
	if _, ok := d.fileLengths[path]; ok {
		return true, nil
	}
	return d.under.Exists(ctx, path)
}

// AtomicRead implements directory.Directory. If a file's slice index is
// complete (one entry spanning the whole file) this short-circuits to
// returning the stored blob directly, with zero delegated reads.
func (d *Directory) AtomicRead(ctx context.Context, path string) ([]byte, error) {
	if idx, ok := d.slices[path]; ok && idx.isComplete() {
		return d.blobs[path].Bytes(), nil
	}
	return directory.AtomicReadFileHandle(ctx, d, path)
}

type fileHandle struct {
	dir    *Directory
	path   string
	length uint64
	under  directory.FileHandle // set at open on a length miss, else on the first byte-range miss
}

func (h *fileHandle) Len() uint64 { return h.length }

func (h *fileHandle) underHandle(ctx context.Context) (directory.FileHandle, error) {
	if h.under != nil {
		return h.under, nil
	}
	under, err := h.dir.under.GetFileHandle(ctx, h.path)
	if err != nil {
		return nil, err
	}
	h.under = under
	return under, nil
}

// ReadBytes implements directory.FileHandle: try_read_bytes against the
// static slice index first; on a miss, delegate to the wrapped directory.
func (h *fileHandle) ReadBytes(ctx context.Context, r directory.Range) (directory.ReadResult, error) {
	if r.Empty() {
		return obytes.Empty(), nil
	}

	if idx, ok := h.dir.slices[h.path]; ok {
		if offset, length, ok := idx.lookup(r); ok {
			blob := h.dir.blobs[h.path]
			return blob.Slice(int(offset), int(offset+length)), nil
		}
	}

	h.dir.logger.Debug("hotcache miss, delegating", "path", h.path, "start", r.Start, "end", r.End)
	under, err := h.underHandle(ctx)
	if err != nil {
		return directory.ReadResult{}, err
	}
	return under.ReadBytes(ctx, r)
}

// cursor is a minimal little-endian binary reader over a byte slice.
type cursor struct {
	buf []byte
	pos int
}

func newCursor(buf []byte) *cursor { return &cursor{buf: buf} }

func (c *cursor) byte() (byte, error) {
	if c.pos >= len(c.buf) {
		return 0, fmt.Errorf("hotcache: unexpected end of buffer")
	}
	b := c.buf[c.pos]
	c.pos++
	return b, nil
}

func (c *cursor) lenPrefixed() ([]byte, error) {
	if c.pos+8 > len(c.buf) {
		return nil, fmt.Errorf("hotcache: unexpected end of buffer reading length prefix")
	}
	n := binary.LittleEndian.Uint64(c.buf[c.pos : c.pos+8])
	c.pos += 8
	if c.pos+int(n) > len(c.buf) {
		return nil, fmt.Errorf("hotcache: unexpected end of buffer reading %d-byte section", n)
	}
	out := c.buf[c.pos : c.pos+int(n)]
	c.pos += int(n)
	return out, nil
}

func (c *cursor) rest() []byte {
	return c.buf[c.pos:]
}

var (
	_ directory.Directory  = (*Directory)(nil)
	_ directory.FileHandle = (*fileHandle)(nil)
)
