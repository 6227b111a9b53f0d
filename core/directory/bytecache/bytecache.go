// Package bytecache implements the ByteRangeCache described in spec.md
// §4.3: a lossless map from (file tag, range) to bytes, used as a warmup
// cache by package caching. It never evicts - callers deliberately put
// future-needed ranges so that subsequent reads never miss - and a
// stored interval satisfies any sub-range query it contains.
package bytecache

import (
	"fmt"
	"sync"

	"github.com/tidwall/btree"

	"github.com/sumadir/sumadir/core/directory"
	"github.com/sumadir/sumadir/core/obytes"
)

// interval is one stored, coalesced byte range for a single tag.
type interval struct {
	tag   string
	start uint64
	end   uint64
	data  obytes.Bytes
}

// less orders intervals first by tag, then by start - exactly the
// CacheKey ordering spec.md §3 calls for.
func less(a, b interval) bool {
	if a.tag != b.tag {
		return a.tag < b.tag
	}
	return a.start < b.start
}

// Cache is a ByteRangeCache: unbounded, interval-merging, per-tag sorted
// storage. Safe for concurrent use.
type Cache struct {
	mu   sync.Mutex
	tree *btree.BTreeG[interval]
}

// New creates an empty ByteRangeCache.
func New() *Cache {
	return &Cache{tree: btree.NewBTreeG(less)}
}

// GetSlice returns the bytes for r if some stored interval for tag fully
// contains r. The returned bytes are a zero-copy slice of the stored
// buffer. Empty ranges always return an empty result without touching
// the tree, per spec.md §4.3 boundary rules.
func (c *Cache) GetSlice(tag string, r directory.Range) (obytes.Bytes, bool) {
	if r.Empty() {
		return obytes.Empty(), true
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	iv, ok := c.predecessor(tag, r.Start)
	if !ok || iv.tag != tag {
		return obytes.Bytes{}, false
	}
	if iv.start > r.Start || iv.end < r.End {
		return obytes.Bytes{}, false
	}
	offset := int(r.Start - iv.start)
	length := int(r.End - iv.start)
	return iv.data.Slice(offset, length), true
}

// predecessor returns the stored interval for tag with the greatest start
// <= at, if any.
func (c *Cache) predecessor(tag string, at uint64) (interval, bool) {
	var found interval
	ok := false
	c.tree.Descend(interval{tag: tag, start: at}, func(item interval) bool {
		if item.tag != tag {
			return false
		}
		found = item
		ok = true
		return false // first hit (largest start <= at) is what we want
	})
	return found, ok
}

// PutSlice stores bytes as authoritative content for r under tag,
// merging with any touching or overlapping stored intervals. A put of
// length 0 is a no-op; a put whose data length does not equal r.Len() is
// a contract violation and panics (spec.md §4.3 boundary rules - these
// are programmer errors, not operational faults).
func (c *Cache) PutSlice(tag string, r directory.Range, data obytes.Bytes) {
	if r.Empty() {
		return
	}
	if uint64(data.Len()) != r.Len() {
		panic(&directory.ErrCacheContractViolation{
			Reason: fmt.Sprintf("put length %d does not match range length %d for tag %q", data.Len(), r.Len(), tag),
		})
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	// Collect every stored interval that touches [r.Start, r.End] (shares
	// a byte or is adjacent), then build one merged interval spanning
	// their union. New data wins where ranges overlap. Start the ascend
	// from the predecessor of r.Start (if any) rather than from the tag's
	// first entry, so the scan only ever looks at intervals that can
	// possibly touch r - O(log n + k).
	scanFrom := r.Start
	if pred, ok := c.predecessor(tag, r.Start); ok && pred.end >= r.Start {
		scanFrom = pred.start
	}

	var touching []interval
	c.tree.Ascend(interval{tag: tag, start: scanFrom}, func(item interval) bool {
		if item.tag != tag {
			return false
		}
		if item.start > r.End {
			return false
		}
		if item.end >= r.Start {
			touching = append(touching, item)
		}
		return true
	})

	if len(touching) == 0 {
		c.tree.Set(interval{tag: tag, start: r.Start, end: r.End, data: data})
		return
	}

	mergedStart := r.Start
	mergedEnd := r.End
	for _, t := range touching {
		if t.start < mergedStart {
			mergedStart = t.start
		}
		if t.end > mergedEnd {
			mergedEnd = t.end
		}
	}

	merged := make([]byte, mergedEnd-mergedStart)
	for _, t := range touching {
		copy(merged[t.start-mergedStart:], t.data.Bytes())
	}
	copy(merged[r.Start-mergedStart:r.End-mergedStart], data.Bytes())

	for _, t := range touching {
		c.tree.Delete(interval{tag: tag, start: t.start})
	}
	c.tree.Set(interval{tag: tag, start: mergedStart, end: mergedEnd, data: obytes.New(merged)})
}

// Len returns the number of stored (post-merge) intervals across all
// tags, mainly for tests.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tree.Len()
}
