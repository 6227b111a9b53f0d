// Package obytes provides a reference-shared, cheaply sliceable immutable
// byte buffer used throughout the directory stack as the return type for
// cached reads.
package obytes

import "fmt"

// Bytes is an immutable view over a shared backing array. Slicing a Bytes
// is O(1): it never copies, it only narrows the window into the same
// backing array. Two Bytes values produced by slicing one another share
// storage for as long as either is reachable.
//
// The zero value is an empty Bytes.
type Bytes struct {
	backing []byte
	start   int
	length  int
}

// New wraps b as a Bytes. The caller must not mutate b after this call;
// ownership of the backing array transfers to the returned Bytes.
func New(b []byte) Bytes {
	return Bytes{backing: b, start: 0, length: len(b)}
}

// Empty returns a zero-length Bytes.
func Empty() Bytes {
	return Bytes{}
}

// Len returns the number of bytes in the view.
func (b Bytes) Len() int {
	return b.length
}

// Bytes returns the byte slice covered by this view. The returned slice
// aliases shared storage and must be treated as read-only.
func (b Bytes) Bytes() []byte {
	if b.length == 0 {
		return nil
	}
	return b.backing[b.start : b.start+b.length : b.start+b.length]
}

// Slice returns the sub-view [from, to) of b. It panics if the bounds are
// out of range, matching slice semantics. Slicing is O(1) and shares
// backing storage with b.
func (b Bytes) Slice(from, to int) Bytes {
	if from < 0 || to > b.length || from > to {
		panic(fmt.Sprintf("obytes: slice [%d:%d] out of range for length %d", from, to, b.length))
	}
	return Bytes{backing: b.backing, start: b.start + from, length: to - from}
}

// Concat copies the contents of parts into one new Bytes. Unlike Slice,
// this allocates: it is used where non-contiguous sources (e.g. an
// existing cached interval plus a freshly fetched one) must be merged
// into a single contiguous buffer.
func Concat(parts ...Bytes) Bytes {
	total := 0
	for _, p := range parts {
		total += p.length
	}
	if total == 0 {
		return Empty()
	}
	buf := make([]byte, 0, total)
	for _, p := range parts {
		buf = append(buf, p.Bytes()...)
	}
	return New(buf)
}
