package chunked

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sumadir/sumadir/core/directory"
	"github.com/sumadir/sumadir/core/directory/directorytest"
	"github.com/sumadir/sumadir/core/directory/network"
)

func TestSingleChunkReadScenario(t *testing.T) {
	// chunk_size=10, file_size=27, request range 3..7: expect exactly one
	// chunk, one downstream request covering 0..10, and the returned
	// bytes equal to underlying[3..7].
	data := make([]byte, 27)
	for i := range data {
		data[i] = byte(i)
	}
	gen := directorytest.NewRecordingGenerator(directorytest.NewStaticGenerator(map[string][]byte{"f": data}))
	net, err := network.New(map[string]uint64{"f": 27}, gen)
	require.NoError(t, err)

	d := New(net, WithChunkSize(10))
	h, err := d.GetFileHandle(context.Background(), "f")
	require.NoError(t, err)

	got, err := h.ReadBytes(context.Background(), directory.Range{Start: 3, End: 7})
	require.NoError(t, err)
	assert.Equal(t, data[3:7], got.Bytes())

	reqs := gen.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, directory.Range{Start: 0, End: 10}, reqs[0].Range)
}

func TestMultiChunkReadScenario(t *testing.T) {
	// chunk_size=10, file_size=27, range 3..27: three chunks (0,1,2), the
	// last chunk truncated to the file's actual end (27), merged into one
	// downstream request covering 0..27.
	data := make([]byte, 27)
	for i := range data {
		data[i] = byte(i)
	}
	gen := directorytest.NewRecordingGenerator(directorytest.NewStaticGenerator(map[string][]byte{"f": data}))
	net, err := network.New(map[string]uint64{"f": 27}, gen)
	require.NoError(t, err)

	d := New(net, WithChunkSize(10))
	h, err := d.GetFileHandle(context.Background(), "f")
	require.NoError(t, err)

	got, err := h.ReadBytes(context.Background(), directory.Range{Start: 3, End: 27})
	require.NoError(t, err)
	assert.Equal(t, data[3:27], got.Bytes())

	reqs := gen.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, directory.Range{Start: 0, End: 27}, reqs[0].Range)
}

func TestChunksForPureMath(t *testing.T) {
	cases := []struct {
		name        string
		r           directory.Range
		chunkSize   uint64
		first, last uint64
	}{
		{"single byte in first chunk", directory.Range{Start: 0, End: 1}, 16, 0, 0},
		{"spans two chunks", directory.Range{Start: 10, End: 20}, 16, 0, 1},
		{"exactly one chunk", directory.Range{Start: 16, End: 32}, 16, 1, 1},
		{"spans three chunks", directory.Range{Start: 15, End: 33}, 16, 0, 2},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			first, last := chunksFor(tc.r, tc.chunkSize)
			assert.Equal(t, tc.first, first)
			assert.Equal(t, tc.last, last)
		})
	}
}

func TestReadBytesAcrossChunkBoundary(t *testing.T) {
	data := make([]byte, 100)
	for i := range data {
		data[i] = byte(i)
	}
	under := directorytest.NewMemDirectory()
	under.Seed("0.term", data)

	d := New(under, WithChunkSize(32))

	h, err := d.GetFileHandle(context.Background(), "0.term")
	require.NoError(t, err)

	got, err := h.ReadBytes(context.Background(), directory.Range{Start: 20, End: 50})
	require.NoError(t, err)
	assert.Equal(t, data[20:50], got.Bytes())
}

func TestMissesAreServedFromCacheOnSecondRead(t *testing.T) {
	data := make([]byte, 64)
	under := directorytest.NewMemDirectory()
	under.Seed("0.term", data)

	reads := 0
	under.ReadHook = func(string, directory.Range) { reads++ }

	d := New(under, WithChunkSize(16))
	h, err := d.GetFileHandle(context.Background(), "0.term")
	require.NoError(t, err)

	_, err = h.ReadBytes(context.Background(), directory.Range{Start: 0, End: 16})
	require.NoError(t, err)
	firstReads := reads

	_, err = h.ReadBytes(context.Background(), directory.Range{Start: 0, End: 16})
	require.NoError(t, err)
	assert.Equal(t, firstReads, reads, "second read of the same chunk must not touch the underlying directory")
}

func TestContiguousMissesComposeIntoOneRequest(t *testing.T) {
	data := make([]byte, 64)
	for i := range data {
		data[i] = byte(i)
	}
	gen := directorytest.NewRecordingGenerator(directorytest.NewStaticGenerator(map[string][]byte{
		"0.term": data,
	}))
	net, err := network.New(map[string]uint64{"0.term": 64}, gen)
	require.NoError(t, err)

	d := New(net, WithChunkSize(16))
	h, err := d.GetFileHandle(context.Background(), "0.term")
	require.NoError(t, err)

	// a read spanning chunks 0..3 (all missing) must become ONE composed
	// downstream request, not four.
	_, err = h.ReadBytes(context.Background(), directory.Range{Start: 0, End: 64})
	require.NoError(t, err)

	reqs := gen.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, directory.Range{Start: 0, End: 64}, reqs[0].Range)
}

func TestNonAdjacentMissesStayAsSeparateRequests(t *testing.T) {
	data := make([]byte, 64)
	gen := directorytest.NewRecordingGenerator(directorytest.NewStaticGenerator(map[string][]byte{
		"0.term": data,
	}))
	net, err := network.New(map[string]uint64{"0.term": 64}, gen)
	require.NoError(t, err)

	d := New(net, WithChunkSize(16))
	h, err := d.GetFileHandle(context.Background(), "0.term")
	require.NoError(t, err)

	// warm chunk 1 only (bytes 16..32), leaving chunks 0, 2, 3 missing -
	// the remaining misses are NOT contiguous across chunk 1, so they must
	// stay as two separate composed requests, not one spanning the gap.
	_, err = h.ReadBytes(context.Background(), directory.Range{Start: 16, End: 32})
	require.NoError(t, err)
	gen.Reset()

	_, err = h.ReadBytes(context.Background(), directory.Range{Start: 0, End: 64})
	require.NoError(t, err)

	reqs := gen.Requests()
	require.Len(t, reqs, 2, "a cached chunk in the middle must split the composed request, not be spanned")
	assert.Equal(t, directory.Range{Start: 0, End: 16}, reqs[0].Range)
	assert.Equal(t, directory.Range{Start: 32, End: 64}, reqs[1].Range)
}
