package caching

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sumadir/sumadir/core/directory"
	"github.com/sumadir/sumadir/core/directory/directorytest"
)

func TestReadIsCachedOnSecondCall(t *testing.T) {
	under := directorytest.NewMemDirectory()
	under.Seed("meta.json", []byte(`{"v":1}`))

	reads := 0
	under.ReadHook = func(string, directory.Range) { reads++ }

	d := New(under)
	h, err := d.GetFileHandle(context.Background(), "meta.json")
	require.NoError(t, err)

	_, err = h.ReadBytes(context.Background(), directory.Range{Start: 0, End: 7})
	require.NoError(t, err)
	first := reads

	_, err = h.ReadBytes(context.Background(), directory.Range{Start: 0, End: 7})
	require.NoError(t, err)
	assert.Equal(t, first, reads, "a second read of the same range must be served from the byte-range cache")
}

func TestWriteBumpsGenerationAndInvalidatesCache(t *testing.T) {
	under := directorytest.NewMemDirectory()
	under.Seed("0.store", []byte("version-one"))

	d := New(under)
	h1, err := d.GetFileHandle(context.Background(), "0.store")
	require.NoError(t, err)
	got, err := h1.ReadBytes(context.Background(), directory.Range{Start: 0, End: uint64(len("version-one"))})
	require.NoError(t, err)
	assert.Equal(t, "version-one", string(got.Bytes()))

	require.NoError(t, d.AtomicWrite(context.Background(), "0.store", []byte("version-two-longer")))

	h2, err := d.GetFileHandle(context.Background(), "0.store")
	require.NoError(t, err)
	assert.NotEqual(t, h1.Len(), h2.Len(), "a handle obtained after a write must observe the new length")

	got2, err := h2.ReadBytes(context.Background(), directory.Range{Start: 0, End: h2.Len()})
	require.NoError(t, err)
	assert.Equal(t, "version-two-longer", string(got2.Bytes()))
}

func TestHandlePinnedToGenerationDuringConcurrentWrite(t *testing.T) {
	under := directorytest.NewMemDirectory()
	under.Seed("0.store", []byte("first-generation-data"))

	d := New(under)
	h1, err := d.GetFileHandle(context.Background(), "0.store")
	require.NoError(t, err)

	// warm h1's cache under its own generation before the write races in,
	// so its bytes are already pinned rather than left to be fetched fresh.
	got, err := h1.ReadBytes(context.Background(), directory.Range{Start: 0, End: h1.Len()})
	require.NoError(t, err)
	assert.Equal(t, "first-generation-data", string(got.Bytes()))

	// a same-length write keeps h1's cached range addressable without a
	// contract-violation on out-of-bounds length, while still bumping the
	// generation and writing fresh bytes to the underlying store.
	require.NoError(t, d.AtomicWrite(context.Background(), "0.store", []byte("second-gen-data-xxxxx")))

	gotAgain, err := h1.ReadBytes(context.Background(), directory.Range{Start: 0, End: h1.Len()})
	require.NoError(t, err)
	assert.Equal(t, "first-generation-data", string(gotAgain.Bytes()), "a handle pinned to its generation must keep serving its own cached bytes after a racing write")

	h2, err := d.GetFileHandle(context.Background(), "0.store")
	require.NoError(t, err)
	got2, err := h2.ReadBytes(context.Background(), directory.Range{Start: 0, End: h2.Len()})
	require.NoError(t, err)
	assert.Equal(t, "second-gen-data-xxxxx", string(got2.Bytes()), "a handle obtained after the write observes the new generation")
}

func TestConcurrentGetFileHandleIsRaceFree(t *testing.T) {
	under := directorytest.NewMemDirectory()
	under.Seed("0.term", make([]byte, 1024))

	d := New(under)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h, err := d.GetFileHandle(context.Background(), "0.term")
			assert.NoError(t, err)
			assert.Equal(t, uint64(1024), h.Len())
		}()
	}
	wg.Wait()
}

func TestWarmPopulatesCacheWithoutReturningToCaller(t *testing.T) {
	under := directorytest.NewMemDirectory()
	under.Seed("0.pos", []byte("warm-me-up"))

	reads := 0
	under.ReadHook = func(string, directory.Range) { reads++ }

	d := New(under)
	h, err := d.GetFileHandle(context.Background(), "0.pos")
	require.NoError(t, err)

	warmable, ok := h.(interface {
		Warm(ctx context.Context, r directory.Range) error
	})
	require.True(t, ok)
	require.NoError(t, warmable.Warm(context.Background(), directory.Range{Start: 0, End: h.Len()}))
	afterWarm := reads

	_, err = h.ReadBytes(context.Background(), directory.Range{Start: 0, End: h.Len()})
	require.NoError(t, err)
	assert.Equal(t, afterWarm, reads, "a read after Warm must be served from cache")
}
