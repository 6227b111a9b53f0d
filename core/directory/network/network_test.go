package network

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sumadir/sumadir/core/directory"
)

type stubRequest struct {
	data []byte
	err  error
}

func (r stubRequest) Send(context.Context) ([]byte, error) {
	return r.data, r.err
}

type stubGenerator struct {
	responses map[string][]byte
	errs      map[string]error
}

func (g *stubGenerator) Generate(file string, r directory.Range) (Request, error) {
	if err, ok := g.errs[file]; ok {
		return stubRequest{err: err}, nil
	}
	data := g.responses[file]
	if uint64(len(data)) >= r.End {
		data = data[r.Start:r.End]
	}
	return stubRequest{data: data}, nil
}

func TestEmptyRangeNeverCallsGenerator(t *testing.T) {
	// any request generated for "f" fails, so the read below only
	// succeeds if the generator is never consulted.
	gen := &stubGenerator{errs: map[string]error{"f": errors.New("generator must not be called")}}
	d, err := New(map[string]uint64{"f": 5}, gen)
	require.NoError(t, err)

	h, err := d.GetFileHandle(context.Background(), "f")
	require.NoError(t, err)

	got, err := h.ReadBytes(context.Background(), directory.Range{Start: 2, End: 2})
	require.NoError(t, err)
	assert.Equal(t, 0, got.Len())
}

func TestReadPastFileEndIsContractViolation(t *testing.T) {
	gen := &stubGenerator{responses: map[string][]byte{"f": []byte("hello")}}
	d, err := New(map[string]uint64{"f": 5}, gen)
	require.NoError(t, err)

	h, err := d.GetFileHandle(context.Background(), "f")
	require.NoError(t, err)

	_, err = h.ReadBytes(context.Background(), directory.Range{Start: 0, End: 10})
	var violation *directory.ErrCacheContractViolation
	assert.True(t, errors.As(err, &violation))
}

func TestUnknownFileIsNotExist(t *testing.T) {
	gen := &stubGenerator{}
	d, err := New(map[string]uint64{}, gen)
	require.NoError(t, err)

	_, err = d.GetFileHandle(context.Background(), "missing")
	assert.True(t, errors.Is(err, directory.ErrFileDoesNotExist))
}

func TestRemoteNotFoundBecomesFileDoesNotExist(t *testing.T) {
	gen := &stubGenerator{errs: map[string]error{"f": ErrRemoteNotFound}}
	d, err := New(map[string]uint64{"f": 5}, gen)
	require.NoError(t, err)

	h, err := d.GetFileHandle(context.Background(), "f")
	require.NoError(t, err)

	_, err = h.ReadBytes(context.Background(), directory.Range{Start: 0, End: 5})
	assert.True(t, errors.Is(err, directory.ErrFileDoesNotExist))
}

func TestShortResponseIsContractViolation(t *testing.T) {
	gen := &stubGenerator{responses: map[string][]byte{"f": []byte("ab")}} // too short for a 5-byte read
	d, err := New(map[string]uint64{"f": 5}, gen)
	require.NoError(t, err)

	h, err := d.GetFileHandle(context.Background(), "f")
	require.NoError(t, err)

	_, err = h.ReadBytes(context.Background(), directory.Range{Start: 0, End: 5})
	var violation *directory.ErrCacheContractViolation
	assert.True(t, errors.As(err, &violation))
}

func TestNewRejectsNilGenerator(t *testing.T) {
	_, err := New(map[string]uint64{}, nil)
	assert.Error(t, err)
}
