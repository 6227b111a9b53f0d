package directorytest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sumadir/sumadir/core/directory"
)

func TestMemDirectoryWriteThenRead(t *testing.T) {
	d := NewMemDirectory()
	require.NoError(t, d.AtomicWrite(context.Background(), "f", []byte("hello")))

	got, err := d.AtomicRead(context.Background(), "f")
	require.NoError(t, err)
	assert.Equal(t, "hello", string(got))
}

func TestMemDirectoryOpenWrite(t *testing.T) {
	d := NewMemDirectory()
	w, err := d.OpenWrite(context.Background(), "f")
	require.NoError(t, err)
	_, err = w.Write([]byte("chunk-one-"))
	require.NoError(t, err)
	_, err = w.Write([]byte("chunk-two"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	got, err := d.AtomicRead(context.Background(), "f")
	require.NoError(t, err)
	assert.Equal(t, "chunk-one-chunk-two", string(got))
}

func TestMemDirectoryDeleteMissingIsNotExist(t *testing.T) {
	d := NewMemDirectory()
	err := d.Delete(context.Background(), "missing")
	assert.ErrorIs(t, err, directory.ErrFileDoesNotExist)
}

func TestStaticGeneratorServesExactRange(t *testing.T) {
	g := NewStaticGenerator(map[string][]byte{"f": []byte("0123456789")})
	req, err := g.Generate("f", directory.Range{Start: 2, End: 5})
	require.NoError(t, err)

	got, err := req.Send(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "234", string(got))
}
