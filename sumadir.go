package sumadir

import (
	"context"
	"fmt"

	"github.com/sumadir/sumadir/core/directory"
	"github.com/sumadir/sumadir/core/directory/caching"
	"github.com/sumadir/sumadir/core/directory/chunked"
	"github.com/sumadir/sumadir/core/directory/hotcache"
	"github.com/sumadir/sumadir/core/directory/network"
)

// Index is an opened remote-readable index directory: the composed
// network/caching/chunked(/hotcache) stack, exposed through a single
// directory.Directory-shaped surface.
type Index struct {
	top directory.Directory
	net *network.Directory
}

// Open composes the directory stack for cfg and returns a ready-to-query
// Index. It performs no network I/O itself; the returned Index issues
// requests lazily as reads are performed against it.
func Open(cfg RemoteEngineConfig, opts ...Option) (*Index, error) {
	o := openOptions{}
	for _, opt := range opts {
		opt(&o)
	}

	gen := network.NewHTTPGenerator(o.client, cfg.Request)

	var netOpts []network.Option
	if o.logger != nil {
		netOpts = append(netOpts, network.WithLogger(o.logger))
	}
	net, err := network.New(cfg.FileSizes, gen, netOpts...)
	if err != nil {
		return nil, fmt.Errorf("sumadir: open: %w", err)
	}

	var cachingOpts []caching.Option
	if o.logger != nil {
		cachingOpts = append(cachingOpts, caching.WithLogger(o.logger))
	}
	cached := caching.New(net, cachingOpts...)

	chunkedOpts := []chunked.Option{chunked.WithChunkSize(cfg.ChunkSize)}
	if cfg.CacheCapacity.bytes > 0 {
		chunkedOpts = append(chunkedOpts, chunked.WithCacheBytes(cfg.CacheCapacity.bytes))
	}
	if o.logger != nil {
		chunkedOpts = append(chunkedOpts, chunked.WithLogger(o.logger))
	}
	chunkedDir := chunked.New(cached, chunkedOpts...)

	var top directory.Directory = chunkedDir
	if len(cfg.HotcacheBytes) > 0 {
		var hotOpts []hotcache.Option
		if o.logger != nil {
			hotOpts = append(hotOpts, hotcache.WithLogger(o.logger))
		}
		hot, err := hotcache.Load(chunkedDir, cfg.HotcacheBytes, hotOpts...)
		if err != nil {
			return nil, fmt.Errorf("sumadir: open: load hotcache: %w", err)
		}
		top = hot
	}

	return &Index{top: top, net: net}, nil
}

// ReadBytes reads [start, end) of path.
func (idx *Index) ReadBytes(ctx context.Context, path string, start, end uint64) ([]byte, error) {
	h, err := idx.top.GetFileHandle(ctx, path)
	if err != nil {
		return nil, err
	}
	result, err := h.ReadBytes(ctx, directory.Range{Start: start, End: end})
	if err != nil {
		return nil, err
	}
	return result.Bytes(), nil
}

// AtomicRead reads the entirety of path in one call.
func (idx *Index) AtomicRead(ctx context.Context, path string) ([]byte, error) {
	return idx.top.AtomicRead(ctx, path)
}

// Exists reports whether path is present in the index's fixed file set.
func (idx *Index) Exists(ctx context.Context, path string) (bool, error) {
	return idx.top.Exists(ctx, path)
}

// FileLen returns the length of path without reading its contents.
func (idx *Index) FileLen(ctx context.Context, path string) (uint64, error) {
	h, err := idx.top.GetFileHandle(ctx, path)
	if err != nil {
		return 0, err
	}
	return h.Len(), nil
}

// FileSizes returns the fixed file-size map the Index was opened with.
func (idx *Index) FileSizes() map[string]uint64 {
	return idx.net.FileSizes()
}
