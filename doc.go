// Package sumadir provides a composable, read-only directory stack for
// opening a full-text index whose segment files live on a remote or
// untrusted object store addressable only by byte-range HTTP requests.
//
// A caller supplies a RemoteEngineConfig describing the index's fixed
// file set, how to turn (file, range) pairs into HTTP requests, and
// optionally a precomputed hotcache blob (see the core/directory/hotcache
// and core/directory/hotcache/hcbuild subpackages). Open composes the
// four layers described in core/directory's subpackages - network,
// caching, chunked, hotcache - in the order the index needs them:
//
//	hotcache (if configured)
//	  -> chunked   (fixed-size chunk LRU)
//	     -> caching  (unbounded byte-range cache, generation-aware)
//	        -> network  (leaf: issues the actual range requests)
//
// For low-level access to any individual layer without the others, use
// the core/directory subpackages directly.
package sumadir
