// Package cache owns the on-disk side of range caching. Each remote resource
// maps to one CacheEntry under StoragePath: a sparse data file addressed by
// absolute byte offset and a JSON index sidecar holding the merged fragment
// list plus the resource's ContentInfo. Entry names are content addresses
// derived from the resource URL (md5 of the URL plus its file extension).
//
// Store serializes disk reads behind one lock and funnels every mutation
// (data writes, metadata updates, sidecar persistence) through a single
// writer goroutine, so FragmentIndex and ContentInfo are only ever changed
// from that goroutine and a fragment is indexed only after its bytes are on
// disk. Sidecars are replaced with temp file + rename so readers never see a
// half-written index.
package cache
