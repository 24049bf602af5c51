// Package loader turns logical byte-range reads of a remote media resource
// into an ordered plan of cache reads and upstream Range requests.
//
// A Session owns one resource: its cache.Store, the reads currently in
// flight, and duplicate detection keyed by (identity, offset, length). Each
// accepted read runs on its own goroutine as a small state machine that
// walks the plan produced by Split, delivers bytes to the caller's Consumer
// strictly in offset order, and writes every fetched chunk into the store
// before handing it out. Upstream responses are checked against the
// requested window, so a CDN that ignores or truncates a Range request never
// corrupts the cache.
//
// Manager deduplicates Session construction per URL and exposes the cache
// maintenance operations used by the diagnostics routes and the CLI.
package loader
