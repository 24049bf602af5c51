// Package server hosts the Fiber HTTP service, the request middleware chain,
// and the origin registry that maps an incoming Host (or Host:port) to the
// upstream a resource is read from. It also owns the upstream transport used
// by the loader: per-origin credentials, User-Agent and proxy settings, plus
// exponential-backoff retries for connection failures and 502/503/504.
// Keep exports narrow and accept explicit dependencies; the proxy and routes
// packages plug into the app built here.
package server
