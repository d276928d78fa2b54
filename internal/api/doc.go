// Package api is the Gin-based REST surface over the engine: a thin
// wire-level translator that maps requests to engine operations and core
// error kinds to HTTP status codes. It holds no core logic.
package api
