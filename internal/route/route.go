// Package route defines the capability contract a compiled route module
// must export, shared by the loader (which resolves it from a plugin
// symbol) and the request pipeline (which invokes it). Kept as its own
// package so neither of those two need to import the other just to
// agree on this shape.
package route

import "net/http"

// Handler is the capability every route module's "Route" export must
// satisfy: a nominal interface check, not duck typing.
type Handler interface {
	ServeRoute(w http.ResponseWriter, r *http.Request, params map[string]string)
}

// Middleware is the capability a route module's optional declared chain
// exports, one callable per slot.
type Middleware interface {
	ServeMiddleware(w http.ResponseWriter, r *http.Request, params map[string]string, next func())
}

// Module is the fully resolved export of a loaded route artifact:
// handler, an optional middleware chain, and optional metadata.
type Module struct {
	Handler     Handler
	Middlewares []Middleware
	Metadata    map[string]interface{}
}
