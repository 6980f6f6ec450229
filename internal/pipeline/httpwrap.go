package pipeline

import (
	"net/http"

	"github.com/kiln-framework/kiln/internal/route"
)

// httpHandlerAdapter lets a plain net/http.Handler satisfy route.Handler.
type httpHandlerAdapter struct{ hh http.Handler }

// ServeRoute implements route.Handler by delegating straight to the
// wrapped net/http.Handler; params are unused since the wrapped handler
// reads path values off r itself.
func (a httpHandlerAdapter) ServeRoute(w http.ResponseWriter, r *http.Request, params map[string]string) {
	a.hh.ServeHTTP(w, r)
}

// WrapHTTPHandler adapts a standard net/http.Handler into a route.Handler,
// for reusing handlers written against the stdlib interface directly
// instead of *Context. The result can be assigned to route.Module.Handler
// wherever a route module is constructed by hand rather than compiled.
func WrapHTTPHandler(hh http.Handler) route.Handler {
	return httpHandlerAdapter{hh: hh}
}

// WrapHTTPMiddleware adapts a standard `func(http.Handler) http.Handler`
// middleware into a Middleware, so gases written against the stdlib
// chaining convention (compression, security headers, CORS) can be
// mounted without rewriting their core logic against *Context directly.
func WrapHTTPMiddleware(hm func(http.Handler) http.Handler) Middleware {
	return func(ctx *Context, next func()) {
		inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx.Request = r
			ctx.Response.SetHTTPResponseWriter(w)
			next()
		})
		hm(inner).ServeHTTP(ctx.Response.HTTPResponseWriter(), ctx.Request)
	}
}
