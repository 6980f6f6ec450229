package middleware

import (
	"bufio"
	"compress/gzip"
	"io"
	"net"
	"net/http"
	"strings"

	"github.com/kiln-framework/kiln/internal/pipeline"
)

// GzipOptions configures the Gzip middleware.
type GzipOptions struct {
	Skipper Skipper
	Level   int // compress/gzip level; 0 means gzip.DefaultCompression.
}

// DefaultGzipOptions holds reasonable defaults for GzipOptions.
var DefaultGzipOptions = GzipOptions{Level: gzip.DefaultCompression}

type gzipResponseWriter struct {
	io.Writer
	http.ResponseWriter
}

func (w *gzipResponseWriter) Write(b []byte) (int, error) {
	if w.Header().Get("Content-Type") == "" {
		w.Header().Set("Content-Type", http.DetectContentType(b))
	}
	return w.Writer.Write(b)
}

func (w *gzipResponseWriter) Flush() {
	w.Writer.(*gzip.Writer).Flush()
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (w *gzipResponseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	return w.ResponseWriter.(http.Hijacker).Hijack()
}

// Gzip returns a middleware that compresses the response body with gzip
// whenever the request's Accept-Encoding names it, adapted from the
// teacher's gzip gas onto *Context's response-writer swap instead of an
// http.Handler chain.
func Gzip(opts GzipOptions) pipeline.Middleware {
	if opts.Skipper == nil {
		opts.Skipper = defaultSkipper
	}
	level := opts.Level
	if level == 0 {
		level = DefaultGzipOptions.Level
	}

	return func(ctx *pipeline.Context, next func()) {
		if opts.Skipper(ctx) {
			next()
			return
		}

		ctx.Response.SetHeader("Vary", "Accept-Encoding")
		if !strings.Contains(ctx.Request.Header.Get("Accept-Encoding"), "gzip") {
			next()
			return
		}

		rw := ctx.Response.HTTPResponseWriter()
		gw, err := gzip.NewWriterLevel(rw, level)
		if err != nil {
			next()
			return
		}
		defer gw.Close()

		ctx.Response.SetHeader("Content-Encoding", "gzip")
		ctx.Response.SetHTTPResponseWriter(&gzipResponseWriter{Writer: gw, ResponseWriter: rw})
		next()
	}
}
