// Package kserver implements the production HTTP listener used by the
// CLI's `dev` and `start` commands: a *http.Server wrapping the request
// pipeline, with optional cleartext HTTP/2 (h2c) and TLS against a
// pre-provisioned certificate/key pair — never ACME/autocert issuance,
// which is out of scope.
package kserver

import (
	"context"
	"net"
	"net/http"
	"time"

	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/kiln-framework/kiln/internal/logger"
)

// Options configures a Server.
type Options struct {
	Addr string

	// TLSCertFile/TLSKeyFile, if both set, serve TLS with a
	// pre-provisioned certificate. Never performs ACME issuance.
	TLSCertFile string
	TLSKeyFile  string

	// H2C enables cleartext HTTP/2 (no effect when TLS is configured;
	// TLS connections negotiate HTTP/2 via ALPN instead).
	H2C bool

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Server wraps a *http.Server to satisfy the small Server interface the
// dev orchestrator (C10) and the `start` CLI command drive: Start
// begins listening in the background and returns once the listener is
// bound (so a caller can observe bind failures synchronously); Shutdown
// drains in-flight requests gracefully.
type Server struct {
	opts Options
	log  *logger.Logger

	httpServer *http.Server
	listener   net.Listener

	serveErrCh chan error
}

// New constructs a Server bound to addr, serving handler. h2c wraps
// handler in cleartext HTTP/2 support when opts.H2C is set and no TLS
// pair is configured; it is a no-op under TLS, where HTTP/2 is
// negotiated via ALPN by http.Server itself.
func New(opts Options, handler http.Handler, log *logger.Logger) *Server {
	h := handler
	if opts.H2C && opts.TLSCertFile == "" {
		h2s := &http2.Server{}
		h = h2c.NewHandler(handler, h2s)
	}

	return &Server{
		opts: opts,
		log:  log,
		httpServer: &http.Server{
			Addr:         opts.Addr,
			Handler:      h,
			ReadTimeout:  opts.ReadTimeout,
			WriteTimeout: opts.WriteTimeout,
		},
	}
}

// Start binds the listener and begins serving in the background.
// Returns once the bind succeeds (or fails); serve-time errors after
// that point are logged, not returned, since Start's caller has already
// moved on to the Running state.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.opts.Addr)
	if err != nil {
		return err
	}
	s.listener = ln
	s.serveErrCh = make(chan error, 1)

	go func() {
		var err error
		if s.opts.TLSCertFile != "" && s.opts.TLSKeyFile != "" {
			err = s.httpServer.ServeTLS(ln, s.opts.TLSCertFile, s.opts.TLSKeyFile)
		} else {
			err = s.httpServer.Serve(ln)
		}
		if err != nil && err != http.ErrServerClosed {
			s.log.Errorf("kserver: serve error: %v", err)
		}
		s.serveErrCh <- err
	}()

	return nil
}

// Addr returns the bound listener's actual network address, useful
// when Options.Addr used port 0.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Shutdown stops accepting new connections and lets in-flight requests
// drain until ctx is done, then forcibly closes remaining connections.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.httpServer.Shutdown(ctx)
	if ctx.Err() != nil {
		s.httpServer.Close()
	}
	return err
}
