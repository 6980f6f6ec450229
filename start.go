package kiln

import (
	"context"
	"fmt"
	"time"

	"github.com/kiln-framework/kiln/internal/config"
	"github.com/kiln-framework/kiln/internal/hooks"
	"github.com/kiln-framework/kiln/internal/kserver"
	"github.com/kiln-framework/kiln/internal/loader"
	"github.com/kiln-framework/kiln/internal/manifest"
	"github.com/kiln-framework/kiln/internal/pipeline"
)

// StartOptions configures the `start` CLI command: serving a
// previously built output tree in production, with no watcher, no
// compiler, and no telemetry.
type StartOptions struct {
	Host string
	Port int

	HTTPS    bool
	CertFile string
	KeyFile  string
}

// Server is a running production listener.
type Server struct {
	http *kserver.Server
}

// Start loads the manifest previously published under opts.OutputRoot
// by Build, builds a pipeline serving it, and binds a listener. It does
// not watch for file changes or rebuild; a changed route tree requires
// a fresh Build and restart.
func Start(opts Options, start StartOptions) (*Server, error) {
	opts.applyDefaults()

	_, cfgOpts, err := loadOptions(opts, "prod")
	if err != nil {
		return nil, err
	}
	if start.Host != "" {
		cfgOpts.Server.Host = start.Host
	}
	if start.Port != 0 {
		cfgOpts.Server.Port = start.Port
	}

	store := manifest.New(opts.OutputRoot)
	entries, err := store.Load()
	if err != nil {
		return nil, fmt.Errorf("kiln: loading manifest (did you run `build` first?): %w", err)
	}
	table, err := pipeline.NewTable(entries)
	if err != nil {
		return nil, fmt.Errorf("kiln: compiling route table: %w", err)
	}

	hb := hooks.New()
	if opts.RegisterHooks != nil {
		opts.RegisterHooks(hb, cfgOpts.Hooks)
	}

	ld := loader.New(false)
	pipe := pipeline.New("prod", func() *config.Options { return &cfgOpts }, ld, hb, opts.Log)
	pipe.SetTable(table)

	if start.HTTPS && (start.CertFile == "" || start.KeyFile == "") {
		return nil, fmt.Errorf("kiln: --https requires both --cert and --key")
	}

	addr := fmt.Sprintf("%s:%d", cfgOpts.Server.Host, cfgOpts.Server.Port)
	srv := kserver.New(kserver.Options{
		Addr:         addr,
		TLSCertFile:  start.CertFile,
		TLSKeyFile:   start.KeyFile,
		H2C:          !start.HTTPS,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}, pipe, opts.Log)

	if err := srv.Start(); err != nil {
		return nil, fmt.Errorf("kiln: starting server: %w", err)
	}

	return &Server{http: srv}, nil
}

// Shutdown gracefully stops the production listener.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}
