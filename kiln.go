// Package kiln is the public facade of a file-based HTTP API framework
// with an integrated development loop: it discovers route modules laid
// out on disk by convention (internal/scanner), compiles them to
// loadable artifacts (internal/compiler), serves them through a
// middleware pipeline (internal/pipeline), and, in development, runs a
// watch/rebuild/live-telemetry loop (internal/orchestrator,
// internal/telemetry).
//
// Collaborators are constructed per call with no package-global state,
// and exposed as three entry points (StartDev, Build, Start) matching
// the CLI's three commands instead of one
// do-everything type, since the three have genuinely different
// lifetimes (a long-running state machine, a one-shot build, and a
// long-running server with no watch loop).
package kiln

import (
	"fmt"
	"path/filepath"

	"github.com/kiln-framework/kiln/internal/config"
	"github.com/kiln-framework/kiln/internal/hooks"
	"github.com/kiln-framework/kiln/internal/logger"
)

// Options are the filesystem and process settings shared by all three
// entry points. Fields left zero take the defaults below.
type Options struct {
	// ConfigPath is the config document to load. Empty uses
	// "kiln.config.yaml" in RoutesRoot's parent; other extensions are
	// not looked up.
	ConfigPath string

	// RoutesRoot is the directory route modules are scanned from.
	// Defaults to "routes".
	RoutesRoot string

	// OutputRoot is the directory compiled artifacts and routes.json are
	// written to. Defaults to ".kiln".
	OutputRoot string

	// SourceExt is the route module source extension. Defaults to ".go".
	SourceExt string

	// OutputExt is the compiled artifact extension. Defaults to ".so"
	// (a Go plugin, buildmode=plugin).
	OutputExt string

	// GoBinary is the compiler toolchain invoked to build route
	// modules. Defaults to "go".
	GoBinary string

	// GlobalPrefix is prepended to every scanned route's path template.
	GlobalPrefix string

	// CLIOverrides are config values supplied as command-line flags,
	// overlaid between the file and the environment.
	CLIOverrides map[string]interface{}

	// RegisterHooks, if set, is called once at startup (and again after
	// every hook-affecting config reload) to wire lifecycle hook
	// handlers onto a freshly reset Bus. The config document's hooks key
	// carries no function values, only which named hooks exist; the
	// handlers themselves are Go code the host application supplies
	// here.
	RegisterHooks func(*hooks.Bus, map[string]interface{})

	// Log is used if set; otherwise a default logger is created.
	Log *logger.Logger
}

func (o *Options) applyDefaults() {
	if o.RoutesRoot == "" {
		o.RoutesRoot = "routes"
	}
	if o.OutputRoot == "" {
		o.OutputRoot = ".kiln"
	}
	if o.SourceExt == "" {
		o.SourceExt = ".go"
	}
	if o.OutputExt == "" {
		o.OutputExt = ".so"
	}
	if o.GoBinary == "" {
		o.GoBinary = "go"
	}
	if o.Log == nil {
		o.Log = logger.New("kiln")
	}
}

func (o *Options) configPath() string {
	if o.ConfigPath != "" {
		return o.ConfigPath
	}
	return filepath.Join(filepath.Dir(o.RoutesRoot), "kiln.config.yaml")
}

func loadOptions(o Options, env string) (*config.Provider, config.Options, error) {
	provider, err := config.Load(o.configPath(), o.CLIOverrides, o.Log)
	if err != nil {
		return nil, config.Options{}, fmt.Errorf("kiln: loading config: %w", err)
	}
	opts := provider.Current()
	opts.Env = env
	return provider, opts, nil
}

func hookRegistrar(o Options) func(hb *hooks.Bus, hooksOpts map[string]interface{}) {
	if o.RegisterHooks == nil {
		return nil
	}
	return o.RegisterHooks
}
