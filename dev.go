package kiln

import (
	"context"
	"net/http"
	"time"

	"github.com/kiln-framework/kiln/internal/eventbus"
	"github.com/kiln-framework/kiln/internal/kserver"
	"github.com/kiln-framework/kiln/internal/manifest"
	"github.com/kiln-framework/kiln/internal/orchestrator"
	"github.com/kiln-framework/kiln/internal/pipeline"
	"github.com/kiln-framework/kiln/internal/telemetry"
)

// DevOptions configures the `dev` CLI command: a long-running
// watch/rebuild/serve/telemetry loop.
type DevOptions struct {
	Host string // overrides config's server.host when non-empty
	Port int    // overrides config's server.port when non-zero

	// NoWatch disables the file watcher (`dev --no-watch`): one full
	// build runs at startup and the server keeps serving it, but source
	// changes are never picked up.
	NoWatch bool

	// NoStudio disables the telemetry fan-out regardless of the loaded
	// config's studio.enabled (`dev --no-studio`).
	NoStudio bool
}

// Dev wraps a running dev-loop orchestrator.
type Dev struct {
	orch *orchestrator.Orchestrator
}

// StartDev constructs the dev loop and starts it in a background
// goroutine, returning immediately (it does not wait for Running; poll
// State to observe startup). The returned channel receives the result of
// the orchestrator's Run. Stop triggers graceful shutdown.
func StartDev(ctx context.Context, opts Options, dev DevOptions) (*Dev, <-chan error) {
	opts.applyDefaults()

	noStudio := dev.NoStudio
	host, port := dev.Host, dev.Port

	var orch *orchestrator.Orchestrator

	telFactory := func(eb *eventbus.Bus, store *manifest.Store, pipe *pipeline.Pipeline, routesRoot string) orchestrator.Telemetry {
		if noStudio {
			return nil
		}
		tel := telemetry.New(telemetry.Deps{
			Options:    orch.Options,
			Store:      store,
			Pipeline:   pipe,
			RoutesRoot: routesRoot,
			Log:        opts.Log,
		})
		if err := tel.Start(); err != nil {
			opts.Log.Warnf("kiln: telemetry did not start: %v", err)
			return nil
		}
		tel.Attach(eb)
		return tel
	}

	factory := func(addr string, handler http.Handler) orchestrator.Server {
		return kserver.New(kserver.Options{
			Addr:         addr,
			H2C:          true,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
		}, handler, opts.Log)
	}

	deps := orchestrator.Deps{
		ConfigPath:       opts.configPath(),
		CLIOverrides:     overrideHostPort(opts.CLIOverrides, host, port),
		RoutesRoot:       opts.RoutesRoot,
		OutputRoot:       opts.OutputRoot,
		SourceExt:        opts.SourceExt,
		OutputExt:        opts.OutputExt,
		GoBinary:         opts.GoBinary,
		Env:              "dev",
		GlobalPrefix:     opts.GlobalPrefix,
		Log:              opts.Log,
		ServerFactory:    factory,
		HookRegistrar:    hookRegistrar(opts),
		TelemetryFactory: telFactory,
		DisableWatch:     dev.NoWatch,
	}

	orch = orchestrator.New(deps)

	errCh := make(chan error, 1)
	go func() { errCh <- orch.Run(ctx) }()

	return &Dev{orch: orch}, errCh
}

// overrideHostPort layers explicit --host/--port flags over any other
// CLI overrides already collected, matching config's own
// CLI-beats-file/env-beats-CLI precedence (internal/config/provider.go).
func overrideHostPort(overrides map[string]interface{}, host string, port int) map[string]interface{} {
	out := map[string]interface{}{}
	for k, v := range overrides {
		out[k] = v
	}
	if host != "" {
		out["server.host"] = host
	}
	if port != 0 {
		out["server.port"] = port
	}
	return out
}

// Stop requests a graceful shutdown of the dev loop and waits for it to
// finish.
func (d *Dev) Stop() {
	d.orch.Stop()
	<-d.orch.Done()
}

// State returns the orchestrator's current lifecycle state.
func (d *Dev) State() orchestrator.State { return d.orch.State() }
