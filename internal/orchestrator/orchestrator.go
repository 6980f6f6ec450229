// Package orchestrator implements the dev orchestrator: the state
// machine that owns the file watcher, the config provider, the build
// queue, the running HTTP server, and the telemetry publisher, and
// serializes every lifecycle transition through its own single run
// loop. Any component wishing to transition the state sends a message;
// it does not mutate state directly.
package orchestrator

import (
	"context"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kiln-framework/kiln/internal/compiler"
	"github.com/kiln-framework/kiln/internal/config"
	"github.com/kiln-framework/kiln/internal/eventbus"
	"github.com/kiln-framework/kiln/internal/hooks"
	"github.com/kiln-framework/kiln/internal/loader"
	"github.com/kiln-framework/kiln/internal/logger"
	"github.com/kiln-framework/kiln/internal/manifest"
	"github.com/kiln-framework/kiln/internal/pipeline"
	"github.com/kiln-framework/kiln/internal/watch"
)

// DefaultMaxReloadAttempts is how many times a failed full-restart
// reinitialization is retried before the orchestrator gives up and
// transitions to Stopping.
const DefaultMaxReloadAttempts = 3

// DefaultShutdownGrace is how long in-flight requests are given to
// drain before the HTTP server is forcibly closed.
const DefaultShutdownGrace = 5 * time.Second

// Server abstracts the running HTTP listener so the orchestrator does
// not need to know about TLS/h2c/graceful-shutdown details; the
// orchestrator only needs to start one, stop one, and swap one out on a
// critical config change. internal/kserver provides the production
// implementation.
type Server interface {
	Start() error
	Shutdown(ctx context.Context) error
}

// ServerFactory builds a fresh Server bound to addr, serving handler.
type ServerFactory func(addr string, handler http.Handler) Server

// HookRegistrar rebuilds the hook container from a freshly loaded
// Options.Hooks document. Called on startup and whenever the config
// provider reports a diff under the "hooks." prefix: the container is
// rebuilt from scratch rather than reconciled per key.
type HookRegistrar func(hb *hooks.Bus, hooksOpts map[string]interface{})

// Telemetry is the soft-dependency fan-out. The orchestrator only
// needs to notify it of lifecycle events and close it on shutdown; a
// nil Telemetry is a valid no-op.
type Telemetry interface {
	Notify(eventbus.Event)
	Close() error
}

// TelemetryFactory builds a Telemetry bound to this run's manifest
// store and pipeline, which only exist once initialize() has created
// them — unlike ServerFactory (which just needs an address and a
// handler), telemetry's get-routes/get-manifest/create-route handling
// needs the live collaborators themselves, so it is constructed inside
// initialize() rather than passed in ready-made.
type TelemetryFactory func(eb *eventbus.Bus, store *manifest.Store, pipe *pipeline.Pipeline, routesRoot string) Telemetry

// Deps are the fixed, non-reloadable collaborators an Orchestrator is
// constructed with.
type Deps struct {
	ConfigPath    string
	CLIOverrides  map[string]interface{}
	RoutesRoot    string
	OutputRoot    string
	SourceExt     string // e.g. ".go"
	OutputExt     string // e.g. ".so"
	GoBinary      string // defaults to "go"
	Env           string // "dev" | "prod"
	GlobalPrefix  string
	Log           *logger.Logger
	ServerFactory    ServerFactory
	HookRegistrar    HookRegistrar
	Telemetry        Telemetry
	TelemetryFactory TelemetryFactory

	// DisableWatch skips starting the file watcher (CLI `dev --no-watch`):
	// the orchestrator still runs its full build once and serves, but
	// never reacts to further source changes.
	DisableWatch bool

	MaxReloadAttempts int
	ShutdownGrace     time.Duration
}

// Orchestrator drives the dev-loop state machine.
type Orchestrator struct {
	deps Deps

	state atomic.Int32

	log *logger.Logger
	eb  *eventbus.Bus
	hb  *hooks.Bus

	provider *config.Provider
	optsMu   sync.RWMutex
	opts     config.Options

	comp  *compiler.Compiler
	store *manifest.Store
	ld    *loader.Loader
	pipe  *pipeline.Pipeline

	routeWatcher *watch.Watcher
	server       Server

	buildMu        sync.Mutex // serializes build execution (single worker)
	configChangeCh chan configChangeMsg
	stopCh         chan struct{}
	stopped        chan struct{}
	stopOnce       sync.Once

	exitErr error
}

type configChangeMsg struct {
	opts  config.Options
	diffs []config.Diff
}

// New constructs an Orchestrator. It performs no I/O; call Run to start
// it.
func New(deps Deps) *Orchestrator {
	if deps.GoBinary == "" {
		deps.GoBinary = "go"
	}
	if deps.MaxReloadAttempts <= 0 {
		deps.MaxReloadAttempts = DefaultMaxReloadAttempts
	}
	if deps.ShutdownGrace <= 0 {
		deps.ShutdownGrace = DefaultShutdownGrace
	}
	o := &Orchestrator{
		deps:           deps,
		log:            deps.Log,
		eb:             eventbus.New(),
		hb:             hooks.New(),
		configChangeCh: make(chan configChangeMsg, 8),
		stopCh:         make(chan struct{}),
		stopped:        make(chan struct{}),
	}
	o.state.Store(int32(Uninitialized))
	return o
}

// State returns the orchestrator's current state.
func (o *Orchestrator) State() State { return State(o.state.Load()) }

func (o *Orchestrator) setState(s State) {
	o.state.Store(int32(s))
	o.log.Infof("orchestrator: state -> %s", s)
}

// EventBus returns the orchestrator's event bus, for a telemetry fan-out
// or test to subscribe to lifecycle events.
func (o *Orchestrator) EventBus() *eventbus.Bus { return o.eb }

// Hooks returns the orchestrator's hook bus.
func (o *Orchestrator) Hooks() *hooks.Bus { return o.hb }

// Options returns a snapshot of the currently live config.
func (o *Orchestrator) Options() *config.Options {
	o.optsMu.RLock()
	defer o.optsMu.RUnlock()
	opts := o.opts
	return &opts
}

func (o *Orchestrator) setOptions(opts config.Options) {
	o.optsMu.Lock()
	o.opts = opts
	o.optsMu.Unlock()
}

// Run drives the full Uninitialized -> Running lifecycle and blocks
// until ctx is cancelled or Stop is called, at which point it runs the
// Stopping sequence and returns. A critical config change restarts the
// collaborators in place without Run itself returning.
func (o *Orchestrator) Run(ctx context.Context) error {
	attempt := 0
	for {
		restart, err := o.runOnce(ctx)
		if err != nil {
			attempt++
			if attempt > o.deps.MaxReloadAttempts {
				o.setState(Stopping)
				o.exitErr = err
				close(o.stopped)
				return err
			}
			backoff := time.Duration(attempt) * time.Second
			o.log.Warnf("orchestrator: reinitialization failed (attempt %d/%d), retrying in %s: %v",
				attempt, o.deps.MaxReloadAttempts, backoff, err)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				close(o.stopped)
				return ctx.Err()
			case <-o.stopCh:
				close(o.stopped)
				return nil
			}
			continue
		}
		if !restart {
			close(o.stopped)
			return nil
		}
		attempt = 0
		o.setState(Restarting)
	}
}

// Stop requests a graceful shutdown; Run returns once it completes.
func (o *Orchestrator) Stop() {
	o.stopOnce.Do(func() { close(o.stopCh) })
}

// Done reports when Run has fully returned, for callers that called
// Stop and want to wait.
func (o *Orchestrator) Done() <-chan struct{} { return o.stopped }

func (o *Orchestrator) runOnce(ctx context.Context) (restart bool, err error) {
	if err := o.initialize(); err != nil {
		return false, err
	}

	if err := o.startRunning(); err != nil {
		if o.routeWatcher != nil {
			o.routeWatcher.Close()
		}
		if o.provider != nil {
			o.provider.Close()
		}
		return false, err
	}
	o.setState(Running)

	var fileEvents <-chan watch.Event
	var fileErrs <-chan error
	if o.routeWatcher != nil {
		fileEvents = o.routeWatcher.Events()
		fileErrs = o.routeWatcher.Errors()
	}

	for {
		select {
		case ev, ok := <-fileEvents:
			if !ok {
				fileEvents = nil
				continue
			}
			o.handleFileEvent(ev)

		case err := <-fileErrs:
			o.log.Errorf("orchestrator: watcher error: %v", err)
			o.eb.Emit(eventbus.WatcherError, err)

		case cc := <-o.configChangeCh:
			if config.IsCritical(cc.diffs) {
				o.teardownRunning()
				return true, nil
			}
			o.applySoftConfigChange(cc)

		case <-ctx.Done():
			o.runShutdownSequence(context.Background())
			return false, nil

		case <-o.stopCh:
			o.runShutdownSequence(context.Background())
			return false, nil
		}
	}
}

func (o *Orchestrator) initialize() error {
	o.setState(Initializing)

	provider, err := config.Load(o.deps.ConfigPath, o.deps.CLIOverrides, o.log)
	if err != nil {
		return fmt.Errorf("orchestrator: loading config: %w", err)
	}
	o.provider = provider
	opts := provider.Current()
	opts.Env = o.deps.Env
	o.setOptions(opts)

	if o.deps.HookRegistrar != nil {
		o.hb.Reset()
		o.deps.HookRegistrar(o.hb, opts.Hooks)
	}

	o.comp = compiler.New(compiler.Options{
		SourceRoot: o.deps.RoutesRoot,
		OutputRoot: o.deps.OutputRoot,
		OutputExt:  o.deps.OutputExt,
		GoBinary:   o.deps.GoBinary,
	}, o.log)
	o.store = manifest.New(o.deps.OutputRoot)
	o.ld = loader.New(o.deps.Env == "dev")
	o.pipe = pipeline.New(o.deps.Env, o.Options, o.ld, o.hb, o.log)

	if o.deps.TelemetryFactory != nil {
		o.deps.Telemetry = o.deps.TelemetryFactory(o.eb, o.store, o.pipe, o.deps.RoutesRoot)
	}

	if !o.deps.DisableWatch {
		rw, err := watch.New([]string{o.deps.RoutesRoot}, watch.DefaultDebounce, o.ignoreForRouteWatch)
		if err != nil {
			return fmt.Errorf("orchestrator: starting route watcher: %w", err)
		}
		o.routeWatcher = rw
		o.eb.Emit(eventbus.WatcherReady, nil)
	}

	if err := o.fullBuild(); err != nil {
		o.log.Errorf("orchestrator: initial build failed: %v", err)
		o.eb.Emit(eventbus.BuildError, err)
	}

	if err := o.provider.Watch(func(opts config.Options, diffs []config.Diff) {
		select {
		case o.configChangeCh <- configChangeMsg{opts: opts, diffs: diffs}:
		case <-o.stopCh:
		}
	}); err != nil {
		o.log.Warnf("orchestrator: config watch not started: %v", err)
	}

	o.eb.Emit(eventbus.Name("initialized"), nil)
	return nil
}

// ignoreForRouteWatch excludes the output root from the route tree
// watch, which matters whenever the output root is nested inside the
// routes root.
func (o *Orchestrator) ignoreForRouteWatch(path string) bool {
	if o.deps.OutputRoot == "" {
		return false
	}
	rel, err := filepath.Rel(o.deps.OutputRoot, path)
	if err != nil {
		return false
	}
	return !strings.HasPrefix(rel, "..")
}

func (o *Orchestrator) startRunning() error {
	if o.deps.ServerFactory == nil {
		return fmt.Errorf("orchestrator: no ServerFactory configured")
	}
	opts := o.Options()
	addr := fmt.Sprintf("%s:%d", opts.Server.Host, opts.Server.Port)
	o.eb.Emit(eventbus.ServerStarting, addr)
	o.server = o.deps.ServerFactory(addr, o.pipe)
	if err := o.server.Start(); err != nil {
		o.eb.Emit(eventbus.ServerError, err)
		return fmt.Errorf("orchestrator: starting http server: %w", err)
	}
	o.eb.Emit(eventbus.ServerStarted, addr)
	return nil
}

// teardownRunning stops the watcher, config watch, and server without
// running the full Stopping sequence, in preparation for a restart.
func (o *Orchestrator) teardownRunning() {
	o.eb.Emit(eventbus.ServerStopping, nil)
	ctx, cancel := context.WithTimeout(context.Background(), o.deps.ShutdownGrace)
	defer cancel()
	if o.server != nil {
		o.server.Shutdown(ctx)
	}
	if o.deps.Telemetry != nil {
		o.deps.Telemetry.Close()
	}
	if o.routeWatcher != nil {
		o.routeWatcher.Close()
	}
	if o.provider != nil {
		o.provider.Close()
	}
	o.eb.Emit(eventbus.ServerStopped, nil)
}

// runShutdownSequence runs the six-step cancellation order.
func (o *Orchestrator) runShutdownSequence(parent context.Context) {
	o.setState(Stopping)

	ctx, cancel := context.WithTimeout(parent, o.deps.ShutdownGrace)
	defer cancel()

	if o.server != nil {
		o.server.Shutdown(ctx) // (i) stop accepting connections, let in-flight drain, then force
	}
	if o.deps.Telemetry != nil {
		o.deps.Telemetry.Close() // (ii) cancel telemetry task
	}
	if o.routeWatcher != nil {
		o.routeWatcher.Close() // (iii) close the watcher
	}
	if o.provider != nil {
		o.provider.Close()
	}

	o.buildMu.Lock() // (v) wait for the current build to finish
	o.buildMu.Unlock()

	o.hb.Fire(hooks.Close, nil) // (vi) fire the close hook
	o.setState(Stopped)
}
