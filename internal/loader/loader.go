// Package loader turns a compiled route artifact's output path into
// its exported handler, middleware chain, and metadata.
//
// Go has no runtime dynamic-import analogue to a JS-style fresh module
// evaluation, but it does have a native mechanism for loading
// separately-compiled code at runtime: the standard library's `plugin`
// package. internal/compiler produces `-buildmode=plugin` artifacts;
// this package `plugin.Open`s them and resolves the route.Handler
// capability off the loaded symbol via a nominal interface check.
package loader

import (
	"fmt"
	"plugin"
	"strings"
	"sync"

	"github.com/kiln-framework/kiln/internal/route"
)

// LoadError reports an artifact that is missing, fails to evaluate, or
// does not export a callable handler.
type LoadError struct {
	OutputPath string
	Reason     string
	Cause      error
}

func (e *LoadError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("load %s: %s: %v", e.OutputPath, e.Reason, e.Cause)
	}
	return fmt.Sprintf("load %s: %s", e.OutputPath, e.Reason)
}

func (e *LoadError) Unwrap() error { return e.Cause }

// opener abstracts plugin.Open so tests can substitute a fake loader.
type opener func(path string) (symbolLookup, error)

type symbolLookup interface {
	Lookup(symName string) (plugin.Symbol, error)
}

type realPlugin struct{ p *plugin.Plugin }

func (r realPlugin) Lookup(name string) (plugin.Symbol, error) { return r.p.Lookup(name) }

func defaultOpener(path string) (symbolLookup, error) {
	p, err := plugin.Open(path)
	if err != nil {
		return nil, err
	}
	return realPlugin{p}, nil
}

// Loader resolves compiled artifacts into route.Modules, with
// development-mode fresh-load-every-call semantics and production-mode
// indefinite caching.
type Loader struct {
	Dev bool

	open opener

	mu    sync.Mutex
	cache map[string]*route.Module
}

// New constructs a Loader. dev selects development semantics (always
// reload) versus production semantics (cache indefinitely).
func New(dev bool) *Loader {
	return &Loader{Dev: dev, open: defaultOpener, cache: make(map[string]*route.Module)}
}

// Load resolves outputPath to its exported route.Module. In development
// mode the cache is never read: the artifact is re-opened and
// re-resolved on every call, and a successful result replaces any
// previous cache entry for this path. In production mode a prior result
// is returned without touching the filesystem again.
func (l *Loader) Load(outputPath string) (*route.Module, error) {
	if !l.Dev {
		l.mu.Lock()
		if m, ok := l.cache[outputPath]; ok {
			l.mu.Unlock()
			return m, nil
		}
		l.mu.Unlock()
	}

	sl, err := l.open(outputPath)
	if err != nil {
		return nil, &LoadError{OutputPath: outputPath, Reason: "artifact missing or failed to evaluate", Cause: err}
	}

	sym, err := sl.Lookup("Route")
	if err != nil {
		return nil, &LoadError{OutputPath: outputPath, Reason: "no exported Route symbol", Cause: err}
	}

	handler, ok := sym.(route.Handler)
	if !ok {
		if hp, ok := sym.(*route.Handler); ok {
			handler = *hp
		} else {
			return nil, &LoadError{OutputPath: outputPath, Reason: "exported Route does not implement Handler"}
		}
	}

	module := &route.Module{Handler: handler, Metadata: make(map[string]interface{})}

	if msym, err := sl.Lookup("Middlewares"); err == nil {
		if mws, ok := msym.(*[]route.Middleware); ok {
			module.Middlewares = *mws
		}
	}
	if mdsym, err := sl.Lookup("Metadata"); err == nil {
		if md, ok := mdsym.(*map[string]interface{}); ok {
			module.Metadata = *md
		}
	}

	l.mu.Lock()
	l.cache[outputPath] = module
	l.mu.Unlock()

	return module, nil
}

// Preload seeds the cache for outputPath with an already-resolved module,
// skipping the plugin.Open/Lookup round trip. Used by tests to stand in
// for a real compiled artifact; the orchestrator's build path does not
// call it and only drops entries (InvalidateUnder) after a compile.
func (l *Loader) Preload(outputPath string, module *route.Module) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cache[outputPath] = module
}

// InvalidateUnder drops every cached module whose output path lies under
// outputRoot: after the compiler publishes a new output, the loader must
// drop entries rooted there so a stale plugin handle is never reused.
func (l *Loader) InvalidateUnder(outputRoot string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	prefix := strings.TrimSuffix(outputRoot, "/") + "/"
	for path := range l.cache {
		if strings.HasPrefix(path, prefix) {
			delete(l.cache, path)
		}
	}
}
