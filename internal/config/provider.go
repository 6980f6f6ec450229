package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/kiln-framework/kiln/internal/logger"
	"github.com/kiln-framework/kiln/internal/watch"
)

// ValidationError reports a config document that failed validation
// (server.port must be in [1, 65535], at minimum).
type ValidationError struct {
	Key     string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Key, e.Message)
}

// envOverlayKeys maps well-known environment variables onto dotted
// config keys.
var envOverlayKeys = map[string]string{
	"KILN_SERVER_HOST":    "server.host",
	"KILN_SERVER_PORT":    "server.port",
	"KILN_DEBUG":          "debug",
	"KILN_STUDIO_ENABLED": "studio.enabled",
}

// Provider loads, validates, overlays, and watches a config document.
type Provider struct {
	path string
	log  *logger.Logger

	mu      sync.RWMutex
	current Options
	raw     map[string]interface{}

	watcher *watch.Watcher
}

// Load reads path, overlays cliOverrides then well-known environment
// variables (in that order — CLI beats file, env beats CLI, so the
// precedence is environment > explicit flag > file), validates, and
// returns a ready Provider.
func Load(path string, cliOverrides map[string]interface{}, log *logger.Logger) (*Provider, error) {
	raw, err := parseFile(path)
	if err != nil {
		return nil, err
	}

	merged := overlay(raw, cliOverrides)
	merged = overlay(merged, envOverlay())

	opts, err := decode(merged)
	if err != nil {
		return nil, err
	}

	if err := validate(opts); err != nil {
		return nil, err
	}

	return &Provider{path: path, log: log, current: opts, raw: merged}, nil
}

// Current returns the currently live Options.
func (p *Provider) Current() Options {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.current
}

func validate(opts Options) error {
	if opts.Server.Port < 1 || opts.Server.Port > 65535 {
		return &ValidationError{Key: "server.port", Message: "must be in [1, 65535]"}
	}
	return nil
}

// overlay merges override keys (dotted or nested-map, either is
// accepted) on top of base, returning a new map; base is not mutated.
func overlay(base map[string]interface{}, override map[string]interface{}) map[string]interface{} {
	out := deepCopyMap(base)
	for k, v := range override {
		setDotted(out, k, v)
	}
	return out
}

func deepCopyMap(m map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		if nested, ok := v.(map[string]interface{}); ok {
			out[k] = deepCopyMap(nested)
			continue
		}
		out[k] = v
	}
	return out
}

func setDotted(m map[string]interface{}, dottedKey string, value interface{}) {
	parts := splitDotted(dottedKey)
	cur := m
	for i, part := range parts {
		if i == len(parts)-1 {
			cur[part] = value
			return
		}
		next, ok := cur[part].(map[string]interface{})
		if !ok {
			next = map[string]interface{}{}
			cur[part] = next
		}
		cur = next
	}
}

func splitDotted(key string) []string {
	var parts []string
	start := 0
	for i := 0; i < len(key); i++ {
		if key[i] == '.' {
			parts = append(parts, key[start:i])
			start = i + 1
		}
	}
	parts = append(parts, key[start:])
	return parts
}

func envOverlay() map[string]interface{} {
	out := map[string]interface{}{}
	for envVar, dottedKey := range envOverlayKeys {
		v, ok := os.LookupEnv(envVar)
		if !ok {
			continue
		}
		out[dottedKey] = coerceEnvValue(v)
	}
	return out
}

func coerceEnvValue(v string) interface{} {
	if n, err := strconv.Atoi(v); err == nil {
		return n
	}
	if b, err := strconv.ParseBool(v); err == nil {
		return b
	}
	return v
}

// Watch begins watching the config file's directory. On any change it
// reloads and revalidates the document; only on success does it swap
// the live config and invoke onChange with the resulting Diff — a
// failed reload is logged and the previously live config stays in
// effect.
func (p *Provider) Watch(onChange func(Options, []Diff)) error {
	dir := filepath.Dir(p.path)

	w, err := watch.New([]string{dir}, watch.DefaultDebounce, func(path string) bool {
		return path != p.path && filepath.Dir(path) == dir
	})
	if err != nil {
		return err
	}
	p.watcher = w

	go func() {
		for {
			select {
			case ev, ok := <-w.Events():
				if !ok {
					return
				}
				if ev.Path != p.path || ev.Op == watch.Deleted {
					continue
				}
				p.reload(onChange)
			case err, ok := <-w.Errors():
				if !ok {
					return
				}
				p.log.Errorf("config watch error: %v", err)
			}
		}
	}()

	return nil
}

func (p *Provider) reload(onChange func(Options, []Diff)) {
	raw, err := parseFile(p.path)
	if err != nil {
		p.log.Errorf("config reload failed to parse %s: %v", p.path, err)
		return
	}

	merged := overlay(raw, nil)
	merged = overlay(merged, envOverlay())

	opts, err := decode(merged)
	if err != nil {
		p.log.Errorf("config reload failed to decode %s: %v", p.path, err)
		return
	}

	if err := validate(opts); err != nil {
		p.log.Errorf("config reload failed validation: %v", err)
		return
	}

	p.mu.Lock()
	oldRaw := p.raw
	p.raw = merged
	p.current = opts
	p.mu.Unlock()

	diffs := ComputeDiff(oldRaw, merged)
	onChange(opts, diffs)
}

// Close stops the file watcher, if one was started.
func (p *Provider) Close() error {
	if p.watcher == nil {
		return nil
	}
	return p.watcher.Close()
}
