// Package hooks implements the named lifecycle hook bus: plain Go
// slices of callbacks, no reflection. Handlers for a given hook fire in
// registration order, may run concurrently internally, but the Fire
// call itself only returns once every handler for that hook has
// settled, and a panicking or erroring handler is logged and swallowed
// so it never reaches the request path.
package hooks

import (
	"sync"
)

// Name identifies a lifecycle hook.
type Name string

// The hook names the pipeline and orchestrator fire.
const (
	RequestBefore        Name = "request:before"
	RequestAfter         Name = "request:after"
	RequestError         Name = "request:error"
	MiddlewareBeforeExec Name = "middleware:beforeExecute"
	MiddlewareAfterExec  Name = "middleware:afterExecute"
	MiddlewareError      Name = "middleware:error"
	Close                Name = "close"
)

// Handler is a single hook callback. The payload's shape depends on the
// hook name.
type Handler func(payload interface{})

// ErrorReporter receives panics/errors recovered from a handler so the bus
// never crashes the caller. Set by the owner (typically the kiln instance's
// logger).
type ErrorReporter func(hook Name, recovered interface{})

// Bus is a named-event emitter with fan-out firing.
type Bus struct {
	mu       sync.RWMutex
	handlers map[Name][]Handler
	OnError  ErrorReporter
}

// New returns an empty Bus.
func New() *Bus {
	return &Bus{handlers: make(map[Name][]Handler)}
}

// On registers h for name, appended after any previously registered
// handlers; registration order is preserved for firing order.
func (b *Bus) On(name Name, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[name] = append(b.handlers[name], h)
}

// Reset drops every registered handler. Used when the hooks config key
// changes: the orchestrator rebuilds the hook container from scratch
// rather than reconciling per key.
func (b *Bus) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = make(map[Name][]Handler)
}

// Fire invokes every handler registered for name with payload and returns
// only after all of them have settled. Handlers run concurrently; a
// handler that panics is recovered and reported through OnError, never
// propagated to the caller.
func (b *Bus) Fire(name Name, payload interface{}) {
	b.mu.RLock()
	hs := append([]Handler(nil), b.handlers[name]...)
	b.mu.RUnlock()

	if len(hs) == 0 {
		return
	}

	var wg sync.WaitGroup
	wg.Add(len(hs))
	for _, h := range hs {
		h := h
		go func() {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil && b.OnError != nil {
					b.OnError(name, r)
				}
			}()
			h(payload)
		}()
	}
	wg.Wait()
}

// HandlerCount returns the number of handlers registered for name, mostly
// useful for tests and for the debug hook trace (Options.debug).
func (b *Bus) HandlerCount(name Name) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers[name])
}
