// Package eventbus implements the in-process dev-loop publish/subscribe bus.
// It is distinct from internal/hooks: hooks are fired by the request
// pipeline for every request, while the event bus carries the
// lower-frequency lifecycle events the dev orchestrator and telemetry
// fan-out consume (file changes, build results, server lifecycle).
package eventbus

import "sync"

// Name identifies an event kind on the bus.
type Name string

// The event names the orchestrator and telemetry fan-out recognize.
const (
	FileAdded      Name = "file:added"
	FileChanged    Name = "file:changed"
	FileDeleted    Name = "file:deleted"
	EnvChanged     Name = "env:changed"
	BuildStarting  Name = "build:starting"
	BuildSuccess   Name = "build:success"
	BuildError     Name = "build:error"
	BuildComplete  Name = "build:complete"
	ServerStarting Name = "server:starting"
	ServerStarted  Name = "server:started"
	ServerStopping Name = "server:stopping"
	ServerStopped  Name = "server:stopped"
	ServerError    Name = "server:error"
	WatcherReady   Name = "watcher:ready"
	WatcherError   Name = "watcher:error"
	ReloadPrefix   Name = "reload:"
)

// Event is the payload passed to every subscriber.
type Event struct {
	Name Name
	Data interface{}
}

// Subscriber receives published events.
type Subscriber func(Event)

// ErrorReporter receives panics recovered from a subscriber.
type ErrorReporter func(name Name, recovered interface{})

// Bus is a typed publish/subscribe bus. Emit fans out to all subscribers of
// an event name concurrently and waits for them all to finish; a
// subscriber's panic is recovered and reported, never propagated.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[Name][]Subscriber
	OnError     ErrorReporter
}

// New returns an empty Bus.
func New() *Bus {
	return &Bus{subscribers: make(map[Name][]Subscriber)}
}

// Subscribe registers sub to be invoked whenever name is emitted.
func (b *Bus) Subscribe(name Name, sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[name] = append(b.subscribers[name], sub)
}

// Emit publishes an event and blocks until every current subscriber for
// that name has been invoked.
func (b *Bus) Emit(name Name, data interface{}) {
	b.mu.RLock()
	subs := append([]Subscriber(nil), b.subscribers[name]...)
	b.mu.RUnlock()

	if len(subs) == 0 {
		return
	}

	ev := Event{Name: name, Data: data}

	var wg sync.WaitGroup
	wg.Add(len(subs))
	for _, sub := range subs {
		sub := sub
		go func() {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil && b.OnError != nil {
					b.OnError(name, r)
				}
			}()
			sub(ev)
		}()
	}
	wg.Wait()
}

// SubscriberCount reports how many subscribers are registered for name.
func (b *Bus) SubscriberCount(name Name) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers[name])
}
