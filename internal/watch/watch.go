// Package watch implements the debounced recursive file watcher shared
// by the config provider and the dev orchestrator: recursive, ignores
// node_modules/VCS metadata/the output root, debounces bursts with a
// stability window of at least 300ms, and emits added/changed/deleted
// per path.
package watch

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Op is the kind of file-system change observed.
type Op int

const (
	Added Op = iota
	Changed
	Deleted
)

func (o Op) String() string {
	switch o {
	case Added:
		return "added"
	case Deleted:
		return "deleted"
	default:
		return "changed"
	}
}

// Event is one debounced, coalesced file-system change.
type Event struct {
	Path string
	Op   Op
}

// DefaultDebounce is the minimum stability window (≥300ms).
const DefaultDebounce = 300 * time.Millisecond

// defaultIgnored names matched anywhere in a path's segments are never
// watched: VCS metadata and the conventional dependency-vendor
// directory name, mirroring what every file-watching dev tool in the
// ecosystem excludes by default.
var defaultIgnoredSegments = map[string]bool{
	".git":         true,
	"node_modules": true,
}

// Watcher recursively watches a set of roots and emits debounced,
// coalesced Events.
type Watcher struct {
	fsw      *fsnotify.Watcher
	debounce time.Duration
	ignore   func(path string) bool

	events chan Event
	errs   chan error

	mu      sync.Mutex
	pending map[string]*pendingEvent
	done    chan struct{}
}

type pendingEvent struct {
	op    Op
	timer *time.Timer
}

// New starts watching every directory under each root recursively.
// ignore, if non-nil, is consulted for every candidate path (file or
// directory) in addition to the built-in VCS/node_modules exclusion;
// a typical caller also excludes the output root here.
func New(roots []string, debounce time.Duration, ignore func(path string) bool) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}

	w := &Watcher{
		fsw:      fsw,
		debounce: debounce,
		ignore:   ignore,
		events:   make(chan Event, 64),
		errs:     make(chan error, 16),
		pending:  make(map[string]*pendingEvent),
		done:     make(chan struct{}),
	}

	for _, root := range roots {
		if err := w.addRecursive(root); err != nil {
			fsw.Close()
			return nil, err
		}
	}

	go w.loop()

	return w, nil
}

func (w *Watcher) shouldIgnore(path string) bool {
	for _, seg := range strings.Split(filepath.ToSlash(path), "/") {
		if defaultIgnoredSegments[seg] {
			return true
		}
	}
	return w.ignore != nil && w.ignore(path)
}

func (w *Watcher) addRecursive(root string) error {
	return filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if w.shouldIgnore(path) {
			if info.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if info.IsDir() {
			return w.fsw.Add(path)
		}
		return nil
	})
}

func (w *Watcher) loop() {
	for {
		select {
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if w.shouldIgnore(ev.Name) {
				continue
			}
			w.schedule(ev)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			select {
			case w.errs <- err:
			default:
			}
		case <-w.done:
			return
		}
	}
}

func (w *Watcher) schedule(ev fsnotify.Event) {
	op := Changed
	switch {
	case ev.Op&fsnotify.Create != 0:
		op = Added
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			w.addRecursive(ev.Name)
		}
	case ev.Op&fsnotify.Remove != 0, ev.Op&fsnotify.Rename != 0:
		op = Deleted
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if p, ok := w.pending[ev.Name]; ok {
		p.timer.Stop()
		// A later delete always supersedes; otherwise the last op wins,
		// except that a pending add stays an add.
		if op == Deleted || p.op != Added {
			p.op = op
		}
		p.timer.Reset(w.debounce)
		return
	}

	p := &pendingEvent{op: op}
	p.timer = time.AfterFunc(w.debounce, func() { w.fire(ev.Name) })
	w.pending[ev.Name] = p
}

func (w *Watcher) fire(path string) {
	w.mu.Lock()
	p, ok := w.pending[path]
	if ok {
		delete(w.pending, path)
	}
	w.mu.Unlock()

	if !ok {
		return
	}

	select {
	case w.events <- Event{Path: path, Op: p.op}:
	case <-w.done:
	}
}

// Events returns the channel of debounced, coalesced events.
func (w *Watcher) Events() <-chan Event { return w.events }

// Errors returns the channel of underlying watcher errors.
func (w *Watcher) Errors() <-chan error { return w.errs }

// Close stops watching and releases OS resources.
func (w *Watcher) Close() error {
	close(w.done)
	return w.fsw.Close()
}
