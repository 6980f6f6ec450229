// Package telemetry implements the telemetry fan-out: a soft-dependency
// publisher that exposes build statistics, dev-server statistics, the
// live route manifest, log entries, and server process statistics to
// an external UI collaborator over a local WebSocket socket, plus a
// small request/response control channel the collaborator uses to
// query state and author new routes.
//
// The upgrade runs a small dedicated server with its own listener
// rather than a per-request upgrade, since telemetry is not part of the
// request path: failure to deliver never affects the request path.
package telemetry

import (
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/kiln-framework/kiln/internal/config"
	"github.com/kiln-framework/kiln/internal/eventbus"
	"github.com/kiln-framework/kiln/internal/logger"
	"github.com/kiln-framework/kiln/internal/manifest"
	"github.com/kiln-framework/kiln/internal/pipeline"
)

// StatsInterval is the fixed 1 Hz cadence of the periodic stats
// publisher: a single task that periodically snapshots stats and
// pushes them to the collaborator.
const StatsInterval = time.Second

// Deps wires the telemetry service to the rest of the running instance.
type Deps struct {
	Options    func() *config.Options
	Store      *manifest.Store
	Pipeline   *pipeline.Pipeline
	RoutesRoot string
	Log        *logger.Logger
}

// Service is the telemetry fan-out. It satisfies
// internal/orchestrator's Telemetry interface (Notify/Close).
type Service struct {
	deps      Deps
	startedAt time.Time

	upgrader websocket.Upgrader
	server   *http.Server
	listener net.Listener

	mu    sync.Mutex
	peers map[*peer]struct{}

	statsStopCh chan struct{}
	statsDoneCh chan struct{}
}

// peer is one connected collaborator.
type peer struct {
	conn   *websocket.Conn
	writeMu sync.Mutex
}

func (p *peer) send(env *envelope, encoding string) error {
	b, err := encodeEnvelope(env, encoding)
	if err != nil {
		return err
	}
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	msgType := websocket.TextMessage
	if encoding == EncodingMsgpack {
		msgType = websocket.BinaryMessage
	}
	return p.conn.WriteMessage(msgType, b)
}

// New constructs a Service. It does not start listening until Start is
// called.
func New(deps Deps) *Service {
	return &Service{
		deps:      deps,
		startedAt: time.Now(),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
		peers: make(map[*peer]struct{}),
	}
}

// Start binds the studio socket and begins serving collaborator
// connections plus the 1 Hz stats publisher. A no-op (but still
// started, to keep Close symmetrical) when studio.enabled is false.
func (s *Service) Start() error {
	opts := s.deps.Options()
	if !opts.Studio.Enabled {
		return nil
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleUpgrade)
	s.server = &http.Server{Addr: opts.Studio.Addr, Handler: mux}

	ln, err := net.Listen("tcp", opts.Studio.Addr)
	if err != nil {
		return fmt.Errorf("telemetry: binding studio socket: %w", err)
	}
	s.listener = ln

	go func() {
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.deps.Log.Errorf("telemetry: serve error: %v", err)
		}
	}()

	s.statsStopCh = make(chan struct{})
	s.statsDoneCh = make(chan struct{})
	go s.publishStatsLoop()

	return nil
}

// Addr returns the studio socket's bound address, or nil if not
// started or studio is disabled.
func (s *Service) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

func (s *Service) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.deps.Log.Warnf("telemetry: upgrade failed: %v", err)
		return
	}

	p := &peer{conn: conn}
	s.mu.Lock()
	s.peers[p] = struct{}{}
	s.mu.Unlock()

	go s.readLoop(p)
}

func (s *Service) readLoop(p *peer) {
	defer func() {
		s.mu.Lock()
		delete(s.peers, p)
		s.mu.Unlock()
		p.conn.Close()
	}()

	for {
		_, data, err := p.conn.ReadMessage()
		if err != nil {
			return
		}
		req, err := decodeEnvelope(data, s.encoding())
		if err != nil {
			s.deps.Log.Warnf("telemetry: malformed request: %v", err)
			continue
		}
		s.handleRequest(p, req)
	}
}

func (s *Service) encoding() string {
	if s.deps.Options().Studio.StatsEncoding == EncodingMsgpack {
		return EncodingMsgpack
	}
	return EncodingJSON
}

// broadcast pushes env to every connected collaborator, best-effort;
// write failures drop the peer rather than blocking the publisher.
func (s *Service) broadcast(env *envelope) {
	encoding := s.encoding()

	s.mu.Lock()
	peers := make([]*peer, 0, len(s.peers))
	for p := range s.peers {
		peers = append(peers, p)
	}
	s.mu.Unlock()

	for _, p := range peers {
		if err := p.send(env, encoding); err != nil {
			s.deps.Log.Warnf("telemetry: dropping peer after send error: %v", err)
			s.mu.Lock()
			delete(s.peers, p)
			s.mu.Unlock()
			p.conn.Close()
		}
	}
}

// Notify implements internal/orchestrator's Telemetry interface: a
// lifecycle event is translated into the wire message catalog by
// translateEvent and fanned out; events it maps to nothing (everything
// but build success, build error and build complete) are dropped. The
// orchestrator also calls it directly for config reloads (build.go
// applySoftConfigChange), which are dropped the same way.
func (s *Service) Notify(ev eventbus.Event) {
	if s.server == nil {
		return
	}
	env := s.translateEvent(ev)
	if env == nil {
		return
	}
	s.broadcast(env)
}

// Attach subscribes Notify to every lifecycle event name the
// collaborator cares about, so the caller (the root kiln package) only
// needs to wire the bus once instead of listing every event name.
func (s *Service) Attach(eb *eventbus.Bus) {
	for _, name := range []eventbus.Name{
		eventbus.FileAdded, eventbus.FileChanged, eventbus.FileDeleted,
		eventbus.BuildStarting, eventbus.BuildSuccess, eventbus.BuildError, eventbus.BuildComplete,
		eventbus.ServerStarting, eventbus.ServerStarted, eventbus.ServerStopping, eventbus.ServerStopped, eventbus.ServerError,
	} {
		name := name
		eb.Subscribe(name, func(ev eventbus.Event) { s.Notify(ev) })
	}
}

// LogWriter returns an io.Writer a *logger.Logger's Output can be
// tee'd into (via io.MultiWriter) so every structured log line is also
// forwarded as a log-entry message.
func (s *Service) LogWriter() *logWriter {
	return &logWriter{svc: s}
}

type logWriter struct{ svc *Service }

func (w *logWriter) Write(p []byte) (int, error) {
	w.svc.forwardLogLine(p)
	return len(p), nil
}

func (s *Service) forwardLogLine(line []byte) {
	if s.server == nil {
		return
	}
	var fields map[string]interface{}
	if err := json.Unmarshal(line, &fields); err != nil {
		return
	}
	entry := LogEntry{
		ID:        newID(),
		Timestamp: time.Now().UnixMilli(),
		Source:    "kiln",
	}
	if v, ok := fields["level"].(string); ok {
		entry.Level = v
	}
	if v, ok := fields["message"].(string); ok {
		entry.Message = v
	}
	if v, ok := fields["short_file"].(string); ok {
		entry.CallerInfo = v
	}
	s.broadcast(&envelope{Type: MsgLogEntry, Payload: entry})
}

// Close stops the studio listener, the stats publisher, and closes
// every peer connection. Part of orchestrator.Telemetry; called during
// the orchestrator's shutdown sequence.
func (s *Service) Close() error {
	if s.statsStopCh != nil {
		close(s.statsStopCh)
		<-s.statsDoneCh
	}

	s.mu.Lock()
	for p := range s.peers {
		p.conn.Close()
	}
	s.peers = make(map[*peer]struct{})
	s.mu.Unlock()

	if s.server != nil {
		return s.server.Close()
	}
	return nil
}
