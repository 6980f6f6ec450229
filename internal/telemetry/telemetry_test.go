package telemetry

import (
	"os"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kiln-framework/kiln/internal/config"
	"github.com/kiln-framework/kiln/internal/eventbus"
	"github.com/kiln-framework/kiln/internal/hooks"
	"github.com/kiln-framework/kiln/internal/loader"
	"github.com/kiln-framework/kiln/internal/logger"
	"github.com/kiln-framework/kiln/internal/manifest"
	"github.com/kiln-framework/kiln/internal/pipeline"
)

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

func testLogger() *logger.Logger {
	l := logger.New("telemetry-test")
	l.Output = discard{}
	return l
}

func newTestService(t *testing.T, opts *config.Options) (*Service, string) {
	t.Helper()

	routesRoot := t.TempDir()
	outputRoot := t.TempDir()
	store := manifest.New(outputRoot)
	ld := loader.New(false)
	log := testLogger()
	pipe := pipeline.New("dev", func() *config.Options { return opts }, ld, hooks.New(), log)

	svc := New(Deps{
		Options:    func() *config.Options { return opts },
		Store:      store,
		Pipeline:   pipe,
		RoutesRoot: routesRoot,
		Log:        log,
	})
	require.NoError(t, svc.Start())
	t.Cleanup(func() { svc.Close() })

	require.Eventually(t, func() bool { return svc.Addr() != nil }, time.Second, 10*time.Millisecond)
	return svc, routesRoot
}

func dialStudio(t *testing.T, svc *Service) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial("ws://"+svc.Addr().String()+"/", nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func baseOpts() *config.Options {
	o := config.Default()
	o.Studio.Enabled = true
	o.Studio.Addr = "127.0.0.1:0"
	return &o
}

func TestStartIsNoOpWhenStudioDisabled(t *testing.T) {
	opts := config.Default()
	opts.Studio.Enabled = false

	svc := New(Deps{Options: func() *config.Options { return &opts }, Log: testLogger()})
	require.NoError(t, svc.Start())
	defer svc.Close()

	assert.Nil(t, svc.Addr())
}

func TestGetRoutesReturnsCurrentTable(t *testing.T) {
	opts := baseOpts()
	svc, _ := newTestService(t, opts)

	entries := []manifest.Entry{
		{Method: "GET", Path: "/hello", Regex: "^/hello$"},
	}
	table, err := pipeline.NewTable(entries)
	require.NoError(t, err)
	svc.deps.Pipeline.SetTable(table)

	conn := dialStudio(t, svc)
	require.NoError(t, conn.WriteJSON(envelope{Type: MsgGetRoutes}))

	var resp envelope
	require.NoError(t, conn.ReadJSON(&resp))
	assert.Equal(t, MsgRoutes, resp.Type)
}

func TestValidateRouteConflictsDetectsOverlap(t *testing.T) {
	opts := baseOpts()
	svc, _ := newTestService(t, opts)

	entries := []manifest.Entry{
		{Method: "GET", Path: "/users/:id", Regex: "^/users/([^/]+)$"},
	}
	table, err := pipeline.NewTable(entries)
	require.NoError(t, err)
	svc.deps.Pipeline.SetTable(table)

	conn := dialStudio(t, svc)
	req := envelope{
		Type:    MsgValidateRouteConflicts,
		Payload: ValidateRouteConflictsPayload{Path: "/users/42", Method: "GET"},
	}
	require.NoError(t, conn.WriteJSON(req))

	var resp envelope
	require.NoError(t, conn.ReadJSON(&resp))
	assert.Equal(t, MsgRouteConflictsValidated, resp.Type)

	var payload RouteConflictsValidatedPayload
	require.NoError(t, decodePayload(resp.Payload, &payload))
	assert.True(t, payload.HasConflicts)
	assert.Contains(t, payload.Conflicts, "/users/:id")
}

func TestCreateRouteWritesFileUnderRoutesRoot(t *testing.T) {
	opts := baseOpts()
	svc, routesRoot := newTestService(t, opts)

	conn := dialStudio(t, svc)
	req := envelope{
		Type: MsgCreateRoute,
		Payload: CreateRoutePayload{
			Path:     "/hello",
			FileName: "hello.get.go",
			FilePath: "hello.get.go",
			Code:     "package routes",
		},
	}
	require.NoError(t, conn.WriteJSON(req))

	var resp envelope
	require.NoError(t, conn.ReadJSON(&resp))
	assert.Equal(t, MsgRouteCreated, resp.Type)

	b, err := os.ReadFile(routesRoot + "/hello.get.go")
	require.NoError(t, err)
	assert.Equal(t, "package routes", string(b))
}

func TestCreateRouteRejectsEscapingPath(t *testing.T) {
	opts := baseOpts()
	svc, _ := newTestService(t, opts)

	conn := dialStudio(t, svc)
	req := envelope{
		Type: MsgCreateRoute,
		Payload: CreateRoutePayload{
			FilePath: "../../etc/evil.get.go",
			Code:     "package routes",
		},
	}
	require.NoError(t, conn.WriteJSON(req))

	var resp envelope
	require.NoError(t, conn.ReadJSON(&resp))
	assert.Equal(t, MsgRouteCreateError, resp.Type)
}

func TestNotifyTranslatesBuildSuccess(t *testing.T) {
	opts := baseOpts()
	svc, _ := newTestService(t, opts)

	conn := dialStudio(t, svc)
	// give the server a moment to register the peer before the notify fires.
	time.Sleep(20 * time.Millisecond)

	svc.Notify(eventbus.Event{Name: eventbus.BuildSuccess})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var resp envelope
	require.NoError(t, conn.ReadJSON(&resp))
	assert.Equal(t, MsgBuildStatus, resp.Type)
}
