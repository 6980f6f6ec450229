package orchestrator

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kiln-framework/kiln/internal/logger"
)

func writeFakeGoBinary(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	script := filepath.Join(dir, "fakego")
	content := "#!/bin/sh\n" +
		"out=\"\"\n" +
		"src=\"\"\n" +
		"while [ $# -gt 0 ]; do\n" +
		"  case \"$1\" in\n" +
		"    -o) shift; out=\"$1\" ;;\n" +
		"    build|-buildmode=plugin) ;;\n" +
		"    *) src=\"$1\" ;;\n" +
		"  esac\n" +
		"  shift\n" +
		"done\n" +
		"cp \"$src\" \"$out\"\n"
	require.NoError(t, os.WriteFile(script, []byte(content), 0o755))
	return script
}

func newTestLogger() *logger.Logger {
	l := logger.New("orchestrator-test")
	l.Output = discard{}
	return l
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

type fakeServer struct {
	startCalls    int
	shutdownCalls int
	startErr      error
}

func (s *fakeServer) Start() error {
	s.startCalls++
	return s.startErr
}

func (s *fakeServer) Shutdown(ctx context.Context) error {
	s.shutdownCalls++
	return nil
}

func fakeServerFactory(server *fakeServer) ServerFactory {
	return func(addr string, handler http.Handler) Server {
		return server
	}
}

func newTestDeps(t *testing.T, server *fakeServer) Deps {
	t.Helper()
	routesRoot := t.TempDir()
	outputRoot := t.TempDir()
	cfgPath := filepath.Join(t.TempDir(), "kiln.json")
	require.NoError(t, os.WriteFile(cfgPath, []byte(`{"server":{"port":18080}}`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(routesRoot, "index.get.go"), []byte("package routes"), 0o644))

	return Deps{
		ConfigPath:    cfgPath,
		RoutesRoot:    routesRoot,
		OutputRoot:    outputRoot,
		SourceExt:     ".go",
		OutputExt:     ".so",
		GoBinary:      writeFakeGoBinary(t),
		Env:           "dev",
		Log:           newTestLogger(),
		ServerFactory: fakeServerFactory(server),
	}
}

func TestRunReachesRunningAndStartsServer(t *testing.T) {
	server := &fakeServer{}
	o := New(newTestDeps(t, server))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- o.Run(ctx) }()

	require.Eventually(t, func() bool { return o.State() == Running }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, server.startCalls)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after context cancellation")
	}
	assert.Equal(t, 1, server.shutdownCalls)
	assert.Equal(t, Stopped, o.State())
}

func TestStopTriggersShutdownSequence(t *testing.T) {
	server := &fakeServer{}
	o := New(newTestDeps(t, server))

	ctx := context.Background()
	done := make(chan error, 1)
	go func() { done <- o.Run(ctx) }()

	require.Eventually(t, func() bool { return o.State() == Running }, 2*time.Second, 10*time.Millisecond)

	o.Stop()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after Stop")
	}
	assert.Equal(t, Stopped, o.State())
}

func TestInitialBuildPublishesManifestAndServesRoute(t *testing.T) {
	server := &fakeServer{}
	deps := newTestDeps(t, server)
	o := New(deps)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go o.Run(ctx)

	require.Eventually(t, func() bool { return o.State() == Running }, 2*time.Second, 10*time.Millisecond)

	table := o.pipe.Table()
	require.NotNil(t, table)
	assert.Len(t, table.Routes, 1)
	assert.Equal(t, "/", table.Routes[0].PathTemplate)
}

func TestServerStartFailureIsRetriedThenGivesUp(t *testing.T) {
	server := &fakeServer{startErr: assertError{}}
	deps := newTestDeps(t, server)
	deps.MaxReloadAttempts = 1
	o := New(deps)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := o.Run(ctx)
	require.Error(t, err)
	assert.GreaterOrEqual(t, server.startCalls, 2)
}

type assertError struct{}

func (assertError) Error() string { return "fake server start failure" }
