package kiln

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kiln-framework/kiln/internal/orchestrator"
)

func TestStartDevReachesRunningAndStopsCleanly(t *testing.T) {
	dir := t.TempDir()
	routes := filepath.Join(dir, "routes")
	require.NoError(t, os.MkdirAll(routes, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(routes, "hello.get.go"), []byte("package routes"), 0o644))

	cfgPath := filepath.Join(dir, "kiln.config.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("server:\n  host: 127.0.0.1\n  port: 18199\n"), 0o644))

	opts := Options{
		ConfigPath: cfgPath,
		RoutesRoot: routes,
		OutputRoot: filepath.Join(dir, "out"),
		GoBinary:   writeFakeGoBinary(t),
		Log:        silentLog(),
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dev, errCh := StartDev(ctx, opts, DevOptions{NoWatch: true, NoStudio: true})

	require.Eventually(t, func() bool {
		return dev.State() == orchestrator.Running
	}, 5*time.Second, 20*time.Millisecond)

	dev.Stop()

	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("dev loop did not exit after Stop")
	}
}

func TestOverrideHostPortLayersOverExistingCLIOverrides(t *testing.T) {
	base := map[string]interface{}{"debug": true}

	out := overrideHostPort(base, "0.0.0.0", 9090)

	require.Equal(t, true, out["debug"])
	require.Equal(t, "0.0.0.0", out["server.host"])
	require.Equal(t, 9090, out["server.port"])

	// the original map is untouched
	_, hasHost := base["server.host"]
	require.False(t, hasHost)
}

func TestOverrideHostPortLeavesUnsetFieldsAbsent(t *testing.T) {
	out := overrideHostPort(nil, "", 0)
	_, hasHost := out["server.host"]
	_, hasPort := out["server.port"]
	require.False(t, hasHost)
	require.False(t, hasPort)
}
