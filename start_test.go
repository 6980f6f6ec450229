package kiln

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTestConfig(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "kiln.config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  host: 127.0.0.1\n  port: 18299\n"), 0o644))
	return path
}

func TestStartFailsWithoutAPriorBuild(t *testing.T) {
	dir := t.TempDir()
	opts := Options{
		ConfigPath: writeTestConfig(t, dir),
		RoutesRoot: filepath.Join(dir, "routes"),
		OutputRoot: filepath.Join(dir, "missing-output"),
		Log:        silentLog(),
	}

	_, err := Start(opts, StartOptions{})
	assert.Error(t, err)
}

func TestStartServesAPreviouslyBuiltManifest(t *testing.T) {
	dir := t.TempDir()
	routes := filepath.Join(dir, "routes")
	require.NoError(t, os.MkdirAll(routes, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(routes, "hello.get.go"), []byte("package routes"), 0o644))

	out := filepath.Join(dir, "out")
	buildOpts := Options{
		RoutesRoot: routes,
		OutputRoot: out,
		GoBinary:   writeFakeGoBinary(t),
		Log:        silentLog(),
	}
	_, err := Build(buildOpts)
	require.NoError(t, err)

	opts := Options{
		ConfigPath: writeTestConfig(t, dir),
		RoutesRoot: routes,
		OutputRoot: out,
		Log:        silentLog(),
	}

	srv, err := Start(opts, StartOptions{})
	require.NoError(t, err)
	require.NotNil(t, srv)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, srv.Shutdown(ctx))
}

func TestStartRejectsHTTPSWithoutCertAndKey(t *testing.T) {
	dir := t.TempDir()
	routes := filepath.Join(dir, "routes")
	require.NoError(t, os.MkdirAll(routes, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(routes, "hello.get.go"), []byte("package routes"), 0o644))

	out := filepath.Join(dir, "out")
	_, err := Build(Options{RoutesRoot: routes, OutputRoot: out, GoBinary: writeFakeGoBinary(t), Log: silentLog()})
	require.NoError(t, err)

	opts := Options{
		ConfigPath: writeTestConfig(t, dir),
		RoutesRoot: routes,
		OutputRoot: out,
		Log:        silentLog(),
	}

	_, err = Start(opts, StartOptions{HTTPS: true})
	assert.Error(t, err)
}
