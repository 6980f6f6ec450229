package kiln

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kiln-framework/kiln/internal/logger"
	"github.com/kiln-framework/kiln/internal/manifest"
)

// writeFakeGoBinary mirrors internal/compiler's own test helper: a
// shell script standing in for `go build -buildmode=plugin`, so Build
// can be exercised without invoking the real toolchain.
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

func silentLog() *logger.Logger {
	l := logger.New("test")
	l.Enabled = false
	return l
}

func TestBuildScansCompilesAndPublishes(t *testing.T) {
	routes := t.TempDir()
	out := t.TempDir()

	require.NoError(t, os.WriteFile(filepath.Join(routes, "hello.get.go"), []byte("package routes"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(routes, "hello.post.go"), []byte("package routes"), 0o644))

	opts := Options{
		RoutesRoot: routes,
		OutputRoot: out,
		GoBinary:   writeFakeGoBinary(t),
		Log:        silentLog(),
	}

	result, err := Build(opts)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Routes)
	assert.Len(t, result.Compiled, 2)
	assert.Empty(t, result.Skipped)

	store := manifest.New(out)
	entries, err := store.Load()
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestBuildSkipsUnchangedFilesOnSecondRun(t *testing.T) {
	routes := t.TempDir()
	out := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(routes, "hello.get.go"), []byte("package routes"), 0o644))

	opts := Options{RoutesRoot: routes, OutputRoot: out, GoBinary: writeFakeGoBinary(t), Log: silentLog()}

	_, err := Build(opts)
	require.NoError(t, err)

	result, err := Build(opts)
	require.NoError(t, err)
	assert.Empty(t, result.Compiled)
	assert.Len(t, result.Skipped, 1)
}

func TestBuildTreatsMissingRoutesRootAsEmpty(t *testing.T) {
	opts := Options{
		RoutesRoot: filepath.Join(t.TempDir(), "missing"),
		OutputRoot: t.TempDir(),
		GoBinary:   writeFakeGoBinary(t),
		Log:        silentLog(),
	}
	result, err := Build(opts)
	require.NoError(t, err)
	assert.Equal(t, 0, result.Routes)
}
