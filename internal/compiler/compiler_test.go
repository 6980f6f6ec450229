package compiler

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kiln-framework/kiln/internal/logger"
)

// writeFakeGoBinary writes a tiny shell-script stand-in for `go build` used in tests:
// it just copies its source argument's bytes to -o, so we can exercise the
// compiler's cache/skip/batch logic without invoking the real toolchain.
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
	l := logger.New("test")
	l.Output = discard{}
	return l
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

func TestBuildCompilesNewFiles(t *testing.T) {
	src := t.TempDir()
	out := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(src, "hello.go"), []byte("package routes"), 0o644))

	c := New(Options{SourceRoot: src, OutputRoot: out, GoBinary: writeFakeGoBinary(t)}, newTestLogger())
	result, err := c.Build(context.Background(), []string{filepath.Join(src, "hello.go")})
	require.NoError(t, err)
	assert.Len(t, result.Compiled, 1)
	assert.Empty(t, result.Skipped)

	outPath, err := c.OutputPathFor(filepath.Join(src, "hello.go"))
	require.NoError(t, err)
	_, statErr := os.Stat(outPath)
	assert.NoError(t, statErr)
}

func TestBuildSkipsUpToDateFiles(t *testing.T) {
	src := t.TempDir()
	out := t.TempDir()
	srcFile := filepath.Join(src, "hello.go")
	require.NoError(t, os.WriteFile(srcFile, []byte("package routes"), 0o644))

	c := New(Options{SourceRoot: src, OutputRoot: out, GoBinary: writeFakeGoBinary(t)}, newTestLogger())
	_, err := c.Build(context.Background(), []string{srcFile})
	require.NoError(t, err)

	result, err := c.Build(context.Background(), []string{srcFile})
	require.NoError(t, err)
	assert.Empty(t, result.Compiled)
	assert.Equal(t, []string{srcFile}, result.Skipped)
}

func TestBuildRecompilesAfterSourceChanges(t *testing.T) {
	src := t.TempDir()
	out := t.TempDir()
	srcFile := filepath.Join(src, "hello.go")
	require.NoError(t, os.WriteFile(srcFile, []byte("package routes"), 0o644))

	c := New(Options{SourceRoot: src, OutputRoot: out, GoBinary: writeFakeGoBinary(t)}, newTestLogger())
	_, err := c.Build(context.Background(), []string{srcFile})
	require.NoError(t, err)

	future := time.Now().Add(2 * time.Second)
	require.NoError(t, os.WriteFile(srcFile, []byte("package routes // changed"), 0o644))
	require.NoError(t, os.Chtimes(srcFile, future, future))

	result, err := c.Build(context.Background(), []string{srcFile})
	require.NoError(t, err)
	assert.Equal(t, []string{srcFile}, result.Compiled)
}

func TestBuildFailureReportsCompileFailedError(t *testing.T) {
	src := t.TempDir()
	out := t.TempDir()
	srcFile := filepath.Join(src, "broken.go")
	require.NoError(t, os.WriteFile(srcFile, []byte("package routes"), 0o644))

	c := New(Options{SourceRoot: src, OutputRoot: out, GoBinary: "/nonexistent/go"}, newTestLogger())
	_, err := c.Build(context.Background(), []string{srcFile})
	require.Error(t, err)

	var cf *CompileFailedError
	require.ErrorAs(t, err, &cf)
	assert.Equal(t, srcFile, cf.File)
}

func TestOutputPathForMirrorsSourceTree(t *testing.T) {
	src := t.TempDir()
	out := t.TempDir()
	c := New(Options{SourceRoot: src, OutputRoot: out, OutputExt: ".so"}, newTestLogger())

	got, err := c.OutputPathFor(filepath.Join(src, "users", "[id].get.go"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(out, "users", "[id].get.so"), got)
}
