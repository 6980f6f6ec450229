package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadEnvFilesParsesBasicKeyValue(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("FOO=bar\n# comment\n\nBAZ=\"qux\"\n"), 0o644))

	require.NoError(t, LoadEnvFiles(dir))
	defer os.Unsetenv("FOO")
	defer os.Unsetenv("BAZ")

	assert.Equal(t, "bar", os.Getenv("FOO"))
	assert.Equal(t, "qux", os.Getenv("BAZ"))
}

func TestLoadEnvFilesLocalOverridesBase(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("FOO=base\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env.local"), []byte("FOO=local\n"), 0o644))

	require.NoError(t, LoadEnvFiles(dir))
	defer os.Unsetenv("FOO")

	assert.Equal(t, "local", os.Getenv("FOO"))
}

func TestLoadEnvFilesDoesNotOverwriteExistingEnv(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("FOO=fromfile\n"), 0o644))

	t.Setenv("FOO", "preexisting")

	require.NoError(t, LoadEnvFiles(dir))
	assert.Equal(t, "preexisting", os.Getenv("FOO"))
}

func TestLoadEnvFilesMissingFilesAreNotAnError(t *testing.T) {
	dir := t.TempDir()
	assert.NoError(t, LoadEnvFiles(dir))
}
