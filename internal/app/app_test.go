package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"moniteur/internal/domain"
)

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func newFlags(t *testing.T, args ...string) *pflag.FlagSet {
	t.Helper()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	AddSharedFlags(fs)
	fs.Int("workers", 0, "")
	require.NoError(t, fs.Parse(args))
	return fs
}

func TestBootstrap(t *testing.T) {
	for _, name := range []string{"ASSETS", "PORT", "DATABASE_URL", "USERNAME", "PASSWORD"} {
		t.Setenv(name, "")
	}
	dir := t.TempDir()
	configPath := writeFile(t, dir, "moniteur.yml", `
store:
  backend: sqlite
  dsn: `+filepath.Join(dir, "metrics.db")+`
log:
  dir: `+filepath.Join(dir, "logs")+`
assets:
  - id: demo
    name: Demo
    sourceType: static
    params:
      value: "7"
`)

	fs := newFlags(t, "--config", configPath, "--env-file", filepath.Join(dir, "none.env"), "--store-backend", "badger", "--store-dsn", filepath.Join(dir, "kv"), "--workers", "3")
	a, err := Bootstrap("ingest", fs, map[string]string{"workers": "recorder.workers"})
	require.NoError(t, err)

	assert.Equal(t, "badger", a.Config.Store.Backend, "flags override the file")
	assert.Equal(t, 3, a.Config.Recorder.Workers)
	assert.Equal(t, 1, a.Registry.Current().Len())

	require.NoError(t, a.Store.Write(context.Background(), domain.DataPoint{AssetID: "demo", Timestamp: 1, Value: 7}))
	require.NoError(t, a.Close())
	assert.FileExists(t, filepath.Join(dir, "logs", "ingest-moniteur.log"))
}

func TestBootstrap_InvalidAssets(t *testing.T) {
	for _, name := range []string{"ASSETS", "PORT", "DATABASE_URL", "USERNAME", "PASSWORD"} {
		t.Setenv(name, "")
	}
	dir := t.TempDir()
	configPath := writeFile(t, dir, "moniteur.yml", `
store:
  backend: badger
  dsn: ":memory:"
log:
  dir: `+filepath.Join(dir, "logs")+`
assets:
  - id: demo
    name: Demo
    sourceType: static
  - id: demo
    name: Again
    sourceType: static
`)

	_, err := Bootstrap("ingest", newFlags(t, "--config", configPath), nil)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate")
}
