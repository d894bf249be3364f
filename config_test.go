package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaultsWithoutFile(t *testing.T) {
	t.Setenv("GOREQUIRE_DATA_DIR", t.TempDir())

	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoadConfigFromDataDir(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("GOREQUIRE_DATA_DIR", dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("engine: lua\n"), 0644))

	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, EngineLua, cfg.Engine)
}

func TestLoadConfigFile(t *testing.T) {
	p := filepath.Join(t.TempDir(), "go-require.yaml")
	require.NoError(t, os.WriteFile(p, []byte(`
engine: lua
path: [/opt/units, ./vendor]
write_cache: false
journal: off
roots:
  - ./main
timeout: 2s
watch:
  debounce: 250ms
  inplace: true
`), 0644))

	cfg, err := LoadConfig(p)
	require.NoError(t, err)
	assert.Equal(t, EngineLua, cfg.Engine)
	assert.Equal(t, []string{"/opt/units", "./vendor"}, cfg.Path)
	assert.False(t, cfg.WriteCache)
	assert.Equal(t, journalOff, cfg.Journal)
	assert.Equal(t, []string{"./main"}, cfg.Roots)
	assert.Equal(t, 2*time.Second, cfg.Timeout)
	assert.Equal(t, "localhost:8989", cfg.Addr)

	// unset keys keep their defaults
	assert.True(t, cfg.Watch.Enabled)
	assert.True(t, cfg.Watch.Cascade)
	assert.True(t, cfg.Watch.InPlace)
	assert.Equal(t, 250*time.Millisecond, cfg.Watch.Debounce)
}

func TestLoadConfigErrors(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name string
		body string
	}{
		{"unknown engine", "engine: python\n"},
		{"negative debounce", "watch:\n  debounce: -1s\n"},
		{"malformed", "engine: [\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := filepath.Join(dir, tt.name+".yaml")
			require.NoError(t, os.WriteFile(p, []byte(tt.body), 0644))
			_, err := LoadConfig(p)
			assert.Error(t, err)
		})
	}

	_, err := LoadConfig(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}
