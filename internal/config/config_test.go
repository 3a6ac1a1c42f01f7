package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load("", nil)
	require.NoError(t, err)
	def := Default()
	assert.Equal(t, def.Lang, cfg.Lang)
	assert.Equal(t, def.Packages.Dir, cfg.Packages.Dir)
	assert.Equal(t, def.Python.WASM, cfg.Python.WASM)
	assert.Equal(t, def.Worker, cfg.Worker)
	assert.Equal(t, def.Serve.Addr, cfg.Serve.Addr)
	assert.Equal(t, def.Log, cfg.Log)
	assert.Zero(t, cfg.Run.Timeout)
	assert.Empty(t, cfg.Packages.Allow)
}

func TestLoadFileEnvAndFlags(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)

	path := filepath.Join(dir, "gorupad.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
lang: py
worker:
  mode: process
run:
  timeout: 5s
packages:
  allow: [lodash, left-pad]
python:
  memory_pages: 512
`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("GORUPAD_LOG_LEVEL=debug\n"), 0o644))
	t.Setenv("GORUPAD_SERVE_ADDR", ":9999")
	t.Cleanup(func() { os.Unsetenv("GORUPAD_LOG_LEVEL") })

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.Duration("timeout", 0, "")
	flags.String("worker", "", "")
	require.NoError(t, flags.Parse([]string{"--timeout=2s"}))

	cfg, err := Load(path, flags)
	require.NoError(t, err)
	assert.Equal(t, "python", cfg.Lang)
	assert.Equal(t, ModeProcess, cfg.Worker.Mode, "unset flag must not override the file")
	assert.Equal(t, 2*time.Second, cfg.Run.Timeout)
	assert.Equal(t, []string{"lodash", "left-pad"}, cfg.Packages.Allow)
	assert.Equal(t, uint32(512), cfg.Python.MemoryPages)
	assert.Equal(t, ":9999", cfg.Serve.Addr)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoadMissingExplicitFile(t *testing.T) {
	t.Chdir(t.TempDir())
	_, err := Load("nope.yaml", nil)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{"defaults", func(*Config) {}, true},
		{"unknown language", func(c *Config) { c.Lang = "ruby" }, false},
		{"unknown mode", func(c *Config) { c.Worker.Mode = "thread" }, false},
		{"remote without url", func(c *Config) { c.Worker.Mode = ModeRemote }, false},
		{"remote with url", func(c *Config) {
			c.Worker.Mode = ModeRemote
			c.Worker.URL = "ws://localhost:8080/ws"
		}, true},
		{"negative timeout", func(c *Config) { c.Run.Timeout = -time.Second }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}
