package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "topnote.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func newFlags(t *testing.T, args ...string) *pflag.FlagSet {
	t.Helper()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	RegisterFlags(fs)
	require.NoError(t, fs.Parse(args))
	return fs
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("", nil)
	require.NoError(t, err)
	assert.Equal(t, Default(), *cfg)
	assert.Equal(t, 2*time.Second, cfg.Refresh.Window)
	assert.Equal(t, 100, cfg.Selector.FetchLimit)
}

func TestLoadLayering(t *testing.T) {
	path := writeFile(t, `
database:
  path: /var/lib/topnote/file.db
server:
  addr: 0.0.0.0:9000
log:
  level: debug
policy:
  skip:
    gentle: 1.25
refresh:
  window: 5s
`)

	t.Run("file overrides defaults", func(t *testing.T) {
		cfg, err := Load(path, nil)
		require.NoError(t, err)
		assert.Equal(t, "/var/lib/topnote/file.db", cfg.Database.Path)
		assert.Equal(t, "0.0.0.0:9000", cfg.Server.Addr)
		assert.Equal(t, "debug", cfg.Log.Level)
		assert.Equal(t, 1.25, cfg.Policy.Skip.Gentle)
		assert.Equal(t, 2.0, cfg.Policy.Skip.Normal, "unset siblings keep defaults")
		assert.Equal(t, 5*time.Second, cfg.Refresh.Window)
	})

	t.Run("env overrides file", func(t *testing.T) {
		t.Setenv("TOPNOTE_DATABASE__PATH", "/tmp/env.db")
		t.Setenv("TOPNOTE_SERVER__CORS_ORIGINS", "https://a.example,https://b.example")
		t.Setenv("TOPNOTE_SELECTOR__MAX_RESULTS", "5")
		cfg, err := Load(path, nil)
		require.NoError(t, err)
		assert.Equal(t, "/tmp/env.db", cfg.Database.Path)
		assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.CORSOrigins)
		assert.Equal(t, 5, cfg.Selector.MaxResults)
		assert.Equal(t, "0.0.0.0:9000", cfg.Server.Addr)
	})

	t.Run("explicit flags override env", func(t *testing.T) {
		t.Setenv("TOPNOTE_DATABASE__PATH", "/tmp/env.db")
		t.Setenv("TOPNOTE_LOG__FORMAT", "json")
		cfg, err := Load(path, newFlags(t, "--db", "/tmp/flag.db"))
		require.NoError(t, err)
		assert.Equal(t, "/tmp/flag.db", cfg.Database.Path)
		assert.Equal(t, "json", cfg.Log.Format, "unset flag defaults do not clobber env")
		assert.Equal(t, "debug", cfg.Log.Level, "unset flag defaults do not clobber file")
	})
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"), nil)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty database path", func(c *Config) { c.Database.Path = "" }},
		{"bad log level", func(c *Config) { c.Log.Level = "loud" }},
		{"bad log format", func(c *Config) { c.Log.Format = "xml" }},
		{"zero max results", func(c *Config) { c.Selector.MaxResults = 0 }},
		{"fetch limit below max results", func(c *Config) { c.Selector.FetchLimit = 10; c.Selector.MaxResults = 20 }},
		{"zero refresh window", func(c *Config) { c.Refresh.Window = 0 }},
		{"skip multiplier shortens", func(c *Config) { c.Policy.Skip.Gentle = 0.5 }},
		{"hard multiplier lengthens", func(c *Config) { c.Policy.Hard.Aggressive = 2 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			assert.True(t, errors.Is(err, ErrInvalid), "got %v", err)
		})
	}

	cfg := Default()
	assert.NoError(t, cfg.Validate())
}

func TestLoadRejectsInvalidEnv(t *testing.T) {
	t.Setenv("TOPNOTE_POLICY__EASY__NORMAL", "0.9")
	_, err := Load("", nil)
	assert.True(t, errors.Is(err, ErrInvalid))
}

func TestEnvKey(t *testing.T) {
	assert.Equal(t, "server.cors_origins", envKey("TOPNOTE_SERVER__CORS_ORIGINS"))
	assert.Equal(t, "policy.complete_archives_todo", envKey("TOPNOTE_POLICY__COMPLETE_ARCHIVES_TODO"))
}

func TestEnvValueSplitsLists(t *testing.T) {
	tests := []struct {
		name    string
		env     string
		value   string
		wantKey string
		want    any
	}{
		{"scalar", "TOPNOTE_LOG__LEVEL", "debug", "log.level", "debug"},
		{"scalar keeps commas", "TOPNOTE_DATABASE__PATH", "/tmp/a,b.db", "database.path", "/tmp/a,b.db"},
		{"list", "TOPNOTE_SERVER__CORS_ORIGINS", "https://a.example, https://b.example", "server.cors_origins", []string{"https://a.example", "https://b.example"}},
		{"list drops empty items", "TOPNOTE_SERVER__CORS_ORIGINS", "https://a.example,,", "server.cors_origins", []string{"https://a.example"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key, got := envValue(tt.env, tt.value)
			assert.Equal(t, tt.wantKey, key)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCORSOriginsFromEnvironment(t *testing.T) {
	t.Setenv("TOPNOTE_SERVER__CORS_ORIGINS", "https://a.example,https://b.example")
	cfg, err := Load("", nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.CORSOrigins)
}
