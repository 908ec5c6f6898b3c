package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// isolate keeps user config files and ambient tokens out of a test.
func isolate(t *testing.T) {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(home, ".config"))
	t.Setenv("XDG_DATA_HOME", filepath.Join(home, ".local", "share"))
	t.Setenv("GITHUB_TOKEN", "")
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("OPENAI_BASE_URL", "")
	t.Chdir(t.TempDir())
}

func TestLoad(t *testing.T) {
	ctx := context.Background()

	t.Run("LoadDefaults", func(t *testing.T) {
		isolate(t)
		cfg, err := Load(ctx)
		require.NoError(t, err)

		assert.Equal(t, "localhost", cfg.Server.Host)
		assert.Equal(t, 8080, cfg.Server.Port)
		assert.Equal(t, 30*time.Second, cfg.Server.ReadTimeout)
		assert.Equal(t, 30*time.Second, cfg.Server.WriteTimeout)
		assert.Equal(t, 120*time.Second, cfg.Server.IdleTimeout)
		assert.Equal(t, 10*time.Second, cfg.Server.ShutdownTimeout)

		assert.Equal(t, "info", cfg.Logging.Level)
		assert.Equal(t, "console", cfg.Logging.Format)

		assert.Equal(t, "file", cfg.Storage.Backend)
		assert.Equal(t, "reports", cfg.Storage.Prefix)
		assert.Equal(t, 4, cfg.Storage.MaxRetries)
		assert.Equal(t, "jobs.yaml", cfg.JobsFile)
		assert.Equal(t, "https://api.github.com", cfg.GitHub.APIURL)
		assert.Equal(t, 60*time.Second, cfg.LLM.Timeout)
		assert.Equal(t, "@every 5m", cfg.Scheduler.Tick)
		assert.Equal(t, 1, cfg.Scheduler.Concurrency)

		assert.True(t, cfg.Ledger.Enabled)
		assert.Equal(t, "ledger.db", filepath.Base(cfg.Ledger.Path))
		assert.Empty(t, cfg.File)
	})

	t.Run("RuntimeOverrides", func(t *testing.T) {
		isolate(t)
		cfg, err := Load(ctx, map[string]any{
			"server":  map[string]any{"port": 9000, "host": "0.0.0.0"},
			"logging": map[string]any{"level": "debug"},
		})
		require.NoError(t, err)

		assert.Equal(t, "0.0.0.0", cfg.Server.Host)
		assert.Equal(t, 9000, cfg.Server.Port)
		assert.Equal(t, "debug", cfg.Logging.Level)
		assert.Equal(t, "console", cfg.Logging.Format)
	})

	t.Run("EnvOverrides", func(t *testing.T) {
		isolate(t)
		t.Setenv("CADENCE_SERVER_PORT", "3000")
		t.Setenv("CADENCE_LOGGING_LEVEL", "warn")
		t.Setenv("CADENCE_LEDGER_ENABLED", "false")
		t.Setenv("CADENCE_SERVER_READ_TIMEOUT", "45s")

		cfg, err := Load(ctx)
		require.NoError(t, err)

		assert.Equal(t, 3000, cfg.Server.Port)
		assert.Equal(t, "warn", cfg.Logging.Level)
		assert.False(t, cfg.Ledger.Enabled)
		assert.Empty(t, cfg.Ledger.Path)
		assert.Equal(t, 45*time.Second, cfg.Server.ReadTimeout)
	})

	t.Run("FallbackEnv", func(t *testing.T) {
		isolate(t)
		t.Setenv("GITHUB_TOKEN", "ghp_fallback")
		cfg, err := Load(ctx)
		require.NoError(t, err)
		assert.Equal(t, "ghp_fallback", cfg.GitHub.Token)

		t.Setenv("CADENCE_GITHUB_TOKEN", "ghp_primary")
		cfg, err = Load(ctx)
		require.NoError(t, err)
		assert.Equal(t, "ghp_primary", cfg.GitHub.Token)
	})

	t.Run("ConfigPrecedence", func(t *testing.T) {
		isolate(t)
		dir := t.TempDir()
		path := filepath.Join(dir, "cadence.yaml")
		require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 4500\n  host: filehost\nstorage:\n  prefix: custom\n"), 0o644))
		t.Setenv("CADENCE_SERVER_PORT", "4000")

		cfg, err := LoadFile(ctx, path, map[string]any{"server": map[string]any{"port": 5000}})
		require.NoError(t, err)

		assert.Equal(t, 5000, cfg.Server.Port, "runtime beats env")
		assert.Equal(t, "filehost", cfg.Server.Host, "file beats default")
		assert.Equal(t, "custom", cfg.Storage.Prefix)
		assert.Equal(t, path, cfg.File)

		cfg, err = LoadFile(ctx, path)
		require.NoError(t, err)
		assert.Equal(t, 4000, cfg.Server.Port, "env beats file")
	})

	t.Run("DiscoversFileInWorkingDir", func(t *testing.T) {
		isolate(t)
		require.NoError(t, os.WriteFile("cadence.yaml", []byte("jobs_file: ops/jobs.yaml\n"), 0o644))
		cfg, err := Load(ctx)
		require.NoError(t, err)
		assert.Equal(t, "ops/jobs.yaml", cfg.JobsFile)
	})

	t.Run("MissingExplicitFile", func(t *testing.T) {
		isolate(t)
		_, err := LoadFile(ctx, filepath.Join(t.TempDir(), "nope.yaml"))
		assert.Error(t, err)
	})
}

func TestLoad_Validation(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name      string
		overrides map[string]any
		wantKey   string
	}{
		{"bad level", map[string]any{"logging": map[string]any{"level": "loud"}}, "logging.level"},
		{"s3 needs bucket", map[string]any{"storage": map[string]any{"backend": "s3"}}, "storage.bucket"},
		{"unknown backend", map[string]any{"storage": map[string]any{"backend": "ftp"}}, "storage.backend"},
		{"port range", map[string]any{"server": map[string]any{"port": 70000}}, "server.port"},
		{"concurrency", map[string]any{"scheduler": map[string]any{"concurrency": 0}}, "scheduler.concurrency"},
		{"api url", map[string]any{"github": map[string]any{"api_url": "not a url"}}, "github.api_url"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			isolate(t)
			_, err := Load(ctx, tt.overrides)
			require.Error(t, err)
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Contains(t, verr.Error(), tt.wantKey)
		})
	}
}

func TestEnvName(t *testing.T) {
	assert.Equal(t, "CADENCE_SERVER_READ_TIMEOUT", EnvName("server.read_timeout"))
	assert.Equal(t, "CADENCE_JOBS_FILE", EnvName("jobs_file"))

	for _, k := range Keys() {
		assert.Contains(t, EnvName(k), "CADENCE_")
	}
}

func TestKeyOf(t *testing.T) {
	assert.Equal(t, "server.read_timeout", keyOf("Config.Server.ReadTimeout"))
	assert.Equal(t, "github.api_url", keyOf("Config.GitHub.APIURL"))
	assert.Equal(t, "llm.base_url", keyOf("Config.LLM.BaseURL"))
	assert.Equal(t, "jobs_file", keyOf("Config.JobsFile"))
}
