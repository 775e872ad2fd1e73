package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := loadConfig("")
	require.NoError(t, err)
	assert.Equal(t, "PT5M", cfg.WorkflowCacheTTL)
	assert.Equal(t, 30*time.Second, cfg.SettingsHTTPTimeout)
	assert.Equal(t, "memory", cfg.SettingsCache)
	assert.Equal(t, "workflow-in", cfg.InputQueue)
	assert.Equal(t, 4, cfg.Threads)
	assert.Equal(t, "@every 30s", cfg.HealthSchedule)

	err = cfg.validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "workflows_dir is required")
	assert.Contains(t, err.Error(), "settings_service_url is required")
}

func TestLoadConfig_FileThenEnv(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "docflow.yaml"), []byte(`
workflows_dir: /etc/docflow/workflows
settings_service_url: http://settings:8080
threads: 8
settings_http_timeout: 3s
`), 0o644))
	t.Setenv("DOCFLOW_THREADS", "16")
	t.Setenv("DOCFLOW_WORKFLOW_CACHE_TTL", "PT1H")

	cfg, err := loadConfig("")
	require.NoError(t, err)
	assert.Equal(t, "/etc/docflow/workflows", cfg.WorkflowsDir)
	assert.Equal(t, 16, cfg.Threads, "env wins over file")
	assert.Equal(t, 3*time.Second, cfg.SettingsHTTPTimeout)
	require.NoError(t, cfg.validate())

	ttl, err := cfg.cacheTTL()
	require.NoError(t, err)
	assert.Equal(t, time.Hour, ttl)
}

func TestLoadConfig_ExplicitPathMustExist(t *testing.T) {
	_, err := loadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestConfig_Validate(t *testing.T) {
	valid := func() Config {
		return Config{
			WorkflowsDir:       "/workflows",
			SettingsServiceURL: "http://settings",
			WorkflowCacheTTL:   "PT5M",
			SettingsCache:      "memory",
			Threads:            1,
		}
	}
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"redis without url", func(c *Config) { c.SettingsCache = "redis" }, "redis_url is required"},
		{"unknown cache", func(c *Config) { c.SettingsCache = "disk" }, "settings_cache must be memory or redis"},
		{"bad ttl", func(c *Config) { c.WorkflowCacheTTL = "5 minutes" }, "workflow_cache_ttl"},
		{"no threads", func(c *Config) { c.Threads = 0 }, "threads must be positive"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}

	cfg := valid()
	cfg.SettingsCache, cfg.RedisURL = "redis", "redis://localhost:6379/0"
	assert.NoError(t, cfg.validate())
}
