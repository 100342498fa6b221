package config

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

	cfg, err := LoadConfig("")
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, "sqlite3", cfg.Database.Driver)
	assert.Equal(t, "0 8 * * *", cfg.Notify.Schedule)
	assert.Equal(t, 4, cfg.Notify.Concurrency)
	assert.Equal(t, 15, cfg.Notify.SendTimeout)
	assert.Equal(t, 10, cfg.Notify.RepoTimeout)
	assert.Equal(t, 30, cfg.Suggest.Timeout)
	assert.Equal(t, 3600, cfg.Suggest.CacheTTL)
	assert.Equal(t, "none", cfg.Lock.Backend)
	assert.Equal(t, "GiftWise SG <noreply@giftwisesg.com>", cfg.Email.From)
}

func TestLoadConfig_FileThenEnv(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)

	path := filepath.Join(dir, "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"server": {"port": "9000"},
		"notify": {"schedule": "*/5 * * * *", "timezone": "Asia/Singapore", "concurrency": 8},
		"suggest": {"provider": "bedrock"}
	}`), 0o600))

	t.Setenv("NOTIFY_CONCURRENCY", "2")
	t.Setenv("NOTIFY_NUDGES_ENABLED", "false")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "9000", cfg.Server.Port)
	assert.Equal(t, "*/5 * * * *", cfg.Notify.Schedule)
	assert.Equal(t, 2, cfg.Notify.Concurrency, "env wins over file")
	assert.False(t, cfg.Notify.NudgesEnabled)
	assert.True(t, cfg.Notify.RemindersEnabled, "unset values keep their defaults")
	assert.Equal(t, "bedrock", cfg.Suggest.Provider)
}

func TestLoadConfig_DotEnv(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("LOCK_BACKEND=redis\n"), 0o600))
	t.Cleanup(func() { os.Unsetenv("LOCK_BACKEND") })

	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, "redis", cfg.Lock.Backend)
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.json"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"bad schedule", func(c *Config) { c.Notify.Schedule = "daily" }},
		{"bad timezone", func(c *Config) { c.Notify.Timezone = "Mars/Olympus" }},
		{"zero concurrency", func(c *Config) { c.Notify.Concurrency = 0 }},
		{"postgres without url", func(c *Config) { c.Database.Driver = "postgres" }},
		{"unknown driver", func(c *Config) { c.Database.Driver = "mysql" }},
		{"resend without key", func(c *Config) { c.Email.Provider = "resend" }},
		{"unknown suggest provider", func(c *Config) { c.Suggest.Provider = "llama" }},
		{"unknown cache backend", func(c *Config) { c.Suggest.CacheBackend = "memcached" }},
		{"pg lock on sqlite", func(c *Config) { c.Lock.Backend = "postgres" }},
		{"tracing without endpoint", func(c *Config) { c.Tracing.Enabled = true; c.Tracing.Endpoint = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaults()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestSeconds(t *testing.T) {
	assert.Equal(t, 15*time.Second, Seconds(15))
}
