package common

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tempo.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestNewDefaultConfig_IsValid(t *testing.T) {
	cfg := NewDefaultConfig()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "postgres", cfg.Storage.Type)
	assert.Equal(t, "redis", cfg.Queue.Backend)
	assert.Equal(t, "url_queue", cfg.Queue.URLQueue)
	assert.Equal(t, "jsonld_raw", cfg.Queue.BlobQueue)
	assert.Equal(t, 50, cfg.Normalize.BatchSize)
	assert.Equal(t, 16, cfg.Normalize.FingerprintLength)
	assert.Equal(t, 100, cfg.Discovery.MaxTasksPerPost)
	assert.Equal(t, []string{"Event", "DanceEvent", "SocialDance"}, cfg.Parse.ApprovedTypes)
}

func TestLoadFromFiles_LaterFilesOverride(t *testing.T) {
	first := writeConfig(t, `
[storage]
type = "badger"

[normalize]
batch_size = 10
`)
	second := writeConfig(t, `
[normalize]
batch_size = 25

[normalize.score]
title = 20
`)

	cfg, err := LoadFromFiles(first, second)
	require.NoError(t, err)

	assert.Equal(t, "badger", cfg.Storage.Type)
	assert.Equal(t, 25, cfg.Normalize.BatchSize)
	assert.Equal(t, 20, cfg.Normalize.Score.Title)
	// Untouched keys keep their defaults
	assert.Equal(t, 10, cfg.Normalize.Score.Start)
	assert.Equal(t, "5s", cfg.Normalize.IdleSleep)
}

func TestLoadFromFiles_EnvOverridesFile(t *testing.T) {
	path := writeConfig(t, `
[queue.redis]
address = "redis.internal:6379"

[geocoding]
api_key = "from-file"
`)
	t.Setenv("TEMPO_REDIS_ADDRESS", "127.0.0.1:6380")
	t.Setenv("TEMPO_GEOCODING_API_KEY", "from-env")
	t.Setenv("TEMPO_POSTGRES_DSN", "postgres://tempo@localhost/tempo")
	t.Setenv("TEMPO_LOG_OUTPUT", "stdout, file ,")

	cfg, err := LoadFromFiles(path)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:6380", cfg.Queue.Redis.Address)
	assert.Equal(t, "from-env", cfg.Geocoding.APIKey)
	assert.Equal(t, "postgres://tempo@localhost/tempo", cfg.Storage.Postgres.DSN)
	assert.Equal(t, []string{"stdout", "file"}, cfg.Logging.Output)
}

func TestLoadFromFiles_Errors(t *testing.T) {
	_, err := LoadFromFiles(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)

	_, err = LoadFromFiles(writeConfig(t, `[storage`))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"storage type", func(c *Config) { c.Storage.Type = "sqlite" }},
		{"queue backend", func(c *Config) { c.Queue.Backend = "sqs" }},
		{"duration", func(c *Config) { c.Normalize.IdleSleep = "five seconds" }},
		{"tasks per post", func(c *Config) { c.Discovery.MaxTasksPerPost = 101 }},
		{"poll multiplier", func(c *Config) { c.Discovery.PollMultiplier = 0.5 }},
		{"fingerprint length", func(c *Config) { c.Normalize.FingerprintLength = 41 }},
		{"safety margin", func(c *Config) { c.Geocoding.SafetyMargin = 1 }},
		{"schedule", func(c *Config) { c.Scheduler.Recovery = "*/15 * * * *" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewDefaultConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestApplyFlagOverrides(t *testing.T) {
	cfg := NewDefaultConfig()
	ApplyFlagOverrides(cfg, 9090, "0.0.0.0", "debug")

	assert.True(t, cfg.Server.Enabled, "a port flag enables the status server")
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, "debug", cfg.Logging.Level)

	cfg = NewDefaultConfig()
	ApplyFlagOverrides(cfg, 0, "", "")
	assert.False(t, cfg.Server.Enabled)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestMustDuration(t *testing.T) {
	assert.Equal(t, 5*time.Second, MustDuration("5s", time.Minute))
	assert.Equal(t, time.Minute, MustDuration("", time.Minute))
	assert.Equal(t, time.Minute, MustDuration("soon", time.Minute))
}
