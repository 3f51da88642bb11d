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

// isolateUserConfig keeps the developer's own config file out of the test.
func isolateUserConfig(t *testing.T) {
	t.Helper()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("XDG_DATA_HOME", t.TempDir())
	SetConfigFile("")
	t.Cleanup(func() { SetConfigFile("") })
}

func TestLoad(t *testing.T) {
	ctx := context.Background()

	t.Run("LoadDefaults", func(t *testing.T) {
		isolateUserConfig(t)

		cfg, err := Load(ctx)
		require.NoError(t, err)
		require.NotNil(t, cfg)

		assert.Equal(t, "development", cfg.Environment)

		assert.Equal(t, "localhost", cfg.Server.Host)
		assert.Equal(t, 8080, cfg.Server.Port)
		assert.Equal(t, 30*time.Second, cfg.Server.ReadTimeout)
		assert.Equal(t, 30*time.Second, cfg.Server.WriteTimeout)
		assert.Equal(t, 120*time.Second, cfg.Server.IdleTimeout)
		assert.Equal(t, 10*time.Second, cfg.Server.ShutdownTimeout)

		assert.Equal(t, "libsql", cfg.Store.Driver)
		assert.Equal(t, DefaultStorePath(), cfg.Store.Path)
		assert.Equal(t, "", cfg.Store.URL)

		assert.Equal(t, 24*time.Hour, cfg.Cache.AttackTTL)
		assert.Equal(t, int64(5*1024*1024), cfg.Fetch.MaxBytes)
		assert.Equal(t, 10*time.Second, cfg.FetchTimeout())
		assert.Equal(t, "https://attack-taxii.mitre.org", cfg.Attack.BaseURL)
		assert.NotEmpty(t, cfg.Attack.Collection)
		assert.Equal(t, "", cfg.Redis.URL)

		assert.Equal(t, 500, cfg.Migrate.BatchSize)
		assert.Equal(t, 0.0, cfg.Migrate.MaxWritesPerSecond)
		assert.Equal(t, 5, cfg.Migrate.SampleSize)

		assert.Equal(t, 0.9, cfg.RateLimitMargin)
		assert.Empty(t, cfg.RateLimits)

		assert.Equal(t, "info", cfg.Logging.Level)
		assert.True(t, cfg.Metrics.Enabled)
		assert.Equal(t, 9090, cfg.Metrics.Port)
		assert.True(t, cfg.Health.Enabled)
		assert.False(t, cfg.Debug.PprofEnabled)
	})

	t.Run("RuntimeOverrides", func(t *testing.T) {
		isolateUserConfig(t)

		overrides := map[string]any{
			"server": map[string]any{
				"port": 9000,
				"host": "0.0.0.0",
			},
			"logging": map[string]any{
				"level": "debug",
			},
		}

		cfg, err := Load(ctx, overrides)
		require.NoError(t, err)

		assert.Equal(t, "0.0.0.0", cfg.Server.Host)
		assert.Equal(t, 9000, cfg.Server.Port)
		assert.Equal(t, "debug", cfg.Logging.Level)
		assert.Equal(t, 30*time.Second, cfg.Server.ReadTimeout)
		assert.Equal(t, 9090, cfg.Metrics.Port)
	})

	t.Run("EnvOverrides", func(t *testing.T) {
		isolateUserConfig(t)
		t.Setenv("RISKLEDGER_PORT", "3000")
		t.Setenv("RISKLEDGER_LOG_LEVEL", "warn")
		t.Setenv("RISKLEDGER_METRICS_ENABLED", "false")
		t.Setenv("RISKLEDGER_RATE_LIMIT_MARGIN", "0.8")
		t.Setenv("RISKLEDGER_MIGRATE_MAX_WRITES_PER_SECOND", "25")
		t.Setenv("RISKLEDGER_FETCH_TIMEOUT", "3s")

		cfg, err := Load(ctx)
		require.NoError(t, err)

		assert.Equal(t, 3000, cfg.Server.Port)
		assert.Equal(t, "warn", cfg.Logging.Level)
		assert.False(t, cfg.Metrics.Enabled)
		assert.Equal(t, 0.8, cfg.RateLimitMargin)
		assert.Equal(t, 25.0, cfg.Migrate.MaxWritesPerSecond)
		assert.Equal(t, 3*time.Second, cfg.FetchTimeout())
	})

	t.Run("ConfigPrecedence", func(t *testing.T) {
		isolateUserConfig(t)
		t.Setenv("RISKLEDGER_PORT", "4000")

		overrides := map[string]any{
			"server": map[string]any{
				"port": 5000,
			},
		}

		cfg, err := Load(ctx, overrides)
		require.NoError(t, err)
		assert.Equal(t, 5000, cfg.Server.Port)
	})

	t.Run("ExplicitConfigFile", func(t *testing.T) {
		isolateUserConfig(t)

		path := filepath.Join(t.TempDir(), "config.yaml")
		require.NoError(t, os.WriteFile(path, []byte(`
environment: production
rate_limits:
  attack-taxii.mitre.org: 12
migrate:
  batch_size: 50
`), 0o600))
		SetConfigFile(path)

		cfg, err := Load(ctx)
		require.NoError(t, err)

		assert.Equal(t, "production", cfg.Environment)
		assert.Equal(t, 30*time.Second, cfg.FetchTimeout())
		assert.Equal(t, 12, cfg.RateLimits["attack-taxii.mitre.org"])
		assert.Equal(t, 50, cfg.Migrate.BatchSize)
		assert.Equal(t, 5, cfg.Migrate.SampleSize)
	})

	t.Run("ExplicitConfigFileMissing", func(t *testing.T) {
		isolateUserConfig(t)
		SetConfigFile(filepath.Join(t.TempDir(), "missing.yaml"))

		_, err := Load(ctx)
		require.Error(t, err)
	})

	t.Run("InvalidEnvironment", func(t *testing.T) {
		isolateUserConfig(t)

		_, err := Load(ctx, map[string]any{"environment": "staging"})
		require.Error(t, err)
	})
}

func TestGetConfig(t *testing.T) {
	isolateUserConfig(t)

	cfg, err := Load(context.Background())
	require.NoError(t, err)

	retrieved := GetConfig()
	require.NotNil(t, retrieved)
	assert.Equal(t, cfg.Server.Port, retrieved.Server.Port)
	assert.Equal(t, cfg.Logging.Level, retrieved.Logging.Level)
}

func TestEnvSpecs(t *testing.T) {
	isolateUserConfig(t)
	_, err := Load(context.Background())
	require.NoError(t, err)

	envVarNames := make(map[string]bool)
	for _, spec := range getEnvSpecs() {
		envVarNames[spec.Name] = true
	}

	assert.True(t, envVarNames["RISKLEDGER_LOG_LEVEL"])
	assert.True(t, envVarNames["RISKLEDGER_PORT"])
	assert.True(t, envVarNames["RISKLEDGER_DB_PATH"])
	assert.True(t, envVarNames["RISKLEDGER_FETCH_TIMEOUT"])
	assert.True(t, envVarNames["RISKLEDGER_REDIS_URL"])
}

func TestDurationParsing(t *testing.T) {
	isolateUserConfig(t)
	t.Setenv("RISKLEDGER_READ_TIMEOUT", "45s")
	t.Setenv("RISKLEDGER_SHUTDOWN_TIMEOUT", "5m")

	cfg, err := Load(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 45*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, 5*time.Minute, cfg.Server.ShutdownTimeout)
}

func TestMergeMaps(t *testing.T) {
	dst := map[string]any{
		"server": map[string]any{"host": "localhost", "port": 8080},
		"level":  "info",
	}
	mergeMaps(dst, map[string]any{
		"server": map[string]any{"port": 9000},
		"level":  "debug",
		"extra":  map[string]any{"a": 1},
	})

	assert.Equal(t, map[string]any{"host": "localhost", "port": 9000}, dst["server"])
	assert.Equal(t, "debug", dst["level"])
	assert.Equal(t, map[string]any{"a": 1}, dst["extra"])
}
