package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pglemos/ml-bling-sync/infrastructure/config"
)

type testConfig struct {
	Name    string                `yaml:"name"`
	Timeout time.Duration         `env:"TEST_TIMEOUT" yaml:"timeout"`
	Tags    []string              `env:"TEST_TAGS"    yaml:"tags"`
	Redis   config.RedisConfig    `yaml:"redis"`
	Server  config.ServerConfig   `yaml:"server"`
	DB      config.DatabaseConfig `yaml:"database"`
}

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_YAMLThenEnv(t *testing.T) {
	path := writeFile(t, "name: sync\ntimeout: 5s\nredis:\n  address: redis:6379\n")
	t.Setenv("TEST_TIMEOUT", "9s")
	t.Setenv("TEST_TAGS", "a, b")

	cfg, err := config.Load[testConfig](path)
	require.NoError(t, err)

	assert.Equal(t, "sync", cfg.Name)
	assert.Equal(t, 9*time.Second, cfg.Timeout)
	assert.Equal(t, []string{"a", "b"}, cfg.Tags)
	assert.Equal(t, "redis:6379", cfg.Redis.Address)
}

func TestLoad_MissingFileUsesEnvOnly(t *testing.T) {
	t.Setenv("REDIS_ADDRESS", "cache:6379")

	cfg, err := config.Load[testConfig](filepath.Join(t.TempDir(), "absent.yml"))
	require.NoError(t, err)
	assert.Equal(t, "cache:6379", cfg.Redis.Address)
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := writeFile(t, "name: [unterminated")

	_, err := config.Load[testConfig](path)
	require.Error(t, err)
}

func TestLoadWithDefaults_EnvWinsOverDefaults(t *testing.T) {
	path := writeFile(t, "name: sync\n")
	t.Setenv("SERVER_PORT", "9090")

	cfg, err := config.LoadWithDefaults[testConfig](path, func(c *testConfig) {
		c.Server.SetDefaults()
		c.DB.SetDefaults()
	})
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 5432, cfg.DB.Port)
	assert.Equal(t, 30*time.Second, cfg.Server.ReadTimeout)
}

func TestDatabaseConfig_URL(t *testing.T) {
	t.Parallel()

	cfg := config.DatabaseConfig{Host: "db", Port: 5432, User: "sync", Password: "p@ss", Database: "sync", SSLMode: "disable"}
	assert.Equal(t, "postgres://sync:p%40ss@db:5432/sync?sslmode=disable", cfg.URL())
	assert.Contains(t, cfg.DSN(), "dbname=sync")
}

func TestValidate(t *testing.T) {
	t.Parallel()

	require.Error(t, (&config.DatabaseConfig{}).Validate())
	require.Error(t, (&config.RedisConfig{}).Validate())
	require.NoError(t, (&config.RedisConfig{Address: "localhost:6379"}).Validate())
	require.Error(t, (&config.LoggingConfig{Level: "verbose"}).Validate())
	require.Error(t, config.ValidatePositiveDuration("x", 0))
}
