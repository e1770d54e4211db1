package config

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
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "mysql", cfg.Database.Driver)
	assert.Equal(t, 24*time.Hour, cfg.GroupBuy.TTL)
	assert.Equal(t, time.Minute, cfg.GroupBuy.SweepInterval)
	assert.Equal(t, 100, cfg.GroupBuy.SweepBatchSize)
	assert.Equal(t, 99, cfg.GroupBuy.MaxQuantity)
	assert.Equal(t, 30*time.Minute, cfg.GroupBuy.PayTimeout)
	assert.False(t, cfg.Redis.Enabled)
	assert.False(t, cfg.Kafka.Enabled)
}

func TestLoadConfig_File(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9090
database:
  driver: sqlite
  sqlite:
    path: /tmp/groupbuy-test.db
group_buy:
  ttl: 2h
  join_timeout: 3s
  sweep_interval: 30s
kafka:
  enabled: true
  brokers: ["kafka-1:9092", "kafka-2:9092"]
  topic:
    group_event: gb.events
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, "/tmp/groupbuy-test.db", cfg.Database.SQLite.Path)
	assert.Equal(t, 2*time.Hour, cfg.GroupBuy.TTL)
	assert.Equal(t, 3*time.Second, cfg.GroupBuy.JoinTimeout)
	assert.Equal(t, 30*time.Second, cfg.GroupBuy.SweepInterval)
	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, "gb.events", cfg.Kafka.Topic.GroupEvent)
	assert.Equal(t, "groupbuy.refund", cfg.Kafka.Topic.Refund)
}

func TestLoadConfig_EnvOverride(t *testing.T) {
	t.Setenv("GROUPBUY_GROUP_BUY_TTL", "90m")
	t.Setenv("GROUPBUY_SERVER_PORT", "7070")

	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, 90*time.Minute, cfg.GroupBuy.TTL)
	assert.Equal(t, 7070, cfg.Server.Port)
}

func TestLoadConfig_Invalid(t *testing.T) {
	t.Run("unknown driver", func(t *testing.T) {
		_, err := LoadConfig(writeConfig(t, "database:\n  driver: oracle\n"))
		assert.Error(t, err)
	})

	t.Run("non-positive ttl", func(t *testing.T) {
		_, err := LoadConfig(writeConfig(t, "group_buy:\n  ttl: 0s\n"))
		assert.Error(t, err)
	})

	t.Run("redis lock without ttl", func(t *testing.T) {
		_, err := LoadConfig(writeConfig(t, "redis:\n  enabled: true\ngroup_buy:\n  sweep_lock_ttl: 0s\n"))
		assert.Error(t, err)
	})

	t.Run("non-positive max quantity", func(t *testing.T) {
		_, err := LoadConfig(writeConfig(t, "group_buy:\n  max_quantity: 0\n"))
		assert.Error(t, err)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
		assert.Error(t, err)
	})
}

func TestLoadConfig_LockTTLIgnoredWithoutRedis(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, "group_buy:\n  sweep_lock_ttl: 0s\n"))
	require.NoError(t, err)
	assert.Zero(t, cfg.GroupBuy.SweepLockTTL)
}
