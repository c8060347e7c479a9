package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleConfig = `
keys = ["deposit_26", "spend_26"]

[server]
address = "127.0.0.1:4000"
cors_origins = ["https://wallet.example"]

[storage]
path = "/var/lib/shielded"
sync_writes = true

[queue]
mode = "redis"
redis_url = "redis://localhost:6379/0"

[protocol]
admin = "0x0101010101010101010101010101010101010101010101010101010101010101"
compute_authority = "0202020202020202020202020202020202020202020202020202020202020202"
tree_depth = 20

[engine]
enabled = true
workers = 2
`

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
	return path
}

func TestReadConfig(t *testing.T) {
	cfg, err := ReadConfig(writeConfig(t, sampleConfig))
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:4000", cfg.Server.Address)
	assert.Equal(t, "0.0.0.0:9998", cfg.Server.MetricsAddress, "unset fields keep their defaults")
	assert.Equal(t, []string{"https://wallet.example"}, cfg.Server.CORSOrigins)
	assert.True(t, cfg.Storage.SyncWrites)
	assert.Equal(t, QueueRedis, cfg.Queue.Mode)
	assert.Equal(t, uint8(20), cfg.Protocol.TreeDepth)
	assert.Equal(t, 2, cfg.Engine.Workers)
	assert.True(t, cfg.HasKey("spend_26"))
	assert.False(t, cfg.HasKey("spend_32"))
	require.NoError(t, cfg.Validate())

	admin, err := cfg.AdminAddress()
	require.NoError(t, err)
	assert.Equal(t, byte(1), admin[31])
}

func TestReadConfigMissingFile(t *testing.T) {
	_, err := ReadConfig(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)
}

func TestValidateCollectsErrors(t *testing.T) {
	cfg := Default()
	cfg.Queue.Mode = "kafka"
	cfg.Protocol.TreeDepth = 40
	err := cfg.Validate()
	require.Error(t, err)
	msg := err.Error()
	assert.True(t, strings.Contains(msg, "queue.mode"))
	assert.True(t, strings.Contains(msg, "tree_depth"))
	assert.True(t, strings.Contains(msg, "protocol.admin"))
	assert.True(t, strings.Contains(msg, "protocol.compute_authority"))
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("SHIELDED_API_KEY", "secret")
	t.Setenv("REDIS_URL", "redis://cache:6379/1")
	cfg := Default()
	cfg.ApplyEnv()
	assert.Equal(t, "secret", cfg.Server.APIKey)
	assert.Equal(t, QueueRedis, cfg.Queue.Mode)
	assert.Equal(t, "redis://cache:6379/1", cfg.Queue.RedisURL)
}
