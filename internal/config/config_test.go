package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadDefaultsWithMissingFile(t *testing.T) {
	t.Setenv("ETH_RPC_URL", "https://rpc.example")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "https://rpc.example", cfg.Chain.RPCURL)
	assert.Equal(t, 300*time.Second, cfg.Cache.Timeouts["ethUSDPrice"])
	assert.Equal(t, 8600*time.Second, cfg.Cache.Timeouts["allTokens"])
	assert.Equal(t, 6570, cfg.Subpools.BlocksPerDay)
	assert.Equal(t, time.Minute, cfg.Poller.Interval)
	assert.Equal(t, "json", cfg.Logging.Format)
}

func TestLoadYAML(t *testing.T) {
	t.Setenv("TEST_RPC", "https://expanded.example")
	path := writeConfig(t, `
chain:
  rpc_url: ${TEST_RPC}
cache:
  timeouts:
    ethUSDPrice: 60s
    allTokens: 1h
  subpool_apy_timeout: 2m
subpools:
  fuse:
    7:
      USDC: "0x53De5A7B03dc24Ff5d25ccF7Ad337a0425Dfd8D1"
poller:
  interval: 30s
api:
  port: 9000
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "https://expanded.example", cfg.Chain.RPCURL)
	assert.Equal(t, time.Minute, cfg.Cache.Timeouts["ethUSDPrice"])
	assert.Equal(t, time.Hour, cfg.Cache.Timeouts["allTokens"])
	assert.Equal(t, 2*time.Minute, cfg.Cache.SubpoolAPYTimeout)
	assert.Equal(t, "0x53De5A7B03dc24Ff5d25ccF7Ad337a0425Dfd8D1", cfg.Subpools.Fuse[7]["USDC"])
	assert.Equal(t, 30*time.Second, cfg.Poller.Interval)
	assert.Equal(t, 9000, cfg.API.Port)
	// untouched sections keep defaults
	assert.Equal(t, "/metrics", cfg.Metrics.Path)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("ETH_RPC_URL", "https://rpc.example")
	t.Setenv("POLLER_INTERVAL", "15s")
	t.Setenv("API_PORT", "7000")
	t.Setenv("SQLITE_PATH", "/tmp/x.db")
	t.Setenv("LOG_LEVEL", "DEBUG")

	cfg, err := Load(writeConfig(t, "poller:\n  interval: 1m\n"))
	require.NoError(t, err)
	assert.Equal(t, 15*time.Second, cfg.Poller.Interval)
	assert.Equal(t, 7000, cfg.API.Port)
	assert.Equal(t, "/tmp/x.db", cfg.Persistence.SQLitePath)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestValidate(t *testing.T) {
	t.Setenv("ETH_RPC_URL", "")
	_, err := Load(writeConfig(t, ""))
	assert.ErrorContains(t, err, "chain.rpc_url is required")

	t.Setenv("ETH_RPC_URL", "https://rpc.example")
	_, err = Load(writeConfig(t, "cache:\n  timeouts:\n    ethUSDPrice: -1s\n"))
	assert.ErrorContains(t, err, "cache.timeouts.ethUSDPrice")

	_, err = Load(writeConfig(t, "poller:\n  interval: 0s\n"))
	assert.ErrorContains(t, err, "poller.interval")

	_, err = Load(writeConfig(t, "chain: ["))
	assert.ErrorContains(t, err, "parsing config file")
}
