package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/storesync/internal/engine"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func validDefault() Config {
	cfg := Default()
	cfg.StoreID = "store-1"
	return cfg
}

func TestDefault_ValidOnceStoreIDSet(t *testing.T) {
	assert.Error(t, Default().Validate())
	assert.NoError(t, validDefault().Validate())
}

func TestLoad_YAMLOverridesDefaults(t *testing.T) {
	path := writeFile(t, "storesync.yaml", `
store_id: store-7
central:
  url: https://central.example.com
  timeout: 5s
sync:
  interval: 1m
  policy: server_wins
  watched_types: [transaction]
  priorities:
    transaction: 200
consolidation:
  store_ids: [s1, s2]
  low_stock_threshold: "2.5"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "store-7", cfg.StoreID)
	assert.Equal(t, "https://central.example.com", cfg.Central.URL)
	assert.Equal(t, 5*time.Second, cfg.Central.Timeout)
	assert.Equal(t, time.Minute, cfg.Sync.Interval)
	assert.Equal(t, engine.DefaultProbeInterval, cfg.Sync.ProbeInterval)
	assert.Equal(t, []string{"transaction"}, cfg.Sync.WatchedTypes)
	assert.Equal(t, 200, cfg.Sync.Priorities["transaction"])
	assert.Equal(t, []string{"s1", "s2"}, cfg.Consolidation.StoreIDs)

	policy, err := cfg.Policy()
	require.NoError(t, err)
	assert.Equal(t, engine.PolicyServerWins, policy)

	threshold, err := cfg.LowStockThreshold()
	require.NoError(t, err)
	assert.Equal(t, "2.5", threshold.String())
}

func TestLoad_EmptyFile(t *testing.T) {
	t.Setenv("STORESYNC_STORE_ID", "store-1")
	cfg, err := Load(writeFile(t, "empty.yaml", ""))
	require.NoError(t, err)
	assert.Equal(t, "storesync.db", cfg.Database)
}

func TestLoad_RejectsUnknownKeys(t *testing.T) {
	path := writeFile(t, "typo.yaml", "store_id: s\nsynk:\n  interval: 1s\n")
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse config file")
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeFile(t, "storesync.yaml", "store_id: from-file\nsync:\n  policy: merge\n")
	t.Setenv("STORESYNC_STORE_ID", "from-env")
	t.Setenv("STORESYNC_CONFLICT_POLICY", "client_wins")
	t.Setenv("STORESYNC_SYNC_INTERVAL", "45s")
	t.Setenv("STORESYNC_CONSOLIDATION_STORES", " a, b ,,c")
	t.Setenv("STORESYNC_INCLUDE_INACTIVE", "true")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.StoreID)
	assert.Equal(t, "client_wins", cfg.Sync.Policy)
	assert.Equal(t, 45*time.Second, cfg.Sync.Interval)
	assert.Equal(t, []string{"a", "b", "c"}, cfg.Consolidation.StoreIDs)
	assert.True(t, cfg.Replication.IncludeInactive)
}

func TestLoad_BadEnvValue(t *testing.T) {
	t.Setenv("STORESYNC_STORE_ID", "store-1")
	t.Setenv("STORESYNC_MAX_RETRIES", "many")

	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "STORESYNC_MAX_RETRIES")
}

func TestLoadWithEnvFile(t *testing.T) {
	envFile := writeFile(t, ".env", "STORESYNC_STORE_ID=dotenv-store\nSTORESYNC_API_TOKEN=secret\n")

	cfg, err := LoadWithEnvFile("", envFile)
	require.NoError(t, err)
	assert.Equal(t, "dotenv-store", cfg.StoreID)
	assert.Equal(t, "secret", cfg.Central.Token)
}

func TestLoadWithEnvFile_ProcessEnvWins(t *testing.T) {
	envFile := writeFile(t, ".env", "STORESYNC_STORE_ID=dotenv-store\n")
	t.Setenv("STORESYNC_STORE_ID", "process-store")

	cfg, err := LoadWithEnvFile("", envFile)
	require.NoError(t, err)
	assert.Equal(t, "process-store", cfg.StoreID)
}

func TestLoadWithEnvFile_MissingFileIgnored(t *testing.T) {
	t.Setenv("STORESYNC_STORE_ID", "store-1")
	_, err := LoadWithEnvFile("", filepath.Join(t.TempDir(), ".env"))
	assert.NoError(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"blank store id", func(c *Config) { c.StoreID = "" }},
		{"store id with space", func(c *Config) { c.StoreID = "store 1" }},
		{"non http url", func(c *Config) { c.Central.URL = "ftp://central" }},
		{"zero interval", func(c *Config) { c.Sync.Interval = 0 }},
		{"negative probe interval", func(c *Config) { c.Sync.ProbeInterval = -time.Second }},
		{"unknown policy", func(c *Config) { c.Sync.Policy = "newest_wins" }},
		{"zero retries", func(c *Config) { c.Sync.MaxRetries = 0 }},
		{"negative priority", func(c *Config) { c.Sync.Priorities["product"] = -1 }},
		{"zero page size", func(c *Config) { c.Replication.PageSize = 0 }},
		{"unnamed category", func(c *Config) { c.Replication.Categories[0].Name = "" }},
		{"bad threshold", func(c *Config) { c.Consolidation.LowStockThreshold = "five" }},
		{"sealing without passphrase", func(c *Config) {
			c.Sealing.Fields = map[string][]string{"customer": {"email"}}
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validDefault()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestValidate_NilCollections(t *testing.T) {
	cfg := validDefault()
	cfg.Sync.WatchedTypes = nil
	cfg.Sync.Priorities = nil
	cfg.Replication.Categories = nil
	cfg.Consolidation.StoreIDs = nil
	cfg.Sealing.Fields = nil
	assert.NoError(t, cfg.Validate())
}

func TestReplicatorCategories(t *testing.T) {
	cats := validDefault().ReplicatorCategories()
	require.NotEmpty(t, cats)
	assert.Equal(t, "products", cats[0].Name)
	assert.Contains(t, cats[0].ProtectedFields, "local_notes")
}
