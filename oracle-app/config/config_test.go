package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, Default(), cfg)
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
api:
  listen_addr: ":9000"
log:
  level: debug
auth:
  enabled: true
  signature_window: 90s
oracle:
  admin: "0x00000000000000000000000000000000000ad319"
  enforce_deadline: true
  max_batch_size: 8
store:
  backend: badger
  badger:
    in_memory: true
verifier:
  backend: evm
  evm:
    rpc: http://localhost:8545
    address: "0x00000000000000000000000000000000000000aa"
    call_timeout: 3s
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, ":9000", cfg.API.ListenAddr)
	require.Equal(t, 15*time.Second, cfg.API.ReadTimeout)
	require.Equal(t, "debug", cfg.Log.Level)
	require.True(t, cfg.Auth.Enabled)
	require.Equal(t, 90*time.Second, cfg.Auth.SignatureWindow)
	require.True(t, cfg.Oracle.EnforceDeadline)
	require.Equal(t, 8, cfg.Oracle.MaxBatchSize)
	require.Equal(t, StoreBadger, cfg.Store.Backend)
	require.True(t, cfg.Store.Badger.InMemory)
	require.Equal(t, VerifierEVM, cfg.Verifier.Backend)
	require.Equal(t, 3*time.Second, cfg.Verifier.EVM.CallTimeout)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("ORACLE_LOG_LEVEL", "warn")
	t.Setenv("ORACLE_STORE_BACKEND", "redis")

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, "warn", cfg.Log.Level)
	require.Equal(t, StoreRedis, cfg.Store.Backend)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown store", func(c *Config) { c.Store.Backend = "postgres" }},
		{"unknown verifier", func(c *Config) { c.Verifier.Backend = "snark" }},
		{"evm without rpc", func(c *Config) { c.Verifier.Backend = VerifierEVM }},
		{"file log without path", func(c *Config) { c.Log.Output = "file" }},
		{"bad admin", func(c *Config) { c.Oracle.Admin = "root" }},
		{"negative batch", func(c *Config) { c.Oracle.MaxBatchSize = -1 }},
		{"negative signature window", func(c *Config) { c.Auth.SignatureWindow = -time.Second }},
		{"empty listen addr", func(c *Config) { c.API.ListenAddr = "" }},
		{"badger without dir", func(c *Config) {
			c.Store.Backend = StoreBadger
			c.Store.Badger.Dir = ""
		}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(cfg)
			require.Error(t, cfg.Validate())
		})
	}

	require.NoError(t, Default().Validate())
}

func TestDumpRoundTrip(t *testing.T) {
	cfg := Default()
	cfg.Oracle.Admin = "0x00000000000000000000000000000000000ad319"

	out, err := cfg.Dump()
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, yaml.Unmarshal(out, &raw))
	require.Contains(t, raw, "verifier")
	require.Equal(t, cfg.Oracle.Admin, raw["oracle"].(map[string]any)["admin"])

	cfg2, err := Load(writeConfig(t, string(out)))
	require.NoError(t, err)
	require.Equal(t, cfg, cfg2)
}
