package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"magink/native/magink"
)

func TestLoadCreatesDefault(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, filepath.Join(dir, "deployer.keystore"), cfg.DeployerKeystorePath)
	require.FileExists(t, cfg.DeployerKeystorePath)
	require.Equal(t, IssuerNative, cfg.Issuer.Mode)
	require.Equal(t, DefaultImage, cfg.Issuer.Image)

	reloaded, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, cfg, reloaded)

	engine, err := reloaded.EngineConfig()
	require.NoError(t, err)
	require.Equal(t, magink.DefaultConfig(), engine)
}

func TestLoadParsesTOML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "node.toml")
	contents := `DataDir = "/var/lib/magink"
BlockInterval = "250ms"

[magink]
QuotaComparison = "exact"
QuotaThreshold = 9
IDMode = "queried"

[issuer]
Mode = "erc721"
RPCURL = "http://127.0.0.1:8545"
Contract = "0x00000000000000000000000000000000000000aa"
KeystorePath = "/etc/magink/issuer.keystore"
ReceiptTimeout = "45s"

[rpc]
ListenAddress = "127.0.0.1:9000"
RateLimitPerSec = 5
RateLimitBurst = 10

[mintindex]
Enabled = true
Driver = "postgres"
DSN = "postgres://magink@localhost/magink"
`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "/var/lib/magink", cfg.DataDir)
	require.Equal(t, 250*time.Millisecond, cfg.BlockInterval.Duration)
	require.Equal(t, 45*time.Second, cfg.Issuer.ReceiptTimeout.Duration)
	require.Equal(t, "127.0.0.1:9000", cfg.RPC.ListenAddress)
	require.True(t, cfg.MintIndex.Enabled)
	// Unset keys keep their defaults.
	require.Equal(t, "MAGINK_JWT_SECRET", cfg.RPC.JWTSecretEnv)

	engine, err := cfg.EngineConfig()
	require.NoError(t, err)
	require.Equal(t, magink.QuotaExact, engine.Quota.Comparison)
	require.Equal(t, magink.ModeQueried, engine.Mode)

	persisted, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(persisted), "DeployerKeystorePath")
}

func TestLoadParsesYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "node.yaml")
	contents := `DataDir: ./data
BlockInterval: 2s
magink:
  QuotaComparison: at_least
  QuotaThreshold: 12
  IDMode: local
logging:
  Level: debug
`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 2*time.Second, cfg.BlockInterval.Duration)
	require.Equal(t, uint8(12), cfg.Magink.QuotaThreshold)
	require.Equal(t, "debug", cfg.Logging.Level)

	persisted, err := os.ReadFile(path)
	require.NoError(t, err)
	require.True(t, strings.Contains(string(persisted), "DeployerKeystorePath:"))
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("DataDir = \"./d\"\nValidatorKey = \"abc\"\n"), 0o644))

	_, err := Load(path)
	require.ErrorContains(t, err, "ValidatorKey")
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"defaults", func(*Config) {}, ""},
		{"zero interval", func(c *Config) { c.BlockInterval = Duration{} }, "BlockInterval"},
		{"bad comparison", func(c *Config) { c.Magink.QuotaComparison = "most" }, "quota comparison"},
		{"zero threshold", func(c *Config) { c.Magink.QuotaThreshold = 0 }, "threshold"},
		{"bad id mode", func(c *Config) { c.Magink.IDMode = "random" }, "id mode"},
		{"erc721 without rpc", func(c *Config) { c.Issuer.Mode = IssuerERC721 }, "RPCURL"},
		{"unknown issuer", func(c *Config) { c.Issuer.Mode = "cw721" }, "unknown mode"},
		{"sample ratio", func(c *Config) { c.Telemetry.SampleRatio = 2 }, "SampleRatio"},
		{"mintindex driver", func(c *Config) {
			c.MintIndex.Enabled = true
			c.MintIndex.Driver = "mysql"
		}, "driver"},
		{"export format", func(c *Config) {
			c.MintIndex.Enabled = true
			c.MintIndex.ExportFormat = "xlsx"
		}, "export format"},
		{"webhook scheme", func(c *Config) { c.Webhook.URL = "ftp://hooks" }, "http or https"},
		{"webhook backoff", func(c *Config) {
			c.Webhook.URL = "https://hooks.example"
			c.Webhook.MaxBackoff = Duration{Duration: time.Millisecond}
		}, "MaxBackoff"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(cfg)
			err := cfg.Validate()
			if tc.want == "" {
				require.NoError(t, err)
				return
			}
			require.ErrorContains(t, err, tc.want)
		})
	}
}

func TestDurationText(t *testing.T) {
	var d Duration
	require.NoError(t, d.UnmarshalText([]byte(" 1m30s ")))
	require.Equal(t, 90*time.Second, d.Duration)
	text, err := d.MarshalText()
	require.NoError(t, err)
	require.Equal(t, "1m30s", string(text))
	require.Error(t, d.UnmarshalText([]byte("soon")))
}
