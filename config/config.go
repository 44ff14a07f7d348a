package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"magink/crypto"
	"magink/native/magink"
)

const (
	IssuerNative = "native"
	IssuerERC721 = "erc721"
)

type Config struct {
	DataDir              string   `toml:"DataDir" yaml:"DataDir"`
	BlockInterval        Duration `toml:"BlockInterval" yaml:"BlockInterval"`
	DeployerKeystorePath string   `toml:"DeployerKeystorePath" yaml:"DeployerKeystorePath"`

	Magink    Magink    `toml:"magink" yaml:"magink"`
	Issuer    Issuer    `toml:"issuer" yaml:"issuer"`
	RPC       RPC       `toml:"rpc" yaml:"rpc"`
	Logging   Logging   `toml:"logging" yaml:"logging"`
	Telemetry Telemetry `toml:"telemetry" yaml:"telemetry"`
	MintIndex MintIndex `toml:"mintindex" yaml:"mintindex"`
	Webhook   Webhook   `toml:"webhook" yaml:"webhook"`
}

// Load loads the configuration from the given path. Files ending in .yaml or
// .yml are decoded as YAML, anything else as TOML. A missing file is created
// with defaults.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	cfg := Default()
	if isYAML(path) {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("decode %s: %w", path, err)
		}
	} else {
		meta, err := toml.DecodeFile(path, cfg)
		if err != nil {
			return nil, err
		}
		if undecoded := meta.Undecoded(); len(undecoded) > 0 {
			return nil, fmt.Errorf("config file %s has unknown key %s", path, undecoded[0].String())
		}
	}

	if err := ensureKeystore(path, cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns the configuration written for new nodes.
func Default() *Config {
	return &Config{
		DataDir:       "./magink-data",
		BlockInterval: Duration{Duration: time.Second},
		Magink: Magink{
			QuotaComparison: magink.QuotaAtLeast.String(),
			QuotaThreshold:  magink.DefaultQuotaThreshold,
			IDMode:          magink.ModeLocal.String(),
		},
		Issuer: Issuer{
			Mode:           IssuerNative,
			Image:          DefaultImage,
			PassphraseEnv:  "MAGINK_ISSUER_PASSPHRASE",
			ReceiptTimeout: Duration{Duration: 2 * time.Minute},
		},
		RPC: RPC{
			ListenAddress:     ":8080",
			JWTSecretEnv:      "MAGINK_JWT_SECRET",
			JWTIssuer:         "magink",
			RateLimitPerSec:   20,
			RateLimitBurst:    40,
			ReadHeaderTimeout: Duration{Duration: 5 * time.Second},
			WriteTimeout:      Duration{Duration: 15 * time.Second},
		},
		Logging: Logging{
			Level:       "info",
			Environment: "local",
			MaxSizeMB:   100,
			MaxBackups:  5,
			MaxAgeDays:  28,
		},
		Telemetry: Telemetry{SampleRatio: 1},
		MintIndex: MintIndex{Driver: "sqlite", DSN: "file:mintindex.db", ExportFormat: "parquet"},
		Webhook: Webhook{
			SecretEnv:   "MAGINK_WEBHOOK_SECRET",
			MaxAttempts: 5,
			MinBackoff:  Duration{Duration: 2 * time.Second},
			MaxBackoff:  Duration{Duration: 30 * time.Second},
		},
	}
}

// DefaultImage is the Wizard artwork published by new collections.
const DefaultImage = "https://bafkreihgob3knpzzmhiw66grmkuq3qa2ukvdseksbaxkxuiehwkhuniyfy.ipfs.nftstorage.link"

// EngineConfig converts the magink section into engine settings.
func (c *Config) EngineConfig() (magink.Config, error) {
	comparison, err := magink.ParseQuotaComparison(c.Magink.QuotaComparison)
	if err != nil {
		return magink.Config{}, err
	}
	mode, err := magink.ParseIDMode(c.Magink.IDMode)
	if err != nil {
		return magink.Config{}, err
	}
	cfg := magink.Config{
		Quota: magink.QuotaPolicy{Comparison: comparison, Threshold: c.Magink.QuotaThreshold},
		Mode:  mode,
	}
	if err := cfg.Validate(); err != nil {
		return magink.Config{}, err
	}
	return cfg, nil
}

func ensureKeystore(configPath string, cfg *Config) error {
	keystorePath := cfg.DeployerKeystorePath
	if keystorePath == "" {
		keystorePath = defaultKeystorePath(configPath)
	}

	if _, err := os.Stat(keystorePath); os.IsNotExist(err) {
		key, genErr := crypto.GeneratePrivateKey()
		if genErr != nil {
			return genErr
		}
		if err := crypto.SaveToKeystore(keystorePath, key, ""); err != nil {
			return err
		}
	} else if err != nil {
		return err
	}

	if cfg.DeployerKeystorePath != keystorePath {
		cfg.DeployerKeystorePath = keystorePath
		return persist(configPath, cfg)
	}
	return nil
}

// createDefault creates and saves a default configuration file together
// with a fresh deployer keystore.
func createDefault(path string) (*Config, error) {
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		return nil, err
	}
	keystorePath := defaultKeystorePath(path)
	if err := crypto.SaveToKeystore(keystorePath, key, ""); err != nil {
		return nil, err
	}

	cfg := Default()
	cfg.DeployerKeystorePath = keystorePath
	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	if isYAML(path) {
		enc := yaml.NewEncoder(f)
		defer enc.Close()
		return enc.Encode(cfg)
	}
	return toml.NewEncoder(f).Encode(cfg)
}

func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	default:
		return false
	}
}

func defaultKeystorePath(configPath string) string {
	dir := filepath.Dir(configPath)
	if dir == "." || dir == "" {
		dir = ""
	}
	return filepath.Join(dir, "deployer.keystore")
}
