package config

import (
	"fmt"
	"strings"
	"time"
)

// Duration wraps time.Duration so it can be written as "5s" in TOML and
// YAML files.
type Duration struct {
	time.Duration
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	trimmed := strings.TrimSpace(string(text))
	if trimmed == "" {
		d.Duration = 0
		return nil
	}
	parsed, err := time.ParseDuration(trimmed)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", trimmed, err)
	}
	d.Duration = parsed
	return nil
}

// Magink configures the reward engine.
type Magink struct {
	// QuotaComparison is "at_least" or "exact".
	QuotaComparison string `toml:"QuotaComparison" yaml:"QuotaComparison"`
	QuotaThreshold  uint8  `toml:"QuotaThreshold" yaml:"QuotaThreshold"`
	// IDMode is "local" or "queried".
	IDMode string `toml:"IDMode" yaml:"IDMode"`
}

// Issuer selects where Wizards are minted.
type Issuer struct {
	// Mode is "native" to host the collection in-process or "erc721" to
	// mint through a contract.
	Mode  string `toml:"Mode" yaml:"Mode"`
	Image string `toml:"Image" yaml:"Image"`

	RPCURL         string   `toml:"RPCURL" yaml:"RPCURL"`
	Contract       string   `toml:"Contract" yaml:"Contract"`
	KeystorePath   string   `toml:"KeystorePath" yaml:"KeystorePath"`
	PassphraseEnv  string   `toml:"PassphraseEnv" yaml:"PassphraseEnv"`
	ReceiptTimeout Duration `toml:"ReceiptTimeout" yaml:"ReceiptTimeout"`
}

// RPC configures the JSON-RPC endpoint.
type RPC struct {
	ListenAddress     string   `toml:"ListenAddress" yaml:"ListenAddress"`
	JWTSecretEnv      string   `toml:"JWTSecretEnv" yaml:"JWTSecretEnv"`
	JWTIssuer         string   `toml:"JWTIssuer" yaml:"JWTIssuer"`
	RateLimitPerSec   float64  `toml:"RateLimitPerSec" yaml:"RateLimitPerSec"`
	RateLimitBurst    int      `toml:"RateLimitBurst" yaml:"RateLimitBurst"`
	ReadHeaderTimeout Duration `toml:"ReadHeaderTimeout" yaml:"ReadHeaderTimeout"`
	WriteTimeout      Duration `toml:"WriteTimeout" yaml:"WriteTimeout"`
}

// Logging configures the structured logger.
type Logging struct {
	Level       string `toml:"Level" yaml:"Level"`
	Environment string `toml:"Environment" yaml:"Environment"`
	File        string `toml:"File" yaml:"File"`
	MaxSizeMB   int    `toml:"MaxSizeMB" yaml:"MaxSizeMB"`
	MaxBackups  int    `toml:"MaxBackups" yaml:"MaxBackups"`
	MaxAgeDays  int    `toml:"MaxAgeDays" yaml:"MaxAgeDays"`
}

// Telemetry configures OTLP export.
type Telemetry struct {
	Endpoint    string  `toml:"Endpoint" yaml:"Endpoint"`
	Insecure    bool    `toml:"Insecure" yaml:"Insecure"`
	Headers     string  `toml:"Headers" yaml:"Headers"`
	Metrics     bool    `toml:"Metrics" yaml:"Metrics"`
	Traces      bool    `toml:"Traces" yaml:"Traces"`
	SampleRatio float64 `toml:"SampleRatio" yaml:"SampleRatio"`
}

// MintIndex configures the mint index service.
type MintIndex struct {
	Enabled bool `toml:"Enabled" yaml:"Enabled"`
	// Driver is "sqlite" or "postgres".
	Driver    string `toml:"Driver" yaml:"Driver"`
	DSN       string `toml:"DSN" yaml:"DSN"`
	ExportDir string `toml:"ExportDir" yaml:"ExportDir"`
	// ExportFormat is "parquet", "csv" or "jsonl".
	ExportFormat string `toml:"ExportFormat" yaml:"ExportFormat"`
}

// Webhook configures signed event deliveries.
type Webhook struct {
	URL         string   `toml:"URL" yaml:"URL"`
	SecretEnv   string   `toml:"SecretEnv" yaml:"SecretEnv"`
	MaxAttempts int      `toml:"MaxAttempts" yaml:"MaxAttempts"`
	MinBackoff  Duration `toml:"MinBackoff" yaml:"MinBackoff"`
	MaxBackoff  Duration `toml:"MaxBackoff" yaml:"MaxBackoff"`
}
