package config

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// Validate rejects configurations the node cannot start with.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.DataDir) == "" {
		return fmt.Errorf("DataDir is required")
	}
	if c.BlockInterval.Duration <= 0 {
		return fmt.Errorf("BlockInterval must be positive")
	}
	if _, err := c.EngineConfig(); err != nil {
		return fmt.Errorf("magink: %w", err)
	}
	switch strings.ToLower(c.Issuer.Mode) {
	case "", IssuerNative:
	case IssuerERC721:
		if strings.TrimSpace(c.Issuer.RPCURL) == "" {
			return fmt.Errorf("issuer: RPCURL is required for erc721")
		}
		if !common.IsHexAddress(c.Issuer.Contract) {
			return fmt.Errorf("issuer: invalid contract address %q", c.Issuer.Contract)
		}
		if strings.TrimSpace(c.Issuer.KeystorePath) == "" {
			return fmt.Errorf("issuer: KeystorePath is required for erc721")
		}
	default:
		return fmt.Errorf("issuer: unknown mode %q", c.Issuer.Mode)
	}
	if strings.TrimSpace(c.RPC.ListenAddress) == "" {
		return fmt.Errorf("rpc: ListenAddress is required")
	}
	if c.RPC.RateLimitPerSec < 0 || c.RPC.RateLimitBurst < 0 {
		return fmt.Errorf("rpc: rate limits must not be negative")
	}
	if c.Telemetry.SampleRatio < 0 || c.Telemetry.SampleRatio > 1 {
		return fmt.Errorf("telemetry: SampleRatio must be within [0,1]")
	}
	if c.MintIndex.Enabled {
		switch strings.ToLower(c.MintIndex.Driver) {
		case "sqlite", "postgres":
		default:
			return fmt.Errorf("mintindex: unknown driver %q", c.MintIndex.Driver)
		}
		if strings.TrimSpace(c.MintIndex.DSN) == "" {
			return fmt.Errorf("mintindex: DSN is required")
		}
		switch strings.ToLower(c.MintIndex.ExportFormat) {
		case "", "parquet", "csv", "jsonl":
		default:
			return fmt.Errorf("mintindex: unknown export format %q", c.MintIndex.ExportFormat)
		}
	}
	if url := strings.TrimSpace(c.Webhook.URL); url != "" {
		if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
			return fmt.Errorf("webhook: URL must be http or https")
		}
		if strings.TrimSpace(c.Webhook.SecretEnv) == "" {
			return fmt.Errorf("webhook: SecretEnv is required")
		}
		if c.Webhook.MaxBackoff.Duration < c.Webhook.MinBackoff.Duration {
			return fmt.Errorf("webhook: MaxBackoff must not be below MinBackoff")
		}
	}
	return nil
}
