package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"magink/cmd/internal/passphrase"
	"magink/config"
	"magink/core"
	"magink/crypto"
	"magink/integrations/erc721"
	"magink/integrations/webhooks"
	"magink/observability/logging"
	telemetry "magink/observability/otel"
	"magink/rpc"
	"magink/rpc/middleware"
	"magink/services/mintindex"
	"magink/storage"
)

const serviceName = "maginkd"

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	flag.Parse()

	if err := run(*configFile); err != nil {
		fmt.Fprintf(os.Stderr, "maginkd: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logOpts := logging.Options{Level: cfg.Logging.Level}
	if strings.TrimSpace(cfg.Logging.File) != "" {
		logOpts.File = &logging.FileOptions{
			Path:       cfg.Logging.File,
			MaxSizeMB:  cfg.Logging.MaxSizeMB,
			MaxBackups: cfg.Logging.MaxBackups,
			MaxAgeDays: cfg.Logging.MaxAgeDays,
			Compress:   true,
		}
	}
	logger := logging.SetupWithOptions(serviceName, cfg.Logging.Environment, logOpts)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName: serviceName,
		Environment: cfg.Logging.Environment,
		Endpoint:    cfg.Telemetry.Endpoint,
		Insecure:    cfg.Telemetry.Insecure,
		Headers:     telemetry.ParseHeaders(cfg.Telemetry.Headers),
		Metrics:     cfg.Telemetry.Metrics,
		Traces:      cfg.Telemetry.Traces,
		SampleRatio: cfg.Telemetry.SampleRatio,
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(flushCtx); err != nil {
			logger.Warn("telemetry shutdown", slog.Any("error", err))
		}
	}()
	instruments, err := telemetry.NewInstruments(serviceName)
	if err != nil {
		return fmt.Errorf("init instruments: %w", err)
	}

	engineCfg, err := cfg.EngineConfig()
	if err != nil {
		return err
	}

	db, err := storage.NewLevelDB(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	opts := core.Options{Magink: engineCfg, Logger: logger, Instruments: instruments}
	if cfg.Issuer.Mode == config.IssuerERC721 {
		issuer, err := dialIssuer(ctx, cfg)
		if err != nil {
			return err
		}
		opts.Issuer = issuer
		opts.Collection = issuer.CollectionID()
		logger.Info("minting through contract", "contract", issuer.Address().Hex())
	}

	node, err := core.NewNode(db, opts)
	if err != nil {
		return fmt.Errorf("create node: %w", err)
	}

	if node.NativeIssuer() {
		deployer, err := crypto.LoadFromKeystore(cfg.DeployerKeystorePath, "")
		if err != nil {
			return fmt.Errorf("load deployer key: %w", err)
		}
		if err := node.Bootstrap(ctx, deployer.PubKey().Address(), cfg.Issuer.Image); err != nil {
			return err
		}
	}

	jwtSecret := strings.TrimSpace(os.Getenv(cfg.RPC.JWTSecretEnv))
	if jwtSecret == "" {
		logger.Warn("JWT secret not set; caller methods will be rejected", "env", cfg.RPC.JWTSecretEnv)
	}
	server := rpc.NewServer(node, logger, rpc.ServerConfig{
		JWTSecret:         jwtSecret,
		JWTIssuer:         cfg.RPC.JWTIssuer,
		RateLimit:         middleware.RateLimit{RatePerSecond: cfg.RPC.RateLimitPerSec, Burst: cfg.RPC.RateLimitBurst},
		LogRequests:       cfg.Logging.Level == "debug",
		ReadHeaderTimeout: cfg.RPC.ReadHeaderTimeout.Duration,
		WriteTimeout:      cfg.RPC.WriteTimeout.Duration,
	})

	errs := make(chan error, 4)
	go func() {
		errs <- node.RunBlockProducer(ctx, cfg.BlockInterval.Duration)
	}()
	go func() {
		errs <- server.Start(cfg.RPC.ListenAddress)
	}()

	var indexer *mintindex.Indexer
	if cfg.MintIndex.Enabled {
		indexDB, err := mintindex.Open(cfg.MintIndex.Driver, cfg.MintIndex.DSN)
		if err != nil {
			return err
		}
		indexer = mintindex.NewIndexer(indexDB, logger)
		go func() {
			errs <- indexer.Run(ctx, node)
		}()
	}

	if url := strings.TrimSpace(cfg.Webhook.URL); url != "" {
		secret := strings.TrimSpace(os.Getenv(cfg.Webhook.SecretEnv))
		dispatcher, err := webhooks.NewDispatcher(url, []byte(secret),
			webhooks.WithRetryPolicy(cfg.Webhook.MaxAttempts, cfg.Webhook.MinBackoff.Duration, cfg.Webhook.MaxBackoff.Duration),
			webhooks.WithLogger(logger))
		if err != nil {
			return fmt.Errorf("webhook: %w (set %s)", err, cfg.Webhook.SecretEnv)
		}
		defer dispatcher.Close()
		go func() {
			errs <- dispatcher.Forward(ctx, node)
		}()
	}

	logger.Info("maginkd started",
		"listen", cfg.RPC.ListenAddress,
		"issuer", cfg.Issuer.Mode,
		"quota", fmt.Sprintf("%s %d", engineCfg.Quota.Comparison, engineCfg.Quota.Threshold),
		"idMode", engineCfg.Mode.String(),
		"height", node.Height())

	select {
	case <-ctx.Done():
	case err = <-errs:
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("service stopped", slog.Any("error", err))
		}
	}
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("rpc shutdown", slog.Any("error", err))
	}
	if indexer != nil && strings.TrimSpace(cfg.MintIndex.ExportDir) != "" {
		if _, _, err := indexer.Export(shutdownCtx, cfg.MintIndex.ExportDir, cfg.MintIndex.ExportFormat); err != nil {
			logger.Warn("mint export", slog.Any("error", err))
		}
	}
	logger.Info("maginkd stopped", "height", node.Height())
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func dialIssuer(ctx context.Context, cfg *config.Config) (*erc721.Issuer, error) {
	source := passphrase.NewSource(cfg.Issuer.PassphraseEnv, "issuer keystore")
	pass, err := source.Get()
	if err != nil {
		return nil, err
	}
	key, err := crypto.LoadFromKeystore(cfg.Issuer.KeystorePath, pass)
	if err != nil {
		return nil, fmt.Errorf("load issuer key: %w", err)
	}
	issuer, err := erc721.Dial(ctx, erc721.Config{
		RPCURL:         cfg.Issuer.RPCURL,
		Contract:       cfg.Issuer.Contract,
		ReceiptTimeout: cfg.Issuer.ReceiptTimeout.Duration,
	}, key)
	if err != nil {
		return nil, err
	}
	return issuer, nil
}
