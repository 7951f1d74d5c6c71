package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"ticketsale/cmd/internal/passphrase"
	"ticketsale/config"
	"ticketsale/core"
	"ticketsale/core/events"
	"ticketsale/crypto"
	"ticketsale/indexer"
	"ticketsale/observability"
	"ticketsale/observability/logging"
	telemetry "ticketsale/observability/otel"
	"ticketsale/rpc"
	"ticketsale/storage"
)

const envVar = "TICKETSALE_ENV"

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file (.toml or .yaml)")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv(envVar))
	passSource := passphrase.NewSource(crypto.OwnerPassphraseEnv)

	cfg, err := config.Load(*configFile, config.WithPassphraseSource(passSource.Get))
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	logger := logging.SetupWithOptions("ticketd", env, logging.Options{
		Level:      logging.ParseLevel(os.Getenv(logging.LevelEnv)),
		File:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName: "ticketd",
		Environment: env,
		Endpoint:    cfg.Telemetry.Endpoint,
		Insecure:    cfg.Telemetry.Insecure,
		Headers:     telemetry.ParseHeaders(cfg.Telemetry.Headers),
		Traces:      cfg.Telemetry.Traces,
		Metrics:     cfg.Telemetry.Metrics,
	})
	if err != nil {
		logger.Error("Failed to initialise telemetry", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := shutdownTelemetry(context.Background()); err != nil {
			logger.Warn("Telemetry shutdown failed", slog.Any("error", err))
		}
	}()

	if err := run(ctx, cfg, passSource, logger); err != nil {
		logger.Error("ticketd stopped", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, passSource *passphrase.Source, logger *slog.Logger) error {
	pass, err := passSource.Get()
	if err != nil {
		return fmt.Errorf("resolve owner passphrase: %w", err)
	}
	ownerKey, err := crypto.LoadFromKeystore(cfg.OwnerKeystorePath, pass)
	if err != nil {
		return fmt.Errorf("load owner key: %w", err)
	}
	owner := ownerKey.PubKey().Address()

	spec, err := cfg.GenesisSpec(owner.Raw())
	if err != nil {
		return fmt.Errorf("genesis spec: %w", err)
	}

	db, err := storage.NewLevelDB(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	store, err := indexer.Open(cfg.Indexer.DSN, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Warn("Indexer close failed", slog.Any("error", err))
		}
	}()

	instruments, err := telemetry.NewInstruments(telemetry.Meter())
	if err != nil {
		return fmt.Errorf("register ledger instruments: %w", err)
	}

	node, err := core.NewNode(db, spec,
		core.WithLogger(logger),
		core.WithEmitter(events.Multi{store, events.LogEmitter{Logger: logger}}),
		core.WithMetrics(observability.Tickets()),
		core.WithInstruments(instruments),
	)
	if err != nil {
		return fmt.Errorf("create node: %w", err)
	}

	secret := strings.TrimSpace(os.Getenv(cfg.RPC.JWTSecretEnv))
	if secret == "" {
		logger.Warn("JWT secret not set; ledger writes will be rejected", slog.String("env", cfg.RPC.JWTSecretEnv))
	}
	server := rpc.NewServer(node, store, rpc.Config{
		Auth: rpc.AuthConfig{
			HMACSecret: secret,
			Issuer:     cfg.RPC.Issuer,
			Audience:   cfg.RPC.Audience,
		},
		RateLimitPerMinute: cfg.RPC.RateLimitPerMinute,
		RateLimitBurst:     cfg.RPC.RateLimitBurst,
	}, logger)

	httpServer := &http.Server{
		Addr:         cfg.ListenAddress,
		Handler:      otelhttp.NewHandler(server.Router(), "ticketd"),
		ReadTimeout:  cfg.RPC.ReadTimeout.Duration,
		WriteTimeout: cfg.RPC.WriteTimeout.Duration,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("ticketd listening",
			slog.String("address", cfg.ListenAddress),
			slog.String("network", cfg.NetworkName),
			slog.String("owner", owner.String()),
			slog.Uint64("height", node.Height()))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("Shutting down ticketd")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.RPC.ShutdownTimeout.Duration)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}
