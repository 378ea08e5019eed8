package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/MarkoPoloResearchLab/tokenvault/internal/events"
	"github.com/MarkoPoloResearchLab/tokenvault/internal/oplog"
	"github.com/MarkoPoloResearchLab/tokenvault/internal/store"
	"github.com/MarkoPoloResearchLab/tokenvault/internal/sweeper"
	"github.com/MarkoPoloResearchLab/tokenvault/pkg/vault"
)

const (
	flagDatabaseURL    = "database-url"
	flagInterval       = "interval"
	flagPoolSize       = "pool-size"
	flagRetryAttempts  = "retry-attempts"
	flagNATSURL        = "nats-url"
	flagNATSName       = "nats-name"
	flagEnvFile        = "env-file"
	envPrefix          = "SWEEPER"
	defaultDatabaseURL = "sqlite:///tmp/tokenvault.db"
	defaultNATSName    = "tokenvault-sweeper"
	defaultInterval    = 5 * time.Minute
	defaultWorkers     = 4
	defaultRetries     = 3
)

type runtimeConfig struct {
	DatabaseURL string
	Sweep       sweeper.Config
	NATSURL     string
	NATSName    string
}

func main() {
	cmd := newRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "vault-sweeper: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cfg := &runtimeConfig{}
	cmd := &cobra.Command{
		Use:           "vault-sweeper",
		Short:         "Background pruner for expired vault credits",
		SilenceUsage:  true,
		SilenceErrors: true,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return loadConfig(cmd, cfg)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runSweeper(ctx, cfg)
		},
	}

	cmd.Flags().String(flagDatabaseURL, defaultDatabaseURL, "database connection string (memory://, sqlite://, postgres://, pgx://)")
	cmd.Flags().Duration(flagInterval, defaultInterval, "pause between sweep cycles")
	cmd.Flags().Int(flagPoolSize, defaultWorkers, "concurrent prune workers per cycle")
	cmd.Flags().Uint64(flagRetryAttempts, defaultRetries, "retries per collection before giving up on a cycle")
	cmd.Flags().String(flagNATSURL, "", "NATS server URL for expiry events (optional)")
	cmd.Flags().String(flagNATSName, defaultNATSName, "NATS connection name")
	cmd.Flags().String(flagEnvFile, "", "env file loaded before reading the environment")

	return cmd
}

func loadConfig(cmd *cobra.Command, cfg *runtimeConfig) error {
	envFile, err := cmd.Flags().GetString(flagEnvFile)
	if err != nil {
		return err
	}
	if envFile != "" {
		if err := godotenv.Overload(envFile); err != nil {
			return fmt.Errorf("load %s: %w", envFile, err)
		}
	} else {
		_ = godotenv.Load()
	}

	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	for _, flagName := range []string{flagDatabaseURL, flagInterval, flagPoolSize, flagRetryAttempts, flagNATSURL, flagNATSName} {
		if err := v.BindPFlag(flagName, cmd.Flags().Lookup(flagName)); err != nil {
			return err
		}
	}

	cfg.DatabaseURL = strings.TrimSpace(v.GetString(flagDatabaseURL))
	if cfg.DatabaseURL == "" {
		return fmt.Errorf("%s is required", flagDatabaseURL)
	}
	cfg.Sweep.Interval = v.GetDuration(flagInterval)
	if cfg.Sweep.Interval <= 0 {
		return fmt.Errorf("%s must be positive", flagInterval)
	}
	cfg.Sweep.Workers = v.GetInt(flagPoolSize)
	if cfg.Sweep.Workers <= 0 {
		return fmt.Errorf("%s must be positive", flagPoolSize)
	}
	cfg.Sweep.RetryAttempts = v.GetUint64(flagRetryAttempts)
	cfg.NATSURL = strings.TrimSpace(v.GetString(flagNATSURL))
	cfg.NATSName = strings.TrimSpace(v.GetString(flagNATSName))
	return nil
}

func runSweeper(ctx context.Context, cfg *runtimeConfig) error {
	logger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("logger init: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	vaultStore, cleanup, driver, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("database open: %w", err)
	}
	defer func() { _ = cleanup() }()
	logger.Info("store ready", zap.String("driver", driver))

	notifier, closeNotifier, err := buildNotifier(cfg.NATSURL, cfg.NATSName, logger)
	if err != nil {
		return err
	}
	defer closeNotifier()

	clock := func() int64 { return time.Now().UTC().Unix() }
	service, err := vault.NewService(vaultStore, clock,
		vault.WithOperationLogger(oplog.New(logger)),
		vault.WithExpiryNotifier(notifier))
	if err != nil {
		return fmt.Errorf("vault service init: %w", err)
	}

	pruneSweeper, err := sweeper.NewPruneSweeper(cfg.Sweep, service, vaultStore, logger)
	if err != nil {
		return fmt.Errorf("sweeper init: %w", err)
	}
	logger.Info("sweeper starting",
		zap.Duration("interval", cfg.Sweep.Interval),
		zap.Int("workers", cfg.Sweep.Workers))
	return pruneSweeper.Start(ctx)
}

func buildNotifier(natsURL string, natsName string, logger *zap.Logger) (vault.ExpiryNotifier, func(), error) {
	if natsURL == "" {
		return events.NewLogNotifier(logger), func() {}, nil
	}
	publisher, err := events.NewPublisher(events.Config{
		URL:            natsURL,
		ConnectionName: natsName,
	}, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("nats connect: %w", err)
	}
	return publisher, publisher.Close, nil
}
