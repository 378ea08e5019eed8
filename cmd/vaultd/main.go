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
	"github.com/MarkoPoloResearchLab/tokenvault/internal/httpserver"
	"github.com/MarkoPoloResearchLab/tokenvault/internal/oplog"
	"github.com/MarkoPoloResearchLab/tokenvault/internal/store"
	"github.com/MarkoPoloResearchLab/tokenvault/pkg/vault"
)

const (
	flagDatabaseURL    = "database-url"
	flagListenAddr     = "listen-addr"
	flagAllowedOrigins = "allowed-origins"
	flagAPIKeys        = "api-keys"
	flagJWTSigningKey  = "jwt-signing-key"
	flagJWTIssuer      = "jwt-issuer"
	flagNATSURL        = "nats-url"
	flagNATSName       = "nats-name"
	flagMaxRecords     = "max-records"
	flagShrinkMin      = "shrink-min-length"
	envPrefix          = "VAULTD"
	defaultDatabaseURL = "sqlite:///tmp/tokenvault.db"
	defaultNATSName    = "tokenvault-api"
)

type runtimeConfig struct {
	DatabaseURL string
	HTTP        httpserver.Config
	NATSURL     string
	NATSName    string
	MaxRecords  int
	ShrinkMin   int
}

func main() {
	cmd := newRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "vaultd: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cfg := &runtimeConfig{}
	cmd := &cobra.Command{
		Use:           "vaultd",
		Short:         "Token vault HTTP API server",
		SilenceUsage:  true,
		SilenceErrors: true,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return loadConfig(cmd, cfg)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServer(ctx, cfg)
		},
	}

	cmd.Flags().String(flagDatabaseURL, defaultDatabaseURL, "database connection string (memory://, sqlite://, postgres://, pgx://)")
	cmd.Flags().String(flagListenAddr, "", "HTTP listen address")
	cmd.Flags().String(flagAllowedOrigins, "", "comma-separated list of allowed CORS origins")
	cmd.Flags().String(flagAPIKeys, "", "comma-separated static bearer API keys")
	cmd.Flags().String(flagJWTSigningKey, "", "HS256 signing key for bearer tokens")
	cmd.Flags().String(flagJWTIssuer, "", "expected JWT issuer")
	cmd.Flags().String(flagNATSURL, "", "NATS server URL for expiry events (optional)")
	cmd.Flags().String(flagNATSName, defaultNATSName, "NATS connection name")
	cmd.Flags().Int(flagMaxRecords, 0, "records-per-collection capacity override (0 keeps the default)")
	cmd.Flags().Int(flagShrinkMin, 0, "minimum collection length before pruning shrinks storage (0 keeps the default)")

	return cmd
}

func loadConfig(cmd *cobra.Command, cfg *runtimeConfig) error {
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	for _, flagName := range []string{flagDatabaseURL, flagListenAddr, flagAllowedOrigins, flagAPIKeys, flagJWTSigningKey, flagJWTIssuer, flagNATSURL, flagNATSName, flagMaxRecords, flagShrinkMin} {
		if err := v.BindPFlag(flagName, cmd.Flags().Lookup(flagName)); err != nil {
			return err
		}
	}

	cfg.DatabaseURL = strings.TrimSpace(v.GetString(flagDatabaseURL))
	if cfg.DatabaseURL == "" {
		return fmt.Errorf("%s is required", flagDatabaseURL)
	}
	cfg.HTTP.ListenAddr = strings.TrimSpace(v.GetString(flagListenAddr))
	cfg.HTTP.AllowedOrigins = httpserver.ParseAllowedOrigins(v.GetString(flagAllowedOrigins))
	cfg.HTTP.APIKeys = httpserver.ParseAPIKeys(v.GetString(flagAPIKeys))
	cfg.HTTP.JWTSigningKey = v.GetString(flagJWTSigningKey)
	cfg.HTTP.JWTIssuer = strings.TrimSpace(v.GetString(flagJWTIssuer))
	cfg.NATSURL = strings.TrimSpace(v.GetString(flagNATSURL))
	cfg.NATSName = strings.TrimSpace(v.GetString(flagNATSName))
	cfg.MaxRecords = v.GetInt(flagMaxRecords)
	if cfg.MaxRecords < 0 {
		return fmt.Errorf("%s must not be negative", flagMaxRecords)
	}
	cfg.ShrinkMin = v.GetInt(flagShrinkMin)
	if cfg.ShrinkMin < 0 {
		return fmt.Errorf("%s must not be negative", flagShrinkMin)
	}
	return cfg.HTTP.Validate()
}

func runServer(ctx context.Context, cfg *runtimeConfig) error {
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

	options := []vault.ServiceOption{
		vault.WithOperationLogger(oplog.New(logger)),
		vault.WithExpiryNotifier(notifier),
	}
	if cfg.MaxRecords > 0 {
		options = append(options, vault.WithMaxRecords(cfg.MaxRecords))
	}
	if cfg.ShrinkMin > 0 {
		options = append(options, vault.WithCompactionPolicy(vault.CompactionPolicy{
			ShrinkFactor:    vault.DefaultShrinkFactor,
			ShrinkMinLength: cfg.ShrinkMin,
		}))
	}
	clock := func() int64 { return time.Now().UTC().Unix() }
	service, err := vault.NewService(vaultStore, clock, options...)
	if err != nil {
		return fmt.Errorf("vault service init: %w", err)
	}

	return httpserver.Run(ctx, cfg.HTTP, service, logger)
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
