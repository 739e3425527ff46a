// ABOUTME: The serve command: wires config, store, authorizer, backend pool and gateway
// ABOUTME: Blocks until SIGINT or SIGTERM, then shuts everything down gracefully

package main

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/2389/asr-gateway/internal/auth"
	"github.com/2389/asr-gateway/internal/config"
	"github.com/2389/asr-gateway/internal/gateway"
	"github.com/2389/asr-gateway/internal/link"
	"github.com/2389/asr-gateway/internal/pool"
	"github.com/2389/asr-gateway/internal/store"
	"github.com/2389/asr-gateway/internal/store/postgres"
)

func init() {
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the gateway server",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

// backingStore is what every database driver provides.
type backingStore interface {
	store.Ledger
	store.CredentialStore
}

// openStore opens the configured database. It returns nil when the database is disabled.
func openStore(ctx context.Context, cfg config.DatabaseConfig, logger *slog.Logger) (backingStore, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	switch cfg.Driver {
	case config.DriverPostgres:
		return postgres.Open(ctx, cfg.DSN, logger)
	case config.DriverSQLite3:
		return store.NewSQLite3Store(cfg.Path)
	default:
		return store.NewSQLiteStore(cfg.Path)
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	cyan := color.New(color.FgCyan)
	cyan.Print(banner)
	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := setupLogger(cfg.Logging)

	printStartup(cfg)

	db, err := openStore(ctx, cfg.Database, logger)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}

	var (
		ledger store.Ledger = store.NopLedger{}
		creds  auth.CredentialStore
	)
	if db != nil {
		ledger = db
		creds = db
	}

	authz, err := auth.New(cfg.Auth, creds, logger.With("component", "auth"))
	if err != nil {
		_ = ledger.Close()
		return fmt.Errorf("creating authorizer: %w", err)
	}
	if j, ok := authz.(*auth.JWKSAuthorizer); ok {
		defer j.Close()
	}

	p := pool.New(pool.Config{
		Size:           cfg.ASR.PoolSize,
		ConnectDelay:   cfg.ASR.ConnectDelay,
		Replenish:      cfg.ASR.Replenish,
		ReplenishDelay: cfg.ASR.ReplenishDelay,
	}, pool.LinkDialer(cfg.BackendURI(), logger.With("component", "link"),
		link.WithTLSConfig(&tls.Config{InsecureSkipVerify: cfg.ASR.InsecureSkipVerify}),
	), logger.With("component", "pool"))

	gw, err := gateway.New(cfg, gateway.Deps{
		Pool:       p,
		Authorizer: authz,
		Ledger:     ledger,
		Logger:     logger,
	})
	if err != nil {
		p.Close()
		_ = ledger.Close()
		return fmt.Errorf("creating gateway: %w", err)
	}

	logger.Info("starting asr-gateway",
		"config", cfgPath,
		"backend", cfg.BackendURI(),
		"pool_size", cfg.ASR.PoolSize,
		"auth", authMethod(cfg.Auth),
	)

	if err := p.Start(ctx); err != nil {
		_ = gw.Shutdown(context.Background())
		return nil
	}

	if err := gw.Run(ctx); err != nil {
		_ = gw.Shutdown(context.Background())
		return err
	}
	return nil
}

func authMethod(cfg config.AuthConfig) string {
	if !cfg.Enabled {
		return config.AuthMethodNone
	}
	return cfg.Method
}

func printStartup(cfg *config.Config) {
	green := color.New(color.FgGreen)
	cyan := color.New(color.FgCyan)
	gray := color.New(color.FgHiBlack)

	line := func(label, value string) {
		green.Print("    ▶ ")
		fmt.Printf("%-10s %s\n", label+":", value)
	}

	line("Config", cfgPath)
	if cfg.Server.Addr != "" {
		line("Clients", "ws://"+cfg.Server.Addr+cfg.Server.Path)
	}
	if cfg.Server.GRPCAddr != "" {
		line("Health", cfg.Server.GRPCAddr)
	}
	line("Backend", fmt.Sprintf("%s x%d", cfg.BackendURI(), cfg.ASR.PoolSize))
	line("Auth", authMethod(cfg.Auth))
	if cfg.Database.Enabled {
		line("Database", cfg.Database.Driver)
	}

	if cfg.Tailscale.Enabled {
		green.Print("    ▶ ")
		fmt.Printf("%-10s ", "Tailscale:")
		cyan.Print(cfg.Tailscale.Hostname)
		if cfg.Tailscale.Ephemeral {
			gray.Print(" (ephemeral)")
		}
		fmt.Println()
	}
	fmt.Println()
}
