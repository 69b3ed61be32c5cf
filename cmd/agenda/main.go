package main

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/uptrace/bun"
	"go.uber.org/zap"

	"agenda/backend/internal/config"
	"agenda/backend/internal/logging"
	"agenda/backend/internal/store/postgres"
)

var Version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:           "agenda",
		Short:         "Provider availability and booking service",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(workerCmd())
	rootCmd.AddCommand(migrateCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// bootstrap loads configuration and builds the logger for a subcommand.
func bootstrap(service string) (config.Config, *zap.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("load config: %w", err)
	}
	log, err := logging.New(cfg.LogLevel, cfg.LogDevelopment, service)
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("build logger: %w", err)
	}
	zap.ReplaceGlobals(log)
	return cfg, log, nil
}

func openDatabase(ctx context.Context, cfg config.Config, log *zap.Logger) (*bun.DB, error) {
	log.Info("connecting to database", databaseLogFields(cfg.DatabaseURL)...)
	db, err := postgres.Open(ctx, cfg.DatabaseURL, postgres.PoolConfig{
		MaxOpenConns:    cfg.DBMaxOpenConns,
		MaxIdleConns:    cfg.DBMaxIdleConns,
		ConnMaxLifetime: cfg.DBConnMaxLifetime,
		ConnMaxIdleTime: cfg.DBConnMaxIdleTime,
	})
	if err != nil {
		log.Error("database connection failed", append([]zap.Field{zap.Error(err)}, databaseLogFields(cfg.DatabaseURL)...)...)
		return nil, err
	}
	return db, nil
}

func closeDatabase(db *bun.DB, log *zap.Logger) {
	if err := postgres.Close(db); err != nil {
		log.Warn("database close failed", zap.Error(err))
	}
}

func databaseLogFields(databaseURL string) []zap.Field {
	u, err := url.Parse(databaseURL)
	if err != nil {
		return []zap.Field{zap.String("db_url", "invalid")}
	}
	name := strings.TrimPrefix(u.Path, "/")
	host := u.Hostname()
	port := u.Port()
	if port == "" {
		port = "default"
	}
	if host == "" {
		host = "unknown"
	}
	if name == "" {
		name = "unknown"
	}
	return []zap.Field{
		zap.String("db_host", host),
		zap.String("db_port", port),
		zap.String("db_name", name),
	}
}
