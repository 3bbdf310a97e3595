// Command migrate applies the token store schema.
//
//	migrate [-backend postgres|clickhouse] up|down|version
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"solana-pool-sentinel/internal/config"
	chstore "solana-pool-sentinel/internal/storage/clickhouse"
	"solana-pool-sentinel/internal/storage/migrations"
)

func main() {
	envFile := flag.String("env-file", ".env", "Optional .env file")
	backend := flag.String("backend", "", "Storage backend, defaults to STORAGE_BACKEND")
	timeout := flag.Duration("timeout", 2*time.Minute, "Overall timeout")
	flag.Parse()

	cmd := "up"
	if flag.NArg() > 0 {
		cmd = flag.Arg(0)
	}

	cfg, err := config.Load(*envFile, func(c *config.Config) {
		if *backend != "" {
			c.Storage.Backend = *backend
		}
		// Migrations never touch the chain.
		if c.Solana.RPCURL == "" {
			c.Solana.RPCURL = "http://localhost"
		}
		if c.Solana.WSURL == "" {
			c.Solana.WSURL = "ws://localhost"
		}
	})
	if err != nil {
		fatal(err)
	}

	logger, err := config.NewLogger(cfg.Logging)
	if err != nil {
		fatal(err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	switch cfg.Storage.Backend {
	case "postgres":
		err = postgres(cmd, cfg.Storage.PostgresDSN, logger)
	case "clickhouse":
		err = clickhouse(ctx, cmd, cfg.Storage.ClickHouseDSN, logger)
	default:
		err = fmt.Errorf("backend %q has no migrations", cfg.Storage.Backend)
	}
	if err != nil {
		logger.Error("migration failed", zap.String("command", cmd), zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
}

func postgres(cmd, dsn string, logger *zap.Logger) error {
	switch cmd {
	case "up":
		if err := migrations.RunPostgresMigrations(dsn); err != nil {
			return err
		}
	case "down":
		if err := migrations.RollbackPostgresMigrations(dsn); err != nil {
			return err
		}
	case "version":
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}

	version, dirty, err := migrations.PostgresVersion(dsn)
	if err != nil {
		return err
	}
	logger.Info("postgres schema", zap.Uint("version", version), zap.Bool("dirty", dirty))
	return nil
}

// clickhouse creates the database when missing and applies every migration.
// Its migrations are idempotent so only up is supported.
func clickhouse(ctx context.Context, cmd, dsn string, logger *zap.Logger) error {
	if cmd != "up" {
		return fmt.Errorf("clickhouse supports only up, got %q", cmd)
	}

	db, err := migrations.ClickhouseDatabase(dsn)
	if err != nil {
		return err
	}
	if strings.ContainsAny(db, "`;") {
		return fmt.Errorf("invalid clickhouse database name %q", db)
	}

	admin, err := chstore.NewConnWithDatabase(ctx, dsn, "")
	if err != nil {
		return err
	}
	err = admin.Exec(ctx, "CREATE DATABASE IF NOT EXISTS `"+db+"`")
	_ = admin.Close()
	if err != nil {
		return fmt.Errorf("create database %s: %w", db, err)
	}

	conn, err := chstore.NewConn(ctx, dsn)
	if err != nil {
		return err
	}
	defer conn.Close()

	if err := migrations.RunClickhouseMigrations(ctx, conn); err != nil {
		return err
	}
	logger.Info("clickhouse schema applied", zap.String("database", db))
	return nil
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "migrate: %v\n", err)
	os.Exit(1)
}
