// Command migrate applies the embedded schema migrations.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/spec-kit/erp-ticketing/internal/config"
	"github.com/spec-kit/erp-ticketing/internal/observability"
	"github.com/spec-kit/erp-ticketing/internal/persistence"
)

func main() {
	direction := flag.String("direction", persistence.MigrateUp, "Migration direction: up or down")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}

	logger, err := observability.NewLogger(cfg.Logger, cfg.App)
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger:", err)
		os.Exit(1)
	}
	defer logger.Sync() //nolint:errcheck

	if err := persistence.RunMigrations(cfg.Postgres.DSN, *direction, logger); err != nil {
		fmt.Fprintln(os.Stderr, "migrate:", err)
		os.Exit(1)
	}
}
