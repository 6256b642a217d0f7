// cmd/server/migrate.go
package main

import (
	"fmt"

	"go.uber.org/zap"

	"instrument-service/internal/config"
	"instrument-service/internal/database"
	"instrument-service/internal/utils"
)

// runMigrationCommand applies one schema command against the configured
// database and returns. force >= 0 overrides command.
func runMigrationCommand(configPath, command string, force int) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, err := utils.NewLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer utils.CloseLogger(logger)

	db, err := database.NewConnection(&cfg.Database, logger)
	if err != nil {
		return err
	}
	defer db.Close()

	migrator := database.NewMigrator(db, logger)
	if force >= 0 {
		return migrator.Force(force)
	}

	switch command {
	case "up":
		return migrator.Up()
	case "down":
		return migrator.Down()
	case "version":
		version, dirty, err := migrator.Version()
		if err != nil {
			return err
		}
		logger.Info("Schema version", zap.Uint("version", version), zap.Bool("dirty", dirty))
		fmt.Printf("version %d dirty=%t\n", version, dirty)
		return nil
	default:
		return fmt.Errorf("unknown migration command %q (want up, down or version)", command)
	}
}
