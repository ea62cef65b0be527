package cli

import (
	"context"
	"fmt"

	"github.com/anstrom/portprobe/internal/config"
	"github.com/anstrom/portprobe/internal/db"
	"github.com/anstrom/portprobe/internal/errors"
	"github.com/anstrom/portprobe/internal/logging"
)

// DatabaseOperation represents a function that operates on a database connection.
type DatabaseOperation func(context.Context, *db.DB) error

// connectDatabase opens the report database. Tests swap it for sqlmock.
var connectDatabase = db.Connect

// withDatabase executes the given operation with a database connection.
// It handles all database setup and cleanup, returning any errors that occur.
func withDatabase(ctx context.Context, cfg *config.Config, logger *logging.Logger, operation DatabaseOperation) error {
	if !cfg.DatabaseEnabled() {
		return errors.NewConfigFieldError(errors.CodeConfiguration,
			"No database configured; set database.database or PORTPROBE_DATABASE_DATABASE",
			"Config.Database.Database", "")
	}

	database, err := connectDatabase(ctx, &cfg.Database)
	if err != nil {
		return fmt.Errorf("error connecting to database: %w", err)
	}

	defer func() {
		if closeErr := database.Close(); closeErr != nil {
			logger.Warn("Failed to close database connection", "error", closeErr)
		}
	}()

	return operation(ctx, database)
}
