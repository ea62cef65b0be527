// Package helpers provides testing utilities for the portprobe integration
// tests: a PostgreSQL connection taken from the environment and loopback
// services to probe.
package helpers

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/anstrom/portprobe/internal/db"
)

const (
	defaultPostgreSQLPort = 5432
	dbConnectionTimeout   = 5 * time.Second
)

// GetTestDatabaseConfigs returns the database configurations to try, the
// test database first and the development database second.
func GetTestDatabaseConfigs() []db.Config {
	test := db.DefaultConfig()
	test.Host = getEnvOrDefault("TEST_DB_HOST", "localhost")
	test.Port = getEnvIntOrDefault("TEST_DB_PORT", defaultPostgreSQLPort)
	test.Database = getEnvOrDefault("TEST_DB_NAME", "portprobe_test")
	test.Username = getEnvOrDefault("TEST_DB_USER", "test_user")
	test.Password = getEnvOrDefault("TEST_DB_PASSWORD", "test_password")

	dev := db.DefaultConfig()
	dev.Host = getEnvOrDefault("DEV_DB_HOST", "localhost")
	dev.Port = getEnvIntOrDefault("DEV_DB_PORT", defaultPostgreSQLPort)
	dev.Database = getEnvOrDefault("DEV_DB_NAME", "portprobe_dev")
	dev.Username = getEnvOrDefault("DEV_DB_USER", "portprobe_dev")
	dev.Password = getEnvOrDefault("DEV_DB_PASSWORD", "dev_password")

	return []db.Config{test, dev}
}

// ConnectToTestDatabase connects to the first reachable test database and
// applies the migrations.
func ConnectToTestDatabase(ctx context.Context) (*db.DB, *db.Config, error) {
	for _, cfg := range GetTestDatabaseConfigs() {
		cfg := cfg
		connectCtx, cancel := context.WithTimeout(ctx, dbConnectionTimeout)
		database, err := db.ConnectAndMigrate(connectCtx, &cfg)
		cancel()
		if err == nil {
			return database, &cfg, nil
		}
	}
	return nil, nil, fmt.Errorf("failed to connect to any test database")
}

// CleanupReports removes every stored report. Outcomes go with them through
// the foreign key.
func CleanupReports(ctx context.Context, database *db.DB) error {
	if _, err := database.ExecContext(ctx, "DELETE FROM probe_reports"); err != nil {
		return fmt.Errorf("failed to clean probe_reports: %w", err)
	}
	return nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}
