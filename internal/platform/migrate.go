package platform

import (
	"context"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/jackc/pgx/v5/pgxpool"
)

// RunMigrations applies all pending migrations from migrationsDir.
func RunMigrations(databaseURL, migrationsDir string) error {
	m, err := migrate.New(
		fmt.Sprintf("file://%s", migrationsDir),
		databaseURL,
	)
	if err != nil {
		return fmt.Errorf("creating migrator: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("running migrations: %w", err)
	}

	return nil
}

// requiredColumns maps the minimum set of tables every component depends on
// to the columns each must have.
// VerifySchema fails fast at startup if any of them is missing a column the
// code assumes exists, rather than surfacing a confusing runtime SQL error
// the first time a handler touches that table.
var requiredColumns = map[string][]string{
	"organizations":          {"id", "name", "created_at"},
	"platform_connections":   {"id", "organization_id", "platform", "status", "last_error"},
	"encrypted_credentials":  {"connection_id", "ciphertext", "nonce", "key_version"},
	"discovered_automations": {"id", "organization_id", "platform_connection_id", "discovery_run_id", "automation_type", "detection_metadata", "external_id"},
	"discovery_runs":         {"id", "organization_id", "platform_connection_id", "status", "started_at"},
	"risk_assessments":       {"id", "automation_id", "score", "level", "rapid_change", "created_at"},
	"correlation_links":      {"id", "organization_id", "link_type", "confidence"},
	"detector_baselines":     {"id", "detector_name", "version", "sample_size"},
	"audit_log_entries":      {"id", "organization_id", "created_at"},
}

// VerifySchema queries information_schema.columns for every table/column
// pair the application relies on and returns a descriptive error for the
// first one missing, instead of letting a malformed deployment fail
// opaquely deep inside a query.
func VerifySchema(ctx context.Context, pool *pgxpool.Pool) error {
	for table, columns := range requiredColumns {
		for _, column := range columns {
			var exists bool
			err := pool.QueryRow(ctx, `
				SELECT EXISTS (
					SELECT 1 FROM information_schema.columns
					WHERE table_name = $1 AND column_name = $2
				)
			`, table, column).Scan(&exists)
			if err != nil {
				return fmt.Errorf("verifying schema for %s.%s: %w", table, column, err)
			}
			if !exists {
				return fmt.Errorf("schema verification failed: missing column %s.%s (run migrations)", table, column)
			}
		}
	}
	return nil
}
