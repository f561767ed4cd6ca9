package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/sakconstructions/storefront/pkg/observability"
)

// Migration represents a database migration. {{pk}} in SQL expands to the
// driver's auto-increment primary key definition.
type Migration struct {
	Version     int
	Description string
	SQL         string
}

// GetMigrations returns all schema migrations in order
func GetMigrations() []Migration {
	return []Migration{
		{
			Version:     1,
			Description: "Create profiles table",
			SQL: `
				CREATE TABLE IF NOT EXISTS profiles (
					id {{pk}},
					user_id VARCHAR(255) NOT NULL UNIQUE,
					email VARCHAR(320) NOT NULL UNIQUE,
					full_name VARCHAR(255) NOT NULL DEFAULT '',
					phone VARCHAR(64) NOT NULL DEFAULT '',
					role VARCHAR(16) NOT NULL DEFAULT 'user',
					created_at TIMESTAMP NOT NULL,
					updated_at TIMESTAMP NOT NULL
				);
			`,
		},
		{
			Version:     2,
			Description: "Create plans and plan_files tables",
			SQL: `
				CREATE TABLE IF NOT EXISTS plans (
					id {{pk}},
					slug VARCHAR(255) NOT NULL UNIQUE,
					title VARCHAR(255) NOT NULL,
					description TEXT NOT NULL DEFAULT '',
					category VARCHAR(64) NOT NULL DEFAULT '',
					style VARCHAR(64) NOT NULL DEFAULT '',
					bedrooms INTEGER NOT NULL DEFAULT 0,
					bathrooms INTEGER NOT NULL DEFAULT 0,
					floors INTEGER NOT NULL DEFAULT 1,
					area_sqft INTEGER NOT NULL DEFAULT 0,
					basic_price BIGINT NOT NULL,
					standard_price BIGINT NOT NULL,
					premium_price BIGINT NOT NULL,
					currency VARCHAR(3) NOT NULL,
					images TEXT NOT NULL DEFAULT '[]',
					featured BOOLEAN NOT NULL DEFAULT FALSE,
					published BOOLEAN NOT NULL DEFAULT FALSE,
					download_count BIGINT NOT NULL DEFAULT 0,
					created_at TIMESTAMP NOT NULL,
					updated_at TIMESTAMP NOT NULL
				);

				CREATE INDEX IF NOT EXISTS idx_plans_category ON plans(category);
				CREATE INDEX IF NOT EXISTS idx_plans_published_featured ON plans(published, featured);

				CREATE TABLE IF NOT EXISTS plan_files (
					id {{pk}},
					plan_id BIGINT NOT NULL REFERENCES plans(id) ON DELETE CASCADE,
					tier VARCHAR(16) NOT NULL,
					name VARCHAR(255) NOT NULL,
					object_key VARCHAR(1024) NOT NULL UNIQUE,
					content_type VARCHAR(255) NOT NULL,
					size_bytes BIGINT NOT NULL DEFAULT 0,
					created_at TIMESTAMP NOT NULL
				);

				CREATE INDEX IF NOT EXISTS idx_plan_files_plan_id ON plan_files(plan_id);
			`,
		},
		{
			Version:     3,
			Description: "Create orders and downloads tables",
			SQL: `
				CREATE TABLE IF NOT EXISTS orders (
					id {{pk}},
					user_id BIGINT NOT NULL REFERENCES profiles(id),
					plan_id BIGINT NOT NULL REFERENCES plans(id),
					tier VARCHAR(16) NOT NULL,
					amount BIGINT NOT NULL,
					currency VARCHAR(3) NOT NULL,
					provider VARCHAR(32) NOT NULL,
					payment_reference VARCHAR(255) NOT NULL,
					status VARCHAR(16) NOT NULL,
					email VARCHAR(320) NOT NULL DEFAULT '',
					paid_at TIMESTAMP,
					created_at TIMESTAMP NOT NULL,
					updated_at TIMESTAMP NOT NULL,
					UNIQUE(provider, payment_reference)
				);

				CREATE INDEX IF NOT EXISTS idx_orders_user_id ON orders(user_id);
				CREATE INDEX IF NOT EXISTS idx_orders_status_created ON orders(status, created_at);

				CREATE TABLE IF NOT EXISTS downloads (
					id {{pk}},
					user_id BIGINT NOT NULL REFERENCES profiles(id),
					order_id BIGINT NOT NULL REFERENCES orders(id),
					plan_id BIGINT NOT NULL REFERENCES plans(id),
					file_id BIGINT REFERENCES plan_files(id) ON DELETE SET NULL,
					file_name VARCHAR(255) NOT NULL DEFAULT '',
					tier VARCHAR(16) NOT NULL DEFAULT '',
					created_at TIMESTAMP NOT NULL
				);

				CREATE INDEX IF NOT EXISTS idx_downloads_user_id ON downloads(user_id);
			`,
		},
		{
			Version:     4,
			Description: "Create reviews and favorites tables",
			SQL: `
				CREATE TABLE IF NOT EXISTS reviews (
					id {{pk}},
					plan_id BIGINT NOT NULL REFERENCES plans(id) ON DELETE CASCADE,
					user_id BIGINT NOT NULL REFERENCES profiles(id) ON DELETE CASCADE,
					rating INTEGER NOT NULL CHECK (rating BETWEEN 1 AND 5),
					comment TEXT NOT NULL DEFAULT '',
					verified_purchase BOOLEAN NOT NULL DEFAULT FALSE,
					created_at TIMESTAMP NOT NULL,
					updated_at TIMESTAMP NOT NULL,
					UNIQUE(plan_id, user_id)
				);

				CREATE TABLE IF NOT EXISTS favorites (
					id {{pk}},
					user_id BIGINT NOT NULL REFERENCES profiles(id) ON DELETE CASCADE,
					plan_id BIGINT NOT NULL REFERENCES plans(id) ON DELETE CASCADE,
					created_at TIMESTAMP NOT NULL,
					UNIQUE(user_id, plan_id)
				);
			`,
		},
		{
			Version:     5,
			Description: "Create ads table",
			SQL: `
				CREATE TABLE IF NOT EXISTS ads (
					id {{pk}},
					title VARCHAR(255) NOT NULL,
					image_url VARCHAR(2048) NOT NULL,
					link_url VARCHAR(2048) NOT NULL DEFAULT '',
					placement VARCHAR(64) NOT NULL,
					active BOOLEAN NOT NULL DEFAULT TRUE,
					starts_at TIMESTAMP,
					ends_at TIMESTAMP,
					impressions BIGINT NOT NULL DEFAULT 0,
					clicks BIGINT NOT NULL DEFAULT 0,
					created_at TIMESTAMP NOT NULL,
					updated_at TIMESTAMP NOT NULL
				);

				CREATE INDEX IF NOT EXISTS idx_ads_placement_active ON ads(placement, active);
			`,
		},
	}
}

func render(sqlText, driver string) string {
	pk := "BIGSERIAL PRIMARY KEY"
	if driver == DriverSQLite {
		pk = "INTEGER PRIMARY KEY AUTOINCREMENT"
	}
	return strings.ReplaceAll(sqlText, "{{pk}}", pk)
}

// splitStatements breaks a migration into single statements; sqlite's Exec
// runs only the first statement of a multi-statement string on some paths
func splitStatements(sqlText string) []string {
	var out []string
	for _, stmt := range strings.Split(sqlText, ";") {
		if s := strings.TrimSpace(stmt); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// RunMigrations applies pending migrations, each in its own transaction
func RunMigrations(ctx context.Context, db *sql.DB, driver string, logger *observability.Logger) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at TIMESTAMP NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	rows, err := db.QueryContext(ctx, "SELECT version FROM schema_migrations ORDER BY version")
	if err != nil {
		return fmt.Errorf("failed to query migrations: %w", err)
	}

	applied := make(map[int]bool)
	for rows.Next() {
		var version int
		if err := rows.Scan(&version); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan migration version: %w", err)
		}
		applied[version] = true
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to read migrations: %w", err)
	}

	for _, migration := range GetMigrations() {
		if applied[migration.Version] {
			continue
		}

		if logger != nil {
			logger.WithField("version", migration.Version).Infof("Running migration: %s", migration.Description)
		}

		err := WithTx(ctx, db, func(tx *sql.Tx) error {
			for _, stmt := range splitStatements(render(migration.SQL, driver)) {
				if _, err := tx.ExecContext(ctx, stmt); err != nil {
					return fmt.Errorf("statement failed: %w", err)
				}
			}
			_, err := tx.ExecContext(ctx,
				"INSERT INTO schema_migrations (version, description, applied_at) VALUES ($1, $2, $3)",
				migration.Version, migration.Description, time.Now().UTC(),
			)
			return err
		})
		if err != nil {
			return fmt.Errorf("migration %d (%s) failed: %w", migration.Version, migration.Description, err)
		}
	}

	return nil
}

// AppliedVersion returns the highest applied migration version, 0 when none
func AppliedVersion(ctx context.Context, db *sql.DB) (int, error) {
	var version sql.NullInt64
	if err := db.QueryRowContext(ctx, "SELECT MAX(version) FROM schema_migrations").Scan(&version); err != nil {
		return 0, fmt.Errorf("failed to read schema version: %w", err)
	}
	return int(version.Int64), nil
}
