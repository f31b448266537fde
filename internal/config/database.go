package config

import (
	"fmt"
	"log/slog"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // PostgreSQL driver
)

// SetupDatabase initializes the database connection
func SetupDatabase(cfg *Config) (*sqlx.DB, error) {
	db, err := sqlx.Connect("postgres", cfg.Database.GetDSN())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Test the connection
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// Set connection pool settings
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)

	// Create tables if they don't exist
	if err := createTables(db); err != nil {
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	return db, nil
}

// createTables creates the necessary tables in the database
func createTables(db *sqlx.DB) error {
	// Create users table
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS users (
			id VARCHAR(36) PRIMARY KEY,
			email VARCHAR(255) UNIQUE NOT NULL,
			name VARCHAR(255) NOT NULL,
			password VARCHAR(255) NOT NULL,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)
	`)
	if err != nil {
		return err
	}

	// Create expense_groups table
	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS expense_groups (
			id VARCHAR(36) PRIMARY KEY,
			name VARCHAR(255) NOT NULL,
			owner_id VARCHAR(36) NOT NULL REFERENCES users(id),
			sharing_enabled BOOLEAN NOT NULL DEFAULT FALSE,
			last_toggle_at TIMESTAMP,
			toggle_count_today INT NOT NULL DEFAULT 0,
			toggle_count_reset_at TIMESTAMP,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)
	`)
	if err != nil {
		return err
	}

	// Create group_members table
	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS group_members (
			group_id VARCHAR(36) NOT NULL REFERENCES expense_groups(id) ON DELETE CASCADE,
			user_id VARCHAR(36) NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			role VARCHAR(16) NOT NULL,
			joined_at TIMESTAMP NOT NULL,
			PRIMARY KEY (group_id, user_id)
		)
	`)
	if err != nil {
		return err
	}

	// Create expense_records table. group_id has no FK: a departed
	// member's records keep their group reference for history even
	// after the group is deleted out from under them mid-cascade.
	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS expense_records (
			id VARCHAR(36) PRIMARY KEY,
			owner_id VARCHAR(36) NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			group_id VARCHAR(36),
			amount NUMERIC(14, 2) NOT NULL,
			currency VARCHAR(3) NOT NULL,
			description TEXT NOT NULL,
			category VARCHAR(64) NOT NULL DEFAULT '',
			occurred_on TIMESTAMP NOT NULL,
			version BIGINT NOT NULL DEFAULT 1,
			updated_at TIMESTAMP NOT NULL,
			deleted_at TIMESTAMP,
			deleted_by VARCHAR(36),
			period_day VARCHAR(10) NOT NULL,
			period_week VARCHAR(8) NOT NULL,
			period_month VARCHAR(7) NOT NULL,
			period_quarter VARCHAR(7) NOT NULL,
			period_year VARCHAR(4) NOT NULL
		)
	`)
	if err != nil {
		return err
	}

	// Create change_entries table. Rows are append-only; the primary
	// key is the deterministic event-derived ID, which is what makes
	// redelivered inserts no-ops.
	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS change_entries (
			id TEXT PRIMARY KEY,
			group_id VARCHAR(36) NOT NULL,
			kind VARCHAR(10) NOT NULL,
			record_id VARCHAR(36) NOT NULL,
			actor_id VARCHAR(36) NOT NULL,
			ts TIMESTAMP NOT NULL,
			data JSONB,
			summary JSONB NOT NULL,
			expires_at TIMESTAMP NOT NULL
		)
	`)
	if err != nil {
		return err
	}

	// Create share_preferences table
	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS share_preferences (
			user_id VARCHAR(36) NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			group_id VARCHAR(36) NOT NULL,
			share_details BOOLEAN NOT NULL DEFAULT FALSE,
			last_toggle_at TIMESTAMP,
			toggle_count_today INT NOT NULL DEFAULT 0,
			toggle_count_reset_at TIMESTAMP,
			PRIMARY KEY (user_id, group_id)
		)
	`)
	if err != nil {
		return err
	}

	// Create invitations table
	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS invitations (
			id VARCHAR(36) PRIMARY KEY,
			code VARCHAR(64) UNIQUE NOT NULL,
			group_id VARCHAR(36) NOT NULL,
			inviter_id VARCHAR(36) NOT NULL,
			role VARCHAR(16) NOT NULL,
			status VARCHAR(10) NOT NULL,
			expires_at TIMESTAMP NOT NULL,
			created_at TIMESTAMP NOT NULL
		)
	`)
	if err != nil {
		return err
	}

	// Create indexes for better performance
	indexes := []string{
		"CREATE INDEX IF NOT EXISTS idx_records_group ON expense_records(group_id) WHERE deleted_at IS NULL",
		"CREATE INDEX IF NOT EXISTS idx_records_group_owner ON expense_records(group_id, owner_id)",
		"CREATE INDEX IF NOT EXISTS idx_records_period_month ON expense_records(group_id, period_month)",
		"CREATE INDEX IF NOT EXISTS idx_changes_group_ts ON change_entries(group_id, ts)",
		"CREATE INDEX IF NOT EXISTS idx_changes_expiry ON change_entries(expires_at)",
		"CREATE INDEX IF NOT EXISTS idx_invitations_group ON invitations(group_id)",
	}

	for _, idx := range indexes {
		if _, err := db.Exec(idx); err != nil {
			slog.Warn("failed to create index", "error", err)
			// Indexes are not critical, keep going
		}
	}

	return nil
}
