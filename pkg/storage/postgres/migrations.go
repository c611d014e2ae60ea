package postgres

import (
	"context"
	"database/sql"
	"fmt"
)

// Migration represents one ordered schema change
type Migration struct {
	Version     int
	Description string
	SQL         string
}

// GetMigrations returns all tenancy schema migrations in order
func GetMigrations() []Migration {
	return []Migration{
		{
			Version:     1,
			Description: "Create organizations table",
			SQL: `
				CREATE TABLE IF NOT EXISTS organizations (
					id BIGSERIAL PRIMARY KEY,
					name VARCHAR(255) NOT NULL,
					created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
				);
			`,
		},
		{
			Version:     2,
			Description: "Create memberships table",
			SQL: `
				CREATE TABLE IF NOT EXISTS memberships (
					id BIGSERIAL PRIMARY KEY,
					user_id BIGINT NOT NULL,
					organization_id BIGINT NOT NULL REFERENCES organizations(id) ON DELETE CASCADE,
					role VARCHAR(50) NOT NULL,
					invited_by BIGINT,
					created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
					UNIQUE(user_id, organization_id)
				);

				CREATE INDEX idx_memberships_organization_id ON memberships(organization_id);
				CREATE INDEX idx_memberships_user_id ON memberships(user_id);

				-- Exactly one owner row per organization
				CREATE UNIQUE INDEX idx_memberships_single_owner
					ON memberships(organization_id)
					WHERE role = 'owner';
			`,
		},
		{
			Version:     3,
			Description: "Create invitations table",
			SQL: `
				CREATE TABLE IF NOT EXISTS invitations (
					id BIGSERIAL PRIMARY KEY,
					organization_id BIGINT NOT NULL REFERENCES organizations(id) ON DELETE CASCADE,
					email VARCHAR(255) NOT NULL,
					token VARCHAR(128) NOT NULL UNIQUE,
					role VARCHAR(50) NOT NULL,
					invited_by BIGINT,
					accepted_at TIMESTAMP WITH TIME ZONE,
					expires_at TIMESTAMP WITH TIME ZONE,
					created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
				);

				CREATE INDEX idx_invitations_organization_id ON invitations(organization_id);
				CREATE INDEX idx_invitations_expires_at ON invitations(expires_at)
					WHERE accepted_at IS NULL;

				-- One open invitation per address per organization
				CREATE UNIQUE INDEX idx_invitations_open_email
					ON invitations(organization_id, lower(email))
					WHERE accepted_at IS NULL;
			`,
		},
		{
			Version:     4,
			Description: "Create audit events table",
			SQL: `
				CREATE TABLE IF NOT EXISTS audit_events (
					id BIGSERIAL PRIMARY KEY,
					event_id VARCHAR(64) NOT NULL,
					event_type VARCHAR(100) NOT NULL,
					organization_id BIGINT,
					user_id BIGINT,
					role VARCHAR(50),
					metadata JSONB,
					occurred_at TIMESTAMP WITH TIME ZONE NOT NULL,
					created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
				);

				CREATE INDEX idx_audit_events_organization_id ON audit_events(organization_id, occurred_at DESC);
				CREATE INDEX idx_audit_events_event_type ON audit_events(event_type);
			`,
		},
	}
}

// RunMigrations applies all pending migrations, each inside its own
// transaction, recording applied versions in tenancy_migrations.
func RunMigrations(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS tenancy_migrations (
			version INT PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at TIMESTAMP NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	rows, err := db.QueryContext(ctx, "SELECT version FROM tenancy_migrations ORDER BY version")
	if err != nil {
		return fmt.Errorf("failed to query migrations: %w", err)
	}
	appliedVersions := make(map[int]bool)
	for rows.Next() {
		var version int
		if err := rows.Scan(&version); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan migration version: %w", err)
		}
		appliedVersions[version] = true
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to read migrations: %w", err)
	}

	for _, migration := range GetMigrations() {
		if appliedVersions[migration.Version] {
			continue
		}

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to start transaction: %w", err)
		}
		if _, err := tx.ExecContext(ctx, migration.SQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to execute migration %d: %w", migration.Version, err)
		}
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO tenancy_migrations (version, description) VALUES ($1, $2)",
			migration.Version, migration.Description,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to record migration %d: %w", migration.Version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %d: %w", migration.Version, err)
		}
	}
	return nil
}
