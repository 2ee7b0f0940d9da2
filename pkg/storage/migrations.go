package storage

import (
	"fmt"

	"github.com/jmoiron/sqlx"
)

var migrations = []string{
	// Migration 1: operational schema
	`CREATE TABLE IF NOT EXISTS tenants (
		id         TEXT PRIMARY KEY,
		active     BOOLEAN NOT NULL DEFAULT 1,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS operations (
		tenant_id       TEXT NOT NULL REFERENCES tenants(id),
		id              TEXT NOT NULL,
		title           TEXT NOT NULL,
		status          TEXT NOT NULL CHECK(status IN ('planned', 'confirmed', 'running', 'completed', 'cancelled')),
		start_date      DATETIME NOT NULL,
		requires_guide  BOOLEAN NOT NULL DEFAULT 0,
		requires_driver BOOLEAN NOT NULL DEFAULT 0,
		estimated_cost  REAL NOT NULL DEFAULT 0.0,
		actual_cost     REAL NOT NULL DEFAULT 0.0,
		revenue         REAL NOT NULL DEFAULT 0.0,
		PRIMARY KEY (tenant_id, id)
	);

	CREATE TABLE IF NOT EXISTS expenses (
		tenant_id    TEXT NOT NULL REFERENCES tenants(id),
		id           TEXT NOT NULL,
		operation_id TEXT NOT NULL DEFAULT '',
		description  TEXT NOT NULL DEFAULT '',
		amount       REAL NOT NULL DEFAULT 0.0,
		due_date     DATETIME NOT NULL,
		paid         BOOLEAN NOT NULL DEFAULT 0,
		PRIMARY KEY (tenant_id, id)
	);

	CREATE TABLE IF NOT EXISTS client_payments (
		tenant_id    TEXT NOT NULL REFERENCES tenants(id),
		id           TEXT NOT NULL,
		operation_id TEXT NOT NULL DEFAULT '',
		client_name  TEXT NOT NULL DEFAULT '',
		amount       REAL NOT NULL DEFAULT 0.0,
		due_date     DATETIME NOT NULL,
		paid         BOOLEAN NOT NULL DEFAULT 0,
		PRIMARY KEY (tenant_id, id)
	);

	CREATE TABLE IF NOT EXISTS participants (
		tenant_id           TEXT NOT NULL REFERENCES tenants(id),
		id                  TEXT NOT NULL,
		operation_id        TEXT NOT NULL,
		name                TEXT NOT NULL,
		confirmed           BOOLEAN NOT NULL DEFAULT 0,
		document_expires_at DATETIME,
		PRIMARY KEY (tenant_id, id)
	);

	CREATE TABLE IF NOT EXISTS supplier_bookings (
		tenant_id     TEXT NOT NULL REFERENCES tenants(id),
		id            TEXT NOT NULL,
		operation_id  TEXT NOT NULL,
		supplier_name TEXT NOT NULL,
		confirmed     BOOLEAN NOT NULL DEFAULT 0,
		PRIMARY KEY (tenant_id, id)
	);

	CREATE TABLE IF NOT EXISTS staff_assignments (
		tenant_id    TEXT NOT NULL REFERENCES tenants(id),
		operation_id TEXT NOT NULL,
		role         TEXT NOT NULL,
		name         TEXT NOT NULL,
		PRIMARY KEY (tenant_id, operation_id, role, name)
	);

	CREATE INDEX IF NOT EXISTS idx_expenses_due ON expenses(tenant_id, due_date);
	CREATE INDEX IF NOT EXISTS idx_client_payments_due ON client_payments(tenant_id, due_date);
	CREATE INDEX IF NOT EXISTS idx_participants_op ON participants(tenant_id, operation_id);`,
}

// runMigrations applies pending schema migrations.
func runMigrations(db *sqlx.DB) error {
	_, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
		version    INTEGER PRIMARY KEY,
		applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`)
	if err != nil {
		return fmt.Errorf("create migration table: %w", err)
	}

	var currentVersion int
	if err := db.Get(&currentVersion, "SELECT COALESCE(MAX(version), 0) FROM schema_migrations"); err != nil {
		return fmt.Errorf("check migration version: %w", err)
	}

	for i := currentVersion; i < len(migrations); i++ {
		tx, err := db.Beginx()
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", i+1, err)
		}

		if _, err := tx.Exec(migrations[i]); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("run migration %d: %w", i+1, err)
		}

		if _, err := tx.Exec("INSERT INTO schema_migrations (version) VALUES (?)", i+1); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("record migration %d: %w", i+1, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", i+1, err)
		}
	}

	return nil
}
