package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/ogulcanaydogan/ops-sentinel/pkg/model"

	_ "modernc.org/sqlite"
)

// SQLite implements Store on an SQLite database.
type SQLite struct {
	db *sqlx.DB
}

// NewSQLite opens or creates an SQLite database at the given path and
// applies pending migrations.
func NewSQLite(dbPath string) (*SQLite, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sqlx.Open("sqlite", dbPath+"?_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Enable WAL mode for concurrent reads
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLite{db: db}, nil
}

// NewFromDB wraps an already open database whose schema is managed by the
// caller.
func NewFromDB(db *sqlx.DB) *SQLite {
	return &SQLite{db: db}
}

func (s *SQLite) ListTenants(ctx context.Context) ([]string, error) {
	var ids []string
	if err := s.db.SelectContext(ctx, &ids, "SELECT id FROM tenants WHERE active = 1 ORDER BY id"); err != nil {
		return nil, fmt.Errorf("list tenants: %w", err)
	}
	return ids, nil
}

// participantRow carries the nullable document expiry column.
type participantRow struct {
	ID                string       `db:"id"`
	OperationID       string       `db:"operation_id"`
	Name              string       `db:"name"`
	Confirmed         bool         `db:"confirmed"`
	DocumentExpiresAt sql.NullTime `db:"document_expires_at"`
}

func (s *SQLite) LoadDataset(ctx context.Context, tenantID string) (*model.Dataset, error) {
	var exists int
	err := s.db.GetContext(ctx, &exists, "SELECT COUNT(*) FROM tenants WHERE id = ?", tenantID)
	if err != nil {
		return nil, fmt.Errorf("lookup tenant %s: %w", tenantID, err)
	}
	if exists == 0 {
		return nil, fmt.Errorf("load tenant %s: %w", tenantID, ErrTenantNotFound)
	}

	ds := &model.Dataset{}

	if err := s.db.SelectContext(ctx, &ds.Operations, `
		SELECT id, title, status, start_date, requires_guide, requires_driver,
		       estimated_cost, actual_cost, revenue
		FROM operations WHERE tenant_id = ? ORDER BY start_date, id`, tenantID); err != nil {
		return nil, fmt.Errorf("query operations: %w", err)
	}

	if err := s.db.SelectContext(ctx, &ds.Expenses, `
		SELECT id, operation_id, description, amount, due_date, paid
		FROM expenses WHERE tenant_id = ? ORDER BY due_date, id`, tenantID); err != nil {
		return nil, fmt.Errorf("query expenses: %w", err)
	}

	if err := s.db.SelectContext(ctx, &ds.ClientPayments, `
		SELECT id, operation_id, client_name, amount, due_date, paid
		FROM client_payments WHERE tenant_id = ? ORDER BY due_date, id`, tenantID); err != nil {
		return nil, fmt.Errorf("query client payments: %w", err)
	}

	var participants []participantRow
	if err := s.db.SelectContext(ctx, &participants, `
		SELECT id, operation_id, name, confirmed, document_expires_at
		FROM participants WHERE tenant_id = ? ORDER BY operation_id, id`, tenantID); err != nil {
		return nil, fmt.Errorf("query participants: %w", err)
	}
	for _, p := range participants {
		mp := model.Participant{
			ID:          p.ID,
			OperationID: p.OperationID,
			Name:        p.Name,
			Confirmed:   p.Confirmed,
		}
		if p.DocumentExpiresAt.Valid {
			t := p.DocumentExpiresAt.Time.UTC()
			mp.DocumentExpiresAt = &t
		}
		ds.Participants = append(ds.Participants, mp)
	}

	if err := s.db.SelectContext(ctx, &ds.SupplierBookings, `
		SELECT id, operation_id, supplier_name, confirmed
		FROM supplier_bookings WHERE tenant_id = ? ORDER BY id`, tenantID); err != nil {
		return nil, fmt.Errorf("query supplier bookings: %w", err)
	}

	if err := s.db.SelectContext(ctx, &ds.StaffAssignments, `
		SELECT operation_id, role, name
		FROM staff_assignments WHERE tenant_id = ? ORDER BY operation_id, role, name`, tenantID); err != nil {
		return nil, fmt.Errorf("query staff assignments: %w", err)
	}

	return ds, nil
}

var tenantTables = []string{
	"operations", "expenses", "client_payments", "participants",
	"supplier_bookings", "staff_assignments",
}

func (s *SQLite) SaveDataset(ctx context.Context, tenantID string, ds *model.Dataset) error {
	if tenantID == "" {
		return &model.ValidationError{Field: "tenant", Reason: "must not be empty"}
	}
	if ds == nil {
		ds = &model.Dataset{}
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin save tenant %s: %w", tenantID, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO tenants (id, active) VALUES (?, 1)
		 ON CONFLICT(id) DO UPDATE SET active = 1`, tenantID); err != nil {
		return fmt.Errorf("upsert tenant %s: %w", tenantID, err)
	}

	for _, table := range tenantTables {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table+" WHERE tenant_id = ?", tenantID); err != nil {
			return fmt.Errorf("clear %s: %w", table, err)
		}
	}

	for _, op := range ds.Operations {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO operations (tenant_id, id, title, status, start_date, requires_guide, requires_driver,
			 estimated_cost, actual_cost, revenue) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			tenantID, op.ID, op.Title, string(op.Status), op.StartDate.UTC(), op.RequiresGuide, op.RequiresDriver,
			op.EstimatedCost, op.ActualCost, op.Revenue)
		if err != nil {
			return fmt.Errorf("insert operation %s: %w", op.ID, err)
		}
	}

	for _, e := range ds.Expenses {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO expenses (tenant_id, id, operation_id, description, amount, due_date, paid)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			tenantID, e.ID, e.OperationID, e.Description, e.Amount, e.DueDate.UTC(), e.Paid)
		if err != nil {
			return fmt.Errorf("insert expense %s: %w", e.ID, err)
		}
	}

	for _, p := range ds.ClientPayments {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO client_payments (tenant_id, id, operation_id, client_name, amount, due_date, paid)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			tenantID, p.ID, p.OperationID, p.ClientName, p.Amount, p.DueDate.UTC(), p.Paid)
		if err != nil {
			return fmt.Errorf("insert client payment %s: %w", p.ID, err)
		}
	}

	for _, p := range ds.Participants {
		var expires sql.NullTime
		if p.DocumentExpiresAt != nil {
			expires = sql.NullTime{Time: p.DocumentExpiresAt.UTC(), Valid: true}
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO participants (tenant_id, id, operation_id, name, confirmed, document_expires_at)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			tenantID, p.ID, p.OperationID, p.Name, p.Confirmed, expires)
		if err != nil {
			return fmt.Errorf("insert participant %s: %w", p.ID, err)
		}
	}

	for _, b := range ds.SupplierBookings {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO supplier_bookings (tenant_id, id, operation_id, supplier_name, confirmed)
			 VALUES (?, ?, ?, ?, ?)`,
			tenantID, b.ID, b.OperationID, b.SupplierName, b.Confirmed)
		if err != nil {
			return fmt.Errorf("insert supplier booking %s: %w", b.ID, err)
		}
	}

	for _, a := range ds.StaffAssignments {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO staff_assignments (tenant_id, operation_id, role, name) VALUES (?, ?, ?, ?)`,
			tenantID, a.OperationID, a.Role, a.Name)
		if err != nil {
			return fmt.Errorf("insert staff assignment %s/%s: %w", a.OperationID, a.Role, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit save tenant %s: %w", tenantID, err)
	}
	return nil
}

// SetTenantActive toggles whether a tenant is listed for refresh.
func (s *SQLite) SetTenantActive(ctx context.Context, tenantID string, active bool) error {
	res, err := s.db.ExecContext(ctx, "UPDATE tenants SET active = ? WHERE id = ?", active, tenantID)
	if err != nil {
		return fmt.Errorf("update tenant %s: %w", tenantID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update tenant %s: %w", tenantID, err)
	}
	if n == 0 {
		return fmt.Errorf("update tenant %s: %w", tenantID, ErrTenantNotFound)
	}
	return nil
}

// Ping checks the database connection within timeout.
func (s *SQLite) Ping(ctx context.Context, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping database: %w", err)
	}
	return nil
}

func (s *SQLite) Close() error {
	return s.db.Close()
}

// IsNotFound reports whether err means the tenant does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrTenantNotFound)
}
