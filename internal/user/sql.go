package user

import (
	"context"
	"database/sql"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/devplane/devplane/internal/common/errors"
	"github.com/devplane/devplane/internal/db"
	v1 "github.com/devplane/devplane/pkg/api/v1"
)

// sqlDirectory persists the directory through the shared database pool.
// The same statements run on SQLite and PostgreSQL via Rebind.
type sqlDirectory struct {
	pool *db.Pool
}

var _ Directory = (*sqlDirectory)(nil)

// NewSQLDirectory creates the SQL-backed directory and initializes its schema.
func NewSQLDirectory(pool *db.Pool) (Directory, error) {
	d := &sqlDirectory{pool: pool}
	if err := d.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize user schema: %w", err)
	}
	return d, nil
}

func (d *sqlDirectory) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS tenants (
		id TEXT PRIMARY KEY,
		plan_limits TEXT NOT NULL DEFAULT '{}',
		active BOOLEAN NOT NULL DEFAULT TRUE
	);
	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		role TEXT NOT NULL,
		active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_users_tenant ON users(tenant_id);
	`
	_, err := d.pool.Writer().Exec(schema)
	return err
}

func (d *sqlDirectory) GetUser(ctx context.Context, id string) (*v1.User, error) {
	ro := d.pool.Reader()
	var u v1.User
	err := ro.QueryRowContext(ctx, ro.Rebind(`
		SELECT id, tenant_id, role, active, created_at FROM users WHERE id = ?
	`), id).Scan(&u.ID, &u.TenantID, &u.Role, &u.Active, &u.CreatedAt)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, errors.NotFound("user", id)
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (d *sqlDirectory) GetTenant(ctx context.Context, id string) (*v1.Tenant, error) {
	ro := d.pool.Reader()
	var t v1.Tenant
	var limits string
	err := ro.QueryRowContext(ctx, ro.Rebind(`
		SELECT id, plan_limits, active FROM tenants WHERE id = ?
	`), id).Scan(&t.ID, &limits, &t.Active)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, errors.NotFound("tenant", id)
	}
	if err != nil {
		return nil, err
	}
	if limits != "" && limits != "{}" {
		if err := json.Unmarshal([]byte(limits), &t.PlanLimits); err != nil {
			return nil, fmt.Errorf("corrupt tenant plan limits: %w", err)
		}
	}
	return &t, nil
}

func (d *sqlDirectory) ListUserIDsByTenant(ctx context.Context, tenantID string) ([]string, error) {
	ro := d.pool.Reader()
	rows, err := ro.QueryContext(ctx, ro.Rebind(`
		SELECT id FROM users WHERE tenant_id = ? ORDER BY id
	`), tenantID)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = rows.Close()
	}()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (d *sqlDirectory) UpsertUser(ctx context.Context, u *v1.User) error {
	if u.ID == "" {
		return errors.Precondition("user id is required")
	}
	cp := *u
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now().UTC()
	}
	w := d.pool.Writer()
	_, err := w.ExecContext(ctx, w.Rebind(`
		INSERT INTO users (id, tenant_id, role, active, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET tenant_id = excluded.tenant_id, role = excluded.role, active = excluded.active
	`), cp.ID, cp.TenantID, cp.Role, cp.Active, cp.CreatedAt)
	return err
}

func (d *sqlDirectory) UpsertTenant(ctx context.Context, t *v1.Tenant) error {
	if t.ID == "" {
		return errors.Precondition("tenant id is required")
	}
	limits := "{}"
	if len(t.PlanLimits) > 0 {
		raw, err := json.Marshal(t.PlanLimits)
		if err != nil {
			return fmt.Errorf("failed to marshal plan limits: %w", err)
		}
		limits = string(raw)
	}
	w := d.pool.Writer()
	_, err := w.ExecContext(ctx, w.Rebind(`
		INSERT INTO tenants (id, plan_limits, active)
		VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET plan_limits = excluded.plan_limits, active = excluded.active
	`), t.ID, limits, t.Active)
	return err
}

// Close is a no-op; the shared pool is owned by the caller.
func (d *sqlDirectory) Close() error {
	return nil
}
