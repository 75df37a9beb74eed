package project

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/devplane/devplane/internal/common/errors"
	"github.com/devplane/devplane/internal/common/telemetry"
	"github.com/devplane/devplane/internal/db"
	"github.com/devplane/devplane/internal/db/dialect"
	v1 "github.com/devplane/devplane/pkg/api/v1"
)

// sqlStore persists projects through the shared database pool.
type sqlStore struct {
	pool *db.Pool
}

var _ Store = (*sqlStore)(nil)

// NewSQLStore creates the SQL-backed registry store and initializes its
// schema.
func NewSQLStore(pool *db.Pool) (Store, error) {
	s := &sqlStore{pool: pool}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize project schema: %w", err)
	}
	return s, nil
}

func (s *sqlStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS projects (
		id TEXT PRIMARY KEY,
		owner_user_id TEXT NOT NULL,
		tenant_id TEXT NOT NULL,
		name TEXT NOT NULL,
		language TEXT NOT NULL,
		framework TEXT NOT NULL DEFAULT '',
		local_path TEXT NOT NULL,
		remote_url TEXT NOT NULL DEFAULT '',
		branch TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		protected BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMP NOT NULL,
		last_opened_at TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_projects_owner ON projects(owner_user_id);
	CREATE INDEX IF NOT EXISTS idx_projects_tenant ON projects(tenant_id);
	CREATE INDEX IF NOT EXISTS idx_projects_status ON projects(status);
	`
	_, err := s.pool.Writer().Exec(schema)
	return err
}

const projectColumns = `id, owner_user_id, tenant_id, name, language, framework, local_path, remote_url, branch, status, protected, created_at, last_opened_at`

func (s *sqlStore) Create(ctx context.Context, p *v1.Project) error {
	w := s.pool.Writer()
	_, err := w.ExecContext(ctx, w.Rebind(`
		INSERT INTO projects (`+projectColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`), p.ID, p.OwnerUserID, p.TenantID, p.Name, p.Language, p.Framework, p.LocalPath, p.RemoteURL, p.Branch, p.Status, p.Protected, p.CreatedAt, p.LastOpenedAt)
	if err != nil && isUniqueViolation(err) {
		return errors.AlreadyExists("project", p.ID)
	}
	return err
}

func (s *sqlStore) Get(ctx context.Context, id string) (*v1.Project, error) {
	ro := s.pool.Reader()
	row := ro.QueryRowContext(ctx, ro.Rebind(`
		SELECT `+projectColumns+` FROM projects WHERE id = ?
	`), id)
	p, err := scanProject(row)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, errors.NotFound("project", id)
	}
	return p, err
}

func (s *sqlStore) Update(ctx context.Context, p *v1.Project) error {
	w := s.pool.Writer()
	result, err := w.ExecContext(ctx, w.Rebind(`
		UPDATE projects
		SET name = ?, language = ?, framework = ?, local_path = ?, remote_url = ?, branch = ?, status = ?, protected = ?, last_opened_at = ?
		WHERE id = ?
	`), p.Name, p.Language, p.Framework, p.LocalPath, p.RemoteURL, p.Branch, p.Status, p.Protected, p.LastOpenedAt, p.ID)
	if err != nil {
		return err
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return errors.NotFound("project", p.ID)
	}
	return nil
}

func (s *sqlStore) Delete(ctx context.Context, id string) error {
	w := s.pool.Writer()
	result, err := w.ExecContext(ctx, w.Rebind(`DELETE FROM projects WHERE id = ?`), id)
	if err != nil {
		return err
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return errors.NotFound("project", id)
	}
	return nil
}

func (s *sqlStore) List(ctx context.Context, filter Filter) ([]*v1.Project, int, error) {
	ctx, span := telemetry.Tracer("devplane-db").Start(ctx, "db.ListProjects")
	defer span.End()

	filter.Normalize()

	var conds []string
	var args []any
	if !filter.Unbounded {
		if len(filter.VisibleUserIDs) == 0 {
			return []*v1.Project{}, 0, nil
		}
		conds = append(conds, "owner_user_id IN (?)")
		args = append(args, filter.VisibleUserIDs)
	}
	if filter.TenantID != "" {
		conds = append(conds, "tenant_id = ?")
		args = append(args, filter.TenantID)
	}
	if filter.Status != "" {
		conds = append(conds, "status = ?")
		args = append(args, filter.Status)
	}
	if filter.Language != "" {
		conds = append(conds, "language = ?")
		args = append(args, filter.Language)
	}
	if filter.Framework != "" {
		conds = append(conds, "framework = ?")
		args = append(args, filter.Framework)
	}

	ro := s.pool.Reader()
	if filter.Search != "" {
		conds = append(conds, fmt.Sprintf("LOWER(name) %s ?", dialect.Like(ro.DriverName())))
		args = append(args, "%"+strings.ToLower(filter.Search)+"%")
	}

	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}

	countQuery, countArgs, err := sqlx.In("SELECT COUNT(*) FROM projects"+where, args...)
	if err != nil {
		return nil, 0, err
	}
	var total int
	if err := ro.QueryRowContext(ctx, ro.Rebind(countQuery), countArgs...).Scan(&total); err != nil {
		return nil, 0, err
	}

	pageQuery, pageArgs, err := sqlx.In(
		"SELECT "+projectColumns+" FROM projects"+where+" ORDER BY created_at DESC, id LIMIT ? OFFSET ?",
		append(append([]any{}, args...), filter.PageSize, (filter.Page-1)*filter.PageSize)...)
	if err != nil {
		return nil, 0, err
	}
	rows, err := ro.QueryContext(ctx, ro.Rebind(pageQuery), pageArgs...)
	if err != nil {
		return nil, 0, err
	}
	defer func() {
		_ = rows.Close()
	}()

	var items []*v1.Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, p)
	}
	if items == nil {
		items = []*v1.Project{}
	}
	return items, total, rows.Err()
}

func (s *sqlStore) TouchLastOpened(ctx context.Context, id string, at time.Time) error {
	w := s.pool.Writer()
	result, err := w.ExecContext(ctx, w.Rebind(`UPDATE projects SET last_opened_at = ? WHERE id = ?`), at, id)
	if err != nil {
		return err
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return errors.NotFound("project", id)
	}
	return nil
}

// Close is a no-op; the shared pool is owned by the caller.
func (s *sqlStore) Close() error {
	return nil
}

// isUniqueViolation matches the duplicate-key wording of both drivers.
func isUniqueViolation(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique") || strings.Contains(msg, "duplicate key")
}

func scanProject(scanner interface{ Scan(dest ...any) error }) (*v1.Project, error) {
	p := &v1.Project{}
	var lastOpened sql.NullTime
	if err := scanner.Scan(&p.ID, &p.OwnerUserID, &p.TenantID, &p.Name, &p.Language, &p.Framework, &p.LocalPath, &p.RemoteURL, &p.Branch, &p.Status, &p.Protected, &p.CreatedAt, &lastOpened); err != nil {
		return nil, err
	}
	if lastOpened.Valid {
		t := lastOpened.Time
		p.LastOpenedAt = &t
	}
	return p, nil
}
