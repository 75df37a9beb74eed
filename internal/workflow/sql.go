package workflow

import (
	"context"
	"database/sql"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"strings"

	"github.com/devplane/devplane/internal/common/errors"
	"github.com/devplane/devplane/internal/common/telemetry"
	"github.com/devplane/devplane/internal/db"
	v1 "github.com/devplane/devplane/pkg/api/v1"
)

// sqlStore persists workflows through the shared database pool. Steps and
// config are stored as JSON documents; they are only ever read and written
// whole, by one engine goroutine per workflow.
type sqlStore struct {
	pool *db.Pool
}

var _ Store = (*sqlStore)(nil)

// NewSQLStore creates the SQL-backed workflow store and initializes its
// schema.
func NewSQLStore(pool *db.Pool) (Store, error) {
	s := &sqlStore{pool: pool}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize workflow schema: %w", err)
	}
	return s, nil
}

func (s *sqlStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS workflows (
		id TEXT PRIMARY KEY,
		project_id TEXT NOT NULL,
		caller_user_id TEXT NOT NULL,
		steps TEXT NOT NULL,
		config TEXT NOT NULL DEFAULT '{}',
		status TEXT NOT NULL,
		error_kind TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL,
		started_at TIMESTAMP,
		finished_at TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_workflows_project ON workflows(project_id);
	CREATE INDEX IF NOT EXISTS idx_workflows_status ON workflows(status);

	CREATE TABLE IF NOT EXISTS workflow_logs (
		workflow_id TEXT NOT NULL,
		seq INTEGER NOT NULL,
		ts TIMESTAMP NOT NULL,
		step_name TEXT NOT NULL,
		line TEXT NOT NULL,
		PRIMARY KEY (workflow_id, seq)
	);
	`
	_, err := s.pool.Writer().Exec(schema)
	return err
}

const workflowColumns = `id, project_id, caller_user_id, steps, config, status, error_kind, created_at, started_at, finished_at`

func (s *sqlStore) Create(ctx context.Context, wf *v1.Workflow) error {
	steps, config, err := marshalWorkflow(wf)
	if err != nil {
		return err
	}
	w := s.pool.Writer()
	_, err = w.ExecContext(ctx, w.Rebind(`
		INSERT INTO workflows (`+workflowColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`), wf.ID, wf.ProjectID, wf.CallerUserID, steps, config, wf.Status, wf.ErrorKind, wf.CreatedAt, wf.StartedAt, wf.FinishedAt)
	if err != nil && isUniqueViolation(err) {
		return errors.AlreadyExists("workflow", wf.ID)
	}
	return err
}

func (s *sqlStore) Get(ctx context.Context, id string) (*v1.Workflow, error) {
	ro := s.pool.Reader()
	row := ro.QueryRowContext(ctx, ro.Rebind(`
		SELECT `+workflowColumns+` FROM workflows WHERE id = ?
	`), id)
	wf, err := scanWorkflow(row)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, errors.NotFound("workflow", id)
	}
	return wf, err
}

func (s *sqlStore) Update(ctx context.Context, wf *v1.Workflow) error {
	steps, config, err := marshalWorkflow(wf)
	if err != nil {
		return err
	}
	w := s.pool.Writer()
	result, err := w.ExecContext(ctx, w.Rebind(`
		UPDATE workflows
		SET steps = ?, config = ?, status = ?, error_kind = ?, started_at = ?, finished_at = ?
		WHERE id = ?
	`), steps, config, wf.Status, wf.ErrorKind, wf.StartedAt, wf.FinishedAt, wf.ID)
	if err != nil {
		return err
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return errors.NotFound("workflow", wf.ID)
	}
	return nil
}

func (s *sqlStore) List(ctx context.Context, projectID string) ([]*v1.Workflow, error) {
	ctx, span := telemetry.Tracer("devplane-db").Start(ctx, "db.ListWorkflows")
	defer span.End()

	ro := s.pool.Reader()
	rows, err := ro.QueryContext(ctx, ro.Rebind(`
		SELECT `+workflowColumns+` FROM workflows
		WHERE project_id = ?
		ORDER BY created_at DESC, id
	`), projectID)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = rows.Close()
	}()

	items := []*v1.Workflow{}
	for rows.Next() {
		wf, err := scanWorkflow(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, wf)
	}
	return items, rows.Err()
}

func (s *sqlStore) AppendLog(ctx context.Context, workflowID string, chunk v1.LogChunk) error {
	if err := s.exists(ctx, workflowID); err != nil {
		return err
	}
	// seq is dense from zero so log offsets map onto it directly. Only
	// the single engine goroutine owning the workflow appends, so the
	// MAX(seq) subquery cannot race itself.
	w := s.pool.Writer()
	_, err := w.ExecContext(ctx, w.Rebind(`
		INSERT INTO workflow_logs (workflow_id, seq, ts, step_name, line)
		SELECT ?, COALESCE(MAX(seq) + 1, 0), ?, ?, ?
		FROM workflow_logs WHERE workflow_id = ?
	`), workflowID, chunk.Timestamp, chunk.StepName, chunk.Line, workflowID)
	return err
}

func (s *sqlStore) Logs(ctx context.Context, workflowID string, offset int) ([]v1.LogChunk, error) {
	if err := s.exists(ctx, workflowID); err != nil {
		return nil, err
	}
	ro := s.pool.Reader()
	rows, err := ro.QueryContext(ctx, ro.Rebind(`
		SELECT ts, step_name, line FROM workflow_logs
		WHERE workflow_id = ? AND seq >= ?
		ORDER BY seq
	`), workflowID, offset)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = rows.Close()
	}()

	chunks := []v1.LogChunk{}
	for rows.Next() {
		var c v1.LogChunk
		if err := rows.Scan(&c.Timestamp, &c.StepName, &c.Line); err != nil {
			return nil, err
		}
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

// Close is a no-op; the shared pool is owned by the caller.
func (s *sqlStore) Close() error {
	return nil
}

func (s *sqlStore) exists(ctx context.Context, workflowID string) error {
	ro := s.pool.Reader()
	var one int
	err := ro.QueryRowContext(ctx, ro.Rebind(`SELECT 1 FROM workflows WHERE id = ?`), workflowID).Scan(&one)
	if stderrors.Is(err, sql.ErrNoRows) {
		return errors.NotFound("workflow", workflowID)
	}
	return err
}

// isUniqueViolation matches the duplicate-key wording of both drivers.
func isUniqueViolation(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique") || strings.Contains(msg, "duplicate key")
}

func marshalWorkflow(wf *v1.Workflow) (steps, config []byte, err error) {
	steps, err = json.Marshal(wf.Steps)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal workflow steps: %w", err)
	}
	config, err = json.Marshal(wf.Config)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal workflow config: %w", err)
	}
	return steps, config, nil
}

func scanWorkflow(scanner interface{ Scan(dest ...any) error }) (*v1.Workflow, error) {
	wf := &v1.Workflow{}
	var steps, config []byte
	var started, finished sql.NullTime
	if err := scanner.Scan(&wf.ID, &wf.ProjectID, &wf.CallerUserID, &steps, &config, &wf.Status, &wf.ErrorKind, &wf.CreatedAt, &started, &finished); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(steps, &wf.Steps); err != nil {
		return nil, fmt.Errorf("failed to unmarshal workflow steps: %w", err)
	}
	if len(config) > 0 {
		if err := json.Unmarshal(config, &wf.Config); err != nil {
			return nil, fmt.Errorf("failed to unmarshal workflow config: %w", err)
		}
	}
	if started.Valid {
		t := started.Time
		wf.StartedAt = &t
	}
	if finished.Valid {
		t := finished.Time
		wf.FinishedAt = &t
	}
	return wf, nil
}
