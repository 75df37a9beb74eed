package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/devplane/devplane/internal/db"
	v1 "github.com/devplane/devplane/pkg/api/v1"
)

// sqlStore persists cost records through the shared database pool. The
// same statements run on SQLite and PostgreSQL via Rebind.
type sqlStore struct {
	pool *db.Pool
}

var _ Store = (*sqlStore)(nil)

// NewSQLStore creates the SQL-backed ledger store and initializes its schema.
func NewSQLStore(pool *db.Pool) (Store, error) {
	s := &sqlStore{pool: pool}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize ledger schema: %w", err)
	}
	return s, nil
}

func (s *sqlStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS cost_records (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		timestamp TIMESTAMP NOT NULL,
		operation TEXT NOT NULL,
		duration_ms INTEGER NOT NULL DEFAULT 0,
		tokens_in INTEGER NOT NULL DEFAULT 0,
		tokens_out INTEGER NOT NULL DEFAULT 0,
		virtual_cost_usd REAL NOT NULL DEFAULT 0,
		metadata TEXT DEFAULT '{}'
	);
	CREATE INDEX IF NOT EXISTS idx_cost_records_operation ON cost_records(operation);
	CREATE INDEX IF NOT EXISTS idx_cost_records_timestamp ON cost_records(timestamp);
	`
	// Postgres spells auto-increment differently.
	if s.pool.Writer().DriverName() == "pgx" {
		schema = strings.Replace(schema, "INTEGER PRIMARY KEY AUTOINCREMENT", "BIGSERIAL PRIMARY KEY", 1)
	}
	_, err := s.pool.Writer().Exec(schema)
	return err
}

// Append adds a record to the log.
func (s *sqlStore) Append(ctx context.Context, record v1.CostRecord) error {
	metadata, err := marshalMetadata(record.Metadata)
	if err != nil {
		return err
	}
	w := s.pool.Writer()
	_, err = w.ExecContext(ctx, w.Rebind(`
		INSERT INTO cost_records (timestamp, operation, duration_ms, tokens_in, tokens_out, virtual_cost_usd, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`), record.Timestamp, record.Operation, record.DurationMs, record.TokensIn, record.TokensOut, record.VirtualCostUSD, metadata)
	return err
}

// List returns matching records newest first.
func (s *sqlStore) List(ctx context.Context, filter Filter) ([]v1.CostRecord, error) {
	query := `
		SELECT timestamp, operation, duration_ms, tokens_in, tokens_out, virtual_cost_usd, metadata
		FROM cost_records
	`
	var conds []string
	var args []any
	if filter.Operation != "" {
		conds = append(conds, "operation = ?")
		args = append(args, filter.Operation)
	}
	if !filter.Since.IsZero() {
		conds = append(conds, "timestamp >= ?")
		args = append(args, filter.Since)
	}
	if !filter.Until.IsZero() {
		conds = append(conds, "timestamp <= ?")
		args = append(args, filter.Until)
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY seq DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	ro := s.pool.Reader()
	rows, err := ro.QueryContext(ctx, ro.Rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = rows.Close()
	}()

	var records []v1.CostRecord
	for rows.Next() {
		var rec v1.CostRecord
		var metadata string
		if err := rows.Scan(&rec.Timestamp, &rec.Operation, &rec.DurationMs, &rec.TokensIn, &rec.TokensOut, &rec.VirtualCostUSD, &metadata); err != nil {
			return nil, err
		}
		if metadata != "" && metadata != "{}" {
			if err := json.Unmarshal([]byte(metadata), &rec.Metadata); err != nil {
				return nil, fmt.Errorf("corrupt ledger metadata: %w", err)
			}
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Close is a no-op; the shared pool is owned by the caller.
func (s *sqlStore) Close() error {
	return nil
}

func marshalMetadata(metadata map[string]string) (string, error) {
	if len(metadata) == 0 {
		return "{}", nil
	}
	raw, err := json.Marshal(metadata)
	if err != nil {
		return "", fmt.Errorf("failed to marshal metadata: %w", err)
	}
	return string(raw), nil
}
