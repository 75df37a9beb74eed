package vault

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"

	"github.com/devplane/devplane/internal/common/errors"
	"github.com/devplane/devplane/internal/db"
	"github.com/devplane/devplane/internal/db/dialect"
)

// sqlStore persists encrypted credentials through the shared pool.
type sqlStore struct {
	pool *db.Pool
}

var _ Store = (*sqlStore)(nil)

// NewSQLStore creates the SQL-backed credential store and initializes
// its schema.
func NewSQLStore(pool *db.Pool) (Store, error) {
	s := &sqlStore{pool: pool}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize vault schema: %w", err)
	}
	return s, nil
}

func (s *sqlStore) initSchema() error {
	w := s.pool.Writer()
	blob := dialect.Blob(w.DriverName())
	schema := fmt.Sprintf(`
	CREATE TABLE IF NOT EXISTS credentials (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		provider TEXT NOT NULL,
		username TEXT NOT NULL DEFAULT '',
		encrypted_token %s NOT NULL,
		nonce %s NOT NULL,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL,
		UNIQUE (user_id, provider)
	);
	CREATE INDEX IF NOT EXISTS idx_credentials_user ON credentials(user_id);
	`, blob, blob)
	_, err := w.Exec(schema)
	return err
}

func (s *sqlStore) Put(ctx context.Context, cred *Credential, ciphertext, nonce []byte) error {
	w := s.pool.Writer()
	_, err := w.ExecContext(ctx, w.Rebind(`
		INSERT INTO credentials (id, user_id, provider, username, encrypted_token, nonce, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id, provider) DO UPDATE SET
			username = excluded.username,
			encrypted_token = excluded.encrypted_token,
			nonce = excluded.nonce,
			updated_at = excluded.updated_at
	`), cred.ID, cred.UserID, cred.Provider, cred.Username, ciphertext, nonce, cred.CreatedAt, cred.UpdatedAt)
	return err
}

func (s *sqlStore) Get(ctx context.Context, userID, provider string) (*Credential, []byte, []byte, error) {
	ro := s.pool.Reader()
	var (
		cred       Credential
		ciphertext []byte
		nonce      []byte
	)
	row := ro.QueryRowContext(ctx, ro.Rebind(`
		SELECT id, user_id, provider, username, encrypted_token, nonce, created_at, updated_at
		FROM credentials WHERE user_id = ? AND provider = ?
	`), userID, provider)
	err := row.Scan(&cred.ID, &cred.UserID, &cred.Provider, &cred.Username,
		&ciphertext, &nonce, &cred.CreatedAt, &cred.UpdatedAt)
	if err != nil {
		if stderrors.Is(err, sql.ErrNoRows) {
			return nil, nil, nil, errors.NotFound("credential", userID+"/"+provider)
		}
		return nil, nil, nil, err
	}
	return &cred, ciphertext, nonce, nil
}

func (s *sqlStore) List(ctx context.Context, userID string) ([]*Credential, error) {
	ro := s.pool.Reader()
	var creds []*Credential
	err := ro.SelectContext(ctx, &creds, ro.Rebind(`
		SELECT id, user_id, provider, username, created_at, updated_at
		FROM credentials WHERE user_id = ? ORDER BY provider
	`), userID)
	return creds, err
}

func (s *sqlStore) Delete(ctx context.Context, userID, provider string) error {
	w := s.pool.Writer()
	result, err := w.ExecContext(ctx, w.Rebind(`
		DELETE FROM credentials WHERE user_id = ? AND provider = ?
	`), userID, provider)
	if err != nil {
		return err
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return errors.NotFound("credential", userID+"/"+provider)
	}
	return nil
}

func (s *sqlStore) Close() error { return nil }
