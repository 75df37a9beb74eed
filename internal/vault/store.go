package vault

import (
	"context"
	"time"
)

// Credential is provider credential metadata. The token itself never
// appears on this struct; Reveal returns it separately.
type Credential struct {
	ID        string    `json:"id" db:"id"`
	UserID    string    `json:"user_id" db:"user_id"`
	Provider  string    `json:"provider" db:"provider"`
	Username  string    `json:"username" db:"username"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Store persists encrypted credentials. One credential per
// (user, provider) pair; Put replaces.
type Store interface {
	Put(ctx context.Context, cred *Credential, ciphertext, nonce []byte) error
	Get(ctx context.Context, userID, provider string) (*Credential, []byte, []byte, error)
	List(ctx context.Context, userID string) ([]*Credential, error)
	Delete(ctx context.Context, userID, provider string) error
	Close() error
}
