package vault

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/devplane/devplane/internal/common/errors"
	"github.com/devplane/devplane/internal/common/logger"
)

// Known provider families. Custom values are accepted; these names get
// dialect-specific handling downstream.
const (
	ProviderGitHub = "github"
	ProviderGitLab = "gitlab"
)

// Vault encrypts and serves git provider credentials. Tokens are held
// encrypted at rest and only decrypted on Reveal.
type Vault struct {
	store  Store
	key    []byte
	logger *logger.Logger
}

// New creates a vault over the given store and master key material.
func New(store Store, key []byte, log *logger.Logger) *Vault {
	return &Vault{
		store:  store,
		key:    key,
		logger: log.WithFields(zap.String("component", "vault")),
	}
}

// Put encrypts and stores a credential, replacing any existing one for
// the same (user, provider) pair. The returned metadata never includes
// the token.
func (v *Vault) Put(ctx context.Context, userID, provider, username, token string) (*Credential, error) {
	provider = strings.ToLower(strings.TrimSpace(provider))
	if userID == "" {
		return nil, errors.Precondition("user id is required")
	}
	if provider == "" {
		return nil, errors.Precondition("provider is required")
	}
	if token == "" {
		return nil, errors.Precondition("token is required")
	}

	ciphertext, nonce, err := Encrypt([]byte(token), v.key)
	if err != nil {
		return nil, errors.Internal("failed to encrypt credential", err)
	}

	now := time.Now().UTC()
	cred := &Credential{
		ID:        uuid.New().String(),
		UserID:    userID,
		Provider:  provider,
		Username:  username,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := v.store.Put(ctx, cred, ciphertext, nonce); err != nil {
		return nil, err
	}
	v.logger.Info("credential stored",
		zap.String("user_id", userID),
		zap.String("provider", provider))
	return cred, nil
}

// Reveal decrypts the stored token for (user, provider).
func (v *Vault) Reveal(ctx context.Context, userID, provider string) (username, token string, err error) {
	cred, ciphertext, nonce, err := v.store.Get(ctx, userID, strings.ToLower(provider))
	if err != nil {
		return "", "", err
	}
	plaintext, err := Decrypt(ciphertext, nonce, v.key)
	if err != nil {
		return "", "", errors.Internal("failed to decrypt credential", err)
	}
	return cred.Username, string(plaintext), nil
}

// List returns credential metadata for a user.
func (v *Vault) List(ctx context.Context, userID string) ([]*Credential, error) {
	return v.store.List(ctx, userID)
}

// Delete removes a credential.
func (v *Vault) Delete(ctx context.Context, userID, provider string) error {
	if err := v.store.Delete(ctx, userID, strings.ToLower(provider)); err != nil {
		return err
	}
	v.logger.Info("credential deleted",
		zap.String("user_id", userID),
		zap.String("provider", provider))
	return nil
}
