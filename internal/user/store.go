// Package user holds the read-mostly directory of users and tenants.
// Account lifecycle lives outside the plane; the directory exists so the
// access resolver and the auth layer can look identities up, plus an
// upsert surface for the external sync to feed.
package user

import (
	"context"

	v1 "github.com/devplane/devplane/pkg/api/v1"
)

// Directory is the lookup surface for users and tenants.
type Directory interface {
	GetUser(ctx context.Context, id string) (*v1.User, error)
	GetTenant(ctx context.Context, id string) (*v1.Tenant, error)
	ListUserIDsByTenant(ctx context.Context, tenantID string) ([]string, error)
	UpsertUser(ctx context.Context, u *v1.User) error
	UpsertTenant(ctx context.Context, t *v1.Tenant) error
	Close() error
}
