package project

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devplane/devplane/internal/access"
	"github.com/devplane/devplane/internal/common/errors"
	"github.com/devplane/devplane/internal/common/logger"
	"github.com/devplane/devplane/internal/user"
	v1 "github.com/devplane/devplane/pkg/api/v1"
)

var (
	devIdentity        = access.Identity{UserID: "u1", TenantID: "t1", Role: v1.RoleDev}
	otherDevIdentity   = access.Identity{UserID: "u2", TenantID: "t1", Role: v1.RoleDev}
	enterpriseIdentity = access.Identity{UserID: "e1", TenantID: "t1", Role: v1.RoleEnterprise}
	adminIdentity      = access.Identity{UserID: "a1", TenantID: "", Role: v1.RoleAdmin}
)

func testService(t *testing.T) *Service {
	t.Helper()
	log := logger.Default()
	dir := user.NewMemoryDirectory()
	ctx := context.Background()
	require.NoError(t, dir.UpsertUser(ctx, &v1.User{ID: "u1", TenantID: "t1", Role: v1.RoleDev, Active: true}))
	require.NoError(t, dir.UpsertUser(ctx, &v1.User{ID: "u2", TenantID: "t1", Role: v1.RoleDev, Active: true}))
	require.NoError(t, dir.UpsertUser(ctx, &v1.User{ID: "e1", TenantID: "t1", Role: v1.RoleEnterprise, Active: true}))
	require.NoError(t, dir.UpsertUser(ctx, &v1.User{ID: "x1", TenantID: "t2", Role: v1.RoleDev, Active: true}))

	resolver := access.NewResolver(dir, log)
	return NewService(NewMemoryStore(), resolver, dir, nil, t.TempDir(), log)
}

func TestCreateDerivesTenantFromOwner(t *testing.T) {
	svc := testService(t)
	ctx := context.Background()

	p, err := svc.Create(ctx, devIdentity, &v1.CreateProjectRequest{
		OwnerUserID: "u1",
		Name:        "demo",
		Language:    "go",
	})
	require.NoError(t, err)
	assert.Equal(t, "u1", p.OwnerUserID)
	assert.Equal(t, "t1", p.TenantID)
	assert.Equal(t, v1.ProjectStatusActive, p.Status)
	assert.NotEmpty(t, p.ID)

	// The project tree is created under the storage root.
	info, err := os.Stat(p.LocalPath)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
	assert.Equal(t, p.ID, filepath.Base(p.LocalPath))
}

func TestCreateForOtherUserRequiresAuthority(t *testing.T) {
	svc := testService(t)
	ctx := context.Background()

	// A dev cannot create on behalf of a teammate.
	_, err := svc.Create(ctx, devIdentity, &v1.CreateProjectRequest{OwnerUserID: "u2", Name: "demo", Language: "go"})
	assert.True(t, errors.IsDenied(err))

	// Enterprise can, inside its tenant, and the tenant still derives
	// from the owner.
	p, err := svc.Create(ctx, enterpriseIdentity, &v1.CreateProjectRequest{OwnerUserID: "u2", Name: "demo", Language: "go"})
	require.NoError(t, err)
	assert.Equal(t, "u2", p.OwnerUserID)
	assert.Equal(t, "t1", p.TenantID)

	// But not across tenants.
	_, err = svc.Create(ctx, enterpriseIdentity, &v1.CreateProjectRequest{OwnerUserID: "x1", Name: "demo", Language: "go"})
	assert.True(t, errors.IsDenied(err))
}

func TestGetEnforcesRead(t *testing.T) {
	svc := testService(t)
	ctx := context.Background()

	p, err := svc.Create(ctx, devIdentity, &v1.CreateProjectRequest{OwnerUserID: "u1", Name: "demo", Language: "go"})
	require.NoError(t, err)

	_, err = svc.Get(ctx, otherDevIdentity, p.ID)
	assert.True(t, errors.IsDenied(err))

	got, err := svc.Get(ctx, enterpriseIdentity, p.ID)
	require.NoError(t, err)
	assert.Equal(t, p.ID, got.ID)

	_, err = svc.Get(ctx, devIdentity, "missing")
	assert.True(t, errors.IsNotFound(err))
}

func TestUpdateKeepsOwnerAndTenant(t *testing.T) {
	svc := testService(t)
	ctx := context.Background()

	p, err := svc.Create(ctx, devIdentity, &v1.CreateProjectRequest{OwnerUserID: "u1", Name: "demo", Language: "go"})
	require.NoError(t, err)

	name := "renamed"
	status := v1.ProjectStatusArchived
	updated, err := svc.Update(ctx, devIdentity, p.ID, &v1.UpdateProjectRequest{Name: &name, Status: &status})
	require.NoError(t, err)
	assert.Equal(t, "renamed", updated.Name)
	assert.Equal(t, v1.ProjectStatusArchived, updated.Status)
	assert.Equal(t, "u1", updated.OwnerUserID)
	assert.Equal(t, "t1", updated.TenantID)

	_, err = svc.Update(ctx, otherDevIdentity, p.ID, &v1.UpdateProjectRequest{Name: &name})
	assert.True(t, errors.IsDenied(err))
}

func TestDeleteSoftByDefault(t *testing.T) {
	svc := testService(t)
	ctx := context.Background()

	p, err := svc.Create(ctx, devIdentity, &v1.CreateProjectRequest{OwnerUserID: "u1", Name: "demo", Language: "go"})
	require.NoError(t, err)

	require.NoError(t, svc.Delete(ctx, devIdentity, p.ID, false))
	got, err := svc.Resolve(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, v1.ProjectStatusDeleted, got.Status)
}

func TestDeleteHardRestricted(t *testing.T) {
	svc := testService(t)
	ctx := context.Background()

	p, err := svc.Create(ctx, devIdentity, &v1.CreateProjectRequest{OwnerUserID: "u1", Name: "demo", Language: "go"})
	require.NoError(t, err)

	// Owners cannot hard-delete.
	err = svc.Delete(ctx, devIdentity, p.ID, true)
	assert.True(t, errors.IsDenied(err))

	// Enterprise in the owner's tenant can; the row disappears.
	require.NoError(t, svc.Delete(ctx, enterpriseIdentity, p.ID, true))
	_, err = svc.Resolve(ctx, p.ID)
	assert.True(t, errors.IsNotFound(err))
}

func TestDeleteProtectedProject(t *testing.T) {
	svc := testService(t)
	ctx := context.Background()

	p, err := svc.Create(ctx, devIdentity, &v1.CreateProjectRequest{OwnerUserID: "u1", Name: "crown jewels", Language: "go", Protected: true})
	require.NoError(t, err)

	// The owner is refused even though they own it.
	err = svc.Delete(ctx, devIdentity, p.ID, false)
	assert.True(t, errors.IsDenied(err))
	got, err := svc.Resolve(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, v1.ProjectStatusActive, got.Status)

	// Enterprise in the same tenant succeeds with a soft delete.
	require.NoError(t, svc.Delete(ctx, enterpriseIdentity, p.ID, false))
	got, err = svc.Resolve(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, v1.ProjectStatusDeleted, got.Status)
}

func TestListScopesToVisibility(t *testing.T) {
	svc := testService(t)
	ctx := context.Background()

	_, err := svc.Create(ctx, devIdentity, &v1.CreateProjectRequest{OwnerUserID: "u1", Name: "mine", Language: "go"})
	require.NoError(t, err)
	_, err = svc.Create(ctx, otherDevIdentity, &v1.CreateProjectRequest{OwnerUserID: "u2", Name: "theirs", Language: "go"})
	require.NoError(t, err)
	adminOwned, err := svc.Create(ctx, adminIdentity, &v1.CreateProjectRequest{OwnerUserID: "x1", Name: "foreign", Language: "go"})
	require.NoError(t, err)
	assert.Equal(t, "t2", adminOwned.TenantID)

	// Dev sees only their own.
	page, err := svc.List(ctx, devIdentity, ListRequest{})
	require.NoError(t, err)
	assert.Equal(t, 1, page.Total)
	assert.Equal(t, "mine", page.Items[0].Name)

	// Enterprise sees the whole tenant.
	page, err = svc.List(ctx, enterpriseIdentity, ListRequest{})
	require.NoError(t, err)
	assert.Equal(t, 2, page.Total)

	// Admin sees everything.
	page, err = svc.List(ctx, adminIdentity, ListRequest{})
	require.NoError(t, err)
	assert.Equal(t, 3, page.Total)

	// Search narrows within visibility.
	page, err = svc.List(ctx, adminIdentity, ListRequest{Search: "FOR"})
	require.NoError(t, err)
	assert.Equal(t, 1, page.Total)
	assert.Equal(t, "foreign", page.Items[0].Name)
}

func TestTouchLastOpened(t *testing.T) {
	svc := testService(t)
	ctx := context.Background()

	p, err := svc.Create(ctx, devIdentity, &v1.CreateProjectRequest{OwnerUserID: "u1", Name: "demo", Language: "go"})
	require.NoError(t, err)
	require.Nil(t, p.LastOpenedAt)

	require.NoError(t, svc.TouchLastOpened(ctx, devIdentity, p.ID))
	got, err := svc.Resolve(ctx, p.ID)
	require.NoError(t, err)
	assert.NotNil(t, got.LastOpenedAt)

	err = svc.TouchLastOpened(ctx, otherDevIdentity, p.ID)
	assert.True(t, errors.IsDenied(err))
}
