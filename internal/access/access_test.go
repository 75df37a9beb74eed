package access

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devplane/devplane/internal/common/errors"
	"github.com/devplane/devplane/internal/common/logger"
	"github.com/devplane/devplane/internal/user"
	v1 "github.com/devplane/devplane/pkg/api/v1"
)

func testResolver(t *testing.T) (*Resolver, *user.MemoryDirectory) {
	t.Helper()
	dir := user.NewMemoryDirectory()
	ctx := context.Background()
	require.NoError(t, dir.UpsertUser(ctx, &v1.User{ID: "u1", TenantID: "t1", Role: v1.RoleDev, Active: true}))
	require.NoError(t, dir.UpsertUser(ctx, &v1.User{ID: "u2", TenantID: "t1", Role: v1.RoleDev, Active: true}))
	require.NoError(t, dir.UpsertUser(ctx, &v1.User{ID: "e1", TenantID: "t1", Role: v1.RoleEnterprise, Active: true}))
	require.NoError(t, dir.UpsertUser(ctx, &v1.User{ID: "x1", TenantID: "t2", Role: v1.RoleDev, Active: true}))
	return NewResolver(dir, logger.Default()), dir
}

func TestVisibleUserIDs(t *testing.T) {
	r, _ := testResolver(t)
	ctx := context.Background()

	admin, err := r.VisibleUserIDs(ctx, Identity{UserID: "a1", TenantID: "t9", Role: v1.RoleAdmin})
	require.NoError(t, err)
	assert.True(t, admin.Unbounded)

	ent, err := r.VisibleUserIDs(ctx, Identity{UserID: "e1", TenantID: "t1", Role: v1.RoleEnterprise})
	require.NoError(t, err)
	assert.False(t, ent.Unbounded)
	assert.ElementsMatch(t, []string{"u1", "u2", "e1"}, ent.UserIDs)

	dev, err := r.VisibleUserIDs(ctx, Identity{UserID: "u1", TenantID: "t1", Role: v1.RoleDev})
	require.NoError(t, err)
	assert.Equal(t, []string{"u1"}, dev.UserIDs)

	_, err = r.VisibleUserIDs(ctx, Identity{UserID: "u1", Role: v1.Role("GUEST")})
	assert.True(t, errors.IsDenied(err))
}

func TestVisibilityContains(t *testing.T) {
	assert.True(t, Visibility{Unbounded: true}.Contains("anyone"))
	assert.True(t, Visibility{UserIDs: []string{"u1"}}.Contains("u1"))
	assert.False(t, Visibility{UserIDs: []string{"u1"}}.Contains("u2"))
	assert.False(t, Visibility{}.Contains("u1"))
}

func TestAuthorize(t *testing.T) {
	r, _ := testResolver(t)

	owned := &v1.Project{ID: "p1", OwnerUserID: "u1", TenantID: "t1"}
	foreignTenant := &v1.Project{ID: "p2", OwnerUserID: "x1", TenantID: "t2"}
	protected := &v1.Project{ID: "p3", OwnerUserID: "u1", TenantID: "t1", Protected: true}

	tests := []struct {
		name     string
		identity Identity
		project  *v1.Project
		op       Op
		allowed  bool
	}{
		{"admin reads anything", Identity{UserID: "a1", Role: v1.RoleAdmin}, foreignTenant, OpRead, true},
		{"admin deletes protected", Identity{UserID: "a1", Role: v1.RoleAdmin}, protected, OpDelete, true},
		{"enterprise same tenant", Identity{UserID: "e1", TenantID: "t1", Role: v1.RoleEnterprise}, owned, OpWrite, true},
		{"enterprise other tenant", Identity{UserID: "e1", TenantID: "t1", Role: v1.RoleEnterprise}, foreignTenant, OpRead, false},
		{"enterprise deletes protected in tenant", Identity{UserID: "e1", TenantID: "t1", Role: v1.RoleEnterprise}, protected, OpDelete, true},
		{"owner writes own", Identity{UserID: "u1", TenantID: "t1", Role: v1.RoleDev}, owned, OpWrite, true},
		{"owner runs own", Identity{UserID: "u1", TenantID: "t1", Role: v1.RoleDev}, owned, OpRun, true},
		{"dev touches foreign", Identity{UserID: "u2", TenantID: "t1", Role: v1.RoleDev}, owned, OpRead, false},
		{"owner deletes own unprotected", Identity{UserID: "u1", TenantID: "t1", Role: v1.RoleDev}, owned, OpDelete, true},
		{"owner deletes own protected", Identity{UserID: "u1", TenantID: "t1", Role: v1.RoleDev}, protected, OpDelete, false},
		{"pro_dev deletes own protected", Identity{UserID: "u1", TenantID: "t1", Role: v1.RoleProDev}, protected, OpDelete, false},
		{"pro_dev stops own", Identity{UserID: "u1", TenantID: "t1", Role: v1.RoleProDev}, owned, OpStop, true},
		{"unknown role", Identity{UserID: "u1", Role: v1.Role("GUEST")}, owned, OpRead, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := r.Authorize(tt.identity, tt.project, tt.op)
			if tt.allowed {
				assert.NoError(t, err)
			} else {
				assert.True(t, errors.IsDenied(err), "expected denial, got %v", err)
			}
		})
	}
}

func TestAuthorizeIsDeterministic(t *testing.T) {
	r, _ := testResolver(t)
	identity := Identity{UserID: "u1", TenantID: "t1", Role: v1.RoleDev}
	project := &v1.Project{ID: "p1", OwnerUserID: "u1", TenantID: "t1", Protected: true}

	first := r.Authorize(identity, project, OpDelete)
	for i := 0; i < 10; i++ {
		assert.Equal(t, errors.KindOf(first), errors.KindOf(r.Authorize(identity, project, OpDelete)))
	}
}

func TestAuthorizeUserTarget(t *testing.T) {
	r, _ := testResolver(t)
	ctx := context.Background()

	// Self-targeting is always fine.
	assert.NoError(t, r.AuthorizeUserTarget(ctx, Identity{UserID: "u1", Role: v1.RoleDev}, "u1"))

	// Admin may target anyone, even unknown users.
	assert.NoError(t, r.AuthorizeUserTarget(ctx, Identity{UserID: "a1", Role: v1.RoleAdmin}, "ghost"))

	// Enterprise may target members of its own tenant only.
	assert.NoError(t, r.AuthorizeUserTarget(ctx, Identity{UserID: "e1", TenantID: "t1", Role: v1.RoleEnterprise}, "u2"))
	err := r.AuthorizeUserTarget(ctx, Identity{UserID: "e1", TenantID: "t1", Role: v1.RoleEnterprise}, "x1")
	assert.True(t, errors.IsDenied(err))
	err = r.AuthorizeUserTarget(ctx, Identity{UserID: "e1", TenantID: "t1", Role: v1.RoleEnterprise}, "ghost")
	assert.True(t, errors.IsDenied(err))

	// Individual roles may not act for others.
	err = r.AuthorizeUserTarget(ctx, Identity{UserID: "u1", TenantID: "t1", Role: v1.RoleDev}, "u2")
	assert.True(t, errors.IsDenied(err))
}
