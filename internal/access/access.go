// Package access is the single source of truth for authorization. Every
// role check in the plane goes through the Resolver; no other component
// implements its own policy.
package access

import (
	"context"

	"go.uber.org/zap"

	"github.com/devplane/devplane/internal/common/errors"
	"github.com/devplane/devplane/internal/common/logger"
	v1 "github.com/devplane/devplane/pkg/api/v1"
)

// Op is an operation class a caller wants to perform on a project.
type Op string

const (
	OpRead   Op = "READ"
	OpWrite  Op = "WRITE"
	OpDelete Op = "DELETE"
	OpRun    Op = "RUN"
	OpStop   Op = "STOP"
)

// Identity is the authenticated caller. The auth layer builds it from
// the token; the resolver never re-validates it.
type Identity struct {
	UserID   string
	TenantID string
	Role     v1.Role
}

// Visibility is the set of user ids a caller may see. Unbounded is true
// only for admins; an empty bounded set means "sees nothing" and must
// never widen to "sees everything" downstream.
type Visibility struct {
	Unbounded bool
	UserIDs   []string
}

// Contains reports whether the visibility covers a user id.
func (v Visibility) Contains(userID string) bool {
	if v.Unbounded {
		return true
	}
	for _, id := range v.UserIDs {
		if id == userID {
			return true
		}
	}
	return false
}

// UserLookup is the narrow directory slice the resolver needs: one
// lookup for cross-user targets and the tenant roster for enterprise
// visibility.
type UserLookup interface {
	GetUser(ctx context.Context, id string) (*v1.User, error)
	ListUserIDsByTenant(ctx context.Context, tenantID string) ([]string, error)
}

// Resolver decides visibility and per-resource authorization.
type Resolver struct {
	users  UserLookup
	logger *logger.Logger
}

// NewResolver builds the resolver over a user directory.
func NewResolver(users UserLookup, log *logger.Logger) *Resolver {
	return &Resolver{
		users:  users,
		logger: log.WithFields(zap.String("component", "access")),
	}
}

// VisibleUserIDs returns the set of user ids whose resources the caller
// may see. Admins are unbounded, enterprise callers see their whole
// tenant, and individual roles see only themselves.
func (r *Resolver) VisibleUserIDs(ctx context.Context, identity Identity) (Visibility, error) {
	switch identity.Role {
	case v1.RoleAdmin:
		return Visibility{Unbounded: true}, nil
	case v1.RoleEnterprise:
		ids, err := r.users.ListUserIDsByTenant(ctx, identity.TenantID)
		if err != nil {
			return Visibility{}, err
		}
		if !containsString(ids, identity.UserID) {
			ids = append(ids, identity.UserID)
		}
		return Visibility{UserIDs: ids}, nil
	case v1.RoleProDev, v1.RoleDev:
		return Visibility{UserIDs: []string{identity.UserID}}, nil
	default:
		return Visibility{}, errors.Denied("unknown role")
	}
}

// Authorize decides whether the caller may perform op on the project.
// The decision depends only on the identity, the project's owner, tenant
// and protected flag, and the op.
func (r *Resolver) Authorize(identity Identity, project *v1.Project, op Op) error {
	if project == nil {
		return errors.Precondition("project is required")
	}

	switch identity.Role {
	case v1.RoleAdmin:
		return nil
	case v1.RoleEnterprise:
		if project.TenantID != identity.TenantID {
			return r.deny(identity, project.ID, op, "project belongs to another tenant")
		}
		return nil
	case v1.RoleProDev, v1.RoleDev:
		if project.OwnerUserID != identity.UserID {
			return r.deny(identity, project.ID, op, "project belongs to another user")
		}
		if op == OpDelete && project.Protected {
			return r.deny(identity, project.ID, op, "protected project requires an enterprise or admin caller")
		}
		return nil
	default:
		return r.deny(identity, project.ID, op, "unknown role")
	}
}

// AuthorizeUserTarget decides whether the caller may act on behalf of
// another user, e.g. when creating a resource they will own. The only
// lookup happens for cross-user enterprise targets.
func (r *Resolver) AuthorizeUserTarget(ctx context.Context, identity Identity, targetUserID string) error {
	if targetUserID == "" {
		return errors.Precondition("target user id is required")
	}
	if identity.Role == v1.RoleAdmin || targetUserID == identity.UserID {
		return nil
	}

	switch identity.Role {
	case v1.RoleEnterprise:
		target, err := r.users.GetUser(ctx, targetUserID)
		if err != nil {
			if errors.IsNotFound(err) {
				return r.deny(identity, targetUserID, "", "target user does not exist")
			}
			return err
		}
		if target.TenantID != identity.TenantID {
			return r.deny(identity, targetUserID, "", "target user belongs to another tenant")
		}
		return nil
	case v1.RoleProDev, v1.RoleDev:
		return r.deny(identity, targetUserID, "", "callers may only act on their own resources")
	default:
		return r.deny(identity, targetUserID, "", "unknown role")
	}
}

func (r *Resolver) deny(identity Identity, target string, op Op, reason string) error {
	fields := []zap.Field{
		zap.String("user_id", identity.UserID),
		zap.String("role", string(identity.Role)),
		zap.String("target", target),
	}
	if op != "" {
		fields = append(fields, zap.String("op", string(op)))
	}
	r.logger.Info("access denied", fields...)
	return errors.Denied(reason)
}

func containsString(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}
