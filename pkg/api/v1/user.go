package v1

import "time"

// Role represents the permission level of a user within the plane.
type Role string

const (
	RoleAdmin      Role = "ADMIN"
	RoleEnterprise Role = "ENTERPRISE"
	RoleProDev     Role = "PRO_DEV"
	RoleDev        Role = "DEV"
)

// Valid reports whether the role is one of the known values.
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleEnterprise, RoleProDev, RoleDev:
		return true
	}
	return false
}

// Tenant is a container of users. Tenant lifecycle is managed externally;
// the core only reads tenants.
type Tenant struct {
	ID         string         `json:"id"`
	PlanLimits map[string]int `json:"plan_limits,omitempty"`
	Active     bool           `json:"active"`
}

// User owns projects and carries the role the access resolver decides on.
type User struct {
	ID        string    `json:"id"`
	TenantID  string    `json:"tenant_id"`
	Role      Role      `json:"role"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}
