package v1

import "time"

// ProjectStatus represents the lifecycle state of a project.
type ProjectStatus string

const (
	ProjectStatusActive   ProjectStatus = "ACTIVE"
	ProjectStatusArchived ProjectStatus = "ARCHIVED"
	ProjectStatusDeleted  ProjectStatus = "DELETED"
)

// Project is a user-owned source tree managed by the plane. TenantID is
// denormalized from the owner at creation time and never diverges.
type Project struct {
	ID           string        `json:"id"`
	OwnerUserID  string        `json:"owner_user_id"`
	TenantID     string        `json:"tenant_id"`
	Name         string        `json:"name"`
	Language     string        `json:"language"`
	Framework    string        `json:"framework"`
	LocalPath    string        `json:"local_path"`
	RemoteURL    string        `json:"remote_url,omitempty"`
	Branch       string        `json:"branch,omitempty"`
	Status       ProjectStatus `json:"status"`
	Protected    bool          `json:"protected"`
	CreatedAt    time.Time     `json:"created_at"`
	LastOpenedAt *time.Time    `json:"last_opened_at,omitempty"`
}

// CreateProjectRequest for creating a new project.
type CreateProjectRequest struct {
	OwnerUserID string `json:"owner_user_id" binding:"required"`
	Name        string `json:"name" binding:"required,max=255"`
	Language    string `json:"language" binding:"required"`
	Framework   string `json:"framework,omitempty"`
	RemoteURL   string `json:"remote_url,omitempty"`
	Branch      string `json:"branch,omitempty"`
	Protected   bool   `json:"protected,omitempty"`
}

// UpdateProjectRequest patches mutable project fields. Owner and tenant
// are immutable after creation and have no patch fields.
type UpdateProjectRequest struct {
	Name      *string        `json:"name,omitempty" binding:"omitempty,max=255"`
	Language  *string        `json:"language,omitempty"`
	Framework *string        `json:"framework,omitempty"`
	RemoteURL *string        `json:"remote_url,omitempty"`
	Branch    *string        `json:"branch,omitempty"`
	Status    *ProjectStatus `json:"status,omitempty"`
	Protected *bool          `json:"protected,omitempty"`
}

// ProjectPage is one page of a filtered project listing.
type ProjectPage struct {
	Items    []*Project `json:"items"`
	Total    int        `json:"total"`
	Page     int        `json:"page"`
	PageSize int        `json:"page_size"`
}
