// Package project maintains the project registry: the table of projects
// plus filtered, visibility-scoped listings.
package project

import (
	"context"
	"time"

	v1 "github.com/devplane/devplane/pkg/api/v1"
)

// Filter narrows a listing. VisibleUserIDs carries the caller's
// visibility: when Unbounded is false an empty set matches nothing,
// never everything.
type Filter struct {
	Unbounded      bool
	VisibleUserIDs []string

	TenantID  string
	Status    v1.ProjectStatus
	Language  string
	Framework string
	Search    string

	Page     int
	PageSize int
}

// Normalize clamps paging to sane values.
func (f *Filter) Normalize() {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.PageSize < 1 {
		f.PageSize = 20
	}
	if f.PageSize > 200 {
		f.PageSize = 200
	}
}

// Store persists projects.
type Store interface {
	Create(ctx context.Context, p *v1.Project) error
	Get(ctx context.Context, id string) (*v1.Project, error)
	Update(ctx context.Context, p *v1.Project) error
	// Delete removes the row entirely. Soft deletion is an Update to
	// status DELETED and lives in the service.
	Delete(ctx context.Context, id string) error
	List(ctx context.Context, filter Filter) ([]*v1.Project, int, error)
	TouchLastOpened(ctx context.Context, id string, at time.Time) error
	Close() error
}
