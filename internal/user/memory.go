package user

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/devplane/devplane/internal/common/errors"
	v1 "github.com/devplane/devplane/pkg/api/v1"
)

// MemoryDirectory is the in-process directory used for tests and the
// memory storage driver.
type MemoryDirectory struct {
	mu      sync.RWMutex
	users   map[string]*v1.User
	tenants map[string]*v1.Tenant
}

var _ Directory = (*MemoryDirectory)(nil)

// NewMemoryDirectory creates an empty directory.
func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{
		users:   make(map[string]*v1.User),
		tenants: make(map[string]*v1.Tenant),
	}
}

func (d *MemoryDirectory) GetUser(ctx context.Context, id string) (*v1.User, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	u, ok := d.users[id]
	if !ok {
		return nil, errors.NotFound("user", id)
	}
	cp := *u
	return &cp, nil
}

func (d *MemoryDirectory) GetTenant(ctx context.Context, id string) (*v1.Tenant, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	t, ok := d.tenants[id]
	if !ok {
		return nil, errors.NotFound("tenant", id)
	}
	cp := *t
	return &cp, nil
}

func (d *MemoryDirectory) ListUserIDsByTenant(ctx context.Context, tenantID string) ([]string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var ids []string
	for _, u := range d.users {
		if u.TenantID == tenantID {
			ids = append(ids, u.ID)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (d *MemoryDirectory) UpsertUser(ctx context.Context, u *v1.User) error {
	if u.ID == "" {
		return errors.Precondition("user id is required")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	cp := *u
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now().UTC()
	}
	d.users[cp.ID] = &cp
	return nil
}

func (d *MemoryDirectory) UpsertTenant(ctx context.Context, t *v1.Tenant) error {
	if t.ID == "" {
		return errors.Precondition("tenant id is required")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	cp := *t
	d.tenants[cp.ID] = &cp
	return nil
}

func (d *MemoryDirectory) Close() error {
	return nil
}
