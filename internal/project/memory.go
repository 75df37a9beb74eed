package project

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/devplane/devplane/internal/common/errors"
	v1 "github.com/devplane/devplane/pkg/api/v1"
)

// MemoryStore keeps projects in process. Used for tests and the memory
// storage driver.
type MemoryStore struct {
	mu       sync.RWMutex
	projects map[string]*v1.Project
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{projects: make(map[string]*v1.Project)}
}

func (s *MemoryStore) Create(ctx context.Context, p *v1.Project) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.projects[p.ID]; ok {
		return errors.AlreadyExists("project", p.ID)
	}
	cp := *p
	s.projects[p.ID] = &cp
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*v1.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.projects[id]
	if !ok {
		return nil, errors.NotFound("project", id)
	}
	cp := *p
	return &cp, nil
}

func (s *MemoryStore) Update(ctx context.Context, p *v1.Project) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.projects[p.ID]; !ok {
		return errors.NotFound("project", p.ID)
	}
	cp := *p
	s.projects[p.ID] = &cp
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.projects[id]; !ok {
		return errors.NotFound("project", id)
	}
	delete(s.projects, id)
	return nil
}

func (s *MemoryStore) List(ctx context.Context, filter Filter) ([]*v1.Project, int, error) {
	filter.Normalize()

	s.mu.RLock()
	var matched []*v1.Project
	for _, p := range s.projects {
		if filterMatches(p, filter) {
			cp := *p
			matched = append(matched, &cp)
		}
	}
	s.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.After(matched[j].CreatedAt)
		}
		return matched[i].ID < matched[j].ID
	})

	total := len(matched)
	start := (filter.Page - 1) * filter.PageSize
	if start >= total {
		return []*v1.Project{}, total, nil
	}
	end := start + filter.PageSize
	if end > total {
		end = total
	}
	return matched[start:end], total, nil
}

func (s *MemoryStore) TouchLastOpened(ctx context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.projects[id]
	if !ok {
		return errors.NotFound("project", id)
	}
	t := at
	p.LastOpenedAt = &t
	return nil
}

func (s *MemoryStore) Close() error {
	return nil
}

func filterMatches(p *v1.Project, f Filter) bool {
	if !f.Unbounded {
		visible := false
		for _, id := range f.VisibleUserIDs {
			if p.OwnerUserID == id {
				visible = true
				break
			}
		}
		if !visible {
			return false
		}
	}
	if f.TenantID != "" && p.TenantID != f.TenantID {
		return false
	}
	if f.Status != "" && p.Status != f.Status {
		return false
	}
	if f.Language != "" && p.Language != f.Language {
		return false
	}
	if f.Framework != "" && p.Framework != f.Framework {
		return false
	}
	if f.Search != "" && !strings.Contains(strings.ToLower(p.Name), strings.ToLower(f.Search)) {
		return false
	}
	return true
}
