package project

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devplane/devplane/internal/common/config"
	"github.com/devplane/devplane/internal/common/errors"
	"github.com/devplane/devplane/internal/common/logger"
	"github.com/devplane/devplane/internal/db"
	v1 "github.com/devplane/devplane/pkg/api/v1"
)

func stores(t *testing.T) map[string]Store {
	t.Helper()

	pool, cleanup, err := db.Provide(config.DatabaseConfig{
		Driver:     "sqlite",
		SQLitePath: filepath.Join(t.TempDir(), "projects.db"),
	}, logger.Default())
	require.NoError(t, err)
	t.Cleanup(func() { _ = cleanup() })

	sqlStore, err := NewSQLStore(pool)
	require.NoError(t, err)

	return map[string]Store{
		"memory": NewMemoryStore(),
		"sql":    sqlStore,
	}
}

func seedProject(t *testing.T, s Store, id, owner, tenant, name, language string, createdAt time.Time) *v1.Project {
	t.Helper()
	p := &v1.Project{
		ID:          id,
		OwnerUserID: owner,
		TenantID:    tenant,
		Name:        name,
		Language:    language,
		LocalPath:   "/store/" + id,
		Status:      v1.ProjectStatusActive,
		CreatedAt:   createdAt,
	}
	require.NoError(t, s.Create(context.Background(), p))
	return p
}

func TestStoreCRUD(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			now := time.Now().UTC().Truncate(time.Second)

			p := seedProject(t, s, "p1", "u1", "t1", "api server", "go", now)

			got, err := s.Get(ctx, "p1")
			require.NoError(t, err)
			assert.Equal(t, p.Name, got.Name)
			assert.Equal(t, p.OwnerUserID, got.OwnerUserID)
			assert.Nil(t, got.LastOpenedAt)

			// Duplicate ids are rejected.
			err = s.Create(ctx, p)
			require.Error(t, err)

			got.Name = "renamed"
			got.Status = v1.ProjectStatusArchived
			require.NoError(t, s.Update(ctx, got))
			got, err = s.Get(ctx, "p1")
			require.NoError(t, err)
			assert.Equal(t, "renamed", got.Name)
			assert.Equal(t, v1.ProjectStatusArchived, got.Status)

			opened := now.Add(time.Minute)
			require.NoError(t, s.TouchLastOpened(ctx, "p1", opened))
			got, err = s.Get(ctx, "p1")
			require.NoError(t, err)
			require.NotNil(t, got.LastOpenedAt)
			assert.WithinDuration(t, opened, *got.LastOpenedAt, time.Second)

			require.NoError(t, s.Delete(ctx, "p1"))
			_, err = s.Get(ctx, "p1")
			assert.True(t, errors.IsNotFound(err))
			assert.True(t, errors.IsNotFound(s.Delete(ctx, "p1")))
			assert.True(t, errors.IsNotFound(s.Update(ctx, p)))
		})
	}
}

func TestStoreListVisibility(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
			seedProject(t, s, "p1", "u1", "t1", "alpha service", "go", base.Add(3*time.Hour))
			seedProject(t, s, "p2", "u1", "t1", "beta tool", "python", base.Add(2*time.Hour))
			seedProject(t, s, "p3", "u2", "t1", "gamma app", "go", base.Add(1*time.Hour))
			seedProject(t, s, "p4", "x1", "t2", "delta alpha", "go", base)

			// Bounded visibility restricts to listed owners.
			items, total, err := s.List(ctx, Filter{VisibleUserIDs: []string{"u1"}})
			require.NoError(t, err)
			assert.Equal(t, 2, total)
			require.Len(t, items, 2)
			assert.Equal(t, "p1", items[0].ID, "newest first")
			assert.Equal(t, "p2", items[1].ID)

			// Empty bounded visibility matches nothing.
			items, total, err = s.List(ctx, Filter{})
			require.NoError(t, err)
			assert.Zero(t, total)
			assert.Empty(t, items)

			// Unbounded sees everything.
			_, total, err = s.List(ctx, Filter{Unbounded: true})
			require.NoError(t, err)
			assert.Equal(t, 4, total)

			// Filters stack on visibility.
			items, total, err = s.List(ctx, Filter{Unbounded: true, Language: "go", TenantID: "t1"})
			require.NoError(t, err)
			assert.Equal(t, 2, total)
			require.Len(t, items, 2)

			// Search is a case-insensitive substring over the name.
			items, total, err = s.List(ctx, Filter{Unbounded: true, Search: "ALPHA"})
			require.NoError(t, err)
			assert.Equal(t, 2, total)
			require.Len(t, items, 2)
			assert.Equal(t, "p1", items[0].ID)
			assert.Equal(t, "p4", items[1].ID)
		})
	}
}

func TestStoreListPaging(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
			for i := 0; i < 5; i++ {
				seedProject(t, s, string(rune('a'+i)), "u1", "t1", "proj", "go", base.Add(time.Duration(i)*time.Hour))
			}

			items, total, err := s.List(ctx, Filter{Unbounded: true, Page: 1, PageSize: 2})
			require.NoError(t, err)
			assert.Equal(t, 5, total)
			require.Len(t, items, 2)
			assert.Equal(t, "e", items[0].ID)
			assert.Equal(t, "d", items[1].ID)

			items, _, err = s.List(ctx, Filter{Unbounded: true, Page: 3, PageSize: 2})
			require.NoError(t, err)
			require.Len(t, items, 1)
			assert.Equal(t, "a", items[0].ID)

			items, total, err = s.List(ctx, Filter{Unbounded: true, Page: 9, PageSize: 2})
			require.NoError(t, err)
			assert.Equal(t, 5, total)
			assert.Empty(t, items)
		})
	}
}
