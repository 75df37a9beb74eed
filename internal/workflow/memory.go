package workflow

import (
	"context"
	"sort"
	"sync"

	"github.com/devplane/devplane/internal/common/errors"
	v1 "github.com/devplane/devplane/pkg/api/v1"
)

// MemoryStore is the in-memory Store used for tests and single-node dev
// runs without a database.
type MemoryStore struct {
	mu        sync.RWMutex
	workflows map[string]*v1.Workflow
	logs      map[string][]v1.LogChunk
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		workflows: make(map[string]*v1.Workflow),
		logs:      make(map[string][]v1.LogChunk),
	}
}

func (s *MemoryStore) Create(_ context.Context, wf *v1.Workflow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.workflows[wf.ID]; ok {
		return errors.AlreadyExists("workflow", wf.ID)
	}
	s.workflows[wf.ID] = copyWorkflow(wf)
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*v1.Workflow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	wf, ok := s.workflows[id]
	if !ok {
		return nil, errors.NotFound("workflow", id)
	}
	return copyWorkflow(wf), nil
}

func (s *MemoryStore) Update(_ context.Context, wf *v1.Workflow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.workflows[wf.ID]; !ok {
		return errors.NotFound("workflow", wf.ID)
	}
	s.workflows[wf.ID] = copyWorkflow(wf)
	return nil
}

func (s *MemoryStore) List(_ context.Context, projectID string) ([]*v1.Workflow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*v1.Workflow, 0)
	for _, wf := range s.workflows {
		if wf.ProjectID == projectID {
			out = append(out, copyWorkflow(wf))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (s *MemoryStore) AppendLog(_ context.Context, workflowID string, chunk v1.LogChunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.workflows[workflowID]; !ok {
		return errors.NotFound("workflow", workflowID)
	}
	s.logs[workflowID] = append(s.logs[workflowID], chunk)
	return nil
}

func (s *MemoryStore) Logs(_ context.Context, workflowID string, offset int) ([]v1.LogChunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.workflows[workflowID]; !ok {
		return nil, errors.NotFound("workflow", workflowID)
	}
	chunks := s.logs[workflowID]
	if offset >= len(chunks) {
		return []v1.LogChunk{}, nil
	}
	out := make([]v1.LogChunk, len(chunks)-offset)
	copy(out, chunks[offset:])
	return out, nil
}

func (s *MemoryStore) Close() error { return nil }

// copyWorkflow detaches the steps slice so engine mutations never alias
// stored state.
func copyWorkflow(wf *v1.Workflow) *v1.Workflow {
	out := *wf
	out.Steps = make([]v1.StepState, len(wf.Steps))
	copy(out.Steps, wf.Steps)
	return &out
}
