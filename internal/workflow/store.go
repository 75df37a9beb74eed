// Package workflow runs ordered step sequences against projects: pull,
// AI update, push, build, run, stop. Submissions queue through a single
// scheduler that bounds global concurrency and serializes runs per
// project; the engine executes steps one at a time and fails fast.
package workflow

import (
	"context"

	v1 "github.com/devplane/devplane/pkg/api/v1"
)

// Store persists workflows and their log chunks. Implementations must keep
// terminal workflows immutable aside from reads; the engine never rewrites
// a terminal status and stores are not asked to enforce it.
type Store interface {
	// Create inserts a new workflow. ALREADY_EXISTS on duplicate ID.
	Create(ctx context.Context, wf *v1.Workflow) error

	// Get returns the workflow or NOT_FOUND.
	Get(ctx context.Context, id string) (*v1.Workflow, error)

	// Update rewrites the stored workflow. NOT_FOUND when it was never
	// created.
	Update(ctx context.Context, wf *v1.Workflow) error

	// List returns the project's workflows, newest first.
	List(ctx context.Context, projectID string) ([]*v1.Workflow, error)

	// AppendLog adds one chunk to the workflow's append-only log.
	AppendLog(ctx context.Context, workflowID string, chunk v1.LogChunk) error

	// Logs returns chunks starting at offset, in append order. Offsets at
	// or past the end yield an empty slice.
	Logs(ctx context.Context, workflowID string, offset int) ([]v1.LogChunk, error)

	// Close releases store resources.
	Close() error
}
