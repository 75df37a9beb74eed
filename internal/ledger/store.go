// Package ledger provides the append-only cost and latency log. Every LLM
// call, tool call, and agent operation lands here as one CostRecord.
package ledger

import (
	"context"
	"time"

	v1 "github.com/devplane/devplane/pkg/api/v1"
)

// Filter narrows List results. Zero values mean "no constraint".
type Filter struct {
	Operation string
	Since     time.Time
	Until     time.Time
	Limit     int
}

// Store persists cost records. Records are never updated or deleted.
type Store interface {
	Append(ctx context.Context, record v1.CostRecord) error
	// List returns records newest first.
	List(ctx context.Context, filter Filter) ([]v1.CostRecord, error)
	Close() error
}
