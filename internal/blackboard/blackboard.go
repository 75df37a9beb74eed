// Package blackboard provides the shared keyed store agents use to publish
// intermediate artifacts. Entries are last-write-wins with no TTL.
package blackboard

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/devplane/devplane/internal/common/errors"
	"github.com/devplane/devplane/internal/common/logger"
	"github.com/devplane/devplane/internal/events"
	"github.com/devplane/devplane/internal/events/bus"
)

// Entry is a single blackboard record.
type Entry struct {
	Key       string      `json:"key"`
	Value     interface{} `json:"value"`
	Writer    string      `json:"writer"`
	Timestamp time.Time   `json:"timestamp"`
}

// Board is an in-memory blackboard. Reads take a shared lock, writes an
// exclusive one; callers never see locking.
type Board struct {
	mu      sync.RWMutex
	entries map[string]Entry

	bus    bus.EventBus
	logger *logger.Logger
}

// New creates an empty board. The event bus is optional; when present,
// writes and deletes are announced on it.
func New(b bus.EventBus, log *logger.Logger) *Board {
	return &Board{
		entries: make(map[string]Entry),
		bus:     b,
		logger:  log,
	}
}

// Write stores a value under key, replacing any previous entry.
func (b *Board) Write(ctx context.Context, key string, value interface{}, writer string) Entry {
	entry := Entry{
		Key:       key,
		Value:     value,
		Writer:    writer,
		Timestamp: time.Now().UTC(),
	}

	b.mu.Lock()
	b.entries[key] = entry
	b.mu.Unlock()

	b.notify(ctx, events.BlackboardUpdated, entry)
	return entry
}

// Read returns the entry for key.
func (b *Board) Read(key string) (Entry, error) {
	b.mu.RLock()
	entry, ok := b.entries[key]
	b.mu.RUnlock()

	if !ok {
		return Entry{}, errors.NotFound("blackboard entry", key)
	}
	return entry, nil
}

// Delete removes the entry for key. Deleting a missing key is a no-op.
func (b *Board) Delete(ctx context.Context, key string) {
	b.mu.Lock()
	entry, ok := b.entries[key]
	if ok {
		delete(b.entries, key)
	}
	b.mu.Unlock()

	if ok {
		b.notify(ctx, events.BlackboardDeleted, entry)
	}
}

// Snapshot returns a copy of all entries. Mutating the returned map does
// not affect the board.
func (b *Board) Snapshot() map[string]Entry {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make(map[string]Entry, len(b.entries))
	for k, v := range b.entries {
		out[k] = v
	}
	return out
}

// Len returns the number of entries.
func (b *Board) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.entries)
}

func (b *Board) notify(ctx context.Context, eventType string, entry Entry) {
	if b.bus == nil {
		return
	}
	event := bus.NewEvent(eventType, "blackboard", map[string]interface{}{
		"key":    entry.Key,
		"writer": entry.Writer,
	})
	if err := b.bus.Publish(ctx, events.BuildBlackboardSubject(entry.Key), event); err != nil {
		b.logger.Warn("Failed to publish blackboard event",
			zap.String("key", entry.Key),
			zap.Error(err))
	}
}

// SwarmKey builds the stable key a swarm node writes its intermediate
// result under.
func SwarmKey(taskID, node string) string {
	return "swarm:" + taskID + ":" + node
}
