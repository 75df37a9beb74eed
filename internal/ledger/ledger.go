package ledger

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/devplane/devplane/internal/common/logger"
	"github.com/devplane/devplane/internal/events"
	"github.com/devplane/devplane/internal/events/bus"
	v1 "github.com/devplane/devplane/pkg/api/v1"
)

// Ledger records operation costs and announces them on the bus. A failed
// append is logged and swallowed: metering must never fail the operation
// it measures.
type Ledger struct {
	store  Store
	bus    bus.EventBus
	logger *logger.Logger
}

// New creates a ledger over the given store. The bus is optional.
func New(store Store, b bus.EventBus, log *logger.Logger) *Ledger {
	return &Ledger{
		store:  store,
		bus:    b,
		logger: log.WithFields(zap.String("component", "ledger")),
	}
}

// Record appends one cost record. A zero timestamp is filled in.
func (l *Ledger) Record(ctx context.Context, record v1.CostRecord) {
	if record.Timestamp.IsZero() {
		record.Timestamp = time.Now().UTC()
	}

	if err := l.store.Append(ctx, record); err != nil {
		l.logger.Error("Failed to append cost record",
			zap.String("operation", record.Operation),
			zap.Error(err))
		return
	}

	if l.bus != nil {
		event := bus.NewEvent(events.CostRecorded, "ledger", map[string]interface{}{
			"operation":        record.Operation,
			"duration_ms":      record.DurationMs,
			"tokens_in":        record.TokensIn,
			"tokens_out":       record.TokensOut,
			"virtual_cost_usd": record.VirtualCostUSD,
		})
		if err := l.bus.Publish(ctx, events.CostRecorded, event); err != nil {
			l.logger.Warn("Failed to publish cost event", zap.Error(err))
		}
	}
}

// RecordOp is a convenience wrapper that derives the duration from start.
func (l *Ledger) RecordOp(ctx context.Context, op string, start time.Time, tokensIn, tokensOut int, virtualCostUSD float64, metadata map[string]string) {
	l.Record(ctx, v1.CostRecord{
		Timestamp:      time.Now().UTC(),
		Operation:      op,
		DurationMs:     time.Since(start).Milliseconds(),
		TokensIn:       tokensIn,
		TokensOut:      tokensOut,
		VirtualCostUSD: virtualCostUSD,
		Metadata:       metadata,
	})
}

// List returns recorded entries newest first.
func (l *Ledger) List(ctx context.Context, filter Filter) ([]v1.CostRecord, error) {
	return l.store.List(ctx, filter)
}
