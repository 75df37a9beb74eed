package bus

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/devplane/devplane/internal/common/logger"
)

// ErrClosed is returned by operations on a bus that has been shut down.
var ErrClosed = errors.New("event bus is closed")

// MemoryEventBus delivers events in-process. Handlers run on their own
// goroutines so a slow consumer never blocks a publisher; within a single
// subscription, delivery order is therefore not guaranteed.
type MemoryEventBus struct {
	mu     sync.RWMutex
	subs   map[uint64]*memSub
	nextID uint64
	seq    uint64
	closed bool
	logger *logger.Logger
}

// memSub is one registration. tokens holds the pre-split subject pattern;
// queue is empty for plain subscriptions.
type memSub struct {
	id      uint64
	bus     *MemoryEventBus
	tokens  []string
	queue   string
	handler EventHandler

	mu     sync.Mutex
	active bool
}

func (s *memSub) Unsubscribe() error {
	s.mu.Lock()
	s.active = false
	s.mu.Unlock()

	s.bus.mu.Lock()
	delete(s.bus.subs, s.id)
	s.bus.mu.Unlock()
	return nil
}

func (s *memSub) IsValid() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// NewMemoryEventBus creates an in-process bus.
func NewMemoryEventBus(log *logger.Logger) *MemoryEventBus {
	return &MemoryEventBus{
		subs:   make(map[uint64]*memSub),
		logger: log,
	}
}

// Publish fans the event out. Plain subscriptions all receive it; each
// queue group receives it exactly once, rotated across its members.
func (b *MemoryEventBus) Publish(ctx context.Context, subject string, event *Event) error {
	tokens := strings.Split(subject, ".")

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrClosed
	}
	b.seq++
	turn := b.seq

	var direct []*memSub
	groups := make(map[string][]*memSub)
	for _, sub := range b.subs {
		if !sub.IsValid() || !matchTokens(sub.tokens, tokens) {
			continue
		}
		if sub.queue == "" {
			direct = append(direct, sub)
		} else {
			key := sub.queue + "|" + strings.Join(sub.tokens, ".")
			groups[key] = append(groups[key], sub)
		}
	}
	b.mu.Unlock()

	for _, sub := range direct {
		go b.deliver(ctx, sub, subject, event)
	}
	for _, members := range groups {
		// Stable member order keeps the rotation fair as the map iterates
		// differently on every publish.
		sort.Slice(members, func(i, j int) bool { return members[i].id < members[j].id })
		chosen := members[turn%uint64(len(members))]
		go b.deliver(ctx, chosen, subject, event)
	}

	b.logger.Debug("Published event",
		zap.String("subject", subject),
		zap.String("event_type", event.Type),
		zap.Int("subscribers", len(direct)+len(groups)))
	return nil
}

func (b *MemoryEventBus) deliver(ctx context.Context, sub *memSub, subject string, event *Event) {
	if err := sub.handler(ctx, event); err != nil {
		b.logger.Error("Event handler error",
			zap.String("subject", subject),
			zap.Error(err))
	}
}

// Subscribe registers a handler for a subject pattern.
func (b *MemoryEventBus) Subscribe(subject string, handler EventHandler) (Subscription, error) {
	return b.register(subject, "", handler)
}

// QueueSubscribe registers a handler inside a queue group.
func (b *MemoryEventBus) QueueSubscribe(subject, queue string, handler EventHandler) (Subscription, error) {
	return b.register(subject, queue, handler)
}

func (b *MemoryEventBus) register(subject, queue string, handler EventHandler) (Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, ErrClosed
	}

	b.nextID++
	sub := &memSub{
		id:      b.nextID,
		bus:     b,
		tokens:  strings.Split(subject, "."),
		queue:   queue,
		handler: handler,
		active:  true,
	}
	b.subs[sub.id] = sub

	b.logger.Debug("Subscribed to subject",
		zap.String("subject", subject),
		zap.String("queue", queue))
	return sub, nil
}

// Request publishes the event with a private reply subject folded into its
// data and waits for the first answer.
func (b *MemoryEventBus) Request(ctx context.Context, subject string, event *Event, timeout time.Duration) (*Event, error) {
	replySubject := "_INBOX." + event.ID
	replies := make(chan *Event, 1)

	sub, err := b.Subscribe(replySubject, func(ctx context.Context, e *Event) error {
		select {
		case replies <- e:
		default:
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	defer func() { _ = sub.Unsubscribe() }()

	if event.Data == nil {
		event.Data = make(map[string]interface{})
	}
	event.Data["_reply"] = replySubject

	if err := b.Publish(ctx, subject, event); err != nil {
		return nil, err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case response := <-replies:
		return response, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return nil, errors.New("request timed out on " + subject)
	}
}

// Close invalidates every subscription and rejects further publishes.
func (b *MemoryEventBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.closed = true
	for _, sub := range b.subs {
		sub.mu.Lock()
		sub.active = false
		sub.mu.Unlock()
	}
	b.subs = make(map[uint64]*memSub)

	b.logger.Info("Memory event bus closed")
}

// IsConnected reports whether the bus still accepts publishes.
func (b *MemoryEventBus) IsConnected() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return !b.closed
}

// matchTokens walks pattern and subject token lists in step. "*" consumes
// exactly one subject token, ">" consumes all remaining ones and must be
// the last pattern token.
func matchTokens(pattern, subject []string) bool {
	for i, p := range pattern {
		switch p {
		case ">":
			return i == len(pattern)-1 && i < len(subject)
		case "*":
			if i >= len(subject) {
				return false
			}
		default:
			if i >= len(subject) || subject[i] != p {
				return false
			}
		}
	}
	return len(pattern) == len(subject)
}
