// Package bus provides the event bus implementations behind
// domain.EventBus: an in-process channel bus for single-node deployments
// and a NATS bus for distributed ones. Reference value updates, rate
// status transitions and completed calculations all flow through here on
// their way to the audit recorder.
package bus

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/camal-digital/tarifario/internal/domain"
	"github.com/google/uuid"
)

// ChannelBus is the in-process event bus. Delivery is at-most-once: a
// subscriber whose buffer is full loses the message, and the loss is
// counted so operators can size buffers instead of guessing.
type ChannelBus struct {
	mu      sync.RWMutex
	buffer  int
	subs    map[string][]*channelSubscription
	closed  bool
	dropped atomic.Int64
}

type channelSubscription struct {
	bus      *ChannelBus
	key      string
	topic    string
	tenantID string
	ch       chan *domain.Message
	done     chan struct{}
	once     sync.Once
}

// NewChannelBus creates an in-process bus. bufferSize is the per-subscriber
// queue depth; values <= 0 get a default of 1000.
func NewChannelBus(bufferSize int) *ChannelBus {
	if bufferSize <= 0 {
		bufferSize = 1000
	}
	return &ChannelBus{
		buffer: bufferSize,
		subs:   make(map[string][]*channelSubscription),
	}
}

// Publish delivers payload to every subscriber of the tenant's topic.
// Publishing never blocks on a slow subscriber.
func (b *ChannelBus) Publish(ctx context.Context, tenantID string, topic string, payload []byte) error {
	if tenantID == "" {
		return fmt.Errorf("tenantID is required")
	}

	msg := &domain.Message{
		ID:        uuid.New().String(),
		TenantID:  tenantID,
		Topic:     topic,
		Payload:   payload,
		Metadata:  make(map[string]string),
		Timestamp: time.Now().UnixNano(),
	}

	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return fmt.Errorf("bus is closed")
	}
	subs := b.subs[subKey(tenantID, topic)]
	b.mu.RUnlock()

	for _, sub := range subs {
		select {
		case sub.ch <- msg:
		default:
			if n := b.dropped.Add(1); n%100 == 1 {
				slog.Warn("event bus dropping messages",
					"topic", topic, "tenant_id", tenantID, "total_dropped", n)
			}
		}
	}
	return nil
}

// Subscribe registers handler for the tenant's topic. The handler runs on a
// dedicated goroutine until Unsubscribe, context cancellation or Close.
func (b *ChannelBus) Subscribe(ctx context.Context, tenantID string, topic string, handler domain.MessageHandler) (domain.Subscription, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("tenantID is required")
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, fmt.Errorf("bus is closed")
	}

	sub := &channelSubscription{
		bus:      b,
		key:      subKey(tenantID, topic),
		topic:    topic,
		tenantID: tenantID,
		ch:       make(chan *domain.Message, b.buffer),
		done:     make(chan struct{}),
	}
	b.subs[sub.key] = append(b.subs[sub.key], sub)

	go sub.pump(ctx, handler)

	return sub, nil
}

func (s *channelSubscription) pump(ctx context.Context, handler domain.MessageHandler) {
	for {
		select {
		case <-ctx.Done():
			_ = s.Unsubscribe()
			return
		case <-s.done:
			return
		case msg, ok := <-s.ch:
			if !ok {
				return
			}
			if err := handler(ctx, msg); err != nil {
				slog.Debug("event handler error",
					"topic", s.topic, "tenant_id", s.tenantID, "error", err)
			}
		}
	}
}

// Dropped reports how many messages were discarded because a subscriber
// buffer was full.
func (b *ChannelBus) Dropped() int64 {
	return b.dropped.Load()
}

// Ping reports whether the bus accepts traffic.
func (b *ChannelBus) Ping(ctx context.Context) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return fmt.Errorf("bus is closed")
	}
	return nil
}

// Close terminates every subscription and rejects further use.
func (b *ChannelBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true

	for _, subs := range b.subs {
		for _, sub := range subs {
			sub.once.Do(func() { close(sub.done) })
		}
	}
	b.subs = make(map[string][]*channelSubscription)
	return nil
}

func subKey(tenantID, topic string) string {
	return tenantID + ":" + topic
}

// Unsubscribe stops delivery and detaches the subscription from the bus.
func (s *channelSubscription) Unsubscribe() error {
	s.once.Do(func() { close(s.done) })

	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	remaining := s.bus.subs[s.key][:0]
	for _, other := range s.bus.subs[s.key] {
		if other != s {
			remaining = append(remaining, other)
		}
	}
	if len(remaining) == 0 {
		delete(s.bus.subs, s.key)
	} else {
		s.bus.subs[s.key] = remaining
	}
	return nil
}

// Topic returns the subscribed topic.
func (s *channelSubscription) Topic() string {
	return s.topic
}
