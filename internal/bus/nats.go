package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/camal-digital/tarifario/internal/domain"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
)

// NATSBus carries events over NATS so that every node in a distributed
// deployment sees rate and reference mutations. Subjects are tenant-scoped
// under the tarifario.> hierarchy; nothing crosses tenants.
type NATSBus struct {
	mu   sync.Mutex
	conn *nats.Conn
	subs map[string]*natsSubscription
}

type natsSubscription struct {
	topic string
	sub   *nats.Subscription
}

// NewNATSBus connects to NATS with reconnect handling. Connection failures
// are retried NATSMaxReconnects times before giving up, since the service
// cannot run distributed without its bus.
func NewNATSBus(cfg domain.EventBusConfig) (*NATSBus, error) {
	if cfg.NATSUrl == "" {
		cfg.NATSUrl = nats.DefaultURL
	}
	if cfg.NATSMaxReconnects == 0 {
		cfg.NATSMaxReconnects = 10
	}
	if cfg.NATSReconnectWait == 0 {
		cfg.NATSReconnectWait = 5
	}
	wait := time.Duration(cfg.NATSReconnectWait) * time.Second

	opts := []nats.Option{
		nats.Name("tarifario"),
		nats.MaxReconnects(cfg.NATSMaxReconnects),
		nats.ReconnectWait(wait),
		nats.ReconnectBufSize(8 * 1024 * 1024),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			slog.Warn("NATS disconnected", "error", err, "will_reconnect", !nc.IsClosed())
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			slog.Info("NATS reconnected", "url", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			slog.Info("NATS connection closed")
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			subject := ""
			if sub != nil {
				subject = sub.Subject
			}
			slog.Error("NATS error", "error", err, "subject", subject)
		}),
	}
	if cfg.NATSToken != "" {
		opts = append(opts, nats.Token(cfg.NATSToken))
	}

	var conn *nats.Conn
	var err error
	for attempt := 1; attempt <= cfg.NATSMaxReconnects; attempt++ {
		conn, err = nats.Connect(cfg.NATSUrl, opts...)
		if err == nil {
			break
		}
		slog.Warn("NATS connection attempt failed",
			"attempt", attempt, "max_attempts", cfg.NATSMaxReconnects, "error", err)
		time.Sleep(wait)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS after %d attempts: %w", cfg.NATSMaxReconnects, err)
	}

	slog.Info("NATS connected", "url", conn.ConnectedUrl(), "server_id", conn.ConnectedServerId())

	return &NATSBus{
		conn: conn,
		subs: make(map[string]*natsSubscription),
	}, nil
}

// Publish wraps payload in a Message envelope and sends it on the tenant's
// subject.
func (b *NATSBus) Publish(ctx context.Context, tenantID string, topic string, payload []byte) error {
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
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	return b.conn.Publish(subject(tenantID, topic), data)
}

// Subscribe routes messages on the tenant's subject to handler. Envelopes
// that fail to decode are logged and dropped rather than crashing the
// subscriber.
func (b *NATSBus) Subscribe(ctx context.Context, tenantID string, topic string, handler domain.MessageHandler) (domain.Subscription, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("tenantID is required")
	}

	subj := subject(tenantID, topic)
	natsSub, err := b.conn.Subscribe(subj, func(m *nats.Msg) {
		var msg domain.Message
		if err := json.Unmarshal(m.Data, &msg); err != nil {
			slog.Error("failed to unmarshal NATS message", "subject", m.Subject, "error", err)
			return
		}
		if err := handler(ctx, &msg); err != nil {
			slog.Error("handler error", "subject", m.Subject, "message_id", msg.ID, "error", err)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to %s: %w", subj, err)
	}

	sub := &natsSubscription{topic: topic, sub: natsSub}

	b.mu.Lock()
	b.subs[uuid.New().String()] = sub
	b.mu.Unlock()

	return sub, nil
}

// Ping verifies the connection by flushing pending traffic.
func (b *NATSBus) Ping(ctx context.Context) error {
	if !b.conn.IsConnected() {
		return fmt.Errorf("NATS not connected")
	}
	return b.conn.FlushWithContext(ctx)
}

// Close drains subscriptions and closes the connection.
func (b *NATSBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, sub := range b.subs {
		_ = sub.sub.Unsubscribe()
	}
	b.subs = make(map[string]*natsSubscription)

	b.conn.Close()
	return nil
}

// Stats exposes NATS connection statistics.
func (b *NATSBus) Stats() nats.Statistics {
	return b.conn.Stats()
}

func subject(tenantID, topic string) string {
	return fmt.Sprintf("tarifario.%s.%s", tenantID, topic)
}

// Unsubscribe removes the NATS subscription.
func (s *natsSubscription) Unsubscribe() error {
	return s.sub.Unsubscribe()
}

// Topic returns the subscribed topic.
func (s *natsSubscription) Topic() string {
	return s.topic
}
