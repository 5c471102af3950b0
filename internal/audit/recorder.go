// Package audit persists bus events into the append-only audit log.
package audit

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/camal-digital/tarifario/internal/domain"
)

// Topics every recorder instance listens on.
var recordedTopics = []string{
	domain.TopicReferenceUpdated,
	domain.TopicRateStatusChanged,
	domain.TopicCalculationCompleted,
}

// Recorder subscribes to tariff events and appends each one to the audit
// log. Recording is best-effort: a failed append is logged and dropped,
// never retried into the publisher's path.
type Recorder struct {
	bus  domain.EventBus
	repo domain.Repository

	subscriptions []domain.Subscription
	ctx           context.Context
	cancel        context.CancelFunc
}

// NewRecorder creates an audit recorder over the given bus and repository.
func NewRecorder(bus domain.EventBus, repo domain.Repository) *Recorder {
	ctx, cancel := context.WithCancel(context.Background())
	return &Recorder{
		bus:    bus,
		repo:   repo,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start subscribes to all recorded topics for the given tenants.
func (r *Recorder) Start(tenantIDs []string) error {
	for _, tenantID := range tenantIDs {
		for _, topic := range recordedTopics {
			sub, err := r.bus.Subscribe(r.ctx, tenantID, topic, r.record)
			if err != nil {
				return err
			}
			r.subscriptions = append(r.subscriptions, sub)
		}
	}

	slog.Info("audit recorder started",
		"tenant_count", len(tenantIDs),
		"topics", len(recordedTopics),
	)
	return nil
}

// record handles one bus message.
func (r *Recorder) record(ctx context.Context, msg *domain.Message) error {
	event := &domain.AuditEvent{
		ID:        uuid.New().String(),
		TenantID:  msg.TenantID,
		Kind:      msg.Topic,
		Entity:    extractEntity(msg),
		Payload:   msg.Payload,
		Timestamp: time.Unix(0, msg.Timestamp).UTC(),
	}

	if err := r.repo.AppendAuditEvent(ctx, msg.TenantID, event); err != nil {
		slog.Error("failed to append audit event",
			"topic", msg.Topic,
			"entity", event.Entity,
			"error", err,
		)
	}
	return nil
}

// Stop unsubscribes from all topics.
func (r *Recorder) Stop() {
	for _, sub := range r.subscriptions {
		_ = sub.Unsubscribe()
	}
	r.subscriptions = nil
	r.cancel()
	slog.Info("audit recorder stopped")
}

// extractEntity pulls the affected record's identity out of the payload.
// Reference value events carry a code; everything else carries an id.
func extractEntity(msg *domain.Message) string {
	var ident struct {
		ID   string `json:"id"`
		Code string `json:"code"`
	}
	if err := json.Unmarshal(msg.Payload, &ident); err != nil {
		return ""
	}
	if msg.Topic == domain.TopicReferenceUpdated && ident.Code != "" {
		return ident.Code
	}
	return ident.ID
}
