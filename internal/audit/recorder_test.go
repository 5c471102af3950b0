package audit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/camal-digital/tarifario/internal/bus"
	"github.com/camal-digital/tarifario/internal/domain"
)

type fakeRepo struct {
	domain.Repository

	mu     sync.Mutex
	events []*domain.AuditEvent
}

func (f *fakeRepo) AppendAuditEvent(ctx context.Context, tenantID string, event *domain.AuditEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
	return nil
}

func (f *fakeRepo) snapshot() []*domain.AuditEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*domain.AuditEvent, len(f.events))
	copy(out, f.events)
	return out
}

func TestRecorder(t *testing.T) {
	eventBus := bus.NewChannelBus(100)
	defer eventBus.Close()

	repo := &fakeRepo{}
	recorder := NewRecorder(eventBus, repo)
	if err := recorder.Start([]string{"camal-001"}); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer recorder.Stop()

	ctx := context.Background()
	time.Sleep(10 * time.Millisecond)

	t.Run("ReferenceUpdateUsesCode", func(t *testing.T) {
		payload := []byte(`{"id":"rv-001","code":"RBU","value":"470"}`)
		if err := eventBus.Publish(ctx, "camal-001", domain.TopicReferenceUpdated, payload); err != nil {
			t.Fatalf("Publish failed: %v", err)
		}

		waitFor(t, func() bool { return len(repo.snapshot()) == 1 })

		events := repo.snapshot()
		if events[0].Kind != domain.TopicReferenceUpdated {
			t.Errorf("expected kind %s, got %s", domain.TopicReferenceUpdated, events[0].Kind)
		}
		if events[0].Entity != "RBU" {
			t.Errorf("expected entity RBU, got %s", events[0].Entity)
		}
		if events[0].TenantID != "camal-001" {
			t.Errorf("expected tenant camal-001, got %s", events[0].TenantID)
		}
	})

	t.Run("CalculationUsesID", func(t *testing.T) {
		payload := []byte(`{"id":"calc-001","amount":"47.00"}`)
		if err := eventBus.Publish(ctx, "camal-001", domain.TopicCalculationCompleted, payload); err != nil {
			t.Fatalf("Publish failed: %v", err)
		}

		waitFor(t, func() bool { return len(repo.snapshot()) == 2 })

		events := repo.snapshot()
		last := events[len(events)-1]
		if last.Entity != "calc-001" {
			t.Errorf("expected entity calc-001, got %s", last.Entity)
		}
		if string(last.Payload) != `{"id":"calc-001","amount":"47.00"}` {
			t.Errorf("payload not preserved: %s", last.Payload)
		}
	})

	t.Run("OtherTenantIgnored", func(t *testing.T) {
		before := len(repo.snapshot())
		eventBus.Publish(ctx, "camal-999", domain.TopicCalculationCompleted, []byte(`{"id":"x"}`))
		time.Sleep(50 * time.Millisecond)

		if len(repo.snapshot()) != before {
			t.Error("recorder should not receive other tenants' events")
		}
	})
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("timeout waiting for condition")
}
