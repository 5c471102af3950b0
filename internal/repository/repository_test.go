package repository

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/camal-digital/tarifario/internal/domain"
)

func newTestRepo(t *testing.T) domain.Repository {
	t.Helper()

	tmpFile, err := os.CreateTemp("", "tarifario-test-*.db")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	tmpPath := tmpFile.Name()
	tmpFile.Close()
	t.Cleanup(func() { os.Remove(tmpPath) })

	repo, err := New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: tmpPath,
	})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	return repo
}

func TestSQLiteRepository(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	tenantID := "camal-001"

	t.Run("Ping", func(t *testing.T) {
		if err := repo.Ping(ctx); err != nil {
			t.Errorf("Ping failed: %v", err)
		}
	})

	t.Run("ReferenceValueVersions", func(t *testing.T) {
		v2025 := &domain.ReferenceValue{
			ID:            "rv-001",
			Code:          domain.CodeRBU,
			Value:         decimal.NewFromInt(460),
			Type:          domain.ValueTypeMonetary,
			Currency:      "USD",
			EffectiveFrom: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
			Active:        true,
			CreatedAt:     time.Now().UTC(),
		}
		v2026 := &domain.ReferenceValue{
			ID:            "rv-002",
			Code:          domain.CodeRBU,
			Value:         decimal.NewFromInt(470),
			Type:          domain.ValueTypeMonetary,
			Currency:      "USD",
			EffectiveFrom: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
			Active:        true,
			Reason:        "RBU update 2026",
			CreatedAt:     time.Now().UTC(),
		}

		if err := repo.SaveReferenceValue(ctx, tenantID, v2025); err != nil {
			t.Fatalf("SaveReferenceValue failed: %v", err)
		}
		if err := repo.SaveReferenceValue(ctx, tenantID, v2026); err != nil {
			t.Fatalf("SaveReferenceValue failed: %v", err)
		}

		versions, err := repo.ListReferenceValueVersions(ctx, tenantID, domain.CodeRBU)
		if err != nil {
			t.Fatalf("ListReferenceValueVersions failed: %v", err)
		}
		if len(versions) != 2 {
			t.Fatalf("expected 2 versions, got %d", len(versions))
		}

		// Newest effective date first
		if versions[0].ID != "rv-002" {
			t.Errorf("expected rv-002 first, got %s", versions[0].ID)
		}
		if !versions[0].Value.Equal(decimal.NewFromInt(470)) {
			t.Errorf("expected value 470, got %s", versions[0].Value)
		}
		if versions[0].Reason != "RBU update 2026" {
			t.Errorf("expected reason preserved, got %q", versions[0].Reason)
		}
	})

	t.Run("DeactivateReferenceValue", func(t *testing.T) {
		if err := repo.DeactivateReferenceValue(ctx, tenantID, "rv-001"); err != nil {
			t.Fatalf("DeactivateReferenceValue failed: %v", err)
		}

		versions, err := repo.ListReferenceValueVersions(ctx, tenantID, domain.CodeRBU)
		if err != nil {
			t.Fatalf("ListReferenceValueVersions failed: %v", err)
		}
		for _, v := range versions {
			if v.ID == "rv-001" && v.Active {
				t.Error("rv-001 should be inactive")
			}
			if v.ID == "rv-002" && !v.Active {
				t.Error("rv-002 should still be active")
			}
		}

		if err := repo.DeactivateReferenceValue(ctx, tenantID, "rv-missing"); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("SaveAndGetRate", func(t *testing.T) {
		until := time.Date(2026, 12, 31, 23, 59, 59, 0, time.UTC)
		rate := &domain.Rate{
			ID:             "rate-001",
			Code:           "SLAUGHTER-BOVINE",
			Name:           "Bovine slaughter service",
			Type:           domain.RateTypeSlaughterService,
			Category:       "BOVINE",
			Priority:       10,
			Status:         domain.RateStatusActive,
			EffectiveFrom:  time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
			EffectiveUntil: &until,
			Conditions: []domain.Condition{
				{Field: "species", Operator: domain.OpEq, Value: "bovine"},
			},
			CreatedAt: time.Now().UTC(),
			UpdatedAt: time.Now().UTC(),
			Detail: &domain.RateDetail{
				ID:              "detail-001",
				RateID:          "rate-001",
				CalculationType: domain.CalcPercentageRBU,
				PercentageRBU:   decimal.NewFromInt(10),
				Version:         1,
				EffectiveDate:   time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
			},
		}

		if err := repo.SaveRate(ctx, tenantID, rate); err != nil {
			t.Fatalf("SaveRate failed: %v", err)
		}

		retrieved, err := repo.GetRate(ctx, tenantID, "rate-001")
		if err != nil {
			t.Fatalf("GetRate failed: %v", err)
		}
		if retrieved.Code != "SLAUGHTER-BOVINE" {
			t.Errorf("expected code SLAUGHTER-BOVINE, got %s", retrieved.Code)
		}
		if retrieved.EffectiveUntil == nil || !retrieved.EffectiveUntil.Equal(until) {
			t.Errorf("effective until not preserved: %v", retrieved.EffectiveUntil)
		}
		if len(retrieved.Conditions) != 1 || retrieved.Conditions[0].Field != "species" {
			t.Errorf("conditions not preserved: %+v", retrieved.Conditions)
		}
		if retrieved.Detail == nil {
			t.Fatal("expected detail attached")
		}
		if !retrieved.Detail.PercentageRBU.Equal(decimal.NewFromInt(10)) {
			t.Errorf("expected percentage 10, got %s", retrieved.Detail.PercentageRBU)
		}
	})

	t.Run("DetailVersioning", func(t *testing.T) {
		rate, err := repo.GetRate(ctx, tenantID, "rate-001")
		if err != nil {
			t.Fatalf("GetRate failed: %v", err)
		}

		rate.Detail.Version = 2
		rate.Detail.PercentageRBU = decimal.NewFromInt(12)
		if err := repo.SaveRate(ctx, tenantID, rate); err != nil {
			t.Fatalf("SaveRate failed: %v", err)
		}

		retrieved, err := repo.GetRate(ctx, tenantID, "rate-001")
		if err != nil {
			t.Fatalf("GetRate failed: %v", err)
		}
		if retrieved.Detail.Version != 2 {
			t.Errorf("expected latest detail version 2, got %d", retrieved.Detail.Version)
		}
		if !retrieved.Detail.PercentageRBU.Equal(decimal.NewFromInt(12)) {
			t.Errorf("expected percentage 12, got %s", retrieved.Detail.PercentageRBU)
		}
	})

	t.Run("ListRatesByType", func(t *testing.T) {
		general := &domain.Rate{
			ID:            "rate-002",
			Code:          "SLAUGHTER-GENERAL",
			Name:          "General slaughter service",
			Type:          domain.RateTypeSlaughterService,
			Category:      domain.CategoryGeneral,
			Priority:      1,
			Status:        domain.RateStatusActive,
			EffectiveFrom: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
			CreatedAt:     time.Now().UTC(),
			UpdatedAt:     time.Now().UTC(),
		}
		if err := repo.SaveRate(ctx, tenantID, general); err != nil {
			t.Fatalf("SaveRate failed: %v", err)
		}

		bovine, err := repo.ListRatesByType(ctx, tenantID, domain.RateTypeSlaughterService, "BOVINE")
		if err != nil {
			t.Fatalf("ListRatesByType failed: %v", err)
		}
		if len(bovine) != 1 || bovine[0].ID != "rate-001" {
			t.Errorf("expected only rate-001 for BOVINE, got %d rates", len(bovine))
		}

		all, err := repo.ListRates(ctx, tenantID)
		if err != nil {
			t.Fatalf("ListRates failed: %v", err)
		}
		if len(all) != 2 {
			t.Errorf("expected 2 rates, got %d", len(all))
		}
		// Highest priority first
		if all[0].ID != "rate-001" {
			t.Errorf("expected rate-001 first, got %s", all[0].ID)
		}
	})

	t.Run("UpdateRateStatus", func(t *testing.T) {
		if err := repo.UpdateRateStatus(ctx, tenantID, "rate-001", domain.RateStatusInactive); err != nil {
			t.Fatalf("UpdateRateStatus failed: %v", err)
		}

		rate, err := repo.GetRate(ctx, tenantID, "rate-001")
		if err != nil {
			t.Fatalf("GetRate failed: %v", err)
		}
		if rate.Status != domain.RateStatusInactive {
			t.Errorf("expected INACTIVE, got %s", rate.Status)
		}

		if err := repo.UpdateRateStatus(ctx, tenantID, "rate-missing", domain.RateStatusInactive); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("SaveAndGetCalculation", func(t *testing.T) {
		rbu := decimal.NewFromInt(470)
		pct := decimal.NewFromInt(10)
		result := &domain.CalculationResult{
			ID:            "calc-001",
			RateID:        "rate-001",
			RateCode:      "SLAUGHTER-BOVINE",
			RateType:      domain.RateTypeSlaughterService,
			DetailVersion: 2,
			Amount:        decimal.RequireFromString("47.00"),
			Currency:      "USD",
			Details: domain.CalculationDetails{
				CalculationType: domain.CalcPercentageRBU,
				RBUValue:        &rbu,
				Percentage:      &pct,
			},
			CalculatedAt: time.Now().UTC(),
		}

		if err := repo.SaveCalculation(ctx, tenantID, result); err != nil {
			t.Fatalf("SaveCalculation failed: %v", err)
		}

		retrieved, err := repo.GetCalculation(ctx, tenantID, "calc-001")
		if err != nil {
			t.Fatalf("GetCalculation failed: %v", err)
		}
		if !retrieved.Amount.Equal(result.Amount) {
			t.Errorf("expected amount %s, got %s", result.Amount, retrieved.Amount)
		}
		if retrieved.Details.RBUValue == nil || !retrieved.Details.RBUValue.Equal(rbu) {
			t.Errorf("RBU snapshot not preserved: %v", retrieved.Details.RBUValue)
		}
		if retrieved.DetailVersion != 2 {
			t.Errorf("expected detail version 2, got %d", retrieved.DetailVersion)
		}
	})

	t.Run("AuditEvents", func(t *testing.T) {
		ev := &domain.AuditEvent{
			ID:        "audit-001",
			Kind:      domain.TopicCalculationCompleted,
			Entity:    "calc-001",
			Payload:   []byte(`{"amount":"47.00"}`),
			Timestamp: time.Now().UTC(),
		}
		if err := repo.AppendAuditEvent(ctx, tenantID, ev); err != nil {
			t.Fatalf("AppendAuditEvent failed: %v", err)
		}

		events, err := repo.ListAuditEvents(ctx, tenantID, time.Now().UTC().Add(-time.Hour), 10)
		if err != nil {
			t.Fatalf("ListAuditEvents failed: %v", err)
		}
		if len(events) != 1 {
			t.Fatalf("expected 1 event, got %d", len(events))
		}
		if events[0].Kind != domain.TopicCalculationCompleted {
			t.Errorf("expected kind %s, got %s", domain.TopicCalculationCompleted, events[0].Kind)
		}
	})

	t.Run("TenantIsolation", func(t *testing.T) {
		otherTenant := "camal-002"

		if _, err := repo.GetRate(ctx, otherTenant, "rate-001"); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound for other tenant, got %v", err)
		}
		if _, err := repo.GetCalculation(ctx, otherTenant, "calc-001"); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound for other tenant, got %v", err)
		}
		versions, err := repo.ListReferenceValueVersions(ctx, otherTenant, domain.CodeRBU)
		if err != nil {
			t.Fatalf("ListReferenceValueVersions failed: %v", err)
		}
		if len(versions) != 0 {
			t.Errorf("expected no versions for other tenant, got %d", len(versions))
		}
	})

	t.Run("MissingTenantRejected", func(t *testing.T) {
		if err := repo.SaveRate(ctx, "", &domain.Rate{ID: "x", Code: "X"}); !errors.Is(err, ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got %v", err)
		}
	})
}
