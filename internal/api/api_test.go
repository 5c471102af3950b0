package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/camal-digital/tarifario/internal/bus"
	"github.com/camal-digital/tarifario/internal/cache"
	"github.com/camal-digital/tarifario/internal/conditions"
	"github.com/camal-digital/tarifario/internal/domain"
	"github.com/camal-digital/tarifario/internal/refvalues"
	"github.com/camal-digital/tarifario/internal/repository"
	"github.com/camal-digital/tarifario/internal/tariff"
)

const testTenant = "camal-001"

func newTestServer(t *testing.T) *Server {
	t.Helper()

	tmpFile, err := os.CreateTemp("", "tarifario-api-test-*.db")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	tmpPath := tmpFile.Name()
	tmpFile.Close()
	t.Cleanup(func() { os.Remove(tmpPath) })

	repo, err := repository.New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: tmpPath,
	})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	memCache := cache.NewLRUCache(1000)
	eventBus := bus.NewChannelBus(100)
	t.Cleanup(func() { eventBus.Close() })

	exprs, err := conditions.NewExpressionEvaluator()
	if err != nil {
		t.Fatalf("failed to create expression evaluator: %v", err)
	}

	refs := refvalues.NewStore(repo, memCache, eventBus, time.Minute)
	resolver := tariff.NewResolver(repo, memCache, time.Minute)
	calc := tariff.NewCalculator(refs, domain.CodeRBU, "USD")
	engine := tariff.NewEngine(resolver, calc, exprs, repo, eventBus)

	return NewServer(domain.ServerConfig{Port: 8080}, repo, memCache, eventBus, engine, resolver, refs, exprs, "test")
}

func doRequest(t *testing.T, srv *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("failed to encode body: %v", err)
		}
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(TenantIDHeader, testTenant)

	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.NewDecoder(rec.Body).Decode(v); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
}

func seedRBU(t *testing.T, srv *Server) {
	t.Helper()
	rec := doRequest(t, srv, http.MethodPut, "/reference-values/RBU", map[string]any{
		"value":         "470",
		"valueType":     "monetary",
		"currency":      "USD",
		"effectiveDate": "2026-01-01T00:00:00Z",
		"reason":        "RBU 2026",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("seeding RBU failed: %d %s", rec.Code, rec.Body.String())
	}
}

func seedRate(t *testing.T, srv *Server, rate map[string]any) string {
	t.Helper()
	rec := doRequest(t, srv, http.MethodPost, "/rates", rate)
	if rec.Code != http.StatusCreated {
		t.Fatalf("seeding rate failed: %d %s", rec.Code, rec.Body.String())
	}
	var created struct {
		ID string `json:"id"`
	}
	decodeBody(t, rec, &created)
	return created.ID
}

func TestHealthEndpoints(t *testing.T) {
	srv := newTestServer(t)

	t.Run("Health", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		rec := httptest.NewRecorder()
		srv.Router().ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Errorf("expected 200, got %d", rec.Code)
		}

		var resp map[string]string
		decodeBody(t, rec, &resp)
		if resp["status"] != "healthy" {
			t.Errorf("expected healthy, got %s", resp["status"])
		}
	})

	t.Run("Ready", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/ready", nil)
		rec := httptest.NewRecorder()
		srv.Router().ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Errorf("expected 200, got %d", rec.Code)
		}
	})

	t.Run("TenantRequired", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/rates", nil)
		rec := httptest.NewRecorder()
		srv.Router().ServeHTTP(rec, req)

		if rec.Code != http.StatusBadRequest {
			t.Errorf("expected 400 without tenant header, got %d", rec.Code)
		}
	})
}

func TestCalculateEndpoint(t *testing.T) {
	srv := newTestServer(t)
	seedRBU(t, srv)
	seedRate(t, srv, map[string]any{
		"code":          "INS-BOVINE",
		"name":          "Bovine inscription",
		"type":          "inscription",
		"category":      "BOVINE",
		"priority":      10,
		"effectiveFrom": "2026-01-01T00:00:00Z",
		"detail": map[string]any{
			"calculationType": "PERCENTAGE_RBU",
			"percentageRBU":   "10",
		},
	})

	t.Run("Success", func(t *testing.T) {
		rec := doRequest(t, srv, http.MethodPost, "/calculate", map[string]any{
			"type":     "inscription",
			"category": "BOVINE",
			"context":  map[string]any{"species": "bovine"},
		})

		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
		}

		var resp struct {
			ID       string `json:"id"`
			Amount   string `json:"amount"`
			Currency string `json:"currency"`
			RateCode string `json:"rateCode"`
			Details  struct {
				RBUValue string `json:"rbuValue"`
			} `json:"details"`
		}
		decodeBody(t, rec, &resp)

		if resp.Amount != "47" && resp.Amount != "47.00" {
			t.Errorf("expected amount 47.00, got %s", resp.Amount)
		}
		if resp.RateCode != "INS-BOVINE" {
			t.Errorf("expected rate INS-BOVINE, got %s", resp.RateCode)
		}
		if resp.ID == "" {
			t.Error("expected calculation id")
		}

		// Result is retrievable afterwards
		getRec := doRequest(t, srv, http.MethodGet, "/calculations/"+resp.ID, nil)
		if getRec.Code != http.StatusOK {
			t.Errorf("expected 200 retrieving calculation, got %d", getRec.Code)
		}
	})

	t.Run("NoApplicableRate", func(t *testing.T) {
		rec := doRequest(t, srv, http.MethodPost, "/calculate", map[string]any{
			"type":     "penalty",
			"category": "BOVINE",
		})

		if rec.Code != http.StatusNotFound {
			t.Errorf("expected 404 when no rate applies, got %d", rec.Code)
		}
	})

	t.Run("MissingInput", func(t *testing.T) {
		seedRate(t, srv, map[string]any{
			"code":          "GUIDE-FEE",
			"name":          "Mobilization guide fee",
			"type":          "permit",
			"category":      "GENERAL",
			"effectiveFrom": "2026-01-01T00:00:00Z",
			"detail": map[string]any{
				"calculationType": "PER_UNIT",
				"fixedValue":      "2.50",
			},
		})

		rec := doRequest(t, srv, http.MethodPost, "/calculate", map[string]any{
			"type":     "permit",
			"category": "GENERAL",
		})

		if rec.Code != http.StatusUnprocessableEntity {
			t.Errorf("expected 422 for missing quantity, got %d: %s", rec.Code, rec.Body.String())
		}
	})

	t.Run("InvalidBody", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/calculate", bytes.NewBufferString("{not json"))
		req.Header.Set(TenantIDHeader, testTenant)
		rec := httptest.NewRecorder()
		srv.Router().ServeHTTP(rec, req)

		if rec.Code != http.StatusBadRequest {
			t.Errorf("expected 400, got %d", rec.Code)
		}
	})
}

func TestRateManagement(t *testing.T) {
	srv := newTestServer(t)

	t.Run("CreateAndGet", func(t *testing.T) {
		id := seedRate(t, srv, map[string]any{
			"code":          "SLAUGHTER-PORCINE",
			"name":          "Porcine slaughter",
			"type":          "slaughter-service",
			"category":      "PORCINE",
			"effectiveFrom": "2026-01-01T00:00:00Z",
			"detail": map[string]any{
				"calculationType": "FIXED_AMOUNT",
				"fixedValue":      "25.00",
			},
		})

		rec := doRequest(t, srv, http.MethodGet, "/rates/"+id, nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}

		var rate domain.Rate
		decodeBody(t, rec, &rate)
		if rate.Status != domain.RateStatusActive {
			t.Errorf("expected default ACTIVE status, got %s", rate.Status)
		}
		if rate.Detail == nil || rate.Detail.Version != 1 {
			t.Error("expected detail version 1")
		}
	})

	t.Run("InvalidRateRejected", func(t *testing.T) {
		rec := doRequest(t, srv, http.MethodPost, "/rates", map[string]any{
			"code":          "BAD-FORMULA",
			"name":          "Broken",
			"type":          "penalty",
			"effectiveFrom": "2026-01-01T00:00:00Z",
			"detail": map[string]any{
				"calculationType": "FORMULA",
				"isFormula":       true,
				"formulaText":     "value ^ 2",
			},
		})

		if rec.Code != http.StatusUnprocessableEntity {
			t.Errorf("expected 422 for invalid formula, got %d", rec.Code)
		}
	})

	t.Run("StatusTransitions", func(t *testing.T) {
		id := seedRate(t, srv, map[string]any{
			"code":          "TRANSITION-RATE",
			"name":          "Transition test",
			"type":          "penalty",
			"category":      "GENERAL",
			"effectiveFrom": "2026-01-01T00:00:00Z",
			"detail": map[string]any{
				"calculationType": "FIXED_AMOUNT",
				"fixedValue":      "5.00",
			},
		})

		// ACTIVE -> INACTIVE
		rec := doRequest(t, srv, http.MethodPut, "/rates/"+id+"/status", map[string]any{"status": "INACTIVE"})
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
		}

		// INACTIVE -> ACTIVE (reversible)
		rec = doRequest(t, srv, http.MethodPut, "/rates/"+id+"/status", map[string]any{"status": "ACTIVE"})
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}

		// ACTIVE -> EXPIRED (terminal)
		rec = doRequest(t, srv, http.MethodPut, "/rates/"+id+"/status", map[string]any{"status": "EXPIRED"})
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}

		// EXPIRED -> ACTIVE rejected
		rec = doRequest(t, srv, http.MethodPut, "/rates/"+id+"/status", map[string]any{"status": "ACTIVE"})
		if rec.Code != http.StatusConflict {
			t.Errorf("expected 409 reactivating expired rate, got %d", rec.Code)
		}
	})

	t.Run("UnknownRate", func(t *testing.T) {
		rec := doRequest(t, srv, http.MethodGet, "/rates/nope", nil)
		if rec.Code != http.StatusNotFound {
			t.Errorf("expected 404, got %d", rec.Code)
		}
	})

	t.Run("Reload", func(t *testing.T) {
		rec := doRequest(t, srv, http.MethodPost, "/rates/reload", nil)
		if rec.Code != http.StatusOK {
			t.Errorf("expected 200, got %d", rec.Code)
		}
	})
}

func TestTestFormulaEndpoint(t *testing.T) {
	srv := newTestServer(t)

	t.Run("SingleCase", func(t *testing.T) {
		rec := doRequest(t, srv, http.MethodPost, "/rates/test-formula", map[string]any{
			"formulaText": "baseValue * factor / 100",
			"variables":   map[string]float64{"baseValue": 470, "factor": 10},
		})

		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
		}

		var resp struct {
			Results []struct {
				Success bool   `json:"success"`
				Result  string `json:"result"`
			} `json:"results"`
		}
		decodeBody(t, rec, &resp)
		if len(resp.Results) != 1 || !resp.Results[0].Success {
			t.Fatalf("expected one successful result, got %+v", resp.Results)
		}
		if got := resp.Results[0].Result; got != "47" && got != "47.00" {
			t.Errorf("expected 47, got %s", got)
		}
	})

	t.Run("NamedCases", func(t *testing.T) {
		rec := doRequest(t, srv, http.MethodPost, "/rates/test-formula", map[string]any{
			"formulaText": "weight / divisor",
			"testCases": []map[string]any{
				{"name": "ok", "context": map[string]float64{"weight": 100, "divisor": 4}},
				{"name": "zero", "context": map[string]float64{"weight": 100, "divisor": 0}},
				{"name": "unbound", "context": map[string]float64{"weight": 100}},
			},
		})

		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
		}

		var resp struct {
			Results []struct {
				Name    string `json:"name"`
				Success bool   `json:"success"`
				Result  string `json:"result"`
				Error   string `json:"error"`
			} `json:"results"`
		}
		decodeBody(t, rec, &resp)
		if len(resp.Results) != 3 {
			t.Fatalf("expected 3 results, got %d", len(resp.Results))
		}
		if !resp.Results[0].Success || resp.Results[0].Result != "25" {
			t.Errorf("case ok: expected 25, got %+v", resp.Results[0])
		}
		if resp.Results[1].Success || resp.Results[1].Error == "" {
			t.Errorf("case zero: expected division error, got %+v", resp.Results[1])
		}
		if resp.Results[2].Success || resp.Results[2].Error == "" {
			t.Errorf("case unbound: expected unknown variable error, got %+v", resp.Results[2])
		}
	})

	t.Run("SyntaxError", func(t *testing.T) {
		rec := doRequest(t, srv, http.MethodPost, "/rates/test-formula", map[string]any{
			"formulaText": "min(a, b)",
		})
		if rec.Code != http.StatusUnprocessableEntity {
			t.Errorf("expected 422 for function call, got %d", rec.Code)
		}
	})
}

func TestReferenceValueEndpoints(t *testing.T) {
	srv := newTestServer(t)
	seedRBU(t, srv)

	t.Run("GetCurrent", func(t *testing.T) {
		rec := doRequest(t, srv, http.MethodGet, "/reference-values/RBU", nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
		}

		var value domain.ReferenceValue
		decodeBody(t, rec, &value)
		if !value.Value.Equal(decimal.NewFromInt(470)) {
			t.Errorf("expected 470, got %s", value.Value)
		}
	})

	t.Run("HistoryAfterUpdate", func(t *testing.T) {
		rec := doRequest(t, srv, http.MethodPut, "/reference-values/RBU", map[string]any{
			"value":         "480",
			"valueType":     "monetary",
			"currency":      "USD",
			"effectiveDate": "2027-01-01T00:00:00Z",
			"reason":        "RBU 2027",
		})
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}

		rec = doRequest(t, srv, http.MethodGet, "/reference-values/RBU/history", nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}

		var resp struct {
			Count int `json:"count"`
		}
		decodeBody(t, rec, &resp)
		if resp.Count != 2 {
			t.Errorf("expected 2 versions, got %d", resp.Count)
		}

		// Date-scoped lookups still resolve the old value
		rec = doRequest(t, srv, http.MethodGet, "/reference-values/RBU?asOf=2026-06-01T00:00:00Z", nil)
		var value domain.ReferenceValue
		decodeBody(t, rec, &value)
		if !value.Value.Equal(decimal.NewFromInt(470)) {
			t.Errorf("expected historical 470, got %s", value.Value)
		}
	})

	t.Run("UnknownCode", func(t *testing.T) {
		rec := doRequest(t, srv, http.MethodGet, "/reference-values/NOPE", nil)
		if rec.Code != http.StatusNotFound {
			t.Errorf("expected 404, got %d", rec.Code)
		}
	})

	t.Run("BadAsOfTimestamp", func(t *testing.T) {
		rec := doRequest(t, srv, http.MethodGet, "/reference-values/RBU?asOf=yesterday", nil)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d", rec.Code)
		}

		var resp map[string]string
		decodeBody(t, rec, &resp)
		if !strings.Contains(resp["error"], "asOf") {
			t.Errorf("error should name the asOf parameter, got %q", resp["error"])
		}
	})

	t.Run("ZeroValueAccepted", func(t *testing.T) {
		// A suspended surcharge is a legitimate zero.
		rec := doRequest(t, srv, http.MethodPut, "/reference-values/INSPECTION-SURCHARGE", map[string]any{
			"value":     "0",
			"valueType": "monetary",
			"currency":  "USD",
			"reason":    "surcharge suspended",
		})
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200 for explicit zero, got %d: %s", rec.Code, rec.Body.String())
		}

		rec = doRequest(t, srv, http.MethodGet, "/reference-values/INSPECTION-SURCHARGE", nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}
		var value domain.ReferenceValue
		decodeBody(t, rec, &value)
		if !value.Value.IsZero() {
			t.Errorf("expected stored zero, got %s", value.Value)
		}
	})

	t.Run("MissingValueRejected", func(t *testing.T) {
		rec := doRequest(t, srv, http.MethodPut, "/reference-values/RBU", map[string]any{
			"reason": "no value in body",
		})
		if rec.Code != http.StatusBadRequest {
			t.Errorf("expected 400 when value is absent, got %d", rec.Code)
		}
	})
}

func TestValidateRateEndpoint(t *testing.T) {
	srv := newTestServer(t)

	valid := map[string]any{
		"code":          "CORRAL-DAY",
		"name":          "Corral stay per day",
		"type":          "additional-service",
		"effectiveFrom": "2026-01-01T00:00:00Z",
		"expression":    "has(ctx.days) && ctx.days > 0",
		"detail": map[string]any{
			"calculationType": "FORMULA",
			"isFormula":       true,
			"formulaText":     "days * fixedValue",
			"fixedValue":      "1.50",
		},
	}

	t.Run("Valid", func(t *testing.T) {
		rec := doRequest(t, srv, http.MethodPost, "/rates/validate", valid)
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
		}

		var resp struct {
			Valid bool `json:"valid"`
		}
		decodeBody(t, rec, &resp)
		if !resp.Valid {
			t.Error("expected valid: true")
		}
	})

	t.Run("NothingPersisted", func(t *testing.T) {
		rec := doRequest(t, srv, http.MethodGet, "/rates", nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}
		var resp struct {
			Count int `json:"count"`
		}
		decodeBody(t, rec, &resp)
		if resp.Count != 0 {
			t.Errorf("dry-run must not store rates, found %d", resp.Count)
		}
	})

	t.Run("BadFormula", func(t *testing.T) {
		bad := map[string]any{
			"code":          "CORRAL-DAY",
			"type":          "additional-service",
			"effectiveFrom": "2026-01-01T00:00:00Z",
			"detail": map[string]any{
				"calculationType": "FORMULA",
				"isFormula":       true,
				"formulaText":     "days ** 2",
			},
		}
		rec := doRequest(t, srv, http.MethodPost, "/rates/validate", bad)
		if rec.Code != http.StatusUnprocessableEntity {
			t.Fatalf("expected 422, got %d", rec.Code)
		}

		var resp struct {
			Valid bool   `json:"valid"`
			Error string `json:"error"`
		}
		decodeBody(t, rec, &resp)
		if resp.Valid || resp.Error == "" {
			t.Errorf("expected invalid with an error, got %+v", resp)
		}
	})

	t.Run("BadExpression", func(t *testing.T) {
		bad := map[string]any{
			"code":          "CORRAL-DAY",
			"type":          "additional-service",
			"effectiveFrom": "2026-01-01T00:00:00Z",
			"expression":    "ctx.days >",
			"detail": map[string]any{
				"calculationType": "FIXED_AMOUNT",
				"fixedValue":      "5",
			},
		}
		rec := doRequest(t, srv, http.MethodPost, "/rates/validate", bad)
		if rec.Code != http.StatusUnprocessableEntity {
			t.Errorf("expected 422 for CEL compile error, got %d", rec.Code)
		}
	})

	t.Run("MissingDetail", func(t *testing.T) {
		bad := map[string]any{
			"code":          "CORRAL-DAY",
			"type":          "additional-service",
			"effectiveFrom": "2026-01-01T00:00:00Z",
		}
		rec := doRequest(t, srv, http.MethodPost, "/rates/validate", bad)
		if rec.Code != http.StatusUnprocessableEntity {
			t.Errorf("expected 422 for missing detail, got %d", rec.Code)
		}
	})
}
