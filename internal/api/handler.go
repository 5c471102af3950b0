package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/camal-digital/tarifario/internal/conditions"
	"github.com/camal-digital/tarifario/internal/domain"
	"github.com/camal-digital/tarifario/internal/formula"
	"github.com/camal-digital/tarifario/internal/refvalues"
	"github.com/camal-digital/tarifario/internal/repository"
	"github.com/camal-digital/tarifario/internal/tariff"
)

// Handler holds dependencies for API handlers.
type Handler struct {
	repo     domain.Repository
	cache    domain.Cache
	bus      domain.EventBus
	engine   *tariff.Engine
	resolver *tariff.Resolver
	refs     *refvalues.Store
	exprs    *conditions.ExpressionEvaluator
	version  string
}

// NewHandler creates a new API handler.
func NewHandler(repo domain.Repository, cache domain.Cache, bus domain.EventBus, engine *tariff.Engine, resolver *tariff.Resolver, refs *refvalues.Store, exprs *conditions.ExpressionEvaluator, version string) *Handler {
	return &Handler{
		repo:     repo,
		cache:    cache,
		bus:      bus,
		engine:   engine,
		resolver: resolver,
		refs:     refs,
		exprs:    exprs,
		version:  version,
	}
}

// CalculateResponse is the response for POST /calculate.
type CalculateResponse struct {
	*domain.CalculationResult

	Metadata struct {
		TraceID string `json:"traceId"`
		TotalMs int64  `json:"totalMs"`
		Version string `json:"version"`
	} `json:"metadata"`
}

// Calculate handles POST /calculate requests.
func (h *Handler) Calculate(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	traceID := GetTraceID(ctx)

	var req domain.CalculationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if req.Type == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "type is required",
		})
		return
	}

	result, err := h.engine.Calculate(ctx, tenantID, &req)
	if err != nil {
		writeCalculationError(w, err)
		return
	}

	resp := CalculateResponse{CalculationResult: result}
	resp.Metadata.TraceID = traceID
	resp.Metadata.TotalMs = time.Since(start).Milliseconds()
	resp.Metadata.Version = h.version

	writeJSON(w, http.StatusOK, resp)
}

// writeCalculationError maps engine failures to HTTP statuses.
// No applicable rate is a business condition, not a server fault.
func writeCalculationError(w http.ResponseWriter, err error) {
	var calcErr *domain.CalculationError
	var formulaErr *formula.Error

	switch {
	case errors.Is(err, domain.ErrNoApplicableRate):
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": err.Error(),
		})
	case errors.As(err, &calcErr):
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{
			"error": calcErr.Error(),
			"kind":  string(calcErr.Kind),
			"field": calcErr.Field,
		})
	case errors.As(err, &formulaErr):
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{
			"error": formulaErr.Error(),
			"kind":  string(formulaErr.Kind),
		})
	case errors.Is(err, domain.ErrReferenceValueNotFound):
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{
			"error": err.Error(),
		})
	default:
		slog.Error("calculation failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "calculation failed",
		})
	}
}

// TestFormulaRequest is the request body for POST /rates/test-formula.
// Variables is a shortcut for a single unnamed test case.
type TestFormulaRequest struct {
	FormulaText string             `json:"formulaText"`
	Variables   map[string]float64 `json:"variables,omitempty"`
	TestCases   []FormulaTestCase  `json:"testCases,omitempty"`
}

// FormulaTestCase is one named variable binding to run a formula against.
type FormulaTestCase struct {
	Name    string             `json:"name"`
	Context map[string]float64 `json:"context"`
}

// FormulaTestResult reports the outcome of one test case.
type FormulaTestResult struct {
	Name    string           `json:"name"`
	Success bool             `json:"success"`
	Result  *decimal.Decimal `json:"result,omitempty"`
	Error   string           `json:"error,omitempty"`
}

// TestFormula compiles a formula and evaluates it against each test case
// without touching any stored rate. A formula that fails to parse is 422;
// per-case evaluation failures (unknown variable, division by zero) come
// back as unsuccessful results in a 200 response.
func (h *Handler) TestFormula(w http.ResponseWriter, r *http.Request) {
	var req TestFormulaRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}
	if req.FormulaText == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "formulaText is required",
		})
		return
	}

	expr, err := formula.Parse(req.FormulaText)
	if err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{
			"error": err.Error(),
		})
		return
	}

	cases := req.TestCases
	if len(cases) == 0 {
		cases = []FormulaTestCase{{Name: "default", Context: req.Variables}}
	}

	results := make([]FormulaTestResult, 0, len(cases))
	for _, tc := range cases {
		vars := make(map[string]decimal.Decimal, len(tc.Context))
		for name, v := range tc.Context {
			vars[name] = decimal.NewFromFloat(v)
		}

		value, err := expr.Eval(vars)
		if err != nil {
			results = append(results, FormulaTestResult{Name: tc.Name, Error: err.Error()})
			continue
		}
		rounded := value.Round(2)
		results = append(results, FormulaTestResult{Name: tc.Name, Success: true, Result: &rounded})
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"formulaText": req.FormulaText,
		"variables":   expr.Vars(),
		"results":     results,
	})
}

// ListRates returns all rates for the tenant.
func (h *Handler) ListRates(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	rates, err := h.repo.ListRates(ctx, tenantID)
	if err != nil {
		slog.Error("failed to list rates", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to list rates",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"rates": rates,
		"count": len(rates),
	})
}

// GetRate retrieves a rate by ID.
func (h *Handler) GetRate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	rateID := chi.URLParam(r, "id")

	rate, err := h.repo.GetRate(ctx, tenantID, rateID)
	if errors.Is(err, repository.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "rate not found",
		})
		return
	}
	if err != nil {
		slog.Error("failed to get rate", "id", rateID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to get rate",
		})
		return
	}

	writeJSON(w, http.StatusOK, rate)
}

// CreateRate validates and stores a new rate definition.
func (h *Handler) CreateRate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	var rate domain.Rate
	if err := json.NewDecoder(r.Body).Decode(&rate); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if err := tariff.ValidateRate(&rate, h.exprs); err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{
			"error": err.Error(),
		})
		return
	}

	now := time.Now().UTC()
	if rate.ID == "" {
		rate.ID = uuid.New().String()
	}
	if rate.Status == "" {
		rate.Status = domain.RateStatusActive
	}
	if rate.Category == "" {
		rate.Category = domain.CategoryGeneral
	}
	rate.TenantID = tenantID
	rate.CreatedAt = now
	rate.UpdatedAt = now

	if d := rate.Detail; d != nil {
		if d.ID == "" {
			d.ID = uuid.New().String()
		}
		d.RateID = rate.ID
		if d.Version == 0 {
			d.Version = 1
		}
		if d.EffectiveDate.IsZero() {
			d.EffectiveDate = rate.EffectiveFrom
		}
	}

	if err := h.repo.SaveRate(ctx, tenantID, &rate); err != nil {
		slog.Error("failed to save rate", "code", rate.Code, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to save rate",
		})
		return
	}

	h.resolver.Reload(ctx, tenantID)

	slog.Info("rate created", "id", rate.ID, "code", rate.Code, "tenant_id", tenantID)
	writeJSON(w, http.StatusCreated, rate)
}

// ValidateRate dry-runs the authoring checks a rate must pass before
// POST /rates will accept it — formula grammar, CEL expression
// compilation, ranges, effective window — without persisting anything.
func (h *Handler) ValidateRate(w http.ResponseWriter, r *http.Request) {
	var rate domain.Rate
	if err := json.NewDecoder(r.Body).Decode(&rate); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if err := tariff.ValidateRate(&rate, h.exprs); err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"valid": false,
			"error": err.Error(),
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"valid": true})
}

// UpdateRateStatusRequest is the request body for PUT /rates/{id}/status.
type UpdateRateStatusRequest struct {
	Status domain.RateStatus `json:"status"`
	Reason string            `json:"reason,omitempty"`
}

// UpdateRateStatus changes a rate's lifecycle status, enforcing that
// EXPIRED is terminal.
func (h *Handler) UpdateRateStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	rateID := chi.URLParam(r, "id")

	var req UpdateRateStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	switch req.Status {
	case domain.RateStatusActive, domain.RateStatusInactive, domain.RateStatusExpired:
	default:
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "status must be ACTIVE, INACTIVE or EXPIRED",
		})
		return
	}

	rate, err := h.repo.GetRate(ctx, tenantID, rateID)
	if errors.Is(err, repository.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "rate not found",
		})
		return
	}
	if err != nil {
		slog.Error("failed to get rate", "id", rateID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to get rate",
		})
		return
	}

	// Judge the transition from the effective status, so a rate whose
	// window already closed reads as EXPIRED even if stored as ACTIVE.
	current := rate.EffectiveStatus(time.Now().UTC())
	if !domain.ValidTransition(current, req.Status) {
		writeJSON(w, http.StatusConflict, map[string]string{
			"error": domain.ErrInvalidTransition.Error() + ": " + string(current) + " -> " + string(req.Status),
		})
		return
	}

	if err := h.repo.UpdateRateStatus(ctx, tenantID, rateID, req.Status); err != nil {
		slog.Error("failed to update rate status", "id", rateID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to update rate status",
		})
		return
	}

	h.resolver.Reload(ctx, tenantID)
	h.publishStatusChange(r, tenantID, rateID, current, req.Status, req.Reason)

	slog.Info("rate status updated",
		"id", rateID,
		"from", current,
		"to", req.Status,
		"tenant_id", tenantID,
	)
	writeJSON(w, http.StatusOK, map[string]string{
		"id":     rateID,
		"status": string(req.Status),
	})
}

func (h *Handler) publishStatusChange(r *http.Request, tenantID, rateID string, from, to domain.RateStatus, reason string) {
	if h.bus == nil {
		return
	}
	payload, err := json.Marshal(map[string]string{
		"id":     rateID,
		"from":   string(from),
		"to":     string(to),
		"reason": reason,
	})
	if err != nil {
		return
	}
	if err := h.bus.Publish(r.Context(), tenantID, domain.TopicRateStatusChanged, payload); err != nil {
		slog.Warn("failed to publish rate status event", "id", rateID, "error", err)
	}
}

// ReloadRates drops the tenant's cached resolver results.
func (h *Handler) ReloadRates(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	h.resolver.Reload(ctx, tenantID)

	slog.Info("rate cache reloaded", "tenant_id", tenantID)
	writeJSON(w, http.StatusOK, map[string]string{
		"message": "rate cache reloaded",
	})
}

// GetReferenceValue returns the value of a code effective at the given
// date (query parameter "asOf", RFC 3339; defaults to now).
func (h *Handler) GetReferenceValue(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	code := chi.URLParam(r, "code")

	asOf := time.Now().UTC()
	if at := r.URL.Query().Get("asOf"); at != "" {
		parsed, err := time.Parse(time.RFC3339, at)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "invalid 'asOf' timestamp, want RFC 3339",
			})
			return
		}
		asOf = parsed
	}

	value, err := h.refs.GetByCode(ctx, tenantID, code, asOf)
	if errors.Is(err, domain.ErrReferenceValueNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "no reference value effective for " + code,
		})
		return
	}
	if err != nil {
		slog.Error("failed to get reference value", "code", code, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to get reference value",
		})
		return
	}

	writeJSON(w, http.StatusOK, value)
}

// UpdateReferenceValueRequest is the request body for PUT /reference-values/{code}.
// Value is a pointer so an explicit zero (a suspended surcharge, a waived
// fee) is distinguishable from the field being absent.
type UpdateReferenceValueRequest struct {
	Value         *decimal.Decimal `json:"value"`
	Type          domain.ValueType `json:"valueType,omitempty"`
	Currency      string           `json:"currency,omitempty"`
	Priority      int              `json:"priority,omitempty"`
	Reason        string           `json:"reason,omitempty"`
	EffectiveDate time.Time        `json:"effectiveDate,omitempty"`
}

// UpdateReferenceValue appends a new version of a reference value.
func (h *Handler) UpdateReferenceValue(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	code := chi.URLParam(r, "code")

	var req UpdateReferenceValueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}
	if req.Value == nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "value is required",
		})
		return
	}

	value, err := h.refs.Update(ctx, tenantID, refvalues.UpdateInput{
		Code:          code,
		Value:         *req.Value,
		Type:          req.Type,
		Currency:      req.Currency,
		Priority:      req.Priority,
		Reason:        req.Reason,
		EffectiveDate: req.EffectiveDate,
	})
	if err != nil {
		slog.Error("failed to update reference value", "code", code, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to update reference value",
		})
		return
	}

	slog.Info("reference value updated",
		"code", code,
		"value", value.Value,
		"tenant_id", tenantID,
	)
	writeJSON(w, http.StatusOK, value)
}

// GetReferenceValueHistory returns every stored version of a code.
func (h *Handler) GetReferenceValueHistory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	code := chi.URLParam(r, "code")

	versions, err := h.refs.History(ctx, tenantID, code)
	if err != nil {
		slog.Error("failed to get reference value history", "code", code, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to get history",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"code":     code,
		"versions": versions,
		"count":    len(versions),
	})
}

// GetCalculation retrieves a stored calculation result by ID.
func (h *Handler) GetCalculation(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	calcID := chi.URLParam(r, "id")

	result, err := h.repo.GetCalculation(ctx, tenantID, calcID)
	if errors.Is(err, repository.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "calculation not found",
		})
		return
	}
	if err != nil {
		slog.Error("failed to get calculation", "id", calcID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to get calculation",
		})
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// ListAuditEvents returns recent audit log entries.
func (h *Handler) ListAuditEvents(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	since := time.Now().UTC().Add(-24 * time.Hour)
	if s := r.URL.Query().Get("since"); s != "" {
		parsed, err := time.Parse(time.RFC3339, s)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "invalid 'since' timestamp, want RFC 3339",
			})
			return
		}
		since = parsed
	}

	events, err := h.repo.ListAuditEvents(ctx, tenantID, since, 100)
	if err != nil {
		slog.Error("failed to list audit events", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to list audit events",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"events": events,
		"count":  len(events),
	})
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"

	if h.repo != nil {
		if err := h.repo.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}
	if h.cache != nil {
		if err := h.cache.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  status,
		"version": h.version,
	})
}

// Ready returns whether the server is ready to accept traffic.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"ready": "true",
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}
