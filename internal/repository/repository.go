// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/camal-digital/tarifario/internal/domain"
)

var (
	ErrNotFound     = errors.New("record not found")
	ErrInvalidInput = errors.New("invalid input")
)

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// New creates a new repository based on configuration.
func New(cfg domain.RepositoryConfig) (domain.Repository, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	repo := &SQLRepository{
		db:     db,
		driver: cfg.Driver,
	}

	// Run migrations
	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return repo, nil
}

func (r *SQLRepository) migrate() error {
	for _, schema := range AllSchemas() {
		if _, err := r.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

// SaveReferenceValue appends a new reference value version. Existing rows
// for the same code are left untouched.
func (r *SQLRepository) SaveReferenceValue(ctx context.Context, tenantID string, value *domain.ReferenceValue) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}
	if value.Code == "" {
		return fmt.Errorf("%w: code is required", ErrInvalidInput)
	}

	query := `
		INSERT INTO reference_values (
			id, tenant_id, code, value, value_type, currency,
			priority, effective_from, effective_until, active, reason, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		value.ID, tenantID, value.Code,
		value.Value.String(), value.Type, value.Currency,
		value.Priority, value.EffectiveFrom, nullTime(value.EffectiveUntil),
		boolInt(value.Active), value.Reason, value.CreatedAt,
	)
	return err
}

// ListReferenceValueVersions returns every stored version of a code,
// newest effective date first.
func (r *SQLRepository) ListReferenceValueVersions(ctx context.Context, tenantID string, code string) ([]*domain.ReferenceValue, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, code, value, value_type, currency,
			   priority, effective_from, effective_until, active, reason, created_at
		FROM reference_values
		WHERE tenant_id = ? AND code = ?
		ORDER BY effective_from DESC, priority DESC
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID, code)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.ReferenceValue
	for rows.Next() {
		v, err := scanReferenceValue(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// DeactivateReferenceValue marks a single version inactive. The row stays
// in history; it just stops matching date-scoped lookups.
func (r *SQLRepository) DeactivateReferenceValue(ctx context.Context, tenantID string, id string) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `UPDATE reference_values SET active = 0 WHERE tenant_id = ? AND id = ?`

	res, err := r.db.ExecContext(ctx, r.rebind(query), tenantID, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// SaveRate upserts a rate and, when present, appends its detail version.
func (r *SQLRepository) SaveRate(ctx context.Context, tenantID string, rate *domain.Rate) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}
	if rate.Code == "" {
		return fmt.Errorf("%w: code is required", ErrInvalidInput)
	}

	conditions, _ := json.Marshal(rate.Conditions)

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	del := `DELETE FROM rates WHERE tenant_id = ? AND id = ?`
	if _, err := tx.ExecContext(ctx, r.rebind(del), tenantID, rate.ID); err != nil {
		return err
	}

	ins := `
		INSERT INTO rates (
			id, tenant_id, code, name, type, category, priority, status,
			effective_from, effective_until, conditions, expression,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = tx.ExecContext(ctx, r.rebind(ins),
		rate.ID, tenantID, rate.Code, rate.Name, rate.Type, rate.Category,
		rate.Priority, rate.Status,
		rate.EffectiveFrom, nullTime(rate.EffectiveUntil),
		string(conditions), rate.Expression,
		rate.CreatedAt, rate.UpdatedAt,
	)
	if err != nil {
		return err
	}

	if d := rate.Detail; d != nil {
		clear := `DELETE FROM rate_details WHERE id = ? AND version = ?`
		if _, err := tx.ExecContext(ctx, r.rebind(clear), d.ID, d.Version); err != nil {
			return err
		}

		detail := `
			INSERT INTO rate_details (
				id, rate_id, tenant_id, unit, calculation_type, is_formula,
				formula_text, fixed_value, percentage_rbu,
				min_percentage, max_percentage, min_weight, max_weight,
				version, effective_date, expiration_date
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`
		_, err = tx.ExecContext(ctx, r.rebind(detail),
			d.ID, rate.ID, tenantID, d.Unit, d.CalculationType, boolInt(d.IsFormula),
			d.FormulaText, d.FixedValue.String(), d.PercentageRBU.String(),
			d.MinPercentage.String(), d.MaxPercentage.String(),
			d.MinWeight.String(), d.MaxWeight.String(),
			d.Version, d.EffectiveDate, nullTime(d.ExpirationDate),
		)
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

// GetRate retrieves a rate with its latest detail version.
func (r *SQLRepository) GetRate(ctx context.Context, tenantID string, rateID string) (*domain.Rate, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := rateSelect + ` WHERE tenant_id = ? AND id = ?`

	rate, err := scanRate(r.db.QueryRowContext(ctx, r.rebind(query), tenantID, rateID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if err := r.attachDetail(ctx, tenantID, rate); err != nil {
		return nil, err
	}
	return rate, nil
}

// ListRates returns every rate for a tenant, highest priority first.
func (r *SQLRepository) ListRates(ctx context.Context, tenantID string) ([]*domain.Rate, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := rateSelect + ` WHERE tenant_id = ? ORDER BY priority DESC, effective_from DESC`

	return r.queryRates(ctx, tenantID, query, tenantID)
}

// ListRatesByType returns rates matching a type and category,
// highest priority first.
func (r *SQLRepository) ListRatesByType(ctx context.Context, tenantID string, rateType domain.RateType, category string) ([]*domain.Rate, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := rateSelect + ` WHERE tenant_id = ? AND type = ? AND category = ? ORDER BY priority DESC, effective_from DESC`

	return r.queryRates(ctx, tenantID, query, tenantID, rateType, category)
}

// UpdateRateStatus changes a rate's stored lifecycle status.
// Transition rules are enforced by the tariff layer; this is plain storage.
func (r *SQLRepository) UpdateRateStatus(ctx context.Context, tenantID string, rateID string, status domain.RateStatus) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `UPDATE rates SET status = ?, updated_at = ? WHERE tenant_id = ? AND id = ?`

	res, err := r.db.ExecContext(ctx, r.rebind(query), status, time.Now().UTC(), tenantID, rateID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// SaveCalculation stores a calculation result. Results are append-only.
func (r *SQLRepository) SaveCalculation(ctx context.Context, tenantID string, result *domain.CalculationResult) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	details, _ := json.Marshal(result.Details)

	query := `
		INSERT INTO calculations (
			id, tenant_id, rate_id, rate_code, rate_type, detail_version,
			amount, currency, details, calculated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		result.ID, tenantID, result.RateID, result.RateCode, result.RateType,
		result.DetailVersion, result.Amount.String(), result.Currency,
		string(details), result.CalculatedAt,
	)
	return err
}

// GetCalculation retrieves a stored calculation result by ID.
func (r *SQLRepository) GetCalculation(ctx context.Context, tenantID string, calcID string) (*domain.CalculationResult, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, rate_id, rate_code, rate_type, detail_version,
			   amount, currency, details, calculated_at
		FROM calculations
		WHERE tenant_id = ? AND id = ?
	`

	var result domain.CalculationResult
	var amount, details string

	err := r.db.QueryRowContext(ctx, r.rebind(query), tenantID, calcID).Scan(
		&result.ID, &result.TenantID, &result.RateID, &result.RateCode,
		&result.RateType, &result.DetailVersion,
		&amount, &result.Currency, &details, &result.CalculatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if result.Amount, err = decimal.NewFromString(amount); err != nil {
		return nil, fmt.Errorf("corrupt amount for calculation %s: %w", calcID, err)
	}
	if err := json.Unmarshal([]byte(details), &result.Details); err != nil {
		return nil, fmt.Errorf("corrupt details for calculation %s: %w", calcID, err)
	}

	return &result, nil
}

// AppendAuditEvent stores one audit log entry.
func (r *SQLRepository) AppendAuditEvent(ctx context.Context, tenantID string, event *domain.AuditEvent) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		INSERT INTO audit_events (id, tenant_id, kind, entity, payload, reason, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		event.ID, tenantID, event.Kind, event.Entity,
		string(event.Payload), event.Reason, event.Timestamp,
	)
	return err
}

// ListAuditEvents returns audit entries since a timestamp, newest first.
func (r *SQLRepository) ListAuditEvents(ctx context.Context, tenantID string, since time.Time, limit int) ([]*domain.AuditEvent, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}
	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT id, tenant_id, kind, entity, payload, reason, timestamp
		FROM audit_events
		WHERE tenant_id = ? AND timestamp >= ?
		ORDER BY timestamp DESC
		LIMIT ?
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID, since, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.AuditEvent
	for rows.Next() {
		var ev domain.AuditEvent
		var payload string
		if err := rows.Scan(&ev.ID, &ev.TenantID, &ev.Kind, &ev.Entity, &payload, &ev.Reason, &ev.Timestamp); err != nil {
			return nil, err
		}
		if payload != "" {
			ev.Payload = json.RawMessage(payload)
		}
		out = append(out, &ev)
	}
	return out, rows.Err()
}

func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func (r *SQLRepository) Close() error {
	return r.db.Close()
}

const rateSelect = `
	SELECT id, tenant_id, code, name, type, category, priority, status,
		   effective_from, effective_until, conditions, expression,
		   created_at, updated_at
	FROM rates`

func (r *SQLRepository) queryRates(ctx context.Context, tenantID string, query string, args ...any) ([]*domain.Rate, error) {
	rows, err := r.db.QueryContext(ctx, r.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.Rate
	for rows.Next() {
		rate, err := scanRate(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rate)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, rate := range out {
		if err := r.attachDetail(ctx, tenantID, rate); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// attachDetail loads the latest detail version onto a rate, if one exists.
func (r *SQLRepository) attachDetail(ctx context.Context, tenantID string, rate *domain.Rate) error {
	query := `
		SELECT id, rate_id, unit, calculation_type, is_formula,
			   formula_text, fixed_value, percentage_rbu,
			   min_percentage, max_percentage, min_weight, max_weight,
			   version, effective_date, expiration_date
		FROM rate_details
		WHERE tenant_id = ? AND rate_id = ?
		ORDER BY version DESC
		LIMIT 1
	`

	var d domain.RateDetail
	var isFormula int
	var fixed, pctRBU, minPct, maxPct, minW, maxW string
	var expiration sql.NullTime

	err := r.db.QueryRowContext(ctx, r.rebind(query), tenantID, rate.ID).Scan(
		&d.ID, &d.RateID, &d.Unit, &d.CalculationType, &isFormula,
		&d.FormulaText, &fixed, &pctRBU,
		&minPct, &maxPct, &minW, &maxW,
		&d.Version, &d.EffectiveDate, &expiration,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return err
	}

	d.IsFormula = isFormula != 0
	if expiration.Valid {
		t := expiration.Time
		d.ExpirationDate = &t
	}
	for _, field := range []struct {
		raw string
		dst *decimal.Decimal
	}{
		{fixed, &d.FixedValue},
		{pctRBU, &d.PercentageRBU},
		{minPct, &d.MinPercentage},
		{maxPct, &d.MaxPercentage},
		{minW, &d.MinWeight},
		{maxW, &d.MaxWeight},
	} {
		if field.raw == "" {
			continue
		}
		v, err := decimal.NewFromString(field.raw)
		if err != nil {
			return fmt.Errorf("corrupt detail for rate %s: %w", rate.ID, err)
		}
		*field.dst = v
	}

	rate.Detail = &d
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRate(row rowScanner) (*domain.Rate, error) {
	var rate domain.Rate
	var until sql.NullTime
	var conditions string

	err := row.Scan(
		&rate.ID, &rate.TenantID, &rate.Code, &rate.Name,
		&rate.Type, &rate.Category, &rate.Priority, &rate.Status,
		&rate.EffectiveFrom, &until, &conditions, &rate.Expression,
		&rate.CreatedAt, &rate.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if until.Valid {
		t := until.Time
		rate.EffectiveUntil = &t
	}
	if conditions != "" && conditions != "null" {
		if err := json.Unmarshal([]byte(conditions), &rate.Conditions); err != nil {
			return nil, fmt.Errorf("corrupt conditions for rate %s: %w", rate.ID, err)
		}
	}
	return &rate, nil
}

func scanReferenceValue(rows *sql.Rows) (*domain.ReferenceValue, error) {
	var v domain.ReferenceValue
	var raw string
	var until sql.NullTime
	var active int

	err := rows.Scan(
		&v.ID, &v.TenantID, &v.Code, &raw, &v.Type, &v.Currency,
		&v.Priority, &v.EffectiveFrom, &until, &active, &v.Reason, &v.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if v.Value, err = decimal.NewFromString(raw); err != nil {
		return nil, fmt.Errorf("corrupt value for %s: %w", v.Code, err)
	}
	if until.Valid {
		t := until.Time
		v.EffectiveUntil = &t
	}
	v.Active = active != 0
	return &v, nil
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	// Convert ? to $1, $2, etc.
	var result []byte
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			result = append(result, '$')
			result = append(result, fmt.Sprintf("%d", n)...)
			n++
		} else {
			result = append(result, query[i])
		}
	}
	return string(result)
}
