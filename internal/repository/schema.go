package repository

// Schema definitions for the Tarifario database.
// Compatible with both SQLite and PostgreSQL. Monetary columns are stored
// as TEXT and parsed with shopspring/decimal to avoid float drift.

const schemaReferenceValues = `
CREATE TABLE IF NOT EXISTS reference_values (
    id TEXT PRIMARY KEY,
    tenant_id TEXT NOT NULL,
    code TEXT NOT NULL,
    value TEXT NOT NULL,
    value_type TEXT NOT NULL,
    currency TEXT,
    priority INTEGER NOT NULL DEFAULT 0,
    effective_from TIMESTAMP NOT NULL,
    effective_until TIMESTAMP,
    active INTEGER NOT NULL DEFAULT 1,
    reason TEXT,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_refvalues_tenant ON reference_values(tenant_id);
CREATE INDEX IF NOT EXISTS idx_refvalues_code ON reference_values(tenant_id, code);
CREATE INDEX IF NOT EXISTS idx_refvalues_effective ON reference_values(tenant_id, code, effective_from);
`

const schemaRates = `
CREATE TABLE IF NOT EXISTS rates (
    id TEXT PRIMARY KEY,
    tenant_id TEXT NOT NULL,
    code TEXT NOT NULL,
    name TEXT NOT NULL,
    type TEXT NOT NULL,
    category TEXT NOT NULL,
    priority INTEGER NOT NULL DEFAULT 0,
    status TEXT NOT NULL,
    effective_from TIMESTAMP NOT NULL,
    effective_until TIMESTAMP,
    conditions TEXT,
    expression TEXT,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_rates_tenant ON rates(tenant_id);
CREATE INDEX IF NOT EXISTS idx_rates_type ON rates(tenant_id, type, category);
CREATE INDEX IF NOT EXISTS idx_rates_status ON rates(tenant_id, status);
`

const schemaRateDetails = `
CREATE TABLE IF NOT EXISTS rate_details (
    id TEXT NOT NULL,
    rate_id TEXT NOT NULL,
    tenant_id TEXT NOT NULL,
    unit TEXT,
    calculation_type TEXT NOT NULL,
    is_formula INTEGER NOT NULL DEFAULT 0,
    formula_text TEXT,
    fixed_value TEXT NOT NULL,
    percentage_rbu TEXT,
    min_percentage TEXT,
    max_percentage TEXT,
    min_weight TEXT,
    max_weight TEXT,
    version INTEGER NOT NULL,
    effective_date TIMESTAMP NOT NULL,
    expiration_date TIMESTAMP,
    PRIMARY KEY (id, version)
);

CREATE INDEX IF NOT EXISTS idx_rate_details_rate ON rate_details(tenant_id, rate_id);
`

const schemaCalculations = `
CREATE TABLE IF NOT EXISTS calculations (
    id TEXT PRIMARY KEY,
    tenant_id TEXT NOT NULL,
    rate_id TEXT NOT NULL,
    rate_code TEXT NOT NULL,
    rate_type TEXT NOT NULL,
    detail_version INTEGER NOT NULL,
    amount TEXT NOT NULL,
    currency TEXT NOT NULL,
    details TEXT NOT NULL,
    calculated_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_calculations_tenant ON calculations(tenant_id);
CREATE INDEX IF NOT EXISTS idx_calculations_rate ON calculations(tenant_id, rate_id);
CREATE INDEX IF NOT EXISTS idx_calculations_timestamp ON calculations(tenant_id, calculated_at);
`

const schemaAuditEvents = `
CREATE TABLE IF NOT EXISTS audit_events (
    id TEXT PRIMARY KEY,
    tenant_id TEXT NOT NULL,
    kind TEXT NOT NULL,
    entity TEXT NOT NULL,
    payload TEXT,
    reason TEXT,
    timestamp TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_audit_tenant ON audit_events(tenant_id);
CREATE INDEX IF NOT EXISTS idx_audit_timestamp ON audit_events(tenant_id, timestamp);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaReferenceValues,
		schemaRates,
		schemaRateDetails,
		schemaCalculations,
		schemaAuditEvents,
	}
}
