package domain

import (
	"context"
	"time"
)

// Repository defines the interface for data persistence.
// All methods require tenantID for strict multi-tenancy isolation.
type Repository interface {
	// Reference value operations. Saving always appends a new version;
	// history is never edited in place.
	SaveReferenceValue(ctx context.Context, tenantID string, value *ReferenceValue) error
	ListReferenceValueVersions(ctx context.Context, tenantID string, code string) ([]*ReferenceValue, error)
	DeactivateReferenceValue(ctx context.Context, tenantID string, id string) error

	// Rate operations.
	SaveRate(ctx context.Context, tenantID string, rate *Rate) error
	GetRate(ctx context.Context, tenantID string, rateID string) (*Rate, error)
	ListRates(ctx context.Context, tenantID string) ([]*Rate, error)
	ListRatesByType(ctx context.Context, tenantID string, rateType RateType, category string) ([]*Rate, error)
	UpdateRateStatus(ctx context.Context, tenantID string, rateID string, status RateStatus) error

	// Calculation results are append-only.
	SaveCalculation(ctx context.Context, tenantID string, result *CalculationResult) error
	GetCalculation(ctx context.Context, tenantID string, calcID string) (*CalculationResult, error)

	// Audit log is append-only.
	AppendAuditEvent(ctx context.Context, tenantID string, event *AuditEvent) error
	ListAuditEvents(ctx context.Context, tenantID string, since time.Time, limit int) ([]*AuditEvent, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string `yaml:"driver"`

	// SQLite specific
	SQLitePath string `yaml:"sqlitePath"`

	// PostgreSQL specific
	PostgresHost     string `yaml:"postgresHost"`
	PostgresPort     int    `yaml:"postgresPort"`
	PostgresUser     string `yaml:"postgresUser"`
	PostgresPassword string `yaml:"postgresPassword"`
	PostgresDB       string `yaml:"postgresDb"`
	PostgresSSLMode  string `yaml:"postgresSslMode"`

	// Connection pool settings
	MaxOpenConns    int           `yaml:"maxOpenConns"`
	MaxIdleConns    int           `yaml:"maxIdleConns"`
	ConnMaxLifetime time.Duration `yaml:"connMaxLifetime"`
}
