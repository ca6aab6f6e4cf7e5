// Package domain defines the core interfaces and types for the reward engine.
package domain

import (
	"context"
	"time"
)

// Repository defines the interface for data persistence.
type Repository interface {
	// Rule operations. GetActiveRule resolves the single active rule
	// for an action type; ErrNotFound when none exists.
	GetActiveRule(ctx context.Context, actionType string) (*RewardRule, error)
	ListActiveRules(ctx context.Context) ([]*RewardRule, error)
	ListApplicableRules(ctx context.Context, trustScore float64) ([]*RewardRule, error)
	CreateRule(ctx context.Context, rule *RewardRule) error
	GetRuleByID(ctx context.Context, id string) (*RewardRule, error)
	UpdateRule(ctx context.Context, rule *RewardRule) error

	// Activity ledger. CountActivities counts entries for
	// (userID, actionType) with occurred_at >= since.
	CountActivities(ctx context.Context, userID, actionType string, since time.Time) (int64, error)

	// RecordActivityCapped inserts a ledger entry only while every
	// configured window cap still has room, in a single atomic
	// statement. Returns false when a cap is exhausted.
	RecordActivityCapped(ctx context.Context, rec *ActivityRecord, caps WindowCaps) (bool, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string

	// SQLite specific
	SQLitePath string

	// PostgreSQL specific
	PostgresHost     string
	PostgresPort     int
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	// Connection pool settings
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}
