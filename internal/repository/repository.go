// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/eloity-labs/reward-engine/internal/domain"
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

const ruleColumns = `id, action_type, name, base_eloits, currency,
	daily_limit, weekly_limit, monthly_limit,
	min_trust_score, min_value,
	decay_enabled, decay_start, decay_rate, min_multiplier,
	requires_moderation, quality_threshold, conditions,
	active, active_from, active_to,
	created_by, updated_by, created_at, updated_at`

// GetActiveRule resolves the single active rule for an action type.
func (r *SQLRepository) GetActiveRule(ctx context.Context, actionType string) (*domain.RewardRule, error) {
	if actionType == "" {
		return nil, fmt.Errorf("%w: actionType is required", ErrInvalidInput)
	}

	query := `
		SELECT ` + ruleColumns + `
		FROM reward_rules
		WHERE action_type = ? AND active = 1
		LIMIT 1
	`

	row := r.db.QueryRowContext(ctx, r.rebind(query), actionType)
	rule, err := scanRule(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return rule, nil
}

// GetRuleByID retrieves a rule by primary key, active or not.
func (r *SQLRepository) GetRuleByID(ctx context.Context, id string) (*domain.RewardRule, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: id is required", ErrInvalidInput)
	}

	query := `
		SELECT ` + ruleColumns + `
		FROM reward_rules
		WHERE id = ?
	`

	row := r.db.QueryRowContext(ctx, r.rebind(query), id)
	rule, err := scanRule(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return rule, nil
}

// ListActiveRules retrieves all active rules ordered by display name.
func (r *SQLRepository) ListActiveRules(ctx context.Context) ([]*domain.RewardRule, error) {
	query := `
		SELECT ` + ruleColumns + `
		FROM reward_rules
		WHERE active = 1
		ORDER BY name
	`

	return r.queryRules(ctx, query)
}

// ListApplicableRules retrieves active rules a user with the given
// trust score can earn under.
func (r *SQLRepository) ListApplicableRules(ctx context.Context, trustScore float64) ([]*domain.RewardRule, error) {
	query := `
		SELECT ` + ruleColumns + `
		FROM reward_rules
		WHERE active = 1 AND min_trust_score <= ?
		ORDER BY name
	`

	return r.queryRules(ctx, query, trustScore)
}

func (r *SQLRepository) queryRules(ctx context.Context, query string, args ...any) ([]*domain.RewardRule, error) {
	rows, err := r.db.QueryContext(ctx, r.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []*domain.RewardRule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}

	return rules, rows.Err()
}

// CreateRule inserts a rule. When the new rule is active, any previous
// active rule for the same action type is deactivated in the same
// transaction, preserving the single-active invariant.
func (r *SQLRepository) CreateRule(ctx context.Context, rule *domain.RewardRule) error {
	if rule == nil || rule.ID == "" || rule.ActionType == "" {
		return fmt.Errorf("%w: rule id and actionType are required", ErrInvalidInput)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if rule.Active {
		deactivate := `
			UPDATE reward_rules
			SET active = 0, updated_by = ?, updated_at = ?
			WHERE action_type = ? AND active = 1
		`
		if _, err := tx.ExecContext(ctx, r.rebind(deactivate),
			rule.CreatedBy, rule.CreatedAt, rule.ActionType,
		); err != nil {
			return err
		}
	}

	conditions, err := marshalConditions(rule.Conditions)
	if err != nil {
		return err
	}

	insert := `
		INSERT INTO reward_rules (` + ruleColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	if _, err := tx.ExecContext(ctx, r.rebind(insert),
		rule.ID, rule.ActionType, rule.Name, rule.BaseEloits, rule.Currency,
		nullInt(rule.DailyLimit), nullInt(rule.WeeklyLimit), nullInt(rule.MonthlyLimit),
		rule.MinTrustScore, rule.MinValue,
		boolInt(rule.DecayEnabled), rule.DecayStart, rule.DecayRate, rule.MinMultiplier,
		boolInt(rule.RequiresModeration), rule.QualityThreshold, conditions,
		boolInt(rule.Active), nullTime(rule.ActiveFrom), nullTime(rule.ActiveTo),
		rule.CreatedBy, rule.UpdatedBy, rule.CreatedAt, rule.UpdatedAt,
	); err != nil {
		return err
	}

	return tx.Commit()
}

// UpdateRule replaces the stored row for rule.ID.
func (r *SQLRepository) UpdateRule(ctx context.Context, rule *domain.RewardRule) error {
	if rule == nil || rule.ID == "" {
		return fmt.Errorf("%w: rule id is required", ErrInvalidInput)
	}

	conditions, err := marshalConditions(rule.Conditions)
	if err != nil {
		return err
	}

	query := `
		UPDATE reward_rules SET
			name = ?, base_eloits = ?, currency = ?,
			daily_limit = ?, weekly_limit = ?, monthly_limit = ?,
			min_trust_score = ?, min_value = ?,
			decay_enabled = ?, decay_start = ?, decay_rate = ?, min_multiplier = ?,
			requires_moderation = ?, quality_threshold = ?, conditions = ?,
			active = ?, active_from = ?, active_to = ?,
			updated_by = ?, updated_at = ?
		WHERE id = ?
	`

	result, err := r.db.ExecContext(ctx, r.rebind(query),
		rule.Name, rule.BaseEloits, rule.Currency,
		nullInt(rule.DailyLimit), nullInt(rule.WeeklyLimit), nullInt(rule.MonthlyLimit),
		rule.MinTrustScore, rule.MinValue,
		boolInt(rule.DecayEnabled), rule.DecayStart, rule.DecayRate, rule.MinMultiplier,
		boolInt(rule.RequiresModeration), rule.QualityThreshold, conditions,
		boolInt(rule.Active), nullTime(rule.ActiveFrom), nullTime(rule.ActiveTo),
		rule.UpdatedBy, rule.UpdatedAt,
		rule.ID,
	)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}

	return nil
}

// CountActivities counts ledger entries for (userID, actionType) with
// occurred_at >= since.
func (r *SQLRepository) CountActivities(ctx context.Context, userID, actionType string, since time.Time) (int64, error) {
	if userID == "" || actionType == "" {
		return 0, fmt.Errorf("%w: userID and actionType are required", ErrInvalidInput)
	}

	query := `
		SELECT COUNT(*) FROM activity_log
		WHERE user_id = ? AND action_type = ? AND occurred_at >= ?
	`

	var count int64
	err := r.db.QueryRowContext(ctx, r.rebind(query), userID, actionType, since).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count activities: %w", err)
	}

	return count, nil
}

// RecordActivityCapped inserts a ledger entry only while every
// configured cap still has room. The count checks and the insert run
// as one statement, so two concurrent reservations cannot both slip
// under the same cap.
func (r *SQLRepository) RecordActivityCapped(ctx context.Context, rec *domain.ActivityRecord, caps domain.WindowCaps) (bool, error) {
	if rec == nil || rec.ID == "" || rec.UserID == "" || rec.ActionType == "" {
		return false, fmt.Errorf("%w: activity id, userID and actionType are required", ErrInvalidInput)
	}

	var sb strings.Builder
	sb.WriteString(`
		INSERT INTO activity_log (id, user_id, action_type, occurred_at)
		SELECT ?, ?, ?, ?
	`)
	args := []any{rec.ID, rec.UserID, rec.ActionType, rec.OccurredAt}

	clauses := []string{}
	addCap := func(cap *int, start time.Time) {
		if cap == nil {
			return
		}
		clauses = append(clauses, `
			(SELECT COUNT(*) FROM activity_log
			 WHERE user_id = ? AND action_type = ? AND occurred_at >= ?) < ?`)
		args = append(args, rec.UserID, rec.ActionType, start, *cap)
	}
	addCap(caps.DailyCap, caps.DailyStart)
	addCap(caps.WeeklyCap, caps.WeeklyStart)
	addCap(caps.MonthlyCap, caps.MonthlyStart)

	if len(clauses) > 0 {
		sb.WriteString(" WHERE ")
		sb.WriteString(strings.Join(clauses, " AND "))
	}

	result, err := r.db.ExecContext(ctx, r.rebind(sb.String()), args...)
	if err != nil {
		return false, err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows > 0, nil
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

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

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRule(row rowScanner) (*domain.RewardRule, error) {
	var rule domain.RewardRule
	var daily, weekly, monthly sql.NullInt64
	var decayEnabled, requiresModeration, active int
	var conditions sql.NullString
	var activeFrom, activeTo sql.NullTime

	err := row.Scan(
		&rule.ID, &rule.ActionType, &rule.Name, &rule.BaseEloits, &rule.Currency,
		&daily, &weekly, &monthly,
		&rule.MinTrustScore, &rule.MinValue,
		&decayEnabled, &rule.DecayStart, &rule.DecayRate, &rule.MinMultiplier,
		&requiresModeration, &rule.QualityThreshold, &conditions,
		&active, &activeFrom, &activeTo,
		&rule.CreatedBy, &rule.UpdatedBy, &rule.CreatedAt, &rule.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	rule.DailyLimit = intPtr(daily)
	rule.WeeklyLimit = intPtr(weekly)
	rule.MonthlyLimit = intPtr(monthly)
	rule.DecayEnabled = decayEnabled == 1
	rule.RequiresModeration = requiresModeration == 1
	rule.Active = active == 1
	if activeFrom.Valid {
		t := activeFrom.Time
		rule.ActiveFrom = &t
	}
	if activeTo.Valid {
		t := activeTo.Time
		rule.ActiveTo = &t
	}
	if conditions.Valid && conditions.String != "" {
		if err := json.Unmarshal([]byte(conditions.String), &rule.Conditions); err != nil {
			return nil, fmt.Errorf("failed to parse rule conditions for %s: %w", rule.ID, err)
		}
	}

	return &rule, nil
}

func marshalConditions(conds []domain.Condition) (sql.NullString, error) {
	if len(conds) == 0 {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(conds)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

func nullInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}

func intPtr(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	i := int(v.Int64)
	return &i
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
