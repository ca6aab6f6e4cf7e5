package repository

// Schema definitions for the reward engine.
// Compatible with both SQLite and PostgreSQL.

// The partial unique index enforces the single-active-rule-per-action
// invariant at the storage layer.
const schemaRewardRules = `
CREATE TABLE IF NOT EXISTS reward_rules (
    id TEXT PRIMARY KEY,
    action_type TEXT NOT NULL,
    name TEXT NOT NULL,
    base_eloits REAL NOT NULL,
    currency TEXT NOT NULL,
    daily_limit INTEGER,
    weekly_limit INTEGER,
    monthly_limit INTEGER,
    min_trust_score REAL NOT NULL DEFAULT 0,
    min_value REAL NOT NULL DEFAULT 0,
    decay_enabled INTEGER NOT NULL DEFAULT 1,
    decay_start INTEGER NOT NULL DEFAULT 0,
    decay_rate REAL NOT NULL DEFAULT 0,
    min_multiplier REAL NOT NULL DEFAULT 0,
    requires_moderation INTEGER NOT NULL DEFAULT 0,
    quality_threshold REAL NOT NULL DEFAULT 0,
    conditions TEXT,
    active INTEGER NOT NULL DEFAULT 1,
    active_from TIMESTAMP,
    active_to TIMESTAMP,
    created_by TEXT NOT NULL DEFAULT '',
    updated_by TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_reward_rules_action ON reward_rules(action_type);
CREATE INDEX IF NOT EXISTS idx_reward_rules_active ON reward_rules(active);
CREATE UNIQUE INDEX IF NOT EXISTS idx_reward_rules_one_active
    ON reward_rules(action_type) WHERE active = 1;
`

const schemaActivityLog = `
CREATE TABLE IF NOT EXISTS activity_log (
    id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL,
    action_type TEXT NOT NULL,
    occurred_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_activity_log_user_action
    ON activity_log(user_id, action_type, occurred_at);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaRewardRules,
		schemaActivityLog,
	}
}
