package postgres

// ══════════════════════════════════════════════════════════════════════════════
// EMBEDDED MIGRATIONS
// ══════════════════════════════════════════════════════════════════════════════

// GetMigrations returns all embedded migrations.
func GetMigrations() []Migration {
	return []Migration{
		{
			Version: 1,
			Name:    "create_subscribers",
			UpSQL:   migration001Up,
			DownSQL: migration001Down,
		},
		{
			Version: 2,
			Name:    "index_active_subscribers",
			UpSQL:   migration002Up,
			DownSQL: migration002Down,
		},
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// MIGRATION 001: CREATE SUBSCRIBERS
// ─────────────────────────────────────────────────────────────────────────────

const migration001Up = `
CREATE TABLE IF NOT EXISTS subscribers (
    id TEXT PRIMARY KEY,
    registration_state VARCHAR(32) NOT NULL DEFAULT 'unregistered',
    attribute VARCHAR(16) NOT NULL DEFAULT '',
    next_unit_index INTEGER NOT NULL DEFAULT 1,
    last_delivered_on DATE,
    last_delivery_attempt_at TIMESTAMP WITH TIME ZONE,
    version BIGINT NOT NULL DEFAULT 1,
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    CONSTRAINT valid_next_unit CHECK (next_unit_index >= 1),
    CONSTRAINT valid_version CHECK (version >= 1)
);
`

const migration001Down = `
DROP TABLE IF EXISTS subscribers;
`

// ─────────────────────────────────────────────────────────────────────────────
// MIGRATION 002: INDEX ACTIVE SUBSCRIBERS
// ─────────────────────────────────────────────────────────────────────────────

const migration002Up = `
CREATE INDEX IF NOT EXISTS idx_subscribers_active
    ON subscribers(id) WHERE registration_state = 'active';
`

const migration002Down = `
DROP INDEX IF EXISTS idx_subscribers_active;
`
