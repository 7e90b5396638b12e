// Package postgres implements the PostgreSQL persistence layer.
package postgres

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 001: IDENTITY OVERRIDES
// ══════════════════════════════════════════════════════════════════════════════

const migration001Up = `
-- Migration: Create identity_overrides table
-- Version: 001

-- Operator-approved mappings from observed identifiers (as they appear
-- in tool exports) to canonical roster identifiers. Append-only: an
-- observed identifier is mapped at most once, forever.
CREATE TABLE IF NOT EXISTS identity_overrides (
    observed_id TEXT PRIMARY KEY,
    canonical_id TEXT NOT NULL,
    recorded_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    CONSTRAINT no_self_loop CHECK (observed_id <> canonical_id),
    CONSTRAINT observed_not_empty CHECK (length(observed_id) > 0),
    CONSTRAINT canonical_not_empty CHECK (length(canonical_id) > 0)
);

CREATE INDEX IF NOT EXISTS idx_identity_overrides_canonical ON identity_overrides(canonical_id);
`

const migration001Down = `
DROP TABLE IF EXISTS identity_overrides;
`

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 002: GRADEBOOK SNAPSHOTS
// ══════════════════════════════════════════════════════════════════════════════

const migration002Up = `
-- Migration: Create gradebook_snapshots table
-- Version: 002

-- Immutable archive of assembled gradebook tables, written before any
-- publication attempt. rows_json is the full table; rendered_csv is the
-- operator-facing rendering of the same data.
CREATE TABLE IF NOT EXISTS gradebook_snapshots (
    id UUID PRIMARY KEY,
    storage_key TEXT NOT NULL UNIQUE,
    dir_name VARCHAR(100) NOT NULL,
    assignment_name VARCHAR(255) NOT NULL,
    assignment_group VARCHAR(100) NOT NULL,
    points DECIMAL(10,2) NOT NULL,
    taken_at TIMESTAMP WITH TIME ZONE NOT NULL,
    rows_json JSONB NOT NULL,
    rendered_csv TEXT NOT NULL,
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    CONSTRAINT valid_points CHECK (points > 0)
);

CREATE INDEX IF NOT EXISTS idx_snapshots_dir_assignment ON gradebook_snapshots(dir_name, assignment_name);
CREATE INDEX IF NOT EXISTS idx_snapshots_taken_at ON gradebook_snapshots(taken_at DESC);
`

const migration002Down = `
DROP TABLE IF EXISTS gradebook_snapshots;
`

// GetMigrations returns all embedded migrations.
func GetMigrations() []Migration {
	return []Migration{
		{
			Version: 1,
			Name:    "create_identity_overrides",
			UpSQL:   migration001Up,
			DownSQL: migration001Down,
		},
		{
			Version: 2,
			Name:    "create_gradebook_snapshots",
			UpSQL:   migration002Up,
			DownSQL: migration002Down,
		},
	}
}
