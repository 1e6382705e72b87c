package store

import (
	"context"
	"fmt"
)

const schemaSQL = `
    CREATE TABLE IF NOT EXISTS applications (
        id UUID PRIMARY KEY,
        user_id TEXT NOT NULL,
        platform TEXT NOT NULL,
        org TEXT NOT NULL,
        title TEXT NOT NULL,
        location TEXT NOT NULL DEFAULT '',
        url TEXT NOT NULL DEFAULT '',
        salary_range TEXT NOT NULL DEFAULT '',
        score DOUBLE PRECISION NOT NULL DEFAULT 0,
        alignments JSONB NOT NULL DEFAULT '[]',
        status TEXT NOT NULL,
        reasoning TEXT NOT NULL DEFAULT '',
        created_at TIMESTAMPTZ NOT NULL,
        updated_at TIMESTAMPTZ NOT NULL,
        UNIQUE (user_id, platform, org, title)
    );

    CREATE TABLE IF NOT EXISTS run_summaries (
        run_id TEXT PRIMARY KEY,
        user_id TEXT NOT NULL,
        platform TEXT NOT NULL,
        started_at TIMESTAMPTZ NOT NULL,
        finished_at TIMESTAMPTZ NOT NULL,
        outcome TEXT NOT NULL,
        pages_visited INT NOT NULL DEFAULT 0,
        items_seen INT NOT NULL DEFAULT 0,
        items_applied INT NOT NULL DEFAULT 0,
        items_skipped INT NOT NULL DEFAULT 0,
        items_failed INT NOT NULL DEFAULT 0
    );

    CREATE INDEX IF NOT EXISTS idx_applications_user_updated
        ON applications (user_id, updated_at DESC);
`

// EnsureSchema creates the tables on startup when they are missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to ensure schema: %w", err)
	}
	return nil
}
