package storage

import (
	"context"
	"fmt"
)

var postgresMigrations = []string{
	`CREATE TABLE IF NOT EXISTS users (
    id            TEXT PRIMARY KEY,
    username      TEXT NOT NULL UNIQUE,
    email         TEXT NOT NULL UNIQUE,
    full_name     TEXT NOT NULL DEFAULT '',
    avatar_url    TEXT NOT NULL DEFAULT '',
    password_hash TEXT NOT NULL,
    created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
)`,
	`CREATE TABLE IF NOT EXISTS videos (
    id               TEXT PRIMARY KEY,
    owner_id         TEXT NOT NULL REFERENCES users(id),
    title            TEXT NOT NULL,
    description      TEXT NOT NULL,
    video_url        TEXT NOT NULL,
    video_key        TEXT NOT NULL DEFAULT '',
    thumbnail_url    TEXT NOT NULL,
    thumbnail_key    TEXT NOT NULL DEFAULT '',
    duration_seconds DOUBLE PRECISION NOT NULL DEFAULT 0,
    views            BIGINT NOT NULL DEFAULT 0,
    published        BOOLEAN NOT NULL DEFAULT FALSE,
    created_at       TIMESTAMPTZ NOT NULL,
    updated_at       TIMESTAMPTZ NOT NULL
)`,
	`CREATE INDEX IF NOT EXISTS videos_owner_idx ON videos (owner_id)`,
	`CREATE INDEX IF NOT EXISTS videos_published_created_idx ON videos (published, created_at DESC)`,
}

func (r *PostgresRepository) migrate(ctx context.Context) error {
	for idx, stmt := range postgresMigrations {
		if _, err := r.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("apply migration %d: %w", idx, err)
		}
	}
	return nil
}
