// Copyright 2025 The Weather Flick Authors
// SPDX-License-Identifier: Apache-2.0

package dedup

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// schemaStatements create the entity-identity tables. Idempotent; safe to
// run on every startup.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS regions (
		id           BIGSERIAL PRIMARY KEY,
		name         TEXT NOT NULL,
		english_name TEXT NOT NULL DEFAULT '',
		level        INT NOT NULL,
		admin_code   TEXT NOT NULL DEFAULT '',
		latitude     DOUBLE PRECISION,
		longitude    DOUBLE PRECISION,
		is_active    BOOLEAN NOT NULL DEFAULT TRUE,
		created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at   TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_regions_level_active
		ON regions (level) WHERE is_active`,
	`CREATE INDEX IF NOT EXISTS idx_regions_name_level
		ON regions (name, level)`,
	`CREATE TABLE IF NOT EXISTS region_mappings (
		id            BIGSERIAL PRIMARY KEY,
		region_id     BIGINT NOT NULL REFERENCES regions(id),
		provider      TEXT NOT NULL,
		provider_code TEXT NOT NULL,
		confidence    DOUBLE PRECISION NOT NULL DEFAULT 1.0,
		payload       JSONB,
		created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
		UNIQUE (provider, provider_code)
	)`,
	`CREATE TABLE IF NOT EXISTS region_coord_checks (
		id         BIGSERIAL PRIMARY KEY,
		region_id  BIGINT NOT NULL REFERENCES regions(id),
		latitude   DOUBLE PRECISION NOT NULL,
		longitude  DOUBLE PRECISION NOT NULL,
		verified   BOOLEAN NOT NULL DEFAULT FALSE,
		checked_at TIMESTAMPTZ
	)`,
}

// EnsureSchema creates the dedup tables if they do not exist.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	for _, stmt := range schemaStatements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("dedup: initializing schema: %w", err)
		}
	}
	return nil
}
