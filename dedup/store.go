// Copyright 2025 The Weather Flick Authors
// SPDX-License-Identifier: Apache-2.0

package dedup

import (
	"context"
	"errors"
	"fmt"

	json "github.com/goccy/go-json"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store is the persistence surface the dedup engine works against. The
// production implementation is PGStore; tests use an in-memory fake.
type Store interface {
	// CandidatesByLevel returns all active entities at one hierarchical level.
	CandidatesByLevel(ctx context.Context, level int) ([]StoredRegion, error)

	// GetRegion fetches one entity row by id.
	GetRegion(ctx context.Context, id int64) (*StoredRegion, error)

	// PatchRegion applies the non-nil fields of patch to one entity row.
	PatchRegion(ctx context.Context, id int64, patch RegionPatch) error

	// UpsertMapping records a provenance mapping idempotently: a second call
	// for the same (provider, providerCode) updates in place, never
	// duplicates.
	UpsertMapping(ctx context.Context, regionID int64, provider, providerCode string, confidence float64, payload map[string]any) error

	// InsertRegion inserts a new entity row and returns its id.
	InsertRegion(ctx context.Context, rec EntityRecord) (int64, error)

	// InsertCoordCheck records an unverified coordinate-accuracy row.
	InsertCoordCheck(ctx context.Context, regionID int64, lat, lon float64) error

	// DuplicateGroups returns (name, level) groups with more than one active
	// member, each ordered earliest-created first.
	DuplicateGroups(ctx context.Context) ([]DuplicateGroup, error)

	// Deactivate soft-deletes the given entity rows.
	Deactivate(ctx context.Context, ids []int64) error
}

// PGStore implements Store on the non-blocking pgx pool.
type PGStore struct {
	pool *pgxpool.Pool
}

// NewPGStore wraps an existing pgx pool. The caller owns pool lifecycle.
func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

func (s *PGStore) CandidatesByLevel(ctx context.Context, level int) ([]StoredRegion, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, name, english_name, level, admin_code, latitude, longitude, is_active, created_at
		FROM regions
		WHERE level = $1 AND is_active`, level)
	if err != nil {
		return nil, fmt.Errorf("dedup: querying candidates: %w", err)
	}
	defer rows.Close()

	var out []StoredRegion
	for rows.Next() {
		var r StoredRegion
		if err := rows.Scan(&r.ID, &r.Name, &r.EnglishName, &r.Level, &r.AdminCode,
			&r.Lat, &r.Lon, &r.Active, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("dedup: scanning candidate: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *PGStore) GetRegion(ctx context.Context, id int64) (*StoredRegion, error) {
	var r StoredRegion
	err := s.pool.QueryRow(ctx, `
		SELECT id, name, english_name, level, admin_code, latitude, longitude, is_active, created_at
		FROM regions WHERE id = $1`, id).
		Scan(&r.ID, &r.Name, &r.EnglishName, &r.Level, &r.AdminCode,
			&r.Lat, &r.Lon, &r.Active, &r.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("dedup: region %d not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("dedup: fetching region %d: %w", id, err)
	}
	return &r, nil
}

func (s *PGStore) PatchRegion(ctx context.Context, id int64, patch RegionPatch) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE regions SET
			name         = COALESCE($2, name),
			english_name = COALESCE($3, english_name),
			latitude     = COALESCE($4, latitude),
			longitude    = COALESCE($5, longitude),
			admin_code   = COALESCE($6, admin_code),
			updated_at   = now()
		WHERE id = $1`,
		id, patch.Name, patch.EnglishName, patch.Lat, patch.Lon, patch.AdminCode)
	if err != nil {
		return fmt.Errorf("dedup: patching region %d: %w", id, err)
	}
	return nil
}

func (s *PGStore) UpsertMapping(ctx context.Context, regionID int64, provider, providerCode string, confidence float64, payload map[string]any) error {
	var payloadJSON []byte
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("dedup: encoding mapping payload: %w", err)
		}
		payloadJSON = b
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO region_mappings (region_id, provider, provider_code, confidence, payload)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (provider, provider_code) DO UPDATE
		SET region_id = EXCLUDED.region_id,
		    confidence = EXCLUDED.confidence,
		    payload = COALESCE(EXCLUDED.payload, region_mappings.payload)`,
		regionID, provider, providerCode, confidence, payloadJSON)
	if err != nil {
		return fmt.Errorf("dedup: upserting mapping %s/%s: %w", provider, providerCode, err)
	}
	return nil
}

func (s *PGStore) InsertRegion(ctx context.Context, rec EntityRecord) (int64, error) {
	var id int64
	err := s.pool.QueryRow(ctx, `
		INSERT INTO regions (name, english_name, level, admin_code, latitude, longitude)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`,
		rec.Name, rec.EnglishName, rec.Level, rec.AdminCode, rec.Lat, rec.Lon).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("dedup: inserting region %q: %w", rec.Name, err)
	}
	return id, nil
}

func (s *PGStore) InsertCoordCheck(ctx context.Context, regionID int64, lat, lon float64) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO region_coord_checks (region_id, latitude, longitude, verified)
		VALUES ($1, $2, $3, FALSE)`,
		regionID, lat, lon)
	if err != nil {
		return fmt.Errorf("dedup: inserting coordinate check for region %d: %w", regionID, err)
	}
	return nil
}

func (s *PGStore) DuplicateGroups(ctx context.Context) ([]DuplicateGroup, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT name, level, array_agg(id ORDER BY created_at, id)
		FROM regions
		WHERE is_active
		GROUP BY name, level
		HAVING count(*) > 1
		ORDER BY name, level`)
	if err != nil {
		return nil, fmt.Errorf("dedup: querying duplicate groups: %w", err)
	}
	defer rows.Close()

	var groups []DuplicateGroup
	for rows.Next() {
		var g DuplicateGroup
		if err := rows.Scan(&g.Name, &g.Level, &g.MemberIDs); err != nil {
			return nil, fmt.Errorf("dedup: scanning duplicate group: %w", err)
		}
		groups = append(groups, g)
	}
	return groups, rows.Err()
}

func (s *PGStore) Deactivate(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := s.pool.Exec(ctx, `
		UPDATE regions SET is_active = FALSE, updated_at = now()
		WHERE id = ANY($1)`, ids)
	if err != nil {
		return fmt.Errorf("dedup: deactivating %d regions: %w", len(ids), err)
	}
	return nil
}
