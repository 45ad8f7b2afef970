// Copyright 2025 The Weather Flick Authors
// SPDX-License-Identifier: Apache-2.0

// Package dedup merges near-duplicate geographic entities arriving from
// multiple upstream providers. A record either matches an existing stored
// entity (exact name, name containment, or spatial proximity) and backfills
// its missing fields, or is inserted as new. Every ingested record leaves a
// provenance mapping so repeated ingestion from the same provider is
// idempotent.
package dedup

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"
)

// Config tunes the matcher.
type Config struct {
	// SpatialRadiusMeters bounds the spatial match distance.
	SpatialRadiusMeters float64 `koanf:"spatial_radius_meters"`
	// FuzzyConfidence is the fixed confidence assigned to containment matches.
	FuzzyConfidence float64 `koanf:"fuzzy_confidence"`
}

func (c *Config) applyDefaults() {
	if c.SpatialRadiusMeters <= 0 {
		c.SpatialRadiusMeters = 5000
	}
	if c.FuzzyConfidence <= 0 {
		c.FuzzyConfidence = 0.8
	}
}

const spatialConfidence = 0.7

// Engine resolves entity records against the store. Safe for concurrent use
// as long as the Store is.
type Engine struct {
	store  Store
	cfg    Config
	logger *slog.Logger
}

// NewEngine builds a dedup engine over store.
func NewEngine(store Store, cfg Config, logger *slog.Logger) (*Engine, error) {
	if store == nil {
		return nil, fmt.Errorf("dedup: Store is required")
	}
	cfg.applyDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{store: store, cfg: cfg, logger: logger}, nil
}

// Resolve decides whether rec matches a stored entity. Matching order is
// exact, then containment, then spatial; the first hit wins and no further
// checks run.
func (e *Engine) Resolve(ctx context.Context, rec EntityRecord) (MatchDecision, error) {
	if rec.Name == "" {
		return MatchDecision{}, fmt.Errorf("dedup: record name is required")
	}
	candidates, err := e.store.CandidatesByLevel(ctx, rec.Level)
	if err != nil {
		return MatchDecision{}, err
	}

	// 1. Exact: same name, same level, and matching administrative code
	// (or the incoming record carries none).
	for _, c := range candidates {
		if c.Name == rec.Name && (rec.AdminCode == "" || c.AdminCode == rec.AdminCode) {
			return MatchDecision{
				Kind:       MatchExact,
				ExistingID: c.ID,
				Basis:      "name_level_code",
				Confidence: 1.0,
			}, nil
		}
	}

	// 2. Containment in either direction, fixed confidence.
	for _, c := range candidates {
		if strings.Contains(c.Name, rec.Name) || strings.Contains(rec.Name, c.Name) {
			return MatchDecision{
				Kind:       MatchFuzzy,
				ExistingID: c.ID,
				Basis:      "name_containment",
				Confidence: e.cfg.FuzzyConfidence,
			}, nil
		}
	}

	// 3. Spatial: nearest same-level entity within the radius.
	if rec.HasCoords() {
		bestID := int64(0)
		bestDist := e.cfg.SpatialRadiusMeters
		for _, c := range candidates {
			if !c.hasCoords() {
				continue
			}
			d := Haversine(*rec.Lat, *rec.Lon, *c.Lat, *c.Lon)
			if d <= bestDist {
				bestID = c.ID
				bestDist = d
			}
		}
		if bestID != 0 {
			return MatchDecision{
				Kind:           MatchSpatial,
				ExistingID:     bestID,
				Basis:          "proximity",
				Confidence:     spatialConfidence,
				DistanceMeters: bestDist,
			}, nil
		}
	}

	return MatchDecision{Kind: MatchNone}, nil
}

// Merge backfills missing fields of the existing entity from rec and records
// the provenance mapping. Patching is selective: the full name only when the
// incoming one is strictly longer, the English name only when currently
// empty, coordinates only when an axis is missing, the administrative code
// only when absent. The mapping upsert always runs, so a repeated merge for
// the same provider/providerCode pair is a no-op rather than a duplicate row.
func (e *Engine) Merge(ctx context.Context, existingID int64, rec EntityRecord, confidence float64) error {
	existing, err := e.store.GetRegion(ctx, existingID)
	if err != nil {
		return err
	}

	var patch RegionPatch
	if utf8.RuneCountInString(rec.Name) > utf8.RuneCountInString(existing.Name) {
		patch.Name = &rec.Name
	}
	if existing.EnglishName == "" && rec.EnglishName != "" {
		patch.EnglishName = &rec.EnglishName
	}
	if !existing.hasCoords() && rec.HasCoords() {
		patch.Lat = rec.Lat
		patch.Lon = rec.Lon
	}
	if existing.AdminCode == "" && rec.AdminCode != "" {
		patch.AdminCode = &rec.AdminCode
	}

	if !patch.empty() {
		if err := e.store.PatchRegion(ctx, existingID, patch); err != nil {
			return err
		}
		e.logger.Debug("Backfilled entity fields",
			"region_id", existingID, "provider", rec.Provider, "code", rec.ProviderCode)
	}

	return e.store.UpsertMapping(ctx, existingID, rec.Provider, rec.ProviderCode, confidence, rec.Payload)
}

// InsertNew inserts rec as a new entity, records its provenance mapping and,
// when coordinates are present, an unverified coordinate-accuracy row.
func (e *Engine) InsertNew(ctx context.Context, rec EntityRecord) (int64, error) {
	id, err := e.store.InsertRegion(ctx, rec)
	if err != nil {
		return 0, err
	}
	if err := e.store.UpsertMapping(ctx, id, rec.Provider, rec.ProviderCode, 1.0, rec.Payload); err != nil {
		return 0, err
	}
	if rec.HasCoords() {
		if err := e.store.InsertCoordCheck(ctx, id, *rec.Lat, *rec.Lon); err != nil {
			return 0, err
		}
	}
	e.logger.Info("Inserted new entity",
		"region_id", id, "name", rec.Name, "level", rec.Level, "provider", rec.Provider)
	return id, nil
}

// Ingest resolves rec and either merges into the matched entity or inserts
// it as new, returning the decision and the canonical entity id.
func (e *Engine) Ingest(ctx context.Context, rec EntityRecord) (MatchDecision, int64, error) {
	decision, err := e.Resolve(ctx, rec)
	if err != nil {
		return MatchDecision{}, 0, err
	}
	if decision.Kind == MatchNone {
		id, err := e.InsertNew(ctx, rec)
		return decision, id, err
	}
	if err := e.Merge(ctx, decision.ExistingID, rec, decision.Confidence); err != nil {
		return decision, 0, err
	}
	return decision, decision.ExistingID, nil
}

// FindDuplicates reports (name, level) groups with more than one active
// member. When dryRun is false, every member but the earliest-created one is
// soft-deleted; rows are never hard-deleted.
func (e *Engine) FindDuplicates(ctx context.Context, dryRun bool) ([]DuplicateGroup, error) {
	groups, err := e.store.DuplicateGroups(ctx)
	if err != nil {
		return nil, err
	}
	if dryRun {
		return groups, nil
	}

	for _, g := range groups {
		if len(g.MemberIDs) < 2 {
			continue
		}
		extras := g.MemberIDs[1:]
		if err := e.store.Deactivate(ctx, extras); err != nil {
			return groups, err
		}
		e.logger.Info("Deactivated duplicate entities",
			"name", g.Name, "level", g.Level, "kept", g.MemberIDs[0], "deactivated", len(extras))
	}
	return groups, nil
}
