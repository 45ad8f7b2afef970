// Copyright 2025 The Weather Flick Authors
// SPDX-License-Identifier: Apache-2.0

package dedup

import "time"

// EntityRecord is a candidate geographic entity arriving from one upstream
// provider, normalized before matching. Lat/Lon are optional; Level is
// hierarchical, 1 = coarsest.
type EntityRecord struct {
	Name         string
	EnglishName  string
	Level        int
	Lat          *float64
	Lon          *float64
	Provider     string
	ProviderCode string
	AdminCode    string
	Payload      map[string]any
}

// HasCoords reports whether both axes are present.
func (r EntityRecord) HasCoords() bool { return r.Lat != nil && r.Lon != nil }

// MatchKind discriminates a MatchDecision.
type MatchKind int

const (
	MatchNone MatchKind = iota
	MatchExact
	MatchFuzzy
	MatchSpatial
)

func (k MatchKind) String() string {
	switch k {
	case MatchExact:
		return "exact"
	case MatchFuzzy:
		return "fuzzy"
	case MatchSpatial:
		return "spatial"
	default:
		return "none"
	}
}

// MatchDecision is the outcome of resolving one EntityRecord against the
// stored entities. Confidence and DistanceMeters are always populated for
// non-MatchNone decisions and drive whether the existing record is patched.
type MatchDecision struct {
	Kind           MatchKind
	ExistingID     int64
	Basis          string
	Confidence     float64
	DistanceMeters float64
}

// StoredRegion is one persisted entity row as seen by the matcher.
type StoredRegion struct {
	ID          int64
	Name        string
	EnglishName string
	Level       int
	AdminCode   string
	Lat         *float64
	Lon         *float64
	Active      bool
	CreatedAt   time.Time
}

func (r StoredRegion) hasCoords() bool { return r.Lat != nil && r.Lon != nil }

// RegionPatch carries the selectively backfilled fields of a merge. Nil
// fields are left untouched.
type RegionPatch struct {
	Name        *string
	EnglishName *string
	Lat         *float64
	Lon         *float64
	AdminCode   *string
}

func (p RegionPatch) empty() bool {
	return p.Name == nil && p.EnglishName == nil && p.Lat == nil && p.Lon == nil && p.AdminCode == nil
}

// DuplicateGroup is one (name, level) group with more than one stored
// member, ordered earliest-created first.
type DuplicateGroup struct {
	Name      string
	Level     int
	MemberIDs []int64
}
