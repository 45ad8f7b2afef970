// Copyright 2025 The Weather Flick Authors
// SPDX-License-Identifier: Apache-2.0

package batch

import (
	"testing"
)

func TestBuildUpsert_TwoRows(t *testing.T) {
	target := Target{
		Table:        "tourist_attractions",
		Columns:      []string{"content_id", "title", "area_code"},
		ConflictKeys: []string{"content_id"},
	}

	got := buildUpsert(target, 2)
	want := `INSERT INTO "tourist_attractions" ("content_id", "title", "area_code") ` +
		`VALUES ($1, $2, $3), ($4, $5, $6) ` +
		`ON CONFLICT ("content_id") DO UPDATE SET "title" = EXCLUDED."title", "area_code" = EXCLUDED."area_code"`
	if got != want {
		t.Errorf("unexpected statement:\n got: %s\nwant: %s", got, want)
	}
}

func TestBuildUpsert_SchemaQualified(t *testing.T) {
	target := Target{
		Schema:       "tour",
		Table:        "regions",
		Columns:      []string{"code", "name"},
		ConflictKeys: []string{"code"},
	}
	got := buildUpsert(target, 1)
	want := `INSERT INTO "tour"."regions" ("code", "name") VALUES ($1, $2) ` +
		`ON CONFLICT ("code") DO UPDATE SET "name" = EXCLUDED."name"`
	if got != want {
		t.Errorf("unexpected statement:\n got: %s\nwant: %s", got, want)
	}
}

func TestBuildUpsert_NoConflictKeysIsPlainInsert(t *testing.T) {
	target := Target{Table: "events", Columns: []string{"a", "b"}}
	got := buildUpsert(target, 1)
	want := `INSERT INTO "events" ("a", "b") VALUES ($1, $2)`
	if got != want {
		t.Errorf("unexpected statement:\n got: %s\nwant: %s", got, want)
	}
}

func TestBuildUpsert_AllColumnsAreKeysFallsBackToDoNothing(t *testing.T) {
	target := Target{
		Table:        "mappings",
		Columns:      []string{"provider", "code"},
		ConflictKeys: []string{"provider", "code"},
	}
	got := buildUpsert(target, 1)
	want := `INSERT INTO "mappings" ("provider", "code") VALUES ($1, $2) ` +
		`ON CONFLICT ("provider", "code") DO NOTHING`
	if got != want {
		t.Errorf("unexpected statement:\n got: %s\nwant: %s", got, want)
	}
}

func TestTargetValidate(t *testing.T) {
	if err := (Target{Table: "t"}).validate(); err == nil {
		t.Error("expected error for target with no columns")
	}
	if err := (Target{Columns: []string{"a"}}).validate(); err == nil {
		t.Error("expected error for target with no table")
	}
	bad := Target{Table: "t", Columns: []string{"a"}, ConflictKeys: []string{"b"}}
	if err := bad.validate(); err == nil {
		t.Error("expected error for undeclared conflict key")
	}
	good := Target{Table: "t", Columns: []string{"a", "b"}, ConflictKeys: []string{"a"}}
	if err := good.validate(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestFlattenArgs_OrderAndMissingColumns(t *testing.T) {
	target := Target{Table: "t", Columns: []string{"a", "b", "c"}}
	records := []Record{
		{"a": 1, "b": "x", "c": true},
		{"a": 2, "c": false}, // "b" missing -> NULL
	}
	args := flattenArgs(target, records)
	if len(args) != 6 {
		t.Fatalf("expected 6 args, got %d", len(args))
	}
	if args[0] != 1 || args[1] != "x" || args[2] != true {
		t.Errorf("row 1 misordered: %v", args[:3])
	}
	if args[3] != 2 || args[4] != nil || args[5] != false {
		t.Errorf("row 2 misordered: %v", args[3:])
	}
}
