// Copyright 2025 The Weather Flick Authors
// SPDX-License-Identifier: Apache-2.0

package batch

import (
	"fmt"
	"strings"

	"github.com/lib/pq"
)

// Target declares one persistence destination: a table with a fixed, ordered
// column list and the conflict-key columns used for UPSERT detection. Column
// lists are declared at compile time per target; only parameter values vary
// at runtime, which keeps statements injection-safe and reusable.
type Target struct {
	Schema       string
	Table        string
	Columns      []string
	ConflictKeys []string
}

// Record is one row destined for a Target, keyed by logical column name.
// Columns absent from the map are persisted as NULL. Record sets passed to
// one Persist call must be homogeneous; the engine never infers shape from
// live data.
type Record map[string]any

func (t Target) validate() error {
	if t.Table == "" {
		return fmt.Errorf("batch: target table is required")
	}
	if len(t.Columns) == 0 {
		return fmt.Errorf("batch: target %s declares no columns", t.Table)
	}
	cols := make(map[string]bool, len(t.Columns))
	for _, c := range t.Columns {
		cols[c] = true
	}
	for _, k := range t.ConflictKeys {
		if !cols[k] {
			return fmt.Errorf("batch: conflict key %q is not a declared column of %s", k, t.Table)
		}
	}
	return nil
}

func (t Target) qualifiedName() string {
	if t.Schema == "" {
		return pq.QuoteIdentifier(t.Table)
	}
	return pq.QuoteIdentifier(t.Schema) + "." + pq.QuoteIdentifier(t.Table)
}

// buildUpsert renders the multi-row parameterized statement for nRows rows:
//
//	INSERT INTO tbl (c1, c2, ...) VALUES ($1, $2, ...), (...)
//	ON CONFLICT (k1, ...) DO UPDATE SET c2 = EXCLUDED.c2, ...
//
// Conflict-key columns are excluded from the update list. With no conflict
// keys the statement is a plain INSERT; with no updatable columns it falls
// back to DO NOTHING.
func buildUpsert(t Target, nRows int) string {
	var sb strings.Builder
	sb.WriteString("INSERT INTO ")
	sb.WriteString(t.qualifiedName())
	sb.WriteString(" (")
	for i, c := range t.Columns {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(pq.QuoteIdentifier(c))
	}
	sb.WriteString(") VALUES ")

	nCols := len(t.Columns)
	arg := 1
	for row := 0; row < nRows; row++ {
		if row > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString("(")
		for col := 0; col < nCols; col++ {
			if col > 0 {
				sb.WriteString(", ")
			}
			fmt.Fprintf(&sb, "$%d", arg)
			arg++
		}
		sb.WriteString(")")
	}

	if len(t.ConflictKeys) == 0 {
		return sb.String()
	}

	sb.WriteString(" ON CONFLICT (")
	for i, k := range t.ConflictKeys {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(pq.QuoteIdentifier(k))
	}
	sb.WriteString(")")

	keys := make(map[string]bool, len(t.ConflictKeys))
	for _, k := range t.ConflictKeys {
		keys[k] = true
	}
	var updatable []string
	for _, c := range t.Columns {
		if !keys[c] {
			updatable = append(updatable, c)
		}
	}
	if len(updatable) == 0 {
		sb.WriteString(" DO NOTHING")
		return sb.String()
	}

	sb.WriteString(" DO UPDATE SET ")
	for i, c := range updatable {
		if i > 0 {
			sb.WriteString(", ")
		}
		q := pq.QuoteIdentifier(c)
		sb.WriteString(q)
		sb.WriteString(" = EXCLUDED.")
		sb.WriteString(q)
	}
	return sb.String()
}

// flattenArgs orders record values to match the placeholders emitted by
// buildUpsert for the same target and row count.
func flattenArgs(t Target, records []Record) []any {
	args := make([]any, 0, len(records)*len(t.Columns))
	for _, rec := range records {
		for _, c := range t.Columns {
			args = append(args, rec[c])
		}
	}
	return args
}
