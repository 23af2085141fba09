// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// CheckMode selects the integrity pragma.
type CheckMode string

const (
	QuickCheck CheckMode = "quick"
	FullCheck  CheckMode = "full"
)

// VerifyIntegrity runs quick_check or integrity_check on an open database.
// A nil slice means healthy; otherwise the diagnostic rows are returned.
func VerifyIntegrity(ctx context.Context, db *sql.DB, mode CheckMode) ([]string, error) {
	pragma := "PRAGMA quick_check"
	if mode == FullCheck {
		pragma = "PRAGMA integrity_check"
	}
	rows, err := db.QueryContext(ctx, pragma)
	if err != nil {
		return nil, fmt.Errorf("sqlite: %s: %w", pragma, err)
	}
	defer rows.Close()

	var results []string
	for rows.Next() {
		var res string
		if err := rows.Scan(&res); err != nil {
			return nil, fmt.Errorf("sqlite: scan integrity row: %w", err)
		}
		results = append(results, res)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(results) == 1 && strings.EqualFold(results[0], "ok") {
		return nil, nil
	}
	if len(results) == 0 {
		return []string{"no results returned from integrity check"}, nil
	}
	return results, nil
}
