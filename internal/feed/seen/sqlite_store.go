// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package seen

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/ManuGH/clipfeed/internal/persistence/sqlite"
)

var sqliteMigrations = []sqlite.Migration{
	{Version: 1, SQL: `
	CREATE TABLE IF NOT EXISTS seen_items (
		item_id TEXT PRIMARY KEY,
		seen_at_ms INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_seen_at ON seen_items(seen_at_ms);
	`},
}

// SQLiteStore keeps history in a local SQLite file.
type SQLiteStore struct {
	DB  *sql.DB
	now func() time.Time
}

// NewSQLiteStore opens (or creates) the database at path.
func NewSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	db, err := sqlite.Open(ctx, path, sqlite.DefaultConfig())
	if err != nil {
		return nil, err
	}
	if err := sqlite.Migrate(ctx, db, sqliteMigrations); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("seen store: migration failed: %w", err)
	}
	return &SQLiteStore{DB: db, now: time.Now}, nil
}

func (s *SQLiteStore) Load(ctx context.Context) ([]string, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT item_id FROM seen_items ORDER BY seen_at_ms`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *SQLiteStore) Add(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO seen_items (item_id, seen_at_ms) VALUES (?, ?) ON CONFLICT(item_id) DO NOTHING`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	at := s.now().UnixMilli()
	for _, id := range ids {
		if _, err := stmt.ExecContext(ctx, id, at); err != nil {
			return fmt.Errorf("seen store: insert %s: %w", id, err)
		}
	}
	return tx.Commit()
}

// Verify runs a quick integrity check.
func (s *SQLiteStore) Verify(ctx context.Context) ([]string, error) {
	return sqlite.VerifyIntegrity(ctx, s.DB, sqlite.QuickCheck)
}

// Ping checks the database handle.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.DB.PingContext(ctx)
}

func (s *SQLiteStore) Close() error {
	return s.DB.Close()
}
