package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"github.com/rumor-ml/commons.systems/tradesync/internal/domain"
)

const schema = `CREATE TABLE IF NOT EXISTS categories (
	name       TEXT PRIMARY KEY,
	category   TEXT NOT NULL,
	updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
)`

// SQLite stores categories in a single table. Writes go straight to the
// database, so Flush has nothing to do.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens (or creates) the database at path. ":memory:" is accepted.
func OpenSQLite(path string) (*SQLite, error) {
	if path == "" {
		return nil, fmt.Errorf("cache path is required")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite cache: %w", err)
	}
	// one connection keeps ":memory:" databases shared across calls
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create categories table: %w", err)
	}
	return &SQLite{db: db}, nil
}

// Close closes the database.
func (s *SQLite) Close() error {
	return s.db.Close()
}

func (s *SQLite) Get(ctx context.Context, name string) (domain.Category, bool, error) {
	var c string
	err := s.db.QueryRowContext(ctx, `SELECT category FROM categories WHERE name = ?`, name).Scan(&c)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to query category for %s: %w", name, err)
	}
	return domain.Category(c), true, nil
}

func (s *SQLite) Set(ctx context.Context, name string, category domain.Category) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO categories (name, category, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
		 ON CONFLICT(name) DO UPDATE SET category = excluded.category, updated_at = CURRENT_TIMESTAMP`,
		name, string(category))
	if err != nil {
		return fmt.Errorf("failed to store category for %s: %w", name, err)
	}
	return nil
}

func (s *SQLite) Snapshot(ctx context.Context) (map[string]domain.Category, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name, category FROM categories`)
	if err != nil {
		return nil, fmt.Errorf("failed to list categories: %w", err)
	}
	defer rows.Close()

	out := make(map[string]domain.Category)
	for rows.Next() {
		var name, c string
		if err := rows.Scan(&name, &c); err != nil {
			return nil, fmt.Errorf("failed to scan category row: %w", err)
		}
		out[name] = domain.Category(c)
	}
	return out, rows.Err()
}

func (s *SQLite) Flush(context.Context) error { return nil }
