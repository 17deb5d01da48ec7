package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/evanschultz/trackflow/internal/adapters/storage/sqlstore"
	_ "modernc.org/sqlite"
)

// driverName defines a package constant value.
const driverName = "sqlite"

// Open opens the database file at path, creating its directory when needed.
func Open(path string) (*sqlstore.Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create sqlite dir: %w", err)
	}
	db, err := sql.Open(driverName, path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	return wrap(db)
}

// OpenInMemory opens a private in-memory database.
func OpenInMemory() (*sqlstore.Store, error) {
	db, err := sql.Open(driverName, ":memory:")
	if err != nil {
		return nil, fmt.Errorf("open sqlite memory: %w", err)
	}
	return wrap(db)
}

func wrap(db *sql.DB) (*sqlstore.Store, error) {
	// One connection serializes writers and keeps :memory: databases alive.
	db.SetMaxOpenConns(1)
	store, err := sqlstore.New(context.Background(), db, sqlstore.DialectSQLite)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}
