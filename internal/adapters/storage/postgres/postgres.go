package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/evanschultz/trackflow/internal/adapters/storage/sqlstore"
)

// Config holds connection settings for a PostgreSQL backend.
type Config struct {
	URL             string
	PingTimeout     time.Duration
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// DefaultConfig returns pool defaults for url.
func DefaultConfig(url string) Config {
	return Config{
		URL:             url,
		PingTimeout:     2 * time.Second,
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: 30 * time.Minute,
		ConnMaxIdleTime: 5 * time.Minute,
	}
}

// Validate validates the requested operation.
func (c Config) Validate() error {
	if c.URL == "" {
		return errors.New("postgres url is required")
	}
	if c.PingTimeout <= 0 {
		return errors.New("postgres ping timeout must be positive")
	}
	if c.MaxOpenConns < 1 {
		return errors.New("postgres max open conns must be >= 1")
	}
	if c.MaxIdleConns < 0 {
		return errors.New("postgres max idle conns must be >= 0")
	}
	if c.MaxIdleConns > c.MaxOpenConns {
		return errors.New("postgres max idle conns must be <= max open conns")
	}
	if c.ConnMaxLifetime < 0 || c.ConnMaxIdleTime < 0 {
		return errors.New("postgres connection lifetimes must be >= 0")
	}
	return nil
}

// Open connects, pings and migrates a PostgreSQL database.
func Open(ctx context.Context, cfg Config) (*sqlstore.Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	db, err := sql.Open("pgx", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("open: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	pingCtx, cancel := context.WithTimeout(ctx, cfg.PingTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}

	store, err := sqlstore.New(ctx, db, sqlstore.DialectPostgres)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}
