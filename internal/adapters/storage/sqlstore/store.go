package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/evanschultz/trackflow/internal/app"
	"github.com/evanschultz/trackflow/internal/domain"
)

// Dialect selects the placeholder style and migration statements of a driver.
type Dialect string

// Dialect values.
const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

// Store persists every board over one database/sql handle.
type Store struct {
	db      *sql.DB
	dialect Dialect
}

// New wraps an open handle and applies the schema.
func New(ctx context.Context, db *sql.DB, dialect Dialect) (*Store, error) {
	if db == nil {
		return nil, errors.New("sql handle is required")
	}
	switch dialect {
	case DialectSQLite, DialectPostgres:
	default:
		return nil, fmt.Errorf("unsupported sql dialect %q", dialect)
	}
	s := &Store{db: db, dialect: dialect}
	if err := s.migrate(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// Close closes the underlying handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Dialect returns the configured dialect.
func (s *Store) Dialect() Dialect {
	return s.dialect
}

// Ping reports whether the database answers.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Stores wires the per-kind record stores into the service collaborators.
func (s *Store) Stores(files app.FileStore) app.Stores {
	return app.Stores{
		Projects: s,
		Cards:    NewRecords(s, CardCodec),
		Clients:  NewRecords(s, ClientCodec),
		Jobs:     NewRecords(s, JobCodec),
		Files:    files,
	}
}

// migrate creates tables and indexes when missing.
func (s *Store) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS projects (
			id TEXT PRIMARY KEY,
			slug TEXT NOT NULL,
			name TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS containers (
			id TEXT PRIMARY KEY,
			kind TEXT NOT NULL,
			scope_id TEXT NOT NULL DEFAULT '',
			title TEXT NOT NULL,
			color TEXT NOT NULL DEFAULT '',
			position INTEGER NOT NULL,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS entities (
			id TEXT PRIMARY KEY,
			kind TEXT NOT NULL,
			container_id TEXT NOT NULL,
			position INTEGER NOT NULL,
			entered_container_at TEXT NOT NULL,
			time_in_container_json TEXT NOT NULL DEFAULT '{}',
			comments_json TEXT NOT NULL DEFAULT '[]',
			attachments_json TEXT NOT NULL DEFAULT '[]',
			payload_json TEXT NOT NULL DEFAULT '{}',
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)`,
		// entity_history is append-only; seq counts from the oldest entry.
		`CREATE TABLE IF NOT EXISTS entity_history (
			id TEXT PRIMARY KEY,
			entity_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			action TEXT NOT NULL,
			details TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_containers_kind_scope_position ON containers(kind, scope_id, position)`,
		`CREATE INDEX IF NOT EXISTS idx_entities_kind_container_position ON entities(kind, container_id, position)`,
		`CREATE INDEX IF NOT EXISTS idx_entity_history_entity_seq ON entity_history(entity_id, seq)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate %s: %w", s.dialect, err)
		}
	}
	return nil
}

// UpsertProject inserts or replaces a project.
func (s *Store) UpsertProject(ctx context.Context, p domain.Project) error {
	_, err := s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO projects(id, slug, name, description, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			slug = excluded.slug,
			name = excluded.name,
			description = excluded.description,
			updated_at = excluded.updated_at
	`), p.ID, p.Slug, p.Name, p.Description, ts(p.CreatedAt), ts(p.UpdatedAt))
	return err
}

// GetProject returns project.
func (s *Store) GetProject(ctx context.Context, id string) (domain.Project, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`
		SELECT id, slug, name, description, created_at, updated_at
		FROM projects
		WHERE id = ?
	`), id)
	p, err := scanProject(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Project{}, app.ErrNotFound
	}
	return p, err
}

// ListProjects lists projects, oldest first.
func (s *Store) ListProjects(ctx context.Context) ([]domain.Project, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, slug, name, description, created_at, updated_at
		FROM projects
		ORDER BY created_at ASC, id ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []domain.Project{}
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// scanner is the subset of sql.Row and sql.Rows used by scan helpers.
type scanner interface {
	Scan(dest ...any) error
}

func scanProject(sc scanner) (domain.Project, error) {
	var (
		p          domain.Project
		createdRaw string
		updatedRaw string
	)
	if err := sc.Scan(&p.ID, &p.Slug, &p.Name, &p.Description, &createdRaw, &updatedRaw); err != nil {
		return domain.Project{}, err
	}
	p.CreatedAt = parseTS(createdRaw)
	p.UpdatedAt = parseTS(updatedRaw)
	return p, nil
}

// rebind rewrites ? placeholders into the dialect's native form.
func (s *Store) rebind(query string) string {
	if s.dialect != DialectPostgres || !strings.Contains(query, "?") {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r != '?' {
			b.WriteRune(r)
			continue
		}
		n++
		b.WriteByte('$')
		b.WriteString(strconv.Itoa(n))
	}
	return b.String()
}

// placeholders returns n comma separated ? markers.
func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

// ts handles ts.
func ts(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// parseTS parses input into a normalized form.
func parseTS(v string) time.Time {
	ts, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return time.Time{}
	}
	return ts.UTC()
}
