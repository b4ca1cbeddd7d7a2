package db

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"path"
	"strings"

	_ "github.com/lib/pq"
	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"
)

//go:embed migrations/postgres/*.sql migrations/sqlite/*.sql
var migrationsFS embed.FS

type Dialect string

const (
	DialectPostgres = Dialect("postgres")
	DialectSQLite   = Dialect("sqlite")
)

var ErrNotFound = errors.New("not found")

type DB struct {
	conn    *sql.DB
	dialect Dialect
}

// Connect opens a postgres:// or sqlite:// DSN. For SQLite the part after the
// scheme is the file path, or :memory:.
func Connect(dsn string) (*DB, error) {
	dialect, source, err := parseDSN(dsn)
	if err != nil {
		return nil, err
	}
	conn, err := sql.Open(string(dialect), source)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if dialect == DialectSQLite {
		// One connection keeps :memory: databases shared and serializes writers.
		conn.SetMaxOpenConns(1)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}
	log.Info().Str("dialect", string(dialect)).Msg("database connected")
	return &DB{conn: conn, dialect: dialect}, nil
}

func parseDSN(dsn string) (Dialect, string, error) {
	switch {
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		return DialectPostgres, dsn, nil
	case strings.HasPrefix(dsn, "sqlite://"):
		source := strings.TrimPrefix(dsn, "sqlite://")
		if source == "" {
			return "", "", fmt.Errorf("sqlite dsn %q has no path", dsn)
		}
		return DialectSQLite, source, nil
	default:
		return "", "", fmt.Errorf("unsupported database url %q", dsn)
	}
}

func (d *DB) Dialect() Dialect {
	return d.dialect
}

func (d *DB) Close() error {
	return d.conn.Close()
}

func (d *DB) Ping() error {
	return d.conn.Ping()
}

func (d *DB) PingContext(ctx context.Context) error {
	return d.conn.PingContext(ctx)
}

func (d *DB) QueryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return d.conn.QueryRowContext(ctx, d.rebind(query), args...)
}

func (d *DB) Query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return d.conn.QueryContext(ctx, d.rebind(query), args...)
}

func (d *DB) Exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return d.conn.ExecContext(ctx, d.rebind(query), args...)
}

// rebind turns postgres $N placeholders into SQLite's ?N form. Queries in
// this package never contain a literal '$'.
func (d *DB) rebind(query string) string {
	if d.dialect == DialectSQLite {
		return strings.ReplaceAll(query, "$", "?")
	}
	return query
}

func (d *DB) Migrate() error {
	dir := path.Join("migrations", string(d.dialect))
	entries, err := migrationsFS.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("reading migrations dir: %w", err)
	}

	for _, entry := range entries {
		content, err := migrationsFS.ReadFile(path.Join(dir, entry.Name()))
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", entry.Name(), err)
		}
		if _, err := d.conn.Exec(string(content)); err != nil {
			return fmt.Errorf("executing migration %s: %w", entry.Name(), err)
		}
		log.Debug().Str("migration", entry.Name()).Msg("applied migration")
	}
	return nil
}
