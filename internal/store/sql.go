// ABOUTME: Relational Backend over database/sql for SQLite and Postgres
// ABOUTME: Connects lazily, creates its table on first use, and upserts session rows

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"
	_ "modernc.org/sqlite"
)

type dialect int

const (
	dialectSQLite dialect = iota
	dialectPostgres
	// dialectGeneric has no upsert; saves run delete-then-insert in a transaction.
	dialectGeneric
)

var tableNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// SQLBackend stores session records in a single table:
// (session_id PRIMARY KEY, state_data TEXT, created_at, updated_at).
type SQLBackend struct {
	driver  string
	dsn     string
	table   string
	dialect dialect
	logger  *slog.Logger

	mu sync.Mutex
	db *sql.DB
}

// NewSQLBackend parses url and prepares a backend. No connection is made until
// the first operation. Recognised schemes:
//
//	sqlite://path        modernc.org/sqlite
//	sqlite3://path       github.com/mattn/go-sqlite3
//	postgres://...       github.com/jackc/pgx/v5
//
// A non-empty driverOverride uses that database/sql driver with url as the DSN.
func NewSQLBackend(url, driverOverride, table string, logger *slog.Logger) (*SQLBackend, error) {
	if table == "" {
		table = "runtime_sessions"
	}
	if !tableNamePattern.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	if logger == nil {
		logger = slog.Default()
	}

	b := &SQLBackend{
		table:  table,
		logger: logger.With("component", "session-sql"),
	}

	switch {
	case driverOverride != "":
		b.driver, b.dsn, b.dialect = driverOverride, url, dialectGeneric
		switch driverOverride {
		case "sqlite", "sqlite3":
			b.dialect = dialectSQLite
		case "pgx", "postgres":
			b.dialect = dialectPostgres
		}
	case strings.HasPrefix(url, "sqlite://"):
		b.driver, b.dsn, b.dialect = "sqlite", strings.TrimPrefix(url, "sqlite://"), dialectSQLite
	case strings.HasPrefix(url, "sqlite3://"):
		b.driver, b.dsn, b.dialect = "sqlite3", strings.TrimPrefix(url, "sqlite3://"), dialectSQLite
	case strings.HasPrefix(url, "postgres://"), strings.HasPrefix(url, "postgresql://"):
		b.driver, b.dsn, b.dialect = "pgx", url, dialectPostgres
	default:
		return nil, fmt.Errorf("unsupported database url %q (want sqlite://, sqlite3://, or postgres://)", url)
	}

	if b.dsn == "" {
		return nil, errors.New("database url has no path")
	}
	return b, nil
}

// conn opens the database and ensures the table on first use.
func (b *SQLBackend) conn(ctx context.Context) (*sql.DB, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.db != nil {
		return b.db, nil
	}

	if b.dialect == dialectSQLite && !strings.HasPrefix(b.dsn, "file:") && b.dsn != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(b.dsn), 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open(b.driver, b.dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if b.dialect == dialectSQLite {
		// Enable WAL mode for better concurrent performance
		if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
			db.Close()
			return nil, fmt.Errorf("enabling WAL mode: %w", err)
		}
	}

	if err := b.createSchema(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	b.logger.Info("session database initialized", "driver", b.driver, "table", b.table)
	b.db = db
	return db, nil
}

func (b *SQLBackend) createSchema(ctx context.Context, db *sql.DB) error {
	schema := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			session_id VARCHAR(255) PRIMARY KEY,
			state_data TEXT NOT NULL,
			created_at VARCHAR(64) NOT NULL,
			updated_at VARCHAR(64) NOT NULL
		)`, b.table)
	_, err := db.ExecContext(ctx, schema)
	return err
}

// bind rewrites ? placeholders for dialects that number them.
func (b *SQLBackend) bind(query string) string {
	if b.dialect != dialectPostgres {
		return query
	}
	var sb strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			fmt.Fprintf(&sb, "$%d", n)
			continue
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

// Put inserts or replaces the row for sessionID.
func (b *SQLBackend) Put(ctx context.Context, sessionID string, data []byte) error {
	db, err := b.conn(ctx)
	if err != nil {
		return err
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)

	if b.dialect == dialectGeneric {
		return b.replace(ctx, db, sessionID, string(data), now)
	}

	query := b.bind(fmt.Sprintf(`
		INSERT INTO %s (session_id, state_data, created_at, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (session_id) DO UPDATE
		SET state_data = excluded.state_data, updated_at = excluded.updated_at
	`, b.table))

	if _, err := db.ExecContext(ctx, query, sessionID, string(data), now, now); err != nil {
		return fmt.Errorf("saving session row: %w", err)
	}
	return nil
}

// replace is the delete-then-insert fallback for dialects without upsert.
func (b *SQLBackend) replace(ctx context.Context, db *sql.DB, sessionID, data, now string) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	createdAt := now
	row := tx.QueryRowContext(ctx, b.bind(fmt.Sprintf(`SELECT created_at FROM %s WHERE session_id = ?`, b.table)), sessionID)
	if err := row.Scan(&createdAt); err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("reading session row: %w", err)
	}

	if _, err := tx.ExecContext(ctx, b.bind(fmt.Sprintf(`DELETE FROM %s WHERE session_id = ?`, b.table)), sessionID); err != nil {
		return fmt.Errorf("deleting session row: %w", err)
	}
	insert := b.bind(fmt.Sprintf(`INSERT INTO %s (session_id, state_data, created_at, updated_at) VALUES (?, ?, ?, ?)`, b.table))
	if _, err := tx.ExecContext(ctx, insert, sessionID, data, createdAt, now); err != nil {
		return fmt.Errorf("inserting session row: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing session row: %w", err)
	}
	return nil
}

// Get returns the stored state_data.
func (b *SQLBackend) Get(ctx context.Context, sessionID string) ([]byte, error) {
	db, err := b.conn(ctx)
	if err != nil {
		return nil, err
	}

	var data string
	query := b.bind(fmt.Sprintf(`SELECT state_data FROM %s WHERE session_id = ?`, b.table))
	err = db.QueryRowContext(ctx, query, sessionID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying session row: %w", err)
	}
	return []byte(data), nil
}

// Exists reports whether a row is stored for sessionID.
func (b *SQLBackend) Exists(ctx context.Context, sessionID string) (bool, error) {
	db, err := b.conn(ctx)
	if err != nil {
		return false, err
	}

	var n int
	query := b.bind(fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE session_id = ?`, b.table))
	if err := db.QueryRowContext(ctx, query, sessionID).Scan(&n); err != nil {
		return false, fmt.Errorf("querying session row: %w", err)
	}
	return n > 0, nil
}

// Delete removes the row for sessionID.
func (b *SQLBackend) Delete(ctx context.Context, sessionID string) error {
	db, err := b.conn(ctx)
	if err != nil {
		return err
	}
	query := b.bind(fmt.Sprintf(`DELETE FROM %s WHERE session_id = ?`, b.table))
	if _, err := db.ExecContext(ctx, query, sessionID); err != nil {
		return fmt.Errorf("deleting session row: %w", err)
	}
	return nil
}

// Close closes the connection pool if one was opened.
func (b *SQLBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.db == nil {
		return nil
	}
	err := b.db.Close()
	b.db = nil
	return err
}
