// ABOUTME: Tests for the relational session backend
// ABOUTME: Covers url parsing, lazy connection, placeholder binding, and created_at retention

package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSQLBackend_Schemes(t *testing.T) {
	tests := []struct {
		url     string
		driver  string
		dsn     string
		dialect dialect
	}{
		{"sqlite:///var/lib/s.db", "sqlite", "/var/lib/s.db", dialectSQLite},
		{"sqlite3://./s.db", "sqlite3", "./s.db", dialectSQLite},
		{"postgres://u:p@localhost:5432/db", "pgx", "postgres://u:p@localhost:5432/db", dialectPostgres},
		{"postgresql://localhost/db", "pgx", "postgresql://localhost/db", dialectPostgres},
	}
	for _, tt := range tests {
		b, err := NewSQLBackend(tt.url, "", "", nil)
		require.NoError(t, err, tt.url)
		assert.Equal(t, tt.driver, b.driver, tt.url)
		assert.Equal(t, tt.dsn, b.dsn, tt.url)
		assert.Equal(t, tt.dialect, b.dialect, tt.url)
		assert.Equal(t, "runtime_sessions", b.table)
	}
}

func TestNewSQLBackend_Rejects(t *testing.T) {
	_, err := NewSQLBackend("mysql://x", "", "", nil)
	assert.Error(t, err)

	_, err = NewSQLBackend("sqlite://x.db", "", "bad; DROP TABLE", nil)
	assert.Error(t, err)

	_, err = NewSQLBackend("sqlite://", "", "", nil)
	assert.Error(t, err)
}

func TestSQLBackend_Lazy(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lazy", "s.db")
	b, err := NewSQLBackend("sqlite://"+path, "", "", nil)
	require.NoError(t, err)

	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr), "database should not be created before first use")

	ok, err := b.Exists(context.Background(), "x")
	require.NoError(t, err)
	assert.False(t, ok)

	_, statErr = os.Stat(path)
	assert.NoError(t, statErr)
	require.NoError(t, b.Close())
	require.NoError(t, b.Close())
}

func TestSQLBackend_Bind(t *testing.T) {
	pg := &SQLBackend{dialect: dialectPostgres}
	assert.Equal(t, "a = $1 AND b = $2", pg.bind("a = ? AND b = ?"))

	lite := &SQLBackend{dialect: dialectSQLite}
	assert.Equal(t, "a = ?", lite.bind("a = ?"))
}

func TestSQLBackend_KeepsCreatedAt(t *testing.T) {
	for _, d := range []dialect{dialectSQLite, dialectGeneric} {
		b, err := NewSQLBackend(filepath.Join(t.TempDir(), "s.db"), "sqlite", "", nil)
		require.NoError(t, err)
		b.dialect = d
		ctx := context.Background()

		require.NoError(t, b.Put(ctx, "s1", []byte(`{"v":1}`)))
		db, err := b.conn(ctx)
		require.NoError(t, err)

		var created1 string
		require.NoError(t, db.QueryRow(`SELECT created_at FROM runtime_sessions WHERE session_id = 's1'`).Scan(&created1))

		require.NoError(t, b.Put(ctx, "s1", []byte(`{"v":2}`)))

		var created2, data string
		var n int
		require.NoError(t, db.QueryRow(`SELECT created_at, state_data FROM runtime_sessions WHERE session_id = 's1'`).Scan(&created2, &data))
		require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM runtime_sessions`).Scan(&n))

		assert.Equal(t, created1, created2)
		assert.Equal(t, `{"v":2}`, data)
		assert.Equal(t, 1, n)
		b.Close()
	}
}
