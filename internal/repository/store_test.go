package repository

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// newTestStore opens a throwaway sqlite database with the full schema applied.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	ctx := context.Background()

	store, err := Open(ctx, Config{DSN: filepath.Join(t.TempDir(), "test.db")}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close(nil) })

	require.NoError(t, store.Migrate(ctx, nil))
	return store
}

func TestRebindPostgres(t *testing.T) {
	s := &Store{Dialect: DialectPostgres}
	got := s.rebind(`UPDATE t SET a = ?, b = ? WHERE c = ?`)
	require.Equal(t, `UPDATE t SET a = $1, b = $2 WHERE c = $3`, got)
}

func TestRebindSQLiteUntouched(t *testing.T) {
	s := &Store{Dialect: DialectSQLite}
	q := `SELECT * FROM t WHERE a = ?`
	require.Equal(t, q, s.rebind(q))
}
