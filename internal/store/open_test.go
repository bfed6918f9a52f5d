package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpen_SQLite(t *testing.T) {
	st, err := Open(context.Background(), "sqlite", filepath.Join(t.TempDir(), "open.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck

	_, ok := st.(*SQLiteStore)
	assert.True(t, ok)
	assert.NoError(t, st.Migrate(context.Background()))
}

func TestOpen_UnsupportedDriver(t *testing.T) {
	_, err := Open(context.Background(), "mysql", "x", nil)
	assert.ErrorContains(t, err, `unsupported driver "mysql"`)
}

func TestOpen_PostgresBadDSN(t *testing.T) {
	// A DSN that fails to parse is not transient, so no retries happen.
	_, err := Open(context.Background(), "postgres", "postgres://%zz", nil)
	assert.ErrorContains(t, err, "postgres: parse config")
}
