package store

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestSQLiteStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "lansync.db")
	s, err := NewSQLiteStore(zap.NewNop(), path)
	require.NoError(t, err)
	defer s.Close()

	exerciseStore(t, s)
}

func TestSQLiteStore_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lansync.db")

	s, err := NewSQLiteStore(zap.NewNop(), path)
	require.NoError(t, err)
	require.NoError(t, s.Set(t.Context(), "persisted", []byte(`{"v":1}`)))
	require.NoError(t, s.Close())

	// state survives reopen
	s2, err := NewSQLiteStore(zap.NewNop(), path)
	require.NoError(t, err)
	defer s2.Close()

	got, err := s2.Get(t.Context(), "persisted")
	require.NoError(t, err)
	require.JSONEq(t, `{"v":1}`, string(got))
}
