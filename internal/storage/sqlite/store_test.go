package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"var_gold/internal/models"
	"var_gold/internal/storage"
	"var_gold/internal/storage/storagetest"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "var_gold.db"), 1)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStoreContract(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storage.Store { return newTestStore(t) })
}

func TestOpenInMemory(t *testing.T) {
	s, err := Open(context.Background(), ":memory:", 1)
	require.NoError(t, err)
	defer s.Close()

	p, err := s.CreatePendingPosition(context.Background(), 40, 1, models.PositionMetadata{}, 1)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPendingConfirm, p.Status)
}

func TestReopenKeepsData(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "var_gold.db")

	s, err := Open(ctx, path, 1)
	require.NoError(t, err)
	require.NoError(t, s.SaveConfigOverride(ctx, "threshold_open", "45"))
	require.NoError(t, s.Close())

	s, err = Open(ctx, path, 1)
	require.NoError(t, err)
	defer s.Close()

	got, err := s.LoadConfigOverrides(ctx)
	require.NoError(t, err)
	assert.Equal(t, "45", got["threshold_open"])
}
