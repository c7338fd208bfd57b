package boltstore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/spice-rules/internal/common"
	"github.com/Veraticus/spice-rules/internal/jobs"
)

func TestStore_PersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "jobs.db")
	created := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	completed := created.Add(3 * time.Second)

	store, err := Open(path)
	require.NoError(t, err)

	require.NoError(t, store.Save(ctx, jobs.Status{ID: "old", State: jobs.StateFailed, CreatedAt: created, Error: "job queue closed"}))
	require.NoError(t, store.Save(ctx, jobs.Status{ID: "new", State: jobs.StateRunning, Total: 10, Remaining: 10, CreatedAt: created.Add(time.Minute)}))

	// Overwrite with progress.
	require.NoError(t, store.Save(ctx, jobs.Status{
		ID: "new", State: jobs.StateCompleted, Total: 10, Processed: 10, Failed: 1,
		CreatedAt: created.Add(time.Minute), CompletedAt: &completed,
	}))
	require.NoError(t, store.Close())

	store, err = Open(path)
	require.NoError(t, err)
	defer func() { _ = store.Close() }()

	got, err := store.Get(ctx, "new")
	require.NoError(t, err)
	assert.Equal(t, jobs.StateCompleted, got.State)
	assert.Equal(t, 10, got.Processed)
	assert.Equal(t, 1, got.Failed)
	require.NotNil(t, got.CompletedAt)
	assert.True(t, completed.Equal(*got.CompletedAt))

	list, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "new", list[0].ID)
	assert.Equal(t, "old", list[1].ID)
	assert.Equal(t, "job queue closed", list[1].Error)
}

func TestStore_Errors(t *testing.T) {
	store, err := Open(filepath.Join(t.TempDir(), "jobs.db"))
	require.NoError(t, err)
	defer func() { _ = store.Close() }()

	_, err = store.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, common.ErrNotFound)

	assert.Error(t, store.Save(context.Background(), jobs.Status{}))
}
