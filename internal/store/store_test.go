package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestHistory(t *testing.T) *History {
	t.Helper()
	h, err := Open(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { h.Close() })
	return h
}

func TestBeginAndGet(t *testing.T) {
	h := newTestHistory(t)
	ctx := context.Background()

	require.NoError(t, h.Begin(ctx, "req-1", "a recipe site", "generating"))

	got, err := h.Get(ctx, "req-1")
	require.NoError(t, err)
	assert.Equal(t, "a recipe site", got.Prompt)
	assert.Equal(t, "generating", got.Phase)
	assert.Zero(t, got.Attempts)
	assert.False(t, got.CreatedAt.IsZero())
}

func TestGetMissing(t *testing.T) {
	h := newTestHistory(t)
	_, err := h.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFinishSuccess(t *testing.T) {
	h := newTestHistory(t)
	ctx := context.Background()
	require.NoError(t, h.Begin(ctx, "req-2", "p", "generating"))
	require.NoError(t, h.Finish(ctx, "req-2", "complete", 3, nil, "/out/req-2.json"))

	got, err := h.Get(ctx, "req-2")
	require.NoError(t, err)
	assert.Equal(t, "complete", got.Phase)
	assert.Equal(t, 3, got.Attempts)
	assert.Empty(t, got.Error)
	assert.Equal(t, "/out/req-2.json", got.ResultPath)
}

func TestFinishFailure(t *testing.T) {
	h := newTestHistory(t)
	ctx := context.Background()
	require.NoError(t, h.Begin(ctx, "req-3", "p", "generating"))
	require.NoError(t, h.Finish(ctx, "req-3", "failed", 5, errors.New("syntax repair budget exhausted"), ""))

	got, err := h.Get(ctx, "req-3")
	require.NoError(t, err)
	assert.Equal(t, "failed", got.Phase)
	assert.Contains(t, got.Error, "syntax repair")
}

func TestFinishUnknownID(t *testing.T) {
	h := newTestHistory(t)
	err := h.Finish(context.Background(), "ghost", "complete", 1, nil, "")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestBeginDuplicateID(t *testing.T) {
	h := newTestHistory(t)
	ctx := context.Background()
	require.NoError(t, h.Begin(ctx, "dup", "p", "generating"))
	assert.Error(t, h.Begin(ctx, "dup", "p", "generating"))
}

func TestRecentOrderAndLimit(t *testing.T) {
	h := newTestHistory(t)
	ctx := context.Background()
	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, h.Begin(ctx, id, "p", "generating"))
	}
	// Touch "a" so it becomes the most recent.
	time.Sleep(1100 * time.Millisecond)
	require.NoError(t, h.Finish(ctx, "a", "complete", 1, nil, ""))

	recent, err := h.Recent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "a", recent[0].ID)
}

func TestPrune(t *testing.T) {
	h := newTestHistory(t)
	ctx := context.Background()
	require.NoError(t, h.Begin(ctx, "old", "p", "complete"))

	// Nothing is older than an hour yet.
	n, err := h.Prune(ctx, time.Hour)
	require.NoError(t, err)
	assert.Zero(t, n)

	// Everything is older than a negative cutoff in the future.
	n, err = h.Prune(ctx, -time.Hour)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	_, err = h.Get(ctx, "old")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestOpenCreatesParentDir(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "deep", "history.db")
	h, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, h.Close())
}
