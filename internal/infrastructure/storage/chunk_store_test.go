package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"lanlink/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *FileChunkStore {
	t.Helper()
	root := t.TempDir()
	store, err := NewFileChunkStore(filepath.Join(root, "temp"), filepath.Join(root, "completed"))
	require.NoError(t, err)
	return store
}

func TestChunkPath_ZeroPadded(t *testing.T) {
	store := newTestStore(t)
	assert.Equal(t, "chunk_000007", filepath.Base(store.ChunkPath("f1", 7)))
	assert.Equal(t, "chunk_012345", filepath.Base(store.ChunkPath("f1", 12345)))
}

func TestPut_RequiresPreparedSession(t *testing.T) {
	store := newTestStore(t)
	_, err := store.Put(context.Background(), "f1", 0, strings.NewReader("x"), 0)
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
}

func TestPut_RejectsUnsafeFileID(t *testing.T) {
	store := newTestStore(t)
	_, err := store.Put(context.Background(), "../escape", 0, strings.NewReader("x"), 0)
	assert.Error(t, err)
}

func TestPut_EnforcesMaxBytes(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.Prepare(ctx, "f1"))

	_, err := store.Put(ctx, "f1", 0, strings.NewReader("123456"), 5)
	assert.ErrorIs(t, err, domain.ErrChunkTooLarge)

	_, statErr := os.Stat(store.ChunkPath("f1", 0))
	assert.True(t, os.IsNotExist(statErr))

	n, err := store.Put(ctx, "f1", 0, strings.NewReader("12345"), 5)
	require.NoError(t, err)
	assert.Equal(t, int64(5), n)
}

func TestMergeInOrder_IndependentOfArrivalOrder(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.Prepare(ctx, "f1"))

	parts := []string{"alpha-", "beta-", "gamma"}
	for _, i := range []int{2, 0, 1, 0} {
		_, err := store.Put(ctx, "f1", i, strings.NewReader(parts[i]), 0)
		require.NoError(t, err)
	}

	var out bytes.Buffer
	n, err := store.MergeInOrder(ctx, "f1", len(parts), &out)
	require.NoError(t, err)
	assert.Equal(t, "alpha-beta-gamma", out.String())
	assert.Equal(t, int64(out.Len()), n)
}

func TestMergeInOrder_MissingChunk(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.Prepare(ctx, "f1"))

	for _, i := range []int{0, 2} {
		_, err := store.Put(ctx, "f1", i, strings.NewReader("x"), 0)
		require.NoError(t, err)
	}

	_, err := store.MergeInOrder(ctx, "f1", 3, io.Discard)
	require.ErrorIs(t, err, domain.ErrMissingChunk)

	var missing *domain.MissingChunkError
	require.True(t, errors.As(err, &missing))
	assert.Equal(t, 1, missing.Index)
}

func TestDiscard_Idempotent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.Prepare(ctx, "f1"))
	_, err := store.Put(ctx, "f1", 0, strings.NewReader("x"), 0)
	require.NoError(t, err)

	require.NoError(t, store.Discard(ctx, "f1"))
	require.NoError(t, store.Discard(ctx, "f1"))
	require.NoError(t, store.Discard(ctx, "never-created"))

	_, statErr := os.Stat(filepath.Dir(store.ChunkPath("f1", 0)))
	assert.True(t, os.IsNotExist(statErr))
}

func TestPut_ConcurrentDistinctAndDuplicateIndexes(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.Prepare(ctx, "f1"))

	const chunks = 16
	payload := func(i int) string { return strings.Repeat(string(rune('a'+i)), 1000) }

	var wg sync.WaitGroup
	for round := 0; round < 3; round++ {
		for i := 0; i < chunks; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, err := store.Put(ctx, "f1", i, strings.NewReader(payload(i)), 0)
				assert.NoError(t, err)
			}(i)
		}
	}
	wg.Wait()

	var want strings.Builder
	for i := 0; i < chunks; i++ {
		want.WriteString(payload(i))
	}

	var out bytes.Buffer
	_, err := store.MergeInOrder(ctx, "f1", chunks, &out)
	require.NoError(t, err)
	assert.Equal(t, want.String(), out.String())
}

func TestCompletedWriter_CommitAndAbort(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	w, err := store.CreateCompleted(ctx, "f1_report.txt")
	require.NoError(t, err)

	_, _, err = store.OpenCompleted(ctx, "f1_report.txt")
	assert.ErrorIs(t, err, domain.ErrFileNotFound, "file must not be visible before commit")

	_, err = w.Write([]byte("hello"))
	require.NoError(t, err)
	require.NoError(t, w.Commit())

	f, info, err := store.OpenCompleted(ctx, "f1_report.txt")
	require.NoError(t, err)
	defer f.Close()
	assert.Equal(t, int64(5), info.Size())

	aborted, err := store.CreateCompleted(ctx, "f2_other.txt")
	require.NoError(t, err)
	_, err = aborted.Write([]byte("partial"))
	require.NoError(t, err)
	require.NoError(t, aborted.Abort())

	entries, err := os.ReadDir(store.completedDir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "aborted writes must not leave files behind")
}

func TestOpenCompleted_RejectsTraversal(t *testing.T) {
	store := newTestStore(t)
	_, _, err := store.OpenCompleted(context.Background(), "../temp")
	assert.ErrorIs(t, err, domain.ErrFileNotFound)
}

func TestHealthCheck(t *testing.T) {
	store := newTestStore(t)
	assert.NoError(t, store.HealthCheck(context.Background()))
}
