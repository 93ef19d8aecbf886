package badgerstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/comfygrid/internal/task"
	"github.com/vk/comfygrid/internal/task/tasktest"
)

func TestStore(t *testing.T) {
	tasktest.Run(t, func(t *testing.T) task.Store {
		s, err := Open(Options{InMemory: true})
		require.NoError(t, err)
		return s
	})
}

func TestStore_PersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	s, err := Open(Options{Path: dir})
	require.NoError(t, err)
	rec := tasktest.NewRecord("job-1", 0)
	require.NoError(t, s.Insert(ctx, rec))
	_, _, err = s.UpdateIfPending(ctx, rec.ID, task.Completed([]string{"a.png"}))
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = Open(Options{Path: dir})
	require.NoError(t, err)
	defer s.Close()

	got, err := s.GetByJobID(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, task.StatusCompleted, got.Status)
	assert.Equal(t, "a.png", got.OutputFiles)
}

func TestOpen_RequiresPath(t *testing.T) {
	_, err := Open(Options{})
	assert.Error(t, err)
}
