package inmemorystore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/comfygrid/internal/task"
	"github.com/vk/comfygrid/internal/task/tasktest"
)

func TestStore(t *testing.T) {
	tasktest.Run(t, func(t *testing.T) task.Store { return New() })
}

func TestStore_ReturnsCopies(t *testing.T) {
	s := New()
	ctx := context.Background()
	rec := tasktest.NewRecord("job-1", 0)
	require.NoError(t, s.Insert(ctx, rec))

	rec.PromptText = "mutated by caller"
	got, err := s.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, "a cat", got.PromptText)

	got.Status = task.StatusFailed
	again, err := s.GetByJobID(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, task.StatusPending, again.Status)
}

func TestStore_Closed(t *testing.T) {
	s := New()
	require.NoError(t, s.Close())

	assert.ErrorIs(t, s.Insert(context.Background(), tasktest.NewRecord("job-1", 0)), task.ErrClosed)
	_, err := s.Watch(context.Background())
	assert.ErrorIs(t, err, task.ErrClosed)
}
