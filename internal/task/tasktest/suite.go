// Package tasktest holds the behavioural suite every task.Store backend runs.
package tasktest

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/comfygrid/internal/task"
)

// Factory opens an empty store; the suite closes it.
type Factory func(t *testing.T) task.Store

var epoch = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

// NewRecord builds a pending record created at epoch plus offset seconds.
func NewRecord(jobID string, offset int) *task.Record {
	return task.NewRecord(jobID, "client-"+jobID, "flux2klein", "Flux 2 Klein", "a cat", epoch.Add(time.Duration(offset)*time.Second))
}

// Run executes the suite against stores produced by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Run("InsertAndGet", func(t *testing.T) { testInsertAndGet(t, newStore) })
	t.Run("Duplicates", func(t *testing.T) { testDuplicates(t, newStore) })
	t.Run("UpdateIfPending", func(t *testing.T) { testUpdateIfPending(t, newStore) })
	t.Run("TerminalRecordsAreFrozen", func(t *testing.T) { testTerminalFrozen(t, newStore) })
	t.Run("Lists", func(t *testing.T) { testLists(t, newStore) })
	t.Run("Delete", func(t *testing.T) { testDelete(t, newStore) })
	t.Run("Watch", func(t *testing.T) { testWatch(t, newStore) })
	t.Run("ConcurrentWriters", func(t *testing.T) { testConcurrentWriters(t, newStore) })
}

func open(t *testing.T, newStore Factory) task.Store {
	t.Helper()
	s := newStore(t)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func testInsertAndGet(t *testing.T, newStore Factory) {
	s := open(t, newStore)
	ctx := context.Background()
	rec := NewRecord("job-1", 0)

	require.NoError(t, s.Insert(ctx, rec))

	got, err := s.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, rec, got)

	got, err = s.GetByJobID(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, rec.ID, got.ID)

	_, err = s.Get(ctx, "missing")
	assert.True(t, task.IsNotFound(err))
	_, err = s.GetByJobID(ctx, "missing")
	assert.True(t, task.IsNotFound(err))
}

func testDuplicates(t *testing.T, newStore Factory) {
	s := open(t, newStore)
	ctx := context.Background()
	rec := NewRecord("job-1", 0)
	require.NoError(t, s.Insert(ctx, rec))

	assert.ErrorIs(t, s.Insert(ctx, rec), task.ErrDuplicate)
	assert.ErrorIs(t, s.Insert(ctx, NewRecord("job-1", 1)), task.ErrDuplicate)
}

func testUpdateIfPending(t *testing.T, newStore Factory) {
	s := open(t, newStore)
	ctx := context.Background()
	rec := NewRecord("job-1", 0)
	require.NoError(t, s.Insert(ctx, rec))

	got, applied, err := s.UpdateIfPending(ctx, rec.ID, task.Progressed("Sampling (5/20) - Node #3", 25, 5, 20))
	require.NoError(t, err)
	assert.True(t, applied)
	assert.Equal(t, 25, got.Progress)
	assert.Equal(t, 5, got.CurrentStep)
	assert.Equal(t, 20, got.MaxSteps)

	got, applied, err = s.UpdateIfPending(ctx, rec.ID, task.Progressed("Node 9 (#4)", task.PreserveProgress, 0, 0))
	require.NoError(t, err)
	assert.True(t, applied)
	assert.Equal(t, 25, got.Progress, "the sentinel keeps the stored percent")
	assert.Equal(t, 5, got.CurrentStep, "zero steps keep the stored counters")
	assert.Equal(t, "Node 9 (#4)", got.NodeStatus)

	stored, err := s.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, got, stored)

	_, _, err = s.UpdateIfPending(ctx, "missing", task.Labeled("x"))
	assert.True(t, task.IsNotFound(err))
}

func testTerminalFrozen(t *testing.T, newStore Factory) {
	s := open(t, newStore)
	ctx := context.Background()
	rec := NewRecord("job-1", 0)
	require.NoError(t, s.Insert(ctx, rec))

	done, applied, err := s.UpdateIfPending(ctx, rec.ID, task.Completed([]string{"a.png", "b.png"}))
	require.NoError(t, err)
	require.True(t, applied)
	assert.Equal(t, task.StatusCompleted, done.Status)
	assert.Equal(t, "a.png,b.png", done.OutputFiles)

	got, applied, err := s.UpdateIfPending(ctx, rec.ID, task.Progressed("Sampling (1/2) - Node #1", 50, 1, 2))
	require.NoError(t, err)
	assert.False(t, applied)
	assert.Equal(t, done, got)

	_, applied, err = s.UpdateIfPending(ctx, rec.ID, task.Failed("late"))
	require.NoError(t, err)
	assert.False(t, applied)

	stored, err := s.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, done, stored)
}

func testLists(t *testing.T, newStore Factory) {
	s := open(t, newStore)
	ctx := context.Background()
	older, newer, finished := NewRecord("job-1", 0), NewRecord("job-2", 10), NewRecord("job-3", 5)
	for _, r := range []*task.Record{older, newer, finished} {
		require.NoError(t, s.Insert(ctx, r))
	}
	_, _, err := s.UpdateIfPending(ctx, finished.ID, task.Completed([]string{"x.png"}))
	require.NoError(t, err)

	pending, err := s.ListPending(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{older.ID, newer.ID}, ids(pending))

	all, err := s.ListAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{newer.ID, finished.ID, older.ID}, ids(all))
}

func testDelete(t *testing.T, newStore Factory) {
	s := open(t, newStore)
	ctx := context.Background()
	rec := NewRecord("job-1", 0)
	require.NoError(t, s.Insert(ctx, rec))

	require.NoError(t, s.Delete(ctx, rec.ID))
	_, err := s.Get(ctx, rec.ID)
	assert.True(t, task.IsNotFound(err))
	_, err = s.GetByJobID(ctx, "job-1")
	assert.True(t, task.IsNotFound(err))
	assert.True(t, task.IsNotFound(s.Delete(ctx, rec.ID)))

	// The job id is free again.
	assert.NoError(t, s.Insert(ctx, NewRecord("job-1", 1)))
}

func testWatch(t *testing.T, newStore Factory) {
	s := open(t, newStore)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := s.Watch(ctx)
	require.NoError(t, err)
	first := receive(t, ch)
	assert.Empty(t, first)

	rec := NewRecord("job-1", 0)
	require.NoError(t, s.Insert(ctx, rec))
	require.Eventually(t, func() bool {
		list := latest(ch)
		return len(list) == 1 && list[0].ID == rec.ID
	}, 5*time.Second, 10*time.Millisecond)

	_, _, err = s.UpdateIfPending(ctx, rec.ID, task.Completed([]string{"a.png"}))
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		list := latest(ch)
		return len(list) == 1 && list[0].Status == task.StatusCompleted
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	require.Eventually(t, func() bool {
		for {
			select {
			case _, ok := <-ch:
				if !ok {
					return true
				}
			default:
				return false
			}
		}
	}, 5*time.Second, 10*time.Millisecond)
}

func testConcurrentWriters(t *testing.T, newStore Factory) {
	s := open(t, newStore)
	ctx := context.Background()
	rec := NewRecord("job-1", 0)
	require.NoError(t, s.Insert(ctx, rec))

	var wg sync.WaitGroup
	for i := 1; i <= 20; i++ {
		wg.Add(1)
		go func(step int) {
			defer wg.Done()
			_, _, err := s.UpdateIfPending(ctx, rec.ID, task.Progressed(fmt.Sprintf("Sampling (%d/20)", step), step*5, step, 20))
			assert.NoError(t, err)
		}(i)
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, _, err := s.UpdateIfPending(ctx, rec.ID, task.Completed([]string{"a.png", "b.png"}))
		assert.NoError(t, err)
	}()
	wg.Wait()

	final, err := s.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, task.StatusCompleted, final.Status)
	assert.Equal(t, "a.png,b.png", final.OutputFiles)

	_, applied, err := s.UpdateIfPending(ctx, rec.ID, task.Progressed("stale", 0, 1, 1))
	require.NoError(t, err)
	assert.False(t, applied)
}

func receive(t *testing.T, ch <-chan []*task.Record) []*task.Record {
	t.Helper()
	select {
	case list := <-ch:
		return list
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for a watch update")
		return nil
	}
}

// latest drains ch and returns the newest snapshot, or nil if none is queued.
func latest(ch <-chan []*task.Record) []*task.Record {
	var last []*task.Record
	for {
		select {
		case list, ok := <-ch:
			if !ok {
				return last
			}
			last = list
		default:
			return last
		}
	}
}

func ids(records []*task.Record) []string {
	out := make([]string, len(records))
	for i, r := range records {
		out[i] = r.ID
	}
	return out
}
