package reconciler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/vk/comfygrid/internal/comfyapi"
	"github.com/vk/comfygrid/internal/inmemorystore"
	"github.com/vk/comfygrid/internal/task"
	"github.com/vk/comfygrid/internal/xjson"
)

type mockHistory struct {
	mock.Mock
}

func (m *mockHistory) History(ctx context.Context, promptID string) (comfyapi.History, error) {
	args := m.Called(ctx, promptID)
	h, _ := args.Get(0).(comfyapi.History)
	return h, args.Error(1)
}

// countingStore counts guarded updates.
type countingStore struct {
	task.Store
	updates atomic.Int32
}

func (s *countingStore) UpdateIfPending(ctx context.Context, id string, m task.Mutation) (*task.Record, bool, error) {
	s.updates.Add(1)
	return s.Store.UpdateIfPending(ctx, id, m)
}

func history(t *testing.T, raw string) comfyapi.History {
	t.Helper()
	h := comfyapi.History{}
	require.NoError(t, xjson.Unmarshal([]byte(raw), &h))
	return h
}

func insert(t *testing.T, s task.Store, jobID string) *task.Record {
	t.Helper()
	rec := task.NewRecord(jobID, "client", "flux2klein", "Flux 2 Klein", "a cat", time.Now())
	require.NoError(t, s.Insert(context.Background(), rec))
	return rec
}

func TestTick_CompletesWithAllFilenamesInOneUpdate(t *testing.T) {
	// Arrange
	store := &countingStore{Store: inmemorystore.New()}
	rec := insert(t, store, "p1")
	h := &mockHistory{}
	h.On("History", mock.Anything, "p1").Return(history(t, `{"p1": {"outputs": {
		"9": {"images": [{"filename": "ComfyUI_00001_.png", "type": "output"}]},
		"12": {"images": [{"filename": "ComfyUI_00002_.png", "type": "output"}]}
	}, "status": {"status_str": "success", "completed": true}}}`), nil)
	r := New(store, h, Config{})

	// Act
	stats, err := r.Tick(context.Background())

	// Assert
	require.NoError(t, err)
	assert.Equal(t, Stats{Checked: 1, Completed: 1}, stats)
	assert.Equal(t, int32(1), store.updates.Load())
	got, err := store.Get(context.Background(), rec.ID)
	require.NoError(t, err)
	assert.Equal(t, task.StatusCompleted, got.Status)
	assert.Equal(t, "ComfyUI_00001_.png,ComfyUI_00002_.png", got.OutputFiles)
	h.AssertExpectations(t)
}

func TestTick_LeavesUnfinishedTasksPending(t *testing.T) {
	store := &countingStore{Store: inmemorystore.New()}
	running := insert(t, store, "running")
	noImages := insert(t, store, "no-images")
	h := &mockHistory{}
	h.On("History", mock.Anything, "running").Return(comfyapi.History{}, nil)
	h.On("History", mock.Anything, "no-images").Return(history(t, `{"no-images": {"outputs": {"3": {"text": ["hi"]}}, "status": {"status_str": "success"}}}`), nil)
	r := New(store, h, Config{})

	stats, err := r.Tick(context.Background())

	require.NoError(t, err)
	assert.Equal(t, Stats{Checked: 2}, stats)
	assert.Equal(t, int32(0), store.updates.Load())
	for _, rec := range []*task.Record{running, noImages} {
		got, err := store.Get(context.Background(), rec.ID)
		require.NoError(t, err)
		assert.Equal(t, task.StatusPending, got.Status)
	}
}

func TestTick_PerTaskErrorsDoNotStopTheTick(t *testing.T) {
	store := inmemorystore.New()
	insert(t, store, "broken")
	ok := insert(t, store, "ok")
	h := &mockHistory{}
	h.On("History", mock.Anything, "broken").Return(nil, errors.New("connection refused"))
	h.On("History", mock.Anything, "ok").Return(history(t, `{"ok": {"outputs": {"9": {"images": [{"filename": "a.png"}]}}}}`), nil)
	r := New(store, h, Config{})

	stats, err := r.Tick(context.Background())

	require.NoError(t, err)
	assert.Equal(t, Stats{Checked: 2, Completed: 1, Errors: 1}, stats)
	got, err := store.Get(context.Background(), ok.ID)
	require.NoError(t, err)
	assert.Equal(t, task.StatusCompleted, got.Status)
}

func TestTick_BackendErrors(t *testing.T) {
	raw := `{"p1": {"outputs": {}, "status": {"status_str": "error", "completed": false,
		"messages": [["execution_error", {"node_id": "75:62", "exception_message": "bad latent"}]]}}}`

	t.Run("fail enabled", func(t *testing.T) {
		store := inmemorystore.New()
		rec := insert(t, store, "p1")
		h := &mockHistory{}
		h.On("History", mock.Anything, "p1").Return(history(t, raw), nil)

		stats, err := New(store, h, Config{FailOnBackendError: true}).Tick(context.Background())

		require.NoError(t, err)
		assert.Equal(t, 1, stats.Failed)
		got, err := store.Get(context.Background(), rec.ID)
		require.NoError(t, err)
		assert.Equal(t, task.StatusFailed, got.Status)
		assert.Equal(t, "Failed: node 75:62: bad latent", got.NodeStatus)
	})

	t.Run("fail disabled", func(t *testing.T) {
		store := inmemorystore.New()
		rec := insert(t, store, "p1")
		h := &mockHistory{}
		h.On("History", mock.Anything, "p1").Return(history(t, raw), nil)

		stats, err := New(store, h, Config{}).Tick(context.Background())

		require.NoError(t, err)
		assert.Equal(t, 0, stats.Failed)
		got, err := store.Get(context.Background(), rec.ID)
		require.NoError(t, err)
		assert.Equal(t, task.StatusPending, got.Status)
	})
}

func TestTick_SkipsTerminalTasks(t *testing.T) {
	store := inmemorystore.New()
	rec := insert(t, store, "p1")
	_, _, err := store.UpdateIfPending(context.Background(), rec.ID, task.Failed("x"))
	require.NoError(t, err)
	h := &mockHistory{}

	stats, err := New(store, h, Config{}).Tick(context.Background())

	require.NoError(t, err)
	assert.Equal(t, Stats{}, stats)
	h.AssertNotCalled(t, "History", mock.Anything, mock.Anything)
}

type listFailStore struct{ task.Store }

func (listFailStore) ListPending(context.Context) ([]*task.Record, error) {
	return nil, errors.New("store offline")
}

func TestTick_ListFailure(t *testing.T) {
	_, err := New(listFailStore{Store: inmemorystore.New()}, &mockHistory{}, Config{}).Tick(context.Background())
	assert.ErrorContains(t, err, "store offline")
}

// slowHistory answers "not yet" until released.
type slowHistory struct {
	mu    sync.Mutex
	calls int
	done  bool
}

func (s *slowHistory) History(_ context.Context, id string) (comfyapi.History, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if !s.done {
		return comfyapi.History{}, nil
	}
	return comfyapi.History{id: {Outputs: []comfyapi.NodeOutput{{NodeID: "9", Images: []comfyapi.ImageRef{{Filename: "late.png"}}}}}}, nil
}

func TestStartStop_PollsUntilComplete(t *testing.T) {
	store := inmemorystore.New()
	rec := insert(t, store, "p1")
	h := &slowHistory{}
	r := New(store, h, Config{Interval: 10 * time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	r.Start(ctx)
	r.Start(ctx)
	require.Eventually(t, func() bool {
		h.mu.Lock()
		defer h.mu.Unlock()
		return h.calls >= 2
	}, 5*time.Second, 5*time.Millisecond)

	h.mu.Lock()
	h.done = true
	h.mu.Unlock()

	require.Eventually(t, func() bool {
		got, err := store.Get(context.Background(), rec.ID)
		return err == nil && got.Status == task.StatusCompleted
	}, 5*time.Second, 5*time.Millisecond)

	r.Stop()
	r.Stop()
}
