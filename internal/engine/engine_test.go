package engine

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/comfygrid/internal/binder"
	"github.com/vk/comfygrid/internal/builtin"
	"github.com/vk/comfygrid/internal/comfyapi"
	"github.com/vk/comfygrid/internal/comfyapi/comfyapitest"
	"github.com/vk/comfygrid/internal/config"
	"github.com/vk/comfygrid/internal/eventstream"
	"github.com/vk/comfygrid/internal/hcl_adapter"
	"github.com/vk/comfygrid/internal/inmemorystore"
	"github.com/vk/comfygrid/internal/submit"
	"github.com/vk/comfygrid/internal/task"
	"github.com/vk/comfygrid/internal/template"
	"github.com/vk/comfygrid/internal/workflow"
	"github.com/vk/comfygrid/internal/xjson"
)

type fixture struct {
	engine  *Engine
	backend *comfyapitest.Server
	store   *inmemorystore.Store
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	backend := comfyapitest.NewServer(t)

	model, err := hcl_adapter.NewLoader(builtin.Manifests()).Load(ctx)
	require.NoError(t, err)
	api, err := comfyapi.NewClient(backend.Endpoint(), comfyapi.Options{})
	require.NoError(t, err)
	t.Cleanup(api.Close)

	settings := config.DefaultSettings()
	settings.Engine.PollInterval = 20 * time.Millisecond
	settings.Engine.ConnectTimeout = 2 * time.Second

	store := inmemorystore.New()
	t.Cleanup(func() { _ = store.Close() })

	e, err := New(Deps{
		Registry:      workflow.NewRegistry(model, hcl_adapter.NewConverter()),
		Templates:     template.NewStore(builtin.Templates()),
		API:           api,
		Store:         store,
		Settings:      settings,
		BinderOptions: []binder.Option{binder.WithSeedSource(func() int64 { return 42 })},
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })
	return &fixture{engine: e, backend: backend, store: store}
}

func (f *fixture) start(t *testing.T, ctx context.Context) {
	t.Helper()
	_, err := f.engine.StartProgressListener(ctx, ConnectionParams{})
	require.NoError(t, err)
	require.NoError(t, f.engine.WaitForConnection(ctx, 2*time.Second))
	require.NoError(t, f.engine.StartCompletionPolling(ctx, 0))
}

func TestEngine_GenerateAndAwait(t *testing.T) {
	// Arrange
	f := newFixture(t)
	f.backend.AutoRun = []string{"ComfyUI_00001_.png", "ComfyUI_00002_.png"}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	f.start(t, ctx)

	// Act
	rec, err := f.engine.Generate(ctx, "z_image_turbo", map[string]any{"prompt": "A cyberpunk city", "seed": 0})
	require.NoError(t, err)

	var mu sync.Mutex
	var labels []string
	done, err := f.engine.Await(ctx, rec.ID, func(r *task.Record) {
		mu.Lock()
		defer mu.Unlock()
		labels = append(labels, r.NodeStatus)
	})

	// Assert
	require.NoError(t, err)
	assert.Equal(t, task.StatusCompleted, done.Status)
	assert.Equal(t, "ComfyUI_00001_.png,ComfyUI_00002_.png", done.OutputFiles)
	assert.Equal(t, "Z Image Turbo", done.WorkflowName)
	assert.Equal(t, "A cyberpunk city", done.PromptText)

	prompts := f.backend.Prompts()
	require.Len(t, prompts, 1)
	assert.Equal(t, rec.ClientID, prompts[0].ClientID)
	assert.Equal(t, rec.JobID, prompts[0].JobID)
	sampler := prompts[0].Graph["57:3"].(map[string]any)["inputs"].(map[string]any)
	assert.Equal(t, xjson.Number("42"), sampler["seed"])

	urls := f.engine.ViewURLs(done)
	require.Len(t, urls, 2)
	assert.True(t, strings.HasSuffix(urls[0], "/view?filename=ComfyUI_00001_.png&type=output"))

	assert.Eventually(t, func() bool { return f.engine.interpreter.Counter().Len() == 0 },
		2*time.Second, 10*time.Millisecond, "a finished job leaves no counter entry")

	mu.Lock()
	defer mu.Unlock()
	assert.NotEmpty(t, labels)
}

func TestEngine_EventsForTheNewClientID(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	f.start(t, ctx)
	first := f.engine.listener().ClientID()

	rec, err := f.engine.Generate(ctx, "flux2klein", map[string]any{"prompt": "a fox"})
	require.NoError(t, err)
	assert.NotEqual(t, first, rec.ClientID)
	assert.Equal(t, rec.ClientID, f.engine.listener().ClientID())

	require.NoError(t, f.backend.Send(rec.ClientID, "progress", map[string]any{"prompt_id": rec.JobID, "value": 5, "max": 20}))
	require.Eventually(t, func() bool {
		got, err := f.store.Get(ctx, rec.ID)
		return err == nil && got.Progress == 25
	}, 5*time.Second, 10*time.Millisecond)

	f.backend.Complete(rec.JobID, "fox.png")
	done, err := f.engine.Await(ctx, rec.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, "fox.png", done.OutputFiles)

	require.NoError(t, f.backend.Send(rec.ClientID, "progress", map[string]any{"prompt_id": rec.JobID, "value": 1, "max": 20}))
	time.Sleep(50 * time.Millisecond)
	got, err := f.store.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, done, got, "late events leave a completed task alone")
}

func TestEngine_BackendFailure(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	f.start(t, ctx)

	rec, err := f.engine.Generate(ctx, "z_image_turbo", map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, "A beautiful landscape", rec.PromptText, "prompt text falls back to the default")

	f.backend.Fail(rec.JobID, "CUDA out of memory")
	done, err := f.engine.Await(ctx, rec.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, task.StatusFailed, done.Status)
	assert.Contains(t, done.NodeStatus, "CUDA out of memory")
}

func TestEngine_SubmitWithoutListener(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	doc, err := f.engine.BindGraph(ctx, "z_image_turbo", nil)
	require.NoError(t, err)

	_, err = f.engine.SubmitTask(ctx, doc, "z_image_turbo", "x")

	assert.ErrorIs(t, err, submit.ErrNotConnected)
	assert.Empty(t, f.backend.Prompts())
	all, err := f.store.ListAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
	assert.Equal(t, eventstream.StatusDisconnected, f.engine.ConnectionStatus())
}

func TestEngine_RejectedPrompt(t *testing.T) {
	f := newFixture(t)
	f.backend.RejectWith = 400
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	f.start(t, ctx)

	_, err := f.engine.Generate(ctx, "z_image_turbo", map[string]any{"prompt": "x"})

	assert.ErrorIs(t, err, submit.ErrRejected)
	all, err := f.store.ListAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestEngine_BindErrors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	doc, err := f.engine.BindGraph(ctx, "nope", nil)
	assert.ErrorIs(t, err, binder.ErrUnknownWorkflow)
	require.NotNil(t, doc)
	assert.True(t, doc.IsEmpty())

	_, err = f.engine.Generate(ctx, "z_image_turbo", map[string]any{"steps": 500})
	assert.ErrorIs(t, err, binder.ErrInvalidInput)
	assert.Empty(t, f.backend.Prompts())
}

func TestEngine_UploadImage(t *testing.T) {
	f := newFixture(t)

	name, err := f.engine.UploadImage(context.Background(), "ref.png", strings.NewReader("png"))

	require.NoError(t, err)
	assert.Equal(t, "ref.png", name)
	assert.Equal(t, []byte("png"), f.backend.Uploads()["ref.png"])
}

func TestEngine_Close(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.start(t, ctx)

	require.NoError(t, f.engine.Close())
	require.NoError(t, f.engine.Close())

	_, err := f.engine.StartProgressListener(ctx, ConnectionParams{})
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, f.engine.StartCompletionPolling(ctx, time.Second), ErrClosed)
	assert.Equal(t, eventstream.StatusDisconnected, f.engine.ConnectionStatus())
}

func TestNew_RequiresCollaborators(t *testing.T) {
	_, err := New(Deps{})
	assert.Error(t, err)
}
