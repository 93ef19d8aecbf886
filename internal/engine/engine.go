package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/vk/comfygrid/internal/binder"
	"github.com/vk/comfygrid/internal/comfyapi"
	"github.com/vk/comfygrid/internal/config"
	"github.com/vk/comfygrid/internal/ctxlog"
	"github.com/vk/comfygrid/internal/eventstream"
	"github.com/vk/comfygrid/internal/graph"
	"github.com/vk/comfygrid/internal/progress"
	"github.com/vk/comfygrid/internal/reconciler"
	"github.com/vk/comfygrid/internal/submit"
	"github.com/vk/comfygrid/internal/task"
	"github.com/vk/comfygrid/internal/workflow"
)

// ErrClosed is returned after Close.
var ErrClosed = errors.New("engine closed")

// ConnectionParams locates the event feed. A zero Endpoint means the API
// client's backend; an empty ClientID draws a fresh one.
type ConnectionParams struct {
	Endpoint comfyapi.Endpoint
	ClientID string
}

// Deps are the collaborators an Engine is built from.
type Deps struct {
	Registry  *workflow.Registry
	Templates binder.TemplateLoader
	API       *comfyapi.Client
	Store     task.Store
	Settings  *config.Settings
	Logger    *slog.Logger
	// BinderOptions are passed to binder.New, e.g. a fixed seed source.
	BinderOptions []binder.Option
}

// Engine ties binding, submission, progress and completion together.
type Engine struct {
	registry    *workflow.Registry
	binder      *binder.Binder
	api         *comfyapi.Client
	store       task.Store
	settings    *config.Settings
	logger      *slog.Logger
	interpreter *progress.Interpreter
	submitter   *submit.Submitter

	mu         sync.Mutex
	conn       *eventstream.Conn
	reconciler *reconciler.Reconciler
	closed     bool
}

// New wires an engine. It starts nothing.
func New(d Deps) (*Engine, error) {
	if d.Registry == nil || d.Templates == nil || d.API == nil || d.Store == nil {
		return nil, errors.New("engine: registry, templates, api and store are required")
	}
	if d.Settings == nil {
		d.Settings = config.DefaultSettings()
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	e := &Engine{
		registry:    d.Registry,
		binder:      binder.New(d.Registry, d.Templates, d.BinderOptions...),
		api:         d.API,
		store:       d.Store,
		settings:    d.Settings,
		logger:      d.Logger,
		interpreter: progress.NewInterpreter(d.Store),
	}
	e.submitter = submit.New(e, d.API, d.Store, submit.WithConnectTimeout(d.Settings.Engine.ConnectTimeout))
	return e, nil
}

// Workflows lists the known workflow definitions in declaration order.
func (e *Engine) Workflows() []*config.WorkflowDefinition {
	return e.registry.List()
}

// Store exposes the task store.
func (e *Engine) Store() task.Store { return e.store }

// API exposes the backend client.
func (e *Engine) API() *comfyapi.Client { return e.api }

// BindGraph builds a submission-ready graph for a workflow.
func (e *Engine) BindGraph(ctx context.Context, workflowID string, inputs map[string]any) (*graph.Document, error) {
	return e.binder.Bind(e.withLogger(ctx), workflowID, inputs)
}

// SubmitTask posts a bound graph and records it as PENDING. The listener
// must be running.
func (e *Engine) SubmitTask(ctx context.Context, doc *graph.Document, workflowID, promptText string) (*task.Record, error) {
	name := workflowID
	if def, ok := e.registry.Get(workflowID); ok {
		name = def.Name
	}
	return e.submitter.Submit(e.withLogger(ctx), submit.Request{
		Graph:        doc,
		WorkflowID:   workflowID,
		WorkflowName: name,
		PromptText:   promptText,
	})
}

// Generate binds and submits in one call. The prompt input, when it is a
// string, becomes the record's prompt text.
func (e *Engine) Generate(ctx context.Context, workflowID string, inputs map[string]any) (*task.Record, error) {
	doc, err := e.BindGraph(ctx, workflowID, inputs)
	if err != nil {
		return nil, err
	}
	prompt, _ := inputs["prompt"].(string)
	if prompt == "" {
		if def, ok := e.registry.Get(workflowID); ok {
			if in, ok := def.Input("prompt"); ok && in.Default != nil && !in.Default.IsNull() {
				if v, err := e.registry.Converter().ToNative(*in.Default); err == nil {
					prompt, _ = v.(string)
				}
			}
		}
	}
	return e.SubmitTask(ctx, doc, workflowID, prompt)
}

// StartProgressListener connects the event feed and routes its messages
// to the progress interpreter. A running listener is replaced.
func (e *Engine) StartProgressListener(ctx context.Context, params ConnectionParams) (*eventstream.Conn, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, ErrClosed
	}
	if e.conn != nil {
		_ = e.conn.Close()
	}

	ep := params.Endpoint
	if ep.Host == "" {
		ep = e.api.Endpoint()
	}
	clientID := params.ClientID
	if clientID == "" {
		clientID = uuid.NewString()
	}

	conn := eventstream.New(func(id string) string { return comfyapi.WebSocketURL(ep, id) }, e.interpreter)
	if err := conn.Connect(e.withLogger(ctx), clientID); err != nil {
		return nil, err
	}
	e.conn = conn
	e.logger.Info("Progress listener started.", "client_id", clientID)
	return conn, nil
}

// StartCompletionPolling starts the reconcile loop. A non-positive interval
// uses the configured one.
func (e *Engine) StartCompletionPolling(ctx context.Context, interval time.Duration) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrClosed
	}
	if e.reconciler != nil {
		return nil
	}
	if interval <= 0 {
		interval = e.settings.Engine.PollInterval
	}
	e.reconciler = reconciler.New(e.store, e.api, reconciler.Config{
		Interval:           interval,
		FailOnBackendError: e.settings.Engine.FailOnBackendError,
		Logger:             e.logger,
	})
	e.reconciler.Start(ctx)
	return nil
}

// Reconnect implements submit.Stream on whichever listener is running.
func (e *Engine) Reconnect(clientID string) error {
	conn := e.listener()
	if conn == nil {
		return eventstream.ErrNotStarted
	}
	return conn.Reconnect(clientID)
}

// WaitForConnection implements submit.Stream.
func (e *Engine) WaitForConnection(ctx context.Context, timeout time.Duration) error {
	conn := e.listener()
	if conn == nil {
		return eventstream.ErrNotStarted
	}
	return conn.WaitForConnection(ctx, timeout)
}

// ConnectionStatus reports the listener state.
func (e *Engine) ConnectionStatus() eventstream.Status {
	conn := e.listener()
	if conn == nil {
		return eventstream.StatusDisconnected
	}
	return conn.Status()
}

func (e *Engine) listener() *eventstream.Conn {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.conn
}

// UploadImage stores a reference image on the backend and returns the name
// to pass as an image input.
func (e *Engine) UploadImage(ctx context.Context, name string, r io.Reader) (string, error) {
	resp, err := e.api.UploadImage(e.withLogger(ctx), name, r)
	if err != nil {
		return "", err
	}
	if resp.Subfolder != "" {
		return resp.Subfolder + "/" + resp.Name, nil
	}
	return resp.Name, nil
}

// ViewURLs returns the download URLs of a completed record's files.
func (e *Engine) ViewURLs(rec *task.Record) []string {
	files := rec.Files()
	urls := make([]string, len(files))
	for i, f := range files {
		urls[i] = e.api.ViewURL(f)
	}
	return urls
}

// Await blocks until the task leaves PENDING, reporting every intermediate
// state to onUpdate when it is non-nil.
func (e *Engine) Await(ctx context.Context, taskID string, onUpdate func(*task.Record)) (*task.Record, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	updates, err := e.store.Watch(ctx)
	if err != nil {
		return nil, err
	}
	var last *task.Record
	for {
		select {
		case <-ctx.Done():
			return last, ctx.Err()
		case list, ok := <-updates:
			if !ok {
				if err := ctx.Err(); err != nil {
					return last, err
				}
				return last, ErrClosed
			}
			rec := find(list, taskID)
			if rec == nil {
				return nil, fmt.Errorf("%w: id %s", task.ErrNotFound, taskID)
			}
			if onUpdate != nil && !sameProgress(last, rec) {
				onUpdate(rec)
			}
			last = rec
			if !rec.IsPending() {
				return rec, nil
			}
		}
	}
}

func find(list []*task.Record, id string) *task.Record {
	for _, r := range list {
		if r.ID == id {
			return r
		}
	}
	return nil
}

func sameProgress(a, b *task.Record) bool {
	return a != nil && a.Status == b.Status && a.NodeStatus == b.NodeStatus && a.Progress == b.Progress
}

// Close stops the poll loop and the listener. The store and the API client
// belong to the caller.
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	conn, rec := e.conn, e.reconciler
	e.mu.Unlock()

	if rec != nil {
		rec.Stop()
	}
	if conn != nil {
		_ = conn.Close()
	}
	e.logger.Debug("Engine closed.")
	return nil
}

func (e *Engine) withLogger(ctx context.Context) context.Context {
	if ctxlog.FromContext(ctx) == slog.Default() {
		return ctxlog.WithLogger(ctx, e.logger)
	}
	return ctx
}
