package reconciler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/vk/comfygrid/internal/comfyapi"
	"github.com/vk/comfygrid/internal/ctxlog"
	"github.com/vk/comfygrid/internal/task"
)

// DefaultInterval is the pause between ticks.
const DefaultInterval = 3 * time.Second

// HistorySource fetches a job's execution history.
type HistorySource interface {
	History(ctx context.Context, promptID string) (comfyapi.History, error)
}

// Config tunes a Reconciler.
type Config struct {
	Interval time.Duration
	// FailOnBackendError marks a task FAILED when the backend recorded an
	// execution error for it. Otherwise such tasks stay PENDING.
	FailOnBackendError bool
	Logger             *slog.Logger
}

// Stats summarizes one tick.
type Stats struct {
	Checked   int
	Completed int
	Failed    int
	Errors    int
}

// Reconciler is the completion poll loop.
type Reconciler struct {
	store   task.Store
	history HistorySource
	cfg     Config
	logger  *slog.Logger

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// New creates a stopped reconciler.
func New(store task.Store, history HistorySource, cfg Config) *Reconciler {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Reconciler{
		store:   store,
		history: history,
		cfg:     cfg,
		logger:  cfg.Logger.With("component", "reconciler"),
	}
}

// Start launches the loop. It ticks once immediately, then every interval,
// until ctx is done or Stop is called. Starting twice is a no-op.
func (r *Reconciler) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return
	}
	r.running = true
	r.stopCh = make(chan struct{})

	r.wg.Add(1)
	go r.loop(ctx, r.stopCh)
	r.logger.Info("Completion polling started.", "interval", r.cfg.Interval)
}

// Stop ends the loop and waits for the current tick to finish.
func (r *Reconciler) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	close(r.stopCh)
	r.mu.Unlock()

	r.wg.Wait()
	r.logger.Info("Completion polling stopped.")
}

func (r *Reconciler) loop(ctx context.Context, stop <-chan struct{}) {
	defer r.wg.Done()
	ctx = ctxlog.WithLogger(ctx, r.logger)

	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()
	for {
		if _, err := r.Tick(ctx); err != nil && ctx.Err() == nil {
			r.logger.Error("Poll tick failed.", "error", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
		}
	}
}

// Tick checks every PENDING task once. Per-task failures are logged and
// counted; only a failure to list tasks is returned.
func (r *Reconciler) Tick(ctx context.Context) (Stats, error) {
	var stats Stats
	pending, err := r.store.ListPending(ctx)
	if err != nil {
		return stats, fmt.Errorf("list pending tasks: %w", err)
	}
	if len(pending) > 0 {
		ctxlog.FromContext(ctx).Debug("Checking pending tasks.", "count", len(pending))
	}
	for _, rec := range pending {
		if ctx.Err() != nil {
			return stats, ctx.Err()
		}
		stats.Checked++
		outcome, err := r.check(ctx, rec)
		if err != nil {
			stats.Errors++
			ctxlog.FromContext(ctx).Warn("Failed to check task.", "task_id", rec.ID, "job_id", rec.JobID, "error", err)
			continue
		}
		switch outcome {
		case task.StatusCompleted:
			stats.Completed++
		case task.StatusFailed:
			stats.Failed++
		}
	}
	return stats, nil
}

// check reconciles one task and returns the status it moved to, or "" if
// it stayed PENDING.
func (r *Reconciler) check(ctx context.Context, rec *task.Record) (task.Status, error) {
	logger := ctxlog.FromContext(ctx).With("task_id", rec.ID, "job_id", rec.JobID)

	h, err := r.history.History(ctx, rec.JobID)
	if err != nil {
		return "", err
	}
	entry, ok := h[rec.JobID]
	if !ok || entry == nil {
		return "", nil
	}

	var m task.Mutation
	switch files := entry.Filenames(); {
	case len(files) > 0:
		m = task.Completed(files)
	case entry.Status.Failed() && r.cfg.FailOnBackendError:
		reason := entry.Status.ErrorMessage()
		if reason == "" {
			reason = "backend reported an execution error"
		}
		m = task.Failed(reason)
	default:
		logger.Debug("History present without images; leaving PENDING.", "backend_status", entry.Status.StatusStr)
		return "", nil
	}

	_, applied, err := r.store.UpdateIfPending(ctx, rec.ID, m)
	if err != nil {
		if errors.Is(err, task.ErrNotFound) {
			// Deleted while we were asking.
			return "", nil
		}
		return "", err
	}
	if !applied {
		return "", nil
	}
	if m.OutputFiles != nil {
		logger.Info("Task finished.", "status", m.Status, "files", *m.OutputFiles)
	} else {
		logger.Info("Task finished.", "status", m.Status)
	}
	return m.Status, nil
}
