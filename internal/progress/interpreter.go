package progress

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/vk/comfygrid/internal/ctxlog"
	"github.com/vk/comfygrid/internal/task"
	"github.com/vk/comfygrid/internal/xjson"
)

// ErrMalformed marks a message that could not be interpreted.
var ErrMalformed = errors.New("malformed event")

// Interpreter applies feed messages to the task store.
type Interpreter struct {
	store   task.Store
	counter *Counter
}

// NewInterpreter creates an interpreter writing to store.
func NewInterpreter(store task.Store) *Interpreter {
	return &Interpreter{store: store, counter: NewCounter()}
}

// Counter exposes the node-visit counter.
func (in *Interpreter) Counter() *Counter { return in.counter }

// HandleMessage interprets one text frame. Malformed frames are logged and
// dropped.
func (in *Interpreter) HandleMessage(ctx context.Context, raw []byte) {
	if err := in.Handle(ctx, raw); err != nil {
		level := slog.LevelWarn
		if errors.Is(err, ErrMalformed) {
			level = slog.LevelDebug
		}
		ctxlog.FromContext(ctx).Log(ctx, level, "Dropped event.", "error", err)
	}
}

// Handle interprets one frame and reports why it was dropped, if it was.
func (in *Interpreter) Handle(ctx context.Context, raw []byte) error {
	var env envelope
	if err := xjson.Unmarshal(raw, &env); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if env.Type == "" {
		return fmt.Errorf("%w: missing type", ErrMalformed)
	}

	switch env.Type {
	case KindExecutionStart:
		var d promptData
		if err := decode(env, &d); err != nil {
			return err
		}
		return in.update(ctx, d.PromptID, func() (task.Mutation, bool) {
			in.counter.Reset(d.PromptID)
			return task.Progressed(labelStarted, 0, 0, 0), true
		})

	case KindExecuting:
		var d executingData
		if err := decode(env, &d); err != nil {
			return err
		}
		return in.update(ctx, d.PromptID, func() (task.Mutation, bool) {
			if d.Node == nil {
				// End of prompt. It may follow execution_success, so it
				// never re-creates a forgotten entry.
				n, ok := in.counter.Advance(d.PromptID)
				if !ok {
					return task.Mutation{}, false
				}
				return task.Progressed(nodeLabel(nil, n), task.PreserveProgress, 0, 0), true
			}
			n := in.counter.Next(d.PromptID)
			return task.Progressed(nodeLabel(d.Node, n), task.PreserveProgress, 0, 0), true
		})

	case KindProgress:
		var d progressData
		if err := decode(env, &d); err != nil {
			return err
		}
		if d.Value == nil || d.Max == nil || *d.Max <= 0 {
			return fmt.Errorf("%w: progress without a usable value/max", ErrMalformed)
		}
		value, max := int(*d.Value), int(*d.Max)
		return in.update(ctx, d.PromptID, func() (task.Mutation, bool) {
			label := samplingLabel(value, max, in.counter.Current(d.PromptID))
			return task.Progressed(label, percent(*d.Value, *d.Max), value, max), true
		})

	case KindExecutionSuccess:
		var d promptData
		if err := decode(env, &d); err != nil {
			return err
		}
		in.counter.Forget(d.PromptID)
		return in.set(ctx, d.PromptID, task.Progressed(labelFinalizing, 100, 0, 0))

	case KindExecutionError:
		var d errorData
		if err := decode(env, &d); err != nil {
			return err
		}
		in.counter.Forget(d.PromptID)
		return in.set(ctx, d.PromptID, task.Labeled("Failed: "+errorReason(d)))

	case KindExecutionInterrupted:
		var d promptData
		if err := decode(env, &d); err != nil {
			return err
		}
		in.counter.Forget(d.PromptID)
		return in.set(ctx, d.PromptID, task.Labeled(labelInterrupted))

	case KindExecutionCached:
		var d cachedData
		if err := xjson.Unmarshal(env.Data, &d); err == nil {
			ctxlog.FromContext(ctx).Debug("Nodes served from cache.", "job_id", d.PromptID, "nodes", len(d.Nodes))
		}
		return nil

	case KindStatus:
		var d statusData
		if err := xjson.Unmarshal(env.Data, &d); err == nil {
			ctxlog.FromContext(ctx).Debug("Backend queue status.", "queue_remaining", d.Status.ExecInfo.QueueRemaining)
		}
		return nil

	default:
		ctxlog.FromContext(ctx).Debug("Ignoring event.", "type", env.Type)
		return nil
	}
}

// promptIDer is implemented by every payload that names a job.
type promptIDer interface{ jobID() string }

func (d *promptData) jobID() string    { return d.PromptID }
func (d *executingData) jobID() string { return d.PromptID }
func (d *progressData) jobID() string  { return d.PromptID }
func (d *errorData) jobID() string     { return d.PromptID }

// decode unmarshals the payload and requires a prompt id.
func decode(env envelope, d promptIDer) error {
	if len(env.Data) == 0 {
		return fmt.Errorf("%w: %s without data", ErrMalformed, env.Type)
	}
	if err := xjson.Unmarshal(env.Data, d); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrMalformed, env.Type, err)
	}
	if d.jobID() == "" {
		return fmt.Errorf("%w: %s without prompt_id", ErrMalformed, env.Type)
	}
	return nil
}

// set writes m to the record of jobID if it is still PENDING.
func (in *Interpreter) set(ctx context.Context, jobID string, m task.Mutation) error {
	return in.update(ctx, jobID, func() (task.Mutation, bool) { return m, true })
}

// update looks up the record of jobID and, while it is PENDING, writes the
// mutation build returns. build runs only for recorded pending jobs, so
// counter state never grows for jobs this process does not track. A false
// second result skips the write.
func (in *Interpreter) update(ctx context.Context, jobID string, build func() (task.Mutation, bool)) error {
	logger := ctxlog.FromContext(ctx).With("job_id", jobID)
	rec, err := in.store.GetByJobID(ctx, jobID)
	if task.IsNotFound(err) {
		logger.Debug("Event for an unknown job.")
		return nil
	}
	if err != nil {
		return fmt.Errorf("look up job %s: %w", jobID, err)
	}
	if !rec.IsPending() {
		in.counter.Forget(jobID)
		logger.Debug("Event after the task left PENDING; ignored.")
		return nil
	}
	m, ok := build()
	if !ok {
		logger.Debug("Event carries nothing to record.")
		return nil
	}
	_, applied, err := in.store.UpdateIfPending(ctx, rec.ID, m)
	if err != nil {
		return fmt.Errorf("update task %s: %w", rec.ID, err)
	}
	if !applied {
		in.counter.Forget(jobID)
		logger.Debug("Event after the task left PENDING; ignored.")
	}
	return nil
}
