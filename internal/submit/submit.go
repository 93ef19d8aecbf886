package submit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/vk/comfygrid/internal/comfyapi"
	"github.com/vk/comfygrid/internal/ctxlog"
	"github.com/vk/comfygrid/internal/graph"
	"github.com/vk/comfygrid/internal/task"
)

// DefaultConnectTimeout bounds the wait for the event stream.
const DefaultConnectTimeout = 5 * time.Second

// Stream is the event feed connection.
type Stream interface {
	Reconnect(clientID string) error
	WaitForConnection(ctx context.Context, timeout time.Duration) error
}

// Queuer posts graphs to the backend.
type Queuer interface {
	QueuePrompt(ctx context.Context, req comfyapi.PromptRequest) (*comfyapi.PromptResponse, error)
}

// Request is one submission.
type Request struct {
	Graph        *graph.Document
	WorkflowID   string
	WorkflowName string
	PromptText   string
}

// Option configures a Submitter.
type Option func(*Submitter)

// WithConnectTimeout overrides DefaultConnectTimeout.
func WithConnectTimeout(d time.Duration) Option {
	return func(s *Submitter) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithClock replaces time.Now for record timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Submitter) { s.now = now }
}

// WithIDSource replaces the correlation id generator.
func WithIDSource(next func() string) Option {
	return func(s *Submitter) { s.newID = next }
}

// Submitter performs submissions.
type Submitter struct {
	// mu holds the stream on one correlation id from reconnect until the
	// backend has the job.
	mu sync.Mutex

	stream  Stream
	api     Queuer
	store   task.Store
	timeout time.Duration
	now     func() time.Time
	newID   func() string
}

// New creates a Submitter.
func New(stream Stream, api Queuer, store task.Store, opts ...Option) *Submitter {
	s := &Submitter{
		stream:  stream,
		api:     api,
		store:   store,
		timeout: DefaultConnectTimeout,
		now:     time.Now,
		newID:   uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Submit reconnects the stream under a fresh correlation id, posts the
// graph and records exactly one PENDING task. No record is created when
// any step fails.
func (s *Submitter) Submit(ctx context.Context, req Request) (*task.Record, error) {
	if req.Graph == nil || req.Graph.IsEmpty() {
		return nil, &SubmissionError{Op: "validate", Err: ErrEmptyGraph}
	}

	clientID := s.newID()
	ctx, logger := ctxlog.With(ctx, "client_id", clientID, "workflow", req.WorkflowID)

	resp, err := s.queue(ctx, clientID, req.Graph)
	if err != nil {
		return nil, err
	}

	rec := task.NewRecord(resp.PromptID, clientID, req.WorkflowID, req.WorkflowName, req.PromptText, s.now())
	if err := s.store.Insert(ctx, rec); err != nil {
		logger.Error("Backend accepted the job but recording it failed.", "job_id", resp.PromptID, "error", err)
		return nil, &SubmissionError{Op: "record", Err: err}
	}
	logger.Info("Task submitted.", "task_id", rec.ID, "job_id", rec.JobID, "queue_number", resp.Number)
	return rec, nil
}

// queue reconnects under clientID and posts doc. Concurrent submissions
// take turns so each job is queued while its own id is the live one.
func (s *Submitter) queue(ctx context.Context, clientID string, doc *graph.Document) (*comfyapi.PromptResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	logger := ctxlog.FromContext(ctx)

	if err := s.stream.Reconnect(clientID); err != nil {
		return nil, &SubmissionError{Op: "connect", Err: fmt.Errorf("%w: %v", ErrNotConnected, err)}
	}
	if err := s.stream.WaitForConnection(ctx, s.timeout); err != nil {
		logger.Warn("Event stream did not connect; submission aborted.", "timeout", s.timeout, "error", err)
		return nil, &SubmissionError{Op: "connect", Err: fmt.Errorf("%w: %v", ErrNotConnected, err)}
	}

	resp, err := s.api.QueuePrompt(ctx, comfyapi.PromptRequest{ClientID: clientID, Prompt: doc})
	if err != nil {
		if _, ok := comfyapi.IsAPIError(err); ok {
			err = fmt.Errorf("%w: %w", ErrRejected, err)
		}
		return nil, &SubmissionError{Op: "queue", Err: err}
	}
	return resp, nil
}
