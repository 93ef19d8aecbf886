package inmemorystore

import (
	"context"
	"fmt"
	"sync"

	"github.com/vk/comfygrid/internal/task"
)

// Store is an in-memory implementation of task.Store.
type Store struct {
	mu     sync.RWMutex
	byID   map[string]*task.Record
	byJob  map[string]string // job ID -> record ID
	closed bool

	watchers *task.Broadcaster
}

// New creates a new, empty in-memory task store.
func New() *Store {
	return &Store{
		byID:     make(map[string]*task.Record),
		byJob:    make(map[string]string),
		watchers: task.NewBroadcaster(),
	}
}

var _ task.Store = (*Store)(nil)

// Insert adds a new record.
func (s *Store) Insert(ctx context.Context, r *task.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return task.ErrClosed
	}
	if _, exists := s.byID[r.ID]; exists {
		return fmt.Errorf("%w: id %s", task.ErrDuplicate, r.ID)
	}
	if _, exists := s.byJob[r.JobID]; exists {
		return fmt.Errorf("%w: job %s", task.ErrDuplicate, r.JobID)
	}
	s.byID[r.ID] = r.Clone()
	s.byJob[r.JobID] = r.ID
	s.publishLocked()
	return nil
}

// UpdateIfPending applies m under the write lock.
func (s *Store) UpdateIfPending(ctx context.Context, id string, m task.Mutation) (*task.Record, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, false, task.ErrClosed
	}
	cur, ok := s.byID[id]
	if !ok {
		return nil, false, fmt.Errorf("%w: id %s", task.ErrNotFound, id)
	}
	if !cur.IsPending() {
		return cur.Clone(), false, nil
	}
	next := cur.Clone()
	m.Apply(next)
	s.byID[id] = next
	s.publishLocked()
	return next.Clone(), true, nil
}

// Get returns the record with the given ID.
func (s *Store) Get(ctx context.Context, id string) (*task.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: id %s", task.ErrNotFound, id)
	}
	return r.Clone(), nil
}

// GetByJobID returns the record for a backend job ID.
func (s *Store) GetByJobID(ctx context.Context, jobID string) (*task.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byJob[jobID]
	if !ok {
		return nil, fmt.Errorf("%w: job %s", task.ErrNotFound, jobID)
	}
	return s.byID[id].Clone(), nil
}

// ListPending returns every PENDING record.
func (s *Store) ListPending(ctx context.Context) ([]*task.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*task.Record
	for _, r := range s.byID {
		if r.IsPending() {
			out = append(out, r.Clone())
		}
	}
	task.SortNewestFirst(out)
	return out, nil
}

// ListAll returns every record, newest first.
func (s *Store) ListAll(ctx context.Context) ([]*task.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked(), nil
}

// Watch streams ListAll snapshots.
func (s *Store) Watch(ctx context.Context) (<-chan []*task.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.watchers.Subscribe(ctx, s.snapshotLocked())
}

// Delete removes a record.
func (s *Store) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.byID[id]
	if !ok {
		return fmt.Errorf("%w: id %s", task.ErrNotFound, id)
	}
	delete(s.byID, id)
	delete(s.byJob, r.JobID)
	s.publishLocked()
	return nil
}

// Close stops every watcher. Further writes fail with task.ErrClosed.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.watchers.Close()
	return nil
}

func (s *Store) snapshotLocked() []*task.Record {
	out := make([]*task.Record, 0, len(s.byID))
	for _, r := range s.byID {
		out = append(out, r.Clone())
	}
	task.SortNewestFirst(out)
	return out
}

func (s *Store) publishLocked() {
	if s.watchers.Active() {
		s.watchers.Publish(s.snapshotLocked())
	}
}
