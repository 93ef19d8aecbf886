package badgerstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/dgraph-io/badger/v3"
	"github.com/vk/comfygrid/internal/task"
)

const (
	taskPrefix = "task/"
	jobPrefix  = "job/"

	maxConflictRetries = 64
)

// Options configures Open.
type Options struct {
	// Path is the database directory. Ignored when InMemory is set.
	Path     string
	InMemory bool
	Logger   *slog.Logger
}

// Store is a Badger-backed task.Store.
type Store struct {
	db     *badger.DB
	logger *slog.Logger

	pubMu    sync.Mutex
	watchers *task.Broadcaster
}

var _ task.Store = (*Store)(nil)

// Open opens or creates the database.
func Open(opts Options) (*Store, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "badgerstore")

	var bopts badger.Options
	if opts.InMemory {
		bopts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if opts.Path == "" {
			return nil, errors.New("badgerstore: path is required")
		}
		if err := os.MkdirAll(opts.Path, 0o755); err != nil {
			return nil, fmt.Errorf("badgerstore: create %s: %w", opts.Path, err)
		}
		bopts = badger.DefaultOptions(opts.Path)
	}
	bopts.Logger = &badgerLogger{logger: logger}

	db, err := badger.Open(bopts)
	if err != nil {
		return nil, fmt.Errorf("badgerstore: open: %w", err)
	}
	logger.Debug("Badger task store opened.", "path", opts.Path, "in_memory", opts.InMemory)
	return &Store{db: db, logger: logger, watchers: task.NewBroadcaster()}, nil
}

func taskKey(id string) []byte   { return []byte(taskPrefix + id) }
func jobKey(jobID string) []byte { return []byte(jobPrefix + jobID) }

// update runs fn in a read-write transaction, retrying on conflicts.
func (s *Store) update(fn func(txn *badger.Txn) error) error {
	for attempt := 0; ; attempt++ {
		err := s.db.Update(fn)
		if errors.Is(err, badger.ErrConflict) && attempt < maxConflictRetries {
			s.logger.Debug("Transaction conflict, retrying.", "attempt", attempt+1)
			continue
		}
		if errors.Is(err, badger.ErrDBClosed) {
			return task.ErrClosed
		}
		return err
	}
}

func readRecord(txn *badger.Txn, id string) (*task.Record, error) {
	item, err := txn.Get(taskKey(id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("%w: id %s", task.ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	var rec *task.Record
	err = item.Value(func(val []byte) error {
		var derr error
		rec, derr = task.Decode(val)
		return derr
	})
	return rec, err
}

func writeRecord(txn *badger.Txn, r *task.Record) error {
	data, err := task.Encode(r)
	if err != nil {
		return err
	}
	return txn.Set(taskKey(r.ID), data)
}

// Insert adds a new record and its job index entry.
func (s *Store) Insert(ctx context.Context, r *task.Record) error {
	err := s.update(func(txn *badger.Txn) error {
		if _, err := txn.Get(taskKey(r.ID)); err == nil {
			return fmt.Errorf("%w: id %s", task.ErrDuplicate, r.ID)
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		if _, err := txn.Get(jobKey(r.JobID)); err == nil {
			return fmt.Errorf("%w: job %s", task.ErrDuplicate, r.JobID)
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		if err := writeRecord(txn, r); err != nil {
			return err
		}
		return txn.Set(jobKey(r.JobID), []byte(r.ID))
	})
	if err != nil {
		return err
	}
	s.publish()
	return nil
}

// UpdateIfPending applies m inside one transaction.
func (s *Store) UpdateIfPending(ctx context.Context, id string, m task.Mutation) (*task.Record, bool, error) {
	var (
		result  *task.Record
		applied bool
	)
	err := s.update(func(txn *badger.Txn) error {
		applied = false
		cur, err := readRecord(txn, id)
		if err != nil {
			return err
		}
		if !cur.IsPending() {
			result = cur
			return nil
		}
		m.Apply(cur)
		if err := writeRecord(txn, cur); err != nil {
			return err
		}
		result, applied = cur, true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	if applied {
		s.publish()
	}
	return result, applied, nil
}

// Get returns the record with the given ID.
func (s *Store) Get(ctx context.Context, id string) (*task.Record, error) {
	var rec *task.Record
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		rec, err = readRecord(txn, id)
		return err
	})
	return rec, err
}

// GetByJobID resolves the job index and returns the record.
func (s *Store) GetByJobID(ctx context.Context, jobID string) (*task.Record, error) {
	var rec *task.Record
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(jobKey(jobID))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("%w: job %s", task.ErrNotFound, jobID)
		}
		if err != nil {
			return err
		}
		id, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		rec, err = readRecord(txn, string(id))
		return err
	})
	return rec, err
}

func (s *Store) scan(keep func(*task.Record) bool) ([]*task.Record, error) {
	out := make([]*task.Record, 0)
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(taskPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			err := item.Value(func(val []byte) error {
				rec, err := task.Decode(val)
				if err != nil {
					s.logger.Warn("Skipping unreadable task record.", "key", strings.TrimPrefix(string(item.Key()), taskPrefix), "error", err)
					return nil
				}
				if keep(rec) {
					out = append(out, rec)
				}
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	task.SortNewestFirst(out)
	return out, nil
}

// ListPending returns every PENDING record.
func (s *Store) ListPending(ctx context.Context) ([]*task.Record, error) {
	return s.scan((*task.Record).IsPending)
}

// ListAll returns every record, newest first.
func (s *Store) ListAll(ctx context.Context) ([]*task.Record, error) {
	return s.scan(func(*task.Record) bool { return true })
}

// Watch streams ListAll snapshots.
func (s *Store) Watch(ctx context.Context) (<-chan []*task.Record, error) {
	s.pubMu.Lock()
	defer s.pubMu.Unlock()
	list, err := s.ListAll(ctx)
	if err != nil {
		return nil, err
	}
	return s.watchers.Subscribe(ctx, list)
}

// Delete removes a record and its job index entry.
func (s *Store) Delete(ctx context.Context, id string) error {
	err := s.update(func(txn *badger.Txn) error {
		cur, err := readRecord(txn, id)
		if err != nil {
			return err
		}
		if err := txn.Delete(taskKey(id)); err != nil {
			return err
		}
		return txn.Delete(jobKey(cur.JobID))
	})
	if err != nil {
		return err
	}
	s.publish()
	return nil
}

// Close stops watchers and closes the database.
func (s *Store) Close() error {
	s.watchers.Close()
	return s.db.Close()
}

// publish sends a fresh snapshot. Holding pubMu while reading keeps a stale
// snapshot from overtaking a newer one.
func (s *Store) publish() {
	if !s.watchers.Active() {
		return
	}
	s.pubMu.Lock()
	defer s.pubMu.Unlock()
	list, err := s.ListAll(context.Background())
	if err != nil {
		s.logger.Warn("Failed to snapshot tasks for watchers.", "error", err)
		return
	}
	s.watchers.Publish(list)
}
