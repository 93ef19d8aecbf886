package redisstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/vk/comfygrid/internal/task"
)

const (
	// DefaultPrefix namespaces every key the store writes.
	DefaultPrefix = "comfygrid:"

	maxTxRetries = 64
)

// Options configures New. Either Client or Addr must be set.
type Options struct {
	Addr   string
	Client *redis.Client
	Prefix string
	Logger *slog.Logger
}

// Store is a Redis-backed task.Store.
type Store struct {
	client    *redis.Client
	ownClient bool
	prefix    string
	logger    *slog.Logger

	watchers *task.Broadcaster

	mu       sync.Mutex
	pubMu    sync.Mutex
	sub      *redis.PubSub
	stopSub  context.CancelFunc
	subDone  chan struct{}
	isClosed bool
}

var _ task.Store = (*Store)(nil)

// New connects to Redis and verifies the connection with PING.
func New(ctx context.Context, opts Options) (*Store, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	prefix := opts.Prefix
	if prefix == "" {
		prefix = DefaultPrefix
	}

	client, own := opts.Client, false
	if client == nil {
		if opts.Addr == "" {
			return nil, errors.New("redisstore: address is required")
		}
		client, own = redis.NewClient(&redis.Options{Addr: opts.Addr}), true
	}
	if err := client.Ping(ctx).Err(); err != nil {
		if own {
			_ = client.Close()
		}
		return nil, fmt.Errorf("redisstore: ping: %w", err)
	}

	return &Store{
		client:    client,
		ownClient: own,
		prefix:    prefix,
		logger:    logger.With("component", "redisstore"),
		watchers:  task.NewBroadcaster(),
	}, nil
}

func (s *Store) taskKey(id string) string   { return s.prefix + "task:" + id }
func (s *Store) jobKey(jobID string) string { return s.prefix + "job:" + jobID }
func (s *Store) allKey() string             { return s.prefix + "tasks" }
func (s *Store) pendingKey() string         { return s.prefix + "pending" }
func (s *Store) channel() string            { return s.prefix + "changes" }

// watch runs fn under WATCH on keys, retrying when the transaction aborts.
func (s *Store) watch(ctx context.Context, fn func(tx *redis.Tx) error, keys ...string) error {
	for attempt := 0; attempt < maxTxRetries; attempt++ {
		err := s.client.Watch(ctx, fn, keys...)
		if errors.Is(err, redis.TxFailedErr) {
			s.logger.Debug("Transaction aborted by a concurrent write, retrying.", "attempt", attempt+1)
			continue
		}
		if errors.Is(err, redis.ErrClosed) {
			return task.ErrClosed
		}
		return err
	}
	return fmt.Errorf("redisstore: gave up after %d conflicting transactions", maxTxRetries)
}

func (s *Store) read(ctx context.Context, c redis.Cmdable, id string) (*task.Record, error) {
	data, err := c.Get(ctx, s.taskKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: id %s", task.ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return task.Decode(data)
}

// Insert adds a new record and its index entries.
func (s *Store) Insert(ctx context.Context, r *task.Record) error {
	data, err := task.Encode(r)
	if err != nil {
		return err
	}
	err = s.watch(ctx, func(tx *redis.Tx) error {
		n, err := tx.Exists(ctx, s.taskKey(r.ID)).Result()
		if err != nil {
			return err
		}
		if n > 0 {
			return fmt.Errorf("%w: id %s", task.ErrDuplicate, r.ID)
		}
		n, err = tx.Exists(ctx, s.jobKey(r.JobID)).Result()
		if err != nil {
			return err
		}
		if n > 0 {
			return fmt.Errorf("%w: job %s", task.ErrDuplicate, r.JobID)
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.Set(ctx, s.taskKey(r.ID), data, 0)
			p.Set(ctx, s.jobKey(r.JobID), r.ID, 0)
			p.SAdd(ctx, s.allKey(), r.ID)
			if r.IsPending() {
				p.SAdd(ctx, s.pendingKey(), r.ID)
			}
			p.Publish(ctx, s.channel(), r.ID)
			return nil
		})
		return err
	}, s.taskKey(r.ID), s.jobKey(r.JobID))
	if err != nil {
		return err
	}
	s.notifyLocal()
	return nil
}

// UpdateIfPending applies m with WATCH/MULTI on the record key.
func (s *Store) UpdateIfPending(ctx context.Context, id string, m task.Mutation) (*task.Record, bool, error) {
	var (
		result  *task.Record
		applied bool
	)
	err := s.watch(ctx, func(tx *redis.Tx) error {
		applied = false
		cur, err := s.read(ctx, tx, id)
		if err != nil {
			return err
		}
		if !cur.IsPending() {
			result = cur
			return nil
		}
		m.Apply(cur)
		data, err := task.Encode(cur)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.Set(ctx, s.taskKey(id), data, 0)
			if !cur.IsPending() {
				p.SRem(ctx, s.pendingKey(), id)
			}
			p.Publish(ctx, s.channel(), id)
			return nil
		})
		if err != nil {
			return err
		}
		result, applied = cur, true
		return nil
	}, s.taskKey(id))
	if err != nil {
		return nil, false, err
	}
	if applied {
		s.notifyLocal()
	}
	return result, applied, nil
}

// Get returns the record with the given ID.
func (s *Store) Get(ctx context.Context, id string) (*task.Record, error) {
	return s.read(ctx, s.client, id)
}

// GetByJobID resolves the job index and returns the record.
func (s *Store) GetByJobID(ctx context.Context, jobID string) (*task.Record, error) {
	id, err := s.client.Get(ctx, s.jobKey(jobID)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: job %s", task.ErrNotFound, jobID)
	}
	if err != nil {
		return nil, err
	}
	return s.read(ctx, s.client, id)
}

func (s *Store) members(ctx context.Context, setKey string) ([]*task.Record, error) {
	ids, err := s.client.SMembers(ctx, setKey).Result()
	if err != nil {
		return nil, err
	}
	out := make([]*task.Record, 0, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.taskKey(id)
	}
	vals, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}
	for i, v := range vals {
		str, ok := v.(string)
		if !ok {
			// Deleted between SMEMBERS and MGET.
			continue
		}
		rec, err := task.Decode([]byte(str))
		if err != nil {
			s.logger.Warn("Skipping unreadable task record.", "id", ids[i], "error", err)
			continue
		}
		out = append(out, rec)
	}
	task.SortNewestFirst(out)
	return out, nil
}

// ListPending returns every PENDING record.
func (s *Store) ListPending(ctx context.Context) ([]*task.Record, error) {
	recs, err := s.members(ctx, s.pendingKey())
	if err != nil {
		return nil, err
	}
	// The pending set may briefly lag the record itself.
	out := recs[:0]
	for _, r := range recs {
		if r.IsPending() {
			out = append(out, r)
		}
	}
	return out, nil
}

// ListAll returns every record, newest first.
func (s *Store) ListAll(ctx context.Context) ([]*task.Record, error) {
	return s.members(ctx, s.allKey())
}

// Watch streams ListAll snapshots. Writes made by other processes sharing
// the prefix are picked up through the changes channel.
func (s *Store) Watch(ctx context.Context) (<-chan []*task.Record, error) {
	if err := s.subscribe(); err != nil {
		return nil, err
	}
	s.pubMu.Lock()
	defer s.pubMu.Unlock()
	list, err := s.ListAll(ctx)
	if err != nil {
		return nil, err
	}
	return s.watchers.Subscribe(ctx, list)
}

// subscribe starts the changes listener once.
func (s *Store) subscribe() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.isClosed {
		return task.ErrClosed
	}
	if s.sub != nil {
		return nil
	}
	ctx, cancel := context.WithCancel(context.Background())
	sub := s.client.Subscribe(ctx, s.channel())
	if _, err := sub.Receive(ctx); err != nil {
		cancel()
		_ = sub.Close()
		return fmt.Errorf("redisstore: subscribe: %w", err)
	}
	s.sub, s.stopSub, s.subDone = sub, cancel, make(chan struct{})

	go func() {
		defer close(s.subDone)
		for range sub.Channel() {
			s.notifyLocal()
		}
	}()
	return nil
}

// Delete removes a record and its index entries.
func (s *Store) Delete(ctx context.Context, id string) error {
	err := s.watch(ctx, func(tx *redis.Tx) error {
		cur, err := s.read(ctx, tx, id)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.Del(ctx, s.taskKey(id), s.jobKey(cur.JobID))
			p.SRem(ctx, s.allKey(), id)
			p.SRem(ctx, s.pendingKey(), id)
			p.Publish(ctx, s.channel(), id)
			return nil
		})
		return err
	}, s.taskKey(id))
	if err != nil {
		return err
	}
	s.notifyLocal()
	return nil
}

// Close stops the listener and watchers. The client is closed only when the
// store created it.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.isClosed {
		s.mu.Unlock()
		return nil
	}
	s.isClosed = true
	sub, stop, done := s.sub, s.stopSub, s.subDone
	s.mu.Unlock()

	if sub != nil {
		stop()
		_ = sub.Close()
		<-done
	}
	s.watchers.Close()
	if s.ownClient {
		return s.client.Close()
	}
	return nil
}

func (s *Store) notifyLocal() {
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
