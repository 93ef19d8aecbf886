package task

import (
	"context"
	"sync"
)

// Broadcaster fans list snapshots out to watchers. Each watcher channel
// holds at most one pending snapshot; a newer one replaces it.
type Broadcaster struct {
	mu     sync.Mutex
	subs   map[chan []*Record]struct{}
	closed bool
}

// NewBroadcaster creates an empty broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subs: make(map[chan []*Record]struct{})}
}

// Subscribe registers a watcher primed with initial. The channel is closed
// when ctx is done or the broadcaster is closed.
func (b *Broadcaster) Subscribe(ctx context.Context, initial []*Record) (<-chan []*Record, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}
	ch := make(chan []*Record, 1)
	ch <- initial
	b.subs[ch] = struct{}{}

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		defer b.mu.Unlock()
		if _, ok := b.subs[ch]; ok {
			delete(b.subs, ch)
			close(ch)
		}
	}()
	return ch, nil
}

// Publish hands a snapshot to every watcher without blocking.
func (b *Broadcaster) Publish(list []*Record) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs {
		select {
		case <-ch:
		default:
		}
		ch <- cloneAll(list)
	}
}

// Active reports whether anyone is watching.
func (b *Broadcaster) Active() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs) > 0
}

// Close closes every watcher channel.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for ch := range b.subs {
		delete(b.subs, ch)
		close(ch)
	}
}

func cloneAll(list []*Record) []*Record {
	out := make([]*Record, len(list))
	for i, r := range list {
		out[i] = r.Clone()
	}
	return out
}
