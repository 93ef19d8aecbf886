package redisstore

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/comfygrid/internal/task"
	"github.com/vk/comfygrid/internal/task/tasktest"
)

// redisAddr returns the test server address or skips the test.
func redisAddr(t *testing.T) string {
	t.Helper()
	addr := os.Getenv("COMFYGRID_TEST_REDIS")
	if addr == "" {
		t.Skip("COMFYGRID_TEST_REDIS not set")
	}
	return addr
}

// openIsolated opens a store under a random prefix and removes its keys
// when the test ends.
func openIsolated(t *testing.T, addr string) *Store {
	t.Helper()
	ctx := context.Background()
	prefix := "comfygrid-test:" + uuid.NewString() + ":"
	s, err := New(ctx, Options{Addr: addr, Prefix: prefix})
	require.NoError(t, err)

	t.Cleanup(func() {
		c := redis.NewClient(&redis.Options{Addr: addr})
		defer c.Close()
		keys, err := c.Keys(ctx, prefix+"*").Result()
		if err == nil && len(keys) > 0 {
			c.Del(ctx, keys...)
		}
	})
	return s
}

func TestStore(t *testing.T) {
	addr := redisAddr(t)
	tasktest.Run(t, func(t *testing.T) task.Store {
		return openIsolated(t, addr)
	})
}

func TestStore_SharedPrefixSeesOtherWriters(t *testing.T) {
	addr := redisAddr(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a := openIsolated(t, addr)
	defer a.Close()
	b, err := New(ctx, Options{Addr: addr, Prefix: a.prefix})
	require.NoError(t, err)
	defer b.Close()

	ch, err := a.Watch(ctx)
	require.NoError(t, err)
	<-ch

	rec := tasktest.NewRecord("job-1", 0)
	require.NoError(t, b.Insert(ctx, rec))

	select {
	case list := <-ch:
		require.Len(t, list, 1)
		assert.Equal(t, rec.ID, list[0].ID)
	case <-time.After(5 * time.Second):
		t.Fatal("no update from the other writer")
	}
}

func TestNew_RequiresAddress(t *testing.T) {
	_, err := New(context.Background(), Options{})
	assert.Error(t, err)
}
