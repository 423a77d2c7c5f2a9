package kv

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}

	t.Run("put then get", func(t *testing.T) {
		store := NewMemoryStore().WithClock(clock.Now)
		require.NoError(t, store.Put(ctx, "pair:1", []byte("v1"), time.Minute))

		value, err := store.Get(ctx, "pair:1")
		require.NoError(t, err)
		assert.Equal(t, []byte("v1"), value)
	})

	t.Run("missing key is not found", func(t *testing.T) {
		store := NewMemoryStore()
		_, err := store.Get(ctx, "nope")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("expired key is not found without delete", func(t *testing.T) {
		store := NewMemoryStore().WithClock(clock.Now)
		require.NoError(t, store.Put(ctx, "pair:2", []byte("v"), time.Minute))

		clock.Advance(59 * time.Second)
		_, err := store.Get(ctx, "pair:2")
		require.NoError(t, err)

		clock.Advance(time.Second)
		_, err = store.Get(ctx, "pair:2")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("put renews ttl", func(t *testing.T) {
		store := NewMemoryStore().WithClock(clock.Now)
		require.NoError(t, store.Put(ctx, "token:a", []byte("v"), time.Minute))
		clock.Advance(50 * time.Second)
		require.NoError(t, store.Put(ctx, "token:a", []byte("v2"), time.Minute))
		clock.Advance(50 * time.Second)

		value, err := store.Get(ctx, "token:a")
		require.NoError(t, err)
		assert.Equal(t, []byte("v2"), value)
	})

	t.Run("zero ttl never expires", func(t *testing.T) {
		store := NewMemoryStore().WithClock(clock.Now)
		require.NoError(t, store.Put(ctx, "k", []byte("v"), 0))
		clock.Advance(365 * 24 * time.Hour)

		_, err := store.Get(ctx, "k")
		assert.NoError(t, err)
	})

	t.Run("delete is idempotent", func(t *testing.T) {
		store := NewMemoryStore()
		require.NoError(t, store.Put(ctx, "k", []byte("v"), time.Minute))
		require.NoError(t, store.Delete(ctx, "k"))
		require.NoError(t, store.Delete(ctx, "k"))

		_, err := store.Get(ctx, "k")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("stored value is copied", func(t *testing.T) {
		store := NewMemoryStore()
		value := []byte("abc")
		require.NoError(t, store.Put(ctx, "k", value, 0))
		value[0] = 'z'

		got, err := store.Get(ctx, "k")
		require.NoError(t, err)
		assert.Equal(t, []byte("abc"), got)
	})

	t.Run("DeleteExpired purges only expired entries", func(t *testing.T) {
		store := NewMemoryStore().WithClock(clock.Now)
		require.NoError(t, store.Put(ctx, "short", []byte("v"), time.Second))
		require.NoError(t, store.Put(ctx, "long", []byte("v"), time.Hour))
		require.NoError(t, store.Put(ctx, "forever", []byte("v"), 0))
		clock.Advance(time.Minute)

		count, err := store.DeleteExpired(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(1), count)
		assert.Equal(t, 2, store.Len())
	})
}
