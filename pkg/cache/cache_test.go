package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct{ t time.Time }

func (f *fakeClock) Now() time.Time { return f.t }

func TestCache_SetGetExpire(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1000, 0)}
	c := New[string, int](time.Minute).WithClock(clock.Now)

	c.Set("a", 1)
	v, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, 1, v)

	clock.t = clock.t.Add(time.Minute)
	_, ok = c.Get("a")
	assert.False(t, ok)
	assert.Equal(t, 1, c.Len())

	assert.Equal(t, 1, c.Prune())
	assert.Equal(t, 0, c.Len())
}

func TestCache_NoTTLNeverExpires(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1000, 0)}
	c := New[string, string](0).WithClock(clock.Now)

	c.Set("k", "v")
	clock.t = clock.t.Add(24 * time.Hour)

	v, ok := c.Get("k")
	assert.True(t, ok)
	assert.Equal(t, "v", v)
	assert.Equal(t, 0, c.Prune())
}

func TestCache_Delete(t *testing.T) {
	c := New[int, bool](time.Hour)
	c.Set(1, true)
	c.Delete(1)
	_, ok := c.Get(1)
	assert.False(t, ok)
}

func TestCache_GetOrLoad(t *testing.T) {
	c := New[string, int](time.Hour)
	calls := 0
	load := func(context.Context) (int, error) {
		calls++
		return 42, nil
	}

	for i := 0; i < 3; i++ {
		v, err := c.GetOrLoad(context.Background(), "x", load)
		require.NoError(t, err)
		assert.Equal(t, 42, v)
	}
	assert.Equal(t, 1, calls)

	_, err := c.GetOrLoad(context.Background(), "y", func(context.Context) (int, error) {
		return 0, errors.New("boom")
	})
	assert.Error(t, err)
	_, ok := c.Get("y")
	assert.False(t, ok)
}
