package notifications

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupPresence(t *testing.T) (*Presence, *miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	return NewPresence(rdb, PresenceConfig{TTL: 30 * time.Second}), mr, rdb
}

func TestPresence_LocalOnly(t *testing.T) {
	p := NewPresence(nil, PresenceConfig{})
	ctx := context.Background()

	assert.False(t, p.IsOnline(ctx, 1))
	p.Register(ctx, 1)
	p.Register(ctx, 1)
	p.Unregister(ctx, 1)
	assert.True(t, p.IsOnline(ctx, 1))
	p.Unregister(ctx, 1)
	assert.False(t, p.IsOnline(ctx, 1))

	_, ok := p.LastSeen(ctx, 1)
	assert.False(t, ok)
}

func TestPresence_SharedAcrossInstances(t *testing.T) {
	p, mr, rdb := setupPresence(t)
	other := NewPresence(rdb, PresenceConfig{})
	ctx := context.Background()

	p.Register(ctx, 5)
	assert.True(t, other.IsOnline(ctx, 5))
	assert.Equal(t, "1", mustGet(t, mr, "presence:user:5"))

	seen, ok := other.LastSeen(ctx, 5)
	require.True(t, ok)
	assert.WithinDuration(t, time.Now(), seen, 5*time.Second)

	online := other.Online(ctx, []uint{5, 6})
	assert.True(t, online[5])
	assert.False(t, online[6])

	p.Unregister(ctx, 5)
	assert.False(t, other.IsOnline(ctx, 5))
	assert.False(t, mr.Exists("presence:user:5"))
	assert.True(t, mr.Exists("presence:last_seen:5"))
}

func TestPresence_CountExpiresWithoutTouch(t *testing.T) {
	p, mr, rdb := setupPresence(t)
	other := NewPresence(rdb, PresenceConfig{})
	ctx := context.Background()

	p.Register(ctx, 8)
	mr.FastForward(20 * time.Second)
	p.Touch(ctx, 8)
	mr.FastForward(20 * time.Second)
	assert.True(t, other.IsOnline(ctx, 8))

	mr.FastForward(31 * time.Second)
	assert.False(t, other.IsOnline(ctx, 8))
}

func TestPresence_StopReleasesCounts(t *testing.T) {
	p, mr, rdb := setupPresence(t)
	other := NewPresence(rdb, PresenceConfig{})
	ctx := context.Background()

	p.Register(ctx, 3)
	p.Register(ctx, 3)
	other.Register(ctx, 3)
	assert.Equal(t, "3", mustGet(t, mr, "presence:user:3"))

	p.Stop()
	p.Stop()
	assert.Equal(t, "1", mustGet(t, mr, "presence:user:3"))
	assert.True(t, other.IsOnline(ctx, 3))
}

func TestRegistry_DrivesPresence(t *testing.T) {
	p, _, _ := setupPresence(t)
	r := NewRegistry(RegistryConfig{Presence: p})
	ctx := context.Background()

	c := NewClient(r.Name(), nil, 12)
	require.NoError(t, r.Register(12, c))
	assert.True(t, p.IsOnline(ctx, 12))
	require.NotNil(t, c.OnActivity)

	r.Unregister(12, c)
	assert.False(t, p.IsOnline(ctx, 12))
}

func mustGet(t *testing.T, mr *miniredis.Miniredis, key string) string {
	t.Helper()
	v, err := mr.Get(key)
	require.NoError(t, err)
	return v
}
