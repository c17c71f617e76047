package cache

import (
	"context"
	"errors"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAside_LoadsOnceThenServesFromCache(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb, err := NewClient(mr.Addr())
	require.NoError(t, err)
	defer rdb.Close()

	ctx := context.Background()
	calls := 0
	load := func(context.Context) ([]uint, error) {
		calls++
		return []uint{4, 2}, nil
	}

	first, err := Aside(ctx, rdb, MatchListKey(1), MatchListTTL, load)
	require.NoError(t, err)
	second, err := Aside(ctx, rdb, MatchListKey(1), MatchListTTL, load)
	require.NoError(t, err)

	assert.Equal(t, []uint{4, 2}, first)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, calls)
	assert.True(t, mr.Exists("matches:user:1"))

	InvalidateMatchLists(ctx, rdb, 1, 2)
	assert.False(t, mr.Exists("matches:user:1"))

	_, err = Aside(ctx, rdb, MatchListKey(1), MatchListTTL, load)
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestAside_NilClientAndLoadError(t *testing.T) {
	ctx := context.Background()
	value, err := Aside(ctx, (*redis.Client)(nil), "k", MatchListTTL, func(context.Context) (int, error) {
		return 7, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 7, value)

	boom := errors.New("boom")
	_, err = Aside(ctx, nil, "k", MatchListTTL, func(context.Context) (int, error) {
		return 0, boom
	})
	assert.ErrorIs(t, err, boom)
}
