package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"mazl/internal/middleware"

	"github.com/redis/go-redis/v9"
)

const (
	MatchListKeyPrefix = "matches:user:%d"
)

const (
	MatchListTTL = 2 * time.Minute
)

func MatchListKey(userID uint) string {
	return fmt.Sprintf(MatchListKeyPrefix, userID)
}

// Aside returns the cached value at key, or loads, stores and returns it.
// A nil client or any cache failure falls through to load.
func Aside[T any](ctx context.Context, rdb *redis.Client, key string, ttl time.Duration, load func(context.Context) (T, error)) (T, error) {
	if rdb != nil {
		raw, err := rdb.Get(ctx, key).Bytes()
		if err == nil {
			var cached T
			if jsonErr := json.Unmarshal(raw, &cached); jsonErr == nil {
				return cached, nil
			}
		} else if !errors.Is(err, redis.Nil) {
			middleware.Logger.WarnContext(ctx, "cache read failed", slog.String("key", key), slog.String("error", err.Error()))
		}
	}

	value, err := load(ctx)
	if err != nil {
		return value, err
	}

	if rdb != nil {
		if raw, jsonErr := json.Marshal(value); jsonErr == nil {
			if setErr := rdb.Set(ctx, key, raw, ttl).Err(); setErr != nil {
				middleware.Logger.WarnContext(ctx, "cache write failed", slog.String("key", key), slog.String("error", setErr.Error()))
			}
		}
	}
	return value, nil
}

// Invalidate deletes keys, ignoring a nil client.
func Invalidate(ctx context.Context, rdb *redis.Client, keys ...string) {
	if rdb == nil || len(keys) == 0 {
		return
	}
	if err := rdb.Del(ctx, keys...).Err(); err != nil {
		middleware.Logger.WarnContext(ctx, "cache invalidate failed", slog.Any("keys", keys), slog.String("error", err.Error()))
	}
}

// InvalidateMatchLists drops the cached match lists of the given users.
func InvalidateMatchLists(ctx context.Context, rdb *redis.Client, userIDs ...uint) {
	keys := make([]string, 0, len(userIDs))
	for _, id := range userIDs {
		keys = append(keys, MatchListKey(id))
	}
	Invalidate(ctx, rdb, keys...)
}
