package bucket

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedisStore(t *testing.T, now *time.Time) (*RedisBucketStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisBucketStore(client, WithRedisClock(func() time.Time { return *now })), mr
}

func TestRedisBucketStore(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 14, 9, 30, 10, 0, time.UTC)
	store, mr := newRedisStore(t, &now)

	t.Run("counts down within a window", func(t *testing.T) {
		for i := range 3 {
			result, err := store.Allow(ctx, "kyc:ip:1", 3, time.Minute)
			require.NoError(t, err)
			assert.True(t, result.Allowed)
			assert.Equal(t, 3-(i+1), result.Remaining)
			assert.Equal(t, time.Date(2026, 3, 14, 9, 31, 0, 0, time.UTC), result.ResetAt)
		}

		result, err := store.Allow(ctx, "kyc:ip:1", 3, time.Minute)
		require.NoError(t, err)
		assert.False(t, result.Allowed)
		assert.Equal(t, 50, result.RetryAfter)
	})

	t.Run("window keys expire", func(t *testing.T) {
		key := "kyc:ip:1:" + "1773480600"
		require.True(t, mr.Exists(key), "keys: %v", mr.Keys())
		assert.Positive(t, mr.TTL(key))
	})

	t.Run("next window starts fresh", func(t *testing.T) {
		now = now.Add(time.Minute)
		result, err := store.Allow(ctx, "kyc:ip:1", 3, time.Minute)
		require.NoError(t, err)
		assert.True(t, result.Allowed)
		assert.Equal(t, 2, result.Remaining)
	})

	t.Run("keys are independent", func(t *testing.T) {
		result, err := store.Allow(ctx, "kyc:ip:2", 3, time.Minute)
		require.NoError(t, err)
		assert.Equal(t, 2, result.Remaining)
	})

	t.Run("unreachable redis errors", func(t *testing.T) {
		mr.Close()
		_, err := store.Allow(ctx, "kyc:ip:3", 3, time.Minute)
		require.Error(t, err)
	})
}
