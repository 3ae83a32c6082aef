package testing

import (
	"context"
	"net"
	"os"
	"testing"

	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/require"
)

// RedisClient connects to the redis pointed at by REDIS_HOST / REDIS_PORT / REDIS_PASS
// and flushes db 15, which it uses, before and after the test.
func RedisClient(t *testing.T) *redis.Client {
	t.Helper()

	redisHost := envOr("REDIS_HOST", "localhost")
	redisPort := envOr("REDIS_PORT", "6379")
	t.Logf("using redis: [%s:%s]", redisHost, redisPort)

	rdb := redis.NewClient(&redis.Options{
		Addr:     net.JoinHostPort(redisHost, redisPort),
		Password: os.Getenv("REDIS_PASS"),
		// a db of its own, tests flush it
		DB: 15,
	})

	ctx := t.Context()
	pingRes, err := rdb.Ping(ctx).Result()
	require.NoError(t, err)
	t.Logf("redis ping res: %s", pingRes)
	require.NoError(t, rdb.FlushDB(ctx).Err())

	t.Cleanup(func() {
		// t.Context is already done here
		_ = rdb.FlushDB(context.Background()).Err()
		_ = rdb.Close()
	})

	return rdb
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
