package usage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// countKeyPrefix is the Redis key prefix for per-user counters.
	countKeyPrefix = "drawbot:usage:count:"
	// usersKey is the set of users holding a counter since the last reset.
	usersKey = "drawbot:usage:users"
	// lastResetKey records the day of the last reset as YYYY-MM-DD.
	lastResetKey = "drawbot:usage:last_reset"
	// usageKeyTTL bounds the lifetime of a counter in case a reset is missed.
	usageKeyTTL = 48 * time.Hour
)

// incrementScript checks the counter against the limit and increments it in one step.
var incrementScript = redis.NewScript(`
	local key = KEYS[1]
	local users = KEYS[2]
	local limit = tonumber(ARGV[1])
	local ttl = tonumber(ARGV[2])

	local count = tonumber(redis.call('GET', key) or '0')
	if count >= limit then
		return {0, count}
	end

	count = redis.call('INCR', key)
	redis.call('EXPIRE', key, ttl)
	redis.call('SADD', users, ARGV[3])
	redis.call('EXPIRE', users, ttl)
	return {1, count}
`)

// resetScript compares and sets the last reset day and clears the counters
// in one step, so only the first caller for a day clears them.
var resetScript = redis.NewScript(`
	local last = redis.call('GET', KEYS[1])
	if last and last >= ARGV[1] then
		return 0
	end

	local users = redis.call('SMEMBERS', KEYS[2])
	for _, user in ipairs(users) do
		redis.call('DEL', ARGV[2] .. user)
	end
	redis.call('DEL', KEYS[2])
	redis.call('SET', KEYS[1], ARGV[1])
	return 1
`)

// RedisStore keeps counters in Redis so several plugin instances share them.
type RedisStore struct {
	client *redis.Client
}

// NewRedisClient parses a redis:// URL and verifies the connection.
func NewRedisClient(ctx context.Context, redisURL string) (*redis.Client, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	opt.PoolTimeout = 4 * time.Second

	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping Redis: %w", err)
	}
	return client, nil
}

// NewRedisStore wraps an existing client.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Increment(ctx context.Context, user string, limit int) (bool, int, error) {
	result, err := incrementScript.Run(ctx, s.client,
		[]string{countKeyPrefix + user, usersKey},
		limit, int(usageKeyTTL.Seconds()), user,
	).Int64Slice()
	if err != nil {
		return false, 0, fmt.Errorf("redis usage script failed: %w", err)
	}
	return result[0] == 1, int(result[1]), nil
}

func (s *RedisStore) Count(ctx context.Context, user string) (int, error) {
	count, err := s.client.Get(ctx, countKeyPrefix+user).Int()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("redis get failed: %w", err)
	}
	return count, nil
}

func (s *RedisStore) Reset(ctx context.Context, day string) (bool, error) {
	cleared, err := resetScript.Run(ctx, s.client,
		[]string{lastResetKey, usersKey},
		day, countKeyPrefix,
	).Int()
	if err != nil {
		return false, fmt.Errorf("redis reset script failed: %w", err)
	}
	return cleared == 1, nil
}
