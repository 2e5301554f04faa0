package quota

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// The expiry is attached only when INCR creates the counter, so the window is
// fixed from the first request. A counter found without a TTL gets one again.
var incrScript = redis.NewScript(`
local current = redis.call("INCR", KEYS[1])
if current == 1 then
	redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
local ttl = redis.call("PTTL", KEYS[1])
if ttl < 0 then
	redis.call("PEXPIRE", KEYS[1], ARGV[1])
	ttl = tonumber(ARGV[1])
end
return {current, ttl}
`)

// RedisStore keeps fixed-window counters in Redis.
type RedisStore struct {
	rc redis.UniversalClient
}

func NewRedisStore(rc redis.UniversalClient) *RedisStore {
	return &RedisStore{rc: rc}
}

func (s *RedisStore) IncrementAndCheck(ctx context.Context, key string, window time.Duration, max int) (Decision, error) {
	res, err := incrScript.Run(ctx, s.rc, []string{key}, window.Milliseconds()).Int64Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("quota: increment %s: %w", key, err)
	}
	if len(res) != 2 {
		return Decision{}, fmt.Errorf("quota: unexpected script reply %v", res)
	}
	return decide(res[0], time.Duration(res[1])*time.Millisecond, max), nil
}
