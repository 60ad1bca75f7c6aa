package redis

import (
	"context"
	"fmt"
	"time"
)

// incrWithTTL sets the window on the first hit in the same round trip, so a
// crash between INCR and EXPIRE cannot leave a counter without a TTL.
const incrWithTTLScript = `
local n = redis.call("INCR", KEYS[1])
if n == 1 and tonumber(ARGV[1]) > 0 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return n`

// releaseLock deletes the key only while it still holds the caller's token.
const releaseLockScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0`

// IncrWithTTL increments a fixed-window counter, starting the window on the
// first increment.
func (c *Client) IncrWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	s, err := c.cmds()
	if err != nil {
		return 0, err
	}
	count, err := s.Eval(ctx, incrWithTTLScript, []string{key}, ttl.Milliseconds()).Int64()
	if err != nil {
		return 0, fmt.Errorf("incr %s: %w", key, err)
	}
	return count, nil
}

// ReleaseLock drops a lease acquired with SetNX(key, token). It reports
// false when the lease already expired or now belongs to someone else.
func (c *Client) ReleaseLock(ctx context.Context, key, token string) (bool, error) {
	s, err := c.cmds()
	if err != nil {
		return false, err
	}
	deleted, err := s.Eval(ctx, releaseLockScript, []string{key}, token).Int64()
	if err != nil {
		return false, fmt.Errorf("release %s: %w", key, err)
	}
	return deleted == 1, nil
}
