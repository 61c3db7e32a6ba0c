package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/deckmate/tablesync/pkg/log"
	"github.com/deckmate/tablesync/pkg/messages"
)

// RedisLimiter is a sliding-window limiter backed by Redis, for
// deployments where a user's connections land on multiple nodes and
// the budget must be shared. The window logic runs in a Lua script so
// check-and-increment is atomic.
type RedisLimiter struct {
	client       *redis.Client
	script       *redis.Script
	actionLimit  int64
	messageLimit int64
	window       time.Duration
}

// slidingWindowScript counts entries in the current window and admits
// the request only when under the limit.
//
// KEYS[1]: window key
// ARGV[1]: limit
// ARGV[2]: window in milliseconds
// ARGV[3]: now in milliseconds
var slidingWindowScript = redis.NewScript(`
local key = KEYS[1]
local limit = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local now = tonumber(ARGV[3])

redis.call('ZREMRANGEBYSCORE', key, 0, now - window)
local count = redis.call('ZCARD', key)
if count >= limit then
	return 0
end
redis.call('ZADD', key, now, now .. '-' .. math.random(1000000))
redis.call('PEXPIRE', key, window)
return 1
`)

// NewRedisLimiterOptions contains options for creating a new RedisLimiter.
type NewRedisLimiterOptions struct {
	Client       *redis.Client
	ActionLimit  int64
	MessageLimit int64
	Window       time.Duration
}

// NewRedisLimiter creates a Redis-backed sliding window limiter.
func NewRedisLimiter(opts NewRedisLimiterOptions) *RedisLimiter {
	if opts.ActionLimit <= 0 {
		opts.ActionLimit = DefaultActionRate
	}
	if opts.MessageLimit <= 0 {
		opts.MessageLimit = DefaultMessageRate
	}
	if opts.Window <= 0 {
		opts.Window = time.Second
	}
	return &RedisLimiter{
		client:       opts.Client,
		script:       slidingWindowScript,
		actionLimit:  opts.ActionLimit,
		messageLimit: opts.MessageLimit,
		window:       opts.Window,
	}
}

func (l *RedisLimiter) Allow(ctx context.Context, connectionID, msgType string) bool {
	if Exempt(msgType) {
		return true
	}

	limit := l.messageLimit
	scope := "messages"
	if msgType == messages.MessageTypeAction {
		limit = l.actionLimit
		scope = "actions"
	}

	key := fmt.Sprintf("ratelimit:%s:%s", connectionID, scope)
	now := time.Now().UnixMilli()

	allowed, err := l.script.Run(ctx, l.client, []string{key}, limit, l.window.Milliseconds(), now).Int()
	if err != nil {
		// Failing open keeps the table playable through a Redis outage;
		// the in-process limiter still bounds local damage.
		log.Warn("Redis rate limit check failed for %s: %v", connectionID, err)
		return true
	}
	return allowed == 1
}

func (l *RedisLimiter) Forget(connectionID string) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	keys := []string{
		fmt.Sprintf("ratelimit:%s:messages", connectionID),
		fmt.Sprintf("ratelimit:%s:actions", connectionID),
	}
	if err := l.client.Del(ctx, keys...).Err(); err != nil {
		log.Trace("Failed to clear rate limit state for %s: %v", connectionID, err)
	}
}
