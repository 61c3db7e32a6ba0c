package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/deckmate/tablesync/pkg/messages"
)

const (
	// DefaultActionRate is the sustained actions-per-second budget per
	// connection.
	DefaultActionRate = 20
	// DefaultActionBurst is the action burst capacity per connection.
	DefaultActionBurst = 40
	// DefaultMessageRate is the overall messages-per-second budget per
	// connection across all types.
	DefaultMessageRate = 60
	// DefaultMessageBurst is the overall burst capacity.
	DefaultMessageBurst = 120
)

// Limiter bounds message frequency per connection and message type.
type Limiter interface {
	// Allow reports whether the connection may submit one more message
	// of the given type right now.
	Allow(ctx context.Context, connectionID, msgType string) bool
	// Forget drops all limiter state for a closed connection.
	Forget(connectionID string)
}

// exemptTypes are control messages that must never be throttled:
// dropping a heartbeat kills a healthy connection, and join/leave are
// one-shot lifecycle messages.
var exemptTypes = map[string]bool{
	messages.MessageTypePing:      true,
	messages.MessageTypePong:      true,
	messages.MessageTypeJoinRoom:  true,
	messages.MessageTypeLeaveRoom: true,
}

// Exempt reports whether the message type bypasses rate limiting.
func Exempt(msgType string) bool {
	return exemptTypes[msgType]
}

// bucket is a token bucket refilled lazily on each Allow call.
type bucket struct {
	tokens     float64
	capacity   float64
	refillRate float64
	lastRefill time.Time
}

func newBucket(capacity, refillRate float64) *bucket {
	return &bucket{
		tokens:     capacity,
		capacity:   capacity,
		refillRate: refillRate,
		lastRefill: time.Now(),
	}
}

func (b *bucket) take(now time.Time) bool {
	// A bucket created after the caller captured now would otherwise
	// see a negative elapsed and start below capacity.
	elapsed := now.Sub(b.lastRefill).Seconds()
	if elapsed < 0 {
		elapsed = 0
	}
	b.tokens += elapsed * b.refillRate
	if b.tokens > b.capacity {
		b.tokens = b.capacity
	}
	b.lastRefill = now

	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}

// TokenBucketLimiter is the in-process limiter: one overall bucket per
// connection plus a tighter bucket for game actions.
type TokenBucketLimiter struct {
	mu           sync.Mutex
	overall      map[string]*bucket
	actions      map[string]*bucket
	actionRate   float64
	actionBurst  float64
	messageRate  float64
	messageBurst float64
}

// NewTokenBucketLimiterOptions contains options for creating a new
// TokenBucketLimiter. Zero values fall back to defaults.
type NewTokenBucketLimiterOptions struct {
	ActionRate   float64
	ActionBurst  float64
	MessageRate  float64
	MessageBurst float64
}

// NewTokenBucketLimiter creates an in-process token bucket limiter.
func NewTokenBucketLimiter(opts NewTokenBucketLimiterOptions) *TokenBucketLimiter {
	if opts.ActionRate <= 0 {
		opts.ActionRate = DefaultActionRate
	}
	if opts.ActionBurst <= 0 {
		opts.ActionBurst = DefaultActionBurst
	}
	if opts.MessageRate <= 0 {
		opts.MessageRate = DefaultMessageRate
	}
	if opts.MessageBurst <= 0 {
		opts.MessageBurst = DefaultMessageBurst
	}
	return &TokenBucketLimiter{
		overall:      make(map[string]*bucket),
		actions:      make(map[string]*bucket),
		actionRate:   opts.ActionRate,
		actionBurst:  opts.ActionBurst,
		messageRate:  opts.MessageRate,
		messageBurst: opts.MessageBurst,
	}
}

func (l *TokenBucketLimiter) Allow(_ context.Context, connectionID, msgType string) bool {
	if Exempt(msgType) {
		return true
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()

	overall, ok := l.overall[connectionID]
	if !ok {
		overall = newBucket(l.messageBurst, l.messageRate)
		l.overall[connectionID] = overall
	}
	if !overall.take(now) {
		return false
	}

	if msgType != messages.MessageTypeAction {
		return true
	}

	actions, ok := l.actions[connectionID]
	if !ok {
		actions = newBucket(l.actionBurst, l.actionRate)
		l.actions[connectionID] = actions
	}
	return actions.take(now)
}

func (l *TokenBucketLimiter) Forget(connectionID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.overall, connectionID)
	delete(l.actions, connectionID)
}
