package ratelimit

import (
	"context"
	"testing"

	"github.com/deckmate/tablesync/pkg/messages"
	"github.com/stretchr/testify/assert"
)

func TestTokenBucketLimiter_actionBudget(t *testing.T) {
	l := NewTokenBucketLimiter(NewTokenBucketLimiterOptions{
		ActionRate:   1,
		ActionBurst:  3,
		MessageRate:  1,
		MessageBurst: 100,
	})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		assert.True(t, l.Allow(ctx, "conn-1", messages.MessageTypeAction), "action %d within burst", i)
	}
	assert.False(t, l.Allow(ctx, "conn-1", messages.MessageTypeAction), "burst exhausted")

	// Other connections have their own budget.
	assert.True(t, l.Allow(ctx, "conn-2", messages.MessageTypeAction))
}

func TestTokenBucketLimiter_overallBudget(t *testing.T) {
	l := NewTokenBucketLimiter(NewTokenBucketLimiterOptions{
		ActionRate:   1,
		ActionBurst:  100,
		MessageRate:  1,
		MessageBurst: 2,
	})
	ctx := context.Background()

	assert.True(t, l.Allow(ctx, "conn-1", messages.MessageTypeAck))
	assert.True(t, l.Allow(ctx, "conn-1", messages.MessageTypeAck))
	assert.False(t, l.Allow(ctx, "conn-1", messages.MessageTypeAck))
}

func TestTokenBucketLimiter_exemptTypes(t *testing.T) {
	l := NewTokenBucketLimiter(NewTokenBucketLimiterOptions{
		MessageRate:  1,
		MessageBurst: 1,
	})
	ctx := context.Background()

	// Heartbeats and lifecycle messages pass no matter how many.
	for i := 0; i < 50; i++ {
		assert.True(t, l.Allow(ctx, "conn-1", messages.MessageTypePing))
		assert.True(t, l.Allow(ctx, "conn-1", messages.MessageTypePong))
		assert.True(t, l.Allow(ctx, "conn-1", messages.MessageTypeJoinRoom))
		assert.True(t, l.Allow(ctx, "conn-1", messages.MessageTypeLeaveRoom))
	}
}

func TestTokenBucketLimiter_forgetResets(t *testing.T) {
	l := NewTokenBucketLimiter(NewTokenBucketLimiterOptions{
		ActionRate:   1,
		ActionBurst:  1,
		MessageRate:  1,
		MessageBurst: 100,
	})
	ctx := context.Background()

	assert.True(t, l.Allow(ctx, "conn-1", messages.MessageTypeAction))
	assert.False(t, l.Allow(ctx, "conn-1", messages.MessageTypeAction))

	l.Forget("conn-1")
	assert.True(t, l.Allow(ctx, "conn-1", messages.MessageTypeAction))
}

func TestTokenBucketLimiter_freshBucketHoldsFullBurst(t *testing.T) {
	// A brand new bucket is created mid-Allow, after the call captured
	// its timestamp. The first request must still see the full burst,
	// even with a refill rate too slow to paper over any shortfall.
	l := NewTokenBucketLimiter(NewTokenBucketLimiterOptions{
		ActionRate:   0.001,
		ActionBurst:  1,
		MessageRate:  0.001,
		MessageBurst: 100,
	})
	ctx := context.Background()

	assert.True(t, l.Allow(ctx, "conn-1", messages.MessageTypeAction))
	assert.False(t, l.Allow(ctx, "conn-1", messages.MessageTypeAction))
}

func TestExempt(t *testing.T) {
	assert.True(t, Exempt(messages.MessageTypePing))
	assert.False(t, Exempt(messages.MessageTypeAction))
	assert.False(t, Exempt(messages.MessageTypeStateSync))
}
