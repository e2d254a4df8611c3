package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenBucketAllow(t *testing.T) {
	// 容量2，初始满桶：前两次放行，第三次拒绝
	tb := NewTokenBucket(60, 2)
	assert.True(t, tb.Allow())
	assert.True(t, tb.Allow())
	assert.False(t, tb.Allow(), "令牌耗尽后应拒绝")
}

func TestTokenBucketRefill(t *testing.T) {
	// 600 QPM = 每100ms一个令牌
	tb := NewTokenBucket(600, 1)
	require.True(t, tb.Allow())
	require.False(t, tb.Allow())

	time.Sleep(150 * time.Millisecond)
	assert.True(t, tb.Allow(), "经过一个补充周期后应重新放行")
}

func TestIntervalBucketPacing(t *testing.T) {
	interval := 60 * time.Millisecond
	tb := NewIntervalBucket(interval)

	ctx := context.Background()
	start := time.Now()
	// 第一个令牌即时可用，其后每个都要等一个完整间隔
	require.NoError(t, tb.Wait(ctx))
	require.NoError(t, tb.Wait(ctx))
	require.NoError(t, tb.Wait(ctx))

	elapsed := time.Since(start)
	assert.GreaterOrEqual(t, elapsed, 2*interval-10*time.Millisecond, "三次放行至少要经过两个间隔")
}

func TestTokenBucketWaitCancelled(t *testing.T) {
	tb := NewIntervalBucket(5 * time.Second)
	require.NoError(t, tb.Wait(context.Background())) // 耗尽初始令牌

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	err := tb.Wait(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
