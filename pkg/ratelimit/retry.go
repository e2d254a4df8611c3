package ratelimit

import (
	"context"
	"time"
)

// Policy 弹性重试策略。Retryable 判定一次失败是否属于可重试的
// 瞬时类别（按类别值分派，而不是检查错误文本）；为nil时任何
// 失败都立即传播。重试计数在每次 DoWithRetry 调用内独立。
type Policy struct {
	MaxRetries   int
	InitialDelay time.Duration
	Retryable    func(error) bool
}

// DefaultPolicy 默认策略：最多重试5次，首次退避1秒，指数递增
func DefaultPolicy(retryable func(error) bool) Policy {
	return Policy{
		MaxRetries:   5,
		InitialDelay: 1 * time.Second,
		Retryable:    retryable,
	}
}

// DoWithRetry 执行fn；失败且类别可重试时按指数退避重试：
// 第k次重试前睡眠 InitialDelay * 2^k (k从0起)。非瞬时失败或
// 重试耗尽立即传播给调用方。退避期间监听上下文取消。
func DoWithRetry[T any](ctx context.Context, policy Policy, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	var lastErr error

	if policy.InitialDelay <= 0 {
		policy.InitialDelay = 1 * time.Second
	}

	for attempt := 0; attempt <= policy.MaxRetries; attempt++ {
		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}
		lastErr = err

		// 失败快策略：非瞬时失败不重试
		if policy.Retryable == nil || !policy.Retryable(err) {
			return zero, err
		}
		if attempt >= policy.MaxRetries {
			return zero, err
		}

		backoff := policy.InitialDelay * time.Duration(1<<uint(attempt))
		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(backoff):
			// 继续下一次尝试
		}
	}

	return zero, lastErr
}
