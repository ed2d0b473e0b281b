package retry

import (
	"context"
	"fmt"
	"time"
)

// DefaultAttemptTimeout 外部调用默认超时
const DefaultAttemptTimeout = 5 * time.Second

// Attempt 在限定时间内执行op，失败、超时或panic时返回fallback。
// 返回的error仅用于调用方记录日志或标记降级，结果值始终可用。
func Attempt[T any](ctx context.Context, timeout time.Duration, fallback T, op func(ctx context.Context) (T, error)) (T, error) {
	if timeout <= 0 {
		timeout = DefaultAttemptTimeout
	}

	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		value T
		err   error
	}

	done := make(chan result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- result{err: fmt.Errorf("操作发生panic: %v", r)}
			}
		}()
		v, err := op(callCtx)
		done <- result{value: v, err: err}
	}()

	select {
	case res := <-done:
		if res.err != nil {
			return fallback, res.err
		}
		return res.value, nil
	case <-callCtx.Done():
		return fallback, fmt.Errorf("操作超时(%v): %w", timeout, callCtx.Err())
	}
}
