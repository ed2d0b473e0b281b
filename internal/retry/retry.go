package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// RetryConfig 重试配置
type RetryConfig struct {
	MaxAttempts         int           `json:"max_attempts"`         // 最大尝试次数
	InitialInterval     time.Duration `json:"initial_interval"`     // 初始重试间隔
	MaxInterval         time.Duration `json:"max_interval"`         // 最大重试间隔
	BackoffFactor       float64       `json:"backoff_factor"`       // 退避因子
	RandomizationFactor float64       `json:"randomization_factor"` // 随机化因子
}

// NetworkRetryConfig RPC请求重试配置，总耗时需控制在调用方超时之内
var NetworkRetryConfig = &RetryConfig{
	MaxAttempts:         3,
	InitialInterval:     200 * time.Millisecond,
	MaxInterval:         2 * time.Second,
	BackoffFactor:       2.0,
	RandomizationFactor: 0.2,
}

// IsRetryableError 判断是否为可重试错误
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	errStr := strings.ToLower(err.Error())

	retryable := []string{
		"connection refused",
		"connection reset",
		"timeout",
		"temporary failure",
		"service unavailable",
		"too many requests",
		"rate limit",
		"no such host",
		"broken pipe",
		"eof",
		"502",
		"503",
		"504",
	}

	for _, s := range retryable {
		if strings.Contains(errStr, s) {
			return true
		}
	}
	return false
}

// Retrier 重试器
type Retrier struct {
	config *RetryConfig
	logger logrus.FieldLogger

	mu   sync.Mutex
	rand *rand.Rand
}

// NewRetrier 创建重试器
func NewRetrier(config *RetryConfig, logger logrus.FieldLogger) *Retrier {
	if config == nil {
		config = NetworkRetryConfig
	}

	return &Retrier{
		config: config,
		logger: logger,
		rand:   rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Execute 执行重试逻辑
func (r *Retrier) Execute(ctx context.Context, operation string, fn func(ctx context.Context) error) error {
	var lastErr error

	for attempt := 1; attempt <= r.config.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := fn(ctx)
		if err == nil {
			if attempt > 1 {
				r.logger.Debugf("操作 '%s' 在第 %d 次尝试后成功", operation, attempt)
			}
			return nil
		}
		lastErr = err

		if !IsRetryableError(err) {
			return err
		}

		if attempt == r.config.MaxAttempts {
			r.logger.Warnf("操作 '%s' 在 %d 次尝试后最终失败: %v", operation, attempt, err)
			return fmt.Errorf("重试 %d 次后失败: %w", attempt, err)
		}

		delay := r.calculateDelay(attempt)
		r.logger.Debugf("操作 '%s' 第 %d 次失败: %v，%v 后重试", operation, attempt, err, delay)

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}

	return lastErr
}

// calculateDelay 计算延迟时间
func (r *Retrier) calculateDelay(attempt int) time.Duration {
	delay := float64(r.config.InitialInterval) * math.Pow(r.config.BackoffFactor, float64(attempt-1))
	if delay > float64(r.config.MaxInterval) {
		delay = float64(r.config.MaxInterval)
	}

	if r.config.RandomizationFactor > 0 {
		r.mu.Lock()
		f := r.rand.Float64()
		r.mu.Unlock()

		jitter := delay * r.config.RandomizationFactor
		delay = delay - jitter + f*jitter*2
		if delay < 0 {
			delay = float64(r.config.InitialInterval)
		}
	}

	return time.Duration(delay)
}
