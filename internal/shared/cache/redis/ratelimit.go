package redis

import (
	"context"
	"fmt"
	"time"
)

// ============================================================================
// 固定窗口限流
//
// 键按窗口计数：INCR + 首次设置 EXPIRE，窗口到期自动清零。
// 用于忘记密码等低频敏感接口（如 5 次/15 分钟/每 IP）。
// ============================================================================

// keyRateLimit 限流键，如 ratelimit:forgot-password:10.1.2.3
func keyRateLimit(scope, subject string) string {
	return fmt.Sprintf("ratelimit:%s:%s", scope, subject)
}

// Allow 在 scope 范围内对 subject 计数一次
//
// 返回 false 表示当前窗口内的第 limit+1 次及以后的调用。
// Redis 故障时错误上抛，由调用方决定放行还是拒绝。
func (s *Store) Allow(ctx context.Context, scope, subject string, limit int64, window time.Duration) (bool, error) {
	key := keyRateLimit(scope, subject)

	pipe := s.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.ExpireNX(ctx, key, window)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("rate limit %s: %w", key, err)
	}

	return incr.Val() <= limit, nil
}

// Reset 清除 subject 的限流计数（主要用于测试）
func (s *Store) Reset(ctx context.Context, scope, subject string) error {
	return s.client.Del(ctx, keyRateLimit(scope, subject)).Err()
}
