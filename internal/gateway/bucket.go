package gateway

import (
	"context"
	"math"
	"time"

	"golang.org/x/time/rate"
)

// TokenBucket 令牌桶：容量 burst，每秒补充 rps 个令牌，按流逝时间连续补充
type TokenBucket struct {
	limiter *rate.Limiter
}

// NewTokenBucket rps<=0 表示不限速
func NewTokenBucket(rps float64, burst int) *TokenBucket {
	if burst < 1 {
		burst = 1
	}
	limit := rate.Limit(rps)
	if rps <= 0 {
		limit = rate.Inf
	}
	return &TokenBucket{limiter: rate.NewLimiter(limit, burst)}
}

// Wait 阻塞直到拿到 1 个令牌（定时器等待，不空转），返回等待时长
func (b *TokenBucket) Wait(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	err := b.limiter.Wait(ctx)
	return time.Since(start), err
}

// Tokens 当前可用令牌数
func (b *TokenBucket) Tokens() float64 {
	return b.TokensAt(time.Now())
}

// TokensAt 指定时刻的可用令牌数：min(burst, tokens + rps·Δt)
func (b *TokenBucket) TokensAt(t time.Time) float64 {
	return math.Max(0, b.limiter.TokensAt(t))
}

// Burst 桶容量
func (b *TokenBucket) Burst() int {
	return b.limiter.Burst()
}
