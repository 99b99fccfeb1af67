package gateway

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// StatusError 上游返回非 2xx
type StatusError struct {
	StatusCode int
	RetryAfter time.Duration // 仅 429/503 等带 Retry-After 时非零
	URL        string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("上游返回 HTTP %d: %s", e.StatusCode, e.URL)
}

// Retryable 429 与 5xx 可重试，其余 4xx 直接失败
func (e *StatusError) Retryable() bool {
	return retryableStatus(e.StatusCode)
}

func retryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= 500
}

// backoffDelay full jitter：U(0, min(maxDelay, base·2^(attempt-1)))
func backoffDelay(attempt int, base, maxDelay time.Duration, rnd func() float64) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	ceiling := float64(base) * math.Pow(2, float64(attempt-1))
	if maxDelay > 0 && ceiling > float64(maxDelay) {
		ceiling = float64(maxDelay)
	}
	return time.Duration(rnd() * ceiling)
}

// parseRetryAfter 支持秒数与 HTTP 日期两种格式
func parseRetryAfter(v string, now time.Time) (time.Duration, bool) {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0, false
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			return 0, false
		}
		return time.Duration(secs) * time.Second, true
	}
	if t, err := http.ParseTime(v); err == nil {
		d := t.Sub(now)
		if d < 0 {
			d = 0
		}
		return d, true
	}
	return 0, false
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
