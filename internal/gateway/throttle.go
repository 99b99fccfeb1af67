package gateway

import (
	"CardSync/internal/config"
	"CardSync/internal/metrics"

	"github.com/sirupsen/logrus"
)

// Throttle 一个上游共享的限流状态：令牌桶 + AIMD 并发 + 熔断器。
// 由 main 按上游各建一个，注入给 Gateway 与 worker 池，不使用包级全局变量。
type Throttle struct {
	name    string
	bucket  *TokenBucket
	aimd    *AIMD
	breaker *Breaker
}

// Stats 供 /throttle 与同步响应展示
type Stats struct {
	Upstream    string  `json:"upstream"`
	Concurrency int     `json:"concurrency"`
	Tokens      float64 `json:"tokens"`
	CircuitOpen bool    `json:"circuitOpen"`
}

func NewThrottle(name string, cfg config.GatewayConfig, logger *logrus.Logger) *Throttle {
	aimd := NewAIMD(cfg.MinConcurrency, cfg.MaxConcurrency, cfg.InitConcurrency, cfg.IncreaseEvery)
	aimd.onChange = func(n int) {
		metrics.GatewayConcurrency.WithLabelValues(name).Set(float64(n))
		logger.WithFields(logrus.Fields{"upstream": name, "concurrency": n}).Debug("并发许可调整")
	}
	metrics.GatewayConcurrency.WithLabelValues(name).Set(float64(aimd.Current()))

	return &Throttle{
		name:    name,
		bucket:  NewTokenBucket(cfg.RPS, cfg.Burst),
		aimd:    aimd,
		breaker: NewBreaker(name, cfg.BreakerThreshold, cfg.BreakerOpenFor, logger),
	}
}

func (t *Throttle) Name() string { return t.name }

// Concurrency 当前建议并发数（worker 池据此伸缩）
func (t *Throttle) Concurrency() int { return t.aimd.Current() }

func (t *Throttle) CircuitOpen() bool { return t.breaker.IsOpen() }

func (t *Throttle) Stats() Stats {
	return Stats{
		Upstream:    t.name,
		Concurrency: t.aimd.Current(),
		Tokens:      t.bucket.Tokens(),
		CircuitOpen: t.breaker.IsOpen(),
	}
}
