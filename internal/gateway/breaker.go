package gateway

import (
	"errors"
	"net/http"
	"time"

	"CardSync/internal/metrics"

	gobreaker "github.com/sony/gobreaker/v2"
	"github.com/sirupsen/logrus"
)

// ErrCircuitOpen 熔断期间直接失败，不发起网络请求
var ErrCircuitOpen = errors.New("circuit open")

// Breaker 连续失败计数熔断器：连续失败 threshold 次后打开 openFor，期间快速失败；一次成功即清零
type Breaker struct {
	name string
	cb   *gobreaker.CircuitBreaker[*http.Response]
}

func NewBreaker(name string, threshold int, openFor time.Duration, logger *logrus.Logger) *Breaker {
	if threshold < 1 {
		threshold = 5
	}
	if openFor <= 0 {
		openFor = 60 * time.Second
	}
	metrics.CircuitBreakerState.WithLabelValues(name).Set(0)

	cb := gobreaker.NewCircuitBreaker[*http.Response](gobreaker.Settings{
		Name:        name,
		MaxRequests: 1, // 半开状态只放一个探测请求
		Interval:    0, // 关闭状态不按周期清零，只看连续失败
		Timeout:     openFor,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= uint32(threshold)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.WithFields(logrus.Fields{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			}).Warn("熔断器状态变更")
			metrics.CircuitBreakerState.WithLabelValues(name).Set(stateValue(to))
		},
	})
	return &Breaker{name: name, cb: cb}
}

// Execute fn 返回 error 计为一次失败；熔断打开或半开探测占满时返回 ErrCircuitOpen
func (b *Breaker) Execute(fn func() (*http.Response, error)) (*http.Response, error) {
	resp, err := b.cb.Execute(fn)
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, ErrCircuitOpen
	}
	return resp, err
}

// IsOpen 仅 open 状态返回 true；冷却期结束后进入半开即为 false
func (b *Breaker) IsOpen() bool {
	return b.cb.State() == gobreaker.StateOpen
}

// ConsecutiveFailures 当前连续失败次数
func (b *Breaker) ConsecutiveFailures() uint32 {
	return b.cb.Counts().ConsecutiveFailures
}

func stateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}
