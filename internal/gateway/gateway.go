// Package gateway 上游请求统一出口：令牌桶限速、AIMD 并发建议、熔断与带抖动的指数退避重试。
package gateway

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"time"

	"CardSync/internal/config"
	"CardSync/internal/metrics"

	"github.com/sirupsen/logrus"
)

const drainLimit = 64 << 10

// FetchOptions 单次请求的附加参数
type FetchOptions struct {
	Accept string
	Header http.Header
}

// FetchResult 成功时 Response 非空，调用方负责关闭 Body；失败时也带回尝试次数与等待时长
type FetchResult struct {
	Response *http.Response
	Attempts int
	Waited   time.Duration
}

// Gateway 绑定一个上游的 HTTP 客户端与共享 Throttle
type Gateway struct {
	throttle *Throttle
	client   *http.Client
	cfg      config.GatewayConfig
	upstream *config.UpstreamConfig
	logger   *logrus.Logger

	rnd   func() float64
	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time
}

func NewGateway(throttle *Throttle, client *http.Client, cfg config.GatewayConfig, upstream *config.UpstreamConfig, logger *logrus.Logger) *Gateway {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 15 * time.Second
	}
	return &Gateway{
		throttle: throttle,
		client:   client,
		cfg:      cfg,
		upstream: upstream,
		logger:   logger,
		rnd:      rand.Float64,
		sleep:    sleepCtx,
		now:      time.Now,
	}
}

func (g *Gateway) Throttle() *Throttle { return g.throttle }

func (g *Gateway) BaseURL() string { return g.upstream.BaseURL }

// Fetch GET 请求：每次尝试先取令牌，再经熔断器发出。
// 网络错误、429、5xx 重试（优先遵循 Retry-After），其余 4xx 不重试；熔断打开时立即返回 ErrCircuitOpen。
func (g *Gateway) Fetch(ctx context.Context, url string, opts FetchOptions) (*FetchResult, error) {
	result := &FetchResult{}
	name := g.throttle.name
	defer func() {
		metrics.GatewayWait.WithLabelValues(name).Observe(result.Waited.Seconds())
	}()

	var lastErr error
	for attempt := 1; attempt <= g.cfg.MaxAttempts; attempt++ {
		result.Attempts = attempt

		waited, err := g.throttle.bucket.Wait(ctx)
		result.Waited += waited
		if err != nil {
			return result, fmt.Errorf("等待令牌失败: %w", err)
		}

		resp, err := g.throttle.breaker.Execute(func() (*http.Response, error) {
			return g.do(ctx, url, opts)
		})
		if err == nil {
			if resp.StatusCode >= 400 {
				// 普通 4xx：请求本身完成了，不计熔断失败，也不重试
				drainAndClose(resp.Body)
				metrics.GatewayRequests.WithLabelValues(name, "client_error").Inc()
				return result, &StatusError{StatusCode: resp.StatusCode, URL: url}
			}
			g.throttle.aimd.OnSuccess()
			metrics.GatewayRequests.WithLabelValues(name, "success").Inc()
			result.Response = resp
			return result, nil
		}

		if errors.Is(err, ErrCircuitOpen) {
			metrics.GatewayRequests.WithLabelValues(name, "circuit_open").Inc()
			return result, fmt.Errorf("%s: %w", url, ErrCircuitOpen)
		}
		lastErr = err

		delay := backoffDelay(attempt, g.cfg.BaseDelay, g.cfg.MaxDelay, g.rnd)
		var se *StatusError
		if errors.As(err, &se) {
			g.throttle.aimd.OnThrottle()
			metrics.GatewayRequests.WithLabelValues(name, "throttled").Inc()
			if se.RetryAfter > 0 {
				delay = se.RetryAfter
			}
		} else {
			metrics.GatewayRequests.WithLabelValues(name, "network_error").Inc()
		}

		if attempt == g.cfg.MaxAttempts {
			break
		}
		if ctx.Err() != nil {
			return result, ctx.Err()
		}

		g.logger.WithError(err).WithFields(logrus.Fields{
			"upstream": name,
			"url":      url,
			"attempt":  attempt,
			"delay":    delay.String(),
		}).Warn("上游请求失败，退避后重试")
		metrics.GatewayRequests.WithLabelValues(name, "retry").Inc()

		result.Waited += delay
		if err := g.sleep(ctx, delay); err != nil {
			return result, err
		}
	}
	return result, fmt.Errorf("请求 %s 在 %d 次尝试后失败: %w", url, result.Attempts, lastErr)
}

// do 发出单次请求。调用方取消不影响在途请求，每次尝试单独限时；
// 返回的 Body 关闭时释放该超时。
func (g *Gateway) do(ctx context.Context, url string, opts FetchOptions) (*http.Response, error) {
	reqCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), g.cfg.RequestTimeout)

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("构建请求失败: %w", err)
	}
	if g.upstream.UserAgent != "" {
		req.Header.Set("User-Agent", g.upstream.UserAgent)
	}
	if g.upstream.Referer != "" {
		req.Header.Set("Referer", g.upstream.Referer)
	}
	if opts.Accept != "" {
		req.Header.Set("Accept", opts.Accept)
	}
	for k, vs := range opts.Header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := g.client.Do(req)
	if err != nil {
		cancel()
		return nil, err
	}

	if retryableStatus(resp.StatusCode) {
		se := &StatusError{StatusCode: resp.StatusCode, URL: url}
		if d, ok := parseRetryAfter(resp.Header.Get("Retry-After"), g.now()); ok {
			se.RetryAfter = d
		}
		drainAndClose(resp.Body)
		cancel()
		return nil, se
	}

	resp.Body = &cancelOnClose{ReadCloser: resp.Body, cancel: cancel}
	return resp, nil
}

type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelOnClose) Close() error {
	err := c.ReadCloser.Close()
	c.cancel()
	return err
}

func drainAndClose(body io.ReadCloser) {
	_, _ = io.Copy(io.Discard, io.LimitReader(body, drainLimit))
	_ = body.Close()
}
