// Package metrics 同步引擎的 Prometheus 指标，统一在 /metrics 暴露
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// GatewayRequests 上游请求结果计数（outcome: success/retry/throttled/client_error/circuit_open/network_error）
	GatewayRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_requests_total",
			Help: "Upstream requests by outcome",
		},
		[]string{"upstream", "outcome"},
	)

	// GatewayWait 获取令牌与退避等待的总时长
	GatewayWait = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gateway_wait_seconds",
			Help:    "Time spent waiting on tokens and backoff per fetch",
			Buckets: []float64{.01, .05, .1, .5, 1, 5, 15, 60},
		},
		[]string{"upstream"},
	)

	// GatewayConcurrency AIMD 当前许可数
	GatewayConcurrency = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "gateway_concurrency",
			Help: "Current adaptive concurrency permit count",
		},
		[]string{"upstream"},
	)

	// CircuitBreakerState 熔断器状态（0=closed, 1=half-open, 2=open）
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	// PoolWorkers 正在运行的 worker 数
	PoolWorkers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sync_pool_workers",
			Help: "Worker loops currently running",
		},
	)

	// SyncGroups 按结果统计的 group 同步次数
	SyncGroups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sync_groups_total",
			Help: "Catalog groups processed by status",
		},
		[]string{"status"},
	)

	// RecordsUpserted 写入的记录数
	RecordsUpserted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sync_records_upserted_total",
			Help: "Records upserted by entity",
		},
		[]string{"entity"},
	)

	// RowsDropped 校验失败被丢弃的行
	RowsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sync_rows_dropped_total",
			Help: "Parsed rows dropped by validation",
		},
		[]string{"entity"},
	)

	// MatchOutcomes 实体匹配结果（kind: set/card；outcome: linked/ambiguous/unmatched）
	MatchOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "match_outcomes_total",
			Help: "Entity resolution outcomes",
		},
		[]string{"kind", "outcome"},
	)
)
