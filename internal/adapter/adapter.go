package adapter

import (
	"fmt"
	"sort"

	"CardSync/internal/config"
	"CardSync/internal/gateway"
	"CardSync/internal/interfaces"
	"CardSync/internal/utils/httpclient"

	"github.com/sirupsen/logrus"
)

// SourceRegistry 为配置中的每个上游建立独立的 HTTP 客户端、限流器与网关，再交给工厂创建数据源。
// 各上游的令牌桶、AIMD 与熔断互不影响。
type SourceRegistry struct {
	cfg       *config.Config
	logger    *logrus.Logger
	sources   map[string]interfaces.Source
	throttles map[string]*gateway.Throttle
}

func NewSourceRegistry(cfg *config.Config, logger *logrus.Logger) *SourceRegistry {
	r := &SourceRegistry{
		cfg:       cfg,
		logger:    logger,
		sources:   make(map[string]interfaces.Source),
		throttles: make(map[string]*gateway.Throttle),
	}
	r.initSourcesFromFactories()
	return r
}

func (r *SourceRegistry) initSourcesFromFactories() {
	r.logger.WithField("factory_upstreams", ListFactories()).Debug("已注册的数据源工厂")

	names := make([]string, 0, len(r.cfg.Upstreams))
	for name := range r.cfg.Upstreams {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		upstreamCfg := r.cfg.Upstreams[name]
		factory, ok := GetFactory(name)
		if !ok {
			r.logger.WithField("upstream", name).Error("未找到对应的工厂函数（init未注册？）")
			continue
		}

		throttle := gateway.NewThrottle(name, r.cfg.Gateway, r.logger)
		client := httpclient.NewHTTPClient(&upstreamCfg, r.logger)
		gw := gateway.NewGateway(throttle, client, r.cfg.Gateway, &upstreamCfg, r.logger)

		src := factory(gw, &upstreamCfg, r.logger)
		if src == nil {
			r.logger.WithField("upstream", name).Error("工厂函数返回nil数据源")
			continue
		}
		if src.Name() != name {
			r.logger.WithFields(logrus.Fields{
				"config_upstream": name,
				"source_name":     src.Name(),
			}).Error("数据源名称与配置不匹配")
			continue
		}

		r.sources[name] = src
		r.throttles[name] = throttle
		r.logger.WithFields(logrus.Fields{
			"upstream": name,
			"base_url": upstreamCfg.BaseURL,
		}).Info("数据源初始化成功")
	}
}

// Register 直接放入已构造好的数据源（测试或自定义上游用）
func (r *SourceRegistry) Register(src interfaces.Source) {
	r.sources[src.Name()] = src
	if t := src.Throttle(); t != nil {
		r.throttles[src.Name()] = t
	}
}

func (r *SourceRegistry) Get(name string) (interfaces.Source, error) {
	src, ok := r.sources[name]
	if !ok {
		return nil, fmt.Errorf("上游%s未初始化数据源（已初始化：%v）", name, r.ListSources())
	}
	return src, nil
}

func (r *SourceRegistry) Catalog() (interfaces.CatalogSource, error) {
	src, err := r.Get(config.UpstreamCatalog)
	if err != nil {
		return nil, err
	}
	cs, ok := src.(interfaces.CatalogSource)
	if !ok {
		return nil, fmt.Errorf("上游%s不是目录源", config.UpstreamCatalog)
	}
	return cs, nil
}

func (r *SourceRegistry) Pricing() (interfaces.PricingSource, error) {
	src, err := r.Get(config.UpstreamPricing)
	if err != nil {
		return nil, err
	}
	ps, ok := src.(interfaces.PricingSource)
	if !ok {
		return nil, fmt.Errorf("上游%s不是价格源", config.UpstreamPricing)
	}
	return ps, nil
}

// ListSources 已初始化的上游名（排序）
func (r *SourceRegistry) ListSources() []string {
	names := make([]string, 0, len(r.sources))
	for name := range r.sources {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ThrottleStats 各上游当前的并发上限、令牌与熔断状态
func (r *SourceRegistry) ThrottleStats() []gateway.Stats {
	out := make([]gateway.Stats, 0, len(r.throttles))
	for _, name := range r.ListSources() {
		if t, ok := r.throttles[name]; ok {
			out = append(out, t.Stats())
		}
	}
	return out
}
