package adapter

import (
	"context"
	"io"
	"testing"
	"time"

	"CardSync/internal/config"
	"CardSync/internal/gateway"
	"CardSync/internal/interfaces"
	"CardSync/internal/model"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCatalog struct {
	gw *gateway.Gateway
}

func (f *fakeCatalog) Name() string                { return config.UpstreamCatalog }
func (f *fakeCatalog) Throttle() *gateway.Throttle { return f.gw.Throttle() }
func (f *fakeCatalog) FetchCategories(context.Context) ([]*model.CatalogCategory, interfaces.FetchStats, error) {
	return nil, interfaces.FetchStats{}, nil
}
func (f *fakeCatalog) FetchGroups(context.Context, int64) ([]*model.CatalogGroup, interfaces.FetchStats, error) {
	return nil, interfaces.FetchStats{}, nil
}
func (f *fakeCatalog) FetchProducts(context.Context, int64, int64) ([]*model.CatalogProduct, interfaces.FetchStats, error) {
	return nil, interfaces.FetchStats{}, nil
}

type misnamed struct{ fakeCatalog }

func (m *misnamed) Name() string { return "other" }

func TestSourceRegistry_BuildsFromFactories(t *testing.T) {
	saved := factoryRegistry
	factoryRegistry = map[string]interfaces.Factory{}
	defer func() { factoryRegistry = saved }()

	Register(config.UpstreamCatalog, func(gw *gateway.Gateway, _ *config.UpstreamConfig, _ *logrus.Logger) interfaces.Source {
		return &fakeCatalog{gw: gw}
	})
	Register(config.UpstreamPricing, func(gw *gateway.Gateway, _ *config.UpstreamConfig, _ *logrus.Logger) interfaces.Source {
		return &misnamed{fakeCatalog{gw: gw}}
	})
	assert.Equal(t, []string{"catalog", "pricing"}, ListFactories())

	logger := logrus.New()
	logger.SetOutput(io.Discard)
	cfg := &config.Config{
		Gateway: config.GatewayConfig{
			RPS: 5, Burst: 5, MinConcurrency: 1, MaxConcurrency: 4, InitConcurrency: 3,
			IncreaseEvery: 10, MaxAttempts: 1, RequestTimeout: time.Second,
			BreakerThreshold: 3, BreakerOpenFor: time.Second,
		},
		Upstreams: map[string]config.UpstreamConfig{
			config.UpstreamCatalog: {BaseURL: "http://catalog.test"},
			config.UpstreamPricing: {BaseURL: "http://pricing.test"},
			"unknown":              {BaseURL: "http://unknown.test"},
		},
	}

	r := NewSourceRegistry(cfg, logger)
	assert.Equal(t, []string{"catalog"}, r.ListSources())

	cs, err := r.Catalog()
	require.NoError(t, err)
	assert.Equal(t, "catalog", cs.Name())

	_, err = r.Pricing()
	assert.Error(t, err)

	stats := r.ThrottleStats()
	require.Len(t, stats, 1)
	assert.Equal(t, "catalog", stats[0].Upstream)
	assert.Equal(t, 3, stats[0].Concurrency)
	assert.False(t, stats[0].CircuitOpen)
}

func TestRegister_NilFactoryPanics(t *testing.T) {
	assert.Panics(t, func() { Register("x", nil) })
}
