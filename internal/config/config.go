package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config 全局配置结构体（完全匹配config.yaml）
type Config struct {
	Server    ServerConfig              `mapstructure:"server"`    // 服务器配置
	Database  DatabaseConfig            `mapstructure:"database"`  // PostgreSQL配置
	Gateway   GatewayConfig             `mapstructure:"gateway"`   // 上游请求限流/熔断/重试
	Sync      SyncConfig                `mapstructure:"sync"`      // 同步调度配置
	Matching  MatchingConfig            `mapstructure:"matching"`  // 实体匹配阈值
	Upstreams map[string]UpstreamConfig `mapstructure:"upstreams"` // 上游数据源独立配置（catalog/pricing）
}

// ServerConfig 服务器配置
type ServerConfig struct {
	Port int    `mapstructure:"port"` // 服务端口
	Mode string `mapstructure:"mode"` // Gin运行模式：debug/release/test
}

// DatabaseConfig PostgreSQL数据库配置
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`               // 连接DSN（URL形式）
	MaxOpenConns    int           `mapstructure:"max_open_conns"`    // 最大打开连接数
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`    // 最大空闲连接数
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"` // 连接最大存活时间
}

// GatewayConfig 单个上游共享的令牌桶、AIMD 并发、熔断与重试参数
type GatewayConfig struct {
	RPS              float64       `mapstructure:"rps"`                // 每秒补充令牌数
	Burst            int           `mapstructure:"burst"`              // 令牌桶容量
	MinConcurrency   int           `mapstructure:"min_concurrency"`    // AIMD 下限
	MaxConcurrency   int           `mapstructure:"max_concurrency"`    // AIMD 上限
	InitConcurrency  int           `mapstructure:"init_concurrency"`   // AIMD 初始值
	IncreaseEvery    int           `mapstructure:"increase_every"`     // 连续成功多少次 +1
	MaxAttempts      int           `mapstructure:"max_attempts"`       // 单次请求最大尝试次数
	BaseDelay        time.Duration `mapstructure:"base_delay"`         // 退避基数
	MaxDelay         time.Duration `mapstructure:"max_delay"`          // 退避上限
	RequestTimeout   time.Duration `mapstructure:"request_timeout"`    // 单次请求超时
	BreakerThreshold int           `mapstructure:"breaker_threshold"`  // 连续失败多少次熔断
	BreakerOpenFor   time.Duration `mapstructure:"breaker_open_for"`   // 熔断持续时间
}

// SyncConfig 同步调度配置
type SyncConfig struct {
	RescaleInterval  time.Duration `mapstructure:"rescale_interval"`   // worker 数量重新评估间隔
	ChunkSize        int           `mapstructure:"chunk_size"`         // upsert 分块大小
	ChunkMaxAttempts int           `mapstructure:"chunk_max_attempts"` // 分块写入最大尝试次数
	ChunkBaseDelay   time.Duration `mapstructure:"chunk_base_delay"`   // 分块重试退避基数
	DefaultPageSize  int           `mapstructure:"default_page_size"`  // 默认每页 group 数
	MaxPageSize      int           `mapstructure:"max_page_size"`      // 每页 group 数上限
}

// MatchingConfig 实体匹配配置
type MatchingConfig struct {
	SetAutoThreshold  float64       `mapstructure:"set_auto_threshold"`  // set 自动关联最低分
	SetMinGap         float64       `mapstructure:"set_min_gap"`         // 最佳与次佳的最小分差
	ReviewMinScore    float64       `mapstructure:"review_min_score"`    // 进入人工复核的最低分
	CardNameThreshold float64       `mapstructure:"card_name_threshold"` // 卡牌名称相似度阈值
	CardPoolLimit     int           `mapstructure:"card_pool_limit"`     // 候选池超过该值跳过名称匹配（<=0 不限制）
	Budget            time.Duration `mapstructure:"budget"`              // 单次匹配的软执行预算
	CacheSize         int           `mapstructure:"cache_size"`          // 规范化结果 LRU 大小
}

// UpstreamConfig 单个上游数据源的独立配置
type UpstreamConfig struct {
	BaseURL         string   `mapstructure:"base_url"`          // API基础地址
	UserAgent       string   `mapstructure:"user_agent"`        // 请求 UA
	Referer         string   `mapstructure:"referer"`           // 请求 Referer
	Timeout         int      `mapstructure:"timeout"`           // HTTP客户端超时（秒）
	Proxy           string   `mapstructure:"proxy"`             // 代理地址
	AuthKey         string   `mapstructure:"auth_key"`          // API Key（pricing 用）
	PageSize        int      `mapstructure:"page_size"`         // 分页大小（pricing 用）
	CSVPathVariants []string          `mapstructure:"csv_path_variants"` // 产品 CSV 路径变体（按顺序尝试）
	JSONPath        string            `mapstructure:"json_path"`         // CSV 全部失败后的 JSON 路径
	Paths           map[string]string `mapstructure:"paths"`             // 其余端点路径模板（categories/groups/games/sets/cards）
}

// Path 取端点路径模板，未配置时用默认值
func (u *UpstreamConfig) Path(name, def string) string {
	if p, ok := u.Paths[name]; ok && p != "" {
		return p
	}
	return def
}

const (
	UpstreamCatalog = "catalog"
	UpstreamPricing = "pricing"
)

// LoadConfig 加载配置文件（config/config.yaml），敏感项从 .env 覆盖（不提交 git）
func LoadConfig() (*Config, error) {
	// .env 可不存在
	_ = godotenv.Load()
	return LoadConfigFrom("./config")
}

// LoadConfigFrom 从指定目录读取 config.yaml
func LoadConfigFrom(dir string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(dir)
	setDefaults(v)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("解析配置文件失败: %w", err)
	}

	overrideFromEnv(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "release")

	v.SetDefault("database.max_open_conns", 20)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 30*time.Minute)

	v.SetDefault("gateway.rps", 8.0)
	v.SetDefault("gateway.burst", 16)
	v.SetDefault("gateway.min_concurrency", 1)
	v.SetDefault("gateway.max_concurrency", 16)
	v.SetDefault("gateway.init_concurrency", 4)
	v.SetDefault("gateway.increase_every", 20)
	v.SetDefault("gateway.max_attempts", 6)
	v.SetDefault("gateway.base_delay", 500*time.Millisecond)
	v.SetDefault("gateway.max_delay", 30*time.Second)
	v.SetDefault("gateway.request_timeout", 15*time.Second)
	v.SetDefault("gateway.breaker_threshold", 5)
	v.SetDefault("gateway.breaker_open_for", 60*time.Second)

	v.SetDefault("sync.rescale_interval", 1500*time.Millisecond)
	v.SetDefault("sync.chunk_size", 500)
	v.SetDefault("sync.chunk_max_attempts", 3)
	v.SetDefault("sync.chunk_base_delay", 200*time.Millisecond)
	v.SetDefault("sync.default_page_size", 50)
	v.SetDefault("sync.max_page_size", 500)

	v.SetDefault("matching.set_auto_threshold", 0.9)
	v.SetDefault("matching.set_min_gap", 0.1)
	v.SetDefault("matching.review_min_score", 0.5)
	v.SetDefault("matching.card_name_threshold", 0.8)
	v.SetDefault("matching.card_pool_limit", 200)
	v.SetDefault("matching.budget", 50*time.Second)
	v.SetDefault("matching.cache_size", 4096)
}

// Validate 校验关键配置
func (c *Config) Validate() error {
	if c.Database.DSN == "" {
		return fmt.Errorf("database.dsn 不能为空")
	}
	for _, name := range []string{UpstreamCatalog, UpstreamPricing} {
		up, ok := c.Upstreams[name]
		if !ok || up.BaseURL == "" {
			return fmt.Errorf("缺少上游配置: upstreams.%s.base_url", name)
		}
	}
	if c.Gateway.MinConcurrency < 1 || c.Gateway.MaxConcurrency < c.Gateway.MinConcurrency {
		return fmt.Errorf("gateway 并发区间非法: [%d, %d]", c.Gateway.MinConcurrency, c.Gateway.MaxConcurrency)
	}
	if c.Matching.CardNameThreshold < 0.7 || c.Matching.CardNameThreshold > 1 {
		return fmt.Errorf("matching.card_name_threshold 须在 [0.7, 1] 之间: %v", c.Matching.CardNameThreshold)
	}
	return nil
}

// overrideFromEnv 用环境变量覆盖敏感配置
func overrideFromEnv(cfg *Config) {
	if cfg.Upstreams == nil {
		cfg.Upstreams = map[string]UpstreamConfig{}
	}
	if c, ok := cfg.Upstreams[UpstreamCatalog]; ok {
		if v := os.Getenv("CATALOG_PROXY"); v != "" {
			c.Proxy = v
		}
		cfg.Upstreams[UpstreamCatalog] = c
	}
	if p, ok := cfg.Upstreams[UpstreamPricing]; ok {
		if v := os.Getenv("PRICING_API_KEY"); v != "" {
			p.AuthKey = v
		}
		if v := os.Getenv("PRICING_PROXY"); v != "" {
			p.Proxy = v
		}
		cfg.Upstreams[UpstreamPricing] = p
	}
	if v := os.Getenv("DATABASE_DSN"); v != "" {
		cfg.Database.DSN = v
	}
}

// Upstream 获取指定上游配置
func (c *Config) Upstream(name string) (*UpstreamConfig, error) {
	up, ok := c.Upstreams[name]
	if !ok {
		return nil, fmt.Errorf("未获取到上游配置: %s", name)
	}
	return &up, nil
}
