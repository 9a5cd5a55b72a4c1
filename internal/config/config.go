package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sells-group/boq-resolver/internal/batch"
	"github.com/sells-group/boq-resolver/internal/classify"
	"github.com/sells-group/boq-resolver/internal/cost"
	"github.com/sells-group/boq-resolver/internal/escalation"
	"github.com/sells-group/boq-resolver/internal/fetcher"
	"github.com/sells-group/boq-resolver/internal/gate"
	"github.com/sells-group/boq-resolver/internal/learning"
	"github.com/sells-group/boq-resolver/internal/monitoring"
	"github.com/sells-group/boq-resolver/internal/provider"
	"github.com/sells-group/boq-resolver/internal/resolver"
	"github.com/sells-group/boq-resolver/internal/stagecache"
	"github.com/sells-group/boq-resolver/internal/store"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig            `yaml:"store" mapstructure:"store"`
	Redis      stagecache.RedisConfig `yaml:"redis" mapstructure:"redis"`
	Catalog    CatalogConfig          `yaml:"catalog" mapstructure:"catalog"`
	Fetch      fetcher.Config         `yaml:"fetch" mapstructure:"fetch"`
	Provider   provider.Config        `yaml:"provider" mapstructure:"provider"`
	Classifier classify.Config        `yaml:"classifier" mapstructure:"classifier"`
	Resolver   resolver.Config        `yaml:"resolver" mapstructure:"resolver"`
	Gate       gate.Policy            `yaml:"gate" mapstructure:"gate"`
	Escalation escalation.Config      `yaml:"escalation" mapstructure:"escalation"`
	Learning   learning.Policy        `yaml:"learning" mapstructure:"learning"`
	Related    RelatedConfig          `yaml:"related" mapstructure:"related"`
	Batch      batch.Config           `yaml:"batch" mapstructure:"batch"`
	Monitoring monitoring.Config      `yaml:"monitoring" mapstructure:"monitoring"`
	Server     ServerConfig           `yaml:"server" mapstructure:"server"`
	Log        LogConfig              `yaml:"log" mapstructure:"log"`
	Pricing    cost.Rates             `yaml:"pricing" mapstructure:"pricing"`
}

// StoreConfig configures the durable state backend.
type StoreConfig struct {
	Driver      string           `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string           `yaml:"database_url" mapstructure:"database_url"`
	Pool        store.PoolConfig `yaml:"pool" mapstructure:"pool"`
}

// CatalogConfig selects the catalog source. The memory driver loads a
// code,name,unit,category snapshot from Path, which may be a local file or
// an http(s) or ftp URL.
type CatalogConfig struct {
	Driver              string  `yaml:"driver" mapstructure:"driver"`
	Path                string  `yaml:"path" mapstructure:"path"`
	SkipRows            int     `yaml:"skip_rows" mapstructure:"skip_rows"`
	DatabaseURL         string  `yaml:"database_url" mapstructure:"database_url"`
	SimilarityThreshold float64 `yaml:"similarity_threshold" mapstructure:"similarity_threshold"`
}

// RelatedConfig points at an optional related-item rule file.
type RelatedConfig struct {
	RulesPath string `yaml:"rules_path" mapstructure:"rules_path"`
}

// ServerConfig configures the HTTP control surface.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("BOQ")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "boq.db")
	v.SetDefault("catalog.driver", "memory")
	v.SetDefault("catalog.skip_rows", 1)
	v.SetDefault("catalog.similarity_threshold", 0.3)
	v.SetDefault("redis.ttl", "24h")
	v.SetDefault("fetch.cache_dir", fetcher.DefaultCacheDir)
	v.SetDefault("fetch.timeout", "30s")
	v.SetDefault("fetch.max_retries", 3)
	v.SetDefault("provider.name", provider.NameNone)
	v.SetDefault("provider.classify_model", "claude-haiku-4-5-20251001")
	v.SetDefault("provider.select_model", "claude-haiku-4-5-20251001")
	v.SetDefault("provider.max_tokens", 1024)
	v.SetDefault("provider.temperature", 0.0)
	v.SetDefault("classifier.timeout", classify.DefaultTimeout)
	v.SetDefault("classifier.chunk_size", classify.DefaultChunkSize)
	v.SetDefault("classifier.cache_ttl", "24h")
	v.SetDefault("resolver.top_k", resolver.DefaultTopK)
	v.SetDefault("resolver.candidate_limit", escalation.DefaultMaxCandidates)
	v.SetDefault("resolver.search.prefilter_limit", 200)
	v.SetDefault("resolver.search.fan_out", 2)
	v.SetDefault("resolver.search.cache_ttl", "1h")
	v.SetDefault("gate.auto_accept", gate.DefaultAutoAccept)
	v.SetDefault("gate.accept", gate.DefaultAccept)
	v.SetDefault("gate.escalation_enabled", true)
	v.SetDefault("escalation.max_concurrent", escalation.DefaultMaxConcurrent)
	v.SetDefault("escalation.request_timeout", escalation.DefaultRequestTimeout)
	v.SetDefault("escalation.queue_timeout", escalation.DefaultQueueTimeout)
	v.SetDefault("escalation.max_candidates", escalation.DefaultMaxCandidates)
	v.SetDefault("escalation.rate_per_second", 0.0)
	v.SetDefault("escalation.burst", 1)
	v.SetDefault("escalation.retry_attempts", 2)
	v.SetDefault("escalation.retry_backoff", "500ms")
	v.SetDefault("escalation.breaker_threshold", 5)
	v.SetDefault("escalation.breaker_reset", "30s")
	v.SetDefault("learning.min_confidence", 0.70)
	v.SetDefault("learning.min_usage", 2)
	v.SetDefault("learning.confidence_comparison", string(learning.LessThan))
	v.SetDefault("learning.usage_comparison", string(learning.LessThan))
	v.SetDefault("batch.concurrency", batch.DefaultConcurrency)
	v.SetDefault("batch.max_candidates", escalation.DefaultMaxCandidates)
	v.SetDefault("batch.max_items", 10000)
	v.SetDefault("monitoring.check_interval", "5m")
	v.SetDefault("monitoring.lookback_window", "24h")
	v.SetDefault("monitoring.min_items", 10)
	v.SetDefault("monitoring.error_rate_threshold", 0.10)
	v.SetDefault("monitoring.fallback_rate_threshold", 0.25)
	v.SetDefault("server.port", 8080)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}
	if len(cfg.Pricing.Anthropic) == 0 {
		cfg.Pricing = cost.DefaultRates()
	}

	return &cfg, nil
}

// Validate checks the settings a command mode depends on and reports every
// problem at once.
func (c *Config) Validate(mode string) error {
	var errs []string

	switch mode {
	case "resolve", "batch", "serve":
		errs = append(errs, c.validateStore()...)
		errs = append(errs, c.validateCatalog()...)
		errs = append(errs, c.validateResolution()...)
		if mode == "serve" && c.Server.Port <= 0 {
			errs = append(errs, "server.port must be > 0")
		}
	case "cache", "migrate":
		errs = append(errs, c.validateStore()...)
		if err := c.Learning.Validate(); err != nil {
			errs = append(errs, err.Error())
		}
	case "catalog":
		if c.Catalog.DatabaseURL == "" {
			errs = append(errs, "catalog.database_url is required")
		}
	default:
		errs = append(errs, "unknown mode: "+mode)
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

func (c *Config) validateStore() []string {
	var errs []string
	switch c.Store.Driver {
	case "sqlite", "postgres":
	default:
		errs = append(errs, "store.driver must be sqlite or postgres")
	}
	if c.Store.DatabaseURL == "" {
		errs = append(errs, "store.database_url is required")
	}
	return errs
}

func (c *Config) validateCatalog() []string {
	var errs []string
	switch c.Catalog.Driver {
	case "memory":
		if c.Catalog.Path == "" {
			errs = append(errs, "catalog.path is required for the memory driver")
		}
	case "postgres":
		if c.Catalog.DatabaseURL == "" {
			errs = append(errs, "catalog.database_url is required for the postgres driver")
		}
	default:
		errs = append(errs, "catalog.driver must be memory or postgres")
	}
	return errs
}

func (c *Config) validateResolution() []string {
	var errs []string
	for _, err := range []error{c.Provider.Validate(), c.Gate.Validate(), c.Learning.Validate()} {
		if err != nil {
			errs = append(errs, err.Error())
		}
	}
	if c.Batch.Concurrency < 1 || c.Batch.Concurrency > 64 {
		errs = append(errs, "batch.concurrency must be between 1 and 64")
	}
	if c.Escalation.MaxConcurrent < 1 {
		errs = append(errs, "escalation.max_concurrent must be >= 1")
	}
	if c.Escalation.MaxCandidates < 1 {
		errs = append(errs, "escalation.max_candidates must be >= 1")
	}
	if c.Resolver.TopK < 1 {
		errs = append(errs, "resolver.top_k must be >= 1")
	}
	return errs
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
