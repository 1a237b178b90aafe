package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sells-group/menu-extract/internal/cost"
	"github.com/sells-group/menu-extract/internal/ocr"
	"github.com/sells-group/menu-extract/internal/ratelimit"
	"github.com/sells-group/menu-extract/internal/upload"
)

// Config holds the full application configuration.
type Config struct {
	Anthropic  AnthropicConfig                 `yaml:"anthropic" mapstructure:"anthropic"`
	Upload     upload.S3Config                 `yaml:"upload" mapstructure:"upload"`
	OCR        ocr.Config                      `yaml:"ocr" mapstructure:"ocr"`
	Extraction ExtractionConfig                `yaml:"extraction" mapstructure:"extraction"`
	RateLimits map[string]ratelimit.TierConfig `yaml:"rate_limits" mapstructure:"rate_limits"`
	Pricing    cost.Rates                      `yaml:"pricing" mapstructure:"pricing"`
	Server     ServerConfig                    `yaml:"server" mapstructure:"server"`
	Log        LogConfig                       `yaml:"log" mapstructure:"log"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	Key          string `yaml:"key" mapstructure:"key"`
	FastModel    string `yaml:"fast_model" mapstructure:"fast_model"`
	CapableModel string `yaml:"capable_model" mapstructure:"capable_model"`
}

// ExtractionConfig holds pipeline tunables. None of these affect
// correctness, only cost and latency.
type ExtractionConfig struct {
	PDFMinTextChars      int    `yaml:"pdf_min_text_chars" mapstructure:"pdf_min_text_chars"`
	DefaultTier          string `yaml:"default_tier" mapstructure:"default_tier"`
	BatchTokenBudget     int    `yaml:"batch_token_budget" mapstructure:"batch_token_budget"`
	OversizedTokenBudget int    `yaml:"oversized_token_budget" mapstructure:"oversized_token_budget"`
	LargeTextTokens      int    `yaml:"large_text_tokens" mapstructure:"large_text_tokens"`
	EnrichBatchSize      int    `yaml:"enrich_batch_size" mapstructure:"enrich_batch_size"`
	MaxOutputTokens      int    `yaml:"max_output_tokens" mapstructure:"max_output_tokens"`
	CallTimeoutSecs      int    `yaml:"call_timeout_secs" mapstructure:"call_timeout_secs"`
	CacheTTLMins         int    `yaml:"cache_ttl_mins" mapstructure:"cache_ttl_mins"`
}

// ServerConfig configures the HTTP surface.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"` // "json" or "console"
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("MENU")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("anthropic.fast_model", "claude-haiku-4-5-20251001")
	v.SetDefault("anthropic.capable_model", "claude-sonnet-4-5-20250929")
	v.SetDefault("upload.region", "us-east-1")
	v.SetDefault("upload.presign_expiry_secs", 3600)
	v.SetDefault("ocr.provider", "local")
	v.SetDefault("ocr.pdftotext_path", "pdftotext")
	v.SetDefault("extraction.pdf_min_text_chars", 100)
	v.SetDefault("extraction.default_tier", "fast")
	v.SetDefault("extraction.batch_token_budget", 4000)
	v.SetDefault("extraction.oversized_token_budget", 2000)
	v.SetDefault("extraction.large_text_tokens", 3000)
	v.SetDefault("extraction.enrich_batch_size", 20)
	v.SetDefault("extraction.max_output_tokens", 8192)
	v.SetDefault("extraction.call_timeout_secs", 120)
	v.SetDefault("extraction.cache_ttl_mins", 60)
	v.SetDefault("rate_limits.fast.requests_per_minute", 50)
	v.SetDefault("rate_limits.fast.max_in_flight", 8)
	v.SetDefault("rate_limits.capable.requests_per_minute", 10)
	v.SetDefault("rate_limits.capable.max_in_flight", 2)

	if err := v.ReadInConfig(); err != nil {
		// Config file is optional; env vars and defaults may be enough.
		var notFound viper.ConfigFileNotFoundError
		if !eris.As(err, &notFound) {
			return nil, eris.Wrap(err, "config: read config file")
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
