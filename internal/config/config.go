// Package config provides configuration loading for llmgw.
//
// Configuration is read from a YAML file and overridden by LLMGW_-prefixed
// environment variables. Defaults are applied before validation.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

const (
	ProviderTypeAnthropic = "anthropic"
	ProviderTypeOpenAI    = "openai"
)

// Config holds the complete llmgw configuration.
type Config struct {
	Server          ServerConfig              `koanf:"server"`
	Providers       map[string]ProviderConfig `koanf:"providers" validate:"dive"`
	DefaultProvider string                    `koanf:"default_provider"`
	Retry           RetryConfig               `koanf:"retry"`
	RateLimit       RateLimitConfig           `koanf:"rate_limit"`
	Dispatch        DispatchConfig            `koanf:"dispatch"`
	Pipeline        PipelineConfig            `koanf:"pipeline"`
	Prefilter       PrefilterConfig           `koanf:"prefilter"`
	Cache           CacheConfig               `koanf:"cache"`
	Session         SessionConfig             `koanf:"session"`
	Secrets         SecretsConfig             `koanf:"secrets"`
	Logging         LoggingConfig             `koanf:"logging"`
	Telemetry       TelemetryConfig           `koanf:"telemetry"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string   `koanf:"host"`
	Port            int      `koanf:"http_port" validate:"min=1,max=65535"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout" validate:"gt=0"`
}

// ProviderConfig configures one provider adapter. The map key in
// Config.Providers is the provider name.
type ProviderConfig struct {
	Type         string   `koanf:"type" validate:"required,oneof=anthropic openai"`
	APIKey       Secret   `koanf:"api_key"`
	BaseURL      string   `koanf:"base_url" validate:"omitempty,url"`
	DefaultModel string   `koanf:"default_model"`
	MaxTokens    int      `koanf:"max_tokens" validate:"min=0"`
	Temperature  *float64 `koanf:"temperature" validate:"omitempty,min=0,max=2"`
	// Per-provider rate limits. Zero falls back to RateLimit.
	RequestsPerMinute int `koanf:"requests_per_minute" validate:"min=0"`
	TokensPerMinute   int `koanf:"tokens_per_minute" validate:"min=0"`
}

// RetryConfig controls transport retries.
type RetryConfig struct {
	MaxAttempts    int      `koanf:"max_attempts" validate:"min=1,max=20"`
	InitialBackoff Duration `koanf:"initial_backoff" validate:"gt=0"`
	MaxBackoff     Duration `koanf:"max_backoff" validate:"gt=0"`
	Multiplier     float64  `koanf:"multiplier" validate:"gte=1"`
	Jitter         *float64 `koanf:"jitter" validate:"omitempty,min=0,max=1"`
}

// RateLimitConfig holds default per-provider limits.
type RateLimitConfig struct {
	RequestsPerMinute int      `koanf:"requests_per_minute" validate:"min=0"`
	TokensPerMinute   int      `koanf:"tokens_per_minute" validate:"min=0"`
	MaxWait           Duration `koanf:"max_wait"`
	RequestTimeout    Duration `koanf:"request_timeout"`
}

// DispatchConfig controls parallel fan-out.
type DispatchConfig struct {
	Timeout Duration `koanf:"timeout" validate:"gt=0"`
}

// PipelineConfig controls the selection and enhancement pipeline.
type PipelineConfig struct {
	ConstraintLadder     []int    `koanf:"constraint_ladder" validate:"required,min=1,dive,gt=0"`
	MaxSelectionAttempts int      `koanf:"max_selection_attempts" validate:"min=1"`
	MaxInputChars        int      `koanf:"max_input_chars" validate:"min=1"`
	RegistryPath         string   `koanf:"registry_path"`
	SelectionTTL         Duration `koanf:"selection_ttl" validate:"gt=0"`
	EnhancementTTL       Duration `koanf:"enhancement_ttl" validate:"gt=0"`
}

// PrefilterConfig tunes relevance ranking.
type PrefilterConfig struct {
	TopK                int     `koanf:"top_k" validate:"min=1"`
	TierWeight          float64 `koanf:"tier_weight" validate:"min=0"`
	ConceptWeight       float64 `koanf:"concept_weight" validate:"min=0"`
	Saturation          int     `koanf:"saturation" validate:"min=1"`
	MaxCapitalizedTerms int     `koanf:"max_capitalized_terms" validate:"min=1"`
}

// CacheConfig selects the response cache store.
type CacheConfig struct {
	Driver          string      `koanf:"driver" validate:"oneof=memory redis none"`
	CleanupInterval Duration    `koanf:"cleanup_interval"`
	Redis           RedisConfig `koanf:"redis"`
}

// RedisConfig configures the redis cache store.
type RedisConfig struct {
	URL       string `koanf:"url"`
	Password  Secret `koanf:"password"`
	DB        int    `koanf:"db" validate:"min=0"`
	KeyPrefix string `koanf:"key_prefix"`
}

// SessionConfig controls session lifetimes.
type SessionConfig struct {
	IdleTTL       Duration `koanf:"idle_ttl" validate:"gt=0"`
	SweepInterval Duration `koanf:"sweep_interval"`
	TombstoneTTL  Duration `koanf:"tombstone_ttl"`
}

// SecretsConfig controls secret scrubbing of document text.
type SecretsConfig struct {
	Enabled   bool     `koanf:"enabled"`
	Engine    string   `koanf:"engine" validate:"oneof=regex gitleaks"`
	Redaction string   `koanf:"redaction"`
	AllowList []string `koanf:"allow_list"`
}

// LoggingConfig is the subset of logging settings exposed in the file.
type LoggingConfig struct {
	Level  string `koanf:"level" validate:"omitempty,oneof=trace debug info warn error"`
	Format string `koanf:"format" validate:"oneof=json console"`
	OTEL   bool   `koanf:"otel"`
}

// TelemetryConfig holds OpenTelemetry exporter settings.
type TelemetryConfig struct {
	Enabled        bool     `koanf:"enabled"`
	Endpoint       string   `koanf:"endpoint" validate:"required_if=Enabled true"`
	Protocol       string   `koanf:"protocol" validate:"oneof=grpc http"`
	Insecure       bool     `koanf:"insecure"`
	ServiceName    string   `koanf:"service_name" validate:"required"`
	SampleRate     float64  `koanf:"sample_rate" validate:"min=0,max=1"`
	ExportInterval Duration `koanf:"export_interval"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// applyDefaults sets default values for missing configuration fields.
func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "127.0.0.1"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8088
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = Duration(10 * time.Second)
	}

	if cfg.Providers == nil {
		cfg.Providers = map[string]ProviderConfig{}
	}
	for name, p := range cfg.Providers {
		if p.Type == "" {
			p.Type = name
		}
		p.APIKey = p.APIKey.OrEnv(apiKeyEnv(p.Type))
		if p.MaxTokens == 0 {
			p.MaxTokens = 1024
		}
		cfg.Providers[name] = p
	}

	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry.MaxAttempts = 3
	}
	if cfg.Retry.InitialBackoff == 0 {
		cfg.Retry.InitialBackoff = Duration(500 * time.Millisecond)
	}
	if cfg.Retry.MaxBackoff == 0 {
		cfg.Retry.MaxBackoff = Duration(10 * time.Second)
	}
	if cfg.Retry.Multiplier == 0 {
		cfg.Retry.Multiplier = 2
	}
	if cfg.Retry.Jitter == nil {
		jitter := 0.5
		cfg.Retry.Jitter = &jitter
	}

	if cfg.RateLimit.MaxWait == 0 {
		cfg.RateLimit.MaxWait = Duration(30 * time.Second)
	}
	if cfg.RateLimit.RequestTimeout == 0 {
		cfg.RateLimit.RequestTimeout = Duration(60 * time.Second)
	}

	if cfg.Dispatch.Timeout == 0 {
		cfg.Dispatch.Timeout = Duration(2 * time.Minute)
	}

	if len(cfg.Pipeline.ConstraintLadder) == 0 {
		cfg.Pipeline.ConstraintLadder = []int{10, 5, 3}
	}
	if cfg.Pipeline.MaxSelectionAttempts == 0 {
		cfg.Pipeline.MaxSelectionAttempts = len(cfg.Pipeline.ConstraintLadder)
	}
	if cfg.Pipeline.MaxInputChars == 0 {
		cfg.Pipeline.MaxInputChars = 100_000
	}
	if cfg.Pipeline.SelectionTTL == 0 {
		cfg.Pipeline.SelectionTTL = Duration(24 * time.Hour)
	}
	if cfg.Pipeline.EnhancementTTL == 0 {
		cfg.Pipeline.EnhancementTTL = Duration(time.Hour)
	}

	if cfg.Prefilter.TopK == 0 {
		cfg.Prefilter.TopK = 10
	}
	if cfg.Prefilter.TierWeight == 0 && cfg.Prefilter.ConceptWeight == 0 {
		cfg.Prefilter.TierWeight = 0.6
		cfg.Prefilter.ConceptWeight = 0.4
	}
	if cfg.Prefilter.Saturation == 0 {
		cfg.Prefilter.Saturation = 3
	}
	if cfg.Prefilter.MaxCapitalizedTerms == 0 {
		cfg.Prefilter.MaxCapitalizedTerms = 20
	}

	if cfg.Cache.Driver == "" {
		cfg.Cache.Driver = "memory"
	}
	if cfg.Cache.CleanupInterval == 0 {
		cfg.Cache.CleanupInterval = Duration(10 * time.Minute)
	}

	if cfg.Session.IdleTTL == 0 {
		cfg.Session.IdleTTL = Duration(30 * time.Minute)
	}
	if cfg.Session.SweepInterval == 0 {
		cfg.Session.SweepInterval = Duration(time.Minute)
	}

	if cfg.Secrets.Engine == "" {
		cfg.Secrets.Engine = "regex"
	}
	if cfg.Secrets.Redaction == "" {
		cfg.Secrets.Redaction = "[REDACTED]"
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}

	if cfg.Telemetry.Protocol == "" {
		cfg.Telemetry.Protocol = "grpc"
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = "llmgw"
	}
	if cfg.Telemetry.SampleRate == 0 {
		cfg.Telemetry.SampleRate = 1
	}
	if cfg.Telemetry.ExportInterval == 0 {
		cfg.Telemetry.ExportInterval = Duration(15 * time.Second)
	}
}

// apiKeyEnv is the conventional credential variable for a provider type.
func apiKeyEnv(providerType string) string {
	switch providerType {
	case ProviderTypeAnthropic:
		return "ANTHROPIC_API_KEY"
	case ProviderTypeOpenAI:
		return "OPENAI_API_KEY"
	}
	return ""
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate validates the configuration.
//
// Struct tags cover ranges and enumerations. Cross-field rules are checked
// afterwards:
//   - the constraint ladder must be strictly decreasing
//   - every provider needs an API key
//   - the default provider, when set, must be configured
//   - the redis driver needs a URL
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("invalid %s: failed %q check", fe.Namespace(), fe.Tag())
		}
		return err
	}

	ladder := c.Pipeline.ConstraintLadder
	for i := 1; i < len(ladder); i++ {
		if ladder[i] >= ladder[i-1] {
			return fmt.Errorf("pipeline.constraint_ladder must be strictly decreasing, got %v", ladder)
		}
	}

	for name, p := range c.Providers {
		if !p.APIKey.IsSet() {
			return fmt.Errorf("provider %q: api_key is required (or set %s)", name, apiKeyEnv(p.Type))
		}
	}

	if c.DefaultProvider != "" {
		if _, ok := c.Providers[c.DefaultProvider]; !ok {
			return fmt.Errorf("default_provider %q is not configured", c.DefaultProvider)
		}
	}

	if c.Cache.Driver == "redis" && c.Cache.Redis.URL == "" {
		return errors.New("cache.redis.url is required for the redis driver")
	}

	return nil
}
