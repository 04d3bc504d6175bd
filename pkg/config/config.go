package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// Config is the full configuration surface of the engine. Every section
// has working defaults; a missing config file yields DefaultConfig.
type Config struct {
	XSS             XSSConfig             `mapstructure:"xss"`
	CSP             CSPConfig             `mapstructure:"csp"`
	RateLimit       RateLimitConfig       `mapstructure:"rate_limit"`
	InputValidation InputValidationConfig `mapstructure:"input_validation"`
	ThreatDetection ThreatDetectionConfig `mapstructure:"threat_detection"`
	Reporting       ReportingConfig       `mapstructure:"reporting"`
}

type XSSConfig struct {
	Enabled           bool     `mapstructure:"enabled"`
	Mode              string   `mapstructure:"mode"` // strict, moderate, loose
	AllowedTags       []string `mapstructure:"allowed_tags"`
	AllowedAttributes []string `mapstructure:"allowed_attributes"`
}

type CSPConfig struct {
	Enabled     bool                `mapstructure:"enabled"`
	EnforceMode bool                `mapstructure:"enforce_mode"`
	Directives  map[string][]string `mapstructure:"directives"`
	UseNonces   bool                `mapstructure:"use_nonces"`
	UseHashes   bool                `mapstructure:"use_hashes"`
	ReportURI   string              `mapstructure:"report_uri"`
	Environment string              `mapstructure:"environment"` // production, development, test
	RotateEvery time.Duration       `mapstructure:"rotate_every"`
}

type RateLimitConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	MaxRequests int           `mapstructure:"max_requests"`
	Window      time.Duration `mapstructure:"window"`
	Redis       RedisConfig   `mapstructure:"redis"`
}

type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type InputValidationConfig struct {
	Enabled           bool     `mapstructure:"enabled"`
	MaxLength         int      `mapstructure:"max_length"`
	AllowedCharacters string   `mapstructure:"allowed_characters"`
	BlockedPatterns   []string `mapstructure:"blocked_patterns"`
}

type ThreatDetectionConfig struct {
	Enabled            bool          `mapstructure:"enabled"`
	SuspiciousPatterns []string      `mapstructure:"suspicious_patterns"`
	AlertThreshold     int           `mapstructure:"alert_threshold"`
	AlertWindow        time.Duration `mapstructure:"alert_window"`
	HighRiskThreshold  int           `mapstructure:"high_risk_threshold"`
}

type ReportingConfig struct {
	Endpoint                string        `mapstructure:"endpoint"`
	FlushInterval           time.Duration `mapstructure:"flush_interval"`
	MaxReports              int           `mapstructure:"max_reports"`
	ViolationsPerMinute     int           `mapstructure:"violations_per_minute"`
	UniqueViolationsPerHour int           `mapstructure:"unique_violations_per_hour"`
	CriticalDirectives      []string      `mapstructure:"critical_directives"`
	FailureThreshold        int           `mapstructure:"failure_threshold"`
	BreakerTimeout          time.Duration `mapstructure:"breaker_timeout"`
}

// DefaultConfig returns the secure defaults applied when no file or
// environment override is present. All protection layers start enabled;
// disabling any of them is an explicit host decision.
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.XSS.Enabled = true
	cfg.CSP.Enabled = true
	cfg.CSP.EnforceMode = true
	cfg.CSP.UseNonces = true
	cfg.RateLimit.Enabled = true
	cfg.InputValidation.Enabled = true
	cfg.ThreatDetection.Enabled = true
	cfg.applyDefaults()
	return cfg
}

// Load reads editguard.yaml from configPath (plus ./config and .) and
// merges environment variables over it. A missing file is not an error.
func Load(configPath string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigName("editguard")
	v.SetConfigType("yaml")
	if configPath != "" {
		v.AddConfigPath(configPath)
	}
	v.AddConfigPath("./config")
	v.AddConfigPath(".")

	v.SetEnvPrefix("EDITGUARD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Boolean defaults must go through viper so an explicit "enabled: false"
	// in the file survives unmarshalling.
	v.SetDefault("xss.enabled", true)
	v.SetDefault("csp.enabled", true)
	v.SetDefault("csp.enforce_mode", true)
	v.SetDefault("csp.use_nonces", true)
	v.SetDefault("rate_limit.enabled", true)
	v.SetDefault("input_validation.enabled", true)
	v.SetDefault("threat_detection.enabled", true)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	// Duration strings and comma-separated env lists need explicit hooks.
	decodeHook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.XSS.Mode == "" {
		c.XSS.Mode = "strict"
	}
	if c.CSP.Environment == "" {
		c.CSP.Environment = "production"
	}
	if c.CSP.RotateEvery <= 0 {
		c.CSP.RotateEvery = 5 * time.Minute
	}
	if c.RateLimit.MaxRequests <= 0 {
		c.RateLimit.MaxRequests = 100
	}
	if c.RateLimit.Window <= 0 {
		c.RateLimit.Window = 15 * time.Minute
	}
	if c.RateLimit.Redis.Port == 0 {
		c.RateLimit.Redis.Port = 6379
	}
	if c.InputValidation.MaxLength <= 0 {
		c.InputValidation.MaxLength = 10000
	}
	if len(c.InputValidation.BlockedPatterns) == 0 {
		c.InputValidation.BlockedPatterns = []string{
			`(?i)<script`,
			`(?i)javascript:`,
			`(?i)\bon\w+\s*=`,
			`(?i)data:text/html`,
		}
	}
	if c.ThreatDetection.AlertThreshold <= 0 {
		c.ThreatDetection.AlertThreshold = 3
	}
	if c.ThreatDetection.AlertWindow <= 0 {
		c.ThreatDetection.AlertWindow = time.Hour
	}
	if c.ThreatDetection.HighRiskThreshold <= 0 {
		c.ThreatDetection.HighRiskThreshold = 70
	}
	if c.Reporting.FlushInterval <= 0 {
		c.Reporting.FlushInterval = 30 * time.Second
	}
	if c.Reporting.MaxReports <= 0 {
		c.Reporting.MaxReports = 1000
	}
	if c.Reporting.ViolationsPerMinute <= 0 {
		c.Reporting.ViolationsPerMinute = 10
	}
	if c.Reporting.UniqueViolationsPerHour <= 0 {
		c.Reporting.UniqueViolationsPerHour = 5
	}
	if len(c.Reporting.CriticalDirectives) == 0 {
		c.Reporting.CriticalDirectives = []string{"script-src", "object-src", "base-uri"}
	}
	if c.Reporting.FailureThreshold <= 0 {
		c.Reporting.FailureThreshold = 5
	}
	if c.Reporting.BreakerTimeout <= 0 {
		c.Reporting.BreakerTimeout = 60 * time.Second
	}
}
