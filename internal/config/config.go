package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// ConfigPath is the default configuration file location.
const ConfigPath = "config.yaml"

// FileConfig represents configuration loaded from YAML.
type FileConfig struct {
	Port     string `yaml:"port"`
	LogLevel string `yaml:"logLevel"`

	DatabaseURL   string `yaml:"databaseURL"`
	RedisAddr     string `yaml:"redisAddr"`
	RedisPassword string `yaml:"redisPassword"`

	SessionTTLHours int `yaml:"sessionTTLHours"`
	// SessionSecret switches sessions to stateless HS256 tokens; when empty,
	// sessions live in Redis and logout revokes them.
	SessionSecret string `yaml:"sessionSecret"`

	IdentityJWKSURL  string `yaml:"identityJWKSURL"`
	IdentityIssuer   string `yaml:"identityIssuer"`
	IdentityAudience string `yaml:"identityAudience"`

	RaterBaseURL string `yaml:"raterBaseURL"`
	RaterAPIKey  string `yaml:"raterAPIKey"`
	RaterModel   string `yaml:"raterModel"`

	CacheRetentionDays        int  `yaml:"cacheRetentionDays"`
	CacheSweepIntervalHours   int  `yaml:"cacheSweepIntervalHours"`
	CacheSweepEnabled         bool `yaml:"cacheSweepEnabled"`
	AnalyzeRateLimitPerMinute int  `yaml:"analyzeRateLimitPerMinute"`

	ShareURLBase string `yaml:"shareURLBase"`

	AdminEmails    []string `yaml:"adminEmails"`
	TrustedProxies []string `yaml:"trustedProxies"`
}

// Load reads config from path (defaults to config.yaml).
func Load(path string) (FileConfig, error) {
	cfg := FileConfig{}
	if path == "" {
		path = ConfigPath
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	// Override with environment variables
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.DatabaseURL = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.RedisAddr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.RedisPassword = v
	}
	if v := os.Getenv("SESSION_SECRET"); v != "" {
		cfg.SessionSecret = v
	}
	if v := os.Getenv("RATER_BASE_URL"); v != "" {
		cfg.RaterBaseURL = v
	}
	if v := os.Getenv("RATER_API_KEY"); v != "" {
		cfg.RaterAPIKey = v
	}
	if v := os.Getenv("RATER_MODEL"); v != "" {
		cfg.RaterModel = v
	}
	if v := os.Getenv("IDENTITY_JWKS_URL"); v != "" {
		cfg.IdentityJWKSURL = v
	}
	if v := os.Getenv("ADMIN_EMAILS"); v != "" {
		cfg.AdminEmails = splitList(v)
	}
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func validateConfig(cfg FileConfig) error {
	if cfg.Port == "" {
		return errors.New("config: port is required (set in config.yaml)")
	}
	if cfg.DatabaseURL == "" {
		return errors.New("config: databaseURL is required (set in config.yaml or DATABASE_URL)")
	}
	if cfg.RedisAddr == "" {
		return errors.New("config: redisAddr is required (set in config.yaml or REDIS_ADDR)")
	}
	if cfg.RaterBaseURL == "" {
		return errors.New("config: raterBaseURL is required (set in config.yaml or RATER_BASE_URL)")
	}
	if cfg.RaterModel == "" {
		return errors.New("config: raterModel is required (set in config.yaml or RATER_MODEL)")
	}
	if cfg.IdentityJWKSURL == "" {
		return errors.New("config: identityJWKSURL is required (set in config.yaml or IDENTITY_JWKS_URL)")
	}
	if cfg.SessionTTLHours < 0 {
		return errors.New("config: sessionTTLHours must not be negative")
	}
	if cfg.CacheRetentionDays < 0 {
		return errors.New("config: cacheRetentionDays must not be negative")
	}
	return nil
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
