// Package config loads service settings from the environment.
package config

import (
	"errors"
	"fmt"
	"log"
	"path/filepath"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// AppName is used for the default data directory.
const AppName = "seoaudit"

// Config holds the non-secret settings of the service.
type Config struct {
	Port    string `mapstructure:"PORT"`
	GinMode string `mapstructure:"GIN_MODE"`
	DataDir string `mapstructure:"DATA_DIR"`

	DBDriver    string `mapstructure:"DB_DRIVER"`
	DatabaseURL string `mapstructure:"DATABASE_URL"`

	FetchTimeout      time.Duration `mapstructure:"FETCH_TIMEOUT"`
	FetchMaxBodyBytes int64         `mapstructure:"FETCH_MAX_BODY_BYTES"`
	FetchUserAgent    string        `mapstructure:"FETCH_USER_AGENT"`
	ScanCacheTTL      time.Duration `mapstructure:"SCAN_CACHE_TTL"`
	HistoryLimit      int           `mapstructure:"HISTORY_LIMIT"`

	RateLimitRPS   float64 `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst int     `mapstructure:"RATE_LIMIT_BURST"`

	CORSOrigins []string `mapstructure:"CORS_ORIGINS"`
	FrontendURL string   `mapstructure:"FRONTEND_URL"`

	TokenTTL                 time.Duration `mapstructure:"TOKEN_TTL"`
	RequireEmailVerification bool          `mapstructure:"REQUIRE_EMAIL_VERIFICATION"`

	GeminiModel   string        `mapstructure:"GEMINI_MODEL"`
	GeminiBaseURL string        `mapstructure:"GEMINI_BASE_URL"`
	GeminiTimeout time.Duration `mapstructure:"GEMINI_TIMEOUT"`

	SMTPHost string `mapstructure:"SMTP_HOST"`
	SMTPPort string `mapstructure:"SMTP_PORT"`
	SMTPUser string `mapstructure:"SMTP_USER"`
	SMTPPass string `mapstructure:"SMTP_PASS"`
	MailFrom string `mapstructure:"MAIL_FROM"`

	LogLevel string `mapstructure:"LOG_LEVEL"`
	LogStyle string `mapstructure:"LOG_STYLE"`
}

var keys = []string{
	"PORT", "GIN_MODE", "DATA_DIR", "DB_DRIVER", "DATABASE_URL",
	"FETCH_TIMEOUT", "FETCH_MAX_BODY_BYTES", "FETCH_USER_AGENT", "SCAN_CACHE_TTL", "HISTORY_LIMIT",
	"RATE_LIMIT_RPS", "RATE_LIMIT_BURST", "CORS_ORIGINS", "FRONTEND_URL",
	"TOKEN_TTL", "REQUIRE_EMAIL_VERIFICATION",
	"GEMINI_MODEL", "GEMINI_BASE_URL", "GEMINI_TIMEOUT",
	"SMTP_HOST", "SMTP_PORT", "SMTP_USER", "SMTP_PASS", "MAIL_FROM",
	"LOG_LEVEL", "LOG_STYLE",
}

// LoadEnv reads .env.development, falling back to .env. Missing files are fine.
func LoadEnv() {
	if err := godotenv.Load(".env.development"); err != nil {
		if err := godotenv.Load(); err != nil {
			log.Println("No .env file found, using environment variables")
		}
	}
}

// Load builds a Config from the process environment.
func Load() (*Config, error) {
	v := viper.New()
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("PORT", "8082")
	v.SetDefault("GIN_MODE", "release")
	v.SetDefault("DATA_DIR", filepath.Join(xdg.DataHome, AppName))
	v.SetDefault("DB_DRIVER", "sqlite")
	v.SetDefault("FETCH_TIMEOUT", "8s")
	v.SetDefault("FETCH_MAX_BODY_BYTES", 5*1024*1024)
	v.SetDefault("FETCH_USER_AGENT", "SEOAudit/1.0 (+https://seoaudit.app/bot)")
	v.SetDefault("SCAN_CACHE_TTL", "24h")
	v.SetDefault("HISTORY_LIMIT", 20)
	v.SetDefault("RATE_LIMIT_RPS", 2)
	v.SetDefault("RATE_LIMIT_BURST", 5)
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("FRONTEND_URL", "http://localhost:3000")
	v.SetDefault("TOKEN_TTL", "24h")
	v.SetDefault("REQUIRE_EMAIL_VERIFICATION", false)
	v.SetDefault("GEMINI_MODEL", "gemini-1.5-flash")
	v.SetDefault("GEMINI_BASE_URL", "https://generativelanguage.googleapis.com/v1beta")
	v.SetDefault("GEMINI_TIMEOUT", "20s")
	v.SetDefault("SMTP_PORT", "587")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_STYLE", "json")

	for _, key := range keys {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("bind %s: %w", key, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.New("failed to unmarshal config: " + err.Error())
	}
	cfg.CORSOrigins = splitList(cfg.CORSOrigins)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks settings that would otherwise fail deep inside a request.
func (c *Config) Validate() error {
	switch c.DBDriver {
	case "sqlite":
	case "postgres":
		if c.DatabaseURL == "" {
			return errors.New("DATABASE_URL is required when DB_DRIVER=postgres")
		}
	default:
		return fmt.Errorf("unsupported DB_DRIVER %q", c.DBDriver)
	}
	if c.FetchTimeout <= 0 {
		return errors.New("FETCH_TIMEOUT must be positive")
	}
	if c.ScanCacheTTL < 0 {
		return errors.New("SCAN_CACHE_TTL must not be negative")
	}
	if c.HistoryLimit <= 0 {
		c.HistoryLimit = 20
	}
	return nil
}

// SQLitePath is the database file used when DB_DRIVER=sqlite and DATABASE_URL is empty.
func (c *Config) SQLitePath() string {
	if c.DatabaseURL != "" {
		return c.DatabaseURL
	}
	return filepath.Join(c.DataDir, AppName+".db")
}

// SMTPConfigured reports whether verification mail can be sent.
func (c *Config) SMTPConfigured() bool {
	return c.SMTPHost != "" && c.MailFrom != ""
}

// splitList accepts both a proper list and a single comma separated value.
func splitList(in []string) []string {
	var out []string
	for _, item := range in {
		for _, part := range strings.Split(item, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
