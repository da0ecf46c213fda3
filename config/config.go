// Package config loads service settings from the environment, with an
// optional .env file for local development.
package config

import (
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"challenge-engine/utils"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	Port     int    `env:"PORT" envDefault:"5200"`
	DBDriver string `env:"DB_DRIVER" envDefault:"postgres"`
	// DatabaseURL is a postgres DSN, or a sqlite file path when DBDriver is sqlite.
	DatabaseURL  string `env:"DATABASE_URL,required,notEmpty"`
	GatewayToken string `env:"GATEWAY_SERVICE_TOKEN,required,notEmpty"`

	AllowedOrigins []string `env:"ALLOWED_ORIGINS" envSeparator:"," envDefault:"http://localhost:3000"`

	ActivitySourceURL    string        `env:"ACTIVITY_SOURCE_URL"`
	SocialServiceURL     string        `env:"SOCIAL_SERVICE_URL"`
	ActivitySyncInterval time.Duration `env:"ACTIVITY_SYNC_INTERVAL" envDefault:"1m"`
	StatusSweepInterval  time.Duration `env:"STATUS_SWEEP_INTERVAL" envDefault:"1m"`

	MaxUpdateRetries   int     `env:"MAX_UPDATE_RETRIES" envDefault:"3"`
	ActivityRatePerSec float64 `env:"ACTIVITY_RATE_PER_SEC" envDefault:"5"`
	ActivityRateBurst  int     `env:"ACTIVITY_RATE_BURST" envDefault:"30"`

	R2 R2

	MetricsUser string `env:"METRICS_USER"`
	MetricsPass string `env:"METRICS_PASS"`
}

type R2 struct {
	AccountID       string `env:"CLOUDFLARE_ACCOUNT_ID"`
	AccessKeyID     string `env:"R2_ACCESS_KEY_ID"`
	AccessKeySecret string `env:"R2_ACCESS_KEY_SECRET"`
	Bucket          string `env:"R2_BUCKET_NAME"`
	CDNBaseURL      string `env:"CDN_BASE_URL"`
}

// Archive converts the R2 settings for utils.NewR2Archiver.
func (r R2) Archive() utils.R2Config {
	return utils.R2Config{
		AccountID:       r.AccountID,
		AccessKeyID:     r.AccessKeyID,
		AccessKeySecret: r.AccessKeySecret,
		Bucket:          r.Bucket,
		CDNBaseURL:      r.CDNBaseURL,
	}
}

// ParseEnv loads configuration from environment variables.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// Load reads .env when present, then the process environment.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("⚠️  No .env file found, reading environment variables directly")
	}
	var cfg Config
	if err := ParseEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	var errs []error
	c.DBDriver = strings.ToLower(strings.TrimSpace(c.DBDriver))
	if c.DBDriver != "postgres" && c.DBDriver != "sqlite" {
		errs = append(errs, fmt.Errorf("DB_DRIVER must be postgres or sqlite, got %q", c.DBDriver))
	}
	if c.MaxUpdateRetries < 1 {
		errs = append(errs, errors.New("MAX_UPDATE_RETRIES must be at least 1"))
	}
	if c.ActivityRatePerSec <= 0 || c.ActivityRateBurst < 1 {
		errs = append(errs, errors.New("activity rate limit must be positive"))
	}
	if c.StatusSweepInterval <= 0 {
		errs = append(errs, errors.New("STATUS_SWEEP_INTERVAL must be positive"))
	}
	for i, o := range c.AllowedOrigins {
		c.AllowedOrigins[i] = strings.TrimSpace(o)
	}
	return errors.Join(errs...)
}
