package app

import (
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
	"github.com/joho/godotenv"

	"github.com/xenking/couponhub/internal/sweep"
)

const defaultAddr = "0.0.0.0:8080"

// Config holds the complete application configuration, loadable from
// environment variables (COUPONHUB_ prefix), flags, or YAML config files.
type Config struct {
	Addr        string `default:"0.0.0.0:8080" usage:"API server listen address"`
	DatabaseURL string `usage:"PostgreSQL connection URL (COUPONHUB_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	RedisAddr   string `default:"" usage:"Redis address for the sweep lease; empty disables it" flag:"redis-addr"`
	Quota       QuotaConfig
	Sweep       SweepConfig
	RateLimit   RateLimitConfig
	Graceful    GracefulConfig
}

// QuotaConfig controls the daily upload quota.
type QuotaConfig struct {
	Timezone string `default:"Local" usage:"IANA zone that defines an upload day"`
}

// SweepConfig controls the nightly expiry sweep.
type SweepConfig struct {
	Schedule       string        `default:"0 0 * * *" usage:"Five-field cron spec"`
	Timeout        time.Duration `default:"5m" usage:"Upper bound for a single run"`
	Timezone       string        `default:"Local" usage:"IANA zone the schedule is evaluated in"`
	LeaseTTL       time.Duration `default:"10m" usage:"Lifetime of the cross-replica lease" flag:"sweep-lease-ttl"`
	ReconcileGrace time.Duration `default:"1m" usage:"Minimum coupon age counted by counter reconciliation" flag:"sweep-reconcile-grace"`
}

// RateLimitConfig controls the per-client sliding window rate limiter.
type RateLimitConfig struct {
	Max    int           `default:"100" usage:"Max requests per window; 0 disables the limiter"`
	Window time.Duration `default:"1m"  usage:"Rate limit window duration"`
}

// GracefulConfig controls graceful shutdown timing.
type GracefulConfig struct {
	ReadinessDelay  time.Duration `default:"3s"  usage:"Delay after readiness=false before shutdown" flag:"readiness-delay"`
	ShutdownTimeout time.Duration `default:"15s" usage:"Maximum shutdown duration" flag:"shutdown-timeout"`
}

// LoadConfig loads configuration from an optional .env file, environment
// variables and YAML config files, and applies platform-specific defaults.
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, errors.Wrap(err, "load .env")
	}

	var cfg Config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix: "COUPONHUB",
		Files:     []string{"config.yaml", "/etc/couponhub/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.DatabaseURL == "" {
		return errors.New("database URL is required: set COUPONHUB_DATABASE_URL or DATABASE_URL")
	}
	if _, err := loadLocation(c.Quota.Timezone); err != nil {
		return errors.Wrap(err, "quota timezone")
	}
	if _, err := loadLocation(c.Sweep.Timezone); err != nil {
		return errors.Wrap(err, "sweep timezone")
	}
	if c.Sweep.Schedule == "" {
		c.Sweep.Schedule = sweep.DefaultSchedule
	}
	return nil
}

// applyPlatformDefaults maps platform-provided environment variables that
// use standard names like DATABASE_URL and PORT.
func (c *Config) applyPlatformDefaults() {
	if c.DatabaseURL == "" {
		if v := os.Getenv("DATABASE_URL"); v != "" {
			c.DatabaseURL = v
		}
	}
	if port := os.Getenv("PORT"); port != "" && c.Addr == defaultAddr {
		c.Addr = "0.0.0.0:" + port
	}
}

// loadLocation resolves an IANA zone name. Empty and "Local" mean the
// process-local zone.
func loadLocation(name string) (*time.Location, error) {
	if name == "" || name == "Local" {
		return time.Local, nil
	}
	return time.LoadLocation(name)
}
