// Package config loads service configuration from defaults, an optional YAML file
// and TRANSFER_* environment variables, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const EnvPrefix = "TRANSFER"

type Config struct {
	Server       ServerConfig              `mapstructure:"server"`
	Log          LogConfig                 `mapstructure:"log"`
	Search       SearchConfig              `mapstructure:"search"`
	RateLimit    RateLimitConfig           `mapstructure:"ratelimit"`
	Breaker      BreakerConfig             `mapstructure:"breaker"`
	Cancellation CancellationConfig        `mapstructure:"cancellation"`
	Idempotency  IdempotencyConfig         `mapstructure:"idempotency"`
	Offer        OfferConfig               `mapstructure:"offer"`
	Session      SessionConfig             `mapstructure:"session"`
	Booking      BookingConfig             `mapstructure:"booking"`
	Token        TokenConfig               `mapstructure:"token"`
	Store        StoreConfig               `mapstructure:"store"`
	Suppliers    map[string]SupplierConfig `mapstructure:"suppliers"`
	Tenants      map[string]TenantConfig   `mapstructure:"tenants"`
}

type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	// per client IP, applied before any handler
	EdgeRatePerSecond float64 `mapstructure:"edge_rate_per_second"`
	EdgeBurst         int     `mapstructure:"edge_burst"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

type SearchConfig struct {
	Timeout             time.Duration `mapstructure:"timeout"`
	BulkheadSize        int           `mapstructure:"bulkhead_size"`
	BulkheadWait        time.Duration `mapstructure:"bulkhead_wait"`
	CircuitOpenFallback bool          `mapstructure:"circuit_open_fallback"`
	PollRetries         uint64        `mapstructure:"poll_retries"`
}

type RateLimitConfig struct {
	SearchesPerMinute int `mapstructure:"searches_per_minute"`
	PollsPerMinute    int `mapstructure:"polls_per_minute"`
}

type BreakerConfig struct {
	FailureThreshold uint32        `mapstructure:"failure_threshold"`
	OpenTimeout      time.Duration `mapstructure:"open_timeout"`
}

type CancellationConfig struct {
	SyncTimeout    time.Duration `mapstructure:"sync_timeout"`
	MaxRetries     int           `mapstructure:"max_retries"`
	TaskExpiry     time.Duration `mapstructure:"task_expiry"`
	WorkerInterval time.Duration `mapstructure:"worker_interval"`
}

type IdempotencyConfig struct {
	TTL        time.Duration `mapstructure:"ttl"`
	MaxEntries int           `mapstructure:"max_entries"`
}

type OfferConfig struct {
	TTL time.Duration `mapstructure:"ttl"`
}

type SessionConfig struct {
	TTL        time.Duration `mapstructure:"ttl"`
	MaxEntries int           `mapstructure:"max_entries"`
}

type BookingConfig struct {
	Timeout time.Duration `mapstructure:"timeout"`
}

type TokenConfig struct {
	Secret string `mapstructure:"secret"`
}

type StoreConfig struct {
	Driver   string `mapstructure:"driver"`
	RedisURL string `mapstructure:"redis_url"`
	Prefix   string `mapstructure:"prefix"`
}

// SupplierConfig switches a supplier on or off. The remaining fields tune the
// simulated suppliers shipped with the service.
type SupplierConfig struct {
	Enabled    bool    `mapstructure:"enabled"`
	AvgLatency float64 `mapstructure:"avg_latency"`
	FailRate   float64 `mapstructure:"fail_rate"`
	PollRounds int     `mapstructure:"poll_rounds"`
	Amend      bool    `mapstructure:"amend"`
}

// TenantConfig lists the suppliers a tenant may use; empty means all.
type TenantConfig struct {
	Suppliers []string `mapstructure:"suppliers"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.request_timeout", 10*time.Second)
	v.SetDefault("server.shutdown_timeout", 15*time.Second)
	v.SetDefault("server.edge_rate_per_second", 20.0)
	v.SetDefault("server.edge_burst", 40)
	v.SetDefault("log.level", "info")

	v.SetDefault("search.timeout", 3*time.Second)
	v.SetDefault("search.bulkhead_size", 64)
	v.SetDefault("search.bulkhead_wait", 500*time.Millisecond)
	v.SetDefault("search.circuit_open_fallback", false)
	v.SetDefault("search.poll_retries", 2)
	v.SetDefault("ratelimit.searches_per_minute", 600)
	v.SetDefault("ratelimit.polls_per_minute", 30)
	v.SetDefault("breaker.failure_threshold", 5)
	v.SetDefault("breaker.open_timeout", 30*time.Second)

	v.SetDefault("cancellation.sync_timeout", 5*time.Second)
	v.SetDefault("cancellation.max_retries", 3)
	v.SetDefault("cancellation.task_expiry", time.Hour)
	v.SetDefault("cancellation.worker_interval", 5*time.Second)

	v.SetDefault("idempotency.ttl", 24*time.Hour)
	v.SetDefault("idempotency.max_entries", 100000)
	v.SetDefault("offer.ttl", 15*time.Minute)
	v.SetDefault("session.ttl", 30*time.Minute)
	v.SetDefault("session.max_entries", 10000)
	v.SetDefault("booking.timeout", 10*time.Second)
	v.SetDefault("token.secret", "")

	v.SetDefault("store.driver", "memory")
	v.SetDefault("store.redis_url", "redis://localhost:6379/0")
	v.SetDefault("store.prefix", "transfer:")

	v.SetDefault("suppliers", map[string]any{
		"mock1": map[string]any{"enabled": true, "avg_latency": 0.2, "fail_rate": 0.10},
		"mock2": map[string]any{"enabled": true, "avg_latency": 0.25, "fail_rate": 0.12, "poll_rounds": 2},
		"mock3": map[string]any{"enabled": true, "avg_latency": 0.15, "fail_rate": 0.05, "amend": true},
	})
	v.SetDefault("tenants", map[string]any{
		"default": map[string]any{"suppliers": []string{}},
	})
}

// Load reads the configuration. path may be empty, in which case only defaults and
// the environment are used.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	var errs []error
	if len(c.Token.Secret) < 32 {
		errs = append(errs, errors.New("token.secret must be at least 32 bytes"))
	}
	positive := map[string]time.Duration{
		"search.timeout":               c.Search.Timeout,
		"search.bulkhead_wait":         c.Search.BulkheadWait,
		"cancellation.sync_timeout":    c.Cancellation.SyncTimeout,
		"cancellation.task_expiry":     c.Cancellation.TaskExpiry,
		"cancellation.worker_interval": c.Cancellation.WorkerInterval,
		"idempotency.ttl":              c.Idempotency.TTL,
		"offer.ttl":                    c.Offer.TTL,
		"session.ttl":                  c.Session.TTL,
		"booking.timeout":              c.Booking.Timeout,
	}
	for key, d := range positive {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive", key))
		}
	}
	if c.Search.BulkheadSize <= 0 {
		errs = append(errs, errors.New("search.bulkhead_size must be positive"))
	}
	if c.Cancellation.MaxRetries < 0 {
		errs = append(errs, errors.New("cancellation.max_retries must not be negative"))
	}
	switch c.Store.Driver {
	case "memory":
	case "redis":
		if c.Store.RedisURL == "" {
			errs = append(errs, errors.New("store.redis_url is required for the redis driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown store.driver %q", c.Store.Driver))
	}
	return errors.Join(errs...)
}

// TenantSuppliers flattens the tenant table for tenant.NewDirectory.
func (c *Config) TenantSuppliers() map[string][]string {
	out := make(map[string][]string, len(c.Tenants))
	for id, t := range c.Tenants {
		out[id] = t.Suppliers
	}
	return out
}

func (c *Config) LogLevel() slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(c.Log.Level)); err != nil {
		return slog.LevelInfo
	}
	return l
}
