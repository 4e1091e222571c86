// Package config builds the service configuration once at start-up from
// defaults, an optional YAML file, CHECKOUT_* environment variables and
// command-line flags, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const EnvPrefix = "CHECKOUT"

type Config struct {
	Env      string `mapstructure:"env"`
	LogLevel string `mapstructure:"log_level"`
	HTTPAddr string `mapstructure:"http_addr"`
	GRPCAddr string `mapstructure:"grpc_addr"`

	DB          DBConfig          `mapstructure:"db"`
	Redis       RedisConfig       `mapstructure:"redis"`
	Reservation ReservationConfig `mapstructure:"reservation"`
	Checkout    CheckoutConfig    `mapstructure:"checkout"`
	Processor   ProcessorConfig   `mapstructure:"processor"`
	Auth        AuthConfig        `mapstructure:"auth"`
	Blob        BlobConfig        `mapstructure:"blob"`
	Notify      NotifyConfig      `mapstructure:"notify"`
	OTel        OTelConfig        `mapstructure:"otel"`
}

type DBConfig struct {
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type ReservationConfig struct {
	Backend string        `mapstructure:"backend"`
	TTL     time.Duration `mapstructure:"ttl"`
}

type CheckoutConfig struct {
	Flow           string        `mapstructure:"flow"`
	PendingHorizon time.Duration `mapstructure:"pending_horizon"`
	SweepInterval  time.Duration `mapstructure:"sweep_interval"`
	SweepBatch     int           `mapstructure:"sweep_batch"`
	StoreTimeout   time.Duration `mapstructure:"store_timeout"`
	NotifyTimeout  time.Duration `mapstructure:"notify_timeout"`
}

type ProcessorConfig struct {
	BaseURL            string        `mapstructure:"base_url"`
	SecretKey          string        `mapstructure:"secret_key"`
	WebhookSecret      string        `mapstructure:"webhook_secret"`
	SignatureHeader    string        `mapstructure:"signature_header"`
	SignatureTolerance time.Duration `mapstructure:"signature_tolerance"`
	Timeout            time.Duration `mapstructure:"timeout"`
	SessionTTL         time.Duration `mapstructure:"session_ttl"`
	SuccessURL         string        `mapstructure:"success_url"`
	CancelURL          string        `mapstructure:"cancel_url"`
	Currency           string        `mapstructure:"currency"`
}

type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
}

type BlobConfig struct {
	Dir string `mapstructure:"dir"`
}

type NotifyConfig struct {
	Backend string `mapstructure:"backend"`
	Queue   string `mapstructure:"queue"`
}

type OTelConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	Endpoint    string  `mapstructure:"endpoint"`
	ServiceName string  `mapstructure:"service_name"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
}

// SetDefaults registers every key with its default value. Keys must be
// known to viper for AutomaticEnv to resolve them during Unmarshal.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("env", "development")
	v.SetDefault("log_level", "info")
	v.SetDefault("http_addr", ":8080")
	v.SetDefault("grpc_addr", ":9090")

	v.SetDefault("db.driver", "sqlite")
	v.SetDefault("db.dsn", "./data/checkout.db")

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("reservation.backend", "redis")
	v.SetDefault("reservation.ttl", 24*time.Hour)

	v.SetDefault("checkout.flow", "reservation")
	v.SetDefault("checkout.pending_horizon", 24*time.Hour)
	v.SetDefault("checkout.sweep_interval", 15*time.Minute)
	v.SetDefault("checkout.sweep_batch", 100)
	v.SetDefault("checkout.store_timeout", 5*time.Second)
	v.SetDefault("checkout.notify_timeout", 5*time.Second)

	v.SetDefault("processor.base_url", "https://api.stripe.com")
	v.SetDefault("processor.secret_key", "")
	v.SetDefault("processor.webhook_secret", "")
	v.SetDefault("processor.signature_header", "Stripe-Signature")
	v.SetDefault("processor.signature_tolerance", 5*time.Minute)
	v.SetDefault("processor.timeout", 10*time.Second)
	v.SetDefault("processor.session_ttl", time.Hour)
	v.SetDefault("processor.success_url", "http://localhost:3000/checkout/success")
	v.SetDefault("processor.cancel_url", "http://localhost:3000/checkout/cancel")
	v.SetDefault("processor.currency", "usd")

	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("blob.dir", "./data/blobs")

	v.SetDefault("notify.backend", "log")
	v.SetDefault("notify.queue", "notifications")

	v.SetDefault("otel.enabled", false)
	v.SetDefault("otel.endpoint", "localhost:4317")
	v.SetDefault("otel.service_name", "checkout-service")
	v.SetDefault("otel.sample_ratio", 1.0)
}

// Load reads the configuration from v. When file is not empty it is read
// as YAML first; a missing file is an error.
//
//	v := viper.New()
//	cfg, err := config.Load(v, "")
func Load(v *viper.Viper, file string) (Config, error) {
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if file != "" {
		v.SetConfigFile(file)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", file, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: decode: %w", err)
	}
	return cfg, nil
}

// Validate reports every problem at once.
func (c Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	switch c.DB.Driver {
	case "sqlite", "postgres":
	default:
		add("db.driver: unknown driver %q", c.DB.Driver)
	}
	if c.DB.DSN == "" {
		add("db.dsn: required")
	}
	if !oneOf(c.Reservation.Backend, "redis", "memory") {
		add("reservation.backend: unknown backend %q", c.Reservation.Backend)
	}
	if !oneOf(c.Checkout.Flow, "reservation", "order") {
		add("checkout.flow: unknown flow %q", c.Checkout.Flow)
	}
	if !oneOf(c.Notify.Backend, "redis", "log") {
		add("notify.backend: unknown backend %q", c.Notify.Backend)
	}
	if c.Processor.WebhookSecret == "" {
		add("processor.webhook_secret: required")
	}
	if c.Processor.SignatureHeader == "" {
		add("processor.signature_header: required")
	}
	if c.Auth.JWTSecret == "" {
		add("auth.jwt_secret: required")
	}

	durations := map[string]time.Duration{
		"reservation.ttl":               c.Reservation.TTL,
		"checkout.pending_horizon":      c.Checkout.PendingHorizon,
		"checkout.sweep_interval":       c.Checkout.SweepInterval,
		"checkout.store_timeout":        c.Checkout.StoreTimeout,
		"checkout.notify_timeout":       c.Checkout.NotifyTimeout,
		"processor.signature_tolerance": c.Processor.SignatureTolerance,
		"processor.timeout":             c.Processor.Timeout,
		"processor.session_ttl":         c.Processor.SessionTTL,
	}
	for key, d := range durations {
		if d <= 0 {
			add("%s: must be positive, got %s", key, d)
		}
	}
	if c.Checkout.SweepBatch <= 0 {
		add("checkout.sweep_batch: must be positive")
	}
	return errors.Join(errs...)
}

// UsesRedis reports whether any component needs a Redis connection.
func (c Config) UsesRedis() bool {
	return c.Reservation.Backend == "redis" || c.Notify.Backend == "redis"
}

func oneOf(s string, options ...string) bool {
	for _, o := range options {
		if s == o {
			return true
		}
	}
	return false
}
