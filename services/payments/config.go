package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the full service configuration. It is built once at bootstrap and
// passed explicitly to every component.
type Config struct {
	Env         string `yaml:"env" mapstructure:"env"`
	Port        string `yaml:"port" mapstructure:"port"`
	ServiceName string `yaml:"service_name" mapstructure:"service_name"`

	Log       LogConfig       `yaml:"log" mapstructure:"log"`
	Database  DatabaseConfig  `yaml:"database" mapstructure:"database"`
	Razorpay  RazorpayConfig  `yaml:"razorpay" mapstructure:"razorpay"`
	Session   SessionConfig   `yaml:"session" mapstructure:"session"`
	CORS      CORSConfig      `yaml:"cors" mapstructure:"cors"`
	Email     EmailConfig     `yaml:"email" mapstructure:"email"`
	Kafka     KafkaConfig     `yaml:"kafka" mapstructure:"kafka"`
	Telemetry TelemetryConfig `yaml:"telemetry" mapstructure:"telemetry"`
	Payments  PaymentsConfig  `yaml:"payments" mapstructure:"payments"`
	Reconcile ReconcileConfig `yaml:"reconcile" mapstructure:"reconcile"`
}

type LogConfig struct {
	Level string `yaml:"level" mapstructure:"level"`
}

type DatabaseConfig struct {
	URL      string `yaml:"url" mapstructure:"url"`
	MaxConns int32  `yaml:"max_conns" mapstructure:"max_conns"`
}

// RazorpayConfig holds the provider credentials. KeySecret never leaves the server.
type RazorpayConfig struct {
	KeyID     string        `yaml:"key_id" mapstructure:"key_id"`
	KeySecret string        `yaml:"key_secret" mapstructure:"key_secret"`
	BaseURL   string        `yaml:"base_url" mapstructure:"base_url"`
	Timeout   time.Duration `yaml:"timeout" mapstructure:"timeout"`
}

type SessionConfig struct {
	Secret     string `yaml:"secret" mapstructure:"secret"`
	CookieName string `yaml:"cookie_name" mapstructure:"cookie_name"`
}

type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

// EmailConfig enables the confirmation email when Username and Password are set.
type EmailConfig struct {
	Host        string `yaml:"host" mapstructure:"host"`
	Port        int    `yaml:"port" mapstructure:"port"`
	Username    string `yaml:"username" mapstructure:"username"`
	Password    string `yaml:"password" mapstructure:"password"`
	FromName    string `yaml:"from_name" mapstructure:"from_name"`
	FromAddress string `yaml:"from_address" mapstructure:"from_address"`
}

func (e EmailConfig) Enabled() bool {
	return e.Username != "" && e.Password != ""
}

// KafkaConfig enables purchase events when Brokers is not empty.
type KafkaConfig struct {
	Brokers []string      `yaml:"brokers" mapstructure:"brokers"`
	Topic   string        `yaml:"topic" mapstructure:"topic"`
	Timeout time.Duration `yaml:"timeout" mapstructure:"timeout"`
}

func (k KafkaConfig) Enabled() bool {
	return len(k.Brokers) > 0
}

type TelemetryConfig struct {
	Enabled  bool   `yaml:"enabled" mapstructure:"enabled"`
	Endpoint string `yaml:"endpoint" mapstructure:"endpoint"`
}

type PaymentsConfig struct {
	DefaultCurrency string        `yaml:"default_currency" mapstructure:"default_currency"`
	DefaultProduct  string        `yaml:"default_product" mapstructure:"default_product"`
	NotifyTimeout   time.Duration `yaml:"notify_timeout" mapstructure:"notify_timeout"`
}

type ReconcileConfig struct {
	PendingTTL time.Duration `yaml:"pending_ttl" mapstructure:"pending_ttl"`
}

var defaultAllowedOrigins = []string{
	"https://novafuze.in",
	"https://www.novafuze.in",
	"https://fire-auth-mcp.netlify.app",
	"http://localhost:5173",
	"http://localhost:5174",
	"http://localhost:3000",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("env", "production")
	v.SetDefault("port", "4000")
	v.SetDefault("service_name", "payments-service")

	v.SetDefault("log.level", "info")

	v.SetDefault("database.url", "")
	v.SetDefault("database.max_conns", 10)

	v.SetDefault("razorpay.key_id", "")
	v.SetDefault("razorpay.key_secret", "")
	v.SetDefault("razorpay.base_url", "https://api.razorpay.com")
	v.SetDefault("razorpay.timeout", 10*time.Second)

	v.SetDefault("session.secret", "")
	v.SetDefault("session.cookie_name", "session")

	v.SetDefault("cors.allowed_origins", defaultAllowedOrigins)

	v.SetDefault("email.host", "smtp.gmail.com")
	v.SetDefault("email.port", 587)
	v.SetDefault("email.username", "")
	v.SetDefault("email.password", "")
	v.SetDefault("email.from_name", "NovaFuze-Tech")
	v.SetDefault("email.from_address", "")

	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.topic", "purchase.completed")
	v.SetDefault("kafka.timeout", 5*time.Second)

	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.endpoint", "localhost:4318")

	v.SetDefault("payments.default_currency", "INR")
	v.SetDefault("payments.default_product", "LiveEazy")
	v.SetDefault("payments.notify_timeout", 10*time.Second)

	v.SetDefault("reconcile.pending_ttl", 24*time.Hour)
}

// LoadConfig merges defaults, an optional YAML file and the environment.
// Keys map to variables by upper-casing and replacing dots: razorpay.key_id is RAZORPAY_KEY_ID.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Names used by the existing deployment.
	_ = v.BindEnv("email.username", "EMAIL_USERNAME", "EMAIL_USER")
	_ = v.BindEnv("email.password", "EMAIL_PASSWORD", "EMAIL_PASS")
	_ = v.BindEnv("telemetry.endpoint", "TELEMETRY_ENDPOINT", "OTEL_EXPORTER_OTLP_ENDPOINT")

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return &cfg, nil
}

// ValidateDatabase checks what every command touching Postgres needs.
func (c *Config) ValidateDatabase() error {
	if c.Database.URL == "" {
		return errors.New("database.url (DATABASE_URL) is required")
	}
	return nil
}

// ValidateServe checks everything the HTTP service needs before it starts.
func (c *Config) ValidateServe() error {
	var errs []error
	if err := c.ValidateDatabase(); err != nil {
		errs = append(errs, err)
	}
	if c.Razorpay.KeyID == "" {
		errs = append(errs, errors.New("razorpay.key_id (RAZORPAY_KEY_ID) is required"))
	}
	if c.Razorpay.KeySecret == "" {
		errs = append(errs, errors.New("razorpay.key_secret (RAZORPAY_KEY_SECRET) is required"))
	}
	if c.Razorpay.Timeout <= 0 {
		errs = append(errs, errors.New("razorpay.timeout must be positive"))
	}
	if c.Session.Secret == "" {
		errs = append(errs, errors.New("session.secret (SESSION_SECRET) is required"))
	}
	if c.Email.Enabled() && c.Email.FromAddress == "" {
		errs = append(errs, errors.New("email.from_address is required when email is enabled"))
	}
	return errors.Join(errs...)
}

// Redacted returns a copy safe to print.
func (c Config) Redacted() Config {
	mask := func(s string) string {
		if s == "" {
			return ""
		}
		return "********"
	}
	c.Database.URL = mask(c.Database.URL)
	c.Razorpay.KeySecret = mask(c.Razorpay.KeySecret)
	c.Session.Secret = mask(c.Session.Secret)
	c.Email.Password = mask(c.Email.Password)
	return c
}
