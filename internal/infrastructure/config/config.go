package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
	"github.com/stallmarket/backend/internal/domain/billing"
)

// Config holds all application configuration
type Config struct {
	App       AppConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Auth      AuthConfig
	Log       LogConfig
	HTTP      HTTPConfig
	Billing   BillingConfig
	Gateway   GatewayConfig
	Payment   PaymentConfig
	Kafka     KafkaConfig
	Storage   StorageConfig
	Sweep     SweepConfig
	IDGen     IDGenConfig
	Telemetry TelemetryConfig
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string `validate:"oneof=debug info warn error"`
	Format string `validate:"oneof=json console"`
	Output string // stdout, stderr, or file path
}

// AppConfig holds application-specific settings
type AppConfig struct {
	Name string
	Env  string
	Port string
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	Host            string
	Port            int
	User            string
	Password        string
	DBName          string
	SSLMode         string
	MaxOpenConns    int `validate:"gt=0"`
	MaxIdleConns    int `validate:"gte=0,ltefield=MaxOpenConns"`
	ConnMaxLifetime int // in minutes
	ConnMaxIdleTime int // in minutes
}

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// AuthConfig holds settings for reading vendor bearer tokens issued by the identity service
type AuthConfig struct {
	JWTSecret string
	Issuer    string
}

// HTTPConfig holds HTTP server configuration
type HTTPConfig struct {
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
	MaxHeaderBytes int
	MaxBodySize    int64
	TrustedProxies []string
}

// BillingConfig holds the rent billing rules
type BillingConfig struct {
	DueDay               int   `validate:"min=1,max=28"`
	GraceDays            int   `validate:"min=0,max=10"`
	ReminderOffsets      []int `validate:"dive,gt=0"`
	RemindOnDueDay       bool
	RemindOnLastGraceDay bool
	ThrottleMinutes      int    `validate:"min=15"`
	Currency             string `validate:"len=3"`
	ThrottleBackend      string `validate:"oneof=database redis"`
}

// ThrottleWindow returns the bootstrap throttle as a duration
func (b BillingConfig) ThrottleWindow() time.Duration {
	return time.Duration(b.ThrottleMinutes) * time.Minute
}

// Policy returns the billing rules the services run with
func (b BillingConfig) Policy() billing.Policy {
	return billing.Policy{
		DueDay:               b.DueDay,
		GraceDays:            b.GraceDays,
		ReminderOffsets:      append([]int(nil), b.ReminderOffsets...),
		RemindOnDueDay:       b.RemindOnDueDay,
		RemindOnLastGraceDay: b.RemindOnLastGraceDay,
		ThrottleWindow:       b.ThrottleWindow(),
		Currency:             b.Currency,
	}
}

// GatewayConfig holds payment gateway settings
type GatewayConfig struct {
	Mode         string `validate:"oneof=sandbox live"`
	BaseURL      string // overrides the mode's URL; used for tests and proxies
	ClientID     string
	ClientSecret string
	WebhookID    string
	ReturnURL    string
	CancelURL    string
	BrandName    string
	Timeout      time.Duration
	MaxAttempts  int `validate:"min=1,max=10"`
	InitialDelay time.Duration
}

// PaymentConfig holds payment flow settings
type PaymentConfig struct {
	ConfirmationSecret string
	ConfirmationTTL    time.Duration
	PinTTL             time.Duration
}

// KafkaConfig holds notification/audit publisher settings
type KafkaConfig struct {
	Enabled           bool
	Brokers           []string
	NotificationTopic string
	AuditTopic        string
}

// StorageConfig holds the S3-compatible archive for webhook payloads
type StorageConfig struct {
	Enabled         bool
	Endpoint        string
	Region          string
	Bucket          string
	AccessKeyID     string
	SecretAccessKey string
	UsePathStyle    bool
	Prefix          string
}

// SweepConfig controls the in-process overdue sweep
type SweepConfig struct {
	Enabled bool
	Hour    int `validate:"min=0,max=23"`
	Minute  int `validate:"min=0,max=59"`
}

// IDGenConfig configures the receipt number generator
type IDGenConfig struct {
	NodeID int64 `validate:"min=0,max=1023"`
}

// TelemetryConfig holds OpenTelemetry configuration
type TelemetryConfig struct {
	Enabled           bool    // Whether to enable OpenTelemetry
	CollectorEndpoint string  // OTEL Collector endpoint (e.g., "localhost:4317")
	SamplingRatio     float64 `validate:"min=0,max=1"`
	ServiceName       string
	Insecure          bool // Use insecure (non-TLS) connection (development only)
	MetricsEnabled    bool
	LogsEnabled       bool
	DBTraceEnabled    bool
	DBSlowQueryThresh time.Duration
}

// Load loads configuration from TOML file and environment variables
// Priority (highest to lowest):
// 1. Environment variables with STALL_ prefix (e.g., STALL_DATABASE_PASSWORD)
// 2. config.toml
// 3. Built-in defaults
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(".")
	v.AddConfigPath("/app")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	v.SetEnvPrefix("STALL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return fromViper(v)
}

// fromViper builds the config from an already populated viper instance
func fromViper(v *viper.Viper) (*Config, error) {
	// zero is a legal value for these, so they cannot be defaulted after reading
	v.SetDefault("billing.grace_days", 5)
	v.SetDefault("billing.remind_on_due_day", true)
	v.SetDefault("billing.remind_on_last_grace_day", true)
	v.SetDefault("sweep.enabled", true)
	v.SetDefault("sweep.hour", 0)
	v.SetDefault("sweep.minute", 5)

	cfg := &Config{
		App: AppConfig{
			Name: v.GetString("app.name"),
			Env:  v.GetString("app.env"),
			Port: v.GetString("app.port"),
		},
		Database: DatabaseConfig{
			Host:            v.GetString("database.host"),
			Port:            v.GetInt("database.port"),
			User:            v.GetString("database.user"),
			Password:        v.GetString("database.password"),
			DBName:          v.GetString("database.dbname"),
			SSLMode:         v.GetString("database.sslmode"),
			MaxOpenConns:    v.GetInt("database.max_open_conns"),
			MaxIdleConns:    v.GetInt("database.max_idle_conns"),
			ConnMaxLifetime: v.GetInt("database.conn_max_lifetime"),
			ConnMaxIdleTime: v.GetInt("database.conn_max_idle_time"),
		},
		Redis: RedisConfig{
			Host:     v.GetString("redis.host"),
			Port:     v.GetInt("redis.port"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		},
		Auth: AuthConfig{
			JWTSecret: v.GetString("auth.jwt_secret"),
			Issuer:    v.GetString("auth.issuer"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
			Output: v.GetString("log.output"),
		},
		HTTP: HTTPConfig{
			ReadTimeout:    v.GetDuration("http.read_timeout"),
			WriteTimeout:   v.GetDuration("http.write_timeout"),
			IdleTimeout:    v.GetDuration("http.idle_timeout"),
			MaxHeaderBytes: v.GetInt("http.max_header_bytes"),
			MaxBodySize:    v.GetInt64("http.max_body_size"),
			TrustedProxies: v.GetStringSlice("http.trusted_proxies"),
		},
		Billing: BillingConfig{
			DueDay:               v.GetInt("billing.due_day"),
			GraceDays:            v.GetInt("billing.grace_days"),
			ReminderOffsets:      v.GetIntSlice("billing.reminder_offsets"),
			RemindOnDueDay:       v.GetBool("billing.remind_on_due_day"),
			RemindOnLastGraceDay: v.GetBool("billing.remind_on_last_grace_day"),
			ThrottleMinutes:      v.GetInt("billing.throttle_minutes"),
			Currency:             strings.ToUpper(v.GetString("billing.currency")),
			ThrottleBackend:      v.GetString("billing.throttle_backend"),
		},
		Gateway: GatewayConfig{
			Mode:         v.GetString("gateway.mode"),
			BaseURL:      v.GetString("gateway.base_url"),
			ClientID:     v.GetString("gateway.client_id"),
			ClientSecret: v.GetString("gateway.client_secret"),
			WebhookID:    v.GetString("gateway.webhook_id"),
			ReturnURL:    v.GetString("gateway.return_url"),
			CancelURL:    v.GetString("gateway.cancel_url"),
			BrandName:    v.GetString("gateway.brand_name"),
			Timeout:      v.GetDuration("gateway.timeout"),
			MaxAttempts:  v.GetInt("gateway.max_attempts"),
			InitialDelay: v.GetDuration("gateway.initial_delay"),
		},
		Payment: PaymentConfig{
			ConfirmationSecret: v.GetString("payment.confirmation_secret"),
			ConfirmationTTL:    v.GetDuration("payment.confirmation_ttl"),
			PinTTL:             v.GetDuration("payment.pin_ttl"),
		},
		Kafka: KafkaConfig{
			Enabled:           v.GetBool("kafka.enabled"),
			Brokers:           v.GetStringSlice("kafka.brokers"),
			NotificationTopic: v.GetString("kafka.notification_topic"),
			AuditTopic:        v.GetString("kafka.audit_topic"),
		},
		Storage: StorageConfig{
			Enabled:         v.GetBool("storage.enabled"),
			Endpoint:        v.GetString("storage.endpoint"),
			Region:          v.GetString("storage.region"),
			Bucket:          v.GetString("storage.bucket"),
			AccessKeyID:     v.GetString("storage.access_key_id"),
			SecretAccessKey: v.GetString("storage.secret_access_key"),
			UsePathStyle:    v.GetBool("storage.use_path_style"),
			Prefix:          v.GetString("storage.prefix"),
		},
		Sweep: SweepConfig{
			Enabled: v.GetBool("sweep.enabled"),
			Hour:    v.GetInt("sweep.hour"),
			Minute:  v.GetInt("sweep.minute"),
		},
		IDGen: IDGenConfig{
			NodeID: v.GetInt64("idgen.node_id"),
		},
		Telemetry: TelemetryConfig{
			Enabled:           v.GetBool("telemetry.enabled"),
			CollectorEndpoint: v.GetString("telemetry.collector_endpoint"),
			SamplingRatio:     v.GetFloat64("telemetry.sampling_ratio"),
			ServiceName:       v.GetString("telemetry.service_name"),
			Insecure:          v.GetBool("telemetry.insecure"),
			MetricsEnabled:    v.GetBool("telemetry.metrics_enabled"),
			LogsEnabled:       v.GetBool("telemetry.logs_enabled"),
			DBTraceEnabled:    v.GetBool("telemetry.db_trace_enabled"),
			DBSlowQueryThresh: v.GetDuration("telemetry.db_slow_query_threshold"),
		},
	}

	applyDefaults(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// applyDefaults sets default values for any empty config fields
func applyDefaults(cfg *Config) {
	if cfg.App.Name == "" {
		cfg.App.Name = "stallmarket-billing"
	}
	if cfg.App.Env == "" {
		cfg.App.Env = "development"
	}
	if cfg.App.Port == "" {
		cfg.App.Port = "8080"
	}
	if cfg.Database.Host == "" {
		cfg.Database.Host = "localhost"
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.Database.User == "" {
		cfg.Database.User = "postgres"
	}
	if cfg.Database.DBName == "" {
		cfg.Database.DBName = "stallmarket"
	}
	if cfg.Database.SSLMode == "" {
		cfg.Database.SSLMode = "disable"
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 25
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 5
	}
	if cfg.Database.ConnMaxLifetime == 0 {
		cfg.Database.ConnMaxLifetime = 60
	}
	if cfg.Database.ConnMaxIdleTime == 0 {
		cfg.Database.ConnMaxIdleTime = 30
	}
	if cfg.Redis.Host == "" {
		cfg.Redis.Host = "localhost"
	}
	if cfg.Redis.Port == 0 {
		cfg.Redis.Port = 6379
	}
	if cfg.Auth.Issuer == "" {
		cfg.Auth.Issuer = "stallmarket-identity"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "console"
	}
	if cfg.Log.Output == "" {
		cfg.Log.Output = "stdout"
	}
	if cfg.HTTP.ReadTimeout == 0 {
		cfg.HTTP.ReadTimeout = 15 * time.Second
	}
	if cfg.HTTP.WriteTimeout == 0 {
		// capture waits on the gateway, which may retry with backoff
		cfg.HTTP.WriteTimeout = 60 * time.Second
	}
	if cfg.HTTP.IdleTimeout == 0 {
		cfg.HTTP.IdleTimeout = 60 * time.Second
	}
	if cfg.HTTP.MaxHeaderBytes == 0 {
		cfg.HTTP.MaxHeaderBytes = 1 << 20 // 1MB
	}
	if cfg.HTTP.MaxBodySize == 0 {
		cfg.HTTP.MaxBodySize = 1 << 20 // 1MB
	}
	if cfg.Billing.DueDay == 0 {
		cfg.Billing.DueDay = 1
	}
	if len(cfg.Billing.ReminderOffsets) == 0 {
		cfg.Billing.ReminderOffsets = []int{3, 1}
	}
	if cfg.Billing.ThrottleMinutes == 0 {
		cfg.Billing.ThrottleMinutes = 24 * 60
	}
	if cfg.Billing.Currency == "" {
		cfg.Billing.Currency = "USD"
	}
	if cfg.Billing.ThrottleBackend == "" {
		cfg.Billing.ThrottleBackend = "database"
	}
	if cfg.Gateway.Mode == "" {
		cfg.Gateway.Mode = "sandbox"
	}
	if cfg.Gateway.BrandName == "" {
		cfg.Gateway.BrandName = "Stall Market"
	}
	if cfg.Gateway.Timeout == 0 {
		cfg.Gateway.Timeout = 30 * time.Second
	}
	if cfg.Gateway.MaxAttempts == 0 {
		cfg.Gateway.MaxAttempts = 4
	}
	if cfg.Gateway.InitialDelay == 0 {
		cfg.Gateway.InitialDelay = 500 * time.Millisecond
	}
	if cfg.Payment.ConfirmationTTL == 0 {
		cfg.Payment.ConfirmationTTL = 15 * time.Minute
	}
	if cfg.Payment.PinTTL == 0 {
		cfg.Payment.PinTTL = 24 * time.Hour
	}
	if cfg.Kafka.NotificationTopic == "" {
		cfg.Kafka.NotificationTopic = "stallmarket.notifications"
	}
	if cfg.Kafka.AuditTopic == "" {
		cfg.Kafka.AuditTopic = "stallmarket.audit"
	}
	if cfg.Storage.Region == "" {
		cfg.Storage.Region = "us-east-1"
	}
	if cfg.Storage.Prefix == "" {
		cfg.Storage.Prefix = "webhooks"
	}
	if cfg.Telemetry.CollectorEndpoint == "" {
		cfg.Telemetry.CollectorEndpoint = "localhost:4317" // Default gRPC endpoint
	}
	if cfg.Telemetry.SamplingRatio == 0 {
		cfg.Telemetry.SamplingRatio = 1.0
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = cfg.App.Name
	}
	if cfg.Telemetry.DBSlowQueryThresh == 0 {
		cfg.Telemetry.DBSlowQueryThresh = 200 * time.Millisecond
	}
}

var validate = validator.New()

// validate performs validation on the configuration
func (c *Config) validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("invalid config %s: failed %q (%v)", fe.Namespace(), fe.Tag(), fe.Value())
		}
		return fmt.Errorf("invalid config: %w", err)
	}

	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka.brokers is required when kafka is enabled")
	}
	if c.Storage.Enabled && c.Storage.Bucket == "" {
		return fmt.Errorf("storage.bucket is required when storage is enabled")
	}

	// Production-specific validations
	if c.App.Env == "production" {
		if len(c.Auth.JWTSecret) < 32 {
			return fmt.Errorf("auth.jwt_secret must be at least 32 characters in production")
		}
		if len(c.Payment.ConfirmationSecret) < 32 {
			return fmt.Errorf("payment.confirmation_secret must be at least 32 characters in production")
		}
		if c.Gateway.ClientID == "" || c.Gateway.ClientSecret == "" {
			return fmt.Errorf("gateway.client_id and gateway.client_secret are required in production")
		}
		if c.Gateway.WebhookID == "" {
			return fmt.Errorf("gateway.webhook_id is required in production")
		}
		if c.Database.Password == "" {
			return fmt.Errorf("database.password is required in production")
		}
		if c.Database.SSLMode == "disable" {
			return fmt.Errorf("database.sslmode cannot be 'disable' in production")
		}
	}

	return nil
}

// DSN returns the database connection string with properly escaped values
func (d *DatabaseConfig) DSN() string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(d.User, d.Password),
		Host:   fmt.Sprintf("%s:%d", d.Host, d.Port),
		Path:   d.DBName,
	}
	q := u.Query()
	q.Set("sslmode", d.SSLMode)
	u.RawQuery = q.Encode()
	return u.String()
}

// RedisAddr returns host:port
func (r *RedisConfig) RedisAddr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}
