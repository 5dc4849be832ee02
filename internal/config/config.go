package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	DispatchInProcess = "inprocess"
	DispatchKafka     = "kafka"

	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

// Config holds all configuration for the application.
type Config struct {
	Env        string           `mapstructure:"env"`
	StoreKind  string           `mapstructure:"store"`
	HTTPServer HTTPServerConfig `mapstructure:"http_server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Kafka      KafkaConfig      `mapstructure:"kafka"`
	Consumer   ConsumerConfig   `mapstructure:"consumer"`
	Dispatch   DispatchConfig   `mapstructure:"dispatch"`
	Generation GenerationConfig `mapstructure:"generation"`
	Notify     NotifyConfig     `mapstructure:"notify"`
	Payment    PaymentConfig    `mapstructure:"payment"`
	Health     HealthConfig     `mapstructure:"health"`
	Cache      CacheConfig      `mapstructure:"cache"`
	Admin      AdminConfig      `mapstructure:"admin"`
}

// IsProduction reports whether the service runs against live infrastructure.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

type HTTPServerConfig struct {
	Port            string        `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	MaxBodyBytes    int64         `mapstructure:"max_body_bytes"`
}

type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            string        `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Name            string        `mapstructure:"name"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	MigrateOnStart  bool          `mapstructure:"migrate_on_start"`
}

// DSN builds a postgres:// connection string for the pgx driver.
func (d DatabaseConfig) DSN() string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(d.User, d.Password),
		Host:   d.Host + ":" + d.Port,
		Path:   d.Name,
	}
	q := u.Query()
	q.Set("sslmode", d.SSLMode)
	u.RawQuery = q.Encode()
	return u.String()
}

type KafkaConfig struct {
	Brokers      []string `mapstructure:"brokers"`
	GroupID      string   `mapstructure:"group_id"`
	ClientID     string   `mapstructure:"client_id"`
	ProcessTopic string   `mapstructure:"process_topic"`
	DLQTopic     string   `mapstructure:"dlq_topic"`
	// DeliveryTimeout bounds how long a producer waits for the broker ack.
	DeliveryTimeout time.Duration `mapstructure:"delivery_timeout"`
}

// BootstrapServers joins the broker list the way librdkafka expects it.
func (k KafkaConfig) BootstrapServers() string {
	return strings.Join(k.Brokers, ",")
}

type ConsumerConfig struct {
	Workers      int           `mapstructure:"workers"`
	BufferSize   int           `mapstructure:"buffer_size"`
	MaxRetries   int           `mapstructure:"max_retries"`
	RetryBackoff time.Duration `mapstructure:"retry_backoff"`
}

// DispatchConfig picks how processOrder gets handed off after a payment
// confirmation: "inprocess" (channel queue) or "kafka".
type DispatchConfig struct {
	Mode           string        `mapstructure:"mode"`
	Workers        int           `mapstructure:"workers"`
	QueueSize      int           `mapstructure:"queue_size"`
	EnqueueTimeout time.Duration `mapstructure:"enqueue_timeout"`
	RecoverOnStart bool          `mapstructure:"recover_on_start"`
}

type GenerationConfig struct {
	BaseURL      string        `mapstructure:"base_url"`
	Model        string        `mapstructure:"model"`
	APIKey       string        `mapstructure:"api_key"`
	Timeout      time.Duration `mapstructure:"timeout"`
	MaxAttempts  int           `mapstructure:"max_attempts"`
	RetryBackoff time.Duration `mapstructure:"retry_backoff"`
	// Rates are minor currency units per one million tokens.
	InputRatePerMillion  int64 `mapstructure:"input_rate_per_million"`
	OutputRatePerMillion int64 `mapstructure:"output_rate_per_million"`
}

type NotifyConfig struct {
	Timeout time.Duration `mapstructure:"timeout"`
}

type PaymentConfig struct {
	WebhookSecret      string        `mapstructure:"webhook_secret"`
	SignatureTolerance time.Duration `mapstructure:"signature_tolerance"`
}

type HealthConfig struct {
	CheckInterval time.Duration `mapstructure:"check_interval"`
	CheckTimeout  time.Duration `mapstructure:"check_timeout"`
}

type CacheConfig struct {
	EntryCountCap int `mapstructure:"entry_count_cap"`
	EntrySizeCap  int `mapstructure:"entry_size_cap"`
}

type AdminConfig struct {
	Token string `mapstructure:"token"`
}

// setDefaults registers every key, which also makes AutomaticEnv able
// to override any of them on Unmarshal.
func setDefaults(v *viper.Viper) {
	v.SetDefault("env", "development")
	v.SetDefault("store", StorePostgres)

	v.SetDefault("http_server.port", "8080")
	v.SetDefault("http_server.read_timeout", 5*time.Second)
	v.SetDefault("http_server.write_timeout", 10*time.Second)
	v.SetDefault("http_server.idle_timeout", 60*time.Second)
	v.SetDefault("http_server.shutdown_timeout", 10*time.Second)
	v.SetDefault("http_server.max_body_bytes", 1<<20)

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", "5432")
	v.SetDefault("database.user", "scribe")
	v.SetDefault("database.password", "scribe")
	v.SetDefault("database.name", "scribe")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 30*time.Minute)
	v.SetDefault("database.migrate_on_start", true)

	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.group_id", "scribe-processors")
	v.SetDefault("kafka.client_id", "scribe")
	v.SetDefault("kafka.process_topic", "orders.process")
	v.SetDefault("kafka.dlq_topic", "orders.process.dlq")
	v.SetDefault("kafka.delivery_timeout", 10*time.Second)

	v.SetDefault("consumer.workers", 4)
	v.SetDefault("consumer.buffer_size", 64)
	v.SetDefault("consumer.max_retries", 3)
	v.SetDefault("consumer.retry_backoff", 2*time.Second)

	v.SetDefault("dispatch.mode", DispatchInProcess)
	v.SetDefault("dispatch.workers", 4)
	v.SetDefault("dispatch.queue_size", 256)
	v.SetDefault("dispatch.enqueue_timeout", 2*time.Second)
	v.SetDefault("dispatch.recover_on_start", true)

	v.SetDefault("generation.base_url", "https://api.openai.com/v1")
	v.SetDefault("generation.model", "gpt-4o-mini")
	v.SetDefault("generation.api_key", "")
	v.SetDefault("generation.timeout", 3*time.Minute)
	v.SetDefault("generation.max_attempts", 1)
	v.SetDefault("generation.retry_backoff", 5*time.Second)
	v.SetDefault("generation.input_rate_per_million", 15)
	v.SetDefault("generation.output_rate_per_million", 60)

	v.SetDefault("notify.timeout", 15*time.Second)

	v.SetDefault("payment.webhook_secret", "")
	v.SetDefault("payment.signature_tolerance", 5*time.Minute)

	v.SetDefault("health.check_interval", 10*time.Second)
	v.SetDefault("health.check_timeout", 2*time.Second)

	v.SetDefault("cache.entry_count_cap", 1000)
	v.SetDefault("cache.entry_size_cap", 64<<10)

	v.SetDefault("admin.token", "")
}

// Load populates the config from (in increasing priority) defaults, an
// optional config.yaml, a .env file and APP_* environment variables.
// Nested keys map to env names by replacing dots, e.g.
// http_server.port is APP_HTTP_SERVER_PORT.
func Load() (*Config, error) {
	// .env is optional, missing file is not an error
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetEnvPrefix("APP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	switch c.Dispatch.Mode {
	case DispatchInProcess, DispatchKafka:
	default:
		return fmt.Errorf("unknown dispatch mode %q", c.Dispatch.Mode)
	}
	switch c.StoreKind {
	case StorePostgres, StoreMemory:
	default:
		return fmt.Errorf("unknown store %q", c.StoreKind)
	}
	if c.Generation.MaxAttempts < 1 {
		return fmt.Errorf("generation.max_attempts must be at least 1, got %d", c.Generation.MaxAttempts)
	}
	if c.StoreKind == StoreMemory && c.IsProduction() {
		return errors.New("the memory store is not allowed in production")
	}
	return nil
}
