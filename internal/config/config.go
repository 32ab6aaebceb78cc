package config

import (
	"bytes"
	_ "embed"
	"strings"
	"time"

	"github.com/spf13/viper"
)

//go:embed defaults.yaml
var defaults []byte

// ---- Root ----

type Config struct {
	Log        LogConfig       `mapstructure:"log"`
	HTTP       HTTPConfig      `mapstructure:"http"`
	MySQL      DatabaseConfig  `mapstructure:"mysql"`
	ClickHouse DatabaseConfig  `mapstructure:"clickhouse"`
	Redis      RedisConfig     `mapstructure:"redis"`
	Kafka      KafkaConfig     `mapstructure:"kafka"`
	Queue      QueueConfig     `mapstructure:"queue"`
	Delivery   DeliveryConfig  `mapstructure:"delivery"`
	RateLimit  RateLimitConfig `mapstructure:"rate_limit"`
}

// ---- Leaf structs ----

type LogConfig struct {
	Level string `mapstructure:"level"`
}

type HTTPConfig struct {
	Addr string `mapstructure:"addr"`
}

type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idletime"`
	PingTimeout     time.Duration `mapstructure:"ping_timeout"`
}

type RedisConfig struct {
	Addr        string        `mapstructure:"addr"`
	Password    string        `mapstructure:"password"`
	DB          int           `mapstructure:"db"`
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
}

type KafkaConfig struct {
	Brokers        []string `mapstructure:"brokers"`
	Topic          string   `mapstructure:"topic"`
	RetryTopic     string   `mapstructure:"retry_topic"`
	GroupID        string   `mapstructure:"group_id"`
	MinBytes       int      `mapstructure:"min_bytes"`
	MaxBytes       int      `mapstructure:"max_bytes"`
	CommitInterval int      `mapstructure:"commit_interval_ms"`
}

const (
	QueueMemory = "memory"
	QueueRedis  = "redis"
	QueueKafka  = "kafka"
)

type QueueConfig struct {
	Driver       string        `mapstructure:"driver"` // memory | redis | kafka
	KeyPrefix    string        `mapstructure:"key_prefix"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
}

type DeliveryConfig struct {
	WorkerCount       int           `mapstructure:"worker_count"`
	UserAgent         string        `mapstructure:"user_agent"`
	MaxRedirects      int           `mapstructure:"max_redirects"`
	MaxResponseBody   int64         `mapstructure:"max_response_body"`
	CircuitThreshold  int           `mapstructure:"circuit_threshold"`
	DefaultTimeoutMs  int           `mapstructure:"default_timeout_ms"`
	DefaultMaxRetries int           `mapstructure:"default_max_retries"`
	Backoff           BackoffConfig `mapstructure:"backoff"`
}

type BackoffConfig struct {
	Base   time.Duration `mapstructure:"base"`
	Max    time.Duration `mapstructure:"max"`
	Jitter float64       `mapstructure:"jitter"`
}

type RateLimitConfig struct {
	RPS int `mapstructure:"rps"`
}

// Load reads embedded defaults, merges user YAML (if provided), and applies
// env overrides (HOOKRELAY_*, nested keys joined by "_", e.g. HOOKRELAY_MYSQL_DSN).
func Load(path string) (Config, error) {
	v := viper.New()

	// embedded defaults
	v.SetConfigType("yaml")
	if err := v.ReadConfig(bytes.NewReader(defaults)); err != nil {
		return Config{}, err
	}

	if path != "" {
		v.SetConfigFile(path)
		_ = v.MergeInConfig()
	}

	v.SetEnvPrefix("HOOKRELAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
