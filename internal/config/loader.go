package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type AppConfig struct {
	Env                   string `mapstructure:"env"`
	Port                  int    `mapstructure:"port"`
	RequestTimeoutSeconds int    `mapstructure:"request_timeout_seconds"`
}

type LogConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

type AuthConfig struct {
	Alg           string `mapstructure:"alg"`
	JWTSecret     string `mapstructure:"jwt_secret"`
	PublicKeyPath string `mapstructure:"public_key_path"`
}

type MongoConfig struct {
	URI                     string `mapstructure:"uri"`
	Database                string `mapstructure:"database"`
	ConversationsCollection string `mapstructure:"conversations_collection"`
	MessagesCollection      string `mapstructure:"messages_collection"`
	UsersCollection         string `mapstructure:"users_collection"`
	ConnectTimeoutSeconds   int    `mapstructure:"connect_timeout_seconds"`
	ConnectRetrySeconds     int    `mapstructure:"connect_retry_seconds"`
	OpTimeoutSeconds        int    `mapstructure:"op_timeout_seconds"`
}

type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
}

type KafkaConfig struct {
	Enabled     bool     `mapstructure:"enabled"`
	Brokers     []string `mapstructure:"brokers"`
	TopicEvents string   `mapstructure:"topic_events"`
}

type NotifierConfig struct {
	Workers               int `mapstructure:"workers"`
	QueueSize             int `mapstructure:"queue_size"`
	PublishTimeoutMillis  int `mapstructure:"publish_timeout_ms"`
	BreakerMaxFailures    int `mapstructure:"breaker_max_failures"`
	BreakerTimeoutSeconds int `mapstructure:"breaker_timeout_seconds"`
}

type RateLimitConfig struct {
	PerMinute            int `mapstructure:"per_minute"`
	Burst                int `mapstructure:"burst"`
	SendPerMinutePerUser int `mapstructure:"send_per_minute_per_user"`
}

type WSConfig struct {
	PingIntervalSeconds  int   `mapstructure:"ping_interval_seconds"`
	WriteDeadlineSeconds int   `mapstructure:"write_deadline_seconds"`
	MaxMessageSizeBytes  int64 `mapstructure:"max_message_size_bytes"`
	SendBuffer           int   `mapstructure:"send_buffer"`
}

type S3Config struct {
	Enabled           bool   `mapstructure:"enabled"`
	Region            string `mapstructure:"region"`
	Bucket            string `mapstructure:"bucket"`
	Endpoint          string `mapstructure:"endpoint"`
	PresignTTLSeconds int    `mapstructure:"presign_ttl_seconds"`
}

type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Log       LogConfig       `mapstructure:"log"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Mongo     MongoConfig     `mapstructure:"mongodb"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Kafka     KafkaConfig     `mapstructure:"kafka"`
	Notifier  NotifierConfig  `mapstructure:"notifier"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit"`
	WS        WSConfig        `mapstructure:"ws"`
	S3        S3Config        `mapstructure:"s3"`

	// derived
	RequestTimeout time.Duration `mapstructure:"-"`
	ConnectTimeout time.Duration `mapstructure:"-"`
	ConnectRetry   time.Duration `mapstructure:"-"`
	OpTimeout      time.Duration `mapstructure:"-"`
	PublishTimeout time.Duration `mapstructure:"-"`
	BreakerTimeout time.Duration `mapstructure:"-"`
	PingInterval   time.Duration `mapstructure:"-"`
	WriteDeadline  time.Duration `mapstructure:"-"`
	PresignTTL     time.Duration `mapstructure:"-"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.env", "development")
	v.SetDefault("app.port", 8085)
	v.SetDefault("app.request_timeout_seconds", 5)

	v.SetDefault("log.development", true)
	v.SetDefault("log.level", "info")

	// AutomaticEnv only resolves keys viper already knows, so every
	// env-overridable key needs a default, even an empty one.
	v.SetDefault("auth.alg", "HS256")
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.public_key_path", "")

	v.SetDefault("mongodb.uri", "mongodb://localhost:27017")
	v.SetDefault("mongodb.database", "chat")
	v.SetDefault("mongodb.conversations_collection", "conversations")
	v.SetDefault("mongodb.messages_collection", "messages")
	v.SetDefault("mongodb.users_collection", "users")
	v.SetDefault("mongodb.connect_timeout_seconds", 10)
	v.SetDefault("mongodb.connect_retry_seconds", 60)
	v.SetDefault("mongodb.op_timeout_seconds", 3)

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.prefix", "chat")

	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.topic_events", "chat.events")

	v.SetDefault("notifier.workers", 4)
	v.SetDefault("notifier.queue_size", 1024)
	v.SetDefault("notifier.publish_timeout_ms", 2000)
	v.SetDefault("notifier.breaker_max_failures", 5)
	v.SetDefault("notifier.breaker_timeout_seconds", 30)

	v.SetDefault("ratelimit.per_minute", 600)
	v.SetDefault("ratelimit.burst", 20)
	v.SetDefault("ratelimit.send_per_minute_per_user", 120)

	v.SetDefault("ws.ping_interval_seconds", 25)
	v.SetDefault("ws.write_deadline_seconds", 10)
	v.SetDefault("ws.max_message_size_bytes", 65536)
	v.SetDefault("ws.send_buffer", 64)

	v.SetDefault("s3.enabled", false)
	v.SetDefault("s3.region", "us-east-1")
	v.SetDefault("s3.bucket", "")
	v.SetDefault("s3.endpoint", "")
	v.SetDefault("s3.presign_ttl_seconds", 900)
}

// Load reads an optional YAML file at path, then environment overrides.
// AUTH_JWT_SECRET overrides auth.jwt_secret, MONGODB_URI overrides mongodb.uri.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			v.SetConfigFile(path)
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("read config %s: %w", path, err)
			}
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	c.derive()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Config) derive() {
	c.RequestTimeout = time.Duration(c.App.RequestTimeoutSeconds) * time.Second
	c.ConnectTimeout = time.Duration(c.Mongo.ConnectTimeoutSeconds) * time.Second
	c.ConnectRetry = time.Duration(c.Mongo.ConnectRetrySeconds) * time.Second
	c.OpTimeout = time.Duration(c.Mongo.OpTimeoutSeconds) * time.Second
	c.PublishTimeout = time.Duration(c.Notifier.PublishTimeoutMillis) * time.Millisecond
	c.BreakerTimeout = time.Duration(c.Notifier.BreakerTimeoutSeconds) * time.Second
	c.PingInterval = time.Duration(c.WS.PingIntervalSeconds) * time.Second
	c.WriteDeadline = time.Duration(c.WS.WriteDeadlineSeconds) * time.Second
	c.PresignTTL = time.Duration(c.S3.PresignTTLSeconds) * time.Second
}

func (c *Config) Validate() error {
	var errs []error
	switch c.Auth.Alg {
	case "HS256":
		if c.Auth.JWTSecret == "" {
			errs = append(errs, errors.New("auth.jwt_secret is required for HS256"))
		}
	case "RS256":
		if c.Auth.PublicKeyPath == "" {
			errs = append(errs, errors.New("auth.public_key_path is required for RS256"))
		}
	default:
		errs = append(errs, fmt.Errorf("auth.alg %q is not supported", c.Auth.Alg))
	}
	if c.Mongo.URI == "" {
		errs = append(errs, errors.New("mongodb.uri is required"))
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		errs = append(errs, errors.New("kafka.brokers is required when kafka is enabled"))
	}
	if c.S3.Enabled && c.S3.Bucket == "" {
		errs = append(errs, errors.New("s3.bucket is required when s3 is enabled"))
	}
	return errors.Join(errs...)
}

func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.App.Port)
}
