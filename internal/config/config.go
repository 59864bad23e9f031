package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	JWT       JWTConfig       `mapstructure:"jwt"`
	Redis     RedisConfig     `mapstructure:"redis"`
	SMTP      SMTPConfig      `mapstructure:"smtp"`
	Payment   PaymentConfig   `mapstructure:"payment"`
	Chat      ChatConfig      `mapstructure:"chat"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Log       LogConfig       `mapstructure:"log"`
}

type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins"`
	MetricsPrefix   string        `mapstructure:"metrics_prefix"`
}

type DatabaseConfig struct {
	// Driver is "postgres" or "memory".
	Driver       string `mapstructure:"driver"`
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	User         string `mapstructure:"user"`
	Password     string `mapstructure:"password"`
	Name         string `mapstructure:"name"`
	SSLMode      string `mapstructure:"sslmode"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
	Migrate      bool   `mapstructure:"migrate"`
}

func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

type JWTConfig struct {
	Secret string        `mapstructure:"secret"`
	Issuer string        `mapstructure:"issuer"`
	TTL    time.Duration `mapstructure:"ttl"`
}

type RedisConfig struct {
	// URL empty disables Redis: notifications go in-process and slot
	// listings are not cached.
	URL          string        `mapstructure:"url"`
	MaxRetries   int           `mapstructure:"max_retries"`
	RetryBackoff time.Duration `mapstructure:"retry_backoff"`
	PoolSize     int           `mapstructure:"pool_size"`
	MinIdleConns int           `mapstructure:"min_idle_conns"`
	Channel      string        `mapstructure:"channel"`
}

type SMTPConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	From     string `mapstructure:"from"`
}

func (c SMTPConfig) Enabled() bool { return c.Host != "" }

type PaymentConfig struct {
	DefaultFee int64  `mapstructure:"default_fee"`
	Currency   string `mapstructure:"currency"`
	Method     string `mapstructure:"method"`
	ClientURL  string `mapstructure:"client_url"`
}

type ChatConfig struct {
	PingInterval   time.Duration `mapstructure:"ping_interval"`
	PongWait       time.Duration `mapstructure:"pong_wait"`
	WriteWait      time.Duration `mapstructure:"write_wait"`
	SendBuffer     int           `mapstructure:"send_buffer"`
	MaxMessageSize int64         `mapstructure:"max_message_size"`
	MessageRate    float64       `mapstructure:"message_rate"`
	MessageBurst   int           `mapstructure:"message_burst"`
	ParticipantTTL time.Duration `mapstructure:"participant_ttl"`
}

type RateLimitConfig struct {
	RPS   float64 `mapstructure:"rps"`
	Burst int     `mapstructure:"burst"`
}

type CacheConfig struct {
	SlotTTL time.Duration `mapstructure:"slot_ttl"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
	JSON  bool   `mapstructure:"json"`
}

// envOverrides are read from CONSULT_* variables and win over the file.
type envOverrides struct {
	DBHost       string `envconfig:"DB_HOST"`
	DBPort       int    `envconfig:"DB_PORT"`
	DBUser       string `envconfig:"DB_USER"`
	DBPassword   string `envconfig:"DB_PASSWORD"`
	DBName       string `envconfig:"DB_NAME"`
	DBDriver     string `envconfig:"DB_DRIVER"`
	JWTSecret    string `envconfig:"JWT_SECRET"`
	RedisURL     string `envconfig:"REDIS_URL"`
	SMTPHost     string `envconfig:"SMTP_HOST"`
	SMTPUser     string `envconfig:"SMTP_USER"`
	SMTPPassword string `envconfig:"SMTP_PASSWORD"`
	ServerPort   int    `envconfig:"PORT"`
	LogLevel     string `envconfig:"LOG_LEVEL"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 15*time.Second)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("server.metrics_prefix", "consult_api")

	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.migrate", true)

	v.SetDefault("jwt.issuer", "consult-api")
	v.SetDefault("jwt.ttl", 24*time.Hour)

	v.SetDefault("redis.max_retries", 3)
	v.SetDefault("redis.retry_backoff", 100*time.Millisecond)
	v.SetDefault("redis.pool_size", 10)
	v.SetDefault("redis.channel", "notifications")

	v.SetDefault("smtp.port", 587)
	v.SetDefault("smtp.from", "no-reply@consult.local")

	v.SetDefault("payment.default_fee", 500)
	v.SetDefault("payment.currency", "BDT")
	v.SetDefault("payment.method", "MOCK")
	v.SetDefault("payment.client_url", "http://localhost:5173")

	v.SetDefault("chat.ping_interval", 25*time.Second)
	v.SetDefault("chat.pong_wait", 60*time.Second)
	v.SetDefault("chat.write_wait", 10*time.Second)
	v.SetDefault("chat.send_buffer", 64)
	v.SetDefault("chat.max_message_size", 8192)
	v.SetDefault("chat.message_rate", 5)
	v.SetDefault("chat.message_burst", 10)
	v.SetDefault("chat.participant_ttl", 10*time.Minute)

	v.SetDefault("rate_limit.rps", 50)
	v.SetDefault("rate_limit.burst", 100)

	v.SetDefault("cache.slot_ttl", 30*time.Second)

	v.SetDefault("log.level", "info")
}

// LoadConfig reads config.yaml from the usual locations (a missing file is
// fine), then applies CONSULT_* environment overrides.
func LoadConfig(paths ...string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if len(paths) == 0 {
		paths = []string{".", "./config", "/app/config"}
	}
	for _, p := range paths {
		v.AddConfigPath(p)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	var env envOverrides
	if err := envconfig.Process("CONSULT", &env); err != nil {
		return nil, fmt.Errorf("failed to process environment: %w", err)
	}
	env.apply(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (e envOverrides) apply(cfg *Config) {
	setString(&cfg.Database.Host, e.DBHost)
	setString(&cfg.Database.User, e.DBUser)
	setString(&cfg.Database.Password, e.DBPassword)
	setString(&cfg.Database.Name, e.DBName)
	setString(&cfg.Database.Driver, e.DBDriver)
	setString(&cfg.JWT.Secret, e.JWTSecret)
	setString(&cfg.Redis.URL, e.RedisURL)
	setString(&cfg.SMTP.Host, e.SMTPHost)
	setString(&cfg.SMTP.Username, e.SMTPUser)
	setString(&cfg.SMTP.Password, e.SMTPPassword)
	setString(&cfg.Log.Level, e.LogLevel)
	if e.DBPort != 0 {
		cfg.Database.Port = e.DBPort
	}
	if e.ServerPort != 0 {
		cfg.Server.Port = e.ServerPort
	}
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func (c *Config) Validate() error {
	var problems []string
	if c.JWT.Secret == "" {
		problems = append(problems, "jwt.secret is required")
	}
	switch c.Database.Driver {
	case "postgres":
		if c.Database.Name == "" {
			problems = append(problems, "database.name is required for the postgres driver")
		}
	case "memory":
	default:
		problems = append(problems, fmt.Sprintf("database.driver %q must be postgres or memory", c.Database.Driver))
	}
	if c.Payment.DefaultFee < 0 {
		problems = append(problems, "payment.default_fee must not be negative")
	}
	if c.Chat.SendBuffer <= 0 {
		problems = append(problems, "chat.send_buffer must be positive")
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}
