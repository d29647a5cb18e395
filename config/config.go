package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

type GRPC struct {
	Addr string `yaml:"addr" env:"ADDR"`
}

type HTTP struct {
	Addr         string        `yaml:"addr" env:"ADDR"`
	ReadTimeout  time.Duration `yaml:"readTimeout" env:"READ_TIMEOUT"`
	WriteTimeout time.Duration `yaml:"writeTimeout" env:"WRITE_TIMEOUT"`
	IdleTimeout  time.Duration `yaml:"idleTimeout" env:"IDLE_TIMEOUT"`
}

type Logging struct {
	Env       string `yaml:"env" env:"ENV"`              // dev|stage|prod
	Service   string `yaml:"service" env:"SERVICE"`      // chat-service
	Version   string `yaml:"version" env:"VERSION"`      // v0.1.0
	Backend   string `yaml:"backend" env:"BACKEND"`      // std|zap
	Level     string `yaml:"level" env:"LEVEL"`          // debug|info|warn|error
	AddSource bool   `yaml:"addSource" env:"ADD_SOURCE"` // false|true
	Debug     bool   `yaml:"debug" env:"DEBUG"`          // false|true
}

// Postgres is optional: an empty DSN keeps history in memory.
type Postgres struct {
	DSN             string        `yaml:"dsn" env:"DSN"`
	MaxConns        int32         `yaml:"maxConns" env:"MAX_CONNS"`
	MinConns        int32         `yaml:"minConns" env:"MIN_CONNS"`
	MaxConnLifetime time.Duration `yaml:"maxConnLifetime" env:"MAX_CONN_LIFETIME"`
	MaxConnIdleTime time.Duration `yaml:"maxConnIdleTime" env:"MAX_CONN_IDLE_TIME"`
	Migrate         bool          `yaml:"migrate" env:"MIGRATE"`
	HistoryLimit    int           `yaml:"historyLimit" env:"HISTORY_LIMIT"`
}

type Redis struct {
	Addr              string `yaml:"addr" env:"ADDR"`
	Password          string `yaml:"password" env:"PASSWORD"`
	DB                int    `yaml:"db" env:"DB"`
	Channel           string `yaml:"channel" env:"CHANNEL"`
	PresenceKeyPrefix string `yaml:"presenceKeyPrefix" env:"PRESENCE_KEY_PREFIX"`
}

type WS struct {
	PingEvery        time.Duration `yaml:"pingEvery" env:"PING_EVERY"`
	IdleTimeout      time.Duration `yaml:"idleTimeout" env:"IDLE_TIMEOUT"`
	HandshakeTimeout time.Duration `yaml:"handshakeTimeout" env:"HANDSHAKE_TIMEOUT"`
	WriteTimeout     time.Duration `yaml:"writeTimeout" env:"WRITE_TIMEOUT"`
	MaxMessageBytes  int64         `yaml:"maxMessageBytes" env:"MAX_MESSAGE_BYTES"`
	MaxMessageLen    int           `yaml:"maxMessageLen" env:"MAX_MESSAGE_LEN"`
	AnnounceJoins    *bool         `yaml:"announceJoins" env:"ANNOUNCE_JOINS"`
}

type Bridge struct {
	InitialBackoff time.Duration `yaml:"initialBackoff" env:"INITIAL_BACKOFF"`
	MaxBackoff     time.Duration `yaml:"maxBackoff" env:"MAX_BACKOFF"`
}

type CORS struct {
	AllowedOrigins []string `yaml:"allowedOrigins" env:"ALLOWED_ORIGINS" envSeparator:","`
}

type Config struct {
	HTTP     HTTP     `yaml:"http" envPrefix:"HTTP_"`
	GRPC     GRPC     `yaml:"grpc" envPrefix:"GRPC_"`
	Logging  Logging  `yaml:"logging" envPrefix:"LOG_"`
	Postgres Postgres `yaml:"postgres" envPrefix:"POSTGRES_"`
	Redis    Redis    `yaml:"redis" envPrefix:"REDIS_"`
	WS       WS       `yaml:"ws" envPrefix:"WS_"`
	Bridge   Bridge   `yaml:"bridge" envPrefix:"BRIDGE_"`
	CORS     CORS     `yaml:"cors" envPrefix:"CORS_"`
}

// EnvPrefix prefixes every environment override, e.g. CHAT_REDIS_ADDR.
const EnvPrefix = "CHAT_"

// LoadConfig reads the file at CONFIG_PATH (./config/config.yaml by default).
func LoadConfig() (*Config, error) {
	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		path = "./config/config.yaml"
	}
	return Load(path)
}

// Load reads YAML from path, applies CHAT_* environment overrides and
// validates the result. A missing file is allowed when the environment
// carries the required values.
func Load(path string) (*Config, error) {
	var cfg Config

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, err
	}

	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.HTTP.Addr == "" {
		return errors.New("http.addr is required")
	}
	if c.GRPC.Addr == "" {
		return errors.New("grpc.addr is required")
	}
	if c.Redis.Addr == "" {
		return errors.New("redis.addr is required")
	}
	if c.Bridge.MaxBackoff > 0 && c.Bridge.InitialBackoff > c.Bridge.MaxBackoff {
		return errors.New("bridge.initialBackoff must not exceed bridge.maxBackoff")
	}

	// установка дефолтов, если значения не указаны
	if c.Logging.Service == "" {
		c.Logging.Service = "chat-service"
	}
	if c.Logging.Env == "" {
		c.Logging.Env = "dev"
	}
	if c.Logging.Version == "" {
		c.Logging.Version = "v0.1.0"
	}
	if c.Logging.Backend == "" {
		c.Logging.Backend = "std"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	c.HTTP.ReadTimeout = durationOr(c.HTTP.ReadTimeout, 10*time.Second)
	c.HTTP.WriteTimeout = durationOr(c.HTTP.WriteTimeout, 15*time.Second)
	c.HTTP.IdleTimeout = durationOr(c.HTTP.IdleTimeout, 60*time.Second)
	if c.Postgres.HistoryLimit <= 0 {
		c.Postgres.HistoryLimit = 100
	}
	if c.WS.AnnounceJoins == nil {
		on := true
		c.WS.AnnounceJoins = &on
	}
	return nil
}

func durationOr(d, def time.Duration) time.Duration {
	if d > 0 {
		return d
	}
	return def
}
