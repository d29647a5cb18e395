package logger

import (
	"io"
	"log/slog"
	"os"
	"time"
)

type Backend string

const (
	BackendStd Backend = "std" // Text в dev; JSON в stage/prod
	BackendZap Backend = "zap" // Slog-zap
)

type Config struct {
	// Метаданные для логгера
	Service    string
	Version    string
	InstanceID string
	// Attrs are attached to every record after the common ones.
	Attrs []slog.Attr

	// Управление выводом
	Level   slog.Level
	Env     Env
	Backend Backend   // default: zap для stage/prod, std для dev
	Output  io.Writer // default: os.Stdout
	Debug   bool

	// Zap sampling: first SampleInitial records per SampleTick, then every
	// SampleThereafter-th.
	SampleInitial    int
	SampleThereafter int
	SampleTick       time.Duration

	AddSource bool
}

func (c Config) withDefaults() Config {
	if c.Env == "" {
		c.Env = DetectEnv()
	}
	if c.Service == "" {
		c.Service = "chat-service"
	}
	c.InstanceID = ensureInstanceID(c.InstanceID)

	if c.Backend == "" {
		if c.Env == EnvDev {
			c.Backend = BackendStd
		} else {
			c.Backend = BackendZap
		}
	}
	if c.Output == nil {
		c.Output = os.Stdout
	}
	if c.SampleInitial <= 0 {
		c.SampleInitial = 100
	}
	if c.SampleThereafter <= 0 {
		c.SampleThereafter = 10
	}
	if c.SampleTick <= 0 {
		c.SampleTick = time.Second
	}
	return c
}

// effectiveLevel lets Debug lower the default info level; an explicit
// Level wins.
func effectiveLevel(c Config) slog.Level {
	if c.Debug && c.Level == slog.LevelInfo {
		return slog.LevelDebug
	}
	return c.Level
}

// ParseLevel maps debug|info|warn|error to a slog level, info otherwise.
func ParseLevel(s string) slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return lvl
}
