package logger

import (
	"log/slog"
	"os"
	"testing"
	"time"

	"go.uber.org/zap/zapcore"
)

func TestEffectiveLevel(t *testing.T) {
	cases := []struct {
		name string
		cfg  Config
		want slog.Level
	}{
		{"default is info", Config{}, slog.LevelInfo},
		{"debug flag lowers default", Config{Debug: true}, slog.LevelDebug},
		{"explicit level wins over flag", Config{Debug: true, Level: slog.LevelWarn}, slog.LevelWarn},
		{"explicit debug", Config{Level: slog.LevelDebug}, slog.LevelDebug},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := effectiveLevel(tc.cfg); got != tc.want {
				t.Fatalf("effectiveLevel = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestToZapLevel(t *testing.T) {
	cases := map[slog.Level]zapcore.Level{
		slog.LevelDebug - 4: zapcore.DebugLevel,
		slog.LevelDebug:     zapcore.DebugLevel,
		slog.LevelInfo:      zapcore.InfoLevel,
		slog.LevelInfo + 2:  zapcore.WarnLevel,
		slog.LevelWarn:      zapcore.WarnLevel,
		slog.LevelError:     zapcore.ErrorLevel,
	}
	for in, want := range cases {
		if got := toZapLevel(in); got != want {
			t.Fatalf("toZapLevel(%v) = %v, want %v", in, got, want)
		}
	}
}

func TestWithDefaults(t *testing.T) {
	t.Setenv("CHAT_LOG_ENV", "")
	t.Setenv("APP_ENV", "prod")

	c := Config{}.withDefaults()
	if c.Env != EnvProd || c.Backend != BackendZap {
		t.Fatalf("prod should default to zap, got env=%q backend=%q", c.Env, c.Backend)
	}
	if c.Service != "chat-service" || c.InstanceID == "" {
		t.Fatalf("identity defaults missing: %+v", c)
	}
	if c.Output != os.Stdout {
		t.Fatal("output should default to stdout")
	}
	if c.SampleInitial != 100 || c.SampleThereafter != 10 || c.SampleTick != time.Second {
		t.Fatalf("sampling defaults: %d %d %v", c.SampleInitial, c.SampleThereafter, c.SampleTick)
	}

	dev := Config{Env: EnvDev, InstanceID: "gw-1"}.withDefaults()
	if dev.Backend != BackendStd || dev.InstanceID != "gw-1" {
		t.Fatalf("dev defaults: backend=%q instance=%q", dev.Backend, dev.InstanceID)
	}
}
