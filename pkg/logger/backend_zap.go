package logger

import (
	"log/slog"

	slogzap "github.com/samber/slog-zap/v2"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func newZapHandler(cfg Config) slog.Handler {
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
	if cfg.AddSource {
		encCfg.EncodeCaller = zapcore.ShortCallerEncoder
	}

	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(encCfg),
		zapcore.AddSync(cfg.Output),
		toZapLevel(effectiveLevel(cfg)),
	)
	// fan-out bursts (presence storms, broadcast evictions) are sampled
	core = zapcore.NewSamplerWithOptions(core, cfg.SampleTick, cfg.SampleInitial, cfg.SampleThereafter)

	opts := []zap.Option{}
	if cfg.AddSource {
		// источник указывает на место вызова slog, а не на обертку
		opts = append(opts, zap.AddCaller(), zap.AddCallerSkip(1))
	}
	return slogzap.Option{Logger: zap.New(core, opts...), AddSource: cfg.AddSource}.NewZapHandler()
}

func toZapLevel(lvl slog.Level) zapcore.Level {
	switch {
	case lvl <= slog.LevelDebug:
		return zapcore.DebugLevel
	case lvl <= slog.LevelInfo:
		return zapcore.InfoLevel
	case lvl <= slog.LevelWarn:
		return zapcore.WarnLevel
	default:
		return zapcore.ErrorLevel
	}
}
