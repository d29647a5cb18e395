package logger

import "log/slog"

var def *slog.Logger

// Init настраивает slog в зависимости от среды и делает его default.
func Init(cfg Config) *slog.Logger {
	cfg = cfg.withDefaults()

	var h slog.Handler
	switch cfg.Backend {
	case BackendZap:
		h = newZapHandler(cfg)
	default:
		h = newStdHandler(cfg)
	}

	attrs := append(commonAttr(cfg), cfg.Attrs...)
	base := slog.New(h.WithAttrs(attrs))
	slog.SetDefault(base)
	def = base
	return base
}

func L() *slog.Logger {
	if def != nil {
		return def
	}
	return Init(Config{})
}
