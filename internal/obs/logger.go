package obs

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type LogConfig struct {
	Level    string
	Pretty   bool
	Sampling bool
	App      string
	Env      string
	Ver      string
}

// ParseLevel falls back to info for unknown names.
func ParseLevel(s string) zapcore.Level {
	lvl, err := zapcore.ParseLevel(s)
	if err != nil {
		return zapcore.InfoLevel
	}
	return lvl
}

// NewLogger builds the process logger and installs it as zap's global.
func NewLogger(c LogConfig) (*zap.Logger, error) {
	l, _, err := NewLeveledLogger(c)
	return l, err
}

// NewLeveledLogger also returns the level handle, for processes that change
// verbosity on config reload.
func NewLeveledLogger(c LogConfig) (*zap.Logger, zap.AtomicLevel, error) {
	cfg := zap.NewProductionConfig()
	if c.Pretty {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(ParseLevel(c.Level))
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	if !c.Sampling {
		cfg.Sampling = nil
	}

	l, err := cfg.Build(zap.Fields(
		zap.String("service", c.App),
		zap.String("env", c.Env),
		zap.String("version", c.Ver),
	))
	if err != nil {
		return nil, cfg.Level, err
	}
	zap.ReplaceGlobals(l)
	return l, cfg.Level, nil
}
