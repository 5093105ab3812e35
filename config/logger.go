package config

import (
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewLogger builds a zap logger from the log configuration. The json format
// uses the production encoder, text uses the console encoder.
func NewLogger(cfg LogConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level.String())
	if err != nil {
		return nil, errors.Wrapf(ErrInvalidLogLevel, "%s", cfg.Level)
	}

	var zc zap.Config
	switch cfg.Format {
	case "json":
		zc = zap.NewProductionConfig()
	case "text", "":
		zc = zap.NewDevelopmentConfig()
		zc.Development = false
		if cfg.Color {
			zc.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		}
	default:
		return nil, errors.Wrapf(ErrInvalidLogFormat, "%s", cfg.Format)
	}

	zc.Level = zap.NewAtomicLevelAt(level)
	if cfg.Output != "" {
		zc.OutputPaths = []string{cfg.Output}
	}
	if len(cfg.Fields) > 0 {
		zc.InitialFields = cfg.Fields
	}

	logger, err := zc.Build()
	if err != nil {
		return nil, errors.Wrap(err, "failed to build logger")
	}
	return logger, nil
}
