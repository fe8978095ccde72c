package config

import (
	"strconv"

	"github.com/caffeineduck/vertigo/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LogConfig selects the process logger.
type LogConfig struct {
	// Level is debug, info, warn or error.
	Level string `yaml:"level"`
	// Format is json or console.
	Format string `yaml:"format"`
}

func (l LogConfig) validate() error {
	if _, err := zapcore.ParseLevel(l.Level); err != nil {
		return errors.New(errors.PhaseConfig, errors.KindInvalidData).
			Path("log", "level").Value(l.Level).Detail("unknown level").Build()
	}
	if l.Format != "json" && l.Format != "console" {
		return errors.New(errors.PhaseConfig, errors.KindInvalidData).
			Path("log", "format").Value(l.Format).Detail("must be json or console").Build()
	}
	return nil
}

// Build creates a logger writing to stderr.
func (l LogConfig) Build() (*zap.Logger, error) {
	if err := l.validate(); err != nil {
		return nil, err
	}
	level, _ := zapcore.ParseLevel(l.Level)

	zc := zap.NewProductionConfig()
	if l.Format == "console" {
		zc = zap.NewDevelopmentConfig()
		zc.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		zc.DisableStacktrace = true
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	zc.OutputPaths = []string{"stderr"}
	zc.ErrorOutputPaths = []string{"stderr"}
	zc.Development = false
	return zc.Build()
}

func itoa(i int) string {
	return strconv.Itoa(i)
}
