package logging

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config represents logging configuration.
type Config struct {
	Level       string `mapstructure:"level"`
	Format      string `mapstructure:"format"` // json or console
	ServiceName string `mapstructure:"service_name"`
	Environment string `mapstructure:"environment"`

	EnableCaller     bool `mapstructure:"enable_caller"`
	EnableStacktrace bool `mapstructure:"enable_stacktrace"`
}

// DefaultConfig returns a production-leaning default configuration.
func DefaultConfig() *Config {
	return &Config{
		Level:        "info",
		Format:       "json",
		ServiceName:  "clinicsay-migrations",
		Environment:  "production",
		EnableCaller: true,
	}
}

// NewLogger builds a zap logger from configuration. Service identity is
// attached as structured fields on every entry.
func NewLogger(config *Config) (*zap.Logger, error) {
	if config == nil {
		config = DefaultConfig()
	}

	level, err := zapcore.ParseLevel(config.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", config.Level, err)
	}

	zapConfig := zap.Config{
		Level:       zap.NewAtomicLevelAt(level),
		Development: config.Environment == "development",
		Encoding:    config.Format,
		EncoderConfig: zapcore.EncoderConfig{
			TimeKey:        "timestamp",
			LevelKey:       "level",
			NameKey:        "logger",
			CallerKey:      "caller",
			FunctionKey:    zapcore.OmitKey,
			MessageKey:     "message",
			StacktraceKey:  "stacktrace",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    zapcore.LowercaseLevelEncoder,
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			EncodeDuration: zapcore.SecondsDurationEncoder,
			EncodeCaller:   zapcore.ShortCallerEncoder,
		},
		OutputPaths:       []string{"stdout"},
		ErrorOutputPaths:  []string{"stderr"},
		DisableCaller:     !config.EnableCaller,
		DisableStacktrace: !config.EnableStacktrace,
	}

	logger, err := zapConfig.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	return logger.With(
		zap.String("service", config.ServiceName),
		zap.String("environment", config.Environment),
	), nil
}
