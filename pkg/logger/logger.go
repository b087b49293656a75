// pkg/logger/logger.go
package logger

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type Options struct {
	Service     string
	Environment string
	// Level is a zap level name; empty means info in production and debug
	// elsewhere.
	Level string
}

// New builds the process logger. Production gets JSON with ISO8601
// timestamps, everything else the colored console encoder.
func New(opts Options) (*zap.Logger, error) {
	var config zap.Config
	if opts.Environment == "production" {
		config = zap.NewProductionConfig()
		config.EncoderConfig.TimeKey = "timestamp"
		config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	} else {
		config = zap.NewDevelopmentConfig()
		config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	if opts.Level != "" {
		level, err := zapcore.ParseLevel(opts.Level)
		if err != nil {
			return nil, fmt.Errorf("log level: %w", err)
		}
		config.Level = zap.NewAtomicLevelAt(level)
	}

	config.InitialFields = map[string]interface{}{
		"service": opts.Service,
	}
	if opts.Environment != "" {
		config.InitialFields["environment"] = opts.Environment
	}
	return config.Build()
}
