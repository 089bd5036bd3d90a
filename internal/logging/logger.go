// Package logging provides zap logger helpers.
package logging

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds a zap.Logger configured for development or production use.
// The component name is attached as a field so batch-command logs stay
// filterable when several subsystems share one process.
func New(development bool, component string) (*zap.Logger, error) {
	var (
		logger *zap.Logger
		err    error
	)
	if development {
		cfg := zap.NewDevelopmentConfig()
		cfg.EncoderConfig.TimeKey = "ts"
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		logger, err = cfg.Build()
	} else {
		cfg := zap.NewProductionConfig()
		cfg.EncoderConfig.TimeKey = "ts"
		logger, err = cfg.Build()
	}
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	if component != "" {
		logger = logger.With(zap.String("component", component))
	}
	return logger, nil
}
