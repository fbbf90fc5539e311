// Package obs wires structured logging and Prometheus metrics.
package obs

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewLogger builds a JSON logger for production and a console logger elsewhere.
func NewLogger(environment, level string) (*zap.Logger, error) {
	var config zap.Config
	if environment == "production" {
		config = zap.NewProductionConfig()
	} else {
		config = zap.NewDevelopmentConfig()
		config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	config.OutputPaths = []string{"stdout"}
	config.ErrorOutputPaths = []string{"stderr"}
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	if level != "" {
		var parsed zapcore.Level
		if err := parsed.UnmarshalText([]byte(level)); err == nil {
			config.Level.SetLevel(parsed)
		}
	}

	return config.Build()
}
