// Package logging builds the zap logger shared by the CLI and HTTP server.
package logging

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New returns a logger for the given level ("debug", "info", "warn",
// "error") and format ("console" or "json").
func New(level, format string) (*zap.Logger, error) {
	var zapConfig zap.Config

	switch strings.ToLower(format) {
	case "json":
		zapConfig = zap.NewProductionConfig()
	case "", "console":
		zapConfig = zap.NewDevelopmentConfig()
		zapConfig.Development = false
		zapConfig.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	default:
		return nil, fmt.Errorf("unknown log format %q", format)
	}

	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	zapConfig.Level.SetLevel(lvl)
	zapConfig.DisableStacktrace = lvl > zapcore.DebugLevel
	zapConfig.OutputPaths = []string{"stderr"}

	return zapConfig.Build()
}
