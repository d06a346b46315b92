package logger

import (
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds a zap logger. "prod" or "production" gives JSON output at info
// level; anything else gives the development console encoder at debug
// level. LOG_LEVEL overrides the level in both modes.
func New(mode string) (*zap.Logger, error) {
	var cfg zap.Config
	switch strings.ToLower(mode) {
	case "prod", "production":
		cfg = zap.NewProductionConfig()
		cfg.EncoderConfig.TimeKey = "time"
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	default:
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	if env := strings.TrimSpace(os.Getenv("LOG_LEVEL")); env != "" {
		level, err := zapcore.ParseLevel(env)
		if err != nil {
			return nil, fmt.Errorf("invalid LOG_LEVEL %q: %w", env, err)
		}
		cfg.Level = zap.NewAtomicLevelAt(level)
	}

	return cfg.Build()
}
