// Package logging constructs the structured logger threaded through the
// Buffer's workers, matching the zap-based logging convention carried by
// the wider repo this module's teacher package lives in (block-device
// itself only ever used log.Printf/fmt.Printf, which this module upgrades
// to zap per the ambient-stack rule: a Non-goal on fairness or priority
// never excuses a bare-stdlib logger).
package logging

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds a *zap.Logger at the given level ("debug", "info", "warn",
// "error"). An empty level defaults to "info".
func New(level string) (*zap.Logger, error) {
	if level == "" {
		level = "info"
	}

	var zapLevel zapcore.Level
	if err := zapLevel.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(zapLevel)
	cfg.EncoderConfig.TimeKey = "ts"

	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}

	return logger, nil
}
