package logging

import (
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	initOnce sync.Once
	logger   *zap.Logger
	exitFunc = os.Exit
)

// L returns the shared application logger, initializing it on first use.
func L() *zap.Logger {
	initOnce.Do(func() {
		logger = newLogger()
	})
	return logger
}

// Sync flushes any buffered log entries
func Sync() error {
	if logger != nil {
		return logger.Sync()
	}
	return nil
}

func newLogger() *zap.Logger {
	logger, err := buildConfig(os.Getenv).Build()
	if err != nil {
		logger, _ = zap.NewDevelopment()
	}
	return logger
}

// buildConfig reads PHISHSIM_LOG_LEVEL, PHISHSIM_LOG_FORMAT,
// PHISHSIM_LOG_SOURCE and PHISHSIM_LOG_SAMPLING through getenv.
func buildConfig(getenv func(string) string) zap.Config {
	config := zap.NewProductionConfig()
	config.Level = zap.NewAtomicLevelAt(parseLevel(getenv("PHISHSIM_LOG_LEVEL")))

	format := strings.ToLower(getenv("PHISHSIM_LOG_FORMAT"))
	if format == "json" || format == "structured" {
		config.Encoding = "json"
	} else {
		config.Encoding = "console"
		config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	if strings.EqualFold(getenv("PHISHSIM_LOG_SOURCE"), "true") {
		config.Development = true
	}
	// Per-recipient dispatch lines repeat the same message for every
	// target, so sampling would drop most of a campaign's outcomes.
	if !strings.EqualFold(getenv("PHISHSIM_LOG_SAMPLING"), "true") {
		config.Sampling = nil
	}

	config.InitialFields = map[string]any{"service": "phishsim"}
	if host, err := os.Hostname(); err == nil {
		config.InitialFields["host"] = host
	}

	config.OutputPaths = []string{"stderr"}
	config.ErrorOutputPaths = []string{"stderr"}
	return config
}

func parseLevel(value string) zapcore.Level {
	switch strings.ToLower(value) {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// Fatal logs the message at error level and exits with status 1.
func Fatal(msg string, fields ...zap.Field) {
	L().Error(msg, fields...)
	_ = Sync()
	exitFunc(1)
}

// OrNop returns l, or a no-op logger when l is nil.
func OrNop(l *zap.Logger) *zap.Logger {
	if l == nil {
		return zap.NewNop()
	}
	return l
}
