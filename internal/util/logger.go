package util

import (
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var logger atomic.Pointer[zap.Logger]

// InitLogger initializes the global logger. Production logs are JSON with
// ISO8601 timestamps and carry the service name on every entry.
func InitLogger(env string) error {
	var config zap.Config

	if env == "production" {
		config = zap.NewProductionConfig()
		config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	} else {
		config = zap.NewDevelopmentConfig()
		config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	built, err := config.Build(zap.Fields(zap.String("service", "raffle-service")))
	if err != nil {
		return err
	}

	logger.Store(built)
	zap.ReplaceGlobals(built)
	return nil
}

// GetLogger returns the global logger. Before InitLogger runs, for example
// in tests, it returns a shared development logger.
func GetLogger() *zap.Logger {
	if l := logger.Load(); l != nil {
		return l
	}
	dev, err := zap.NewDevelopment()
	if err != nil {
		dev = zap.NewNop()
	}
	logger.CompareAndSwap(nil, dev)
	return logger.Load()
}

// SyncLogger flushes any buffered log entries
func SyncLogger() {
	if l := logger.Load(); l != nil {
		_ = l.Sync()
	}
}
