package logger

import (
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	instance *zap.SugaredLogger
	once     sync.Once
)

type Config struct {
	Development bool
}

// New builds the process-wide logger once; later calls return the same
// instance regardless of config. Every entry carries the service field so
// the bridge's lines are filterable next to the chat backend's.
func New(cfg Config) (*zap.SugaredLogger, error) {
	var err error
	once.Do(func() {
		zc := zap.NewProductionConfig()
		if cfg.Development {
			zc = zap.NewDevelopmentConfig()
		}
		zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

		var l *zap.Logger
		l, err = zc.Build(zap.Fields(zap.String("service", "chat-bridge")))
		if err != nil {
			return
		}
		instance = l.Sugar()
	})
	return instance, err
}

// Nop returns a no-op logger for tests.
func Nop() *zap.SugaredLogger {
	return zap.NewNop().Sugar()
}
