package logging

import (
	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"
)

type retryableLogger struct {
	sugar *zap.SugaredLogger
}

var _ retryablehttp.LeveledLogger = retryableLogger{}

// Retryable routes retryablehttp request logs into zap. Per-request info
// lines are demoted to debug.
func Retryable(log *zap.Logger) retryablehttp.LeveledLogger {
	if log == nil {
		log = zap.NewNop()
	}
	return retryableLogger{sugar: log.Sugar()}
}

func (l retryableLogger) Error(msg string, keysAndValues ...interface{}) {
	l.sugar.Errorw(msg, keysAndValues...)
}

func (l retryableLogger) Info(msg string, keysAndValues ...interface{}) {
	l.sugar.Debugw(msg, keysAndValues...)
}

func (l retryableLogger) Debug(msg string, keysAndValues ...interface{}) {
	l.sugar.Debugw(msg, keysAndValues...)
}

func (l retryableLogger) Warn(msg string, keysAndValues ...interface{}) {
	l.sugar.Warnw(msg, keysAndValues...)
}
