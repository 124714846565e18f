package worker

import (
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"
)

// asynqLoggerAdapter wraps logrus to implement asynq.Logger
type asynqLoggerAdapter struct {
	logger *logrus.Entry
}

func newAsynqLogger(log *logrus.Logger) *asynqLoggerAdapter {
	return &asynqLoggerAdapter{logger: log.WithField("component", "asynq")}
}

func (a *asynqLoggerAdapter) Debug(args ...interface{}) {
	a.logger.Debug(fmt.Sprint(args...))
}

func (a *asynqLoggerAdapter) Info(args ...interface{}) {
	a.logger.Info(fmt.Sprint(args...))
}

func (a *asynqLoggerAdapter) Warn(args ...interface{}) {
	a.logger.Warn(fmt.Sprint(args...))
}

func (a *asynqLoggerAdapter) Error(args ...interface{}) {
	a.logger.Error(fmt.Sprint(args...))
}

func (a *asynqLoggerAdapter) Fatal(args ...interface{}) {
	a.logger.Error(fmt.Sprint(args...))
	panic(fmt.Sprint(args...))
}

// asynqLogLevel maps a logrus level onto asynq's.
func asynqLogLevel(level logrus.Level) asynq.LogLevel {
	switch {
	case level >= logrus.DebugLevel:
		return asynq.DebugLevel
	case level == logrus.InfoLevel:
		return asynq.InfoLevel
	case level == logrus.WarnLevel:
		return asynq.WarnLevel
	default:
		return asynq.ErrorLevel
	}
}
