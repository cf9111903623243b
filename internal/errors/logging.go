package errors

import (
	"context"
	stderrors "errors"

	"github.com/sirupsen/logrus"
)

// Logger decorates log entries with the code, retryability and context
// carried by an AppError anywhere in the chain.
type Logger struct {
	base *logrus.Logger
}

func WrapLogger(logger *logrus.Logger) *Logger {
	return &Logger{base: logger}
}

// Entry builds the decorated entry without emitting it.
func (l *Logger) Entry(err error, fields ...logrus.Fields) *logrus.Entry {
	entry := l.base.WithError(err)
	if appErr, ok := As(err); ok {
		entry = entry.WithFields(logrus.Fields{
			"error_code": appErr.Code,
			"retryable":  appErr.Retryable,
		})
		if len(appErr.Context) > 0 {
			entry = entry.WithFields(logrus.Fields(appErr.Context))
		}
	}
	for _, f := range fields {
		entry = entry.WithFields(f)
	}
	return entry
}

func (l *Logger) LogError(err error, message string, fields ...logrus.Fields) {
	l.Entry(err, fields...).Error(message)
}

func (l *Logger) LogWarn(err error, message string, fields ...logrus.Fields) {
	l.Entry(err, fields...).Warn(message)
}

// Report picks the level from the error: cancellation is debug noise,
// retryable failures warn, everything else is an error.
func (l *Logger) Report(err error, message string, fields ...logrus.Fields) {
	entry := l.Entry(err, fields...)
	switch {
	case stderrors.Is(err, context.Canceled), stderrors.Is(err, context.DeadlineExceeded):
		entry.Debug(message)
	case IsRetryable(err):
		entry.Warn(message)
	default:
		entry.Error(message)
	}
}
