package errors

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

func jsonLogger() (*Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	base := logrus.New()
	base.SetFormatter(&logrus.JSONFormatter{})
	base.SetLevel(logrus.DebugLevel)
	base.SetOutput(&buf)
	return WrapLogger(base), &buf
}

func TestLogger_LogError(t *testing.T) {
	logger, buf := jsonLogger()

	err := fmt.Errorf("outer: %w", New(ErrCodeValidationFailed, "bad").WithContext("field", "deadline"))
	logger.LogError(err, "Deadline parse failed", logrus.Fields{"chat_id": -1})

	out := buf.String()
	for _, want := range []string{
		`"level":"error"`,
		`"error_code":"VALIDATION_FAILED"`,
		`"retryable":false`,
		`"field":"deadline"`,
		`"chat_id":-1`,
		`"msg":"Deadline parse failed"`,
	} {
		assert.Contains(t, out, want)
	}
}

func TestLogger_PlainErrorHasNoCode(t *testing.T) {
	logger, buf := jsonLogger()
	logger.LogWarn(errors.New("plain"), "Lookup failed")
	assert.Contains(t, buf.String(), `"level":"warning"`)
	assert.NotContains(t, buf.String(), "error_code")
}

func TestLogger_Report(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		level string
	}{
		{name: "retryable", err: WrapRetryable(errors.New("503"), ErrCodeTelegramAPI, "send"), level: "warning"},
		{name: "permanent", err: errors.New("fatal"), level: "error"},
		{name: "cancelled", err: fmt.Errorf("ai: %w", context.Canceled), level: "debug"},
		{name: "deadline", err: context.DeadlineExceeded, level: "debug"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, buf := jsonLogger()
			logger.Report(tt.err, "Send failed")
			assert.Contains(t, buf.String(), `"level":"`+tt.level+`"`)
		})
	}
}

func TestLogger_Entry(t *testing.T) {
	logger, buf := jsonLogger()
	logger.Entry(New(ErrCodeConflict, "lost race"), logrus.Fields{"task_id": "t1"}).Info("ignored")
	assert.Contains(t, buf.String(), `"error_code":"CONFLICT"`)
	assert.Contains(t, buf.String(), `"task_id":"t1"`)
}
