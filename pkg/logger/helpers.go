package logger

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Component returns a child of l tagged with the component name
func Component(l Logger, name string) Logger {
	if l == nil {
		l = GetLogger()
	}
	return l.WithField("component", name)
}

// LogRequest logs a completed feed API request
func LogRequest(l Logger, method, endpoint string, statusCode int, duration time.Duration) {
	fields := map[string]interface{}{
		"method":      method,
		"endpoint":    endpoint,
		"status_code": statusCode,
		"duration":    duration,
	}

	switch {
	case statusCode >= 500:
		l.ErrorWithFields("feed request server error", fields)
	case statusCode >= 400:
		l.WarnWithFields("feed request client error", fields)
	default:
		l.DebugWithFields("feed request completed", fields)
	}
}

// LogRateLimit logs a low rate-limit allowance
func LogRateLimit(l Logger, remaining int, reset time.Time) {
	l.WarnWithFields("rate limit nearly exhausted", map[string]interface{}{
		"remaining": remaining,
		"reset":     reset.Local().Format(time.DateTime),
	})
}

// LogPhotoSaved logs a finalized photo file
func LogPhotoSaved(l Logger, recordID uint64, path string) {
	l.DebugWithFields("photo saved", map[string]interface{}{
		"record_id": recordID,
		"path":      path,
	})
}

// NewNopLogger creates a no-operation logger for testing
func NewNopLogger() Logger {
	return &nopLogger{}
}

// nopLogger is a logger that does nothing
type nopLogger struct{}

func (n *nopLogger) Debug(msg string)                                          {}
func (n *nopLogger) Info(msg string)                                           {}
func (n *nopLogger) Warn(msg string)                                           {}
func (n *nopLogger) Error(msg string)                                          {}
func (n *nopLogger) WithField(key string, value interface{}) Logger            { return n }
func (n *nopLogger) WithFields(fields map[string]interface{}) Logger           { return n }
func (n *nopLogger) WithError(err error) Logger                                { return n }
func (n *nopLogger) WithContext(ctx context.Context) Logger                    { return n }
func (n *nopLogger) DebugWithFields(msg string, fields map[string]interface{}) {}
func (n *nopLogger) InfoWithFields(msg string, fields map[string]interface{})  {}
func (n *nopLogger) WarnWithFields(msg string, fields map[string]interface{})  {}
func (n *nopLogger) ErrorWithFields(msg string, fields map[string]interface{}) {}
func (n *nopLogger) GetZerolog() *zerolog.Logger {
	l := zerolog.Nop()
	return &l
}
