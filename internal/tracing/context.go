package tracing

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"strconv"
	"time"
)

type ctxKey int

const (
	requestIDKey ctxKey = iota
	traceIDKey
	spanIDKey
	startTimeKey
)

// RequestInfo is the correlation data carried by a request or job context.
type RequestInfo struct {
	RequestID string    `json:"request_id"`
	TraceID   string    `json:"trace_id"`
	SpanID    string    `json:"span_id"`
	StartTime time.Time `json:"start_time"`
}

func randomHex(n int, fallbackPrefix string) string {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return fallbackPrefix + strconv.FormatInt(time.Now().UnixNano(), 16)
	}
	return hex.EncodeToString(buf)
}

// GenerateRequestID returns a "req_" prefixed random identifier.
func GenerateRequestID() string {
	return "req_" + randomHex(8, "t")
}

// GenerateTraceID returns 32 hex characters, the W3C trace id width.
func GenerateTraceID() string {
	return randomHex(16, "trace_")
}

// GenerateSpanID returns 16 hex characters.
func GenerateSpanID() string {
	return randomHex(8, "span_")
}

func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

func WithTraceID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, traceIDKey, id)
}

func WithSpanID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, spanIDKey, id)
}

func WithStartTime(ctx context.Context, t time.Time) context.Context {
	return context.WithValue(ctx, startTimeKey, t)
}

func stringValue(ctx context.Context, key ctxKey) string {
	s, _ := ctx.Value(key).(string)
	return s
}

func GetRequestID(ctx context.Context) string { return stringValue(ctx, requestIDKey) }
func GetTraceID(ctx context.Context) string   { return stringValue(ctx, traceIDKey) }
func GetSpanID(ctx context.Context) string    { return stringValue(ctx, spanIDKey) }

func GetStartTime(ctx context.Context) time.Time {
	t, _ := ctx.Value(startTimeKey).(time.Time)
	return t
}

// GetRequestInfo collects every correlation value present on ctx.
func GetRequestInfo(ctx context.Context) *RequestInfo {
	return &RequestInfo{
		RequestID: GetRequestID(ctx),
		TraceID:   GetTraceID(ctx),
		SpanID:    GetSpanID(ctx),
		StartTime: GetStartTime(ctx),
	}
}

// Duration is the time elapsed since WithStartTime, or zero when unset.
func Duration(ctx context.Context) time.Duration {
	start := GetStartTime(ctx)
	if start.IsZero() {
		return 0
	}
	return time.Since(start)
}
