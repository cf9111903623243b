package middleware

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"chatflow/internal/privacy"
	"chatflow/internal/service"
	"chatflow/internal/tracing"

	"github.com/sirupsen/logrus"
)

const maskedValue = "***MASKED***"

// DetailedLoggingConfig controls what gets logged
type DetailedLoggingConfig struct {
	LogRequestHeaders bool     `json:"log_request_headers"`
	LogRequestBody    bool     `json:"log_request_body"`
	MaxBodySize       int      `json:"max_body_size"`
	SensitiveHeaders  []string `json:"sensitive_headers"`
	SkipEndpoints     []string `json:"skip_endpoints"`
}

// DefaultDetailedLoggingConfig returns the settings used when the log level
// is debug.
func DefaultDetailedLoggingConfig() DetailedLoggingConfig {
	return DetailedLoggingConfig{
		LogRequestHeaders: true,
		LogRequestBody:    false,
		MaxBodySize:       8 << 10,
		SensitiveHeaders: []string{
			"authorization", "cookie", "x-api-key",
			"x-telegram-bot-api-secret-token",
		},
		SkipEndpoints: []string{"/metrics", "/health"},
	}
}

// DetailedLoggingMiddleware logs request headers and, optionally, the update
// payload with every personal field masked. Nothing is logged unless the
// logger is at debug level.
func DetailedLoggingMiddleware(logger *logrus.Logger, config DetailedLoggingConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !logger.IsLevelEnabled(logrus.DebugLevel) || skipped(r.URL.Path, config.SkipEndpoints) {
				next.ServeHTTP(w, r)
				return
			}

			requestInfo := tracing.GetRequestInfo(r.Context())
			fields := logrus.Fields{
				service.LogFieldRequestID: requestInfo.RequestID,
				service.LogFieldTraceID:   requestInfo.TraceID,
				service.LogFieldMethod:    r.Method,
				service.LogFieldURL:       r.URL.Path,
				"content_length":          r.ContentLength,
				"protocol":                r.Proto,
			}

			if config.LogRequestHeaders {
				fields["request_headers"] = maskHeaders(r.Header, config.SensitiveHeaders)
			}

			if config.LogRequestBody && isJSON(r) && r.Body != nil {
				body, err := io.ReadAll(io.LimitReader(r.Body, int64(config.MaxBodySize)+1))
				if err == nil {
					rest := r.Body
					r.Body = struct {
						io.Reader
						io.Closer
					}{io.MultiReader(bytes.NewReader(body), rest), rest}

					if len(body) > config.MaxBodySize {
						fields["request_body"] = "***TRUNCATED***"
					} else {
						fields["request_body"] = maskPayload(body)
					}
				}
			}

			logger.WithFields(fields).Debug("Detailed request logging")
			next.ServeHTTP(w, r)
		})
	}
}

func skipped(path string, endpoints []string) bool {
	for _, skip := range endpoints {
		if path == skip || strings.HasPrefix(path, skip+"/") {
			return true
		}
	}
	return false
}

func maskHeaders(h http.Header, sensitive []string) map[string]string {
	headers := make(map[string]string, len(h))
	for name, values := range h {
		if isSensitiveHeader(name, sensitive) {
			headers[name] = maskedValue
		} else {
			headers[name] = strings.Join(values, ", ")
		}
	}
	return headers
}

func isSensitiveHeader(headerName string, sensitiveHeaders []string) bool {
	for _, sensitive := range sensitiveHeaders {
		if strings.EqualFold(sensitive, headerName) {
			return true
		}
	}
	return false
}

func isJSON(r *http.Request) bool {
	return strings.HasPrefix(strings.ToLower(r.Header.Get("Content-Type")), "application/json")
}

// maskPayload re-encodes a JSON body with message content and identities
// hidden. Bodies that are not valid JSON are reduced to their size.
func maskPayload(body []byte) any {
	var v any
	if err := json.Unmarshal(body, &v); err != nil {
		return privacy.MaskText(string(body))
	}
	return maskValue("", v)
}

func maskValue(key string, v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, child := range val {
			out[k] = maskValue(k, child)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, child := range val {
			out[i] = maskValue(key, child)
		}
		return out
	case string:
		switch key {
		case "text", "caption", "data", "first_name", "last_name", "title":
			return privacy.MaskText(val)
		case "username":
			return privacy.MaskUsername(val)
		case "file_id", "file_unique_id":
			return privacy.MaskToken(val)
		}
		return val
	case float64:
		if key == "id" {
			return privacy.MaskChatID(int64(val))
		}
		return val
	default:
		return v
	}
}
