package validation

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"chatflow/internal/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func assertInvalidInput(t *testing.T, err error, contains string) {
	t.Helper()
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeInvalidInput, errors.GetCode(err))
	assert.Contains(t, err.Error(), contains)
}

func TestValidateChatID(t *testing.T) {
	assert.NoError(t, ValidateChatID(-1001234567890))
	assert.NoError(t, ValidateChatID(42))
	assertInvalidInput(t, ValidateChatID(0), "cannot be zero")
}

func TestValidateCallbackData(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		wantErr string
	}{
		{name: "task button", data: "td:0b7f6c1e-8a7d-4d21-9c3b-6f8e2a1d9c4e:today"},
		{name: "exactly at limit", data: strings.Repeat("x", MaxCallbackDataBytes)},
		{name: "empty", data: "", wantErr: "cannot be empty"},
		{name: "over limit", data: strings.Repeat("x", MaxCallbackDataBytes+1), wantErr: "callback data too long: 65 bytes"},
		{name: "multibyte counts bytes", data: strings.Repeat("あ", 22), wantErr: "66 bytes"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateCallbackData(tt.data)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assertInvalidInput(t, err, tt.wantErr)
		})
	}
}

func TestValidateTenantID(t *testing.T) {
	tests := []struct {
		name    string
		id      string
		wantErr string
	}{
		{name: "default", id: "default"},
		{name: "with separators", id: "acme_jp-2"},
		{name: "empty", id: "", wantErr: "cannot be empty"},
		{name: "space", id: "acme corp", wantErr: "only letters"},
		{name: "slash", id: "acme/jp", wantErr: "only letters"},
		{name: "too long", id: strings.Repeat("a", MaxTenantIDLength+1), wantErr: "too long"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateTenantID(tt.id)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assertInvalidInput(t, err, tt.wantErr)
		})
	}
}

func TestValidateHTTPRequestSize(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/webhook/telegram", strings.NewReader(`{"update_id":1}`))
	assert.NoError(t, ValidateHTTPRequestSize(req, 1024))

	req.ContentLength = -1
	assert.NoError(t, ValidateHTTPRequestSize(req, 1024), "unknown length is checked while reading")

	req.ContentLength = 2048
	assertInvalidInput(t, ValidateHTTPRequestSize(req, 1024), "request too large: 2048 bytes")

	req.ContentLength = -5
	assertInvalidInput(t, ValidateHTTPRequestSize(req, 1024), "invalid content length")
}

func TestValidateStringLength(t *testing.T) {
	assert.NoError(t, ValidateStringLength("資料作成", "title", 1, 4), "length is counted in characters")
	assertInvalidInput(t, ValidateStringLength("", "title", 1, 10), "title too short (min 1 characters)")
	assertInvalidInput(t, ValidateStringLength("資料作成です", "title", 1, 4), "title too long (max 4 characters)")
}

func TestValidateNumericRange(t *testing.T) {
	assert.NoError(t, ValidateNumericRange(5, "rounds", 1, 10))
	assert.NoError(t, ValidateNumericRange(1, "rounds", 1, 10))
	assertInvalidInput(t, ValidateNumericRange(0, "rounds", 1, 10), "rounds too small (min 1)")
	assertInvalidInput(t, ValidateNumericRange(11, "rounds", 1, 10), "rounds too large (max 10)")
}

func TestValidateTimeoutAndRetention(t *testing.T) {
	assert.NoError(t, ValidateTimeout(30, "ai.timeoutSec"))
	assertInvalidInput(t, ValidateTimeout(0, "ai.timeoutSec"), "ai.timeoutSec too small")
	assertInvalidInput(t, ValidateTimeout(7200, "ai.timeoutSec"), "ai.timeoutSec too large (max 3600)")

	assert.NoError(t, ValidateRetentionDays(30))
	assertInvalidInput(t, ValidateRetentionDays(0), "retention days too small")
	assertInvalidInput(t, ValidateRetentionDays(4000), "retention days too large (max 3650)")
}
