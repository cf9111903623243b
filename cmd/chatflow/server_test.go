package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"chatflow/internal/models"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const testSecret = "0123456789abcdef0123456789abcdef"

type recordingHandler struct {
	mu     sync.Mutex
	events []models.Event
}

func (h *recordingHandler) HandleAsync(ev models.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, ev)
}

func (h *recordingHandler) received() []models.Event {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]models.Event(nil), h.events...)
}

type MockHealthChecker struct {
	mock.Mock
}

func (m *MockHealthChecker) Ping(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func testConfig() *models.Config {
	cfg := &models.Config{}
	cfg.Server.Port = 8082
	cfg.Server.MaxRequestBodyByte = 4096
	cfg.Telegram.WebhookSecret = testSecret
	cfg.RateLimit.RequestsPerMinute = 600
	cfg.RateLimit.Burst = 100
	return cfg
}

func newTestServer(t *testing.T, cfg *models.Config) (*Server, *recordingHandler, *MockHealthChecker) {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	handler := &recordingHandler{}
	health := new(MockHealthChecker)
	return NewServer(cfg, handler, health, logger), handler, health
}

func textUpdate(updateID, chatID int64, text string) string {
	return fmt.Sprintf(`{"update_id":%d,"message":{"message_id":%d,"from":{"id":7,"first_name":"Taro","username":"taro"},"chat":{"id":%d,"type":"supergroup","title":"営業部"},"date":1700000000,"text":%q}}`,
		updateID, updateID, chatID, text)
}

func postWebhook(s *Server, body, secret string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, webhookPath, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if secret != "" {
		req.Header.Set(secretTokenHeader, secret)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func TestServer_HandleHealth(t *testing.T) {
	server, _, health := newTestServer(t, testConfig())
	health.On("Ping", mock.Anything).Return(nil).Once()

	w := httptest.NewRecorder()
	server.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
	health.AssertExpectations(t)
}

func TestServer_HandleHealth_DatabaseDown(t *testing.T) {
	server, _, health := newTestServer(t, testConfig())
	health.On("Ping", mock.Anything).Return(errors.New("database is locked")).Once()

	w := httptest.NewRecorder()
	server.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "unhealthy")
	assert.NotContains(t, w.Body.String(), "locked")
}

func TestServer_HandleMetrics(t *testing.T) {
	server, _, health := newTestServer(t, testConfig())
	health.On("Ping", mock.Anything).Return(nil)
	server.router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health", nil))

	w := httptest.NewRecorder()
	server.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Header().Get("Cache-Control"), "no-store")

	var body map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Contains(t, string(body["counters"]), "http_requests_total")
}

func TestServer_Webhook_DeliversEvent(t *testing.T) {
	server, handler, _ := newTestServer(t, testConfig())

	w := postWebhook(server, textUpdate(1, -1001, "タスク @sam 資料作成"), testSecret)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"ok":true}`, w.Body.String())
	events := handler.received()
	require.Len(t, events, 1)
	assert.Equal(t, int64(-1001), events[0].ChatID)
	assert.Equal(t, models.EventText, events[0].Kind)
	assert.Equal(t, "タスク @sam 資料作成", events[0].Text)
	assert.False(t, events[0].ReceivedAt.IsZero())
}

func TestServer_Webhook_Rejections(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		secret     string
		wantStatus int
	}{
		{name: "missing secret", body: textUpdate(1, 1, "hi"), wantStatus: http.StatusUnauthorized},
		{name: "wrong secret", body: textUpdate(1, 1, "hi"), secret: "nope", wantStatus: http.StatusUnauthorized},
		{name: "malformed json", body: `{"update_id":`, secret: testSecret, wantStatus: http.StatusBadRequest},
		{name: "oversized body", body: textUpdate(1, 1, strings.Repeat("あ", 2000)), secret: testSecret, wantStatus: http.StatusRequestEntityTooLarge},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server, handler, _ := newTestServer(t, testConfig())
			w := postWebhook(server, tt.body, tt.secret)
			assert.Equal(t, tt.wantStatus, w.Code)
			assert.Empty(t, handler.received())
		})
	}
}

func TestServer_Webhook_MethodNotAllowed(t *testing.T) {
	server, _, _ := newTestServer(t, testConfig())
	w := httptest.NewRecorder()
	server.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, webhookPath, nil))
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestServer_Webhook_IgnoredUpdateIsAcknowledged(t *testing.T) {
	server, handler, _ := newTestServer(t, testConfig())

	edited := `{"update_id":5,"edited_message":{"message_id":1,"chat":{"id":1,"type":"group"},"date":0,"text":"x"}}`
	w := postWebhook(server, edited, testSecret)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, handler.received())
}

func TestServer_Webhook_NoSecretConfigured(t *testing.T) {
	cfg := testConfig()
	cfg.Telegram.WebhookSecret = ""
	server, handler, _ := newTestServer(t, cfg)

	w := postWebhook(server, textUpdate(1, 1, "hi"), "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, handler.received(), 1)
}

func TestServer_Webhook_FloodingChatIsDropped(t *testing.T) {
	server, handler, _ := newTestServer(t, testConfig())

	for i := 0; i < chatUpdateBurst+5; i++ {
		w := postWebhook(server, textUpdate(int64(i), 42, "spam"), testSecret)
		assert.Equal(t, http.StatusOK, w.Code, "flooded updates are still acknowledged")
	}
	assert.Len(t, handler.received(), chatUpdateBurst)

	w := postWebhook(server, textUpdate(99, 43, "別のチャット"), testSecret)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, handler.received(), chatUpdateBurst+1)
}

func TestServer_Webhook_ClientRateLimit(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimit.RequestsPerMinute = 1
	cfg.RateLimit.Burst = 1
	server, _, _ := newTestServer(t, cfg)

	assert.Equal(t, http.StatusOK, postWebhook(server, textUpdate(1, 1, "a"), testSecret).Code)

	w := postWebhook(server, textUpdate(2, 2, "b"), testSecret)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.NotEmpty(t, w.Header().Get("Retry-After"))
}

func TestVerifyWebhookSecret(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, webhookPath, nil)
	assert.NoError(t, verifyWebhookSecret(req, ""))
	assert.ErrorIs(t, verifyWebhookSecret(req, testSecret), errMissingSecret)

	req.Header.Set(secretTokenHeader, testSecret+"x")
	assert.ErrorIs(t, verifyWebhookSecret(req, testSecret), errSecretMismatch)

	req.Header.Set(secretTokenHeader, testSecret)
	assert.NoError(t, verifyWebhookSecret(req, testSecret))
}

func TestServer_ShutdownBeforeStart(t *testing.T) {
	server, _, _ := newTestServer(t, testConfig())
	assert.NoError(t, server.Shutdown(context.Background()))
}
