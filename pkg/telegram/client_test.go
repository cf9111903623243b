package telegram

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	apperrors "chatflow/internal/errors"
	"chatflow/internal/retry"
	"chatflow/pkg/telegram/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testToken = "123:abc"

func fastBackoff() *retry.Backoff {
	return retry.NewBackoff(retry.BackoffConfig{
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2,
		MaxAttempts:  3,
	})
}

func newTestClient(t *testing.T, handler http.HandlerFunc) *BotClient {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewClient(server.URL, testToken, server.Client(), fastBackoff(), nil)
}

func writeOK(w http.ResponseWriter, result any) {
	raw, _ := json.Marshal(result)
	_ = json.NewEncoder(w).Encode(types.APIResponse{OK: true, Result: raw})
}

func TestSendText(t *testing.T) {
	var got types.SendMessageRequest
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/bot"+testToken+"/sendMessage", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		writeOK(w, types.Message{MessageID: 42})
	})

	id, err := client.SendText(context.Background(), -100, "こんにちは")
	require.NoError(t, err)
	assert.Equal(t, int64(42), id)
	assert.Equal(t, int64(-100), got.ChatID)
	assert.Equal(t, "こんにちは", got.Text)
	assert.Nil(t, got.ReplyMarkup)
}

func TestSendText_SplitsLongMessages(t *testing.T) {
	var calls int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var req types.SendMessageRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.LessOrEqual(t, len([]rune(req.Text)), MaxMessageLength)
		n := atomic.AddInt32(&calls, 1)
		writeOK(w, types.Message{MessageID: int64(n)})
	})

	id, err := client.SendText(context.Background(), 1, strings.Repeat("あ", MaxMessageLength+10))
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
	assert.Equal(t, int64(2), id)
}

func TestSendWithButtons(t *testing.T) {
	var got types.SendMessageRequest
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		writeOK(w, types.Message{MessageID: 7})
	})

	keyboard := [][]types.InlineKeyboardButton{{
		{Text: "承認", CallbackData: "dp:1"},
		{Text: "却下", CallbackData: "dd:1"},
	}}
	id, err := client.SendWithButtons(context.Background(), 5, "確認してください", keyboard)
	require.NoError(t, err)
	assert.Equal(t, int64(7), id)
	require.NotNil(t, got.ReplyMarkup)
	assert.Equal(t, "dp:1", got.ReplyMarkup.InlineKeyboard[0][0].CallbackData)
}

func TestSendWithButtons_RejectsOversizedCallback(t *testing.T) {
	var calls int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		writeOK(w, types.Message{MessageID: 1})
	})

	keyboard := [][]types.InlineKeyboardButton{{
		{Text: "OK", CallbackData: "dp:" + strings.Repeat("x", 64)},
	}}
	_, err := client.SendWithButtons(context.Background(), 5, "確認してください", keyboard)
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeInvalidInput, apperrors.GetCode(err))
	assert.Zero(t, atomic.LoadInt32(&calls))
}

func TestCall_RetriesServerErrors(t *testing.T) {
	var calls int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			_, _ = io.WriteString(w, "bad gateway")
			return
		}
		writeOK(w, true)
	})

	err := client.AnswerCallback(context.Background(), "cb1", "")
	require.NoError(t, err)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestCall_DoesNotRetryClientErrors(t *testing.T) {
	var calls int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(types.APIResponse{OK: false, ErrorCode: 400, Description: "Bad Request: chat not found"})
	})

	_, err := client.SendText(context.Background(), 1, "hi")
	require.Error(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	assert.Equal(t, apperrors.ErrCodeTelegramAPI, apperrors.GetCode(err))
	assert.False(t, apperrors.IsRetryable(err))
	assert.NotContains(t, err.Error(), testToken)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 400, apiErr.StatusCode)
}

func TestCall_HonorsRetryAfter(t *testing.T) {
	var calls int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			_ = json.NewEncoder(w).Encode(types.APIResponse{
				OK:          false,
				ErrorCode:   429,
				Description: "Too Many Requests",
				Parameters:  &types.ResponseParameters{RetryAfter: 1},
			})
			return
		}
		writeOK(w, types.Message{MessageID: 1})
	})

	start := time.Now()
	_, err := client.SendText(context.Background(), 1, "hi")
	require.NoError(t, err)
	// The one second hint is capped by the backoff's MaxDelay.
	assert.Less(t, time.Since(start), 500*time.Millisecond)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestSendPhoto(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "/sendPhoto"))
		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "9", r.FormValue("chat_id"))
		assert.Equal(t, "猫の絵", r.FormValue("caption"))
		f, _, err := r.FormFile("photo")
		require.NoError(t, err)
		data, _ := io.ReadAll(f)
		assert.Equal(t, []byte{0x89, 'P', 'N', 'G'}, data)
		writeOK(w, types.Message{MessageID: 3})
	})

	id, err := client.SendPhoto(context.Background(), 9, []byte{0x89, 'P', 'N', 'G'}, "猫の絵")
	require.NoError(t, err)
	assert.Equal(t, int64(3), id)

	_, err = client.SendPhoto(context.Background(), 9, nil, "")
	assert.Error(t, err)
}

func TestSendVoice(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "/sendVoice"))
		require.NoError(t, r.ParseMultipartForm(1<<20))
		_, header, err := r.FormFile("voice")
		require.NoError(t, err)
		assert.Equal(t, "voice.ogg", header.Filename)
		writeOK(w, types.Message{MessageID: 4})
	})

	id, err := client.SendVoice(context.Background(), 9, []byte("OggS"), "")
	require.NoError(t, err)
	assert.Equal(t, int64(4), id)
}

func TestDownloadFile(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/bot" + testToken + "/getFile":
			writeOK(w, types.File{FileID: "f1", FilePath: "voice/file_1.oga", FileSize: 5})
		case "/file/bot" + testToken + "/voice/file_1.oga":
			_, _ = w.Write([]byte("audio"))
		default:
			http.NotFound(w, r)
		}
	})

	data, err := client.DownloadFile(context.Background(), "f1")
	require.NoError(t, err)
	assert.Equal(t, "audio", string(data))
}

func TestDownloadFile_TooLarge(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeOK(w, types.File{FileID: "f1", FilePath: "x", FileSize: maxDownloadBytes + 1})
	})
	_, err := client.DownloadFile(context.Background(), "f1")
	assert.Error(t, err)
}

func TestGetMeAndSetWebhook(t *testing.T) {
	var hook types.SetWebhookRequest
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, "/getMe"):
			writeOK(w, types.User{ID: 1, IsBot: true, Username: "flow_bot"})
		case strings.HasSuffix(r.URL.Path, "/setWebhook"):
			require.NoError(t, json.NewDecoder(r.Body).Decode(&hook))
			writeOK(w, true)
		}
	})

	me, err := client.GetMe(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "flow_bot", me.Username)

	require.NoError(t, client.SetWebhook(context.Background(), "https://example.com/webhook/telegram", "s3cret"))
	assert.Equal(t, "s3cret", hook.SecretToken)
	assert.Contains(t, hook.AllowedUpdates, "callback_query")
}

func TestCall_ContextCancelled(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeOK(w, true)
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := client.AnswerCallback(ctx, "cb", "")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSplitText(t *testing.T) {
	assert.Equal(t, []string{"short"}, SplitText("short", 10))

	parts := SplitText("aaaa\nbbbbbb", 8)
	assert.Equal(t, []string{"aaaa\n", "bbbbbb"}, parts)

	parts = SplitText(strings.Repeat("x", 25), 10)
	assert.Equal(t, []string{strings.Repeat("x", 10), strings.Repeat("x", 10), strings.Repeat("x", 5)}, parts)
}

func TestIsChatUnreachable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"kicked", &APIError{StatusCode: 403, Description: "Forbidden: bot was kicked from the group chat"}, true},
		{"chat not found", &APIError{StatusCode: 400, Description: "Bad Request: chat not found"}, true},
		{"other bad request", &APIError{StatusCode: 400, Description: "Bad Request: message text is empty"}, false},
		{"server error", &APIError{StatusCode: 502}, false},
		{"wrapped", apperrors.Wrap(&APIError{StatusCode: 403}, apperrors.ErrCodeTelegramAPI, "send"), true},
		{"plain", assert.AnError, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsChatUnreachable(tt.err))
		})
	}
}
