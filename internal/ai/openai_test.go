package ai

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	apperrors "chatflow/internal/errors"
	"chatflow/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newOpenAITestProvider(t *testing.T, handler http.HandlerFunc) *OpenAIProvider {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	p, err := NewOpenAIProvider(models.AIConfig{BaseURL: server.URL, APIKey: "k", Model: "m", ImageModel: "img"})
	require.NoError(t, err)
	return p
}

func TestNewOpenAIProvider_RequiresKey(t *testing.T) {
	_, err := NewOpenAIProvider(models.AIConfig{})
	assert.Error(t, err)
}

func TestOpenAI_CompleteText(t *testing.T) {
	var got openAIChatReq
	p := newOpenAITestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer k", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"こんにちは"}}]}`))
	})

	resp, err := p.Complete(context.Background(), &Request{
		System:      "あなたは秘書です",
		Messages:    UserText("挨拶して"),
		Temperature: 0.3,
		MaxTokens:   100,
	})
	require.NoError(t, err)
	assert.Equal(t, "こんにちは", resp.Text)
	assert.False(t, resp.HasToolCall())

	require.Len(t, got.Messages, 2)
	assert.Equal(t, "system", got.Messages[0].Role)
	assert.Equal(t, "m", got.Model)
	assert.Equal(t, 100, got.MaxTokens)
}

func TestOpenAI_CompleteToolCall(t *testing.T) {
	var got openAIChatReq
	p := newOpenAITestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":null,"tool_calls":[
			{"id":"c1","type":"function","function":{"name":"set_reminder","arguments":"{\"message\":\"会議\",\"remind_at\":\"2025-03-11T09:00:00+09:00\"}"}}]}}]}`))
	})

	resp, err := p.Complete(context.Background(), &Request{
		Messages: []Message{
			{Role: RoleUser, Content: "明日9時にリマインド"},
			{Role: RoleAssistant, ToolCalls: []ToolCall{{ID: "c0", Name: "get_current_time", Arguments: json.RawMessage(`{}`)}}},
			{Role: RoleTool, ToolCallID: "c0", Name: "get_current_time", Content: `{"now":"2025-03-10T10:00:00+09:00"}`},
		},
		Tools: []Tool{{Name: "set_reminder", Parameters: map[string]any{"type": "object"}}},
	})
	require.NoError(t, err)
	require.True(t, resp.HasToolCall())
	assert.Equal(t, "set_reminder", resp.ToolCalls[0].Name)

	var args struct {
		Message  string `json:"message"`
		RemindAt string `json:"remind_at"`
	}
	require.NoError(t, resp.ToolCalls[0].Decode(&args))
	assert.Equal(t, "会議", args.Message)

	require.Len(t, got.Tools, 1)
	assert.Equal(t, "function", got.Tools[0].Type)
	assert.Equal(t, "c0", got.Messages[2].ToolCallID)
	assert.Equal(t, "get_current_time", got.Messages[1].ToolCalls[0].Function.Name)
}

func TestOpenAI_ErrorStatus(t *testing.T) {
	tests := []struct {
		status    int
		retryable bool
	}{
		{http.StatusTooManyRequests, true},
		{http.StatusInternalServerError, true},
		{http.StatusBadRequest, false},
		{http.StatusUnauthorized, false},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			p := newOpenAITestProvider(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(`{"error":{"message":"nope"}}`))
			})
			_, err := p.Complete(context.Background(), &Request{Messages: UserText("x")})
			require.Error(t, err)
			assert.Equal(t, apperrors.ErrCodeAIProvider, apperrors.GetCode(err))
			assert.Equal(t, tt.retryable, apperrors.IsRetryable(err))
		})
	}
}

func TestOpenAI_EmptyChoices(t *testing.T) {
	p := newOpenAITestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[]}`))
	})
	_, err := p.Complete(context.Background(), &Request{Messages: UserText("x")})
	assert.Error(t, err)
}

func TestOpenAI_GenerateImage(t *testing.T) {
	png := []byte{0x89, 'P', 'N', 'G'}
	p := newOpenAITestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/images/generations", r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]string{{"b64_json": base64.StdEncoding.EncodeToString(png)}},
		})
	})
	img, err := p.GenerateImage(context.Background(), "猫")
	require.NoError(t, err)
	assert.Equal(t, png, img)

	p.ImageModel = ""
	_, err = p.GenerateImage(context.Background(), "猫")
	assert.ErrorIs(t, err, ErrUnsupported)
}

func TestOpenAI_Transcribe(t *testing.T) {
	p := newOpenAITestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/audio/transcriptions", r.URL.Path)
		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, transcriptionModel, r.FormValue("model"))
		_, header, err := r.FormFile("file")
		require.NoError(t, err)
		assert.Equal(t, "voice.ogg", header.Filename)
		_, _ = w.Write([]byte(`{"text":" タスク 資料作成 "}`))
	})
	text, err := p.Transcribe(context.Background(), []byte("OggS"), "audio/ogg")
	require.NoError(t, err)
	assert.Equal(t, "タスク 資料作成", text)
}
