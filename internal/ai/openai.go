package ai

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"chatflow/internal/constants"
	apperrors "chatflow/internal/errors"
	"chatflow/internal/models"
)

const (
	OpenAIBaseURL      = "https://api.openai.com/v1"
	OpenRouterBaseURL  = "https://openrouter.ai/api/v1"
	defaultOpenAIModel = "gpt-4o-mini"
	transcriptionModel = "whisper-1"
)

// OpenAIProvider talks to any OpenAI-compatible chat completions API,
// including OpenRouter.
type OpenAIProvider struct {
	BaseURL    string
	APIKey     string
	Model      string
	ImageModel string
	Client     *http.Client
}

type openAIFunction struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

type openAITool struct {
	Type     string         `json:"type"`
	Function openAIFunction `json:"function"`
}

type openAIToolCall struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

type openAIMsg struct {
	Role       string           `json:"role"`
	Content    *string          `json:"content"`
	ToolCalls  []openAIToolCall `json:"tool_calls,omitempty"`
	ToolCallID string           `json:"tool_call_id,omitempty"`
	Name       string           `json:"name,omitempty"`
}

type openAIChatReq struct {
	Model       string       `json:"model"`
	Messages    []openAIMsg  `json:"messages"`
	Temperature float64      `json:"temperature,omitempty"`
	MaxTokens   int          `json:"max_tokens,omitempty"`
	Tools       []openAITool `json:"tools,omitempty"`
}

type openAIChatResp struct {
	Choices []struct {
		Message openAIMsg `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func NewOpenAIProvider(cfg models.AIConfig) (*OpenAIProvider, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("openai: api key is required")
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = OpenAIBaseURL
	}
	model := cfg.Model
	if model == "" {
		model = defaultOpenAIModel
	}
	return &OpenAIProvider{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		APIKey:     cfg.APIKey,
		Model:      model,
		ImageModel: cfg.ImageModel,
		Client:     &http.Client{Timeout: timeoutOf(cfg)},
	}, nil
}

func timeoutOf(cfg models.AIConfig) time.Duration {
	if cfg.TimeoutSec > 0 {
		return time.Duration(cfg.TimeoutSec) * time.Second
	}
	return constants.DefaultAITimeoutSec * time.Second
}

func (p *OpenAIProvider) Name() string { return "openai" }

func (p *OpenAIProvider) Complete(ctx context.Context, req *Request) (*Response, error) {
	body := openAIChatReq{
		Model:       p.Model,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}
	if req.System != "" {
		body.Messages = append(body.Messages, openAIMsg{Role: "system", Content: strPtr(req.System)})
	}
	for _, m := range req.Messages {
		msg := openAIMsg{Role: m.Role, Content: strPtr(m.Content), ToolCallID: m.ToolCallID, Name: m.Name}
		for _, tc := range m.ToolCalls {
			call := openAIToolCall{ID: tc.ID, Type: "function"}
			call.Function.Name = tc.Name
			call.Function.Arguments = string(tc.Arguments)
			msg.ToolCalls = append(msg.ToolCalls, call)
		}
		body.Messages = append(body.Messages, msg)
	}
	for _, t := range req.Tools {
		body.Tools = append(body.Tools, openAITool{
			Type:     "function",
			Function: openAIFunction{Name: t.Name, Description: t.Description, Parameters: t.Parameters},
		})
	}

	var decoded openAIChatResp
	if err := p.postJSON(ctx, "chat/completions", body, &decoded); err != nil {
		return nil, err
	}
	if decoded.Error != nil && decoded.Error.Message != "" {
		return nil, apperrors.NewAPIError("ai", "chat/completions", http.StatusOK, errors.New(decoded.Error.Message))
	}
	if len(decoded.Choices) == 0 {
		return nil, apperrors.NewAPIError("ai", "chat/completions", http.StatusOK, errors.New("openai: empty response"))
	}

	msg := decoded.Choices[0].Message
	resp := &Response{}
	if msg.Content != nil {
		resp.Text = *msg.Content
	}
	for _, tc := range msg.ToolCalls {
		args := json.RawMessage(tc.Function.Arguments)
		if !json.Valid(args) {
			args = json.RawMessage("{}")
		}
		resp.ToolCalls = append(resp.ToolCalls, ToolCall{ID: tc.ID, Name: tc.Function.Name, Arguments: args})
	}
	return resp, nil
}

// GenerateImage uses the images endpoint and returns PNG bytes.
func (p *OpenAIProvider) GenerateImage(ctx context.Context, prompt string) ([]byte, error) {
	if p.ImageModel == "" {
		return nil, ErrUnsupported
	}
	body := map[string]any{
		"model":           p.ImageModel,
		"prompt":          prompt,
		"n":               1,
		"size":            "1024x1024",
		"response_format": "b64_json",
	}
	var decoded struct {
		Data []struct {
			B64JSON string `json:"b64_json"`
		} `json:"data"`
	}
	if err := p.postJSON(ctx, "images/generations", body, &decoded); err != nil {
		return nil, err
	}
	if len(decoded.Data) == 0 || decoded.Data[0].B64JSON == "" {
		return nil, apperrors.NewAPIError("ai", "images/generations", http.StatusOK, errors.New("no image returned"))
	}
	img, err := base64.StdEncoding.DecodeString(decoded.Data[0].B64JSON)
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}
	return img, nil
}

func (p *OpenAIProvider) Transcribe(ctx context.Context, audio []byte, mimeType string) (string, error) {
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	_ = w.WriteField("model", transcriptionModel)
	part, err := w.CreateFormFile("file", "voice"+extensionFor(mimeType))
	if err != nil {
		return "", fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := part.Write(audio); err != nil {
		return "", fmt.Errorf("failed to write audio: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("failed to close multipart body: %w", err)
	}

	var decoded struct {
		Text string `json:"text"`
	}
	if err := p.post(ctx, "audio/transcriptions", w.FormDataContentType(), &body, &decoded); err != nil {
		return "", err
	}
	return strings.TrimSpace(decoded.Text), nil
}

func extensionFor(mimeType string) string {
	switch mimeType {
	case "audio/mpeg":
		return ".mp3"
	case "audio/wav", "audio/x-wav":
		return ".wav"
	default:
		return ".ogg"
	}
}

func (p *OpenAIProvider) postJSON(ctx context.Context, path string, payload, out any) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}
	return p.post(ctx, path, "application/json", bytes.NewReader(b), out)
}

func (p *OpenAIProvider) post(ctx context.Context, path, contentType string, body io.Reader, out any) error {
	url := fmt.Sprintf("%s/%s", p.BaseURL, path)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Authorization", "Bearer "+p.APIKey)

	resp, err := p.Client.Do(req)
	if err != nil {
		return apperrors.NewAPIError("ai", path, 0, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4*1024))
		msg := strings.TrimSpace(string(raw))
		if msg == "" {
			msg = fmt.Sprintf("status %d", resp.StatusCode)
		}
		return apperrors.NewAPIError("ai", path, resp.StatusCode, fmt.Errorf("openai: %s", msg))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func strPtr(s string) *string { return &s }
