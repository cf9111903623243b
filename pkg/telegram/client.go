// Package telegram is a small Bot API client: sending text, inline
// keyboards and photos, answering button taps, and fetching uploaded files.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	apperrors "chatflow/internal/errors"
	"chatflow/internal/retry"
	"chatflow/internal/validation"
	"chatflow/pkg/telegram/types"

	"github.com/sirupsen/logrus"
)

const (
	DefaultBaseURL = "https://api.telegram.org"
	// MaxMessageLength is the Bot API limit in characters.
	MaxMessageLength = 4096
	maxDownloadBytes = 20 << 20
)

type Client interface {
	SendText(ctx context.Context, chatID int64, text string) (int64, error)
	SendWithButtons(ctx context.Context, chatID int64, text string, keyboard [][]types.InlineKeyboardButton) (int64, error)
	RemoveButtons(ctx context.Context, chatID, messageID int64) error
	AnswerCallback(ctx context.Context, callbackID, text string) error
	SendPhoto(ctx context.Context, chatID int64, image []byte, caption string) (int64, error)
	SendVoice(ctx context.Context, chatID int64, audio []byte, caption string) (int64, error)
	DownloadFile(ctx context.Context, fileID string) ([]byte, error)
	GetMe(ctx context.Context) (*types.User, error)
	SetWebhook(ctx context.Context, url, secretToken string) error
}

// APIError is a failed Bot API call. It is wrapped in an AppError so the
// retry layer can see both retryability and the server's retry_after hint.
type APIError struct {
	Method      string
	StatusCode  int
	Description string
	retryAfter  time.Duration
}

func (e *APIError) Error() string {
	return fmt.Sprintf("telegram %s: status %d: %s", e.Method, e.StatusCode, e.Description)
}

func (e *APIError) RetryAfter() time.Duration {
	return e.retryAfter
}

// IsChatUnreachable reports whether Telegram refused the chat itself: the
// bot was removed or blocked, or the chat no longer exists. Retrying such a
// send never succeeds.
func IsChatUnreachable(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	switch apiErr.StatusCode {
	case http.StatusForbidden:
		return true
	case http.StatusBadRequest:
		return strings.Contains(strings.ToLower(apiErr.Description), "chat not found")
	}
	return false
}

type BotClient struct {
	baseURL string
	token   string
	client  *http.Client
	backoff *retry.Backoff
	logger  *logrus.Logger
}

func NewClient(baseURL, token string, httpClient *http.Client, backoff *retry.Backoff, logger *logrus.Logger) *BotClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if backoff == nil {
		backoff = retry.NewBackoff(retry.DefaultBackoffConfig())
	}
	if logger == nil {
		logger = logrus.New()
		logger.SetLevel(logrus.WarnLevel)
	}
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &BotClient{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		token:   token,
		client:  httpClient,
		backoff: backoff,
		logger:  logger,
	}
}

// SendText sends text, splitting it into several messages when it exceeds
// the platform limit. It returns the id of the last message sent.
func (c *BotClient) SendText(ctx context.Context, chatID int64, text string) (int64, error) {
	var lastID int64
	for _, part := range SplitText(text, MaxMessageLength) {
		msg, err := c.sendMessage(ctx, &types.SendMessageRequest{ChatID: chatID, Text: part, DisableWebPagePreview: true})
		if err != nil {
			return lastID, err
		}
		lastID = msg.MessageID
	}
	return lastID, nil
}

// SendWithButtons rejects the keyboard up front when any callback payload
// exceeds the Bot API limit, since the API would fail the whole message.
func (c *BotClient) SendWithButtons(ctx context.Context, chatID int64, text string, keyboard [][]types.InlineKeyboardButton) (int64, error) {
	for _, row := range keyboard {
		for _, b := range row {
			if b.CallbackData == "" {
				continue
			}
			if err := validation.ValidateCallbackData(b.CallbackData); err != nil {
				return 0, err
			}
		}
	}
	msg, err := c.sendMessage(ctx, &types.SendMessageRequest{
		ChatID:      chatID,
		Text:        text,
		ReplyMarkup: &types.InlineKeyboardMarkup{InlineKeyboard: keyboard},
	})
	if err != nil {
		return 0, err
	}
	return msg.MessageID, nil
}

// RemoveButtons clears the inline keyboard of an earlier prompt.
func (c *BotClient) RemoveButtons(ctx context.Context, chatID, messageID int64) error {
	payload := map[string]any{
		"chat_id":      chatID,
		"message_id":   messageID,
		"reply_markup": types.InlineKeyboardMarkup{InlineKeyboard: [][]types.InlineKeyboardButton{}},
	}
	return c.call(ctx, "editMessageReplyMarkup", payload, nil)
}

func (c *BotClient) AnswerCallback(ctx context.Context, callbackID, text string) error {
	return c.call(ctx, "answerCallbackQuery", &types.AnswerCallbackRequest{CallbackQueryID: callbackID, Text: text}, nil)
}

func (c *BotClient) SendPhoto(ctx context.Context, chatID int64, image []byte, caption string) (int64, error) {
	return c.sendFile(ctx, "sendPhoto", "photo", "image.png", chatID, image, caption)
}

// SendVoice uploads an OGG/Opus clip.
func (c *BotClient) SendVoice(ctx context.Context, chatID int64, audio []byte, caption string) (int64, error) {
	return c.sendFile(ctx, "sendVoice", "voice", "voice.ogg", chatID, audio, caption)
}

func (c *BotClient) sendFile(ctx context.Context, method, field, filename string, chatID int64, data []byte, caption string) (int64, error) {
	if len(data) == 0 {
		return 0, fmt.Errorf("empty %s", field)
	}

	var msg types.Message
	err := c.backoff.RetryAppErrors(ctx, func() error {
		var body bytes.Buffer
		w := multipart.NewWriter(&body)
		_ = w.WriteField("chat_id", strconv.FormatInt(chatID, 10))
		if caption != "" {
			_ = w.WriteField("caption", caption)
		}
		part, err := w.CreateFormFile(field, filename)
		if err != nil {
			return fmt.Errorf("failed to create form file: %w", err)
		}
		if _, err := part.Write(data); err != nil {
			return fmt.Errorf("failed to write %s: %w", field, err)
		}
		if err := w.Close(); err != nil {
			return fmt.Errorf("failed to close multipart body: %w", err)
		}
		return c.do(ctx, method, w.FormDataContentType(), &body, &msg)
	})
	if err != nil {
		return 0, err
	}
	return msg.MessageID, nil
}

func (c *BotClient) DownloadFile(ctx context.Context, fileID string) ([]byte, error) {
	var file types.File
	if err := c.call(ctx, "getFile", map[string]string{"file_id": fileID}, &file); err != nil {
		return nil, err
	}
	if file.FilePath == "" {
		return nil, fmt.Errorf("file %s has no download path", fileID)
	}
	if file.FileSize > maxDownloadBytes {
		return nil, fmt.Errorf("file too large: %d bytes", file.FileSize)
	}

	endpoint := fmt.Sprintf("%s/file/bot%s/%s", c.baseURL, c.token, file.FilePath)
	return retry.Do(ctx, c.backoff, func() ([]byte, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}
		resp, err := c.client.Do(req)
		if err != nil {
			return nil, apperrors.NewAPIError("telegram", "file", 0, err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return nil, apperrors.NewAPIError("telegram", "file", resp.StatusCode,
				&APIError{Method: "file", StatusCode: resp.StatusCode, Description: resp.Status})
		}
		data, err := io.ReadAll(io.LimitReader(resp.Body, maxDownloadBytes+1))
		if err != nil {
			return nil, fmt.Errorf("failed to read file: %w", err)
		}
		if len(data) > maxDownloadBytes {
			return nil, fmt.Errorf("file too large")
		}
		return data, nil
	}, apperrors.IsRetryable)
}

func (c *BotClient) GetMe(ctx context.Context) (*types.User, error) {
	var me types.User
	if err := c.call(ctx, "getMe", struct{}{}, &me); err != nil {
		return nil, err
	}
	return &me, nil
}

func (c *BotClient) SetWebhook(ctx context.Context, url, secretToken string) error {
	return c.call(ctx, "setWebhook", &types.SetWebhookRequest{
		URL:            url,
		SecretToken:    secretToken,
		AllowedUpdates: []string{"message", "callback_query"},
	}, nil)
}

func (c *BotClient) sendMessage(ctx context.Context, req *types.SendMessageRequest) (*types.Message, error) {
	var msg types.Message
	if err := c.call(ctx, "sendMessage", req, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// call posts a JSON payload and retries transport failures, 5xx and 429.
func (c *BotClient) call(ctx context.Context, method string, payload, result any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}
	return c.backoff.RetryAppErrors(ctx, func() error {
		return c.do(ctx, method, "application/json", bytes.NewReader(data), result)
	})
}

func (c *BotClient) do(ctx context.Context, method, contentType string, body io.Reader, result any) error {
	endpoint := fmt.Sprintf("%s/bot%s/%s", c.baseURL, c.token, method)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)

	c.logger.WithField("method", method).Debug("Calling Telegram Bot API")

	resp, err := c.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return apperrors.NewAPIError("telegram", method, 0, fmt.Errorf("request failed: %w", stripToken(err, c.token)))
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return apperrors.NewAPIError("telegram", method, 0, fmt.Errorf("failed to read response: %w", err))
	}

	var envelope types.APIResponse
	if err := json.Unmarshal(raw, &envelope); err != nil {
		if resp.StatusCode != http.StatusOK {
			return apperrors.NewAPIError("telegram", method, resp.StatusCode,
				&APIError{Method: method, StatusCode: resp.StatusCode, Description: resp.Status})
		}
		return fmt.Errorf("failed to decode response: %w", err)
	}

	if !envelope.OK || resp.StatusCode != http.StatusOK {
		apiErr := &APIError{Method: method, StatusCode: resp.StatusCode, Description: envelope.Description}
		if envelope.ErrorCode != 0 {
			apiErr.StatusCode = envelope.ErrorCode
		}
		if envelope.Parameters != nil && envelope.Parameters.RetryAfter > 0 {
			apiErr.retryAfter = time.Duration(envelope.Parameters.RetryAfter) * time.Second
		}
		c.logger.WithFields(logrus.Fields{
			"method": method,
			"status": apiErr.StatusCode,
		}).Warn("Telegram Bot API returned error")
		return apperrors.NewAPIError("telegram", method, apiErr.StatusCode, apiErr)
	}

	return envelope.Decode(result)
}

// stripToken keeps the bot token out of URL errors that end up in logs.
func stripToken(err error, token string) error {
	if token == "" || !strings.Contains(err.Error(), token) {
		return err
	}
	return fmt.Errorf("%s", strings.ReplaceAll(err.Error(), token, "<redacted>"))
}

// SplitText cuts text into chunks of at most limit characters, preferring
// line breaks as cut points.
func SplitText(text string, limit int) []string {
	if utf8.RuneCountInString(text) <= limit {
		return []string{text}
	}
	var parts []string
	runes := []rune(text)
	for len(runes) > limit {
		cut := limit
		for i := limit; i > limit/2; i-- {
			if runes[i-1] == '\n' {
				cut = i
				break
			}
		}
		parts = append(parts, string(runes[:cut]))
		runes = runes[cut:]
	}
	if len(runes) > 0 {
		parts = append(parts, string(runes))
	}
	return parts
}
