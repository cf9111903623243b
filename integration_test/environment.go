package integration_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"chatflow/internal/database"
	"chatflow/internal/dedup"
	"chatflow/internal/models"
	"chatflow/internal/retry"
	"chatflow/internal/service"
	"chatflow/pkg/telegram"
	"chatflow/pkg/telegram/types"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

const (
	testBotToken    = "123:integration"
	testBotUsername = "flow_bot"
	testTenantID    = "tenant-main"
)

// sentMessage is one sendMessage call observed by the fake Bot API.
type sentMessage struct {
	MessageID int64
	ChatID    int64
	Text      string
	Buttons   []types.InlineKeyboardButton
}

// TestEnvironment wires a real database, Bot API client and engine against
// an in-process fake of the Telegram Bot API.
type TestEnvironment struct {
	t      *testing.T
	db     *database.Database
	engine *service.Engine
	api    *httptest.Server

	mu        sync.Mutex
	sent      []sentMessage
	answered  []types.AnswerCallbackRequest
	requests  map[string]int
	failures  map[string]int
	messageID int64
	updateID  int64
}

func NewTestEnvironment(t *testing.T) *TestEnvironment {
	t.Helper()
	env := &TestEnvironment{
		t:         t,
		requests:  make(map[string]int),
		failures:  make(map[string]int),
		messageID: 1000,
	}

	db, err := database.New(filepath.Join(t.TempDir(), "integration.db"))
	require.NoError(t, err)
	env.db = db

	env.api = httptest.NewServer(http.HandlerFunc(env.serveBotAPI))

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	backoff := retry.NewBackoff(retry.BackoffConfig{
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2,
		MaxAttempts:  3,
	})
	bot := telegram.NewClient(env.api.URL, testBotToken, env.api.Client(), backoff, logger)

	env.engine = service.NewEngine(service.Deps{
		Store:     db,
		Messenger: bot,
		Dedup:     dedup.NewMemoryStore(time.Hour),
	}, service.Options{
		DefaultTenantID: testTenantID,
		Zone:            time.UTC,
		BotUsername:     testBotUsername,
	}, logger)

	t.Cleanup(env.Cleanup)
	return env
}

func (env *TestEnvironment) Cleanup() {
	env.api.Close()
	_ = env.db.Close()
}

func (env *TestEnvironment) Database() *database.Database {
	return env.db
}

// serveBotAPI records the Bot API methods the engine calls and answers them
// the way Telegram does. Injected failures answer 502 first.
func (env *TestEnvironment) serveBotAPI(w http.ResponseWriter, r *http.Request) {
	method := r.URL.Path[strings.LastIndex(r.URL.Path, "/")+1:]

	env.mu.Lock()
	env.requests[method]++
	if env.failures[method] > 0 {
		env.failures[method]--
		env.mu.Unlock()
		http.Error(w, "bad gateway", http.StatusBadGateway)
		return
	}
	env.mu.Unlock()

	var result any = true
	switch method {
	case "sendMessage":
		var req types.SendMessageRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		msg := sentMessage{ChatID: req.ChatID, Text: req.Text}
		if req.ReplyMarkup != nil {
			for _, row := range req.ReplyMarkup.InlineKeyboard {
				msg.Buttons = append(msg.Buttons, row...)
			}
		}
		env.mu.Lock()
		env.messageID++
		msg.MessageID = env.messageID
		env.sent = append(env.sent, msg)
		result = types.Message{MessageID: env.messageID, Chat: types.Chat{ID: req.ChatID}}
		env.mu.Unlock()
	case "answerCallbackQuery":
		var req types.AnswerCallbackRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		env.mu.Lock()
		env.answered = append(env.answered, req)
		env.mu.Unlock()
	}

	raw, _ := json.Marshal(result)
	_ = json.NewEncoder(w).Encode(types.APIResponse{OK: true, Result: raw})
}

// SetMockAPIFailures makes the next n calls of a Bot API method fail.
func (env *TestEnvironment) SetMockAPIFailures(method string, n int) {
	env.mu.Lock()
	defer env.mu.Unlock()
	env.failures[method] = n
}

func (env *TestEnvironment) CountMockAPIRequests(method string) int {
	env.mu.Lock()
	defer env.mu.Unlock()
	return env.requests[method]
}

func (env *TestEnvironment) SentMessages() []sentMessage {
	env.mu.Lock()
	defer env.mu.Unlock()
	return append([]sentMessage(nil), env.sent...)
}

func (env *TestEnvironment) LastMessage() sentMessage {
	sent := env.SentMessages()
	require.NotEmpty(env.t, sent, "no message was sent")
	return sent[len(sent)-1]
}

func (env *TestEnvironment) Answered() []types.AnswerCallbackRequest {
	env.mu.Lock()
	defer env.mu.Unlock()
	return append([]types.AnswerCallbackRequest(nil), env.answered...)
}

// Deliver runs an update through the same normalization the webhook uses and
// handles it synchronously. It reports whether the update produced an event.
func (env *TestEnvironment) Deliver(u *types.Update) bool {
	ev, ok := telegram.ToEvent(u, time.Now())
	if !ok {
		return false
	}
	env.engine.Handle(context.Background(), ev)
	return true
}

func (env *TestEnvironment) nextUpdateID() int64 {
	env.mu.Lock()
	defer env.mu.Unlock()
	env.updateID++
	return env.updateID
}

func groupChat(chatID int64) types.Chat {
	return types.Chat{ID: chatID, Type: string(models.ChatTypeSupergroup), Title: "営業部"}
}
