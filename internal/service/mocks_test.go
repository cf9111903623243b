package service

import (
	"context"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"chatflow/internal/ai"
	"chatflow/internal/calendar"
	"chatflow/internal/database"
	"chatflow/internal/models"
	"chatflow/pkg/telegram/types"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// sentMessage is one outbound call recorded by fakeMessenger.
type sentMessage struct {
	ChatID   int64
	Text     string
	Keyboard [][]types.InlineKeyboardButton
}

// fakeMessenger records every outbound call. Set sendErr to fail sends.
type fakeMessenger struct {
	mu       sync.Mutex
	nextID   int64
	sent     []sentMessage
	photos   []sentMessage
	answers  []string
	removed  []int64
	sendErr  error
	failChat map[int64]error
	audio    []byte
}

func newFakeMessenger() *fakeMessenger {
	return &fakeMessenger{nextID: 1000, failChat: make(map[int64]error)}
}

func (m *fakeMessenger) record(chatID int64, text string, kb [][]types.InlineKeyboardButton) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sendErr != nil {
		return 0, m.sendErr
	}
	if err := m.failChat[chatID]; err != nil {
		return 0, err
	}
	m.nextID++
	m.sent = append(m.sent, sentMessage{ChatID: chatID, Text: text, Keyboard: kb})
	return m.nextID, nil
}

func (m *fakeMessenger) SendText(_ context.Context, chatID int64, text string) (int64, error) {
	return m.record(chatID, text, nil)
}

func (m *fakeMessenger) SendWithButtons(_ context.Context, chatID int64, text string, kb [][]types.InlineKeyboardButton) (int64, error) {
	return m.record(chatID, text, kb)
}

func (m *fakeMessenger) RemoveButtons(_ context.Context, _, messageID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.removed = append(m.removed, messageID)
	return nil
}

func (m *fakeMessenger) AnswerCallback(_ context.Context, _ string, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.answers = append(m.answers, text)
	return nil
}

func (m *fakeMessenger) SendPhoto(_ context.Context, chatID int64, _ []byte, caption string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.photos = append(m.photos, sentMessage{ChatID: chatID, Text: caption})
	return 1, nil
}

func (m *fakeMessenger) SendVoice(context.Context, int64, []byte, string) (int64, error) {
	return 1, nil
}

func (m *fakeMessenger) DownloadFile(context.Context, string) ([]byte, error) {
	return m.audio, nil
}

func (m *fakeMessenger) GetMe(context.Context) (*types.User, error) {
	return &types.User{ID: 1, IsBot: true, Username: "flowbot"}, nil
}

func (m *fakeMessenger) SetWebhook(context.Context, string, string) error { return nil }

func (m *fakeMessenger) messages() []sentMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]sentMessage(nil), m.sent...)
}

func (m *fakeMessenger) last() sentMessage {
	msgs := m.messages()
	if len(msgs) == 0 {
		return sentMessage{}
	}
	return msgs[len(msgs)-1]
}

func (m *fakeMessenger) lastAnswer() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.answers) == 0 {
		return ""
	}
	return m.answers[len(m.answers)-1]
}

func (m *fakeMessenger) reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = nil
	m.answers = nil
	m.removed = nil
}

// callbackOf returns the callback data of the first button whose label
// contains label in the last message carrying a keyboard.
func (m *fakeMessenger) callbackOf(label string) string {
	msgs := m.messages()
	for i := len(msgs) - 1; i >= 0; i-- {
		for _, r := range msgs[i].Keyboard {
			for _, b := range r {
				if strings.Contains(b.Text, label) {
					return b.CallbackData
				}
			}
		}
	}
	return ""
}

// mockProvider is a testify mock of ai.Provider.
type mockProvider struct {
	mock.Mock
}

func (m *mockProvider) Name() string { return "mock" }

func (m *mockProvider) Complete(ctx context.Context, req *ai.Request) (*ai.Response, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*ai.Response), args.Error(1)
}

// mockImageProvider adds image generation and transcription.
type mockImageProvider struct {
	mockProvider
}

func (m *mockImageProvider) GenerateImage(ctx context.Context, prompt string) ([]byte, error) {
	args := m.Called(ctx, prompt)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]byte), args.Error(1)
}

func (m *mockImageProvider) Transcribe(ctx context.Context, audio []byte, mimeType string) (string, error) {
	args := m.Called(ctx, audio, mimeType)
	return args.String(0), args.Error(1)
}

type mockSearcher struct {
	mock.Mock
}

func (m *mockSearcher) Search(ctx context.Context, query string, count int) ([]ai.SearchResult, error) {
	args := m.Called(ctx, query, count)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]ai.SearchResult), args.Error(1)
}

type mockCalendar struct {
	mock.Mock
}

func (m *mockCalendar) CreateEvent(ctx context.Context, calendarID string, req calendar.EventRequest) (*calendar.Event, error) {
	args := m.Called(ctx, calendarID, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*calendar.Event), args.Error(1)
}

// failingDedup always errors so fail-open behaviour can be observed.
type failingDedup struct{}

func (failingDedup) MarkIfNew(context.Context, string) (bool, error) { return false, assertErr }
func (failingDedup) Close() error                                     { return nil }

var assertErr = &testError{"store down"}

type testError struct{ msg string }

func (e *testError) Error() string { return e.msg }

const (
	testChatID    int64 = -1001234567890
	testBossID    int64 = 11
	testAssignee  int64 = 22
	testStranger  int64 = 33
	testBotName         = "flowbot"
	testTenantID        = "acme"
	testPrivateID int64 = testBossID
)

var tokyo = mustZone("Asia/Tokyo")

func mustZone(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		panic(err)
	}
	return loc
}

// clock is a settable time source shared by engine and schedulers.
type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = t
}

type harness struct {
	t         *testing.T
	db        *database.Database
	messenger *fakeMessenger
	provider  *mockImageProvider
	calendar  *mockCalendar
	engine    *Engine
	clock     *clock
	msgID     int64
}

type harnessOption func(*Deps)

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()
	db, err := database.New(filepath.Join(t.TempDir(), "engine.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	logger := logrus.New()
	logger.SetLevel(logrus.FatalLevel)

	h := &harness{
		t:         t,
		db:        db,
		messenger: newFakeMessenger(),
		provider:  &mockImageProvider{},
		calendar:  &mockCalendar{},
		clock:     &clock{t: time.Date(2026, 2, 11, 10, 0, 0, 0, tokyo)}, // Wednesday
		msgID:     100,
	}
	deps := Deps{
		Store:     db,
		Messenger: h.messenger,
		AI:        AI{Provider: h.provider},
		Calendar:  h.calendar,
	}
	for _, o := range opts {
		o(&deps)
	}
	h.engine = NewEngine(deps, Options{
		DefaultTenantID: testTenantID,
		Zone:            tokyo,
		BotUsername:     testBotName,
	}, logger)
	h.engine.now = h.clock.Now

	require.NoError(t, db.SaveChat(context.Background(), &models.ChatContext{
		ChatID:   testChatID,
		ChatType: models.ChatTypeSupergroup,
		Title:    "Team",
		TenantID: testTenantID,
	}))
	return h
}

func (h *harness) nextMsgID() int64 {
	h.msgID++
	return h.msgID
}

func (h *harness) event(sender int64, username, text string, mentions ...models.Mention) models.Event {
	return models.Event{
		Kind:           models.EventText,
		ChatID:         testChatID,
		ChatType:       models.ChatTypeSupergroup,
		SenderID:       sender,
		SenderUsername: username,
		MessageID:      h.nextMsgID(),
		Text:           text,
		Mentions:       mentions,
	}
}

// say delivers a group text message.
func (h *harness) say(sender int64, username, text string, mentions ...models.Mention) {
	h.engine.Handle(context.Background(), h.event(sender, username, text, mentions...))
}

// sayPrivately delivers a private message; a private chat id equals the user id.
func (h *harness) sayPrivately(sender int64, text string) {
	h.engine.Handle(context.Background(), models.Event{
		Kind:      models.EventText,
		ChatID:    sender,
		ChatType:  models.ChatTypePrivate,
		SenderID:  sender,
		MessageID: h.nextMsgID(),
		Text:      text,
	})
}

// click delivers a button callback from the given chat.
func (h *harness) click(chatID, sender int64, username, data string) models.Event {
	ev := models.Event{
		Kind:           models.EventCallback,
		ChatID:         chatID,
		ChatType:       models.ChatTypeSupergroup,
		SenderID:       sender,
		SenderUsername: username,
		MessageID:      h.nextMsgID(),
		CallbackData:   data,
	}
	ev.CallbackID = "cb-" + strconv.FormatInt(ev.MessageID, 10)
	if chatID == sender {
		ev.ChatType = models.ChatTypePrivate
	}
	h.engine.Handle(context.Background(), ev)
	return ev
}

func mention(username string, id int64) models.Mention {
	return models.Mention{Username: username, UserID: id}
}

func textResponse(text string) *ai.Response {
	return &ai.Response{Text: text}
}
