package integration_test

import (
	"context"
	"strings"
	"testing"

	"chatflow/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const teamChatID int64 = -100777

func TestRegistrationAndTaskLifecycle(t *testing.T) {
	env := NewTestEnvironment(t)
	ctx := context.Background()
	db := env.Database()

	// An unregistered group asks for its id and gets a registration button.
	require.True(t, env.Deliver(env.TextUpdate(teamChatID, bossUser, "/chatid@"+testBotUsername)))
	prompt := env.LastMessage()
	assert.Equal(t, teamChatID, prompt.ChatID)
	assert.Contains(t, prompt.Text, "-100777")
	assert.Contains(t, prompt.Text, "未登録")
	require.Equal(t, "reg:-100777", callbackOf(prompt, "このチャットを登録"))

	require.True(t, env.Deliver(env.ClickUpdate(teamChatID, bossUser, prompt, "reg:-100777")))
	chat, err := db.GetChat(ctx, teamChatID)
	require.NoError(t, err)
	require.NotNil(t, chat)
	assert.Equal(t, testTenantID, chat.TenantID)
	assert.Equal(t, bossUser.ID, chat.ResponsibleUserID)
	assert.Equal(t, "このチャットを登録しました。", env.LastMessage().Text)
	require.Len(t, env.Answered(), 1)
	assert.Equal(t, 1, env.CountMockAPIRequests("editMessageReplyMarkup"))

	// A task request creates the task and asks the assignee for a deadline.
	taskUpdate := env.TextUpdate(teamChatID, bossUser, "タスク @sam 資料作成", "sam")
	require.Equal(t, 4, taskUpdate.Message.Entities[0].Offset)
	require.True(t, env.Deliver(taskUpdate))

	tasks, err := db.OpenTasks(ctx, teamChatID)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	task := tasks[0]
	assert.Equal(t, "資料作成", task.Title)
	assert.Equal(t, models.TaskPendingAcceptance, task.Status)

	deadlinePrompt := env.LastMessage()
	assert.Contains(t, deadlinePrompt.Text, "資料作成")
	today := callbackOf(deadlinePrompt, "今日中")
	require.True(t, strings.HasPrefix(today, "td:"+task.ID+":"), today)

	// Telegram redelivers the same update; nothing new happens.
	sentBefore := len(env.SentMessages())
	require.True(t, env.Deliver(taskUpdate))
	tasks, err = db.OpenTasks(ctx, teamChatID)
	require.NoError(t, err)
	assert.Len(t, tasks, 1)
	assert.Len(t, env.SentMessages(), sentBefore)

	// The assignee accepts and later completes the task.
	require.True(t, env.Deliver(env.ClickUpdate(teamChatID, assigneeUser, deadlinePrompt, today)))
	got, err := db.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskInProgress, got.Status)
	require.NotNil(t, got.DueAt)

	completePrompt := env.LastMessage()
	done := callbackOf(completePrompt, "✅ 完了")
	require.Equal(t, "tc:"+task.ID, done)

	require.True(t, env.Deliver(env.ClickUpdate(teamChatID, assigneeUser, completePrompt, done)))
	got, err = db.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskCompleted, got.Status)

	tasks, err = db.OpenTasks(ctx, teamChatID)
	require.NoError(t, err)
	assert.Empty(t, tasks)
}

func TestRefusedClickOnSharedPrompt(t *testing.T) {
	env := NewTestEnvironment(t)
	ctx := context.Background()
	db := env.Database()

	require.True(t, env.Deliver(env.TextUpdate(teamChatID, bossUser, "/chatid")))
	prompt := env.LastMessage()
	require.True(t, env.Deliver(env.ClickUpdate(teamChatID, bossUser, prompt, callbackOf(prompt, "このチャットを登録"))))

	require.True(t, env.Deliver(env.TextUpdate(teamChatID, bossUser, "タスク @sam 議事録", "sam")))
	deadlinePrompt := env.LastMessage()
	tomorrow := callbackOf(deadlinePrompt, "明日中")
	require.NotEmpty(t, tomorrow)

	// The requester is not the assignee; the same button then works for sam.
	stranger := bossUser
	stranger.ID, stranger.Username = 9, "eve"
	require.True(t, env.Deliver(env.ClickUpdate(teamChatID, stranger, deadlinePrompt, tomorrow)))
	require.True(t, env.Deliver(env.ClickUpdate(teamChatID, assigneeUser, deadlinePrompt, tomorrow)))

	tasks, err := db.OpenTasks(ctx, teamChatID)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, models.TaskInProgress, tasks[0].Status)
}

func TestUnregisteredChatIgnoresKeywords(t *testing.T) {
	env := NewTestEnvironment(t)

	require.True(t, env.Deliver(env.TextUpdate(-100888, bossUser, "タスク @sam 見積もり", "sam")))

	tasks, err := env.Database().OpenTasks(context.Background(), -100888)
	require.NoError(t, err)
	assert.Empty(t, tasks)
	assert.Zero(t, env.CountMockAPIRequests("sendMessage"))
}

func TestBotMessagesAreIgnored(t *testing.T) {
	env := NewTestEnvironment(t)
	assert.False(t, env.Deliver(env.TextUpdate(teamChatID, botUser, "/chatid")))
	assert.Empty(t, env.SentMessages())
}

func TestReplySurvivesTransientBotAPIFailures(t *testing.T) {
	env := NewTestEnvironment(t)
	env.SetMockAPIFailures("sendMessage", 2)

	require.True(t, env.Deliver(env.TextUpdate(teamChatID, bossUser, "/chatid")))

	assert.Equal(t, 3, env.CountMockAPIRequests("sendMessage"))
	require.Len(t, env.SentMessages(), 1)
	assert.Contains(t, env.LastMessage().Text, "未登録")
}
