package telegram

import (
	"testing"
	"time"

	"chatflow/internal/models"
	"chatflow/pkg/telegram/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var received = time.Date(2025, time.March, 10, 1, 0, 0, 0, time.UTC)

func TestToEvent_TextWithMentions(t *testing.T) {
	// "😀" is two UTF-16 units, which shifts every later offset.
	text := "😀 @flow_bot タスク 山田さん 資料作成"
	u := &types.Update{Message: &types.Message{
		MessageID: 10,
		From:      &types.User{ID: 7, FirstName: "太郎", Username: "taro"},
		Chat:      types.Chat{ID: -100, Type: "supergroup", Title: "営業部"},
		Text:      text,
		Entities: []types.MessageEntity{
			{Type: "mention", Offset: 3, Length: 9},
			{Type: "text_mention", Offset: 17, Length: 4, User: &types.User{ID: 99, FirstName: "山田"}},
		},
	}}

	ev, ok := ToEvent(u, received)
	require.True(t, ok)
	assert.Equal(t, models.EventText, ev.Kind)
	assert.Equal(t, int64(-100), ev.ChatID)
	assert.Equal(t, models.ChatTypeSupergroup, ev.ChatType)
	assert.Equal(t, "taro", ev.SenderUsername)
	assert.Equal(t, "太郎", ev.SenderName)
	require.Len(t, ev.Mentions, 2)
	assert.Equal(t, "flow_bot", ev.Mentions[0].Username)
	assert.Equal(t, int64(99), ev.Mentions[1].UserID)
	assert.Equal(t, "山田さん", ev.Mentions[1].Name)
}

func TestToEvent_Callback(t *testing.T) {
	u := &types.Update{CallbackQuery: &types.CallbackQuery{
		ID:      "cb-1",
		From:    types.User{ID: 7, FirstName: "太郎"},
		Data:    "td:abc:tomorrow",
		Message: &types.Message{MessageID: 55, Chat: types.Chat{ID: 3, Type: "private"}},
	}}

	ev, ok := ToEvent(u, received)
	require.True(t, ok)
	assert.Equal(t, models.EventCallback, ev.Kind)
	assert.Equal(t, "td:abc:tomorrow", ev.CallbackData)
	assert.Equal(t, int64(55), ev.MessageID)
	assert.True(t, ev.IsPrivate())
}

func TestToEvent_PhotoUsesLargestSize(t *testing.T) {
	u := &types.Update{Message: &types.Message{
		MessageID: 1,
		From:      &types.User{ID: 1},
		Chat:      types.Chat{ID: 1, Type: "private"},
		Caption:   "この画像を説明して",
		Photo:     []types.PhotoSize{{FileID: "small"}, {FileID: "large"}},
	}}
	ev, ok := ToEvent(u, received)
	require.True(t, ok)
	assert.Equal(t, models.EventPhoto, ev.Kind)
	assert.Equal(t, "large", ev.FileID)
	assert.Equal(t, "この画像を説明して", ev.Text)
}

func TestToEvent_ReplyAndVoice(t *testing.T) {
	u := &types.Update{Message: &types.Message{
		MessageID:      2,
		From:           &types.User{ID: 1},
		Chat:           types.Chat{ID: 1, Type: "group"},
		Voice:          &types.Voice{FileID: "v1"},
		ReplyToMessage: &types.Message{MessageID: 1, Text: "元の質問"},
	}}
	ev, ok := ToEvent(u, received)
	require.True(t, ok)
	assert.Equal(t, models.EventVoice, ev.Kind)
	assert.Equal(t, "v1", ev.FileID)
	assert.Equal(t, int64(1), ev.ReplyToMessageID)
	assert.Equal(t, "元の質問", ev.ReplyToText)
}

func TestToEvent_Ignored(t *testing.T) {
	tests := map[string]*types.Update{
		"nil":       nil,
		"edited":    {EditedMessage: &types.Message{Text: "x", From: &types.User{ID: 1}}},
		"bot":       {Message: &types.Message{Text: "x", From: &types.User{ID: 1, IsBot: true}}},
		"no sender": {Message: &types.Message{Text: "x"}},
		"empty":     {Message: &types.Message{From: &types.User{ID: 1}}},
		"empty cb":  {CallbackQuery: &types.CallbackQuery{ID: "c"}},
	}
	for name, u := range tests {
		t.Run(name, func(t *testing.T) {
			_, ok := ToEvent(u, received)
			assert.False(t, ok)
		})
	}
}

func TestMentions_OutOfRangeEntitySkipped(t *testing.T) {
	got := Mentions("@a", []types.MessageEntity{{Type: "mention", Offset: 0, Length: 10}})
	assert.Empty(t, got)
}

func TestStripMention(t *testing.T) {
	assert.Equal(t, "タスク 資料作成", StripMention("@flow_bot タスク 資料作成", "flow_bot"))
	assert.Equal(t, "x", StripMention(" x ", ""))
}
