package integration_test

import (
	"fmt"
	"time"
	"unicode/utf16"

	"chatflow/pkg/telegram/types"
)

// Participants of the scenarios.
var (
	bossUser     = types.User{ID: 7, FirstName: "Taro", Username: "taro"}
	assigneeUser = types.User{ID: 8, FirstName: "Sam", Username: "sam"}
	botUser      = types.User{ID: 1, IsBot: true, FirstName: "Flow", Username: testBotUsername}
)

// TextUpdate builds a group text message. Every @handle in text gets a
// mention entity with offsets in UTF-16 code units, as Telegram sends them.
func (env *TestEnvironment) TextUpdate(chatID int64, from types.User, text string, handles ...string) *types.Update {
	id := env.nextUpdateID()
	return &types.Update{
		UpdateID: id,
		Message: &types.Message{
			MessageID: id,
			From:      &from,
			Chat:      groupChat(chatID),
			Date:      time.Now().Unix(),
			Text:      text,
			Entities:  mentionEntities(text, handles...),
		},
	}
}

// ClickUpdate presses a button on a message the bot sent.
func (env *TestEnvironment) ClickUpdate(chatID int64, from types.User, prompt sentMessage, data string) *types.Update {
	id := env.nextUpdateID()
	return &types.Update{
		UpdateID: id,
		CallbackQuery: &types.CallbackQuery{
			ID:   fmt.Sprintf("cb-%d", id),
			From: from,
			Message: &types.Message{
				MessageID: prompt.MessageID,
				From:      &botUser,
				Chat:      groupChat(chatID),
				Text:      prompt.Text,
			},
			Data: data,
		},
	}
}

func mentionEntities(text string, handles ...string) []types.MessageEntity {
	var out []types.MessageEntity
	runes := []rune(text)
	for _, h := range handles {
		needle := []rune("@" + h)
		for i := 0; i+len(needle) <= len(runes); i++ {
			if string(runes[i:i+len(needle)]) != string(needle) {
				continue
			}
			out = append(out, types.MessageEntity{
				Type:   "mention",
				Offset: len(utf16.Encode(runes[:i])),
				Length: len(utf16.Encode(needle)),
			})
			break
		}
	}
	return out
}

// callbackOf returns the data of the button labelled text.
func callbackOf(msg sentMessage, text string) string {
	for _, b := range msg.Buttons {
		if b.Text == text {
			return b.CallbackData
		}
	}
	return ""
}
