package telegram

import (
	"strings"
	"time"
	"unicode/utf16"

	"chatflow/internal/models"
	"chatflow/pkg/telegram/types"
)

// ToEvent normalizes a webhook update. Updates the engine has no use for
// (edits, service messages, bot senders) return false.
func ToEvent(u *types.Update, receivedAt time.Time) (models.Event, bool) {
	if u == nil {
		return models.Event{}, false
	}

	if cb := u.CallbackQuery; cb != nil {
		ev := models.Event{
			Kind:           models.EventCallback,
			SenderID:       cb.From.ID,
			SenderUsername: cb.From.Username,
			SenderName:     cb.From.DisplayName(),
			CallbackID:     cb.ID,
			CallbackData:   cb.Data,
			ReceivedAt:     receivedAt,
		}
		if cb.Message != nil {
			ev.ChatID = cb.Message.Chat.ID
			ev.ChatType = models.ChatType(cb.Message.Chat.Type)
			ev.ChatTitle = cb.Message.Chat.Title
			ev.MessageID = cb.Message.MessageID
		}
		return ev, cb.Data != ""
	}

	msg := u.Message
	if msg == nil || msg.From == nil || msg.From.IsBot {
		return models.Event{}, false
	}

	ev := models.Event{
		ChatID:         msg.Chat.ID,
		ChatType:       models.ChatType(msg.Chat.Type),
		ChatTitle:      msg.Chat.Title,
		SenderID:       msg.From.ID,
		SenderUsername: msg.From.Username,
		SenderName:     msg.From.DisplayName(),
		MessageID:      msg.MessageID,
		ReceivedAt:     receivedAt,
	}
	if r := msg.ReplyToMessage; r != nil {
		ev.ReplyToMessageID = r.MessageID
		ev.ReplyToText = r.Text
		if ev.ReplyToText == "" {
			ev.ReplyToText = r.Caption
		}
	}

	switch {
	case len(msg.Photo) > 0:
		ev.Kind = models.EventPhoto
		ev.Text = msg.Caption
		ev.Mentions = Mentions(msg.Caption, msg.CaptionEntities)
		// Sizes are listed smallest first.
		ev.FileID = msg.Photo[len(msg.Photo)-1].FileID
	case msg.Voice != nil:
		ev.Kind = models.EventVoice
		ev.FileID = msg.Voice.FileID
	case msg.Text != "":
		ev.Kind = models.EventText
		ev.Text = msg.Text
		ev.Mentions = Mentions(msg.Text, msg.Entities)
	default:
		return models.Event{}, false
	}
	return ev, true
}

// Mentions extracts @username and text_mention entities. Entity offsets
// count UTF-16 code units, so the text is re-encoded before slicing.
func Mentions(text string, entities []types.MessageEntity) []models.Mention {
	if len(entities) == 0 {
		return nil
	}
	units := utf16.Encode([]rune(text))
	var out []models.Mention
	for _, e := range entities {
		if e.Offset < 0 || e.Length <= 0 || e.Offset+e.Length > len(units) {
			continue
		}
		segment := string(utf16.Decode(units[e.Offset : e.Offset+e.Length]))
		switch e.Type {
		case "mention":
			out = append(out, models.Mention{Username: strings.TrimPrefix(segment, "@")})
		case "text_mention":
			if e.User == nil {
				continue
			}
			out = append(out, models.Mention{
				Username: e.User.Username,
				UserID:   e.User.ID,
				Name:     segment,
			})
		}
	}
	return out
}

// StripMention removes every occurrence of @username from text.
func StripMention(text, username string) string {
	if username == "" {
		return strings.TrimSpace(text)
	}
	return strings.TrimSpace(strings.ReplaceAll(text, "@"+username, ""))
}
