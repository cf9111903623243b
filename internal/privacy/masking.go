// Package privacy masks identifiers and message text before they reach logs.
package privacy

import (
	"strconv"
	"strings"
	"unicode/utf8"

	"chatflow/internal/constants"
)

// MaskChatID keeps the sign and the last digits of a chat id.
// Example: -1001234567890 -> "-*********7890"
func MaskChatID(chatID int64) string {
	s := strconv.FormatInt(chatID, 10)
	if strings.HasPrefix(s, "-") {
		return "-" + maskString(s[1:], constants.DefaultUserIDMaskLength)
	}
	return maskString(s, constants.DefaultUserIDMaskLength)
}

// MaskUserID masks a numeric user id.
// Example: 123456789 -> "*****6789"
func MaskUserID(userID int64) string {
	if userID == 0 {
		return ""
	}
	return maskString(strconv.FormatInt(userID, 10), constants.DefaultUserIDMaskLength)
}

// MaskUsername keeps the first character of a handle.
func MaskUsername(username string) string {
	username = strings.TrimPrefix(username, "@")
	if username == "" {
		return ""
	}
	r, size := utf8.DecodeRuneInString(username)
	return "@" + string(r) + strings.Repeat("*", utf8.RuneCountInString(username[size:]))
}

// MaskText hides content but reports its length in characters.
func MaskText(text string) string {
	if text == "" {
		return ""
	}
	return "[hidden:" + strconv.Itoa(utf8.RuneCountInString(text)) + "]"
}

// MaskToken shows only a short prefix of secrets such as bot tokens.
func MaskToken(token string) string {
	if token == "" {
		return ""
	}
	if len(token) <= 8 {
		return strings.Repeat("*", len(token))
	}
	return token[:4] + strings.Repeat("*", len(token)-4)
}

func maskString(s string, keepLast int) string {
	if s == "" {
		return ""
	}
	if len(s) <= keepLast {
		return strings.Repeat("*", len(s))
	}
	return strings.Repeat("*", len(s)-keepLast) + s[len(s)-keepLast:]
}

// MaskSensitiveFields applies the matching mask to well-known log fields.
func MaskSensitiveFields(fields map[string]interface{}) map[string]interface{} {
	if fields == nil {
		return nil
	}

	masked := make(map[string]interface{}, len(fields))
	for k, v := range fields {
		switch k {
		case "chat_id", "chatId":
			if id, ok := v.(int64); ok {
				masked[k] = MaskChatID(id)
				continue
			}
		case "user_id", "userId", "sender_id", "assignee_id", "owner_id":
			if id, ok := v.(int64); ok {
				masked[k] = MaskUserID(id)
				continue
			}
		case "username", "sender":
			if s, ok := v.(string); ok {
				masked[k] = MaskUsername(s)
				continue
			}
		case "text", "content", "message", "draft":
			if s, ok := v.(string); ok {
				masked[k] = MaskText(s)
				continue
			}
		case "token", "bot_token", "api_key", "secret":
			if s, ok := v.(string); ok {
				masked[k] = MaskToken(s)
				continue
			}
		}
		masked[k] = v
	}
	return masked
}
