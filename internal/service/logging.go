package service

import (
	"context"

	"chatflow/internal/models"
	"chatflow/internal/privacy"

	"github.com/sirupsen/logrus"
)

// ContextKey is a package-local type to prevent context key collisions
// See staticcheck SA1029 guidance
type ContextKey string

// VerboseContextKey is the strongly-typed context key for verbose logging flag
const VerboseContextKey ContextKey = "verbose"

// WithVerbose marks ctx so that ids and text are logged unmasked.
func WithVerbose(ctx context.Context, verbose bool) context.Context {
	return context.WithValue(ctx, VerboseContextKey, verbose)
}

// IsVerboseLogging checks if verbose logging is enabled from context
func IsVerboseLogging(ctx context.Context) bool {
	if verbose, ok := ctx.Value(VerboseContextKey).(bool); ok {
		return verbose
	}
	return false
}

// SanitizeChatID masks a chat id unless verbose logging is on.
func SanitizeChatID(ctx context.Context, chatID int64) any {
	if IsVerboseLogging(ctx) {
		return chatID
	}
	return privacy.MaskChatID(chatID)
}

// SanitizeUserID masks a user id unless verbose logging is on.
func SanitizeUserID(ctx context.Context, userID int64) any {
	if IsVerboseLogging(ctx) {
		return userID
	}
	return privacy.MaskUserID(userID)
}

// SanitizeContent completely hides message content for privacy
func SanitizeContent(ctx context.Context, content string) string {
	if content == "" || IsVerboseLogging(ctx) {
		return content
	}
	return privacy.MaskText(content)
}

// eventFields is the standard field set for one inbound event.
func eventFields(ctx context.Context, ev models.Event) logrus.Fields {
	fields := logrus.Fields{
		LogFieldChatID:    SanitizeChatID(ctx, ev.ChatID),
		LogFieldUserID:    SanitizeUserID(ctx, ev.SenderID),
		LogFieldMessageID: ev.MessageID,
		LogFieldEventKind: string(ev.Kind),
		LogFieldChatType:  string(ev.ChatType),
	}
	if IsVerboseLogging(ctx) && ev.Text != "" {
		fields[LogFieldText] = ev.Text
	}
	return fields
}

// LogEventProcessing logs inbound event handling with appropriate privacy controls
func LogEventProcessing(ctx context.Context, logger *logrus.Logger, ev models.Event) {
	logger.WithFields(eventFields(ctx, ev)).Debug("Processing event")
}
