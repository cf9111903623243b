package service

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	apperrors "chatflow/internal/errors"
	"chatflow/internal/models"
	"chatflow/internal/validation"
	"chatflow/pkg/telegram/types"

	"github.com/sirupsen/logrus"
)

// replyChatID answers the chat-id command, which works before registration.
func (e *Engine) replyChatID(ctx context.Context, ev models.Event) {
	chat, err := e.store.GetChat(ctx, ev.ChatID)
	if err != nil {
		e.fail(ctx, ev.ChatID, "look up chat", apperrors.NewDatabaseError("get chat", err))
		return
	}

	var b strings.Builder
	fmt.Fprintf(&b, "チャットID: %d\n種類: %s", ev.ChatID, ev.ChatType)
	if ev.ChatTitle != "" {
		fmt.Fprintf(&b, "\nタイトル: %s", ev.ChatTitle)
	}
	if chat != nil {
		fmt.Fprintf(&b, "\n状態: 登録済み（テナント %s）", chat.TenantID)
		e.send(ctx, ev.ChatID, b.String())
		return
	}
	b.WriteString("\n状態: 未登録")

	if !ev.ChatType.IsGroup() {
		e.send(ctx, ev.ChatID, b.String())
		return
	}
	keyboard := [][]types.InlineKeyboardButton{row(
		button("このチャットを登録", cbRegister, strconv.FormatInt(ev.ChatID, 10)),
	)}
	if _, err := e.messenger.SendWithButtons(ctx, ev.ChatID, b.String(), keyboard); err != nil {
		e.logger.WithError(err).Warn("Failed to send registration prompt")
	}
}

// onRegister binds a group chat to the default tenant.
func (e *Engine) onRegister(ctx context.Context, ev models.Event, args []string) string {
	chatID, err := strconv.ParseInt(args[0], 10, 64)
	if err == nil {
		err = validation.ValidateChatID(chatID)
	}
	if err != nil || chatID != ev.ChatID || !ev.ChatType.IsGroup() {
		return msgNotAllowed
	}

	existing, err := e.store.GetChat(ctx, chatID)
	if err != nil {
		e.fail(ctx, chatID, "look up chat", apperrors.NewDatabaseError("get chat", err))
		return ""
	}
	if existing != nil {
		e.clearButtons(ctx, ev)
		return msgChatAlreadyExists
	}

	chat := &models.ChatContext{
		ChatID:            chatID,
		ChatType:          ev.ChatType,
		Title:             ev.ChatTitle,
		TenantID:          e.opts.DefaultTenantID,
		ResponsibleUserID: ev.SenderID,
		RegisteredAt:      e.now().UTC(),
	}
	if err := e.store.SaveChat(ctx, chat); err != nil {
		e.fail(ctx, chatID, "register chat", apperrors.NewDatabaseError("save chat", err))
		return ""
	}

	e.audit(ctx, chatID, ev.SenderID, "chat.register", "chat", strconv.FormatInt(chatID, 10), map[string]any{
		"title":  chat.Title,
		"tenant": chat.TenantID,
	})
	e.logger.WithFields(logrus.Fields{
		LogFieldChatID:   SanitizeChatID(ctx, chatID),
		LogFieldTenantID: chat.TenantID,
	}).Info("Registered chat")

	e.clearButtons(ctx, ev)
	e.send(ctx, chatID, msgChatRegistered)
	return msgChatRegistered
}
