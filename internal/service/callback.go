package service

import (
	"strings"

	"chatflow/pkg/telegram/types"
)

// Callback token prefixes. A token is prefix and arguments joined by ':'
// and must stay within the platform's 64-byte callback_data limit.
const (
	cbTaskDeadline    = "td"
	cbTaskComplete    = "tc"
	cbMeetingFormat   = "mf"
	cbMeetingReminder = "mr"
	cbDraftPost       = "dp"
	cbDraftEdit       = "de"
	cbDraftDiscard    = "dd"
	cbRecurringDone   = "rc"
	cbRegister        = "reg"
)

// Deadline choices carried by td: tokens.
const (
	choiceToday    = "today"
	choiceTomorrow = "tomorrow"
	choice3Days    = "3days"
	choiceCustom   = "custom"
	choiceDecline  = "decline"
)

const (
	formatOnline  = "online"
	formatOffline = "offline"
	reminderNone  = "none"
)

func callbackData(prefix string, args ...string) string {
	return strings.Join(append([]string{prefix}, args...), ":")
}

func parseCallback(data string) (string, []string) {
	parts := strings.Split(data, ":")
	return parts[0], parts[1:]
}

func button(text, prefix string, args ...string) types.InlineKeyboardButton {
	return types.InlineKeyboardButton{Text: text, CallbackData: callbackData(prefix, args...)}
}

func row(buttons ...types.InlineKeyboardButton) []types.InlineKeyboardButton {
	return buttons
}

func deadlineKeyboard(taskID string) [][]types.InlineKeyboardButton {
	return [][]types.InlineKeyboardButton{
		row(
			button("今日中", cbTaskDeadline, taskID, choiceToday),
			button("明日中", cbTaskDeadline, taskID, choiceTomorrow),
			button("3日後", cbTaskDeadline, taskID, choice3Days),
		),
		row(
			button("日付を指定", cbTaskDeadline, taskID, choiceCustom),
			button("辞退", cbTaskDeadline, taskID, choiceDecline),
		),
	}
}

func completeKeyboard(taskID string) [][]types.InlineKeyboardButton {
	return [][]types.InlineKeyboardButton{row(button("✅ 完了", cbTaskComplete, taskID))}
}

func meetingFormatKeyboard(key string) [][]types.InlineKeyboardButton {
	return [][]types.InlineKeyboardButton{row(
		button("オンライン", cbMeetingFormat, key, formatOnline),
		button("対面", cbMeetingFormat, key, formatOffline),
	)}
}

func draftKeyboard(draftID string) [][]types.InlineKeyboardButton {
	return [][]types.InlineKeyboardButton{row(
		button("投稿", cbDraftPost, draftID),
		button("編集", cbDraftEdit, draftID),
		button("破棄", cbDraftDiscard, draftID),
	)}
}
