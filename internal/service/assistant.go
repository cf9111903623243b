package service

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"chatflow/internal/ai"
	"chatflow/internal/constants"
	apperrors "chatflow/internal/errors"
	"chatflow/internal/features"
	"chatflow/internal/models"
	"chatflow/internal/recurrence"
	"chatflow/internal/timeparse"

	"github.com/sirupsen/logrus"
)

const (
	draftSystemPrompt = "あなたはチームのアシスタントです。依頼に沿って、そのままチャットに投稿できる日本語の文章を作成してください。" +
		"Markdown の装飾は使わず、前置きや締めの挨拶は不要です。"
	reminderSystemPrompt = "あなたはリマインダー設定アシスタントです。ユーザーの依頼から日時と内容を読み取り、set_reminder を呼び出してください。" +
		"相対的な日時は get_current_time で現在時刻を確認してから計算してください。remind_at はタイムゾーン付きの ISO 8601 形式で指定します。"
	replySystemPrompt = "あなたはチームのアシスタントです。引用されたメッセージへの丁寧で簡潔な返信文を日本語で作成してください。" +
		"Markdown の装飾や前置きは不要です。"
	searchContextHeader = "\n\n以下は最新のウェブ検索結果です。必要に応じて参考にしてください。\n"

	toolGetCurrentTime = "get_current_time"
	toolSetReminder    = "set_reminder"
)

var (
	timeQueryPattern = regexp.MustCompile(`(今|いま)(は)?(何時|なんじ)|現在(の)?時刻|何時ですか|今日は何日|今日の日付|何曜日`)
	reminderPattern  = regexp.MustCompile(`リマインド|リマインダー|思い出させて|知らせて|通知して|アラーム`)
)

var reminderTools = []ai.Tool{
	{
		Name:        toolGetCurrentTime,
		Description: "現在の日時をタイムゾーン付きで返します。",
		Parameters:  map[string]any{"type": "object", "properties": map[string]any{}},
	},
	{
		Name:        toolSetReminder,
		Description: "指定した日時にチャットへリマインドを送ります。",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"message":         map[string]any{"type": "string", "description": "リマインドする内容"},
				"remind_at":       map[string]any{"type": "string", "description": "ISO 8601 の日時"},
				"repeat_type":     map[string]any{"type": "string", "enum": []string{"none", "daily", "weekly", "monthly"}},
				"repeat_days":     map[string]any{"type": "array", "items": map[string]any{"type": "integer", "minimum": 0, "maximum": 6}},
				"repeat_end_date": map[string]any{"type": "string", "description": "繰り返しの終了日 (YYYY-MM-DD)"},
			},
			"required": []string{"message", "remind_at"},
		},
	},
}

type setReminderArgs struct {
	Message       string `json:"message"`
	RemindAt      string `json:"remind_at"`
	RepeatType    string `json:"repeat_type"`
	RepeatDays    []int  `json:"repeat_days"`
	RepeatEndDate string `json:"repeat_end_date"`
}

func (e *Engine) handleAI(ctx context.Context, r *request) {
	query, _ := aiQuery(r.text)
	e.answerAssistant(ctx, r, query)
}

func (e *Engine) handleMention(ctx context.Context, r *request) {
	query := stripWords(timeparse.Normalize(r.text), "@"+e.opts.BotUsername)
	e.answerAssistant(ctx, r, query)
}

// answerAssistant routes a request to the time answer, the reminder tool
// loop or drafting, in that order.
func (e *Engine) answerAssistant(ctx context.Context, r *request, query string) {
	if query == "" {
		e.send(ctx, r.ev.ChatID, msgAIEmpty)
		return
	}
	switch {
	case timeQueryPattern.MatchString(query):
		e.send(ctx, r.ev.ChatID, formatNow(e.now(), r.loc))
	case reminderPattern.MatchString(query):
		e.setReminderWithTools(ctx, r, query)
	default:
		e.draftWithAI(ctx, r, query)
	}
}

func formatNow(now time.Time, loc *time.Location) string {
	local := now.In(loc)
	return fmt.Sprintf("現在は %d年%d月%d日(%s) %d:%02d です。",
		local.Year(), local.Month(), local.Day(), weekdayKanji(local.Weekday()), local.Hour(), local.Minute())
}

// setReminderWithTools runs the bounded function-calling loop. A model that
// never calls set_reminder is a soft failure.
func (e *Engine) setReminderWithTools(ctx context.Context, r *request, query string) {
	if e.ai.Provider == nil {
		e.send(ctx, r.ev.ChatID, msgReminderNotParsed)
		return
	}

	messages := ai.UserText(query)
	for round := 1; round <= e.opts.MaxToolRounds; round++ {
		resp, err := e.ai.Provider.Complete(ctx, &ai.Request{
			System:      reminderSystemPrompt,
			Messages:    messages,
			Temperature: 0,
			MaxTokens:   e.opts.MaxTokens,
			Tools:       reminderTools,
		})
		if err != nil {
			e.fail(ctx, r.ev.ChatID, "call ai provider", err)
			return
		}
		if !resp.HasToolCall() {
			e.logger.WithField(LogFieldRound, round).Debug("Model returned no tool call")
			break
		}

		messages = append(messages, ai.Message{Role: ai.RoleAssistant, Content: resp.Text, ToolCalls: resp.ToolCalls})
		for _, call := range resp.ToolCalls {
			var result string
			switch call.Name {
			case toolGetCurrentTime:
				result = e.now().In(r.loc).Format(time.RFC3339) + " (" + r.loc.String() + ")"
			case toolSetReminder:
				rem, err := e.reminderFromCall(r, call)
				if err != nil {
					result = "error: " + err.Error()
					break
				}
				e.saveReminder(ctx, r, rem)
				return
			default:
				result = "error: unknown tool " + call.Name
			}
			messages = append(messages, ai.Message{Role: ai.RoleTool, ToolCallID: call.ID, Name: call.Name, Content: result})
		}
	}
	e.send(ctx, r.ev.ChatID, msgReminderNotParsed)
}

func (e *Engine) reminderFromCall(r *request, call ai.ToolCall) (*models.Reminder, error) {
	var args setReminderArgs
	if err := call.Decode(&args); err != nil {
		return nil, err
	}
	if strings.TrimSpace(args.Message) == "" {
		return nil, errors.New("message is required")
	}

	now := e.now()
	at, err := parseToolTime(args.RemindAt, now, r.loc)
	if err != nil {
		return nil, err
	}
	if !at.After(now) {
		return nil, fmt.Errorf("remind_at %s is not in the future", args.RemindAt)
	}

	rem := &models.Reminder{
		ChatID:     r.ev.ChatID,
		UserID:     r.ev.SenderID,
		Message:    strings.TrimSpace(args.Message),
		RemindAt:   at,
		Status:     models.ReminderPending,
		RepeatType: models.RepeatNone,
	}
	switch models.RepeatType(args.RepeatType) {
	case "", models.RepeatNone:
	case models.RepeatDaily, models.RepeatWeekly, models.RepeatMonthly:
		rem.RepeatType = models.RepeatType(args.RepeatType)
	default:
		return nil, fmt.Errorf("unknown repeat_type %q", args.RepeatType)
	}
	if rem.RepeatType == models.RepeatMonthly {
		rem.RepeatDayOfMonth = at.In(r.loc).Day()
	}
	for _, d := range args.RepeatDays {
		if d < 0 || d > 6 {
			return nil, fmt.Errorf("repeat_days out of range: %d", d)
		}
		rem.RepeatDays = append(rem.RepeatDays, time.Weekday(d))
	}
	if args.RepeatEndDate != "" {
		end, err := time.ParseInLocation("2006-01-02", args.RepeatEndDate, r.loc)
		if err != nil {
			return nil, fmt.Errorf("invalid repeat_end_date: %w", err)
		}
		rem.RepeatEndDate = &end
	}
	return rem, nil
}

// parseToolTime accepts RFC 3339, a local "YYYY-MM-DD HH:MM" or Japanese
// natural language.
func parseToolTime(s string, now time.Time, loc *time.Location) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	for _, layout := range []string{"2006-01-02T15:04:05", "2006-01-02T15:04", "2006-01-02 15:04"} {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, nil
		}
	}
	if t, ok := timeparse.Parse(s, now, loc); ok {
		return t, nil
	}
	return time.Time{}, fmt.Errorf("cannot parse remind_at %q", s)
}

func (e *Engine) saveReminder(ctx context.Context, r *request, rem *models.Reminder) {
	if err := e.store.CreateReminder(ctx, rem); err != nil {
		e.fail(ctx, r.ev.ChatID, "create reminder", apperrors.NewDatabaseError("create reminder", err))
		return
	}
	e.audit(ctx, r.ev.ChatID, r.ev.SenderID, "reminder.create", "reminder", rem.ID, map[string]any{
		"remindAt":   rem.RemindAt.UTC(),
		"repeatType": rem.RepeatType,
	})
	e.logger.WithFields(logrus.Fields{
		LogFieldReminderID: rem.ID,
		LogFieldDueAt:      rem.RemindAt.UTC(),
	}).Info("Created reminder")

	when := formatMeetingTime(rem.RemindAt, r.loc)
	msg := fmt.Sprintf("%s に「%s」をリマインドします。", when, rem.Message)
	if rem.IsRecurring() {
		msg = fmt.Sprintf("%s から%sで「%s」をリマインドします。", when, repeatLabel(rem), rem.Message)
	}
	e.send(ctx, r.ev.ChatID, msg)
}

func repeatLabel(rem *models.Reminder) string {
	switch rem.RepeatType {
	case models.RepeatDaily:
		return "毎日"
	case models.RepeatWeekly:
		if len(rem.RepeatDays) == 0 {
			return "毎週"
		}
		var names []string
		for _, d := range rem.RepeatDays {
			names = append(names, recurrence.WeekdayName(d))
		}
		return "毎週" + strings.Join(names, "・") + "曜"
	default:
		return "毎月"
	}
}

// draftWithAI generates text and hands it to the draft review flow.
func (e *Engine) draftWithAI(ctx context.Context, r *request, query string) {
	system := draftSystemPrompt
	if r.settings.WebSearchEnabled && e.ai.Searcher != nil && e.enabled(features.FlagWebSearch, r.ev.ChatID) && ai.NeedsRealtime(query) {
		results, err := e.ai.Searcher.Search(ctx, query, constants.DefaultSearchResultCount)
		if err != nil {
			e.logger.WithError(err).Warn("Web search failed, drafting without it")
		} else if len(results) > 0 {
			system += searchContextHeader + ai.FormatResults(results)
		}
	}
	e.generateDraft(ctx, r, system, query, r.ev.ChatID)
}

func (e *Engine) handleReplyDraft(ctx context.Context, r *request) {
	if strings.TrimSpace(r.ev.ReplyToText) == "" {
		e.send(ctx, r.ev.ChatID, msgReplyNeedsQuote)
		return
	}
	prompt := "返信するメッセージ:\n" + r.ev.ReplyToText
	if extra := stripWords(r.text, kwReply, "@"+e.opts.BotUsername); extra != "" {
		prompt += "\n\n返信の方針: " + extra
	}
	e.generateDraft(ctx, r, replySystemPrompt, prompt, r.ev.ChatID)
}

func (e *Engine) generateDraft(ctx context.Context, r *request, system, prompt string, target int64) {
	if e.ai.Provider == nil {
		e.send(ctx, r.ev.ChatID, msgAIEmpty)
		return
	}
	resp, err := e.ai.Provider.Complete(ctx, &ai.Request{
		System:      system,
		Messages:    ai.UserText(prompt),
		Temperature: e.opts.Temperature,
		MaxTokens:   e.opts.MaxTokens,
	})
	if err != nil {
		e.fail(ctx, r.ev.ChatID, "call ai provider", err)
		return
	}
	text := ai.Sanitize(resp.Text)
	if text == "" {
		e.send(ctx, r.ev.ChatID, msgAIEmpty)
		return
	}
	e.deliverDraft(ctx, r.ev, text, target)
}

func (e *Engine) handleImage(ctx context.Context, r *request) {
	prompt := stripWords(r.text, kwImage, "@"+e.opts.BotUsername)
	if prompt == "" {
		e.send(ctx, r.ev.ChatID, msgImageNeedsPrompt)
		return
	}
	gen, ok := e.ai.Provider.(ai.ImageGenerator)
	if !ok {
		e.send(ctx, r.ev.ChatID, msgImageUnsupported)
		return
	}
	img, err := gen.GenerateImage(ctx, prompt)
	if isUnsupported(err) {
		e.send(ctx, r.ev.ChatID, msgImageUnsupported)
		return
	}
	if err != nil {
		e.fail(ctx, r.ev.ChatID, "generate image", err)
		return
	}
	if _, err := e.messenger.SendPhoto(ctx, r.ev.ChatID, img, prompt); err != nil {
		e.fail(ctx, r.ev.ChatID, "send image", err)
	}
}
