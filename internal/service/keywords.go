package service

import (
	"context"
	"regexp"
	"strings"

	"chatflow/internal/models"
	"chatflow/internal/timeparse"
)

const (
	kwTask             = "タスク"
	kwRecurring        = "定期タスク"
	kwImage            = "画像生成"
	kwReply            = "返信作成"
	kwTranslationStart = "翻訳開始"
	kwTranslationEnd   = "翻訳終了"
)

var (
	meetingKeywords = []string{"会議", "ミーティング", "打ち合わせ", "打合せ", "mtg"}
	chatIDCommands  = []string{"get chat id", "/chatid", "チャットid"}

	// aiPrefix is "AI" followed by a separator at the start of the message.
	aiPrefix        = regexp.MustCompile(`^(?i)ai\s*[\s:、,。]\s*`)
	leadingMentions = regexp.MustCompile(`^(?:@\w+\s*)+`)
)

// fold normalizes width and case for keyword matching.
func fold(s string) string {
	return strings.ToLower(strings.TrimSpace(timeparse.Normalize(s)))
}

func isChatIDRequest(text string) bool {
	t := fold(text)
	if i := strings.Index(t, "@"); strings.HasPrefix(t, "/chatid") && i > 0 {
		t = t[:i]
	}
	for _, c := range chatIDCommands {
		if t == c {
			return true
		}
	}
	return false
}

func isTaskRequest(text string) bool {
	return strings.Contains(text, kwTask) && !strings.Contains(text, kwRecurring)
}

func isMeetingRequest(text string) bool {
	if strings.Contains(text, kwRecurring) {
		return false
	}
	t := fold(text)
	for _, kw := range meetingKeywords {
		if strings.Contains(t, kw) {
			return true
		}
	}
	return false
}

func isAIRequest(text string) bool {
	_, ok := aiQuery(text)
	return ok
}

// aiQuery strips leading mentions and the AI prefix.
func aiQuery(text string) (string, bool) {
	t := strings.TrimSpace(leadingMentions.ReplaceAllString(timeparse.Normalize(text), ""))
	loc := aiPrefix.FindStringIndex(t)
	if loc == nil {
		return "", false
	}
	return strings.TrimSpace(t[loc[1]:]), true
}

func isImageRequest(text string) bool {
	return strings.Contains(text, kwImage)
}

func isRecurringRequest(text string) bool {
	return strings.Contains(text, kwRecurring)
}

func isReplyRequest(_ context.Context, r *request) bool {
	return strings.Contains(r.text, kwReply)
}

func isTranslationStart(text string) bool {
	return strings.HasPrefix(strings.TrimSpace(text), kwTranslationStart)
}

func isTranslationEnd(text string) bool {
	return strings.HasPrefix(strings.TrimSpace(text), kwTranslationEnd)
}

func (e *Engine) mentionsBot(_ context.Context, r *request) bool {
	if e.opts.BotUsername == "" {
		return false
	}
	for _, m := range r.ev.Mentions {
		if strings.EqualFold(m.Username, e.opts.BotUsername) {
			return true
		}
	}
	return strings.Contains(strings.ToLower(r.text), "@"+strings.ToLower(e.opts.BotUsername))
}

// peopleMentions are the message's mentions minus the bot itself.
func (e *Engine) peopleMentions(ev models.Event) []models.Mention {
	var out []models.Mention
	for _, m := range ev.Mentions {
		if e.opts.BotUsername != "" && strings.EqualFold(m.Username, e.opts.BotUsername) {
			continue
		}
		out = append(out, m)
	}
	return out
}

// stripWords removes every occurrence of words, each with a directly
// following particle, and tidies the remainder.
func stripWords(text string, words ...string) string {
	for _, w := range words {
		if w == "" {
			continue
		}
		re := regexp.MustCompile(regexp.QuoteMeta(w) + `(?:から|まで|に|で|を|の|は|へ)?`)
		text = re.ReplaceAllString(text, " ")
	}
	return tidy(text)
}

const edgePunct = " \t\n　:：、,。・-"

// tidy collapses whitespace and trims separators.
func tidy(text string) string {
	return strings.Trim(strings.Join(strings.Fields(text), " "), edgePunct)
}
