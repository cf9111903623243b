package service

import (
	"context"
	"fmt"
	"strings"
	"unicode"

	"chatflow/internal/ai"
	apperrors "chatflow/internal/errors"
	"chatflow/internal/models"

	"github.com/sirupsen/logrus"
)

const translateSystemPrompt = "あなたは翻訳者です。ユーザーのメッセージを %s に翻訳し、訳文だけを出力してください。"

var languageNames = map[string]string{
	"ja": "日本語",
	"en": "English",
	"ko": "한국어",
	"zh": "中文",
	"vi": "Tiếng Việt",
	"th": "ภาษาไทย",
	"es": "Español",
	"fr": "Français",
	"de": "Deutsch",
	"pt": "Português",
}

var languageAliases = map[string]string{
	"日本語": "ja", "英語": "en", "韓国語": "ko", "中国語": "zh", "ベトナム語": "vi",
	"タイ語": "th", "スペイン語": "es", "フランス語": "fr", "ドイツ語": "de", "ポルトガル語": "pt",
	"japanese": "ja", "english": "en", "korean": "ko", "chinese": "zh", "vietnamese": "vi",
	"thai": "th", "spanish": "es", "french": "fr", "german": "de", "portuguese": "pt",
	"自動": models.LanguageAuto,
}

// parseLanguage accepts an ISO code, an English name or a Japanese name.
func parseLanguage(s string) (string, bool) {
	t := fold(s)
	if _, ok := languageNames[t]; ok || t == models.LanguageAuto {
		return t, true
	}
	code, ok := languageAliases[t]
	return code, ok
}

func languageName(code string) string {
	if name, ok := languageNames[code]; ok {
		return name
	}
	return code
}

// detectLanguage guesses by script: kana means Japanese, hangul Korean,
// han without kana Chinese, latin English. Unknown scripts yield "".
func detectLanguage(text string) string {
	var kana, hangul, han, latin, thai int
	for _, r := range text {
		switch {
		case unicode.In(r, unicode.Hiragana, unicode.Katakana):
			kana++
		case unicode.Is(unicode.Hangul, r):
			hangul++
		case unicode.Is(unicode.Han, r):
			han++
		case unicode.Is(unicode.Thai, r):
			thai++
		case unicode.Is(unicode.Latin, r):
			latin++
		}
	}
	switch {
	case kana > 0:
		return "ja"
	case hangul > 0:
		return "ko"
	case thai > 0:
		return "th"
	case han > 0:
		return "zh"
	case latin > 0:
		return "en"
	}
	return ""
}

// startTranslation handles "翻訳開始 [my] [target]". One argument names the
// target; with none the target resolves from the first foreign message.
func (e *Engine) startTranslation(ctx context.Context, r *request) {
	args := strings.Fields(strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(r.text), kwTranslationStart)))
	mine, target := "ja", models.LanguageAuto
	switch len(args) {
	case 0:
	case 1:
		code, ok := parseLanguage(args[0])
		if !ok {
			e.send(ctx, r.ev.ChatID, fmt.Sprintf("言語「%s」には対応していません。", args[0]))
			return
		}
		target = code
	default:
		m, ok1 := parseLanguage(args[0])
		t, ok2 := parseLanguage(args[1])
		if !ok1 || !ok2 || m == models.LanguageAuto {
			e.send(ctx, r.ev.ChatID, fmt.Sprintf("言語「%s」には対応していません。", strings.Join(args[:2], " ")))
			return
		}
		mine, target = m, t
	}

	session := &models.TranslationSession{
		ChatID:         r.ev.ChatID,
		UserID:         r.ev.SenderID,
		IsActive:       true,
		MyLanguage:     mine,
		TargetLanguage: target,
	}
	if err := e.store.SaveTranslationSession(ctx, session); err != nil {
		e.fail(ctx, r.ev.ChatID, "start translation", apperrors.NewDatabaseError("save translation session", err))
		return
	}
	e.audit(ctx, r.ev.ChatID, r.ev.SenderID, "translation.start", "translation_session",
		fmt.Sprintf("%d:%d", r.ev.ChatID, r.ev.SenderID), map[string]any{"my": mine, "target": target})

	targetLabel := "自動（最初の外国語メッセージで決定）"
	if target != models.LanguageAuto {
		targetLabel = languageName(target)
	}
	e.send(ctx, r.ev.ChatID, fmt.Sprintf("%s さんの翻訳を開始しました。\nあなたの言語: %s\n翻訳先: %s",
		r.ev.Sender().Handle(), languageName(mine), targetLabel))
}

func (e *Engine) endTranslation(ctx context.Context, r *request) {
	ok, err := e.store.EndTranslationSession(ctx, r.ev.ChatID, r.ev.SenderID)
	if err != nil {
		e.fail(ctx, r.ev.ChatID, "end translation", apperrors.NewDatabaseError("end translation session", err))
		return
	}
	if !ok {
		e.send(ctx, r.ev.ChatID, msgTranslationNone)
		return
	}
	e.audit(ctx, r.ev.ChatID, r.ev.SenderID, "translation.end", "translation_session",
		fmt.Sprintf("%d:%d", r.ev.ChatID, r.ev.SenderID), nil)
	e.send(ctx, r.ev.ChatID, msgTranslationEnd)
}

// hasTranslationSessions loads the chat's active sessions into r.
func (e *Engine) hasTranslationSessions(ctx context.Context, r *request) bool {
	sessions, err := e.store.ActiveTranslationSessions(ctx, r.ev.ChatID)
	if err != nil {
		e.errLog.LogWarn(apperrors.NewDatabaseError("list translation sessions", err), "Failed to load translation sessions",
			logrus.Fields{LogFieldChatID: SanitizeChatID(ctx, r.ev.ChatID)})
		return false
	}
	r.sessions = sessions
	return len(sessions) > 0
}

// relayTranslation translates a message for the chat's session owners. The
// sender's own resolved target wins; otherwise each owner whose language
// differs gets a translation into theirs.
func (e *Engine) relayTranslation(ctx context.Context, r *request) {
	detected := detectLanguage(r.text)
	if detected == "" {
		return
	}

	for _, s := range r.sessions {
		if s.UserID == r.ev.SenderID && s.TargetLanguage != models.LanguageAuto {
			if s.TargetLanguage != detected {
				e.relay(ctx, r, s.TargetLanguage)
			}
			return
		}
	}

	done := make(map[string]bool)
	for _, s := range r.sessions {
		if s.UserID == r.ev.SenderID || s.MyLanguage == detected {
			continue
		}
		if s.TargetLanguage == models.LanguageAuto {
			s.TargetLanguage = detected
			if err := e.store.SaveTranslationSession(ctx, s); err != nil {
				e.logger.WithError(err).Warn("Failed to resolve translation target")
			}
		}
		if done[s.MyLanguage] {
			continue
		}
		done[s.MyLanguage] = true
		e.relay(ctx, r, s.MyLanguage)
	}
}

func (e *Engine) relay(ctx context.Context, r *request, lang string) {
	if e.ai.Provider == nil {
		return
	}
	resp, err := e.ai.Provider.Complete(ctx, &ai.Request{
		System:      fmt.Sprintf(translateSystemPrompt, languageName(lang)),
		Messages:    ai.UserText(r.text),
		Temperature: 0,
		MaxTokens:   e.opts.MaxTokens,
	})
	if err != nil {
		e.errLog.LogWarn(err, "Failed to translate message", logrus.Fields{
			LogFieldChatID:   SanitizeChatID(ctx, r.ev.ChatID),
			LogFieldProvider: e.ai.Provider.Name(),
		})
		return
	}
	text := strings.TrimSpace(resp.Text)
	if text == "" {
		return
	}
	e.send(ctx, r.ev.ChatID, fmt.Sprintf("🌐 %s (%s):\n%s", r.ev.Sender().Handle(), lang, text))
}
