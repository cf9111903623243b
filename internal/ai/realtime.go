package ai

import (
	"regexp"
	"strings"
)

var realtimeKeywords = []string{
	"最新", "現在", "今日", "昨日", "今週", "今月", "今年",
	"ニュース", "速報", "天気", "気温", "株価", "為替", "相場",
	"価格", "値段", "発表", "結果", "スコア", "最近", "トレンド",
}

var realtimeQuestionRes = []*regexp.Regexp{
	regexp.MustCompile(`今(の|は|って).*(何|いくら|どう|どこ|誰|だれ)`),
	regexp.MustCompile(`(いつ|何日|何時)(から|まで|に|ですか)`),
	regexp.MustCompile(`(誰|だれ)が.*(勝|選ば|就任|受賞)`),
	regexp.MustCompile(`20[0-9]{2}年.*(予定|開催|発売|公開)`),
	regexp.MustCompile(`(調べて|検索して|ググって)`),
}

// NeedsRealtime guesses whether answering query requires information newer
// than the model's training data.
func NeedsRealtime(query string) bool {
	q := strings.TrimSpace(query)
	if q == "" {
		return false
	}
	for _, k := range realtimeKeywords {
		if strings.Contains(q, k) {
			return true
		}
	}
	for _, re := range realtimeQuestionRes {
		if re.MatchString(q) {
			return true
		}
	}
	return false
}
