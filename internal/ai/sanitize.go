package ai

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

var (
	headingRe   = regexp.MustCompile(`(?m)^#{1,6}\s+`)
	bulletRe    = regexp.MustCompile(`(?m)^(\s*)[*\-]\s+`)
	starPairRe  = regexp.MustCompile(`\*([^*\n]+)\*`)
	underPairRe = regexp.MustCompile(`(^|[\s（「(])_([^_\n]+)_`)
	blankRunRe  = regexp.MustCompile(`\n{3,}`)
)

var stockOpenings = []string{
	"もちろんです",
	"もちろん！",
	"承知しました",
	"承知いたしました",
	"かしこまりました",
	"了解しました",
	"はい、",
	"以下は",
	"以下が",
	"以下のような",
	"こちらが",
	"こちらは",
}

var stockClosings = []string{
	"いかがでしょうか",
	"お役に立てれば",
	"お役に立てると",
	"ご不明な点",
	"何かあれば",
	"他にも何か",
	"修正が必要",
	"調整が必要",
	"お気軽に",
}

const maxStockLineRunes = 80

// Sanitize strips Markdown emphasis and the assistant's boilerplate
// openers and sign-offs so the draft reads like a chat message.
func Sanitize(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "**", "")
	text = strings.ReplaceAll(text, "__", "")
	text = strings.ReplaceAll(text, "`", "")
	text = headingRe.ReplaceAllString(text, "")
	text = bulletRe.ReplaceAllString(text, "${1}・")
	text = starPairRe.ReplaceAllString(text, "$1")
	text = underPairRe.ReplaceAllString(text, "$1$2")

	lines := strings.Split(strings.TrimSpace(text), "\n")
	for len(lines) > 1 && isStockLine(lines[0], stockOpenings, true) {
		lines = trimBlank(lines[1:])
	}
	for len(lines) > 1 && isStockLine(lines[len(lines)-1], stockClosings, false) {
		lines = trimBlank(lines[:len(lines)-1])
	}

	text = strings.Join(lines, "\n")
	text = blankRunRe.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}

func isStockLine(line string, phrases []string, prefix bool) bool {
	line = strings.TrimSpace(line)
	if line == "" || utf8.RuneCountInString(line) > maxStockLineRunes {
		return false
	}
	for _, p := range phrases {
		if prefix && strings.HasPrefix(line, p) {
			return true
		}
		if !prefix && strings.Contains(line, p) {
			return true
		}
	}
	return false
}

func trimBlank(lines []string) []string {
	for len(lines) > 0 && strings.TrimSpace(lines[0]) == "" {
		lines = lines[1:]
	}
	for len(lines) > 0 && strings.TrimSpace(lines[len(lines)-1]) == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}
