// Package timeparse converts Japanese date and time fragments into absolute
// instants relative to a reference time in a fixed-offset zone.
//
// Patterns are tried in a fixed precedence and the first match wins:
//
//  1. explicit year-month-day (2025-04-01, 2025/4/1, 2025年4月1日)
//  2. month/day (4/1, 4-1), rolled to next year when before today
//  3. M月D日, with the same rollover
//  4. 今日/明日/明後日 (optionally with an hour), then weekday names
//  5. 朝/午前/午後/夕方/夜 + hour, rolled to tomorrow when already past
//  6. N時間後, rounded to the nearest half hour
//  7. a bare hour, rolled to tomorrow when already past
//
// New surface forms must be added without reordering the existing ones.
package timeparse

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/width"
)

// Match is the result of Extract.
type Match struct {
	At time.Time
	// DateOnly is set when no time of day was present; At is local midnight.
	// A date naming today keeps today's midnight, which is earlier than the
	// reference time. Callers wanting a future instant use EndOfDay.
	DateOnly bool
	// Fragments are the normalized substrings that produced the match.
	Fragments []string
}

var (
	ymdPattern        = regexp.MustCompile(`(\d{4})\s*[-/年]\s*(\d{1,2})\s*[-/月]\s*(\d{1,2})\s*日?`)
	mdPattern         = regexp.MustCompile(`(?:^|[^\d/:\-])(\d{1,2})[/\-](\d{1,2})(?:$|[^\d/:\-])`)
	jaMDPattern       = regexp.MustCompile(`(\d{1,2})\s*月\s*(\d{1,2})\s*日`)
	relDayPattern     = regexp.MustCompile(`(明後日|あさって|今日|本日|明日|あした)の?`)
	weekdayPattern    = regexp.MustCompile(`(来週|今週)?の?(月|火|水|木|金|土|日)曜日?の?`)
	periodPattern     = regexp.MustCompile(`(朝|午前|午後|夕方|夜)の?\s*(\d{1,2})\s*(?:時\s*(?:(\d{1,2})\s*分|(半))?|:(\d{2}))`)
	hoursLaterPattern = regexp.MustCompile(`(\d{1,3})\s*時間\s*後`)
	clockPattern      = regexp.MustCompile(`(\d{1,2})\s*(?:時\s*(?:(\d{1,2})\s*分|(半))?|:(\d{2}))`)
)

var relDayOffsets = map[string]int{
	"今日":   0,
	"本日":   0,
	"明日":   1,
	"あした":  1,
	"明後日":  2,
	"あさって": 2,
}

var weekdayNames = map[string]time.Weekday{
	"日": time.Sunday,
	"月": time.Monday,
	"火": time.Tuesday,
	"水": time.Wednesday,
	"木": time.Thursday,
	"金": time.Friday,
	"土": time.Saturday,
}

// Normalize folds full-width digits, letters and punctuation to half-width.
func Normalize(s string) string {
	return width.Fold.String(s)
}

// Parse returns the first instant found in text, or false.
func Parse(text string, now time.Time, loc *time.Location) (time.Time, bool) {
	m, ok := Extract(text, now, loc)
	if !ok {
		return time.Time{}, false
	}
	return m.At, true
}

// Extract is Parse with match details.
func Extract(text string, now time.Time, loc *time.Location) (Match, bool) {
	if loc == nil {
		loc = Location(DefaultZone)
	}
	s := Normalize(text)
	n := now.In(loc)

	steps := []func(string, time.Time, *time.Location) (Match, bool){
		matchYMD,
		matchMonthDay,
		matchJapaneseMonthDay,
		matchRelativeDay,
		matchWeekday,
		matchPeriod,
		matchHoursLater,
		matchBareHour,
	}
	for _, step := range steps {
		if m, ok := step(s, n, loc); ok {
			return m, true
		}
	}
	return Match{}, false
}

func matchYMD(s string, now time.Time, loc *time.Location) (Match, bool) {
	idx := ymdPattern.FindStringSubmatchIndex(s)
	if idx == nil {
		return Match{}, false
	}
	y := atoi(s[idx[2]:idx[3]])
	mo := atoi(s[idx[4]:idx[5]])
	d := atoi(s[idx[6]:idx[7]])
	day, ok := validDate(y, mo, d, loc)
	if !ok {
		return Match{}, false
	}
	frag := s[idx[0]:idx[1]]
	return withOptionalTime(day, cut(s, idx[0], idx[1]), []string{frag}, loc), true
}

func matchMonthDay(s string, now time.Time, loc *time.Location) (Match, bool) {
	for _, idx := range mdPattern.FindAllStringSubmatchIndex(s, -1) {
		mo := atoi(s[idx[2]:idx[3]])
		d := atoi(s[idx[4]:idx[5]])
		if m, ok := monthDay(s, idx[2], idx[5], mo, d, now, loc); ok {
			return m, true
		}
	}
	return Match{}, false
}

func matchJapaneseMonthDay(s string, now time.Time, loc *time.Location) (Match, bool) {
	idx := jaMDPattern.FindStringSubmatchIndex(s)
	if idx == nil {
		return Match{}, false
	}
	mo := atoi(s[idx[2]:idx[3]])
	d := atoi(s[idx[4]:idx[5]])
	return monthDay(s, idx[0], idx[1], mo, d, now, loc)
}

// monthDay resolves a yearless date, assuming next year when the result
// would fall before today (or before now when a time was given).
func monthDay(s string, start, end, mo, d int, now time.Time, loc *time.Location) (Match, bool) {
	day, ok := validDate(now.Year(), mo, d, loc)
	if !ok {
		return Match{}, false
	}
	m := withOptionalTime(day, cut(s, start, end), []string{s[start:end]}, loc)
	if m.DateOnly {
		if day.Before(StartOfDay(now, loc)) {
			return monthDayNextYear(s, start, end, mo, d, now, loc)
		}
		return m, true
	}
	if m.At.Before(now) {
		return monthDayNextYear(s, start, end, mo, d, now, loc)
	}
	return m, true
}

func monthDayNextYear(s string, start, end, mo, d int, now time.Time, loc *time.Location) (Match, bool) {
	day, ok := validDate(now.Year()+1, mo, d, loc)
	if !ok {
		return Match{}, false
	}
	return withOptionalTime(day, cut(s, start, end), []string{s[start:end]}, loc), true
}

func matchRelativeDay(s string, now time.Time, loc *time.Location) (Match, bool) {
	idx := relDayPattern.FindStringSubmatchIndex(s)
	if idx == nil {
		return Match{}, false
	}
	offset := relDayOffsets[s[idx[2]:idx[3]]]
	day := StartOfDay(now, loc).AddDate(0, 0, offset)
	return withOptionalTime(day, cut(s, idx[0], idx[1]), []string{s[idx[0]:idx[1]]}, loc), true
}

func matchWeekday(s string, now time.Time, loc *time.Location) (Match, bool) {
	idx := weekdayPattern.FindStringSubmatchIndex(s)
	if idx == nil {
		return Match{}, false
	}
	target := weekdayNames[s[idx[4]:idx[5]]]
	today := StartOfDay(now, loc)

	var day time.Time
	if idx[2] >= 0 {
		// Weeks start on Monday.
		monday := today.AddDate(0, 0, -((int(today.Weekday()) + 6) % 7))
		day = monday.AddDate(0, 0, (int(target)+6)%7)
		if s[idx[2]:idx[3]] == "来週" {
			day = day.AddDate(0, 0, 7)
		}
	} else {
		ahead := (int(target) - int(today.Weekday()) + 7) % 7
		if ahead == 0 {
			ahead = 7
		}
		day = today.AddDate(0, 0, ahead)
	}
	return withOptionalTime(day, cut(s, idx[0], idx[1]), []string{s[idx[0]:idx[1]]}, loc), true
}

func matchPeriod(s string, now time.Time, loc *time.Location) (Match, bool) {
	h, mi, days, frag, ok := findPeriodTime(s)
	if !ok {
		return Match{}, false
	}
	return rollIfPast(now, days, h, mi, frag, loc), true
}

func matchHoursLater(s string, now time.Time, loc *time.Location) (Match, bool) {
	idx := hoursLaterPattern.FindStringSubmatchIndex(s)
	if idx == nil {
		return Match{}, false
	}
	hours := atoi(s[idx[2]:idx[3]])
	if hours <= 0 {
		return Match{}, false
	}
	at := now.Add(time.Duration(hours) * time.Hour).Round(30 * time.Minute).In(loc)
	return Match{At: at, Fragments: []string{s[idx[0]:idx[1]]}}, true
}

func matchBareHour(s string, now time.Time, loc *time.Location) (Match, bool) {
	h, mi, frag, ok := findClock(s)
	if !ok {
		return Match{}, false
	}
	return rollIfPast(now, 0, h, mi, frag, loc), true
}

// rollIfPast places h:mi days after today, moving it to the following day
// when that is not after now.
func rollIfPast(now time.Time, days, h, mi int, frag string, loc *time.Location) Match {
	n := now.In(loc)
	at := time.Date(n.Year(), n.Month(), n.Day()+days, h, mi, 0, 0, loc)
	if !at.After(now) {
		at = at.AddDate(0, 0, 1)
	}
	return Match{At: at, Fragments: []string{frag}}
}

// withOptionalTime applies a period+hour or clock found in rest to day.
func withOptionalTime(day time.Time, rest string, frags []string, loc *time.Location) Match {
	h, mi, days, frag, ok := findPeriodTime(rest)
	if !ok {
		h, mi, frag, ok = findClock(rest)
	}
	if !ok {
		return Match{At: day, DateOnly: true, Fragments: frags}
	}
	at := time.Date(day.Year(), day.Month(), day.Day()+days, h, mi, 0, 0, loc)
	return Match{At: at, Fragments: append(frags, frag)}
}

// findPeriodTime reads a period-qualified hour. days is 1 when the hour
// falls after midnight of the named day: 夜12時 and 夕方12時 are 0:00 of
// the next day, while 午後12時 stays noon.
func findPeriodTime(s string) (h, mi, days int, frag string, ok bool) {
	idx := periodPattern.FindStringSubmatchIndex(s)
	if idx == nil {
		return 0, 0, 0, "", false
	}
	h = atoi(s[idx[4]:idx[5]])
	mi = minuteOf(s, idx[6], idx[7], idx[8], idx[10], idx[11])
	switch s[idx[2]:idx[3]] {
	case "朝", "午前":
		if h == 12 {
			h = 0
		}
	case "午後":
		if h < 12 {
			h += 12
		}
	default:
		switch {
		case h == 12:
			h, days = 0, 1
		case h < 12:
			h += 12
		}
	}
	if h > 23 || mi > 59 {
		return 0, 0, 0, "", false
	}
	return h, mi, days, s[idx[0]:idx[1]], true
}

// findClock finds "N時", "N時M分", "N時半" or "HH:MM", skipping durations
// such as "2時間".
func findClock(s string) (int, int, string, bool) {
	for _, idx := range clockPattern.FindAllStringSubmatchIndex(s, -1) {
		if strings.HasPrefix(s[idx[1]:], "間") {
			continue
		}
		h := atoi(s[idx[2]:idx[3]])
		mi := minuteOf(s, idx[4], idx[5], idx[6], idx[8], idx[9])
		if h > 23 || mi > 59 {
			continue
		}
		return h, mi, s[idx[0]:idx[1]], true
	}
	return 0, 0, "", false
}

func minuteOf(s string, minStart, minEnd, half, colonStart, colonEnd int) int {
	switch {
	case minStart >= 0:
		return atoi(s[minStart:minEnd])
	case half >= 0:
		return 30
	case colonStart >= 0:
		return atoi(s[colonStart:colonEnd])
	}
	return 0
}

func validDate(y, mo, d int, loc *time.Location) (time.Time, bool) {
	if mo < 1 || mo > 12 || d < 1 || d > 31 {
		return time.Time{}, false
	}
	t := time.Date(y, time.Month(mo), d, 0, 0, 0, 0, loc)
	if t.Month() != time.Month(mo) || t.Day() != d {
		return time.Time{}, false
	}
	return t, true
}

func cut(s string, start, end int) string {
	return s[:start] + " " + s[end:]
}

func atoi(s string) int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return -1
	}
	return n
}
