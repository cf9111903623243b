// Package recurrence computes scheduling pointers for recurring tasks and
// reminders. All arithmetic happens in the display zone so a fixed local
// hour is preserved; results are absolute instants.
package recurrence

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"chatflow/internal/models"
	"chatflow/internal/timeparse"
)

var ErrNoEligibleDay = errors.New("every weekday is excluded")

// Rule is the schedule of a recurring task.
type Rule struct {
	Frequency   models.Frequency
	DayOfWeek   time.Weekday
	DayOfMonth  int
	ExcludeDays []time.Weekday
	Hour        int
	Minute      int
}

// RuleOf extracts the schedule from a stored task.
func RuleOf(t *models.RecurringTask) Rule {
	return Rule{
		Frequency:   t.Frequency,
		DayOfWeek:   t.DayOfWeek,
		DayOfMonth:  t.DayOfMonth,
		ExcludeDays: t.ExcludeDays,
		Hour:        t.Hour,
		Minute:      t.Minute,
	}
}

// Validate checks field ranges.
func (r Rule) Validate() error {
	if r.Hour < 0 || r.Hour > 23 {
		return fmt.Errorf("hour out of range: %d", r.Hour)
	}
	if r.Minute < 0 || r.Minute > 59 {
		return fmt.Errorf("minute out of range: %d", r.Minute)
	}
	switch r.Frequency {
	case models.FrequencyDaily:
		if len(distinct(r.ExcludeDays)) >= 7 {
			return ErrNoEligibleDay
		}
	case models.FrequencyWeekly:
		if r.DayOfWeek < time.Sunday || r.DayOfWeek > time.Saturday {
			return fmt.Errorf("day of week out of range: %d", r.DayOfWeek)
		}
	case models.FrequencyMonthly:
		if r.DayOfMonth < 1 || r.DayOfMonth > 31 {
			return fmt.Errorf("day of month out of range: %d", r.DayOfMonth)
		}
	default:
		return fmt.Errorf("unknown frequency %q", r.Frequency)
	}
	return nil
}

// First returns the earliest occurrence at or after now.
func First(r Rule, now time.Time, loc *time.Location) (time.Time, error) {
	if err := r.Validate(); err != nil {
		return time.Time{}, err
	}
	n := now.In(loc)
	switch r.Frequency {
	case models.FrequencyDaily:
		c := at(n.Year(), n.Month(), n.Day(), r.Hour, r.Minute, loc)
		if c.Before(now) {
			c = c.AddDate(0, 0, 1)
		}
		return skipExcluded(c, r.ExcludeDays), nil
	case models.FrequencyWeekly:
		c := at(n.Year(), n.Month(), n.Day(), r.Hour, r.Minute, loc)
		for c.Weekday() != r.DayOfWeek || c.Before(now) {
			c = c.AddDate(0, 0, 1)
		}
		return c, nil
	default:
		c := monthDay(n.Year(), n.Month(), r.DayOfMonth, r.Hour, r.Minute, loc)
		if c.Before(now) {
			c = monthDay(n.Year(), n.Month()+1, r.DayOfMonth, r.Hour, r.Minute, loc)
		}
		return c, nil
	}
}

// Next returns the occurrence following prev.
func Next(r Rule, prev time.Time, loc *time.Location) (time.Time, error) {
	if err := r.Validate(); err != nil {
		return time.Time{}, err
	}
	p := prev.In(loc)
	switch r.Frequency {
	case models.FrequencyDaily:
		c := at(p.Year(), p.Month(), p.Day()+1, r.Hour, r.Minute, loc)
		return skipExcluded(c, r.ExcludeDays), nil
	case models.FrequencyWeekly:
		c := at(p.Year(), p.Month(), p.Day()+1, r.Hour, r.Minute, loc)
		for c.Weekday() != r.DayOfWeek {
			c = c.AddDate(0, 0, 1)
		}
		return c, nil
	default:
		c := monthDay(p.Year(), p.Month(), r.DayOfMonth, r.Hour, r.Minute, loc)
		if !c.After(prev) {
			c = monthDay(p.Year(), p.Month()+1, r.DayOfMonth, r.Hour, r.Minute, loc)
		}
		return c, nil
	}
}

// NextAfter advances from prev until the pointer is past now, so a late
// poll fires once instead of replaying missed occurrences.
func NextAfter(r Rule, prev, now time.Time, loc *time.Location) (time.Time, error) {
	next, err := Next(r, prev, loc)
	if err != nil {
		return time.Time{}, err
	}
	for !next.After(now) {
		if next, err = Next(r, next, loc); err != nil {
			return time.Time{}, err
		}
	}
	return next, nil
}

// NextReminder computes the following remindAt of a recurring reminder.
// It returns false when the series has ended; repeatEndDate is inclusive of
// its whole local day.
func NextReminder(rem *models.Reminder, now time.Time, loc *time.Location) (time.Time, bool) {
	if !rem.IsRecurring() {
		return time.Time{}, false
	}
	day := rem.RepeatDayOfMonth
	if day == 0 {
		day = rem.RemindAt.In(loc).Day()
	}
	next := stepReminder(rem, rem.RemindAt, day, loc)
	for !next.After(now) {
		next = stepReminder(rem, next, day, loc)
	}
	if rem.RepeatEndDate != nil && next.After(timeparse.EndOfDay(*rem.RepeatEndDate, loc)) {
		return time.Time{}, false
	}
	return next, true
}

// stepReminder moves one period forward. Monthly steps land on day, clamped
// to the month's length.
func stepReminder(rem *models.Reminder, prev time.Time, day int, loc *time.Location) time.Time {
	p := prev.In(loc)
	h, mi, _ := p.Clock()
	switch rem.RepeatType {
	case models.RepeatDaily:
		c := at(p.Year(), p.Month(), p.Day()+1, h, mi, loc)
		if len(distinct(rem.RepeatDays)) >= 7 {
			return c
		}
		return skipExcluded(c, rem.RepeatDays)
	case models.RepeatWeekly:
		if len(rem.RepeatDays) == 0 {
			return at(p.Year(), p.Month(), p.Day()+7, h, mi, loc)
		}
		c := at(p.Year(), p.Month(), p.Day()+1, h, mi, loc)
		for !models.ContainsWeekday(rem.RepeatDays, c.Weekday()) {
			c = c.AddDate(0, 0, 1)
		}
		return c
	default:
		return monthDay(p.Year(), p.Month()+1, day, h, mi, loc)
	}
}

// Describe renders a rule for confirmation messages.
func Describe(r Rule) string {
	clock := fmt.Sprintf("%d:%02d", r.Hour, r.Minute)
	switch r.Frequency {
	case models.FrequencyDaily:
		if len(r.ExcludeDays) == 0 {
			return "毎日 " + clock
		}
		names := make([]string, 0, len(r.ExcludeDays))
		for _, d := range distinct(r.ExcludeDays) {
			names = append(names, WeekdayName(d))
		}
		return fmt.Sprintf("毎日 %s（%s除く）", clock, strings.Join(names, ""))
	case models.FrequencyWeekly:
		return fmt.Sprintf("毎週%s曜 %s", WeekdayName(r.DayOfWeek), clock)
	default:
		return fmt.Sprintf("毎月%d日 %s", r.DayOfMonth, clock)
	}
}

var weekdayNames = [...]string{"日", "月", "火", "水", "木", "金", "土"}

// WeekdayName returns the single-kanji weekday name.
func WeekdayName(d time.Weekday) string {
	if d < time.Sunday || d > time.Saturday {
		return "?"
	}
	return weekdayNames[d]
}

// ParseWeekday accepts 日..土 (optionally with 曜/曜日) or 0-6.
func ParseWeekday(s string) (time.Weekday, bool) {
	s = strings.TrimSpace(timeparse.Normalize(s))
	s = strings.TrimSuffix(strings.TrimSuffix(s, "曜日"), "曜")
	for i, name := range weekdayNames {
		if s == name {
			return time.Weekday(i), true
		}
	}
	if len(s) == 1 && s[0] >= '0' && s[0] <= '6' {
		return time.Weekday(s[0] - '0'), true
	}
	return 0, false
}

func at(y int, mo time.Month, d, h, mi int, loc *time.Location) time.Time {
	return time.Date(y, mo, d, h, mi, 0, 0, loc)
}

// monthDay clamps day to the last day of the month.
func monthDay(y int, mo time.Month, day, h, mi int, loc *time.Location) time.Time {
	first := time.Date(y, mo, 1, 0, 0, 0, 0, loc)
	last := first.AddDate(0, 1, -1).Day()
	if day > last {
		day = last
	}
	return at(first.Year(), first.Month(), day, h, mi, loc)
}

func skipExcluded(c time.Time, exclude []time.Weekday) time.Time {
	for i := 0; i < 7 && models.ContainsWeekday(exclude, c.Weekday()); i++ {
		c = c.AddDate(0, 0, 1)
	}
	return c
}

func distinct(days []time.Weekday) []time.Weekday {
	seen := make(map[time.Weekday]bool)
	var out []time.Weekday
	for _, d := range days {
		if !seen[d] {
			seen[d] = true
			out = append(out, d)
		}
	}
	return out
}
