package models

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

type ReminderStatus string

const (
	ReminderPending   ReminderStatus = "pending"
	ReminderSent      ReminderStatus = "sent"
	ReminderCancelled ReminderStatus = "cancelled"
)

type RepeatType string

const (
	RepeatNone    RepeatType = "none"
	RepeatDaily   RepeatType = "daily"
	RepeatWeekly  RepeatType = "weekly"
	RepeatMonthly RepeatType = "monthly"
)

// Reminder is a one-off or recurring notification. For recurring ones,
// RemindAt is advanced after each firing and the status stays pending.
// RepeatDays is the weekday set for weekly reminders and the exclusion set
// for daily ones. RepeatDayOfMonth anchors monthly reminders so a date
// clamped in a short month returns to the original day afterwards.
type Reminder struct {
	ID                    string         `json:"id"`
	ChatID                int64          `json:"chatId"`
	UserID                int64          `json:"userId"`
	Message               string         `json:"message"`
	RemindAt              time.Time      `json:"remindAt"`
	Status                ReminderStatus `json:"status"`
	RepeatType            RepeatType     `json:"repeatType"`
	RepeatDays            []time.Weekday `json:"repeatDays,omitempty"`
	RepeatDayOfMonth      int            `json:"repeatDayOfMonth,omitempty"`
	RepeatEndDate         *time.Time     `json:"repeatEndDate,omitempty"`
	EventName             string         `json:"eventName,omitempty"`
	ReminderMinutesBefore int            `json:"reminderMinutesBefore,omitempty"`
	MeetingID             string         `json:"meetingId,omitempty"`
	CreatedAt             time.Time      `json:"createdAt"`
}

// IsRecurring reports whether firing re-arms the reminder.
func (r *Reminder) IsRecurring() bool {
	return r.RepeatType != "" && r.RepeatType != RepeatNone
}

// FormatWeekdays renders a weekday set as a sorted CSV of 0-6.
func FormatWeekdays(days []time.Weekday) string {
	if len(days) == 0 {
		return ""
	}
	nums := make([]int, 0, len(days))
	seen := make(map[time.Weekday]bool)
	for _, d := range days {
		if !seen[d] {
			seen[d] = true
			nums = append(nums, int(d))
		}
	}
	sort.Ints(nums)
	parts := make([]string, len(nums))
	for i, n := range nums {
		parts[i] = strconv.Itoa(n)
	}
	return strings.Join(parts, ",")
}

// ParseWeekdays is the inverse of FormatWeekdays.
func ParseWeekdays(csv string) ([]time.Weekday, error) {
	csv = strings.TrimSpace(csv)
	if csv == "" {
		return nil, nil
	}
	var days []time.Weekday
	for _, p := range strings.Split(csv, ",") {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil || n < 0 || n > 6 {
			return nil, fmt.Errorf("invalid weekday %q", p)
		}
		days = append(days, time.Weekday(n))
	}
	return days, nil
}

// ContainsWeekday reports whether d is in days.
func ContainsWeekday(days []time.Weekday, d time.Weekday) bool {
	for _, x := range days {
		if x == d {
			return true
		}
	}
	return false
}
