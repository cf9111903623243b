package models

import "time"

type Frequency string

const (
	FrequencyDaily   Frequency = "daily"
	FrequencyWeekly  Frequency = "weekly"
	FrequencyMonthly Frequency = "monthly"
)

// RecurringTask fires a task notice on a fixed local schedule.
// NextSendAt is the only scheduling pointer.
type RecurringTask struct {
	ID           string         `json:"id"`
	ChatID       int64          `json:"chatId"`
	CreatedBy    int64          `json:"createdBy"`
	AssigneeID   int64          `json:"assigneeId,omitempty"`
	AssigneeName string         `json:"assigneeName"`
	TaskTitle    string         `json:"taskTitle"`
	Frequency    Frequency      `json:"frequency"`
	DayOfWeek    time.Weekday   `json:"dayOfWeek"`
	DayOfMonth   int            `json:"dayOfMonth"`
	ExcludeDays  []time.Weekday `json:"excludeDays,omitempty"`
	Hour         int            `json:"hour"`
	Minute       int            `json:"minute"`
	IsActive     bool           `json:"isActive"`
	NextSendAt   time.Time      `json:"nextSendAt"`
	LastSentAt   *time.Time     `json:"lastSentAt,omitempty"`
	CreatedAt    time.Time      `json:"createdAt"`
}

// RecurringTaskCompletion is append-only; one row per acknowledged occurrence.
type RecurringTaskCompletion struct {
	ID              int64     `json:"id"`
	RecurringTaskID string    `json:"recurringTaskId"`
	ChatID          int64     `json:"chatId"`
	CompletedBy     int64     `json:"completedBy"`
	ScheduledAt     time.Time `json:"scheduledAt"`
	CompletedAt     time.Time `json:"completedAt"`
}

// TranslationSession relays a member's messages between two languages.
// TargetLanguage may be "auto" until the first foreign message resolves it.
type TranslationSession struct {
	ChatID         int64     `json:"chatId"`
	UserID         int64     `json:"userId"`
	IsActive       bool      `json:"isActive"`
	MyLanguage     string    `json:"myLanguage"`
	TargetLanguage string    `json:"targetLanguage"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// LanguageAuto is the unresolved target sentinel.
const LanguageAuto = "auto"
