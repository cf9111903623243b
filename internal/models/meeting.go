package models

import "time"

type MeetingType string

const (
	MeetingOnline   MeetingType = "online"
	MeetingInPerson MeetingType = "in_person"
)

type MeetingStatus string

const (
	MeetingScheduled MeetingStatus = "scheduled"
	MeetingCancelled MeetingStatus = "cancelled"
)

// Meeting is persisted once the format has been chosen.
type Meeting struct {
	ID                string        `json:"id"`
	ChatID            int64         `json:"chatId"`
	OrganizerID       int64         `json:"organizerId"`
	Title             string        `json:"title"`
	MeetingType       MeetingType   `json:"meetingType"`
	MeetUrlOrLocation string        `json:"meetUrlOrLocation"`
	CalendarEventID   string        `json:"calendarEventId,omitempty"`
	StartAt           time.Time     `json:"startAt"`
	EndAt             time.Time     `json:"endAt"`
	Status            MeetingStatus `json:"status"`
	ReminderSent      bool          `json:"reminderSent"`
	Attendees         []string      `json:"attendees"`
	CreatedAt         time.Time     `json:"createdAt"`
}

// MeetingDraft is what the meeting trigger extracted before a format was picked.
type MeetingDraft struct {
	Key         string    `json:"key"`
	ChatID      int64     `json:"chatId"`
	OrganizerID int64     `json:"organizerId"`
	Title       string    `json:"title"`
	StartAt     time.Time `json:"startAt"`
	EndAt       time.Time `json:"endAt"`
	Attendees   []string  `json:"attendees"`
}
