package models

import "time"

type TaskStatus string

const (
	TaskPendingAcceptance TaskStatus = "pending_acceptance"
	TaskInProgress        TaskStatus = "in_progress"
	TaskCompleted         TaskStatus = "completed"
	TaskRejected          TaskStatus = "rejected"
)

// Task is a unit of work assigned in a group chat.
// DueAt is only set when the task leaves pending_acceptance.
type Task struct {
	ID            string     `json:"id"`
	ChatID        int64      `json:"chatId"`
	MessageID     int64      `json:"messageId"`
	RequesterID   int64      `json:"requesterId"`
	RequesterName string     `json:"requesterName"`
	AssigneeID    int64      `json:"assigneeId,omitempty"`
	AssigneeName  string     `json:"assigneeName"`
	Title         string     `json:"title"`
	Status        TaskStatus `json:"status"`
	DueAt         *time.Time `json:"dueAt,omitempty"`
	NudgeLevel    int        `json:"nudgeLevel"`
	LastNudgeAt   *time.Time `json:"lastNudgeAt,omitempty"`
	CompletedAt   *time.Time `json:"completedAt,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
	UpdatedAt     time.Time  `json:"updatedAt"`
}

// IsAssignee reports whether the user may act as the assignee.
func (t *Task) IsAssignee(userID int64, username string) bool {
	if t.AssigneeID != 0 && t.AssigneeID == userID {
		return true
	}
	return username != "" && t.AssigneeName == "@"+username
}

// CanAnswer reports whether the user may choose the deadline or decline.
func (t *Task) CanAnswer(userID int64, username string) bool {
	return t.IsAssignee(userID, username) || t.RequesterID == userID
}
