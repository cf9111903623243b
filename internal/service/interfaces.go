package service

import (
	"context"
	"time"

	"chatflow/internal/ai"
	"chatflow/internal/calendar"
	"chatflow/internal/dedup"
	"chatflow/internal/models"
	"chatflow/pkg/telegram"
)

// Messenger is the outbound chat gateway.
type Messenger = telegram.Client

// ChatStore reads chat bindings and tenant settings.
type ChatStore interface {
	GetChat(ctx context.Context, chatID int64) (*models.ChatContext, error)
	SaveChat(ctx context.Context, c *models.ChatContext) error
	GetTenantSettings(ctx context.Context, tenantID string) (*models.TenantSettings, error)
}

type TaskStore interface {
	CreateTask(ctx context.Context, t *models.Task) error
	GetTask(ctx context.Context, id string) (*models.Task, error)
	AcceptTask(ctx context.Context, id string, dueAt time.Time) (bool, error)
	RejectTask(ctx context.Context, id string) (bool, error)
	CompleteTask(ctx context.Context, id string, at time.Time) (bool, error)
}

// NudgeStore is what the nudge scheduler needs.
type NudgeStore interface {
	OverdueTasks(ctx context.Context, now time.Time) ([]*models.Task, error)
	RecordNudge(ctx context.Context, id string, level int, at time.Time) (bool, error)
}

type MeetingStore interface {
	CreateMeeting(ctx context.Context, m *models.Meeting) error
	GetMeeting(ctx context.Context, id string) (*models.Meeting, error)
}

type DraftStore interface {
	CreateDraft(ctx context.Context, dr *models.Draft) error
	GetDraft(ctx context.Context, id string) (*models.Draft, error)
	EditingDraft(ctx context.Context, ownerID int64) (*models.Draft, error)
	BeginEditing(ctx context.Context, id string) (bool, error)
	ReviseDraft(ctx context.Context, id, text string) (bool, error)
	ResolveDraft(ctx context.Context, id string, to models.DraftStatus) (bool, error)
}

// ReminderStore is shared by the AI reminder tool, the meeting reminder
// offer and the reminder scheduler.
type ReminderStore interface {
	CreateReminder(ctx context.Context, r *models.Reminder) error
	DueReminders(ctx context.Context, now time.Time) ([]*models.Reminder, error)
	ClaimReminder(ctx context.Context, id string) (bool, error)
	AdvanceReminder(ctx context.Context, id string, prev, next time.Time) (bool, error)
	FinishReminder(ctx context.Context, id string, prev time.Time) (bool, error)
	CancelReminder(ctx context.Context, id string) (bool, error)
	MarkMeetingReminderSent(ctx context.Context, id string) (bool, error)
}

type RecurringStore interface {
	CreateRecurringTask(ctx context.Context, t *models.RecurringTask) error
	GetRecurringTask(ctx context.Context, id string) (*models.RecurringTask, error)
	DueRecurringTasks(ctx context.Context, now time.Time) ([]*models.RecurringTask, error)
	AdvanceRecurringTask(ctx context.Context, id string, prev, next, sentAt time.Time) (bool, error)
	DeactivateRecurringTask(ctx context.Context, id string) (bool, error)
	RecordCompletion(ctx context.Context, c *models.RecurringTaskCompletion) (bool, error)
}

type TranslationStore interface {
	GetTranslationSession(ctx context.Context, chatID, userID int64) (*models.TranslationSession, error)
	SaveTranslationSession(ctx context.Context, s *models.TranslationSession) error
	EndTranslationSession(ctx context.Context, chatID, userID int64) (bool, error)
	ActiveTranslationSessions(ctx context.Context, chatID int64) ([]*models.TranslationSession, error)
}

type AuditStore interface {
	InsertAudit(ctx context.Context, e *models.AuditEntry) error
}

// CleanupStore is what the retention scheduler needs.
type CleanupStore interface {
	CleanupOldRecords(ctx context.Context, retentionDays int) (int64, error)
}

// Store is the full persistence surface the engine consumes.
type Store interface {
	ChatStore
	TaskStore
	NudgeStore
	MeetingStore
	DraftStore
	ReminderStore
	RecurringStore
	TranslationStore
	AuditStore
}

// AI bundles the model backend with its optional web search.
type AI struct {
	Provider ai.Provider
	// Searcher may be nil; drafting then never augments.
	Searcher ai.Searcher
}

// Deps are the collaborators of the Engine.
type Deps struct {
	Store     Store
	Messenger Messenger
	AI        AI
	Calendar  calendar.Client
	Dedup     dedup.Store
}
