package database

import (
	"context"
	"database/sql"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"chatflow/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestDB(t *testing.T) *Database {
	t.Helper()
	db, err := New(filepath.Join(t.TempDir(), "chatflow.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func at(y int, mo time.Month, d, h, mi int) time.Time {
	return time.Date(y, mo, d, h, mi, 0, 0, time.UTC)
}

func TestNew_InvalidPath(t *testing.T) {
	for _, p := range []string{"", "\x00db", "../../escape.db"} {
		_, err := New(p)
		assert.Error(t, err, "path %q", p)
	}
}

func TestDatabase_Ping(t *testing.T) {
	db := setupTestDB(t)
	assert.NoError(t, db.Ping(context.Background()))
}

func TestChats(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	got, err := db.GetChat(ctx, -100)
	require.NoError(t, err)
	assert.Nil(t, got)

	require.NoError(t, db.SaveChat(ctx, &models.ChatContext{
		ChatID: -100, ChatType: models.ChatTypeSupergroup, Title: "営業部", TenantID: "acme",
	}))
	require.NoError(t, db.SaveChat(ctx, &models.ChatContext{
		ChatID: -100, ChatType: models.ChatTypeSupergroup, Title: "営業部2", TenantID: "other",
	}))

	got, err = db.GetChat(ctx, -100)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "営業部2", got.Title)
	assert.Equal(t, "acme", got.TenantID, "re-registration keeps the tenant")
	assert.False(t, got.RegisteredAt.IsZero())
}

func TestTenantSettings(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	s, err := db.GetTenantSettings(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, models.DefaultTenantSettings("acme"), *s)

	s.WebSearchEnabled = true
	s.MeetingDurationMinutes = 30
	require.NoError(t, db.SaveTenantSettings(ctx, s))

	s2, err := db.GetTenantSettings(ctx, "acme")
	require.NoError(t, err)
	assert.True(t, s2.WebSearchEnabled)
	assert.Equal(t, 30, s2.MeetingDurationMinutes)
}

func TestTaskLifecycle(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	task := &models.Task{
		ChatID: -1, MessageID: 10, RequesterID: 1, RequesterName: "@boss",
		AssigneeName: "@sam", Title: "見積書を送る",
	}
	require.NoError(t, db.CreateTask(ctx, task))
	require.NotEmpty(t, task.ID)

	got, err := db.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskPendingAcceptance, got.Status)
	assert.Nil(t, got.DueAt)

	due := at(2025, time.March, 11, 14, 59)
	ok, err := db.AcceptTask(ctx, task.ID, due)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = db.AcceptTask(ctx, task.ID, due.Add(time.Hour))
	require.NoError(t, err)
	assert.False(t, ok, "second deadline choice is ignored")

	ok, err = db.RejectTask(ctx, task.ID)
	require.NoError(t, err)
	assert.False(t, ok, "in-progress tasks cannot be declined")

	got, err = db.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskInProgress, got.Status)
	require.NotNil(t, got.DueAt)
	assert.True(t, due.Equal(*got.DueAt))

	ok, err = db.CompleteTask(ctx, task.ID, due)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = db.CompleteTask(ctx, task.ID, due)
	require.NoError(t, err)
	assert.False(t, ok, "completion is idempotent")
}

func TestTask_ConcurrentCompletion(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	task := &models.Task{ChatID: -1, RequesterID: 1, AssigneeName: "@sam", Title: "x"}
	require.NoError(t, db.CreateTask(ctx, task))
	_, err := db.AcceptTask(ctx, task.ID, at(2025, 3, 11, 0, 0))
	require.NoError(t, err)

	var mu sync.Mutex
	wins := 0
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := db.CompleteTask(ctx, task.ID, time.Now())
			if err == nil && ok {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
}

func TestRejectTask(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	task := &models.Task{ChatID: -1, RequesterID: 1, AssigneeName: "@sam", Title: "x"}
	require.NoError(t, db.CreateTask(ctx, task))

	ok, err := db.RejectTask(ctx, task.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = db.AcceptTask(ctx, task.ID, at(2025, 3, 11, 0, 0))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestOverdueTasksAndNudges(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	now := at(2025, time.March, 12, 0, 0)

	overdue := &models.Task{ChatID: -1, RequesterID: 1, AssigneeName: "@a", Title: "late"}
	future := &models.Task{ChatID: -1, RequesterID: 1, AssigneeName: "@b", Title: "fine"}
	pending := &models.Task{ChatID: -1, RequesterID: 1, AssigneeName: "@c", Title: "unanswered"}
	for _, task := range []*models.Task{overdue, future, pending} {
		require.NoError(t, db.CreateTask(ctx, task))
	}
	_, err := db.AcceptTask(ctx, overdue.ID, now.Add(-time.Hour))
	require.NoError(t, err)
	_, err = db.AcceptTask(ctx, future.ID, now.Add(time.Hour))
	require.NoError(t, err)

	tasks, err := db.OverdueTasks(ctx, now)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, overdue.ID, tasks[0].ID)

	ok, err := db.RecordNudge(ctx, overdue.ID, 1, now)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = db.RecordNudge(ctx, overdue.ID, 1, now)
	require.NoError(t, err)
	assert.False(t, ok, "the same level is recorded once")

	got, err := db.GetTask(ctx, overdue.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.NudgeLevel)
	require.NotNil(t, got.LastNudgeAt)
	assert.True(t, now.Equal(*got.LastNudgeAt))

	open, err := db.OpenTasks(ctx, -1)
	require.NoError(t, err)
	assert.Len(t, open, 3)
}

func TestMeetings(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	m := &models.Meeting{
		ChatID: -1, OrganizerID: 1, Title: "定例", MeetingType: models.MeetingOnline,
		MeetUrlOrLocation: "https://meet.example/abc", StartAt: at(2025, 3, 11, 6, 0), EndAt: at(2025, 3, 11, 7, 0),
		Attendees: []string{"@a", "@b"},
	}
	require.NoError(t, db.CreateMeeting(ctx, m))

	got, err := db.GetMeeting(ctx, m.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, []string{"@a", "@b"}, got.Attendees)
	assert.Equal(t, models.MeetingScheduled, got.Status)

	ok, err := db.MarkMeetingReminderSent(ctx, m.ID)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = db.MarkMeetingReminderSent(ctx, m.ID)
	require.NoError(t, err)
	assert.False(t, ok)

	list, err := db.UpcomingMeetings(ctx, -1, at(2025, 3, 11, 0, 0), at(2025, 3, 12, 0, 0))
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestDrafts_SingleEditor(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	first := &models.Draft{OwnerID: 7, DraftText: "一つ目", TargetChatID: -1}
	second := &models.Draft{OwnerID: 7, DraftText: "二つ目", TargetChatID: -1}
	require.NoError(t, db.CreateDraft(ctx, first))
	require.NoError(t, db.CreateDraft(ctx, second))

	ok, err := db.BeginEditing(ctx, first.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = db.BeginEditing(ctx, second.ID)
	require.NoError(t, err)
	assert.False(t, ok, "owner already has a draft in editing")

	editing, err := db.EditingDraft(ctx, 7)
	require.NoError(t, err)
	require.NotNil(t, editing)
	assert.Equal(t, first.ID, editing.ID)

	ok, err = db.ResolveDraft(ctx, first.ID, models.DraftApproved)
	require.NoError(t, err)
	assert.False(t, ok, "an editing draft cannot be posted")

	ok, err = db.ReviseDraft(ctx, first.ID, "改訂版")
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := db.GetDraft(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, "改訂版", got.DraftText)
	assert.Equal(t, models.DraftPendingApproval, got.Status)

	ok, err = db.ResolveDraft(ctx, first.ID, models.DraftApproved)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = db.ResolveDraft(ctx, first.ID, models.DraftRejected)
	require.NoError(t, err)
	assert.False(t, ok, "approved is terminal")

	_, err = db.ResolveDraft(ctx, second.ID, models.DraftEditing)
	assert.Error(t, err)

	none, err := db.EditingDraft(ctx, 8)
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestReminders(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	now := at(2025, time.March, 10, 1, 0)

	oneShot := &models.Reminder{ChatID: -1, UserID: 1, Message: "資料提出", RemindAt: now.Add(-time.Minute)}
	later := &models.Reminder{ChatID: -1, UserID: 1, Message: "later", RemindAt: now.Add(time.Hour)}
	end := at(2025, time.March, 20, 0, 0)
	daily := &models.Reminder{
		ChatID: -1, UserID: 1, Message: "日報", RemindAt: now,
		RepeatType: models.RepeatDaily, RepeatDays: []time.Weekday{time.Saturday, time.Sunday}, RepeatEndDate: &end,
	}
	for _, r := range []*models.Reminder{oneShot, later, daily} {
		require.NoError(t, db.CreateReminder(ctx, r))
	}

	due, err := db.DueReminders(ctx, now)
	require.NoError(t, err)
	require.Len(t, due, 2)
	assert.Equal(t, oneShot.ID, due[0].ID)
	assert.Equal(t, []time.Weekday{time.Sunday, time.Saturday}, due[1].RepeatDays)
	require.NotNil(t, due[1].RepeatEndDate)

	ok, err := db.ClaimReminder(ctx, oneShot.ID)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = db.ClaimReminder(ctx, oneShot.ID)
	require.NoError(t, err)
	assert.False(t, ok)

	next := now.Add(24 * time.Hour)
	ok, err = db.AdvanceReminder(ctx, daily.ID, now, next)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = db.AdvanceReminder(ctx, daily.ID, now, next)
	require.NoError(t, err)
	assert.False(t, ok, "stale pointer does not advance twice")

	got, err := db.GetReminder(ctx, daily.ID)
	require.NoError(t, err)
	assert.True(t, next.Equal(got.RemindAt))
	assert.Equal(t, models.ReminderPending, got.Status)

	ok, err = db.FinishReminder(ctx, daily.ID, next)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = db.CancelReminder(ctx, later.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	pending, err := db.PendingReminders(ctx, -1, 1)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestReminders_MonthlyAnchorRoundTrip(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	monthly := &models.Reminder{
		ChatID: -1, UserID: 1, Message: "月末締め", RemindAt: at(2025, time.January, 31, 0, 0),
		RepeatType: models.RepeatMonthly, RepeatDayOfMonth: 31,
	}
	require.NoError(t, db.CreateReminder(ctx, monthly))

	got, err := db.GetReminder(ctx, monthly.ID)
	require.NoError(t, err)
	assert.Equal(t, 31, got.RepeatDayOfMonth)
}

func TestNew_AddsMissingReminderColumn(t *testing.T) {
	path := filepath.Join(t.TempDir(), "old.db")
	old, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	_, err = old.Exec(`CREATE TABLE reminders (
		id TEXT PRIMARY KEY,
		chat_id INTEGER NOT NULL,
		user_id INTEGER NOT NULL,
		message TEXT NOT NULL,
		remind_at DATETIME NOT NULL,
		status TEXT NOT NULL,
		repeat_type TEXT NOT NULL DEFAULT 'none',
		repeat_days TEXT,
		repeat_end_date DATETIME,
		event_name TEXT,
		reminder_minutes_before INTEGER,
		meeting_id TEXT,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`)
	require.NoError(t, err)
	require.NoError(t, old.Close())

	db, err := New(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	ctx := context.Background()
	rem := &models.Reminder{
		ChatID: -1, UserID: 1, Message: "家賃", RemindAt: at(2025, time.March, 31, 0, 0),
		RepeatType: models.RepeatMonthly, RepeatDayOfMonth: 31,
	}
	require.NoError(t, db.CreateReminder(ctx, rem))
	got, err := db.GetReminder(ctx, rem.ID)
	require.NoError(t, err)
	assert.Equal(t, 31, got.RepeatDayOfMonth)

	// Opening again finds the column and leaves it alone.
	require.NoError(t, db.Close())
	again, err := New(path)
	require.NoError(t, err)
	require.NoError(t, again.Close())
}

func TestRecurringTasks(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	first := at(2025, time.March, 17, 0, 0)
	rt := &models.RecurringTask{
		ChatID: -1, CreatedBy: 1, AssigneeName: "@sam", TaskTitle: "週報", Frequency: models.FrequencyWeekly,
		DayOfWeek: time.Monday, Hour: 9, IsActive: true, NextSendAt: first,
		ExcludeDays: []time.Weekday{time.Saturday},
	}
	require.NoError(t, db.CreateRecurringTask(ctx, rt))

	due, err := db.DueRecurringTasks(ctx, first.Add(-time.Second))
	require.NoError(t, err)
	assert.Empty(t, due)

	due, err = db.DueRecurringTasks(ctx, first)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, time.Monday, due[0].DayOfWeek)
	assert.Equal(t, []time.Weekday{time.Saturday}, due[0].ExcludeDays)

	next := first.AddDate(0, 0, 7)
	ok, err := db.AdvanceRecurringTask(ctx, rt.ID, first, next, first)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = db.AdvanceRecurringTask(ctx, rt.ID, first, next, first)
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := db.GetRecurringTask(ctx, rt.ID)
	require.NoError(t, err)
	assert.True(t, next.Equal(got.NextSendAt))
	require.NotNil(t, got.LastSentAt)

	c := &models.RecurringTaskCompletion{RecurringTaskID: rt.ID, ChatID: -1, CompletedBy: 2, ScheduledAt: first}
	ok, err = db.RecordCompletion(ctx, c)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = db.RecordCompletion(ctx, &models.RecurringTaskCompletion{
		RecurringTaskID: rt.ID, ChatID: -1, CompletedBy: 3, ScheduledAt: first,
	})
	require.NoError(t, err)
	assert.False(t, ok, "one completion per occurrence")

	list, err := db.ListRecurringTasks(ctx, -1)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	ok, err = db.DeactivateRecurringTask(ctx, rt.ID)
	require.NoError(t, err)
	assert.True(t, ok)
	due, err = db.DueRecurringTasks(ctx, next.AddDate(1, 0, 0))
	require.NoError(t, err)
	assert.Empty(t, due)
}

func TestTranslationSessions(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	s := &models.TranslationSession{ChatID: -1, UserID: 1, IsActive: true, MyLanguage: "ja", TargetLanguage: models.LanguageAuto}
	require.NoError(t, db.SaveTranslationSession(ctx, s))

	s.TargetLanguage = "en"
	require.NoError(t, db.SaveTranslationSession(ctx, s))

	got, err := db.GetTranslationSession(ctx, -1, 1)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "en", got.TargetLanguage)
	assert.True(t, got.IsActive)

	other := &models.TranslationSession{ChatID: -1, UserID: 2, IsActive: true, MyLanguage: "en", TargetLanguage: "ja"}
	require.NoError(t, db.SaveTranslationSession(ctx, other))
	active, err := db.ActiveTranslationSessions(ctx, -1)
	require.NoError(t, err)
	assert.Len(t, active, 2)

	ok, err := db.EndTranslationSession(ctx, -1, 1)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = db.EndTranslationSession(ctx, -1, 1)
	require.NoError(t, err)
	assert.False(t, ok)

	active, err = db.ActiveTranslationSessions(ctx, -1)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, int64(2), active[0].UserID)
}

func TestAuditAndCleanup(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	entry := &models.AuditEntry{TenantID: "acme", ActorID: 1, Action: "task.create", ObjectType: "task", ObjectID: "t1"}
	require.NoError(t, db.InsertAudit(ctx, entry))
	assert.NotZero(t, entry.ID)

	old := time.Now().AddDate(0, 0, -60)
	require.NoError(t, db.InsertAudit(ctx, &models.AuditEntry{
		TenantID: "acme", ActorID: 1, Action: "task.create", ObjectType: "task", ObjectID: "t0", CreatedAt: old,
	}))
	stale := &models.Reminder{ChatID: -1, UserID: 1, Message: "old", RemindAt: old, Status: models.ReminderSent, CreatedAt: old}
	require.NoError(t, db.CreateReminder(ctx, stale))
	keep := &models.Reminder{ChatID: -1, UserID: 1, Message: "still pending", RemindAt: old, CreatedAt: old}
	require.NoError(t, db.CreateReminder(ctx, keep))

	removed, err := db.CleanupOldRecords(ctx, 30)
	require.NoError(t, err)
	assert.Equal(t, int64(2), removed)

	got, err := db.GetReminder(ctx, keep.ID)
	require.NoError(t, err)
	assert.NotNil(t, got, "pending reminders survive cleanup")

	_, err = db.CleanupOldRecords(ctx, 0)
	assert.Error(t, err)
}

func TestDatabase_EncryptedColumns(t *testing.T) {
	t.Setenv(encryptionEnableEnv, "true")
	t.Setenv(encryptionSecretEnv, "an-encryption-secret-that-is-long-enough")

	db := setupTestDB(t)
	ctx := context.Background()

	d := &models.Draft{OwnerID: 1, DraftText: "社外秘の下書き", TargetChatID: -1}
	require.NoError(t, db.CreateDraft(ctx, d))

	var raw string
	require.NoError(t, db.db.QueryRowContext(ctx, `SELECT draft_text FROM drafts WHERE id = ?`, d.ID).Scan(&raw))
	assert.True(t, strings.HasPrefix(raw, sealedPrefix))
	assert.NotContains(t, raw, d.DraftText)

	got, err := db.GetDraft(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, "社外秘の下書き", got.DraftText)
}

func TestDatabase_ClosedDB(t *testing.T) {
	db, err := New(filepath.Join(t.TempDir(), "closed.db"))
	require.NoError(t, err)
	require.NoError(t, db.Close())

	_, err = db.GetTask(context.Background(), "x")
	assert.Error(t, err)
	err = db.CreateTask(context.Background(), &models.Task{Title: "x", AssigneeName: "@a"})
	assert.Error(t, err)
}
