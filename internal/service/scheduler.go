package service

import (
	"context"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"chatflow/internal/constants"
	"chatflow/internal/models"
	"chatflow/internal/nudge"
	"chatflow/internal/recurrence"
	"chatflow/pkg/telegram"
	"chatflow/pkg/telegram/types"

	"github.com/sirupsen/logrus"
)

// BatchResult summarizes one poll of a scheduler.
type BatchResult struct {
	Due    int
	Fired  int
	Failed int
}

// Job is one poll-driven scheduler. RunOnce never returns an error; a
// failure on one record must not block the others.
type Job interface {
	Name() string
	RunOnce(ctx context.Context) BatchResult
}

// ReminderSource is what the reminder scheduler reads and writes.
type ReminderSource interface {
	ReminderStore
	ChatStore
}

// RecurringSource is what the recurring-task scheduler reads and writes.
type RecurringSource interface {
	RecurringStore
	ChatStore
}

// NudgeSource is what the nudge scheduler reads and writes.
type NudgeSource interface {
	NudgeStore
	ChatStore
}

// ReminderScheduler fires due reminders. One-off reminders are claimed after
// sending; recurring ones advance remindAt or finish past their end date.
type ReminderScheduler struct {
	store     ReminderSource
	messenger Messenger
	zones     *zoneResolver
	logger    *logrus.Logger
	now       func() time.Time
}

func NewReminderScheduler(store ReminderSource, messenger Messenger, zone *time.Location, logger *logrus.Logger) *ReminderScheduler {
	return &ReminderScheduler{
		store:     store,
		messenger: messenger,
		zones:     newZoneResolver(store, zone),
		logger:    logger,
		now:       time.Now,
	}
}

func (s *ReminderScheduler) Name() string { return "reminders" }

func (s *ReminderScheduler) RunOnce(ctx context.Context) BatchResult {
	var res BatchResult
	now := s.now()
	due, err := s.store.DueReminders(ctx, now)
	if err != nil {
		s.logger.WithError(err).Error("Failed to load due reminders")
		res.Failed++
		return res
	}
	res.Due = len(due)

	for _, rem := range due {
		if err := s.fire(ctx, rem, now); err != nil {
			res.Failed++
			s.logger.WithError(err).WithField(LogFieldReminderID, rem.ID).Warn("Failed to fire reminder")
			continue
		}
		res.Fired++
	}
	return res
}

func (s *ReminderScheduler) fire(ctx context.Context, rem *models.Reminder, now time.Time) error {
	text := "⏰ リマインド: " + rem.Message
	if _, err := s.messenger.SendText(ctx, rem.ChatID, text); err != nil {
		if telegram.IsChatUnreachable(err) {
			s.cancel(ctx, rem)
		}
		return fmt.Errorf("send: %w", err)
	}

	if !rem.IsRecurring() {
		if _, err := s.store.ClaimReminder(ctx, rem.ID); err != nil {
			return fmt.Errorf("claim: %w", err)
		}
		if rem.MeetingID != "" {
			if _, err := s.store.MarkMeetingReminderSent(ctx, rem.MeetingID); err != nil {
				s.logger.WithError(err).WithField(LogFieldMeetingID, rem.MeetingID).Warn("Failed to flag meeting reminder")
			}
		}
		return nil
	}

	loc := s.zones.location(ctx, rem.ChatID)
	next, ok := recurrence.NextReminder(rem, now, loc)
	if !ok {
		if _, err := s.store.FinishReminder(ctx, rem.ID, rem.RemindAt); err != nil {
			return fmt.Errorf("finish: %w", err)
		}
		s.logger.WithField(LogFieldReminderID, rem.ID).Info("Recurring reminder reached its end date")
		return nil
	}
	advanced, err := s.store.AdvanceReminder(ctx, rem.ID, rem.RemindAt, next.UTC())
	if err != nil {
		return fmt.Errorf("advance: %w", err)
	}
	if !advanced {
		s.logger.WithField(LogFieldReminderID, rem.ID).Debug("Reminder pointer moved by another poll")
	}
	return nil
}

// cancel stops a reminder whose chat can no longer be reached.
func (s *ReminderScheduler) cancel(ctx context.Context, rem *models.Reminder) {
	if _, err := s.store.CancelReminder(ctx, rem.ID); err != nil {
		s.logger.WithError(err).WithField(LogFieldReminderID, rem.ID).Warn("Failed to cancel reminder")
		return
	}
	s.logger.WithFields(logrus.Fields{
		LogFieldReminderID: rem.ID,
		LogFieldChatID:     SanitizeChatID(ctx, rem.ChatID),
	}).Warn("Cancelled reminder for unreachable chat")
}

// RecurringTaskScheduler posts due recurring tasks with a completion button
// and moves nextSendAt past now.
type RecurringTaskScheduler struct {
	store     RecurringSource
	messenger Messenger
	zones     *zoneResolver
	logger    *logrus.Logger
	now       func() time.Time
}

func NewRecurringTaskScheduler(store RecurringSource, messenger Messenger, zone *time.Location, logger *logrus.Logger) *RecurringTaskScheduler {
	return &RecurringTaskScheduler{
		store:     store,
		messenger: messenger,
		zones:     newZoneResolver(store, zone),
		logger:    logger,
		now:       time.Now,
	}
}

func (s *RecurringTaskScheduler) Name() string { return "recurring_tasks" }

func (s *RecurringTaskScheduler) RunOnce(ctx context.Context) BatchResult {
	var res BatchResult
	now := s.now()
	due, err := s.store.DueRecurringTasks(ctx, now)
	if err != nil {
		s.logger.WithError(err).Error("Failed to load due recurring tasks")
		res.Failed++
		return res
	}
	res.Due = len(due)

	for _, t := range due {
		if err := s.fire(ctx, t, now); err != nil {
			res.Failed++
			s.logger.WithError(err).WithField(LogFieldRecurringID, t.ID).Warn("Failed to fire recurring task")
			continue
		}
		res.Fired++
	}
	return res
}

func (s *RecurringTaskScheduler) fire(ctx context.Context, t *models.RecurringTask, now time.Time) error {
	loc := s.zones.location(ctx, t.ChatID)
	rule := recurrence.RuleOf(t)
	next, err := recurrence.NextAfter(rule, t.NextSendAt, now, loc)
	if err != nil {
		return fmt.Errorf("compute next: %w", err)
	}

	text := fmt.Sprintf("📋 定期タスク: %s\n担当: %s（%s）", t.TaskTitle, t.AssigneeName, recurrence.Describe(rule))
	keyboard := [][]types.InlineKeyboardButton{row(
		button("✅ 完了", cbRecurringDone, t.ID, strconv.FormatInt(t.NextSendAt.Unix(), 10)),
	)}
	if _, err := s.messenger.SendWithButtons(ctx, t.ChatID, text, keyboard); err != nil {
		if telegram.IsChatUnreachable(err) {
			if _, derr := s.store.DeactivateRecurringTask(ctx, t.ID); derr != nil {
				s.logger.WithError(derr).WithField(LogFieldRecurringID, t.ID).Warn("Failed to deactivate recurring task")
			} else {
				s.logger.WithField(LogFieldRecurringID, t.ID).Warn("Deactivated recurring task for unreachable chat")
			}
		}
		return fmt.Errorf("send: %w", err)
	}

	advanced, err := s.store.AdvanceRecurringTask(ctx, t.ID, t.NextSendAt, next.UTC(), now.UTC())
	if err != nil {
		return fmt.Errorf("advance: %w", err)
	}
	s.logger.WithFields(logrus.Fields{
		LogFieldRecurringID: t.ID,
		LogFieldNextAt:      next.UTC(),
		"advanced":          advanced,
	}).Debug("Fired recurring task")
	return nil
}

// NudgeScheduler reminds assignees of overdue tasks along the escalation
// ladder of the nudge package.
type NudgeScheduler struct {
	store     NudgeSource
	messenger Messenger
	zones     *zoneResolver
	logger    *logrus.Logger
	now       func() time.Time
}

func NewNudgeScheduler(store NudgeSource, messenger Messenger, zone *time.Location, logger *logrus.Logger) *NudgeScheduler {
	return &NudgeScheduler{
		store:     store,
		messenger: messenger,
		zones:     newZoneResolver(store, zone),
		logger:    logger,
		now:       time.Now,
	}
}

func (s *NudgeScheduler) Name() string { return "nudges" }

func (s *NudgeScheduler) RunOnce(ctx context.Context) BatchResult {
	var res BatchResult
	now := s.now()
	overdue, err := s.store.OverdueTasks(ctx, now)
	if err != nil {
		s.logger.WithError(err).Error("Failed to load overdue tasks")
		res.Failed++
		return res
	}

	for _, t := range overdue {
		if t.DueAt == nil || t.Status != models.TaskInProgress {
			continue
		}
		d := nudge.ShouldNudge(*t.DueAt, now, t.NudgeLevel, t.LastNudgeAt)
		if !d.Nudge {
			continue
		}
		res.Due++

		loc := s.zones.location(ctx, t.ChatID)
		if _, err := s.messenger.SendWithButtons(ctx, t.ChatID, nudgeText(t, d.NextLevel, loc), completeKeyboard(t.ID)); err != nil {
			res.Failed++
			s.logger.WithError(err).WithField(LogFieldTaskID, t.ID).Warn("Failed to send nudge")
			continue
		}
		if _, err := s.store.RecordNudge(ctx, t.ID, d.NextLevel, now.UTC()); err != nil {
			res.Failed++
			s.logger.WithError(err).WithField(LogFieldTaskID, t.ID).Warn("Failed to record nudge")
			continue
		}
		s.logger.WithFields(logrus.Fields{
			LogFieldTaskID:     t.ID,
			LogFieldNudgeLevel: d.NextLevel,
		}).Info("Nudged overdue task")
		res.Fired++
	}
	return res
}

func nudgeText(t *models.Task, level int, loc *time.Location) string {
	due := t.DueAt.In(loc).Format(deadlineLayout)
	switch {
	case level <= 1:
		return fmt.Sprintf("%s さん、タスク「%s」の期限（%s）を過ぎています。", t.AssigneeName, t.Title, due)
	case level == 2:
		return fmt.Sprintf("%s さん、タスク「%s」の期限（%s）から1日以上経過しています。状況を共有してください。", t.AssigneeName, t.Title, due)
	default:
		return fmt.Sprintf("%s さん、タスク「%s」が期限（%s）から大幅に遅れています。%s さんも確認をお願いします。",
			t.AssigneeName, t.Title, due, t.RequesterName)
	}
}

// CleanupJob deletes records past the retention period.
type CleanupJob struct {
	store         CleanupStore
	retentionDays atomic.Int64
	logger        *logrus.Logger
}

func NewCleanupJob(store CleanupStore, retentionDays int, logger *logrus.Logger) *CleanupJob {
	if retentionDays <= 0 {
		retentionDays = constants.DefaultRetentionDays
	}
	job := &CleanupJob{
		store:  store,
		logger: logger,
	}
	job.retentionDays.Store(int64(retentionDays))
	return job
}

// SetRetentionDays changes the window used by the next run. Non-positive
// values are ignored.
func (s *CleanupJob) SetRetentionDays(days int) {
	if days > 0 {
		s.retentionDays.Store(int64(days))
	}
}

func (s *CleanupJob) Name() string { return "cleanup" }

func (s *CleanupJob) RunOnce(ctx context.Context) BatchResult {
	return s.runCleanup(ctx)
}

func (s *CleanupJob) runCleanup(ctx context.Context) BatchResult {
	days := int(s.retentionDays.Load())
	s.logger.WithField("retentionDays", days).Info("Running scheduled cleanup")

	removed, err := s.store.CleanupOldRecords(ctx, days)
	if err != nil {
		s.logger.WithError(err).Error("Failed to cleanup old records")
		return BatchResult{Failed: 1}
	}
	s.logger.WithField(LogFieldCount, removed).Info("Successfully completed cleanup")
	return BatchResult{Due: int(removed), Fired: int(removed)}
}
