package service

import (
	"context"
	"fmt"
	"time"

	apperrors "chatflow/internal/errors"
	"chatflow/internal/models"
	"chatflow/internal/timeparse"
	"chatflow/internal/validation"

	"github.com/sirupsen/logrus"
)

const (
	deadlineLayout = "1月2日 15:04"
	maxTitleRunes  = 200
)

// handleTask creates a task for the first mentioned person, or the sender,
// and asks for a deadline.
func (e *Engine) handleTask(ctx context.Context, r *request) {
	ev := r.ev
	assignee := ev.Sender()
	mentions := e.peopleMentions(ev)
	if len(mentions) > 0 {
		assignee = mentions[0]
	}

	words := []string{kwTask}
	if len(mentions) > 0 {
		words = append([]string{assignee.Handle()}, words...)
	}
	if e.opts.BotUsername != "" {
		words = append(words, "@"+e.opts.BotUsername)
	}
	title := stripWords(r.text, words...)
	if title == "" {
		e.send(ctx, ev.ChatID, msgTaskNeedsTitle)
		return
	}
	if err := validation.ValidateStringLength(title, "task title", 1, maxTitleRunes); err != nil {
		e.send(ctx, ev.ChatID, msgTaskTitleTooLong)
		return
	}

	task := &models.Task{
		ChatID:        ev.ChatID,
		MessageID:     ev.MessageID,
		RequesterID:   ev.SenderID,
		RequesterName: ev.Sender().Handle(),
		AssigneeID:    assignee.UserID,
		AssigneeName:  assignee.Handle(),
		Title:         title,
		Status:        models.TaskPendingAcceptance,
	}
	if err := e.store.CreateTask(ctx, task); err != nil {
		e.fail(ctx, ev.ChatID, "create task", apperrors.NewDatabaseError("create task", err))
		return
	}

	e.audit(ctx, ev.ChatID, ev.SenderID, "task.create", "task", task.ID, map[string]any{
		"title":    task.Title,
		"assignee": task.AssigneeName,
	})
	e.logger.WithFields(logrus.Fields{
		LogFieldChatID: SanitizeChatID(ctx, ev.ChatID),
		LogFieldTaskID: task.ID,
	}).Info("Created task")

	prompt := fmt.Sprintf("%s さん、タスク「%s」が依頼されました。期限を選んでください。", task.AssigneeName, task.Title)
	if _, err := e.messenger.SendWithButtons(ctx, ev.ChatID, prompt, deadlineKeyboard(task.ID)); err != nil {
		e.logger.WithError(err).WithField(LogFieldTaskID, task.ID).Warn("Failed to send deadline prompt")
	}
}

func (e *Engine) onTaskDeadline(ctx context.Context, ev models.Event, args []string) string {
	taskID, choice := args[0], args[1]
	task, err := e.store.GetTask(ctx, taskID)
	if err != nil {
		e.fail(ctx, ev.ChatID, "load task", apperrors.NewDatabaseError("get task", err))
		return ""
	}
	if task == nil {
		return msgNotFound
	}
	if !task.CanAnswer(ev.SenderID, ev.SenderUsername) {
		return msgTaskOnlyAssignee
	}
	if task.Status != models.TaskPendingAcceptance {
		return msgAlreadyHandled
	}

	loc := e.zones.location(ctx, task.ChatID)
	today := e.now().In(loc)
	var due time.Time
	switch choice {
	case choiceToday:
		due = timeparse.EndOfDay(today, loc)
	case choiceTomorrow:
		due = timeparse.EndOfDay(today.AddDate(0, 0, 1), loc)
	case choice3Days:
		due = timeparse.EndOfDay(today.AddDate(0, 0, 3), loc)
	case choiceCustom:
		e.pending.Put(task.ChatID, awaitingCustomDate{UserID: ev.SenderID, TaskID: task.ID})
		e.clearButtons(ctx, ev)
		e.send(ctx, task.ChatID, msgAskCustomDeadline)
		return ""
	case choiceDecline:
		return e.declineTask(ctx, ev, task)
	default:
		return msgNotAllowed
	}

	e.clearButtons(ctx, ev)
	return e.acceptTask(ctx, ev.SenderID, task, due)
}

// continueCustomDate consumes the date typed after "custom". Unparsable or
// past input re-prompts and keeps the state.
func (e *Engine) continueCustomDate(ctx context.Context, ev models.Event, text string, st awaitingCustomDate) {
	loc := e.zones.location(ctx, ev.ChatID)
	now := e.now()
	m, ok := timeparse.Extract(text, now, loc)
	if !ok {
		e.send(ctx, ev.ChatID, msgRetryDeadline)
		return
	}
	due := m.At
	if m.DateOnly {
		due = timeparse.EndOfDay(m.At, loc)
	}
	if !due.After(now) {
		e.send(ctx, ev.ChatID, msgDeadlineInPast)
		return
	}
	e.pending.Delete(ev.ChatID)

	task, err := e.store.GetTask(ctx, st.TaskID)
	if err != nil {
		e.fail(ctx, ev.ChatID, "load task", apperrors.NewDatabaseError("get task", err))
		return
	}
	if task == nil {
		e.send(ctx, ev.ChatID, msgNotFound)
		return
	}
	if notice := e.acceptTask(ctx, ev.SenderID, task, due); notice == msgAlreadyHandled {
		e.send(ctx, ev.ChatID, notice)
	}
}

func (e *Engine) acceptTask(ctx context.Context, actorID int64, task *models.Task, due time.Time) string {
	ok, err := e.store.AcceptTask(ctx, task.ID, due)
	if err != nil {
		e.fail(ctx, task.ChatID, "accept task", apperrors.NewDatabaseError("accept task", err))
		return ""
	}
	if !ok {
		return msgAlreadyHandled
	}

	e.audit(ctx, task.ChatID, actorID, "task.accept", "task", task.ID, map[string]any{
		"dueAt": due.UTC(),
	})
	e.logger.WithFields(logrus.Fields{
		LogFieldTaskID: task.ID,
		LogFieldDueAt:  due.UTC(),
	}).Info("Accepted task")

	loc := e.zones.location(ctx, task.ChatID)
	msg := fmt.Sprintf("タスク「%s」（担当: %s）の期限を %s に設定しました。完了したらボタンを押してください。",
		task.Title, task.AssigneeName, due.In(loc).Format(deadlineLayout))
	if _, err := e.messenger.SendWithButtons(ctx, task.ChatID, msg, completeKeyboard(task.ID)); err != nil {
		e.logger.WithError(err).WithField(LogFieldTaskID, task.ID).Warn("Failed to send completion button")
	}
	return "期限を設定しました。"
}

func (e *Engine) declineTask(ctx context.Context, ev models.Event, task *models.Task) string {
	ok, err := e.store.RejectTask(ctx, task.ID)
	if err != nil {
		e.fail(ctx, task.ChatID, "reject task", apperrors.NewDatabaseError("reject task", err))
		return ""
	}
	if !ok {
		return msgAlreadyHandled
	}
	e.audit(ctx, task.ChatID, ev.SenderID, "task.reject", "task", task.ID, nil)
	e.clearButtons(ctx, ev)
	e.send(ctx, task.ChatID, fmt.Sprintf("%s さんがタスク「%s」を辞退しました。", ev.Sender().Handle(), task.Title))
	return "辞退しました。"
}

// onTaskComplete is idempotent: completing a completed task reports success
// without side effects.
func (e *Engine) onTaskComplete(ctx context.Context, ev models.Event, args []string) string {
	task, err := e.store.GetTask(ctx, args[0])
	if err != nil {
		e.fail(ctx, ev.ChatID, "load task", apperrors.NewDatabaseError("get task", err))
		return ""
	}
	if task == nil {
		return msgNotFound
	}
	if !task.CanAnswer(ev.SenderID, ev.SenderUsername) {
		return msgTaskOnlyAssignee
	}
	switch task.Status {
	case models.TaskCompleted:
		return msgTaskDone
	case models.TaskPendingAcceptance:
		return msgTaskNotStarted
	case models.TaskRejected:
		return msgAlreadyHandled
	}

	ok, err := e.store.CompleteTask(ctx, task.ID, e.now().UTC())
	if err != nil {
		e.fail(ctx, task.ChatID, "complete task", apperrors.NewDatabaseError("complete task", err))
		return ""
	}
	if !ok {
		return msgTaskDone
	}

	e.audit(ctx, task.ChatID, ev.SenderID, "task.complete", "task", task.ID, map[string]any{
		"nudgeLevel": task.NudgeLevel,
	})
	e.logger.WithField(LogFieldTaskID, task.ID).Info("Completed task")
	e.clearButtons(ctx, ev)
	e.send(ctx, task.ChatID, fmt.Sprintf("🎉 %s さんがタスク「%s」を完了しました。", ev.Sender().Handle(), task.Title))
	return msgTaskDone
}
