package service

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	apperrors "chatflow/internal/errors"
	"chatflow/internal/models"
	"chatflow/internal/recurrence"
	"chatflow/internal/timeparse"

	"github.com/sirupsen/logrus"
)

type recurringStep int

const (
	stepFrequency recurringStep = iota
	stepExclude
	stepWeekday
	stepMonthDay
	stepTime
	stepTitle
	stepAssignee
)

func (s recurringStep) String() string {
	return [...]string{"frequency", "exclude", "weekday", "month_day", "time", "title", "assignee"}[s]
}

// recurringDraft accumulates the answers of the setup dialog.
type recurringDraft struct {
	Frequency   models.Frequency
	DayOfWeek   time.Weekday
	DayOfMonth  int
	ExcludeDays []time.Weekday
	Hour        int
	Minute      int
	Title       string
}

func (d recurringDraft) rule() recurrence.Rule {
	return recurrence.Rule{
		Frequency:   d.Frequency,
		DayOfWeek:   d.DayOfWeek,
		DayOfMonth:  d.DayOfMonth,
		ExcludeDays: d.ExcludeDays,
		Hour:        d.Hour,
		Minute:      d.Minute,
	}
}

var (
	clockPattern   = regexp.MustCompile(`^(\d{1,2})(?::(\d{2})|時(?:(\d{1,2})分|(半))?)$`)
	handlePattern  = regexp.MustCompile(`^@(\w{1,64})$`)
	noneWords      = map[string]bool{"なし": true, "無し": true, "ない": true, "none": true, "-": true}
	weekdaySetSeps = strings.NewReplacer("曜日", "", "曜", "", ",", "", "、", "", "・", "", " ", "", "と", "", "/", "")
)

var recurringAsk = map[recurringStep]string{
	stepFrequency: msgRecurringAskFrequency,
	stepExclude:   msgRecurringAskExclude,
	stepWeekday:   msgRecurringAskWeekday,
	stepMonthDay:  msgRecurringAskMonthDay,
	stepTime:      msgRecurringAskTime,
	stepTitle:     msgRecurringAskTitle,
	stepAssignee:  msgRecurringAskAssignee,
}

// startRecurringSetup opens the dialog. A frequency in the trigger message
// answers the first step.
func (e *Engine) startRecurringSetup(ctx context.Context, r *request) {
	st := awaitingRecurringStep{UserID: r.ev.SenderID, Step: stepFrequency}
	if f, ok := parseFrequency(stripWords(r.text, kwRecurring)); ok {
		st.Draft.Frequency = f
		st.Step = stepAfterFrequency(f)
	}
	e.pending.Put(r.ev.ChatID, st)
	prompt := recurringAsk[st.Step]
	if st.Step != stepFrequency {
		prompt = "定期タスクを作成します。" + prompt
	}
	e.send(ctx, r.ev.ChatID, prompt)
}

// continueRecurring validates one answer. Invalid input re-prompts at the
// same step.
func (e *Engine) continueRecurring(ctx context.Context, ev models.Event, text string, st awaitingRecurringStep) {
	next, ok := e.applyRecurringAnswer(ev, text, &st)
	if !ok {
		e.pending.Put(ev.ChatID, st)
		e.send(ctx, ev.ChatID, recurringRetry[st.Step])
		return
	}
	if next == stepAssignee+1 {
		e.pending.Delete(ev.ChatID)
		e.finishRecurringSetup(ctx, ev, st.Draft)
		return
	}
	st.Step = next
	e.pending.Put(ev.ChatID, st)
	e.send(ctx, ev.ChatID, recurringAsk[next])
}

// applyRecurringAnswer stores the answer in st and returns the next step.
func (e *Engine) applyRecurringAnswer(ev models.Event, text string, st *awaitingRecurringStep) (recurringStep, bool) {
	d := &st.Draft
	switch st.Step {
	case stepFrequency:
		f, ok := parseFrequency(text)
		if !ok {
			return st.Step, false
		}
		d.Frequency = f
		return stepAfterFrequency(f), true
	case stepExclude:
		days, ok := parseWeekdaySet(text)
		if !ok || len(days) >= 7 {
			return st.Step, false
		}
		d.ExcludeDays = days
		return stepTime, true
	case stepWeekday:
		wd, ok := recurrence.ParseWeekday(text)
		if !ok {
			return st.Step, false
		}
		d.DayOfWeek = wd
		return stepTime, true
	case stepMonthDay:
		n, err := strconv.Atoi(strings.TrimSuffix(strings.TrimSpace(timeparse.Normalize(text)), "日"))
		if err != nil || n < 1 || n > 31 {
			return st.Step, false
		}
		d.DayOfMonth = n
		return stepTime, true
	case stepTime:
		h, m, ok := parseClock(text)
		if !ok {
			return st.Step, false
		}
		d.Hour, d.Minute = h, m
		return stepTitle, true
	case stepTitle:
		title := tidy(timeparse.Normalize(text))
		if title == "" {
			return st.Step, false
		}
		d.Title = title
		return stepAssignee, true
	default:
		if _, ok := e.recurringAssignee(ev, text); !ok {
			return st.Step, false
		}
		return stepAssignee + 1, true
	}
}

func stepAfterFrequency(f models.Frequency) recurringStep {
	switch f {
	case models.FrequencyDaily:
		return stepExclude
	case models.FrequencyWeekly:
		return stepWeekday
	default:
		return stepMonthDay
	}
}

func parseFrequency(text string) (models.Frequency, bool) {
	t := fold(text)
	switch {
	case strings.Contains(t, "毎日") || strings.Contains(t, "daily"):
		return models.FrequencyDaily, true
	case strings.Contains(t, "毎週") || strings.Contains(t, "weekly"):
		return models.FrequencyWeekly, true
	case strings.Contains(t, "毎月") || strings.Contains(t, "monthly"):
		return models.FrequencyMonthly, true
	}
	return "", false
}

// parseWeekdaySet reads "土日", "月,水" or "0,6"; "なし" is the empty set.
func parseWeekdaySet(text string) ([]time.Weekday, bool) {
	t := fold(text)
	if noneWords[t] {
		return nil, true
	}
	t = weekdaySetSeps.Replace(t)
	if t == "" {
		return nil, false
	}
	seen := make(map[time.Weekday]bool)
	var days []time.Weekday
	for _, c := range t {
		wd, ok := recurrence.ParseWeekday(string(c))
		if !ok {
			return nil, false
		}
		if !seen[wd] {
			seen[wd] = true
			days = append(days, wd)
		}
	}
	return days, true
}

// parseClock reads "9:00", "18時", "18時30分" or "9時半".
func parseClock(text string) (int, int, bool) {
	m := clockPattern.FindStringSubmatch(strings.TrimSpace(timeparse.Normalize(text)))
	if m == nil {
		return 0, 0, false
	}
	h, _ := strconv.Atoi(m[1])
	mi := 0
	switch {
	case m[2] != "":
		mi, _ = strconv.Atoi(m[2])
	case m[3] != "":
		mi, _ = strconv.Atoi(m[3])
	case m[4] != "":
		mi = 30
	}
	if h > 23 || mi > 59 {
		return 0, 0, false
	}
	return h, mi, true
}

// recurringAssignee prefers a mention entity and falls back to a typed
// "@name".
func (e *Engine) recurringAssignee(ev models.Event, text string) (models.Mention, bool) {
	if people := e.peopleMentions(ev); len(people) > 0 {
		return people[0], true
	}
	m := handlePattern.FindStringSubmatch(strings.TrimSpace(timeparse.Normalize(text)))
	if m == nil {
		return models.Mention{}, false
	}
	return models.Mention{Username: m[1]}, true
}

func (e *Engine) finishRecurringSetup(ctx context.Context, ev models.Event, d recurringDraft) {
	assignee, _ := e.recurringAssignee(ev, ev.Text)
	loc := e.zones.location(ctx, ev.ChatID)
	rule := d.rule()
	first, err := recurrence.First(rule, e.now(), loc)
	if err != nil {
		e.fail(ctx, ev.ChatID, "schedule recurring task", apperrors.NewValidationError("recurring rule", string(d.Frequency), err.Error()))
		return
	}

	task := &models.RecurringTask{
		ChatID:       ev.ChatID,
		CreatedBy:    ev.SenderID,
		AssigneeID:   assignee.UserID,
		AssigneeName: assignee.Handle(),
		TaskTitle:    d.Title,
		Frequency:    d.Frequency,
		DayOfWeek:    d.DayOfWeek,
		DayOfMonth:   d.DayOfMonth,
		ExcludeDays:  d.ExcludeDays,
		Hour:         d.Hour,
		Minute:       d.Minute,
		IsActive:     true,
		NextSendAt:   first.UTC(),
	}
	if err := e.store.CreateRecurringTask(ctx, task); err != nil {
		e.fail(ctx, ev.ChatID, "create recurring task", apperrors.NewDatabaseError("create recurring task", err))
		return
	}

	e.audit(ctx, ev.ChatID, ev.SenderID, "recurring.create", "recurring_task", task.ID, map[string]any{
		"title":      task.TaskTitle,
		"schedule":   recurrence.Describe(rule),
		"nextSendAt": task.NextSendAt,
	})
	e.logger.WithFields(logrus.Fields{
		LogFieldChatID:      SanitizeChatID(ctx, ev.ChatID),
		LogFieldRecurringID: task.ID,
		LogFieldNextAt:      task.NextSendAt,
	}).Info("Created recurring task")

	e.send(ctx, ev.ChatID, fmt.Sprintf("定期タスク「%s」を登録しました。\n担当: %s\n頻度: %s\n初回: %s",
		task.TaskTitle, task.AssigneeName, recurrence.Describe(rule), formatMeetingTime(first, loc)))
}

// onRecurringDone appends a completion for one occurrence. Clicking twice
// on the same occurrence records once.
func (e *Engine) onRecurringDone(ctx context.Context, ev models.Event, args []string) string {
	unix, err := strconv.ParseInt(args[1], 10, 64)
	if err != nil {
		return msgNotAllowed
	}
	task, err := e.store.GetRecurringTask(ctx, args[0])
	if err != nil {
		e.fail(ctx, ev.ChatID, "load recurring task", apperrors.NewDatabaseError("get recurring task", err))
		return ""
	}
	if task == nil {
		return msgNotFound
	}
	if !recurringAssigneeMatches(task, ev) {
		return msgTaskOnlyAssignee
	}

	scheduled := time.Unix(unix, 0).UTC()
	ok, err := e.store.RecordCompletion(ctx, &models.RecurringTaskCompletion{
		RecurringTaskID: task.ID,
		ChatID:          task.ChatID,
		CompletedBy:     ev.SenderID,
		ScheduledAt:     scheduled,
		CompletedAt:     e.now().UTC(),
	})
	if err != nil {
		e.fail(ctx, ev.ChatID, "record completion", apperrors.NewDatabaseError("record completion", err))
		return ""
	}
	if !ok {
		return msgTaskDone
	}

	e.audit(ctx, task.ChatID, ev.SenderID, "recurring.complete", "recurring_task", task.ID, map[string]any{
		"scheduledAt": scheduled,
	})
	e.clearButtons(ctx, ev)
	e.send(ctx, task.ChatID, fmt.Sprintf("✅ %s さんが「%s」を完了しました。", ev.Sender().Handle(), task.TaskTitle))
	return msgRecurringDone
}

func recurringAssigneeMatches(t *models.RecurringTask, ev models.Event) bool {
	if t.CreatedBy == ev.SenderID {
		return true
	}
	if t.AssigneeID != 0 && t.AssigneeID == ev.SenderID {
		return true
	}
	return ev.SenderUsername != "" && strings.EqualFold(t.AssigneeName, "@"+ev.SenderUsername)
}
