package service

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"chatflow/internal/calendar"
	"chatflow/internal/constants"
	apperrors "chatflow/internal/errors"
	"chatflow/internal/models"
	"chatflow/internal/timeparse"
	"chatflow/pkg/telegram/types"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const meetingLayout = "1月2日(%s) 15:04"

var (
	honorificPattern = regexp.MustCompile(`([\p{Han}\p{Katakana}A-Za-z][\p{Han}\p{Katakana}\p{Hiragana}ー・A-Za-z]{0,11}?)さん`)
	meetingCommand   = regexp.MustCompile(`(?i)(会議|ミーティング|打ち合わせ|打合せ|mtg)を?(設定|予約|登録|調整|入れ)(して(ください)?|したい|お願い(します)?)?`)
	// Group-wide addressing is not an attendee.
	notAttendees = map[string]bool{"皆": true, "みな": true, "皆様": true}
)

// handleMeeting extracts a time, attendees and a title, then asks for the
// format. Nothing is persisted until the format is chosen.
func (e *Engine) handleMeeting(ctx context.Context, r *request) {
	ev := r.ev
	now := e.now()
	m, ok := timeparse.Extract(r.text, now, r.loc)
	if !ok || m.DateOnly {
		e.send(ctx, ev.ChatID, msgMeetingNeedsTime)
		return
	}

	normalized := timeparse.Normalize(r.text)
	attendees := meetingAttendees(normalized, e.peopleMentions(ev))

	words := append([]string{}, m.Fragments...)
	words = append(words, attendees...)
	if e.opts.BotUsername != "" {
		words = append(words, "@"+e.opts.BotUsername)
	}
	title := stripWords(meetingCommand.ReplaceAllString(normalized, " "), words...)
	if title == "" {
		title = "会議"
	}

	minutes := r.settings.MeetingDurationMinutes
	if minutes <= 0 {
		minutes = constants.DefaultMeetingMinutes
	}
	draft := models.MeetingDraft{
		Key:         strings.ReplaceAll(uuid.NewString(), "-", ""),
		ChatID:      ev.ChatID,
		OrganizerID: ev.SenderID,
		Title:       title,
		StartAt:     m.At,
		EndAt:       m.At.Add(time.Duration(minutes) * time.Minute),
		Attendees:   attendees,
	}
	e.meetingDrafts.Put(draft.Key, draft)

	prompt := fmt.Sprintf("会議「%s」\n日時: %s\n参加者: %s\n形式を選んでください。",
		draft.Title, formatMeetingTime(draft.StartAt, r.loc), attendeeList(draft.Attendees))
	if _, err := e.messenger.SendWithButtons(ctx, ev.ChatID, prompt, meetingFormatKeyboard(draft.Key)); err != nil {
		e.meetingDrafts.Delete(draft.Key)
		e.logger.WithError(err).Warn("Failed to send meeting format prompt")
	}
}

// meetingAttendees lists @-mentions first, then "<name>さん" references.
func meetingAttendees(text string, mentions []models.Mention) []string {
	seen := make(map[string]bool)
	var out []string
	add := func(s string) {
		if s != "" && !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	for _, m := range mentions {
		add(m.Handle())
	}
	for _, match := range honorificPattern.FindAllStringSubmatch(text, -1) {
		if !notAttendees[match[1]] {
			add(match[0])
		}
	}
	return out
}

func attendeeList(attendees []string) string {
	if len(attendees) == 0 {
		return "未指定"
	}
	return strings.Join(attendees, "、")
}

func formatMeetingTime(t time.Time, loc *time.Location) string {
	local := t.In(loc)
	return local.Format(fmt.Sprintf(meetingLayout, weekdayKanji(local.Weekday())))
}

func weekdayKanji(d time.Weekday) string {
	return [...]string{"日", "月", "火", "水", "木", "金", "土"}[d]
}

func (e *Engine) onMeetingFormat(ctx context.Context, ev models.Event, args []string) string {
	key, format := args[0], args[1]
	draft, ok := e.meetingDrafts.Get(key)
	if !ok {
		e.clearButtons(ctx, ev)
		return msgMeetingExpired
	}
	if draft.OrganizerID != ev.SenderID {
		return msgMeetingOnlyOwner
	}

	switch format {
	case formatOnline:
		e.meetingDrafts.Delete(key)
		e.clearButtons(ctx, ev)
		e.createOnlineMeeting(ctx, ev, draft)
		return ""
	case formatOffline:
		e.meetingDrafts.Delete(key)
		e.clearButtons(ctx, ev)
		e.pending.Put(draft.ChatID, awaitingLocation{UserID: ev.SenderID, Meeting: draft})
		e.send(ctx, draft.ChatID, msgAskLocation)
		return ""
	default:
		return msgNotAllowed
	}
}

func (e *Engine) createOnlineMeeting(ctx context.Context, ev models.Event, draft models.MeetingDraft) {
	if e.calendar == nil {
		e.send(ctx, draft.ChatID, msgCalendarUnavailable)
		return
	}
	chat, err := e.store.GetChat(ctx, draft.ChatID)
	if err != nil || chat == nil {
		e.fail(ctx, draft.ChatID, "load chat", apperrors.NewDatabaseError("get chat", err))
		return
	}
	loc := e.zones.location(ctx, draft.ChatID)

	event, err := e.calendar.CreateEvent(ctx, chat.CalendarID, calendar.EventRequest{
		Title:        draft.Title,
		Description:  "参加者: " + attendeeList(draft.Attendees),
		Start:        draft.StartAt,
		End:          draft.EndAt,
		TimeZone:     loc.String(),
		Attendees:    draft.Attendees,
		WithMeetLink: true,
	})
	if errors.Is(err, calendar.ErrNotConnected) {
		e.pending.Delete(draft.ChatID)
		e.send(ctx, draft.ChatID, msgCalendarUnavailable)
		return
	}
	if err != nil {
		e.fail(ctx, draft.ChatID, "create calendar event", err)
		return
	}

	link := event.MeetURL
	if link == "" {
		link = event.HTMLLink
	}
	e.persistMeeting(ctx, ev.SenderID, &models.Meeting{
		ChatID:            draft.ChatID,
		OrganizerID:       draft.OrganizerID,
		Title:             draft.Title,
		MeetingType:       models.MeetingOnline,
		MeetUrlOrLocation: link,
		CalendarEventID:   event.ID,
		StartAt:           draft.StartAt,
		EndAt:             draft.EndAt,
		Status:            models.MeetingScheduled,
		Attendees:         draft.Attendees,
	})
}

// continueLocation takes the message verbatim as the meeting place.
func (e *Engine) continueLocation(ctx context.Context, ev models.Event, text string, st awaitingLocation) {
	location := strings.TrimSpace(text)
	if location == "" {
		e.send(ctx, ev.ChatID, msgAskLocation)
		return
	}
	e.pending.Delete(ev.ChatID)

	d := st.Meeting
	e.persistMeeting(ctx, ev.SenderID, &models.Meeting{
		ChatID:            d.ChatID,
		OrganizerID:       d.OrganizerID,
		Title:             d.Title,
		MeetingType:       models.MeetingInPerson,
		MeetUrlOrLocation: location,
		StartAt:           d.StartAt,
		EndAt:             d.EndAt,
		Status:            models.MeetingScheduled,
		Attendees:         d.Attendees,
	})
}

// persistMeeting stores the meeting and offers a reminder before it starts.
func (e *Engine) persistMeeting(ctx context.Context, actorID int64, m *models.Meeting) {
	if err := e.store.CreateMeeting(ctx, m); err != nil {
		e.fail(ctx, m.ChatID, "create meeting", apperrors.NewDatabaseError("create meeting", err))
		return
	}
	e.audit(ctx, m.ChatID, actorID, "meeting.create", "meeting", m.ID, map[string]any{
		"title":   m.Title,
		"type":    m.MeetingType,
		"startAt": m.StartAt.UTC(),
	})
	e.logger.WithFields(logrus.Fields{
		LogFieldChatID:    SanitizeChatID(ctx, m.ChatID),
		LogFieldMeetingID: m.ID,
	}).Info("Created meeting")

	settings, loc := e.zones.forChat(ctx, m.ChatID)
	lead := settings.ReminderLeadMinutes
	if lead <= 0 {
		lead = constants.DefaultReminderLeadMin
	}

	label := "場所"
	if m.MeetingType == models.MeetingOnline {
		label = "URL"
	}
	msg := fmt.Sprintf("会議「%s」を登録しました。\n日時: %s\n%s: %s\n参加者: %s\n開始前にリマインドしますか？",
		m.Title, formatMeetingTime(m.StartAt, loc), label, m.MeetUrlOrLocation, attendeeList(m.Attendees))
	keyboard := [][]types.InlineKeyboardButton{row(
		button(fmt.Sprintf("%d分前に通知", lead), cbMeetingReminder, m.ID, strconv.Itoa(lead)),
		button("不要", cbMeetingReminder, m.ID, reminderNone),
	)}
	if _, err := e.messenger.SendWithButtons(ctx, m.ChatID, msg, keyboard); err != nil {
		e.logger.WithError(err).WithField(LogFieldMeetingID, m.ID).Warn("Failed to send meeting confirmation")
	}
}

func (e *Engine) onMeetingReminder(ctx context.Context, ev models.Event, args []string) string {
	meeting, err := e.store.GetMeeting(ctx, args[0])
	if err != nil {
		e.fail(ctx, ev.ChatID, "load meeting", apperrors.NewDatabaseError("get meeting", err))
		return ""
	}
	if meeting == nil {
		return msgNotFound
	}
	if meeting.OrganizerID != ev.SenderID {
		return msgMeetingOnlyOwner
	}
	if args[1] == reminderNone {
		e.clearButtons(ctx, ev)
		return msgNoReminder
	}

	minutes, err := strconv.Atoi(args[1])
	if err != nil || minutes <= 0 {
		return msgNotAllowed
	}
	remindAt := meeting.StartAt.Add(-time.Duration(minutes) * time.Minute)
	if !remindAt.After(e.now()) {
		e.clearButtons(ctx, ev)
		return msgReminderTooLate
	}

	rem := &models.Reminder{
		ChatID:                meeting.ChatID,
		UserID:                meeting.OrganizerID,
		Message:               fmt.Sprintf("まもなく会議「%s」が始まります（%d分後）。", meeting.Title, minutes),
		RemindAt:              remindAt,
		Status:                models.ReminderPending,
		RepeatType:            models.RepeatNone,
		EventName:             meeting.Title,
		ReminderMinutesBefore: minutes,
		MeetingID:             meeting.ID,
	}
	if err := e.store.CreateReminder(ctx, rem); err != nil {
		e.fail(ctx, meeting.ChatID, "create reminder", apperrors.NewDatabaseError("create reminder", err))
		return ""
	}
	e.audit(ctx, meeting.ChatID, ev.SenderID, "reminder.create", "reminder", rem.ID, map[string]any{
		"meetingId":     meeting.ID,
		"minutesBefore": minutes,
	})
	e.clearButtons(ctx, ev)
	notice := fmt.Sprintf("会議の%d分前にリマインドします。", minutes)
	e.send(ctx, meeting.ChatID, notice)
	return notice
}
