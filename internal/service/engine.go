package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"chatflow/internal/ai"
	"chatflow/internal/calendar"
	"chatflow/internal/constants"
	"chatflow/internal/dedup"
	"chatflow/internal/features"
	apperrors "chatflow/internal/errors"
	"chatflow/internal/metrics"
	"chatflow/internal/models"
	"chatflow/internal/timeparse"
	"chatflow/internal/tracing"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// Options tune the Engine. Zero values fall back to constants defaults.
type Options struct {
	DefaultTenantID string
	// Zone is used when a chat's tenant has no timezone setting.
	Zone           *time.Location
	PendingTTL     time.Duration
	HandlerTimeout time.Duration
	MaxToolRounds  int
	BotUsername    string
	Temperature    float64
	MaxTokens      int
	Verbose        bool
	// Features gates optional capabilities per chat. Nil enables everything.
	Features FeatureGate
}

// FeatureGate reports whether a capability is on for a chat.
type FeatureGate interface {
	IsEnabledFor(flagName string, chatID int64) bool
}

func (o *Options) applyDefaults() {
	if o.DefaultTenantID == "" {
		o.DefaultTenantID = constants.DefaultTenantID
	}
	if o.Zone == nil {
		o.Zone = timeparse.Location(constants.DefaultTimezone)
	}
	if o.PendingTTL <= 0 {
		o.PendingTTL = time.Duration(constants.DefaultPendingTTLMin) * time.Minute
	}
	if o.HandlerTimeout <= 0 {
		o.HandlerTimeout = time.Duration(constants.DefaultHandlerTimeoutSec) * time.Second
	}
	if o.MaxToolRounds <= 0 {
		o.MaxToolRounds = constants.DefaultMaxToolRounds
	}
	o.BotUsername = strings.TrimPrefix(o.BotUsername, "@")
}

// Engine is the single entry point for inbound chat events.
type Engine struct {
	store     Store
	messenger Messenger
	ai        AI
	calendar  calendar.Client
	dedup     dedup.Store
	zones     *zoneResolver
	opts      Options
	logger    *logrus.Logger
	errLog    *apperrors.Logger

	pending       *expiring[int64, pendingState]
	meetingDrafts *expiring[string, models.MeetingDraft]
	triggers      []trigger
	callbacks     map[string]callbackHandler

	now func() time.Time
	wg  sync.WaitGroup
}

// request is one classified text message in a registered group chat.
type request struct {
	ev       models.Event
	text     string
	chat     *models.ChatContext
	settings models.TenantSettings
	loc      *time.Location
	// sessions is filled by the relay matcher.
	sessions []*models.TranslationSession
}

type trigger struct {
	name string
	// flag, when set, must be enabled for the chat.
	flag   string
	match  func(ctx context.Context, r *request) bool
	handle func(ctx context.Context, r *request)
}

// callbackHandler returns the short notice shown to the clicking user.
type callbackHandler struct {
	minArgs int
	handle  func(ctx context.Context, ev models.Event, args []string) string
}

func NewEngine(deps Deps, opts Options, logger *logrus.Logger) *Engine {
	opts.applyDefaults()
	if logger == nil {
		logger = logrus.New()
	}
	if deps.Dedup == nil {
		deps.Dedup = dedup.NewMemoryStore(dedup.DefaultTTL)
	}
	e := &Engine{
		store:     deps.Store,
		messenger: deps.Messenger,
		ai:        deps.AI,
		calendar:  deps.Calendar,
		dedup:     deps.Dedup,
		opts:      opts,
		logger:    logger,
		errLog:    apperrors.WrapLogger(logger),
		now:       time.Now,
	}
	e.zones = newZoneResolver(deps.Store, opts.Zone)
	clock := func() time.Time { return e.now() }
	e.pending = newExpiring[int64, pendingState](opts.PendingTTL, clock)
	e.meetingDrafts = newExpiring[string, models.MeetingDraft](opts.PendingTTL, clock)
	e.triggers = e.buildTriggers()
	e.callbacks = e.buildCallbacks()
	return e
}

// buildTriggers is the fixed precedence of keyword triggers; the first match
// handles the message.
func (e *Engine) buildTriggers() []trigger {
	return []trigger{
		{name: "task", match: textMatch(isTaskRequest), handle: e.handleTask},
		{name: "meeting", match: textMatch(isMeetingRequest), handle: e.handleMeeting},
		{name: "ai", flag: features.FlagAIAssistant, match: textMatch(isAIRequest), handle: e.handleAI},
		{name: "image", flag: features.FlagImageGeneration, match: textMatch(isImageRequest), handle: e.handleImage},
		{name: "recurring", flag: features.FlagRecurringTasks, match: textMatch(isRecurringRequest), handle: e.startRecurringSetup},
		{name: "mention", flag: features.FlagAIAssistant, match: e.mentionsBot, handle: e.handleMention},
		{name: "reply", flag: features.FlagAIAssistant, match: isReplyRequest, handle: e.handleReplyDraft},
		{name: "translation_start", flag: features.FlagTranslation, match: textMatch(isTranslationStart), handle: e.startTranslation},
		{name: "translation_end", flag: features.FlagTranslation, match: textMatch(isTranslationEnd), handle: e.endTranslation},
		{name: "translation_relay", flag: features.FlagTranslation, match: e.hasTranslationSessions, handle: e.relayTranslation},
	}
}

func (e *Engine) buildCallbacks() map[string]callbackHandler {
	return map[string]callbackHandler{
		cbTaskDeadline:    {minArgs: 2, handle: e.onTaskDeadline},
		cbTaskComplete:    {minArgs: 1, handle: e.onTaskComplete},
		cbMeetingFormat:   {minArgs: 2, handle: e.onMeetingFormat},
		cbMeetingReminder: {minArgs: 2, handle: e.onMeetingReminder},
		cbDraftPost:       {minArgs: 1, handle: e.onDraftPost},
		cbDraftEdit:       {minArgs: 1, handle: e.onDraftEdit},
		cbDraftDiscard:    {minArgs: 1, handle: e.onDraftDiscard},
		cbRecurringDone:   {minArgs: 2, handle: e.onRecurringDone},
		cbRegister:        {minArgs: 1, handle: e.onRegister},
	}
}

func textMatch(fn func(string) bool) func(context.Context, *request) bool {
	return func(_ context.Context, r *request) bool { return fn(r.text) }
}

// HandleAsync processes ev on a background goroutine detached from the
// caller's context, bounded by the handler timeout.
func (e *Engine) HandleAsync(ev models.Event) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		ctx, cancel := context.WithTimeout(WithVerbose(context.Background(), e.opts.Verbose), e.opts.HandlerTimeout)
		defer cancel()
		e.Handle(ctx, ev)
	}()
}

// Wait blocks until every HandleAsync goroutine has returned.
func (e *Engine) Wait() {
	e.wg.Wait()
}

// Handle never fails: errors are reported to the chat or logged, and panics
// are recovered.
func (e *Engine) Handle(ctx context.Context, ev models.Event) {
	start := time.Now()
	ctx, span := tracing.StartSpan(ctx, "engine.handle",
		attribute.String("event.kind", string(ev.Kind)),
		attribute.String("chat.type", string(ev.ChatType)),
	)
	defer span.End()
	defer func() {
		if r := recover(); r != nil {
			e.logger.WithFields(eventFields(ctx, ev)).WithFields(logrus.Fields{
				"panic": r,
				"stack": string(debug.Stack()),
			}).Error("Recovered from handler panic")
			span.SetStatus(codes.Error, "panic")
			metrics.IncrementCounter("engine_panics_total", nil, "Handler panics recovered by the engine")
		}
	}()

	LogEventProcessing(ctx, e.logger, ev)
	metrics.IncrementCounter("engine_events_total", map[string]string{"kind": string(ev.Kind)}, "Inbound events received")

	fresh, err := e.dedup.MarkIfNew(ctx, ev.DedupKey())
	if err != nil {
		// Fail open while the dedup store is down.
		e.logger.WithError(err).WithFields(eventFields(ctx, ev)).Warn("Dedup store unavailable, processing event anyway")
	} else if !fresh {
		e.logger.WithFields(eventFields(ctx, ev)).Debug("Skipping event: duplicate delivery")
		metrics.IncrementCounter("engine_duplicates_total", nil, "Duplicate deliveries absorbed")
		if ev.Kind == models.EventCallback {
			e.answer(ctx, ev.CallbackID, "")
		}
		return
	}

	switch ev.Kind {
	case models.EventCallback:
		e.handleCallback(ctx, ev)
	case models.EventVoice:
		e.handleVoice(ctx, ev)
	default:
		e.handleText(ctx, ev)
	}

	metrics.RecordTimer("engine_event_duration", time.Since(start), map[string]string{"kind": string(ev.Kind)}, "Time spent handling one event")
}

func (e *Engine) handleText(ctx context.Context, ev models.Event) {
	text := strings.TrimSpace(ev.Text)
	if text == "" {
		return
	}

	if ev.IsPrivate() {
		e.continueDraftEdit(ctx, ev, text)
		return
	}

	if isChatIDRequest(text) {
		e.replyChatID(ctx, ev)
		return
	}

	if st, ok := e.pending.Get(ev.ChatID); ok && st.owner() == ev.SenderID {
		e.logger.WithFields(eventFields(ctx, ev)).WithField(LogFieldPending, st.kind()).Debug("Continuing pending conversation")
		e.continuePending(ctx, ev, text, st)
		return
	}

	chat, err := e.store.GetChat(ctx, ev.ChatID)
	if err != nil {
		e.errLog.LogError(apperrors.NewDatabaseError("get chat", err), "Failed to load chat", eventFields(ctx, ev))
		return
	}
	if chat == nil {
		e.logger.WithFields(eventFields(ctx, ev)).Debug("Skipping event: chat not registered")
		return
	}

	settings, loc := e.zones.settings(ctx, chat)
	r := &request{ev: ev, text: text, chat: chat, settings: settings, loc: loc}
	for _, t := range e.triggers {
		if t.flag != "" && !e.enabled(t.flag, ev.ChatID) {
			continue
		}
		if !t.match(ctx, r) {
			continue
		}
		e.logger.WithFields(eventFields(ctx, ev)).WithField(LogFieldTrigger, t.name).Debug("Trigger matched")
		metrics.IncrementCounter("engine_triggers_total", map[string]string{"trigger": t.name}, "Keyword triggers fired")
		tracing.AddSpanAttributes(ctx, attribute.String("trigger", t.name))
		t.handle(ctx, r)
		return
	}
}

func (e *Engine) continuePending(ctx context.Context, ev models.Event, text string, st pendingState) {
	switch s := st.(type) {
	case awaitingCustomDate:
		e.continueCustomDate(ctx, ev, text, s)
	case awaitingLocation:
		e.continueLocation(ctx, ev, text, s)
	case awaitingRecurringStep:
		e.continueRecurring(ctx, ev, text, s)
	}
}

func (e *Engine) handleCallback(ctx context.Context, ev models.Event) {
	prefix, args := parseCallback(ev.CallbackData)
	notice := ""
	if h, ok := e.callbacks[prefix]; ok && len(args) >= h.minArgs {
		metrics.IncrementCounter("engine_callbacks_total", map[string]string{"action": prefix}, "Button callbacks handled")
		notice = h.handle(ctx, ev, args)
	} else {
		e.logger.WithFields(eventFields(ctx, ev)).WithField(LogFieldCallback, prefix).Debug("Skipping callback: unknown token")
	}
	e.answer(ctx, ev.CallbackID, notice)
}

// handleVoice transcribes and then classifies the transcript as text.
func (e *Engine) handleVoice(ctx context.Context, ev models.Event) {
	tr, ok := e.ai.Provider.(ai.Transcriber)
	if !ok || ev.FileID == "" || ev.IsPrivate() || !e.enabled(features.FlagVoiceTranscription, ev.ChatID) {
		return
	}
	if chat, err := e.store.GetChat(ctx, ev.ChatID); err != nil || chat == nil {
		return
	}
	audio, err := e.messenger.DownloadFile(ctx, ev.FileID)
	if err != nil {
		e.logger.WithError(err).WithFields(eventFields(ctx, ev)).Warn("Failed to download voice message")
		return
	}
	text, err := tr.Transcribe(ctx, audio, "audio/ogg")
	if err != nil {
		if !isUnsupported(err) {
			e.logger.WithError(err).WithFields(eventFields(ctx, ev)).Warn("Failed to transcribe voice message")
		}
		return
	}
	ev.Kind = models.EventText
	ev.Text = text
	e.handleText(ctx, ev)
}

func (e *Engine) enabled(flag string, chatID int64) bool {
	return e.opts.Features == nil || e.opts.Features.IsEnabledFor(flag, chatID)
}

// fail reports a collaborator failure: log, apologize, drop pending state.
func (e *Engine) fail(ctx context.Context, chatID int64, operation string, err error) {
	e.pending.Delete(chatID)
	e.errLog.Report(err, "Failed to "+operation, logrus.Fields{
		LogFieldChatID:    SanitizeChatID(ctx, chatID),
		LogFieldOperation: operation,
	})
	tracing.RecordError(ctx, err)
	msg := msgApology
	if appErr, ok := apperrors.As(err); ok && appErr.UserMessage != "" {
		msg = appErr.UserMessage
	}
	e.send(ctx, chatID, msg)
}

func (e *Engine) send(ctx context.Context, chatID int64, text string) int64 {
	id, err := e.messenger.SendText(ctx, chatID, text)
	if err != nil {
		e.errLog.LogWarn(err, "Failed to send message", logrus.Fields{LogFieldChatID: SanitizeChatID(ctx, chatID)})
	}
	return id
}

func (e *Engine) answer(ctx context.Context, callbackID, text string) {
	if callbackID == "" {
		return
	}
	if err := e.messenger.AnswerCallback(ctx, callbackID, text); err != nil {
		e.logger.WithError(err).Debug("Failed to answer callback")
	}
}

// clearButtons removes the keyboard from the prompt a callback came from.
func (e *Engine) clearButtons(ctx context.Context, ev models.Event) {
	if ev.MessageID == 0 {
		return
	}
	if err := e.messenger.RemoveButtons(ctx, ev.ChatID, ev.MessageID); err != nil {
		e.logger.WithError(err).Debug("Failed to remove buttons")
	}
}

// audit records a mutation for the admin side. Failures are logged only.
func (e *Engine) audit(ctx context.Context, chatID, actorID int64, action, objectType, objectID string, payload any) {
	if !e.enabled(features.FlagAuditLogging, chatID) {
		return
	}
	body, err := json.Marshal(payload)
	if err != nil {
		body = []byte(fmt.Sprintf("%q", fmt.Sprint(payload)))
	}
	tenant := e.zones.tenantOf(ctx, chatID)
	if tenant == "" {
		tenant = e.opts.DefaultTenantID
	}
	entry := &models.AuditEntry{
		TenantID:   tenant,
		ActorID:    actorID,
		Action:     action,
		ObjectType: objectType,
		ObjectID:   objectID,
		Payload:    string(body),
	}
	if err := e.store.InsertAudit(ctx, entry); err != nil {
		e.logger.WithError(err).WithField(LogFieldOperation, action).Warn("Failed to write audit entry")
	}
}

func isUnsupported(err error) bool {
	return errors.Is(err, ai.ErrUnsupported)
}
