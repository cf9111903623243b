package service

import (
	"context"

	apperrors "chatflow/internal/errors"
	"chatflow/internal/models"

	"github.com/sirupsen/logrus"
)

// deliverDraft stores generated text as a draft and sends it to the
// requester's private chat for review. target is where an approved draft
// will be posted.
func (e *Engine) deliverDraft(ctx context.Context, ev models.Event, text string, target int64) {
	draft := &models.Draft{
		OwnerID:      ev.SenderID,
		DraftText:    text,
		TargetChatID: target,
		Status:       models.DraftPendingApproval,
	}
	if err := e.store.CreateDraft(ctx, draft); err != nil {
		e.fail(ctx, ev.ChatID, "create draft", apperrors.NewDatabaseError("create draft", err))
		return
	}

	// A private chat shares its id with the user.
	if _, err := e.messenger.SendWithButtons(ctx, ev.SenderID, draft.DraftText, draftKeyboard(draft.ID)); err != nil {
		e.logger.WithError(err).WithField(LogFieldDraftID, draft.ID).Warn("Failed to deliver draft privately")
		if _, rerr := e.store.ResolveDraft(ctx, draft.ID, models.DraftRejected); rerr != nil {
			e.logger.WithError(rerr).WithField(LogFieldDraftID, draft.ID).Warn("Failed to discard undeliverable draft")
		}
		e.send(ctx, ev.ChatID, msgDraftNeedsPrivate)
		return
	}

	e.audit(ctx, target, ev.SenderID, "draft.create", "draft", draft.ID, map[string]any{
		"targetChatId": target,
	})
	e.logger.WithFields(logrus.Fields{
		LogFieldDraftID: draft.ID,
		LogFieldUserID:  SanitizeUserID(ctx, ev.SenderID),
	}).Info("Delivered draft for review")

	if ev.ChatID != ev.SenderID {
		e.send(ctx, ev.ChatID, msgDraftSentPrivately)
	}
}

// ownDraft loads a draft the clicking user owns. A non-empty notice means
// the callback should stop there.
func (e *Engine) ownDraft(ctx context.Context, ev models.Event, id string) (*models.Draft, string) {
	draft, err := e.store.GetDraft(ctx, id)
	if err != nil {
		e.fail(ctx, ev.ChatID, "load draft", apperrors.NewDatabaseError("get draft", err))
		return nil, ""
	}
	if draft == nil {
		return nil, msgNotFound
	}
	if draft.OwnerID != ev.SenderID {
		return nil, msgNotAllowed
	}
	return draft, ""
}

func (e *Engine) onDraftPost(ctx context.Context, ev models.Event, args []string) string {
	draft, notice := e.ownDraft(ctx, ev, args[0])
	if draft == nil {
		return notice
	}
	ok, err := e.store.ResolveDraft(ctx, draft.ID, models.DraftApproved)
	if err != nil {
		e.fail(ctx, ev.ChatID, "approve draft", apperrors.NewDatabaseError("approve draft", err))
		return ""
	}
	if !ok {
		return msgAlreadyHandled
	}

	e.clearButtons(ctx, ev)
	if _, err := e.messenger.SendText(ctx, draft.TargetChatID, draft.DraftText); err != nil {
		e.fail(ctx, ev.ChatID, "post draft", err)
		return ""
	}
	e.audit(ctx, draft.TargetChatID, ev.SenderID, "draft.approve", "draft", draft.ID, nil)
	e.logger.WithField(LogFieldDraftID, draft.ID).Info("Posted approved draft")
	return msgDraftPosted
}

func (e *Engine) onDraftDiscard(ctx context.Context, ev models.Event, args []string) string {
	draft, notice := e.ownDraft(ctx, ev, args[0])
	if draft == nil {
		return notice
	}
	ok, err := e.store.ResolveDraft(ctx, draft.ID, models.DraftRejected)
	if err != nil {
		e.fail(ctx, ev.ChatID, "discard draft", apperrors.NewDatabaseError("reject draft", err))
		return ""
	}
	if !ok {
		return msgAlreadyHandled
	}
	e.audit(ctx, draft.TargetChatID, ev.SenderID, "draft.reject", "draft", draft.ID, nil)
	e.clearButtons(ctx, ev)
	return msgDraftDiscarded
}

// onDraftEdit moves the draft to editing; the owner's next private message
// becomes its new text.
func (e *Engine) onDraftEdit(ctx context.Context, ev models.Event, args []string) string {
	draft, notice := e.ownDraft(ctx, ev, args[0])
	if draft == nil {
		return notice
	}
	ok, err := e.store.BeginEditing(ctx, draft.ID)
	if err != nil {
		e.fail(ctx, ev.ChatID, "edit draft", apperrors.NewDatabaseError("begin editing", err))
		return ""
	}
	if !ok {
		other, err := e.store.EditingDraft(ctx, ev.SenderID)
		if err == nil && other != nil && other.ID != draft.ID {
			return msgDraftOtherEditing
		}
		return msgAlreadyHandled
	}
	e.clearButtons(ctx, ev)
	e.send(ctx, ev.ChatID, msgDraftAskEdit)
	return ""
}

// continueDraftEdit handles private messages. Without a draft in editing
// they are ignored.
func (e *Engine) continueDraftEdit(ctx context.Context, ev models.Event, text string) {
	draft, err := e.store.EditingDraft(ctx, ev.SenderID)
	if err != nil {
		e.errLog.LogWarn(apperrors.NewDatabaseError("get editing draft", err), "Failed to look up editing draft",
			logrus.Fields{LogFieldUserID: SanitizeUserID(ctx, ev.SenderID)})
		return
	}
	if draft == nil {
		return
	}

	ok, err := e.store.ReviseDraft(ctx, draft.ID, text)
	if err != nil {
		e.fail(ctx, ev.ChatID, "revise draft", apperrors.NewDatabaseError("revise draft", err))
		return
	}
	if !ok {
		return
	}
	e.audit(ctx, draft.TargetChatID, ev.SenderID, "draft.revise", "draft", draft.ID, nil)
	if _, err := e.messenger.SendWithButtons(ctx, ev.ChatID, text, draftKeyboard(draft.ID)); err != nil {
		e.logger.WithError(err).WithField(LogFieldDraftID, draft.ID).Warn("Failed to resend revised draft")
	}
}
