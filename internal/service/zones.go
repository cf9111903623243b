package service

import (
	"context"
	"time"

	"chatflow/internal/models"
	"chatflow/internal/timeparse"
)

// zoneResolver maps a chat to its tenant settings and display timezone.
type zoneResolver struct {
	store    ChatStore
	fallback *time.Location
}

func newZoneResolver(store ChatStore, fallback *time.Location) *zoneResolver {
	if fallback == nil {
		fallback = timeparse.Location(timeparse.DefaultZone)
	}
	return &zoneResolver{store: store, fallback: fallback}
}

// settings never fails; a missing or unreadable row yields defaults.
func (z *zoneResolver) settings(ctx context.Context, chat *models.ChatContext) (models.TenantSettings, *time.Location) {
	settings := models.DefaultTenantSettings(chat.TenantID)
	settings.Timezone = z.fallback.String()
	if s, err := z.store.GetTenantSettings(ctx, chat.TenantID); err == nil && s != nil {
		settings = *s
	}
	loc := z.fallback
	if settings.Timezone != "" && timeparse.IsSupportedZone(settings.Timezone) {
		loc = timeparse.Location(settings.Timezone)
	}
	return settings, loc
}

func (z *zoneResolver) forChat(ctx context.Context, chatID int64) (models.TenantSettings, *time.Location) {
	chat, err := z.store.GetChat(ctx, chatID)
	if err != nil || chat == nil {
		chat = &models.ChatContext{ChatID: chatID}
	}
	return z.settings(ctx, chat)
}

// location is forChat without the settings.
func (z *zoneResolver) location(ctx context.Context, chatID int64) *time.Location {
	_, loc := z.forChat(ctx, chatID)
	return loc
}

func (z *zoneResolver) tenantOf(ctx context.Context, chatID int64) string {
	if chat, err := z.store.GetChat(ctx, chatID); err == nil && chat != nil {
		return chat.TenantID
	}
	return ""
}
