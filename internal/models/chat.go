package models

import "time"

type ChatType string

const (
	ChatTypePrivate    ChatType = "private"
	ChatTypeGroup      ChatType = "group"
	ChatTypeSupergroup ChatType = "supergroup"
	ChatTypeChannel    ChatType = "channel"
)

// IsGroup reports whether the chat is a multi-member group.
func (t ChatType) IsGroup() bool {
	return t == ChatTypeGroup || t == ChatTypeSupergroup
}

// ChatContext is the tenant-side binding of a registered chat. Owned by the
// admin side; the engine only creates it through the registration button.
type ChatContext struct {
	ChatID            int64     `json:"chatId"`
	ChatType          ChatType  `json:"chatType"`
	Title             string    `json:"title"`
	TenantID          string    `json:"tenantId"`
	ResponsibleUserID int64     `json:"responsibleUserId"`
	CalendarID        string    `json:"calendarId"`
	RegisteredAt      time.Time `json:"registeredAt"`
}

// TenantSettings are per-tenant knobs consulted by handlers.
type TenantSettings struct {
	TenantID               string `json:"tenantId"`
	Timezone               string `json:"timezone"`
	WebSearchEnabled       bool   `json:"webSearchEnabled"`
	ReminderLeadMinutes    int    `json:"reminderLeadMinutes"`
	MeetingDurationMinutes int    `json:"meetingDurationMinutes"`
}

// DefaultTenantSettings is used when a tenant has no stored settings row.
func DefaultTenantSettings(tenantID string) TenantSettings {
	return TenantSettings{
		TenantID:               tenantID,
		Timezone:               "Asia/Tokyo",
		WebSearchEnabled:       false,
		ReminderLeadMinutes:    15,
		MeetingDurationMinutes: 60,
	}
}

// AuditEntry is the outward record of every mutating trigger.
type AuditEntry struct {
	ID         int64     `json:"id"`
	TenantID   string    `json:"tenantId"`
	ActorID    int64     `json:"actorId"`
	Action     string    `json:"action"`
	ObjectType string    `json:"objectType"`
	ObjectID   string    `json:"objectId"`
	Payload    string    `json:"payload"`
	CreatedAt  time.Time `json:"createdAt"`
}
