package models

import "time"

type DraftStatus string

const (
	DraftPendingApproval DraftStatus = "pending_approval"
	DraftEditing         DraftStatus = "editing"
	DraftApproved        DraftStatus = "approved"
	DraftRejected        DraftStatus = "rejected"
)

// Draft is AI-generated content waiting for its owner to post, edit or discard.
type Draft struct {
	ID           string      `json:"id"`
	OwnerID      int64       `json:"ownerId"`
	DraftText    string      `json:"draftText"`
	TargetChatID int64       `json:"targetChatId"`
	Status       DraftStatus `json:"status"`
	CreatedAt    time.Time   `json:"createdAt"`
	UpdatedAt    time.Time   `json:"updatedAt"`
}
