package models

import (
	"fmt"
	"time"
)

type EventKind string

const (
	EventText     EventKind = "text"
	EventCallback EventKind = "callback"
	EventPhoto    EventKind = "photo"
	EventVoice    EventKind = "voice"
)

// Mention is an @-reference found in message entities.
type Mention struct {
	Username string `json:"username,omitempty"`
	UserID   int64  `json:"userId,omitempty"`
	Name     string `json:"name,omitempty"`
}

// Handle returns the display form used in replies.
func (m Mention) Handle() string {
	if m.Username != "" {
		return "@" + m.Username
	}
	return m.Name
}

// Event is one normalized inbound chat event.
type Event struct {
	Kind             EventKind `json:"kind"`
	ChatID           int64     `json:"chatId"`
	ChatType         ChatType  `json:"chatType"`
	ChatTitle        string    `json:"chatTitle,omitempty"`
	SenderID         int64     `json:"senderId"`
	SenderUsername   string    `json:"senderUsername,omitempty"`
	SenderName       string    `json:"senderName,omitempty"`
	MessageID        int64     `json:"messageId"`
	Text             string    `json:"text,omitempty"`
	Mentions         []Mention `json:"mentions,omitempty"`
	CallbackID       string    `json:"callbackId,omitempty"`
	CallbackData     string    `json:"callbackData,omitempty"`
	FileID           string    `json:"fileId,omitempty"`
	ReplyToMessageID int64     `json:"replyToMessageId,omitempty"`
	ReplyToText      string    `json:"replyToText,omitempty"`
	ReceivedAt       time.Time `json:"receivedAt"`
}

// IsPrivate reports whether the event came from a one-to-one chat.
func (e Event) IsPrivate() bool {
	return e.ChatType == ChatTypePrivate
}

// DedupKey identifies a delivery for duplicate suppression. A callback is
// keyed on its query id: every press gets a new one and redeliveries keep
// it, while MessageID is the id of the prompt carrying the buttons.
func (e Event) DedupKey() string {
	if e.Kind == EventCallback {
		if e.CallbackID != "" {
			return "cb:" + e.CallbackID
		}
		return fmt.Sprintf("cb:%d:%d:%s", e.ChatID, e.MessageID, e.CallbackData)
	}
	return fmt.Sprintf("%d:%d", e.ChatID, e.MessageID)
}

// Sender returns the sender as a Mention.
func (e Event) Sender() Mention {
	return Mention{Username: e.SenderUsername, UserID: e.SenderID, Name: e.SenderName}
}
