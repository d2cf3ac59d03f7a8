package domain

import "time"

// MessageStatus represents the delivery status of a history message.
type MessageStatus string

// Message statuses.
const (
	MessageStatusReceived MessageStatus = "RECEIVED"
	MessageStatusSent     MessageStatus = "SENT"
)

// MessageMetadata holds provider data attached to a history message.
type MessageMetadata struct {
	SID                string `json:"sid,omitempty"`
	ScheduledMessageID string `json:"scheduledMessageId,omitempty"`
}

// Message is an entry in a contact's message history.
// Outbound entries written by the scheduled sweep are never modified afterwards.
type Message struct {
	ID        string          `json:"id"`
	ContactID string          `json:"contact_id"`
	Channel   Channel         `json:"channel"`
	Direction Direction       `json:"direction"`
	Content   string          `json:"content"`
	Status    MessageStatus   `json:"status"`
	SentAt    *time.Time      `json:"sent_at,omitempty"`
	Metadata  MessageMetadata `json:"metadata"`
	CreatedAt time.Time       `json:"created_at"`
}
