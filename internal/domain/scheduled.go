package domain

import "time"

// ScheduledStatus represents the lifecycle state of a scheduled message.
type ScheduledStatus string

// Scheduled message statuses.
const (
	ScheduledStatusPending     ScheduledStatus = "PENDING"
	ScheduledStatusDispatching ScheduledStatus = "DISPATCHING"
	ScheduledStatusSent        ScheduledStatus = "SENT"
	ScheduledStatusFailed      ScheduledStatus = "FAILED"
)

// IsTerminal reports whether no further transition is made from the status.
func (s ScheduledStatus) IsTerminal() bool {
	return s == ScheduledStatusSent || s == ScheduledStatusFailed
}

// ScheduledMessage is an outbound message queued for delivery at ScheduledAt.
type ScheduledMessage struct {
	ID          string          `json:"id"`
	ContactID   string          `json:"contact_id"`
	Channel     Channel         `json:"channel"`
	Content     string          `json:"content"`
	ScheduledAt time.Time       `json:"scheduled_at"`
	Status      ScheduledStatus `json:"status"`
	LastError   string          `json:"last_error,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// IsDue reports whether the message is pending and its time has come.
func (m *ScheduledMessage) IsDue(now time.Time) bool {
	return m.Status == ScheduledStatusPending && !m.ScheduledAt.After(now)
}
