// Package scheduled delivers scheduled outbound messages once they fall due.
package scheduled

import (
	"context"
	"time"

	"github.com/relaydesk/inbox/internal/domain"
)

// Repository defines the interface for scheduled message data access.
type Repository interface {
	// Sweep
	FindDue(ctx context.Context, now time.Time) ([]domain.ScheduledMessage, error)
	Claim(ctx context.Context, id string) error
	FindStale(ctx context.Context, claimedBefore time.Time) ([]domain.ScheduledMessage, error)
	ReclaimStale(ctx context.Context, id string, claimedBefore time.Time) error
	FindContact(ctx context.Context, id string) (*domain.Contact, error)
	// MarkFailed and CompleteSent only apply to DISPATCHING messages and return
	// ErrNotDispatching otherwise.
	MarkFailed(ctx context.Context, id, reason string) error
	CompleteSent(ctx context.Context, id string, record *domain.Message) error

	// Submission and listing
	Create(ctx context.Context, item *domain.ScheduledMessage) error
	ListUpcoming(ctx context.Context, now time.Time, limit int) ([]UpcomingMessage, error)
	GetQueueStats(ctx context.Context) (*QueueStats, error)
}

// QueueStats contains the number of scheduled messages in each status.
type QueueStats struct {
	Pending     int `json:"pending"`
	Dispatching int `json:"dispatching"`
	Sent        int `json:"sent"`
	Failed      int `json:"failed"`
}

// UpcomingMessage is a pending scheduled message with the name and phone of its contact.
type UpcomingMessage struct {
	domain.ScheduledMessage
	ContactName  string `json:"contact_name"`
	ContactPhone string `json:"contact_phone,omitempty"`
}
