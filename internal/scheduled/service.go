package scheduled

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/relaydesk/inbox/internal/domain"
)

// Listing limits.
const (
	DefaultUpcomingLimit = 10
	MaxUpcomingLimit     = 100
)

// ScheduleInput describes a message to deliver later.
type ScheduleInput struct {
	ContactID   string
	Channel     string
	Content     string
	ScheduledAt time.Time
}

// Service implements scheduling and listing of scheduled messages.
type Service struct {
	repo Repository
	now  func() time.Time
}

// NewService creates a new scheduled message service.
func NewService(repo Repository) *Service {
	return &Service{repo: repo, now: time.Now}
}

// Schedule queues a message for delivery at input.ScheduledAt.
// Channels that cannot be dispatched yet are accepted and fail when they fall due.
func (s *Service) Schedule(ctx context.Context, input ScheduleInput) (*domain.ScheduledMessage, error) {
	channel, err := domain.ParseChannel(input.Channel)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(input.Content) == "" {
		return nil, ErrEmptyContent
	}
	if !input.ScheduledAt.After(s.now()) {
		return nil, ErrScheduleInPast
	}

	if _, err := s.repo.FindContact(ctx, input.ContactID); err != nil {
		return nil, fmt.Errorf("find contact: %w", err)
	}

	item := &domain.ScheduledMessage{
		ContactID:   input.ContactID,
		Channel:     channel,
		Content:     input.Content,
		ScheduledAt: input.ScheduledAt.UTC(),
		Status:      domain.ScheduledStatusPending,
	}
	if err := s.repo.Create(ctx, item); err != nil {
		return nil, fmt.Errorf("create scheduled message: %w", err)
	}

	return item, nil
}

// Upcoming returns pending messages that are not yet due, soonest first.
func (s *Service) Upcoming(ctx context.Context, limit int) ([]UpcomingMessage, error) {
	if limit <= 0 {
		limit = DefaultUpcomingLimit
	}
	if limit > MaxUpcomingLimit {
		limit = MaxUpcomingLimit
	}

	items, err := s.repo.ListUpcoming(ctx, s.now().UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("list upcoming: %w", err)
	}
	return items, nil
}

// QueueStats returns the number of scheduled messages per status.
func (s *Service) QueueStats(ctx context.Context) (*QueueStats, error) {
	stats, err := s.repo.GetQueueStats(ctx)
	if err != nil {
		return nil, fmt.Errorf("get queue stats: %w", err)
	}
	return stats, nil
}
