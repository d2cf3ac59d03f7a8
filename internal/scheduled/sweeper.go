package scheduled

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/relaydesk/inbox/internal/domain"
	"github.com/relaydesk/inbox/internal/gateway"
	"github.com/relaydesk/inbox/internal/pkg/ctxlog"
)

// reasonInterrupted is stored on items found stuck in DISPATCHING with no recorded send.
const reasonInterrupted = "dispatch interrupted before completion"

// Gateway sends a message body to a destination on a channel and returns the provider message id.
type Gateway interface {
	Send(ctx context.Context, channel domain.Channel, to, body string) (string, error)
}

// Ledger remembers provider ids of messages the gateway already accepted.
type Ledger interface {
	Lookup(ctx context.Context, itemID string) (sid string, ok bool, err error)
	Record(ctx context.Context, itemID, sid string, sentAt time.Time) error
}

// SweeperConfig contains sweeper configuration.
type SweeperConfig struct {
	// ClaimTimeout is how long an item may stay DISPATCHING before a later sweep resolves it.
	// Zero disables stale claim recovery.
	ClaimTimeout time.Duration
}

// sendError is a failure reported by the gateway, as opposed to one found before sending.
type sendError struct {
	channel domain.Channel
	err     error
}

func (e *sendError) Error() string { return fmt.Sprintf("send %s: %v", e.channel, e.err) }

func (e *sendError) Unwrap() error { return e.err }

// Result summarises one sweep.
type Result struct {
	Processed int       `json:"processed"`
	Timestamp time.Time `json:"timestamp"`
}

// Sweeper dispatches due scheduled messages.
type Sweeper struct {
	repo    Repository
	gateway Gateway
	ledger  Ledger
	config  SweeperConfig
	now     func() time.Time
}

// NewSweeper creates a sweeper. ledger may be nil.
func NewSweeper(repo Repository, gateway Gateway, ledger Ledger, config SweeperConfig) *Sweeper {
	return &Sweeper{
		repo:    repo,
		gateway: gateway,
		ledger:  ledger,
		config:  config,
		now:     time.Now,
	}
}

// Process runs one sweep: every pending message due at the start of the sweep is claimed and
// dispatched in turn. Per-item failures are recorded on the item and do not stop the sweep.
// Only a failure to read the due set is returned.
func (s *Sweeper) Process(ctx context.Context) (*Result, error) {
	startedAt := s.now().UTC()
	ctx, log := ctxlog.With(ctx, "sweep_at", startedAt)

	if s.config.ClaimTimeout > 0 {
		s.recoverStale(ctx, startedAt.Add(-s.config.ClaimTimeout))
	}

	items, err := s.repo.FindDue(ctx, startedAt)
	if err != nil {
		recordSweep("error")
		return nil, fmt.Errorf("find due scheduled messages: %w", err)
	}

	log.Info("processing scheduled messages", "count", len(items))

	for i := range items {
		if err := ctx.Err(); err != nil {
			recordSweep("interrupted")
			return nil, fmt.Errorf("sweep interrupted after %d of %d items: %w", i, len(items), err)
		}
		s.processItem(ctx, &items[i])
	}

	recordSweep("success")
	return &Result{Processed: len(items), Timestamp: startedAt}, nil
}

func (s *Sweeper) processItem(ctx context.Context, item *domain.ScheduledMessage) {
	log := ctxlog.FromContext(ctx).With("item_id", item.ID, "channel", item.Channel)

	if err := s.repo.Claim(ctx, item.ID); err != nil {
		if errors.Is(err, ErrAlreadyClaimed) {
			log.Debug("scheduled message claimed by another sweep")
			recordItem(string(item.Channel), outcomeSkipped)
			return
		}
		log.Error("failed to claim scheduled message", "error", err)
		recordItem(string(item.Channel), outcomeSkipped)
		return
	}

	sid, err := s.dispatch(ctx, log, item)
	if err != nil {
		attrs := []any{"error", err}
		var sendErr *sendError
		if errors.As(err, &sendErr) {
			attrs = append(attrs, "retryable", gateway.IsRetryable(sendErr.err))
		}
		log.Warn("scheduled message failed", attrs...)
		s.markFailed(ctx, log, item, err.Error())
		return
	}

	if s.complete(ctx, log, item, sid) {
		recordItem(string(item.Channel), outcomeSent)
		log.Info("scheduled message sent", "sid", sid)
	}
}

// dispatch resolves the destination and sends the item, unless the ledger shows it was already sent.
func (s *Sweeper) dispatch(ctx context.Context, log *slog.Logger, item *domain.ScheduledMessage) (string, error) {
	contact, err := s.repo.FindContact(ctx, item.ContactID)
	if err != nil {
		return "", fmt.Errorf("find contact %s: %w", item.ContactID, err)
	}

	to, err := contact.Destination(item.Channel)
	if err != nil {
		return "", err
	}

	if sid, ok := s.lookupSent(ctx, log, item.ID); ok {
		log.Info("scheduled message already sent, skipping gateway", "sid", sid)
		return sid, nil
	}

	start := time.Now()
	sid, err := s.gateway.Send(ctx, item.Channel, to, item.Content)
	recordSendDuration(string(item.Channel), time.Since(start))
	if err != nil {
		return "", &sendError{channel: item.Channel, err: err}
	}

	if s.ledger != nil {
		if err := s.ledger.Record(ctx, item.ID, sid, s.now().UTC()); err != nil {
			log.Warn("failed to record sent message in ledger", "sid", sid, "error", err)
		}
	}

	return sid, nil
}

func (s *Sweeper) lookupSent(ctx context.Context, log *slog.Logger, itemID string) (string, bool) {
	if s.ledger == nil {
		return "", false
	}
	sid, ok, err := s.ledger.Lookup(ctx, itemID)
	if err != nil {
		log.Warn("failed to read sent ledger", "error", err)
		return "", false
	}
	return sid, ok
}

// complete reports whether the item was moved to SENT by this call.
func (s *Sweeper) complete(ctx context.Context, log *slog.Logger, item *domain.ScheduledMessage, sid string) bool {
	sentAt := s.now().UTC()
	record := &domain.Message{
		ContactID: item.ContactID,
		Channel:   item.Channel,
		Direction: domain.DirectionOutbound,
		Content:   item.Content,
		Status:    domain.MessageStatusSent,
		SentAt:    &sentAt,
		Metadata: domain.MessageMetadata{
			SID:                sid,
			ScheduledMessageID: item.ID,
		},
	}

	err := s.repo.CompleteSent(ctx, item.ID, record)
	switch {
	case err == nil:
		return true
	case errors.Is(err, ErrNotDispatching):
		log.Warn("scheduled message already resolved elsewhere, sent record dropped", "sid", sid)
	default:
		// The provider accepted the message; leaving the item DISPATCHING keeps it out of later sweeps.
		log.Error("failed to complete sent scheduled message", "sid", sid, "error", err)
	}
	return false
}

func (s *Sweeper) markFailed(ctx context.Context, log *slog.Logger, item *domain.ScheduledMessage, reason string) {
	err := s.repo.MarkFailed(ctx, item.ID, reason)
	switch {
	case errors.Is(err, ErrNotDispatching):
		log.Warn("scheduled message already resolved elsewhere, not marking as failed")
		return
	case err != nil:
		log.Error("failed to mark scheduled message as failed", "error", err)
	}
	recordItem(string(item.Channel), outcomeFailed)
}

// recoverStale resolves items left DISPATCHING by an earlier sweep that did not finish them.
// Each item is reclaimed first so that only one sweep resolves it. Items with a ledger entry
// are completed as sent, the rest are failed. None is dispatched again.
func (s *Sweeper) recoverStale(ctx context.Context, claimedBefore time.Time) {
	stale, err := s.repo.FindStale(ctx, claimedBefore)
	if err != nil {
		ctxlog.FromContext(ctx).Error("failed to find stale scheduled messages", "error", err)
		return
	}

	for i := range stale {
		item := &stale[i]
		log := ctxlog.FromContext(ctx).With("item_id", item.ID, "channel", item.Channel)

		if err := s.repo.ReclaimStale(ctx, item.ID, claimedBefore); err != nil {
			if errors.Is(err, ErrAlreadyClaimed) {
				log.Debug("stale scheduled message taken over by another sweep")
				continue
			}
			log.Error("failed to reclaim stale scheduled message", "error", err)
			continue
		}

		if sid, ok := s.lookupSent(ctx, log, item.ID); ok {
			if s.complete(ctx, log, item, sid) {
				recordItem(string(item.Channel), outcomeRecovered)
				log.Info("recovered stale scheduled message as sent", "sid", sid)
			}
			continue
		}

		log.Warn("stale scheduled message has no recorded send, marking as failed")
		s.markFailed(ctx, log, item, reasonInterrupted)
	}
}
