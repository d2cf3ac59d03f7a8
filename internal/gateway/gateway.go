// Package gateway routes outbound messages to the provider sender registered for each channel.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/relaydesk/inbox/internal/domain"
)

// ErrSenderNotConfigured is returned when a dispatchable channel has no sender registered,
// e.g. because provider credentials are not configured.
var ErrSenderNotConfigured = errors.New("no sender configured for channel")

// Sender delivers a message on a single channel and returns the provider message id.
type Sender interface {
	Channel() domain.Channel
	Send(ctx context.Context, to, body string) (providerMessageID string, err error)
}

// Dispatcher sends messages through the sender registered for their channel.
type Dispatcher struct {
	senders map[domain.Channel]Sender
}

// NewDispatcher creates a dispatcher. A later sender for the same channel replaces an earlier one.
func NewDispatcher(senders ...Sender) *Dispatcher {
	senderMap := make(map[domain.Channel]Sender, len(senders))
	for _, s := range senders {
		senderMap[s.Channel()] = s
	}

	channels := make([]string, 0, len(senderMap))
	for c := range senderMap {
		channels = append(channels, string(c))
	}
	slog.Info("gateway dispatcher configured", "channels", channels)

	return &Dispatcher{senders: senderMap}
}

// Send delivers body to destination on channel.
func (d *Dispatcher) Send(ctx context.Context, channel domain.Channel, to, body string) (string, error) {
	if !channel.Dispatchable() {
		return "", fmt.Errorf("%w: %s", domain.ErrChannelNotImplemented, channel)
	}

	sender, ok := d.senders[channel]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrSenderNotConfigured, channel)
	}

	return sender.Send(ctx, to, body)
}

// IsRetryable reports whether err is a transient provider failure.
// Errors that do not say otherwise are treated as retryable.
func IsRetryable(err error) bool {
	var r interface{ IsRetryable() bool }
	if errors.As(err, &r) {
		return r.IsRetryable()
	}
	return true
}
