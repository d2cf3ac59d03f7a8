package domain

import (
	"fmt"
	"time"
)

// Contact represents a message recipient.
type Contact struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Phone     string    `json:"phone,omitempty"`
	WhatsApp  string    `json:"whatsapp,omitempty"`
	Email     string    `json:"email,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Destination returns the address a message on the given channel should be sent to.
// WhatsApp prefers the dedicated WhatsApp number and falls back to the phone number.
func (c *Contact) Destination(channel Channel) (string, error) {
	switch channel {
	case ChannelSMS:
		if c.Phone == "" {
			return "", fmt.Errorf("%w: contact has no phone number", ErrNoDestination)
		}
		return c.Phone, nil
	case ChannelWhatsApp:
		if c.WhatsApp != "" {
			return c.WhatsApp, nil
		}
		if c.Phone == "" {
			return "", fmt.Errorf("%w: contact has no WhatsApp number", ErrNoDestination)
		}
		return c.Phone, nil
	default:
		return "", fmt.Errorf("%w: %s", ErrChannelNotImplemented, channel)
	}
}
