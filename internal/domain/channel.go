package domain

import "fmt"

// Channel represents a messaging channel a message can travel on.
type Channel string

// Channels.
const (
	ChannelSMS      Channel = "SMS"
	ChannelWhatsApp Channel = "WHATSAPP"
	ChannelEmail    Channel = "EMAIL"
	ChannelTwitter  Channel = "TWITTER"
	ChannelFacebook Channel = "FACEBOOK"
)

// channelCapabilities lists every known channel and whether outbound
// delivery is implemented for it. A channel missing from this table is unknown.
var channelCapabilities = map[Channel]bool{
	ChannelSMS:      true,
	ChannelWhatsApp: true,
	ChannelEmail:    false,
	ChannelTwitter:  false,
	ChannelFacebook: false,
}

// Channels returns all known channels.
func Channels() []Channel {
	return []Channel{ChannelSMS, ChannelWhatsApp, ChannelEmail, ChannelTwitter, ChannelFacebook}
}

// ParseChannel converts a string into a known channel.
func ParseChannel(s string) (Channel, error) {
	c := Channel(s)
	if !c.IsValid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownChannel, s)
	}
	return c, nil
}

// IsValid checks if the channel is known.
func (c Channel) IsValid() bool {
	_, ok := channelCapabilities[c]
	return ok
}

// Dispatchable reports whether outbound delivery is implemented for the channel.
func (c Channel) Dispatchable() bool {
	return channelCapabilities[c]
}

// Direction represents whether a message was received or sent.
type Direction string

// Message directions.
const (
	DirectionInbound  Direction = "INBOUND"
	DirectionOutbound Direction = "OUTBOUND"
)
