// Package telegraph posts ember events to chat platforms (Slack, Discord).
package telegraph

import "context"

// Adapter is the interface that platform-specific implementations must satisfy.
type Adapter interface {
	// Connect authenticates against the chat platform.
	Connect(ctx context.Context) error

	// Send delivers an outbound message to the platform.
	Send(ctx context.Context, msg OutboundMessage) error

	// Close releases the platform connection.
	Close() error
}

// OutboundMessage is one chat post. Text is the plain fallback; adapters
// render Digest natively when it is set.
type OutboundMessage struct {
	ChannelID string  // target channel (empty for the adapter default)
	Text      string
	Digest    *Digest
}
