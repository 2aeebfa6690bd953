package channel

import (
	"context"
)

// Channel is a delivery adapter for one messaging provider (Telegram, email,
// WhatsApp). Outbound delivery goes through Send; providers that can receive
// messages forward them to the registered handler while Start is running.
type Channel interface {
	// ID returns the unique configured channel identifier.
	ID() string

	// Type returns the channel provider type used for routing.
	Type() Type

	// Start runs the receive loop, if any, and blocks until the context is
	// canceled or a fatal error occurs.
	Start(ctx context.Context) error

	// Stop releases channel resources.
	Stop(ctx context.Context) error

	// Send delivers msg to the provider-specific address to (chat id, email
	// address, phone number). Failures that identify the recipient as
	// unreachable wrap ErrChatNotFound or ErrBlocked.
	Send(ctx context.Context, to string, msg *Message) error

	// RegisterMessageHandler registers the inbound message callback.
	// Send-only providers return ErrUnsupportedOperation.
	RegisterMessageHandler(handler func(ctx context.Context, msg *Inbound) error) error
}
