// Package transport defines the platform-neutral surface the dispatcher
// talks to. The concrete Telegram implementation lives in the telegram
// subpackage.
package transport

import (
	"context"
	"errors"

	"verdictbot/internal/compose"
)

// Recipient is an addressable handle resolved from an opaque recipient id.
type Recipient struct {
	ChatID   int64
	Username string
}

// Link is a single long-lived authenticated session to the messaging
// platform.
//
// Lifecycle: Initialize is lazy and idempotent; a Link whose credential is
// absent stays permanently inert (Enabled() == false). Readiness flips true
// once the handshake completes and false on terminal errors or Stop.
type Link interface {
	// Initialize starts session construction if no session exists yet.
	// It never blocks on the handshake and never returns an error to the
	// caller; failures are logged and reflected in Ready().
	Initialize(ctx context.Context)

	// Enabled reports whether a credential was available at all.
	Enabled() bool
	// Initialized reports whether a session handle exists (ready or not).
	Initialized() bool
	// Ready reports whether sends may be attempted.
	Ready() bool
	// Identity is the authenticated account name, or "" before handshake.
	Identity() string

	// Resolve maps an opaque recipient id to an addressable recipient.
	Resolve(ctx context.Context, recipientID string) (Recipient, error)
	// Send delivers the composed payload to the recipient's inbox.
	Send(ctx context.Context, to Recipient, p compose.Payload) error

	Stop(ctx context.Context) error
}

// Cause labels a delivery failure for logging. It never changes retry
// behavior.
type Cause string

const (
	CauseForbidden Cause = "forbidden" // DMs closed, bot blocked, or missing permission
	CauseNotFound  Cause = "not_found" // recipient does not exist
	CauseTimeout   Cause = "timeout"
	CauseTransport Cause = "transport"
)

// DeliveryError carries a classified failure cause alongside the underlying
// platform error.
type DeliveryError struct {
	Cause Cause
	Err   error
}

func (e *DeliveryError) Error() string {
	if e.Err == nil {
		return string(e.Cause)
	}
	return string(e.Cause) + ": " + e.Err.Error()
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// CauseOf extracts the failure cause from err, defaulting to
// CauseTransport. Deadline expiry classifies as CauseTimeout even when the
// platform error is not wrapped.
func CauseOf(err error) Cause {
	var de *DeliveryError
	if errors.As(err, &de) {
		return de.Cause
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return CauseTimeout
	}
	return CauseTransport
}

// Bus event types published by links.
const (
	EventLinkUp   = "link.up"
	EventLinkDown = "link.down"
)
