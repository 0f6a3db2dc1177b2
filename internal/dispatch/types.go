package dispatch

import (
	"time"

	"verdictbot/internal/compose"
	"verdictbot/internal/transport"
)

// Config controls the dispatcher. Zero fields fall back to defaults in New.
type Config struct {
	// RetryMax is the retry ceiling: re-attempts after the first engine
	// attempt. Default 3.
	RetryMax int
	// RetryStep is the linear backoff unit: retry N waits RetryStep×N.
	// Default 5s.
	RetryStep time.Duration
	// SendTimeout bounds each leg of an attempt (resolve, transmit)
	// independently. Default 10s.
	SendTimeout time.Duration
	// ReadyGrace is how long Dispatch waits for a lazily initialized link
	// to come up before queueing. Default 1s.
	ReadyGrace time.Duration
	// DrainEvery is the recurring drain period armed on link-up. Default 30s.
	DrainEvery time.Duration
	// RatePerSec paces queue drain attempts. Default 1.
	RatePerSec int
}

func (c Config) withDefaults() Config {
	if c.RetryMax <= 0 {
		c.RetryMax = 3
	}
	if c.RetryStep <= 0 {
		c.RetryStep = 5 * time.Second
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = 10 * time.Second
	}
	if c.ReadyGrace <= 0 {
		c.ReadyGrace = time.Second
	}
	if c.DrainEvery <= 0 {
		c.DrainEvery = 30 * time.Second
	}
	if c.RatePerSec <= 0 {
		c.RatePerSec = 1
	}
	return c
}

// pendingDelivery is one queued notification. Owned by the queue while
// enqueued; ownership moves to the in-flight attempt and returns to the
// queue head on failure.
type pendingDelivery struct {
	recipientID string
	decision    compose.Decision
	reason      string
	retryCount  int
}

// Result is the facade's acknowledgment. Delivered=false means the notice
// was queued (or the subsystem is inert), never that it was lost.
type Result struct {
	Delivered bool
}

// Status is read-only operational introspection.
type Status struct {
	Initialized bool   `json:"initialized"`
	Ready       bool   `json:"ready"`
	QueueLength int    `json:"queue_length"`
	Identity    string `json:"identity"`
}

// Bus event types published by the dispatcher.
const (
	EventQueued    = "delivery.queued"
	EventSent      = "delivery.sent"
	EventFailed    = "delivery.failed"
	EventAbandoned = "delivery.abandoned"
)

// DeliveryEvent is the bus payload for all delivery.* events.
type DeliveryEvent struct {
	RecipientID string           `json:"recipient_id"`
	Decision    compose.Decision `json:"decision"`
	Attempts    int              `json:"attempts"`
	Cause       transport.Cause  `json:"cause,omitempty"`
	Immediate   bool             `json:"immediate,omitempty"`
	At          time.Time        `json:"at"`
}
