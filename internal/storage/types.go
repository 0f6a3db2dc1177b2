package storage

import (
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures the delivery-outcome log.
//
// Driver values:
//   - "file": dependency-free JSONL backend
//   - "sqlite": SQLite database file (optional build tag)
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver string
	Path   string
}

// OutcomeEntry is one delivery outcome row. The pending queue itself is
// never persisted; this is an append-only record of what happened.
type OutcomeEntry struct {
	At          time.Time `json:"at"`
	RecipientID string    `json:"recipient_id"`
	Decision    string    `json:"decision"`
	Outcome     string    `json:"outcome"` // sent | failed | abandoned
	Attempts    int       `json:"attempts"`
	Immediate   bool      `json:"immediate,omitempty"`
	Cause       string    `json:"cause,omitempty"`
}
