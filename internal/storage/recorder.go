package storage

import (
	"context"

	"verdictbot/internal/dispatch"
	"verdictbot/internal/eventbus"
	logx "verdictbot/pkg/logx"
)

// Recorder subscribes to delivery events and appends them to the store.
// It runs until ctx is done; a nil store makes it a no-op.
type Recorder struct {
	store Store
	bus   eventbus.Bus
	log   logx.Logger
}

func NewRecorder(store Store, bus eventbus.Bus, log logx.Logger) *Recorder {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Recorder{store: store, bus: bus, log: log}
}

func (r *Recorder) Run(ctx context.Context) {
	if r.store == nil || r.bus == nil {
		return
	}
	events, unsub := r.bus.Subscribe(64)
	defer unsub()

	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			outcome := outcomeFor(e.Type)
			if outcome == "" {
				continue
			}
			de, ok := e.Data.(dispatch.DeliveryEvent)
			if !ok {
				continue
			}
			entry := OutcomeEntry{
				At:          de.At,
				RecipientID: de.RecipientID,
				Decision:    string(de.Decision),
				Outcome:     outcome,
				Attempts:    de.Attempts,
				Immediate:   de.Immediate,
				Cause:       string(de.Cause),
			}
			if err := r.store.AppendOutcome(ctx, entry); err != nil {
				r.log.Warn("outcome append failed", logx.String("recipient", de.RecipientID), logx.Err(err))
			}
		}
	}
}

func outcomeFor(eventType string) string {
	switch eventType {
	case dispatch.EventSent:
		return "sent"
	case dispatch.EventFailed:
		return "failed"
	case dispatch.EventAbandoned:
		return "abandoned"
	default:
		return ""
	}
}
