package dispatch

import (
	"context"
	"time"

	"verdictbot/internal/transport"
	logx "verdictbot/pkg/logx"
)

// run is the drain actor: the only goroutine that mutates queue order.
func (s *Service) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.drainCh:
			s.drain(ctx)
		}
	}
}

// drain processes head items one at a time until the queue empties, the
// link drops, or the head fails. A failed head is reinserted in front
// (preserving its priority over newer items) and a follow-up drain is
// scheduled after retryCount×RetryStep; the pass ends so the engine never
// hammers a failing recipient back to back.
func (s *Service) drain(ctx context.Context) {
	for {
		if ctx.Err() != nil || !s.link.Ready() {
			return
		}

		item, ok := s.popHead()
		if !ok {
			return
		}

		// Pacing against platform rate limits: one attempt per second.
		if err := s.limiter.Wait(ctx); err != nil {
			s.pushHead(item)
			return
		}

		err := s.attempt(ctx, item.recipientID, item.decision, item.reason)
		if err == nil {
			s.publish(EventSent, DeliveryEvent{
				RecipientID: item.recipientID,
				Decision:    item.decision,
				Attempts:    item.retryCount + 1,
				At:          s.now(),
			})
			s.log.Info("queued notice delivered",
				logx.String("recipient", item.recipientID),
				logx.Int("retry_count", item.retryCount))
			continue
		}

		cause := transport.CauseOf(err)
		if item.retryCount >= s.cfg.RetryMax {
			// Retry budget exhausted. The caller already got its queued
			// acknowledgment, so this is terminal and log-only.
			s.publish(EventAbandoned, DeliveryEvent{
				RecipientID: item.recipientID,
				Decision:    item.decision,
				Attempts:    item.retryCount + 1,
				Cause:       cause,
				At:          s.now(),
			})
			s.log.Error("notice abandoned after retry ceiling",
				logx.String("recipient", item.recipientID),
				logx.String("cause", string(cause)),
				logx.Int("attempts", item.retryCount+1),
				logx.Err(err))
			continue
		}

		item.retryCount++
		s.pushHead(item)

		delay := time.Duration(item.retryCount) * s.cfg.RetryStep
		s.publish(EventFailed, DeliveryEvent{
			RecipientID: item.recipientID,
			Decision:    item.decision,
			Attempts:    item.retryCount,
			Cause:       cause,
			At:          s.now(),
		})
		s.log.Warn("delivery failed; retry scheduled",
			logx.String("recipient", item.recipientID),
			logx.String("cause", string(cause)),
			logx.Int("retry_count", item.retryCount),
			logx.Duration("delay", delay),
			logx.Err(err))
		s.afterFunc(delay, s.signalDrain)
		return
	}
}

func (s *Service) popHead() (pendingDelivery, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) == 0 {
		return pendingDelivery{}, false
	}
	item := s.queue[0]
	s.queue = s.queue[1:]
	return item, true
}

func (s *Service) pushHead(item pendingDelivery) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queue = append([]pendingDelivery{item}, s.queue...)
}
