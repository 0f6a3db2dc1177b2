// Package dispatch delivers decision notices to one recipient inbox each,
// queueing and retrying when the platform link is down or rejects a send.
//
// One Service per process. The host review layer calls Dispatch and treats
// both outcomes as success ("notified" vs "notification queued"); nothing
// here ever propagates an error back to it.
package dispatch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/time/rate"

	"verdictbot/internal/compose"
	"verdictbot/internal/eventbus"
	"verdictbot/internal/transport"
	logx "verdictbot/pkg/logx"
)

// BrandingFunc returns the current branding snapshot. Indirection keeps
// config hot-reload out of the dispatcher itself.
type BrandingFunc func() compose.Branding

type Service struct {
	cfg  Config
	log  logx.Logger
	bus  eventbus.Bus
	link transport.Link

	branding BrandingFunc

	mu    sync.Mutex
	queue []pendingDelivery

	// drainCh coalesces drain triggers: extra signals while a pass runs
	// are no-ops.
	drainCh chan struct{}

	limiter *rate.Limiter

	cronOnce sync.Once
	cron     *cron.Cron

	// Test seams. Defaults wired in New.
	now       func() time.Time
	afterFunc func(d time.Duration, f func())

	runCtx    context.Context
	runCancel context.CancelFunc
	runWG     sync.WaitGroup
}

func New(cfg Config, link transport.Link, branding BrandingFunc, log logx.Logger, bus eventbus.Bus) *Service {
	cfg = cfg.withDefaults()
	if log.IsZero() {
		log = logx.Nop()
	}
	if branding == nil {
		branding = func() compose.Branding { return compose.Branding{} }
	}
	return &Service{
		cfg:      cfg,
		log:      log,
		bus:      bus,
		link:     link,
		branding: branding,
		drainCh:  make(chan struct{}, 1),
		limiter:  rate.NewLimiter(rate.Limit(cfg.RatePerSec), 1),
		now:      time.Now,
		afterFunc: func(d time.Duration, f func()) {
			time.AfterFunc(d, f)
		},
	}
}

// Start launches the drain actor and begins watching for link readiness.
// The recurring drain schedule is armed on the first link-up event.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	if s.runCtx != nil {
		s.mu.Unlock()
		return
	}
	s.runCtx, s.runCancel = context.WithCancel(ctx)
	runCtx := s.runCtx
	s.mu.Unlock()

	s.runWG.Add(1)
	go func() {
		defer s.runWG.Done()
		s.run(runCtx)
	}()

	if s.bus != nil {
		events, unsub := s.bus.Subscribe(16)
		s.runWG.Add(1)
		go func() {
			defer s.runWG.Done()
			defer unsub()
			for {
				select {
				case <-runCtx.Done():
					return
				case e, ok := <-events:
					if !ok {
						return
					}
					if e.Type == transport.EventLinkUp {
						s.armDrainSchedule()
						s.signalDrain()
					}
				}
			}
		}()
	}
}

// Stop halts the actor and the drain schedule. Queued items are dropped
// with the process; queue persistence is out of scope.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	cancel := s.runCancel
	c := s.cron
	s.runCancel = nil
	s.runCtx = nil
	s.mu.Unlock()

	if c != nil {
		c.Stop()
	}
	if cancel == nil {
		return
	}
	cancel()

	done := make(chan struct{})
	go func() {
		s.runWG.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}
}

// Dispatch requests delivery of one decision notice. It never returns an
// error: Delivered=true means the notice reached the platform now,
// Delivered=false means it was queued for the retry engine (or the
// subsystem is inert because no credential was configured).
func (s *Service) Dispatch(ctx context.Context, recipientID string, decision compose.Decision, reason string) Result {
	if !s.link.Enabled() {
		// The link logs the missing credential once; every dispatch is a
		// cheap no-op from then on, and nothing is queued.
		s.link.Initialize(ctx)
		return Result{Delivered: false}
	}

	if !s.link.Initialized() {
		s.link.Initialize(ctx)
		s.waitReady(ctx, s.cfg.ReadyGrace)
	}

	if s.link.Ready() {
		err := s.attempt(ctx, recipientID, decision, reason)
		if err == nil {
			s.publish(EventSent, DeliveryEvent{RecipientID: recipientID, Decision: decision, Attempts: 1, Immediate: true, At: s.now()})
			s.log.Info("notice delivered", logx.String("recipient", recipientID), logx.String("decision", string(decision)))
			return Result{Delivered: true}
		}
		s.log.Warn("immediate send failed; queueing",
			logx.String("recipient", recipientID),
			logx.String("cause", string(transport.CauseOf(err))),
			logx.Err(err))
	}

	s.enqueue(pendingDelivery{recipientID: recipientID, decision: decision, reason: reason})
	return Result{Delivered: false}
}

// Status reports operational state. No side effects.
func (s *Service) Status() Status {
	s.mu.Lock()
	qlen := len(s.queue)
	s.mu.Unlock()
	return Status{
		Initialized: s.link.Initialized(),
		Ready:       s.link.Ready(),
		QueueLength: qlen,
		Identity:    s.link.Identity(),
	}
}

// ForceDrain triggers an out-of-band drain pass. No-op while the link is
// not ready.
func (s *Service) ForceDrain() {
	if !s.link.Ready() {
		return
	}
	s.signalDrain()
}

func (s *Service) enqueue(d pendingDelivery) {
	s.mu.Lock()
	s.queue = append(s.queue, d)
	qlen := len(s.queue)
	s.mu.Unlock()

	s.publish(EventQueued, DeliveryEvent{RecipientID: d.recipientID, Decision: d.decision, At: s.now()})
	s.log.Info("notice queued", logx.String("recipient", d.recipientID), logx.String("decision", string(d.decision)), logx.Int("queue_len", qlen))
}

func (s *Service) signalDrain() {
	select {
	case s.drainCh <- struct{}{}:
	default:
	}
}

// waitReady polls readiness until the grace period elapses. The handshake
// is asynchronous, so a freshly initialized link usually settles within
// the grace window.
func (s *Service) waitReady(ctx context.Context, grace time.Duration) {
	deadline := time.Now().Add(grace)
	for time.Now().Before(deadline) {
		if s.link.Ready() {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(25 * time.Millisecond):
		}
	}
}

// attempt performs one full delivery: resolve the recipient, compose, and
// transmit. Each leg runs under its own deadline; exceeding either counts
// as a failed attempt.
func (s *Service) attempt(ctx context.Context, recipientID string, decision compose.Decision, reason string) error {
	rctx, cancel := context.WithTimeout(ctx, s.cfg.SendTimeout)
	rcpt, err := s.link.Resolve(rctx, recipientID)
	cancel()
	if err != nil {
		return fmt.Errorf("resolve %s: %w", recipientID, err)
	}

	payload := compose.Compose(decision, reason, s.branding(), s.now())

	tctx, cancel := context.WithTimeout(ctx, s.cfg.SendTimeout)
	err = s.link.Send(tctx, rcpt, payload)
	cancel()
	if err != nil {
		return fmt.Errorf("send to %s: %w", recipientID, err)
	}
	return nil
}

func (s *Service) publish(typ string, ev DeliveryEvent) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.Event{Type: typ, Time: ev.At, Data: ev})
}

func (s *Service) armDrainSchedule() {
	s.cronOnce.Do(func() {
		c := cron.New()
		spec := fmt.Sprintf("@every %s", s.cfg.DrainEvery)
		if _, err := c.AddFunc(spec, func() {
			s.mu.Lock()
			pending := len(s.queue) > 0
			s.mu.Unlock()
			if pending && s.link.Ready() {
				s.signalDrain()
			}
		}); err != nil {
			s.log.Error("drain schedule rejected", logx.String("spec", spec), logx.Err(err))
			return
		}
		c.Start()

		s.mu.Lock()
		s.cron = c
		s.mu.Unlock()
		s.log.Debug("drain schedule armed", logx.Duration("every", s.cfg.DrainEvery))
	})
}
