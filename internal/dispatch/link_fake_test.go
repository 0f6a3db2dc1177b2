package dispatch

import (
	"context"
	"sync"

	"verdictbot/internal/compose"
	"verdictbot/internal/transport"
)

// fakeLink scripts the platform session for dispatcher tests. Recipients
// resolve to their id as Username so sends can be asserted per recipient.
type fakeLink struct {
	mu sync.Mutex

	enabled     bool
	initialized bool
	ready       bool
	identity    string

	initCalls int
	// readyOnInit flips readiness synchronously inside Initialize,
	// simulating a handshake that settles within the grace window.
	readyOnInit bool

	resolveErr error
	// sendHook decides the outcome of each send; nil means success.
	// attempt is 1-based and counted per recipient.
	sendHook func(recipient string, attempt int) error

	attempts map[string]int
	sent     []string
	payloads []compose.Payload
}

func newFakeLink() *fakeLink {
	return &fakeLink{enabled: true, attempts: map[string]int{}}
}

func (l *fakeLink) Initialize(_ context.Context) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.enabled {
		return
	}
	if l.initialized {
		return
	}
	l.initCalls++
	l.initialized = true
	if l.readyOnInit {
		l.ready = true
	}
}

func (l *fakeLink) Enabled() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.enabled
}

func (l *fakeLink) Initialized() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.initialized
}

func (l *fakeLink) Ready() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.ready
}

func (l *fakeLink) Identity() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.identity
}

func (l *fakeLink) setReady(v bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.initialized = true
	l.ready = v
}

func (l *fakeLink) Resolve(_ context.Context, recipientID string) (transport.Recipient, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.resolveErr != nil {
		return transport.Recipient{}, l.resolveErr
	}
	return transport.Recipient{ChatID: 1, Username: recipientID}, nil
}

func (l *fakeLink) Send(_ context.Context, to transport.Recipient, p compose.Payload) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.attempts[to.Username]++
	if l.sendHook != nil {
		if err := l.sendHook(to.Username, l.attempts[to.Username]); err != nil {
			return err
		}
	}
	l.sent = append(l.sent, to.Username)
	l.payloads = append(l.payloads, p)
	return nil
}

func (l *fakeLink) Stop(_ context.Context) error { return nil }

func (l *fakeLink) sentOrder() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.sent...)
}

func (l *fakeLink) attemptCount(recipient string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.attempts[recipient]
}
