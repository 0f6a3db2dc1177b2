// Package telegram implements transport.Link on top of telebot.
package telegram

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	tele "gopkg.in/telebot.v4"

	"verdictbot/internal/compose"
	"verdictbot/internal/eventbus"
	"verdictbot/internal/transport"
	logx "verdictbot/pkg/logx"
)

type Config struct {
	// Token is the bot credential. Empty token leaves the link permanently
	// inert: Initialize logs once and does nothing else.
	Token string

	// PollTimeout is the long-poll timeout. Defaults to 10s.
	PollTimeout time.Duration
}

// Link owns the single telebot session for the process.
//
// The session handle is set at most once; Initialize refuses to construct a
// second session even when the first handshake failed. Readiness flips true
// after the handshake (getMe) succeeds and false on terminal auth errors or
// Stop. Transient poll errors are left to telebot's own long-poll recovery
// and do not drop readiness.
type Link struct {
	cfg Config
	log logx.Logger
	bus eventbus.Bus

	mu          sync.Mutex
	initialized bool
	bot         *tele.Bot
	ready       bool
	identity    string
	inertLogged bool

	runWG sync.WaitGroup
}

func New(cfg Config, log logx.Logger, bus eventbus.Bus) *Link {
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = 10 * time.Second
	}
	return &Link{cfg: cfg, log: log, bus: bus}
}

func (l *Link) Enabled() bool { return strings.TrimSpace(l.cfg.Token) != "" }

func (l *Link) Initialized() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.initialized
}

func (l *Link) Ready() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.ready
}

func (l *Link) Identity() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.identity
}

// Initialize begins the handshake asynchronously. Calling it again while a
// session exists (ready or not) is a no-op.
func (l *Link) Initialize(ctx context.Context) {
	l.mu.Lock()
	if l.initialized {
		l.mu.Unlock()
		return
	}
	if !l.Enabled() {
		logOnce := !l.inertLogged
		l.inertLogged = true
		l.mu.Unlock()
		if logOnce {
			l.log.Warn("bot token absent; decision notifications disabled")
		}
		return
	}
	l.initialized = true
	l.mu.Unlock()

	l.runWG.Add(1)
	go func() {
		defer l.runWG.Done()
		l.handshake(ctx)
	}()
}

func (l *Link) handshake(ctx context.Context) {
	b, err := tele.NewBot(tele.Settings{
		Token:   l.cfg.Token,
		Poller:  &tele.LongPoller{Timeout: l.cfg.PollTimeout},
		OnError: l.onBotError,
	})
	if err != nil {
		// No login retry: the link stays initialized-but-unready for the
		// rest of the process lifetime, matching the single-session rule.
		l.log.Error("session handshake failed", logx.Err(err))
		return
	}

	l.mu.Lock()
	l.bot = b
	l.ready = true
	l.identity = b.Me.Username
	l.mu.Unlock()

	l.log.Info("session ready", logx.String("identity", b.Me.Username))
	if l.bus != nil {
		l.bus.Publish(eventbus.Event{Type: transport.EventLinkUp, Data: b.Me.Username})
	}

	// The poller is only needed so Telegram keeps the session warm; this
	// bot sends DMs and handles no inbound commands.
	l.runWG.Add(1)
	go func() {
		defer l.runWG.Done()
		b.Start() // blocks until Stop
		l.markDown("poller stopped")
	}()
}

func (l *Link) onBotError(err error, _ tele.Context) {
	var te *tele.Error
	if asTeleError(err, &te) && te.Code == 401 {
		l.log.Error("session rejected by platform", logx.Err(err))
		l.markDown("unauthorized")
		return
	}
	l.log.Debug("poll error", logx.Err(err))
}

func (l *Link) markDown(reason string) {
	l.mu.Lock()
	wasReady := l.ready
	l.ready = false
	l.mu.Unlock()
	if !wasReady {
		return
	}
	l.log.Warn("session down", logx.String("reason", reason))
	if l.bus != nil {
		l.bus.Publish(eventbus.Event{Type: transport.EventLinkDown, Data: reason})
	}
}

func (l *Link) session() *tele.Bot {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.bot
}

// Resolve maps the opaque recipient id to a Telegram chat. The id is the
// recipient's numeric chat id in string form.
func (l *Link) Resolve(ctx context.Context, recipientID string) (transport.Recipient, error) {
	b := l.session()
	if b == nil {
		return transport.Recipient{}, &transport.DeliveryError{Cause: transport.CauseTransport, Err: errNoSession}
	}
	id, err := strconv.ParseInt(strings.TrimSpace(recipientID), 10, 64)
	if err != nil {
		return transport.Recipient{}, &transport.DeliveryError{Cause: transport.CauseNotFound, Err: err}
	}

	var chat *tele.Chat
	err = callWithDeadline(ctx, func() error {
		var cerr error
		chat, cerr = b.ChatByID(id)
		return cerr
	})
	if err != nil {
		return transport.Recipient{}, classify(err)
	}
	return transport.Recipient{ChatID: chat.ID, Username: chat.Username}, nil
}

func (l *Link) Send(ctx context.Context, to transport.Recipient, p compose.Payload) error {
	b := l.session()
	if b == nil {
		return &transport.DeliveryError{Cause: transport.CauseTransport, Err: errNoSession}
	}
	text := renderHTML(p)
	opts := &tele.SendOptions{ParseMode: tele.ModeHTML, DisableWebPagePreview: true}

	err := callWithDeadline(ctx, func() error {
		_, serr := b.Send(&tele.Chat{ID: to.ChatID}, text, opts)
		return serr
	})
	if err != nil {
		return classify(err)
	}
	return nil
}

func (l *Link) Stop(ctx context.Context) error {
	l.mu.Lock()
	b := l.bot
	l.mu.Unlock()
	l.markDown("stopping")

	if b != nil {
		// telebot Stop is expected to be fast; run it async just in case.
		go b.Stop()
	}

	done := make(chan struct{})
	go func() {
		l.runWG.Wait()
		close(done)
	}()

	// Grace window: keep shutdown snappy even if the long-poll is still
	// waiting on Telegram.
	grace := 2 * time.Second
	if dl, ok := ctx.Deadline(); ok {
		if rem := time.Until(dl); rem > 0 && rem < grace {
			grace = rem
		}
	}
	t := time.NewTimer(grace)
	defer t.Stop()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		l.log.Warn("stop grace elapsed; continuing shutdown")
		return nil
	}
}

// callWithDeadline runs fn and enforces ctx's deadline even though telebot
// calls are not context-aware. On expiry the underlying call is abandoned;
// its eventual result is discarded.
func callWithDeadline(ctx context.Context, fn func() error) error {
	done := make(chan error, 1)
	go func() { done <- fn() }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return &transport.DeliveryError{Cause: transport.CauseTimeout, Err: ctx.Err()}
	}
}
