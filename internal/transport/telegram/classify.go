package telegram

import (
	"context"
	"errors"
	"strings"

	tele "gopkg.in/telebot.v4"

	"verdictbot/internal/transport"
)

var errNoSession = errors.New("no session")

func asTeleError(err error, target **tele.Error) bool {
	return errors.As(err, target)
}

// classify wraps a platform error with a logging-only cause label. All
// causes are retried identically; the label never drives control flow.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var de *transport.DeliveryError
	if errors.As(err, &de) {
		return err // already classified (e.g. deadline expiry)
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return &transport.DeliveryError{Cause: transport.CauseTimeout, Err: err}
	}

	var te *tele.Error
	if errors.As(err, &te) {
		switch {
		case te.Code == 403:
			// Bot blocked, DMs never opened, or missing permission.
			return &transport.DeliveryError{Cause: transport.CauseForbidden, Err: err}
		case te.Code == 400 && strings.Contains(strings.ToLower(te.Description), "not found"):
			return &transport.DeliveryError{Cause: transport.CauseNotFound, Err: err}
		}
	}
	return &transport.DeliveryError{Cause: transport.CauseTransport, Err: err}
}
