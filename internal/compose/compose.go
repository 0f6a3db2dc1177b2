// Package compose builds the decision-notice message payload.
//
// Composition is a pure function of its inputs: no I/O, no clocks of its
// own. Rendering the payload for a concrete platform lives with the
// transport, not here.
package compose

import (
	"fmt"
	"time"
)

// Decision is the outcome of an application review.
type Decision string

const (
	DecisionApproved Decision = "approved"
	DecisionDenied   Decision = "denied"
)

// Valid reports whether d is one of the two known outcomes.
func (d Decision) Valid() bool {
	return d == DecisionApproved || d == DecisionDenied
}

// Color is the payload's status indicator color.
type Color uint32

const (
	ColorGreen Color = 0x2ECC71
	ColorRed   Color = 0xE74C3C
)

// Branding is supplied by the host configuration layer and treated as
// opaque strings.
type Branding struct {
	ServerName string
	IconURL    string
	FooterText string
}

// Field is one labeled line of the notice.
type Field struct {
	Label string
	Value string
}

// Payload is the composed notice. Ephemeral: composed per send, never
// persisted.
type Payload struct {
	AuthorName string
	AuthorIcon string
	Title      string
	Body       string
	Status     string
	Color      Color
	Fields     []Field
	FooterText string
	DecidedAt  time.Time
}

// Long-form timestamp shown to the recipient.
const decidedAtFormat = "Monday, 2 January 2006 at 15:04 MST"

// Compose maps a decision to the full notice payload. Given identical
// inputs and the same now, the output is byte-identical.
func Compose(decision Decision, reason string, b Branding, now time.Time) Payload {
	p := Payload{
		AuthorName: b.ServerName,
		AuthorIcon: b.IconURL,
		FooterText: b.FooterText,
		DecidedAt:  now,
	}

	switch decision {
	case DecisionApproved:
		p.Title = "Application Approved"
		p.Body = fmt.Sprintf("Congratulations! Your application to %s has been approved.", b.ServerName)
		p.Status = "Approved"
		p.Color = ColorGreen
		if reason != "" {
			p.Fields = append(p.Fields, Field{Label: "Staff Note", Value: reason})
		}
		p.Fields = append(p.Fields, Field{
			Label: "What's Next",
			Value: fmt.Sprintf("You now have full access to %s. Welcome aboard!", b.ServerName),
		})
	default:
		p.Title = "Application Denied"
		p.Body = fmt.Sprintf("Unfortunately, your application to %s has been denied. You are welcome to apply again in the future.", b.ServerName)
		p.Status = "Denied"
		p.Color = ColorRed
		if reason != "" {
			p.Fields = append(p.Fields, Field{Label: "Reason", Value: reason})
		}
	}

	p.Fields = append(p.Fields, Field{Label: "Decided", Value: now.Format(decidedAtFormat)})
	return p
}
